package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wenwu/saas-platform/panel-service/internal/config"
	"github.com/wenwu/saas-platform/panel-service/internal/db"
	"github.com/wenwu/saas-platform/panel-service/internal/service"
)

// Services groups what the handlers need.
type Services struct {
	Accounts  *service.AccountService
	Plans     *service.PlanService
	Provision *service.ProvisionService
	Panel     *service.PanelService
	Sweeper   *service.ExpirySweeper
}

type Server struct {
	router   *gin.Engine
	handler  *Handler
	admin    *AdminHandler
	dbAdmin  *DBAdminHandler
	accounts *service.AccountService
	cfg      *config.Config
	database *db.Database

	userLimiter     *RateLimiter
	checkoutLimiter *RateLimiter
	authLimiter     *RateLimiter
}

func NewServer(cfg *config.Config, database *db.Database, svc Services) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(RequestIDMiddleware())
	router.Use(cors.New(corsConfig(cfg.CORS)))

	s := &Server{
		router:   router,
		handler:  NewHandler(svc, !cfg.IsDevelopment()),
		admin:    NewAdminHandler(svc),
		dbAdmin:  NewDBAdminHandler(database.DB, db.Tables()),
		accounts: svc.Accounts,
		cfg:      cfg,
		database: database,

		userLimiter: NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst),
		// 下单会直接调用远端面板，限制更严格
		checkoutLimiter: NewRateLimiter(5, 10*time.Minute, 5),
		authLimiter:     NewRateLimiter(10, time.Minute, 10),
	}

	s.setupRoutes()
	return s
}

func corsConfig(c config.CORSConfig) cors.Config {
	cc := cors.DefaultConfig()
	if len(c.AllowedOrigins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = c.AllowedOrigins
		cc.AllowCredentials = c.AllowCredentials
	}
	cc.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID"}
	cc.ExposeHeaders = []string{"X-Request-ID", "Content-Disposition"}
	return cc
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health)

	// Public API
	public := s.router.Group("/api/v1")
	{
		public.GET("/site", s.handler.Site)
		public.GET("/store/plans", s.handler.StorePlans)

		auth := public.Group("/auth")
		auth.Use(RateLimitMiddleware(s.authLimiter))
		auth.POST("/register", s.handler.Register)
		auth.POST("/login", s.handler.Login)
		auth.POST("/logout", s.handler.Logout)
	}

	// User API - requires a session
	user := s.router.Group("/api/v1")
	user.Use(AuthMiddleware(s.accounts))
	user.Use(RateLimitMiddleware(s.userLimiter))
	{
		user.GET("/store/checkout/:id", s.handler.CheckoutPage)
		user.POST("/store/checkout/:id", RateLimitMiddleware(s.checkoutLimiter), s.handler.Checkout)

		user.GET("/services", s.handler.MyServices)
		user.POST("/services/:id/renew", s.handler.RenewMine)

		user.GET("/profile", s.handler.Profile)
		user.POST("/profile", s.handler.UpdateUsername)
		user.POST("/profile/username", s.handler.UpdateUsername)
		user.POST("/profile/password", s.handler.ChangePassword)
	}

	// Admin API
	admin := s.router.Group("/api/v1/admin")
	admin.Use(AuthMiddleware(s.accounts), RequireAdmin())
	{
		users := admin.Group("/users")
		users.GET("", s.admin.ListUsers)
		users.GET("/archived", s.admin.ListArchivedUsers)
		users.POST("/:id/make-admin", s.admin.MakeAdmin)
		users.POST("/:id/unadmin", s.admin.RemoveAdmin)
		users.POST("/:id/delete", s.admin.DeleteUser)
		users.POST("/:id/coins", s.admin.AdjustCoins)

		plans := admin.Group("/plans")
		plans.GET("", s.admin.ListPlans)
		plans.POST("", s.admin.CreatePlan)
		plans.PUT("/:id", s.admin.UpdatePlan)
		plans.POST("/:id/delete", s.admin.DeletePlan)

		services := admin.Group("/services")
		services.GET("", s.admin.ListServices)
		services.GET("/export.xlsx", s.admin.ExportServices)
		services.POST("/sweep", s.admin.Sweep)
		services.GET("/:id/logs", s.admin.ServiceLogs)
		services.POST("/:id/suspend", s.admin.ToggleSuspend)
		services.POST("/:id/delete", s.admin.DeleteService)
		services.POST("/:id/renew", s.admin.RenewService)

		admin.GET("/settings", s.admin.GetSettings)
		admin.POST("/settings", s.admin.SaveSite)
		admin.GET("/pterodactyl", s.admin.GetPterodactyl)
		admin.POST("/pterodactyl", s.admin.SavePterodactyl)
		admin.POST("/pterodactyl/test", s.admin.TestConnection)
		admin.POST("/pterodactyl/nodes", s.admin.Nodes)

		dbAdmin := admin.Group("/db")
		dbAdmin.GET("/tables", s.dbAdmin.ListTables)
		dbAdmin.GET("/tables/:table/schema", s.dbAdmin.GetTableSchema)
		dbAdmin.GET("/tables/:table/rows", s.dbAdmin.QueryRows)
	}
}

func (s *Server) health(c *gin.Context) {
	status, code := "ok", http.StatusOK
	if err := s.database.Ping(c.Request.Context()); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"service": s.cfg.App.Name,
		"version": s.cfg.App.Version,
	})
}

// Handler returns the router wrapped with request tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "panel-service")
}
