package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wenwu/saas-platform/panel-service/internal/models"
	"github.com/wenwu/saas-platform/panel-service/internal/service"
)

type Handler struct {
	accounts  *service.AccountService
	plans     *service.PlanService
	provision *service.ProvisionService
	panel     *service.PanelService
	secure    bool
}

func NewHandler(svc Services, secureCookies bool) *Handler {
	return &Handler{
		accounts:  svc.Accounts,
		plans:     svc.Plans,
		provision: svc.Provision,
		panel:     svc.Panel,
		secure:    secureCookies,
	}
}

// ==================== Public ====================

// Site returns the branding shown on every page.
func (h *Handler) Site(c *gin.Context) {
	c.JSON(http.StatusOK, h.panel.Settings().Web)
}

func (h *Handler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	resp, err := h.accounts.Register(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	h.setSession(c, resp.Token)
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	resp, err := h.accounts.Login(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	h.setSession(c, resp.Token)
	c.JSON(http.StatusOK, resp)
}

// Logout clears the session cookie. Bearer tokens simply expire.
func (h *Handler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(tokenCookie, "", -1, "/", "", h.secure, true)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) setSession(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(tokenCookie, token, 0, "/", "", h.secure, true)
}

func (h *Handler) StorePlans(c *gin.Context) {
	plans, err := h.plans.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// ==================== Store ====================

// CheckoutPage returns the plan being bought together with the buyer.
func (h *Handler) CheckoutPage(c *gin.Context) {
	planID, ok := idParam(c, "id")
	if !ok {
		return
	}
	plan, err := h.plans.Get(c.Request.Context(), planID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan, "user": currentUser(c)})
}

// Checkout places an order and provisions it. Remote failures still
// answer 200; the outcome is in the notification and on the order.
func (h *Handler) Checkout(c *gin.Context) {
	planID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.provision.Checkout(c.Request.Context(), currentUser(c).ID, planID, req.ServerName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ==================== Services ====================

func (h *Handler) MyServices(c *gin.Context) {
	orders, err := h.provision.ListUserServices(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if orders == nil {
		orders = []*models.OrderView{}
	}
	c.JSON(http.StatusOK, gin.H{"services": orders})
}

func (h *Handler) RenewMine(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	order, err := h.provision.Renew(c.Request.Context(), id, currentUser(c).ID, false)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// ==================== Profile ====================

func (h *Handler) Profile(c *gin.Context) {
	resp, err := h.accounts.Profile(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) UpdateUsername(c *gin.Context) {
	var req models.UpdateUsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	user, err := h.accounts.UpdateUsername(c.Request.Context(), currentUser(c).ID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) ChangePassword(c *gin.Context) {
	var req models.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.accounts.ChangePassword(c.Request.Context(), currentUser(c).ID, &req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
