package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wenwu/saas-platform/panel-service/internal/models"
	"github.com/wenwu/saas-platform/panel-service/internal/service"
)

// AdminHandler serves the /api/v1/admin group.
type AdminHandler struct {
	accounts  *service.AccountService
	plans     *service.PlanService
	provision *service.ProvisionService
	panel     *service.PanelService
	sweeper   *service.ExpirySweeper
}

func NewAdminHandler(svc Services) *AdminHandler {
	return &AdminHandler{
		accounts:  svc.Accounts,
		plans:     svc.Plans,
		provision: svc.Provision,
		panel:     svc.Panel,
		sweeper:   svc.Sweeper,
	}
}

// ==================== Users ====================

func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	resp, err := h.accounts.ListUsers(c.Request.Context(), page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) ListArchivedUsers(c *gin.Context) {
	users, err := h.accounts.ListDeleted(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if users == nil {
		users = []*models.DeletedUser{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *AdminHandler) MakeAdmin(c *gin.Context)  { h.setAdmin(c, true) }
func (h *AdminHandler) RemoveAdmin(c *gin.Context) { h.setAdmin(c, false) }

func (h *AdminHandler) setAdmin(c *gin.Context, admin bool) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	user, err := h.accounts.SetAdmin(c.Request.Context(), currentUser(c).ID, id, admin)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *AdminHandler) DeleteUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.accounts.DeleteUser(c.Request.Context(), currentUser(c).ID, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *AdminHandler) AdjustCoins(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req models.AdjustCoinsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	balance, err := h.accounts.AdjustCoins(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "balance": balance})
}

// ==================== Plans ====================

func (h *AdminHandler) ListPlans(c *gin.Context) {
	plans, err := h.plans.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

func (h *AdminHandler) CreatePlan(c *gin.Context) {
	var req models.PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	plan, err := h.plans.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

func (h *AdminHandler) UpdatePlan(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req models.PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	plan, err := h.plans.Update(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (h *AdminHandler) DeletePlan(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.plans.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ==================== Services ====================

func (h *AdminHandler) ListServices(c *gin.Context) {
	orders, err := h.provision.ListAllServices(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if orders == nil {
		orders = []*models.OrderView{}
	}
	c.JSON(http.StatusOK, gin.H{"services": orders})
}

func (h *AdminHandler) ServiceLogs(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	logs, err := h.provision.OrderLogs(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if logs == nil {
		logs = []*models.OrderLog{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// ToggleSuspend flips a service between active and suspended.
func (h *AdminHandler) ToggleSuspend(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	order, err := h.provision.ToggleSuspend(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// DeleteService removes the remote server and the order. With force=1 the
// order is removed even when the remote side could not be cleaned up.
func (h *AdminHandler) DeleteService(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "0"))
	if err := h.provision.DeleteService(c.Request.Context(), id, force); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *AdminHandler) RenewService(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	order, err := h.provision.Renew(c.Request.Context(), id, currentUser(c).ID, true)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// Sweep runs the expiry sweep now instead of waiting for the next tick.
func (h *AdminHandler) Sweep(c *gin.Context) {
	c.JSON(http.StatusOK, h.sweeper.Sweep(c.Request.Context()))
}

// ==================== Settings ====================

func (h *AdminHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.panel.Settings())
}

func (h *AdminHandler) SaveSite(c *gin.Context) {
	var req models.SiteSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	saved, err := h.panel.SaveSite(&req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h *AdminHandler) GetPterodactyl(c *gin.Context) {
	c.JSON(http.StatusOK, h.panel.Settings().Pterodactyl)
}

func (h *AdminHandler) SavePterodactyl(c *gin.Context) {
	var req models.PterodactylSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	saved, err := h.panel.SavePterodactyl(&req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved.Pterodactyl)
}

// TestConnection checks the panel with the URL and key in the body, falling
// back to the saved ones. An empty body tests the saved settings.
func (h *AdminHandler) TestConnection(c *gin.Context) {
	var req models.PterodactylSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}
	res, err := h.panel.TestConnection(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *AdminHandler) Nodes(c *gin.Context) {
	res, err := h.panel.NodesOverview(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
