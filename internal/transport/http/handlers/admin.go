package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/genstudio-auth/internal/usecase"
)

// AdminHandler exposes operator-only ledger maintenance.
type AdminHandler struct {
	credits *usecase.CreditService
}

func NewAdminHandler(credits *usecase.CreditService) *AdminHandler {
	return &AdminHandler{credits: credits}
}

// RegisterRoutes mounts the admin credit routes; r must already be guarded.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/credits/:user_id/reset", h.resetUsage)
	r.POST("/credits/:user_id/plan", h.assignPlan)
}

var adminErrorCases = []ErrorCase{
	{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
	{Err: usecase.ErrUnknownPlan, Status: http.StatusBadRequest, Message: "unknown plan"},
	{Err: usecase.ErrInvalidPlan, Status: http.StatusBadRequest, Message: "invalid plan"},
}

// ResetUsage godoc
// @Summary Zero a user's usage counters
// @Tags Admin
// @Security AdminKey
// @Produce json
// @Param user_id path string true "User ID"
// @Success 200 {object} CreditsResponse
// @Router /api/v1/admin/credits/{user_id}/reset [post]
func (h *AdminHandler) resetUsage(c *gin.Context) {
	ledger, err := h.credits.ResetUsage(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		RespondWithMappedError(c, err, adminErrorCases, http.StatusInternalServerError, "failed to reset usage")
		return
	}
	c.JSON(http.StatusOK, newCreditsResponse(ledger))
}

// AssignPlan godoc
// @Summary Grant a catalogue plan without payment
// @Tags Admin
// @Security AdminKey
// @Accept json
// @Produce json
// @Param user_id path string true "User ID"
// @Param request body AssignPlanRequest true "Plan"
// @Success 200 {object} CreditsResponse
// @Router /api/v1/admin/credits/{user_id}/plan [post]
func (h *AdminHandler) assignPlan(c *gin.Context) {
	var req AssignPlanRequest
	if !bindJSON(c, &req) {
		return
	}

	ledger, err := h.credits.AssignCatalogPlan(c.Request.Context(), c.Param("user_id"), req.PlanID, nil)
	if err != nil {
		RespondWithMappedError(c, err, adminErrorCases, http.StatusInternalServerError, "failed to assign plan")
		return
	}
	c.JSON(http.StatusOK, newCreditsResponse(ledger))
}
