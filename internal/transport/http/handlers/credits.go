package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/genstudio-auth/internal/core/domain"
	"github.com/arklim/genstudio-auth/internal/transport/http/middleware"
	"github.com/arklim/genstudio-auth/internal/usecase"
)

// CreditsHandler serves the caller's credit ledger.
type CreditsHandler struct {
	credits *usecase.CreditService
}

func NewCreditsHandler(credits *usecase.CreditService) *CreditsHandler {
	return &CreditsHandler{credits: credits}
}

// RegisterRoutes mounts the ledger endpoints. The balance and consume routes
// sit behind requireVerified; check only needs optionalAuth and answers
// anonymous callers with the free tier.
func (h *CreditsHandler) RegisterRoutes(r *gin.RouterGroup, requireVerified, optionalAuth gin.HandlerFunc) {
	r.GET("", requireVerified, h.get)
	r.GET("/check", optionalAuth, h.check)
	r.POST("/consume", requireVerified, h.consume)
}

var creditErrorCases = []ErrorCase{
	{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "account not found"},
	{Err: usecase.ErrUnknownResource, Status: http.StatusBadRequest, Message: "unknown resource"},
}

// Get godoc
// @Summary Current credit balance
// @Tags Credits
// @Security BearerAuth
// @Produce json
// @Success 200 {object} CreditsResponse
// @Router /api/v1/credits [get]
func (h *CreditsHandler) get(c *gin.Context) {
	userID, ok := principal(c)
	if !ok {
		return
	}

	ledger, err := h.credits.GetOrInit(c.Request.Context(), userID)
	if err != nil {
		RespondWithMappedError(c, err, creditErrorCases, http.StatusInternalServerError, "failed to load credits")
		return
	}
	c.JSON(http.StatusOK, newCreditsResponse(ledger))
}

// Check godoc
// @Summary Whether one more unit of a resource may be used
// @Description Without a valid bearer token the free-tier allowance is reported.
// @Tags Credits
// @Security BearerAuth
// @Produce json
// @Param resource query string true "generation or edit"
// @Success 200 {object} CreditCheckResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/credits/check [get]
func (h *CreditsHandler) check(c *gin.Context) {
	resource, ok := domain.ParseResource(c.Query("resource"))
	if !ok {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "unknown resource"))
		return
	}

	caller, ok := middleware.GetPrincipal(c)
	if !ok {
		limit := h.credits.FreeLimits().For(resource)
		c.JSON(http.StatusOK, CreditCheckResponse{
			Resource:  resource,
			Allowed:   limit > 0,
			Anonymous: true,
			FreeLimit: &limit,
		})
		return
	}
	if !caller.IsEmailVerified {
		c.JSON(http.StatusForbidden, VerificationRequiredResponse{
			Error:                "email verification required",
			RequiresVerification: true,
			TraceID:              middleware.GetTraceID(c),
		})
		return
	}

	allowed, err := h.credits.CanConsume(c.Request.Context(), caller.UserID, resource)
	if err != nil {
		RespondWithMappedError(c, err, creditErrorCases, http.StatusInternalServerError, "failed to check credits")
		return
	}
	c.JSON(http.StatusOK, CreditCheckResponse{Resource: resource, Allowed: allowed})
}

// Consume godoc
// @Summary Record one use of a resource
// @Description Returns 402 with upgrade_required when the limit is reached; the ledger is left unchanged.
// @Tags Credits
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body ConsumeRequest true "Resource"
// @Success 200 {object} CreditsResponse
// @Failure 402 {object} QuotaExceededResponse
// @Router /api/v1/credits/consume [post]
func (h *CreditsHandler) consume(c *gin.Context) {
	userID, ok := principal(c)
	if !ok {
		return
	}
	var req ConsumeRequest
	if !bindJSON(c, &req) {
		return
	}
	resource, ok := domain.ParseResource(req.Resource)
	if !ok {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "unknown resource"))
		return
	}

	ledger, err := h.credits.Consume(c.Request.Context(), userID, resource)
	if err != nil {
		RespondWithMappedError(c, err, creditErrorCases, http.StatusInternalServerError, "failed to record usage")
		return
	}
	c.JSON(http.StatusOK, newCreditsResponse(ledger))
}
