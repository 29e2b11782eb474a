package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/genstudio-auth/internal/infra/logger"
	"github.com/arklim/genstudio-auth/internal/transport/http/middleware"
	"github.com/arklim/genstudio-auth/internal/usecase"
)

// maxWebhookBodyBytes bounds the Stripe event payload read into memory.
const maxWebhookBodyBytes = int64(65536)

const stripeSignatureHeader = "Stripe-Signature"

// BillingHandler starts checkouts and receives payment provider webhooks.
type BillingHandler struct {
	billing *usecase.BillingService
	logger  *zap.Logger
}

func NewBillingHandler(billing *usecase.BillingService, log *zap.Logger) *BillingHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &BillingHandler{billing: billing, logger: log}
}

// RegisterRoutes mounts checkout behind the verified-caller middleware and the
// webhook unauthenticated; the webhook authenticates by signature.
func (h *BillingHandler) RegisterRoutes(r *gin.RouterGroup, verified gin.HandlerFunc) {
	r.POST("/checkout", verified, h.checkout)
	r.POST("/stripe/webhook", h.webhook)
}

// Checkout godoc
// @Summary Start a hosted checkout for a plan
// @Tags Billing
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body CheckoutRequest true "Plan"
// @Success 200 {object} CheckoutResponse
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/billing/checkout [post]
func (h *BillingHandler) checkout(c *gin.Context) {
	caller, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}
	var req CheckoutRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := h.billing.CreateCheckout(c.Request.Context(), caller, req.PlanID)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrUnknownPlan, Status: http.StatusBadRequest, Message: "unknown plan"},
			{Err: usecase.ErrBillingUnavailable, Status: http.StatusServiceUnavailable, Message: "billing is not available"},
		}, http.StatusBadGateway, "failed to start checkout")
		return
	}

	c.JSON(http.StatusOK, CheckoutResponse{SessionID: session.ID, URL: session.URL})
}

// Webhook godoc
// @Summary Stripe webhook receiver
// @Tags Billing
// @Accept json
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/billing/stripe/webhook [post]
func (h *BillingHandler) webhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, NewErrorResponse(c, "payload too large"))
			return
		}
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "failed to read payload"))
		return
	}

	err = h.billing.HandleWebhook(c.Request.Context(), payload, c.GetHeader(stripeSignatureHeader))
	if err != nil {
		logger.WithContext(c.Request.Context(), h.logger).Warn("stripe webhook rejected",
			zap.String("trace_id", middleware.GetTraceID(c)), zap.Error(err))
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidWebhookSignature, Status: http.StatusBadRequest, Message: "invalid signature"},
			{Err: usecase.ErrInvalidWebhookPayload, Status: http.StatusBadRequest, Message: "invalid payload"},
			{Err: usecase.ErrUnknownPlan, Status: http.StatusUnprocessableEntity, Message: "unknown plan"},
			{Err: usecase.ErrBillingUnavailable, Status: http.StatusServiceUnavailable, Message: "billing is not available"},
		}, http.StatusInternalServerError, "failed to process webhook")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "received"})
}
