package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/arklim/genstudio-auth/internal/core/domain"
	"github.com/arklim/genstudio-auth/internal/core/port"
)

// BillingService turns payment provider checkouts into plan assignments.
type BillingService struct {
	gateway port.PaymentGateway
	credits *CreditService
	logger  *zap.Logger
}

// NewBillingService constructs a BillingService. A nil gateway disables billing.
func NewBillingService(gateway port.PaymentGateway, credits *CreditService, log *zap.Logger) *BillingService {
	if log == nil {
		log = zap.NewNop()
	}
	return &BillingService{gateway: gateway, credits: credits, logger: log}
}

// CreateCheckout starts a hosted checkout for a catalogue plan.
func (s *BillingService) CreateCheckout(ctx context.Context, principal domain.PrincipalView, planID string) (*domain.CheckoutSession, error) {
	if s.gateway == nil {
		return nil, ErrBillingUnavailable
	}
	plan, ok := s.credits.Plan(planID)
	if !ok {
		return nil, ErrUnknownPlan
	}
	if plan.StripePriceID == "" {
		// Plan exists but can only be granted by an administrator.
		return nil, ErrUnknownPlan
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, domain.CheckoutRequest{
		UserID:  principal.UserID,
		Email:   principal.Email,
		PlanID:  plan.ID,
		PriceID: plan.StripePriceID,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return session, nil
}

// HandleWebhook verifies and applies a payment provider notification. A
// checkout session is applied at most once, so redeliveries of any earlier
// session are acknowledged without touching the ledger.
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.gateway == nil {
		return ErrBillingUnavailable
	}

	event, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, port.ErrWebhookSignature):
			return ErrInvalidWebhookSignature
		case errors.Is(err, port.ErrWebhookPayload):
			return ErrInvalidWebhookPayload
		}
		return fmt.Errorf("parse webhook: %w", err)
	}

	log := s.logger.With(zap.String("event_id", event.ID), zap.String("event_type", event.Type))
	if event.Type != domain.PaymentEventCheckoutCompleted || event.Checkout == nil {
		log.Debug("payment event ignored")
		return nil
	}

	checkout := event.Checkout
	if !checkout.Paid {
		log.Info("checkout completed without payment", zap.String("session_id", checkout.SessionID))
		return nil
	}
	if strings.TrimSpace(checkout.UserID) == "" || strings.TrimSpace(checkout.SessionID) == "" {
		return ErrInvalidWebhookPayload
	}
	if _, ok := s.credits.Plan(checkout.PlanID); !ok {
		log.Warn("checkout for unknown plan", zap.String("plan_id", checkout.PlanID))
		return ErrUnknownPlan
	}

	ref := checkout.SessionID
	_, applied, err := s.credits.assignCatalogPlan(ctx, checkout.UserID, checkout.PlanID, &ref)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			log.Warn("checkout for unknown user", zap.String("user_id", checkout.UserID))
			return nil
		}
		return err
	}
	if !applied {
		log.Info("checkout already applied", zap.String("session_id", checkout.SessionID))
		return nil
	}
	log.Info("plan assigned from checkout",
		zap.String("user_id", checkout.UserID),
		zap.String("plan_id", checkout.PlanID),
	)
	return nil
}
