package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/arklim/genstudio-auth/internal/core/domain"
	"github.com/arklim/genstudio-auth/internal/core/port"
	"github.com/arklim/genstudio-auth/internal/infra/config"
)

const (
	metadataUserID = "user_id"
	metadataPlanID = "plan_id"
)

type checkoutSessions interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeGateway implements port.PaymentGateway with Stripe Checkout.
type StripeGateway struct {
	sessions      checkoutSessions
	webhookSecret string
	successURL    string
	cancelURL     string
}

// NewStripeGateway creates a gateway with its own API client. Passing nil
// backends uses Stripe's production endpoints.
func NewStripeGateway(cfg config.StripeSettings, backends *stripe.Backends) (*StripeGateway, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("stripe: secret key is required")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	sc := client.New(cfg.SecretKey, backends)
	return &StripeGateway{
		sessions:      sc.CheckoutSessions,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		ClientReferenceID: stripe.String(req.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			metadataUserID: req.UserID,
			metadataPlanID: req.PlanID,
		},
	}
	params.Context = ctx
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}

	session, err := g.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return &domain.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*domain.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrWebhookSignature, err)
	}

	out := &domain.PaymentEvent{ID: event.ID, Type: string(event.Type)}
	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		return out, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrWebhookPayload, err)
	}

	userID := session.Metadata[metadataUserID]
	if userID == "" {
		userID = session.ClientReferenceID
	}
	out.Checkout = &domain.CompletedCheckout{
		SessionID: session.ID,
		UserID:    userID,
		PlanID:    session.Metadata[metadataPlanID],
		Paid:      session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}
	return out, nil
}

var _ port.PaymentGateway = (*StripeGateway)(nil)
