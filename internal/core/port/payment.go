package port

import (
	"context"
	"errors"

	"github.com/arklim/genstudio-auth/internal/core/domain"
)

var (
	// ErrWebhookSignature is returned when a webhook payload fails signature verification.
	ErrWebhookSignature = errors.New("payment webhook signature mismatch")
	// ErrWebhookPayload is returned for a signed payload that cannot be decoded.
	ErrWebhookPayload = errors.New("payment webhook payload malformed")
)

// PaymentGateway is the payment provider boundary.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error)
	// ParseWebhook verifies the signature header and decodes the event.
	ParseWebhook(payload []byte, signature string) (*domain.PaymentEvent, error)
}
