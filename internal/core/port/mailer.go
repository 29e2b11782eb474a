package port

import (
	"context"
	"time"
)

// Mailer delivers transactional e-mail.
type Mailer interface {
	SendVerificationCode(ctx context.Context, to, name, code string, expiresAt time.Time) error
	SendWelcome(ctx context.Context, to, name string) error
}
