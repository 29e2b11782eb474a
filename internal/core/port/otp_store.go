package port

import (
	"context"

	"github.com/arklim/genstudio-auth/internal/core/domain"
)

// OTPStore keeps at most one record per (email, purpose). Records vanish on
// their own once ExpiresAt passes.
type OTPStore interface {
	Get(ctx context.Context, email string, purpose domain.OTPPurpose) (*domain.OTP, error)
	// Save replaces any existing record for the pair.
	Save(ctx context.Context, otp domain.OTP) error
	IncrementAttempts(ctx context.Context, email string, purpose domain.OTPPurpose) (int, error)
	MarkUsed(ctx context.Context, email string, purpose domain.OTPPurpose) error
	Delete(ctx context.Context, email string, purpose domain.OTPPurpose) error
}
