package port

import (
	"context"
	"time"

	"github.com/arklim/genstudio-auth/internal/core/domain"
)

// UserRepository exposes persistence behavior for principals.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByGoogleID(ctx context.Context, googleID string) (*domain.User, error)
	// LinkGoogle attaches googleID and marks the email verified. Linking an
	// unverified account also clears its password and refresh token and bumps
	// its token version.
	LinkGoogle(ctx context.Context, id string, googleID string, at time.Time) (*domain.User, error)
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
	// RecordLogin stores the hash of the newly issued refresh token and the login time.
	RecordLogin(ctx context.Context, id string, refreshTokenHash string, at time.Time) error
	// RotateRefreshToken replaces oldHash with newHash. It reports false when the
	// stored hash no longer equals oldHash or the token version moved on.
	RotateRefreshToken(ctx context.Context, id string, oldHash string, newHash string, tokenVersion int64, at time.Time) (bool, error)
	// ClearRefreshToken removes the stored token only if it still equals hash.
	ClearRefreshToken(ctx context.Context, id string, hash string, at time.Time) (bool, error)
	// BumpTokenVersion invalidates every outstanding refresh token for the user.
	BumpTokenVersion(ctx context.Context, id string, at time.Time) (int64, error)
}
