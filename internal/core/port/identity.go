package port

import (
	"context"

	"github.com/arklim/genstudio-auth/internal/core/domain"
)

// IdentityVerifier validates credentials issued by an external identity provider.
type IdentityVerifier interface {
	VerifyGoogleCredential(ctx context.Context, credential string) (*domain.ExternalIdentity, error)
}
