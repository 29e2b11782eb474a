package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/idtoken"

	"github.com/arklim/genstudio-auth/internal/core/domain"
	"github.com/arklim/genstudio-auth/internal/core/port"
)

var validIssuers = map[string]struct{}{
	"accounts.google.com":         {},
	"https://accounts.google.com": {},
}

type payloadValidator interface {
	Validate(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error)
}

// IdentityVerifier checks Google Sign-In ID tokens against the OAuth client id.
type IdentityVerifier struct {
	clientID  string
	validator payloadValidator
}

// NewIdentityVerifier builds a verifier that fetches Google's signing keys on demand.
func NewIdentityVerifier(ctx context.Context, clientID string) (*IdentityVerifier, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, errors.New("google: client id is required")
	}
	validator, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("google: create validator: %w", err)
	}
	return &IdentityVerifier{clientID: clientID, validator: validator}, nil
}

func (v *IdentityVerifier) VerifyGoogleCredential(ctx context.Context, credential string) (*domain.ExternalIdentity, error) {
	payload, err := v.validator.Validate(ctx, credential, v.clientID)
	if err != nil {
		return nil, fmt.Errorf("google: validate id token: %w", err)
	}
	if _, ok := validIssuers[payload.Issuer]; !ok {
		return nil, fmt.Errorf("google: unexpected issuer %q", payload.Issuer)
	}
	return identityFromPayload(payload), nil
}

func identityFromPayload(payload *idtoken.Payload) *domain.ExternalIdentity {
	identity := &domain.ExternalIdentity{Subject: payload.Subject}
	if email, ok := payload.Claims["email"].(string); ok {
		identity.Email = email
	}
	if name, ok := payload.Claims["name"].(string); ok {
		identity.Name = name
	}
	// Google has sent email_verified both as a bool and as a string.
	switch verified := payload.Claims["email_verified"].(type) {
	case bool:
		identity.EmailVerified = verified
	case string:
		identity.EmailVerified = verified == "true"
	}
	return identity
}

var _ port.IdentityVerifier = (*IdentityVerifier)(nil)
