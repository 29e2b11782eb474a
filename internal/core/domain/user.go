package domain

import "time"

// AuthProvider tags how a principal signs in.
type AuthProvider string

const (
	ProviderEmail  AuthProvider = "email"
	ProviderGoogle AuthProvider = "google"
)

// Entitlement grants a principal a usage tier independent of purchased plans.
type Entitlement string

const (
	EntitlementStandard  Entitlement = "standard"
	EntitlementUnlimited Entitlement = "unlimited"
)

// User mirrors the persisted representation in the users table.
type User struct {
	ID               string
	Email            string
	Name             string
	PasswordHash     string
	Provider         AuthProvider
	GoogleID         *string
	IsEmailVerified  bool
	RefreshTokenHash *string
	TokenVersion     int64
	Entitlement      Entitlement
	LastLogin        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasPassword reports whether the user can sign in with email and password.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}

// IsUnlimited reports whether the user bypasses credit limits.
func (u User) IsUnlimited() bool {
	return u.Entitlement == EntitlementUnlimited
}

// View projects the user onto the fields safe to hand to request handlers.
func (u User) View() PrincipalView {
	return PrincipalView{
		UserID:          u.ID,
		Email:           u.Email,
		Name:            u.Name,
		IsEmailVerified: u.IsEmailVerified,
	}
}

// PrincipalView is the authenticated caller as seen by protected operations.
type PrincipalView struct {
	UserID          string `json:"user_id"`
	Email           string `json:"email"`
	Name            string `json:"name"`
	IsEmailVerified bool   `json:"is_email_verified"`
}

// ExternalIdentity is a principal asserted by a third-party identity provider.
type ExternalIdentity struct {
	Subject       string
	Email         string
	Name          string
	EmailVerified bool
}
