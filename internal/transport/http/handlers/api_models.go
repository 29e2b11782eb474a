package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/genstudio-auth/internal/core/domain"
	"github.com/arklim/genstudio-auth/internal/transport/http/middleware"
	"github.com/arklim/genstudio-auth/internal/usecase"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: middleware.GetTraceID(c),
	}
}

// VerificationRequiredResponse is returned with 403 when the account's email is unverified.
type VerificationRequiredResponse struct {
	Error                string `json:"error"`
	RequiresVerification bool   `json:"requires_verification"`
	Email                string `json:"email,omitempty"`
	TraceID              string `json:"trace_id,omitempty"`
}

// OTPMismatchResponse reports a wrong code and how many tries are left.
type OTPMismatchResponse struct {
	Error             string `json:"error"`
	RemainingAttempts int    `json:"remaining_attempts"`
	TraceID           string `json:"trace_id,omitempty"`
}

// RateLimitedResponse is returned with 429 by use-case level throttles.
type RateLimitedResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after"`
	TraceID    string `json:"trace_id,omitempty"`
}

// QuotaExceededResponse prompts the client to upgrade.
type QuotaExceededResponse struct {
	Error           string          `json:"error"`
	UpgradeRequired bool            `json:"upgrade_required"`
	Resource        domain.Resource `json:"resource"`
	Used            int             `json:"used"`
	Limit           int             `json:"limit"`
	TraceID         string          `json:"trace_id,omitempty"`
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// UserSummary describes a minimal view of a user returned by the API.
type UserSummary struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	Name            string `json:"name"`
	IsEmailVerified bool   `json:"is_email_verified"`
}

func newUserSummary(p domain.PrincipalView) UserSummary {
	return UserSummary{
		ID:              p.UserID,
		Email:           p.Email,
		Name:            p.Name,
		IsEmailVerified: p.IsEmailVerified,
	}
}

type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RegisterResponse struct {
	User                 UserSummary `json:"user"`
	RequiresVerification bool        `json:"requires_verification"`
	OTPExpiresAt         time.Time   `json:"otp_expires_at"`
	Message              string      `json:"message"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type GoogleLoginRequest struct {
	Credential string `json:"credential" binding:"required"`
}

type VerifyEmailRequest struct {
	Email string `json:"email" binding:"required"`
	OTP   string `json:"otp" binding:"required"`
}

type ResendOTPRequest struct {
	Email string `json:"email" binding:"required"`
}

type ResendOTPResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthResponse carries the access token; the refresh token travels only in its cookie.
type AuthResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int         `json:"expires_in"`
	ExpiresAt   time.Time   `json:"expires_at"`
	User        UserSummary `json:"user"`
	IsNewUser   bool        `json:"is_new_user,omitempty"`
}

func newAuthResponse(res *usecase.AuthResult, now time.Time) AuthResponse {
	expiresIn := int(res.Tokens.AccessExpiresAt.Sub(now).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return AuthResponse{
		AccessToken: res.Tokens.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		ExpiresAt:   res.Tokens.AccessExpiresAt,
		User:        newUserSummary(res.Principal),
		IsNewUser:   res.Created,
	}
}

type ProfileResponse struct {
	ID              string              `json:"id"`
	Email           string              `json:"email"`
	Name            string              `json:"name"`
	Provider        domain.AuthProvider `json:"provider"`
	IsEmailVerified bool                `json:"is_email_verified"`
	Entitlement     domain.Entitlement  `json:"entitlement"`
	LastLogin       *time.Time          `json:"last_login,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

func newProfileResponse(p *usecase.Profile) ProfileResponse {
	return ProfileResponse{
		ID:              p.ID,
		Email:           p.Email,
		Name:            p.Name,
		Provider:        p.Provider,
		IsEmailVerified: p.IsEmailVerified,
		Entitlement:     p.Entitlement,
		LastLogin:       p.LastLogin,
		CreatedAt:       p.CreatedAt,
	}
}

// ResourceUsage is the per-resource part of a ledger snapshot.
type ResourceUsage struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// CreditsResponse is the client view of a credit ledger.
type CreditsResponse struct {
	Generations   ResourceUsage `json:"generations"`
	Edits         ResourceUsage `json:"edits"`
	ActivePlanID  *string       `json:"active_plan_id,omitempty"`
	PlanExpiresAt *time.Time    `json:"plan_expires_at,omitempty"`
}

func newCreditsResponse(l *domain.CreditLedger) CreditsResponse {
	usage := func(r domain.Resource) ResourceUsage {
		return ResourceUsage{Used: l.Used(r), Limit: l.Limit(r), Remaining: l.Remaining(r)}
	}
	return CreditsResponse{
		Generations:   usage(domain.ResourceGeneration),
		Edits:         usage(domain.ResourceEdit),
		ActivePlanID:  l.ActivePlanID,
		PlanExpiresAt: l.PlanExpiresAt,
	}
}

// CreditCheckResponse answers /credits/check. Anonymous callers get the
// free-tier allowance a new account starts with.
type CreditCheckResponse struct {
	Resource  domain.Resource `json:"resource"`
	Allowed   bool            `json:"allowed"`
	Anonymous bool            `json:"anonymous,omitempty"`
	FreeLimit *int            `json:"free_limit,omitempty"`
}

type ConsumeRequest struct {
	Resource string `json:"resource" binding:"required"`
}

type CheckoutRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type AssignPlanRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

// HealthResponse describes the liveness payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse lists the outcome of every dependency check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
