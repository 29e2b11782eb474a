package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/arklim/genstudio-auth/internal/core/domain"
)

var (
	// ErrUnauthenticated indicates no credential was presented.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrInvalidAccessToken indicates the access token is malformed or badly signed.
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrExpiredAccessToken indicates the access token has expired and may be refreshed.
	ErrExpiredAccessToken = errors.New("access token expired")
	// ErrInvalidRefreshToken covers unknown, rotated, revoked or malformed refresh tokens.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrExpiredRefreshToken indicates the refresh token has expired.
	ErrExpiredRefreshToken = errors.New("refresh token expired")
	// ErrUserNotFound indicates no principal matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailNotVerified indicates the operation needs a verified email.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrEmailAlreadyVerified is returned when verification is requested twice.
	ErrEmailAlreadyVerified = errors.New("email already verified")
	// ErrInvalidCredentials indicates a bad email/password pair or a non-password account.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailAlreadyRegistered indicates a duplicate registration.
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	// ErrInvalidGoogleCredential indicates Google rejected the identity token.
	ErrInvalidGoogleCredential = errors.New("invalid google credential")
	// ErrGoogleLoginUnavailable indicates Google sign-in is not configured.
	ErrGoogleLoginUnavailable = errors.New("google login unavailable")

	ErrOTPNotFound        = errors.New("verification code not found or expired")
	ErrOTPMismatch        = errors.New("verification code mismatch")
	ErrOTPTooManyAttempts = errors.New("too many verification attempts")
	ErrInvalidOTPPurpose  = errors.New("invalid verification purpose")

	// ErrRateLimited is matched by every RateLimitExceededError.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrOTPRateLimited is matched by RateLimitExceededError values raised by OTP reissue.
	ErrOTPRateLimited = errors.New("verification code requested too recently")

	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrUnknownResource = errors.New("unknown resource")
	ErrUnknownPlan     = errors.New("unknown plan")
	ErrInvalidPlan     = errors.New("invalid plan")

	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")
	ErrInvalidWebhookPayload   = errors.New("invalid webhook payload")
	ErrBillingUnavailable      = errors.New("billing unavailable")
)

// RateLimitScopeOTPIssue scopes the reissue cooldown for verification codes.
const RateLimitScopeOTPIssue = "otp_issue"

// RateLimitExceededError reports a throttled operation and when it may be retried.
type RateLimitExceededError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("%s: retry after %s", e.Scope, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitExceededError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return true
	case ErrOTPRateLimited:
		return e.Scope == RateLimitScopeOTPIssue
	}
	return false
}

// OTPMismatchError is returned for a wrong code while attempts remain.
type OTPMismatchError struct {
	RemainingAttempts int
}

func (e *OTPMismatchError) Error() string {
	return fmt.Sprintf("%s: %d attempts remaining", ErrOTPMismatch, e.RemainingAttempts)
}

func (e *OTPMismatchError) Unwrap() error { return ErrOTPMismatch }

// QuotaExceededError carries the ledger state that blocked a consumption.
type QuotaExceededError struct {
	Resource domain.Resource
	Used     int
	Limit    int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: %s %d/%d", ErrQuotaExceeded, e.Resource, e.Used, e.Limit)
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}
