package domain

import "time"

// OTPPurpose scopes a one-time code to a single flow.
type OTPPurpose string

const (
	OTPPurposeEmailVerification OTPPurpose = "email-verification"
	OTPPurposePasswordReset     OTPPurpose = "password-reset"
	OTPPurposePhoneVerification OTPPurpose = "phone-verification"
)

// Valid reports whether p is a known purpose.
func (p OTPPurpose) Valid() bool {
	switch p {
	case OTPPurposeEmailVerification, OTPPurposePasswordReset, OTPPurposePhoneVerification:
		return true
	}
	return false
}

// OTP is a one-time verification code issued for an email and purpose.
type OTP struct {
	Email     string
	Purpose   OTPPurpose
	Code      string
	IsUsed    bool
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the code can no longer be redeemed.
func (o OTP) IsExpired(at time.Time) bool {
	return !o.ExpiresAt.After(at)
}

// Actionable reports whether the code may still be verified.
func (o OTP) Actionable(at time.Time) bool {
	return !o.IsUsed && !o.IsExpired(at)
}
