package security

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// PasswordViolation identifies the rule a password broke.
type PasswordViolation string

const (
	ViolationBlank   PasswordViolation = "blank"
	ViolationShort   PasswordViolation = "min_length"
	ViolationLong    PasswordViolation = "max_length"
	ViolationControl PasswordViolation = "control_character"
	ViolationInvalid PasswordViolation = "invalid_utf8"
)

// PasswordValidationError is returned for the first rule a password breaks.
type PasswordValidationError struct {
	Code    PasswordViolation
	Message string
}

func (e *PasswordValidationError) Error() string {
	return e.Message
}

// PasswordValidator enforces the sign-up password policy. Lengths are counted
// in characters, not bytes; the upper bound keeps Argon2 input bounded.
type PasswordValidator struct {
	minLength int
	maxLength int
}

func NewPasswordValidator(minLength, maxLength int) *PasswordValidator {
	if maxLength > 0 && maxLength < minLength {
		maxLength = minLength
	}
	return &PasswordValidator{minLength: minLength, maxLength: maxLength}
}

// DefaultPasswordValidator accepts 6 to 128 characters.
func DefaultPasswordValidator() *PasswordValidator {
	return NewPasswordValidator(6, 128)
}

func (v *PasswordValidator) Validate(password string) error {
	if v == nil {
		return fmt.Errorf("password validator not configured")
	}

	switch n := utf8.RuneCountInString(password); {
	case !utf8.ValidString(password):
		return violation(ViolationInvalid, "password contains invalid characters")
	case strings.TrimSpace(password) == "":
		return violation(ViolationBlank, "password must not be blank")
	case n < v.minLength:
		return violation(ViolationShort, fmt.Sprintf("password must be at least %d characters long", v.minLength))
	case v.maxLength > 0 && n > v.maxLength:
		return violation(ViolationLong, fmt.Sprintf("password must be at most %d characters long", v.maxLength))
	case strings.ContainsFunc(password, unicode.IsControl):
		return violation(ViolationControl, "password must not contain control characters")
	}
	return nil
}

func violation(code PasswordViolation, msg string) error {
	return &PasswordValidationError{Code: code, Message: msg}
}
