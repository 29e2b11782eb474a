package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arklim/genstudio-auth/internal/core/domain"
	"github.com/arklim/genstudio-auth/internal/core/port"
	"github.com/arklim/genstudio-auth/internal/infra/config"
	"github.com/arklim/genstudio-auth/internal/infra/security"
	"github.com/arklim/genstudio-auth/internal/repository"
)

const (
	defaultOTPTTL            = 10 * time.Minute
	defaultOTPMaxAttempts    = 5
	defaultOTPResendCooldown = 60 * time.Second
)

// OTPService manages one-time verification codes.
type OTPService struct {
	store       port.OTPStore
	ttl         time.Duration
	maxAttempts int
	cooldown    time.Duration
	generate    func() (string, error)
	now         func() time.Time
}

// NewOTPService constructs an OTPService. Zero settings fall back to a
// 10 minute TTL, 5 attempts and a 60 second reissue cooldown.
func NewOTPService(store port.OTPStore, cfg config.OTPSettings) *OTPService {
	s := &OTPService{
		store:       store,
		ttl:         cfg.TTL,
		maxAttempts: cfg.MaxAttempts,
		cooldown:    cfg.ResendCooldown,
		generate:    security.GenerateOTPCode,
		now:         time.Now,
	}
	if s.ttl <= 0 {
		s.ttl = defaultOTPTTL
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultOTPMaxAttempts
	}
	if s.cooldown <= 0 {
		s.cooldown = defaultOTPResendCooldown
	}
	return s
}

// WithClock overrides the internal clock, used in tests.
func (s *OTPService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithGenerator overrides code generation, used in tests.
func (s *OTPService) WithGenerator(gen func() (string, error)) {
	if gen != nil {
		s.generate = gen
	}
}

// Generate returns a fresh six digit code.
func (s *OTPService) Generate() (string, error) {
	return s.generate()
}

// Issue creates a new code for email and purpose, superseding any earlier one.
// It refuses with a RateLimitExceededError while the current code is younger
// than the cooldown.
func (s *OTPService) Issue(ctx context.Context, email string, purpose domain.OTPPurpose) (string, time.Time, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", time.Time{}, &ValidationError{Field: "email", Message: "email is required"}
	}
	if !purpose.Valid() {
		return "", time.Time{}, ErrInvalidOTPPurpose
	}

	now := s.now().UTC()

	existing, err := s.store.Get(ctx, email, purpose)
	switch {
	case err == nil:
		if elapsed := now.Sub(existing.CreatedAt); elapsed < s.cooldown {
			return "", time.Time{}, &RateLimitExceededError{
				Scope:      RateLimitScopeOTPIssue,
				RetryAfter: s.cooldown - elapsed,
			}
		}
	case errors.Is(err, repository.ErrNotFound):
	default:
		return "", time.Time{}, fmt.Errorf("load otp: %w", err)
	}

	code, err := s.generate()
	if err != nil {
		return "", time.Time{}, err
	}

	otp := domain.OTP{
		Email:     email,
		Purpose:   purpose,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.Save(ctx, otp); err != nil {
		return "", time.Time{}, fmt.Errorf("save otp: %w", err)
	}

	return code, otp.ExpiresAt, nil
}

// Verify redeems code for email and purpose.
func (s *OTPService) Verify(ctx context.Context, email, code string, purpose domain.OTPPurpose) error {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return &ValidationError{Message: "email and code are required"}
	}
	if !purpose.Valid() {
		return ErrInvalidOTPPurpose
	}

	record, err := s.store.Get(ctx, email, purpose)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrOTPNotFound
		}
		return fmt.Errorf("load otp: %w", err)
	}

	if !record.Actionable(s.now().UTC()) {
		return ErrOTPNotFound
	}
	if record.Attempts >= s.maxAttempts {
		return ErrOTPTooManyAttempts
	}

	attempts, err := s.store.IncrementAttempts(ctx, email, purpose)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrOTPNotFound
		}
		return fmt.Errorf("increment otp attempts: %w", err)
	}
	// A concurrent verifier may have used the last attempt between the read and the increment.
	if attempts > s.maxAttempts {
		return ErrOTPTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(record.Code)) != 1 {
		return &OTPMismatchError{RemainingAttempts: s.maxAttempts - attempts}
	}

	if err := s.store.MarkUsed(ctx, email, purpose); err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrConflict) {
			return ErrOTPNotFound
		}
		return fmt.Errorf("mark otp used: %w", err)
	}
	return nil
}

// Discard drops any outstanding code for email and purpose.
func (s *OTPService) Discard(ctx context.Context, email string, purpose domain.OTPPurpose) error {
	if err := s.store.Delete(ctx, normalizeEmail(email), purpose); err != nil {
		return fmt.Errorf("delete otp: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
