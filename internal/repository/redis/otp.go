package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/genstudio-auth/internal/core/domain"
	"github.com/arklim/genstudio-auth/internal/core/port"
	"github.com/arklim/genstudio-auth/internal/repository"
)

const (
	defaultOTPPrefix = "otp"

	fieldCode      = "code"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
	fieldAttempts  = "attempts"
	fieldUsed      = "used"
)

// Both scripts act only on live keys so an expired record is never recreated
// without a TTL.
var (
	incrAttemptsScript = red.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
return redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
`)
	markUsedScript = red.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], ARGV[1]) == "1" then
  return 0
end
redis.call("HSET", KEYS[1], ARGV[1], "1")
return 1
`)
)

// OTPRepository stores one-time codes as Redis hashes keyed by purpose and email.
// The key TTL tracks the record expiry so stale codes disappear on their own.
type OTPRepository struct {
	client *red.Client
	prefix string
}

// NewOTPRepository constructs a new OTP repository with the provided Redis client and key prefix.
func NewOTPRepository(client *red.Client, keyPrefix string) *OTPRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultOTPPrefix
	}
	return &OTPRepository{client: client, prefix: prefix}
}

// Save writes otp, replacing whatever was stored for the same email and purpose.
func (r *OTPRepository) Save(ctx context.Context, otp domain.OTP) error {
	key := r.key(otp.Purpose, otp.Email)
	switch {
	case key == "":
		return errors.New("purpose and email are required")
	case strings.TrimSpace(otp.Code) == "":
		return errors.New("code is required")
	case !otp.ExpiresAt.After(otp.CreatedAt):
		return errors.New("expiry must be after creation")
	}

	used := "0"
	if otp.IsUsed {
		used = "1"
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]any{
		fieldCode:      otp.Code,
		fieldCreatedAt: strconv.FormatInt(otp.CreatedAt.UnixMilli(), 10),
		fieldExpiresAt: strconv.FormatInt(otp.ExpiresAt.UnixMilli(), 10),
		fieldAttempts:  strconv.Itoa(otp.Attempts),
		fieldUsed:      used,
	})
	pipe.PExpireAt(ctx, key, otp.ExpiresAt)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store otp: %w", err)
	}
	return nil
}

// Get returns the stored record or repository.ErrNotFound.
func (r *OTPRepository) Get(ctx context.Context, email string, purpose domain.OTPPurpose) (*domain.OTP, error) {
	key := r.key(purpose, email)
	if key == "" {
		return nil, errors.New("purpose and email are required")
	}

	values, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall otp: %w", err)
	}
	code := strings.TrimSpace(values[fieldCode])
	if len(values) == 0 || code == "" {
		return nil, repository.ErrNotFound
	}

	createdAt, err := parseUnixMilli(values[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	expiresAt, err := parseUnixMilli(values[fieldExpiresAt])
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}

	attempts := 0
	if raw := values[fieldAttempts]; raw != "" {
		if v, convErr := strconv.Atoi(raw); convErr == nil {
			attempts = v
		}
	}

	return &domain.OTP{
		Email:     normalizeEmail(email),
		Purpose:   purpose,
		Code:      code,
		IsUsed:    values[fieldUsed] == "1",
		Attempts:  attempts,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

// IncrementAttempts bumps the attempt counter and returns the new value.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, email string, purpose domain.OTPPurpose) (int, error) {
	key := r.key(purpose, email)
	if key == "" {
		return 0, errors.New("purpose and email are required")
	}

	count, err := incrAttemptsScript.Run(ctx, r.client, []string{key}, fieldAttempts).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis incr otp attempts: %w", err)
	}
	if count < 0 {
		return 0, repository.ErrNotFound
	}
	return int(count), nil
}

// MarkUsed flags the record as redeemed. The key keeps its TTL. A record that
// was already redeemed yields repository.ErrConflict.
func (r *OTPRepository) MarkUsed(ctx context.Context, email string, purpose domain.OTPPurpose) error {
	key := r.key(purpose, email)
	if key == "" {
		return errors.New("purpose and email are required")
	}

	updated, err := markUsedScript.Run(ctx, r.client, []string{key}, fieldUsed).Int64()
	if err != nil {
		return fmt.Errorf("redis mark otp used: %w", err)
	}
	switch updated {
	case -1:
		return repository.ErrNotFound
	case 0:
		return repository.ErrConflict
	}
	return nil
}

// Delete removes the record. Deleting a missing record is not an error.
func (r *OTPRepository) Delete(ctx context.Context, email string, purpose domain.OTPPurpose) error {
	key := r.key(purpose, email)
	if key == "" {
		return errors.New("purpose and email are required")
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete otp: %w", err)
	}
	return nil
}

func (r *OTPRepository) key(purpose domain.OTPPurpose, email string) string {
	p := strings.TrimSpace(string(purpose))
	e := normalizeEmail(email)
	if p == "" || e == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s", r.prefix, p, e)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func parseUnixMilli(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(v).UTC(), nil
}

var _ port.OTPStore = (*OTPRepository)(nil)
