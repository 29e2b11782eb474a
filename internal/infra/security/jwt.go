package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"

	"github.com/arklim/genstudio-auth/internal/core/domain"
)

var (
	// ErrTokenExpired indicates the token was well formed but is past its expiry.
	ErrTokenExpired = errors.New("jwt: token expired")
	// ErrTokenInvalid covers malformed tokens, bad signatures and wrong claims.
	ErrTokenInvalid = errors.New("jwt: token invalid")
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// AccessTokenClaims identify the caller for protected requests.
type AccessTokenClaims struct {
	UserID          string `json:"uid"`
	Email           string `json:"email"`
	Name            string `json:"name"`
	IsEmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// RefreshTokenClaims carry only what the refresh exchange needs.
type RefreshTokenClaims struct {
	UserID       string `json:"uid"`
	TokenVersion int64  `json:"tv"`
	jwt.RegisteredClaims
}

// AccessClaimsInput describes the principal an access token is minted for.
type AccessClaimsInput struct {
	UserID          string
	Email           string
	Name            string
	IsEmailVerified bool
}

// TokenManagerConfig configures signing secrets and lifetimes.
type TokenManagerConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// TokenManager mints and validates HS256 access and refresh tokens. Access and
// refresh tokens are signed with separate secrets.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// TokenManagerOption customises a TokenManager.
type TokenManagerOption func(*TokenManager)

// WithTokenClock overrides the clock used for issuing and validating tokens.
func WithTokenClock(now func() time.Time) TokenManagerOption {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewTokenManager(cfg TokenManagerConfig, opts ...TokenManagerOption) (*TokenManager, error) {
	if strings.TrimSpace(cfg.AccessSecret) == "" || strings.TrimSpace(cfg.RefreshSecret) == "" {
		return nil, fmt.Errorf("jwt: access and refresh secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, fmt.Errorf("jwt: access and refresh secrets must differ")
	}

	m := &TokenManager{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		issuer:        strings.TrimSpace(cfg.Issuer),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           time.Now,
	}
	if m.accessTTL <= 0 {
		m.accessTTL = defaultAccessTokenTTL
	}
	if m.refreshTTL <= 0 {
		m.refreshTTL = defaultRefreshTokenTTL
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RefreshTTL returns the refresh token lifetime, used for cookie Max-Age.
func (m *TokenManager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

func (m *TokenManager) registered(subject string, ttl time.Duration) (jwt.RegisteredClaims, time.Time) {
	now := m.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	return jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}, expiresAt
}

// IssueAccessToken signs an access token for the supplied principal.
func (m *TokenManager) IssueAccessToken(in AccessClaimsInput) (string, time.Time, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("jwt: user id is required")
	}

	reg, expiresAt := m.registered(userID, m.accessTTL)
	claims := &AccessTokenClaims{
		UserID:           userID,
		Email:            in.Email,
		Name:             in.Name,
		IsEmailVerified:  in.IsEmailVerified,
		RegisteredClaims: reg,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// IssueRefreshToken signs a refresh token bound to the user's token version.
func (m *TokenManager) IssueRefreshToken(userID string, tokenVersion int64) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("jwt: user id is required")
	}

	reg, expiresAt := m.registered(userID, m.refreshTTL)
	claims := &RefreshTokenClaims{
		UserID:           userID,
		TokenVersion:     tokenVersion,
		RegisteredClaims: reg,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign refresh token: %w", err)
	}
	return signed, expiresAt, nil
}

// IssuePair mints both tokens for a principal.
func (m *TokenManager) IssuePair(in AccessClaimsInput, tokenVersion int64) (domain.TokenPair, error) {
	access, accessExp, err := m.IssueAccessToken(in)
	if err != nil {
		return domain.TokenPair{}, err
	}
	refresh, refreshExp, err := m.IssueRefreshToken(in.UserID, tokenVersion)
	if err != nil {
		return domain.TokenPair{}, err
	}
	return domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccessToken parses and validates an access token.
func (m *TokenManager) VerifyAccessToken(token string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	if err := m.parse(token, claims, m.accessSecret); err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, fmt.Errorf("%w: missing uid", ErrTokenInvalid)
	}
	return claims, nil
}

// VerifyRefreshToken parses and validates a refresh token.
func (m *TokenManager) VerifyRefreshToken(token string) (*RefreshTokenClaims, error) {
	claims := &RefreshTokenClaims{}
	if err := m.parse(token, claims, m.refreshSecret); err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, fmt.Errorf("%w: missing uid", ErrTokenInvalid)
	}
	return claims, nil
}

func (m *TokenManager) parse(token string, claims jwt.Claims, secret []byte) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err == nil {
		return nil
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	}
	return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
}
