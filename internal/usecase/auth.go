package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/genstudio-auth/internal/core/domain"
	"github.com/arklim/genstudio-auth/internal/core/port"
	"github.com/arklim/genstudio-auth/internal/infra/logger"
	"github.com/arklim/genstudio-auth/internal/infra/security"
	"github.com/arklim/genstudio-auth/internal/repository"
)

const (
	nameMinLength = 2
	nameMaxLength = 50
)

// RegisterInput carries a new email/password sign-up.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// RegisterResult describes a freshly created, unverified principal.
type RegisterResult struct {
	Principal    domain.PrincipalView
	OTPExpiresAt time.Time
}

// AuthResult is returned by every flow that signs the caller in.
type AuthResult struct {
	Principal domain.PrincipalView
	Tokens    domain.TokenPair
	Created   bool
}

// Profile lists the non-sensitive fields a caller may read about themselves.
type Profile struct {
	ID              string
	Email           string
	Name            string
	Provider        domain.AuthProvider
	IsEmailVerified bool
	Entitlement     domain.Entitlement
	LastLogin       *time.Time
	CreatedAt       time.Time
}

// AuthService coordinates sign-up, sign-in, verification and the session lifecycle.
type AuthService struct {
	users     port.UserRepository
	otps      *OTPService
	tokens    *security.TokenManager
	hasher    *security.PasswordHasher
	validator *security.PasswordValidator
	identity  port.IdentityVerifier
	mailer    port.Mailer
	events    port.EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// AuthServiceOption configures optional collaborators.
type AuthServiceOption func(*AuthService)

// WithIdentityVerifier enables Google sign-in.
func WithIdentityVerifier(v port.IdentityVerifier) AuthServiceOption {
	return func(s *AuthService) { s.identity = v }
}

// WithMailer sets the transactional mail sender.
func WithMailer(m port.Mailer) AuthServiceOption {
	return func(s *AuthService) { s.mailer = m }
}

// WithEventPublisher sets the domain event sink.
func WithEventPublisher(p port.EventPublisher) AuthServiceOption {
	return func(s *AuthService) { s.events = p }
}

// WithPasswordValidator replaces the default password policy.
func WithPasswordValidator(v *security.PasswordValidator) AuthServiceOption {
	return func(s *AuthService) {
		if v != nil {
			s.validator = v
		}
	}
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(
	users port.UserRepository,
	otps *OTPService,
	tokens *security.TokenManager,
	hasher *security.PasswordHasher,
	log *zap.Logger,
	opts ...AuthServiceOption,
) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &AuthService{
		users:     users,
		otps:      otps,
		tokens:    tokens,
		hasher:    hasher,
		validator: security.DefaultPasswordValidator(),
		logger:    log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithClock overrides the internal clock, used in tests.
func (s *AuthService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Register creates an unverified email/password principal and sends it a verification code.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	name := strings.TrimSpace(in.Name)
	if n := utf8.RuneCountInString(name); n < nameMinLength || n > nameMaxLength {
		return nil, &ValidationError{Field: "name", Message: fmt.Sprintf("name must be between %d and %d characters", nameMinLength, nameMaxLength)}
	}
	email, err := validateEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Validate(in.Password); err != nil {
		return nil, &ValidationError{Field: "password", Message: err.Error()}
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailAlreadyRegistered
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Provider:     domain.ProviderEmail,
		Entitlement:  domain.EntitlementStandard,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	code, expiresAt, err := s.otps.Issue(ctx, email, domain.OTPPurposeEmailVerification)
	if err != nil {
		return nil, fmt.Errorf("issue verification code: %w", err)
	}
	s.sendVerificationCode(ctx, user, code, expiresAt)
	s.publishRegistered(ctx, user)

	return &RegisterResult{Principal: user.View(), OTPExpiresAt: expiresAt}, nil
}

// Login signs in an email/password principal. Unverified principals get ErrEmailNotVerified.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, &ValidationError{Message: "email and password are required"}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	// Google-only accounts have no password to check.
	if user.Provider != domain.ProviderEmail || !user.HasPassword() {
		return nil, ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if !user.IsEmailVerified {
		return nil, ErrEmailNotVerified
	}

	return s.signIn(ctx, user, false)
}

// GoogleLogin signs in with a Google ID token, creating or linking the principal.
func (s *AuthService) GoogleLogin(ctx context.Context, credential string) (*AuthResult, error) {
	if s.identity == nil {
		return nil, ErrGoogleLoginUnavailable
	}
	if strings.TrimSpace(credential) == "" {
		return nil, &ValidationError{Field: "credential", Message: "credential is required"}
	}

	identity, err := s.identity.VerifyGoogleCredential(ctx, credential)
	if err != nil {
		s.logger.Info("google credential rejected", zap.Error(err))
		return nil, ErrInvalidGoogleCredential
	}
	email := normalizeEmail(identity.Email)
	if identity.Subject == "" || email == "" || !identity.EmailVerified {
		return nil, ErrInvalidGoogleCredential
	}

	user, err := s.users.GetByGoogleID(ctx, identity.Subject)
	switch {
	case err == nil:
		return s.signIn(ctx, user, false)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("lookup user by google id: %w", err)
	}

	now := s.now().UTC()

	user, err = s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		wasVerified := user.IsEmailVerified
		linked, err := s.users.LinkGoogle(ctx, user.ID, identity.Subject, now)
		if err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return nil, ErrInvalidGoogleCredential
			}
			return nil, fmt.Errorf("link google account: %w", err)
		}
		if !wasVerified {
			// The password was set by someone who never proved the address.
			s.logger.Info("unverified account claimed by google identity", zap.String("user_id", linked.ID))
			if err := s.otps.Discard(ctx, email, domain.OTPPurposeEmailVerification); err != nil {
				s.logger.Warn("discard pending verification code failed", zap.String("user_id", linked.ID), zap.Error(err))
			}
		}
		return s.signIn(ctx, linked, false)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	name := strings.TrimSpace(identity.Name)
	if utf8.RuneCountInString(name) < nameMinLength {
		name, _, _ = strings.Cut(email, "@")
	}
	if utf8.RuneCountInString(name) > nameMaxLength {
		name = string([]rune(name)[:nameMaxLength])
	}

	subject := identity.Subject
	created := domain.User{
		ID:              uuid.NewString(),
		Email:           email,
		Name:            name,
		Provider:        domain.ProviderGoogle,
		GoogleID:        &subject,
		IsEmailVerified: true,
		Entitlement:     domain.EntitlementStandard,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.users.Create(ctx, created); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.publishRegistered(ctx, created)
	s.sendWelcome(ctx, created)

	return s.signIn(ctx, &created, true)
}

// VerifyEmail redeems an email-verification code and signs the principal in.
func (s *AuthService) VerifyEmail(ctx context.Context, email, code string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(code) == "" {
		return nil, &ValidationError{Message: "email and otp are required"}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.IsEmailVerified {
		return nil, ErrEmailAlreadyVerified
	}

	if err := s.otps.Verify(ctx, email, code, domain.OTPPurposeEmailVerification); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.users.MarkEmailVerified(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("mark email verified: %w", err)
	}
	user.IsEmailVerified = true

	result, err := s.signIn(ctx, user, false)
	if err != nil {
		return nil, err
	}

	s.sendWelcome(ctx, *user)
	if s.events != nil {
		event := domain.UserVerifiedEvent{
			EventID:    uuid.NewString(),
			UserID:     user.ID,
			Email:      user.Email,
			VerifiedAt: now,
		}
		if err := s.events.PublishUserVerified(ctx, event); err != nil {
			s.logger.Warn("publish user verified failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	return result, nil
}

// ResendOTP issues a new verification code, subject to the reissue cooldown.
func (s *AuthService) ResendOTP(ctx context.Context, email string) (time.Time, error) {
	email = normalizeEmail(email)
	if email == "" {
		return time.Time{}, &ValidationError{Field: "email", Message: "email is required"}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return time.Time{}, ErrUserNotFound
		}
		return time.Time{}, fmt.Errorf("lookup user: %w", err)
	}
	if user.IsEmailVerified {
		return time.Time{}, ErrEmailAlreadyVerified
	}

	code, expiresAt, err := s.otps.Issue(ctx, email, domain.OTPPurposeEmailVerification)
	if err != nil {
		return time.Time{}, err
	}
	s.sendVerificationCode(ctx, *user, code, expiresAt)
	return expiresAt, nil
}

// Authenticate resolves the principal behind an access token.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string, requireVerified bool) (domain.PrincipalView, error) {
	if strings.TrimSpace(accessToken) == "" {
		return domain.PrincipalView{}, ErrUnauthenticated
	}

	claims, err := s.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return domain.PrincipalView{}, ErrExpiredAccessToken
		}
		return domain.PrincipalView{}, ErrInvalidAccessToken
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.PrincipalView{}, ErrUserNotFound
		}
		return domain.PrincipalView{}, fmt.Errorf("lookup user: %w", err)
	}

	if requireVerified && !user.IsEmailVerified {
		return domain.PrincipalView{}, ErrEmailNotVerified
	}
	return user.View(), nil
}

// AuthenticateOptional behaves like Authenticate but returns a nil principal
// instead of an error for anonymous or badly credentialed callers.
func (s *AuthService) AuthenticateOptional(ctx context.Context, accessToken string) (*domain.PrincipalView, error) {
	view, err := s.Authenticate(ctx, accessToken, false)
	if err == nil {
		return &view, nil
	}
	switch {
	case errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrExpiredAccessToken),
		errors.Is(err, ErrInvalidAccessToken),
		errors.Is(err, ErrUserNotFound):
		return nil, nil
	}
	return nil, err
}

// Refresh exchanges the current refresh token for a new pair, rotating the stored token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, ErrInvalidRefreshToken
	}

	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil, ErrExpiredRefreshToken
		}
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	presented := security.HashToken(refreshToken)
	if user.RefreshTokenHash == nil ||
		subtle.ConstantTimeCompare([]byte(*user.RefreshTokenHash), []byte(presented)) != 1 ||
		claims.TokenVersion != user.TokenVersion {
		return nil, ErrInvalidRefreshToken
	}

	pair, err := s.tokens.IssuePair(accessClaims(user), user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	rotated, err := s.users.RotateRefreshToken(ctx, user.ID, presented, security.HashToken(pair.RefreshToken), user.TokenVersion, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	if !rotated {
		// Lost a race with another refresh or a logout.
		return nil, ErrInvalidRefreshToken
	}

	return &AuthResult{Principal: user.View(), Tokens: pair}, nil
}

// Logout clears the stored refresh token if refreshToken is the active one.
// Unknown, expired or already rotated tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}

	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil
	}

	if _, err := s.users.ClearRefreshToken(ctx, claims.UserID, security.HashToken(refreshToken), s.now().UTC()); err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	return nil
}

// LogoutAll invalidates every refresh token issued to userID.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	if _, err := s.users.BumpTokenVersion(ctx, userID, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("bump token version: %w", err)
	}
	return nil
}

// Profile returns the caller's own non-sensitive profile.
func (s *AuthService) Profile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return &Profile{
		ID:              user.ID,
		Email:           user.Email,
		Name:            user.Name,
		Provider:        user.Provider,
		IsEmailVerified: user.IsEmailVerified,
		Entitlement:     user.Entitlement,
		LastLogin:       user.LastLogin,
		CreatedAt:       user.CreatedAt,
	}, nil
}

func (s *AuthService) signIn(ctx context.Context, user *domain.User, created bool) (*AuthResult, error) {
	pair, err := s.tokens.IssuePair(accessClaims(user), user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	if err := s.users.RecordLogin(ctx, user.ID, security.HashToken(pair.RefreshToken), s.now().UTC()); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}

	return &AuthResult{Principal: user.View(), Tokens: pair, Created: created}, nil
}

func (s *AuthService) sendVerificationCode(ctx context.Context, user domain.User, code string, expiresAt time.Time) {
	if s.mailer == nil {
		return
	}
	if err := s.mailer.SendVerificationCode(ctx, user.Email, user.Name, code, expiresAt); err != nil {
		s.logger.Warn("send verification code failed",
			zap.String("email", logger.MaskEmail(user.Email)),
			zap.Error(err),
		)
	}
}

func (s *AuthService) sendWelcome(ctx context.Context, user domain.User) {
	if s.mailer == nil {
		return
	}
	if err := s.mailer.SendWelcome(ctx, user.Email, user.Name); err != nil {
		s.logger.Warn("send welcome email failed",
			zap.String("email", logger.MaskEmail(user.Email)),
			zap.Error(err),
		)
	}
}

func (s *AuthService) publishRegistered(ctx context.Context, user domain.User) {
	if s.events == nil {
		return
	}
	event := domain.UserRegisteredEvent{
		EventID:      uuid.NewString(),
		UserID:       user.ID,
		Email:        user.Email,
		Name:         user.Name,
		Provider:     user.Provider,
		RegisteredAt: user.CreatedAt,
	}
	if err := s.events.PublishUserRegistered(ctx, event); err != nil {
		s.logger.Warn("publish user registered failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}

func accessClaims(user *domain.User) security.AccessClaimsInput {
	return security.AccessClaimsInput{
		UserID:          user.ID,
		Email:           user.Email,
		Name:            user.Name,
		IsEmailVerified: user.IsEmailVerified,
	}
}

func validateEmail(raw string) (string, error) {
	email := normalizeEmail(raw)
	if email == "" {
		return "", &ValidationError{Field: "email", Message: "email is required"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return "", &ValidationError{Field: "email", Message: "email is invalid"}
	}
	return email, nil
}
