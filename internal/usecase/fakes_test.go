package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arklim/genstudio-auth/internal/core/domain"
	"github.com/arklim/genstudio-auth/internal/infra/config"
	"github.com/arklim/genstudio-auth/internal/infra/security"
	"github.com/arklim/genstudio-auth/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ---- users ----

type memUserRepository struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newMemUserRepository() *memUserRepository {
	return &memUserRepository{users: make(map[string]domain.User)}
}

func (r *memUserRepository) put(u domain.User) {
	r.mu.Lock()
	r.users[u.ID] = u
	r.mu.Unlock()
}

func (r *memUserRepository) get(id string) domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id]
}

func (r *memUserRepository) Create(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return repository.ErrConflict
		}
		if user.GoogleID != nil && u.GoogleID != nil && *u.GoogleID == *user.GoogleID {
			return repository.ErrConflict
		}
	}
	r.users[user.ID] = user
	return nil
}

func (r *memUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r *memUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == strings.ToLower(email) {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memUserRepository) GetByGoogleID(_ context.Context, googleID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.GoogleID != nil && *u.GoogleID == googleID {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memUserRepository) update(id string, fn func(*domain.User) bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if !fn(&u) {
		return false, nil
	}
	r.users[id] = u
	return true, nil
}

func (r *memUserRepository) LinkGoogle(_ context.Context, id, googleID string, at time.Time) (*domain.User, error) {
	var linked domain.User
	_, err := r.update(id, func(u *domain.User) bool {
		if !u.IsEmailVerified {
			u.PasswordHash = ""
			u.RefreshTokenHash = nil
			u.TokenVersion++
			u.Provider = domain.ProviderGoogle
		}
		u.GoogleID = &googleID
		u.IsEmailVerified = true
		u.UpdatedAt = at
		linked = *u
		return true
	})
	if err != nil {
		return nil, err
	}
	return &linked, nil
}

func (r *memUserRepository) MarkEmailVerified(_ context.Context, id string, at time.Time) error {
	_, err := r.update(id, func(u *domain.User) bool {
		u.IsEmailVerified = true
		u.UpdatedAt = at
		return true
	})
	return err
}

func (r *memUserRepository) RecordLogin(_ context.Context, id, refreshHash string, at time.Time) error {
	_, err := r.update(id, func(u *domain.User) bool {
		u.RefreshTokenHash = &refreshHash
		u.LastLogin = &at
		return true
	})
	return err
}

func (r *memUserRepository) RotateRefreshToken(_ context.Context, id, oldHash, newHash string, tokenVersion int64, at time.Time) (bool, error) {
	return r.update(id, func(u *domain.User) bool {
		if u.RefreshTokenHash == nil || *u.RefreshTokenHash != oldHash || u.TokenVersion != tokenVersion {
			return false
		}
		u.RefreshTokenHash = &newHash
		u.UpdatedAt = at
		return true
	})
}

func (r *memUserRepository) ClearRefreshToken(_ context.Context, id, hash string, at time.Time) (bool, error) {
	ok, err := r.update(id, func(u *domain.User) bool {
		if u.RefreshTokenHash == nil || *u.RefreshTokenHash != hash {
			return false
		}
		u.RefreshTokenHash = nil
		u.UpdatedAt = at
		return true
	})
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return ok, err
}

func (r *memUserRepository) BumpTokenVersion(_ context.Context, id string, at time.Time) (int64, error) {
	var version int64
	_, err := r.update(id, func(u *domain.User) bool {
		u.TokenVersion++
		u.RefreshTokenHash = nil
		u.UpdatedAt = at
		version = u.TokenVersion
		return true
	})
	return version, err
}

// ---- otp ----

type memOTPStore struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]domain.OTP
}

func newMemOTPStore(now func() time.Time) *memOTPStore {
	return &memOTPStore{now: now, records: make(map[string]domain.OTP)}
}

func otpKey(email string, purpose domain.OTPPurpose) string {
	return string(purpose) + ":" + email
}

// live drops records past their expiry the way a key TTL would.
func (s *memOTPStore) live(key string) (domain.OTP, bool) {
	rec, ok := s.records[key]
	if !ok {
		return domain.OTP{}, false
	}
	if !rec.ExpiresAt.After(s.now()) {
		delete(s.records, key)
		return domain.OTP{}, false
	}
	return rec, true
}

func (s *memOTPStore) Get(_ context.Context, email string, purpose domain.OTPPurpose) (*domain.OTP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.live(otpKey(email, purpose))
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rec, nil
}

func (s *memOTPStore) Save(_ context.Context, otp domain.OTP) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[otpKey(otp.Email, otp.Purpose)] = otp
	return nil
}

func (s *memOTPStore) IncrementAttempts(_ context.Context, email string, purpose domain.OTPPurpose) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := otpKey(email, purpose)
	rec, ok := s.live(key)
	if !ok {
		return 0, repository.ErrNotFound
	}
	rec.Attempts++
	s.records[key] = rec
	return rec.Attempts, nil
}

func (s *memOTPStore) MarkUsed(_ context.Context, email string, purpose domain.OTPPurpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := otpKey(email, purpose)
	rec, ok := s.live(key)
	if !ok {
		return repository.ErrNotFound
	}
	if rec.IsUsed {
		return repository.ErrConflict
	}
	rec.IsUsed = true
	s.records[key] = rec
	return nil
}

func (s *memOTPStore) Delete(_ context.Context, email string, purpose domain.OTPPurpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, otpKey(email, purpose))
	return nil
}

func (s *memOTPStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.records {
		if _, ok := s.live(key); ok {
			n++
		}
	}
	return n
}

// ---- credits ----

type memLedgerRepository struct {
	mu       sync.Mutex
	ledgers  map[string]domain.CreditLedger
	payments map[string]string
}

func newMemLedgerRepository() *memLedgerRepository {
	return &memLedgerRepository{
		ledgers:  make(map[string]domain.CreditLedger),
		payments: make(map[string]string),
	}
}

func (r *memLedgerRepository) Init(_ context.Context, ledger domain.CreditLedger) (*domain.CreditLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.ledgers[ledger.UserID]; ok {
		return &existing, nil
	}
	r.ledgers[ledger.UserID] = ledger
	return &ledger, nil
}

func (r *memLedgerRepository) Get(_ context.Context, userID string) (*domain.CreditLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.ledgers[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &l, nil
}

func (r *memLedgerRepository) IncrementIfBelowLimit(_ context.Context, userID string, resource domain.Resource, at time.Time) (*domain.CreditLedger, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.ledgers[userID]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if !l.HasCapacity(resource) {
		return &l, false, nil
	}
	if resource == domain.ResourceEdit {
		l.EditsUsed++
	} else {
		l.GenerationsUsed++
	}
	l.UpdatedAt = at
	r.ledgers[userID] = l
	return &l, true, nil
}

func (r *memLedgerRepository) ExpirePlan(_ context.Context, userID string, baseline domain.CreditLimits, at time.Time) (*domain.CreditLedger, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.ledgers[userID]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if l.PlanExpiresAt == nil || !l.PlanExpiresAt.Before(at) {
		return &l, false, nil
	}
	l.GenerationsLimit = baseline.Generations
	l.EditsLimit = baseline.Edits
	l.ActivePlanID = nil
	l.PlanExpiresAt = nil
	l.UpdatedAt = at
	r.ledgers[userID] = l
	return &l, true, nil
}

func (r *memLedgerRepository) RaiseLimits(_ context.Context, userID string, limits domain.CreditLimits, at time.Time) (*domain.CreditLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.ledgers[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	l.GenerationsLimit = max(l.GenerationsLimit, limits.Generations)
	l.EditsLimit = max(l.EditsLimit, limits.Edits)
	l.UpdatedAt = at
	r.ledgers[userID] = l
	return &l, nil
}

func (r *memLedgerRepository) AssignPlan(_ context.Context, userID string, plan domain.PlanAssignment) (*domain.CreditLedger, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.ledgers[userID]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if plan.PaymentRef != nil {
		if _, used := r.payments[*plan.PaymentRef]; used {
			return &l, false, nil
		}
		r.payments[*plan.PaymentRef] = userID
	}
	planID := plan.PlanID
	expires := plan.ExpiresAt
	l.GenerationsUsed, l.EditsUsed = 0, 0
	l.GenerationsLimit = plan.Limits.Generations
	l.EditsLimit = plan.Limits.Edits
	l.ActivePlanID = &planID
	l.PlanExpiresAt = &expires
	l.PaymentRef = plan.PaymentRef
	l.UpdatedAt = plan.AssignedAt
	r.ledgers[userID] = l
	return &l, true, nil
}

func (r *memLedgerRepository) ResetUsage(_ context.Context, userID string, at time.Time) (*domain.CreditLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.ledgers[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	l.GenerationsUsed, l.EditsUsed = 0, 0
	l.UpdatedAt = at
	r.ledgers[userID] = l
	return &l, nil
}

// ---- collaborators ----

type sentCode struct {
	To   string
	Code string
}

type recordingMailer struct {
	mu       sync.Mutex
	codes    []sentCode
	welcomes []string
	err      error
}

func (m *recordingMailer) SendVerificationCode(_ context.Context, to, _ string, code string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = append(m.codes, sentCode{To: to, Code: code})
	return m.err
}

func (m *recordingMailer) SendWelcome(_ context.Context, to, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.welcomes = append(m.welcomes, to)
	return m.err
}

func (m *recordingMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.codes, "no verification code sent")
	return m.codes[len(m.codes)-1].Code
}

type recordingEvents struct {
	mu         sync.Mutex
	registered []domain.UserRegisteredEvent
	verified   []domain.UserVerifiedEvent
	plans      []domain.PlanAssignedEvent
	err        error
}

func (e *recordingEvents) PublishUserRegistered(_ context.Context, ev domain.UserRegisteredEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registered = append(e.registered, ev)
	return e.err
}

func (e *recordingEvents) PublishUserVerified(_ context.Context, ev domain.UserVerifiedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.verified = append(e.verified, ev)
	return e.err
}

func (e *recordingEvents) PublishPlanAssigned(_ context.Context, ev domain.PlanAssignedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plans = append(e.plans, ev)
	return e.err
}

type stubIdentityVerifier struct {
	identity *domain.ExternalIdentity
	err      error
}

func (s stubIdentityVerifier) VerifyGoogleCredential(context.Context, string) (*domain.ExternalIdentity, error) {
	if s.err != nil {
		return nil, s.err
	}
	identity := *s.identity
	return &identity, nil
}

// ---- wiring ----

type authFixture struct {
	clock   *fakeClock
	users   *memUserRepository
	otps    *memOTPStore
	otpSvc  *OTPService
	tokens  *security.TokenManager
	mailer  *recordingMailer
	events  *recordingEvents
	service *AuthService
}

func testHasher(t *testing.T) *security.PasswordHasher {
	t.Helper()
	hasher, err := security.NewPasswordHasher(security.Argon2Params{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	require.NoError(t, err)
	return hasher
}

func newAuthFixture(t *testing.T, opts ...AuthServiceOption) *authFixture {
	t.Helper()

	clock := newFakeClock()
	users := newMemUserRepository()
	otps := newMemOTPStore(clock.Now)

	otpSvc := NewOTPService(otps, config.OTPSettings{})
	otpSvc.WithClock(clock.Now)

	tokens, err := security.NewTokenManager(security.TokenManagerConfig{
		AccessSecret:  "access-secret-for-tests",
		RefreshSecret: "refresh-secret-for-tests",
		Issuer:        "genstudio-test",
	}, security.WithTokenClock(clock.Now))
	require.NoError(t, err)

	mailer := &recordingMailer{}
	events := &recordingEvents{}

	all := append([]AuthServiceOption{WithMailer(mailer), WithEventPublisher(events)}, opts...)
	svc := NewAuthService(users, otpSvc, tokens, testHasher(t), nil, all...)
	svc.WithClock(clock.Now)

	return &authFixture{
		clock:   clock,
		users:   users,
		otps:    otps,
		otpSvc:  otpSvc,
		tokens:  tokens,
		mailer:  mailer,
		events:  events,
		service: svc,
	}
}

// registerVerified runs the full sign-up flow and returns the signed-in result.
func (f *authFixture) registerVerified(t *testing.T, name, email, password string) *AuthResult {
	t.Helper()
	ctx := context.Background()
	_, err := f.service.Register(ctx, RegisterInput{Name: name, Email: email, Password: password})
	require.NoError(t, err)
	result, err := f.service.VerifyEmail(ctx, email, f.mailer.lastCode(t))
	require.NoError(t, err)
	return result
}
