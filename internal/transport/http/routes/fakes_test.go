package routes_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/arklim/genstudio-auth/internal/core/domain"
	"github.com/arklim/genstudio-auth/internal/repository"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]domain.User)}
}

func (r *memUsers) Create(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return repository.ErrConflict
		}
	}
	r.users[user.ID] = user
	return nil
}

func (r *memUsers) find(match func(domain.User) bool) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.ID == id })
}

func (r *memUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Email == strings.ToLower(email) })
}

func (r *memUsers) GetByGoogleID(_ context.Context, googleID string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.GoogleID != nil && *u.GoogleID == googleID })
}

func (r *memUsers) update(id string, fn func(*domain.User) bool) (bool, error) {
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

func (r *memUsers) LinkGoogle(_ context.Context, id, googleID string, _ time.Time) (*domain.User, error) {
	var linked domain.User
	_, err := r.update(id, func(u *domain.User) bool {
		if !u.IsEmailVerified {
			u.PasswordHash, u.RefreshTokenHash, u.Provider = "", nil, domain.ProviderGoogle
			u.TokenVersion++
		}
		u.GoogleID, u.IsEmailVerified = &googleID, true
		linked = *u
		return true
	})
	if err != nil {
		return nil, err
	}
	return &linked, nil
}

func (r *memUsers) MarkEmailVerified(_ context.Context, id string, _ time.Time) error {
	_, err := r.update(id, func(u *domain.User) bool {
		u.IsEmailVerified = true
		return true
	})
	return err
}

func (r *memUsers) RecordLogin(_ context.Context, id, hash string, at time.Time) error {
	_, err := r.update(id, func(u *domain.User) bool {
		u.RefreshTokenHash, u.LastLogin = &hash, &at
		return true
	})
	return err
}

func (r *memUsers) RotateRefreshToken(_ context.Context, id, oldHash, newHash string, version int64, _ time.Time) (bool, error) {
	return r.update(id, func(u *domain.User) bool {
		if u.RefreshTokenHash == nil || *u.RefreshTokenHash != oldHash || u.TokenVersion != version {
			return false
		}
		u.RefreshTokenHash = &newHash
		return true
	})
}

func (r *memUsers) ClearRefreshToken(_ context.Context, id, hash string, _ time.Time) (bool, error) {
	ok, err := r.update(id, func(u *domain.User) bool {
		if u.RefreshTokenHash == nil || *u.RefreshTokenHash != hash {
			return false
		}
		u.RefreshTokenHash = nil
		return true
	})
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return ok, err
}

func (r *memUsers) BumpTokenVersion(_ context.Context, id string, _ time.Time) (int64, error) {
	var version int64
	_, err := r.update(id, func(u *domain.User) bool {
		u.TokenVersion++
		u.RefreshTokenHash = nil
		version = u.TokenVersion
		return true
	})
	return version, err
}

type memLedgers struct {
	mu       sync.Mutex
	ledgers  map[string]domain.CreditLedger
	payments map[string]bool
}

func newMemLedgers() *memLedgers {
	return &memLedgers{ledgers: make(map[string]domain.CreditLedger), payments: make(map[string]bool)}
}

func (r *memLedgers) mutate(userID string, fn func(*domain.CreditLedger) bool) (*domain.CreditLedger, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.ledgers[userID]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if !fn(&l) {
		return &l, false, nil
	}
	r.ledgers[userID] = l
	return &l, true, nil
}

func (r *memLedgers) Init(_ context.Context, ledger domain.CreditLedger) (*domain.CreditLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.ledgers[ledger.UserID]; ok {
		return &existing, nil
	}
	r.ledgers[ledger.UserID] = ledger
	return &ledger, nil
}

func (r *memLedgers) Get(_ context.Context, userID string) (*domain.CreditLedger, error) {
	l, _, err := r.mutate(userID, func(*domain.CreditLedger) bool { return false })
	return l, err
}

func (r *memLedgers) IncrementIfBelowLimit(_ context.Context, userID string, resource domain.Resource, _ time.Time) (*domain.CreditLedger, bool, error) {
	return r.mutate(userID, func(l *domain.CreditLedger) bool {
		if !l.HasCapacity(resource) {
			return false
		}
		if resource == domain.ResourceEdit {
			l.EditsUsed++
		} else {
			l.GenerationsUsed++
		}
		return true
	})
}

func (r *memLedgers) ExpirePlan(_ context.Context, userID string, baseline domain.CreditLimits, at time.Time) (*domain.CreditLedger, bool, error) {
	return r.mutate(userID, func(l *domain.CreditLedger) bool {
		if !l.PlanExpired(at) {
			return false
		}
		l.GenerationsLimit, l.EditsLimit = baseline.Generations, baseline.Edits
		l.ActivePlanID, l.PlanExpiresAt = nil, nil
		return true
	})
}

func (r *memLedgers) RaiseLimits(_ context.Context, userID string, limits domain.CreditLimits, _ time.Time) (*domain.CreditLedger, error) {
	l, _, err := r.mutate(userID, func(l *domain.CreditLedger) bool {
		l.GenerationsLimit = max(l.GenerationsLimit, limits.Generations)
		l.EditsLimit = max(l.EditsLimit, limits.Edits)
		return true
	})
	return l, err
}

func (r *memLedgers) AssignPlan(_ context.Context, userID string, plan domain.PlanAssignment) (*domain.CreditLedger, bool, error) {
	return r.mutate(userID, func(l *domain.CreditLedger) bool {
		if plan.PaymentRef != nil {
			if r.payments[*plan.PaymentRef] {
				return false
			}
			r.payments[*plan.PaymentRef] = true
		}
		planID, expires := plan.PlanID, plan.ExpiresAt
		l.GenerationsUsed, l.EditsUsed = 0, 0
		l.GenerationsLimit, l.EditsLimit = plan.Limits.Generations, plan.Limits.Edits
		l.ActivePlanID, l.PlanExpiresAt, l.PaymentRef = &planID, &expires, plan.PaymentRef
		return true
	})
}

func (r *memLedgers) ResetUsage(_ context.Context, userID string, _ time.Time) (*domain.CreditLedger, error) {
	l, _, err := r.mutate(userID, func(l *domain.CreditLedger) bool {
		l.GenerationsUsed, l.EditsUsed = 0, 0
		return true
	})
	return l, err
}

type captureMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *captureMailer) SendVerificationCode(_ context.Context, to, _ string, code string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = make(map[string]string)
	}
	m.codes[to] = code
	return nil
}

func (m *captureMailer) SendWelcome(context.Context, string, string) error { return nil }

func (m *captureMailer) code(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}
