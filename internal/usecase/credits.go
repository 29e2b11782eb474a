package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/genstudio-auth/internal/core/domain"
	"github.com/arklim/genstudio-auth/internal/core/port"
	"github.com/arklim/genstudio-auth/internal/infra/config"
	"github.com/arklim/genstudio-auth/internal/repository"
)

const (
	defaultFreeGenerations = 3
	defaultFreeEdits       = 7
	defaultUnlimitedLimit  = 1_000_000_000
	defaultPlanDuration    = 30 * 24 * time.Hour
)

// CreditObserver receives ledger outcomes, typically for metrics.
type CreditObserver interface {
	CreditConsumed(resource domain.Resource)
	QuotaRejected(resource domain.Resource)
	PlanAssigned(planID string)
	PlanExpired()
}

type noopCreditObserver struct{}

func (noopCreditObserver) CreditConsumed(domain.Resource) {}
func (noopCreditObserver) QuotaRejected(domain.Resource)  {}
func (noopCreditObserver) PlanAssigned(string)            {}
func (noopCreditObserver) PlanExpired()                   {}

// CreditService meters generations and edits against the per-user ledger.
type CreditService struct {
	ledgers      port.CreditLedgerRepository
	users        port.UserRepository
	free         domain.CreditLimits
	unlimited    domain.CreditLimits
	planDuration time.Duration
	plans        map[string]config.PlanSettings
	events       port.EventPublisher
	observer     CreditObserver
	logger       *zap.Logger
	now          func() time.Time
}

// CreditServiceOption configures optional collaborators.
type CreditServiceOption func(*CreditService)

// WithCreditEvents publishes plan assignments to the message bus.
func WithCreditEvents(p port.EventPublisher) CreditServiceOption {
	return func(s *CreditService) { s.events = p }
}

// WithCreditObserver reports ledger outcomes to o.
func WithCreditObserver(o CreditObserver) CreditServiceOption {
	return func(s *CreditService) {
		if o != nil {
			s.observer = o
		}
	}
}

// NewCreditService constructs a CreditService. The plan catalogue is parsed from cfg.
func NewCreditService(
	ledgers port.CreditLedgerRepository,
	users port.UserRepository,
	cfg config.CreditSettings,
	log *zap.Logger,
	opts ...CreditServiceOption,
) (*CreditService, error) {
	catalog, err := cfg.PlanCatalog()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &CreditService{
		ledgers:      ledgers,
		users:        users,
		free:         domain.CreditLimits{Generations: cfg.FreeGenerations, Edits: cfg.FreeEdits},
		unlimited:    domain.CreditLimits{Generations: cfg.UnlimitedLimit, Edits: cfg.UnlimitedLimit},
		planDuration: cfg.PlanDuration,
		plans:        make(map[string]config.PlanSettings, len(catalog)),
		observer:     noopCreditObserver{},
		logger:       log,
		now:          time.Now,
	}
	if s.free == (domain.CreditLimits{}) {
		s.free = domain.CreditLimits{Generations: defaultFreeGenerations, Edits: defaultFreeEdits}
	}
	if cfg.UnlimitedLimit <= 0 {
		s.unlimited = domain.CreditLimits{Generations: defaultUnlimitedLimit, Edits: defaultUnlimitedLimit}
	}
	if s.planDuration <= 0 {
		s.planDuration = defaultPlanDuration
	}
	for _, plan := range catalog {
		s.plans[plan.ID] = plan
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// WithClock overrides the internal clock, used in tests.
func (s *CreditService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// FreeLimits returns the free-tier ceilings.
func (s *CreditService) FreeLimits() domain.CreditLimits {
	return s.free
}

// Plan looks up a catalogue plan by id.
func (s *CreditService) Plan(planID string) (config.PlanSettings, bool) {
	plan, ok := s.plans[strings.TrimSpace(planID)]
	return plan, ok
}

// GetOrInit returns the caller's ledger, creating it with baseline limits on
// first use and resolving plan expiry.
func (s *CreditService) GetOrInit(ctx context.Context, userID string) (*domain.CreditLedger, error) {
	ledger, _, err := s.resolve(ctx, userID)
	return ledger, err
}

// CanConsume reports whether one more unit of resource is available.
func (s *CreditService) CanConsume(ctx context.Context, userID string, resource domain.Resource) (bool, error) {
	if _, ok := domain.ParseResource(string(resource)); !ok {
		return false, ErrUnknownResource
	}
	ledger, user, err := s.resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	if user.IsUnlimited() {
		return true, nil
	}
	return ledger.HasCapacity(resource), nil
}

// Consume records one completed use of resource. At the ceiling it returns a
// QuotaExceededError and leaves the ledger unchanged.
func (s *CreditService) Consume(ctx context.Context, userID string, resource domain.Resource) (*domain.CreditLedger, error) {
	if _, ok := domain.ParseResource(string(resource)); !ok {
		return nil, ErrUnknownResource
	}
	current, user, err := s.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	ledger, ok, err := s.ledgers.IncrementIfBelowLimit(ctx, userID, resource, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("increment usage: %w", err)
	}
	if !ok {
		if ledger == nil {
			ledger = current
		}
		if user.IsUnlimited() {
			// Counter saturated; usage is no longer recorded but access is not blocked.
			s.observer.CreditConsumed(resource)
			return ledger, nil
		}
		s.observer.QuotaRejected(resource)
		return nil, &QuotaExceededError{
			Resource: resource,
			Used:     ledger.Used(resource),
			Limit:    ledger.Limit(resource),
		}
	}

	s.observer.CreditConsumed(resource)
	return ledger, nil
}

// AssignPlan replaces the limits, zeroes usage and starts a new plan period.
// A paymentRef that was applied before makes the call a no-op returning the
// current ledger.
func (s *CreditService) AssignPlan(ctx context.Context, userID, planID string, limits domain.CreditLimits, paymentRef *string) (*domain.CreditLedger, error) {
	ledger, _, err := s.assignPlan(ctx, userID, planID, limits, paymentRef)
	return ledger, err
}

// AssignCatalogPlan assigns a plan from the configured catalogue.
func (s *CreditService) AssignCatalogPlan(ctx context.Context, userID, planID string, paymentRef *string) (*domain.CreditLedger, error) {
	ledger, _, err := s.assignCatalogPlan(ctx, userID, planID, paymentRef)
	return ledger, err
}

func (s *CreditService) assignCatalogPlan(ctx context.Context, userID, planID string, paymentRef *string) (*domain.CreditLedger, bool, error) {
	plan, ok := s.Plan(planID)
	if !ok {
		return nil, false, ErrUnknownPlan
	}
	return s.assignPlan(ctx, userID, plan.ID, domain.CreditLimits{
		Generations: plan.GenerationsLimit,
		Edits:       plan.EditsLimit,
	}, paymentRef)
}

func (s *CreditService) assignPlan(ctx context.Context, userID, planID string, limits domain.CreditLimits, paymentRef *string) (*domain.CreditLedger, bool, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" || limits.Generations < 0 || limits.Edits < 0 {
		return nil, false, ErrInvalidPlan
	}
	if _, _, err := s.resolve(ctx, userID); err != nil {
		return nil, false, err
	}

	now := s.now().UTC()
	assignment := domain.PlanAssignment{
		PlanID:     planID,
		Limits:     limits,
		PaymentRef: paymentRef,
		AssignedAt: now,
		ExpiresAt:  now.Add(s.planDuration),
	}
	ledger, applied, err := s.ledgers.AssignPlan(ctx, userID, assignment)
	if err != nil {
		return nil, false, fmt.Errorf("assign plan: %w", err)
	}
	if !applied {
		return ledger, false, nil
	}

	s.observer.PlanAssigned(planID)
	s.publishPlanAssigned(ctx, userID, assignment)
	return ledger, true, nil
}

// ResetUsage zeroes both counters without touching limits or plan.
func (s *CreditService) ResetUsage(ctx context.Context, userID string) (*domain.CreditLedger, error) {
	if _, _, err := s.resolve(ctx, userID); err != nil {
		return nil, err
	}
	ledger, err := s.ledgers.ResetUsage(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("reset usage: %w", err)
	}
	return ledger, nil
}

func (s *CreditService) baseline(user *domain.User) domain.CreditLimits {
	if user.IsUnlimited() {
		return s.unlimited
	}
	return s.free
}

// resolve loads the user and their ledger, initialising it and applying plan
// expiry and entitlement limits as needed.
func (s *CreditService) resolve(ctx context.Context, userID string) (*domain.CreditLedger, *domain.User, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, nil, ErrUserNotFound
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, fmt.Errorf("lookup user: %w", err)
	}

	now := s.now().UTC()
	baseline := s.baseline(user)

	ledger, err := s.ledgers.Get(ctx, userID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		ledger, err = s.ledgers.Init(ctx, domain.CreditLedger{
			UserID:           userID,
			GenerationsLimit: baseline.Generations,
			EditsLimit:       baseline.Edits,
			UpdatedAt:        now,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init ledger: %w", err)
		}
	case err != nil:
		return nil, nil, fmt.Errorf("load ledger: %w", err)
	}

	if ledger.PlanExpired(now) {
		reverted, expired, err := s.ledgers.ExpirePlan(ctx, userID, baseline, now)
		if err != nil {
			return nil, nil, fmt.Errorf("expire plan: %w", err)
		}
		if expired {
			s.observer.PlanExpired()
			s.logger.Info("credit plan expired", zap.String("user_id", userID))
		}
		ledger = reverted
	}

	// Baseline increases (entitlement granted, free tier raised in config)
	// reach existing ledgers here. A paid plan keeps its own limits.
	belowBaseline := ledger.GenerationsLimit < baseline.Generations || ledger.EditsLimit < baseline.Edits
	if belowBaseline && (user.IsUnlimited() || ledger.ActivePlanID == nil) {
		ledger, err = s.ledgers.RaiseLimits(ctx, userID, baseline, now)
		if err != nil {
			return nil, nil, fmt.Errorf("raise limits: %w", err)
		}
	}

	return ledger, user, nil
}

func (s *CreditService) publishPlanAssigned(ctx context.Context, userID string, plan domain.PlanAssignment) {
	if s.events == nil {
		return
	}
	event := domain.PlanAssignedEvent{
		EventID:          uuid.NewString(),
		UserID:           userID,
		PlanID:           plan.PlanID,
		GenerationsLimit: plan.Limits.Generations,
		EditsLimit:       plan.Limits.Edits,
		PaymentRef:       plan.PaymentRef,
		ExpiresAt:        plan.ExpiresAt,
		AssignedAt:       plan.AssignedAt,
	}
	if err := s.events.PublishPlanAssigned(ctx, event); err != nil {
		s.logger.Warn("publish plan assigned failed", zap.String("user_id", userID), zap.Error(err))
	}
}
