package port

import (
	"context"
	"time"

	"github.com/arklim/genstudio-auth/internal/core/domain"
)

// CreditLedgerRepository is the authoritative store for usage counters. Every
// mutation returns the ledger as persisted after the write.
type CreditLedgerRepository interface {
	// Init inserts ledger unless one already exists and returns the stored row.
	Init(ctx context.Context, ledger domain.CreditLedger) (*domain.CreditLedger, error)
	Get(ctx context.Context, userID string) (*domain.CreditLedger, error)
	// IncrementIfBelowLimit adds one unit of resource in a single conditional
	// update. ok is false, and nothing changes, when used has reached limit.
	IncrementIfBelowLimit(ctx context.Context, userID string, resource domain.Resource, at time.Time) (ledger *domain.CreditLedger, ok bool, err error)
	// ExpirePlan reverts limits to baseline and clears the plan when the plan
	// expired before at. Usage counters are left untouched.
	ExpirePlan(ctx context.Context, userID string, baseline domain.CreditLimits, at time.Time) (ledger *domain.CreditLedger, expired bool, err error)
	// RaiseLimits lifts limits to at least the given values without touching usage or plan.
	RaiseLimits(ctx context.Context, userID string, limits domain.CreditLimits, at time.Time) (*domain.CreditLedger, error)
	// AssignPlan replaces limits, zeroes usage and records the plan. When
	// plan.PaymentRef was already applied to any ledger nothing changes and
	// applied is false. Claiming the reference and updating the ledger is one
	// atomic step.
	AssignPlan(ctx context.Context, userID string, plan domain.PlanAssignment) (ledger *domain.CreditLedger, applied bool, err error)
	ResetUsage(ctx context.Context, userID string, at time.Time) (*domain.CreditLedger, error)
}
