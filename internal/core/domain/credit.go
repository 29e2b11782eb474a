package domain

import "time"

// Resource names a metered action.
type Resource string

const (
	ResourceGeneration Resource = "generation"
	ResourceEdit       Resource = "edit"
)

// ParseResource validates a client supplied resource name.
func ParseResource(raw string) (Resource, bool) {
	switch Resource(raw) {
	case ResourceGeneration:
		return ResourceGeneration, true
	case ResourceEdit:
		return ResourceEdit, true
	}
	return "", false
}

// CreditLimits pairs the two metered ceilings.
type CreditLimits struct {
	Generations int
	Edits       int
}

func (l CreditLimits) For(r Resource) int {
	if r == ResourceEdit {
		return l.Edits
	}
	return l.Generations
}

// CreditLedger is the single authoritative usage record for a user.
type CreditLedger struct {
	UserID           string
	GenerationsUsed  int
	GenerationsLimit int
	EditsUsed        int
	EditsLimit       int
	ActivePlanID     *string
	PlanExpiresAt    *time.Time
	PaymentRef       *string
	UpdatedAt        time.Time
}

// Used returns the consumed amount for r.
func (l CreditLedger) Used(r Resource) int {
	if r == ResourceEdit {
		return l.EditsUsed
	}
	return l.GenerationsUsed
}

// Limit returns the ceiling for r.
func (l CreditLedger) Limit(r Resource) int {
	if r == ResourceEdit {
		return l.EditsLimit
	}
	return l.GenerationsLimit
}

// Remaining never goes below zero, even for ledgers left above a reverted limit.
func (l CreditLedger) Remaining(r Resource) int {
	if rem := l.Limit(r) - l.Used(r); rem > 0 {
		return rem
	}
	return 0
}

// HasCapacity reports whether one more unit of r may be consumed.
func (l CreditLedger) HasCapacity(r Resource) bool {
	return l.Used(r) < l.Limit(r)
}

// PlanExpired reports whether a purchased plan has lapsed at the given time.
func (l CreditLedger) PlanExpired(at time.Time) bool {
	return l.PlanExpiresAt != nil && at.After(*l.PlanExpiresAt)
}

// PlanAssignment describes a purchased plan applied to a ledger.
type PlanAssignment struct {
	PlanID     string
	Limits     CreditLimits
	PaymentRef *string
	AssignedAt time.Time
	ExpiresAt  time.Time
}
