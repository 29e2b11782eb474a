package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/genstudio-auth/internal/core/domain"
	"github.com/arklim/genstudio-auth/internal/core/port"
	"github.com/arklim/genstudio-auth/internal/repository"
)

const (
	creditsTable  = "credit_ledgers"
	paymentsTable = "plan_payments"
)

var ledgerColumns = []string{
	"user_id",
	"generations_used",
	"generations_limit",
	"edits_used",
	"edits_limit",
	"active_plan_id",
	"plan_expires_at",
	"payment_ref",
	"updated_at",
}

var returningLedger = "RETURNING " + strings.Join(ledgerColumns, ", ")

// CreditLedgerRepository implements port.CreditLedgerRepository. Quota checks
// and increments happen inside single UPDATE statements so concurrent
// consumers can never push used past limit.
type CreditLedgerRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

func NewCreditLedgerRepository(exec pgExecutor) *CreditLedgerRepository {
	return &CreditLedgerRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Init inserts ledger unless a row already exists, then returns the stored row.
func (r *CreditLedgerRepository) Init(ctx context.Context, ledger domain.CreditLedger) (*domain.CreditLedger, error) {
	stmt, args, err := r.builder.Insert(creditsTable).
		Columns(
			"user_id",
			"generations_used",
			"generations_limit",
			"edits_used",
			"edits_limit",
			"updated_at",
		).
		Values(
			ledger.UserID,
			0,
			ledger.GenerationsLimit,
			0,
			ledger.EditsLimit,
			ledger.UpdatedAt,
		).
		Suffix("ON CONFLICT (user_id) DO NOTHING").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build init ledger sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}

	return r.Get(ctx, ledger.UserID)
}

// Get returns the ledger for userID or repository.ErrNotFound.
func (r *CreditLedgerRepository) Get(ctx context.Context, userID string) (*domain.CreditLedger, error) {
	stmt, args, err := r.builder.Select(ledgerColumns...).
		From(creditsTable).
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select ledger sql: %w", err)
	}

	ledger, err := scanLedger(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	return ledger, nil
}

// IncrementIfBelowLimit adds one unit of resource when used < limit.
func (r *CreditLedgerRepository) IncrementIfBelowLimit(ctx context.Context, userID string, resource domain.Resource, at time.Time) (*domain.CreditLedger, bool, error) {
	usedCol, limitCol, err := resourceColumns(resource)
	if err != nil {
		return nil, false, err
	}

	stmt, args, err := r.builder.Update(creditsTable).
		Set(usedCol, squirrel.Expr(usedCol+" + 1")).
		Set("updated_at", at).
		Where(squirrel.Eq{"user_id": userID}).
		Where(usedCol + " < " + limitCol).
		Suffix(returningLedger).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build increment ledger sql: %w", err)
	}

	ledger, err := scanLedger(r.exec.QueryRow(ctx, stmt, args...))
	if err == nil {
		return ledger, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("increment ledger: %w", err)
	}

	// Either the row is missing or the ceiling was reached.
	current, err := r.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// ExpirePlan reverts an expired plan to the baseline limits. Usage is kept.
func (r *CreditLedgerRepository) ExpirePlan(ctx context.Context, userID string, baseline domain.CreditLimits, at time.Time) (*domain.CreditLedger, bool, error) {
	stmt, args, err := r.builder.Update(creditsTable).
		Set("generations_limit", baseline.Generations).
		Set("edits_limit", baseline.Edits).
		Set("active_plan_id", nil).
		Set("plan_expires_at", nil).
		Set("updated_at", at).
		Where(squirrel.Eq{"user_id": userID}).
		Where(squirrel.NotEq{"plan_expires_at": nil}).
		Where(squirrel.Lt{"plan_expires_at": at}).
		Suffix(returningLedger).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build expire plan sql: %w", err)
	}

	ledger, err := scanLedger(r.exec.QueryRow(ctx, stmt, args...))
	if err == nil {
		return ledger, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("expire plan: %w", err)
	}

	current, err := r.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// RaiseLimits lifts the limits to at least the supplied values.
func (r *CreditLedgerRepository) RaiseLimits(ctx context.Context, userID string, limits domain.CreditLimits, at time.Time) (*domain.CreditLedger, error) {
	stmt, args, err := r.builder.Update(creditsTable).
		Set("generations_limit", squirrel.Expr("GREATEST(generations_limit, ?)", limits.Generations)).
		Set("edits_limit", squirrel.Expr("GREATEST(edits_limit, ?)", limits.Edits)).
		Set("updated_at", at).
		Where(squirrel.Eq{"user_id": userID}).
		Suffix(returningLedger).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build raise limits sql: %w", err)
	}

	return r.updateReturning(ctx, "raise limits", stmt, args)
}

// AssignPlan replaces limits, zeroes usage and records plan metadata. With a
// payment reference the update is guarded by an insert into plan_payments in
// the same statement, so a reference applies at most once across all ledgers.
func (r *CreditLedgerRepository) AssignPlan(ctx context.Context, userID string, plan domain.PlanAssignment) (*domain.CreditLedger, bool, error) {
	update := r.builder.Update(creditsTable).
		Set("generations_used", 0).
		Set("generations_limit", plan.Limits.Generations).
		Set("edits_used", 0).
		Set("edits_limit", plan.Limits.Edits).
		Set("active_plan_id", plan.PlanID).
		Set("plan_expires_at", plan.ExpiresAt).
		Set("payment_ref", plan.PaymentRef).
		Set("updated_at", plan.AssignedAt).
		Where(squirrel.Eq{"user_id": userID})
	if plan.PaymentRef != nil {
		update = update.
			Prefix("WITH claimed AS (INSERT INTO "+paymentsTable+" (payment_ref, user_id, plan_id, applied_at) VALUES (?, ?, ?, ?) ON CONFLICT (payment_ref) DO NOTHING RETURNING payment_ref)",
				*plan.PaymentRef, userID, plan.PlanID, plan.AssignedAt).
			Where("EXISTS (SELECT 1 FROM claimed)")
	}

	stmt, args, err := update.Suffix(returningLedger).ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build assign plan sql: %w", err)
	}

	ledger, err := scanLedger(r.exec.QueryRow(ctx, stmt, args...))
	if err == nil {
		return ledger, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("assign plan: %w", err)
	}
	if plan.PaymentRef == nil {
		return nil, false, repository.ErrNotFound
	}

	// The reference was claimed earlier, or the ledger row is missing.
	current, err := r.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// ResetUsage zeroes both counters and leaves limits and plan alone.
func (r *CreditLedgerRepository) ResetUsage(ctx context.Context, userID string, at time.Time) (*domain.CreditLedger, error) {
	stmt, args, err := r.builder.Update(creditsTable).
		Set("generations_used", 0).
		Set("edits_used", 0).
		Set("updated_at", at).
		Where(squirrel.Eq{"user_id": userID}).
		Suffix(returningLedger).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build reset usage sql: %w", err)
	}

	return r.updateReturning(ctx, "reset usage", stmt, args)
}

func (r *CreditLedgerRepository) updateReturning(ctx context.Context, op string, stmt string, args []any) (*domain.CreditLedger, error) {
	ledger, err := scanLedger(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ledger, nil
}

func resourceColumns(resource domain.Resource) (string, string, error) {
	switch resource {
	case domain.ResourceGeneration:
		return "generations_used", "generations_limit", nil
	case domain.ResourceEdit:
		return "edits_used", "edits_limit", nil
	}
	return "", "", fmt.Errorf("unknown resource %q", resource)
}

func scanLedger(row pgx.Row) (*domain.CreditLedger, error) {
	var ledger domain.CreditLedger
	if err := row.Scan(
		&ledger.UserID,
		&ledger.GenerationsUsed,
		&ledger.GenerationsLimit,
		&ledger.EditsUsed,
		&ledger.EditsLimit,
		&ledger.ActivePlanID,
		&ledger.PlanExpiresAt,
		&ledger.PaymentRef,
		&ledger.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ledger, nil
}

var _ port.CreditLedgerRepository = (*CreditLedgerRepository)(nil)
