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

const usersTable = "users"

var userColumns = []string{
	"id",
	"email",
	"name",
	"password_hash",
	"provider",
	"google_id",
	"is_email_verified",
	"refresh_token_hash",
	"token_version",
	"entitlement",
	"last_login",
	"created_at",
	"updated_at",
}

// UserRepository implements port.UserRepository using PostgreSQL.
type UserRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserRepository wires a PostgreSQL-backed user repository.
func NewUserRepository(exec pgExecutor) *UserRepository {
	return &UserRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a new user row. A duplicate email or Google id yields repository.ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	var passwordHash any
	if user.PasswordHash != "" {
		passwordHash = user.PasswordHash
	}

	entitlement := user.Entitlement
	if entitlement == "" {
		entitlement = domain.EntitlementStandard
	}

	stmt, args, err := r.builder.Insert(usersTable).
		Columns(
			"id",
			"email",
			"name",
			"password_hash",
			"provider",
			"google_id",
			"is_email_verified",
			"token_version",
			"entitlement",
			"last_login",
			"created_at",
			"updated_at",
		).
		Values(
			user.ID,
			user.Email,
			user.Name,
			passwordHash,
			user.Provider,
			user.GoogleID,
			user.IsEmailVerified,
			user.TokenVersion,
			entitlement,
			user.LastLogin,
			user.CreatedAt,
			user.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert user sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by identifier.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// GetByEmail retrieves a user by normalized email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"email": email})
}

// GetByGoogleID retrieves a user by Google subject.
func (r *UserRepository) GetByGoogleID(ctx context.Context, googleID string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"google_id": googleID})
}

func (r *UserRepository) getOne(ctx context.Context, where squirrel.Eq) (*domain.User, error) {
	stmt, args, err := r.builder.
		Select(userColumns...).
		From(usersTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	user, err := scanUser(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}

// LinkGoogle attaches a Google subject to an existing account, marks its email
// verified and returns the updated row. When the account was still unverified
// its password and refresh token are dropped, the token version moves on and
// the account becomes Google-only. All CASE branches read the pre-update row.
func (r *UserRepository) LinkGoogle(ctx context.Context, id string, googleID string, at time.Time) (*domain.User, error) {
	stmt, args, err := r.builder.Update(usersTable).
		Set("google_id", googleID).
		Set("password_hash", squirrel.Expr("CASE WHEN is_email_verified THEN password_hash ELSE NULL END")).
		Set("refresh_token_hash", squirrel.Expr("CASE WHEN is_email_verified THEN refresh_token_hash ELSE NULL END")).
		Set("token_version", squirrel.Expr("CASE WHEN is_email_verified THEN token_version ELSE token_version + 1 END")).
		Set("provider", squirrel.Expr("CASE WHEN is_email_verified THEN provider ELSE ? END", string(domain.ProviderGoogle))).
		Set("is_email_verified", true).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(userColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build link google sql: %w", err)
	}

	user, err := scanUser(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, repository.ErrNotFound
		case isUniqueViolation(err):
			return nil, repository.ErrConflict
		}
		return nil, fmt.Errorf("link google: %w", err)
	}
	return user, nil
}

// MarkEmailVerified flips the verification flag.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.Update(usersTable).
		Set("is_email_verified", true).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark verified sql: %w", err)
	}

	return r.execAffectingOne(ctx, "mark email verified", stmt, args)
}

// RecordLogin stores the active refresh token hash and the login timestamp.
func (r *UserRepository) RecordLogin(ctx context.Context, id string, refreshTokenHash string, at time.Time) error {
	stmt, args, err := r.builder.Update(usersTable).
		Set("refresh_token_hash", refreshTokenHash).
		Set("last_login", at).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build record login sql: %w", err)
	}

	return r.execAffectingOne(ctx, "record login", stmt, args)
}

// RotateRefreshToken swaps oldHash for newHash as a compare-and-set.
func (r *UserRepository) RotateRefreshToken(ctx context.Context, id string, oldHash string, newHash string, tokenVersion int64, at time.Time) (bool, error) {
	stmt, args, err := r.builder.Update(usersTable).
		Set("refresh_token_hash", newHash).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.Eq{"refresh_token_hash": oldHash}).
		Where(squirrel.Eq{"token_version": tokenVersion}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build rotate refresh token sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("rotate refresh token: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// ClearRefreshToken removes the stored refresh token when it still equals hash.
func (r *UserRepository) ClearRefreshToken(ctx context.Context, id string, hash string, at time.Time) (bool, error) {
	stmt, args, err := r.builder.Update(usersTable).
		Set("refresh_token_hash", nil).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.Eq{"refresh_token_hash": hash}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build clear refresh token sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("clear refresh token: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// BumpTokenVersion increments the token version and drops the stored refresh token.
func (r *UserRepository) BumpTokenVersion(ctx context.Context, id string, at time.Time) (int64, error) {
	stmt, args, err := r.builder.Update(usersTable).
		Set("token_version", squirrel.Expr("token_version + 1")).
		Set("refresh_token_hash", nil).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING token_version").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build bump token version sql: %w", err)
	}

	var version int64
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("bump token version: %w", err)
	}
	return version, nil
}

func (r *UserRepository) execAffectingOne(ctx context.Context, op string, stmt string, args []any) error {
	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		user         domain.User
		passwordHash *string
	)

	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&passwordHash,
		&user.Provider,
		&user.GoogleID,
		&user.IsEmailVerified,
		&user.RefreshTokenHash,
		&user.TokenVersion,
		&user.Entitlement,
		&user.LastLogin,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if passwordHash != nil {
		user.PasswordHash = *passwordHash
	}
	return &user, nil
}

var _ port.UserRepository = (*UserRepository)(nil)
