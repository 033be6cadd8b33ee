package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"warden/internal/models"
	"warden/internal/repository"
)

const userColumns = `id, email, password_hash, role_id, email_verified, failed_attempts, locked_until,
	is_active, is_deleted, deleted_at, created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Create(ctx context.Context, user models.User) error {
	const query = `
		INSERT INTO users (
			id, email, password_hash, role_id, email_verified, failed_attempts,
			is_active, is_deleted, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, 0, $6, FALSE, $7, $7
		)
	`

	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.RoleID,
		user.EmailVerified,
		user.IsActive,
		user.CreatedAt,
	)
	switch pgCode(err) {
	case uniqueViolation:
		return repository.ErrConflict
	case foreignKeyViolation:
		return fmt.Errorf("role %s: %w", user.RoleID, repository.ErrNotFound)
	}
	return err
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1 AND NOT is_deleted`, email))
}

func (r *UserRepository) RecordFailedLogin(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (models.LoginState, error) {
	// The row lock taken by UPDATE serialises concurrent failures; every
	// expression reads the row as it was before this statement.
	const query = `
		UPDATE users SET
			failed_attempts = CASE
				WHEN locked_until IS NOT NULL AND locked_until <= $3 THEN 1
				ELSE failed_attempts + 1
			END,
			locked_until = CASE
				WHEN locked_until IS NOT NULL AND locked_until > $3 THEN locked_until
				WHEN (CASE WHEN locked_until IS NOT NULL THEN 1 ELSE failed_attempts + 1 END) >= $2::int THEN $4::timestamptz
				ELSE NULL
			END,
			updated_at = $3
		WHERE id = $1 AND NOT is_deleted
		RETURNING failed_attempts, locked_until
	`

	var state models.LoginState
	err := r.pool.QueryRow(ctx, query, id, threshold, now, now.Add(lockFor)).
		Scan(&state.FailedAttempts, &state.LockedUntil)
	if err != nil {
		return models.LoginState{}, notFound(err)
	}
	return state, nil
}

func (r *UserRepository) ResetLoginState(ctx context.Context, id string, now time.Time) error {
	const query = `
		UPDATE users SET failed_attempts = 0, locked_until = NULL, updated_at = $2
		WHERE id = $1 AND (failed_attempts <> 0 OR locked_until IS NOT NULL)
	`
	_, err := r.pool.Exec(ctx, query, id, now)
	return err
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, now time.Time) error {
	return r.update(ctx, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1 AND NOT is_deleted`,
		id, passwordHash, now)
}

func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string, now time.Time) error {
	return r.update(ctx, `UPDATE users SET email_verified = TRUE, updated_at = $2 WHERE id = $1 AND NOT is_deleted`,
		id, now)
}

func (r *UserRepository) AssignRole(ctx context.Context, id, roleID string, now time.Time) error {
	err := r.update(ctx, `UPDATE users SET role_id = $2, updated_at = $3 WHERE id = $1 AND NOT is_deleted`,
		id, roleID, now)
	if pgCode(err) == foreignKeyViolation {
		return fmt.Errorf("role %s: %w", roleID, repository.ErrNotFound)
	}
	return err
}

func (r *UserRepository) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	return r.update(ctx, `UPDATE users SET is_active = $2, updated_at = $3 WHERE id = $1 AND NOT is_deleted`,
		id, active, now)
}

func (r *UserRepository) SoftDelete(ctx context.Context, id string, now time.Time) error {
	const query = `
		UPDATE users SET is_deleted = TRUE, is_active = FALSE, deleted_at = $2, updated_at = $2
		WHERE id = $1 AND NOT is_deleted
	`
	return r.update(ctx, query, id, now)
}

func (r *UserRepository) update(ctx context.Context, query string, args ...any) error {
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.RoleID,
		&user.EmailVerified,
		&user.FailedAttempts,
		&user.LockedUntil,
		&user.IsActive,
		&user.IsDeleted,
		&user.DeletedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return models.User{}, notFound(err)
	}
	return user, nil
}
