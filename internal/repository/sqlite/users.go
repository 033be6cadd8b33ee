package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"warden/internal/models"
	"warden/internal/repository"
)

const userColumns = `id, email, password_hash, role_id, email_verified, failed_attempts, locked_until,
	is_active, is_deleted, deleted_at, created_at, updated_at`

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user models.User) error {
	const query = `
		INSERT INTO users (
			id, email, password_hash, role_id, email_verified, failed_attempts,
			is_active, is_deleted, created_at, updated_at
		) VALUES (?1, ?2, ?3, ?4, ?5, 0, ?6, 0, ?7, ?7)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.RoleID,
		user.EmailVerified,
		user.IsActive,
		formatTime(user.CreatedAt),
	)
	switch {
	case isUniqueViolation(err):
		return repository.ErrConflict
	case isForeignKeyViolation(err):
		return fmt.Errorf("role %s: %w", user.RoleID, repository.ErrNotFound)
	}
	return err
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?1`, id)
	return scanUser(row)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?1 AND is_deleted = 0`, email)
	return scanUser(row)
}

func (r *UserRepository) RecordFailedLogin(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (models.LoginState, error) {
	// Every expression reads the pre-update row.
	const query = `
		UPDATE users SET
			failed_attempts = CASE
				WHEN locked_until IS NOT NULL AND locked_until <= ?3 THEN 1
				ELSE failed_attempts + 1
			END,
			locked_until = CASE
				WHEN locked_until IS NOT NULL AND locked_until > ?3 THEN locked_until
				WHEN (CASE WHEN locked_until IS NOT NULL THEN 1 ELSE failed_attempts + 1 END) >= ?2 THEN ?4
				ELSE NULL
			END,
			updated_at = ?3
		WHERE id = ?1 AND is_deleted = 0
		RETURNING failed_attempts, locked_until
	`

	var (
		state       models.LoginState
		lockedUntil sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, id, threshold, formatTime(now), formatTime(now.Add(lockFor))).
		Scan(&state.FailedAttempts, &lockedUntil)
	if err != nil {
		return models.LoginState{}, notFound(err)
	}

	if state.LockedUntil, err = parseNullTime(lockedUntil); err != nil {
		return models.LoginState{}, err
	}
	return state, nil
}

func (r *UserRepository) ResetLoginState(ctx context.Context, id string, now time.Time) error {
	const query = `
		UPDATE users SET failed_attempts = 0, locked_until = NULL, updated_at = ?2
		WHERE id = ?1 AND (failed_attempts <> 0 OR locked_until IS NOT NULL)
	`
	_, err := r.db.ExecContext(ctx, query, id, formatTime(now))
	return err
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, now time.Time) error {
	return r.update(ctx, `UPDATE users SET password_hash = ?2, updated_at = ?3 WHERE id = ?1 AND is_deleted = 0`,
		id, passwordHash, formatTime(now))
}

func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string, now time.Time) error {
	return r.update(ctx, `UPDATE users SET email_verified = 1, updated_at = ?2 WHERE id = ?1 AND is_deleted = 0`,
		id, formatTime(now))
}

func (r *UserRepository) AssignRole(ctx context.Context, id, roleID string, now time.Time) error {
	err := r.update(ctx, `UPDATE users SET role_id = ?2, updated_at = ?3 WHERE id = ?1 AND is_deleted = 0`,
		id, roleID, formatTime(now))
	if isForeignKeyViolation(err) {
		return fmt.Errorf("role %s: %w", roleID, repository.ErrNotFound)
	}
	return err
}

func (r *UserRepository) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	return r.update(ctx, `UPDATE users SET is_active = ?2, updated_at = ?3 WHERE id = ?1 AND is_deleted = 0`,
		id, active, formatTime(now))
}

func (r *UserRepository) SoftDelete(ctx context.Context, id string, now time.Time) error {
	const query = `
		UPDATE users SET is_deleted = 1, is_active = 0, deleted_at = ?2, updated_at = ?2
		WHERE id = ?1 AND is_deleted = 0
	`
	return r.update(ctx, query, id, formatTime(now))
}

func (r *UserRepository) update(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanUser(row scanner) (models.User, error) {
	var (
		user                   models.User
		lockedUntil, deletedAt sql.NullString
		createdAt, updatedAt   string
	)
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.RoleID,
		&user.EmailVerified,
		&user.FailedAttempts,
		&lockedUntil,
		&user.IsActive,
		&user.IsDeleted,
		&deletedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return models.User{}, notFound(err)
	}

	var err error
	if user.LockedUntil, err = parseNullTime(lockedUntil); err != nil {
		return models.User{}, err
	}
	if user.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return models.User{}, err
	}
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.User{}, err
	}
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return models.User{}, err
	}
	return user, nil
}
