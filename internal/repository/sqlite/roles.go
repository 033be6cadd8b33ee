package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"warden/internal/models"
	"warden/internal/repository"
)

const roleColumns = `id, name, description, permissions, is_system, is_default, is_active, created_at, updated_at`

type RoleRepository struct {
	db *sql.DB
}

func NewRoleRepository(db *sql.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

func (r *RoleRepository) Create(ctx context.Context, role models.Role) error {
	const query = `
		INSERT INTO roles (` + roleColumns + `)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?8)
	`

	permissions, err := encodePermissions(role.Permissions)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query,
		role.ID,
		role.Name,
		role.Description,
		permissions,
		role.IsSystem,
		role.IsDefault,
		role.IsActive,
		formatTime(role.CreatedAt),
	)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	return err
}

func (r *RoleRepository) GetByID(ctx context.Context, id string) (models.Role, error) {
	return scanRole(r.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = ?1`, id))
}

func (r *RoleRepository) GetByName(ctx context.Context, name string) (models.Role, error) {
	return scanRole(r.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = ?1`, name))
}

func (r *RoleRepository) GetDefault(ctx context.Context) (models.Role, error) {
	return scanRole(r.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE is_default = 1 AND is_active = 1`))
}

func (r *RoleRepository) Update(ctx context.Context, id string, update models.RoleUpdate, now time.Time) (models.Role, error) {
	const query = `
		UPDATE roles SET
			name        = COALESCE(?2, name),
			description = COALESCE(?3, description),
			permissions = COALESCE(?4, permissions),
			is_active   = COALESCE(?5, is_active),
			is_default  = CASE WHEN ?5 = 0 THEN 0 ELSE is_default END,
			updated_at  = ?6
		WHERE id = ?1
		RETURNING ` + roleColumns

	var permissions any
	if update.Permissions != nil {
		encoded, err := encodePermissions(*update.Permissions)
		if err != nil {
			return models.Role{}, err
		}
		permissions = encoded
	}

	row := r.db.QueryRowContext(ctx, query,
		id,
		nullable(update.Name),
		nullable(update.Description),
		permissions,
		nullable(update.IsActive),
		formatTime(now),
	)
	role, err := scanRole(row)
	if isUniqueViolation(err) {
		return models.Role{}, repository.ErrConflict
	}
	return role, err
}

func (r *RoleRepository) SetDefault(ctx context.Context, id string, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var active bool
	if err := tx.QueryRowContext(ctx, `SELECT is_active FROM roles WHERE id = ?1`, id).Scan(&active); err != nil {
		return notFound(err)
	}
	if !active {
		return repository.ErrRoleInactive
	}

	stamp := formatTime(now)
	if _, err := tx.ExecContext(ctx,
		`UPDATE roles SET is_default = 0, updated_at = ?2 WHERE is_default = 1 AND id <> ?1`, id, stamp); err != nil {
		return fmt.Errorf("clear default: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE roles SET is_default = 1, updated_at = ?2 WHERE id = ?1`, id, stamp); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("set default: %w", err)
	}

	return tx.Commit()
}

func (r *RoleRepository) Delete(ctx context.Context, id string) error {
	const query = `
		DELETE FROM roles
		WHERE id = ?1
		  AND is_system = 0
		  AND NOT EXISTS (SELECT 1 FROM users WHERE role_id = ?1)
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return repository.ErrRoleInUse
		}
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	role, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return repository.ErrSystemRole
	}
	return repository.ErrRoleInUse
}

func encodePermissions(permissions []string) (string, error) {
	if permissions == nil {
		permissions = []string{}
	}
	encoded, err := json.Marshal(permissions)
	if err != nil {
		return "", fmt.Errorf("encode permissions: %w", err)
	}
	return string(encoded), nil
}

func scanRole(row scanner) (models.Role, error) {
	var (
		role                 models.Role
		permissions          string
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&permissions,
		&role.IsSystem,
		&role.IsDefault,
		&role.IsActive,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Role{}, repository.ErrNotFound
		}
		return models.Role{}, err
	}

	if err := json.Unmarshal([]byte(permissions), &role.Permissions); err != nil {
		return models.Role{}, fmt.Errorf("decode permissions: %w", err)
	}

	var err error
	if role.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.Role{}, err
	}
	if role.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return models.Role{}, err
	}
	return role, nil
}
