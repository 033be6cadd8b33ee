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

const roleColumns = `id, name, description, permissions, is_system, is_default, is_active, created_at, updated_at`

type RoleRepository struct {
	pool *pgxpool.Pool
}

func NewRoleRepository(pool *pgxpool.Pool) *RoleRepository {
	return &RoleRepository{pool: pool}
}

func (r *RoleRepository) Create(ctx context.Context, role models.Role) error {
	const query = `
		INSERT INTO roles (` + roleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		role.ID,
		role.Name,
		role.Description,
		permissionsArg(role.Permissions),
		role.IsSystem,
		role.IsDefault,
		role.IsActive,
		role.CreatedAt,
	)
	if pgCode(err) == uniqueViolation {
		return repository.ErrConflict
	}
	return err
}

func (r *RoleRepository) GetByID(ctx context.Context, id string) (models.Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

func (r *RoleRepository) GetByName(ctx context.Context, name string) (models.Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name))
}

func (r *RoleRepository) GetDefault(ctx context.Context) (models.Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE is_default AND is_active`))
}

func (r *RoleRepository) Update(ctx context.Context, id string, update models.RoleUpdate, now time.Time) (models.Role, error) {
	const query = `
		UPDATE roles SET
			name        = COALESCE($2::text, name),
			description = COALESCE($3::text, description),
			permissions = COALESCE($4::text[], permissions),
			is_active   = COALESCE($5::boolean, is_active),
			is_default  = CASE WHEN $5::boolean = FALSE THEN FALSE ELSE is_default END,
			updated_at  = $6
		WHERE id = $1
		RETURNING ` + roleColumns

	var permissions any
	if update.Permissions != nil {
		permissions = permissionsArg(*update.Permissions)
	}

	role, err := scanRole(r.pool.QueryRow(ctx, query,
		id,
		update.Name,
		update.Description,
		permissions,
		update.IsActive,
		now,
	))
	if pgCode(err) == uniqueViolation {
		return models.Role{}, repository.ErrConflict
	}
	return role, err
}

func (r *RoleRepository) SetDefault(ctx context.Context, id string, now time.Time) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var active bool
	if err := tx.QueryRow(ctx, `SELECT is_active FROM roles WHERE id = $1 FOR UPDATE`, id).Scan(&active); err != nil {
		return notFound(err)
	}
	if !active {
		return repository.ErrRoleInactive
	}

	if _, err := tx.Exec(ctx,
		`UPDATE roles SET is_default = FALSE, updated_at = $2 WHERE is_default AND id <> $1`, id, now); err != nil {
		return fmt.Errorf("clear default: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE roles SET is_default = TRUE, updated_at = $2 WHERE id = $1`, id, now); err != nil {
		// A concurrent SetDefault committed first; the unique index kept the
		// invariant and this caller loses.
		if pgCode(err) == uniqueViolation {
			return repository.ErrConflict
		}
		return fmt.Errorf("set default: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *RoleRepository) Delete(ctx context.Context, id string) error {
	const query = `
		DELETE FROM roles
		WHERE id = $1
		  AND NOT is_system
		  AND NOT EXISTS (SELECT 1 FROM users WHERE role_id = $1)
	`

	cmd, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		if pgCode(err) == foreignKeyViolation {
			return repository.ErrRoleInUse
		}
		return err
	}
	if cmd.RowsAffected() > 0 {
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

func permissionsArg(permissions []string) []string {
	if permissions == nil {
		return []string{}
	}
	return permissions
}

func scanRole(row pgx.Row) (models.Role, error) {
	var (
		role        models.Role
		permissions []string
	)
	if err := row.Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&permissions,
		&role.IsSystem,
		&role.IsDefault,
		&role.IsActive,
		&role.CreatedAt,
		&role.UpdatedAt,
	); err != nil {
		return models.Role{}, notFound(err)
	}
	role.Permissions = permissions
	return role, nil
}
