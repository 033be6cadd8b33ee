package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"warden/internal/ids"
	"warden/internal/models"
	"warden/internal/repository"
	"warden/internal/security"
)

// SystemRoles are created by Seed and can never be renamed, re-permissioned
// or deleted.
var SystemRoles = []RoleInput{
	{
		Name:        "admin",
		Description: "Full administrative access",
		Permissions: []string{models.PermissionAdminAll, models.PermissionWildcard},
	},
	{
		Name:        "user",
		Description: "Default role for registered accounts",
		Permissions: []string{models.PermissionAuthLogin, models.PermissionProfileRead, models.PermissionProfileUpdate},
		Default:     true,
	},
}

type RoleInput struct {
	Name        string
	Description string
	Permissions []string
	Default     bool
}

type RoleService struct {
	roles repository.RoleStore
	now   Clock
	log   zerolog.Logger
}

func NewRoleService(roles repository.RoleStore, now Clock, log zerolog.Logger) *RoleService {
	if now == nil {
		now = time.Now
	}
	return &RoleService{roles: roles, now: now, log: log}
}

// Create adds a non-system role. A default role is created plain and then
// promoted, so the exclusive-default rule is applied in one place.
func (s *RoleService) Create(ctx context.Context, input RoleInput) (models.Role, error) {
	return s.create(ctx, input, false)
}

func (s *RoleService) create(ctx context.Context, input RoleInput, system bool) (models.Role, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return models.Role{}, fmt.Errorf("%w: role name required", ErrInvalidInput)
	}

	now := s.now()
	role := models.Role{
		ID:          ids.New(),
		Name:        name,
		Description: input.Description,
		Permissions: normalizePermissions(input.Permissions),
		IsSystem:    system,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.roles.Create(ctx, role); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return models.Role{}, fmt.Errorf("%w: role %q already exists", ErrInvalidInput, name)
		}
		return models.Role{}, fmt.Errorf("create role: %w", err)
	}

	if input.Default {
		if err := s.SetDefault(ctx, role.ID); err != nil {
			return models.Role{}, err
		}
		role.IsDefault = true
	}
	return role, nil
}

// Seed makes sure every system role exists. Existing roles are left alone.
func (s *RoleService) Seed(ctx context.Context) error {
	for _, input := range SystemRoles {
		_, err := s.roles.GetByName(ctx, input.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("seed %s: %w", input.Name, err)
		}

		if input.Default {
			// Never steal the default from an operator-chosen role.
			if _, err := s.roles.GetDefault(ctx); err == nil {
				input.Default = false
			}
		}

		role, err := s.create(ctx, input, true)
		if err != nil {
			// Another instance seeded the same role first.
			if _, getErr := s.roles.GetByName(ctx, input.Name); getErr == nil {
				continue
			}
			return fmt.Errorf("seed %s: %w", input.Name, err)
		}
		s.log.Info().Str("role", role.Name).Str("role_id", role.ID).Msg("system role seeded")
	}
	return nil
}

func (s *RoleService) Get(ctx context.Context, id string) (models.Role, error) {
	role, err := s.roles.GetByID(ctx, id)
	if err != nil {
		return models.Role{}, mapStoreError(err)
	}
	return role, nil
}

func (s *RoleService) GetByName(ctx context.Context, name string) (models.Role, error) {
	role, err := s.roles.GetByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return models.Role{}, mapStoreError(err)
	}
	return role, nil
}

// SetDefault makes id the only default role.
func (s *RoleService) SetDefault(ctx context.Context, id string) error {
	if err := s.roles.SetDefault(ctx, id, s.now()); err != nil {
		return mapStoreError(err)
	}
	s.log.Info().Str("role_id", id).Msg("default role changed")
	return nil
}

// Mutate applies an update. System roles accept description and active flag
// changes only; restating the current name or permissions is not a change.
func (s *RoleService) Mutate(ctx context.Context, id string, update models.RoleUpdate) (models.Role, error) {
	role, err := s.roles.GetByID(ctx, id)
	if err != nil {
		return models.Role{}, mapStoreError(err)
	}
	if role.IsSystem && update.TouchesIdentity(role) {
		return models.Role{}, ErrImmutableRole
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return models.Role{}, fmt.Errorf("%w: role name required", ErrInvalidInput)
		}
		update.Name = &name
	}
	if update.Permissions != nil {
		permissions := []string(normalizePermissions(*update.Permissions))
		update.Permissions = &permissions
	}

	updated, err := s.roles.Update(ctx, id, update, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return models.Role{}, fmt.Errorf("%w: role name already taken", ErrInvalidInput)
		}
		return models.Role{}, mapStoreError(err)
	}
	return updated, nil
}

func (s *RoleService) Delete(ctx context.Context, id string) error {
	if err := s.roles.Delete(ctx, id); err != nil {
		return mapStoreError(err)
	}
	s.log.Info().Str("role_id", id).Msg("role deleted")
	return nil
}

// Authorize succeeds when the claims grant every listed permission.
func Authorize(claims *security.Claims, permissions ...string) error {
	if claims == nil {
		return ErrPermissionDenied
	}
	if !models.Permissions(claims.Permissions).HasAll(permissions...) {
		return ErrPermissionDenied
	}
	return nil
}

func normalizePermissions(permissions []string) models.Permissions {
	seen := make(map[string]struct{}, len(permissions))
	out := make(models.Permissions, 0, len(permissions))
	for _, p := range permissions {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrSystemRole):
		return ErrImmutableRole
	case errors.Is(err, repository.ErrRoleInUse):
		return ErrRoleInUse
	case errors.Is(err, repository.ErrRoleInactive):
		return ErrRoleInactive
	case errors.Is(err, repository.ErrConflict):
		return ErrConflict
	}
	return err
}
