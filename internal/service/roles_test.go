package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/models"
	"warden/internal/repository"
	"warden/internal/repository/sqlite/sqlitetest"
	"warden/internal/service"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestSeedIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	admin, err := h.store.Roles.GetByName(ctx, "admin")
	require.NoError(t, err)

	require.NoError(t, h.svc.Roles.Seed(ctx))

	again, err := h.store.Roles.GetByName(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, again.ID)
	assert.True(t, again.IsSystem)
	assert.Contains(t, again.Permissions, models.PermissionAdminAll)

	def, err := h.store.Roles.GetDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user", def.Name)
}

func TestSeedKeepsOperatorDefault(t *testing.T) {
	ctx := context.Background()
	store := sqlitetest.Store(t)
	roles := service.NewRoleService(store.Roles, nil, zerolog.Nop())

	member, err := roles.Create(ctx, service.RoleInput{Name: "member", Permissions: []string{"auth:login"}, Default: true})
	require.NoError(t, err)
	require.NoError(t, roles.Seed(ctx))

	def, err := store.Roles.GetDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, member.ID, def.ID)

	user, err := store.Roles.GetByName(ctx, "user")
	require.NoError(t, err)
	assert.False(t, user.IsDefault)
	assert.True(t, user.IsSystem)
}

// staleRoles hides existing roles from the first lookup by name, like a
// replica that checked before another one finished seeding.
type staleRoles struct {
	repository.RoleStore
	mu   sync.Mutex
	seen map[string]bool
}

func (s *staleRoles) GetByName(ctx context.Context, name string) (models.Role, error) {
	s.mu.Lock()
	first := !s.seen[name]
	s.seen[name] = true
	s.mu.Unlock()
	if first {
		return models.Role{}, repository.ErrNotFound
	}
	return s.RoleStore.GetByName(ctx, name)
}

func TestSeedToleratesConcurrentSeeder(t *testing.T) {
	ctx := context.Background()
	store := sqlitetest.Store(t)
	require.NoError(t, service.NewRoleService(store.Roles, nil, zerolog.Nop()).Seed(ctx))

	late := service.NewRoleService(&staleRoles{RoleStore: store.Roles, seen: map[string]bool{}}, nil, zerolog.Nop())
	require.NoError(t, late.Seed(ctx))

	def, err := store.Roles.GetDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user", def.Name)
}

func TestSystemRolesAreImmutable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	adminID := h.roleID(t, "admin")

	_, err := h.svc.Roles.Mutate(ctx, adminID, models.RoleUpdate{Name: strPtr("root")})
	assert.ErrorIs(t, err, service.ErrImmutableRole)

	perms := []string{"profile:read"}
	_, err = h.svc.Roles.Mutate(ctx, adminID, models.RoleUpdate{Permissions: &perms})
	assert.ErrorIs(t, err, service.ErrImmutableRole)

	assert.ErrorIs(t, h.svc.Roles.Delete(ctx, adminID), service.ErrImmutableRole)

	// Restating current values is not a change.
	same := []string{models.PermissionWildcard, models.PermissionAdminAll}
	_, err = h.svc.Roles.Mutate(ctx, adminID, models.RoleUpdate{Name: strPtr("admin"), Permissions: &same})
	assert.NoError(t, err)

	updated, err := h.svc.Roles.Mutate(ctx, adminID, models.RoleUpdate{
		Description: strPtr("break glass only"),
		IsActive:    boolPtr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, "break glass only", updated.Description)
	assert.False(t, updated.IsActive)
	assert.Equal(t, "admin", updated.Name)

	updated, err = h.svc.Roles.Mutate(ctx, adminID, models.RoleUpdate{IsActive: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, updated.IsActive)
}

func TestMutateCustomRole(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	role, err := h.svc.Roles.Create(ctx, service.RoleInput{Name: " editor ", Permissions: []string{"posts:write", "posts:write", " "}})
	require.NoError(t, err)
	assert.Equal(t, "editor", role.Name)
	assert.Equal(t, models.Permissions{"posts:write"}, role.Permissions)

	perms := []string{"posts:write", "posts:publish"}
	updated, err := h.svc.Roles.Mutate(ctx, role.ID, models.RoleUpdate{Name: strPtr("publisher"), Permissions: &perms})
	require.NoError(t, err)
	assert.Equal(t, "publisher", updated.Name)
	assert.ElementsMatch(t, perms, []string(updated.Permissions))

	_, err = h.svc.Roles.Mutate(ctx, role.ID, models.RoleUpdate{Name: strPtr("admin")})
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = h.svc.Roles.Mutate(ctx, role.ID, models.RoleUpdate{Name: strPtr("  ")})
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = h.svc.Roles.Mutate(ctx, "missing", models.RoleUpdate{Description: strPtr("x")})
	assert.ErrorIs(t, err, service.ErrNotFound)

	_, err = h.svc.Roles.Create(ctx, service.RoleInput{Name: "publisher"})
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestDefaultRoleIsExclusive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	editor, err := h.svc.Roles.Create(ctx, service.RoleInput{Name: "editor", Default: true})
	require.NoError(t, err)
	assert.True(t, editor.IsDefault)

	user, err := h.svc.Roles.Get(ctx, h.roleID(t, "user"))
	require.NoError(t, err)
	assert.False(t, user.IsDefault)

	alice, err := h.svc.Sessions.Register(ctx, "alice@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, editor.ID, alice.RoleID)

	require.NoError(t, h.svc.Roles.SetDefault(ctx, user.ID))
	editor, err = h.svc.Roles.Get(ctx, editor.ID)
	require.NoError(t, err)
	assert.False(t, editor.IsDefault)

	assert.ErrorIs(t, h.svc.Roles.SetDefault(ctx, "missing"), service.ErrNotFound)
}

func TestConcurrentSetDefaultLeavesOneDefault(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ids := []string{h.roleID(t, "user")}
	for i := 0; i < 4; i++ {
		role, err := h.svc.Roles.Create(ctx, service.RoleInput{Name: fmt.Sprintf("tier-%d", i)})
		require.NoError(t, err)
		ids = append(ids, role.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			err := h.svc.Roles.SetDefault(ctx, id)
			if err != nil {
				assert.ErrorIs(t, err, service.ErrConflict)
			}
		}(id)
	}
	wg.Wait()

	defaults := 0
	for _, id := range ids {
		role, err := h.svc.Roles.Get(ctx, id)
		require.NoError(t, err)
		if role.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestDeactivatingDefaultRoleBlocksRegistration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userRole := h.roleID(t, "user")

	updated, err := h.svc.Roles.Mutate(ctx, userRole, models.RoleUpdate{IsActive: boolPtr(false)})
	require.NoError(t, err)
	assert.False(t, updated.IsDefault)

	_, err = h.svc.Sessions.Register(ctx, "alice@example.com", "pw")
	assert.ErrorIs(t, err, service.ErrNoDefaultRole)

	assert.ErrorIs(t, h.svc.Roles.SetDefault(ctx, userRole), service.ErrRoleInactive)
}

func TestDeleteRole(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	editor, err := h.svc.Roles.Create(ctx, service.RoleInput{Name: "editor"})
	require.NoError(t, err)
	id := h.register(t, "alice@example.com", "pw")
	require.NoError(t, h.svc.Sessions.AssignRole(ctx, id, editor.ID))

	assert.ErrorIs(t, h.svc.Roles.Delete(ctx, editor.ID), service.ErrRoleInUse)

	require.NoError(t, h.svc.Sessions.AssignRole(ctx, id, h.roleID(t, "user")))
	require.NoError(t, h.svc.Roles.Delete(ctx, editor.ID))
	assert.ErrorIs(t, h.svc.Roles.Delete(ctx, editor.ID), service.ErrNotFound)
}

func TestAuthorize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice@example.com", "pw")

	session, err := h.svc.Sessions.Login(ctx, "alice@example.com", "pw")
	require.NoError(t, err)
	claims, err := h.svc.Sessions.Authenticate(session.AccessToken)
	require.NoError(t, err)

	assert.NoError(t, service.Authorize(claims, models.PermissionProfileRead))
	assert.NoError(t, service.Authorize(claims, models.PermissionProfileRead, models.PermissionProfileUpdate))
	assert.ErrorIs(t, service.Authorize(claims, models.PermissionProfileRead, models.PermissionRolesManage), service.ErrPermissionDenied)
	assert.ErrorIs(t, service.Authorize(nil, models.PermissionProfileRead), service.ErrPermissionDenied)
}
