package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/ids"
	"warden/internal/models"
	"warden/internal/repository"
	"warden/internal/repository/sqlite/sqlitetest"
)

var epoch = time.Date(2024, 6, 1, 8, 30, 0, 123456789, time.UTC)

func seedRole(t *testing.T, store repository.Set, name string, mutate func(*models.Role)) models.Role {
	t.Helper()
	role := models.Role{
		ID:          ids.New(),
		Name:        name,
		Permissions: models.Permissions{models.PermissionProfileRead},
		IsActive:    true,
		CreatedAt:   epoch,
		UpdatedAt:   epoch,
	}
	if mutate != nil {
		mutate(&role)
	}
	require.NoError(t, store.Roles.Create(context.Background(), role))
	return role
}

func seedUser(t *testing.T, store repository.Set, email, roleID string) models.User {
	t.Helper()
	user := models.User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: "$argon2id$stub",
		RoleID:       roleID,
		IsActive:     true,
		CreatedAt:    epoch,
		UpdatedAt:    epoch,
	}
	require.NoError(t, store.Users.Create(context.Background(), user))
	return user
}

func seedToken(t *testing.T, store repository.Set, ownerID string, kind models.TokenKind, ttl time.Duration) models.Token {
	t.Helper()
	token := models.Token{
		ID:        ids.New(),
		OwnerID:   ownerID,
		Kind:      kind,
		ValueHash: ids.New(),
		IssuedAt:  epoch,
		ExpiresAt: epoch.Add(ttl),
	}
	require.NoError(t, store.Tokens.Create(context.Background(), token))
	return token
}

func TestUserRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := sqlitetest.Store(t)
	role := seedRole(t, store, "user", nil)
	user := seedUser(t, store, "a@x.com", role.ID)

	got, err := store.Users.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, role.ID, got.RoleID)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.LockedUntil)
	assert.True(t, got.CreatedAt.Equal(epoch))

	_, err = store.Users.GetByID(ctx, "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUserEmailUniqueAmongLiveUsers(t *testing.T) {
	ctx := context.Background()
	store := sqlitetest.Store(t)
	role := seedRole(t, store, "user", nil)
	first := seedUser(t, store, "dup@x.com", role.ID)

	err := store.Users.Create(ctx, models.User{ID: ids.New(), Email: "dup@x.com", PasswordHash: "h", RoleID: role.ID, CreatedAt: epoch})
	require.ErrorIs(t, err, repository.ErrConflict)

	require.NoError(t, store.Users.SoftDelete(ctx, first.ID, epoch))
	_, err = store.Users.FindByEmail(ctx, "dup@x.com")
	require.ErrorIs(t, err, repository.ErrNotFound)

	seedUser(t, store, "dup@x.com", role.ID)

	deleted, err := store.Users.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.False(t, deleted.IsActive)
	require.NotNil(t, deleted.DeletedAt)
}

func TestCreateUserWithUnknownRole(t *testing.T) {
	store := sqlitetest.Store(t)

	err := store.Users.Create(context.Background(), models.User{ID: ids.New(), Email: "x@x.com", PasswordHash: "h", RoleID: "nope", CreatedAt: epoch})
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRecordFailedLoginLocksAtThreshold(t *testing.T) {
	ctx := context.Background()
	store := sqlitetest.Store(t)
	user := seedUser(t, store, "lock@x.com", seedRole(t, store, "user", nil).ID)

	var state models.LoginState
	var err error
	for i := 1; i <= 4; i++ {
		state, err = store.Users.RecordFailedLogin(ctx, user.ID, 5, 2*time.Hour, epoch)
		require.NoError(t, err)
		assert.Equal(t, i, state.FailedAttempts)
		assert.Nil(t, state.LockedUntil)
	}

	state, err = store.Users.RecordFailedLogin(ctx, user.ID, 5, 2*time.Hour, epoch)
	require.NoError(t, err)
	assert.Equal(t, 5, state.FailedAttempts)
	require.NotNil(t, state.LockedUntil)
	assert.True(t, state.LockedUntil.Equal(epoch.Add(2*time.Hour)))

	// A failure while locked keeps the existing deadline.
	state, err = store.Users.RecordFailedLogin(ctx, user.ID, 5, 2*time.Hour, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, state.LockedUntil.Equal(epoch.Add(2*time.Hour)))

	// After the lock elapses the count restarts.
	state, err = store.Users.RecordFailedLogin(ctx, user.ID, 5, 2*time.Hour, epoch.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, state.FailedAttempts)
	assert.Nil(t, state.LockedUntil)

	require.NoError(t, store.Users.ResetLoginState(ctx, user.ID, epoch))
	got, err := store.Users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FailedAttempts)
	assert.Nil(t, got.LockedUntil)
}

func TestConcurrentFailedLoginsNeverLoseIncrements(t *testing.T) {
	ctx := context.Background()
	store := sqlitetest.Store(t)
	user := seedUser(t, store, "race@x.com", seedRole(t, store, "user", nil).ID)

	const attempts = 20
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Users.RecordFailedLogin(ctx, user.ID, 100, time.Hour, epoch)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, attempts, got.FailedAttempts)
}

func TestSetDefaultIsExclusive(t *testing.T) {
	ctx := context.Background()
	store := sqlitetest.Store(t)
	a := seedRole(t, store, "a", func(r *models.Role) { r.IsDefault = true })
	b := seedRole(t, store, "b", nil)

	require.NoError(t, store.Roles.SetDefault(ctx, b.ID, epoch))

	def, err := store.Roles.GetDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, def.ID)

	gotA, err := store.Roles.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, gotA.IsDefault)

	// A second default cannot be inserted behind SetDefault's back.
	err = store.Roles.Create(ctx, models.Role{ID: ids.New(), Name: "c", IsDefault: true, IsActive: true, CreatedAt: epoch})
	require.ErrorIs(t, err, repository.ErrConflict)
}

func TestSetDefaultRejectsInactiveRole(t *testing.T) {
	ctx := context.Background()
	store := sqlitetest.Store(t)
	inactive := seedRole(t, store, "dormant", func(r *models.Role) { r.IsActive = false })

	require.ErrorIs(t, store.Roles.SetDefault(ctx, inactive.ID, epoch), repository.ErrRoleInactive)
	require.ErrorIs(t, store.Roles.SetDefault(ctx, "missing", epoch), repository.ErrNotFound)
}

func TestUpdateRoleAppliesOnlyGivenFields(t *testing.T) {
	ctx := context.Background()
	store := sqlitetest.Store(t)
	role := seedRole(t, store, "editor", func(r *models.Role) {
		r.Description = "edits"
		r.IsDefault = true
	})

	description := "edits things"
	updated, err := store.Roles.Update(ctx, role.ID, models.RoleUpdate{Description: &description}, epoch)
	require.NoError(t, err)
	assert.Equal(t, "editor", updated.Name)
	assert.Equal(t, "edits things", updated.Description)
	assert.Equal(t, role.Permissions, updated.Permissions)
	assert.True(t, updated.IsDefault)

	permissions := []string{"a:b", "c:d"}
	inactive := false
	updated, err = store.Roles.Update(ctx, role.ID, models.RoleUpdate{Permissions: &permissions, IsActive: &inactive}, epoch)
	require.NoError(t, err)
	assert.Equal(t, models.Permissions{"a:b", "c:d"}, updated.Permissions)
	assert.False(t, updated.IsActive)
	assert.False(t, updated.IsDefault, "deactivating clears the default flag")

	taken := seedRole(t, store, "taken", nil).Name
	_, err = store.Roles.Update(ctx, role.ID, models.RoleUpdate{Name: &taken}, epoch)
	require.ErrorIs(t, err, repository.ErrConflict)

	_, err = store.Roles.Update(ctx, "missing", models.RoleUpdate{Description: &description}, epoch)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeleteRole(t *testing.T) {
	ctx := context.Background()
	store := sqlitetest.Store(t)
	system := seedRole(t, store, "admin", func(r *models.Role) { r.IsSystem = true })
	used := seedRole(t, store, "used", nil)
	unused := seedRole(t, store, "unused", nil)
	user := seedUser(t, store, "u@x.com", used.ID)

	require.ErrorIs(t, store.Roles.Delete(ctx, system.ID), repository.ErrSystemRole)
	require.ErrorIs(t, store.Roles.Delete(ctx, used.ID), repository.ErrRoleInUse)
	require.ErrorIs(t, store.Roles.Delete(ctx, "missing"), repository.ErrNotFound)
	require.NoError(t, store.Roles.Delete(ctx, unused.ID))

	require.NoError(t, store.Users.AssignRole(ctx, user.ID, system.ID, epoch))
	require.NoError(t, store.Roles.Delete(ctx, used.ID))

	require.ErrorIs(t, store.Users.AssignRole(ctx, user.ID, "missing", epoch), repository.ErrNotFound)
}

func TestTokenValidity(t *testing.T) {
	ctx := context.Background()
	store := sqlitetest.Store(t)
	user := seedUser(t, store, "t@x.com", seedRole(t, store, "user", nil).ID)
	token := seedToken(t, store, user.ID, models.TokenKindRefresh, time.Hour)

	found, err := store.Tokens.FindValid(ctx, token.ValueHash, models.TokenKindRefresh, epoch)
	require.NoError(t, err)
	assert.Equal(t, token.ID, found.ID)

	_, err = store.Tokens.FindValid(ctx, token.ValueHash, models.TokenKindPasswordReset, epoch)
	require.ErrorIs(t, err, repository.ErrNotFound)

	_, err = store.Tokens.FindValid(ctx, token.ValueHash, models.TokenKindRefresh, epoch.Add(time.Hour))
	require.ErrorIs(t, err, repository.ErrNotFound, "valid only while now < expiresAt")

	touched, err := store.Tokens.Touch(ctx, token.ValueHash, models.TokenKindRefresh, epoch.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, touched.LastUsedAt)
	assert.False(t, touched.Revoked)

	require.NoError(t, store.Tokens.Revoke(ctx, token.ValueHash))
	require.NoError(t, store.Tokens.Revoke(ctx, token.ValueHash))
	require.NoError(t, store.Tokens.Revoke(ctx, "unknown"))

	_, err = store.Tokens.Touch(ctx, token.ValueHash, models.TokenKindRefresh, epoch)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestConsumeExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := sqlitetest.Store(t)
	user := seedUser(t, store, "c@x.com", seedRole(t, store, "user", nil).ID)
	token := seedToken(t, store, user.ID, models.TokenKindPasswordReset, time.Hour)

	const callers = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		misses    atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Tokens.Consume(ctx, token.ValueHash, models.TokenKindPasswordReset, epoch)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, repository.ErrNotFound):
				misses.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes.Load())
	assert.EqualValues(t, callers-1, misses.Load())
}

func TestRevokeAllForOwnerAndPurge(t *testing.T) {
	ctx := context.Background()
	store := sqlitetest.Store(t)
	role := seedRole(t, store, "user", nil)
	owner := seedUser(t, store, "o@x.com", role.ID)
	other := seedUser(t, store, "p@x.com", role.ID)

	r1 := seedToken(t, store, owner.ID, models.TokenKindRefresh, time.Hour)
	r2 := seedToken(t, store, owner.ID, models.TokenKindRefresh, time.Hour)
	reset := seedToken(t, store, owner.ID, models.TokenKindPasswordReset, time.Hour)
	foreign := seedToken(t, store, other.ID, models.TokenKindRefresh, time.Hour)
	seedToken(t, store, other.ID, models.TokenKindEmailVerification, time.Minute)

	n, err := store.Tokens.RevokeAllForOwner(ctx, owner.ID, models.TokenKindRefresh)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for _, hash := range []string{r1.ValueHash, r2.ValueHash} {
		_, err := store.Tokens.FindValid(ctx, hash, models.TokenKindRefresh, epoch)
		require.ErrorIs(t, err, repository.ErrNotFound)
	}
	_, err = store.Tokens.FindValid(ctx, reset.ValueHash, models.TokenKindPasswordReset, epoch)
	require.NoError(t, err)
	_, err = store.Tokens.FindValid(ctx, foreign.ValueHash, models.TokenKindRefresh, epoch)
	require.NoError(t, err)

	n, err = store.Tokens.RevokeAllForOwner(ctx, owner.ID, "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// Revoked: r1, r2, reset. Expired: the verification token.
	purged, err := store.Tokens.PurgeExpired(ctx, epoch.Add(2*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 4, purged)

	purged, err = store.Tokens.PurgeExpired(ctx, epoch.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, purged)
}
