package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"warden/internal/config"
	"warden/internal/ids"
	"warden/internal/models"
	"warden/internal/repository"
	"warden/internal/security"
)

// SessionManager runs login, refresh and logout on top of the hasher,
// lockout guard, role store, token issuer and token store.
type SessionManager struct {
	users   repository.UserStore
	roles   repository.RoleStore
	tokens  repository.TokenStore
	hasher  *security.PasswordHasher
	issuer  *security.TokenIssuer
	lockout *LockoutGuard
	cfg     config.SecurityConfig
	now     Clock
	log     zerolog.Logger
}

func NewSessionManager(deps Dependencies, lockout *LockoutGuard) *SessionManager {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &SessionManager{
		users:   deps.Store.Users,
		roles:   deps.Store.Roles,
		tokens:  deps.Store.Tokens,
		hasher:  deps.Hasher,
		issuer:  deps.Issuer,
		lockout: lockout,
		cfg:     deps.Security,
		now:     now,
		log:     deps.Log,
	}
}

type LoginResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             models.User
	Role             string
	Permissions      models.Permissions
}

type RefreshResult struct {
	AccessToken     string
	AccessExpiresAt time.Time
	Permissions     models.Permissions
}

// Register creates an active, unverified account on the default role.
func (m *SessionManager) Register(ctx context.Context, email, password string) (models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return models.User{}, err
	}
	if password == "" {
		return models.User{}, fmt.Errorf("%w: password required", ErrInvalidInput)
	}

	role, err := m.roles.GetDefault(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.User{}, ErrNoDefaultRole
		}
		return models.User{}, fmt.Errorf("default role: %w", err)
	}

	hash, err := m.hasher.Hash(password)
	if err != nil {
		return models.User{}, err
	}

	now := m.now()
	user := models.User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		RoleID:       role.ID,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.users.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return models.User{}, ErrEmailTaken
		case errors.Is(err, repository.ErrNotFound):
			// The default role was deleted between lookup and insert.
			return models.User{}, ErrNoDefaultRole
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}

	m.log.Info().Str("user_id", user.ID).Str("role_id", role.ID).Msg("user registered")
	return user, nil
}

// Login authenticates and opens a session. Unknown email and wrong password
// are indistinguishable to the caller. A locked account fails before the
// password is checked and without touching the counter.
func (m *SessionManager) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := m.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			m.hasher.VerifyDecoy(password)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("find user: %w", err)
	}

	if err := m.lockout.Check(user); err != nil {
		return LoginResult{}, err
	}

	ok, err := m.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		m.log.Error().Err(err).Str("user_id", user.ID).Msg("stored password hash unreadable")
		return LoginResult{}, err
	}
	if !ok {
		state, err := m.lockout.RecordFailure(ctx, user.ID)
		if err != nil {
			return LoginResult{}, err
		}
		if state.Locked(m.now()) {
			m.log.Warn().Str("user_id", user.ID).Time("locked_until", *state.LockedUntil).Msg("account locked")
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	if !user.IsActive {
		return LoginResult{}, ErrAccountInactive
	}

	if err := m.lockout.RecordSuccess(ctx, user.ID); err != nil {
		return LoginResult{}, err
	}

	role, err := m.roleOf(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}
	permissions := role.Effective()

	access, accessExp, err := m.issueAccess(user, role, permissions)
	if err != nil {
		return LoginResult{}, err
	}

	refresh, refreshExp, err := m.issuer.Issue(models.TokenKindRefresh, security.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.ID},
	}, m.cfg.JWTRefreshTTL)
	if err != nil {
		return LoginResult{}, err
	}

	record := models.Token{
		ID:        ids.New(),
		OwnerID:   user.ID,
		Kind:      models.TokenKindRefresh,
		ValueHash: security.HashToken(refresh),
		IssuedAt:  m.now(),
		ExpiresAt: refreshExp,
	}
	if err := m.tokens.Create(ctx, record); err != nil {
		return LoginResult{}, fmt.Errorf("persist refresh token: %w", err)
	}

	m.log.Info().Str("user_id", user.ID).Str("role", role.Name).Msg("login succeeded")

	return LoginResult{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		User:             user,
		Role:             role.Name,
		Permissions:      permissions,
	}, nil
}

// Refresh mints a new access token from a live refresh token. The refresh
// token itself is not rotated; it stays valid until it expires or is
// revoked. Role and permissions are re-read, so changes apply here.
func (m *SessionManager) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	claims, err := m.issuer.Verify(refreshToken, models.TokenKindRefresh)
	if err != nil {
		return RefreshResult{}, err
	}

	record, err := m.tokens.Touch(ctx, security.HashToken(refreshToken), models.TokenKindRefresh, m.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return RefreshResult{}, ErrTokenRevokedOrUnknown
		}
		return RefreshResult{}, fmt.Errorf("check refresh token: %w", err)
	}
	if record.OwnerID != claims.UserID() {
		return RefreshResult{}, ErrTokenRevokedOrUnknown
	}

	user, err := m.users.GetByID(ctx, record.OwnerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return RefreshResult{}, ErrTokenRevokedOrUnknown
		}
		return RefreshResult{}, fmt.Errorf("load user: %w", err)
	}
	if user.IsDeleted {
		return RefreshResult{}, ErrTokenRevokedOrUnknown
	}
	if !user.IsActive {
		return RefreshResult{}, ErrAccountInactive
	}

	role, err := m.roleOf(ctx, user)
	if err != nil {
		return RefreshResult{}, err
	}
	permissions := role.Effective()

	access, accessExp, err := m.issueAccess(user, role, permissions)
	if err != nil {
		return RefreshResult{}, err
	}

	return RefreshResult{
		AccessToken:     access,
		AccessExpiresAt: accessExp,
		Permissions:     permissions,
	}, nil
}

// Logout revokes one refresh token. Unknown, malformed and already revoked
// tokens are all treated as success.
func (m *SessionManager) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := m.tokens.Revoke(ctx, security.HashToken(refreshToken)); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// LogoutAll revokes every refresh token the user holds.
func (m *SessionManager) LogoutAll(ctx context.Context, userID string) (int64, error) {
	n, err := m.tokens.RevokeAllForOwner(ctx, userID, models.TokenKindRefresh)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	m.log.Info().Str("user_id", userID).Int64("revoked", n).Msg("all sessions revoked")
	return n, nil
}

// Authenticate verifies an access token. No store lookup is made.
func (m *SessionManager) Authenticate(accessToken string) (*security.Claims, error) {
	return m.issuer.Verify(accessToken, models.TokenKindAccess)
}

func (m *SessionManager) ChangePassword(ctx context.Context, userID, current, next string) error {
	if next == "" {
		return fmt.Errorf("%w: new password required", ErrInvalidInput)
	}

	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if user.IsDeleted {
		return ErrNotFound
	}

	// A wrong current password counts toward the same lockout as login.
	if err := m.lockout.Check(user); err != nil {
		return err
	}
	ok, err := m.hasher.Verify(current, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := m.lockout.RecordFailure(ctx, user.ID); err != nil {
			return err
		}
		return ErrInvalidCredentials
	}
	if err := m.lockout.RecordSuccess(ctx, user.ID); err != nil {
		return err
	}

	hash, err := m.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := m.users.UpdatePassword(ctx, userID, hash, m.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("update password: %w", err)
	}

	_, err = m.LogoutAll(ctx, userID)
	return err
}

// DeleteAccount soft-deletes the user and ends every session.
func (m *SessionManager) DeleteAccount(ctx context.Context, userID string) error {
	if err := m.users.SoftDelete(ctx, userID, m.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete account: %w", err)
	}
	if _, err := m.tokens.RevokeAllForOwner(ctx, userID, ""); err != nil {
		return fmt.Errorf("revoke tokens: %w", err)
	}
	m.log.Info().Str("user_id", userID).Msg("account deleted")
	return nil
}

// AssignRole moves a user to another role. Already issued access tokens keep
// their old permissions until they are refreshed.
func (m *SessionManager) AssignRole(ctx context.Context, userID, roleID string) error {
	role, err := m.roles.GetByID(ctx, roleID)
	if err != nil {
		return mapStoreError(err)
	}
	if !role.IsActive {
		return ErrRoleInactive
	}
	if err := m.users.AssignRole(ctx, userID, roleID, m.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("assign role: %w", err)
	}
	m.log.Info().Str("user_id", userID).Str("role_id", roleID).Msg("role assigned")
	return nil
}

// SetActive enables or disables an account. Disabling ends every session.
func (m *SessionManager) SetActive(ctx context.Context, userID string, active bool) error {
	if err := m.users.SetActive(ctx, userID, active, m.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("set active: %w", err)
	}
	if !active {
		if _, err := m.LogoutAll(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

func (m *SessionManager) Profile(ctx context.Context, userID string) (models.User, models.Role, error) {
	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.User{}, models.Role{}, ErrNotFound
		}
		return models.User{}, models.Role{}, err
	}
	if user.IsDeleted {
		return models.User{}, models.Role{}, ErrNotFound
	}
	role, err := m.roleOf(ctx, user)
	if err != nil {
		return models.User{}, models.Role{}, err
	}
	return user, role, nil
}

func (m *SessionManager) roleOf(ctx context.Context, user models.User) (models.Role, error) {
	role, err := m.roles.GetByID(ctx, user.RoleID)
	if err != nil {
		return models.Role{}, fmt.Errorf("resolve role %s: %w", user.RoleID, err)
	}
	return role, nil
}

func (m *SessionManager) issueAccess(user models.User, role models.Role, permissions models.Permissions) (string, time.Time, error) {
	return m.issuer.Issue(models.TokenKindAccess, security.Claims{
		Email:            user.Email,
		RoleID:           role.ID,
		Role:             role.Name,
		Permissions:      []string(permissions),
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.ID},
	}, m.cfg.JWTAccessTTL)
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return email, nil
}
