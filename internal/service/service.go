// Package service holds the identity engine: login and token lifecycle,
// lockout, role administration and single-use email tokens.
package service

import (
	"time"

	"github.com/rs/zerolog"

	"warden/internal/config"
	"warden/internal/mail"
	"warden/internal/repository"
	"warden/internal/security"
)

// Clock returns the current time. Tests substitute a controllable one.
type Clock func() time.Time

type Dependencies struct {
	Store    repository.Set
	Hasher   *security.PasswordHasher
	Issuer   *security.TokenIssuer
	Mailer   mail.Dispatcher
	Security config.SecurityConfig
	Clock    Clock
	Log      zerolog.Logger
}

type Services struct {
	Sessions  *SessionManager
	Roles     *RoleService
	Lockout   *LockoutGuard
	Ephemeral *EphemeralTokens
}

func New(deps Dependencies) *Services {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	lockout := NewLockoutGuard(deps.Store.Users, deps.Security.LockoutThreshold, deps.Security.LockoutDuration, deps.Clock)
	roles := NewRoleService(deps.Store.Roles, deps.Clock, deps.Log)

	return &Services{
		Sessions:  NewSessionManager(deps, lockout),
		Roles:     roles,
		Lockout:   lockout,
		Ephemeral: NewEphemeralTokens(deps, lockout),
	}
}
