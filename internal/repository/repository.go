// Package repository defines the storage contract shared by the postgres and
// sqlite adapters. Every state transition that can race (lockout counters,
// token use and consumption, default role, role deletion) is a single
// conditional statement or one transaction inside the adapter.
package repository

import (
	"context"
	"errors"
	"time"

	"warden/internal/models"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrConflict     = errors.New("record conflicts with existing data")
	ErrRoleInUse    = errors.New("role is referenced by users")
	ErrSystemRole   = errors.New("system role cannot be removed")
	ErrRoleInactive = errors.New("role is inactive")
)

type UserStore interface {
	// Create fails with ErrConflict when a live user already has the email.
	Create(ctx context.Context, user models.User) error
	GetByID(ctx context.Context, id string) (models.User, error)
	// FindByEmail never returns soft-deleted users.
	FindByEmail(ctx context.Context, email string) (models.User, error)

	// RecordFailedLogin increments the counter, restarting it when a previous
	// lock has elapsed, and locks until now+lockFor once threshold is reached.
	RecordFailedLogin(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (models.LoginState, error)
	ResetLoginState(ctx context.Context, id string, now time.Time) error

	UpdatePassword(ctx context.Context, id, passwordHash string, now time.Time) error
	MarkEmailVerified(ctx context.Context, id string, now time.Time) error
	AssignRole(ctx context.Context, id, roleID string, now time.Time) error
	SetActive(ctx context.Context, id string, active bool, now time.Time) error
	SoftDelete(ctx context.Context, id string, now time.Time) error
}

type RoleStore interface {
	// Create fails with ErrConflict on a duplicate name or a second default.
	Create(ctx context.Context, role models.Role) error
	GetByID(ctx context.Context, id string) (models.Role, error)
	GetByName(ctx context.Context, name string) (models.Role, error)
	// GetDefault returns the active default role or ErrNotFound.
	GetDefault(ctx context.Context) (models.Role, error)
	// Update applies the non-nil fields. Deactivating a role also clears its
	// default flag.
	Update(ctx context.Context, id string, update models.RoleUpdate, now time.Time) (models.Role, error)
	// SetDefault clears the flag everywhere else and sets it on id in one
	// transaction. Fails with ErrRoleInactive for an inactive role.
	SetDefault(ctx context.Context, id string, now time.Time) error
	// Delete removes a non-system role no user references. It reports
	// ErrSystemRole, ErrRoleInUse or ErrNotFound when nothing was removed.
	Delete(ctx context.Context, id string) error
}

type TokenStore interface {
	Create(ctx context.Context, token models.Token) error
	FindValid(ctx context.Context, valueHash string, kind models.TokenKind, now time.Time) (models.Token, error)
	// Touch checks validity and stamps last_used_at in one statement.
	Touch(ctx context.Context, valueHash string, kind models.TokenKind, now time.Time) (models.Token, error)
	// Consume checks validity and revokes in one statement. Of any number of
	// concurrent callers, exactly one receives the token.
	Consume(ctx context.Context, valueHash string, kind models.TokenKind, now time.Time) (models.Token, error)
	// Revoke is idempotent; unknown values are not an error.
	Revoke(ctx context.Context, valueHash string) error
	RevokeAllForOwner(ctx context.Context, ownerID string, kind models.TokenKind) (int64, error)
	// PurgeExpired physically removes expired or revoked records.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Set bundles the stores an adapter provides.
type Set struct {
	Users  UserStore
	Roles  RoleStore
	Tokens TokenStore
}
