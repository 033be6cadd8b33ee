package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"warden/internal/models"
	"warden/internal/repository"
)

// LockoutGuard is the Unlocked/Locked(until) state machine kept on the user
// row. Expiry is evaluated lazily; nothing runs when a lock elapses.
type LockoutGuard struct {
	users     repository.UserStore
	threshold int
	duration  time.Duration
	now       Clock
}

func NewLockoutGuard(users repository.UserStore, threshold int, duration time.Duration, now Clock) *LockoutGuard {
	if now == nil {
		now = time.Now
	}
	return &LockoutGuard{users: users, threshold: threshold, duration: duration, now: now}
}

// Check returns a *LockedError while the user's lock is in force.
func (g *LockoutGuard) Check(user models.User) error {
	if user.LockedAt(g.now()) {
		return &LockedError{Until: *user.LockedUntil}
	}
	return nil
}

func (g *LockoutGuard) RecordFailure(ctx context.Context, userID string) (models.LoginState, error) {
	state, err := g.users.RecordFailedLogin(ctx, userID, g.threshold, g.duration, g.now())
	if err != nil {
		return models.LoginState{}, fmt.Errorf("record failed login: %w", err)
	}
	return state, nil
}

func (g *LockoutGuard) RecordSuccess(ctx context.Context, userID string) error {
	if err := g.users.ResetLoginState(ctx, userID, g.now()); err != nil {
		return fmt.Errorf("reset login state: %w", err)
	}
	return nil
}

// Unlock clears the counter and any lock on an administrator's request.
func (g *LockoutGuard) Unlock(ctx context.Context, userID string) error {
	if _, err := g.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return g.RecordSuccess(ctx, userID)
}
