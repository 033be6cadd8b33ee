package models

import "time"

type User struct {
	ID             string
	Email          string
	PasswordHash   string
	RoleID         string
	EmailVerified  bool
	FailedAttempts int
	LockedUntil    *time.Time
	IsActive       bool
	IsDeleted      bool
	DeletedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LockedAt reports whether the account is locked at the given instant.
// An elapsed lock counts as unlocked without any write.
func (u User) LockedAt(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// LoginState is the lockout counter as left by an atomic store update.
type LoginState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

func (s LoginState) Locked(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}
