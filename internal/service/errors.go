package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrAccountLocked         = errors.New("account locked")
	ErrAccountInactive       = errors.New("account inactive")
	ErrTokenRevokedOrUnknown = errors.New("token revoked or unknown")
	ErrImmutableRole         = errors.New("system role name and permissions are immutable")
	ErrRoleInUse             = errors.New("role is assigned to users")
	ErrRoleInactive          = errors.New("role is inactive")
	ErrNoDefaultRole         = errors.New("no active default role")
	ErrPermissionDenied      = errors.New("permission denied")
	ErrEmailTaken            = errors.New("email already registered")
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflicting concurrent change")
)

// LockedError carries the instant a lockout ends. It matches ErrAccountLocked.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
