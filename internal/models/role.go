package models

import (
	"slices"
	"time"
)

// PermissionWildcard grants every permission.
const PermissionWildcard = "*"

const (
	PermissionAdminAll      = "admin:all"
	PermissionRolesManage   = "roles:manage"
	PermissionUsersManage   = "users:manage"
	PermissionAuthLogin     = "auth:login"
	PermissionProfileRead   = "profile:read"
	PermissionProfileUpdate = "profile:update"
)

type Permissions []string

func (p Permissions) Has(permission string) bool {
	for _, granted := range p {
		if granted == PermissionWildcard || granted == permission {
			return true
		}
	}
	return false
}

func (p Permissions) HasAny(permissions ...string) bool {
	for _, permission := range permissions {
		if p.Has(permission) {
			return true
		}
	}
	return false
}

// HasAll is true for an empty request.
func (p Permissions) HasAll(permissions ...string) bool {
	for _, permission := range permissions {
		if !p.Has(permission) {
			return false
		}
	}
	return true
}

type Role struct {
	ID          string
	Name        string
	Description string
	Permissions Permissions
	IsSystem    bool
	IsDefault   bool
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Effective is what the role grants right now; an inactive role grants nothing.
func (r Role) Effective() Permissions {
	if !r.IsActive {
		return Permissions{}
	}
	return slices.Clone(r.Permissions)
}

func (r Role) HasPermission(permission string) bool {
	return r.Effective().Has(permission)
}

func (r Role) HasAny(permissions ...string) bool {
	return r.Effective().HasAny(permissions...)
}

func (r Role) HasAll(permissions ...string) bool {
	return r.Effective().HasAll(permissions...)
}

// RoleUpdate lists every mutable role field. Nil means unchanged.
type RoleUpdate struct {
	Name        *string
	Description *string
	Permissions *[]string
	IsActive    *bool
}

// TouchesIdentity reports whether the update would change the name or
// permission set of role, which system roles never allow.
func (u RoleUpdate) TouchesIdentity(role Role) bool {
	if u.Name != nil && *u.Name != role.Name {
		return true
	}
	if u.Permissions != nil && !samePermissions(*u.Permissions, role.Permissions) {
		return true
	}
	return false
}

func samePermissions(a, b []string) bool {
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(slices.Compact(x), slices.Compact(y))
}
