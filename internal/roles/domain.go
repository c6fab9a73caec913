// Package roles implements role management: role CRUD, user-role
// assignments, the enforcement settings row and the administration API.
package roles

import (
	"errors"
	"time"

	"github.com/meridian-crm/meridian-crm/internal/users"
)

// Role is a named permission group assignable to users.
type Role struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Assignment links a user to a role. The (user_id, role_id) pair is unique.
type Assignment struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	RoleID     int64     `json:"role_id"`
	AssignedBy string    `json:"assigned_by"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Settings is the single global enforcement row. When the table is empty the
// effective value is the zero Settings: enforcement off.
type Settings struct {
	ID           int64 `json:"id,omitempty"`
	EnforceRoles bool  `json:"enforce_roles"`
}

// UserWithRoles annotates a profile with its assigned roles.
type UserWithRoles struct {
	users.Profile
	Roles []Role `json:"roles"`
}

// Sentinel errors returned by the repository and service.
var (
	ErrNotFound            = errors.New("roles: not found")
	ErrDuplicateName       = errors.New("roles: role name already exists")
	ErrDuplicateAssignment = errors.New("roles: user already has role")
	ErrRoleInUse           = errors.New("roles: role is assigned to users")
)
