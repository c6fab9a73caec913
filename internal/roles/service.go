package roles

import (
	"context"
	"errors"
	"strings"

	"github.com/meridian-crm/meridian-crm/internal/audit"
	"github.com/meridian-crm/meridian-crm/internal/users"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	UpdateRole(ctx context.Context, id int64, name, description *string) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	CountAssignmentsByRole(ctx context.Context, roleID int64) (int64, error)
	ListRolesByUser(ctx context.Context, userID string) ([]Role, error)
	ListRoleNamesByUser(ctx context.Context, userID string) ([]string, error)
	ListAssignments(ctx context.Context) ([]Assignment, error)
	CreateAssignment(ctx context.Context, userID string, roleID int64, assignedBy string) (Assignment, error)
	DeleteAssignment(ctx context.Context, userID string, roleID int64) error
	GetSettings(ctx context.Context) (Settings, error)
	InsertSettings(ctx context.Context, enforce bool) (Settings, error)
	UpdateSettings(ctx context.Context, id int64, enforce bool) (Settings, error)
}

// ProfileSource lists user profiles for the users-with-roles listing.
type ProfileSource interface {
	ListProfiles(ctx context.Context) ([]users.Profile, error)
}

// AuditLogger records role assignment changes. Satisfied by audit.Logger.
type AuditLogger interface {
	LogEvent(ctx context.Context, entry audit.Entry)
}

// Service handles role business logic.
type Service struct {
	repo     RepositoryPort
	profiles ProfileSource
	auditor  AuditLogger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, profiles ProfileSource, auditor AuditLogger) *Service {
	return &Service{repo: repo, profiles: profiles, auditor: auditor}
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role by id.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a new role. Duplicate names surface as ErrDuplicateName.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	return s.repo.CreateRole(ctx, strings.TrimSpace(name), strings.TrimSpace(description))
}

// UpdateRole applies a partial update to an existing role.
func (s *Service) UpdateRole(ctx context.Context, id int64, name, description *string) (Role, error) {
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		name = &trimmed
	}
	if description != nil {
		trimmed := strings.TrimSpace(*description)
		description = &trimmed
	}
	return s.repo.UpdateRole(ctx, id, name, description)
}

// DeleteRole removes a role unless any assignment still references it. The
// existence check and the delete are separate statements, so two admins
// racing can slip a delete past the check; observed upstream behavior is
// kept as is.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	count, err := s.repo.CountAssignmentsByRole(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrRoleInUse
	}
	return s.repo.DeleteRole(ctx, id)
}

// RolesForUser returns the roles assigned to a user.
func (s *Service) RolesForUser(ctx context.Context, userID string) ([]Role, error) {
	return s.repo.ListRolesByUser(ctx, userID)
}

// UserRoleNames returns the role names assigned to a user. Implements
// rbac.RoleSource.
func (s *Service) UserRoleNames(ctx context.Context, userID string) ([]string, error) {
	return s.repo.ListRoleNamesByUser(ctx, userID)
}

// AssignRole links a role to a user and records an audit entry. The audit
// write happens after the assignment committed and is best effort.
func (s *Service) AssignRole(ctx context.Context, userID string, roleID int64, assignedBy string, meta audit.RequestMeta) (Role, error) {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if _, err := s.repo.CreateAssignment(ctx, userID, roleID, assignedBy); err != nil {
		return Role{}, err
	}
	if s.auditor != nil {
		s.auditor.LogEvent(ctx, audit.Entry{
			UserID:     userID,
			RoleID:     roleID,
			Action:     audit.ActionAssigned,
			AssignedBy: assignedBy,
			IPAddress:  meta.IPAddress,
			UserAgent:  meta.UserAgent,
		})
	}
	return role, nil
}

// UnassignRole removes the assignment and records an audit entry. The delete
// does not distinguish a missing assignment from a removed one; both audit
// and report success.
func (s *Service) UnassignRole(ctx context.Context, userID string, roleID int64, assignedBy string, meta audit.RequestMeta) error {
	if err := s.repo.DeleteAssignment(ctx, userID, roleID); err != nil {
		return err
	}
	if s.auditor != nil {
		s.auditor.LogEvent(ctx, audit.Entry{
			UserID:     userID,
			RoleID:     roleID,
			Action:     audit.ActionUnassigned,
			AssignedBy: assignedBy,
			IPAddress:  meta.IPAddress,
			UserAgent:  meta.UserAgent,
		})
	}
	return nil
}

// UsersWithRoles lists every profile annotated with its roles. The join runs
// in memory over the full profile and assignment sets, which is fine at the
// current tenant sizes.
func (s *Service) UsersWithRoles(ctx context.Context) ([]UserWithRoles, error) {
	profiles, err := s.profiles.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	assignments, err := s.repo.ListAssignments(ctx)
	if err != nil {
		return nil, err
	}
	allRoles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}

	rolesByID := make(map[int64]Role, len(allRoles))
	for _, role := range allRoles {
		rolesByID[role.ID] = role
	}
	rolesByUser := make(map[string][]Role)
	for _, a := range assignments {
		if role, ok := rolesByID[a.RoleID]; ok {
			rolesByUser[a.UserID] = append(rolesByUser[a.UserID], role)
		}
	}

	result := make([]UserWithRoles, 0, len(profiles))
	for _, profile := range profiles {
		userRoles := rolesByUser[profile.ID]
		if userRoles == nil {
			userRoles = []Role{}
		}
		result = append(result, UserWithRoles{Profile: profile, Roles: userRoles})
	}
	return result, nil
}

// GetSettings returns the enforcement settings, falling back to the default
// (enforcement off) when no row exists. The fallback does not create a row.
func (s *Service) GetSettings(ctx context.Context) (Settings, error) {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Settings{EnforceRoles: false}, nil
		}
		return Settings{}, err
	}
	return settings, nil
}

// UpdateSettings upserts the enforcement settings: update the first row when
// present, insert otherwise.
func (s *Service) UpdateSettings(ctx context.Context, enforce bool) (Settings, error) {
	current, err := s.repo.GetSettings(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.repo.InsertSettings(ctx, enforce)
		}
		return Settings{}, err
	}
	return s.repo.UpdateSettings(ctx, current.ID, enforce)
}
