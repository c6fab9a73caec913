package roles

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-crm/meridian-crm/internal/audit"
	"github.com/meridian-crm/meridian-crm/internal/users"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	roles        map[int64]Role
	rolesByName  map[string]int64
	nextRoleID   int64
	assignments  []Assignment
	nextAssignID int64
	settings     *Settings
	settingsID   int64

	// Error injection
	getRoleError       error
	createAssignError  error
	getSettingsError   error
	countError         error
	settingsInsertHits int
	settingsUpdateHits int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		roles:       make(map[int64]Role),
		rolesByName: make(map[string]int64),
		nextRoleID:  1,
	}
}

func (m *mockRepository) seedRole(name, description string) Role {
	role := Role{ID: m.nextRoleID, Name: name, Description: description}
	m.roles[role.ID] = role
	m.rolesByName[name] = role.ID
	m.nextRoleID++
	return role
}

func (m *mockRepository) ListRoles(ctx context.Context) ([]Role, error) {
	out := make([]Role, 0, len(m.roles))
	for _, role := range m.roles {
		out = append(out, role)
	}
	return out, nil
}

func (m *mockRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	if m.getRoleError != nil {
		return Role{}, m.getRoleError
	}
	role, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return role, nil
}

func (m *mockRepository) CreateRole(ctx context.Context, name, description string) (Role, error) {
	if _, exists := m.rolesByName[name]; exists {
		return Role{}, ErrDuplicateName
	}
	return m.seedRole(name, description), nil
}

func (m *mockRepository) UpdateRole(ctx context.Context, id int64, name, description *string) (Role, error) {
	role, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	if name != nil {
		if other, exists := m.rolesByName[*name]; exists && other != id {
			return Role{}, ErrDuplicateName
		}
		delete(m.rolesByName, role.Name)
		role.Name = *name
		m.rolesByName[role.Name] = id
	}
	if description != nil {
		role.Description = *description
	}
	m.roles[id] = role
	return role, nil
}

func (m *mockRepository) DeleteRole(ctx context.Context, id int64) error {
	role, ok := m.roles[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.rolesByName, role.Name)
	delete(m.roles, id)
	return nil
}

func (m *mockRepository) CountAssignmentsByRole(ctx context.Context, roleID int64) (int64, error) {
	if m.countError != nil {
		return 0, m.countError
	}
	var count int64
	for _, a := range m.assignments {
		if a.RoleID == roleID {
			count++
		}
	}
	return count, nil
}

func (m *mockRepository) ListRolesByUser(ctx context.Context, userID string) ([]Role, error) {
	out := make([]Role, 0)
	for _, a := range m.assignments {
		if a.UserID == userID {
			out = append(out, m.roles[a.RoleID])
		}
	}
	return out, nil
}

func (m *mockRepository) ListRoleNamesByUser(ctx context.Context, userID string) ([]string, error) {
	list, _ := m.ListRolesByUser(ctx, userID)
	names := make([]string, 0, len(list))
	for _, role := range list {
		names = append(names, role.Name)
	}
	return names, nil
}

func (m *mockRepository) ListAssignments(ctx context.Context) ([]Assignment, error) {
	return append([]Assignment(nil), m.assignments...), nil
}

func (m *mockRepository) CreateAssignment(ctx context.Context, userID string, roleID int64, assignedBy string) (Assignment, error) {
	if m.createAssignError != nil {
		return Assignment{}, m.createAssignError
	}
	for _, a := range m.assignments {
		if a.UserID == userID && a.RoleID == roleID {
			return Assignment{}, ErrDuplicateAssignment
		}
	}
	m.nextAssignID++
	a := Assignment{ID: m.nextAssignID, UserID: userID, RoleID: roleID, AssignedBy: assignedBy, AssignedAt: time.Now()}
	m.assignments = append(m.assignments, a)
	return a, nil
}

func (m *mockRepository) DeleteAssignment(ctx context.Context, userID string, roleID int64) error {
	kept := m.assignments[:0]
	for _, a := range m.assignments {
		if a.UserID != userID || a.RoleID != roleID {
			kept = append(kept, a)
		}
	}
	m.assignments = kept
	return nil
}

func (m *mockRepository) GetSettings(ctx context.Context) (Settings, error) {
	if m.getSettingsError != nil {
		return Settings{}, m.getSettingsError
	}
	if m.settings == nil {
		return Settings{}, ErrNotFound
	}
	return *m.settings, nil
}

func (m *mockRepository) InsertSettings(ctx context.Context, enforce bool) (Settings, error) {
	m.settingsInsertHits++
	m.settingsID++
	m.settings = &Settings{ID: m.settingsID, EnforceRoles: enforce}
	return *m.settings, nil
}

func (m *mockRepository) UpdateSettings(ctx context.Context, id int64, enforce bool) (Settings, error) {
	m.settingsUpdateHits++
	if m.settings == nil || m.settings.ID != id {
		return Settings{}, ErrNotFound
	}
	m.settings.EnforceRoles = enforce
	return *m.settings, nil
}

type mockProfiles struct {
	profiles []users.Profile
	err      error
}

func (m *mockProfiles) ListProfiles(ctx context.Context) ([]users.Profile, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.profiles, nil
}

type recordingAuditor struct {
	entries []audit.Entry
}

func (r *recordingAuditor) LogEvent(ctx context.Context, entry audit.Entry) {
	r.entries = append(r.entries, entry)
}

// ============================================================================
// TESTS
// ============================================================================

func TestCreateRoleTrimsAndRoundTrips(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, &mockProfiles{}, nil)

	created, err := svc.CreateRole(context.Background(), "  Manager  ", "x")
	require.NoError(t, err)
	assert.Equal(t, "Manager", created.Name)

	fetched, err := svc.GetRole(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, fetched.Name)
	assert.Equal(t, created.Description, fetched.Description)
}

func TestCreateRoleDuplicateName(t *testing.T) {
	repo := newMockRepository()
	repo.seedRole("Admin", "")
	svc := NewService(repo, &mockProfiles{}, nil)

	_, err := svc.CreateRole(context.Background(), "Admin", "")
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestDeleteRoleBlockedWhileAssigned(t *testing.T) {
	repo := newMockRepository()
	role := repo.seedRole("Sales", "")
	_, err := repo.CreateAssignment(context.Background(), "u-1", role.ID, "admin-1")
	require.NoError(t, err)
	svc := NewService(repo, &mockProfiles{}, nil)

	err = svc.DeleteRole(context.Background(), role.ID)
	assert.ErrorIs(t, err, ErrRoleInUse)
	// The role and its assignment must be untouched.
	_, err = repo.GetRole(context.Background(), role.ID)
	assert.NoError(t, err)
	assert.Len(t, repo.assignments, 1)
}

func TestDeleteRoleWithoutAssignments(t *testing.T) {
	repo := newMockRepository()
	role := repo.seedRole("Temp", "")
	svc := NewService(repo, &mockProfiles{}, nil)

	require.NoError(t, svc.DeleteRole(context.Background(), role.ID))
	_, err := repo.GetRole(context.Background(), role.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssignRoleRecordsAudit(t *testing.T) {
	repo := newMockRepository()
	role := repo.seedRole("Manager", "")
	auditor := &recordingAuditor{}
	svc := NewService(repo, &mockProfiles{}, auditor)

	meta := audit.RequestMeta{IPAddress: "10.0.0.9", UserAgent: "test-agent"}
	assigned, err := svc.AssignRole(context.Background(), "u-1", role.ID, "admin-1", meta)
	require.NoError(t, err)
	assert.Equal(t, role.ID, assigned.ID)

	require.Len(t, auditor.entries, 1)
	entry := auditor.entries[0]
	assert.Equal(t, audit.ActionAssigned, entry.Action)
	assert.Equal(t, "u-1", entry.UserID)
	assert.Equal(t, "admin-1", entry.AssignedBy)
	assert.Equal(t, "10.0.0.9", entry.IPAddress)
}

func TestAssignRoleTwiceFailsSecondTime(t *testing.T) {
	repo := newMockRepository()
	role := repo.seedRole("Manager", "")
	svc := NewService(repo, &mockProfiles{}, &recordingAuditor{})

	_, err := svc.AssignRole(context.Background(), "u-1", role.ID, "admin-1", audit.RequestMeta{})
	require.NoError(t, err)
	_, err = svc.AssignRole(context.Background(), "u-1", role.ID, "admin-1", audit.RequestMeta{})
	assert.ErrorIs(t, err, ErrDuplicateAssignment)
}

func TestAssignRoleUnknownRole(t *testing.T) {
	repo := newMockRepository()
	auditor := &recordingAuditor{}
	svc := NewService(repo, &mockProfiles{}, auditor)

	_, err := svc.AssignRole(context.Background(), "u-1", 42, "admin-1", audit.RequestMeta{})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, auditor.entries)
}

func TestUnassignRoleRecordsAuditEvenWhenAbsent(t *testing.T) {
	repo := newMockRepository()
	role := repo.seedRole("Manager", "")
	auditor := &recordingAuditor{}
	svc := NewService(repo, &mockProfiles{}, auditor)

	// No assignment exists; the delete still reports success and audits.
	err := svc.UnassignRole(context.Background(), "u-1", role.ID, "admin-1", audit.RequestMeta{})
	require.NoError(t, err)
	require.Len(t, auditor.entries, 1)
	assert.Equal(t, audit.ActionUnassigned, auditor.entries[0].Action)
}

func TestUsersWithRolesJoinsInMemory(t *testing.T) {
	repo := newMockRepository()
	manager := repo.seedRole("Manager", "")
	sales := repo.seedRole("Sales", "")
	_, err := repo.CreateAssignment(context.Background(), "u-1", manager.ID, "admin-1")
	require.NoError(t, err)
	_, err = repo.CreateAssignment(context.Background(), "u-1", sales.ID, "admin-1")
	require.NoError(t, err)

	profiles := &mockProfiles{profiles: []users.Profile{
		{ID: "u-1", Email: "a@example.com"},
		{ID: "u-2", Email: "b@example.com"},
	}}
	svc := NewService(repo, profiles, nil)

	out, err := svc.UsersWithRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Len(t, out[0].Roles, 2)
	// Users without assignments get an empty slice, not nil, so the JSON
	// encodes [] rather than null.
	require.NotNil(t, out[1].Roles)
	assert.Empty(t, out[1].Roles)
}

func TestGetSettingsDefaultsWithoutRow(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, &mockProfiles{}, nil)

	settings, err := svc.GetSettings(context.Background())
	require.NoError(t, err)
	assert.False(t, settings.EnforceRoles)
	// Reading must not create the row.
	assert.Nil(t, repo.settings)
}

func TestUpdateSettingsUpsertsSingleRow(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, &mockProfiles{}, nil)

	first, err := svc.UpdateSettings(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, first.EnforceRoles)
	assert.Equal(t, 1, repo.settingsInsertHits)

	second, err := svc.UpdateSettings(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, second.EnforceRoles)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, repo.settingsInsertHits)
	assert.Equal(t, 1, repo.settingsUpdateHits)
}

func TestUpdateSettingsSurfacesReadError(t *testing.T) {
	repo := newMockRepository()
	repo.getSettingsError = errors.New("connection reset")
	svc := NewService(repo, &mockProfiles{}, nil)

	_, err := svc.UpdateSettings(context.Background(), true)
	assert.Error(t, err)
	assert.Zero(t, repo.settingsInsertHits)
}
