package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-crm/meridian-crm/internal/platform/db"
	"github.com/meridian-crm/meridian-crm/internal/querycache"
)

// Table names used as cache invalidation scopes.
const (
	tableRoles     = "roles"
	tableUserRoles = "user_roles"
	tableSettings  = "rbac_settings"
)

// Repository provides PostgreSQL backed persistence. Reads are memoized in
// the query cache; every write invalidates the touched table wholesale.
type Repository struct {
	pool  *pgxpool.Pool
	cache *querycache.Cache
}

// NewRepository constructs a repository. The cache may be nil, in which case
// every read hits PostgreSQL.
func NewRepository(pool *pgxpool.Pool, cache *querycache.Cache) *Repository {
	return &Repository{pool: pool, cache: cache}
}

// ListRoles returns all roles ordered by name ascending.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	return r.cachedRoles(ctx, "list:order=name", func(ctx context.Context) ([]Role, error) {
		rows, err := r.pool.Query(ctx, `SELECT id, name, COALESCE(description, '') FROM roles ORDER BY name ASC`)
		if err != nil {
			return nil, fmt.Errorf("roles: list: %w", err)
		}
		defer rows.Close()
		return scanRoles(rows)
	})
}

// GetRole fetches a role by id.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	load := func(ctx context.Context) (Role, error) {
		var role Role
		err := r.pool.QueryRow(ctx, `SELECT id, name, COALESCE(description, '') FROM roles WHERE id = $1`, id).
			Scan(&role.ID, &role.Name, &role.Description)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return Role{}, ErrNotFound
			}
			return Role{}, fmt.Errorf("roles: get: %w", err)
		}
		return role, nil
	}
	if r.cache == nil {
		return load(ctx)
	}
	return querycache.FetchTyped(ctx, r.cache, tableRoles, fmt.Sprintf("get:id=%d", id), load)
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, name, description string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx,
		`INSERT INTO roles (name, description) VALUES ($1, NULLIF($2, '')) RETURNING id, name, COALESCE(description, '')`,
		name, description,
	).Scan(&role.ID, &role.Name, &role.Description)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Role{}, ErrDuplicateName
		}
		return Role{}, fmt.Errorf("roles: create: %w", err)
	}
	r.invalidate(tableRoles)
	return role, nil
}

// UpdateRole updates name and/or description; nil fields keep their value.
func (r *Repository) UpdateRole(ctx context.Context, id int64, name, description *string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx,
		`UPDATE roles SET name = COALESCE($2, name), description = COALESCE(NULLIF($3, ''), description)
		 WHERE id = $1 RETURNING id, name, COALESCE(description, '')`,
		id, name, description,
	).Scan(&role.ID, &role.Name, &role.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		if db.IsUniqueViolation(err) {
			return Role{}, ErrDuplicateName
		}
		return Role{}, fmt.Errorf("roles: update: %w", err)
	}
	r.invalidate(tableRoles)
	return role, nil
}

// DeleteRole removes a role by id. Returns ErrNotFound if nothing was deleted.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("roles: delete: %w", err)
	}
	r.invalidate(tableRoles)
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountAssignmentsByRole counts active assignments referencing a role.
func (r *Repository) CountAssignmentsByRole(ctx context.Context, roleID int64) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_roles WHERE role_id = $1`, roleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("roles: count assignments: %w", err)
	}
	return count, nil
}

// ListRolesByUser returns the roles assigned to a user, ordered by name.
func (r *Repository) ListRolesByUser(ctx context.Context, userID string) ([]Role, error) {
	load := func(ctx context.Context) ([]Role, error) {
		rows, err := r.pool.Query(ctx,
			`SELECT r.id, r.name, COALESCE(r.description, '')
			 FROM user_roles ur JOIN roles r ON r.id = ur.role_id
			 WHERE ur.user_id = $1 ORDER BY r.name ASC`, userID)
		if err != nil {
			return nil, fmt.Errorf("roles: list by user: %w", err)
		}
		defer rows.Close()
		return scanRoles(rows)
	}
	if r.cache == nil {
		return load(ctx)
	}
	return querycache.FetchTyped(ctx, r.cache, tableUserRoles, "roles:user="+userID, load)
}

// ListRoleNamesByUser returns just the role names assigned to a user.
func (r *Repository) ListRoleNamesByUser(ctx context.Context, userID string) ([]string, error) {
	load := func(ctx context.Context) ([]string, error) {
		rows, err := r.pool.Query(ctx,
			`SELECT r.name FROM user_roles ur JOIN roles r ON r.id = ur.role_id WHERE ur.user_id = $1`, userID)
		if err != nil {
			return nil, fmt.Errorf("roles: list names by user: %w", err)
		}
		defer rows.Close()
		names := make([]string, 0)
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, fmt.Errorf("roles: scan name: %w", err)
			}
			names = append(names, name)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("roles: rows: %w", err)
		}
		return names, nil
	}
	if r.cache == nil {
		return load(ctx)
	}
	return querycache.FetchTyped(ctx, r.cache, tableUserRoles, "names:user="+userID, load)
}

// ListAssignments returns every user-role assignment.
func (r *Repository) ListAssignments(ctx context.Context) ([]Assignment, error) {
	load := func(ctx context.Context) ([]Assignment, error) {
		rows, err := r.pool.Query(ctx,
			`SELECT id, user_id, role_id, assigned_by, assigned_at FROM user_roles ORDER BY id`)
		if err != nil {
			return nil, fmt.Errorf("roles: list assignments: %w", err)
		}
		defer rows.Close()
		assignments := make([]Assignment, 0)
		for rows.Next() {
			var a Assignment
			if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &a.AssignedBy, &a.AssignedAt); err != nil {
				return nil, fmt.Errorf("roles: scan assignment: %w", err)
			}
			assignments = append(assignments, a)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("roles: rows: %w", err)
		}
		return assignments, nil
	}
	if r.cache == nil {
		return load(ctx)
	}
	return querycache.FetchTyped(ctx, r.cache, tableUserRoles, "list:all", load)
}

// CreateAssignment links a role to a user.
func (r *Repository) CreateAssignment(ctx context.Context, userID string, roleID int64, assignedBy string) (Assignment, error) {
	var a Assignment
	err := r.pool.QueryRow(ctx,
		`INSERT INTO user_roles (user_id, role_id, assigned_by, assigned_at) VALUES ($1, $2, $3, NOW())
		 RETURNING id, user_id, role_id, assigned_by, assigned_at`,
		userID, roleID, assignedBy,
	).Scan(&a.ID, &a.UserID, &a.RoleID, &a.AssignedBy, &a.AssignedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Assignment{}, ErrDuplicateAssignment
		}
		return Assignment{}, fmt.Errorf("roles: create assignment: %w", err)
	}
	r.invalidate(tableUserRoles)
	return a, nil
}

// DeleteAssignment removes the matching assignment rows. It does not
// distinguish zero rows affected from one; unassigning an absent role is
// reported as success upstream.
func (r *Repository) DeleteAssignment(ctx context.Context, userID string, roleID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return fmt.Errorf("roles: delete assignment: %w", err)
	}
	r.invalidate(tableUserRoles)
	return nil
}

// GetSettings reads the first settings row. Returns ErrNotFound on an empty
// table; callers fall back to the default without creating a row.
func (r *Repository) GetSettings(ctx context.Context) (Settings, error) {
	var settings Settings
	err := r.pool.QueryRow(ctx, `SELECT id, enforce_roles FROM rbac_settings LIMIT 1`).
		Scan(&settings.ID, &settings.EnforceRoles)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settings{}, ErrNotFound
		}
		return Settings{}, fmt.Errorf("roles: get settings: %w", err)
	}
	return settings, nil
}

// InsertSettings creates the settings row.
func (r *Repository) InsertSettings(ctx context.Context, enforce bool) (Settings, error) {
	var settings Settings
	err := r.pool.QueryRow(ctx,
		`INSERT INTO rbac_settings (enforce_roles) VALUES ($1) RETURNING id, enforce_roles`, enforce).
		Scan(&settings.ID, &settings.EnforceRoles)
	if err != nil {
		return Settings{}, fmt.Errorf("roles: insert settings: %w", err)
	}
	r.invalidate(tableSettings)
	return settings, nil
}

// UpdateSettings updates the settings row by id.
func (r *Repository) UpdateSettings(ctx context.Context, id int64, enforce bool) (Settings, error) {
	var settings Settings
	err := r.pool.QueryRow(ctx,
		`UPDATE rbac_settings SET enforce_roles = $2 WHERE id = $1 RETURNING id, enforce_roles`, id, enforce).
		Scan(&settings.ID, &settings.EnforceRoles)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settings{}, ErrNotFound
		}
		return Settings{}, fmt.Errorf("roles: update settings: %w", err)
	}
	r.invalidate(tableSettings)
	return settings, nil
}

func (r *Repository) cachedRoles(ctx context.Context, query string, load func(context.Context) ([]Role, error)) ([]Role, error) {
	if r.cache == nil {
		return load(ctx)
	}
	return querycache.FetchTyped(ctx, r.cache, tableRoles, query, load)
}

func (r *Repository) invalidate(table string) {
	if r.cache != nil {
		r.cache.Invalidate(table)
	}
}

func scanRoles(rows pgx.Rows) ([]Role, error) {
	roles := make([]Role, 0)
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description); err != nil {
			return nil, fmt.Errorf("roles: scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roles: rows: %w", err)
	}
	return roles, nil
}
