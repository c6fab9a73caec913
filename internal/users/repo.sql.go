package users

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-crm/meridian-crm/internal/querycache"
)

const tableProfiles = "profiles"

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool  *pgxpool.Pool
	cache *querycache.Cache
}

// NewRepository constructs a repository. The cache may be nil.
func NewRepository(pool *pgxpool.Pool, cache *querycache.Cache) *Repository {
	return &Repository{pool: pool, cache: cache}
}

// ListProfiles returns all profiles ordered by email.
func (r *Repository) ListProfiles(ctx context.Context) ([]Profile, error) {
	if r.cache == nil {
		return r.listProfiles(ctx)
	}
	return querycache.FetchTyped(ctx, r.cache, tableProfiles, "list:order=email", r.listProfiles)
}

func (r *Repository) listProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, email, COALESCE(full_name, ''), created_at FROM profiles ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("users: list profiles: %w", err)
	}
	defer rows.Close()
	profiles := make([]Profile, 0)
	for rows.Next() {
		var profile Profile
		if err := rows.Scan(&profile.ID, &profile.Email, &profile.FullName, &profile.CreatedAt); err != nil {
			return nil, fmt.Errorf("users: scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("users: rows: %w", err)
	}
	return profiles, nil
}
