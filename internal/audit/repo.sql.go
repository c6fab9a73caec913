package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for role_audit.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertEntry appends one audit row. AssignedAt defaults to NOW() when zero.
func (r *Repository) InsertEntry(ctx context.Context, entry Entry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO role_audit (user_id, role_id, action, assigned_by, assigned_at, notes, ip_address, user_agent)
		 VALUES ($1, $2, $3, $4, COALESCE(NULLIF($5::timestamptz, '0001-01-01 00:00:00+00'::timestamptz), NOW()), NULLIF($6, ''), $7, $8)`,
		entry.UserID, entry.RoleID, string(entry.Action), entry.AssignedBy, entry.AssignedAt, entry.Notes, entry.IPAddress, entry.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// ListAll returns the full trail, newest first.
func (r *Repository) ListAll(ctx context.Context) ([]Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, role_id, action, assigned_by, assigned_at, COALESCE(notes, ''), ip_address, user_agent
		 FROM role_audit ORDER BY assigned_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("audit: list all: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListByUser returns the trail for a single user, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, role_id, action, assigned_by, assigned_at, COALESCE(notes, ''), ip_address, user_agent
		 FROM role_audit WHERE user_id = $1 ORDER BY assigned_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("audit: list by user: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// CountByUserSince counts role changes per user over a window. Used by the
// anomaly scan job.
func (r *Repository) CountByUserSince(ctx context.Context, interval string) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, COUNT(*) FROM role_audit
		 WHERE assigned_at >= NOW() - $1::interval GROUP BY user_id`, interval)
	if err != nil {
		return nil, fmt.Errorf("audit: count by user: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int64)
	for rows.Next() {
		var userID string
		var count int64
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, fmt.Errorf("audit: scan count: %w", err)
		}
		counts[userID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: count rows: %w", err)
	}
	return counts, nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	entries := make([]Entry, 0)
	for rows.Next() {
		var entry Entry
		var action string
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.RoleID, &action, &entry.AssignedBy, &entry.AssignedAt, &entry.Notes, &entry.IPAddress, &entry.UserAgent); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		entry.Action = Action(action)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}
	return entries, nil
}
