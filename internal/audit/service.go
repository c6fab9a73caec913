package audit

import (
	"context"
	"fmt"
)

// Store provides the read side of the audit trail.
type Store interface {
	ListAll(ctx context.Context) ([]Entry, error)
	ListByUser(ctx context.Context, userID string) ([]Entry, error)
}

// Service serves the audit trail to the administration API.
type Service struct {
	store Store
}

// NewService constructs a Service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Trail returns every audit entry, newest first.
func (s *Service) Trail(ctx context.Context) ([]Entry, error) {
	if s.store == nil {
		return nil, fmt.Errorf("audit: store not configured")
	}
	return s.store.ListAll(ctx)
}

// TrailForUser returns the audit entries for one user, newest first. The
// handler validates the user id format before calling.
func (s *Service) TrailForUser(ctx context.Context, userID string) ([]Entry, error) {
	if s.store == nil {
		return nil, fmt.Errorf("audit: store not configured")
	}
	return s.store.ListByUser(ctx, userID)
}
