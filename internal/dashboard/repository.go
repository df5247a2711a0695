package dashboard

import (
	"context"
	"sync"
)

// Repository persists the last known snapshot so restarts and split
// deployments have data to show immediately.
type Repository interface {
	// Save stores the snapshot unless the stored one was fetched later.
	Save(ctx context.Context, s *Snapshot) error

	// Latest returns the stored snapshot or ErrNoSnapshot.
	Latest(ctx context.Context) (*Snapshot, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// This is the default for single-process deployments.
type InMemoryRepository struct {
	mu       sync.RWMutex
	snapshot *Snapshot
}

// NewInMemoryRepository creates a new in-memory snapshot repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

// Save stores the snapshot unless a newer one is already stored.
func (r *InMemoryRepository) Save(_ context.Context, s *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.snapshot != nil && r.snapshot.FetchedAt.After(s.FetchedAt) {
		return nil
	}
	r.snapshot = s
	return nil
}

// Latest returns the stored snapshot.
func (r *InMemoryRepository) Latest(_ context.Context) (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.snapshot == nil {
		return nil, ErrNoSnapshot
	}
	return r.snapshot, nil
}
