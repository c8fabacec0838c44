package repository

import (
	"context"
	"sync"
	"time"

	"brokenLinkAnalyzerGO/internal/models"
)

// MemoryRepository keeps analyses in a process-local map
type MemoryRepository struct {
	mu       sync.RWMutex
	analyses map[string]*models.Analysis
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{analyses: make(map[string]*models.Analysis)}
}

func (r *MemoryRepository) Create(_ context.Context, analysis *models.Analysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.analyses[analysis.ID]; exists {
		return ErrAlreadyExists
	}
	r.analyses[analysis.ID] = analysis.Clone()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*models.Analysis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.analyses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (r *MemoryRepository) Update(_ context.Context, id string, fn UpdateFunc) (*models.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.analyses[id]
	if !ok {
		return nil, ErrNotFound
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version = current.Version + 1
	r.analyses[id] = next
	return next.Clone(), nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID string, offset, limit int) ([]*models.Analysis, int, error) {
	r.mu.RLock()
	var owned []*models.Analysis
	for _, a := range r.analyses {
		if a.UserID == userID {
			owned = append(owned, a.Clone())
		}
	}
	r.mu.RUnlock()

	sortNewestFirst(owned)
	return page(owned, offset, limit), len(owned), nil
}

func (r *MemoryRepository) ListByStatus(_ context.Context, statuses ...models.Status) ([]*models.Analysis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Analysis
	for _, a := range r.analyses {
		if hasStatus(a, statuses) {
			out = append(out, a.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.analyses[id]; !ok {
		return ErrNotFound
	}
	delete(r.analyses, id)
	return nil
}

func (r *MemoryRepository) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, a := range r.analyses {
		if finishedBefore(a, cutoff) {
			delete(r.analyses, id)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op for the in-memory repository
func (r *MemoryRepository) Close(context.Context) error {
	return nil
}
