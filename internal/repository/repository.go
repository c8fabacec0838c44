package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"brokenLinkAnalyzerGO/internal/models"
)

var (
	// ErrNotFound is returned when no analysis has the requested id.
	ErrNotFound = errors.New("analysis not found")
	// ErrAlreadyExists is returned by Create for a duplicate id.
	ErrAlreadyExists = errors.New("analysis already exists")
	// ErrConflict is returned when an update kept losing to concurrent writers.
	ErrConflict = errors.New("concurrent update conflict")
)

// maxUpdateRetries bounds optimistic retries in durable backends.
const maxUpdateRetries = 5

// UpdateFunc mutates a copy of the stored analysis. Returning an error
// aborts the update and leaves the stored record untouched.
type UpdateFunc func(a *models.Analysis) error

// Repository defines operations on analysis jobs.
//
// Every record handed out is a copy; mutating it has no effect on the store.
type Repository interface {
	Create(ctx context.Context, analysis *models.Analysis) error
	Get(ctx context.Context, id string) (*models.Analysis, error)
	// Update applies fn atomically and returns the stored result.
	Update(ctx context.Context, id string, fn UpdateFunc) (*models.Analysis, error)
	// ListByUser returns one page of the user's analyses, newest first, and the
	// total number the user owns.
	ListByUser(ctx context.Context, userID string, offset, limit int) ([]*models.Analysis, int, error)
	ListByStatus(ctx context.Context, statuses ...models.Status) ([]*models.Analysis, error)
	Delete(ctx context.Context, id string) error
	// DeleteFinishedBefore removes terminal analyses that ended before cutoff.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
	Close(ctx context.Context) error
}

// sortNewestFirst orders by start time descending, ties broken by id.
func sortNewestFirst(list []*models.Analysis) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].StartedAt.Equal(list[j].StartedAt) {
			return list[i].StartedAt.After(list[j].StartedAt)
		}
		return list[i].ID < list[j].ID
	})
}

func page(list []*models.Analysis, offset, limit int) []*models.Analysis {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(list) {
		return []*models.Analysis{}
	}
	end := len(list)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return list[offset:end]
}

// finishedAt is when a terminal job stopped. Records written before
// cancellation times were kept fall back to their start time.
func finishedAt(a *models.Analysis) time.Time {
	switch {
	case a.CompletedAt != nil:
		return *a.CompletedAt
	case a.CancelledAt != nil:
		return *a.CancelledAt
	default:
		return a.StartedAt
	}
}

func finishedBefore(a *models.Analysis, cutoff time.Time) bool {
	return a.Status.IsTerminal() && finishedAt(a).Before(cutoff)
}

func hasStatus(a *models.Analysis, statuses []models.Status) bool {
	for _, s := range statuses {
		if a.Status == s {
			return true
		}
	}
	return false
}
