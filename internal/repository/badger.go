package repository

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"brokenLinkAnalyzerGO/internal/models"
)

// Key prefixes for BadgerDB storage
const (
	analysisKeyPrefix     = "analysis:"
	analysisUserKeyPrefix = "analysis_user:"
)

// BadgerRepository implements Repository on an embedded BadgerDB, so jobs
// survive restarts without an external database.
type BadgerRepository struct {
	db *badger.DB
}

// OpenBadger opens the database at path, or an in-memory one when path is
// empty.
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

// NewBadgerRepository creates a BadgerDB-backed repository.
func NewBadgerRepository(db *badger.DB) *BadgerRepository {
	return &BadgerRepository{db: db}
}

func analysisKey(id string) []byte {
	return []byte(analysisKeyPrefix + id)
}

// userPrefix hex-encodes the user id so that no id is a prefix of another
// user's keys, whatever characters the id holds.
func userPrefix(userID string) string {
	return analysisUserKeyPrefix + hex.EncodeToString([]byte(userID)) + ":"
}

func userKey(userID, id string) []byte {
	return []byte(userPrefix(userID) + id)
}

func (r *BadgerRepository) Create(_ context.Context, analysis *models.Analysis) error {
	data, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}

	return r.db.Update(func(txn *badger.Txn) error {
		key := analysisKey(analysis.ID)
		if _, err := txn.Get(key); err == nil {
			return ErrAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check analysis: %w", err)
		}

		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("set analysis: %w", err)
		}
		if err := txn.Set(userKey(analysis.UserID, analysis.ID), []byte(analysis.ID)); err != nil {
			return fmt.Errorf("set user mapping: %w", err)
		}
		return nil
	})
}

func (r *BadgerRepository) Get(_ context.Context, id string) (*models.Analysis, error) {
	var analysis *models.Analysis
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		analysis, err = load(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

// Update runs fn inside a read-write transaction; a transaction that loses
// to a concurrent writer is retried.
func (r *BadgerRepository) Update(_ context.Context, id string, fn UpdateFunc) (*models.Analysis, error) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		var updated *models.Analysis
		err := r.db.Update(func(txn *badger.Txn) error {
			current, err := load(txn, id)
			if err != nil {
				return err
			}

			next := current.Clone()
			if err := fn(next); err != nil {
				return err
			}
			next.Version = current.Version + 1

			data, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("marshal analysis: %w", err)
			}
			if err := txn.Set(analysisKey(id), data); err != nil {
				return err
			}
			updated = next
			return nil
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("update analysis %s: %w", id, ErrConflict)
}

func (r *BadgerRepository) ListByUser(_ context.Context, userID string, offset, limit int) ([]*models.Analysis, int, error) {
	owned := []*models.Analysis{}

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(userPrefix(userID))
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var id string
			if err := it.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return err
			}

			a, err := load(txn, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if a.UserID != userID {
				continue
			}
			owned = append(owned, a)
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list user analyses: %w", err)
	}

	sortNewestFirst(owned)
	return page(owned, offset, limit), len(owned), nil
}

func (r *BadgerRepository) ListByStatus(_ context.Context, statuses ...models.Status) ([]*models.Analysis, error) {
	var out []*models.Analysis
	err := r.scan(func(a *models.Analysis) {
		if hasStatus(a, statuses) {
			out = append(out, a)
		}
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *BadgerRepository) Delete(_ context.Context, id string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		a, err := load(txn, id)
		if err != nil {
			return err
		}
		return remove(txn, a)
	})
}

func (r *BadgerRepository) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	var expired []*models.Analysis
	if err := r.scan(func(a *models.Analysis) {
		if finishedBefore(a, cutoff) {
			expired = append(expired, a)
		}
	}); err != nil {
		return 0, err
	}

	removed := 0
	for _, a := range expired {
		err := r.db.Update(func(txn *badger.Txn) error {
			return remove(txn, a)
		})
		if err != nil {
			return removed, fmt.Errorf("delete analysis %s: %w", a.ID, err)
		}
		removed++
	}
	return removed, nil
}

func (r *BadgerRepository) Close(context.Context) error {
	return r.db.Close()
}

// scan visits every stored analysis.
func (r *BadgerRepository) scan(visit func(*models.Analysis)) error {
	return r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(analysisKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var a models.Analysis
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			}); err != nil {
				return fmt.Errorf("unmarshal analysis: %w", err)
			}
			visit(&a)
		}
		return nil
	})
}

func load(txn *badger.Txn, id string) (*models.Analysis, error) {
	item, err := txn.Get(analysisKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}

	var a models.Analysis
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &a)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal analysis: %w", err)
	}
	return &a, nil
}

func remove(txn *badger.Txn, a *models.Analysis) error {
	if err := txn.Delete(analysisKey(a.ID)); err != nil {
		return fmt.Errorf("delete analysis: %w", err)
	}
	if err := txn.Delete(userKey(a.UserID, a.ID)); err != nil {
		return fmt.Errorf("delete user mapping: %w", err)
	}
	return nil
}
