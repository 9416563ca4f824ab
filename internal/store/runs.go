package store

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/filerskeepers/bookwatch/internal/domain"
)

// Detection run storage key prefixes.
const (
	runPrefix        = "run:"
	runIdxTimePrefix = "run:idx:time:"
)

var ErrRunNotFound = errors.New("detection run not found")

// AppendDetectionRun stores a finished detection run summary.
func (s *Store) AppendDetectionRun(ctx context.Context, run *domain.DetectionRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run.ID == "" {
		return ErrInvalidInput.WithMessage("detection run requires an ID")
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshaling detection run: %w", err)
	}

	invertedTS := invertedTimestamp(run.RunTimestamp)

	return s.db.Update(func(txn *badger.Txn) error {
		primaryKey := []byte(runPrefix + run.ID)
		if err := txn.Set(primaryKey, data); err != nil {
			return fmt.Errorf("setting primary key: %w", err)
		}

		timeKey := []byte(runIdxTimePrefix + invertedTS + ":" + run.ID)
		if err := txn.Set(timeKey, []byte{}); err != nil {
			return fmt.Errorf("setting time index: %w", err)
		}

		return nil
	})
}

// GetDetectionRun retrieves a detection run by ID.
func (s *Store) GetDetectionRun(ctx context.Context, id string) (*domain.DetectionRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var run domain.DetectionRun
	err := s.get([]byte(runPrefix+id), &run)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("detection run %s: %w", id, ErrRunNotFound)
		}
		return nil, fmt.Errorf("getting detection run %s: %w", id, err)
	}

	return &run, nil
}

// ListDetectionRuns retrieves detection runs newest-first.
func (s *Store) ListDetectionRuns(ctx context.Context, limit int) ([]*domain.DetectionRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	var runs []*domain.DetectionRun

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(runIdxTimePrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(runIdxTimePrefix)); it.ValidForPrefix([]byte(runIdxTimePrefix)); it.Next() {
			if len(runs) >= limit {
				break
			}

			id := changeIDFromIndexKey(string(it.Item().Key()), runIdxTimePrefix)
			if id == "" {
				continue
			}

			run, err := s.getRunInTxn(txn, id)
			if err != nil {
				continue
			}
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching detection runs: %w", err)
	}

	return runs, nil
}

// ListDetectionRunsBetween retrieves runs with from <= RunTimestamp <= to,
// newest first.
func (s *Store) ListDetectionRunsBetween(ctx context.Context, from, to time.Time) ([]*domain.DetectionRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var runs []*domain.DetectionRun

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(runIdxTimePrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek to the newest entry at or before 'to'.
		seekKey := []byte(runIdxTimePrefix + invertedTimestamp(to))

		for it.Seek(seekKey); it.ValidForPrefix([]byte(runIdxTimePrefix)); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			key := string(it.Item().Key())
			ts, ok := timeFromIndexKey(key, runIdxTimePrefix)
			if ok && ts.Before(from) {
				break
			}

			id := changeIDFromIndexKey(key, runIdxTimePrefix)
			if id == "" {
				continue
			}

			run, err := s.getRunInTxn(txn, id)
			if err != nil {
				continue
			}
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching detection runs between: %w", err)
	}

	return runs, nil
}

// LatestDetectionRun returns the most recent run, or ErrRunNotFound when
// none have been recorded.
func (s *Store) LatestDetectionRun(ctx context.Context) (*domain.DetectionRun, error) {
	runs, err := s.ListDetectionRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrRunNotFound
	}
	return runs[0], nil
}

// getRunInTxn retrieves a detection run within an existing transaction.
func (s *Store) getRunInTxn(txn *badger.Txn, id string) (*domain.DetectionRun, error) {
	item, err := txn.Get([]byte(runPrefix + id))
	if err != nil {
		return nil, err
	}

	var run domain.DetectionRun
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}
