package store

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/filerskeepers/bookwatch/internal/domain"
)

// Change log storage key prefixes.
// Uses inverted timestamps for descending order (newest first) during forward iteration.
const (
	changePrefix            = "change:"
	changeIdxTimePrefix     = "change:idx:time:"
	changeIdxBookPrefix     = "change:idx:book:"
	changeIdxTypePrefix     = "change:idx:type:"
	changeIdxSeverityPrefix = "change:idx:severity:"
)

var ErrChangeNotFound = errors.New("change not found")

// invertedTimestamp returns a string that sorts in descending order.
// Uses MaxInt64 - UnixNano so newer timestamps come first during forward iteration.
func invertedTimestamp(t time.Time) string {
	inverted := math.MaxInt64 - t.UnixNano()
	return fmt.Sprintf("%019d", inverted)
}

// ChangeFilter narrows change log queries. Zero values mean "no filter".
type ChangeFilter struct {
	BookID   string
	Type     domain.ChangeType
	Severity domain.ChangeSeverity
	Since    *time.Time
}

// AppendChange stores a change record with all indexes in a single transaction.
// The record's ID and DetectedAt must be set by the caller.
func (s *Store) AppendChange(ctx context.Context, change *domain.ChangeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if change.ID == "" {
		return ErrInvalidInput.WithMessage("change record requires an ID")
	}

	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshaling change: %w", err)
	}

	invertedTS := invertedTimestamp(change.DetectedAt)

	return s.db.Update(func(txn *badger.Txn) error {
		// Primary key: change:{id} → ChangeRecord JSON
		primaryKey := []byte(changePrefix + change.ID)
		if err := txn.Set(primaryKey, data); err != nil {
			return fmt.Errorf("setting primary key: %w", err)
		}

		// Time index: change:idx:time:{inverted_timestamp}:{id} → "" (key-only)
		// This allows scanning newest-first without reverse iteration
		timeKey := []byte(changeIdxTimePrefix + invertedTS + ":" + change.ID)
		if err := txn.Set(timeKey, []byte{}); err != nil {
			return fmt.Errorf("setting time index: %w", err)
		}

		// Book index: change:idx:book:{bookId}:{inverted_timestamp}:{id} → ""
		bookKey := []byte(changeIdxBookPrefix + change.BookID + ":" + invertedTS + ":" + change.ID)
		if err := txn.Set(bookKey, []byte{}); err != nil {
			return fmt.Errorf("setting book index: %w", err)
		}

		// Type index: change:idx:type:{type}:{inverted_timestamp}:{id} → ""
		typeKey := []byte(changeIdxTypePrefix + string(change.Type) + ":" + invertedTS + ":" + change.ID)
		if err := txn.Set(typeKey, []byte{}); err != nil {
			return fmt.Errorf("setting type index: %w", err)
		}

		// Severity index: change:idx:severity:{severity}:{inverted_timestamp}:{id} → ""
		severityKey := []byte(changeIdxSeverityPrefix + string(change.Severity) + ":" + invertedTS + ":" + change.ID)
		if err := txn.Set(severityKey, []byte{}); err != nil {
			return fmt.Errorf("setting severity index: %w", err)
		}

		return nil
	})
}

// GetChange retrieves a single change record by ID.
func (s *Store) GetChange(ctx context.Context, id string) (*domain.ChangeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var change domain.ChangeRecord
	err := s.get([]byte(changePrefix+id), &change)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("change %s: %w", id, ErrChangeNotFound)
		}
		return nil, fmt.Errorf("getting change %s: %w", id, err)
	}

	return &change, nil
}

// ListChanges retrieves change records newest-first, narrowed by filter.
// The most selective index available is scanned; remaining filter fields
// are applied to the loaded records.
func (s *Store) ListChanges(ctx context.Context, filter ChangeFilter, limit int) ([]*domain.ChangeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	// Pick the scan prefix. Every index embeds the inverted timestamp
	// just before the ID, so iteration is newest-first on all of them
	// and a Since bound can stop the scan early.
	var indexPrefix string
	switch {
	case filter.BookID != "":
		indexPrefix = changeIdxBookPrefix + filter.BookID + ":"
	case filter.Type != "":
		indexPrefix = changeIdxTypePrefix + string(filter.Type) + ":"
	case filter.Severity != "":
		indexPrefix = changeIdxSeverityPrefix + string(filter.Severity) + ":"
	default:
		indexPrefix = changeIdxTimePrefix
	}

	var changes []*domain.ChangeRecord

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(indexPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(indexPrefix)); it.ValidForPrefix([]byte(indexPrefix)); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if len(changes) >= limit {
				break
			}

			key := string(it.Item().Key())
			id := changeIDFromIndexKey(key, indexPrefix)
			if id == "" {
				continue
			}

			if filter.Since != nil {
				ts, ok := timeFromIndexKey(key, indexPrefix)
				if ok && ts.Before(*filter.Since) {
					break // Older than the bound; everything after is older still.
				}
			}

			change, err := s.getChangeInTxn(txn, id)
			if err != nil {
				continue
			}
			if !matchChange(change, filter) {
				continue
			}
			changes = append(changes, change)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching changes: %w", err)
	}

	return changes, nil
}

// ListChangesBetween retrieves changes with from <= DetectedAt <= to,
// newest first.
func (s *Store) ListChangesBetween(ctx context.Context, from, to time.Time) ([]*domain.ChangeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var changes []*domain.ChangeRecord

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(changeIdxTimePrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek to the newest entry at or before 'to'.
		seekKey := []byte(changeIdxTimePrefix + invertedTimestamp(to))

		for it.Seek(seekKey); it.ValidForPrefix([]byte(changeIdxTimePrefix)); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			key := string(it.Item().Key())
			ts, ok := timeFromIndexKey(key, changeIdxTimePrefix)
			if ok && ts.Before(from) {
				break
			}

			id := changeIDFromIndexKey(key, changeIdxTimePrefix)
			if id == "" {
				continue
			}

			change, err := s.getChangeInTxn(txn, id)
			if err != nil {
				continue
			}
			changes = append(changes, change)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching changes between: %w", err)
	}

	return changes, nil
}

// CountChanges counts change records, optionally only those at or after
// since. Key-only, no record loads.
func (s *Store) CountChanges(ctx context.Context, since *time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if since == nil {
		return s.countPrefix([]byte(changeIdxTimePrefix))
	}

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(changeIdxTimePrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(changeIdxTimePrefix)); it.ValidForPrefix([]byte(changeIdxTimePrefix)); it.Next() {
			ts, ok := timeFromIndexKey(string(it.Item().Key()), changeIdxTimePrefix)
			if ok && ts.Before(*since) {
				break
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting changes: %w", err)
	}

	return count, nil
}

// MarkChangesProcessed flips the processed flag on the given change
// records. Missing IDs are skipped.
func (s *Store) MarkChangesProcessed(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}

		change, err := s.GetChange(ctx, id)
		if errors.Is(err, ErrChangeNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		change.MarkProcessed()

		data, err := json.Marshal(change)
		if err != nil {
			return fmt.Errorf("marshaling change: %w", err)
		}
		// Indexed fields never change here, so only the primary key moves.
		err = s.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(changePrefix+id), data)
		})
		if err != nil {
			return fmt.Errorf("updating change %s: %w", id, err)
		}
	}
	return nil
}

// getChangeInTxn retrieves a change record within an existing transaction.
func (s *Store) getChangeInTxn(txn *badger.Txn, id string) (*domain.ChangeRecord, error) {
	item, err := txn.Get([]byte(changePrefix + id))
	if err != nil {
		return nil, err
	}

	var change domain.ChangeRecord
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &change)
	})
	if err != nil {
		return nil, err
	}
	return &change, nil
}

// matchChange applies the filter fields not covered by the scanned index.
func matchChange(change *domain.ChangeRecord, filter ChangeFilter) bool {
	if filter.BookID != "" && change.BookID != filter.BookID {
		return false
	}
	if filter.Type != "" && change.Type != filter.Type {
		return false
	}
	if filter.Severity != "" && change.Severity != filter.Severity {
		return false
	}
	if filter.Since != nil && change.DetectedAt.Before(*filter.Since) {
		return false
	}
	return true
}

// changeIDFromIndexKey extracts the change ID from an index key.
// Key format: {indexPrefix}{inverted_ts}:{id}.
func changeIDFromIndexKey(key, indexPrefix string) string {
	if len(key) <= len(indexPrefix)+20 { // 19 digits + colon
		return ""
	}
	return key[len(indexPrefix)+20:]
}

// timeFromIndexKey decodes the inverted timestamp embedded in an index key.
func timeFromIndexKey(key, indexPrefix string) (time.Time, bool) {
	if len(key) < len(indexPrefix)+19 {
		return time.Time{}, false
	}
	digits := key[len(indexPrefix) : len(indexPrefix)+19]
	inverted, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, math.MaxInt64-inverted), true
}
