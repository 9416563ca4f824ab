package store

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/filerskeepers/bookwatch/internal/domain"
)

// Stats summarizes the stored catalog for the stats endpoint and the
// fingerprints CLI.
type Stats struct {
	TotalBooks    int            `json:"total_books"`
	ActiveBooks   int            `json:"active_books"`
	RemovedBooks  int            `json:"removed_books"`
	BooksByStatus map[string]int `json:"books_by_status"`
	Categories    int            `json:"categories"`
	Fingerprints  int            `json:"fingerprints"`
	TotalChanges  int            `json:"total_changes"`
	DetectionRuns int            `json:"detection_runs"`
	SizeBytes     int64          `json:"size_bytes"`
	DiskFreeBytes uint64         `json:"disk_free_bytes"`
}

// Stats aggregates counts across all collections. Key-only scans, no
// record loads.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &Stats{BooksByStatus: make(map[string]int)}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(bookIdxStatusPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(bookIdxStatusPrefix)); it.ValidForPrefix([]byte(bookIdxStatusPrefix)); it.Next() {
			status := statusFromIndexKey(string(it.Item().Key()))
			if status == "" {
				continue
			}
			stats.BooksByStatus[status]++
			stats.TotalBooks++
			if status == string(domain.CrawlStatusRemoved) {
				stats.RemovedBooks++
			} else {
				stats.ActiveBooks++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("counting books by status: %w", err)
	}

	categories, err := s.Categories(ctx)
	if err != nil {
		return nil, err
	}
	stats.Categories = len(categories)

	stats.Fingerprints, err = s.CountFingerprints(ctx)
	if err != nil {
		return nil, err
	}

	stats.TotalChanges, err = s.CountChanges(ctx, nil)
	if err != nil {
		return nil, err
	}

	stats.DetectionRuns, err = s.countPrefix([]byte(runIdxTimePrefix))
	if err != nil {
		return nil, fmt.Errorf("counting detection runs: %w", err)
	}

	lsm, vlog := s.db.Size()
	stats.SizeBytes = lsm + vlog

	if free, err := diskFree(s.db.Opts().Dir); err == nil {
		stats.DiskFreeBytes = free
	}

	return stats, nil
}

// statusFromIndexKey extracts the status from a status index key.
// Key format: book:idx:status:{status}:{id}.
func statusFromIndexKey(key string) string {
	if len(key) <= len(bookIdxStatusPrefix)+bookIDLength+1 {
		return ""
	}
	return key[len(bookIdxStatusPrefix) : len(key)-bookIDLength-1]
}
