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

// Daily reports are keyed by date, so the primary keys sort
// chronologically and range scans need no extra index.
const reportPrefix = "report:"

var ErrReportNotFound = errors.New("report not found")

// ReportIDForDate returns the deterministic report ID for a calendar day.
// One report exists per day; regenerating replaces it.
func ReportIDForDate(date time.Time) string {
	return "report_" + date.UTC().Format("20060102")
}

// SaveDailyReport writes a daily report, replacing any existing report
// for the same date.
func (s *Store) SaveDailyReport(ctx context.Context, report *domain.DailyReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if report.ID == "" {
		report.ID = ReportIDForDate(report.ReportDate)
	}

	if err := s.set([]byte(reportPrefix+report.ID), report); err != nil {
		return fmt.Errorf("saving report %s: %w", report.ID, err)
	}
	return nil
}

// GetDailyReport retrieves the report for a calendar day.
func (s *Store) GetDailyReport(ctx context.Context, date time.Time) (*domain.DailyReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := ReportIDForDate(date)
	var report domain.DailyReport
	err := s.get([]byte(reportPrefix+id), &report)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("report %s: %w", id, ErrReportNotFound)
		}
		return nil, fmt.Errorf("getting report %s: %w", id, err)
	}

	return &report, nil
}

// ListReportsBetween retrieves reports for days from..to inclusive, oldest first.
func (s *Store) ListReportsBetween(ctx context.Context, from, to time.Time) ([]*domain.DailyReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	startKey := []byte(reportPrefix + ReportIDForDate(from))
	endID := ReportIDForDate(to)

	var reports []*domain.DailyReport

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(reportPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(startKey); it.ValidForPrefix([]byte(reportPrefix)); it.Next() {
			key := string(it.Item().Key())
			if key[len(reportPrefix):] > endID {
				break
			}

			var report domain.DailyReport
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &report)
			}); err != nil {
				return fmt.Errorf("unmarshal report: %w", err)
			}
			reports = append(reports, &report)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching reports: %w", err)
	}

	return reports, nil
}

// DeleteReportsBefore removes stored reports older than the cutoff day
// and returns how many were deleted.
func (s *Store) DeleteReportsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cutoffID := ReportIDForDate(cutoff)
	deleted := 0

	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(reportPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(reportPrefix)); it.ValidForPrefix([]byte(reportPrefix)); it.Next() {
			id := string(it.Item().Key())[len(reportPrefix):]
			if id >= cutoffID {
				break
			}
			if err := txn.Delete(it.Item().KeyCopy(nil)); err != nil {
				return fmt.Errorf("delete report %s: %w", id, err)
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("deleting old reports: %w", err)
	}

	if deleted > 0 && s.logger != nil {
		s.logger.Info("Deleted expired reports", "count", deleted, "cutoff", cutoffID)
	}
	return deleted, nil
}
