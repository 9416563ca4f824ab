// Package report aggregates one calendar day of detection activity into a
// DailyReport: merged run counters, significant changes, newly discovered
// books and a health score. Reports persist in the store and export to a
// JSON or CSV file in the reports directory.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/filerskeepers/bookwatch/internal/domain"
	"github.com/filerskeepers/bookwatch/internal/store"
)

// Report export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

const (
	defaultDir           = "reports"
	defaultHistoryDays   = 7
	defaultRetentionDays = 30
)

// Options tunes report generation.
type Options struct {
	// Dir is where exported report files land.
	Dir string
	// Format selects the export file format, json or csv.
	Format string
	// HistoryDays is the default window for History.
	HistoryDays int
	// RetentionDays bounds how long stored reports are kept.
	RetentionDays int
}

// Generator builds daily reports from stored runs and change records.
type Generator struct {
	store  *store.Store
	opts   Options
	logger *slog.Logger
}

// NewGenerator creates a report generator.
func NewGenerator(st *store.Store, opts Options, logger *slog.Logger) *Generator {
	if opts.Dir == "" {
		opts.Dir = defaultDir
	}
	opts.Format = strings.ToLower(opts.Format)
	if opts.Format != FormatCSV {
		opts.Format = FormatJSON
	}
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = defaultHistoryDays
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = defaultRetentionDays
	}

	return &Generator{store: st, opts: opts, logger: logger}
}

// Generate builds, stores and exports the report for the calendar day
// containing date. Regenerating a day replaces the stored report and
// overwrites the exported file.
func (g *Generator) Generate(ctx context.Context, date time.Time) (*domain.DailyReport, error) {
	day := midnightUTC(date)
	dayEnd := day.Add(24*time.Hour - time.Nanosecond)

	runs, err := g.store.ListDetectionRunsBetween(ctx, day, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("loading detection runs for %s: %w", day.Format("2006-01-02"), err)
	}
	changes, err := g.store.ListChangesBetween(ctx, day, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("loading changes for %s: %w", day.Format("2006-01-02"), err)
	}
	stats, err := g.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading catalog stats: %w", err)
	}

	report := g.aggregate(day, runs, changes, stats)

	if err := g.store.SaveDailyReport(ctx, report); err != nil {
		return nil, fmt.Errorf("saving report: %w", err)
	}

	path, err := g.export(report)
	if err != nil {
		return nil, fmt.Errorf("exporting report: %w", err)
	}

	g.logger.Info("generated daily report",
		"report_id", report.ID,
		"report_date", day.Format("2006-01-02"),
		"runs", len(runs),
		"changes_detected", report.ChangesDetected,
		"health_score", report.SystemHealthScore,
		"file", path,
	)
	return report, nil
}

// aggregate folds the day's runs and change records into one report.
func (g *Generator) aggregate(day time.Time, runs []*domain.DetectionRun, changes []*domain.ChangeRecord, stats *store.Stats) *domain.DailyReport {
	report := &domain.DailyReport{
		ID:                 store.ReportIDForDate(day),
		ReportDate:         day,
		GeneratedAt:        time.Now().UTC(),
		TotalBooksInSystem: stats.TotalBooks,
		ChangesByType:      make(map[domain.ChangeType]int),
		ChangesBySeverity:  make(map[domain.ChangeSeverity]int),
		SignificantChanges: []domain.ChangeRecord{},
		NewBooks:           []domain.NewBookEntry{},
		ErrorsEncountered:  []string{},
	}

	for _, run := range runs {
		report.BooksChecked += run.TotalBooksChecked
		report.ChangesDetected += run.ChangesDetected
		report.NewBooksAdded += run.NewBooks
		report.BooksUpdated += run.UpdatedBooks
		report.BooksRemoved += run.RemovedBooks
		report.TotalProcessingTime += run.DurationSeconds
		report.ErrorsEncountered = append(report.ErrorsEncountered, run.Errors...)

		for typ, count := range run.ChangesByType {
			report.ChangesByType[typ] += count
		}
		for sev, count := range run.ChangesBySeverity {
			report.ChangesBySeverity[sev] += count
		}
	}

	// The store lists newest-first; reports read oldest-first.
	ordered := slices.Clone(changes)
	slices.Reverse(ordered)

	for _, change := range ordered {
		if change.Severity == domain.SeverityHigh || change.Severity == domain.SeverityMedium {
			report.SignificantChanges = append(report.SignificantChanges, *change)
		}
		if change.Type == domain.ChangeTypeNewBook {
			name := ""
			if change.NewValue != nil {
				name = *change.NewValue
			}
			report.NewBooks = append(report.NewBooks, domain.NewBookEntry{
				BookID:     change.BookID,
				Name:       name,
				DetectedAt: change.DetectedAt,
			})
		}
	}

	if report.BooksChecked > 0 {
		report.AvgSecondsPerBook = report.TotalProcessingTime / float64(report.BooksChecked)
	}
	report.SystemHealthScore = healthScore(report.BooksChecked, report.ChangesDetected, len(report.ErrorsEncountered))

	return report
}

// History returns stored reports for the last N days, newest first.
// days <= 0 uses the configured default.
func (g *Generator) History(ctx context.Context, days int) ([]*domain.DailyReport, error) {
	if days <= 0 {
		days = g.opts.HistoryDays
	}

	to := time.Now().UTC()
	from := midnightUTC(to).AddDate(0, 0, -(days - 1))

	reports, err := g.store.ListReportsBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("loading report history: %w", err)
	}

	slices.Reverse(reports)
	return reports, nil
}

// CleanupOldReports deletes stored reports older than the retention window
// and returns how many were removed.
func (g *Generator) CleanupOldReports(ctx context.Context) (int, error) {
	cutoff := midnightUTC(time.Now().UTC()).AddDate(0, 0, -g.opts.RetentionDays)

	deleted, err := g.store.DeleteReportsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up reports: %w", err)
	}

	if deleted > 0 {
		g.logger.Info("cleaned up old reports",
			"deleted", deleted,
			"retention_days", g.opts.RetentionDays,
		)
	}
	return deleted, nil
}

// healthScore rates a day of detection activity between 0 and 1. A day
// with no books checked scores zero. Detected changes earn a small bonus
// since they prove the pipeline is looking.
func healthScore(booksChecked, changesDetected, errorCount int) float64 {
	if booksChecked == 0 {
		return 0.0
	}

	successRate := 1.0 - float64(errorCount)/float64(booksChecked)
	changeBonus := math.Min(float64(changesDetected)/float64(booksChecked), 0.1)

	score := math.Min(successRate+changeBonus, 1.0)
	if score < 0 {
		score = 0
	}
	return math.Round(score*100) / 100
}

// midnightUTC truncates a time to the start of its UTC calendar day.
func midnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
