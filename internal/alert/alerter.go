// Package alert raises operator-facing log alerts for detected catalog
// changes. Alerts are filtered by a severity floor and throttled by an
// hourly cap plus a cooldown between consecutive alerts of the same kind.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/filerskeepers/bookwatch/internal/domain"
	"github.com/filerskeepers/bookwatch/internal/store"
)

const alertKindChanges = "changes"

// Options tunes alert dispatch.
type Options struct {
	Enabled bool
	// MinSeverity is the floor below which changes are not alerted.
	MinSeverity domain.ChangeSeverity
	// MaxPerHour caps alerts per kind in a sliding hour. Zero or negative
	// means no cap.
	MaxPerHour int
	// Cooldown is the minimum gap between alerts of the same kind. Zero
	// means none.
	Cooldown time.Duration
}

// Alerter dispatches change alerts and daily summaries to the log. Safe
// for concurrent use.
type Alerter struct {
	store  *store.Store
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	history  map[string][]time.Time
	lastSent map[string]time.Time
}

// NewAlerter creates an alerter over the given store. The store is used
// to flag alerted changes as processed.
func NewAlerter(st *store.Store, opts Options, logger *slog.Logger) *Alerter {
	if opts.MinSeverity.Rank() == 0 {
		opts.MinSeverity = domain.SeverityLow
	}

	return &Alerter{
		store:    st,
		opts:     opts,
		logger:   logger,
		history:  make(map[string][]time.Time),
		lastSent: make(map[string]time.Time),
	}
}

// ProcessChanges raises one aggregate alert for the given changes and
// marks the alerted records as processed. Changes below the severity
// floor or already processed are ignored.
func (a *Alerter) ProcessChanges(ctx context.Context, changes []*domain.ChangeRecord) error {
	if !a.opts.Enabled {
		a.logger.Debug("alerting is disabled")
		return nil
	}

	alertable := a.filter(changes)
	if len(alertable) == 0 {
		a.logger.Info("processed change alerts",
			"total_changes", len(changes), "alerted", 0)
		return nil
	}

	ok, reason := a.allow(alertKindChanges)
	if !ok {
		a.logger.Warn("change alert suppressed",
			"reason", reason,
			"changes_count", len(alertable),
		)
		return nil
	}

	a.logger.Warn("change detection alert",
		"message", alertMessage(alertable),
		"changes_count", len(alertable),
	)

	ids := make([]string, len(alertable))
	for i, change := range alertable {
		ids[i] = change.ID
	}
	if err := a.store.MarkChangesProcessed(ctx, ids); err != nil {
		return fmt.Errorf("marking changes processed: %w", err)
	}

	a.logger.Info("processed change alerts",
		"total_changes", len(changes), "alerted", len(alertable))
	return nil
}

// SendDailySummary logs the end-of-day report digest.
func (a *Alerter) SendDailySummary(report *domain.DailyReport) {
	if !a.opts.Enabled {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Daily Book Change Report - %s\n\n", report.ReportDate.Format("2006-01-02"))
	b.WriteString("Summary:\n")
	fmt.Fprintf(&b, "- Total books checked: %d\n", report.BooksChecked)
	fmt.Fprintf(&b, "- Changes detected: %d\n", report.ChangesDetected)
	fmt.Fprintf(&b, "- New books: %d\n", report.NewBooksAdded)
	fmt.Fprintf(&b, "- Updated books: %d\n", report.BooksUpdated)
	fmt.Fprintf(&b, "- Removed books: %d\n", report.BooksRemoved)

	b.WriteString("\nChanges by Type:\n")
	for _, typ := range sortedTypes(report.ChangesByType) {
		fmt.Fprintf(&b, "- %s: %d\n", typ.Label(), report.ChangesByType[typ])
	}

	b.WriteString("\nChanges by Severity:\n")
	for _, sev := range sortedSeverities(report.ChangesBySeverity) {
		fmt.Fprintf(&b, "- %s: %d\n", sev.Label(), report.ChangesBySeverity[sev])
	}

	a.logger.Info("daily change detection summary",
		"report_date", report.ReportDate.Format("2006-01-02"),
		"message", strings.TrimSpace(b.String()),
	)
}

// filter keeps changes at or above the severity floor that have not been
// alerted before.
func (a *Alerter) filter(changes []*domain.ChangeRecord) []*domain.ChangeRecord {
	var kept []*domain.ChangeRecord
	for _, change := range changes {
		if change.Processed {
			continue
		}
		if !change.Severity.AtLeast(a.opts.MinSeverity) {
			continue
		}
		kept = append(kept, change)
	}
	return kept
}

// allow checks the cooldown and hourly cap for an alert kind, recording
// the send when allowed.
func (a *Alerter) allow(kind string) (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()

	if last, ok := a.lastSent[kind]; ok && a.opts.Cooldown > 0 && now.Sub(last) < a.opts.Cooldown {
		return false, "cooldown"
	}

	cutoff := now.Add(-time.Hour)
	kept := a.history[kind][:0]
	for _, ts := range a.history[kind] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if a.opts.MaxPerHour > 0 && len(kept) >= a.opts.MaxPerHour {
		a.history[kind] = kept
		return false, "rate_limited"
	}

	a.history[kind] = append(kept, now)
	a.lastSent[kind] = now
	return true, ""
}

// alertMessage renders the aggregate alert line, one clause per change in
// input order.
func alertMessage(changes []*domain.ChangeRecord) string {
	parts := make([]string, len(changes))
	for i, change := range changes {
		parts[i] = fmt.Sprintf("%s: %s (Severity: %s)", change.Type, change.Summary, change.Severity)
	}
	return fmt.Sprintf("Detected %d changes: %s", len(changes), strings.Join(parts, "; "))
}

func sortedTypes(m map[domain.ChangeType]int) []domain.ChangeType {
	keys := make([]domain.ChangeType, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func sortedSeverities(m map[domain.ChangeSeverity]int) []domain.ChangeSeverity {
	keys := make([]domain.ChangeSeverity, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(x, y domain.ChangeSeverity) int {
		return x.Rank() - y.Rank()
	})
	return keys
}
