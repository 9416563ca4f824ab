package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filerskeepers/bookwatch/internal/domain"
)

// createTestReport builds a daily report for the given day.
func createTestReport(date time.Time) *domain.DailyReport {
	return &domain.DailyReport{
		ReportDate:         date,
		GeneratedAt:        date.Add(24 * time.Hour),
		TotalBooksInSystem: 1000,
		BooksChecked:       1000,
		ChangesDetected:    12,
		ChangesByType: map[domain.ChangeType]int{
			domain.ChangeTypePriceChange: 12,
		},
		ChangesBySeverity: map[domain.ChangeSeverity]int{
			domain.SeverityHigh: 12,
		},
		SystemHealthScore: 0.99,
	}
}

// TestReportIDForDate tests the deterministic date-based ID
func TestReportIDForDate(t *testing.T) {
	date := time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, "report_20260315", ReportIDForDate(date))

	// Non-UTC input normalizes to the UTC calendar day
	sydney := time.FixedZone("AEST", 10*3600)
	early := time.Date(2026, 3, 15, 2, 0, 0, 0, sydney)
	assert.Equal(t, "report_20260314", ReportIDForDate(early))
}

// TestSaveDailyReport tests saving and retrieving a report
func TestSaveDailyReport(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	date := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	report := createTestReport(date)

	err := store.SaveDailyReport(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, "report_20260820", report.ID)

	retrieved, err := store.GetDailyReport(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, 12, retrieved.ChangesDetected)
	assert.Equal(t, 1000, retrieved.BooksChecked)
	assert.InDelta(t, 0.99, retrieved.SystemHealthScore, 0.001)
}

// TestSaveDailyReport_ReplacesSameDay tests that regenerating a report
// overwrites the previous one
func TestSaveDailyReport_ReplacesSameDay(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	date := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	first := createTestReport(date)
	require.NoError(t, store.SaveDailyReport(ctx, first))

	second := createTestReport(date)
	second.ChangesDetected = 40
	require.NoError(t, store.SaveDailyReport(ctx, second))

	retrieved, err := store.GetDailyReport(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, 40, retrieved.ChangesDetected)
}

// TestGetDailyReport_NotFound tests getting a report for a day without one
func TestGetDailyReport_NotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.GetDailyReport(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrReportNotFound)
}

// TestListReportsBetween tests the inclusive date range scan
func TestListReportsBetween(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Date(2026, 8, 18, 0, 0, 0, 0, time.UTC)

	for day := 0; day < 4; day++ {
		report := createTestReport(base.AddDate(0, 0, day))
		require.NoError(t, store.SaveDailyReport(ctx, report))
	}

	reports, err := store.ListReportsBetween(ctx, base.AddDate(0, 0, 1), base.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, reports, 2)

	// Oldest first
	assert.Equal(t, "report_20260819", reports[0].ID)
	assert.Equal(t, "report_20260820", reports[1].ID)
}

// TestDeleteReportsBefore tests retention cleanup
func TestDeleteReportsBefore(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for day := 0; day < 5; day++ {
		report := createTestReport(base.AddDate(0, 0, day))
		require.NoError(t, store.SaveDailyReport(ctx, report))
	}

	// Cutoff keeps the cutoff day itself
	deleted, err := store.DeleteReportsBefore(ctx, base.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, err = store.GetDailyReport(ctx, base)
	assert.ErrorIs(t, err, ErrReportNotFound)

	_, err = store.GetDailyReport(ctx, base.AddDate(0, 0, 2))
	require.NoError(t, err)

	// A second pass finds nothing to delete
	deleted, err = store.DeleteReportsBefore(ctx, base.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}
