package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filerskeepers/bookwatch/internal/domain"
)

// createTestRun builds a finished detection run summary.
func createTestRun(id string, startedAt time.Time) *domain.DetectionRun {
	run := domain.NewDetectionRun(id, startedAt)
	run.TotalBooksChecked = 100
	run.CountChange(createTestChange("c1", "book_00000000000000000000000000000001", domain.ChangeTypePriceChange, domain.SeverityHigh, startedAt))
	run.Finish(startedAt.Add(90 * time.Second))
	return run
}

// TestAppendDetectionRun tests storing and retrieving a run summary
func TestAppendDetectionRun(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	run := createTestRun("run-001", time.Now().UTC())

	err := store.AppendDetectionRun(ctx, run)
	require.NoError(t, err)

	retrieved, err := store.GetDetectionRun(ctx, "run-001")
	require.NoError(t, err)
	assert.Equal(t, 100, retrieved.TotalBooksChecked)
	assert.Equal(t, 1, retrieved.ChangesDetected)
	assert.Equal(t, 1, retrieved.ChangesByType[domain.ChangeTypePriceChange])
	assert.Equal(t, 1, retrieved.ChangesBySeverity[domain.SeverityHigh])
	assert.InDelta(t, 90.0, retrieved.DurationSeconds, 0.001)
	assert.True(t, retrieved.Success)
}

// TestAppendDetectionRun_RequiresID tests that runs without an ID are rejected
func TestAppendDetectionRun_RequiresID(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	run := createTestRun("", time.Now().UTC())

	err := store.AppendDetectionRun(context.Background(), run)
	assert.Error(t, err)
}

// TestGetDetectionRun_NotFound tests getting a nonexistent run
func TestGetDetectionRun_NotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.GetDetectionRun(context.Background(), "missing")
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

// TestListDetectionRuns_NewestFirst tests descending time ordering
func TestListDetectionRuns_NewestFirst(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		run := createTestRun(fmt.Sprintf("run-%03d", i), base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, store.AppendDetectionRun(ctx, run))
	}

	runs, err := store.ListDetectionRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-002", runs[0].ID)
	assert.Equal(t, "run-001", runs[1].ID)
	assert.Equal(t, "run-000", runs[2].ID)

	// Limit truncates from the newest end
	runs, err = store.ListDetectionRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-002", runs[0].ID)
}

// TestListDetectionRunsBetween tests inclusive time-window queries
func TestListDetectionRunsBetween(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		run := createTestRun(fmt.Sprintf("run-%03d", i), base.Add(time.Duration(i)*24*time.Hour))
		require.NoError(t, store.AppendDetectionRun(ctx, run))
	}

	// Window covering the middle two days only
	runs, err := store.ListDetectionRunsBetween(ctx, base.Add(12*time.Hour), base.Add(60*time.Hour))
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-002", runs[0].ID)
	assert.Equal(t, "run-001", runs[1].ID)

	// Inclusive bounds
	runs, err = store.ListDetectionRunsBetween(ctx, base, base)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-000", runs[0].ID)

	// Empty window
	runs, err = store.ListDetectionRunsBetween(ctx, base.Add(-48*time.Hour), base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, runs)
}

// TestLatestDetectionRun tests fetching the most recent run
func TestLatestDetectionRun(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()

	// Empty store has no latest run
	_, err := store.LatestDetectionRun(ctx)
	assert.ErrorIs(t, err, ErrRunNotFound)

	base := time.Now().UTC()
	require.NoError(t, store.AppendDetectionRun(ctx, createTestRun("run-old", base.Add(-time.Hour))))
	require.NoError(t, store.AppendDetectionRun(ctx, createTestRun("run-new", base)))

	latest, err := store.LatestDetectionRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-new", latest.ID)
}
