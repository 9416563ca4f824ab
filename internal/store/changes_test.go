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

// createTestChange builds a change record with the given identity and time.
func createTestChange(id, bookID string, changeType domain.ChangeType, severity domain.ChangeSeverity, detectedAt time.Time) *domain.ChangeRecord {
	oldValue := "19.99"
	newValue := "24.99"
	return &domain.ChangeRecord{
		ID:              id,
		BookID:          bookID,
		SourceURL:       "https://books.toscrape.com/catalogue/test-book_1/index.html",
		Type:            changeType,
		Severity:        severity,
		FieldName:       "price_including_tax",
		OldValue:        &oldValue,
		NewValue:        &newValue,
		Summary:         "price_including_tax changed from '19.99' to '24.99'",
		DetectedAt:      detectedAt,
		ConfidenceScore: 1.0,
	}
}

// TestAppendChange tests storing and retrieving a change record
func TestAppendChange(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	change := createTestChange("change-001", "book_00000000000000000000000000000001", domain.ChangeTypePriceChange, domain.SeverityHigh, time.Now().UTC())

	err := store.AppendChange(ctx, change)
	require.NoError(t, err)

	retrieved, err := store.GetChange(ctx, "change-001")
	require.NoError(t, err)
	assert.Equal(t, change.BookID, retrieved.BookID)
	assert.Equal(t, domain.ChangeTypePriceChange, retrieved.Type)
	assert.Equal(t, domain.SeverityHigh, retrieved.Severity)
	assert.Equal(t, change.Summary, retrieved.Summary)
	require.NotNil(t, retrieved.OldValue)
	assert.Equal(t, "19.99", *retrieved.OldValue)
	assert.False(t, retrieved.Processed)
}

// TestAppendChange_RequiresID tests that records without an ID are rejected
func TestAppendChange_RequiresID(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	change := createTestChange("", "book_00000000000000000000000000000001", domain.ChangeTypePriceChange, domain.SeverityHigh, time.Now().UTC())

	err := store.AppendChange(context.Background(), change)
	assert.Error(t, err)
}

// TestGetChange_NotFound tests getting a nonexistent change record
func TestGetChange_NotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.GetChange(context.Background(), "missing")
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrChangeNotFound)
}

// TestListChanges_NewestFirst tests descending time ordering
func TestListChanges_NewestFirst(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		change := createTestChange(
			fmt.Sprintf("change-%03d", i),
			"book_00000000000000000000000000000001",
			domain.ChangeTypePriceChange,
			domain.SeverityHigh,
			base.Add(time.Duration(i)*time.Minute),
		)
		require.NoError(t, store.AppendChange(ctx, change))
	}

	changes, err := store.ListChanges(ctx, ChangeFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, changes, 3)
	assert.Equal(t, "change-002", changes[0].ID)
	assert.Equal(t, "change-001", changes[1].ID)
	assert.Equal(t, "change-000", changes[2].ID)
}

// TestListChanges_FilterByBook tests the book index
func TestListChanges_FilterByBook(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()

	first := "book_00000000000000000000000000000001"
	second := "book_00000000000000000000000000000002"

	require.NoError(t, store.AppendChange(ctx, createTestChange("change-a", first, domain.ChangeTypePriceChange, domain.SeverityHigh, now)))
	require.NoError(t, store.AppendChange(ctx, createTestChange("change-b", second, domain.ChangeTypePriceChange, domain.SeverityHigh, now)))
	require.NoError(t, store.AppendChange(ctx, createTestChange("change-c", first, domain.ChangeTypeRatingChange, domain.SeverityMedium, now.Add(time.Second))))

	changes, err := store.ListChanges(ctx, ChangeFilter{BookID: first}, 10)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	for _, change := range changes {
		assert.Equal(t, first, change.BookID)
	}
}

// TestListChanges_FilterByType tests the type index
func TestListChanges_FilterByType(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()
	bookID := "book_00000000000000000000000000000001"

	require.NoError(t, store.AppendChange(ctx, createTestChange("change-a", bookID, domain.ChangeTypePriceChange, domain.SeverityHigh, now)))
	require.NoError(t, store.AppendChange(ctx, createTestChange("change-b", bookID, domain.ChangeTypeAvailabilityChange, domain.SeverityMedium, now)))

	changes, err := store.ListChanges(ctx, ChangeFilter{Type: domain.ChangeTypeAvailabilityChange}, 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "change-b", changes[0].ID)
}

// TestListChanges_FilterBySeverity tests the severity index
func TestListChanges_FilterBySeverity(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()
	bookID := "book_00000000000000000000000000000001"

	require.NoError(t, store.AppendChange(ctx, createTestChange("change-a", bookID, domain.ChangeTypePriceChange, domain.SeverityHigh, now)))
	require.NoError(t, store.AppendChange(ctx, createTestChange("change-b", bookID, domain.ChangeTypeReviewsChange, domain.SeverityLow, now)))

	changes, err := store.ListChanges(ctx, ChangeFilter{Severity: domain.SeverityLow}, 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "change-b", changes[0].ID)
}

// TestListChanges_CombinedFilters tests a secondary filter applied on
// top of the scanned index
func TestListChanges_CombinedFilters(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()
	bookID := "book_00000000000000000000000000000001"

	require.NoError(t, store.AppendChange(ctx, createTestChange("change-a", bookID, domain.ChangeTypePriceChange, domain.SeverityHigh, now)))
	require.NoError(t, store.AppendChange(ctx, createTestChange("change-b", bookID, domain.ChangeTypeReviewsChange, domain.SeverityLow, now)))

	changes, err := store.ListChanges(ctx, ChangeFilter{BookID: bookID, Severity: domain.SeverityLow}, 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "change-b", changes[0].ID)
}

// TestListChanges_Since tests the time lower bound
func TestListChanges_Since(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Now().UTC()
	bookID := "book_00000000000000000000000000000001"

	require.NoError(t, store.AppendChange(ctx, createTestChange("change-old", bookID, domain.ChangeTypePriceChange, domain.SeverityHigh, base.Add(-2*time.Hour))))
	require.NoError(t, store.AppendChange(ctx, createTestChange("change-new", bookID, domain.ChangeTypePriceChange, domain.SeverityHigh, base)))

	since := base.Add(-time.Hour)
	changes, err := store.ListChanges(ctx, ChangeFilter{Since: &since}, 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "change-new", changes[0].ID)
}

// TestListChanges_Limit tests result truncation
func TestListChanges_Limit(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Now().UTC()
	bookID := "book_00000000000000000000000000000001"

	for i := 0; i < 5; i++ {
		change := createTestChange(fmt.Sprintf("change-%03d", i), bookID, domain.ChangeTypePriceChange, domain.SeverityHigh, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.AppendChange(ctx, change))
	}

	changes, err := store.ListChanges(ctx, ChangeFilter{}, 2)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "change-004", changes[0].ID)
	assert.Equal(t, "change-003", changes[1].ID)
}

// TestListChangesBetween tests inclusive time bounds
func TestListChangesBetween(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	bookID := "book_00000000000000000000000000000001"

	times := []time.Time{base, base.Add(time.Hour), base.Add(2 * time.Hour)}
	for i, ts := range times {
		change := createTestChange(fmt.Sprintf("change-%03d", i), bookID, domain.ChangeTypePriceChange, domain.SeverityHigh, ts)
		require.NoError(t, store.AppendChange(ctx, change))
	}

	// Bounds land exactly on the first two records
	changes, err := store.ListChangesBetween(ctx, times[0], times[1])
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "change-001", changes[0].ID)
	assert.Equal(t, "change-000", changes[1].ID)

	// A window before all records is empty
	changes, err = store.ListChangesBetween(ctx, base.Add(-2*time.Hour), base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, changes)
}

// TestCountChanges tests key-only counting with and without a bound
func TestCountChanges(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Now().UTC()
	bookID := "book_00000000000000000000000000000001"

	require.NoError(t, store.AppendChange(ctx, createTestChange("change-old", bookID, domain.ChangeTypePriceChange, domain.SeverityHigh, base.Add(-2*time.Hour))))
	require.NoError(t, store.AppendChange(ctx, createTestChange("change-new", bookID, domain.ChangeTypePriceChange, domain.SeverityHigh, base)))

	count, err := store.CountChanges(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	since := base.Add(-time.Hour)
	count, err = store.CountChanges(ctx, &since)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// TestMarkChangesProcessed tests flipping the processed flag
func TestMarkChangesProcessed(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()
	bookID := "book_00000000000000000000000000000001"

	require.NoError(t, store.AppendChange(ctx, createTestChange("change-a", bookID, domain.ChangeTypePriceChange, domain.SeverityHigh, now)))
	require.NoError(t, store.AppendChange(ctx, createTestChange("change-b", bookID, domain.ChangeTypePriceChange, domain.SeverityHigh, now)))

	// Missing IDs are skipped, not errors
	err := store.MarkChangesProcessed(ctx, []string{"change-a", "missing", "change-b"})
	require.NoError(t, err)

	for _, id := range []string{"change-a", "change-b"} {
		change, err := store.GetChange(ctx, id)
		require.NoError(t, err)
		assert.True(t, change.Processed)
		require.NotNil(t, change.ProcessedAt)
	}
}
