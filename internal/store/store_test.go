package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filerskeepers/bookwatch/internal/domain"
	"github.com/filerskeepers/bookwatch/internal/fingerprint"
)

// setupTestStore creates a temporary store for testing
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	// Create temp directory for test database
	tmpDir, err := os.MkdirTemp("", "bookwatch-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := New(dbPath, nil)
	require.NoError(t, err)
	require.NotNil(t, store)

	// Return cleanup function
	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

// createTestBook builds a catalog book whose ID is derived from its
// source URL, the same way the crawler does it.
func createTestBook(slug string) *domain.Book {
	sourceURL := "https://books.toscrape.com/catalogue/" + slug + "/index.html"
	rating := 3
	return &domain.Book{
		ID:                fingerprint.BookID(sourceURL),
		SourceURL:         sourceURL,
		Name:              "Test Book " + slug,
		Description:       "A test book description",
		Category:          "Fiction",
		PriceIncludingTax: decimal.RequireFromString("19.99"),
		PriceExcludingTax: decimal.RequireFromString("19.99"),
		Availability:      domain.AvailabilityInStock,
		Rating:            &rating,
		NumberOfReviews:   5,
		ImageURL:          "https://books.toscrape.com/media/" + slug + ".jpg",
		Status:            domain.CrawlStatusCompleted,
		CrawlTimestamp:    time.Now().UTC(),
	}
}

// TestNew_OpensDatabase tests that the store opens and closes cleanly.
func TestNew_OpensDatabase(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	require.NotNil(t, store.db)
	require.NotNil(t, store.Fingerprints)
}

// TestStats tests aggregate counts across all collections.
func TestStats(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()

	// Two active books in different categories, one removed
	first := createTestBook("first-book")
	second := createTestBook("second-book")
	second.Category = "Poetry"
	gone := createTestBook("gone-book")

	require.NoError(t, store.CreateBook(ctx, first))
	require.NoError(t, store.CreateBook(ctx, second))
	require.NoError(t, store.CreateBook(ctx, gone))

	_, err := store.MarkBookRemoved(ctx, gone.ID)
	require.NoError(t, err)

	fp := &domain.Fingerprint{
		BookID:           first.ID,
		SourceURL:        first.SourceURL,
		ContentHash:      "aa",
		PriceHash:        "bb",
		AvailabilityHash: "cc",
		MetadataHash:     "dd",
	}
	require.NoError(t, store.CreateFingerprint(ctx, fp))

	change := createTestChange("change-001", first.ID, domain.ChangeTypePriceChange, domain.SeverityHigh, time.Now().UTC())
	require.NoError(t, store.AppendChange(ctx, change))

	run := domain.NewDetectionRun("run-001", time.Now().UTC())
	require.NoError(t, store.AppendDetectionRun(ctx, run))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalBooks)
	assert.Equal(t, 2, stats.ActiveBooks)
	assert.Equal(t, 1, stats.RemovedBooks)
	assert.Equal(t, 2, stats.BooksByStatus["completed"])
	assert.Equal(t, 1, stats.BooksByStatus["removed"])
	assert.Equal(t, 2, stats.Categories)
	assert.Equal(t, 1, stats.Fingerprints)
	assert.Equal(t, 1, stats.TotalChanges)
	assert.Equal(t, 1, stats.DetectionRuns)
}

// TestStats_EmptyStore tests stats on a freshly opened store.
func TestStats_EmptyStore(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.TotalBooks)
	assert.Equal(t, 0, stats.ActiveBooks)
	assert.Equal(t, 0, stats.Fingerprints)
	assert.Equal(t, 0, stats.TotalChanges)
	assert.Empty(t, stats.BooksByStatus)
}
