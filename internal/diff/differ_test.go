package diff

import (
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filerskeepers/bookwatch/internal/domain"
	"github.com/filerskeepers/bookwatch/internal/fingerprint"
)

func newTestDiffer() *Differ {
	return NewDiffer(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testBook() *domain.Book {
	rating := 3
	return &domain.Book{
		ID:                "book_00000000000000000000000000000001",
		SourceURL:         "https://books.toscrape.com/catalogue/a-light-in-the-attic_1000/index.html",
		Name:              "A Light in the Attic",
		Description:       "A classic collection of poetry and drawings.",
		Category:          "Poetry",
		PriceIncludingTax: decimal.RequireFromString("51.77"),
		PriceExcludingTax: decimal.RequireFromString("51.77"),
		Availability:      domain.AvailabilityInStock,
		Rating:            &rating,
		NumberOfReviews:   8,
		ImageURL:          "https://books.toscrape.com/media/cache/fe/72/attic.jpg",
		Status:            domain.CrawlStatusCompleted,
	}
}

// TestCompare_FastPath tests that a matching fingerprint skips the field walk
func TestCompare_FastPath(t *testing.T) {
	differ := newTestDiffer()
	stored := testBook()
	current := testBook()

	storedFP, err := fingerprint.Compute(stored)
	require.NoError(t, err)

	result, err := differ.Compare(stored, current, storedFP)
	require.NoError(t, err)

	assert.True(t, result.FastPath)
	assert.Empty(t, result.Changes)
	require.NotNil(t, result.Fingerprint)
	assert.Equal(t, storedFP.ContentHash, result.Fingerprint.ContentHash)
}

// TestCompare_NoFingerprintNoChanges tests the slow path on identical books
func TestCompare_NoFingerprintNoChanges(t *testing.T) {
	differ := newTestDiffer()

	result, err := differ.Compare(testBook(), testBook(), nil)
	require.NoError(t, err)

	assert.False(t, result.FastPath)
	assert.Empty(t, result.Changes)
	assert.NotNil(t, result.Fingerprint, "caller needs the fingerprint to backfill")
}

// TestCompare_PriceChange tests classification and exact value rendering
func TestCompare_PriceChange(t *testing.T) {
	differ := newTestDiffer()
	stored := testBook()
	current := testBook()
	current.PriceIncludingTax = decimal.RequireFromString("49.99")

	storedFP, err := fingerprint.Compute(stored)
	require.NoError(t, err)

	result, err := differ.Compare(stored, current, storedFP)
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)

	change := result.Changes[0]
	assert.Equal(t, domain.ChangeTypePriceChange, change.Type)
	assert.Equal(t, domain.SeverityHigh, change.Severity)
	assert.Equal(t, "price_including_tax", change.FieldName)
	require.NotNil(t, change.OldValue)
	require.NotNil(t, change.NewValue)
	assert.Equal(t, "51.77", *change.OldValue)
	assert.Equal(t, "49.99", *change.NewValue)
	assert.Equal(t, "price_including_tax changed from '51.77' to '49.99'", change.Summary)
	assert.Equal(t, 1.0, change.ConfidenceScore)
	assert.NotEmpty(t, change.ID)
	assert.False(t, change.DetectedAt.IsZero())
	assert.Equal(t, stored.ID, change.BookID)
	assert.Equal(t, stored.SourceURL, change.SourceURL)
}

// TestCompare_EquivalentDecimalsAreEqual tests that 51.77 vs 51.770 is not a change
func TestCompare_EquivalentDecimalsAreEqual(t *testing.T) {
	differ := newTestDiffer()
	stored := testBook()
	current := testBook()
	current.PriceIncludingTax = decimal.RequireFromString("51.770")

	result, err := differ.Compare(stored, current, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Changes)
}

// TestCompare_RatingAppears tests nil-to-value rendering
func TestCompare_RatingAppears(t *testing.T) {
	differ := newTestDiffer()
	stored := testBook()
	stored.Rating = nil
	current := testBook()

	result, err := differ.Compare(stored, current, nil)
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)

	change := result.Changes[0]
	assert.Equal(t, domain.ChangeTypeRatingChange, change.Type)
	assert.Equal(t, domain.SeverityMedium, change.Severity)
	assert.Nil(t, change.OldValue)
	require.NotNil(t, change.NewValue)
	assert.Equal(t, "3", *change.NewValue)
	assert.Equal(t, "rating changed from 'null' to '3'", change.Summary)
}

// TestCompare_AvailabilityFlip tests wire-string rendering of enums
func TestCompare_AvailabilityFlip(t *testing.T) {
	differ := newTestDiffer()
	stored := testBook()
	current := testBook()
	current.Availability = domain.AvailabilityOutOfStock

	result, err := differ.Compare(stored, current, nil)
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)

	change := result.Changes[0]
	assert.Equal(t, domain.ChangeTypeAvailabilityChange, change.Type)
	assert.Equal(t, domain.SeverityMedium, change.Severity)
	assert.Equal(t, "availability changed from 'in_stock' to 'out_of_stock'", change.Summary)
}

// TestCompare_NameChange tests the high-severity name rule
func TestCompare_NameChange(t *testing.T) {
	differ := newTestDiffer()
	stored := testBook()
	current := testBook()
	current.Name = "A Light in the Attic (Anniversary Edition)"

	result, err := differ.Compare(stored, current, nil)
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)

	change := result.Changes[0]
	assert.Equal(t, domain.ChangeTypeDescriptionChange, change.Type)
	assert.Equal(t, domain.SeverityHigh, change.Severity)
	assert.Equal(t, "name", change.FieldName)
}

// TestCompare_WalkOrder tests that multiple changes come out in fixed field order
func TestCompare_WalkOrder(t *testing.T) {
	differ := newTestDiffer()
	stored := testBook()
	current := testBook()
	current.ImageURL = "https://books.toscrape.com/media/cache/aa/bb/new.jpg"
	current.NumberOfReviews = 9
	current.Category = "Classics"
	current.PriceExcludingTax = decimal.RequireFromString("48.00")

	result, err := differ.Compare(stored, current, nil)
	require.NoError(t, err)
	require.Len(t, result.Changes, 4)

	assert.Equal(t, "category", result.Changes[0].FieldName)
	assert.Equal(t, "price_excluding_tax", result.Changes[1].FieldName)
	assert.Equal(t, "number_of_reviews", result.Changes[2].FieldName)
	assert.Equal(t, "image_url", result.Changes[3].FieldName)

	assert.Equal(t, domain.ChangeTypeCategoryChange, result.Changes[0].Type)
	assert.Equal(t, domain.ChangeTypePriceChange, result.Changes[1].Type)
	assert.Equal(t, domain.ChangeTypeReviewsChange, result.Changes[2].Type)
	assert.Equal(t, domain.ChangeTypeImageChange, result.Changes[3].Type)

	// Distinct record IDs
	seen := map[string]bool{}
	for _, c := range result.Changes {
		seen[c.ID] = true
	}
	assert.Len(t, seen, 4)
}

// TestCompare_StaleFingerprintStillDiffs tests that a stale stored fingerprint
// forces the field walk even when one hash group is unchanged
func TestCompare_StaleFingerprintStillDiffs(t *testing.T) {
	differ := newTestDiffer()
	stored := testBook()
	current := testBook()
	current.ImageURL = "https://books.toscrape.com/media/cache/aa/bb/new.jpg"

	// image_url is covered by the metadata hash only; the content hash
	// still matches, so a content-only fast path would miss this.
	storedFP, err := fingerprint.Compute(stored)
	require.NoError(t, err)

	result, err := differ.Compare(stored, current, storedFP)
	require.NoError(t, err)
	assert.False(t, result.FastPath)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, domain.ChangeTypeImageChange, result.Changes[0].Type)
}
