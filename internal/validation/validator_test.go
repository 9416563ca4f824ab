package validation_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filerskeepers/bookwatch/internal/domain"
	"github.com/filerskeepers/bookwatch/internal/errors"
	"github.com/filerskeepers/bookwatch/internal/validation"
)

func validBook() domain.Book {
	rating := 4
	return domain.Book{
		Timestamps: domain.Timestamps{
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		},
		ID:                "book_a3c5e9f1",
		SourceURL:         "https://books.toscrape.com/catalogue/a-light-in-the-attic_1000/index.html",
		Name:              "A Light in the Attic",
		Description:       "Poems.",
		Category:          "Poetry",
		PriceIncludingTax: decimal.RequireFromString("51.77"),
		PriceExcludingTax: decimal.RequireFromString("51.77"),
		Availability:      domain.AvailabilityInStock,
		Rating:            &rating,
		NumberOfReviews:   0,
		ImageURL:          "https://books.toscrape.com/media/cache/fe/72/cover.jpg",
		Status:            domain.CrawlStatusCompleted,
	}
}

func TestValidator_ValidBook(t *testing.T) {
	v := validation.New()

	err := v.Validate(validBook())
	assert.NoError(t, err)
}

func TestValidator_NilRatingAllowed(t *testing.T) {
	v := validation.New()

	book := validBook()
	book.Rating = nil

	assert.NoError(t, v.Validate(book))
}

// Parse fallbacks produce zero prices and empty text fields; those records
// must stay storable.
func TestValidator_FallbackValuesAllowed(t *testing.T) {
	v := validation.New()

	book := validBook()
	book.Name = ""
	book.ImageURL = ""
	book.PriceIncludingTax = decimal.Zero
	book.PriceExcludingTax = decimal.Zero

	assert.NoError(t, v.Validate(book))
}

func TestValidator_BookInvariants(t *testing.T) {
	v := validation.New()

	six := 6
	tests := []struct {
		name      string
		mutate    func(*domain.Book)
		wantField string
	}{
		{
			name:      "negative price rejected",
			mutate:    func(b *domain.Book) { b.PriceIncludingTax = decimal.RequireFromString("-19.99") },
			wantField: "price_including_tax",
		},
		{
			name:      "negative excluding-tax price rejected",
			mutate:    func(b *domain.Book) { b.PriceExcludingTax = decimal.RequireFromString("-1.00") },
			wantField: "price_excluding_tax",
		},
		{
			name:      "negative review count rejected",
			mutate:    func(b *domain.Book) { b.NumberOfReviews = -1 },
			wantField: "number_of_reviews",
		},
		{
			name:      "rating out of range rejected",
			mutate:    func(b *domain.Book) { b.Rating = &six },
			wantField: "rating",
		},
		{
			name:      "missing source url rejected",
			mutate:    func(b *domain.Book) { b.SourceURL = "" },
			wantField: "source_url",
		},
		{
			name:      "availability outside enum rejected",
			mutate:    func(b *domain.Book) { b.Availability = "backorder" },
			wantField: "availability",
		},
		{
			name:      "malformed image url rejected",
			mutate:    func(b *domain.Book) { b.ImageURL = "not a url" },
			wantField: "image_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := validBook()
			tt.mutate(&book)

			err := v.Validate(book)
			require.Error(t, err)

			var domainErr *errors.Error
			require.True(t, errors.As(err, &domainErr))
			assert.Equal(t, http.StatusBadRequest, domainErr.HTTPStatus())
			assert.Contains(t, domainErr.Message, tt.wantField)
		})
	}
}

func TestValidator_JSONFieldNames(t *testing.T) {
	v := validation.New()

	book := validBook()
	book.SourceURL = ""

	err := v.Validate(book)
	require.Error(t, err)

	// Messages name fields by their JSON tag, not the Go field name.
	assert.Contains(t, err.Error(), "source_url")
	assert.NotContains(t, err.Error(), "SourceURL")
}
