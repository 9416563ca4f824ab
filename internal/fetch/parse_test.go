package fetch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/antchfx/htmlquery"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/filerskeepers/bookwatch/internal/domain"
)

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err, "loading fixture %s", name)
	return string(data)
}

func parseFixture(t *testing.T, content string) *html.Node {
	t.Helper()
	doc, err := htmlquery.Parse(strings.NewReader(content))
	require.NoError(t, err)
	return doc
}

// TestParseBook tests full field extraction from a product detail page
func TestParseBook(t *testing.T) {
	doc := parseFixture(t, loadFixture(t, "book.html"))
	bookURL := "https://books.toscrape.com/catalogue/a-light-in-the-attic_1000/index.html"

	book := parseBook(doc, bookURL)

	assert.Equal(t, "book_", book.ID[:5])
	assert.Len(t, book.ID, 37)
	assert.Equal(t, bookURL, book.SourceURL)
	assert.Equal(t, "A Light in the Attic", book.Name)
	assert.Contains(t, book.Description, "hard to imagine a world without")
	assert.Equal(t, "Poetry", book.Category)
	assert.True(t, book.PriceIncludingTax.Equal(decimal.RequireFromString("51.77")),
		"got %s", book.PriceIncludingTax)
	assert.True(t, book.PriceExcludingTax.Equal(decimal.RequireFromString("49.43")),
		"got %s", book.PriceExcludingTax)
	assert.Equal(t, domain.AvailabilityInStock, book.Availability)
	assert.Equal(t, 8, book.NumberOfReviews)
	require.NotNil(t, book.Rating)
	assert.Equal(t, 3, *book.Rating)
	assert.Equal(t, "https://books.toscrape.com/media/cache/fe/72/fe72f0e4a172bed6c64d10fa6d6225a5.jpg", book.ImageURL)
	assert.Equal(t, domain.CrawlStatusCompleted, book.Status)
}

// TestParseBook_MissingFields tests that a sparse page degrades to zero values
func TestParseBook_MissingFields(t *testing.T) {
	doc := parseFixture(t, `<html><body><h1>Bare Book</h1></body></html>`)

	book := parseBook(doc, "https://books.toscrape.com/catalogue/bare_1/index.html")

	assert.Equal(t, "Bare Book", book.Name)
	assert.Empty(t, book.Description)
	assert.Empty(t, book.Category)
	assert.True(t, book.PriceIncludingTax.IsZero())
	assert.True(t, book.PriceExcludingTax.IsZero())
	assert.Equal(t, domain.AvailabilityOutOfStock, book.Availability)
	assert.Zero(t, book.NumberOfReviews)
	assert.Nil(t, book.Rating)
	assert.Empty(t, book.ImageURL)
}

// TestParseBook_HTMLDescription tests Markdown normalization of markup in descriptions
func TestParseBook_HTMLDescription(t *testing.T) {
	doc := parseFixture(t, `<html><body>
		<div id="product_description"><h2>Product Description</h2></div>
		<p>A tale of &lt;b&gt;bold&lt;/b&gt; adventure.</p>
	</body></html>`)

	book := parseBook(doc, "https://books.toscrape.com/catalogue/x_1/index.html")

	// Entity-decoded markup is converted, not echoed
	assert.Equal(t, "A tale of **bold** adventure.", book.Description)
}

// TestParseBookLinks tests URL extraction and resolution from a listing page
func TestParseBookLinks(t *testing.T) {
	doc := parseFixture(t, loadFixture(t, "catalog_page.html"))

	links := parseBookLinks(doc, "https://books.toscrape.com/")

	require.Len(t, links, 3)
	assert.Equal(t, "https://books.toscrape.com/catalogue/a-light-in-the-attic_1000/index.html", links[0])
	assert.Equal(t, "https://books.toscrape.com/catalogue/tipping-the-velvet_999/index.html", links[1])
	assert.Equal(t, "https://books.toscrape.com/catalogue/soumission_998/index.html", links[2])
}

// TestParseBookLinks_RelativeToCataloguePage tests resolution against deep page URLs
func TestParseBookLinks_RelativeToCataloguePage(t *testing.T) {
	doc := parseFixture(t, `<html><body>
		<article class="product_pod"><h3><a href="in-her-wake_980/index.html">In Her Wake</a></h3></article>
	</body></html>`)

	links := parseBookLinks(doc, "https://books.toscrape.com/catalogue/page-2.html")

	require.Len(t, links, 1)
	assert.Equal(t, "https://books.toscrape.com/catalogue/in-her-wake_980/index.html", links[0])
}

// TestHasNextPager tests next-control detection
func TestHasNextPager(t *testing.T) {
	withNext := parseFixture(t, loadFixture(t, "catalog_page.html"))
	assert.True(t, hasNextPager(withNext))

	withoutNext := parseFixture(t, `<html><body><ul class="pager"><li class="current">Page 1 of 1</li></ul></body></html>`)
	assert.False(t, hasNextPager(withoutNext))
}

// TestParsePrice tests currency stripping and malformed fallbacks
func TestParsePrice(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"pound sign", "£51.77", "51.77"},
		{"mojibake prefix", "Â£53.74", "53.74"},
		{"plain number", "19.99", "19.99"},
		{"whitespace", "  £10.00  ", "10.00"},
		{"empty", "", "0"},
		{"no digits", "free", "0"},
		{"two dots", "£1.2.3", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parsePrice(tt.text)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)),
				"parsePrice(%q) = %s, want %s", tt.text, got, tt.want)
		})
	}
}

// TestParseAvailability tests the in-stock substring rule
func TestParseAvailability(t *testing.T) {
	tests := []struct {
		text string
		want domain.Availability
	}{
		{"In stock (22 available)", domain.AvailabilityInStock},
		{"IN STOCK", domain.AvailabilityInStock},
		{"Out of stock", domain.AvailabilityOutOfStock},
		{"", domain.AvailabilityOutOfStock},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseAvailability(tt.text), "text %q", tt.text)
	}
}

// TestParseReviewCount tests first-integer extraction
func TestParseReviewCount(t *testing.T) {
	assert.Equal(t, 8, parseReviewCount("8"))
	assert.Equal(t, 12, parseReviewCount("12 reviews (3 verified)"))
	assert.Equal(t, 0, parseReviewCount(""))
	assert.Equal(t, 0, parseReviewCount("none"))
}

// TestParseRating tests star-rating class mapping
func TestParseRating(t *testing.T) {
	tests := []struct {
		name string
		html string
		want *int
	}{
		{"three stars", `<p class="star-rating Three"></p>`, intPtr(3)},
		{"five stars", `<p class="star-rating Five"></p>`, intPtr(5)},
		{"one star", `<p class="star-rating One"></p>`, intPtr(1)},
		{"no rating word", `<p class="star-rating"></p>`, nil},
		{"no element", `<p class="other"></p>`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parseFixture(t, "<html><body>"+tt.html+"</body></html>")
			got := parseRating(doc)
			if tt.want == nil {
				assert.Nil(t, got)
			} else {
				require.NotNil(t, got)
				assert.Equal(t, *tt.want, *got)
			}
		})
	}
}

// TestNormalizeDescription tests the containsHTML guard and conversion
func TestNormalizeDescription(t *testing.T) {
	assert.Equal(t, "plain text stays", normalizeDescription("plain text stays"))
	assert.Equal(t, "**bold** move", normalizeDescription("<p><b>bold</b> move</p>"))
	assert.Empty(t, normalizeDescription(""))

	// A lone angle bracket is not markup
	assert.Equal(t, "1 < 2", normalizeDescription("1 < 2"))
}

func intPtr(n int) *int { return &n }
