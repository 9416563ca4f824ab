package fetch

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"

	"github.com/filerskeepers/bookwatch/internal/domain"
	"github.com/filerskeepers/bookwatch/internal/fingerprint"
)

// XPath expressions for the product detail page. Each field is scoped to
// its own expression so one missing element never aborts the rest of the
// extraction.
const (
	xpathName         = "//h1"
	xpathDescription  = "//div[@id='product_description']/following-sibling::p[1]"
	xpathCategory     = "//ul[contains(@class,'breadcrumb')]/li[3]/a"
	xpathPriceIncl    = "//p[contains(@class,'price_color')]"
	xpathPriceExcl    = "//table[contains(@class,'table')]//tr[3]/td"
	xpathAvailability = "//p[contains(@class,'availability')]"
	xpathReviews      = "//table[contains(@class,'table')]//tr[7]/td"
	xpathImage        = "//div[contains(@class,'item') and contains(@class,'active')]//img"
	xpathRating       = "//p[contains(@class,'star-rating')]"

	xpathBookLinks = "//article[contains(@class,'product_pod')]//h3/a"
	xpathNextPager = "//li[contains(@class,'next')]"
)

var (
	nonPriceRunes = regexp.MustCompile(`[^\d.]`)
	integerRun    = regexp.MustCompile(`\d+`)
)

// ratingWords maps the star-rating class word to its numeric value.
var ratingWords = map[string]int{
	"One":   1,
	"Two":   2,
	"Three": 3,
	"Four":  4,
	"Five":  5,
}

// parseBook extracts a book record from a product detail page. Missing
// fields degrade to zero values; the caller decides whether a book with
// an empty name is worth keeping.
func parseBook(doc *html.Node, bookURL string) *domain.Book {
	book := &domain.Book{
		ID:           fingerprint.BookID(bookURL),
		SourceURL:    bookURL,
		Name:         nodeText(doc, xpathName),
		Description:  normalizeDescription(nodeText(doc, xpathDescription)),
		Category:     nodeText(doc, xpathCategory),
		Availability: parseAvailability(nodeText(doc, xpathAvailability)),
		Status:       domain.CrawlStatusCompleted,
	}

	book.PriceIncludingTax = parsePrice(nodeText(doc, xpathPriceIncl))
	book.PriceExcludingTax = parsePrice(nodeText(doc, xpathPriceExcl))
	book.NumberOfReviews = parseReviewCount(nodeText(doc, xpathReviews))
	book.Rating = parseRating(doc)
	book.ImageURL = parseImageURL(doc, bookURL)

	return book
}

// parseBookLinks extracts absolute product URLs from a catalog listing
// page, in document order.
func parseBookLinks(doc *html.Node, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var links []string
	for _, node := range htmlquery.Find(doc, xpathBookLinks) {
		href := htmlquery.SelectAttr(node, "href")
		if href == "" {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		links = append(links, base.ResolveReference(ref).String())
	}
	return links
}

// hasNextPager reports whether the listing page links to a following page.
func hasNextPager(doc *html.Node) bool {
	return htmlquery.FindOne(doc, xpathNextPager) != nil
}

// nodeText returns the collapsed, NFC-normalized text of the first node
// matching the expression, or "" when absent.
func nodeText(doc *html.Node, expr string) string {
	node := htmlquery.FindOne(doc, expr)
	if node == nil {
		return ""
	}
	text := strings.Join(strings.Fields(htmlquery.InnerText(node)), " ")
	return norm.NFC.String(text)
}

// parsePrice strips everything but digits and dots from a price label and
// parses the remainder. Malformed or missing labels come back as 0.00 so
// a bad price never sinks the whole book.
func parsePrice(text string) decimal.Decimal {
	cleaned := nonPriceRunes.ReplaceAllString(text, "")
	if cleaned == "" {
		return decimal.Zero
	}
	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return price
}

// parseAvailability treats any text mentioning "in stock" as in stock.
// Everything else, including a missing element, is out of stock.
func parseAvailability(text string) domain.Availability {
	if strings.Contains(strings.ToLower(text), "in stock") {
		return domain.AvailabilityInStock
	}
	return domain.AvailabilityOutOfStock
}

// parseReviewCount pulls the first integer run out of the review cell.
func parseReviewCount(text string) int {
	match := integerRun.FindString(text)
	if match == "" {
		return 0
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0
	}
	return n
}

// parseRating reads the star-rating element's class list, where one of
// the words One..Five carries the value. Nil when the element or word is
// absent.
func parseRating(doc *html.Node) *int {
	node := htmlquery.FindOne(doc, xpathRating)
	if node == nil {
		return nil
	}
	for _, class := range strings.Fields(htmlquery.SelectAttr(node, "class")) {
		if rating, ok := ratingWords[class]; ok {
			return &rating
		}
	}
	return nil
}

// parseImageURL resolves the active carousel image against the book URL.
func parseImageURL(doc *html.Node, bookURL string) string {
	node := htmlquery.FindOne(doc, xpathImage)
	if node == nil {
		return ""
	}
	src := htmlquery.SelectAttr(node, "src")
	if src == "" {
		return ""
	}
	base, err := url.Parse(bookURL)
	if err != nil {
		return src
	}
	ref, err := url.Parse(src)
	if err != nil {
		return src
	}
	return base.ResolveReference(ref).String()
}
