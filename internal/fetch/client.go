package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/sync/singleflight"

	"github.com/filerskeepers/bookwatch/internal/domain"
	"github.com/filerskeepers/bookwatch/internal/ratelimit"
)

const (
	defaultRPS           = 2.0
	defaultTimeout       = 30 * time.Second
	defaultRetries       = 3
	defaultRetryDelay    = time.Second
	defaultMaxConcurrent = 10

	// maxCatalogPages bounds the page-count probe. The site serves far
	// fewer pages; anything past this is a runaway probe.
	maxCatalogPages = 1000
)

// Config carries the tunables for the catalog client.
type Config struct {
	BaseURL           string
	UserAgent         string
	RequestsPerSecond float64
	Timeout           time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	// MaxConcurrentRequests bounds open connections to the site. The
	// pacer already serializes requests; this caps the pool when many
	// workers block on it at once.
	MaxConcurrentRequests int
}

// Client fetches and parses catalog pages and product detail pages.
// Every request flows through one shared token bucket, so the source
// site sees at most the configured rate no matter how many workers fan
// out over the client.
type Client struct {
	http       *http.Client
	baseURL    string
	retries    int
	retryDelay time.Duration
	logger     *slog.Logger

	// pageCount coalesces concurrent CountPages probes into one walk.
	pageCount singleflight.Group
}

// NewClient builds a catalog client. Zero config fields fall back to
// crawl-friendly defaults.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRPS
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = defaultRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = defaultMaxConcurrent
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     cfg.MaxConcurrentRequests,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &throttledTransport{
				RoundTripper: &headerTransport{
					RoundTripper: transport,
					userAgent:    cfg.UserAgent,
				},
				pacer: ratelimit.NewPacer(cfg.RequestsPerSecond),
			},
		},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		retries:    cfg.RetryAttempts,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// PageURL returns the catalog listing URL for a page number. Page 1 is
// the site root; later pages live under /catalogue/.
func (c *Client) PageURL(page int) string {
	if page <= 1 {
		return c.baseURL
	}
	return fmt.Sprintf("%s/catalogue/page-%d.html", c.baseURL, page)
}

// FetchBook retrieves and parses a product detail page. A terminal 404
// surfaces as ErrNotFound without retries; transient failures are
// retried with exponential backoff.
func (c *Client) FetchBook(ctx context.Context, bookURL string) (*domain.Book, error) {
	doc, err := c.get(ctx, bookURL)
	if err != nil {
		return nil, fmt.Errorf("fetching book %s: %w", bookURL, err)
	}

	book := parseBook(doc, bookURL)
	book.CrawlTimestamp = time.Now().UTC()
	return book, nil
}

// FetchCatalogPage returns the absolute product URLs listed on a catalog
// page, in listing order. A page past the end of the catalog yields an
// empty slice, not an error.
func (c *Client) FetchCatalogPage(ctx context.Context, page int) ([]string, error) {
	pageURL := c.PageURL(page)

	doc, err := c.get(ctx, pageURL)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching catalog page %d: %w", page, err)
	}

	return parseBookLinks(doc, pageURL), nil
}

// CountPages determines how many catalog pages the site serves. The root
// is fetched first; no next pager means a single page. Otherwise pages
// are probed at doubling numbers until one comes back empty, and the
// bracketed range is binary searched for the last populated page.
// Concurrent callers share one probe.
func (c *Client) CountPages(ctx context.Context) (int, error) {
	v, err, _ := c.pageCount.Do("pages", func() (any, error) {
		return c.countPages(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (c *Client) countPages(ctx context.Context) (int, error) {
	doc, err := c.get(ctx, c.PageURL(1))
	if err != nil {
		return 0, fmt.Errorf("fetching catalog root: %w", err)
	}
	if !hasNextPager(doc) {
		return 1, nil
	}

	// Doubling probe until the first empty page.
	lastPopulated := 1
	probe := 2
	for probe <= maxCatalogPages {
		if c.pagePopulated(ctx, probe) {
			lastPopulated = probe
			probe *= 2
			continue
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		break
	}
	if probe > maxCatalogPages {
		probe = maxCatalogPages + 1
	}

	// Binary search the gap for the boundary page.
	last := lastPopulated
	low, high := lastPopulated+1, probe-1
	for low <= high {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		mid := (low + high) / 2
		if c.pagePopulated(ctx, mid) {
			last = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}

	c.logger.Debug("counted catalog pages", "pages", last)
	return last, nil
}

// pagePopulated reports whether a catalog page lists at least one book.
// Fetch failures count as empty: a page that cannot be read brackets the
// probe the same way a missing page does.
func (c *Client) pagePopulated(ctx context.Context, page int) bool {
	links, err := c.FetchCatalogPage(ctx, page)
	if err != nil {
		c.logger.Debug("page probe failed", "page", page, "error", err)
		return false
	}
	return len(links) > 0
}

// get fetches a URL and parses the response as HTML, retrying transient
// failures with exponential backoff. Attempt k sleeps retryDelay * 2^k
// before the next try.
func (c *Client) get(ctx context.Context, rawURL string) (*html.Node, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		doc, err := c.fetchOnce(ctx, rawURL)
		if err == nil {
			return doc, nil
		}
		lastErr = err

		if !Retryable(err) || attempt >= c.retries {
			return nil, lastErr
		}

		delay := c.retryDelay << attempt
		c.logger.Debug("retrying fetch",
			"url", rawURL,
			"attempt", attempt+1,
			"max_attempts", c.retries,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// fetchOnce executes a single GET and maps the response status onto the
// package sentinels.
func (c *Client) fetchOnce(ctx context.Context, rawURL string) (*html.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, ErrRateLimited
		case resp.StatusCode >= 500:
			return nil, ErrServer
		default:
			return nil, StatusError(resp.StatusCode)
		}
	}

	doc, err := htmlquery.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}
