// Package crawl implements the full-catalog walk used for first-run
// ingestion and bulk restores. Progress is checkpointed to a state file so
// a crashed crawl resumes from its last completed page instead of page one.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/filerskeepers/bookwatch/internal/domain"
	"github.com/filerskeepers/bookwatch/internal/fingerprint"
	"github.com/filerskeepers/bookwatch/internal/store"
)

// Fetcher is the slice of the HTTP client the crawler depends on.
type Fetcher interface {
	// CountPages probes how many listing pages the catalog has.
	CountPages(ctx context.Context) (int, error)
	// FetchCatalogPage returns the book URLs on a listing page, empty when
	// the page does not exist.
	FetchCatalogPage(ctx context.Context, page int) ([]string, error)
	// FetchBook retrieves and parses one book page.
	FetchBook(ctx context.Context, url string) (*domain.Book, error)
}

// Phase names the crawler's position in its page-walking state machine.
// Transitions: idle → probing_pagecount → crawling ⇄ checkpointed → done|failed.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseProbing      Phase = "probing_pagecount"
	PhaseCrawling     Phase = "crawling"
	PhaseCheckpointed Phase = "checkpointed"
	PhaseDone         Phase = "done"
	PhaseFailed       Phase = "failed"
)

// Options tunes a crawl.
type Options struct {
	StateFile string
	// Resume loads the state file on start and continues from the last
	// completed page. A state file from a finished crawl is ignored.
	Resume bool
	// CheckpointInterval is how many pages pass between state file writes.
	CheckpointInterval int
	// MaxConsecutiveEmptyPages stops the walk early when this many listing
	// pages in a row come back with no books.
	MaxConsecutiveEmptyPages int
	// ErrorSleep is the bounded pause after a connection-class page failure.
	ErrorSleep time.Duration
}

const (
	defaultCheckpointInterval       = 10
	defaultMaxConsecutiveEmptyPages = 5
	defaultErrorSleep               = 5 * time.Second
	defaultStateFile                = "crawl_state.json"
)

// Crawler walks every catalog page and writes the books it finds. It is
// single-threaded: one crawl owns the state file and runs on one goroutine,
// with concurrency living in the HTTP client's transport.
type Crawler struct {
	store   *store.Store
	fetcher Fetcher
	opts    Options
	logger  *slog.Logger

	phase Phase
}

// NewCrawler creates a crawler over the given store and fetcher.
func NewCrawler(st *store.Store, fetcher Fetcher, opts Options, logger *slog.Logger) *Crawler {
	if opts.StateFile == "" {
		opts.StateFile = defaultStateFile
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = defaultCheckpointInterval
	}
	if opts.MaxConsecutiveEmptyPages <= 0 {
		opts.MaxConsecutiveEmptyPages = defaultMaxConsecutiveEmptyPages
	}
	if opts.ErrorSleep <= 0 {
		opts.ErrorSleep = defaultErrorSleep
	}

	return &Crawler{
		store:   st,
		fetcher: fetcher,
		opts:    opts,
		logger:  logger,
		phase:   PhaseIdle,
	}
}

// Phase returns the crawler's current state machine position. Crawl runs on
// a single goroutine; read this before or after, not during.
func (c *Crawler) Phase() Phase {
	return c.phase
}

// Crawl walks the catalog from the resume point to the last page, writing
// each book and its fingerprint. The returned state reflects the crawl's
// final position even when an error is returned.
func (c *Crawler) Crawl(ctx context.Context) (*domain.CrawlState, error) {
	state := c.resumeOrFresh()

	c.phase = PhaseProbing
	total, err := c.fetcher.CountPages(ctx)
	if err != nil {
		c.phase = PhaseFailed
		return state, fmt.Errorf("probing page count: %w", err)
	}
	state.TotalPages = total

	startPage := state.LastProcessedPage + 1
	c.logger.Info("crawl started",
		"start_page", startPage,
		"total_pages", total,
		"books_processed", state.BooksProcessed,
	)

	consecutiveEmpty := 0
	for page := startPage; page <= total; page++ {
		if err := ctx.Err(); err != nil {
			return c.stop(state, err)
		}

		c.phase = PhaseCrawling
		processed, lastURL, err := c.crawlPage(ctx, state, page)
		if err != nil {
			if ctx.Err() != nil {
				return c.stop(state, ctx.Err())
			}

			state.AddError(fmt.Sprintf("page %d: %v", page, err))
			c.logger.Warn("page failed", "page", page, "error", err)

			if isConnectionError(err) {
				if pauseErr := c.pause(ctx); pauseErr != nil {
					return c.stop(state, pauseErr)
				}
			}
			continue
		}

		if processed == 0 {
			consecutiveEmpty++
			if consecutiveEmpty >= c.opts.MaxConsecutiveEmptyPages {
				state.Advance(page, 0, "")
				c.logger.Warn("stopping after consecutive empty pages",
					"page", page, "consecutive_empty", consecutiveEmpty)
				break
			}
		} else {
			consecutiveEmpty = 0
		}

		state.Advance(page, processed, lastURL)

		if page%c.opts.CheckpointInterval == 0 {
			c.checkpoint(state)
		}
	}

	c.phase = PhaseDone
	if err := SaveState(c.opts.StateFile, state); err != nil {
		c.logger.Error("failed to save final crawl state", "error", err)
	}

	c.logger.Info("crawl finished",
		"last_page", state.LastProcessedPage,
		"books_processed", state.BooksProcessed,
		"errors", len(state.Errors),
		"duration", time.Since(state.CrawlStartTime).Round(time.Second).String(),
	)
	return state, nil
}

// crawlPage fetches one listing page and writes every book on it through
// the insert-and-fingerprint path. Book-level failures are recorded on the
// state and skipped; only a page-level fetch failure is returned.
func (c *Crawler) crawlPage(ctx context.Context, state *domain.CrawlState, page int) (int, string, error) {
	urls, err := c.fetcher.FetchCatalogPage(ctx, page)
	if err != nil {
		return 0, "", err
	}

	processed := 0
	var lastURL string
	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return processed, lastURL, err
		}

		book, err := c.fetcher.FetchBook(ctx, url)
		if err != nil {
			state.AddError(fmt.Sprintf("%s: %v", url, err))
			c.logger.Warn("book fetch failed", "url", url, "error", err)
			continue
		}

		// Upserts make duplicate inserts on resumed crawls harmless.
		if _, err := c.store.UpsertBook(ctx, book); err != nil {
			state.AddError(fmt.Sprintf("storing %s: %v", url, err))
			continue
		}

		fp, err := fingerprint.Compute(book)
		if err != nil {
			state.AddError(fmt.Sprintf("fingerprinting %s: %v", url, err))
			continue
		}
		if err := c.store.UpsertFingerprint(ctx, fp); err != nil {
			state.AddError(fmt.Sprintf("storing fingerprint for %s: %v", url, err))
			continue
		}

		processed++
		lastURL = url
	}

	c.logger.Debug("page crawled", "page", page, "books", processed)
	return processed, lastURL, nil
}

// stop checkpoints and returns after a cancellation or unrecoverable error.
// The current page was not advanced, so a resumed crawl repeats it.
func (c *Crawler) stop(state *domain.CrawlState, err error) (*domain.CrawlState, error) {
	c.phase = PhaseFailed
	if saveErr := SaveState(c.opts.StateFile, state); saveErr != nil {
		c.logger.Error("failed to save crawl state on stop", "error", saveErr)
	}
	c.logger.Info("crawl stopped",
		"last_processed_page", state.LastProcessedPage,
		"books_processed", state.BooksProcessed,
		"error", err,
	)
	return state, err
}

// checkpoint persists the state mid-crawl.
func (c *Crawler) checkpoint(state *domain.CrawlState) {
	c.phase = PhaseCheckpointed
	if err := SaveState(c.opts.StateFile, state); err != nil {
		c.logger.Error("checkpoint failed", "page", state.LastProcessedPage, "error", err)
		return
	}
	c.logger.Debug("checkpointed crawl state",
		"page", state.LastProcessedPage,
		"books_processed", state.BooksProcessed,
	)
}

// resumeOrFresh loads the previous state when resume is enabled and the
// previous crawl did not finish; anything else starts from page one.
func (c *Crawler) resumeOrFresh() *domain.CrawlState {
	if !c.opts.Resume {
		return domain.NewCrawlState(time.Now().UTC())
	}

	state, err := LoadState(c.opts.StateFile)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("could not load crawl state, starting fresh", "error", err)
		}
		return domain.NewCrawlState(time.Now().UTC())
	}

	if state.TotalPages > 0 && state.LastProcessedPage >= state.TotalPages {
		c.logger.Info("previous crawl completed, starting fresh")
		return domain.NewCrawlState(time.Now().UTC())
	}

	c.logger.Info("resuming crawl",
		"last_processed_page", state.LastProcessedPage,
		"books_processed", state.BooksProcessed,
	)
	return state
}

// pause sleeps the bounded error backoff, returning early on cancellation.
func (c *Crawler) pause(ctx context.Context) error {
	c.logger.Info("pausing after connection failure", "sleep", c.opts.ErrorSleep.String())
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.opts.ErrorSleep):
		return nil
	}
}

// isConnectionError reports whether an error looks like a dropped or refused
// connection, the failure class worth pausing on before the next page.
func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection")
}
