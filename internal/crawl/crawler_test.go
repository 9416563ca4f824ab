package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filerskeepers/bookwatch/internal/domain"
	"github.com/filerskeepers/bookwatch/internal/fetch"
	"github.com/filerskeepers/bookwatch/internal/fingerprint"
	"github.com/filerskeepers/bookwatch/internal/store"
)

// fakeSite serves a paginated catalog from maps, with per-page failure
// injection and fetch counters for resume assertions.
type fakeSite struct {
	mu         sync.Mutex
	totalPages int
	pages      map[int][]string
	books      map[string]*domain.Book
	pageErrs   map[int]error

	pagesFetched []int
}

func newFakeSite(totalPages int) *fakeSite {
	return &fakeSite{
		totalPages: totalPages,
		pages:      make(map[int][]string),
		books:      make(map[string]*domain.Book),
		pageErrs:   make(map[int]error),
	}
}

func (f *fakeSite) CountPages(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalPages, nil
}

func (f *fakeSite) FetchCatalogPage(_ context.Context, page int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pagesFetched = append(f.pagesFetched, page)
	if err, ok := f.pageErrs[page]; ok {
		delete(f.pageErrs, page) // fail once, succeed on retry
		return nil, err
	}
	return f.pages[page], nil
}

func (f *fakeSite) FetchBook(_ context.Context, url string) (*domain.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	book, ok := f.books[url]
	if !ok {
		return nil, fetch.ErrNotFound
	}
	clone := *book
	return &clone, nil
}

// fill populates pages 1..totalPages with booksPerPage books each.
func (f *fakeSite) fill(booksPerPage int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for page := 1; page <= f.totalPages; page++ {
		for i := 0; i < booksPerPage; i++ {
			slug := fmt.Sprintf("book-p%d-%d", page, i)
			url := "https://books.toscrape.com/catalogue/" + slug + "/index.html"
			rating := 3
			f.pages[page] = append(f.pages[page], url)
			f.books[url] = &domain.Book{
				ID:                fingerprint.BookID(url),
				SourceURL:         url,
				Name:              "Book " + slug,
				Description:       "Description of " + slug,
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
	}
}

func (f *fakeSite) failPage(page int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageErrs[page] = err
}

func (f *fakeSite) fetchedPages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.pagesFetched...)
}

func setupTestCrawler(t *testing.T, site *fakeSite, opts Options) (*Crawler, *store.Store) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "crawl-test-*")
	require.NoError(t, err)

	st, err := store.New(filepath.Join(tmpDir, "test.db"), nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		st.Close()
		os.RemoveAll(tmpDir)
	})

	if opts.StateFile == "" {
		opts.StateFile = filepath.Join(tmpDir, "crawl_state.json")
	}
	if opts.ErrorSleep == 0 {
		opts.ErrorSleep = time.Millisecond
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCrawler(st, site, opts, logger), st
}

func TestCrawl_FullCatalog(t *testing.T) {
	site := newFakeSite(3)
	site.fill(4)
	crawler, st := setupTestCrawler(t, site, Options{})

	state, err := crawler.Crawl(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, state.TotalPages)
	assert.Equal(t, 3, state.LastProcessedPage)
	assert.Equal(t, 12, state.BooksProcessed)
	assert.Empty(t, state.Errors)
	assert.Equal(t, PhaseDone, crawler.Phase())

	count, err := st.CountBooks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, count)

	// Every stored book carries a fingerprint.
	fpCount, err := st.CountFingerprints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, fpCount)
}

func TestCrawl_ResumesFromStateFile(t *testing.T) {
	site := newFakeSite(10)
	site.fill(2)
	crawler, _ := setupTestCrawler(t, site, Options{Resume: true})

	// A previous run finished page 6 with 140 books already written.
	prev := domain.NewCrawlState(time.Now().UTC().Add(-time.Hour))
	prev.TotalPages = 10
	prev.BooksProcessed = 140
	prev.Advance(6, 0, "https://books.toscrape.com/catalogue/book-p6-1/index.html")
	require.NoError(t, SaveState(crawler.opts.StateFile, prev))

	state, err := crawler.Crawl(context.Background())
	require.NoError(t, err)

	fetched := site.fetchedPages()
	require.NotEmpty(t, fetched)
	assert.Equal(t, 7, fetched[0], "resume must pick up at the page after the checkpoint")
	assert.NotContains(t, fetched, 1)

	// 140 carried over plus pages 7..10 at two books each.
	assert.Equal(t, 148, state.BooksProcessed)
	assert.Equal(t, 10, state.LastProcessedPage)
}

func TestCrawl_ResumeDisabledStartsFresh(t *testing.T) {
	site := newFakeSite(2)
	site.fill(1)
	crawler, _ := setupTestCrawler(t, site, Options{Resume: false})

	prev := domain.NewCrawlState(time.Now().UTC())
	prev.TotalPages = 2
	prev.Advance(1, 1, "")
	require.NoError(t, SaveState(crawler.opts.StateFile, prev))

	state, err := crawler.Crawl(context.Background())
	require.NoError(t, err)

	fetched := site.fetchedPages()
	assert.Equal(t, 1, fetched[0])
	assert.Equal(t, 2, state.BooksProcessed)
}

func TestCrawl_CompletedStateStartsFresh(t *testing.T) {
	site := newFakeSite(2)
	site.fill(1)
	crawler, _ := setupTestCrawler(t, site, Options{Resume: true})

	done := domain.NewCrawlState(time.Now().UTC().Add(-24 * time.Hour))
	done.TotalPages = 2
	done.BooksProcessed = 2
	done.Advance(2, 1, "")
	require.NoError(t, SaveState(crawler.opts.StateFile, done))

	state, err := crawler.Crawl(context.Background())
	require.NoError(t, err)

	// The finished state is not resumed, the whole catalog is re-walked.
	assert.Equal(t, 1, site.fetchedPages()[0])
	assert.Equal(t, 2, state.BooksProcessed)
	assert.Equal(t, 2, state.LastProcessedPage)
}

func TestCrawl_PageErrorContinues(t *testing.T) {
	site := newFakeSite(3)
	site.fill(2)
	site.failPage(2, errors.New("connection reset by peer"))
	crawler, st := setupTestCrawler(t, site, Options{})

	state, err := crawler.Crawl(context.Background())
	require.NoError(t, err)

	// Page 2 failed once and was skipped, not retried within the run.
	assert.Equal(t, 4, state.BooksProcessed)
	require.Len(t, state.Errors, 1)
	assert.Contains(t, state.Errors[0], "page 2")
	assert.Equal(t, 3, state.LastProcessedPage)

	count, err := st.CountBooks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestCrawl_CheckpointWrittenMidCrawl(t *testing.T) {
	site := newFakeSite(5)
	site.fill(1)
	crawler, _ := setupTestCrawler(t, site, Options{CheckpointInterval: 2})

	_, err := crawler.Crawl(context.Background())
	require.NoError(t, err)

	// The final save leaves a loadable, complete state behind.
	saved, err := LoadState(crawler.opts.StateFile)
	require.NoError(t, err)
	assert.Equal(t, 5, saved.LastProcessedPage)
	assert.Equal(t, 5, saved.BooksProcessed)
	assert.Equal(t, 5, saved.TotalPages)
}

func TestCrawl_CanceledSavesState(t *testing.T) {
	site := newFakeSite(50)
	site.fill(1)
	crawler, _ := setupTestCrawler(t, site, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := crawler.Crawl(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseFailed, crawler.Phase())

	saved, err := LoadState(crawler.opts.StateFile)
	require.NoError(t, err)
	assert.Equal(t, state.LastProcessedPage, saved.LastProcessedPage)
}

func TestCrawl_ConsecutiveEmptyPagesStop(t *testing.T) {
	site := newFakeSite(20)
	// Only pages 1 and 2 have books; 3..20 exist but are empty.
	site.fill(0)
	for page := 1; page <= 2; page++ {
		slug := fmt.Sprintf("book-%d", page)
		url := "https://books.toscrape.com/catalogue/" + slug + "/index.html"
		site.pages[page] = []string{url}
		site.books[url] = newStateBook(slug)
	}
	crawler, _ := setupTestCrawler(t, site, Options{MaxConsecutiveEmptyPages: 3})

	state, err := crawler.Crawl(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, state.BooksProcessed)
	// Pages 3, 4 and 5 came back empty, then the walk stopped.
	fetched := site.fetchedPages()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, fetched)
	assert.Equal(t, 5, state.LastProcessedPage)
}

func TestCrawl_RecrawlTreatsDuplicatesAsUpserts(t *testing.T) {
	site := newFakeSite(2)
	site.fill(3)
	crawler, st := setupTestCrawler(t, site, Options{})

	_, err := crawler.Crawl(context.Background())
	require.NoError(t, err)

	second, err := crawler.Crawl(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second.Errors)
	assert.Equal(t, 6, second.BooksProcessed)

	count, err := st.CountBooks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, count, "re-crawling must not duplicate books")
}

func TestCrawl_BookFetchErrorRecorded(t *testing.T) {
	site := newFakeSite(1)
	site.fill(2)
	// One listed URL has no book page behind it.
	site.pages[1] = append(site.pages[1], "https://books.toscrape.com/catalogue/ghost/index.html")
	crawler, st := setupTestCrawler(t, site, Options{})

	state, err := crawler.Crawl(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, state.BooksProcessed)
	require.Len(t, state.Errors, 1)
	assert.Contains(t, state.Errors[0], "ghost")

	count, err := st.CountBooks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStateFile_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "state.json")

	state := domain.NewCrawlState(time.Now().UTC())
	state.TotalPages = 50
	state.Advance(7, 20, "https://books.toscrape.com/catalogue/some-book/index.html")
	state.AddError("page 3: connection reset")

	require.NoError(t, SaveState(path, state))

	loaded, err := LoadState(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.LastProcessedPage)
	assert.Equal(t, 50, loaded.TotalPages)
	assert.Equal(t, 20, loaded.BooksProcessed)
	assert.Equal(t, state.LastProcessedURL, loaded.LastProcessedURL)
	assert.Equal(t, state.Errors, loaded.Errors)

	// No stray temp file left behind.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestStateFile_MissingFile(t *testing.T) {
	_, err := LoadState(filepath.Join(t.TempDir(), "absent.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestStateFile_Remove(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "state.json")

	require.NoError(t, SaveState(path, domain.NewCrawlState(time.Now().UTC())))
	require.NoError(t, RemoveState(path))
	require.NoError(t, RemoveState(path), "removing a missing state file is not an error")
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, isConnectionError(errors.New("connection refused")))
	assert.True(t, isConnectionError(errors.New("read tcp: Connection reset by peer")))
	assert.False(t, isConnectionError(errors.New("parse error on page 3")))
	assert.False(t, isConnectionError(fetch.ErrNotFound))
}

func newStateBook(slug string) *domain.Book {
	url := "https://books.toscrape.com/catalogue/" + slug + "/index.html"
	rating := 4
	return &domain.Book{
		ID:                fingerprint.BookID(url),
		SourceURL:         url,
		Name:              "Book " + slug,
		Category:          "Fiction",
		PriceIncludingTax: decimal.RequireFromString("9.99"),
		PriceExcludingTax: decimal.RequireFromString("9.99"),
		Availability:      domain.AvailabilityInStock,
		Rating:            &rating,
		Status:            domain.CrawlStatusCompleted,
		CrawlTimestamp:    time.Now().UTC(),
	}
}
