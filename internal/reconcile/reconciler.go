// Package reconcile implements the scheduled change-detection pass that keeps
// the mirrored catalog aligned with the source site. A pass runs four phases
// in order: orphaned fingerprint cleanup, restore of missing books, discovery
// of new books, and a batched diff of every known book against the live site.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/filerskeepers/bookwatch/internal/diff"
	"github.com/filerskeepers/bookwatch/internal/domain"
	"github.com/filerskeepers/bookwatch/internal/fetch"
	"github.com/filerskeepers/bookwatch/internal/fingerprint"
	"github.com/filerskeepers/bookwatch/internal/id"
	"github.com/filerskeepers/bookwatch/internal/store"
)

// Fetcher is the slice of the HTTP client the reconciler depends on.
type Fetcher interface {
	// FetchCatalogPage returns the book URLs on a listing page, empty when
	// the page does not exist.
	FetchCatalogPage(ctx context.Context, page int) ([]string, error)
	// FetchBook retrieves and parses one book page.
	FetchBook(ctx context.Context, url string) (*domain.Book, error)
}

// Options tunes a reconciliation pass. The zero value of any field falls
// back to its default.
type Options struct {
	// MaxBooks caps how many stored books the diff phase checks. 0 checks all.
	MaxBooks                 int
	BatchSize                int
	MaxConcurrentBooks       int
	ExpectedCatalogSize      int
	MaxRestorePages          int
	MaxDiscoveryPages        int
	MaxConsecutivePageErrors int
}

const (
	defaultBatchSize                = 100
	defaultMaxConcurrentBooks       = 50
	defaultExpectedCatalogSize      = 1000
	defaultMaxRestorePages          = 50
	defaultMaxDiscoveryPages        = 10
	defaultMaxConsecutivePageErrors = 5
)

// Reconciler drives change detection for the whole catalog.
type Reconciler struct {
	store   *store.Store
	fetcher Fetcher
	differ  *diff.Differ
	opts    Options
	logger  *slog.Logger

	// Guards DetectionRun aggregation while batch workers run in parallel.
	mu sync.Mutex
}

// NewReconciler creates a reconciler over the given store and fetcher.
func NewReconciler(st *store.Store, fetcher Fetcher, differ *diff.Differ, opts Options, logger *slog.Logger) *Reconciler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxConcurrentBooks <= 0 {
		opts.MaxConcurrentBooks = defaultMaxConcurrentBooks
	}
	if opts.ExpectedCatalogSize <= 0 {
		opts.ExpectedCatalogSize = defaultExpectedCatalogSize
	}
	if opts.MaxRestorePages <= 0 {
		opts.MaxRestorePages = defaultMaxRestorePages
	}
	if opts.MaxDiscoveryPages <= 0 {
		opts.MaxDiscoveryPages = defaultMaxDiscoveryPages
	}
	if opts.MaxConsecutivePageErrors <= 0 {
		opts.MaxConsecutivePageErrors = defaultMaxConsecutivePageErrors
	}

	return &Reconciler{
		store:   st,
		fetcher: fetcher,
		differ:  differ,
		opts:    opts,
		logger:  logger,
	}
}

// Run executes one full reconciliation pass and persists its summary.
// Per-book failures are collected on the returned run; only systemic
// failures (store engine, cancellation) return an error, and even then
// the partial run summary is saved and returned.
func (r *Reconciler) Run(ctx context.Context) (*domain.DetectionRun, error) {
	run := domain.NewDetectionRun(id.NewRecordID(), time.Now().UTC())
	r.logger.Info("reconciliation started", "run_id", run.ID)

	orphans, err := r.CleanupOrphanFingerprints(ctx)
	if err != nil {
		return r.abort(run, fmt.Errorf("orphan cleanup: %w", err))
	}
	if orphans > 0 {
		r.logger.Info("deleted orphaned fingerprints", "count", orphans)
	}

	if err := r.restoreMissing(ctx, run); err != nil {
		return r.abort(run, err)
	}

	if err := r.discoverNew(ctx, run); err != nil {
		return r.abort(run, err)
	}

	if err := r.diffExisting(ctx, run); err != nil {
		return r.abort(run, err)
	}

	run.Finish(time.Now().UTC())
	if err := r.store.AppendDetectionRun(ctx, run); err != nil {
		return run, fmt.Errorf("saving run summary: %w", err)
	}

	r.logger.Info("reconciliation finished",
		"run_id", run.ID,
		"books_checked", run.TotalBooksChecked,
		"changes_detected", run.ChangesDetected,
		"new_books", run.NewBooks,
		"updated_books", run.UpdatedBooks,
		"removed_books", run.RemovedBooks,
		"restored_books", run.RestoredBooks,
		"errors", len(run.Errors),
		"duration_seconds", run.DurationSeconds,
	)
	return run, nil
}

// abort finalizes a run that hit a systemic failure. The summary is saved
// on a best-effort basis so partial progress stays visible.
func (r *Reconciler) abort(run *domain.DetectionRun, err error) (*domain.DetectionRun, error) {
	run.AddError(err.Error())
	run.Finish(time.Now().UTC())
	if saveErr := r.store.AppendDetectionRun(context.Background(), run); saveErr != nil {
		r.logger.Error("failed to save aborted run summary", "run_id", run.ID, "error", saveErr)
	}
	r.logger.Error("reconciliation aborted", "run_id", run.ID, "error", err)
	return run, err
}

// CleanupOrphanFingerprints deletes fingerprints whose book record no longer
// exists. Soft-removed books keep their fingerprints; only a fingerprint
// with no stored record at all is garbage. Returns the number deleted.
func (r *Reconciler) CleanupOrphanFingerprints(ctx context.Context) (int, error) {
	fps, err := r.store.ListAllFingerprints(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing fingerprints: %w", err)
	}

	deleted := 0
	for _, fp := range fps {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		_, err := r.store.GetBook(ctx, fp.BookID)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrBookNotFound) {
			return deleted, fmt.Errorf("checking book %s: %w", fp.BookID, err)
		}

		if err := r.store.DeleteFingerprint(ctx, fp.BookID); err != nil {
			return deleted, fmt.Errorf("deleting fingerprint %s: %w", fp.BookID, err)
		}
		r.logger.Debug("deleted orphaned fingerprint", "book_id", fp.BookID)
		deleted++
	}
	return deleted, nil
}

// restoreMissing walks catalog pages when the store holds fewer active books
// than the source site is expected to list, re-inserting any it finds.
func (r *Reconciler) restoreMissing(ctx context.Context, run *domain.DetectionRun) error {
	count, err := r.store.CountBooks(ctx)
	if err != nil {
		return fmt.Errorf("counting books: %w", err)
	}
	if count >= r.opts.ExpectedCatalogSize {
		return nil
	}

	missing := r.opts.ExpectedCatalogSize - count
	r.logger.Info("catalog below expected size, restoring",
		"stored", count,
		"expected", r.opts.ExpectedCatalogSize,
		"missing", missing,
	)

	restored := 0
	consecutiveFailures := 0
	for page := 1; page <= r.opts.MaxRestorePages && restored < missing; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		urls, err := r.fetcher.FetchCatalogPage(ctx, page)
		if err != nil || len(urls) == 0 {
			if err != nil {
				run.AddError(fmt.Sprintf("restore page %d: %v", page, err))
			}
			consecutiveFailures++
			if consecutiveFailures >= r.opts.MaxConsecutivePageErrors {
				r.logger.Warn("stopping restore walk after repeated page failures",
					"page", page, "consecutive_failures", consecutiveFailures)
				break
			}
			continue
		}
		consecutiveFailures = 0

		for _, url := range urls {
			if restored >= missing {
				break
			}

			known, err := r.knownURL(ctx, url)
			if err != nil {
				return err
			}
			if known {
				continue
			}

			book, err := r.insertBook(ctx, url)
			if err != nil {
				run.AddError(fmt.Sprintf("restoring %s: %v", url, err))
				continue
			}

			rec := newBookRecord(book, "book_restored", fmt.Sprintf("Book restored: %s", book.Name))
			if err := r.store.AppendChange(ctx, rec); err != nil {
				run.AddError(fmt.Sprintf("recording restore of %s: %v", url, err))
				continue
			}

			run.CountChange(rec)
			run.RestoredBooks++
			restored++
			r.logger.Info("restored book", "book_id", book.ID, "name", book.Name)
		}
	}

	if restored > 0 {
		r.logger.Info("restore phase finished", "restored", restored)
	}
	return nil
}

// discoverNew walks the first catalog pages looking for books the store has
// never seen. Unlike the restore phase it runs on every pass, so newly
// listed books appear without waiting for the catalog to shrink.
func (r *Reconciler) discoverNew(ctx context.Context, run *domain.DetectionRun) error {
	discovered := 0
	consecutiveFailures := 0
	for page := 1; page <= r.opts.MaxDiscoveryPages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		urls, err := r.fetcher.FetchCatalogPage(ctx, page)
		if err != nil || len(urls) == 0 {
			if err != nil {
				run.AddError(fmt.Sprintf("discovery page %d: %v", page, err))
			}
			consecutiveFailures++
			if consecutiveFailures >= r.opts.MaxConsecutivePageErrors {
				r.logger.Warn("stopping discovery walk after repeated page failures",
					"page", page, "consecutive_failures", consecutiveFailures)
				break
			}
			continue
		}
		consecutiveFailures = 0

		for _, url := range urls {
			known, err := r.knownURL(ctx, url)
			if err != nil {
				return err
			}
			if known {
				continue
			}

			book, err := r.insertBook(ctx, url)
			if err != nil {
				run.AddError(fmt.Sprintf("inserting %s: %v", url, err))
				continue
			}

			rec := newBookRecord(book, "new_book", fmt.Sprintf("New book discovered: %s", book.Name))
			if err := r.store.AppendChange(ctx, rec); err != nil {
				run.AddError(fmt.Sprintf("recording discovery of %s: %v", url, err))
				continue
			}

			run.CountChange(rec)
			run.NewBooks++
			discovered++
			r.logger.Info("discovered new book", "book_id", book.ID, "name", book.Name)
		}
	}

	if discovered > 0 {
		r.logger.Info("discovery phase finished", "discovered", discovered)
	}
	return nil
}

// diffExisting fetches every known book and appends change records for the
// fields that diverged. Books are processed in sequential batches; inside a
// batch a bounded worker pool runs the per-book checks in parallel.
func (r *Reconciler) diffExisting(ctx context.Context, run *domain.DetectionRun) error {
	books, err := r.store.ListAllBooks(ctx)
	if err != nil {
		return fmt.Errorf("listing books: %w", err)
	}
	if r.opts.MaxBooks > 0 && len(books) > r.opts.MaxBooks {
		books = books[:r.opts.MaxBooks]
	}

	run.TotalBooksChecked = len(books)
	if len(books) == 0 {
		return nil
	}

	r.logger.Info("diffing stored books against source",
		"books", len(books),
		"batch_size", r.opts.BatchSize,
		"max_concurrent", r.opts.MaxConcurrentBooks,
	)

	for start := 0; start < len(books); start += r.opts.BatchSize {
		end := start + r.opts.BatchSize
		if end > len(books) {
			end = len(books)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.opts.MaxConcurrentBooks)

		for _, book := range books[start:end] {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				r.checkBook(gctx, run, book)
				return nil
			})
		}

		// Batch barrier: the next batch starts only after this one drains.
		if err := g.Wait(); err != nil {
			return err
		}
	}

	return nil
}

// checkBook reconciles one stored book against the live site. All failures
// are captured on the run; nothing a single book does can abort the batch.
func (r *Reconciler) checkBook(ctx context.Context, run *domain.DetectionRun, stored *domain.Book) {
	current, err := r.fetcher.FetchBook(ctx, stored.SourceURL)
	if err != nil {
		if errors.Is(err, fetch.ErrNotFound) {
			if stored.IsRemoved() {
				return
			}
			r.markRemoved(ctx, run, stored)
			return
		}
		r.addRunError(run, fmt.Sprintf("checking %s: %v", stored.SourceURL, err))
		return
	}

	storedFP, err := r.store.GetFingerprint(ctx, stored.ID)
	if err != nil && !errors.Is(err, store.ErrFingerprintNotFound) {
		r.addRunError(run, fmt.Sprintf("loading fingerprint for %s: %v", stored.ID, err))
		return
	}

	result, err := r.differ.Compare(stored, current, storedFP)
	if err != nil {
		r.addRunError(run, fmt.Sprintf("diffing %s: %v", stored.ID, err))
		return
	}

	switch {
	case len(result.Changes) > 0:
		r.applyChanges(ctx, run, current, result)
	case storedFP == nil:
		// Book is unchanged but was never fingerprinted; backfill so the
		// next pass takes the fast path.
		if err := r.store.CreateFingerprint(ctx, result.Fingerprint); err != nil {
			r.addRunError(run, fmt.Sprintf("backfilling fingerprint for %s: %v", stored.ID, err))
		}
	}
}

// applyChanges persists a diverged book: every change record, the updated
// book row, and the fresh fingerprint.
func (r *Reconciler) applyChanges(ctx context.Context, run *domain.DetectionRun, current *domain.Book, result *diff.Result) {
	for _, rec := range result.Changes {
		if err := r.store.AppendChange(ctx, rec); err != nil {
			r.addRunError(run, fmt.Sprintf("appending change for %s: %v", current.ID, err))
			return
		}
	}

	if _, err := r.store.UpsertBook(ctx, current); err != nil {
		r.addRunError(run, fmt.Sprintf("updating %s: %v", current.ID, err))
		return
	}
	if err := r.store.UpsertFingerprint(ctx, result.Fingerprint); err != nil {
		r.addRunError(run, fmt.Sprintf("updating fingerprint for %s: %v", current.ID, err))
		return
	}

	r.mu.Lock()
	for _, rec := range result.Changes {
		run.CountChange(rec)
	}
	run.UpdatedBooks++
	r.mu.Unlock()

	r.logger.Info("book updated", "book_id", current.ID, "changes", len(result.Changes))
}

// markRemoved soft-marks a book that disappeared from the source site and
// appends the removal record. The book row is retained.
func (r *Reconciler) markRemoved(ctx context.Context, run *domain.DetectionRun, stored *domain.Book) {
	name := stored.Name
	rec := &domain.ChangeRecord{
		ID:              id.NewRecordID(),
		BookID:          stored.ID,
		SourceURL:       stored.SourceURL,
		Type:            domain.ChangeTypeBookRemoved,
		Severity:        domain.SeverityHigh,
		FieldName:       "book",
		OldValue:        &name,
		Summary:         fmt.Sprintf("Book '%s' has been removed from the site", stored.Name),
		DetectedAt:      time.Now().UTC(),
		ConfidenceScore: 1.0,
	}

	if err := r.store.AppendChange(ctx, rec); err != nil {
		r.addRunError(run, fmt.Sprintf("recording removal of %s: %v", stored.ID, err))
		return
	}
	if _, err := r.store.MarkBookRemoved(ctx, stored.ID); err != nil {
		r.addRunError(run, fmt.Sprintf("marking %s removed: %v", stored.ID, err))
		return
	}

	r.mu.Lock()
	run.CountChange(rec)
	run.RemovedBooks++
	r.mu.Unlock()

	r.logger.Info("book removed from source", "book_id", stored.ID, "name", stored.Name)
}

// insertBook is the shared insert path of the restore and discovery phases:
// fetch, store, fingerprint. The store stays fingerprint-agnostic, so the
// fingerprint write happens here, after a successful book write.
func (r *Reconciler) insertBook(ctx context.Context, url string) (*domain.Book, error) {
	book, err := r.fetcher.FetchBook(ctx, url)
	if err != nil {
		return nil, err
	}

	if _, err := r.store.UpsertBook(ctx, book); err != nil {
		return nil, err
	}

	fp, err := fingerprint.Compute(book)
	if err != nil {
		return nil, err
	}
	if err := r.store.UpsertFingerprint(ctx, fp); err != nil {
		return nil, err
	}

	return book, nil
}

// knownURL reports whether the store already holds a record for a book URL,
// removed or not.
func (r *Reconciler) knownURL(ctx context.Context, url string) (bool, error) {
	_, err := r.store.GetBookByURL(ctx, url)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrBookNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("looking up %s: %w", url, err)
}

func (r *Reconciler) addRunError(run *domain.DetectionRun, msg string) {
	r.mu.Lock()
	run.AddError(msg)
	r.mu.Unlock()
	r.logger.Warn("book check failed", "error", msg)
}

// newBookRecord builds the change record announcing an inserted book. The
// restore and discovery phases differ only in field name and summary.
func newBookRecord(book *domain.Book, field, summary string) *domain.ChangeRecord {
	name := book.Name
	return &domain.ChangeRecord{
		ID:              id.NewRecordID(),
		BookID:          book.ID,
		SourceURL:       book.SourceURL,
		Type:            domain.ChangeTypeNewBook,
		Severity:        domain.SeverityMedium,
		FieldName:       field,
		NewValue:        &name,
		Summary:         summary,
		DetectedAt:      time.Now().UTC(),
		ConfidenceScore: 1.0,
	}
}
