// Package main provides the entry point for the bookwatch full-catalog crawler.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/filerskeepers/bookwatch/internal/crawl"
	"github.com/filerskeepers/bookwatch/internal/di"
	"github.com/filerskeepers/bookwatch/internal/di/providers"
	"github.com/filerskeepers/bookwatch/internal/logger"
)

func main() {
	// Create DI container
	injector := di.NewContainer()

	// Bootstrap the crawl pipeline
	if err := di.BootstrapCrawler(injector); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap crawler: %v\n", err)
		os.Exit(1)
	}

	log := do.MustInvoke[*logger.Logger](injector)
	crawler := do.MustInvoke[*crawl.Crawler](injector)
	storeHandle := do.MustInvoke[*providers.StoreHandle](injector)

	// An interrupt cancels the crawl; the crawler checkpoints its state so
	// the next invocation resumes where this one stopped.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	state, crawlErr := crawler.Crawl(ctx)

	if stats, err := storeHandle.Stats(context.Background()); err == nil {
		log.Info("Store after crawl",
			"total_books", stats.TotalBooks,
			"active_books", stats.ActiveBooks,
			"removed_books", stats.RemovedBooks,
			"fingerprints", stats.Fingerprints,
			"categories", stats.Categories,
		)
	}

	log.Info("Shutting down crawler gracefully...")

	// Shutdown all services in reverse order
	// The DI container handles shutdown order automatically
	if err := injector.Shutdown(); err != nil {
		log.Error("Shutdown error", "error", err)
	}

	// Database and search index need explicit shutdown since they use
	// wrapper types
	if err := storeHandle.Shutdown(); err != nil {
		log.Error("Failed to close database", "error", err)
	}

	if searchHandle, err := do.Invoke[*providers.SearchIndexHandle](injector); err == nil {
		log.Info("Closing search index...")
		if err := searchHandle.Shutdown(); err != nil {
			log.Error("Failed to close search index", "error", err)
		}
	}

	if crawlErr != nil && !errors.Is(crawlErr, context.Canceled) {
		log.Error("Crawl failed",
			"last_processed_page", state.LastProcessedPage,
			"books_processed", state.BooksProcessed,
			"error", crawlErr,
		)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}
