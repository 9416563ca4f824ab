// Package main provides the entry point for the bookwatch detection scheduler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/filerskeepers/bookwatch/internal/di"
	"github.com/filerskeepers/bookwatch/internal/di/providers"
	"github.com/filerskeepers/bookwatch/internal/logger"
	"github.com/filerskeepers/bookwatch/internal/schedule"
)

func main() {
	// Mode flags must be defined before the config provider parses the
	// command line.
	testMode := flag.Bool("test", false, "Run jobs on short test intervals instead of the daily schedule")
	runOnce := flag.Bool("once", false, "Run one detection pass and daily report, then exit")

	// Create DI container
	injector := di.NewContainer()

	// Bootstrap the detection pipeline
	if err := di.BootstrapScheduler(injector); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap scheduler: %v\n", err)
		os.Exit(1)
	}

	log := do.MustInvoke[*logger.Logger](injector)
	jobs := do.MustInvoke[*providers.JobSet](injector)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var runErr error
	if *runOnce {
		log.Info("Running one-shot detection pass")
		runErr = jobs.RunOnce(ctx)
	} else {
		sched := schedule.NewScheduler(log.Logger)
		if *testMode {
			log.Info("Using test intervals")
			jobs.RegisterTest(sched)
		} else {
			jobs.RegisterDaemon(sched)
		}

		// Start blocks until a shutdown signal cancels the context.
		if err := sched.Start(ctx); err != nil {
			log.Error("Scheduler failed to start", "error", err)
		}
		sched.Stop()
	}

	log.Info("Shutting down scheduler gracefully...")

	// Shutdown all services in reverse order
	// The DI container handles shutdown order automatically
	if err := injector.Shutdown(); err != nil {
		log.Error("Shutdown error", "error", err)
	}

	// Database and search index need explicit shutdown since they use
	// wrapper types
	if storeHandle, err := do.Invoke[*providers.StoreHandle](injector); err == nil {
		log.Info("Closing database...")
		if err := storeHandle.Shutdown(); err != nil {
			log.Error("Failed to close database", "error", err)
		}
	}

	if searchHandle, err := do.Invoke[*providers.SearchIndexHandle](injector); err == nil {
		log.Info("Closing search index...")
		if err := searchHandle.Shutdown(); err != nil {
			log.Error("Failed to close search index", "error", err)
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("One-shot run failed", "error", runErr)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}
