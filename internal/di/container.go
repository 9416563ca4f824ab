// Package di provides dependency injection configuration for the bookwatch binaries.
package di

import (
	"github.com/samber/do/v2"

	"github.com/filerskeepers/bookwatch/internal/alert"
	"github.com/filerskeepers/bookwatch/internal/auth"
	"github.com/filerskeepers/bookwatch/internal/config"
	"github.com/filerskeepers/bookwatch/internal/crawl"
	"github.com/filerskeepers/bookwatch/internal/di/providers"
	"github.com/filerskeepers/bookwatch/internal/diff"
	"github.com/filerskeepers/bookwatch/internal/logger"
	"github.com/filerskeepers/bookwatch/internal/reconcile"
	"github.com/filerskeepers/bookwatch/internal/report"
)

// NewContainer creates and configures the DI container with all providers.
// Providers are lazy; each binary bootstraps only the slice of the graph
// it needs.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideConfigWatcher)

	// Storage layer
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideKeyStore)

	// Search layer
	do.Provide(injector, providers.ProvideSearchIndex)

	// Fetch layer
	do.Provide(injector, providers.ProvideFetcher)

	// Pipeline services
	do.Provide(injector, providers.ProvideDiffer)
	do.Provide(injector, providers.ProvideReconciler)
	do.Provide(injector, providers.ProvideCrawler)
	do.Provide(injector, providers.ProvideReportGenerator)
	do.Provide(injector, providers.ProvideAlerter)
	do.Provide(injector, providers.ProvideAPIKeyService)

	// Workers
	do.Provide(injector, providers.ProvideJobSet)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// BootstrapAPI initializes everything the read API server needs. This
// triggers lazy initialization in dependency order so a broken config or
// store fails the process at startup instead of on the first request.
func BootstrapAPI(injector *do.RootScope) error {
	_ = do.MustInvoke[*config.Config](injector)
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*providers.ConfigWatcherHandle](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)
	_ = do.MustInvoke[*providers.KeyStoreHandle](injector)
	_ = do.MustInvoke[*providers.SearchIndexHandle](injector)
	_ = do.MustInvoke[*auth.APIKeyService](injector)
	_ = do.MustInvoke[*report.Generator](injector)
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	// Backfill the search index when it is empty but the store is not,
	// e.g. after the index directory was wiped.
	providers.TriggerSearchReindexIfNeeded(injector)

	return nil
}

// BootstrapScheduler initializes the detection pipeline used by the
// scheduler process: store, fetcher, reconciler, reporting and alerting.
func BootstrapScheduler(injector *do.RootScope) error {
	_ = do.MustInvoke[*config.Config](injector)
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*providers.ConfigWatcherHandle](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)
	_ = do.MustInvoke[*providers.SearchIndexHandle](injector)
	_ = do.MustInvoke[*providers.FetcherHandle](injector)
	_ = do.MustInvoke[*diff.Differ](injector)
	_ = do.MustInvoke[*reconcile.Reconciler](injector)
	_ = do.MustInvoke[*report.Generator](injector)
	_ = do.MustInvoke[*alert.Alerter](injector)
	_ = do.MustInvoke[*providers.JobSet](injector)

	return nil
}

// BootstrapCrawler initializes the full-catalog crawl pipeline.
func BootstrapCrawler(injector *do.RootScope) error {
	_ = do.MustInvoke[*config.Config](injector)
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)
	_ = do.MustInvoke[*providers.SearchIndexHandle](injector)
	_ = do.MustInvoke[*providers.FetcherHandle](injector)
	_ = do.MustInvoke[*crawl.Crawler](injector)

	return nil
}

// BootstrapFingerprints initializes the slice the fingerprints CLI needs:
// just configuration, logging and the document store.
func BootstrapFingerprints(injector *do.RootScope) error {
	_ = do.MustInvoke[*config.Config](injector)
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)

	return nil
}
