package providers

import (
	"time"

	"github.com/samber/do/v2"

	"github.com/filerskeepers/bookwatch/internal/alert"
	"github.com/filerskeepers/bookwatch/internal/auth"
	"github.com/filerskeepers/bookwatch/internal/config"
	"github.com/filerskeepers/bookwatch/internal/crawl"
	"github.com/filerskeepers/bookwatch/internal/diff"
	"github.com/filerskeepers/bookwatch/internal/logger"
	"github.com/filerskeepers/bookwatch/internal/reconcile"
	"github.com/filerskeepers/bookwatch/internal/report"
)

// ProvideDiffer provides the field-level book differ.
func ProvideDiffer(i do.Injector) (*diff.Differ, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return diff.NewDiffer(log.Logger), nil
}

// ProvideReconciler provides the change-detection reconciler.
func ProvideReconciler(i do.Injector) (*reconcile.Reconciler, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	fetcher := do.MustInvoke[*FetcherHandle](i)
	differ := do.MustInvoke[*diff.Differ](i)

	opts := reconcile.Options{
		BatchSize:                cfg.Detection.BatchSize,
		MaxConcurrentBooks:       cfg.Detection.MaxConcurrentBooks,
		ExpectedCatalogSize:      cfg.Detection.ExpectedCatalogSize,
		MaxRestorePages:          cfg.Detection.MaxRestorePages,
		MaxDiscoveryPages:        cfg.Detection.MaxDiscoveryPages,
		MaxConsecutivePageErrors: cfg.Detection.MaxConsecutivePageErrors,
	}

	return reconcile.NewReconciler(storeHandle.Store, fetcher.Client, differ, opts, log.Logger), nil
}

// ProvideCrawler provides the full-catalog crawler.
func ProvideCrawler(i do.Injector) (*crawl.Crawler, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	fetcher := do.MustInvoke[*FetcherHandle](i)

	opts := crawl.Options{
		StateFile:          cfg.Crawl.StateFile,
		Resume:             cfg.Crawl.ResumeOnFailure,
		CheckpointInterval: cfg.Crawl.CheckpointInterval,
	}

	return crawl.NewCrawler(storeHandle.Store, fetcher.Client, opts, log.Logger), nil
}

// ProvideReportGenerator provides the daily report generator.
func ProvideReportGenerator(i do.Injector) (*report.Generator, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)

	opts := report.Options{
		Dir:           cfg.Report.Dir,
		Format:        cfg.Report.Format,
		HistoryDays:   cfg.Report.HistoryDays,
		RetentionDays: cfg.Report.RetentionDays,
	}

	return report.NewGenerator(storeHandle.Store, opts, log.Logger), nil
}

// ProvideAlerter provides the change alerter.
func ProvideAlerter(i do.Injector) (*alert.Alerter, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)

	opts := alert.Options{
		Enabled:     cfg.Alert.Enabled,
		MinSeverity: cfg.MinAlertSeverity(),
		MaxPerHour:  cfg.Alert.MaxPerHour,
		Cooldown:    time.Duration(cfg.Alert.CooldownMinutes) * time.Minute,
	}

	return alert.NewAlerter(storeHandle.Store, opts, log.Logger), nil
}

// ProvideAPIKeyService provides the API key service used by the read API.
func ProvideAPIKeyService(i do.Injector) (*auth.APIKeyService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	keys := do.MustInvoke[*KeyStoreHandle](i)

	return auth.NewAPIKeyService(keys.Store, cfg.Server.BootstrapAPIKeys, cfg.Server.RateLimitPerHour, log.Logger), nil
}
