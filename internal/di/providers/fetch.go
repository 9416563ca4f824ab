package providers

import (
	"github.com/samber/do/v2"

	"github.com/filerskeepers/bookwatch/internal/config"
	"github.com/filerskeepers/bookwatch/internal/fetch"
	"github.com/filerskeepers/bookwatch/internal/logger"
)

// FetcherHandle wraps the catalog HTTP client with shutdown capability.
type FetcherHandle struct {
	*fetch.Client
}

// Shutdown implements do.Shutdownable.
func (h *FetcherHandle) Shutdown() error {
	h.Close()
	return nil
}

// ProvideFetcher provides the rate-limited catalog client. One instance
// is shared by every consumer so the whole process honors a single
// request budget against the source site.
func ProvideFetcher(i do.Injector) (*FetcherHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	client := fetch.NewClient(fetch.Config{
		BaseURL:               cfg.Source.BaseURL,
		UserAgent:             cfg.Source.UserAgent,
		RequestsPerSecond:     cfg.Fetch.RateLimitPerSecond,
		Timeout:               cfg.Fetch.RequestTimeout,
		RetryAttempts:         cfg.Fetch.RetryAttempts,
		RetryDelay:            cfg.Fetch.RetryDelay,
		MaxConcurrentRequests: cfg.Fetch.MaxConcurrentRequests,
	}, log.Logger)

	log.Info("Catalog client ready",
		"base_url", cfg.Source.BaseURL,
		"rate_limit_per_second", cfg.Fetch.RateLimitPerSecond,
		"retry_attempts", cfg.Fetch.RetryAttempts,
	)

	return &FetcherHandle{Client: client}, nil
}
