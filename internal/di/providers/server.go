package providers

import (
	"context"
	"errors"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/filerskeepers/bookwatch/internal/api"
	"github.com/filerskeepers/bookwatch/internal/auth"
	"github.com/filerskeepers/bookwatch/internal/config"
	"github.com/filerskeepers/bookwatch/internal/logger"
	"github.com/filerskeepers/bookwatch/internal/report"
)

// version is reported by the health endpoint and the OpenAPI document.
const version = "1.0.0"

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the read API server, already listening.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	keyService := do.MustInvoke[*auth.APIKeyService](i)
	reports := do.MustInvoke[*report.Generator](i)

	// First start on a fresh install mints a key so the API is reachable.
	// The token is only ever printed here.
	if token, err := keyService.EnsureDefaultKey(context.Background()); err != nil {
		return nil, err
	} else if token != "" {
		log.Info("Generated default API key", "token", token)
	}

	handler := api.NewServer(storeHandle.Store, indexHandle.SearchIndex, keyService, reports, api.Options{
		Version:      version,
		QuotaPerHour: cfg.Server.RateLimitPerHour,
	}, log.Logger)

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in background
	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	log.Info("Server running", "addr", srv.Addr)

	return &HTTPServerHandle{Server: srv}, nil
}
