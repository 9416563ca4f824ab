// Package providers contains dependency injection providers for the bookwatch binaries.
package providers

import (
	"context"
	"io"
	"os"

	"github.com/samber/do/v2"

	"github.com/filerskeepers/bookwatch/internal/config"
	"github.com/filerskeepers/bookwatch/internal/logger"
)

// ProvideConfig provides the application configuration.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	return config.LoadConfig()
}

// ProvideLogger provides the structured logger. When a log file is
// configured, output is mirrored there alongside stdout; the file handle
// stays open for the life of the process.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	var writer io.Writer = os.Stdout
	if cfg.Logger.File != "" {
		fw, err := logger.FileWriter(cfg.Logger.File)
		if err != nil {
			// A broken log path should not stop the pipeline; stdout
			// logging still works.
			writer = os.Stdout
		} else {
			writer = io.MultiWriter(os.Stdout, fw)
		}
	}

	log := logger.New(logger.Config{
		Writer:      writer,
		Format:      cfg.Logger.Format,
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
	})

	log.Info("Starting bookwatch",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"base_url", cfg.Source.BaseURL,
		"data_dir", cfg.Store.DataDir,
	)

	return log, nil
}

// ConfigWatcherHandle wraps the config file watcher with its cancel for
// lifecycle management.
type ConfigWatcherHandle struct {
	watcher *config.Watcher
	cancel  context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *ConfigWatcherHandle) Shutdown() error {
	if h.watcher == nil {
		return nil
	}
	h.cancel()
	h.watcher.Stop()
	return nil
}

// ProvideConfigWatcher provides the .env watcher that retunes the log
// level at runtime. A missing .env file is not an error; the watcher is
// simply not started.
func ProvideConfigWatcher(i do.Injector) (*ConfigWatcherHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	path := cfg.App.EnvFile
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return &ConfigWatcherHandle{}, nil
	}

	w, err := config.NewWatcher(log, path, config.LogLevelReloader(log))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	log.Info("Config watcher started", "path", path)

	return &ConfigWatcherHandle{watcher: w, cancel: cancel}, nil
}
