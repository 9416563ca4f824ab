package providers

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/filerskeepers/bookwatch/internal/config"
	"github.com/filerskeepers/bookwatch/internal/logger"
	"github.com/filerskeepers/bookwatch/internal/store"
	"github.com/filerskeepers/bookwatch/internal/store/sqlite"
)

// StoreHandle wraps the document store with shutdown capability.
type StoreHandle struct {
	*store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the badger-backed document store holding the
// mirrored catalog.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if err := os.MkdirAll(cfg.Store.DataDir, 0o750); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(cfg.Store.DataDir, "db")
	db, err := store.New(dbPath, log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("Document store initialized", "path", dbPath)

	return &StoreHandle{Store: db}, nil
}

// KeyStoreHandle wraps the API key store with shutdown capability.
type KeyStoreHandle struct {
	*sqlite.Store
}

// Shutdown implements do.Shutdownable.
func (h *KeyStoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideKeyStore provides the SQLite store holding API key credentials.
// Only the read API opens it; the pipeline binaries never touch keys.
func ProvideKeyStore(i do.Injector) (*KeyStoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if err := os.MkdirAll(cfg.Store.DataDir, 0o750); err != nil {
		return nil, err
	}

	path := filepath.Join(cfg.Store.DataDir, "keys.db")
	db, err := sqlite.Open(path, log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("API key store initialized", "path", path)

	return &KeyStoreHandle{Store: db}, nil
}

// ProvideSlogLogger provides access to the underlying slog.Logger for packages that need it.
func ProvideSlogLogger(i do.Injector) (*slog.Logger, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return log.Logger, nil
}
