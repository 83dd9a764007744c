package providers

import (
	"context"
	"fmt"
	"os"

	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-sync/internal/config"
	"github.com/listenupapp/listenup-sync/internal/credentials"
	"github.com/listenupapp/listenup-sync/internal/deletionlog"
	"github.com/listenupapp/listenup-sync/internal/logger"
	"github.com/listenupapp/listenup-sync/internal/store"
	"github.com/listenupapp/listenup-sync/internal/store/sqlite"
)

// StoreHandle wraps the Badger store with shutdown capability.
type StoreHandle struct {
	*store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the credential, deletion-log and activation store.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	db, err := store.New(cfg.Data.BadgerPath(), log.Component("store"))
	if err != nil {
		return nil, err
	}

	log.Debug("key-value store opened", "path", cfg.Data.BadgerPath())
	return &StoreHandle{Store: db}, nil
}

// BookmarkDBHandle wraps the SQLite bookmark replica with shutdown capability.
type BookmarkDBHandle struct {
	*sqlite.Store
}

// Shutdown implements do.Shutdownable.
func (h *BookmarkDBHandle) Shutdown() error {
	return h.Close()
}

// ProvideBookmarkDB provides the bookmark replica and outbox database.
func ProvideBookmarkDB(i do.Injector) (*BookmarkDBHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if err := os.MkdirAll(cfg.Data.BasePath, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sqlite.Open(context.Background(), cfg.Data.SQLitePath(), log.Component("sqlite"))
	if err != nil {
		return nil, err
	}

	log.Debug("bookmark database opened", "path", cfg.Data.SQLitePath())
	return &BookmarkDBHandle{Store: db}, nil
}

// ProvideCredentialRegistry provides the per-library credential store.
func ProvideCredentialRegistry(i do.Injector) (*credentials.Registry, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*logger.Logger](i)
	return credentials.NewRegistry(storeHandle.Accounts, log.Component("credentials")), nil
}

// ProvideDeletionLog provides the process-wide deletion log, loaded from disk.
func ProvideDeletionLog(i do.Injector) (*deletionlog.Log, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*logger.Logger](i)
	return deletionlog.Open(context.Background(), storeHandle.Deletions, log.Component("deletionlog"))
}
