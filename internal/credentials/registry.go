package credentials

import (
	"context"
	"log/slog"

	"github.com/listenupapp/listenup-sync/internal/syncmap"
)

// Registry hands out one Account per library, loading it from storage on first use.
type Registry struct {
	repo     Repository
	logger   *slog.Logger
	accounts *syncmap.Map[string, *Account]
}

// NewRegistry creates a registry backed by repo.
func NewRegistry(repo Repository, logger *slog.Logger) *Registry {
	return &Registry{
		repo:     repo,
		logger:   logger,
		accounts: syncmap.New[string, *Account](),
	}
}

// Account returns the account for libraryID. Concurrent first calls may both read storage,
// but every caller receives the same *Account.
func (r *Registry) Account(ctx context.Context, libraryID string) (*Account, error) {
	if acct, ok := r.accounts.Load(libraryID); ok {
		return acct, nil
	}

	acct := newAccount(libraryID, r.repo, r.logger)
	if err := acct.load(ctx); err != nil {
		return nil, err
	}

	actual, _ := r.accounts.LoadOrStore(libraryID, acct)
	return actual, nil
}

// Reset signs the library out locally and forgets the cached account.
func (r *Registry) Reset(ctx context.Context, libraryID string) error {
	acct, err := r.Account(ctx, libraryID)
	if err != nil {
		return err
	}
	if err := acct.RemoveAll(ctx); err != nil {
		return err
	}
	r.accounts.Delete(libraryID)
	return nil
}

// Loaded returns the accounts that have been opened so far.
func (r *Registry) Loaded() []*Account {
	return r.accounts.Values()
}
