// Package libraries assembles the per-account services (credential store, sign-in
// orchestrator, annotation client and sync engine) for the libraries named in the
// accounts file.
package libraries

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/listenupapp/listenup-sync/internal/annotations"
	"github.com/listenupapp/listenup-sync/internal/bookmarksync"
	"github.com/listenupapp/listenup-sync/internal/credentials"
	"github.com/listenupapp/listenup-sync/internal/deletionlog"
	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/drm"
	"github.com/listenupapp/listenup-sync/internal/errors"
	"github.com/listenupapp/listenup-sync/internal/i18n"
	"github.com/listenupapp/listenup-sync/internal/logger"
	"github.com/listenupapp/listenup-sync/internal/netclient"
	"github.com/listenupapp/listenup-sync/internal/ratelimit"
	"github.com/listenupapp/listenup-sync/internal/signin"
	"github.com/listenupapp/listenup-sync/internal/store/sqlite"
)

// Library is the service set of one library account.
type Library struct {
	Config  domain.LibraryAccount
	Account *credentials.Account
	SignIn  *signin.Orchestrator
	Client  *annotations.Client
	Engine  *bookmarksync.Engine
	// Local is the bookmark replica of this library alone.
	Local *sqlite.Replica
}

// Observer combines the observers the services report to.
type Observer interface {
	bookmarksync.Observer
	signin.Observer
}

// Options holds the shared collaborators every Library is built from.
type Options struct {
	Accounts  []domain.LibraryAccount
	Registry  *credentials.Registry
	Local     *sqlite.Store
	Deletions *deletionlog.Log
	DRM       drm.Authorizer
	Agent     signin.ExternalAgent
	Messages  *i18n.Printer
	Observer  Observer
	// Limiter paces outbound requests per host; nil disables pacing.
	Limiter *ratelimit.KeyedRateLimiter

	UserAgent string
	Device    string
	// Timeout caps each annotation request. Zero uses netclient.AnnotationTimeout.
	Timeout time.Duration
	// SignInTimeout caps each sign-in, sign-out and DRM request. Zero uses
	// netclient.SignInTimeout.
	SignInTimeout time.Duration
	PositionDelay time.Duration
	// HTTPClient, when set, supplies the transport instead of the default one. Tests point
	// it at an httptest server.
	HTTPClient *http.Client
}

// Set builds Library values on first use and keeps them for the life of the process.
type Set struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	loaded map[string]*Library
}

// New creates a Set.
func New(opts Options, log *slog.Logger) *Set {
	if log == nil {
		log = logger.Discard()
	}
	if opts.DRM == nil {
		opts.DRM = drm.Noop{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = netclient.AnnotationTimeout
	}
	if opts.SignInTimeout <= 0 {
		opts.SignInTimeout = netclient.SignInTimeout
	}
	return &Set{opts: opts, logger: log, loaded: make(map[string]*Library)}
}

// IDs returns the configured library IDs in file order.
func (s *Set) IDs() []string {
	ids := make([]string, 0, len(s.opts.Accounts))
	for _, a := range s.opts.Accounts {
		ids = append(ids, a.ID)
	}
	return ids
}

// Get returns the services of libraryID, building them on first use.
func (s *Set) Get(ctx context.Context, libraryID string) (*Library, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lib, ok := s.loaded[libraryID]; ok {
		return lib, nil
	}

	idx := slices.IndexFunc(s.opts.Accounts, func(a domain.LibraryAccount) bool { return a.ID == libraryID })
	if idx < 0 {
		return nil, errors.NotFound("library %q is not in the accounts file", libraryID)
	}

	lib, err := s.build(ctx, s.opts.Accounts[idx])
	if err != nil {
		return nil, err
	}
	s.loaded[libraryID] = lib
	return lib, nil
}

func (s *Set) build(ctx context.Context, cfg domain.LibraryAccount) (*Library, error) {
	log := s.logger.With("library_id", cfg.ID)

	account, err := s.opts.Registry.Account(ctx, cfg.ID)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInternal, "load account %s", cfg.ID)
	}

	storage, err := signin.NewWebStorage()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "create web storage")
	}

	// Sign-in and annotation traffic share the cookie jar but not the timeout: a slow
	// token exchange must not be cut off at the annotation budget.
	signInNet := s.netClient(storage, s.opts.SignInTimeout, log)
	annotationNet := s.netClient(storage, s.opts.Timeout, log)
	builder := netclient.NewRequestBuilder(cfg.AuthMethod, s.opts.UserAgent)

	var signInObserver signin.Observer
	var engineObserver bookmarksync.Observer
	if s.opts.Observer != nil {
		signInObserver = s.opts.Observer
		engineObserver = s.opts.Observer
	}

	authorizer := s.opts.DRM
	if !cfg.SupportsDRM {
		authorizer = drm.Noop{}
	}

	orchestrator := signin.New(signin.Config{
		Library:  cfg,
		Account:  account,
		Net:      signInNet,
		Builder:  builder,
		DRM:      authorizer,
		Agent:    s.opts.Agent,
		Storage:  storage,
		Messages: s.opts.Messages,
		Observer: signInObserver,
	}, log)

	local := s.opts.Local.Library(cfg.ID)
	client := annotations.NewClient(cfg.ID, annotationNet, builder, s.opts.Local, log)
	engine := bookmarksync.New(account, client, local, s.opts.Deletions.Library(cfg.ID), bookmarksync.Config{
		Endpoint:      cfg.AnnotationsURL,
		Device:        s.opts.Device,
		PositionDelay: s.opts.PositionDelay,
		Observer:      engineObserver,
	}, log)

	log.Debug("library services ready", "auth_method", cfg.AuthMethod, "auth_state", account.AuthState())
	return &Library{
		Config:  cfg,
		Account: account,
		SignIn:  orchestrator,
		Client:  client,
		Engine:  engine,
		Local:   local,
	}, nil
}

func (s *Set) netClient(storage *signin.WebStorage, timeout time.Duration, log *slog.Logger) *netclient.Client {
	hc := &http.Client{Timeout: timeout, Jar: storage.Jar()}
	if s.opts.HTTPClient != nil {
		hc.Transport = s.opts.HTTPClient.Transport
		if s.opts.HTTPClient.Jar != nil {
			hc.Jar = s.opts.HTTPClient.Jar
		}
	}
	opts := []netclient.Option{netclient.WithHTTPClient(hc)}
	if s.opts.Limiter != nil {
		opts = append(opts, netclient.WithRateLimiter(s.opts.Limiter))
	}
	return netclient.New(timeout, log, opts...)
}

// Forget signs libraryID out locally, without contacting the library, and drops its
// services so the next Get starts from the fresh account the registry loads.
func (s *Set) Forget(ctx context.Context, libraryID string) error {
	if !slices.ContainsFunc(s.opts.Accounts, func(a domain.LibraryAccount) bool { return a.ID == libraryID }) {
		return errors.NotFound("library %q is not in the accounts file", libraryID)
	}

	s.mu.Lock()
	lib, ok := s.loaded[libraryID]
	delete(s.loaded, libraryID)
	s.mu.Unlock()

	// Pending position uploads still carry the old credentials.
	if ok {
		lib.Engine.Close()
	}

	if err := s.opts.Registry.Reset(ctx, libraryID); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "reset account %s", libraryID)
	}
	s.logger.Info("library account forgotten", "library_id", libraryID)
	return nil
}

// Resolve implements annotations.Resolver. Libraries that are signed out or have sync
// disabled do not resolve, so their queued entries wait.
func (s *Set) Resolve(ctx context.Context, libraryID string) (*annotations.Client, annotations.Session, error) {
	lib, err := s.Get(ctx, libraryID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := lib.Account.ExpireToken(ctx, time.Now()); err != nil {
		return nil, nil, errors.Wrapf(err, errors.CodeInternal, "expire token of %s", libraryID)
	}
	switch {
	case !lib.Account.IsSignedIn():
		return nil, nil, errors.ErrNotSignedIn
	case !lib.Account.SyncAllowed():
		return nil, nil, errors.ErrSyncDisabled
	}
	return lib.Client, lib.Account, nil
}

// Flush uploads every pending reading position of the loaded libraries.
func (s *Set) Flush() {
	for _, lib := range s.snapshot() {
		lib.Engine.Flush()
	}
}

// Close flushes and stops the engines of the loaded libraries.
func (s *Set) Close() {
	for _, lib := range s.snapshot() {
		lib.Engine.Close()
	}
}

func (s *Set) snapshot() []*Library {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Library, 0, len(s.loaded))
	for _, lib := range s.loaded {
		out = append(out, lib)
	}
	return out
}
