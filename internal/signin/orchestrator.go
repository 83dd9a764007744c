// Package signin drives sign-in and sign-out for one library account: basic, token exchange,
// and OAuth/SAML through an external agent, followed by profile validation and optional
// DRM device activation.
package signin

import (
	"context"
	"encoding/json/v2"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/listenupapp/listenup-sync/internal/credentials"
	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/drm"
	"github.com/listenupapp/listenup-sync/internal/errors"
	"github.com/listenupapp/listenup-sync/internal/i18n"
	"github.com/listenupapp/listenup-sync/internal/id"
	"github.com/listenupapp/listenup-sync/internal/logger"
	"github.com/listenupapp/listenup-sync/internal/netclient"
)

// State is the phase of the current sign-in attempt.
type State string

// Attempt states.
const (
	StateIdle                     State = "idle"
	StateAwaitingExternalRedirect State = "awaitingExternalRedirect"
	StateValidating               State = "validating"
	StateDRMAuthorizing           State = "drmAuthorizing"
	StateFinalized                State = "finalized"
	StateFailed                   State = "failed"
)

// RedirectHandler accepts the redirect that ends an external sign-in.
type RedirectHandler func(raw string) bool

// ExternalAgent opens the provider's sign-in page (a browser or an embedded web view) and
// hands the redirect it eventually receives to done.
type ExternalAgent interface {
	Open(ctx context.Context, authorizeURL string, done RedirectHandler) error
}

// EventKind says what an Event reports.
type EventKind string

// Event kinds.
const (
	EventSignedIn     EventKind = "signed_in"
	EventSignInFailed EventKind = "sign_in_failed"
	EventSignedOut    EventKind = "signed_out"
)

// Event is delivered to the Observer exactly once per SignIn, Refresh or SignOut call.
type Event struct {
	Kind      EventKind
	LibraryID string
	AttemptID string
	Method    domain.AuthMethod
	// Failure is set for EventSignInFailed.
	Failure *Failure
}

// Observer is told when an attempt ends.
type Observer interface {
	SignInFinished(ev Event)
}

// Request is the user input for basic and token sign-in. External methods ignore it.
type Request struct {
	Barcode string
	PIN     string
}

// Config holds the collaborators of an Orchestrator.
type Config struct {
	Library  domain.LibraryAccount
	Account  *credentials.Account
	Net      *netclient.Client
	Builder  *netclient.RequestBuilder
	DRM      drm.Authorizer
	Agent    ExternalAgent
	Storage  *WebStorage
	Messages *i18n.Printer
	Observer Observer
}

// Orchestrator runs one sign-in attempt at a time for a library account.
type Orchestrator struct {
	library  domain.LibraryAccount
	account  *credentials.Account
	net      *netclient.Client
	builder  *netclient.RequestBuilder
	drm      drm.Authorizer
	agent    ExternalAgent
	storage  *WebStorage
	messages *i18n.Printer
	observer Observer
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	busy     bool
	redirect chan string
}

// New creates an Orchestrator and restores persisted IdP cookies into storage.
func New(cfg Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.DRM == nil {
		cfg.DRM = drm.Noop{}
	}
	if cfg.Messages == nil {
		cfg.Messages = i18n.New("")
	}

	o := &Orchestrator{
		library:  cfg.Library,
		account:  cfg.Account,
		net:      cfg.Net,
		builder:  cfg.Builder,
		drm:      cfg.DRM,
		agent:    cfg.Agent,
		storage:  cfg.Storage,
		messages: cfg.Messages,
		observer: cfg.Observer,
		now:      time.Now,
		logger:   log.With("library_id", cfg.Library.ID, "auth_method", cfg.Library.AuthMethod),
		state:    StateIdle,
	}

	if o.storage != nil {
		if u, err := url.Parse(o.library.AuthorizeURL); err == nil && o.library.AuthorizeURL != "" {
			o.storage.Restore(u, o.account.Cookies())
		}
	}
	return o
}

// State returns the phase of the current or last attempt.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State, log *slog.Logger) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	log.Debug("sign-in state", "state", s)
}

// begin reserves the orchestrator for one attempt.
func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return false
	}
	o.busy = true
	o.state = StateIdle
	return true
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.busy = false
	o.redirect = nil
	o.mu.Unlock()
}

// attempt carries what one sign-in produced so far.
type attempt struct {
	id     string
	logger *slog.Logger

	creds      domain.Credentials
	cookies    []domain.Cookie
	patronInfo []byte
	profile    *domain.UserProfile
	identity   *domain.DRMIdentity

	once sync.Once
}

// SignIn runs a complete attempt. The Observer is notified exactly once, whatever the
// outcome, and nothing is stored unless the attempt succeeds.
func (o *Orchestrator) SignIn(ctx context.Context, req Request) error {
	attemptID := id.MustGenerate(id.PrefixAttempt)
	a := &attempt{id: attemptID, logger: o.logger.With("attempt_id", attemptID)}

	if !o.begin() {
		return o.finish(a, &Failure{
			LibraryID: o.library.ID,
			Title:     o.messages.Sprintf(i18n.SignInFailedTitle),
			Message:   o.messages.Sprintf(i18n.SignInAlreadyInProcess),
			Err:       ErrInProgress,
		})
	}
	defer o.end()

	a.logger.Info("sign-in started")
	return o.finish(a, o.run(ctx, a, req))
}

func (o *Orchestrator) run(ctx context.Context, a *attempt, req Request) error {
	var err error
	switch o.library.AuthMethod {
	case domain.AuthMethodNone:
		return o.finalize(ctx, a)
	case domain.AuthMethodBasic:
		if req.Barcode == "" {
			return o.fail(a, ErrMissingInput)
		}
		a.creds = domain.BarcodeAndPin{Barcode: req.Barcode, PIN: req.PIN}
	case domain.AuthMethodToken:
		if req.Barcode == "" {
			return o.fail(a, ErrMissingInput)
		}
		var token *domain.TokenCredentials
		if token, err = o.exchangeToken(ctx, req.Barcode, req.PIN); err != nil {
			return o.fail(a, err)
		}
		a.creds = *token
	case domain.AuthMethodOAuth, domain.AuthMethodSAML:
		if err = o.external(ctx, a); err != nil {
			return o.fail(a, err)
		}
	default:
		return o.fail(a, errors.Validation("unsupported auth method %q", o.library.AuthMethod))
	}

	o.setState(StateValidating, a.logger)
	if a.profile, err = o.validate(ctx, a.creds); err != nil {
		return o.fail(a, err)
	}

	if err := o.authorizeDevice(ctx, a); err != nil {
		return o.fail(a, err)
	}
	return o.finalize(ctx, a)
}

// external opens the agent and waits for the one redirect that completes the attempt.
func (o *Orchestrator) external(ctx context.Context, a *attempt) error {
	if o.agent == nil {
		return ErrNoAgent
	}

	target, err := authorizeURL(o.library.AuthorizeURL, o.library.RedirectURI)
	if err != nil {
		return errors.Wrap(err, errors.CodeValidation, "authorize url")
	}

	ch := make(chan string, 1)
	o.mu.Lock()
	o.redirect = ch
	o.mu.Unlock()

	o.setState(StateAwaitingExternalRedirect, a.logger)
	if err := o.agent.Open(ctx, target, o.HandleRedirect); err != nil {
		return errors.Wrap(err, errors.CodeSignInFailed, "open external agent")
	}

	var raw string
	select {
	case raw = <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}

	payload, err := ParseRedirect(raw, o.library.AuthMethod)
	if err != nil {
		a.logger.Warn("redirect rejected", "error", err)
		return err
	}

	a.creds = domain.TokenCredentials{AuthToken: payload.AccessToken}
	a.patronInfo = payload.PatronInfo
	if o.library.AuthMethod == domain.AuthMethodSAML && o.storage != nil {
		if u, err := url.Parse(o.library.AuthorizeURL); err == nil {
			a.cookies = o.storage.Snapshot(u)
		}
	}
	return nil
}

// HandleRedirect delivers a redirect from the external agent to the waiting attempt.
// It returns false when no attempt is waiting or the URL is not our callback; a second
// redirect for the same attempt is ignored.
func (o *Orchestrator) HandleRedirect(raw string) bool {
	if !matchesRedirectURI(raw, o.library.RedirectURI) {
		return false
	}

	o.mu.Lock()
	ch := o.redirect
	o.redirect = nil
	o.mu.Unlock()

	if ch == nil {
		return false
	}
	ch <- raw
	return true
}

// validate fetches the patron profile with creds.
func (o *Orchestrator) validate(ctx context.Context, creds domain.Credentials) (*domain.UserProfile, error) {
	req, err := o.profileRequest(ctx, creds)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "build profile request")
	}

	// Credentials are not stored yet, so a 401 here must not touch the stored session.
	resp, err := o.net.Do(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	if resp.Unauthorized() {
		return nil, invalidCredentials(resp)
	}
	if !resp.OK() {
		return nil, o.net.ProtocolError(resp, "validate credentials")
	}

	var profile domain.UserProfile
	if err := json.Unmarshal(resp.Body, &profile); err != nil {
		return nil, errors.Wrap(errors.Join(ErrMalformedProfile, err), errors.CodeProtocol, "decode profile")
	}
	profile.ResolveLinks()
	return &profile, nil
}

func (o *Orchestrator) profileRequest(ctx context.Context, creds domain.Credentials) (*http.Request, error) {
	switch c := creds.(type) {
	case domain.BarcodeAndPin:
		return o.builder.BuildBasic(ctx, http.MethodGet, o.library.ProfileURL, nil, c.Barcode, c.PIN)
	case domain.TokenCredentials:
		return o.builder.BuildBearer(ctx, http.MethodGet, o.library.ProfileURL, nil, c.AuthToken)
	default:
		return o.builder.Build(ctx, http.MethodGet, o.library.ProfileURL, nil, nil)
	}
}

// authorizeDevice activates DRM unless the build has none, the current activation is still
// valid, or the device certificate expired.
func (o *Orchestrator) authorizeDevice(ctx context.Context, a *attempt) error {
	switch {
	case !o.drm.Enabled():
		return nil
	case o.account.ShouldSkipDRMActivation(ctx, o.drm):
		a.logger.Info("DRM activation still valid, skipping")
		return nil
	case o.drm.CertificateExpired():
		a.logger.Warn("DRM certificate expired, signing in without activation")
		return nil
	}

	licensor, ok := a.profile.Licensor()
	if !ok {
		a.logger.Debug("profile has no DRM licensor")
		return nil
	}

	o.setState(StateDRMAuthorizing, a.logger)
	identity, err := o.drm.Authorize(ctx, drm.ActivationRequest{AccountID: o.library.ID, Licensor: licensor})
	if err != nil {
		return errors.Wrap(err, errors.CodeSignInFailed, "device activation")
	}
	a.identity = identity
	return nil
}

// finalize stores everything the attempt produced and marks the account loggedIn.
func (o *Orchestrator) finalize(ctx context.Context, a *attempt) error {
	err := o.account.CompleteSignIn(ctx, credentials.SignInResult{
		Credentials: a.creds,
		Cookies:     a.cookies,
		PatronInfo:  a.patronInfo,
		Profile:     a.profile,
		DRM:         a.identity,
	})
	if err != nil {
		return o.fail(a, errors.Wrap(err, errors.CodeInternal, "store credentials"))
	}

	o.setState(StateFinalized, a.logger)
	a.logger.Info("sign-in finished",
		"sync_allowed", o.account.SyncAllowed(),
		"drm_activated", a.identity != nil,
	)
	return nil
}

// fail turns err into a Failure with user-facing text.
func (o *Orchestrator) fail(a *attempt, err error) error {
	o.setState(StateFailed, a.logger)
	f := o.describe(err)
	a.logger.Warn("sign-in failed", "title", f.Title, "error", err)
	return f
}

func (o *Orchestrator) describe(err error) *Failure {
	f := &Failure{
		LibraryID: o.library.ID,
		Title:     o.messages.Sprintf(i18n.SignInFailedTitle),
		Message:   o.messages.Sprintf(i18n.SignInFailedMessage, o.libraryName()),
		Err:       err,
	}

	var redirectErr *RedirectError
	var problem *domain.ProblemDocument
	switch {
	case errors.As(err, &redirectErr):
		problem = &redirectErr.Problem
	case errors.As(err, &problem):
	}

	switch {
	case errors.Is(err, ErrMalformedRedirect), errors.Is(err, ErrIncompleteRedirect):
		f.Message = o.messages.Sprintf(i18n.RedirectMalformed)
	case errors.Is(err, errors.ErrInvalidCredentials):
		f.Message = o.messages.Sprintf(i18n.InvalidCredentials)
	case errors.Is(err, errors.ErrTransport):
		f.Message = o.messages.Sprintf(i18n.LibraryUnreachable, o.libraryName())
	case errors.Is(err, drm.ErrRateLimited), errors.Is(err, drm.ErrMissingToken), errors.Is(err, drm.ErrCertificateStale):
		f.Message = o.messages.Sprintf(i18n.ActivationFailed)
	case errors.Is(err, ErrInteractive):
		f.Message = o.messages.Sprintf(i18n.SessionExpired, o.libraryName())
	}

	if problem != nil {
		if problem.Title != "" {
			f.Title = problem.Title
		}
		if problem.Detail != "" {
			f.Message = problem.Detail
		}
	}
	return f
}

func (o *Orchestrator) libraryName() string {
	if o.library.Name != "" {
		return o.library.Name
	}
	return o.library.ID
}

// finish notifies the Observer once for the attempt and returns err.
func (o *Orchestrator) finish(a *attempt, err error) error {
	a.once.Do(func() {
		if o.observer == nil {
			return
		}
		ev := Event{
			Kind:      EventSignedIn,
			LibraryID: o.library.ID,
			AttemptID: a.id,
			Method:    o.library.AuthMethod,
		}
		if err != nil {
			ev.Kind = EventSignInFailed
			if !errors.As(err, &ev.Failure) {
				ev.Failure = o.describe(err)
			}
		}
		o.observer.SignInFinished(ev)
	})
	return err
}

// Refresh silently re-authenticates a stale session when the stored credentials allow it:
// token libraries re-run the exchange with the stored barcode and PIN. Everything else
// needs a new interactive SignIn.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	if o.account.AuthState() != domain.AuthStateCredentialsStale {
		return nil
	}

	barcode, pin, ok := o.account.BarcodeAndPin()
	switch {
	case ok && o.library.AuthMethod == domain.AuthMethodToken, ok && o.library.AuthMethod == domain.AuthMethodBasic:
		o.logger.Info("refreshing stale session")
		return o.SignIn(ctx, Request{Barcode: barcode, PIN: pin})
	default:
		attemptID := id.MustGenerate(id.PrefixAttempt)
		a := &attempt{id: attemptID, logger: o.logger.With("attempt_id", attemptID)}
		return o.finish(a, o.describe(ErrInteractive))
	}
}

// SignOut revokes the session on the server and deactivates the device, both best-effort,
// then clears agent web storage and the stored credentials. It fails only when the local
// credentials cannot be removed.
func (o *Orchestrator) SignOut(ctx context.Context) error {
	attemptID := id.MustGenerate(id.PrefixAttempt)
	log := o.logger.With("attempt_id", attemptID)

	if o.library.SignOutURL != "" && o.account.HasCredentials() {
		o.revoke(ctx, log)
	}

	if identity := o.account.DRMIdentity(); identity.Complete() && o.drm.Enabled() {
		if err := o.drm.Deauthorize(ctx, *identity); err != nil {
			log.Warn("DRM deauthorization failed, continuing sign-out", "error", err)
		}
	}

	if o.storage != nil {
		if err := o.storage.Clear(); err != nil {
			log.Warn("clear web storage failed", "error", err)
		}
	}

	if err := o.account.RemoveAll(ctx); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "remove credentials")
	}

	log.Info("signed out")
	if o.observer != nil {
		o.observer.SignInFinished(Event{
			Kind:      EventSignedOut,
			LibraryID: o.library.ID,
			AttemptID: attemptID,
			Method:    o.library.AuthMethod,
		})
	}
	return nil
}

func (o *Orchestrator) revoke(ctx context.Context, log *slog.Logger) {
	req, err := o.builder.Build(ctx, http.MethodGet, o.library.SignOutURL, nil, o.account)
	if err != nil {
		log.Warn("build sign-out request failed", "error", err)
		return
	}
	resp, err := o.net.Do(ctx, req, nil)
	if err != nil {
		log.Warn("server sign-out failed", "error", err)
		return
	}
	if !resp.OK() {
		log.Warn("server sign-out rejected", "status", resp.Status)
	}
}
