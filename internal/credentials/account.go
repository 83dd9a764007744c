// Package credentials holds the per-library session: the active credentials, the auth state
// and the DRM activation record. All mutations are written through to durable storage.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/store"
)

// Repository persists account records. *store.Entity[store.AccountRecord] implements it.
type Repository interface {
	Get(ctx context.Context, id string) (*store.AccountRecord, error)
	Put(ctx context.Context, id string, rec *store.AccountRecord) error
	Delete(ctx context.Context, id string) error
}

// AuthorizationChecker answers whether a recorded DRM activation is still valid.
type AuthorizationChecker interface {
	IsAuthorized(ctx context.Context, identity domain.DRMIdentity) bool
}

// Account is the credential store and auth state machine for one library.
//
// Reads take the shared lock; every mutation takes the exclusive lock and persists
// the whole record before it becomes visible.
type Account struct {
	libraryID string
	repo      Repository
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.RWMutex
	rec         store.AccountRecord
	credentials domain.Credentials
}

func newAccount(libraryID string, repo Repository, logger *slog.Logger) *Account {
	return &Account{
		libraryID: libraryID,
		repo:      repo,
		logger:    logger,
		now:       time.Now,
		rec:       store.AccountRecord{LibraryID: libraryID, AuthState: domain.AuthStateLoggedOut},
	}
}

// load reads the persisted record. A missing record is a logged-out account.
func (a *Account) load(ctx context.Context) error {
	rec, err := a.repo.Get(ctx, a.libraryID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load account %s: %w", a.libraryID, err)
	}

	creds, err := domain.UnmarshalCredentials(rec.Credentials)
	if err != nil {
		return fmt.Errorf("load account %s: %w", a.libraryID, err)
	}

	rec.LibraryID = a.libraryID
	if !rec.AuthState.Valid() {
		rec.AuthState = domain.AuthStateLoggedOut
	}

	a.mu.Lock()
	a.rec = *rec
	a.credentials = creds
	a.mu.Unlock()
	return nil
}

// LibraryID returns the library this account belongs to.
func (a *Account) LibraryID() string { return a.libraryID }

// AuthState returns the current state.
func (a *Account) AuthState() domain.AuthState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rec.AuthState
}

// HasCredentials is true for loggedIn and credentialsStale. It does not mean the session
// is usable; see IsSignedIn.
func (a *Account) HasCredentials() bool {
	return a.AuthState().HasCredentials()
}

// IsSignedIn reports a fully usable session: credentials present and state loggedIn.
func (a *Account) IsSignedIn() bool {
	return a.AuthState() == domain.AuthStateLoggedIn
}

// NeedsReauthentication reports whether credentials exist but the session token expired.
func (a *Account) NeedsReauthentication() bool {
	return a.AuthState() == domain.AuthStateCredentialsStale
}

// Credentials returns the active credentials, or nil.
func (a *Account) Credentials() domain.Credentials {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.credentials
}

// AuthToken returns the bearer token when the active credentials carry one.
func (a *Account) AuthToken() string {
	switch c := a.Credentials().(type) {
	case domain.TokenCredentials:
		return c.AuthToken
	case *domain.TokenCredentials:
		return c.AuthToken
	}
	return ""
}

// BarcodeAndPin returns the patron barcode and PIN held by either credentials variant.
func (a *Account) BarcodeAndPin() (barcode, pin string, ok bool) {
	switch c := a.Credentials().(type) {
	case domain.BarcodeAndPin:
		return c.Barcode, c.PIN, c.Barcode != ""
	case *domain.BarcodeAndPin:
		return c.Barcode, c.PIN, c.Barcode != ""
	case domain.TokenCredentials:
		return c.Barcode, c.PIN, c.Barcode != ""
	case *domain.TokenCredentials:
		return c.Barcode, c.PIN, c.Barcode != ""
	}
	return "", "", false
}

// Cookies returns the supplementary IdP cookies.
func (a *Account) Cookies() []domain.Cookie {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.rec.Cookies)
}

// DRMIdentity returns the recorded activation, or nil.
func (a *Account) DRMIdentity() *domain.DRMIdentity {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.rec.DRM == nil {
		return nil
	}
	id := *a.rec.DRM
	return &id
}

// PatronInfo returns the raw patron JSON captured at sign-in.
func (a *Account) PatronInfo() []byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.rec.PatronInfo)
}

// SyncPermission returns the patron's annotation sync setting. Nil means unknown.
func (a *Account) SyncPermission() *bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.rec.SyncPermission == nil {
		return nil
	}
	v := *a.rec.SyncPermission
	return &v
}

// SyncAllowed reports whether annotations may be sent to the server. Unknown counts as
// allowed so accounts that never fetched a profile still sync.
func (a *Account) SyncAllowed() bool {
	p := a.SyncPermission()
	return p == nil || *p
}

// AnnotationsURL returns the annotations endpoint discovered in the profile.
func (a *Account) AnnotationsURL() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rec.AnnotationsURL
}

// SetCredentials replaces the active credentials. The auth state is left unchanged.
func (a *Account) SetCredentials(ctx context.Context, c domain.Credentials) error {
	return a.mutate(ctx, func(rec *store.AccountRecord, creds *domain.Credentials) {
		*creds = c
	})
}

// SetCookies replaces the supplementary IdP cookies.
func (a *Account) SetCookies(ctx context.Context, cookies []domain.Cookie) error {
	return a.mutate(ctx, func(rec *store.AccountRecord, _ *domain.Credentials) {
		rec.Cookies = slices.Clone(cookies)
	})
}

// SetDRMIdentity records (or, with nil, clears) the DRM activation.
func (a *Account) SetDRMIdentity(ctx context.Context, identity *domain.DRMIdentity) error {
	return a.mutate(ctx, func(rec *store.AccountRecord, _ *domain.Credentials) {
		rec.DRM = identity
	})
}

// ApplyProfile stores what the profile document says about sync permission and endpoints.
func (a *Account) ApplyProfile(ctx context.Context, profile *domain.UserProfile) error {
	if profile == nil {
		return nil
	}
	return a.mutate(ctx, func(rec *store.AccountRecord, _ *domain.Credentials) {
		applyProfile(rec, profile)
	})
}

func applyProfile(rec *store.AccountRecord, profile *domain.UserProfile) {
	if p := profile.SyncPermission(); p != nil {
		v := *p
		rec.SyncPermission = &v
	}
	if profile.AnnotationsURL != "" {
		rec.AnnotationsURL = profile.AnnotationsURL
	}
	if profile.AuthorizationIdentifier != "" {
		rec.AuthorizationIdentifier = profile.AuthorizationIdentifier
	}
}

// MarkLoggedIn sets the state to loggedIn from any prior state.
func (a *Account) MarkLoggedIn(ctx context.Context) error {
	return a.mutate(ctx, func(rec *store.AccountRecord, _ *domain.Credentials) {
		rec.AuthState = domain.AuthStateLoggedIn
	})
}

// MarkCredentialsStale moves loggedIn to credentialsStale. From any other state it does
// nothing and reports false.
func (a *Account) MarkCredentialsStale(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rec.AuthState != domain.AuthStateLoggedIn {
		return false, nil
	}

	next := a.rec
	next.AuthState = domain.AuthStateCredentialsStale
	if err := a.persistLocked(ctx, &next, a.credentials); err != nil {
		return false, err
	}
	a.rec = next

	if a.logger != nil {
		a.logger.Info("credentials marked stale", "library_id", a.libraryID)
	}
	return true, nil
}

// TokenExpiry returns when the active token expires, or nil when it carries no expiry.
func (a *Account) TokenExpiry() *time.Time {
	if token, ok := a.tokenCredentials(); ok {
		return token.Expiration
	}
	return nil
}

// ExpireToken marks a loggedIn session stale once its token expiration has passed, so
// the next network call is preceded by a refresh instead of a rejected request.
func (a *Account) ExpireToken(ctx context.Context, now time.Time) (bool, error) {
	token, ok := a.tokenCredentials()
	if !ok || !token.Expired(now) {
		return false, nil
	}
	stale, err := a.MarkCredentialsStale(ctx)
	if stale && a.logger != nil {
		a.logger.Info("token expired", "library_id", a.libraryID, "expired_at", token.Expiration.UTC())
	}
	return stale, err
}

func (a *Account) tokenCredentials() (domain.TokenCredentials, bool) {
	switch c := a.Credentials().(type) {
	case domain.TokenCredentials:
		return c, true
	case *domain.TokenCredentials:
		if c != nil {
			return *c, true
		}
	}
	return domain.TokenCredentials{}, false
}

// RemoveAll clears credentials, DRM identifiers, patron and cookie data and returns to
// loggedOut. Calling it on a logged-out account is a no-op.
func (a *Account) RemoveAll(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.repo.Delete(ctx, a.libraryID); err != nil {
		return fmt.Errorf("remove account %s: %w", a.libraryID, err)
	}
	a.rec = store.AccountRecord{LibraryID: a.libraryID, AuthState: domain.AuthStateLoggedOut}
	a.credentials = nil
	return nil
}

// ShouldSkipDRMActivation is true only when the session is stale, a device/user pair is
// recorded, and the authorizer still reports that pair as activated.
func (a *Account) ShouldSkipDRMActivation(ctx context.Context, checker AuthorizationChecker) bool {
	if checker == nil || a.AuthState() != domain.AuthStateCredentialsStale {
		return false
	}
	identity := a.DRMIdentity()
	if !identity.Complete() {
		return false
	}
	return checker.IsAuthorized(ctx, *identity)
}

// SignInResult is everything a successful sign-in persists.
type SignInResult struct {
	Credentials domain.Credentials
	Cookies     []domain.Cookie
	PatronInfo  []byte
	Profile     *domain.UserProfile
	// DRM replaces the recorded activation when non-nil; nil keeps the current one.
	DRM *domain.DRMIdentity
}

// CompleteSignIn stores the sign-in output and marks the account loggedIn in a single write.
func (a *Account) CompleteSignIn(ctx context.Context, result SignInResult) error {
	return a.mutate(ctx, func(rec *store.AccountRecord, creds *domain.Credentials) {
		if result.Credentials != nil {
			*creds = result.Credentials
		}
		if result.Cookies != nil {
			rec.Cookies = slices.Clone(result.Cookies)
		}
		if result.PatronInfo != nil {
			rec.PatronInfo = slices.Clone(result.PatronInfo)
		}
		if result.Profile != nil {
			applyProfile(rec, result.Profile)
		}
		if result.DRM != nil {
			drm := *result.DRM
			rec.DRM = &drm
		}
		rec.AuthState = domain.AuthStateLoggedIn
	})
}

func (a *Account) mutate(ctx context.Context, fn func(rec *store.AccountRecord, creds *domain.Credentials)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.rec
	next.Cookies = slices.Clone(a.rec.Cookies)
	creds := a.credentials
	fn(&next, &creds)

	if err := a.persistLocked(ctx, &next, creds); err != nil {
		return err
	}
	a.rec = next
	a.credentials = creds
	return nil
}

func (a *Account) persistLocked(ctx context.Context, rec *store.AccountRecord, creds domain.Credentials) error {
	data, err := domain.MarshalCredentials(creds)
	if err != nil {
		return fmt.Errorf("persist account %s: %w", a.libraryID, err)
	}
	rec.Credentials = data
	rec.UpdatedAt = a.now().UTC()

	if err := a.repo.Put(ctx, a.libraryID, rec); err != nil {
		return fmt.Errorf("persist account %s: %w", a.libraryID, err)
	}
	return nil
}
