// Package bookmarksync reconciles the local bookmark replica of a library account with its
// annotation server.
package bookmarksync

import (
	"context"
	"log/slog"
	"time"

	"github.com/listenupapp/listenup-sync/internal/annotations"
	"github.com/listenupapp/listenup-sync/internal/debounce"
	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/errors"
	"github.com/listenupapp/listenup-sync/internal/logger"
	"golang.org/x/sync/singleflight"
)

// Sync outcomes reported to the Observer.
const (
	OutcomeSynced    = "synced"
	OutcomeLocalOnly = "local_only"
	OutcomeFailed    = "failed"
)

// LocalStore is the on-device bookmark replica.
type LocalStore interface {
	ListBookmarks(ctx context.Context, bookID string, motivation domain.Motivation) ([]*domain.Bookmark, error)
	InsertBookmark(ctx context.Context, b *domain.Bookmark) error
	UpdateBookmark(ctx context.Context, b *domain.Bookmark) error
	DeleteBookmark(ctx context.Context, localID string) error
	DeleteBookmarksForBook(ctx context.Context, bookID string) error
	SetReadingPosition(ctx context.Context, b *domain.Bookmark) error
	ReadingPosition(ctx context.Context, bookID string) (*domain.Bookmark, error)
}

// DeletionLog is the ledger of annotation IDs deleted on this device.
type DeletionLog interface {
	Record(ctx context.Context, bookID, annotationID string) error
	Contains(bookID, annotationID string) bool
	IDs(bookID string) []string
	Remove(ctx context.Context, bookID string, annotationIDs ...string) error
	ResetBook(ctx context.Context, bookID string) error
}

// Account is the part of the credential store the engine consults before any network call.
type Account interface {
	annotations.Session
	LibraryID() string
	// ExpireToken moves a session whose token expired to credentialsStale.
	ExpireToken(ctx context.Context, now time.Time) (bool, error)
	IsSignedIn() bool
	SyncAllowed() bool
	AnnotationsURL() string
}

// Observer receives per-pass metrics.
type Observer interface {
	ObserveSync(outcome string, duration time.Duration)
	ObserveUpload(motivation domain.Motivation, err error)
}

// Config holds optional engine settings.
type Config struct {
	// Endpoint pins the annotations URL; empty uses the one discovered in the patron profile.
	Endpoint string
	// Device identifies this reader in annotation bodies.
	Device string
	// PositionDelay is the debounce window for reading-position uploads.
	PositionDelay time.Duration
	Observer      Observer
}

// Engine reconciles bookmarks for one library account.
//
// Reconciliation passes for the same book are collapsed with singleflight: callers arriving
// while a pass runs wait for it and share its result.
type Engine struct {
	account   Account
	client    *annotations.Client
	local     LocalStore
	deletions DeletionLog

	endpoint  string
	device    string
	positions *debounce.Debouncer
	group     singleflight.Group
	observer  Observer
	now       func() time.Time
	logger    *slog.Logger
}

// New creates an Engine.
func New(account Account, client *annotations.Client, local LocalStore, deletions DeletionLog, cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{
		account:   account,
		client:    client,
		local:     local,
		deletions: deletions,
		endpoint:  cfg.Endpoint,
		device:    cfg.Device,
		positions: debounce.New(cfg.PositionDelay),
		observer:  cfg.Observer,
		now:       time.Now,
		logger:    log.With("library_id", account.LibraryID()),
	}
}

// Endpoint returns the annotations URL in use, or "" when none is known yet.
func (e *Engine) Endpoint() string {
	if e.endpoint != "" {
		return e.endpoint
	}
	return e.account.AnnotationsURL()
}

// online reports whether the network may be used, and why not when it may not. An
// expired token turns the session stale first.
func (e *Engine) online(ctx context.Context) error {
	if _, err := e.account.ExpireToken(ctx, e.now()); err != nil {
		e.logger.Error("persist expired token state failed", "error", err)
	}
	switch {
	case !e.account.IsSignedIn():
		return errors.ErrNotSignedIn
	case !e.account.SyncAllowed():
		return errors.ErrSyncDisabled
	case e.Endpoint() == "":
		return annotations.ErrNoEndpoint
	default:
		return nil
	}
}

// Bookmarks returns the local bookmarks of a book without touching the network.
func (e *Engine) Bookmarks(ctx context.Context, bookID string) ([]*domain.Bookmark, error) {
	return e.local.ListBookmarks(ctx, bookID, domain.MotivationBookmark)
}

// Sync reconciles the bookmarks of a book and returns the resulting local set.
//
// The set is returned even when the network part failed; the error then says why the set
// may be stale. A caller whose ctx ends stops waiting but does not cancel the shared pass.
func (e *Engine) Sync(ctx context.Context, bookID string) ([]*domain.Bookmark, error) {
	ch := e.group.DoChan(bookID, func() (any, error) {
		return e.reconcile(context.WithoutCancel(ctx), bookID)
	})

	select {
	case res := <-ch:
		set, _ := res.Val.([]*domain.Bookmark)
		return set, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) reconcile(ctx context.Context, bookID string) (result []*domain.Bookmark, err error) {
	start := e.now()
	outcome := OutcomeSynced
	defer func() {
		if err != nil && outcome == OutcomeSynced {
			outcome = OutcomeFailed
		}
		if e.observer != nil {
			e.observer.ObserveSync(outcome, e.now().Sub(start))
		}
	}()

	local, err := e.local.ListBookmarks(ctx, bookID, domain.MotivationBookmark)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInternal, "list local bookmarks of %s", bookID)
	}

	if reason := e.online(ctx); reason != nil {
		outcome = OutcomeLocalOnly
		e.logger.Debug("sync skipped network", "book_id", bookID, "reason", reason)
		return local, nil
	}
	endpoint := e.Endpoint()

	local = e.uploadPending(ctx, endpoint, local)

	remote, err := e.client.Fetch(ctx, e.account, endpoint, bookID, domain.MotivationBookmark)
	if err != nil {
		e.logger.Warn("fetch annotations failed", "book_id", bookID, "error", err)
		return local, err
	}

	e.settleDeletions(ctx, bookID, remote)

	local, err = e.dropRemotelyDeleted(ctx, local, remote)
	if err != nil {
		return local, err
	}

	remoteOnly := e.remoteOnly(bookID, local, remote)
	for _, b := range remoteOnly {
		b.LocalID = ""
		if err := e.local.InsertBookmark(ctx, b); err != nil {
			return local, errors.Wrapf(err, errors.CodeInternal, "store remote bookmark %s", b.AnnotationID)
		}
		local = append(local, b)
	}

	e.logger.Debug("bookmarks reconciled",
		"book_id", bookID,
		"local", len(local)-len(remoteOnly),
		"remote", len(remote),
		"added", len(remoteOnly),
	)
	return local, nil
}

// uploadPending posts every bookmark without a server ID. A failed upload leaves the
// bookmark pending for the next pass.
func (e *Engine) uploadPending(ctx context.Context, endpoint string, local []*domain.Bookmark) []*domain.Bookmark {
	out := make([]*domain.Bookmark, 0, len(local))
	for _, b := range local {
		if b.IsSynced() {
			out = append(out, b)
			continue
		}
		out = append(out, e.upload(ctx, endpoint, b))
	}
	return out
}

// upload posts b and stores the server identity. It returns the bookmark to keep.
func (e *Engine) upload(ctx context.Context, endpoint string, b *domain.Bookmark) *domain.Bookmark {
	res, err := e.client.Post(ctx, e.account, endpoint, b, annotations.PostOptions{})
	if e.observer != nil {
		e.observer.ObserveUpload(b.Motivation, err)
	}
	if err != nil {
		e.logger.Warn("upload bookmark failed", "book_id", b.BookID, "local_id", b.LocalID, "error", err)
		return b
	}

	synced := b.WithServerID(res.AnnotationID, res.SavedAt)
	if err := e.local.UpdateBookmark(ctx, synced); err != nil {
		e.logger.Error("store uploaded bookmark failed", "local_id", b.LocalID, "error", err)
		return b
	}
	return synced
}

// settleDeletions clears deletion-log entries the server no longer returns and retries the
// DELETE for those it still does.
func (e *Engine) settleDeletions(ctx context.Context, bookID string, remote []*domain.Bookmark) {
	pending := e.deletions.IDs(bookID)
	if len(pending) == 0 {
		return
	}

	onServer := make(map[string]struct{}, len(remote))
	for _, r := range remote {
		onServer[r.AnnotationID] = struct{}{}
	}

	var confirmed []string
	for _, annotationID := range pending {
		if _, ok := onServer[annotationID]; !ok {
			confirmed = append(confirmed, annotationID)
			continue
		}
		if err := e.client.Delete(ctx, e.account, annotationID); err != nil {
			e.logger.Warn("retry annotation delete failed", "book_id", bookID, "annotation_id", annotationID, "error", err)
		}
	}

	if len(confirmed) == 0 {
		return
	}
	if err := e.deletions.Remove(ctx, bookID, confirmed...); err != nil {
		e.logger.Error("clear confirmed deletions failed", "book_id", bookID, "error", err)
	}
}

// dropRemotelyDeleted removes synced local bookmarks whose annotation the server no longer
// has; another device deleted them.
func (e *Engine) dropRemotelyDeleted(ctx context.Context, local, remote []*domain.Bookmark) ([]*domain.Bookmark, error) {
	onServer := make(map[string]struct{}, len(remote))
	for _, r := range remote {
		onServer[r.AnnotationID] = struct{}{}
	}

	kept := local[:0:0]
	for _, b := range local {
		if _, ok := onServer[b.AnnotationID]; b.IsSynced() && !ok {
			if err := e.local.DeleteBookmark(ctx, b.LocalID); err != nil {
				return local, errors.Wrapf(err, errors.CodeInternal, "drop bookmark %s", b.LocalID)
			}
			e.logger.Debug("bookmark deleted on another device", "annotation_id", b.AnnotationID)
			continue
		}
		kept = append(kept, b)
	}
	return kept, nil
}

// remoteOnly returns the server items that have no local counterpart and were not deleted
// on this device. Duplicates among the server items collapse to the first.
func (e *Engine) remoteOnly(bookID string, local, remote []*domain.Bookmark) []*domain.Bookmark {
	known := make(map[string]struct{}, len(local))
	for _, b := range local {
		if b.IsSynced() {
			known[b.AnnotationID] = struct{}{}
		}
	}

	var out []*domain.Bookmark
	for _, r := range remote {
		if e.deletions.Contains(bookID, r.AnnotationID) {
			continue
		}
		if _, ok := known[r.AnnotationID]; ok {
			continue
		}
		if domain.ContainsSimilar(local, r) || domain.ContainsSimilar(out, r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// AddBookmark stores a new bookmark and, when online, uploads it right away. The upload is
// best-effort: a failure leaves the bookmark pending for the next Sync.
func (e *Engine) AddBookmark(ctx context.Context, b *domain.Bookmark) (*domain.Bookmark, error) {
	b.Motivation = domain.MotivationBookmark
	e.stamp(b)

	existing, err := e.local.ListBookmarks(ctx, b.BookID, domain.MotivationBookmark)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInternal, "list local bookmarks of %s", b.BookID)
	}
	for _, other := range existing {
		if domain.Similar(other, b) {
			return other, nil
		}
	}

	if err := e.local.InsertBookmark(ctx, b); err != nil {
		return nil, errors.Wrapf(err, errors.CodeInternal, "store bookmark")
	}

	if e.online(ctx) != nil {
		return b, nil
	}
	return e.upload(ctx, e.Endpoint(), b), nil
}

// Delete removes a bookmark locally at once. When it was synced the annotation ID goes to
// the deletion log and a server DELETE is attempted; the log entry stays until a later pass
// sees the server no longer returning it.
func (e *Engine) Delete(ctx context.Context, b *domain.Bookmark) error {
	if err := e.local.DeleteBookmark(ctx, b.LocalID); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "delete bookmark %s", b.LocalID)
	}
	if !b.IsSynced() {
		return nil
	}

	if err := e.deletions.Record(ctx, b.BookID, b.AnnotationID); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "record deletion of %s", b.AnnotationID)
	}

	if reason := e.online(ctx); reason != nil {
		e.logger.Debug("server delete deferred", "annotation_id", b.AnnotationID, "reason", reason)
		return nil
	}
	if err := e.client.Delete(ctx, e.account, b.AnnotationID); err != nil {
		e.logger.Warn("delete annotation failed", "annotation_id", b.AnnotationID, "error", err)
	}
	return nil
}

// ReturnBook forgets everything about a returned loan: pending deletions, the scheduled
// position upload and the local rows. The server side is wiped by the return itself.
func (e *Engine) ReturnBook(ctx context.Context, bookID string) error {
	e.positions.Cancel(bookID)

	if err := e.deletions.ResetBook(ctx, bookID); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "reset deletions of %s", bookID)
	}
	if err := e.local.DeleteBookmarksForBook(ctx, bookID); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "delete bookmarks of %s", bookID)
	}

	e.logger.Info("book returned", "book_id", bookID)
	return nil
}

// Flush uploads every debounced reading position now, in the calling goroutine.
func (e *Engine) Flush() {
	e.positions.Flush()
}

// Close flushes pending position uploads and stops the debouncer.
func (e *Engine) Close() {
	e.positions.Stop()
}

func (e *Engine) stamp(b *domain.Bookmark) {
	if b.Device == "" {
		b.Device = e.device
	}
	if b.Time.IsZero() {
		b.Time = e.now().UTC()
	}
}
