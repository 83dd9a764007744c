package bookmarksync

import (
	"context"

	"github.com/listenupapp/listenup-sync/internal/annotations"
	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/errors"
	"github.com/listenupapp/listenup-sync/internal/store"
)

// SaveReadingPosition writes the position to the local store before returning and schedules
// its upload after the debounce window. Only the local write can fail the call.
func (e *Engine) SaveReadingPosition(ctx context.Context, b *domain.Bookmark) error {
	b.Motivation = domain.MotivationReadingProgress
	b.AnnotationID = ""
	e.stamp(b)

	if err := e.local.SetReadingPosition(ctx, b); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "store reading position of %s", b.BookID)
	}

	if reason := e.online(ctx); reason != nil {
		e.logger.Debug("position upload skipped", "book_id", b.BookID, "reason", reason)
		return nil
	}

	saved := *b
	e.positions.Trigger(b.BookID, func() {
		e.uploadPosition(context.WithoutCancel(ctx), &saved)
	})
	return nil
}

// uploadPosition posts a saved position. Transient failures land in the outbox.
func (e *Engine) uploadPosition(ctx context.Context, b *domain.Bookmark) {
	endpoint := e.Endpoint()
	if endpoint == "" {
		return
	}

	res, err := e.client.Post(ctx, e.account, endpoint, b, annotations.PostOptions{QueueOnFailure: true})
	if e.observer != nil {
		e.observer.ObserveUpload(b.Motivation, err)
	}
	if err != nil {
		if errors.Is(err, annotations.ErrQueued) {
			return
		}
		e.logger.Warn("upload reading position failed", "book_id", b.BookID, "error", err)
		return
	}

	current, err := e.local.ReadingPosition(ctx, b.BookID)
	if err != nil || current.LocalID != b.LocalID {
		// A newer position replaced this one meanwhile; its own upload follows.
		return
	}
	if err := e.local.UpdateBookmark(ctx, b.WithServerID(res.AnnotationID, res.SavedAt)); err != nil {
		e.logger.Error("store uploaded position failed", "book_id", b.BookID, "error", err)
	}
}

// ReadingPosition returns the last position saved on this device, or nil.
func (e *Engine) ReadingPosition(ctx context.Context, bookID string) (*domain.Bookmark, error) {
	b, err := e.local.ReadingPosition(ctx, bookID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return b, err
}

// FetchReadingPosition returns the newest reading position the server holds for a book,
// by body timestamp, or nil when it has none.
func (e *Engine) FetchReadingPosition(ctx context.Context, bookID string) (*domain.Bookmark, error) {
	if reason := e.online(ctx); reason != nil {
		return nil, reason
	}

	remote, err := e.client.Fetch(ctx, e.account, e.Endpoint(), bookID, domain.MotivationReadingProgress)
	if err != nil {
		return nil, err
	}

	var newest *domain.Bookmark
	for _, r := range remote {
		if newest == nil || r.Time.After(newest.Time) {
			newest = r
		}
	}
	return newest, nil
}
