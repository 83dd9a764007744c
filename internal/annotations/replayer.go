package annotations

import (
	"context"
	"log/slog"

	"github.com/listenupapp/listenup-sync/internal/logger"
)

// DefaultMaxAttempts bounds how often a queued POST is retried.
const DefaultMaxAttempts = 10

// Replay outcomes reported to a ReplayObserver.
const (
	ReplayOutcomeSent     = "sent"
	ReplayOutcomeDropped  = "dropped"
	ReplayOutcomeRetained = "retained"
)

// OutboxStore is the queue side the Replayer drains.
type OutboxStore interface {
	Outbox
	Pending(ctx context.Context, limit int) ([]*OutboxEntry, error)
	Remove(ctx context.Context, id string) error
	MarkAttempt(ctx context.Context, id string) error
}

// Resolver returns the client and session that should replay a library's entries.
type Resolver interface {
	Resolve(ctx context.Context, libraryID string) (*Client, Session, error)
}

// ReplayObserver is told the outcome of every entry.
type ReplayObserver interface {
	ObserveReplay(outcome string)
}

// ReplayReport summarizes one Replay pass.
type ReplayReport struct {
	Sent     int
	Dropped  int
	Retained int
}

// Replayer drains the outbox in insertion order.
type Replayer struct {
	store       OutboxStore
	resolver    Resolver
	maxAttempts int
	batch       int
	observer    ReplayObserver
	logger      *slog.Logger
}

// NewReplayer creates a replayer. maxAttempts <= 0 uses DefaultMaxAttempts.
func NewReplayer(store OutboxStore, resolver Resolver, maxAttempts int, observer ReplayObserver, log *slog.Logger) *Replayer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Replayer{
		store:       store,
		resolver:    resolver,
		maxAttempts: maxAttempts,
		batch:       100,
		observer:    observer,
		logger:      log,
	}
}

// Replay sends every pending entry once. Entries for libraries that cannot be resolved
// (signed out, sync disabled) stay queued without using an attempt.
func (r *Replayer) Replay(ctx context.Context) (ReplayReport, error) {
	var report ReplayReport

	entries, err := r.store.Pending(ctx, r.batch)
	if err != nil {
		return report, wrapError("replay", "", err)
	}

	unresolved := make(map[string]bool)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if unresolved[entry.LibraryID] {
			report.Retained++
			r.observe(ReplayOutcomeRetained)
			continue
		}

		client, session, err := r.resolver.Resolve(ctx, entry.LibraryID)
		if err != nil {
			r.logger.Debug("outbox library unavailable", "library_id", entry.LibraryID, "error", err)
			unresolved[entry.LibraryID] = true
			report.Retained++
			r.observe(ReplayOutcomeRetained)
			continue
		}

		done, sendErr := client.Replay(ctx, session, entry)
		switch {
		case sendErr == nil:
			report.Sent++
			r.observe(ReplayOutcomeSent)
		case done:
			r.logger.Warn("dropping queued annotation after permanent failure",
				"id", entry.ID, "book_id", entry.BookID, "error", sendErr)
			report.Dropped++
			r.observe(ReplayOutcomeDropped)
		case entry.Attempts+1 >= r.maxAttempts:
			r.logger.Warn("dropping queued annotation after too many attempts",
				"id", entry.ID, "book_id", entry.BookID, "attempts", entry.Attempts+1, "error", sendErr)
			done = true
			report.Dropped++
			r.observe(ReplayOutcomeDropped)
		default:
			report.Retained++
			r.observe(ReplayOutcomeRetained)
			if err := r.store.MarkAttempt(ctx, entry.ID); err != nil {
				return report, wrapError("replay", entry.BookID, err)
			}
		}

		if done {
			if err := r.store.Remove(ctx, entry.ID); err != nil {
				return report, wrapError("replay", entry.BookID, err)
			}
		}
	}

	return report, nil
}

func (r *Replayer) observe(outcome string) {
	if r.observer != nil {
		r.observer.ObserveReplay(outcome)
	}
}
