// Package deletionlog records annotation IDs the user deleted locally so that sync never
// brings them back, whichever device the server copy came from.
package deletionlog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/listenupapp/listenup-sync/internal/store"
)

// Repository persists one record per library book. *store.Entity[store.DeletionRecord]
// implements it.
type Repository interface {
	Get(ctx context.Context, id string) (*store.DeletionRecord, error)
	Put(ctx context.Context, id string, rec *store.DeletionRecord) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) iter.Seq2[*store.DeletionRecord, error]
}

type key struct {
	library string
	book    string
}

// storageKey is unambiguous because the escaped library ID never contains a slash.
func (k key) storageKey() string {
	return url.PathEscape(k.library) + "/" + k.book
}

// Log is the process-wide deletion ledger. Entries belong to one library account and one
// book; use Library to get the view an engine works with.
//
// The full ledger is loaded into memory on Open; reads never touch storage. Writes persist
// the affected book before updating memory.
type Log struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries map[key]map[string]struct{}
}

// Open loads the ledger. Books with no record and books with an empty record are the same.
func Open(ctx context.Context, repo Repository, logger *slog.Logger) (*Log, error) {
	l := &Log{
		repo:    repo,
		logger:  logger,
		now:     time.Now,
		entries: make(map[key]map[string]struct{}),
	}

	for rec, err := range repo.List(ctx) {
		if err != nil {
			return nil, fmt.Errorf("load deletion log: %w", err)
		}
		if len(rec.AnnotationIDs) == 0 {
			continue
		}
		set := make(map[string]struct{}, len(rec.AnnotationIDs))
		for _, id := range rec.AnnotationIDs {
			set[id] = struct{}{}
		}
		l.entries[key{library: rec.LibraryID, book: rec.BookID}] = set
	}

	if logger != nil {
		logger.Debug("deletion log loaded", "books", len(l.entries))
	}
	return l, nil
}

// Library returns the ledger of one library account.
func (l *Log) Library(libraryID string) *Ledger {
	return &Ledger{log: l, library: libraryID}
}

// Ledger is the part of the deletion log that belongs to one library account.
type Ledger struct {
	log     *Log
	library string
}

func (d *Ledger) key(bookID string) key {
	return key{library: d.library, book: bookID}
}

// Record adds annotationID to the book's ledger. Empty IDs are ignored.
func (d *Ledger) Record(ctx context.Context, bookID, annotationID string) error {
	if annotationID == "" {
		return nil
	}

	l := d.log
	l.mu.Lock()
	defer l.mu.Unlock()

	k := d.key(bookID)
	if _, ok := l.entries[k][annotationID]; ok {
		return nil
	}

	next := cloneSet(l.entries[k])
	next[annotationID] = struct{}{}
	return l.commitLocked(ctx, k, next)
}

// Contains reports whether annotationID was deleted for the book.
func (d *Ledger) Contains(bookID, annotationID string) bool {
	d.log.mu.RLock()
	defer d.log.mu.RUnlock()
	_, ok := d.log.entries[d.key(bookID)][annotationID]
	return ok
}

// IDs returns the deleted annotation IDs for a book, sorted.
func (d *Ledger) IDs(bookID string) []string {
	d.log.mu.RLock()
	defer d.log.mu.RUnlock()

	set := d.log.entries[d.key(bookID)]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Books returns the books that have pending deletions, sorted.
func (d *Ledger) Books() []string {
	d.log.mu.RLock()
	defer d.log.mu.RUnlock()

	var books []string
	for k := range d.log.entries {
		if k.library == d.library {
			books = append(books, k.book)
		}
	}
	slices.Sort(books)
	return books
}

// Remove drops IDs the server has confirmed as deleted.
func (d *Ledger) Remove(ctx context.Context, bookID string, annotationIDs ...string) error {
	l := d.log
	l.mu.Lock()
	defer l.mu.Unlock()

	k := d.key(bookID)
	current, ok := l.entries[k]
	if !ok {
		return nil
	}

	next := cloneSet(current)
	for _, id := range annotationIDs {
		delete(next, id)
	}
	if len(next) == len(current) {
		return nil
	}
	return l.commitLocked(ctx, k, next)
}

// ResetBook clears every pending deletion for the book. Used when a loan is returned,
// since the return flow wipes the server-side bookmarks itself.
func (d *Ledger) ResetBook(ctx context.Context, bookID string) error {
	l := d.log
	l.mu.Lock()
	defer l.mu.Unlock()

	k := d.key(bookID)
	if _, ok := l.entries[k]; !ok {
		return nil
	}
	return l.commitLocked(ctx, k, nil)
}

func (l *Log) commitLocked(ctx context.Context, k key, set map[string]struct{}) error {
	if len(set) == 0 {
		if err := l.repo.Delete(ctx, k.storageKey()); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("persist deletion log for %s: %w", k.book, err)
		}
		delete(l.entries, k)
		return nil
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	rec := &store.DeletionRecord{LibraryID: k.library, BookID: k.book, AnnotationIDs: ids, UpdatedAt: l.now().UTC()}
	if err := l.repo.Put(ctx, k.storageKey(), rec); err != nil {
		return fmt.Errorf("persist deletion log for %s: %w", k.book, err)
	}
	l.entries[k] = set
	return nil
}

func cloneSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in)+1)
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
