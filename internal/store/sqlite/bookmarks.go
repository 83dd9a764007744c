package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/listenupapp/listenup-sync/internal/annotations"
	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/id"
	"github.com/listenupapp/listenup-sync/internal/store"
)

const bookmarkColumns = `local_id, book_id, annotation_id, motivation, locator, device,
		       saved_at, chapter_title, progress_within_book`

// scanBookmark scans a sql.Row (or sql.Rows via its Scan method) into a domain.Bookmark.
func scanBookmark(scanner interface{ Scan(dest ...any) error }) (*domain.Bookmark, error) {
	var b domain.Bookmark

	var (
		annotationID sql.NullString
		motivation   string
		locator      string
		savedAt      sql.NullString
		progress     sql.NullFloat64
	)

	err := scanner.Scan(
		&b.LocalID,
		&b.BookID,
		&annotationID,
		&motivation,
		&locator,
		&b.Device,
		&savedAt,
		&b.ChapterTitle,
		&progress,
	)
	if err != nil {
		return nil, err
	}

	b.AnnotationID = annotationID.String
	b.Motivation = domain.Motivation(motivation)
	if progress.Valid {
		b.ProgressWithinBook = domain.Float64(progress.Float64)
	}
	if savedAt.Valid {
		b.Time, err = parseTime(savedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse saved_at of %s: %w", b.LocalID, err)
		}
	}

	b.Locator, err = annotations.DecodeLocator(locator)
	if err != nil {
		return nil, fmt.Errorf("decode locator of %s: %w", b.LocalID, err)
	}
	return &b, nil
}

// Replica is the bookmark replica of one library account. Every read and write is confined
// to rows of that library, so two accounts that lend the same book never see each other's
// bookmarks.
type Replica struct {
	store     *Store
	libraryID string
}

// Library returns the replica of the given library account.
func (s *Store) Library(libraryID string) *Replica {
	return &Replica{store: s, libraryID: libraryID}
}

// LibraryID returns the library the replica is bound to.
func (r *Replica) LibraryID() string { return r.libraryID }

func (r *Replica) queryBookmarks(ctx context.Context, query string, args ...any) ([]*domain.Bookmark, error) {
	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookmarks []*domain.Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, err
		}
		bookmarks = append(bookmarks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookmarks, nil
}

// ListBookmarks returns the local bookmarks of a book with the given motivation in
// creation order.
func (r *Replica) ListBookmarks(ctx context.Context, bookID string, motivation domain.Motivation) ([]*domain.Bookmark, error) {
	return r.queryBookmarks(ctx, `
		SELECT `+bookmarkColumns+`
		FROM bookmarks
		WHERE library_id = ? AND book_id = ? AND motivation = ?
		ORDER BY created_at, rowid`,
		r.libraryID, bookID, string(motivation))
}

// ListBooks returns every book that has at least one local row.
func (r *Replica) ListBooks(ctx context.Context) ([]string, error) {
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT DISTINCT book_id FROM bookmarks WHERE library_id = ? ORDER BY book_id`, r.libraryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []string
	for rows.Next() {
		var bookID string
		if err := rows.Scan(&bookID); err != nil {
			return nil, err
		}
		books = append(books, bookID)
	}
	return books, rows.Err()
}

// GetBookmark retrieves a bookmark by its local ID.
// Returns store.ErrNotFound if the bookmark does not exist in this library.
func (r *Replica) GetBookmark(ctx context.Context, localID string) (*domain.Bookmark, error) {
	row := r.store.db.QueryRowContext(ctx, `
		SELECT `+bookmarkColumns+`
		FROM bookmarks
		WHERE library_id = ? AND local_id = ?`,
		r.libraryID, localID)

	b, err := scanBookmark(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &store.KeyError{Op: "get bookmark", Key: localID, Err: store.ErrNotFound}
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// InsertBookmark stores a new bookmark, assigning a local ID when it has none.
func (r *Replica) InsertBookmark(ctx context.Context, b *domain.Bookmark) error {
	if b.LocalID == "" {
		localID, err := id.Generate(id.PrefixBookmark)
		if err != nil {
			return err
		}
		b.LocalID = localID
	}
	return r.insertBookmark(ctx, r.store.db, b, sortableTime(r.store.now()))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *Replica) insertBookmark(ctx context.Context, db execer, b *domain.Bookmark, createdAt string) error {
	locator, err := annotations.EncodeLocator(b.Locator)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO bookmarks (
			local_id, library_id, book_id, annotation_id, motivation, locator, device,
			saved_at, chapter_title, progress_within_book, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.LocalID,
		r.libraryID,
		b.BookID,
		nullString(b.AnnotationID),
		string(b.Motivation),
		locator,
		b.Device,
		nullTimeString(b.Time),
		b.ChapterTitle,
		nullFloat(b.ProgressWithinBook),
		createdAt,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return &store.KeyError{Op: "insert bookmark", Key: b.LocalID, Err: store.ErrAlreadyExists}
	}
	return err
}

// UpdateBookmark rewrites every mutable column of an existing bookmark.
// Returns store.ErrNotFound if the bookmark does not exist in this library.
func (r *Replica) UpdateBookmark(ctx context.Context, b *domain.Bookmark) error {
	locator, err := annotations.EncodeLocator(b.Locator)
	if err != nil {
		return err
	}

	res, err := r.store.db.ExecContext(ctx, `
		UPDATE bookmarks SET
			annotation_id = ?, motivation = ?, locator = ?, device = ?,
			saved_at = ?, chapter_title = ?, progress_within_book = ?
		WHERE library_id = ? AND local_id = ?`,
		nullString(b.AnnotationID),
		string(b.Motivation),
		locator,
		b.Device,
		nullTimeString(b.Time),
		b.ChapterTitle,
		nullFloat(b.ProgressWithinBook),
		r.libraryID,
		b.LocalID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &store.KeyError{Op: "update bookmark", Key: b.LocalID, Err: store.ErrNotFound}
	}
	return nil
}

// DeleteBookmark removes a bookmark by local ID.
// This operation is idempotent.
func (r *Replica) DeleteBookmark(ctx context.Context, localID string) error {
	_, err := r.store.db.ExecContext(ctx,
		`DELETE FROM bookmarks WHERE library_id = ? AND local_id = ?`, r.libraryID, localID)
	return err
}

// DeleteBookmarksForBook removes every local row of a book, reading position included.
func (r *Replica) DeleteBookmarksForBook(ctx context.Context, bookID string) error {
	_, err := r.store.db.ExecContext(ctx,
		`DELETE FROM bookmarks WHERE library_id = ? AND book_id = ?`, r.libraryID, bookID)
	return err
}

// SetReadingPosition replaces the single reading-position row of a book.
func (r *Replica) SetReadingPosition(ctx context.Context, b *domain.Bookmark) error {
	if b.Motivation != domain.MotivationReadingProgress {
		return fmt.Errorf("set reading position: unexpected motivation %q", b.Motivation)
	}
	if b.LocalID == "" {
		localID, err := id.Generate(id.PrefixBookmark)
		if err != nil {
			return err
		}
		b.LocalID = localID
	}

	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM bookmarks WHERE library_id = ? AND book_id = ? AND motivation = ?`,
		r.libraryID, b.BookID, string(domain.MotivationReadingProgress)); err != nil {
		return err
	}
	if err := r.insertBookmark(ctx, tx, b, sortableTime(r.store.now())); err != nil {
		return err
	}
	return tx.Commit()
}

// ReadingPosition returns the stored reading position of a book.
// Returns store.ErrNotFound when none was saved.
func (r *Replica) ReadingPosition(ctx context.Context, bookID string) (*domain.Bookmark, error) {
	row := r.store.db.QueryRowContext(ctx, `
		SELECT `+bookmarkColumns+`
		FROM bookmarks
		WHERE library_id = ? AND book_id = ? AND motivation = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`,
		r.libraryID, bookID, string(domain.MotivationReadingProgress))

	b, err := scanBookmark(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &store.KeyError{Op: "get reading position", Key: bookID, Err: store.ErrNotFound}
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}
