package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/listenupapp/listenup-sync/internal/annotations"
	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/id"
	"github.com/listenupapp/listenup-sync/internal/store"
)

var _ annotations.OutboxStore = (*Store)(nil)

// Enqueue appends a request to the outbox. An empty ID is assigned here. A reading
// position replaces any position already queued for the same library book.
func (s *Store) Enqueue(ctx context.Context, entry *annotations.OutboxEntry) error {
	if entry.ID == "" {
		entryID, err := id.Generate(id.PrefixOutbox)
		if err != nil {
			return err
		}
		entry.ID = entryID
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}

	headers, err := annotations.MarshalHeaders(entry.Headers)
	if err != nil {
		return fmt.Errorf("encode outbox headers: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if entry.Motivation == domain.MotivationReadingProgress {
		if _, err := supersede(ctx, tx, entry.LibraryID, entry.BookID, entry.Motivation); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox (id, library_id, book_id, motivation, url, body, headers, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.LibraryID,
		entry.BookID,
		string(entry.Motivation),
		entry.URL,
		entry.Body,
		nullString(string(headers)),
		entry.Attempts,
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.logger.Debug("request queued",
		"entry_id", entry.ID,
		"library_id", entry.LibraryID,
		"book_id", entry.BookID,
	)
	return nil
}

// Pending returns up to limit queued entries, oldest first. limit <= 0 returns all.
func (s *Store) Pending(ctx context.Context, limit int) ([]*annotations.OutboxEntry, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, library_id, book_id, motivation, url, body, headers, attempts, created_at
		FROM outbox
		ORDER BY seq
		LIMIT ?`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*annotations.OutboxEntry
	for rows.Next() {
		var (
			e          annotations.OutboxEntry
			motivation string
			headers    sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&e.ID, &e.LibraryID, &e.BookID, &motivation, &e.URL, &e.Body, &headers, &e.Attempts, &createdAt); err != nil {
			return nil, err
		}
		e.Motivation = domain.Motivation(motivation)
		if e.Headers, err = annotations.UnmarshalHeaders([]byte(headers.String)); err != nil {
			return nil, fmt.Errorf("decode headers of %s: %w", e.ID, err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Supersede drops every queued entry of a library book with the given motivation.
func (s *Store) Supersede(ctx context.Context, libraryID, bookID string, motivation domain.Motivation) error {
	n, err := supersede(ctx, s.db, libraryID, bookID, motivation)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Debug("queued requests superseded", "library_id", libraryID, "book_id", bookID, "count", n)
	}
	return nil
}

func supersede(ctx context.Context, db execer, libraryID, bookID string, motivation domain.Motivation) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM outbox WHERE library_id = ? AND book_id = ? AND motivation = ?`,
		libraryID, bookID, string(motivation))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Remove deletes an entry. This operation is idempotent.
func (s *Store) Remove(ctx context.Context, entryID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, entryID)
	return err
}

// MarkAttempt increments the attempt counter of an entry.
// Returns store.ErrNotFound if the entry does not exist.
func (s *Store) MarkAttempt(ctx context.Context, entryID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE outbox SET attempts = attempts + 1 WHERE id = ?`, entryID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &store.KeyError{Op: "mark attempt", Key: entryID, Err: store.ErrNotFound}
	}
	return nil
}

// CountPending returns the number of queued entries.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n)
	return n, err
}
