package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBookmark(bookID string, page int) *domain.Bookmark {
	return &domain.Bookmark{
		BookID:     bookID,
		Motivation: domain.MotivationBookmark,
		Locator:    domain.PageLocator{Page: page},
		Device:     "urn:uuid:device-1",
		Time:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestInsertAndGetBookmark(t *testing.T) {
	s := newTestStore(t).Library("lib-1")
	ctx := context.Background()

	b := &domain.Bookmark{
		BookID:     "urn:isbn:1",
		Motivation: domain.MotivationBookmark,
		Locator: domain.HrefProgressionLocator{
			Href:                  "/ch2.xhtml",
			ProgressWithinChapter: 0.25,
		},
		Device:             "urn:uuid:device-1",
		Time:               time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ChapterTitle:       "Chapter 2",
		ProgressWithinBook: domain.Float64(0.1),
	}
	require.NoError(t, s.InsertBookmark(ctx, b))
	require.NotEmpty(t, b.LocalID)

	got, err := s.GetBookmark(ctx, b.LocalID)
	require.NoError(t, err)
	assert.Equal(t, b.BookID, got.BookID)
	assert.Empty(t, got.AnnotationID)
	assert.False(t, got.IsSynced())
	assert.Equal(t, b.Motivation, got.Motivation)
	assert.True(t, domain.SimilarLocators(b.Locator, got.Locator))
	assert.Equal(t, "Chapter 2", got.ChapterTitle)
	require.NotNil(t, got.ProgressWithinBook)
	assert.InDelta(t, 0.1, *got.ProgressWithinBook, 1e-9)
	assert.True(t, b.Time.Equal(got.Time))
}

func TestGetBookmark_NotFound(t *testing.T) {
	s := newTestStore(t).Library("lib-1")

	_, err := s.GetBookmark(context.Background(), "bm-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInsertBookmark_DuplicateLocalID(t *testing.T) {
	s := newTestStore(t).Library("lib-1")
	ctx := context.Background()

	b := testBookmark("book-1", 3)
	b.LocalID = "bm-fixed"
	require.NoError(t, s.InsertBookmark(ctx, b))

	dup := testBookmark("book-1", 4)
	dup.LocalID = "bm-fixed"
	assert.ErrorIs(t, s.InsertBookmark(ctx, dup), store.ErrAlreadyExists)
}

func TestUpdateBookmark(t *testing.T) {
	s := newTestStore(t).Library("lib-1")
	ctx := context.Background()

	b := testBookmark("book-1", 3)
	require.NoError(t, s.InsertBookmark(ctx, b))

	savedAt := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	synced := b.WithServerID("https://example.org/annotations/7", savedAt)
	require.NoError(t, s.UpdateBookmark(ctx, synced))

	got, err := s.GetBookmark(ctx, b.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/annotations/7", got.AnnotationID)
	assert.True(t, savedAt.Equal(got.Time))

	missing := testBookmark("book-1", 9)
	missing.LocalID = "bm-missing"
	assert.ErrorIs(t, s.UpdateBookmark(ctx, missing), store.ErrNotFound)
}

func TestListBookmarks(t *testing.T) {
	s := newTestStore(t).Library("lib-1")
	ctx := context.Background()

	for _, page := range []int{5, 1, 3} {
		require.NoError(t, s.InsertBookmark(ctx, testBookmark("book-1", page)))
	}
	require.NoError(t, s.InsertBookmark(ctx, testBookmark("book-2", 1)))

	position := testBookmark("book-1", 7)
	position.Motivation = domain.MotivationReadingProgress
	require.NoError(t, s.SetReadingPosition(ctx, position))

	got, err := s.ListBookmarks(ctx, "book-1", domain.MotivationBookmark)
	require.NoError(t, err)
	require.Len(t, got, 3)

	var pages []int
	for _, b := range got {
		pages = append(pages, b.Locator.(domain.PageLocator).Page)
	}
	assert.Equal(t, []int{5, 1, 3}, pages, "creation order")

	books, err := s.ListBooks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"book-1", "book-2"}, books)
}

func TestDeleteBookmark(t *testing.T) {
	s := newTestStore(t).Library("lib-1")
	ctx := context.Background()

	b := testBookmark("book-1", 3)
	require.NoError(t, s.InsertBookmark(ctx, b))

	require.NoError(t, s.DeleteBookmark(ctx, b.LocalID))
	require.NoError(t, s.DeleteBookmark(ctx, b.LocalID), "idempotent")

	_, err := s.GetBookmark(ctx, b.LocalID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteBookmarksForBook(t *testing.T) {
	s := newTestStore(t).Library("lib-1")
	ctx := context.Background()

	require.NoError(t, s.InsertBookmark(ctx, testBookmark("book-1", 1)))
	require.NoError(t, s.InsertBookmark(ctx, testBookmark("book-2", 1)))

	position := testBookmark("book-1", 2)
	position.Motivation = domain.MotivationReadingProgress
	require.NoError(t, s.SetReadingPosition(ctx, position))

	require.NoError(t, s.DeleteBookmarksForBook(ctx, "book-1"))

	books, err := s.ListBooks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"book-2"}, books)
}

func TestSetReadingPosition_ReplacesPrevious(t *testing.T) {
	s := newTestStore(t).Library("lib-1")
	ctx := context.Background()

	_, err := s.ReadingPosition(ctx, "book-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	first := &domain.Bookmark{
		BookID:     "book-1",
		Motivation: domain.MotivationReadingProgress,
		Locator:    domain.AudioLocator{Version: 2, ReadingOrderItem: "track-1", OffsetMs: 1000},
	}
	require.NoError(t, s.SetReadingPosition(ctx, first))

	second := &domain.Bookmark{
		BookID:     "book-1",
		Motivation: domain.MotivationReadingProgress,
		Locator:    domain.AudioLocator{Version: 2, ReadingOrderItem: "track-2", OffsetMs: 500},
	}
	require.NoError(t, s.SetReadingPosition(ctx, second))

	got, err := s.ReadingPosition(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, second.LocalID, got.LocalID)
	assert.True(t, domain.SimilarLocators(second.Locator, got.Locator))

	all, err := s.ListBookmarks(ctx, "book-1", domain.MotivationReadingProgress)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSetReadingPosition_RejectsBookmark(t *testing.T) {
	s := newTestStore(t).Library("lib-1")

	err := s.SetReadingPosition(context.Background(), testBookmark("book-1", 1))
	assert.Error(t, err)
}

func TestReplica_LibrariesAreIsolated(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	a, b := db.Library("lib-a"), db.Library("lib-b")

	mine := testBookmark("book-1", 3)
	mine.AnnotationID = "https://a.example/annotations/1"
	require.NoError(t, a.InsertBookmark(ctx, mine))

	positionA := testBookmark("book-1", 9)
	positionA.Motivation = domain.MotivationReadingProgress
	require.NoError(t, a.SetReadingPosition(ctx, positionA))
	positionB := testBookmark("book-1", 2)
	positionB.Motivation = domain.MotivationReadingProgress
	require.NoError(t, b.SetReadingPosition(ctx, positionB))

	got, err := b.ListBookmarks(ctx, "book-1", domain.MotivationBookmark)
	require.NoError(t, err)
	assert.Empty(t, got, "another library's bookmarks stay hidden")

	_, err = b.GetBookmark(ctx, mine.LocalID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, b.DeleteBookmark(ctx, mine.LocalID))
	require.NoError(t, b.DeleteBookmarksForBook(ctx, "book-1"))

	kept, err := a.ListBookmarks(ctx, "book-1", domain.MotivationBookmark)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, mine.LocalID, kept[0].LocalID)

	pos, err := a.ReadingPosition(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, positionA.LocalID, pos.LocalID, "replacing B's position leaves A's alone")

	books, err := b.ListBooks(ctx)
	require.NoError(t, err)
	assert.Empty(t, books)
}
