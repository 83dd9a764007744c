package domain

import "time"

// Motivation is the annotation purpose URI.
type Motivation string

// Annotation motivations understood by the sync engine.
const (
	MotivationBookmark        Motivation = "http://www.w3.org/ns/oa#bookmarking"
	MotivationReadingProgress Motivation = "http://librarysimplified.org/terms/annotation/idling"
)

// Valid reports whether m is one of the known motivations.
func (m Motivation) Valid() bool {
	return m == MotivationBookmark || m == MotivationReadingProgress
}

// BookmarkKind is the book-format capability a bookmark belongs to.
type BookmarkKind string

// Bookmark kinds.
const (
	BookmarkKindAudio   BookmarkKind = "audio"
	BookmarkKindReadium BookmarkKind = "readium"
	BookmarkKindPDF     BookmarkKind = "pdf"
)

// Bookmark is a user bookmark or a saved reading position for one book.
//
// An empty AnnotationID means the bookmark has not been uploaded yet. LocalID is assigned
// on the device and never leaves it.
type Bookmark struct {
	LocalID      string
	BookID       string
	AnnotationID string
	Motivation   Motivation
	Locator      Locator

	Device             string
	Time               time.Time
	ChapterTitle       string
	ProgressWithinBook *float64
}

// IsSynced reports whether the server knows this bookmark.
func (b *Bookmark) IsSynced() bool {
	return b.AnnotationID != ""
}

// Kind derives the format capability from the locator.
func (b *Bookmark) Kind() BookmarkKind {
	if b.Locator == nil {
		return ""
	}
	switch b.Locator.Type() {
	case LocatorTypeAudioBookTime:
		return BookmarkKindAudio
	case LocatorTypePage:
		return BookmarkKindPDF
	default:
		return BookmarkKindReadium
	}
}

// WithServerID returns a copy carrying the identity assigned by the server on upload.
func (b Bookmark) WithServerID(annotationID string, savedAt time.Time) *Bookmark {
	b.AnnotationID = annotationID
	if !savedAt.IsZero() {
		b.Time = savedAt
	}
	return &b
}

// Similar reports whether two bookmarks describe the same logical position and are
// therefore duplicates. Server and local copies carry independent IDs, so IDs are ignored.
func Similar(a, b *Bookmark) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.BookID != b.BookID || a.Motivation != b.Motivation {
		return false
	}
	return SimilarLocators(a.Locator, b.Locator)
}

// ContainsSimilar reports whether set holds a bookmark similar to b.
func ContainsSimilar(set []*Bookmark, b *Bookmark) bool {
	for _, candidate := range set {
		if Similar(candidate, b) {
			return true
		}
	}
	return false
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}
