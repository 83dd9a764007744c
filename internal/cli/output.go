package cli

import (
	"encoding/json/jsontext"
	"encoding/json/v2"
	"fmt"
	"io"
	"time"

	"github.com/listenupapp/listenup-sync/internal/annotations"
	"github.com/listenupapp/listenup-sync/internal/domain"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ValidFormats lists the accepted --format values.
var ValidFormats = []string{FormatText, FormatJSON}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// JSON writes v as indented JSON.
func (f *OutputFormatter) JSON(v any) error {
	if err := json.MarshalWrite(f.Writer, v, jsontext.WithIndent("  "), json.Deterministic(true)); err != nil {
		return err
	}
	_, err := fmt.Fprintln(f.Writer)
	return err
}

// Emit writes v as JSON, or calls text in text mode.
func (f *OutputFormatter) Emit(v any, text func(w io.Writer) error) error {
	if f.Format == FormatJSON {
		return f.JSON(v)
	}
	return text(f.Writer)
}

// bookmarkView is the printed form of a bookmark.
type bookmarkView struct {
	LocalID            string         `json:"local_id,omitempty"`
	AnnotationID       string         `json:"annotation_id,omitempty"`
	BookID             string         `json:"book_id"`
	Motivation         string         `json:"motivation"`
	Locator            jsontext.Value `json:"locator,omitempty"`
	Device             string         `json:"device,omitempty"`
	Time               string         `json:"time,omitempty"`
	ChapterTitle       string         `json:"chapter,omitempty"`
	ProgressWithinBook *float64       `json:"progress_within_book,omitempty"`
}

func newBookmarkView(b *domain.Bookmark) bookmarkView {
	v := bookmarkView{
		LocalID:            b.LocalID,
		AnnotationID:       b.AnnotationID,
		BookID:             b.BookID,
		Motivation:         motivationName(b.Motivation),
		Device:             b.Device,
		ChapterTitle:       b.ChapterTitle,
		ProgressWithinBook: b.ProgressWithinBook,
	}
	if encoded, err := annotations.EncodeLocator(b.Locator); err == nil {
		v.Locator = jsontext.Value(encoded)
	}
	if !b.Time.IsZero() {
		v.Time = b.Time.UTC().Format(time.RFC3339)
	}
	return v
}

func motivationName(m domain.Motivation) string {
	switch m {
	case domain.MotivationBookmark:
		return "bookmark"
	case domain.MotivationReadingProgress:
		return "reading-progress"
	default:
		return string(m)
	}
}

func writeBookmarks(w io.Writer, set []*domain.Bookmark) error {
	if len(set) == 0 {
		_, err := fmt.Fprintln(w, "No bookmarks.")
		return err
	}
	for _, b := range set {
		if err := writeBookmark(w, b); err != nil {
			return err
		}
	}
	return nil
}

func writeBookmark(w io.Writer, b *domain.Bookmark) error {
	v := newBookmarkView(b)
	state := "pending"
	if b.IsSynced() {
		state = "synced"
	}
	id := v.LocalID
	if id == "" {
		id = "-"
	}
	_, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", id, state, v.Time, v.ChapterTitle, v.Locator)
	return err
}

func views(set []*domain.Bookmark) []bookmarkView {
	out := make([]bookmarkView, 0, len(set))
	for _, b := range set {
		out = append(out, newBookmarkView(b))
	}
	return out
}
