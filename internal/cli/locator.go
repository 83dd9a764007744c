package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/listenupapp/listenup-sync/internal/annotations"
	"github.com/listenupapp/listenup-sync/internal/domain"
)

// locatorFlags selects a position inside a book from the command line. Exactly one form
// must be given.
type locatorFlags struct {
	Page     int
	Track    string
	OffsetMs int64
	Href     string
	Progress float64
	Raw      string

	Chapter      string
	BookProgress float64
}

var errLocator = errors.New("exactly one of --page, --track, --href or --locator is required")

func (f *locatorFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntVar(&f.Page, "page", 0, "PDF page number")
	flags.StringVar(&f.Track, "track", "", "audiobook reading-order item")
	flags.Int64Var(&f.OffsetMs, "offset-ms", 0, "offset into --track in milliseconds")
	flags.StringVar(&f.Href, "href", "", "EPUB chapter href")
	flags.Float64Var(&f.Progress, "progress", 0, "progress within --href chapter (0..1)")
	flags.StringVar(&f.Raw, "locator", "", "serialized locator JSON")
	flags.StringVar(&f.Chapter, "chapter", "", "chapter title shown with the bookmark")
	flags.Float64Var(&f.BookProgress, "book-progress", 0, "progress within the whole book (0..1)")
}

func (f *locatorFlags) locator() (domain.Locator, error) {
	forms := 0
	for _, set := range []bool{f.Page > 0, f.Track != "", f.Href != "", f.Raw != ""} {
		if set {
			forms++
		}
	}
	if forms != 1 {
		return nil, errLocator
	}

	switch {
	case f.Raw != "":
		return annotations.DecodeLocator(f.Raw)
	case f.Page > 0:
		return domain.PageLocator{Page: f.Page}, nil
	case f.Track != "":
		if f.OffsetMs < 0 {
			return nil, errors.New("--offset-ms must not be negative")
		}
		return domain.AudioLocator{Version: 2, ReadingOrderItem: f.Track, OffsetMs: f.OffsetMs}, nil
	default:
		if f.Progress < 0 || f.Progress > 1 {
			return nil, errors.New("--progress must be between 0 and 1")
		}
		return domain.HrefProgressionLocator{Href: f.Href, ProgressWithinChapter: f.Progress}, nil
	}
}

// bookmark assembles the bookmark the flags describe.
func (f *locatorFlags) bookmark(cmd *cobra.Command, bookID string) (*domain.Bookmark, error) {
	loc, err := f.locator()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid locator", err)
	}
	b := &domain.Bookmark{BookID: bookID, Locator: loc, ChapterTitle: f.Chapter}
	if cmd.Flags().Changed("book-progress") {
		b.ProgressWithinBook = domain.Float64(f.BookProgress)
	}
	return b, nil
}
