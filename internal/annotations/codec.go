// Package annotations encodes bookmarks as Web Annotation envelopes and talks to a
// library's annotations endpoint.
package annotations

import (
	"encoding/json/jsontext"
	"encoding/json/v2"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/listenupapp/listenup-sync/internal/domain"
)

// Envelope constants.
const (
	ContextURI     = "http://www.w3.org/ns/anno.jsonld"
	AnnotationType = "Annotation"
	SelectorType   = "oa:FragmentSelector"
)

type wireAnnotation struct {
	Context    string            `json:"@context,omitempty"`
	ID         string            `json:"id,omitempty"`
	Type       string            `json:"type,omitempty"`
	Motivation domain.Motivation `json:"motivation"`
	Body       wireBody          `json:"body"`
	Target     wireTarget        `json:"target"`
}

type wireBody struct {
	Time               string   `json:"http://librarysimplified.org/terms/time,omitempty"`
	Device             string   `json:"http://librarysimplified.org/terms/device,omitempty"`
	Chapter            string   `json:"http://librarysimplified.org/terms/chapter,omitempty"`
	ProgressWithinBook *float64 `json:"http://librarysimplified.org/terms/progressWithinBook,omitempty"`
}

type wireTarget struct {
	Source   string       `json:"source"`
	Selector wireSelector `json:"selector"`
}

type wireSelector struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type wireCollection struct {
	First struct {
		Items []jsontext.Value `json:"items"`
	} `json:"first"`
}

// postResponse is the subset of a created annotation the client needs.
type postResponse struct {
	ID   string   `json:"id"`
	Body wireBody `json:"body"`
}

// EncodeAnnotation builds the POST body for a bookmark.
func EncodeAnnotation(b *domain.Bookmark) ([]byte, error) {
	if b.BookID == "" {
		return nil, fmt.Errorf("%w: bookmark has no book identifier", ErrMalformedAnnotation)
	}
	if !b.Motivation.Valid() {
		return nil, fmt.Errorf("%w: motivation %q", ErrMalformedAnnotation, b.Motivation)
	}

	value, err := EncodeLocator(b.Locator)
	if err != nil {
		return nil, err
	}

	w := wireAnnotation{
		Context:    ContextURI,
		Type:       AnnotationType,
		Motivation: b.Motivation,
		Body: wireBody{
			Device:             b.Device,
			Chapter:            b.ChapterTitle,
			ProgressWithinBook: b.ProgressWithinBook,
		},
		Target: wireTarget{
			Source:   b.BookID,
			Selector: wireSelector{Type: SelectorType, Value: value},
		},
	}
	if !b.Time.IsZero() {
		w.Body.Time = formatTime(b.Time)
	}

	return json.Marshal(w)
}

// DecodeAnnotation parses one server item and checks it against the request that fetched it.
func DecodeAnnotation(data []byte, bookID string, motivation domain.Motivation) (*domain.Bookmark, error) {
	var w wireAnnotation
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnnotation, err)
	}

	if w.Target.Source != bookID {
		return nil, fmt.Errorf("%w: got %q", ErrBookMismatch, w.Target.Source)
	}
	if w.Motivation != motivation {
		return nil, fmt.Errorf("%w: got %q", ErrMotivationMismatch, w.Motivation)
	}
	if w.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedAnnotation)
	}

	loc, err := DecodeLocator(w.Target.Selector.Value)
	if err != nil {
		return nil, err
	}

	return &domain.Bookmark{
		BookID:             bookID,
		AnnotationID:       w.ID,
		Motivation:         w.Motivation,
		Locator:            loc,
		Device:             w.Body.Device,
		Time:               parseTime(w.Body.Time),
		ChapterTitle:       w.Body.Chapter,
		ProgressWithinBook: w.Body.ProgressWithinBook,
	}, nil
}

// DecodeCollection parses a GET response and returns the items belonging to bookID with
// the requested motivation. Items that fail validation are dropped and logged; only a
// response that is not a collection at all is an error.
func DecodeCollection(data []byte, bookID string, motivation domain.Motivation, logger *slog.Logger) ([]*domain.Bookmark, error) {
	var c wireCollection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: collection: %v", ErrMalformedAnnotation, err)
	}

	out := make([]*domain.Bookmark, 0, len(c.First.Items))
	for _, item := range c.First.Items {
		b, err := DecodeAnnotation(item, bookID, motivation)
		switch {
		case err == nil:
			out = append(out, b)
		case errors.Is(err, ErrMotivationMismatch):
			logger.Debug("skipping annotation with other motivation", "book_id", bookID, "error", err)
		case errors.Is(err, ErrBookMismatch):
			logger.Warn("server returned annotation for another book", "book_id", bookID, "error", err)
		default:
			logger.Warn("dropping malformed annotation", "book_id", bookID, "error", err)
		}
	}
	return out, nil
}

func decodePostResponse(data []byte) (id string, savedAt time.Time, err error) {
	var r postResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrMalformedAnnotation, err)
	}
	if r.ID == "" {
		return "", time.Time{}, fmt.Errorf("%w: response has no id", ErrMalformedAnnotation)
	}
	return r.ID, parseTime(r.Body.Time), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime accepts RFC 3339 with or without fractional seconds. Unparseable values yield
// the zero time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
