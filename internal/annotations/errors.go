package annotations

import (
	"errors"
	"fmt"
)

// Sentinel errors for decoding and transport outcomes.
var (
	ErrBookMismatch        = errors.New("annotations: target does not match requested book")
	ErrMotivationMismatch  = errors.New("annotations: motivation does not match filter")
	ErrMalformedAnnotation = errors.New("annotations: malformed annotation")
	ErrMalformedLocator    = errors.New("annotations: malformed locator")
	ErrUnknownLocator      = errors.New("annotations: no decoder accepts locator")
	ErrQueued              = errors.New("annotations: request queued for replay")
	ErrNoEndpoint          = errors.New("annotations: library has no annotations endpoint")
)

// Error wraps an underlying error with operation context.
type Error struct {
	Op     string // Operation: "fetch", "post", "delete", "replay"
	BookID string // If applicable
	Err    error
}

func (e *Error) Error() string {
	if e.BookID != "" {
		return fmt.Sprintf("annotations %s [%s]: %v", e.Op, e.BookID, e.Err)
	}
	return fmt.Sprintf("annotations %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapError(op, bookID string, err error) error {
	return &Error{Op: op, BookID: bookID, Err: err}
}
