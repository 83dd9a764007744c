package signin

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrMalformedRedirect  = errors.New("signin: malformed redirect")
	ErrIncompleteRedirect = errors.New("signin: incomplete redirect")
	ErrInProgress         = errors.New("signin: another attempt is in progress")
	ErrNoAgent            = errors.New("signin: no external agent configured")
	ErrMissingInput       = errors.New("signin: barcode and PIN required")
	ErrInteractive        = errors.New("signin: interactive sign-in required")
	ErrMalformedProfile   = errors.New("signin: malformed patron profile")
	ErrMalformedToken     = errors.New("signin: malformed token response")
)

// Failure is a failed sign-in with the title and message to show the user.
type Failure struct {
	LibraryID string
	Title     string
	Message   string
	Err       error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("signin %s: %s: %v", f.LibraryID, f.Title, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }
