// Package errors provides coded domain errors shared by the sync client and the reference server.
//
// Usage:
//
//	// Components return typed errors
//	if !account.HasCredentials() {
//	    return errors.NotSignedIn("library %s has no credentials", libraryID)
//	}
//
//	// Callers branch with errors.Is
//	if errors.Is(err, errors.ErrSyncDisabled) {
//	    return nil // local-only
//	}
//
//	// Or switch on the code
//	var domainErr *errors.Error
//	if errors.As(err, &domainErr) {
//	    switch domainErr.Code {
//	    case errors.CodeTransport:
//	        // retry later
//	    case errors.CodeInvalidCredentials:
//	        // mark stale
//	    }
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
	New    = errors.New
)

// Code is a machine-readable error code.
type Code string

// Error codes. Transport, Protocol and DataConsistency follow the failure taxonomy used by
// the annotation client; the rest describe sign-in and local state.
const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeValidation         Code = "VALIDATION"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeTokenExpired       Code = "TOKEN_EXPIRED"
	CodeInternal           Code = "INTERNAL"
	CodeTransport          Code = "TRANSPORT"
	CodeProtocol           Code = "PROTOCOL"
	CodeDataConsistency    Code = "DATA_CONSISTENCY"
	CodeSignInFailed       Code = "SIGN_IN_FAILED"
	CodeNotSignedIn        Code = "NOT_SIGNED_IN"
	CodeSyncDisabled       Code = "SYNC_DISABLED"
)

// HTTPStatus maps a code onto the status the reference server answers with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation, CodeDataConsistency:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeInvalidCredentials, CodeTokenExpired, CodeNotSignedIn:
		return http.StatusUnauthorized
	case CodeSyncDisabled:
		return http.StatusForbidden
	case CodeTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error carrying the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error carrying details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details, cause: e.cause}
}

// WithCause returns a copy of the error wrapping err.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: e.Details, cause: err}
}

// Sentinel errors for use with errors.Is().
var (
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrValidation         = &Error{Code: CodeValidation, Message: "validation error"}
	ErrUnauthorized       = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrInvalidCredentials = &Error{Code: CodeInvalidCredentials, Message: "invalid credentials"}
	ErrTokenExpired       = &Error{Code: CodeTokenExpired, Message: "token expired"}
	ErrInternal           = &Error{Code: CodeInternal, Message: "internal error"}
	ErrTransport          = &Error{Code: CodeTransport, Message: "transport error"}
	ErrProtocol           = &Error{Code: CodeProtocol, Message: "protocol error"}
	ErrDataConsistency    = &Error{Code: CodeDataConsistency, Message: "inconsistent server data"}
	ErrSignInFailed       = &Error{Code: CodeSignInFailed, Message: "sign-in failed"}
	ErrNotSignedIn        = &Error{Code: CodeNotSignedIn, Message: "not signed in"}
	ErrSyncDisabled       = &Error{Code: CodeSyncDisabled, Message: "annotation sync disabled"}
)

// NotFound creates a not found error.
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error.
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error with per-field details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(format string, args ...any) *Error {
	return &Error{Code: CodeUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// InvalidCredentials creates an invalid credentials error.
func InvalidCredentials(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidCredentials, Message: fmt.Sprintf(format, args...)}
}

// Internal creates an internal error.
func Internal(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Transport wraps a connectivity failure (timeout, refused connection, DNS).
func Transport(err error, format string, args ...any) *Error {
	return &Error{Code: CodeTransport, Message: fmt.Sprintf(format, args...), cause: err}
}

// Protocol creates an error for an unexpected status code or malformed payload.
func Protocol(format string, args ...any) *Error {
	return &Error{Code: CodeProtocol, Message: fmt.Sprintf(format, args...)}
}

// DataConsistency creates an error for server data that contradicts the request.
func DataConsistency(format string, args ...any) *Error {
	return &Error{Code: CodeDataConsistency, Message: fmt.Sprintf(format, args...)}
}

// SignInFailed creates a sign-in failure carrying a user-facing message.
func SignInFailed(format string, args ...any) *Error {
	return &Error{Code: CodeSignInFailed, Message: fmt.Sprintf(format, args...)}
}

// NotSignedIn creates a not-signed-in error.
func NotSignedIn(format string, args ...any) *Error {
	return &Error{Code: CodeNotSignedIn, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
