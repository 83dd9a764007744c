// Package response writes the reference annotation server's JSON documents and RFC 7807
// problem documents.
package response

import (
	"encoding/json/v2"
	"log/slog"
	"net/http"

	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/errors"
)

// Content types written by the server.
const (
	ContentTypeJSON       = "application/json; charset=utf-8"
	ContentTypeAnnotation = `application/ld+json; profile="http://www.w3.org/ns/anno.jsonld"`
	ContentTypeProblem    = "application/problem+json"
)

// JSON writes v as a JSON document with the given status code.
func JSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	Raw(w, status, ContentTypeJSON, v, logger)
}

// Raw writes v as JSON with an explicit content type.
func Raw(w http.ResponseWriter, status int, contentType string, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)

	if err := json.MarshalWrite(w, v); err != nil && logger != nil {
		logger.Error("Failed to encode JSON response", "error", err)
	}
}

// Success writes a 200 OK JSON document.
func Success(w http.ResponseWriter, v any, logger *slog.Logger) {
	JSON(w, http.StatusOK, v, logger)
}

// NoContent writes a no content response (204 No Content).
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Problem writes a problem document. Status defaults to the document's own.
func Problem(w http.ResponseWriter, status int, p domain.ProblemDocument, logger *slog.Logger) {
	if p.Status == 0 {
		p.Status = status
	}
	Raw(w, status, ContentTypeProblem, p, logger)
}

// BadRequest writes a 400 problem.
func BadRequest(w http.ResponseWriter, detail string, logger *slog.Logger) {
	Problem(w, http.StatusBadRequest, domain.ProblemDocument{Title: "Bad request", Detail: detail}, logger)
}

// InvalidCredentials writes the 401 problem clients recognize as a rejected session.
func InvalidCredentials(w http.ResponseWriter, detail string, logger *slog.Logger) {
	Problem(w, http.StatusUnauthorized, domain.ProblemDocument{
		Type:   domain.ProblemTypeCredentialsInvalid,
		Title:  "Invalid credentials",
		Detail: detail,
	}, logger)
}

// NotFound writes a 404 problem.
func NotFound(w http.ResponseWriter, detail string, logger *slog.Logger) {
	Problem(w, http.StatusNotFound, domain.ProblemDocument{Title: "Not found", Detail: detail}, logger)
}

// InternalError writes a 500 problem.
func InternalError(w http.ResponseWriter, logger *slog.Logger) {
	Problem(w, http.StatusInternalServerError, domain.ProblemDocument{Title: "Internal server error"}, logger)
}

// HandleError writes a problem for err. Domain errors map by code; unknown errors become 500.
func HandleError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var domainErr *errors.Error
	if !errors.As(err, &domainErr) {
		if logger != nil {
			logger.Error("Unhandled error", "error", err)
		}
		InternalError(w, logger)
		return
	}

	switch domainErr.Code {
	case errors.CodeInvalidCredentials, errors.CodeUnauthorized, errors.CodeTokenExpired:
		InvalidCredentials(w, domainErr.Message, logger)
	case errors.CodeInternal:
		if logger != nil {
			logger.Error("Internal error", "error", err)
		}
		InternalError(w, logger)
	default:
		status := domainErr.HTTPStatus()
		Problem(w, status, domain.ProblemDocument{Title: http.StatusText(status), Detail: domainErr.Message}, logger)
	}
}
