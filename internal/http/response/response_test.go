package response

import (
	"encoding/json/v2"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/errors"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) domain.ProblemDocument {
	t.Helper()
	assert.Equal(t, ContentTypeProblem, w.Header().Get("Content-Type"))
	var p domain.ProblemDocument
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	Success(w, map[string]string{"key": "value"}, discard())

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ContentTypeJSON, w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"key":"value"}`, w.Body.String())
}

func TestJSON_NilLogger(t *testing.T) {
	w := httptest.NewRecorder()
	Raw(w, http.StatusCreated, ContentTypeAnnotation, map[string]int{"n": 1}, nil)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, ContentTypeAnnotation, w.Header().Get("Content-Type"))
}

func TestNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	NoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestInvalidCredentials(t *testing.T) {
	w := httptest.NewRecorder()
	InvalidCredentials(w, "Check your card number.", discard())

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	p := decodeProblem(t, w)
	assert.True(t, p.InvalidCredentials())
	assert.Equal(t, http.StatusUnauthorized, p.Status)
	assert.Equal(t, "Check your card number.", p.Detail)
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"not found", errors.NotFound("annotation %s", "a-1"), http.StatusNotFound, ""},
		{"validation", errors.Validation("bad body"), http.StatusBadRequest, ""},
		{"invalid credentials", errors.InvalidCredentials("nope"), http.StatusUnauthorized, domain.ProblemTypeCredentialsInvalid},
		{"unauthorized", errors.Unauthorized("no token"), http.StatusUnauthorized, domain.ProblemTypeCredentialsInvalid},
		{"internal", errors.Internal("db"), http.StatusInternalServerError, ""},
		{"unknown", io.ErrUnexpectedEOF, http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleError(w, tt.err, discard())

			assert.Equal(t, tt.wantStatus, w.Code)
			p := decodeProblem(t, w)
			assert.Equal(t, tt.wantType, p.Type)
			assert.Equal(t, tt.wantStatus, p.Status)
		})
	}
}
