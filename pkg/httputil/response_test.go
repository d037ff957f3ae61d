package httputil

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	err := WriteJSON(w, 200, map[string]string{"key": "value"})
	require.NoError(t, err)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "value", body["key"])
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorMessage(w, 400, "bad input")

	assert.Equal(t, 400, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "bad input", body["error"])
}

func TestWriteStatusHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w *httptest.ResponseRecorder)
		status int
	}{
		{"bad request", func(w *httptest.ResponseRecorder) { WriteBadRequest(w, "x") }, 400},
		{"unauthorized", func(w *httptest.ResponseRecorder) { WriteUnauthorized(w, "x") }, 401},
		{"forbidden", func(w *httptest.ResponseRecorder) { WriteForbidden(w, "x") }, 403},
		{"not found", func(w *httptest.ResponseRecorder) { WriteNotFoundError(w, "x") }, 404},
		{"conflict", func(w *httptest.ResponseRecorder) { WriteConflict(w, "x") }, 409},
		{"service unavailable", func(w *httptest.ResponseRecorder) { WriteServiceUnavailable(w, "x") }, 503},
		{"internal", func(w *httptest.ResponseRecorder) { WriteInternalError(w, errors.New("x")) }, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, 204, w.Code)
	assert.Empty(t, w.Body.Bytes())
}
