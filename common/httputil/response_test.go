package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name   string
		status int
		data   any
		want   string
	}{
		{"map", http.StatusOK, map[string]string{"message": "ok"}, `{"message":"ok"}`},
		{"struct", http.StatusCreated, struct {
			ID string `json:"id"`
		}{"123"}, `{"id":"123"}`},
		{"slice", http.StatusOK, []int{1, 2}, `[1,2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.status, tt.data)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.want, w.Body.String())
		})
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusNotFound, "not_found", "card not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	var body ErrorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "not_found", body.Code)
	assert.Equal(t, "card not found", body.Message)
}

func TestMethodNotAllowed(t *testing.T) {
	w := httptest.NewRecorder()
	MethodNotAllowed(w, http.MethodGet, http.MethodPost)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "GET, POST", w.Header().Get("Allow"))
}
