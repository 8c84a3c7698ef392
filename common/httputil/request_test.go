package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Keywords []string `json:"keywords"`
	}

	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"keywords":["acme"]}`))
		var p payload
		require.NoError(t, DecodeJSON(r, &p))
		assert.Equal(t, []string{"acme"}, p.Keywords)
	})

	t.Run("empty body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		var p payload
		require.NoError(t, DecodeJSON(r, &p))
		assert.Nil(t, p.Keywords)
	})

	t.Run("unknown field", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"nope":1}`))
		var p payload
		assert.Error(t, DecodeJSON(r, &p))
	})

	t.Run("malformed", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
		var p payload
		assert.Error(t, DecodeJSON(r, &p))
	})
}

func TestParseIntParam(t *testing.T) {
	assert.Equal(t, 5, ParseIntParam("", 5))
	assert.Equal(t, 12, ParseIntParam("12", 5))
	assert.Equal(t, 5, ParseIntParam("abc", 5))
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query     string
		wantPage  int
		wantLimit int
	}{
		{"", 1, 50},
		{"page=3&limit=20", 3, 20},
		{"page=0&limit=5000", 1, 200},
		{"limit=-4", 1, 50},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/cards?"+tt.query, nil)
			p := ParsePagination(r, 50, 200)
			assert.Equal(t, tt.wantPage, p.Page)
			assert.Equal(t, tt.wantLimit, p.Limit)
		})
	}

	assert.Equal(t, 40, Pagination{Page: 3, Limit: 20}.Offset())
}
