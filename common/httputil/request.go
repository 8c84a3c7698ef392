package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// MaxBodyBytes bounds JSON request bodies.
const MaxBodyBytes = 1 << 20

// DecodeJSON decodes a bounded JSON request body into v. An empty body is
// accepted and leaves v untouched.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// ParseIntParam parses an integer query parameter with a default value.
// Returns defaultVal if the parameter is empty or invalid.
func ParseIntParam(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return defaultVal
}

// Pagination represents common pagination parameters for API responses.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total,omitempty"`
}

// ParsePagination extracts pagination parameters from the query string,
// clamping limit to maxLimit and page to at least 1.
func ParsePagination(r *http.Request, defaultLimit, maxLimit int) Pagination {
	page := ParseIntParam(r.URL.Query().Get("page"), 1)
	limit := ParseIntParam(r.URL.Query().Get("limit"), defaultLimit)

	if limit > maxLimit {
		limit = maxLimit
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if page < 1 {
		page = 1
	}

	return Pagination{Page: page, Limit: limit}
}

// Offset returns (page-1) * limit.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}
