package seeder

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestGenerate_Deterministic(t *testing.T) {
	opts := Options{Company: "Acme", Stories: 4, Coverage: 3, Noise: 2, Seed: 42, Now: now}

	a := Generate(opts)
	b := Generate(opts)

	assert.Equal(t, a, b)
	assert.Equal(t, "ok", a.Status)
	assert.Equal(t, 4*3+2, a.TotalResults)
	assert.Len(t, a.Articles, a.TotalResults)
}

func TestGenerate_StoriesAreCorroborated(t *testing.T) {
	resp := Generate(Options{Company: "Acme", Stories: 2, Coverage: 3, Seed: 7, Now: now, Spread: 6 * time.Hour})

	domains := map[string]map[string]bool{}
	for _, a := range resp.Articles {
		assert.Contains(t, a.Title, "Acme")
		assert.False(t, a.PublishedAt.After(now), "published in the future: %s", a.PublishedAt)
		assert.True(t, a.PublishedAt.After(now.Add(-6*time.Hour-3*40*time.Minute)))

		u, err := url.Parse(a.URL)
		require.NoError(t, err)
		story := u.Path[strings.LastIndex(u.Path, "/")+1:]
		if domains[story] == nil {
			domains[story] = map[string]bool{}
		}
		domains[story][u.Host] = true
	}

	require.Len(t, domains, 2)
	for story, hosts := range domains {
		assert.Len(t, hosts, 3, "story %s should have three distinct publishers", story)
	}
}

func TestGenerate_NewestFirst(t *testing.T) {
	resp := Generate(Options{Stories: 3, Noise: 4, Seed: 1, Now: now})
	for i := 1; i < len(resp.Articles); i++ {
		assert.False(t, resp.Articles[i].PublishedAt.After(resp.Articles[i-1].PublishedAt))
	}
}

func TestGenerate_CoverageCappedByPublishers(t *testing.T) {
	pubs := []Publisher{{"a.com", "A"}, {"b.com", "B"}}
	resp := Generate(Options{Stories: 1, Coverage: 5, Publishers: pubs, Seed: 3, Now: now})
	assert.Len(t, resp.Articles, 2)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "acme-raises-40m-series-b", slug("Acme raises $40M Series B"))
	assert.Equal(t, "report-acme-launches-x", slug("Report: Acme launches X."))
}

func TestHandler_FiltersByQuery(t *testing.T) {
	fixture := Response{Status: "ok", Articles: []Article{
		{Title: "Acme launches Widget", PublishedAt: now},
		{Title: "Globex cuts prices", PublishedAt: now},
		{Title: "Weather today", Description: "nothing about acme", PublishedAt: now},
	}}
	srv := httptest.NewServer(Handler(fixture))
	defer srv.Close()

	get := func(q string) Response {
		t.Helper()
		resp, err := http.Get(srv.URL + "/v2/everything?" + url.Values{"q": {q}}.Encode())
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		var out Response
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	assert.Equal(t, 2, get(`"Acme"`).TotalResults)
	assert.Equal(t, 3, get(`Acme OR Globex`).TotalResults)
	assert.Equal(t, 3, get("").TotalResults)
	assert.Equal(t, 0, get("Initech").TotalResults)
}
