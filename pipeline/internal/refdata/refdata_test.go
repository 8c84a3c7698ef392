package refdata

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impactwatch/impactwatch/common/logging"
)

const publishersV1 = `
version: "v1"
publishers:
  - {domain: reuters.com, name: Reuters, tier: 1, credibility: 0.95}
  - {domain: www.theverge.com, name: The Verge, tier: 2, credibility: 0.75}
`

const publishersV2 = `
version: "v2"
publishers:
  - {domain: reuters.com, name: Reuters, tier: 1, credibility: 0.9}
`

const rulesV1 = `
version: "r1"
rules:
  - {id: any-outage, when: {event_types: [Outage]}, then: {risk_level: High}}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestPublisherTable_Lookup(t *testing.T) {
	table, err := ParsePublishers([]byte(publishersV1))
	require.NoError(t, err)

	tests := []struct {
		domain string
		want   string
		ok     bool
	}{
		{"reuters.com", "Reuters", true},
		{"WWW.Reuters.com", "Reuters", true},
		{"markets.reuters.com", "Reuters", true},
		{"theverge.com", "The Verge", true},
		{"example.com", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			p, ok := table.Lookup(tt.domain)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, p.Name)
		})
	}
}

func TestParsePublishers_Invalid(t *testing.T) {
	tests := map[string]string{
		"tier":        "publishers:\n  - {domain: a.com, tier: 9, credibility: 0.5}\n",
		"credibility": "publishers:\n  - {domain: a.com, tier: 2, credibility: 1.5}\n",
		"domain":      "publishers:\n  - {tier: 2, credibility: 0.5}\n",
		"duplicate":   "publishers:\n  - {domain: a.com, tier: 2, credibility: 0.5}\n  - {domain: www.a.com, tier: 2, credibility: 0.5}\n",
		"unknown key": "publishers:\n  - {domain: a.com, tier: 2, credibility: 0.5, vibe: good}\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePublishers([]byte(src))
			assert.Error(t, err)
		})
	}
}

func TestLoader_LoadAndRejectInvalidReload(t *testing.T) {
	dir := t.TempDir()
	pubPath := filepath.Join(dir, "publishers.yaml")
	rulePath := filepath.Join(dir, "rules.yaml")
	writeFile(t, pubPath, publishersV1)
	writeFile(t, rulePath, rulesV1)

	l := NewLoader(pubPath, rulePath, logging.Discard())
	require.NoError(t, l.Load())
	assert.Equal(t, "v1", l.Publishers().Version)
	assert.Equal(t, "r1", l.Rules().Version)

	writeFile(t, rulePath, "rules:\n  - {id: broken, then: {risk_level: Meh}}\n")
	assert.Error(t, l.Reload(TableRules))
	assert.Equal(t, "r1", l.Rules().Version, "previous table keeps serving")

	writeFile(t, pubPath, publishersV2)
	require.NoError(t, l.Reload(TablePublishers))
	p, ok := l.Publishers().Lookup("reuters.com")
	require.True(t, ok)
	assert.Equal(t, 0.9, p.Credibility)
}

func TestLoader_MissingFilesUseDefaults(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader(filepath.Join(dir, "nope.yaml"), filepath.Join(dir, "none.yaml"), logging.Discard())
	require.NoError(t, l.Load())
	assert.Equal(t, "builtin", l.Publishers().Version)
	assert.Equal(t, "builtin", l.Rules().Version)
	_, ok := l.Publishers().Lookup("apnews.com")
	assert.True(t, ok)
}

func TestLoader_InvalidFileFailsLoad(t *testing.T) {
	dir := t.TempDir()
	pubPath := filepath.Join(dir, "publishers.yaml")
	writeFile(t, pubPath, "publishers: [{domain: a.com, tier: 0, credibility: 0.5}]\n")

	l := NewLoader(pubPath, "", logging.Discard())
	assert.Error(t, l.Load())
	assert.Equal(t, "builtin", l.Publishers().Version)
}

func TestLoader_WatchReloadsChangedFile(t *testing.T) {
	dir := t.TempDir()
	pubPath := filepath.Join(dir, "publishers.yaml")
	writeFile(t, pubPath, publishersV1)

	l := NewLoader(pubPath, "", logging.Discard())
	require.NoError(t, l.Load())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Watch(ctx) }()

	// Give the watcher time to register before changing the file.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, pubPath, publishersV2)

	require.Eventually(t, func() bool {
		return l.Publishers().Version == "v2"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
