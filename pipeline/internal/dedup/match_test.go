package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchKey(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Acme launches Feature Y", "acme launch feature y"},
		{"Reuters: Acme unveils Feature Y", "acme launch feature y"},
		{"Acme debuts Feature Y - Reuters", "acme launch feature y"},
		{"Acme introduces new Feature Y | The Verge", "acme launch feature y"},
		{"EXCLUSIVE: Acme buys Initech", "acme acquire initech"},
		{"Acme slashes prices - Business Insider", "acme cut prices"},
		{"Ratio: 3 to 1 for Acme", "ratio 3 1 acme"},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchKey(tt.title))
		})
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("acme launch", "acme launch"))
	assert.Equal(t, 0.0, Similarity("abc", ""))
	assert.InDelta(t, 1-1.0/6, Similarity("kitten", "sitten"), 1e-9)
	assert.InDelta(t, 1-3.0/7, Similarity("kitten", "sitting"), 1e-9)
	assert.Equal(t, Similarity("flaw", "lawn"), Similarity("lawn", "flaw"))
}
