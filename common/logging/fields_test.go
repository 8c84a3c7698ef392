package logging

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldHelpers(t *testing.T) {
	tests := []struct {
		attr slog.Attr
		key  string
		want string
	}{
		{Service("pipeline"), FieldService, "pipeline"},
		{WatchID("acme"), FieldWatchID, "acme"},
		{Provider("newsapi"), FieldProvider, "newsapi"},
		{SignalID("s-1"), FieldSignalID, "s-1"},
		{CardID("c-1"), FieldCardID, "c-1"},
		{JobID("j-1"), FieldJobID, "j-1"},
		{RuleID("r-1"), FieldRuleID, "r-1"},
		{Method("POST"), FieldMethod, "POST"},
		{Path("/api"), FieldPath, "/api"},
		{Query("acme launch"), FieldQuery, "acme launch"},
		{Error(errors.New("boom")), FieldError, "boom"},
		{Error(nil), FieldError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.key, tt.attr.Key)
			assert.Equal(t, tt.want, tt.attr.Value.String())
		})
	}
}

func TestNumericFields(t *testing.T) {
	assert.Equal(t, int64(404), Status(404).Value.Int64())
	assert.Equal(t, int64(1500), Duration(1500).Value.Int64())
}
