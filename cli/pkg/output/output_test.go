package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	oldOut, oldErr := Out, ErrOut
	Out, ErrOut = &out, &errOut
	t.Cleanup(func() { Out, ErrOut = oldOut, oldErr })
	return &out, &errOut
}

func TestMessages(t *testing.T) {
	out, errOut := capture(t)

	Success("Created %d cards", 2)
	Info("watch %s", "acme")
	Warn("degraded")
	Error("failed to connect to %s", "pipeline")

	assert.Contains(t, out.String(), "✓ Created 2 cards")
	assert.Contains(t, out.String(), "watch acme")
	assert.Contains(t, out.String(), "⚠ degraded")
	assert.Contains(t, errOut.String(), "✗ failed to connect to pipeline")
	assert.NotContains(t, out.String(), "failed to connect")
}

func TestStructured(t *testing.T) {
	v := map[string]any{"id": "c1", "risk_level": "High"}

	t.Run("json", func(t *testing.T) {
		out, _ := capture(t)
		ok, err := Structured("json", v)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.JSONEq(t, `{"id":"c1","risk_level":"High"}`, out.String())
	})

	t.Run("yaml", func(t *testing.T) {
		out, _ := capture(t)
		ok, err := Structured("yaml", v)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Contains(t, out.String(), "risk_level: High")
	})

	t.Run("table", func(t *testing.T) {
		out, _ := capture(t)
		ok, err := Structured("table", v)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, out.String())
	})
}

func TestTable(t *testing.T) {
	out, _ := capture(t)

	table := NewTable("ID", "Risk")
	table.AddRow("c1", "High")
	table.AddRow("card-22", "Low")
	table.Render()

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "ID     "))
	assert.True(t, strings.HasPrefix(lines[1], "-------  ----"))
	assert.True(t, strings.HasPrefix(lines[3], "card-22  Low"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "Acme lau…", Truncate("Acme launches Feature Y", 9))
	assert.Equal(t, "A", Truncate("Acme", 1))
}
