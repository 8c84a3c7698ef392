package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// Out and ErrOut are swapped by tests.
var (
	Out    io.Writer = os.Stdout
	ErrOut io.Writer = os.Stderr
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	warnColor    = color.New(color.FgYellow)
	headerColor  = color.New(color.FgWhite, color.Bold)
)

func Success(format string, a ...any) {
	successColor.Fprintf(Out, "✓ "+format+"\n", a...)
}

func Error(format string, a ...any) {
	errorColor.Fprintf(ErrOut, "✗ "+format+"\n", a...)
}

func Info(format string, a ...any) {
	infoColor.Fprintf(Out, format+"\n", a...)
}

func Warn(format string, a ...any) {
	warnColor.Fprintf(Out, "⚠ "+format+"\n", a...)
}

func JSON(v any) error {
	enc := json.NewEncoder(Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func YAML(v any) error {
	enc := yaml.NewEncoder(Out)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

// Structured writes v as json or yaml and reports whether format was one of
// them. Callers render their own table otherwise.
func Structured(format string, v any) (bool, error) {
	switch format {
	case "json":
		return true, JSON(v)
	case "yaml":
		return true, YAML(v)
	}
	return false, nil
}

// RiskColor picks the color used for a risk level label.
func RiskColor(level string) *color.Color {
	switch level {
	case "Critical":
		return color.New(color.FgRed, color.Bold)
	case "High":
		return color.New(color.FgRed)
	case "Medium":
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}

type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

func (t *Table) AddRow(row ...string) {
	t.rows = append(t.rows, row)
}

func (t *Table) Render() {
	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = len(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, header := range t.headers {
		headerColor.Fprintf(Out, "%-*s  ", widths[i], header)
	}
	fmt.Fprintln(Out)
	for i := range t.headers {
		fmt.Fprint(Out, strings.Repeat("-", widths[i])+"  ")
	}
	fmt.Fprintln(Out)
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(Out, "%-*s  ", widths[i], cell)
			}
		}
		fmt.Fprintln(Out)
	}
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
