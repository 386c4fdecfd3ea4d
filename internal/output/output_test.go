package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_Status_PrintsIconAndMessage(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a status message
	w.Status("→", "Checking models...")

	// Then: output contains icon and message
	assert.Equal(t, "→ Checking models...\n", buf.String())
}

func TestWriter_New_NoColorForBuffers(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Success("Index created")
	w.Warning("Model unavailable")
	w.Error("Failed to connect")

	out := buf.String()
	assert.Contains(t, out, "✓ Index created")
	assert.Contains(t, out, "! Model unavailable")
	assert.Contains(t, out, "✗ Failed to connect")
	assert.NotContains(t, out, "\x1b[")
}

func TestWriter_Field_AlignsLabels(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Field("name", "docs")
	w.Field("dimensions", 384)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t, strings.Index(lines[0], "docs"), strings.Index(lines[1], "384"))
}

// TS01: Table pads every column to its widest cell
func TestWriter_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Table([]string{"NAME", "MODEL", "DIMS"}, [][]string{
		{"docs", "static", "384"},
		{"a-much-longer-name", "openai", "1536"},
	})

	want := "" +
		"NAME                MODEL   DIMS\n" +
		"docs                static  384\n" +
		"a-much-longer-name  openai  1536\n"
	assert.Equal(t, want, buf.String())
}

func TestWriter_Code_IndentsLines(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Code("a: 1\nb: 2")

	assert.Equal(t, "\n  a: 1\n  b: 2\n\n", buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "one two", Truncate("one\n  two", 10))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
	assert.Equal(t, "héll…", Truncate("héllo wörld", 5))
}

func TestIsTTY_NonFile(t *testing.T) {
	assert.False(t, IsTTY(&bytes.Buffer{}))
}
