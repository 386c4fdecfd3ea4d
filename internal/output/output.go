// Package output provides consistent CLI output formatting with colors.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Color palette
const (
	ColorAccent   = "154"
	ColorGray     = "245"
	ColorDarkGray = "238"
	ColorRed      = "196"
	ColorYellow   = "220"
)

// Styles holds the text styles used by Writer.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Label   lipgloss.Style
	Dim     lipgloss.Style
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccent)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
	}
}

// NoColorStyles returns unstyled components for plain output.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{Header: plain, Success: plain, Warning: plain, Error: plain, Label: plain, Dim: plain}
}

// Writer provides formatted output for CLI.
type Writer struct {
	out    io.Writer
	styles Styles
}

// New creates a Writer. Color is used only when out is a terminal and
// NO_COLOR is unset.
func New(out io.Writer) *Writer {
	return NewWithColor(out, IsTTY(out) && !DetectNoColor())
}

// NewWithColor creates a Writer with color forced on or off.
func NewWithColor(out io.Writer, color bool) *Writer {
	styles := NoColorStyles()
	if color {
		styles = DefaultStyles()
	}
	return &Writer{out: out, styles: styles}
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message.
func (w *Writer) Success(msg string) {
	w.Status(w.styles.Success.Render("✓"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status(w.styles.Warning.Render("!"), msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status(w.styles.Error.Render("✗"), msg)
}

// Header prints a bold section title.
func (w *Writer) Header(title string) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(title))
}

// Field prints an aligned "label: value" line.
func (w *Writer) Field(label string, value any) {
	_, _ = fmt.Fprintf(w.out, "  %s %v\n", w.styles.Label.Render(fmt.Sprintf("%-14s", label+":")), value)
}

// Code prints a block with indentation.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for line := range strings.Lines(content) {
		_, _ = fmt.Fprintf(w.out, "  %s\n", strings.TrimRight(line, "\n"))
	}
	_, _ = fmt.Fprintln(w.out)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Table prints rows under headers with padded columns.
func (w *Writer) Table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(formatRow(headers, widths)))
	for _, row := range rows {
		_, _ = fmt.Fprintln(w.out, formatRow(row, widths))
	}
}

func formatRow(cells []string, widths []int) string {
	var sb strings.Builder
	for i, width := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		if i == len(widths)-1 {
			sb.WriteString(cell)
			break
		}
		sb.WriteString(cell)
		sb.WriteString(strings.Repeat(" ", width-lipgloss.Width(cell)+2))
	}
	return strings.TrimRight(sb.String(), " ")
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n || n < 2 {
		return s
	}
	return string(r[:n-1]) + "…"
}
