package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const (
	maxLineSize  = 1 << 20
	followPeriod = 100 * time.Millisecond
)

// Entry is one line of a JSON log file.
type Entry struct {
	Time  time.Time
	Level string
	Msg   string
	Attrs map[string]any
	Raw   string
	// Valid is false when the line is not a JSON object.
	Valid bool
}

// ParseEntry decodes a line written by the JSON handler.
func ParseEntry(line string) Entry {
	e := Entry{Raw: line}
	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return e
	}
	e.Valid = true
	if s, ok := data[slog.TimeKey].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			e.Time = t
		}
	}
	e.Level, _ = data[slog.LevelKey].(string)
	e.Msg, _ = data[slog.MessageKey].(string)
	delete(data, slog.TimeKey)
	delete(data, slog.LevelKey)
	delete(data, slog.MessageKey)
	e.Attrs = data
	return e
}

// ViewerConfig selects and styles entries.
type ViewerConfig struct {
	// Level hides entries below it. Empty shows everything.
	Level string
	// Pattern keeps only raw lines it matches.
	Pattern *regexp.Regexp
	Color   bool
}

// Viewer prints log files.
type Viewer struct {
	cfg    ViewerConfig
	out    io.Writer
	levels map[string]lipgloss.Style
}

// NewViewer creates a viewer writing to out.
func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	v := &Viewer{cfg: cfg, out: out}
	if cfg.Color {
		v.levels = map[string]lipgloss.Style{
			"DEBUG": lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
			"INFO":  lipgloss.NewStyle().Foreground(lipgloss.Color("154")),
			"WARN":  lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
			"ERROR": lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		}
	}
	return v
}

// Match reports whether e passes the level and pattern filters.
func (v *Viewer) Match(e Entry) bool {
	if v.cfg.Level != "" && e.Valid && ParseLevel(e.Level) < ParseLevel(v.cfg.Level) {
		return false
	}
	if v.cfg.Pattern != nil && !v.cfg.Pattern.MatchString(e.Raw) {
		return false
	}
	return true
}

// Tail returns the matching entries among the last n lines of path.
func (v *Viewer) Tail(path string, n int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var window []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		window = append(window, sc.Text())
		if n > 0 && len(window) > n {
			window = window[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	var entries []Entry
	for _, line := range window {
		if e := ParseEntry(line); v.Match(e) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Follow prints matching lines appended to path until ctx is done.
func (v *Viewer) Follow(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek log file: %w", err)
	}

	r := bufio.NewReader(f)
	ticker := time.NewTicker(followPeriod)
	defer ticker.Stop()

	var partial string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		for {
			chunk, err := r.ReadString('\n')
			partial += chunk
			if err != nil {
				break
			}
			line := strings.TrimSuffix(partial, "\n")
			partial = ""
			if line == "" {
				continue
			}
			if e := ParseEntry(line); v.Match(e) {
				v.Print(e)
			}
		}
	}
}

// Print writes entries, one per line.
func (v *Viewer) Print(entries ...Entry) {
	for _, e := range entries {
		_, _ = fmt.Fprintln(v.out, v.Format(e))
	}
}

// Format renders e as "15:04:05.000 LEVEL msg key=value ...". Lines that
// are not JSON come back unchanged.
func (v *Viewer) Format(e Entry) string {
	if !e.Valid {
		return e.Raw
	}
	level := fmt.Sprintf("%-5s", strings.ToUpper(e.Level))
	if style, ok := v.levels[strings.TrimSpace(level)]; ok {
		level = style.Render(level)
	}

	var b strings.Builder
	b.WriteString(e.Time.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(e.Msg)

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Attrs[k])
	}
	return b.String()
}
