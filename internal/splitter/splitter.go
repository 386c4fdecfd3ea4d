// Package splitter turns document text into the fragments that get embedded.
package splitter

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
)

// Kind names a splitting strategy.
type Kind string

const (
	// KindNone keeps the whole text as one fragment.
	KindNone Kind = "none"
	// KindNewLine emits one fragment per non-empty line.
	KindNewLine Kind = "new_line"
	// KindRegex splits on every match of Pattern.
	KindRegex Kind = "regex"
)

// Strategy is the persisted splitter configuration of an index.
type Strategy struct {
	Kind    Kind   `json:"kind"`
	Pattern string `json:"pattern,omitempty"`
}

// None returns the no-op strategy.
func None() Strategy { return Strategy{Kind: KindNone} }

// NewLine returns the line strategy.
func NewLine() Strategy { return Strategy{Kind: KindNewLine} }

// Regex returns a pattern strategy. The pattern is checked by Compile.
func Regex(pattern string) Strategy { return Strategy{Kind: KindRegex, Pattern: pattern} }

// String renders the strategy for logs and CLI output.
func (s Strategy) String() string {
	if s.Kind == KindRegex {
		return fmt.Sprintf("regex(%s)", s.Pattern)
	}
	return string(s.Kind)
}

// Splitter is a compiled Strategy.
type Splitter interface {
	Split(text string) []string
}

// Compile validates s and returns a reusable Splitter.
// An empty Kind means new_line.
func Compile(s Strategy) (Splitter, error) {
	switch s.Kind {
	case KindNone:
		return noneSplitter{}, nil
	case KindNewLine, "":
		return lineSplitter{}, nil
	case KindRegex:
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, ixerrors.InvalidSplitterPattern(s.Pattern, err)
		}
		return regexSplitter{re: re}, nil
	default:
		return nil, ixerrors.ValidationError(fmt.Sprintf("unknown text splitter %q", s.Kind), nil).
			WithSuggestion("Use one of: none, new_line, regex")
	}
}

// Split compiles s and splits text in one step.
func Split(text string, s Strategy) ([]string, error) {
	sp, err := Compile(s)
	if err != nil {
		return nil, err
	}
	return sp.Split(text), nil
}

type noneSplitter struct{}

func (noneSplitter) Split(text string) []string {
	return []string{text}
}

type lineSplitter struct{}

func (lineSplitter) Split(text string) []string {
	var out []string
	for line := range strings.Lines(text) {
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

type regexSplitter struct {
	re *regexp.Regexp
}

// Split drops empty pieces, e.g. between adjacent separators.
func (s regexSplitter) Split(text string) []string {
	var out []string
	for _, piece := range s.re.Split(text, -1) {
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// MarshalWire encodes the wire form used by the HTTP API:
// "none", "new_line" or {"regex": {"pattern": "..."}}.
func (s Strategy) MarshalWire() ([]byte, error) {
	if s.Kind == KindRegex {
		return json.Marshal(map[string]map[string]string{"regex": {"pattern": s.Pattern}})
	}
	return json.Marshal(string(s.Kind))
}

// ParseWire decodes the HTTP API form of a splitter. Empty input means new_line.
func ParseWire(raw json.RawMessage) (Strategy, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return NewLine(), nil
	}

	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		switch Kind(name) {
		case KindNone, KindNewLine:
			return Strategy{Kind: Kind(name)}, nil
		case "":
			return NewLine(), nil
		default:
			return Strategy{}, ixerrors.ValidationError(fmt.Sprintf("unknown text splitter %q", name), nil)
		}
	}

	var obj struct {
		Regex *struct {
			Pattern string `json:"pattern"`
		} `json:"regex"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || obj.Regex == nil {
		return Strategy{}, ixerrors.ValidationError("text_splitter must be \"none\", \"new_line\" or {\"regex\": {\"pattern\": ...}}", err)
	}
	return Regex(obj.Regex.Pattern), nil
}
