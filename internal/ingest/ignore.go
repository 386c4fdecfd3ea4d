package ingest

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"
)

// IgnoreRules matches slash-separated relative paths against gitignore
// patterns. The last matching rule wins, so a negated rule can re-include a
// path. Rules are added before use and never mutated while matching.
type IgnoreRules struct {
	rules []ignoreRule
}

type ignoreRule struct {
	re       *regexp.Regexp
	negate   bool
	dirOnly  bool
	anchored bool
	base     string // directory the rule was read from, "" for the root
}

// NewIgnoreRules compiles patterns that apply from the scan root.
func NewIgnoreRules(patterns ...string) *IgnoreRules {
	r := &IgnoreRules{}
	for _, p := range patterns {
		r.Add(p, "")
	}
	return r
}

// Add compiles one pattern line. Blank lines and comments are skipped. base
// limits the rule to paths under that directory.
func (r *IgnoreRules) Add(line, base string) {
	keepSpace := strings.HasSuffix(line, `\ `)
	p := strings.TrimSpace(line)
	if p == "" || strings.HasPrefix(p, "#") {
		return
	}

	rule := ignoreRule{base: strings.Trim(base, "/")}
	switch {
	case strings.HasPrefix(p, `\#`), strings.HasPrefix(p, `\!`):
		p = p[1:]
	case strings.HasPrefix(p, "!"):
		rule.negate = true
		p = p[1:]
	}
	if keepSpace && strings.HasSuffix(p, `\`) {
		p = strings.TrimSuffix(p, `\`) + " "
	}
	if strings.HasSuffix(p, "/") {
		rule.dirOnly = true
		p = strings.TrimSuffix(p, "/")
	}
	if strings.HasPrefix(p, "/") {
		rule.anchored = true
		p = strings.TrimPrefix(p, "/")
	}
	// "doc/frotz" is relative to the ignore file, like "/doc/frotz".
	if strings.Contains(p, "/") && !strings.HasPrefix(p, "**/") {
		rule.anchored = true
	}
	if p == "" {
		return
	}

	rule.re = regexp.MustCompile("^" + globToRegexp(p) + "$")
	r.rules = append(r.rules, rule)
}

// AddFile reads every pattern of a .gitignore style file.
func (r *IgnoreRules) AddFile(file, base string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		r.Add(sc.Text(), base)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}
	return nil
}

// Len returns the number of compiled rules.
func (r *IgnoreRules) Len() int { return len(r.rules) }

// Match reports whether rel is ignored.
func (r *IgnoreRules) Match(rel string, isDir bool) bool {
	if r == nil {
		return false
	}
	ignored := false
	for _, rule := range r.rules {
		if rule.match(rel, isDir) {
			ignored = !rule.negate
		}
	}
	return ignored
}

func (rule ignoreRule) match(rel string, isDir bool) bool {
	if rule.base != "" {
		if !strings.HasPrefix(rel, rule.base+"/") {
			return false
		}
		rel = strings.TrimPrefix(rel, rule.base+"/")
	}
	parts := strings.Split(rel, "/")

	if rule.anchored {
		if rule.re.MatchString(rel) {
			return !rule.dirOnly || isDir
		}
		// Files below an ignored directory are ignored with it.
		for i := 1; i < len(parts); i++ {
			if rule.re.MatchString(strings.Join(parts[:i], "/")) {
				return true
			}
		}
		return false
	}

	for i, part := range parts {
		if !rule.re.MatchString(part) {
			continue
		}
		last := i == len(parts)-1
		if last && rule.dirOnly && !isDir {
			continue
		}
		return true
	}
	return !rule.dirOnly && rule.re.MatchString(rel)
}

// globToRegexp translates gitignore glob syntax into a regular expression.
func globToRegexp(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				if i+2 < len(glob) && glob[i+2] == '/' {
					b.WriteString("(?:.*/)?")
					i += 2
					continue
				}
				b.WriteString(".*")
				i++
				continue
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end <= 0 {
				b.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += end + 1
		case '\\':
			if i+1 < len(glob) {
				i++
				b.WriteString(regexp.QuoteMeta(glob[i : i+1]))
			} else {
				b.WriteString(`\\`)
			}
		default:
			b.WriteString(regexp.QuoteMeta(glob[i : i+1]))
		}
	}
	return b.String()
}

// matchGlob reports whether the base name of rel matches any glob.
func matchGlob(globs []string, rel string) bool {
	name := path.Base(rel)
	for _, g := range globs {
		if ok, _ := path.Match(g, name); ok {
			return true
		}
		if ok, _ := path.Match(g, rel); ok {
			return true
		}
	}
	return false
}
