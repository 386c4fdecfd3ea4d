// Package ingest turns a directory tree into documents for an index.
//
// Scanner walks a tree and keeps text files that are not excluded by the
// built-in rules, .gitignore files or the caller's globs. Watcher reports
// changes below the same tree in debounced batches.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultMaxFileSize bounds a single document read from disk.
	DefaultMaxFileSize int64 = 1 << 20

	// SourceKey is the metadata key that holds a file's path relative to
	// the scan root.
	SourceKey = "source"

	ignoreFileName  = ".gitignore"
	ignoreCacheSize = 1000
	sniffSize       = 512
)

// Directories that are never descended into.
var defaultExcludeDirs = []string{
	".git/", "node_modules/", "vendor/", "__pycache__/", ".venv/",
	".ssh/", ".aws/", ".gcp/", ".azure/",
}

// Files that are never read, mostly credentials.
var sensitiveFiles = []string{
	".env", ".env.*", "*.pem", "*.key", "*.p12", "*.pfx",
	"*credentials*", "*secrets*", ".netrc", ".npmrc", ".pypirc",
	"id_rsa", "id_dsa", "id_ecdsa", "id_ed25519",
}

// File is one text file found by a scan.
type File struct {
	Path    string // relative to the root, slash separated
	AbsPath string
	Size    int64
	ModTime time.Time
}

// Options narrows what a scan returns.
type Options struct {
	// Include keeps only files whose name or relative path matches one of
	// these globs. Empty keeps every text file.
	Include []string

	// Exclude drops paths matching these gitignore patterns.
	Exclude []string

	// MaxFileSize skips larger files. Zero means DefaultMaxFileSize.
	MaxFileSize int64

	// NoGitignore disables .gitignore handling.
	NoGitignore bool
}

// Scanner discovers indexable files below a root directory.
type Scanner struct {
	root    string
	opts    Options
	builtin *IgnoreRules
	extra   *IgnoreRules
	logger  *slog.Logger

	// parsed .gitignore files by directory; nil entries mark directories
	// without one
	ignores *lru.Cache[string, *IgnoreRules]
}

// NewScanner validates root and prepares the ignore rules.
func NewScanner(root string, opts Options, logger *slog.Logger) (*Scanner, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid directory %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	for _, g := range opts.Include {
		if _, err := filepath.Match(g, ""); err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", g, err)
		}
	}
	cache, err := lru.New[string, *IgnoreRules](ignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create ignore cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scanner{
		root:    abs,
		opts:    opts,
		builtin: NewIgnoreRules(append(append([]string(nil), defaultExcludeDirs...), sensitiveFiles...)...),
		extra:   NewIgnoreRules(opts.Exclude...),
		logger:  logger,
		ignores: cache,
	}, nil
}

// Root returns the absolute scan root.
func (s *Scanner) Root() string { return s.root }

// Scan walks the tree and returns the kept files sorted by path.
func (s *Scanner) Scan(ctx context.Context) ([]File, error) {
	var files []File
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			s.logger.Debug("scan_skip_unreadable", slog.String("path", p), slog.String("error", err.Error()))
			if d != nil && d.IsDir() && p != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		if p == s.root {
			return nil
		}
		rel, err := s.Rel(p)
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if s.Ignored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if f, ok := s.keep(rel, p, info); ok {
			files = append(files, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	s.logger.Debug("scan_complete", slog.String("root", s.root), slog.Int("files", len(files)))
	return files, nil
}

// Stat checks a single path below the root and reports whether a scan
// would keep it.
func (s *Scanner) Stat(abs string) (File, bool) {
	rel, err := s.Rel(abs)
	if err != nil || s.Ignored(rel, false) {
		return File{}, false
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return File{}, false
	}
	return s.keep(rel, abs, info)
}

func (s *Scanner) keep(rel, abs string, info fs.FileInfo) (File, bool) {
	if s.Ignored(rel, false) {
		return File{}, false
	}
	if len(s.opts.Include) > 0 && !matchGlob(s.opts.Include, rel) {
		return File{}, false
	}
	if info.Size() > s.opts.MaxFileSize {
		s.logger.Debug("scan_skip_large", slog.String("path", rel), slog.Int64("size", info.Size()))
		return File{}, false
	}
	if isBinary(abs) {
		return File{}, false
	}
	return File{Path: rel, AbsPath: abs, Size: info.Size(), ModTime: info.ModTime()}, true
}

// Rel converts an absolute path below the root to a slash separated
// relative path.
func (s *Scanner) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", err
	}
	if rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", fmt.Errorf("%s is outside %s", abs, s.root)
	}
	return filepath.ToSlash(rel), nil
}

// Ignored reports whether rel is excluded by the built-in rules, the
// caller's patterns or a .gitignore on its path.
func (s *Scanner) Ignored(rel string, isDir bool) bool {
	if s.builtin.Match(rel, isDir) || s.extra.Match(rel, isDir) {
		return true
	}
	if s.opts.NoGitignore {
		return false
	}

	dir, base := s.root, ""
	if s.gitignore(dir, base).Match(rel, isDir) {
		return true
	}
	parts := strings.Split(rel, "/")
	for _, part := range parts[:len(parts)-1] {
		dir = filepath.Join(dir, part)
		base = strings.TrimPrefix(base+"/"+part, "/")
		if s.gitignore(dir, base).Match(rel, isDir) {
			return true
		}
	}
	return false
}

// InvalidateIgnores drops the parsed .gitignore files so edits are seen.
func (s *Scanner) InvalidateIgnores() {
	s.ignores.Purge()
}

func (s *Scanner) gitignore(dir, base string) *IgnoreRules {
	if rules, ok := s.ignores.Get(dir); ok {
		return rules
	}
	var rules *IgnoreRules
	file := filepath.Join(dir, ignoreFileName)
	if _, err := os.Stat(file); err == nil {
		rules = &IgnoreRules{}
		if err := rules.AddFile(file, base); err != nil {
			s.logger.Warn("gitignore_unreadable", slog.String("path", file), slog.String("error", err.Error()))
			rules = nil
		}
	}
	s.ignores.Add(dir, rules)
	return rules
}

// ReadFile returns the content of a scanned file.
func ReadFile(f File) (string, error) {
	fh, err := os.Open(f.AbsPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", f.Path, err)
	}
	defer func() { _ = fh.Close() }()

	data, err := io.ReadAll(fh)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", f.Path, err)
	}
	return string(data), nil
}

// isBinary looks for a NUL byte in the first bytes of the file.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, sniffSize)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return true
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}
