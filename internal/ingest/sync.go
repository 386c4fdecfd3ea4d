package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Aman-CERP/indexify/internal/index"
)

// DefaultBatchFiles is how many files go into one add call, and so into one
// embedding request.
const DefaultBatchFiles = 32

// Target is the index files are added to.
type Target interface {
	Name() string
	AddTexts(ctx context.Context, docs []index.Document) (int, error)
	Fragments(text string) int
	DeleteFragments(ctx context.Context, metadata map[string]string, from, to int) error
	FragmentsEnd(ctx context.Context, metadata map[string]string, from int) (int, error)
}

// Result sums up one sync step.
type Result struct {
	Files     int `json:"files"`
	Fragments int `json:"fragments"`
	Removed   int `json:"removed"`
}

// Syncer adds the files of a scanner to a target index. Each file becomes
// one document whose metadata holds SourceKey. When the index uses
// SourceKey as a dedup field the syncer also removes fragments of deleted
// files and the stale tail of files that got shorter.
type Syncer struct {
	target  Target
	scanner *Scanner
	meta    map[string]string
	replace bool
	batch   int
	logger  *slog.Logger

	// fragments stored per source, as far as this syncer knows
	counts map[string]int
}

// SyncerConfig configures NewSyncer.
type SyncerConfig struct {
	Target  Target
	Scanner *Scanner

	// Metadata is copied into every document.
	Metadata map[string]string

	// DedupFields of the target index.
	DedupFields []string

	BatchFiles int
	Logger     *slog.Logger
}

// NewSyncer creates a syncer.
func NewSyncer(cfg SyncerConfig) (*Syncer, error) {
	if cfg.Target == nil || cfg.Scanner == nil {
		return nil, fmt.Errorf("syncer needs a target and a scanner")
	}
	if cfg.BatchFiles <= 0 {
		cfg.BatchFiles = DefaultBatchFiles
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	replace := len(cfg.DedupFields) == 1 && cfg.DedupFields[0] == SourceKey
	if !replace {
		cfg.Logger.Debug("sync_append_only",
			slog.String("index", cfg.Target.Name()),
			slog.Any("dedup_fields", cfg.DedupFields))
	}
	return &Syncer{
		target:  cfg.Target,
		scanner: cfg.Scanner,
		meta:    maps.Clone(cfg.Metadata),
		replace: replace,
		batch:   cfg.BatchFiles,
		logger:  cfg.Logger,
		counts:  make(map[string]int),
	}, nil
}

// Replaces reports whether changed and removed files replace their old
// fragments.
func (s *Syncer) Replaces() bool { return s.replace }

// AddAll scans the tree and adds every kept file.
func (s *Syncer) AddAll(ctx context.Context) (Result, error) {
	files, err := s.scanner.Scan(ctx)
	if err != nil {
		return Result{}, err
	}
	return s.add(ctx, files)
}

// Apply adds changed files and removes deleted ones.
func (s *Syncer) Apply(ctx context.Context, changes []Change) (Result, error) {
	var (
		files []File
		res   Result
	)
	for _, c := range changes {
		if c.Removed {
			n, err := s.remove(ctx, c.Path)
			res.Removed += n
			if err != nil {
				return res, err
			}
			continue
		}
		if f, ok := s.scanner.Stat(filepath.Join(s.scanner.Root(), filepath.FromSlash(c.Path))); ok {
			files = append(files, f)
		}
	}

	added, err := s.add(ctx, files)
	res.Files += added.Files
	res.Fragments += added.Fragments
	return res, err
}

func (s *Syncer) add(ctx context.Context, files []File) (Result, error) {
	var res Result
	for start := 0; start < len(files); start += s.batch {
		end := min(start+s.batch, len(files))

		docs := make([]index.Document, 0, end-start)
		sizes := make([]int, 0, end-start)
		for _, f := range files[start:end] {
			text, err := ReadFile(f)
			if err != nil {
				s.logger.Warn("sync_read_failed", slog.String("path", f.Path), slog.String("error", err.Error()))
				continue
			}
			docs = append(docs, index.Document{Text: text, Metadata: s.metadata(f.Path)})
			sizes = append(sizes, s.target.Fragments(text))
		}
		if len(docs) == 0 {
			continue
		}

		n, err := s.target.AddTexts(ctx, docs)
		if err != nil {
			return res, err
		}
		res.Files += len(docs)
		res.Fragments += n

		for i, doc := range docs {
			if err := s.trim(ctx, doc.Metadata, sizes[i]); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

// trim drops fragments an earlier, longer version of the file left behind.
// The first time a file is seen the index is asked where its fragments end,
// which covers versions added by earlier runs.
func (s *Syncer) trim(ctx context.Context, meta map[string]string, size int) error {
	source := meta[SourceKey]
	old, seen := s.counts[source]
	s.counts[source] = size
	if !s.replace {
		return nil
	}
	if !seen {
		end, err := s.target.FragmentsEnd(ctx, meta, size)
		if err != nil {
			return err
		}
		old = end
	}
	if old <= size {
		return nil
	}
	return s.target.DeleteFragments(ctx, meta, size, old)
}

// remove drops a file, or every file below a removed directory. It returns
// how many files lost their fragments.
func (s *Syncer) remove(ctx context.Context, path string) (int, error) {
	var sources []string
	if _, ok := s.counts[path]; ok {
		sources = append(sources, path)
	} else {
		for source := range s.counts {
			if strings.HasPrefix(source, path+"/") {
				sources = append(sources, source)
			}
		}
		sort.Strings(sources)
	}

	removed := 0
	for _, source := range sources {
		old := s.counts[source]
		delete(s.counts, source)
		if !s.replace {
			s.logger.Warn("sync_removed_file_kept",
				slog.String("index", s.target.Name()),
				slog.String("path", source))
			continue
		}
		if err := s.target.DeleteFragments(ctx, s.metadata(source), 0, old); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *Syncer) metadata(source string) map[string]string {
	meta := maps.Clone(s.meta)
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta[SourceKey] = source
	return meta
}
