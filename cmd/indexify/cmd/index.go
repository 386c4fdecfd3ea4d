package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexify/internal/catalog"
	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
	"github.com/Aman-CERP/indexify/internal/index"
	"github.com/Aman-CERP/indexify/internal/output"
	"github.com/Aman-CERP/indexify/internal/splitter"
)

func newIndexCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Create, fill, search and delete vector indexes",
		Long: `Manage vector indexes in the data directory.

These commands lock the data directory. Stop 'indexify serve' first, or use
the HTTP API while it is running.`,
	}

	cmd.AddCommand(newIndexCreateCmd(flags))
	cmd.AddCommand(newIndexAddCmd(flags))
	cmd.AddCommand(newIndexSearchCmd(flags))
	cmd.AddCommand(newIndexListCmd(flags))
	cmd.AddCommand(newIndexInfoCmd(flags))
	cmd.AddCommand(newIndexStatsCmd(flags))
	cmd.AddCommand(newIndexDeleteCmd(flags))

	return cmd
}

// withDataDir opens the data directory, runs fn, and closes everything.
func withDataDir(ctx context.Context, flags *globalFlags, fn func(*app) error) error {
	a, err := openApp(ctx, flags, logCLI)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}

// loadIndex returns the named index or an index-not-found error.
func loadIndex(ctx context.Context, a *app, name string) (*index.Index, error) {
	ix, err := a.indexes.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	if ix == nil {
		return nil, ixerrors.IndexNotFound(name).WithSuggestion("Run 'indexify index list' to see existing indexes")
	}
	return ix, nil
}

func newIndexCreateCmd(flags *globalFlags) *cobra.Command {
	var (
		model       string
		metric      string
		split       string
		pattern     string
		dedupFields []string
	)

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create an index",
		Example: `  # Cosine index split on lines
  indexify index create docs --model static

  # Paragraph splitting, deduplicated on a metadata field
  indexify index create notes --model static --splitter regex --pattern '\n\s*\n' --dedup-field id`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDataDir(cmd.Context(), flags, func(a *app) error {
				ix, err := a.indexes.CreateIndex(cmd.Context(), index.CreateParams{
					Name:        args[0],
					Model:       model,
					Metric:      metric,
					Splitter:    splitter.Strategy{Kind: splitter.Kind(split), Pattern: pattern},
					DedupFields: dedupFields,
				})
				if err != nil {
					return err
				}

				out := output.New(cmd.OutOrStdout())
				out.Successf("Created index %s", ix.Name())
				printRecord(out, ix.Record())
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Embedding model")
	cmd.Flags().StringVar(&metric, "metric", "cosine", "Distance metric: cosine, dot, euclidean")
	cmd.Flags().StringVar(&split, "splitter", string(splitter.KindNewLine), "Text splitter: none, new_line, regex")
	cmd.Flags().StringVar(&pattern, "pattern", "", "Regex separating fragments (with --splitter regex)")
	cmd.Flags().StringArrayVar(&dedupFields, "dedup-field", nil, "Metadata field identifying a fragment (repeatable)")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}

func newIndexAddCmd(flags *globalFlags) *cobra.Command {
	var (
		file    string
		meta    []string
		dir     string
		include []string
		exclude []string
		watch   bool
	)

	cmd := &cobra.Command{
		Use:   "add NAME [text...]",
		Short: "Add texts to an index",
		Long: `Split, embed and store texts.

Texts come from the arguments, from --file or from --dir. A file ending in
.jsonl holds one {"text": ..., "metadata": {...}} document per line; any
other file is added as a single document. Use --file - to read stdin.

--dir adds every text file below a directory as one document with its
relative path in the "source" metadata field. .gitignore files, VCS and
dependency directories and credential files are skipped. With --watch the
command keeps adding changed files until interrupted; on an index created
with --dedup-field source a changed file replaces its old fragments and a
removed file loses them.`,
		Example: `  # Two texts with shared metadata
  indexify index add docs "red apples" "green pears" --meta source=cli

  # JSON lines from stdin
  cat docs.jsonl | indexify index add docs --file -

  # Markdown files of a project, kept up to date
  indexify index create notes --dedup-field source
  indexify index add notes --dir ./docs --include '*.md' --watch`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch && dir == "" {
				return ixerrors.ValidationError("--watch needs --dir", nil)
			}
			metadata, err := parseMeta(meta)
			if err != nil {
				return err
			}
			docs := make([]index.Document, 0, len(args)-1)
			for _, text := range args[1:] {
				docs = append(docs, index.Document{Text: text, Metadata: metadata})
			}
			if file != "" {
				fromFile, err := readDocuments(cmd.InOrStdin(), file, metadata)
				if err != nil {
					return err
				}
				docs = append(docs, fromFile...)
			}
			if len(docs) == 0 && dir == "" {
				return ixerrors.ValidationError("nothing to add", nil).
					WithSuggestion("Pass texts as arguments or use --file or --dir")
			}

			return withDataDir(cmd.Context(), flags, func(a *app) error {
				ix, err := loadIndex(cmd.Context(), a, args[0])
				if err != nil {
					return err
				}
				if len(docs) > 0 {
					added, err := ix.AddTexts(cmd.Context(), docs)
					if err != nil {
						return err
					}
					output.New(cmd.OutOrStdout()).Successf("Added %d fragment(s) to %s", added, ix.Name())
				}
				if dir == "" {
					return nil
				}
				return addDirectory(cmd, a, ix, dirOptions{
					dir:     dir,
					include: include,
					exclude: exclude,
					watch:   watch,
					meta:    metadata,
				})
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read documents from a file, - for stdin")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "Metadata key=value for added texts (repeatable)")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Add every text file below a directory")
	cmd.Flags().StringArrayVar(&include, "include", nil, "With --dir, only files matching this glob (repeatable)")
	cmd.Flags().StringArrayVar(&exclude, "exclude", nil, "With --dir, skip paths matching this gitignore pattern (repeatable)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "With --dir, keep adding changed files until interrupted")

	return cmd
}

func newIndexSearchCmd(flags *globalFlags) *cobra.Command {
	var (
		k          int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search NAME QUERY",
		Short: "Find the texts nearest to a query",
		Example: `  indexify index search docs "fruit" -k 3`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDataDir(cmd.Context(), flags, func(a *app) error {
				ix, err := loadIndex(cmd.Context(), a, args[0])
				if err != nil {
					return err
				}
				results, err := ix.Search(cmd.Context(), args[1], k)
				if err != nil {
					return err
				}

				if jsonOutput {
					if results == nil {
						results = []index.Result{}
					}
					return writeJSON(cmd.OutOrStdout(), results)
				}

				out := output.New(cmd.OutOrStdout())
				if len(results) == 0 {
					out.Warning("No results")
					return nil
				}
				rows := make([][]string, len(results))
				for i, r := range results {
					rows[i] = []string{
						strconv.Itoa(i + 1),
						strconv.FormatFloat(float64(r.Score), 'f', 4, 32),
						output.Truncate(r.Text, 72),
					}
				}
				out.Table([]string{"#", "SCORE", "TEXT"}, rows)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 5, "Number of results")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newIndexListCmd(flags *globalFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDataDir(cmd.Context(), flags, func(a *app) error {
				recs, err := a.indexes.ListIndexes(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					if recs == nil {
						recs = []catalog.Record{}
					}
					return writeJSON(cmd.OutOrStdout(), recs)
				}

				out := output.New(cmd.OutOrStdout())
				if len(recs) == 0 {
					out.Status("", "No indexes. Create one with 'indexify index create'.")
					return nil
				}
				rows := make([][]string, len(recs))
				for i, r := range recs {
					rows[i] = []string{r.Name, r.Model, strconv.Itoa(r.Dimensions), r.Metric, describeSplitter(r), r.Backend}
				}
				out.Table([]string{"NAME", "MODEL", "DIM", "METRIC", "SPLITTER", "BACKEND"}, rows)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newIndexInfoCmd(flags *globalFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "info NAME",
		Short: "Show one index and its fragment count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDataDir(cmd.Context(), flags, func(a *app) error {
				info, err := a.indexes.DescribeIndex(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if info == nil {
					return ixerrors.IndexNotFound(args[0])
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), info)
				}

				out := output.New(cmd.OutOrStdout())
				out.Header(info.Name)
				printRecord(out, info.Record)
				out.Field("Fragments", info.Count)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newIndexDeleteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete an index and its vectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDataDir(cmd.Context(), flags, func(a *app) error {
				deleted, err := a.indexes.DeleteIndex(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !deleted {
					return ixerrors.IndexNotFound(args[0])
				}
				output.New(cmd.OutOrStdout()).Successf("Deleted index %s", args[0])
				return nil
			})
		},
	}
}

func printRecord(out *output.Writer, rec catalog.Record) {
	out.Field("Model", rec.Model)
	out.Field("Dimensions", rec.Dimensions)
	out.Field("Metric", rec.Metric)
	out.Field("Splitter", describeSplitter(rec))
	if len(rec.DedupFields) > 0 {
		out.Field("Dedup fields", strings.Join(rec.DedupFields, ", "))
	}
	out.Field("Backend", rec.Backend)
	out.Field("Created", rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))
}

func describeSplitter(rec catalog.Record) string {
	return splitter.Strategy{Kind: splitter.Kind(rec.Splitter), Pattern: rec.Pattern}.String()
}

// parseMeta turns key=value pairs into a metadata map.
func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, ixerrors.ValidationError(fmt.Sprintf("invalid --meta %q, expected key=value", p), nil)
		}
		meta[k] = v
	}
	return meta, nil
}

// readDocuments reads documents from path, or from stdin when path is "-".
func readDocuments(stdin io.Reader, path string, meta map[string]string) ([]index.Document, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	if path == "-" || strings.HasSuffix(path, ".jsonl") {
		return readJSONLines(r, path)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	docMeta := map[string]string{"source": path}
	for k, v := range meta {
		docMeta[k] = v
	}
	return []index.Document{{Text: string(data), Metadata: docMeta}}, nil
}

func readJSONLines(r io.Reader, name string) ([]index.Document, error) {
	var docs []index.Document
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var doc index.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, ixerrors.ValidationError(fmt.Sprintf("%s line %d: %v", name, line, err), err)
		}
		docs = append(docs, doc)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return docs, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
