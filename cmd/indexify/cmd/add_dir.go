package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
	"github.com/Aman-CERP/indexify/internal/index"
	"github.com/Aman-CERP/indexify/internal/ingest"
	"github.com/Aman-CERP/indexify/internal/output"
)

// dirOptions are the --dir flags of 'index add'.
type dirOptions struct {
	dir     string
	include []string
	exclude []string
	watch   bool
	meta    map[string]string
}

// addDirectory adds every text file below o.dir and, with --watch, keeps
// adding changes until interrupted.
func addDirectory(cmd *cobra.Command, a *app, ix *index.Index, o dirOptions) error {
	out := output.New(cmd.OutOrStdout())

	scanner, err := ingest.NewScanner(o.dir, ingest.Options{Include: o.include, Exclude: o.exclude}, a.logger)
	if err != nil {
		return ixerrors.ValidationError(err.Error(), err)
	}
	syncer, err := ingest.NewSyncer(ingest.SyncerConfig{
		Target:      ix,
		Scanner:     scanner,
		Metadata:    o.meta,
		DedupFields: ix.Record().DedupFields,
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}

	res, err := syncer.AddAll(cmd.Context())
	if err != nil {
		return err
	}
	out.Successf("Added %d file(s) as %d fragment(s) to %s", res.Files, res.Fragments, ix.Name())
	if !o.watch {
		return nil
	}

	if !syncer.Replaces() {
		out.Warningf("Index %s does not use --dedup-field %s: changed files add new fragments and removed files stay",
			ix.Name(), ingest.SourceKey)
	}
	out.Statusf("", "Watching %s, press Ctrl+C to stop", scanner.Root())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher := ingest.NewWatcher(scanner, 0, a.logger)
	return watcher.Run(ctx, func(ctx context.Context, changes []ingest.Change) error {
		res, err := syncer.Apply(ctx, changes)
		if err != nil {
			return err
		}
		a.logger.Info("sync_applied",
			slog.String("index", ix.Name()),
			slog.Int("changes", len(changes)),
			slog.Int("files", res.Files),
			slog.Int("removed", res.Removed))
		if res.Files > 0 {
			out.Successf("Updated %d file(s) as %d fragment(s)", res.Files, res.Fragments)
		}
		if res.Removed > 0 {
			out.Successf("Removed %d file(s)", res.Removed)
		}
		return nil
	})
}
