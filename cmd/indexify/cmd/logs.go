package cmd

import (
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
	"github.com/Aman-CERP/indexify/internal/logging"
	"github.com/Aman-CERP/indexify/internal/output"
)

func newLogsCmd(flags *globalFlags) *cobra.Command {
	var (
		follow  bool
		lines   int
		level   string
		filter  string
		noColor bool
		file    string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the server log",
		Long: `Show the JSON log written by 'indexify serve' and 'indexify mcp'.

The file is logging.file from the configuration, or ~/.indexify/logs/server.log.`,
		Example: `  # Last 100 lines
  indexify logs -n 100

  # Follow warnings and errors about searches
  indexify logs -f --level warn --filter search`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var pattern *regexp.Regexp
			if filter != "" {
				var err error
				pattern, err = regexp.Compile(filter)
				if err != nil {
					return ixerrors.ValidationError("invalid --filter: "+err.Error(), err)
				}
			}

			path := file
			if path == "" {
				cfg, err := loadConfig(flags)
				if err != nil {
					return err
				}
				path = cfg.LogFile()
			}
			if path == "" {
				path = logging.DefaultLogPath()
			}

			out := cmd.OutOrStdout()
			viewer := logging.NewViewer(logging.ViewerConfig{
				Level:   level,
				Pattern: pattern,
				Color:   !noColor && output.IsTTY(out) && !output.DetectNoColor(),
			}, out)

			entries, err := viewer.Tail(path, lines)
			if errors.Is(err, fs.ErrNotExist) {
				return ixerrors.New(ixerrors.ErrCodeInvalidInput, "no log file at "+path, err).
					WithSuggestion("Start 'indexify serve' or pass --file")
			}
			if err != nil {
				return err
			}
			viewer.Print(entries...)

			if !follow {
				return nil
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return viewer.Follow(ctx, path)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&level, "level", "", "Hide lines below this level (debug, info, warn, error)")
	cmd.Flags().StringVar(&filter, "filter", "", "Only lines matching this regular expression")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&file, "file", "", "Log file (overrides logging.file)")

	return cmd
}
