// Package cmd provides the CLI commands for Indexify.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
	"github.com/Aman-CERP/indexify/internal/profiling"
	"github.com/Aman-CERP/indexify/pkg/version"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	dataDir    string
	debug      bool
	profile    profiling.Options
}

// NewRootCmd creates the root command for the indexify CLI.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}
	var profiler *profiling.Session

	cmd := &cobra.Command{
		Use:   "indexify",
		Short: "Embedding router, vector indexes and conversational memory",
		Long: `Indexify routes texts to embedding models, stores the vectors in named
indexes and answers nearest-neighbour queries over them.

Run 'indexify serve' for the HTTP API or 'indexify mcp' to expose the same
operations to an MCP client over stdio.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if !flags.profile.Enabled() {
				return nil
			}
			var err error
			profiler, err = profiling.Start(flags.profile)
			return err
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if profiler == nil {
				return nil
			}
			err := profiler.Stop()
			profiler = nil
			return err
		},
	}

	cmd.SetVersionTemplate("indexify version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Config file (default: ./indexify.yaml)")
	pf.StringVar(&flags.dataDir, "data-dir", "", "Data directory (overrides data_dir)")
	pf.BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	pf.StringVar(&flags.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	pf.StringVar(&flags.profile.Heap, "profile-mem", "", "Write memory profile to file")
	pf.StringVar(&flags.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newMCPCmd(flags))
	cmd.AddCommand(newModelsCmd(flags))
	cmd.AddCommand(newEmbedCmd(flags))
	cmd.AddCommand(newIndexCmd(flags))
	cmd.AddCommand(newMemoryCmd(flags))
	cmd.AddCommand(newConfigCmd(flags))
	cmd.AddCommand(newDoctorCmd(flags))
	cmd.AddCommand(newLogsCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints any error to stderr.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprint(os.Stderr, ixerrors.FormatForCLI(err))
	}
	return err
}
