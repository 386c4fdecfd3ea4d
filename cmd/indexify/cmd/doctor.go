package cmd

import (
	"github.com/spf13/cobra"

	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
	"github.com/Aman-CERP/indexify/internal/preflight"
)

type doctorOutput struct {
	Status  string                  `json:"status"`
	DataDir string                  `json:"data_dir"`
	Checks  []preflight.CheckResult `json:"checks"`
}

func newDoctorCmd(flags *globalFlags) *cobra.Command {
	var (
		jsonOutput bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the data directory and embedding models",
		Long: `Check that the data directory is writable with enough free space, that the
open file limit is sufficient, and that every configured model answers.

Exits non-zero when a required check fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openEmbedder(flags, logCLI)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			checker := preflight.New(
				preflight.WithModels(a.router),
				preflight.WithVerbose(verbose),
				preflight.WithOutput(cmd.OutOrStdout()),
			)
			results := checker.RunAll(cmd.Context(), a.cfg.DataDir)

			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), doctorOutput{
					Status:  checker.SummaryStatus(results),
					DataDir: a.cfg.DataDir,
					Checks:  results,
				}); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}

			if checker.HasCriticalFailures(results) {
				return ixerrors.New(ixerrors.ErrCodeInternal, "system check failed", nil)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show check details")

	return cmd
}
