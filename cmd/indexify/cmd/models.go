package cmd

import (
	"encoding/json"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexify/internal/output"
)

func newModelsCmd(flags *globalFlags) *cobra.Command {
	var (
		jsonOutput bool
		check      bool
	)

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List configured embedding models",
		Example: `  # List models and whether their providers answer
  indexify models --check`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openEmbedder(flags, logCLI)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			models := a.router.Models()
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(models)
			}

			out := output.New(cmd.OutOrStdout())
			if len(models) == 0 {
				out.Warning("No embedding models configured")
				return nil
			}

			headers := []string{"MODEL", "DIMENSIONS"}
			if check {
				headers = append(headers, "STATUS")
			}
			rows := make([][]string, 0, len(models))
			for _, m := range models {
				row := []string{m.Name, strconv.Itoa(m.Dimensions)}
				if check {
					status := "unavailable"
					if a.router.Available(cmd.Context(), m.Name) {
						status = "ok"
					}
					row = append(row, status)
				}
				rows = append(rows, row)
			}
			out.Table(headers, rows)
			out.Newline()
			out.Statusf("", "%d model(s)", len(models))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&check, "check", false, "Probe each provider")

	return cmd
}
