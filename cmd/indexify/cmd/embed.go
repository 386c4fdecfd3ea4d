package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

type embedOutput struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

func newEmbedCmd(flags *globalFlags) *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "embed [text...]",
		Short: "Embed texts and print the vectors as JSON",
		Example: `  # One vector per argument
  indexify embed --model static "first text" "second text"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openEmbedder(flags, logCLI)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if model == "" {
				names := a.router.ListModels()
				if len(names) == 0 {
					return fmt.Errorf("no embedding models configured")
				}
				model = names[0]
			}

			vectors, err := a.router.GenerateEmbeddings(cmd.Context(), args, model)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(embedOutput{Model: model, Embeddings: vectors})
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Embedding model (default: first configured)")

	return cmd
}
