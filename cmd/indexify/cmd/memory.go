package cmd

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexify/internal/memory"
	"github.com/Aman-CERP/indexify/internal/output"
)

func newMemoryCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and prune conversational memory sessions",
	}

	cmd.AddCommand(newMemoryListCmd(flags))
	cmd.AddCommand(newMemoryShowCmd(flags))
	cmd.AddCommand(newMemoryDeleteCmd(flags))
	cmd.AddCommand(newMemoryPruneCmd(flags))

	return cmd
}

func newMemoryListCmd(flags *globalFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDataDir(cmd.Context(), flags, func(a *app) error {
				infos := a.memory.List()
				if jsonOutput {
					if infos == nil {
						infos = []memory.Info{}
					}
					return writeJSON(cmd.OutOrStdout(), infos)
				}

				out := output.New(cmd.OutOrStdout())
				if len(infos) == 0 {
					out.Status("", "No sessions.")
					return nil
				}
				rows := make([][]string, len(infos))
				for i, s := range infos {
					rows[i] = []string{s.ID, string(s.Policy), strconv.Itoa(s.Messages), s.UpdatedAt.Local().Format(time.DateTime)}
				}
				out.Table([]string{"ID", "POLICY", "MESSAGES", "UPDATED"}, rows)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newMemoryShowCmd(flags *globalFlags) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Print the messages a session returns",
		Long: `Print the messages a retrieve call returns for the session, oldest first.
With --all the whole stored history is printed regardless of the window.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDataDir(cmd.Context(), flags, func(a *app) error {
				var msgs []memory.Message
				if all {
					sess, err := a.memory.Get(args[0])
					if err != nil {
						return err
					}
					msgs = sess.Messages
				} else {
					var err error
					msgs, err = a.memory.Retrieve(args[0])
					if err != nil {
						return err
					}
				}

				out := output.New(cmd.OutOrStdout())
				for _, m := range msgs {
					out.Field(m.Role, m.Text)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Print the full history")

	return cmd
}

func newMemoryDeleteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDataDir(cmd.Context(), flags, func(a *app) error {
				if err := a.memory.Delete(args[0]); err != nil {
					return err
				}
				output.New(cmd.OutOrStdout()).Successf("Deleted session %s", args[0])
				return nil
			})
		},
	}
}

func newMemoryPruneCmd(flags *globalFlags) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:     "prune",
		Short:   "Delete sessions not updated recently",
		Example: `  indexify memory prune --older-than 720h`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDataDir(cmd.Context(), flags, func(a *app) error {
				n := a.memory.Prune(olderThan)
				output.New(cmd.OutOrStdout()).Successf("Pruned %d session(s)", n)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age after the last update")

	return cmd
}
