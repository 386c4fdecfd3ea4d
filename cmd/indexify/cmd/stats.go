package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
	"github.com/Aman-CERP/indexify/internal/output"
	"github.com/Aman-CERP/indexify/internal/telemetry"
)

func newIndexStatsCmd(flags *globalFlags) *cobra.Command {
	var (
		jsonOutput bool
		top        int
	)

	cmd := &cobra.Command{
		Use:   "stats NAME",
		Short: "Show search statistics of an index",
		Long: `Show how an index has been searched: query count, zero-result queries,
latency distribution and the most frequent query terms.

Statistics are recorded locally unless telemetry is disabled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDataDir(cmd.Context(), flags, func(a *app) error {
				stats, err := a.indexes.IndexStats(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if stats == nil {
					return ixerrors.IndexNotFound(args[0])
				}
				if top >= 0 && len(stats.TopTerms) > top {
					stats.TopTerms = stats.TopTerms[:top]
				}
				if top >= 0 && len(stats.ZeroResultQueries) > top {
					stats.ZeroResultQueries = stats.ZeroResultQueries[:top]
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), stats)
				}

				out := output.New(cmd.OutOrStdout())
				if a.cfg.Telemetry.Disabled {
					out.Warning("Telemetry is disabled; showing previously recorded statistics")
				}
				printStats(out, stats)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&top, "top", 10, "Number of terms and zero-result queries to show (-1 for all)")

	return cmd
}

func printStats(out *output.Writer, s *telemetry.Stats) {
	out.Header(s.Index)
	if s.TotalQueries == 0 {
		out.Status("", "No searches recorded")
		return
	}
	out.Field("Searches", s.TotalQueries)
	out.Field("Since", s.FirstDay)
	out.Field("Zero results", fmt.Sprintf("%d (%.1f%%)", s.ZeroResultCount, s.ZeroResultPercentage()))
	out.Field("Repeats", fmt.Sprintf("%d (%.1f%%)", s.RepeatCount, s.RepeatPercentage()))

	out.Newline()
	rows := make([][]string, 0, len(telemetry.LatencyBuckets()))
	for _, b := range telemetry.LatencyBuckets() {
		rows = append(rows, []string{string(b), strconv.FormatInt(s.LatencyDistribution[b], 10)})
	}
	out.Table([]string{"LATENCY", "SEARCHES"}, rows)

	if len(s.TopTerms) > 0 {
		out.Newline()
		rows = rows[:0]
		for _, tc := range s.TopTerms {
			rows = append(rows, []string{tc.Term, strconv.FormatInt(tc.Count, 10)})
		}
		out.Table([]string{"TERM", "COUNT"}, rows)
	}

	if len(s.ZeroResultQueries) > 0 {
		out.Newline()
		out.Status("", "Recent zero-result queries:")
		for _, q := range s.ZeroResultQueries {
			out.Statusf("", "  %s  %s", q.At.Local().Format("2006-01-02 15:04"), q.Query)
		}
	}
}
