package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/assistsupport/kbsearch/internal/store"
)

// newStatsCmd creates the stats command.
func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show search statistics for the last 24 hours",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			st, err := store.NewPostgresStore(cfg.Store.DSN(), store.Options{
				EfSearch:     cfg.Store.EfSearch,
				MaxOpenConns: cfg.Store.MaxOpenConns,
				Logger:       slog.Default(),
			})
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Queries total:   %d\n", stats.QueriesTotal)
			fmt.Fprintf(out, "Queries (24h):   %d\n", stats.Queries24h)
			fmt.Fprintf(out, "Latency (24h):   avg=%.1fms p50=%.1fms p95=%.1fms p99=%.1fms\n",
				stats.Latency.Avg, stats.Latency.P50, stats.Latency.P95, stats.Latency.P99)
			if len(stats.IntentDistribution) > 0 {
				fmt.Fprintln(out, "Intents (24h):")
				for intent, count := range stats.IntentDistribution {
					fmt.Fprintf(out, "  %-12s %d\n", intent, count)
				}
			}
			if len(stats.FeedbackStats) > 0 {
				fmt.Fprintln(out, "Feedback (24h):")
				for rating, count := range stats.FeedbackStats {
					fmt.Fprintf(out, "  %-12s %d\n", rating, count)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output stats as JSON")
	return cmd
}
