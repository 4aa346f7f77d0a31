package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/assistsupport/kbsearch/internal/feedback"
	"github.com/assistsupport/kbsearch/internal/store"
)

// newFeedbackCmd creates the feedback command group.
func newFeedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Feedback loop operations",
	}
	cmd.AddCommand(newFeedbackAggregateCmd())
	return cmd
}

// newFeedbackAggregateCmd creates the feedback aggregate command.
func newFeedbackAggregateCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Recompute article quality scores from accumulated feedback",
		Long: `Aggregate all stored feedback and update per-article quality
scores. Articles need at least 3 feedback entries before their score moves.
Runs once by default; with --interval it keeps running until interrupted.`,
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

			agg := feedback.NewAggregator(st, slog.Default())
			runOnce := func() error {
				updated, err := agg.Run(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %d article quality scores\n", updated)
				return nil
			}

			if err := runOnce(); err != nil || interval <= 0 {
				return err
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
					if err := runOnce(); err != nil {
						return err
					}
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0,
		"Re-run aggregation on this interval (0 runs once)")
	return cmd
}
