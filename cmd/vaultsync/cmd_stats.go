package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show review queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer func() { _ = st.Close() }()

			stats, err := st.ReviewStats(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			fmt.Printf("Pending:  %d\n", stats.Pending)
			fmt.Printf("Approved: %d\n", stats.Approved)
			fmt.Printf("Modified: %d\n", stats.Modified)
			fmt.Printf("Rejected: %d\n", stats.Rejected)
			fmt.Printf("Total:    %d\n", stats.Total)
			if reviewed := stats.Approved + stats.Modified + stats.Rejected; reviewed > 0 {
				fmt.Printf("Accepted as suggested: %.0f%%\n", 100*float64(stats.Approved)/float64(reviewed))
			}
			return nil
		},
	}
	return cmd
}
