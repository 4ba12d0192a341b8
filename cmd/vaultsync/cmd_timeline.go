package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func timelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline <entity-id>",
		Short: "Show an entity's status transition history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("timeline: %w", err)
			}
			defer func() { _ = st.Close() }()

			entries, err := st.ListTimeline(ctx, args[0])
			if err != nil {
				return fmt.Errorf("timeline: %w", err)
			}

			for i := range entries {
				e := entries[i]
				from := e.OldValue
				if from == "" {
					from = "(unset)"
				}
				fmt.Printf("%s  %s: %s -> %s  (by %s)\n",
					e.ChangedAt.Format("2006-01-02 15:04:05"), e.Dimension, from, e.NewValue, e.Actor)
				if e.Note != "" {
					fmt.Printf("    %s\n", e.Note)
				}
			}
			if len(entries) == 0 {
				fmt.Println("No status transitions recorded.")
			}
			return nil
		},
	}
	return cmd
}
