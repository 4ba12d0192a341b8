package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultsync/vaultsync/internal/syncer"
)

func syncCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle now",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			app, err := buildApp(ctx, logger)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			defer app.Close()

			var stats *syncer.RunStats
			if source == "" {
				stats, err = app.orch.Run(ctx)
			} else {
				stats, err = app.orch.RunAdapter(ctx, source)
			}
			if err != nil {
				if errors.Is(err, syncer.ErrSyncRunning) {
					fmt.Println("A sync cycle is already running.")
					return nil
				}
				return fmt.Errorf("sync: %w", err)
			}

			fmt.Printf("Sync complete (%s): %d created, %d updated, %d proposed for review, %d skipped, %d conflicts, %d failed\n",
				stats.Scope, stats.Created, stats.Updated, stats.Proposed, stats.Skipped, stats.Conflicts, stats.Failed)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "sync a single source or 'vault' (default: all)")
	return cmd
}

func reprojectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reproject",
		Short: "Retry projection for entities whose index is behind",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			app, err := buildApp(ctx, logger)
			if err != nil {
				return fmt.Errorf("reproject: %w", err)
			}
			defer app.Close()

			retried, failed, err := app.versions.Reproject(ctx)
			if err != nil {
				return fmt.Errorf("reproject: %w", err)
			}
			fmt.Printf("Reprojected %d entities, %d still failing\n", retried, failed)
			return nil
		},
	}
	return cmd
}
