package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vaultsync/vaultsync/internal/models"
	"github.com/vaultsync/vaultsync/internal/store"
)

func entitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "Inspect tracked entities",
	}
	cmd.AddCommand(entitiesListCmd(), entitiesShowCmd())
	return cmd
}

func entitiesListCmd() *cobra.Command {
	var source, reviewStatus string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("entities list: %w", err)
			}
			defer func() { _ = st.Close() }()

			var filters *store.EntityFilters
			if source != "" || reviewStatus != "" {
				filters = &store.EntityFilters{
					Source:       source,
					ReviewStatus: models.ReviewStatus(reviewStatus),
				}
			}

			entities, err := st.ListEntities(ctx, filters, limit, 0)
			if err != nil {
				return fmt.Errorf("entities list: %w", err)
			}

			for i := range entities {
				e := entities[i]
				fmt.Printf("[%s] %s (v%d, %s)\n", e.ID, truncate(e.Title, 60), e.CurrentVersion, e.ReviewStatus)
				fmt.Printf("    source: %s | folders: %s | tags: %s\n",
					e.Source, strings.Join(e.Tags.FolderTags, ","), strings.Join(e.Tags.ContentTags, ","))
			}
			if len(entities) == 0 {
				fmt.Println("No entities found.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "filter by source")
	cmd.Flags().StringVar(&reviewStatus, "review-status", "", "filter by review status")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func entitiesShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <entity-id>",
		Short: "Show one entity with its sync checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("entities show: %w", err)
			}
			defer func() { _ = st.Close() }()

			e, err := st.GetEntity(ctx, args[0])
			if err != nil {
				return fmt.Errorf("entities show: %w", err)
			}

			fmt.Printf("Entity:       %s\n", e.ID)
			fmt.Printf("Title:        %s\n", e.Title)
			fmt.Printf("Source:       %s (%s)\n", e.Source, e.SourceID)
			fmt.Printf("Version:      %d\n", e.CurrentVersion)
			fmt.Printf("ReviewStatus: %s\n", e.ReviewStatus)
			fmt.Printf("VaultPath:    %s\n", e.VaultPath)
			fmt.Printf("Folders:      %s\n", strings.Join(e.Tags.FolderTags, ", "))
			fmt.Printf("Tags:         %s\n", strings.Join(e.Tags.ContentTags, ", "))
			for dim, val := range e.Tags.Status {
				fmt.Printf("Status:       %s=%s\n", dim, val)
			}
			fmt.Printf("Content:      %s\n", truncate(e.Content, 200))

			states, err := st.ListSyncStates(ctx, e.ID)
			if err != nil {
				return fmt.Errorf("entities show: %w", err)
			}
			for i := range states {
				s := states[i]
				fmt.Printf("Checkpoint:   %-6s %s (%s)\n", s.Layer, s.Fingerprint, s.Status)
			}
			return nil
		},
	}
	return cmd
}
