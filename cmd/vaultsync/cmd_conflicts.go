package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultsync/vaultsync/internal/conflict"
	"github.com/vaultsync/vaultsync/internal/models"
)

func conflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Inspect and resolve cross-layer conflicts",
	}
	cmd.AddCommand(conflictsListCmd(), conflictsResolveCmd())
	return cmd
}

func conflictsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List unresolved conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("conflicts list: %w", err)
			}
			defer func() { _ = st.Close() }()

			conflicts, err := st.ListUnresolvedConflicts(ctx)
			if err != nil {
				return fmt.Errorf("conflicts list: %w", err)
			}

			for i := range conflicts {
				c := conflicts[i]
				fmt.Printf("[%s] entity %s (%s)\n", c.ID, c.EntityID,
					c.CreatedAt.Format("2006-01-02 15:04:05"))
				for j := range c.Observations {
					obs := c.Observations[j]
					fmt.Printf("    %-6s %s  %s\n", obs.Layer, obs.Fingerprint, truncate(obs.Content, 80))
				}
			}
			if len(conflicts) == 0 {
				fmt.Println("No unresolved conflicts.")
			}
			return nil
		},
	}
	return cmd
}

func conflictsResolveCmd() *cobra.Command {
	var layer, content, title string

	cmd := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Resolve a conflict by choosing a layer or supplying merged content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			if layer == "" && content == "" {
				return fmt.Errorf("conflicts resolve: --layer or --content is required")
			}

			app, err := buildApp(ctx, logger)
			if err != nil {
				return fmt.Errorf("conflicts resolve: %w", err)
			}
			defer app.Close()

			choice := conflict.Choice{
				Layer:         models.Layer(layer),
				CustomTitle:   title,
				CustomContent: content,
			}
			v, err := app.resolver.Resolve(ctx, args[0], choice)
			if err != nil {
				return fmt.Errorf("conflicts resolve: %w", err)
			}

			fmt.Printf("Resolved %s as v%d of entity %s\n", args[0], v.VersionNumber, v.EntityID)
			return nil
		},
	}

	cmd.Flags().StringVar(&layer, "layer", "", "winning layer (source, vault, index)")
	cmd.Flags().StringVar(&content, "content", "", "merged content to keep instead of a layer")
	cmd.Flags().StringVar(&title, "title", "", "title to keep with --content")
	return cmd
}
