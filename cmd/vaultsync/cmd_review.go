package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vaultsync/vaultsync/internal/review"
)

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Inspect and disposition pending tag proposals",
	}
	cmd.AddCommand(
		reviewListCmd(),
		reviewShowCmd(),
		reviewApproveCmd(),
		reviewModifyCmd(),
		reviewRejectCmd(),
	)
	return cmd
}

func reviewListCmd() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			app, err := buildApp(ctx, logger)
			if err != nil {
				return fmt.Errorf("review list: %w", err)
			}
			defer app.Close()

			items, err := app.gate.Pending(ctx, limit, offset)
			if err != nil {
				return fmt.Errorf("review list: %w", err)
			}

			for i := range items {
				item := items[i]
				fmt.Printf("[%s] %s (%s)\n", item.ID, item.ObservedTitle, item.ObservedLayer)
				fmt.Printf("    entity: %s\n", item.EntityID)
				if !item.Suggestion.IsEmpty() {
					fmt.Printf("    suggested: folders=%s tags=%s\n",
						strings.Join(item.Suggestion.FolderTags, ","),
						strings.Join(item.Suggestion.ContentTags, ","))
				}
			}
			if len(items) == 0 {
				fmt.Println("Review queue is empty.")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	cmd.Flags().IntVar(&offset, "offset", 0, "results offset")
	return cmd
}

func reviewShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <proposal-id>",
		Short: "Show one proposal in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			app, err := buildApp(ctx, logger)
			if err != nil {
				return fmt.Errorf("review show: %w", err)
			}
			defer app.Close()

			item, err := app.gate.Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("review show: %w", err)
			}

			fmt.Printf("Proposal:   %s (%s)\n", item.ID, item.Status)
			fmt.Printf("Entity:     %s\n", item.EntityID)
			fmt.Printf("Layer:      %s\n", item.ObservedLayer)
			fmt.Printf("Title:      %s\n", item.ObservedTitle)
			fmt.Printf("Content:    %s\n", truncate(item.ObservedContent, 200))
			fmt.Printf("Folders:    %s\n", strings.Join(item.Suggestion.FolderTags, ", "))
			fmt.Printf("Tags:       %s\n", strings.Join(item.Suggestion.ContentTags, ", "))
			for dim, val := range item.Suggestion.Status {
				fmt.Printf("Status:     %s=%s\n", dim, val)
			}
			if item.Suggestion.Summary != "" {
				fmt.Printf("Summary:    %s\n", item.Suggestion.Summary)
			}
			for tag, conf := range item.Suggestion.Confidence {
				fmt.Printf("Confidence: %s %.2f\n", tag, conf)
			}
			return nil
		},
	}
	return cmd
}

func reviewApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <proposal-id>...",
		Short: "Approve proposals as suggested",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			app, err := buildApp(ctx, logger)
			if err != nil {
				return fmt.Errorf("review approve: %w", err)
			}
			defer app.Close()

			if len(args) == 1 {
				if err := app.gate.Approve(ctx, args[0]); err != nil {
					return fmt.Errorf("review approve: %w", err)
				}
				fmt.Printf("Approved %s\n", args[0])
				return nil
			}

			result := app.gate.BatchApprove(ctx, args)
			fmt.Printf("Approved %d of %d\n", len(result.Approved), len(args))
			for id, msg := range result.Failed {
				fmt.Printf("  failed %s: %s\n", id, msg)
			}
			return nil
		},
	}
	return cmd
}

func reviewModifyCmd() *cobra.Command {
	var folderTags, contentTags, statuses []string

	cmd := &cobra.Command{
		Use:   "modify <proposal-id>",
		Short: "Approve a proposal with corrected tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			app, err := buildApp(ctx, logger)
			if err != nil {
				return fmt.Errorf("review modify: %w", err)
			}
			defer app.Close()

			overrides := review.Overrides{}
			if cmd.Flags().Changed("folders") {
				overrides.FolderTags = folderTags
			}
			if cmd.Flags().Changed("tags") {
				overrides.ContentTags = contentTags
			}
			if len(statuses) > 0 {
				overrides.Status = make(map[string]string, len(statuses))
				for _, kv := range statuses {
					key, val, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("review modify: bad --status %q, want dimension=value", kv)
					}
					overrides.Status[key] = val
				}
			}

			if err := app.gate.Modify(ctx, args[0], overrides); err != nil {
				return fmt.Errorf("review modify: %w", err)
			}
			fmt.Printf("Modified and approved %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&folderTags, "folders", nil, "replacement folder tags")
	cmd.Flags().StringSliceVar(&contentTags, "tags", nil, "replacement content tags")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "status overrides as dimension=value")
	return cmd
}

func reviewRejectCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject <proposal-id>",
		Short: "Reject a proposal, leaving the entity's tags untouched",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			app, err := buildApp(ctx, logger)
			if err != nil {
				return fmt.Errorf("review reject: %w", err)
			}
			defer app.Close()

			if err := app.gate.Reject(ctx, args[0], reason); err != nil {
				return fmt.Errorf("review reject: %w", err)
			}
			fmt.Printf("Rejected %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why the suggestion was declined")
	return cmd
}
