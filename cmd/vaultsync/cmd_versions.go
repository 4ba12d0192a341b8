package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vaultsync/vaultsync/internal/version"
)

func versionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "Inspect an entity's version ledger",
	}
	cmd.AddCommand(versionsListCmd(), versionsShowCmd(), versionsDiffCmd())
	return cmd
}

func versionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <entity-id>",
		Short: "List all versions of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("versions list: %w", err)
			}
			defer func() { _ = st.Close() }()

			versions, err := st.ListVersions(ctx, args[0])
			if err != nil {
				return fmt.Errorf("versions list: %w", err)
			}

			for i := range versions {
				v := versions[i]
				fmt.Printf("v%d  %s  [%s]  %s\n", v.VersionNumber,
					v.CreatedAt.Format("2006-01-02 15:04:05"), v.ChangeSource, v.ChangeSummary)
			}
			if len(versions) == 0 {
				fmt.Println("No versions found.")
			}
			return nil
		},
	}
	return cmd
}

func versionsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <entity-id> <number>",
		Short: "Show one version snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			n, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("versions show: bad version number %q", args[1])
			}

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("versions show: %w", err)
			}
			defer func() { _ = st.Close() }()

			v, err := st.GetVersion(ctx, args[0], n)
			if err != nil {
				return fmt.Errorf("versions show: %w", err)
			}

			fmt.Printf("Version:  v%d of %s\n", v.VersionNumber, v.EntityID)
			fmt.Printf("Created:  %s by %s\n", v.CreatedAt.Format("2006-01-02 15:04:05"), v.ChangeSource)
			fmt.Printf("Summary:  %s\n", v.ChangeSummary)
			fmt.Printf("Title:    %s\n", v.Title)
			fmt.Printf("Folders:  %s\n", strings.Join(v.TagsSnapshot.FolderTags, ", "))
			fmt.Printf("Tags:     %s\n", strings.Join(v.TagsSnapshot.ContentTags, ", "))
			for dim, val := range v.TagsSnapshot.Status {
				fmt.Printf("Status:   %s=%s\n", dim, val)
			}
			fmt.Printf("Content:\n%s\n", v.Content)
			return nil
		},
	}
	return cmd
}

func versionsDiffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <entity-id> <from> <to>",
		Short: "Compare two versions of an entity",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			from, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("versions diff: bad version number %q", args[1])
			}
			to, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("versions diff: bad version number %q", args[2])
			}

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("versions diff: %w", err)
			}
			defer func() { _ = st.Close() }()

			mgr := version.NewManager(st, nil, nil, logger)
			diff, err := mgr.DiffVersions(ctx, args[0], from, to)
			if err != nil {
				return fmt.Errorf("versions diff: %w", err)
			}

			fmt.Printf("v%d -> v%d of %s\n", from, to, args[0])
			fmt.Printf("  title:   %s\n", changed(diff.TitleChanged))
			fmt.Printf("  content: %s\n", changed(diff.ContentChanged))
			fmt.Printf("  tags:    %s\n", changed(diff.TagsChanged))
			return nil
		},
	}
	return cmd
}

func changed(b bool) string {
	if b {
		return "changed"
	}
	return "unchanged"
}
