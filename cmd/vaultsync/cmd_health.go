package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func healthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Verify the store, vault, taxonomy, and projection targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			// buildApp dials every configured dependency; reaching the
			// end means they all answered.
			app, err := buildApp(ctx, logger)
			if err != nil {
				fmt.Printf("UNHEALTHY: %v\n", err)
				return err
			}
			defer app.Close()

			fmt.Printf("store:    ok (%s)\n", cfg.Store.Path)
			fmt.Printf("vault:    ok (%s)\n", cfg.Vault.Dir)
			fmt.Printf("taxonomy: ok (version %s)\n", app.taxonomy.Current().Version)
			for i := range app.targets {
				fmt.Printf("%s:   ok\n", app.targets[i].Name())
			}
			if cfg.Claude.APIKey == "" {
				fmt.Println("suggest:  disabled (no API key)")
			} else {
				fmt.Println("suggest:  configured")
			}
			return nil
		},
	}
	return cmd
}
