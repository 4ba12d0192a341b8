package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultsync/vaultsync/internal/api"
	"github.com/vaultsync/vaultsync/internal/syncer"
	"github.com/vaultsync/vaultsync/internal/vault"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync scheduler, vault watcher, and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			app, err := buildApp(ctx, logger)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer app.Close()

			sched := syncer.NewScheduler(app.orch, logger)
			if err := sched.AddFullCycle(cfg.Sync.Schedule); err != nil {
				return fmt.Errorf("serve: bad sync schedule %q: %w", cfg.Sync.Schedule, err)
			}
			for i := range cfg.Sync.Sources {
				src := cfg.Sync.Sources[i]
				if src.Schedule == "" {
					continue
				}
				if err := sched.AddAdapter(src.Name, src.Schedule); err != nil {
					return fmt.Errorf("serve: bad schedule for source %s: %w", src.Name, err)
				}
			}
			sched.Start()
			defer sched.Stop()

			if cfg.Vault.Watch {
				watcher := vault.NewWatcher(app.vault, func() {
					runCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
					defer cancel()
					if _, err := app.orch.RunAdapter(runCtx, vault.AdapterName); err != nil &&
						!errors.Is(err, syncer.ErrSyncRunning) {
						logger.Error("vault-triggered sync failed", "error", err)
					}
				}, logger)
				go func() {
					if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						logger.Error("vault watcher stopped", "error", err)
					}
				}()
			}

			srv := api.NewServer(app.store, app.gate, app.orch, app.versions, app.resolver, logger, cfg.API.AuthToken)

			if cfg.API.AuthToken == "" {
				logger.Warn("HTTP API: auth is DISABLED; set VAULTSYNC_API_AUTH_TOKEN or api.auth_token for production use")
			}

			httpSrv := &http.Server{
				Addr:              cfg.API.ListenAddr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("HTTP API server starting", "addr", cfg.API.ListenAddr)
				if listenErr := httpSrv.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
					errCh <- fmt.Errorf("serve: HTTP server: %w", listenErr)
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
			case startErr := <-errCh:
				if startErr != nil {
					return startErr
				}
				return nil
			}

			const shutdownTimeout = 10 * time.Second
			if shutdownErr := api.Shutdown(httpSrv, shutdownTimeout); shutdownErr != nil {
				return fmt.Errorf("serve: graceful shutdown: %w", shutdownErr)
			}

			// Drain the errCh in case ListenAndServe returned after Shutdown.
			if startErr := <-errCh; startErr != nil {
				return startErr
			}

			return nil
		},
	}
	return cmd
}
