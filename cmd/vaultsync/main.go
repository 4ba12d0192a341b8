package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/conflict"
	"github.com/vaultsync/vaultsync/internal/detector"
	"github.com/vaultsync/vaultsync/internal/embedder"
	"github.com/vaultsync/vaultsync/internal/projection"
	"github.com/vaultsync/vaultsync/internal/review"
	"github.com/vaultsync/vaultsync/internal/store"
	"github.com/vaultsync/vaultsync/internal/suggest"
	"github.com/vaultsync/vaultsync/internal/syncer"
	"github.com/vaultsync/vaultsync/internal/taxonomy"
	"github.com/vaultsync/vaultsync/internal/vault"
	"github.com/vaultsync/vaultsync/internal/version"
)

var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:   "vaultsync",
		Short: "vaultsync — cross-layer sync and review gate for a personal knowledge base",
		Long:  "vaultsync ingests items from external sources into a markdown vault, stages tag suggestions for human review, and projects approved state into search and graph indexes with full version history.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		syncCmd(),
		reviewCmd(),
		entitiesCmd(),
		versionsCmd(),
		timelineCmd(),
		conflictsCmd(),
		statsCmd(),
		healthCmd(),
		reprojectCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil && cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg != nil && cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newStore(logger *slog.Logger) (store.Store, error) {
	return store.NewSQLiteStore(cfg.Store.Path, logger)
}

// app is the fully wired component graph. Commands that disposition
// proposals or run sync cycles need all of it; read-only commands open
// just the store.
type app struct {
	store    store.Store
	vault    *vault.Vault
	taxonomy *taxonomy.Loader
	targets  []projection.Target
	versions *version.Manager
	gate     *review.Gate
	resolver *conflict.Resolver
	orch     *syncer.Orchestrator
}

func buildApp(ctx context.Context, logger *slog.Logger) (*app, error) {
	st, err := newStore(logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	v, err := vault.New(cfg.Vault.Dir, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("opening vault: %w", err)
	}

	tax, err := taxonomy.NewLoader(cfg.Taxonomy.Path, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("loading taxonomy: %w", err)
	}

	var targets []projection.Target
	if cfg.Qdrant.Enabled {
		qt, err := projection.NewQdrantTarget(cfg.Qdrant.Host, cfg.Qdrant.GRPCPort,
			cfg.Qdrant.Collection, cfg.Ollama.Dimension, cfg.Qdrant.UseTLS, logger)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("connecting to qdrant: %w", err)
		}
		if err := qt.EnsureCollection(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("preparing qdrant collection: %w", err)
		}
		targets = append(targets, qt)
	}
	if cfg.Neo4j.Enabled {
		nt, err := projection.NewNeo4jTarget(cfg.Neo4j.URI, cfg.Neo4j.Username,
			cfg.Neo4j.Password, cfg.Neo4j.Database, logger)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("connecting to neo4j: %w", err)
		}
		targets = append(targets, nt)
	}

	var emb embedder.Embedder
	if cfg.Ollama.Enabled {
		emb = embedder.NewOllamaEmbedder(cfg.Ollama.BaseURL, cfg.Ollama.Model,
			int(cfg.Ollama.Dimension), logger)
	}

	versions := version.NewManager(st, targets, emb, logger)
	gate := review.NewGate(st, versions, v, logger)
	resolver := conflict.NewResolver(st, versions, logger)
	det := detector.New(st, logger)

	var suggester suggest.Suggester
	if cfg.Claude.APIKey != "" {
		suggester = suggest.NewClaudeSuggester(cfg.Claude.APIKey, cfg.Claude.Model, logger)
	} else {
		logger.Warn("no Anthropic API key configured; tag suggestions disabled")
	}

	orch := syncer.NewOrchestrator(st, det, suggester, tax, gate, resolver, versions, logger)
	orch.SetItemTimeout(time.Duration(cfg.Sync.ItemTimeoutSeconds) * time.Second)
	orch.Register(v)
	for i := range cfg.Sync.Sources {
		src := cfg.Sync.Sources[i]
		orch.Register(syncer.NewHTTPSource(src.Name, src.Endpoint, src.Token, logger))
		if src.Limit > 0 || src.Order != "" {
			orch.SetPullPolicy(src.Name, src.Limit, syncer.Order(src.Order))
		}
	}

	return &app{
		store:    st,
		vault:    v,
		taxonomy: tax,
		targets:  targets,
		versions: versions,
		gate:     gate,
		resolver: resolver,
		orch:     orch,
	}, nil
}

func (a *app) Close() {
	for i := range a.targets {
		if err := a.targets[i].Close(); err != nil {
			fmt.Fprintf(os.Stderr, "closing %s: %v\n", a.targets[i].Name(), err)
		}
	}
	_ = a.store.Close()
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return s
}
