package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	// DefaultItemTimeoutSeconds bounds processing of one item in a sync cycle.
	DefaultItemTimeoutSeconds = 30

	// DefaultSyncSchedule runs the full sync cycle every 15 minutes.
	DefaultSyncSchedule = "*/15 * * * *"
)

// Config holds all configuration for vaultsync.
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Vault    VaultConfig    `mapstructure:"vault"`
	Taxonomy TaxonomyConfig `mapstructure:"taxonomy"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Qdrant   QdrantConfig   `mapstructure:"qdrant"`
	Neo4j    Neo4jConfig    `mapstructure:"neo4j"`
	Ollama   OllamaConfig   `mapstructure:"ollama"`
	Claude   ClaudeConfig   `mapstructure:"claude"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	API      APIConfig      `mapstructure:"api"`
}

// StoreConfig holds system-of-record settings.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// VaultConfig holds markdown layer settings.
type VaultConfig struct {
	Dir   string `mapstructure:"dir"`
	Watch bool   `mapstructure:"watch"`
}

// TaxonomyConfig points at the tag vocabulary file.
type TaxonomyConfig struct {
	Path string `mapstructure:"path"`
}

// SourceConfig describes one external source to sync from.
type SourceConfig struct {
	Name     string `mapstructure:"name"`
	Kind     string `mapstructure:"kind"`
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
	Schedule string `mapstructure:"schedule"` // cron spec, empty = full-cycle schedule only
	Limit    int    `mapstructure:"limit"`    // max items per pull, 0 = unbounded
	Order    string `mapstructure:"order"`    // newest-first (default) or oldest-first
}

// SyncConfig holds orchestrator settings.
type SyncConfig struct {
	Schedule           string         `mapstructure:"schedule"`
	ItemTimeoutSeconds int            `mapstructure:"item_timeout_seconds"`
	Sources            []SourceConfig `mapstructure:"sources"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

// QdrantConfig holds search index connection settings.
type QdrantConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	GRPCPort   int    `mapstructure:"grpc_port"`
	Collection string `mapstructure:"collection"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

// Neo4jConfig holds knowledge graph connection settings.
type Neo4jConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// OllamaConfig holds embedding service settings.
type OllamaConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	Dimension uint64 `mapstructure:"dimension"`
}

// ClaudeConfig holds Anthropic Claude API settings for tag suggestions.
type ClaudeConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// String returns a safe representation of ClaudeConfig with the API key masked.
func (c ClaudeConfig) String() string {
	masked := maskAPIKey(c.APIKey)
	return fmt.Sprintf("ClaudeConfig{APIKey:%s, Model:%s}", masked, c.Model)
}

// maskAPIKey shows first 4 + last 4 chars, replacing the middle with asterisks.
func maskAPIKey(key string) string {
	const visible = 4
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("store.path", filepath.Join(homeDir(), ".vaultsync", "vaultsync.db"))

	v.SetDefault("vault.dir", filepath.Join(homeDir(), ".vaultsync", "vault"))
	v.SetDefault("vault.watch", true)

	v.SetDefault("taxonomy.path", filepath.Join(homeDir(), ".vaultsync", "taxonomy.yaml"))

	v.SetDefault("sync.schedule", DefaultSyncSchedule)
	v.SetDefault("sync.item_timeout_seconds", DefaultItemTimeoutSeconds)

	v.SetDefault("qdrant.enabled", true)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.grpc_port", 6334)
	v.SetDefault("qdrant.collection", "vaultsync_entities")
	v.SetDefault("qdrant.use_tls", false)

	v.SetDefault("neo4j.enabled", true)
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.database", "")

	v.SetDefault("ollama.enabled", true)
	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.model", "nomic-embed-text")
	v.SetDefault("ollama.dimension", 768)

	v.SetDefault("claude.model", "claude-haiku-4-5-20251001")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.auth_token", "")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(homeDir(), ".vaultsync"))
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("VAULTSYNC")
	v.AutomaticEnv()

	// Map specific env vars
	_ = v.BindEnv("claude.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("store.path", "VAULTSYNC_STORE_PATH")
	_ = v.BindEnv("vault.dir", "VAULTSYNC_VAULT_DIR")
	_ = v.BindEnv("qdrant.host", "VAULTSYNC_QDRANT_HOST")
	_ = v.BindEnv("qdrant.grpc_port", "VAULTSYNC_QDRANT_GRPC_PORT")
	_ = v.BindEnv("neo4j.uri", "VAULTSYNC_NEO4J_URI")
	_ = v.BindEnv("neo4j.password", "VAULTSYNC_NEO4J_PASSWORD")
	_ = v.BindEnv("ollama.base_url", "VAULTSYNC_OLLAMA_BASE_URL")
	_ = v.BindEnv("api.listen_addr", "VAULTSYNC_API_LISTEN_ADDR")
	_ = v.BindEnv("api.auth_token", "VAULTSYNC_API_AUTH_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK — use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are set and consistent.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Vault.Dir == "" {
		return fmt.Errorf("vault.dir must not be empty")
	}
	if c.Taxonomy.Path == "" {
		return fmt.Errorf("taxonomy.path must not be empty")
	}
	if c.Sync.Schedule == "" {
		return fmt.Errorf("sync.schedule must not be empty")
	}
	if c.Sync.ItemTimeoutSeconds <= 0 {
		return fmt.Errorf("sync.item_timeout_seconds must be greater than 0")
	}
	if c.Qdrant.Enabled {
		if c.Qdrant.Host == "" {
			return fmt.Errorf("qdrant.host must not be empty")
		}
		if c.Qdrant.Collection == "" {
			return fmt.Errorf("qdrant.collection must not be empty")
		}
	}
	if c.Neo4j.Enabled && c.Neo4j.URI == "" {
		return fmt.Errorf("neo4j.uri must not be empty")
	}
	if c.Ollama.Enabled {
		if c.Ollama.BaseURL == "" {
			return fmt.Errorf("ollama.base_url must not be empty")
		}
		if c.Ollama.Dimension == 0 {
			return fmt.Errorf("ollama.dimension must be greater than 0")
		}
	}
	seen := make(map[string]bool, len(c.Sync.Sources))
	for i := range c.Sync.Sources {
		s := c.Sync.Sources[i]
		if s.Name == "" {
			return fmt.Errorf("sync.sources[%d].name must not be empty", i)
		}
		if s.Name == "vault" {
			return fmt.Errorf("sync.sources[%d].name %q is reserved", i, s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("sync.sources: duplicate name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Limit < 0 {
			return fmt.Errorf("sync.sources[%d].limit must not be negative", i)
		}
		switch s.Order {
		case "", "newest-first", "oldest-first":
		default:
			return fmt.Errorf("sync.sources[%d].order must be newest-first or oldest-first, got %q", i, s.Order)
		}
	}
	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
