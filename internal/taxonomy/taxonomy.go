// Package taxonomy loads the user's tag system (folder tag paths, flat
// content tags, status dimensions) and hands out immutable versioned
// snapshots. Components receive a snapshot per operation rather than
// reading shared state, so a reload mid-cycle cannot produce
// inconsistent suggestions within one run.
package taxonomy

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vaultsync/vaultsync/internal/detector"
)

// StatusDimension is one discrete state axis (e.g. priority, stage)
// with its allowed values.
type StatusDimension struct {
	Key         string   `yaml:"key" json:"key"`
	DisplayName string   `yaml:"display_name" json:"display_name"`
	Options     []string `yaml:"options" json:"options"`
	Default     string   `yaml:"default,omitempty" json:"default,omitempty"`
}

// Snapshot is an immutable view of the taxonomy at one point in time.
// Version is a fingerprint of the canonical encoding; two snapshots
// with equal Version are identical.
type Snapshot struct {
	Version          string            `json:"version"`
	FolderTags       []string          `yaml:"folder_tags" json:"folder_tags"`
	ContentTags      []string          `yaml:"content_tags" json:"content_tags"`
	StatusDimensions []StatusDimension `yaml:"status_dimensions" json:"status_dimensions"`
}

// Dimension returns the dimension with the given key, or nil.
func (s *Snapshot) Dimension(key string) *StatusDimension {
	for i := range s.StatusDimensions {
		if s.StatusDimensions[i].Key == key {
			return &s.StatusDimensions[i]
		}
	}
	return nil
}

// Loader reads the taxonomy file and serves snapshots. Reload swaps the
// current snapshot atomically; callers holding an older snapshot keep
// using it until their operation completes.
type Loader struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current *Snapshot
}

// NewLoader reads and validates the taxonomy at path. A malformed
// taxonomy is a fatal configuration error: the constructor fails and
// the process must not start with undefined tag semantics.
func NewLoader(path string, logger *slog.Logger) (*Loader, error) {
	l := &Loader{path: path, logger: logger}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Current returns the active snapshot.
func (l *Loader) Current() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Reload re-reads the taxonomy file and swaps the snapshot. On error
// the previous snapshot stays active.
func (l *Loader) Reload() error {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("reading taxonomy %s: %w", l.path, err)
	}
	snap, err := Parse(raw)
	if err != nil {
		return fmt.Errorf("taxonomy %s: %w", l.path, err)
	}

	l.mu.Lock()
	prev := l.current
	l.current = snap
	l.mu.Unlock()

	if prev == nil || prev.Version != snap.Version {
		l.logger.Info("taxonomy loaded", "version", snap.Version,
			"folder_tags", len(snap.FolderTags),
			"content_tags", len(snap.ContentTags),
			"status_dimensions", len(snap.StatusDimensions))
	}
	return nil
}

// Parse decodes and validates a YAML taxonomy document.
func Parse(raw []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("parsing taxonomy: %w", err)
	}
	if err := validate(&snap); err != nil {
		return nil, err
	}
	canonical, err := yaml.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding taxonomy: %w", err)
	}
	snap.Version = detector.Fingerprint(string(canonical))
	return &snap, nil
}

func validate(s *Snapshot) error {
	seen := make(map[string]bool)
	for _, p := range s.FolderTags {
		if p == "" {
			return fmt.Errorf("empty folder tag path")
		}
		if seen[p] {
			return fmt.Errorf("duplicate folder tag path %q", p)
		}
		seen[p] = true
	}
	seen = make(map[string]bool)
	for _, t := range s.ContentTags {
		if t == "" {
			return fmt.Errorf("empty content tag")
		}
		if seen[t] {
			return fmt.Errorf("duplicate content tag %q", t)
		}
		seen[t] = true
	}
	seen = make(map[string]bool)
	for i := range s.StatusDimensions {
		dim := &s.StatusDimensions[i]
		if dim.Key == "" {
			return fmt.Errorf("status dimension with empty key")
		}
		if seen[dim.Key] {
			return fmt.Errorf("duplicate status dimension %q", dim.Key)
		}
		seen[dim.Key] = true
		if len(dim.Options) == 0 {
			return fmt.Errorf("status dimension %q has no options", dim.Key)
		}
		if dim.Default != "" && !contains(dim.Options, dim.Default) {
			return fmt.Errorf("status dimension %q: default %q not in options", dim.Key, dim.Default)
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
