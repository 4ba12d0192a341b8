// Package syncer pulls items from the configured layers, runs them
// through change detection, and routes the outcome: unchanged items are
// skipped, changed items go to the review gate (or straight to a
// version commit for auto-trusted entities with nothing to review), and
// conflicting items go to the conflict resolver.
package syncer

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/vaultsync/vaultsync/internal/models"
)

// ErrCreateUnsupported is returned by Create on adapters whose layer is
// read-only from this side.
var ErrCreateUnsupported = errors.New("adapter does not support creating items")

// Order controls how pulled items are sorted by modification time
// before a limit applies.
type Order string

const (
	// OrderNewestFirst favors recent edits when a pull is capped.
	OrderNewestFirst Order = "newest-first"
	// OrderOldestFirst drains a backlog front to back.
	OrderOldestFirst Order = "oldest-first"
)

// Valid reports whether o names a known ordering. Empty counts: it
// means the default.
func (o Order) Valid() bool {
	return o == "" || o == OrderNewestFirst || o == OrderOldestFirst
}

// PullOptions narrows what an adapter fetches.
type PullOptions struct {
	// Since limits the pull to items modified at or after this time.
	// Zero means everything.
	Since time.Time
	// Limit caps how many items one pull returns. Zero means unbounded.
	Limit int
	// Order decides which items survive the cap. Empty defaults to
	// OrderNewestFirst.
	Order Order
}

// Apply sorts items by UpdatedAt per the configured order and trims to
// the limit. Adapters whose backend cannot bound the fetch itself call
// this on the full result.
func (p PullOptions) Apply(items []SourceItem) []SourceItem {
	newestFirst := p.Order != OrderOldestFirst
	sort.SliceStable(items, func(i, j int) bool {
		if newestFirst {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].UpdatedAt.Before(items[j].UpdatedAt)
	})
	if p.Limit > 0 && len(items) > p.Limit {
		items = items[:p.Limit]
	}
	return items
}

// SourceItem is one item as observed in a layer during a pull.
type SourceItem struct {
	// EntityID is set when the item already identifies its entity
	// (e.g. a vault note carrying an id in its frontmatter). Empty for
	// external sources, which are matched by (source, SourceID).
	EntityID    string
	SourceID    string
	Title       string
	Content     string
	ContentType string
	// Tags holds tag state already present on the item, if the layer
	// stores any (vault frontmatter). Advisory only; tags still go
	// through the review gate.
	Tags      models.TagSet
	Metadata  map[string]any
	UpdatedAt time.Time
	// ParseError is set when the layer could not cleanly extract the
	// item (malformed frontmatter, missing feed id). The item still
	// reaches the review queue, with an empty suggestion, so the
	// reviewer sees it instead of it vanishing into a log line.
	ParseError string
}

// Adapter reads one layer. Pull must be read-only: adapters never write
// back to their layer during a sync cycle.
type Adapter interface {
	// Name identifies the adapter ("apple-notes", "vault", ...). For
	// source-layer adapters this is also the entity's Source value.
	Name() string
	// Layer is the layer this adapter observes.
	Layer() models.Layer
	Pull(ctx context.Context, opts PullOptions) ([]SourceItem, error)
	// Create pushes a new item into the layer and returns the id the
	// layer assigned. Best-effort: adapters over layers that cannot be
	// written from here return ErrCreateUnsupported, and callers must
	// not fail a cycle over it.
	Create(ctx context.Context, item SourceItem) (string, error)
}
