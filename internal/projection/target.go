// Package projection writes approved entity state into the downstream
// stores (search index, knowledge graph). Targets are upsert-capable
// and idempotent: re-applying the same (entity, version) produces the
// same end state, so a partially-failed projection can be retried
// without creating duplicates or ghost entries.
package projection

import (
	"context"
	"time"

	"github.com/vaultsync/vaultsync/internal/models"
)

// Payload is the approved entity state handed to a target. Vector is
// populated for targets that index embeddings and ignored by the rest.
type Payload struct {
	EntityID  string
	Version   int64
	Title     string
	Content   string
	Source    string
	Tags      models.TagSet
	UpdatedAt time.Time
	Vector    []float32
}

// Target is one downstream store.
type Target interface {
	// Name identifies the target in logs and run statistics.
	Name() string

	// Upsert writes the payload keyed by entity id. Must be idempotent
	// for a given (entity id, version).
	Upsert(ctx context.Context, p Payload) error

	// Delete removes the entity from the target.
	Delete(ctx context.Context, entityID string) error

	// Close cleans up resources.
	Close() error
}
