// Package suggest produces advisory tag suggestions for entity content.
// Suggestions are never applied directly; every one goes through the
// review gate before it can touch an entity or a downstream store.
package suggest

import (
	"context"

	"github.com/vaultsync/vaultsync/internal/models"
	"github.com/vaultsync/vaultsync/internal/taxonomy"
)

// Suggester proposes tags for a piece of content. The taxonomy snapshot
// is injected per call so that a mid-cycle taxonomy reload cannot
// produce inconsistent suggestions within one run.
type Suggester interface {
	Suggest(ctx context.Context, title, content string, tax *taxonomy.Snapshot) (models.Suggestion, error)
}

// Static is a Suggester that always returns the same suggestion. Used
// as a fallback when no LLM is configured, and in tests.
type Static struct {
	Suggestion models.Suggestion
	Err        error
}

func (s *Static) Suggest(_ context.Context, _, _ string, _ *taxonomy.Snapshot) (models.Suggestion, error) {
	return s.Suggestion, s.Err
}
