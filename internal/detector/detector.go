// Package detector computes content fingerprints and decides whether a
// layer's copy of an entity has drifted from its sync checkpoint.
package detector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vaultsync/vaultsync/internal/models"
	"github.com/vaultsync/vaultsync/internal/store"
)

// fingerprintLen is the number of hex characters kept from the sha256
// digest. 128 bits is plenty for drift detection.
const fingerprintLen = 32

// Fingerprint returns a deterministic content hash over normalized
// content. Normalization strips the byte-level noise that editors and
// transports introduce (CRLF, trailing whitespace) so that a round-trip
// through another layer does not register as a change.
func Fingerprint(content string) string {
	normalized := normalize(content)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

func normalize(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Result classifies the outcome of a drift check.
type Result string

const (
	ResultUnchanged   Result = "unchanged"
	ResultChanged     Result = "changed"
	ResultConflicting Result = "conflicting"
)

// Outcome is the full result of a Detect call. Diverged holds the
// observations whose fingerprint disagreed with their checkpoint, in
// the order they were passed in.
type Outcome struct {
	Result   Result
	Diverged []models.LayerObservation
}

// Detector compares layer observations to sync checkpoints. It is
// read-only and idempotent; it never mutates SyncState.
type Detector struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a Detector.
func New(st store.Store, logger *slog.Logger) *Detector {
	return &Detector{store: st, logger: logger}
}

// Detect fingerprints each observation and diffs it against the
// (entity, layer) checkpoint.
//
//   - every observation matches its checkpoint: unchanged
//   - exactly one layer drifted, or several drifted but agree with each
//     other: changed
//   - two or more layers drifted with disagreeing content: conflicting
//
// An observation with no prior checkpoint counts as drifted (first
// observation is a creation).
func (d *Detector) Detect(ctx context.Context, entityID string, observations []models.LayerObservation) (*Outcome, error) {
	if len(observations) == 0 {
		return nil, fmt.Errorf("detect %s: no observations", entityID)
	}

	var diverged []models.LayerObservation
	for i := range observations {
		obs := observations[i]
		if !obs.Layer.IsValid() {
			return nil, fmt.Errorf("detect %s: unknown layer %q", entityID, obs.Layer)
		}
		if obs.Fingerprint == "" {
			obs.Fingerprint = Fingerprint(obs.Content)
		}

		state, err := d.store.GetSyncState(ctx, entityID, obs.Layer)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// First observation of this layer.
			diverged = append(diverged, obs)
			continue
		case err != nil:
			return nil, fmt.Errorf("detect %s: loading checkpoint for %s: %w", entityID, obs.Layer, err)
		}

		if state.Fingerprint != obs.Fingerprint {
			diverged = append(diverged, obs)
		}
	}

	switch {
	case len(diverged) == 0:
		return &Outcome{Result: ResultUnchanged}, nil
	case len(diverged) == 1:
		return &Outcome{Result: ResultChanged, Diverged: diverged}, nil
	}

	// Multiple layers drifted. If their contents agree with each other
	// this is still a plain change; independent disagreeing edits are a
	// conflict the resolver must see.
	first := diverged[0].Fingerprint
	for i := 1; i < len(diverged); i++ {
		if diverged[i].Fingerprint != first {
			d.logger.Warn("divergent layers disagree",
				"entity", entityID, "layers", layerNames(diverged))
			return &Outcome{Result: ResultConflicting, Diverged: diverged}, nil
		}
	}
	return &Outcome{Result: ResultChanged, Diverged: diverged}, nil
}

func layerNames(obs []models.LayerObservation) []string {
	names := make([]string, len(obs))
	for i := range obs {
		names[i] = string(obs[i].Layer)
	}
	return names
}
