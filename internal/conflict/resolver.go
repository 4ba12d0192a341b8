// Package conflict handles multi-layer divergence. A divergent version
// is never silently discarded: either the narrow compatible-change
// policy auto-resolves with a deterministic tie-break, or a conflict
// record is opened for manual resolution. Every observation stays
// inspectable, and resolution folds the chosen content into a new
// entity version so the losing side remains in the ledger.
package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vaultsync/vaultsync/internal/detector"
	"github.com/vaultsync/vaultsync/internal/metrics"
	"github.com/vaultsync/vaultsync/internal/models"
	"github.com/vaultsync/vaultsync/internal/store"
	"github.com/vaultsync/vaultsync/internal/version"
)

// ErrAlreadyResolved is returned when a resolution races with another
// resolver and loses.
var ErrAlreadyResolved = store.ErrAlreadyResolved

// Committer records the resolved content as a new version. Implemented
// by version.Manager.
type Committer interface {
	Commit(ctx context.Context, ch version.Change) (*models.EntityVersion, error)
}

// Resolver applies the conflict policy.
type Resolver struct {
	store     store.Store
	committer Committer
	logger    *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(st store.Store, committer Committer, logger *slog.Logger) *Resolver {
	return &Resolver{store: st, committer: committer, logger: logger}
}

// HandleDivergence is invoked when the change detector reports
// conflicting observations. Compatible divergence is auto-resolved
// latest-timestamp-wins; anything else opens an unresolved record
// and marks the entity's checkpoints conflicted.
func (r *Resolver) HandleDivergence(ctx context.Context, entityID string, observations []models.LayerObservation) (*models.ConflictRecord, error) {
	if len(observations) < 2 {
		return nil, fmt.Errorf("conflict %s: need at least two observations, got %d", entityID, len(observations))
	}

	if compatible(observations) {
		winner := latest(observations)
		overridden := layerList(observations, winner.Layer)
		r.logger.Info("auto-resolving compatible divergence",
			"entity", entityID, "winner", winner.Layer, "overridden", overridden)

		_, err := r.committer.Commit(ctx, version.Change{
			EntityID: entityID,
			Title:    winner.Title,
			Content:  winner.Content,
			Tags:     r.currentTags(ctx, entityID),
			Origin:   models.ChangeSourceSync,
			Summary:  fmt.Sprintf("auto-resolved divergence: %s superseded %s", winner.Layer, overridden),
			Actor:    models.ActorSourceSync,
		})
		if err != nil {
			return nil, fmt.Errorf("conflict %s: committing auto-resolution: %w", entityID, err)
		}
		r.syncDiverged(ctx, entityID, observations, winner)

		metrics.Inc(metrics.ConflictsAutoResolved)
		record := models.ConflictRecord{
			ID:           uuid.NewString(),
			EntityID:     entityID,
			Observations: observations,
			Status:       models.ResolutionAutomatic,
			Resolution:   fmt.Sprintf("latest-timestamp-wins: %s", winner.Layer),
			CreatedAt:    time.Now().UTC(),
			ResolvedAt:   time.Now().UTC(),
		}
		if err := r.store.CreateConflict(ctx, record); err != nil {
			return nil, fmt.Errorf("conflict %s: recording auto-resolution: %w", entityID, err)
		}
		return &record, nil
	}

	record := models.ConflictRecord{
		ID:           uuid.NewString(),
		EntityID:     entityID,
		Observations: observations,
		Status:       models.ResolutionUnresolved,
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.store.CreateConflict(ctx, record); err != nil {
		return nil, fmt.Errorf("conflict %s: opening record: %w", entityID, err)
	}

	for i := range observations {
		obs := observations[i]
		err := r.store.PutSyncState(ctx, models.SyncState{
			EntityID:    entityID,
			Layer:       obs.Layer,
			Fingerprint: obs.Fingerprint,
			Status:      models.SyncStatusConflict,
		})
		if err != nil {
			r.logger.Error("marking checkpoint conflicted",
				"entity", entityID, "layer", obs.Layer, "error", err)
		}
	}

	metrics.Inc(metrics.ConflictsOpened)
	r.logger.Warn("conflict escalated for manual resolution",
		"entity", entityID, "conflict", record.ID, "layers", layerList(observations, ""))
	return &record, nil
}

// Choice selects the outcome of a manual resolution: a winning layer,
// or custom content merged by the reviewer.
type Choice struct {
	Layer         models.Layer `json:"layer,omitempty"`
	CustomTitle   string       `json:"custom_title,omitempty"`
	CustomContent string       `json:"custom_content,omitempty"`
}

// Resolve folds a manual choice into a new entity version. The record
// moves to resolved-manual; both the retained and the overridden
// observations stay readable on the record and in the version ledger.
func (r *Resolver) Resolve(ctx context.Context, conflictID string, choice Choice) (*models.EntityVersion, error) {
	record, err := r.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, fmt.Errorf("resolving conflict %s: %w", conflictID, err)
	}
	if record.Status != models.ResolutionUnresolved {
		return nil, fmt.Errorf("resolving conflict %s: %w", conflictID, ErrAlreadyResolved)
	}

	title, content := choice.CustomTitle, choice.CustomContent
	resolution := "manual: custom content"
	overridden := layerList(record.Observations, "")
	if choice.Layer != "" {
		obs := record.Observation(choice.Layer)
		if obs == nil {
			return nil, fmt.Errorf("resolving conflict %s: layer %q not among observations", conflictID, choice.Layer)
		}
		title, content = obs.Title, obs.Content
		resolution = fmt.Sprintf("manual: %s", choice.Layer)
		overridden = layerList(record.Observations, choice.Layer)
	}

	if err := r.store.ResolveConflict(ctx, conflictID, models.ResolutionManual, resolution); err != nil {
		return nil, fmt.Errorf("resolving conflict %s: %w", conflictID, err)
	}

	v, err := r.committer.Commit(ctx, version.Change{
		EntityID: record.EntityID,
		Title:    title,
		Content:  content,
		Tags:     r.currentTags(ctx, record.EntityID),
		Origin:   models.ChangeSourceManual,
		Summary:  fmt.Sprintf("conflict resolved (%s), overriding %s", resolution, overridden),
		Actor:    models.ActorUser,
	})
	if err != nil {
		return nil, fmt.Errorf("resolving conflict %s: committing: %w", conflictID, err)
	}

	fp := detector.Fingerprint(content)
	for i := range record.Observations {
		obs := record.Observations[i]
		status := models.SyncStatusSynced
		if obs.Fingerprint != fp {
			// The layer still holds its losing copy; write-back is
			// best-effort, so it stays pending until the next sync.
			status = models.SyncStatusPending
		}
		err := r.store.PutSyncState(ctx, models.SyncState{
			EntityID:     record.EntityID,
			Layer:        obs.Layer,
			Fingerprint:  fp,
			Status:       status,
			LastSyncedAt: time.Now().UTC(),
		})
		if err != nil {
			r.logger.Error("updating checkpoint after resolution",
				"entity", record.EntityID, "layer", obs.Layer, "error", err)
		}
	}

	r.logger.Info("conflict resolved manually",
		"conflict", conflictID, "entity", record.EntityID, "resolution", resolution)
	return v, nil
}

// Unresolved lists open conflict records.
func (r *Resolver) Unresolved(ctx context.Context) ([]models.ConflictRecord, error) {
	return r.store.ListUnresolvedConflicts(ctx)
}

// compatible reports whether the divergent contents can be merged
// without losing information: equal after normalization, or one side a
// strict superset of every other. Status-dimension-only divergence
// arrives as equal content and lands here too.
func compatible(observations []models.LayerObservation) bool {
	longest := observations[0]
	for i := 1; i < len(observations); i++ {
		if len(observations[i].Content) > len(longest.Content) {
			longest = observations[i]
		}
	}
	for i := range observations {
		obs := observations[i]
		if obs.Fingerprint == longest.Fingerprint {
			continue
		}
		if !strings.Contains(longest.Content, strings.TrimSpace(obs.Content)) {
			return false
		}
	}
	return true
}

// latest picks the winner for the deterministic tie-break: newest
// observation timestamp, layer name as a stable secondary key.
func latest(observations []models.LayerObservation) models.LayerObservation {
	sorted := append([]models.LayerObservation(nil), observations...)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].ObservedAt.Equal(sorted[j].ObservedAt) {
			return sorted[i].ObservedAt.After(sorted[j].ObservedAt)
		}
		return sorted[i].Layer < sorted[j].Layer
	})

	// Prefer the superset: when the newest observation is contained in
	// an older, longer one, the longer one carries all the information.
	winner := sorted[0]
	for i := range sorted {
		if strings.Contains(sorted[i].Content, strings.TrimSpace(winner.Content)) &&
			len(sorted[i].Content) > len(winner.Content) {
			winner = sorted[i]
		}
	}
	return winner
}

func (r *Resolver) currentTags(ctx context.Context, entityID string) models.TagSet {
	entity, err := r.store.GetEntity(ctx, entityID)
	if err != nil {
		r.logger.Warn("loading current tags", "entity", entityID, "error", err)
		return models.TagSet{}
	}
	return entity.Tags.Clone()
}

func (r *Resolver) syncDiverged(ctx context.Context, entityID string, observations []models.LayerObservation, winner models.LayerObservation) {
	for i := range observations {
		obs := observations[i]
		status := models.SyncStatusSynced
		if obs.Fingerprint != winner.Fingerprint {
			status = models.SyncStatusPending
		}
		err := r.store.PutSyncState(ctx, models.SyncState{
			EntityID:     entityID,
			Layer:        obs.Layer,
			Fingerprint:  winner.Fingerprint,
			Status:       status,
			LastSyncedAt: time.Now().UTC(),
		})
		if err != nil {
			r.logger.Error("updating checkpoint after auto-resolution",
				"entity", entityID, "layer", obs.Layer, "error", err)
		}
	}
}

func layerList(observations []models.LayerObservation, except models.Layer) string {
	var names []string
	for i := range observations {
		if observations[i].Layer == except {
			continue
		}
		names = append(names, string(observations[i].Layer))
	}
	return strings.Join(names, ",")
}
