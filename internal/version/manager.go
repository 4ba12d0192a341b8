// Package version owns version numbering and the projection of
// accepted changes into downstream stores. It is the single authority
// for an entity's version counter: allocation happens inside a
// per-entity exclusive region so concurrent writers can never be
// assigned the same number.
package version

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vaultsync/vaultsync/internal/detector"
	"github.com/vaultsync/vaultsync/internal/embedder"
	"github.com/vaultsync/vaultsync/internal/metrics"
	"github.com/vaultsync/vaultsync/internal/models"
	"github.com/vaultsync/vaultsync/internal/projection"
	"github.com/vaultsync/vaultsync/internal/store"
)

// Change is one accepted mutation of an entity: a review approval, a
// conflict resolution, or a direct edit.
type Change struct {
	EntityID     string
	Title        string
	Content      string
	Tags         models.TagSet
	Origin       models.ChangeSource
	Summary      string
	Actor        models.Actor
	Metadata     map[string]any
	ReviewStatus models.ReviewStatus // empty = keep
}

// Manager is the version manager and projection applier.
type Manager struct {
	store    store.Store
	targets  []projection.Target
	embedder embedder.Embedder // nil disables vectors
	logger   *slog.Logger
	locks    *entityLocks
}

// NewManager creates a Manager projecting to the given targets.
func NewManager(st store.Store, targets []projection.Target, emb embedder.Embedder, logger *slog.Logger) *Manager {
	return &Manager{
		store:    st,
		targets:  targets,
		embedder: emb,
		logger:   logger,
		locks:    newEntityLocks(),
	}
}

// Commit records the change as a new immutable version, writes status
// timeline entries for every dimension that changed, advances the
// entity's current-version pointer and fingerprint, and then projects
// the new state downstream.
//
// Projection failure is not a commit failure: the version is durable,
// the entity's index checkpoint stays pending, and Reproject retries
// later. Only ledger/storage errors are returned.
func (m *Manager) Commit(ctx context.Context, ch Change) (*models.EntityVersion, error) {
	release := m.locks.acquire(ch.EntityID)

	entity, err := m.store.GetEntity(ctx, ch.EntityID)
	if err != nil {
		release()
		return nil, fmt.Errorf("commit %s: %w", ch.EntityID, err)
	}

	// Read current → allocate next → write, all inside the lock.
	current, err := m.store.MaxVersion(ctx, ch.EntityID)
	if err != nil {
		release()
		return nil, fmt.Errorf("commit %s: %w", ch.EntityID, err)
	}
	next := current + 1

	now := time.Now().UTC()
	v := models.EntityVersion{
		ID:            uuid.NewString(),
		EntityID:      ch.EntityID,
		VersionNumber: next,
		Title:         ch.Title,
		Content:       ch.Content,
		Metadata:      ch.Metadata,
		TagsSnapshot:  ch.Tags.Clone(),
		ChangeSource:  ch.Origin,
		ChangeSummary: ch.Summary,
		CreatedAt:     now,
	}
	if err := m.store.AppendVersion(ctx, v); err != nil {
		release()
		if errors.Is(err, store.ErrVersionExists) {
			return nil, fmt.Errorf("commit %s: version %d already allocated: %w", ch.EntityID, next, err)
		}
		return nil, fmt.Errorf("commit %s: %w", ch.EntityID, err)
	}

	m.recordStatusTransitions(ctx, entity, ch, now)

	entity.Title = ch.Title
	entity.Content = ch.Content
	entity.Tags = ch.Tags.Clone()
	entity.CurrentVersion = next
	entity.Fingerprint = detector.Fingerprint(ch.Content)
	entity.UpdatedAt = now
	if ch.Metadata != nil {
		entity.Metadata = ch.Metadata
	}
	if ch.ReviewStatus != "" {
		entity.ReviewStatus = ch.ReviewStatus
	}
	if ch.Origin == models.ChangeSourceSync {
		entity.LastSyncedAt = now
	}
	if err := m.store.UpdateEntity(ctx, *entity); err != nil {
		release()
		return nil, fmt.Errorf("commit %s: updating entity: %w", ch.EntityID, err)
	}
	release()

	m.logger.Info("committed version",
		"entity", ch.EntityID, "version", next, "origin", ch.Origin)

	if err := m.Project(ctx, *entity); err != nil {
		// Recoverable: checkpoint stays pending, retried by Reproject.
		m.logger.Warn("projection incomplete, will retry",
			"entity", ch.EntityID, "version", next, "error", err)
	}
	return &v, nil
}

// recordStatusTransitions appends one timeline entry per status
// dimension whose value changed. Timeline failures are logged, not
// fatal: the version ledger is already consistent.
func (m *Manager) recordStatusTransitions(ctx context.Context, entity *models.Entity, ch Change, now time.Time) {
	for dim, newValue := range ch.Tags.Status {
		oldValue := entity.Tags.Status[dim]
		if oldValue == newValue {
			continue
		}
		entry := models.StatusTimelineEntry{
			ID:        uuid.NewString(),
			EntityID:  ch.EntityID,
			Dimension: dim,
			OldValue:  oldValue,
			NewValue:  newValue,
			Actor:     ch.Actor,
			ChangedAt: now,
		}
		if err := m.store.AppendTimelineEntry(ctx, entry); err != nil {
			m.logger.Error("appending timeline entry",
				"entity", ch.EntityID, "dimension", dim, "error", err)
		}
	}
}

// Project writes the entity's current state to every target. It may be
// re-invoked any number of times for the same version: targets upsert
// by entity id, so replays converge instead of duplicating. The index
// checkpoint is advanced only when every target confirmed.
func (m *Manager) Project(ctx context.Context, entity models.Entity) error {
	if len(m.targets) == 0 {
		return m.markIndexSynced(ctx, entity)
	}

	payload := projection.Payload{
		EntityID:  entity.ID,
		Version:   entity.CurrentVersion,
		Title:     entity.Title,
		Content:   entity.Content,
		Source:    entity.Source,
		Tags:      entity.Tags.Clone(),
		UpdatedAt: entity.UpdatedAt,
	}
	if m.embedder != nil {
		vec, err := m.embedder.Embed(ctx, entity.Title+"\n"+entity.Content)
		if err != nil {
			metrics.Inc(metrics.ProjectionsFailed)
			return m.markIndexPending(ctx, entity, fmt.Errorf("embedding entity %s: %w", entity.ID, err))
		}
		payload.Vector = vec
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, target := range m.targets {
		g.Go(func() error {
			if err := target.Upsert(gctx, payload); err != nil {
				return fmt.Errorf("target %s: %w", target.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.Inc(metrics.ProjectionsFailed)
		return m.markIndexPending(ctx, entity, err)
	}

	metrics.Inc(metrics.ProjectionsApplied)
	return m.markIndexSynced(ctx, entity)
}

func (m *Manager) markIndexSynced(ctx context.Context, entity models.Entity) error {
	return m.store.PutSyncState(ctx, models.SyncState{
		EntityID:     entity.ID,
		Layer:        models.LayerIndex,
		Fingerprint:  entity.Fingerprint,
		Status:       models.SyncStatusSynced,
		LastSyncedAt: time.Now().UTC(),
	})
}

func (m *Manager) markIndexPending(ctx context.Context, entity models.Entity, cause error) error {
	st := models.SyncState{
		EntityID:    entity.ID,
		Layer:       models.LayerIndex,
		Fingerprint: entity.Fingerprint,
		Status:      models.SyncStatusPending,
	}
	if err := m.store.PutSyncState(ctx, st); err != nil {
		return errors.Join(cause, fmt.Errorf("marking index pending: %w", err))
	}
	return cause
}

// Reproject retries projection for every entity whose index checkpoint
// is still pending. Meant to run periodically; each entity failure is
// isolated.
func (m *Manager) Reproject(ctx context.Context) (retried, failed int, err error) {
	entities, err := m.store.ListEntities(ctx, nil, 0, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("reproject: %w", err)
	}
	for i := range entities {
		e := entities[i]
		st, err := m.store.GetSyncState(ctx, e.ID, models.LayerIndex)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			m.logger.Error("reproject: loading checkpoint", "entity", e.ID, "error", err)
			failed++
			continue
		}
		if st.Status != models.SyncStatusPending {
			continue
		}
		metrics.Inc(metrics.ProjectionsRetried)
		if err := m.Project(ctx, e); err != nil {
			m.logger.Warn("reproject: still failing", "entity", e.ID, "error", err)
			failed++
			continue
		}
		retried++
	}
	return retried, failed, nil
}

// Diff describes what changed between two versions of an entity.
type Diff struct {
	EntityID       string               `json:"entity_id"`
	VersionA       models.EntityVersion `json:"version_a"`
	VersionB       models.EntityVersion `json:"version_b"`
	TitleChanged   bool                 `json:"title_changed"`
	ContentChanged bool                 `json:"content_changed"`
	TagsChanged    bool                 `json:"tags_changed"`
}

// DiffVersions compares two recorded versions.
func (m *Manager) DiffVersions(ctx context.Context, entityID string, a, b int64) (*Diff, error) {
	va, err := m.store.GetVersion(ctx, entityID, a)
	if err != nil {
		return nil, fmt.Errorf("diff %s v%d: %w", entityID, a, err)
	}
	vb, err := m.store.GetVersion(ctx, entityID, b)
	if err != nil {
		return nil, fmt.Errorf("diff %s v%d: %w", entityID, b, err)
	}
	return &Diff{
		EntityID:       entityID,
		VersionA:       *va,
		VersionB:       *vb,
		TitleChanged:   va.Title != vb.Title,
		ContentChanged: detector.Fingerprint(va.Content) != detector.Fingerprint(vb.Content),
		TagsChanged:    !tagSetsEqual(va.TagsSnapshot, vb.TagsSnapshot),
	}, nil
}

func tagSetsEqual(a, b models.TagSet) bool {
	if len(a.FolderTags) != len(b.FolderTags) ||
		len(a.ContentTags) != len(b.ContentTags) ||
		len(a.Status) != len(b.Status) {
		return false
	}
	for i := range a.FolderTags {
		if a.FolderTags[i] != b.FolderTags[i] {
			return false
		}
	}
	for i := range a.ContentTags {
		if a.ContentTags[i] != b.ContentTags[i] {
			return false
		}
	}
	for k, v := range a.Status {
		if b.Status[k] != v {
			return false
		}
	}
	return true
}
