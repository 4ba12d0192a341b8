// Package review implements the mandatory human-in-the-loop gate. A
// suggested tag or status value reaches an entity, the search index, or
// the graph only through one of the three terminal dispositions here:
// approve, modify, or reject.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vaultsync/vaultsync/internal/metrics"
	"github.com/vaultsync/vaultsync/internal/models"
	"github.com/vaultsync/vaultsync/internal/store"
	"github.com/vaultsync/vaultsync/internal/version"
)

// ErrAlreadyResolved is returned when a disposition races with another
// reviewer and loses; the winning disposition stands.
var ErrAlreadyResolved = store.ErrAlreadyResolved

// Committer records an accepted change. Implemented by version.Manager.
type Committer interface {
	Commit(ctx context.Context, ch version.Change) (*models.EntityVersion, error)
}

// TagWriter pushes approved tags back into the intermediate document
// layer. Write-back is best-effort: a failure is logged and never
// blocks or reverts the disposition. Implemented by vault.Writer.
type TagWriter interface {
	WriteTags(ctx context.Context, entity models.Entity, tags models.TagSet) (newPath string, err error)
}

// Gate is the review queue plus its state machine.
type Gate struct {
	store     store.Store
	committer Committer
	writer    TagWriter // nil disables write-back
	logger    *slog.Logger
}

// NewGate creates a Gate.
func NewGate(st store.Store, committer Committer, writer TagWriter, logger *slog.Logger) *Gate {
	return &Gate{store: st, committer: committer, writer: writer, logger: logger}
}

// ProposeRequest is a new proposal for an entity.
type ProposeRequest struct {
	EntityID            string
	ObservedTitle       string
	ObservedContent     string
	ObservedFingerprint string
	ObservedLayer       models.Layer
	Suggestion          models.Suggestion
}

// Propose enqueues (or supersedes) the entity's pending proposal and
// optimistically marks the observed layer's checkpoint pending. Nothing
// downstream changes until disposition.
func (g *Gate) Propose(ctx context.Context, req ProposeRequest) (*models.ReviewQueueItem, error) {
	item := models.ReviewQueueItem{
		ID:                  uuid.NewString(),
		EntityID:            req.EntityID,
		ObservedTitle:       req.ObservedTitle,
		ObservedContent:     req.ObservedContent,
		ObservedFingerprint: req.ObservedFingerprint,
		ObservedLayer:       req.ObservedLayer,
		Suggestion:          req.Suggestion,
		CreatedAt:           time.Now().UTC(),
	}
	stored, err := g.store.UpsertPendingProposal(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("proposing for %s: %w", req.EntityID, err)
	}

	err = g.store.PutSyncState(ctx, models.SyncState{
		EntityID:    req.EntityID,
		Layer:       req.ObservedLayer,
		Fingerprint: req.ObservedFingerprint,
		Status:      models.SyncStatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("proposing for %s: %w", req.EntityID, err)
	}

	metrics.Inc(metrics.ProposalsCreated)
	g.logger.Info("proposal enqueued", "proposal", stored.ID, "entity", req.EntityID,
		"layer", req.ObservedLayer, "superseded", stored.ID != item.ID)
	return stored, nil
}

// Overrides carries reviewer-supplied values for Modify. A nil field
// falls back to the suggested value; a non-nil empty slice or map
// clears it.
type Overrides struct {
	FolderTags  []string          `json:"folder_tags,omitempty"`
	ContentTags []string          `json:"content_tags,omitempty"`
	Status      map[string]string `json:"status,omitempty"`
}

// Approve applies the suggestion verbatim.
func (g *Gate) Approve(ctx context.Context, id string) error {
	err := g.disposition(ctx, id, models.ProposalApproved, nil, "")
	if err == nil {
		metrics.Inc(metrics.ProposalsApproved)
	}
	return err
}

// Modify applies reviewer-supplied values instead of the suggestion;
// the override is recorded for suggestion-quality feedback.
func (g *Gate) Modify(ctx context.Context, id string, overrides Overrides) error {
	err := g.disposition(ctx, id, models.ProposalModified, &overrides, "")
	if err == nil {
		metrics.Inc(metrics.ProposalsModified)
	}
	return err
}

// Reject discards the suggestion. The entity's live tags are untouched
// and the observed fingerprint is checkpointed as seen-and-declined, so
// only the next detected change re-proposes the entity.
func (g *Gate) Reject(ctx context.Context, id, reason string) error {
	item, err := g.store.GetProposal(ctx, id)
	if err != nil {
		return fmt.Errorf("rejecting %s: %w", id, err)
	}

	action := models.ReviewerAction{Status: models.ProposalRejected, RejectReason: reason}
	if err := g.store.ResolveProposal(ctx, id, models.ProposalRejected, action); err != nil {
		return fmt.Errorf("rejecting %s: %w", id, err)
	}

	err = g.store.PutSyncState(ctx, models.SyncState{
		EntityID:     item.EntityID,
		Layer:        item.ObservedLayer,
		Fingerprint:  item.ObservedFingerprint,
		Status:       models.SyncStatusSynced,
		LastSyncedAt: time.Now().UTC(),
	})
	if err != nil {
		g.logger.Error("reject: resetting checkpoint", "proposal", id, "error", err)
	}

	metrics.Inc(metrics.ProposalsRejected)
	g.logger.Info("proposal rejected", "proposal", id, "entity", item.EntityID, "reason", reason)
	return nil
}

// BatchResult reports per-item outcomes of a batch disposition.
type BatchResult struct {
	Approved []string          `json:"approved"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// BatchApprove approves each id independently. One failure never rolls
// back or blocks the others.
func (g *Gate) BatchApprove(ctx context.Context, ids []string) *BatchResult {
	result := &BatchResult{}
	for _, id := range ids {
		if err := g.Approve(ctx, id); err != nil {
			g.logger.Warn("batch approve: item failed", "proposal", id, "error", err)
			if result.Failed == nil {
				result.Failed = make(map[string]string)
			}
			result.Failed[id] = err.Error()
			continue
		}
		result.Approved = append(result.Approved, id)
	}
	return result
}

// disposition is the shared approve/modify path: resolve the state
// machine first (first-writer-wins), then commit. A commit or
// projection failure after resolution leaves the item in its terminal
// state with the entity's checkpoint pending; the projection applier
// retries, nothing is lost and nothing is double-applied.
func (g *Gate) disposition(ctx context.Context, id string, status models.ProposalStatus, overrides *Overrides, reason string) error {
	item, err := g.store.GetProposal(ctx, id)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", id, err)
	}
	if item.Status.IsTerminal() {
		return fmt.Errorf("resolving %s: %w", id, ErrAlreadyResolved)
	}

	entity, err := g.store.GetEntity(ctx, item.EntityID)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", id, err)
	}

	final := finalTags(entity, item, overrides)
	action := models.ReviewerAction{
		Status:           status,
		FinalFolderTags:  final.FolderTags,
		FinalContentTags: final.ContentTags,
		FinalStatus:      final.Status,
		RejectReason:     reason,
	}

	if err := g.store.ResolveProposal(ctx, id, status, action); err != nil {
		return fmt.Errorf("resolving %s: %w", id, err)
	}

	summary := item.Suggestion.Summary
	if summary == "" {
		summary = "review " + string(status)
	}
	_, err = g.committer.Commit(ctx, version.Change{
		EntityID:     item.EntityID,
		Title:        item.ObservedTitle,
		Content:      item.ObservedContent,
		Tags:         final,
		Origin:       originForLayer(item.ObservedLayer),
		Summary:      summary,
		Actor:        models.ActorUser,
		ReviewStatus: models.ReviewStatusReviewed,
	})
	if err != nil {
		// Terminal state stands; surface the storage failure.
		return fmt.Errorf("committing %s: %w", id, err)
	}

	err = g.store.PutSyncState(ctx, models.SyncState{
		EntityID:     item.EntityID,
		Layer:        item.ObservedLayer,
		Fingerprint:  item.ObservedFingerprint,
		Status:       models.SyncStatusSynced,
		LastSyncedAt: time.Now().UTC(),
	})
	if err != nil {
		g.logger.Error("disposition: advancing checkpoint", "proposal", id, "error", err)
	}

	g.writeBack(ctx, item.EntityID, final)

	g.logger.Info("proposal resolved", "proposal", id, "entity", item.EntityID, "status", status)
	return nil
}

// writeBack pushes the final tags into the vault layer, best-effort.
func (g *Gate) writeBack(ctx context.Context, entityID string, tags models.TagSet) {
	if g.writer == nil {
		return
	}
	entity, err := g.store.GetEntity(ctx, entityID)
	if err != nil {
		g.logger.Warn("write-back: loading entity", "entity", entityID, "error", err)
		return
	}
	newPath, err := g.writer.WriteTags(ctx, *entity, tags)
	if err != nil {
		g.logger.Warn("write-back failed, vault left diverged", "entity", entityID, "error", err)
		return
	}
	if newPath != "" && newPath != entity.VaultPath {
		entity.VaultPath = newPath
		if err := g.store.UpdateEntity(ctx, *entity); err != nil {
			g.logger.Warn("write-back: recording vault path", "entity", entityID, "error", err)
		}
	}
	err = g.store.PutSyncState(ctx, models.SyncState{
		EntityID:     entityID,
		Layer:        models.LayerVault,
		Fingerprint:  entity.Fingerprint,
		Status:       models.SyncStatusSynced,
		LastSyncedAt: time.Now().UTC(),
	})
	if err != nil {
		g.logger.Warn("write-back: advancing vault checkpoint", "entity", entityID, "error", err)
	}
}

// finalTags computes the tag state a disposition applies: overrides win
// over the suggestion, and status dimensions the proposal does not
// mention keep their current values.
func finalTags(entity *models.Entity, item *models.ReviewQueueItem, overrides *Overrides) models.TagSet {
	final := item.Suggestion.TagSet()
	if overrides != nil {
		if overrides.FolderTags != nil {
			final.FolderTags = append([]string(nil), overrides.FolderTags...)
		}
		if overrides.ContentTags != nil {
			final.ContentTags = append([]string(nil), overrides.ContentTags...)
		}
		if overrides.Status != nil {
			final.Status = make(map[string]string, len(overrides.Status))
			for k, v := range overrides.Status {
				final.Status[k] = v
			}
		}
	}

	if len(entity.Tags.Status) > 0 {
		merged := make(map[string]string, len(entity.Tags.Status)+len(final.Status))
		for k, v := range entity.Tags.Status {
			merged[k] = v
		}
		for k, v := range final.Status {
			merged[k] = v
		}
		final.Status = merged
	}
	return final
}

func originForLayer(layer models.Layer) models.ChangeSource {
	switch layer {
	case models.LayerVault:
		return models.ChangeSourceManual
	case models.LayerIndex:
		return models.ChangeSourceAPI
	default:
		return models.ChangeSourceSync
	}
}

// Pending lists pending proposals, newest first.
func (g *Gate) Pending(ctx context.Context, limit, offset int) ([]models.ReviewQueueItem, error) {
	return g.store.ListProposals(ctx, models.ProposalPending, limit, offset)
}

// PendingCount returns the number of pending proposals.
func (g *Gate) PendingCount(ctx context.Context) (int64, error) {
	return g.store.CountProposals(ctx, models.ProposalPending)
}

// Stats returns proposal counts by status.
func (g *Gate) Stats(ctx context.Context) (*models.ReviewStats, error) {
	return g.store.ReviewStats(ctx)
}

// Get returns one proposal.
func (g *Gate) Get(ctx context.Context, id string) (*models.ReviewQueueItem, error) {
	item, err := g.store.GetProposal(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("getting proposal %s: %w", id, err)
	}
	return item, nil
}
