package store

import (
	"context"
	"errors"

	"github.com/vaultsync/vaultsync/internal/models"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyResolved is returned by ResolveProposal and ResolveConflict
// when the record has already left its pending state. The second writer
// in a race gets this error, never a silent overwrite.
var ErrAlreadyResolved = errors.New("already resolved")

// ErrVersionExists is returned by AppendVersion when the (entity,
// version) pair is already present. Version numbers are allocated by
// the version manager; a duplicate indicates a serialization bug.
var ErrVersionExists = errors.New("version already exists")

// EntityFilters narrows ListEntities results.
type EntityFilters struct {
	Source       string
	ReviewStatus models.ReviewStatus
}

// Store is the system-of-record persistence interface. entity_versions
// and status_timeline are append-only: the interface deliberately
// exposes no update or delete for them.
type Store interface {
	// --- entities ---

	CreateEntity(ctx context.Context, e models.Entity) error
	GetEntity(ctx context.Context, id string) (*models.Entity, error)
	// GetEntityBySource looks an entity up by its origin (source, external id).
	GetEntityBySource(ctx context.Context, source, sourceID string) (*models.Entity, error)
	// UpdateEntity overwrites the mutable fields of an entity row.
	UpdateEntity(ctx context.Context, e models.Entity) error
	ListEntities(ctx context.Context, filters *EntityFilters, limit, offset int) ([]models.Entity, error)

	// --- version ledger (append-only) ---

	AppendVersion(ctx context.Context, v models.EntityVersion) error
	GetVersion(ctx context.Context, entityID string, number int64) (*models.EntityVersion, error)
	ListVersions(ctx context.Context, entityID string) ([]models.EntityVersion, error)
	// MaxVersion returns the highest version number recorded for the
	// entity, 0 when none exist.
	MaxVersion(ctx context.Context, entityID string) (int64, error)

	// --- status timeline (append-only) ---

	AppendTimelineEntry(ctx context.Context, e models.StatusTimelineEntry) error
	ListTimeline(ctx context.Context, entityID string) ([]models.StatusTimelineEntry, error)

	// --- sync checkpoints ---

	GetSyncState(ctx context.Context, entityID string, layer models.Layer) (*models.SyncState, error)
	// PutSyncState overwrites the checkpoint for (entity, layer).
	PutSyncState(ctx context.Context, s models.SyncState) error
	ListSyncStates(ctx context.Context, entityID string) ([]models.SyncState, error)

	// --- review queue ---

	// UpsertPendingProposal inserts the proposal, or overwrites the
	// entity's existing pending proposal in place (supersede rule).
	// The stored item is returned; on supersede it keeps the prior ID.
	UpsertPendingProposal(ctx context.Context, item models.ReviewQueueItem) (*models.ReviewQueueItem, error)
	GetProposal(ctx context.Context, id string) (*models.ReviewQueueItem, error)
	PendingProposalForEntity(ctx context.Context, entityID string) (*models.ReviewQueueItem, error)
	// ResolveProposal atomically moves a pending proposal into a
	// terminal status. Returns ErrAlreadyResolved when the proposal is
	// no longer pending (first-writer-wins).
	ResolveProposal(ctx context.Context, id string, status models.ProposalStatus, action models.ReviewerAction) error
	ListProposals(ctx context.Context, status models.ProposalStatus, limit, offset int) ([]models.ReviewQueueItem, error)
	CountProposals(ctx context.Context, status models.ProposalStatus) (int64, error)
	ReviewStats(ctx context.Context) (*models.ReviewStats, error)

	// --- conflict records ---

	CreateConflict(ctx context.Context, c models.ConflictRecord) error
	GetConflict(ctx context.Context, id string) (*models.ConflictRecord, error)
	ListUnresolvedConflicts(ctx context.Context) ([]models.ConflictRecord, error)
	// ResolveConflict atomically moves an unresolved conflict into a
	// resolved status; ErrAlreadyResolved when it is not unresolved.
	ResolveConflict(ctx context.Context, id string, status models.ResolutionStatus, resolution string) error

	// Close cleans up resources.
	Close() error
}
