package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsync/vaultsync/internal/models"
)

func TestMockStore_EntityLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()

	e := models.Entity{
		ID:        "e1",
		Source:    "apple-notes",
		SourceID:  "note-42",
		Title:     "Grocery research",
		Content:   "compare stores",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateEntity(ctx, e))

	got, err := s.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Grocery research", got.Title)

	bySource, err := s.GetEntityBySource(ctx, "apple-notes", "note-42")
	require.NoError(t, err)
	assert.Equal(t, "e1", bySource.ID)

	_, err = s.GetEntityBySource(ctx, "apple-notes", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	got.Title = "Renamed"
	require.NoError(t, s.UpdateEntity(ctx, *got))
	got, err = s.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)

	assert.ErrorIs(t, s.UpdateEntity(ctx, models.Entity{ID: "ghost"}), ErrNotFound)
}

func TestMockStore_GetEntityReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()

	require.NoError(t, s.CreateEntity(ctx, models.Entity{
		ID:   "e1",
		Tags: models.TagSet{ContentTags: []string{"original"}},
	}))

	got, err := s.GetEntity(ctx, "e1")
	require.NoError(t, err)
	got.Tags.ContentTags[0] = "mutated"

	again, err := s.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "original", again.Tags.ContentTags[0], "callers must not be able to mutate stored state")
}

func TestMockStore_VersionLedgerRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()

	require.NoError(t, s.AppendVersion(ctx, models.EntityVersion{ID: "v1", EntityID: "e1", VersionNumber: 1}))
	require.NoError(t, s.AppendVersion(ctx, models.EntityVersion{ID: "v2", EntityID: "e1", VersionNumber: 2}))

	err := s.AppendVersion(ctx, models.EntityVersion{ID: "v2b", EntityID: "e1", VersionNumber: 2})
	assert.ErrorIs(t, err, ErrVersionExists)

	max, err := s.MaxVersion(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), max)

	max, err = s.MaxVersion(ctx, "never-seen")
	require.NoError(t, err)
	assert.Equal(t, int64(0), max)

	versions, err := s.ListVersions(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, int64(2), versions[0].VersionNumber, "newest first")
}

func TestMockStore_SupersedeKeepsPendingProposalID(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()

	first, err := s.UpsertPendingProposal(ctx, models.ReviewQueueItem{
		ID: "p1", EntityID: "e1", ObservedFingerprint: "aaa", CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	// A newer observation for the same entity replaces the pending
	// proposal in place instead of queueing a second one.
	second, err := s.UpsertPendingProposal(ctx, models.ReviewQueueItem{
		ID: "p2", EntityID: "e1", ObservedFingerprint: "bbb", CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "bbb", second.ObservedFingerprint)

	count, err := s.CountProposals(ctx, models.ProposalPending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMockStore_ResolveProposalFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()

	_, err := s.UpsertPendingProposal(ctx, models.ReviewQueueItem{ID: "p1", EntityID: "e1"})
	require.NoError(t, err)

	require.NoError(t, s.ResolveProposal(ctx, "p1", models.ProposalApproved, models.ReviewerAction{Status: models.ProposalApproved}))

	err = s.ResolveProposal(ctx, "p1", models.ProposalRejected, models.ReviewerAction{Status: models.ProposalRejected})
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	// The losing disposition must not have overwritten the winner.
	p, err := s.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.ProposalApproved, p.Status)
	assert.False(t, p.ReviewedAt.IsZero())

	assert.ErrorIs(t, s.ResolveProposal(ctx, "ghost", models.ProposalApproved, models.ReviewerAction{}), ErrNotFound)
}

func TestMockStore_ResolveConflictIsConditional(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()

	require.NoError(t, s.CreateConflict(ctx, models.ConflictRecord{
		ID: "c1", EntityID: "e1", Status: models.ResolutionUnresolved, CreatedAt: time.Now().UTC(),
	}))

	open, err := s.ListUnresolvedConflicts(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	require.NoError(t, s.ResolveConflict(ctx, "c1", models.ResolutionManual, "manual: vault"))
	assert.ErrorIs(t, s.ResolveConflict(ctx, "c1", models.ResolutionManual, "again"), ErrAlreadyResolved)

	open, err = s.ListUnresolvedConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	c, err := s.GetConflict(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "manual: vault", c.Resolution)
}

func TestMockStore_SyncStateOverwrite(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()

	require.NoError(t, s.PutSyncState(ctx, models.SyncState{
		EntityID: "e1", Layer: models.LayerVault, Fingerprint: "aaa", Status: models.SyncStatusPending,
	}))
	require.NoError(t, s.PutSyncState(ctx, models.SyncState{
		EntityID: "e1", Layer: models.LayerVault, Fingerprint: "bbb", Status: models.SyncStatusSynced,
	}))

	st, err := s.GetSyncState(ctx, "e1", models.LayerVault)
	require.NoError(t, err)
	assert.Equal(t, "bbb", st.Fingerprint)
	assert.Equal(t, models.SyncStatusSynced, st.Status)

	states, err := s.ListSyncStates(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, states, 1, "one checkpoint per (entity, layer)")
}

func TestMockStore_ReviewStats(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()

	for i, status := range []models.ProposalStatus{
		models.ProposalApproved, models.ProposalApproved, models.ProposalModified, models.ProposalRejected,
	} {
		id := string(rune('a' + i))
		_, err := s.UpsertPendingProposal(ctx, models.ReviewQueueItem{ID: id, EntityID: "e" + id})
		require.NoError(t, err)
		require.NoError(t, s.ResolveProposal(ctx, id, status, models.ReviewerAction{Status: status}))
	}
	_, err := s.UpsertPendingProposal(ctx, models.ReviewQueueItem{ID: "pending", EntityID: "e-pending"})
	require.NoError(t, err)

	stats, err := s.ReviewStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(2), stats.Approved)
	assert.Equal(t, int64(1), stats.Modified)
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Equal(t, int64(5), stats.Total)
}

func TestMockStore_ListEntitiesFilterAndPaginate(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()

	base := time.Now().UTC()
	for i, src := range []string{"apple-notes", "apple-notes", "reminders"} {
		require.NoError(t, s.CreateEntity(ctx, models.Entity{
			ID:           string(rune('a' + i)),
			Source:       src,
			ReviewStatus: models.ReviewStatusPending,
			UpdatedAt:    base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := s.ListEntities(ctx, nil, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	notes, err := s.ListEntities(ctx, &EntityFilters{Source: "apple-notes"}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, notes, 2)

	page, err := s.ListEntities(ctx, nil, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	past, err := s.ListEntities(ctx, nil, 2, 5)
	require.NoError(t, err)
	assert.Empty(t, past)
}
