package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsync/vaultsync/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_EntityRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	now := time.Now().UTC()
	e := models.Entity{
		ID:          "e1",
		Source:      "apple-notes",
		SourceID:    "note-1",
		Title:       "研究笔记",
		Content:     "body text",
		ContentType: "text/plain",
		VaultPath:   "研究/研究笔记.md",
		Metadata:    map[string]any{"folder": "Research"},
		Fingerprint: "abc123",
		Tags: models.TagSet{
			FolderTags:  []string{"研究/笔记"},
			ContentTags: []string{"笔记"},
			Status:      map[string]string{"reading": "in-progress"},
		},
		ReviewStatus: models.ReviewStatusReviewed,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastSyncedAt: now,
	}
	require.NoError(t, s.CreateEntity(ctx, e))

	got, err := s.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, e.Title, got.Title)
	assert.Equal(t, e.Tags.FolderTags, got.Tags.FolderTags)
	assert.Equal(t, e.Tags.Status, got.Tags.Status)
	assert.Equal(t, "Research", got.Metadata["folder"])
	assert.WithinDuration(t, now, got.CreatedAt, time.Second)

	_, err = s.GetEntity(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	bySource, err := s.GetEntityBySource(ctx, "apple-notes", "note-1")
	require.NoError(t, err)
	assert.Equal(t, "e1", bySource.ID)
}

func TestSQLiteStore_VersionUniqueConstraint(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	require.NoError(t, s.CreateEntity(ctx, models.Entity{ID: "e1", Source: "s", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}))

	v := models.EntityVersion{
		ID: "v1", EntityID: "e1", VersionNumber: 1,
		Title: "t", Content: "c", ChangeSource: models.ChangeSourceSync,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.AppendVersion(ctx, v))

	v.ID = "v1b"
	assert.ErrorIs(t, s.AppendVersion(ctx, v), ErrVersionExists)

	max, err := s.MaxVersion(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), max)
}

func TestSQLiteStore_ProposalSupersedeAndResolve(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	require.NoError(t, s.CreateEntity(ctx, models.Entity{ID: "e1", Source: "s", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}))

	first, err := s.UpsertPendingProposal(ctx, models.ReviewQueueItem{
		ID: "p1", EntityID: "e1", ObservedFingerprint: "aaa",
		Suggestion: models.Suggestion{ContentTags: []string{"笔记"}},
		CreatedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)

	second, err := s.UpsertPendingProposal(ctx, models.ReviewQueueItem{
		ID: "p2", EntityID: "e1", ObservedFingerprint: "bbb", CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "pending proposal is superseded in place")

	count, err := s.CountProposals(ctx, models.ProposalPending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	action := models.ReviewerAction{Status: models.ProposalApproved, FinalContentTags: []string{"笔记"}}
	require.NoError(t, s.ResolveProposal(ctx, first.ID, models.ProposalApproved, action))
	assert.ErrorIs(t, s.ResolveProposal(ctx, first.ID, models.ProposalRejected, action), ErrAlreadyResolved)
	assert.ErrorIs(t, s.ResolveProposal(ctx, "ghost", models.ProposalApproved, action), ErrNotFound)

	p, err := s.GetProposal(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalApproved, p.Status)
	require.NotNil(t, p.ReviewerAction)
	assert.Equal(t, []string{"笔记"}, p.ReviewerAction.FinalContentTags)
}

func TestSQLiteStore_SyncStateUpsert(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	require.NoError(t, s.CreateEntity(ctx, models.Entity{ID: "e1", Source: "s", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}))

	require.NoError(t, s.PutSyncState(ctx, models.SyncState{
		EntityID: "e1", Layer: models.LayerSource, Fingerprint: "aaa", Status: models.SyncStatusPending,
	}))
	require.NoError(t, s.PutSyncState(ctx, models.SyncState{
		EntityID: "e1", Layer: models.LayerSource, Fingerprint: "bbb", Status: models.SyncStatusSynced,
		LastSyncedAt: time.Now().UTC(),
	}))

	st, err := s.GetSyncState(ctx, "e1", models.LayerSource)
	require.NoError(t, err)
	assert.Equal(t, "bbb", st.Fingerprint)
	assert.Equal(t, models.SyncStatusSynced, st.Status)

	_, err = s.GetSyncState(ctx, "e1", models.LayerVault)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ConflictRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	require.NoError(t, s.CreateEntity(ctx, models.Entity{ID: "e1", Source: "s", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}))

	c := models.ConflictRecord{
		ID:       "c1",
		EntityID: "e1",
		Observations: []models.LayerObservation{
			{Layer: models.LayerSource, Content: "a", Fingerprint: "fa", ObservedAt: time.Now().UTC()},
			{Layer: models.LayerVault, Content: "b", Fingerprint: "fb", ObservedAt: time.Now().UTC()},
		},
		Status:    models.ResolutionUnresolved,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateConflict(ctx, c))

	open, err := s.ListUnresolvedConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Len(t, open[0].Observations, 2)

	require.NoError(t, s.ResolveConflict(ctx, "c1", models.ResolutionManual, "manual: vault"))
	assert.ErrorIs(t, s.ResolveConflict(ctx, "c1", models.ResolutionManual, "again"), ErrAlreadyResolved)

	got, err := s.GetConflict(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.ResolutionManual, got.Status)
	assert.Equal(t, "manual: vault", got.Resolution)
}

func TestSQLiteStore_TimelineOrdering(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	require.NoError(t, s.CreateEntity(ctx, models.Entity{ID: "e1", Source: "s", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}))

	base := time.Now().UTC()
	for i, val := range []string{"to-read", "in-progress", "done"} {
		require.NoError(t, s.AppendTimelineEntry(ctx, models.StatusTimelineEntry{
			ID: string(rune('a' + i)), EntityID: "e1", Dimension: "reading",
			NewValue: val, Actor: models.ActorUser,
			ChangedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := s.ListTimeline(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "done", entries[0].NewValue, "newest first")
	assert.Equal(t, "to-read", entries[2].NewValue)
}
