package version

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsync/vaultsync/internal/detector"
	"github.com/vaultsync/vaultsync/internal/models"
	"github.com/vaultsync/vaultsync/internal/projection"
	"github.com/vaultsync/vaultsync/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeTarget counts upserts and can fail on demand.
type fakeTarget struct {
	mu      sync.Mutex
	name    string
	upserts []projection.Payload
	failing bool
}

func (f *fakeTarget) Name() string { return f.name }

func (f *fakeTarget) Upsert(_ context.Context, p projection.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("connection refused")
	}
	f.upserts = append(f.upserts, p)
	return nil
}

func (f *fakeTarget) Delete(context.Context, string) error { return nil }
func (f *fakeTarget) Close() error                         { return nil }

func (f *fakeTarget) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

func (f *fakeTarget) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

func seedEntity(t *testing.T, s *store.MockStore, id string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, s.CreateEntity(context.Background(), models.Entity{
		ID: id, Source: "apple-notes", SourceID: "src-" + id,
		Title: "title", Content: "v0",
		Fingerprint:  detector.Fingerprint("v0"),
		ReviewStatus: models.ReviewStatusPending,
		CreatedAt:    now, UpdatedAt: now,
	}))
}

func TestManager_CommitAdvancesEntityAndLedger(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	m := NewManager(s, nil, nil, testLogger())
	seedEntity(t, s, "e1")

	v, err := m.Commit(ctx, Change{
		EntityID: "e1", Title: "标题", Content: "first body",
		Tags:         models.TagSet{ContentTags: []string{"研究"}},
		Origin:       models.ChangeSourceSync,
		Summary:      "imported",
		Actor:        models.ActorSourceSync,
		ReviewStatus: models.ReviewStatusReviewed,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.VersionNumber)

	entity, err := s.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), entity.CurrentVersion)
	assert.Equal(t, "first body", entity.Content)
	assert.Equal(t, detector.Fingerprint("first body"), entity.Fingerprint)
	assert.Equal(t, models.ReviewStatusReviewed, entity.ReviewStatus)
	assert.False(t, entity.LastSyncedAt.IsZero(), "sync-origin commits stamp last_synced_at")

	// With no targets the index checkpoint is immediately synced.
	st, err := s.GetSyncState(ctx, "e1", models.LayerIndex)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, st.Status)
}

func TestManager_ConcurrentCommitsAreGapFree(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	m := NewManager(s, nil, nil, testLogger())
	seedEntity(t, s, "e1")

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Commit(ctx, Change{
				EntityID: "e1", Title: "t", Content: "body",
				Origin: models.ChangeSourceManual, Actor: models.ActorUser,
			})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	versions, err := s.ListVersions(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, versions, writers)

	// Newest first, strictly consecutive from writers down to 1.
	for i, v := range versions {
		assert.Equal(t, int64(writers-i), v.VersionNumber)
	}

	entity, err := s.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(writers), entity.CurrentVersion)
}

func TestManager_ProjectionFailureIsNotCommitFailure(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	target := &fakeTarget{name: "qdrant", failing: true}
	m := NewManager(s, []projection.Target{target}, nil, testLogger())
	seedEntity(t, s, "e1")

	v, err := m.Commit(ctx, Change{
		EntityID: "e1", Title: "t", Content: "body",
		Origin: models.ChangeSourceManual, Actor: models.ActorUser,
	})
	require.NoError(t, err, "the version is durable even when every target is down")
	assert.Equal(t, int64(1), v.VersionNumber)

	st, err := s.GetSyncState(ctx, "e1", models.LayerIndex)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, st.Status, "index checkpoint stays pending for retry")
}

func TestManager_ReprojectRetriesPendingOnly(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	target := &fakeTarget{name: "qdrant", failing: true}
	m := NewManager(s, []projection.Target{target}, nil, testLogger())
	seedEntity(t, s, "e1")
	seedEntity(t, s, "e2")

	_, err := m.Commit(ctx, Change{EntityID: "e1", Title: "t", Content: "body one",
		Origin: models.ChangeSourceManual, Actor: models.ActorUser})
	require.NoError(t, err)

	target.setFailing(false)
	_, err = m.Commit(ctx, Change{EntityID: "e2", Title: "t", Content: "body two",
		Origin: models.ChangeSourceManual, Actor: models.ActorUser})
	require.NoError(t, err)
	require.Equal(t, 1, target.count())

	retried, failed, err := m.Reproject(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, retried, "only the pending entity is replayed")
	assert.Equal(t, 0, failed)
	assert.Equal(t, 2, target.count())

	st, err := s.GetSyncState(ctx, "e1", models.LayerIndex)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, st.Status)

	// A second pass finds nothing pending.
	retried, failed, err = m.Reproject(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, retried)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 2, target.count())
}

func TestManager_ProjectionFansOutToAllTargets(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	qdrant := &fakeTarget{name: "qdrant"}
	neo4j := &fakeTarget{name: "neo4j"}
	m := NewManager(s, []projection.Target{qdrant, neo4j}, nil, testLogger())
	seedEntity(t, s, "e1")

	_, err := m.Commit(ctx, Change{
		EntityID: "e1", Title: "标题", Content: "body",
		Tags:   models.TagSet{FolderTags: []string{"研究/笔记"}},
		Origin: models.ChangeSourceManual, Actor: models.ActorUser,
	})
	require.NoError(t, err)

	require.Equal(t, 1, qdrant.count())
	require.Equal(t, 1, neo4j.count())
	p := qdrant.upserts[0]
	assert.Equal(t, "e1", p.EntityID)
	assert.Equal(t, int64(1), p.Version)
	assert.Equal(t, []string{"研究/笔记"}, p.Tags.FolderTags)
}

func TestManager_TimelineRecordsOnlyChangedDimensions(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	m := NewManager(s, nil, nil, testLogger())
	seedEntity(t, s, "e1")

	_, err := m.Commit(ctx, Change{
		EntityID: "e1", Title: "t", Content: "one",
		Tags:   models.TagSet{Status: map[string]string{"reading": "to-read"}},
		Origin: models.ChangeSourceManual, Actor: models.ActorUser,
	})
	require.NoError(t, err)

	// Same value again: no new entry.
	_, err = m.Commit(ctx, Change{
		EntityID: "e1", Title: "t", Content: "two",
		Tags:   models.TagSet{Status: map[string]string{"reading": "to-read"}},
		Origin: models.ChangeSourceManual, Actor: models.ActorUser,
	})
	require.NoError(t, err)

	_, err = m.Commit(ctx, Change{
		EntityID: "e1", Title: "t", Content: "three",
		Tags:   models.TagSet{Status: map[string]string{"reading": "done"}},
		Origin: models.ChangeSourceManual, Actor: models.ActorUser,
	})
	require.NoError(t, err)

	entries, err := s.ListTimeline(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, "done", entries[0].NewValue)
	assert.Equal(t, "to-read", entries[0].OldValue)
	assert.Equal(t, "to-read", entries[1].NewValue)
	assert.Equal(t, "", entries[1].OldValue)
}

func TestManager_DiffVersions(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	m := NewManager(s, nil, nil, testLogger())
	seedEntity(t, s, "e1")

	_, err := m.Commit(ctx, Change{EntityID: "e1", Title: "old title", Content: "same body",
		Origin: models.ChangeSourceManual, Actor: models.ActorUser})
	require.NoError(t, err)
	_, err = m.Commit(ctx, Change{EntityID: "e1", Title: "new title", Content: "same body\r\n",
		Tags:   models.TagSet{ContentTags: []string{"笔记"}},
		Origin: models.ChangeSourceManual, Actor: models.ActorUser})
	require.NoError(t, err)

	d, err := m.DiffVersions(ctx, "e1", 1, 2)
	require.NoError(t, err)
	assert.True(t, d.TitleChanged)
	assert.False(t, d.ContentChanged, "line-ending drift is not a content change")
	assert.True(t, d.TagsChanged)

	_, err = m.DiffVersions(ctx, "e1", 1, 99)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
