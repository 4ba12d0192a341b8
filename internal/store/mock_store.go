package store

import (
	"context"
	"sort"
	"sync"

	"github.com/vaultsync/vaultsync/internal/models"
)

// MockStore is an in-memory implementation of Store for testing.
type MockStore struct {
	mu        sync.RWMutex
	entities  map[string]models.Entity
	versions  map[string][]models.EntityVersion // entityID -> versions
	timeline  map[string][]models.StatusTimelineEntry
	syncState map[string]map[models.Layer]models.SyncState
	proposals map[string]models.ReviewQueueItem
	conflicts map[string]models.ConflictRecord
}

// NewMockStore creates a new empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		entities:  make(map[string]models.Entity),
		versions:  make(map[string][]models.EntityVersion),
		timeline:  make(map[string][]models.StatusTimelineEntry),
		syncState: make(map[string]map[models.Layer]models.SyncState),
		proposals: make(map[string]models.ReviewQueueItem),
		conflicts: make(map[string]models.ConflictRecord),
	}
}

func (m *MockStore) Close() error { return nil }

// --- entities ---

func (m *MockStore) CreateEntity(_ context.Context, e models.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Tags = e.Tags.Clone()
	m.entities[e.ID] = e
	return nil
}

func (m *MockStore) GetEntity(_ context.Context, id string) (*models.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.Tags = e.Tags.Clone()
	return &e, nil
}

func (m *MockStore) GetEntityBySource(_ context.Context, source, sourceID string) (*models.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entities {
		if e.Source == source && e.SourceID == sourceID {
			e.Tags = e.Tags.Clone()
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStore) UpdateEntity(_ context.Context, e models.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.entities[e.ID]
	if !ok {
		return ErrNotFound
	}
	e.CreatedAt = existing.CreatedAt
	e.Tags = e.Tags.Clone()
	m.entities[e.ID] = e
	return nil
}

func (m *MockStore) ListEntities(_ context.Context, filters *EntityFilters, limit, offset int) ([]models.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Entity
	for _, e := range m.entities {
		if filters != nil {
			if filters.Source != "" && e.Source != filters.Source {
				continue
			}
			if filters.ReviewStatus != "" && e.ReviewStatus != filters.ReviewStatus {
				continue
			}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return paginate(out, limit, offset), nil
}

// --- version ledger ---

func (m *MockStore) AppendVersion(_ context.Context, v models.EntityVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.versions[v.EntityID] {
		if m.versions[v.EntityID][i].VersionNumber == v.VersionNumber {
			return ErrVersionExists
		}
	}
	v.TagsSnapshot = v.TagsSnapshot.Clone()
	m.versions[v.EntityID] = append(m.versions[v.EntityID], v)
	return nil
}

func (m *MockStore) GetVersion(_ context.Context, entityID string, number int64) (*models.EntityVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.versions[entityID] {
		if v.VersionNumber == number {
			v.TagsSnapshot = v.TagsSnapshot.Clone()
			return &v, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStore) ListVersions(_ context.Context, entityID string) ([]models.EntityVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]models.EntityVersion(nil), m.versions[entityID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber > out[j].VersionNumber })
	return out, nil
}

func (m *MockStore) MaxVersion(_ context.Context, entityID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var max int64
	for _, v := range m.versions[entityID] {
		if v.VersionNumber > max {
			max = v.VersionNumber
		}
	}
	return max, nil
}

// --- status timeline ---

func (m *MockStore) AppendTimelineEntry(_ context.Context, e models.StatusTimelineEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeline[e.EntityID] = append(m.timeline[e.EntityID], e)
	return nil
}

func (m *MockStore) ListTimeline(_ context.Context, entityID string) ([]models.StatusTimelineEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]models.StatusTimelineEntry(nil), m.timeline[entityID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ChangedAt.After(out[j].ChangedAt) })
	return out, nil
}

// --- sync checkpoints ---

func (m *MockStore) GetSyncState(_ context.Context, entityID string, layer models.Layer) (*models.SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.syncState[entityID][layer]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (m *MockStore) PutSyncState(_ context.Context, st models.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.syncState[st.EntityID] == nil {
		m.syncState[st.EntityID] = make(map[models.Layer]models.SyncState)
	}
	m.syncState[st.EntityID][st.Layer] = st
	return nil
}

func (m *MockStore) ListSyncStates(_ context.Context, entityID string) ([]models.SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.SyncState
	for _, st := range m.syncState[entityID] {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Layer < out[j].Layer })
	return out, nil
}

// --- review queue ---

func (m *MockStore) UpsertPendingProposal(_ context.Context, item models.ReviewQueueItem) (*models.ReviewQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.proposals {
		if p.EntityID == item.EntityID && p.Status == models.ProposalPending {
			item.ID = id
			break
		}
	}
	item.Status = models.ProposalPending
	m.proposals[item.ID] = item
	return &item, nil
}

func (m *MockStore) GetProposal(_ context.Context, id string) (*models.ReviewQueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proposals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MockStore) PendingProposalForEntity(_ context.Context, entityID string) (*models.ReviewQueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.proposals {
		if p.EntityID == entityID && p.Status == models.ProposalPending {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStore) ResolveProposal(_ context.Context, id string, status models.ProposalStatus, action models.ReviewerAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != models.ProposalPending {
		return ErrAlreadyResolved
	}
	p.Status = status
	p.ReviewerAction = &action
	p.ReviewedAt = timeNow()
	m.proposals[id] = p
	return nil
}

func (m *MockStore) ListProposals(_ context.Context, status models.ProposalStatus, limit, offset int) ([]models.ReviewQueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ReviewQueueItem
	for _, p := range m.proposals {
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, limit, offset), nil
}

func (m *MockStore) CountProposals(_ context.Context, status models.ProposalStatus) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, p := range m.proposals {
		if p.Status == status {
			count++
		}
	}
	return count, nil
}

func (m *MockStore) ReviewStats(_ context.Context) (*models.ReviewStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &models.ReviewStats{}
	for _, p := range m.proposals {
		switch p.Status {
		case models.ProposalPending:
			stats.Pending++
		case models.ProposalApproved:
			stats.Approved++
		case models.ProposalModified:
			stats.Modified++
		case models.ProposalRejected:
			stats.Rejected++
		}
		stats.Total++
	}
	return stats, nil
}

// --- conflict records ---

func (m *MockStore) CreateConflict(_ context.Context, c models.ConflictRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Observations = append([]models.LayerObservation(nil), c.Observations...)
	m.conflicts[c.ID] = c
	return nil
}

func (m *MockStore) GetConflict(_ context.Context, id string) (*models.ConflictRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conflicts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MockStore) ListUnresolvedConflicts(_ context.Context) ([]models.ConflictRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ConflictRecord
	for _, c := range m.conflicts {
		if c.Status == models.ResolutionUnresolved {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockStore) ResolveConflict(_ context.Context, id string, status models.ResolutionStatus, resolution string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conflicts[id]
	if !ok {
		return ErrNotFound
	}
	if c.Status != models.ResolutionUnresolved {
		return ErrAlreadyResolved
	}
	c.Status = status
	c.Resolution = resolution
	c.ResolvedAt = timeNow()
	m.conflicts[id] = c
	return nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
