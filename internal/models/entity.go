package models

import "time"

// Layer identifies one of the independently-writable stores holding a
// copy of an entity.
type Layer string

const (
	// LayerSource is the external system the entity was ingested from
	// (e.g. a notes or reminders application).
	LayerSource Layer = "source"
	// LayerVault is the intermediate markdown document store.
	LayerVault Layer = "vault"
	// LayerIndex covers the structured downstream stores (search index
	// and knowledge graph), which are projected together.
	LayerIndex Layer = "index"
)

// ValidLayers is the set of all recognized layers.
var ValidLayers = []Layer{LayerSource, LayerVault, LayerIndex}

// IsValid returns true if the layer is recognized.
func (l Layer) IsValid() bool {
	for i := range ValidLayers {
		if l == ValidLayers[i] {
			return true
		}
	}
	return false
}

// ReviewStatus is an entity's position relative to the review gate.
type ReviewStatus string

const (
	ReviewStatusPending     ReviewStatus = "pending"
	ReviewStatusReviewed    ReviewStatus = "reviewed"
	ReviewStatusAutoTrusted ReviewStatus = "auto-trusted"
)

// ChangeSource records where a content change originated.
type ChangeSource string

const (
	ChangeSourceSync   ChangeSource = "source-sync"
	ChangeSourceManual ChangeSource = "manual-edit"
	ChangeSourceAPI    ChangeSource = "api"
)

// Actor identifies who or what performed a status transition.
type Actor string

const (
	ActorUser          Actor = "user"
	ActorSourceSync    Actor = "source-sync"
	ActorTagSuggestion Actor = "tag-suggestion"
)

// TagSet is the full tag state attached to an entity at a point in time:
// hierarchical folder tags, flat content tags, and one value per status
// dimension.
type TagSet struct {
	FolderTags  []string          `json:"folder_tags,omitempty"`
	ContentTags []string          `json:"content_tags,omitempty"`
	Status      map[string]string `json:"status,omitempty"`
}

// Clone returns a deep copy of the tag set.
func (t TagSet) Clone() TagSet {
	out := TagSet{}
	if len(t.FolderTags) > 0 {
		out.FolderTags = append([]string(nil), t.FolderTags...)
	}
	if len(t.ContentTags) > 0 {
		out.ContentTags = append([]string(nil), t.ContentTags...)
	}
	if len(t.Status) > 0 {
		out.Status = make(map[string]string, len(t.Status))
		for k, v := range t.Status {
			out.Status[k] = v
		}
	}
	return out
}

// IsEmpty reports whether the tag set carries no tags and no status values.
func (t TagSet) IsEmpty() bool {
	return len(t.FolderTags) == 0 && len(t.ContentTags) == 0 && len(t.Status) == 0
}

// Entity is the unit of knowledge tracked across layers.
type Entity struct {
	ID             string         `json:"id"`
	Source         string         `json:"source"`
	SourceID       string         `json:"source_id,omitempty"` // empty for directly-created entities
	Title          string         `json:"title"`
	Content        string         `json:"content"`
	ContentType    string         `json:"content_type"`
	VaultPath      string         `json:"vault_path,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CurrentVersion int64          `json:"current_version"`
	Fingerprint    string         `json:"fingerprint"`
	Tags           TagSet         `json:"tags"`
	ReviewStatus   ReviewStatus   `json:"review_status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	LastSyncedAt   time.Time      `json:"last_synced_at,omitempty"`
}

// EntityVersion is an immutable full-content snapshot of an entity.
// Versions are numbered per entity, strictly increasing with no gaps,
// and are never mutated or deleted once written.
type EntityVersion struct {
	ID            string         `json:"id"`
	EntityID      string         `json:"entity_id"`
	VersionNumber int64          `json:"version_number"`
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	TagsSnapshot  TagSet         `json:"tags_snapshot"`
	ChangeSource  ChangeSource   `json:"change_source"`
	ChangeSummary string         `json:"change_summary,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// StatusTimelineEntry records one discrete transition of one status
// dimension, independent of content versioning.
type StatusTimelineEntry struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entity_id"`
	Dimension string    `json:"dimension"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value"`
	Actor     Actor     `json:"actor"`
	ChangedAt time.Time `json:"changed_at"`
	Note      string    `json:"note,omitempty"`
}

// SyncStatus is the state of one (entity, layer) checkpoint.
type SyncStatus string

const (
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusConflict SyncStatus = "conflict"
)

// SyncState is the per-(entity, layer) checkpoint the change detector
// diffs against. It is the only mutable piece of sync bookkeeping and
// is always overwritten, never versioned.
type SyncState struct {
	EntityID     string     `json:"entity_id"`
	Layer        Layer      `json:"layer"`
	Fingerprint  string     `json:"fingerprint"`
	Status       SyncStatus `json:"status"`
	LastSyncedAt time.Time  `json:"last_synced_at"`
}
