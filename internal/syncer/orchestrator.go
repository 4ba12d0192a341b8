package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaultsync/vaultsync/internal/detector"
	"github.com/vaultsync/vaultsync/internal/metrics"
	"github.com/vaultsync/vaultsync/internal/models"
	"github.com/vaultsync/vaultsync/internal/review"
	"github.com/vaultsync/vaultsync/internal/store"
	"github.com/vaultsync/vaultsync/internal/suggest"
	"github.com/vaultsync/vaultsync/internal/taxonomy"
	"github.com/vaultsync/vaultsync/internal/version"
)

// ErrSyncRunning is returned when a requested run covers a source that
// is already mid-cycle. The caller gets told, not queued.
var ErrSyncRunning = errors.New("sync already running")

const defaultItemTimeout = 30 * time.Second

// Resolver handles conflicting detection outcomes. Implemented by
// conflict.Resolver.
type Resolver interface {
	HandleDivergence(ctx context.Context, entityID string, observations []models.LayerObservation) (*models.ConflictRecord, error)
}

// Committer is the direct-commit path for changes that bypass the gate
// (auto-trusted entities with an empty suggestion). Implemented by
// version.Manager.
type Committer interface {
	Commit(ctx context.Context, ch version.Change) (*models.EntityVersion, error)
}

// RunStats summarizes one sync cycle.
type RunStats struct {
	Scope      string    `json:"scope"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Proposed   int       `json:"proposed"`
	Skipped    int       `json:"skipped"`
	Conflicts  int       `json:"conflicts"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Orchestrator drives sync cycles across the registered adapters.
type Orchestrator struct {
	store       store.Store
	detector    *detector.Detector
	suggester   suggest.Suggester
	taxonomy    *taxonomy.Loader
	gate        *review.Gate
	resolver    Resolver
	committer   Committer
	logger      *slog.Logger
	itemTimeout time.Duration

	mu         sync.Mutex
	adapters   []Adapter
	running    map[string]bool
	lastPull   map[string]time.Time
	lastStats  map[string]RunStats
	pullPolicy map[string]PullOptions
}

// NewOrchestrator creates an Orchestrator. Adapters are registered
// afterwards with Register.
func NewOrchestrator(st store.Store, det *detector.Detector, sug suggest.Suggester, tax *taxonomy.Loader, gate *review.Gate, res Resolver, committer Committer, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:       st,
		detector:    det,
		suggester:   sug,
		taxonomy:    tax,
		gate:        gate,
		resolver:    res,
		committer:   committer,
		logger:      logger,
		itemTimeout: defaultItemTimeout,
		running:     make(map[string]bool),
		lastPull:    make(map[string]time.Time),
		lastStats:   make(map[string]RunStats),
		pullPolicy:  make(map[string]PullOptions),
	}
}

// SetPullPolicy bounds every pull for the named adapter: at most limit
// items per cycle, selected in the given order. A zero limit leaves the
// pull unbounded.
func (o *Orchestrator) SetPullPolicy(name string, limit int, order Order) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pullPolicy[name] = PullOptions{Limit: limit, Order: order}
}

// Register adds an adapter to the cycle.
func (o *Orchestrator) Register(a Adapter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.adapters = append(o.adapters, a)
}

// SetItemTimeout bounds the time spent on a single item. One slow or
// hung item must not stall the rest of the cycle.
func (o *Orchestrator) SetItemTimeout(d time.Duration) {
	if d > 0 {
		o.itemTimeout = d
	}
}

// Run executes one full sync cycle over all registered adapters.
// Observations for the same entity from different layers are grouped
// before detection, so cross-layer divergence surfaces as a conflict
// instead of two independent changes. Returns ErrSyncRunning when any
// registered source is already mid-cycle.
func (o *Orchestrator) Run(ctx context.Context) (*RunStats, error) {
	return o.run(ctx, "all", o.snapshot())
}

// RunAdapter executes one cycle for a single adapter by name. Returns
// ErrSyncRunning when that source is already being pulled, whether by
// a full cycle or another single-source run.
func (o *Orchestrator) RunAdapter(ctx context.Context, name string) (*RunStats, error) {
	for _, a := range o.snapshot() {
		if a.Name() == name {
			return o.run(ctx, name, []Adapter{a})
		}
	}
	return nil, fmt.Errorf("no adapter registered as %q", name)
}

// Status returns the most recent stats per run scope.
func (o *Orchestrator) Status() map[string]RunStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]RunStats, len(o.lastStats))
	for k, v := range o.lastStats {
		out[k] = v
	}
	return out
}

func (o *Orchestrator) snapshot() []Adapter {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Adapter(nil), o.adapters...)
}

// acquire locks every adapter in the run, all or nothing. The lock is
// per source, not per trigger: a full cycle and a single-source trigger
// contend on the same entry, so one source is never pulled by two
// cycles at once.
func (o *Orchestrator) acquire(adapters []Adapter) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, a := range adapters {
		if o.running[a.Name()] {
			return false
		}
	}
	for _, a := range adapters {
		o.running[a.Name()] = true
	}
	return true
}

func (o *Orchestrator) release(scope string, adapters []Adapter, stats RunStats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, a := range adapters {
		delete(o.running, a.Name())
	}
	o.lastStats[scope] = stats
}

// observation pairs a pulled item with the layer it came from.
type observation struct {
	adapter Adapter
	item    SourceItem
}

func (o *Orchestrator) run(ctx context.Context, scope string, adapters []Adapter) (*RunStats, error) {
	if !o.acquire(adapters) {
		metrics.Inc(metrics.SyncSkippedRuns)
		o.logger.Warn("sync requested while running", "scope", scope)
		return nil, ErrSyncRunning
	}
	stats := RunStats{Scope: scope, StartedAt: time.Now().UTC()}
	defer func() {
		stats.FinishedAt = time.Now().UTC()
		o.release(scope, adapters, stats)
	}()
	metrics.Inc(metrics.SyncCycles)

	// One taxonomy snapshot per cycle: a reload mid-run must not mix
	// vocabularies within the same batch of suggestions.
	tax := o.taxonomy.Current()

	// Pull everything first, then group by entity.
	grouped := make(map[string][]observation)
	var order []string
	for _, a := range adapters {
		items, err := o.pull(ctx, a)
		if err != nil {
			o.logger.Error("pull failed", "adapter", a.Name(), "error", err)
			stats.Failed++
			continue
		}
		o.logger.Info("pulled items", "adapter", a.Name(), "layer", a.Layer(), "count", len(items))
		for i := range items {
			item := items[i]
			entity, err := o.resolveEntity(ctx, a, item)
			switch {
			case errors.Is(err, store.ErrNotFound):
				o.ingestNew(ctx, a, item, tax, &stats)
				continue
			case err != nil:
				o.logger.Error("resolving entity", "adapter", a.Name(),
					"source_id", item.SourceID, "error", err)
				stats.Failed++
				metrics.Inc(metrics.ItemsFailed)
				continue
			}
			if _, seen := grouped[entity.ID]; !seen {
				order = append(order, entity.ID)
			}
			grouped[entity.ID] = append(grouped[entity.ID], observation{adapter: a, item: item})
		}
	}

	for _, entityID := range order {
		o.processEntity(ctx, entityID, grouped[entityID], tax, &stats)
	}

	o.logger.Info("sync cycle complete", "scope", scope,
		"created", stats.Created, "updated", stats.Updated, "proposed", stats.Proposed,
		"skipped", stats.Skipped, "conflicts", stats.Conflicts, "failed", stats.Failed,
		"duration", time.Since(stats.StartedAt).Round(time.Millisecond))
	return &stats, nil
}

func (o *Orchestrator) pull(ctx context.Context, a Adapter) ([]SourceItem, error) {
	o.mu.Lock()
	opts := o.pullPolicy[a.Name()]
	opts.Since = o.lastPull[a.Name()]
	o.mu.Unlock()

	items, err := a.Pull(ctx, opts)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.lastPull[a.Name()] = time.Now().UTC()
	o.mu.Unlock()
	return items, nil
}

func (o *Orchestrator) resolveEntity(ctx context.Context, a Adapter, item SourceItem) (*models.Entity, error) {
	if item.EntityID != "" {
		return o.store.GetEntity(ctx, item.EntityID)
	}
	return o.store.GetEntityBySource(ctx, a.Name(), item.SourceID)
}

// ingestNew stores a brand-new entity with its initial version and
// enqueues the tag proposal. Content is durable immediately; tags and
// downstream projection wait for the reviewer.
func (o *Orchestrator) ingestNew(ctx context.Context, a Adapter, item SourceItem, tax *taxonomy.Snapshot, stats *RunStats) {
	ctx, cancel := context.WithTimeout(ctx, o.itemTimeout)
	defer cancel()

	now := time.Now().UTC()
	fp := detector.Fingerprint(item.Content)
	entity := models.Entity{
		ID:             uuid.NewString(),
		Source:         a.Name(),
		SourceID:       item.SourceID,
		Title:          item.Title,
		Content:        item.Content,
		ContentType:    item.ContentType,
		Metadata:       item.Metadata,
		CurrentVersion: 1,
		Fingerprint:    fp,
		ReviewStatus:   models.ReviewStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.store.CreateEntity(ctx, entity); err != nil {
		o.logger.Error("creating entity", "adapter", a.Name(), "source_id", item.SourceID, "error", err)
		stats.Failed++
		metrics.Inc(metrics.ItemsFailed)
		return
	}
	err := o.store.AppendVersion(ctx, models.EntityVersion{
		ID:            uuid.NewString(),
		EntityID:      entity.ID,
		VersionNumber: 1,
		Title:         item.Title,
		Content:       item.Content,
		Metadata:      item.Metadata,
		ChangeSource:  models.ChangeSourceSync,
		ChangeSummary: fmt.Sprintf("imported from %s", a.Name()),
		CreatedAt:     now,
	})
	if err != nil {
		o.logger.Error("recording initial version", "entity", entity.ID, "error", err)
		stats.Failed++
		metrics.Inc(metrics.ItemsFailed)
		return
	}

	// Items the layer could not cleanly parse get no suggestion: the
	// reviewer decides what the raw content is before anything tags it.
	var suggestion models.Suggestion
	if item.ParseError == "" {
		suggestion = o.suggestTags(ctx, item.Title, item.Content, tax)
	} else {
		o.logger.Warn("item queued for review with extraction error",
			"adapter", a.Name(), "source_id", item.SourceID, "error", item.ParseError)
	}
	_, err = o.gate.Propose(ctx, review.ProposeRequest{
		EntityID:            entity.ID,
		ObservedTitle:       item.Title,
		ObservedContent:     item.Content,
		ObservedFingerprint: fp,
		ObservedLayer:       a.Layer(),
		Suggestion:          suggestion,
	})
	if err != nil {
		o.logger.Error("proposing for new entity", "entity", entity.ID, "error", err)
		stats.Failed++
		metrics.Inc(metrics.ItemsFailed)
		return
	}

	stats.Created++
	stats.Proposed++
	metrics.Inc(metrics.ItemsCreated)
	o.logger.Info("entity ingested", "entity", entity.ID, "adapter", a.Name(),
		"source_id", item.SourceID, "title", item.Title)
}

func (o *Orchestrator) processEntity(ctx context.Context, entityID string, obs []observation, tax *taxonomy.Snapshot, stats *RunStats) {
	ctx, cancel := context.WithTimeout(ctx, o.itemTimeout)
	defer cancel()

	layerObs := make([]models.LayerObservation, len(obs))
	parseFailed := false
	for i := range obs {
		if obs[i].item.ParseError != "" {
			parseFailed = true
		}
		layerObs[i] = models.LayerObservation{
			Layer:       obs[i].adapter.Layer(),
			Title:       obs[i].item.Title,
			Content:     obs[i].item.Content,
			Fingerprint: detector.Fingerprint(obs[i].item.Content),
			ObservedAt:  observedAt(obs[i].item),
		}
	}

	outcome, err := o.detector.Detect(ctx, entityID, layerObs)
	if err != nil {
		o.logger.Error("change detection", "entity", entityID, "error", err)
		stats.Failed++
		metrics.Inc(metrics.ItemsFailed)
		return
	}

	switch outcome.Result {
	case detector.ResultUnchanged:
		stats.Skipped++
		metrics.Inc(metrics.ItemsSkipped)

	case detector.ResultChanged:
		o.handleChanged(ctx, entityID, outcome.Diverged, tax, parseFailed, stats)

	case detector.ResultConflicting:
		if _, err := o.resolver.HandleDivergence(ctx, entityID, outcome.Diverged); err != nil {
			o.logger.Error("handling divergence", "entity", entityID, "error", err)
			stats.Failed++
			metrics.Inc(metrics.ItemsFailed)
			return
		}
		stats.Conflicts++
	}
}

// handleChanged routes a single-direction change. The default path is a
// review proposal; entities the user marked auto-trusted skip the gate
// when the suggester has nothing to add. A change the layer could not
// cleanly parse always goes to the reviewer, suggestion-free, even on
// auto-trusted entities.
func (o *Orchestrator) handleChanged(ctx context.Context, entityID string, diverged []models.LayerObservation, tax *taxonomy.Snapshot, parseFailed bool, stats *RunStats) {
	// Several layers may have drifted in agreement; any one of them
	// carries the new content.
	obs := diverged[0]

	entity, err := o.store.GetEntity(ctx, entityID)
	if err != nil {
		o.logger.Error("loading changed entity", "entity", entityID, "error", err)
		stats.Failed++
		metrics.Inc(metrics.ItemsFailed)
		return
	}

	var suggestion models.Suggestion
	if !parseFailed {
		suggestion = o.suggestTags(ctx, obs.Title, obs.Content, tax)
	}

	if entity.ReviewStatus == models.ReviewStatusAutoTrusted && suggestion.IsEmpty() && !parseFailed {
		o.commitTrusted(ctx, entity, diverged, stats)
		return
	}

	_, err = o.gate.Propose(ctx, review.ProposeRequest{
		EntityID:            entityID,
		ObservedTitle:       obs.Title,
		ObservedContent:     obs.Content,
		ObservedFingerprint: obs.Fingerprint,
		ObservedLayer:       obs.Layer,
		Suggestion:          suggestion,
	})
	if err != nil {
		o.logger.Error("proposing change", "entity", entityID, "error", err)
		stats.Failed++
		metrics.Inc(metrics.ItemsFailed)
		return
	}
	stats.Updated++
	stats.Proposed++
	metrics.Inc(metrics.ItemsUpdated)
}

// commitTrusted records a content-only change for an auto-trusted
// entity without reviewer involvement. Tags are untouched, so the
// mandatory-review invariant holds: nothing suggested, nothing applied.
func (o *Orchestrator) commitTrusted(ctx context.Context, entity *models.Entity, diverged []models.LayerObservation, stats *RunStats) {
	obs := diverged[0]
	_, err := o.committer.Commit(ctx, version.Change{
		EntityID: entity.ID,
		Title:    obs.Title,
		Content:  obs.Content,
		Tags:     entity.Tags.Clone(),
		Origin:   originForLayer(obs.Layer),
		Summary:  fmt.Sprintf("auto-trusted content update from %s", obs.Layer),
		Actor:    models.ActorSourceSync,
	})
	if err != nil {
		o.logger.Error("committing trusted change", "entity", entity.ID, "error", err)
		stats.Failed++
		metrics.Inc(metrics.ItemsFailed)
		return
	}
	for i := range diverged {
		err := o.store.PutSyncState(ctx, models.SyncState{
			EntityID:     entity.ID,
			Layer:        diverged[i].Layer,
			Fingerprint:  diverged[i].Fingerprint,
			Status:       models.SyncStatusSynced,
			LastSyncedAt: time.Now().UTC(),
		})
		if err != nil {
			o.logger.Error("updating checkpoint", "entity", entity.ID,
				"layer", diverged[i].Layer, "error", err)
		}
	}
	stats.Updated++
	metrics.Inc(metrics.ItemsUpdated)
	o.logger.Info("auto-trusted change committed", "entity", entity.ID, "layer", obs.Layer)
}

// suggestTags degrades gracefully: a suggester failure yields an empty
// suggestion and a warning, never a failed item. The reviewer can still
// approve the content change with manual tags.
func (o *Orchestrator) suggestTags(ctx context.Context, title, content string, tax *taxonomy.Snapshot) models.Suggestion {
	if o.suggester == nil {
		return models.Suggestion{}
	}
	suggestion, err := o.suggester.Suggest(ctx, title, content, tax)
	if err != nil {
		o.logger.Warn("tag suggestion unavailable", "title", title, "error", err)
		return models.Suggestion{}
	}
	return suggestion
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

func observedAt(item SourceItem) time.Time {
	if !item.UpdatedAt.IsZero() {
		return item.UpdatedAt
	}
	return time.Now().UTC()
}
