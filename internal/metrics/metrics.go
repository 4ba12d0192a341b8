// Package metrics provides application-level counters using stdlib expvar.
// Counters are automatically exported on the /debug/vars HTTP endpoint
// when net/http/pprof is imported in the main binary.
package metrics

import "expvar"

// Sync cycle counters.
var (
	SyncCycles      = expvar.NewInt("vaultsync_sync_cycles_total")
	SyncSkippedRuns = expvar.NewInt("vaultsync_sync_skipped_runs_total")
	ItemsCreated    = expvar.NewInt("vaultsync_items_created_total")
	ItemsUpdated    = expvar.NewInt("vaultsync_items_updated_total")
	ItemsSkipped    = expvar.NewInt("vaultsync_items_skipped_total")
	ItemsFailed     = expvar.NewInt("vaultsync_items_failed_total")
)

// Review gate counters.
var (
	ProposalsCreated  = expvar.NewInt("vaultsync_proposals_created_total")
	ProposalsApproved = expvar.NewInt("vaultsync_proposals_approved_total")
	ProposalsModified = expvar.NewInt("vaultsync_proposals_modified_total")
	ProposalsRejected = expvar.NewInt("vaultsync_proposals_rejected_total")
)

// Conflict counters.
var (
	ConflictsOpened       = expvar.NewInt("vaultsync_conflicts_opened_total")
	ConflictsAutoResolved = expvar.NewInt("vaultsync_conflicts_auto_resolved_total")
)

// Projection counters.
var (
	ProjectionsApplied = expvar.NewInt("vaultsync_projections_applied_total")
	ProjectionsFailed  = expvar.NewInt("vaultsync_projections_failed_total")
	ProjectionsRetried = expvar.NewInt("vaultsync_projections_retried_total")
)

// Inc increments the given counter by 1.
func Inc(counter *expvar.Int) { counter.Add(1) }
