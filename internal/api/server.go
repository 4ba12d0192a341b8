package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vaultsync/vaultsync/internal/conflict"
	"github.com/vaultsync/vaultsync/internal/models"
	"github.com/vaultsync/vaultsync/internal/review"
	"github.com/vaultsync/vaultsync/internal/store"
	"github.com/vaultsync/vaultsync/internal/syncer"
	"github.com/vaultsync/vaultsync/internal/version"
)

// Server is the HTTP API: the review surface plus sync, version, and
// conflict operations.
type Server struct {
	store     store.Store
	gate      *review.Gate
	orch      *syncer.Orchestrator
	versions  *version.Manager
	resolver  *conflict.Resolver
	logger    *slog.Logger
	authToken string // empty = no auth required
}

// NewServer creates a new Server with the given dependencies.
func NewServer(st store.Store, gate *review.Gate, orch *syncer.Orchestrator, versions *version.Manager, resolver *conflict.Resolver, logger *slog.Logger, authToken string) *Server {
	return &Server{
		store:     st,
		gate:      gate,
		orch:      orch,
		versions:  versions,
		resolver:  resolver,
		logger:    logger,
		authToken: authToken,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check — no auth required.
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	// Review gate.
	mux.HandleFunc("GET /v1/review/pending", s.auth(s.handlePending))
	mux.HandleFunc("GET /v1/review/count", s.auth(s.handlePendingCount))
	mux.HandleFunc("GET /v1/review/stats", s.auth(s.handleReviewStats))
	mux.HandleFunc("GET /v1/review/{id}", s.auth(s.handleGetProposal))
	mux.HandleFunc("POST /v1/review/{id}/approve", s.auth(s.handleApprove))
	mux.HandleFunc("POST /v1/review/{id}/modify", s.auth(s.handleModify))
	mux.HandleFunc("POST /v1/review/{id}/reject", s.auth(s.handleReject))
	mux.HandleFunc("POST /v1/review/batch-approve", s.auth(s.handleBatchApprove))

	// Sync.
	mux.HandleFunc("POST /v1/sync", s.auth(s.handleSync))
	mux.HandleFunc("GET /v1/sync/status", s.auth(s.handleSyncStatus))
	mux.HandleFunc("POST /v1/reproject", s.auth(s.handleReproject))

	// Entities, versions, timeline.
	mux.HandleFunc("GET /v1/entities", s.auth(s.handleListEntities))
	mux.HandleFunc("GET /v1/entities/{id}", s.auth(s.handleGetEntity))
	mux.HandleFunc("GET /v1/entities/{id}/versions", s.auth(s.handleListVersions))
	mux.HandleFunc("GET /v1/entities/{id}/versions/{n}", s.auth(s.handleGetVersion))
	mux.HandleFunc("GET /v1/entities/{id}/diff", s.auth(s.handleDiff))
	mux.HandleFunc("GET /v1/entities/{id}/timeline", s.auth(s.handleTimeline))
	mux.HandleFunc("GET /v1/entities/{id}/sync-states", s.auth(s.handleSyncStates))

	// Conflicts.
	mux.HandleFunc("GET /v1/conflicts", s.auth(s.handleListConflicts))
	mux.HandleFunc("POST /v1/conflicts/{id}/resolve", s.auth(s.handleResolveConflict))

	return mux
}

// --- middleware ---

// auth wraps a handler with Bearer token authentication when authToken is set.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	items, err := s.gate.Pending(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("failed to list pending proposals", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list pending proposals")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handlePendingCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.gate.PendingCount(r.Context())
	if err != nil {
		s.logger.Error("failed to count pending proposals", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to count pending proposals")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"pending": count})
}

func (s *Server) handleReviewStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.gate.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to get review stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get review stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	item, err := s.gate.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "proposal not found")
			return
		}
		s.logger.Error("failed to get proposal", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get proposal")
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.gate.Approve(r.Context(), id); err != nil {
		s.writeDispositionError(w, id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "approved"})
}

func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var overrides review.Overrides
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := r.PathValue("id")
	if err := s.gate.Modify(r.Context(), id, overrides); err != nil {
		s.writeDispositionError(w, id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "modified"})
}

// rejectRequest is the body accepted by POST /v1/review/{id}/reject.
type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req rejectRequest
	// Reason is optional; an empty or absent body is fine.
	_ = json.NewDecoder(r.Body).Decode(&req)
	id := r.PathValue("id")
	if err := s.gate.Reject(r.Context(), id, req.Reason); err != nil {
		s.writeDispositionError(w, id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "rejected"})
}

// batchApproveRequest is the body accepted by POST /v1/review/batch-approve.
type batchApproveRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleBatchApprove(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req batchApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		s.writeError(w, http.StatusBadRequest, "ids is required")
		return
	}
	result := s.gate.BatchApprove(r.Context(), req.IDs)
	s.writeJSON(w, http.StatusOK, result)
}

// syncRequest is the body accepted by POST /v1/sync.
type syncRequest struct {
	Source string `json:"source"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req syncRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // empty body = full cycle

	var stats *syncer.RunStats
	var err error
	if req.Source == "" {
		stats, err = s.orch.Run(r.Context())
	} else {
		stats, err = s.orch.RunAdapter(r.Context(), req.Source)
	}
	if err != nil {
		if errors.Is(err, syncer.ErrSyncRunning) {
			s.writeError(w, http.StatusConflict, "sync already running")
			return
		}
		s.logger.Error("sync failed", "source", req.Source, "error", err)
		s.writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) handleReproject(w http.ResponseWriter, r *http.Request) {
	retried, failed, err := s.versions.Reproject(r.Context())
	if err != nil {
		s.logger.Error("reprojection failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "reprojection failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"retried": retried, "failed": failed})
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	var filters *store.EntityFilters
	source := r.URL.Query().Get("source")
	reviewStatus := r.URL.Query().Get("review_status")
	if source != "" || reviewStatus != "" {
		filters = &store.EntityFilters{
			Source:       source,
			ReviewStatus: models.ReviewStatus(reviewStatus),
		}
	}
	entities, err := s.store.ListEntities(r.Context(), filters, limit, offset)
	if err != nil {
		s.logger.Error("failed to list entities", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list entities")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	entity, err := s.store.GetEntity(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "entity not found")
			return
		}
		s.logger.Error("failed to get entity", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get entity")
		return
	}
	s.writeJSON(w, http.StatusOK, entity)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.store.ListVersions(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("failed to list versions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list versions")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseInt(r.PathValue("n"), 10, 64)
	if err != nil || n <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid version number")
		return
	}
	v, err := s.store.GetVersion(r.Context(), r.PathValue("id"), n)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "version not found")
			return
		}
		s.logger.Error("failed to get version", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get version")
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	from, err1 := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	to, err2 := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
	if err1 != nil || err2 != nil || from <= 0 || to <= 0 {
		s.writeError(w, http.StatusBadRequest, "from and to version numbers are required")
		return
	}
	diff, err := s.versions.DiffVersions(r.Context(), r.PathValue("id"), from, to)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "version not found")
			return
		}
		s.logger.Error("failed to diff versions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to diff versions")
		return
	}
	s.writeJSON(w, http.StatusOK, diff)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListTimeline(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("failed to list timeline", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list timeline")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"timeline": entries})
}

func (s *Server) handleSyncStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.store.ListSyncStates(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("failed to list sync states", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list sync states")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sync_states": states})
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := s.resolver.Unresolved(r.Context())
	if err != nil {
		s.logger.Error("failed to list conflicts", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list conflicts")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var choice conflict.Choice
	if err := json.NewDecoder(r.Body).Decode(&choice); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if choice.Layer == "" && choice.CustomContent == "" {
		s.writeError(w, http.StatusBadRequest, "layer or custom_content is required")
		return
	}
	v, err := s.resolver.Resolve(r.Context(), r.PathValue("id"), choice)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "conflict not found")
		case errors.Is(err, conflict.ErrAlreadyResolved):
			s.writeError(w, http.StatusConflict, "conflict already resolved")
		default:
			s.logger.Error("failed to resolve conflict", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to resolve conflict")
		}
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

// --- helpers ---

// writeDispositionError maps review gate errors to HTTP statuses. A
// lost first-writer-wins race is a 409, not a 500.
func (s *Server) writeDispositionError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "proposal not found")
	case errors.Is(err, review.ErrAlreadyResolved):
		s.writeError(w, http.StatusConflict, "proposal already resolved")
	default:
		s.logger.Error("disposition failed", "proposal", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "disposition failed")
	}
}

func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		s.logger.Error("failed to encode response", "error", encErr)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
// This is a convenience helper used by the serve command.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
