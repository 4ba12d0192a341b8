package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/vaultsync/vaultsync/internal/models"
)

//go:embed schema.sql
var schema string

const timeFormat = time.RFC3339Nano

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (and if needed initializes) the database at path.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	logger.Info("opened sqlite store", "path", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- helpers ---

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding json column: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalJSON(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func fmtNullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(t), Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	return parseTime(s.String)
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	return false
}

// --- entities ---

const entityColumns = `id, source, source_id, title, content, content_type, vault_path,
	metadata, current_version, fingerprint, tags, review_status,
	created_at, updated_at, last_synced_at`

func (s *SQLiteStore) CreateEntity(ctx context.Context, e models.Entity) error {
	meta, err := marshalJSON(e.Metadata)
	if err != nil {
		return err
	}
	tags, err := marshalJSON(e.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (`+entityColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Source, e.SourceID, e.Title, e.Content, e.ContentType, e.VaultPath,
		meta, e.CurrentVersion, e.Fingerprint, tags, string(e.ReviewStatus),
		fmtTime(e.CreatedAt), fmtTime(e.UpdatedAt), fmtNullTime(e.LastSyncedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting entity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanEntity(row interface{ Scan(...any) error }) (*models.Entity, error) {
	var (
		e                          models.Entity
		sourceID, title, content   sql.NullString
		contentType, vaultPath     sql.NullString
		meta, tags, fingerprint    sql.NullString
		createdAt, updatedAt       string
		lastSyncedAt               sql.NullString
		reviewStatus               string
	)
	err := row.Scan(&e.ID, &e.Source, &sourceID, &title, &content, &contentType, &vaultPath,
		&meta, &e.CurrentVersion, &fingerprint, &tags, &reviewStatus,
		&createdAt, &updatedAt, &lastSyncedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning entity: %w", err)
	}
	e.SourceID = sourceID.String
	e.Title = title.String
	e.Content = content.String
	e.ContentType = contentType.String
	e.VaultPath = vaultPath.String
	e.Fingerprint = fingerprint.String
	e.ReviewStatus = models.ReviewStatus(reviewStatus)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	e.LastSyncedAt = parseNullTime(lastSyncedAt)
	if err := unmarshalJSON(meta, &e.Metadata); err != nil {
		return nil, fmt.Errorf("decoding entity metadata: %w", err)
	}
	if err := unmarshalJSON(tags, &e.Tags); err != nil {
		return nil, fmt.Errorf("decoding entity tags: %w", err)
	}
	return &e, nil
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	return s.scanEntity(row)
}

func (s *SQLiteStore) GetEntityBySource(ctx context.Context, source, sourceID string) (*models.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE source = ? AND source_id = ?`, source, sourceID)
	return s.scanEntity(row)
}

func (s *SQLiteStore) UpdateEntity(ctx context.Context, e models.Entity) error {
	meta, err := marshalJSON(e.Metadata)
	if err != nil {
		return err
	}
	tags, err := marshalJSON(e.Tags)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET title = ?, content = ?, content_type = ?, vault_path = ?,
			metadata = ?, current_version = ?, fingerprint = ?, tags = ?,
			review_status = ?, updated_at = ?, last_synced_at = ?
		 WHERE id = ?`,
		e.Title, e.Content, e.ContentType, e.VaultPath,
		meta, e.CurrentVersion, e.Fingerprint, tags,
		string(e.ReviewStatus), fmtTime(e.UpdatedAt), fmtNullTime(e.LastSyncedAt),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("updating entity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating entity: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListEntities(ctx context.Context, filters *EntityFilters, limit, offset int) ([]models.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities`
	var (
		where []string
		args  []any
	)
	if filters != nil {
		if filters.Source != "" {
			where = append(where, "source = ?")
			args = append(args, filters.Source)
		}
		if filters.ReviewStatus != "" {
			where = append(where, "review_status = ?")
			args = append(args, string(filters.ReviewStatus))
		}
	}
	for i, w := range where {
		if i == 0 {
			query += " WHERE " + w
		} else {
			query += " AND " + w
		}
	}
	query += " ORDER BY updated_at DESC LIMIT ? OFFSET ?"
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		e, err := s.scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// --- version ledger ---

func (s *SQLiteStore) AppendVersion(ctx context.Context, v models.EntityVersion) error {
	meta, err := marshalJSON(v.Metadata)
	if err != nil {
		return err
	}
	tags, err := marshalJSON(v.TagsSnapshot)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entity_versions
			(id, entity_id, version_number, title, content, metadata, tags_snapshot,
			 change_source, change_summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.EntityID, v.VersionNumber, v.Title, v.Content, meta, tags,
		string(v.ChangeSource), v.ChangeSummary, fmtTime(v.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrVersionExists
		}
		return fmt.Errorf("appending version: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanVersion(row interface{ Scan(...any) error }) (*models.EntityVersion, error) {
	var (
		v                      models.EntityVersion
		title, content         sql.NullString
		meta, tags             sql.NullString
		changeSource, summary  sql.NullString
		createdAt              string
	)
	err := row.Scan(&v.ID, &v.EntityID, &v.VersionNumber, &title, &content,
		&meta, &tags, &changeSource, &summary, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning version: %w", err)
	}
	v.Title = title.String
	v.Content = content.String
	v.ChangeSource = models.ChangeSource(changeSource.String)
	v.ChangeSummary = summary.String
	v.CreatedAt = parseTime(createdAt)
	if err := unmarshalJSON(meta, &v.Metadata); err != nil {
		return nil, fmt.Errorf("decoding version metadata: %w", err)
	}
	if err := unmarshalJSON(tags, &v.TagsSnapshot); err != nil {
		return nil, fmt.Errorf("decoding version tags: %w", err)
	}
	return &v, nil
}

const versionColumns = `id, entity_id, version_number, title, content, metadata,
	tags_snapshot, change_source, change_summary, created_at`

func (s *SQLiteStore) GetVersion(ctx context.Context, entityID string, number int64) (*models.EntityVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM entity_versions WHERE entity_id = ? AND version_number = ?`,
		entityID, number)
	return s.scanVersion(row)
}

func (s *SQLiteStore) ListVersions(ctx context.Context, entityID string) ([]models.EntityVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM entity_versions WHERE entity_id = ? ORDER BY version_number DESC`,
		entityID)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	defer rows.Close()

	var out []models.EntityVersion
	for rows.Next() {
		v, err := s.scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MaxVersion(ctx context.Context, entityID string) (int64, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version_number) FROM entity_versions WHERE entity_id = ?`, entityID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("querying max version: %w", err)
	}
	return max.Int64, nil
}

// --- status timeline ---

func (s *SQLiteStore) AppendTimelineEntry(ctx context.Context, e models.StatusTimelineEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO status_timeline (id, entity_id, dimension, old_value, new_value, actor, changed_at, note)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EntityID, e.Dimension, e.OldValue, e.NewValue, string(e.Actor), fmtTime(e.ChangedAt), e.Note,
	)
	if err != nil {
		return fmt.Errorf("appending timeline entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListTimeline(ctx context.Context, entityID string) ([]models.StatusTimelineEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, dimension, old_value, new_value, actor, changed_at, note
		 FROM status_timeline WHERE entity_id = ? ORDER BY changed_at DESC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing timeline: %w", err)
	}
	defer rows.Close()

	var out []models.StatusTimelineEntry
	for rows.Next() {
		var (
			e                    models.StatusTimelineEntry
			oldValue, note       sql.NullString
			actor, changedAt     string
		)
		if err := rows.Scan(&e.ID, &e.EntityID, &e.Dimension, &oldValue, &e.NewValue, &actor, &changedAt, &note); err != nil {
			return nil, fmt.Errorf("scanning timeline entry: %w", err)
		}
		e.OldValue = oldValue.String
		e.Note = note.String
		e.Actor = models.Actor(actor)
		e.ChangedAt = parseTime(changedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- sync checkpoints ---

func (s *SQLiteStore) GetSyncState(ctx context.Context, entityID string, layer models.Layer) (*models.SyncState, error) {
	var (
		st           models.SyncState
		fingerprint  sql.NullString
		status       string
		lastSyncedAt sql.NullString
		layerStr     string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT entity_id, layer, fingerprint, status, last_synced_at
		 FROM sync_state WHERE entity_id = ? AND layer = ?`, entityID, string(layer)).
		Scan(&st.EntityID, &layerStr, &fingerprint, &status, &lastSyncedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting sync state: %w", err)
	}
	st.Layer = models.Layer(layerStr)
	st.Fingerprint = fingerprint.String
	st.Status = models.SyncStatus(status)
	st.LastSyncedAt = parseNullTime(lastSyncedAt)
	return &st, nil
}

func (s *SQLiteStore) PutSyncState(ctx context.Context, st models.SyncState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_state (entity_id, layer, fingerprint, status, last_synced_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(entity_id, layer) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			status = excluded.status,
			last_synced_at = excluded.last_synced_at`,
		st.EntityID, string(st.Layer), st.Fingerprint, string(st.Status), fmtNullTime(st.LastSyncedAt),
	)
	if err != nil {
		return fmt.Errorf("putting sync state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSyncStates(ctx context.Context, entityID string) ([]models.SyncState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, layer, fingerprint, status, last_synced_at
		 FROM sync_state WHERE entity_id = ? ORDER BY layer`, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing sync states: %w", err)
	}
	defer rows.Close()

	var out []models.SyncState
	for rows.Next() {
		var (
			st           models.SyncState
			layerStr     string
			fingerprint  sql.NullString
			status       string
			lastSyncedAt sql.NullString
		)
		if err := rows.Scan(&st.EntityID, &layerStr, &fingerprint, &status, &lastSyncedAt); err != nil {
			return nil, fmt.Errorf("scanning sync state: %w", err)
		}
		st.Layer = models.Layer(layerStr)
		st.Fingerprint = fingerprint.String
		st.Status = models.SyncStatus(status)
		st.LastSyncedAt = parseNullTime(lastSyncedAt)
		out = append(out, st)
	}
	return out, rows.Err()
}

// --- review queue ---

const proposalColumns = `id, entity_id, observed_title, observed_content, observed_fingerprint,
	observed_layer, suggestion, status, reviewer_action, created_at, reviewed_at`

func (s *SQLiteStore) UpsertPendingProposal(ctx context.Context, item models.ReviewQueueItem) (*models.ReviewQueueItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	suggestion, err := marshalJSON(item.Suggestion)
	if err != nil {
		return nil, err
	}

	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM review_queue WHERE entity_id = ? AND status = 'pending'`, item.EntityID).
		Scan(&existingID)
	switch {
	case err == nil:
		// Supersede in place: the entity keeps a single pending proposal.
		item.ID = existingID
		_, err = tx.ExecContext(ctx,
			`UPDATE review_queue SET observed_title = ?, observed_content = ?,
				observed_fingerprint = ?, observed_layer = ?, suggestion = ?, created_at = ?
			 WHERE id = ? AND status = 'pending'`,
			item.ObservedTitle, item.ObservedContent, item.ObservedFingerprint,
			string(item.ObservedLayer), suggestion, fmtTime(item.CreatedAt), existingID)
		if err != nil {
			return nil, fmt.Errorf("superseding proposal: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO review_queue
				(id, entity_id, observed_title, observed_content, observed_fingerprint,
				 observed_layer, suggestion, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?)`,
			item.ID, item.EntityID, item.ObservedTitle, item.ObservedContent,
			item.ObservedFingerprint, string(item.ObservedLayer), suggestion, fmtTime(item.CreatedAt))
		if err != nil {
			return nil, fmt.Errorf("inserting proposal: %w", err)
		}
	default:
		return nil, fmt.Errorf("checking pending proposal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing proposal: %w", err)
	}
	item.Status = models.ProposalPending
	return &item, nil
}

func (s *SQLiteStore) scanProposal(row interface{ Scan(...any) error }) (*models.ReviewQueueItem, error) {
	var (
		item                           models.ReviewQueueItem
		obsTitle, obsContent           sql.NullString
		obsFingerprint, obsLayer       sql.NullString
		suggestion, reviewerAction     sql.NullString
		status, createdAt              string
		reviewedAt                     sql.NullString
	)
	err := row.Scan(&item.ID, &item.EntityID, &obsTitle, &obsContent, &obsFingerprint,
		&obsLayer, &suggestion, &status, &reviewerAction, &createdAt, &reviewedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning proposal: %w", err)
	}
	item.ObservedTitle = obsTitle.String
	item.ObservedContent = obsContent.String
	item.ObservedFingerprint = obsFingerprint.String
	item.ObservedLayer = models.Layer(obsLayer.String)
	item.Status = models.ProposalStatus(status)
	item.CreatedAt = parseTime(createdAt)
	item.ReviewedAt = parseNullTime(reviewedAt)
	if err := unmarshalJSON(suggestion, &item.Suggestion); err != nil {
		return nil, fmt.Errorf("decoding suggestion: %w", err)
	}
	if reviewerAction.Valid {
		var action models.ReviewerAction
		if err := unmarshalJSON(reviewerAction, &action); err != nil {
			return nil, fmt.Errorf("decoding reviewer action: %w", err)
		}
		item.ReviewerAction = &action
	}
	return &item, nil
}

func (s *SQLiteStore) GetProposal(ctx context.Context, id string) (*models.ReviewQueueItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM review_queue WHERE id = ?`, id)
	return s.scanProposal(row)
}

func (s *SQLiteStore) PendingProposalForEntity(ctx context.Context, entityID string) (*models.ReviewQueueItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM review_queue WHERE entity_id = ? AND status = 'pending'`, entityID)
	return s.scanProposal(row)
}

func (s *SQLiteStore) ResolveProposal(ctx context.Context, id string, status models.ProposalStatus, action models.ReviewerAction) error {
	actionJSON, err := marshalJSON(action)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_queue SET status = ?, reviewer_action = ?, reviewed_at = ?
		 WHERE id = ? AND status = 'pending'`,
		string(status), actionJSON, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("resolving proposal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolving proposal: %w", err)
	}
	if n == 0 {
		// Distinguish missing from already-resolved for the caller.
		var existing string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM review_queue WHERE id = ?`, id).Scan(&existing)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("resolving proposal: %w", err)
		}
		return ErrAlreadyResolved
	}
	return nil
}

func (s *SQLiteStore) ListProposals(ctx context.Context, status models.ProposalStatus, limit, offset int) ([]models.ReviewQueueItem, error) {
	query := `SELECT ` + proposalColumns + ` FROM review_queue`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing proposals: %w", err)
	}
	defer rows.Close()

	var out []models.ReviewQueueItem
	for rows.Next() {
		item, err := s.scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountProposals(ctx context.Context, status models.ProposalStatus) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_queue WHERE status = ?`, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting proposals: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) ReviewStats(ctx context.Context) (*models.ReviewStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM review_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("querying review stats: %w", err)
	}
	defer rows.Close()

	stats := &models.ReviewStats{}
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning review stats: %w", err)
		}
		switch models.ProposalStatus(status) {
		case models.ProposalPending:
			stats.Pending = count
		case models.ProposalApproved:
			stats.Approved = count
		case models.ProposalModified:
			stats.Modified = count
		case models.ProposalRejected:
			stats.Rejected = count
		}
		stats.Total += count
	}
	return stats, rows.Err()
}

// --- conflict records ---

func (s *SQLiteStore) CreateConflict(ctx context.Context, c models.ConflictRecord) error {
	obs, err := marshalJSON(c.Observations)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conflict_records (id, entity_id, observations, status, resolution, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.EntityID, obs, string(c.Status), c.Resolution, fmtTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting conflict record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanConflict(row interface{ Scan(...any) error }) (*models.ConflictRecord, error) {
	var (
		c                      models.ConflictRecord
		obs                    sql.NullString
		status, createdAt      string
		resolution, resolvedAt sql.NullString
	)
	err := row.Scan(&c.ID, &c.EntityID, &obs, &status, &resolution, &createdAt, &resolvedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning conflict record: %w", err)
	}
	c.Status = models.ResolutionStatus(status)
	c.Resolution = resolution.String
	c.CreatedAt = parseTime(createdAt)
	c.ResolvedAt = parseNullTime(resolvedAt)
	if err := unmarshalJSON(obs, &c.Observations); err != nil {
		return nil, fmt.Errorf("decoding conflict observations: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) GetConflict(ctx context.Context, id string) (*models.ConflictRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, entity_id, observations, status, resolution, created_at, resolved_at
		 FROM conflict_records WHERE id = ?`, id)
	return s.scanConflict(row)
}

func (s *SQLiteStore) ListUnresolvedConflicts(ctx context.Context) ([]models.ConflictRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, observations, status, resolution, created_at, resolved_at
		 FROM conflict_records WHERE status = 'unresolved' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing conflicts: %w", err)
	}
	defer rows.Close()

	var out []models.ConflictRecord
	for rows.Next() {
		c, err := s.scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ResolveConflict(ctx context.Context, id string, status models.ResolutionStatus, resolution string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conflict_records SET status = ?, resolution = ?, resolved_at = ?
		 WHERE id = ? AND status = 'unresolved'`,
		string(status), resolution, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("resolving conflict: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolving conflict: %w", err)
	}
	if n == 0 {
		var existing string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM conflict_records WHERE id = ?`, id).Scan(&existing)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("resolving conflict: %w", err)
		}
		return ErrAlreadyResolved
	}
	return nil
}
