package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteConfig contains configuration for the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is how long to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/ctrl.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStore opens the database, applies the schema, and verifies
// the schema version.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	logger := slog.Default().With("component", "audit.sqlite")

	if dir := filepath.Dir(config.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, NewStorageError("sqlite", "mkdir", err)
		}
	}

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, NewStorageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := &SQLiteStore{db: db, config: config, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite audit store initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
		"max_open_conns", config.MaxOpenConns,
	)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return NewStorageError("sqlite", "enable_wal", err)
		}
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return NewStorageError("sqlite", "set_busy_timeout", err)
	}
	if _, err := s.db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return NewStorageError("sqlite", "enable_foreign_keys", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return NewStorageError("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// CreateRequest inserts a new request row.
func (s *SQLiteStore) CreateRequest(ctx context.Context, req *Request) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (
			id, created_at, server, tool, arguments_json, arguments_hash,
			actor, env, status, risk_score, risk_mode
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.CreatedAt, req.Server, req.Tool, req.ArgumentsJSON, req.ArgumentsHash,
		nullable(req.Actor), req.Env, req.Status, req.RiskScore, req.RiskMode,
	)
	if err != nil {
		return NewStorageError("sqlite", "create_request", err)
	}
	return nil
}

// GetRequest returns a request by id.
func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, server, tool, arguments_json, arguments_hash,
		       actor, env, status, risk_score, risk_mode, approved_at, approved_by
		FROM requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, NewStorageError("sqlite", "get_request", err)
	}
	return req, nil
}

// ListRequests returns requests newest first.
func (s *SQLiteStore) ListRequests(ctx context.Context, q ListQuery) ([]*Request, error) {
	query := `
		SELECT id, created_at, server, tool, arguments_json, arguments_hash,
		       actor, env, status, risk_score, risk_mode, approved_at, approved_by
		FROM requests`
	var args []any
	if q.Status != "" {
		query += " WHERE status = ?"
		args = append(args, q.Status)
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewStorageError("sqlite", "list_requests", err)
	}
	defer rows.Close()

	out := []*Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, NewStorageError("sqlite", "scan_request", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "list_requests", err)
	}
	return out, nil
}

// UpdateRequestStatus moves a request along the lifecycle graph inside
// one transaction so concurrent writers cannot race a terminal state.
func (s *SQLiteStore) UpdateRequestStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("sqlite", "begin", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM requests WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return NewStorageError("sqlite", "update_status", err)
	}
	if !legalTransition(current, status) {
		return fmt.Errorf("%w: cannot move %s from %q to %q", ErrInvalidState, id, current, status)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE requests SET status = ? WHERE id = ?", status, id); err != nil {
		return NewStorageError("sqlite", "update_status", err)
	}
	if err := tx.Commit(); err != nil {
		return NewStorageError("sqlite", "commit", err)
	}
	return nil
}

// Approve transitions pending → approved and journals approval.granted
// in the same transaction, so the approval decision is durable before
// any tool execution starts.
func (s *SQLiteStore) Approve(ctx context.Context, id, by string) (*Request, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, NewStorageError("sqlite", "begin", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, created_at, server, tool, arguments_json, arguments_hash,
		       actor, env, status, risk_score, risk_mode, approved_at, approved_by
		FROM requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, NewStorageError("sqlite", "approve", err)
	}
	if req.Status != StatusPending {
		return nil, fmt.Errorf("%w: request %s has status %q, want pending", ErrInvalidState, id, req.Status)
	}

	now := NowISO()
	if _, err := tx.ExecContext(ctx,
		"UPDATE requests SET status = ?, approved_at = ?, approved_by = ? WHERE id = ?",
		StatusApproved, now, by, id); err != nil {
		return nil, NewStorageError("sqlite", "approve", err)
	}
	if err := insertEventTx(ctx, tx, NewEvent(id, EventApprovalGranted, map[string]any{"by": by})); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, NewStorageError("sqlite", "commit", err)
	}

	req.Status = StatusApproved
	req.ApprovedAt = now
	req.ApprovedBy = by
	return req, nil
}

// DenyPending transitions pending → denied and journals approval.denied
// in one transaction.
func (s *SQLiteStore) DenyPending(ctx context.Context, id, by string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("sqlite", "begin", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM requests WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return NewStorageError("sqlite", "deny", err)
	}
	if current != StatusPending {
		return fmt.Errorf("%w: request %s has status %q, want pending", ErrInvalidState, id, current)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE requests SET status = ? WHERE id = ?", StatusDenied, id); err != nil {
		return NewStorageError("sqlite", "deny", err)
	}
	if err := insertEventTx(ctx, tx, NewEvent(id, EventApprovalDenied, map[string]any{"by": by})); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return NewStorageError("sqlite", "commit", err)
	}
	return nil
}

// InsertDecision appends a decision row.
func (s *SQLiteStore) InsertDecision(ctx context.Context, d *Decision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, request_id, decided_at, decision, matched_policy_id, matched_condition, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.RequestID, d.DecidedAt, d.Decision, nullable(d.MatchedPolicyID), d.MatchedCondition, d.Reason,
	)
	if err != nil {
		return NewStorageError("sqlite", "insert_decision", err)
	}
	return nil
}

// LatestDecision returns the most recent decision for a request, nil
// when none exists.
func (s *SQLiteStore) LatestDecision(ctx context.Context, requestID string) (*Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, decided_at, decision, matched_policy_id, matched_condition, reason
		FROM decisions WHERE request_id = ?
		ORDER BY decided_at DESC, rowid DESC LIMIT 1`, requestID)

	var d Decision
	var policyID sql.NullString
	err := row.Scan(&d.ID, &d.RequestID, &d.DecidedAt, &d.Decision, &policyID, &d.MatchedCondition, &d.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, NewStorageError("sqlite", "latest_decision", err)
	}
	d.MatchedPolicyID = policyID.String
	return &d, nil
}

// InsertEvent appends a journal entry.
func (s *SQLiteStore) InsertEvent(ctx context.Context, e *Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, created_at, request_id, type, data_json)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.CreatedAt, nullable(e.RequestID), e.Type, e.DataJSON,
	)
	if err != nil {
		return NewStorageError("sqlite", "insert_event", err)
	}
	return nil
}

// ListEvents returns a request's journal in emission order. Second
// resolution timestamps tie constantly, so insertion order (rowid)
// breaks the ties.
func (s *SQLiteStore) ListEvents(ctx context.Context, requestID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, request_id, type, data_json
		FROM events WHERE request_id = ?
		ORDER BY created_at, rowid`, requestID)
	if err != nil {
		return nil, NewStorageError("sqlite", "list_events", err)
	}
	defer rows.Close()

	out := []*Event{}
	for rows.Next() {
		var e Event
		var reqID sql.NullString
		if err := rows.Scan(&e.ID, &e.CreatedAt, &reqID, &e.Type, &e.DataJSON); err != nil {
			return nil, NewStorageError("sqlite", "scan_event", err)
		}
		e.RequestID = reqID.String
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "list_events", err)
	}
	return out, nil
}

// LatestEventOfType returns the most recent event of the given type for
// a request, nil when none exists.
func (s *SQLiteStore) LatestEventOfType(ctx context.Context, requestID, eventType string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, request_id, type, data_json
		FROM events WHERE request_id = ? AND type = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, requestID, eventType)

	var e Event
	var reqID sql.NullString
	err := row.Scan(&e.ID, &e.CreatedAt, &reqID, &e.Type, &e.DataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, NewStorageError("sqlite", "latest_event", err)
	}
	e.RequestID = reqID.String
	return &e, nil
}

// PruneEvents deletes journal entries older than the cutoff for
// requests already in a terminal status. The requests and decisions
// rows — the auditable core — are never pruned.
func (s *SQLiteStore) PruneEvents(ctx context.Context, cutoff string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM events
		WHERE created_at < ?
		  AND request_id IN (SELECT id FROM requests WHERE status IN (?, ?, ?))`,
		cutoff, StatusDenied, StatusExecuted, StatusFailed)
	if err != nil {
		return 0, NewStorageError("sqlite", "prune_events", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, NewStorageError("sqlite", "prune_events", err)
	}
	return count, nil
}

// Close releases the connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("SQLite audit store closed")
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var req Request
	var actor, approvedAt, approvedBy sql.NullString
	err := row.Scan(
		&req.ID, &req.CreatedAt, &req.Server, &req.Tool, &req.ArgumentsJSON, &req.ArgumentsHash,
		&actor, &req.Env, &req.Status, &req.RiskScore, &req.RiskMode, &approvedAt, &approvedBy,
	)
	if err != nil {
		return nil, err
	}
	req.Actor = actor.String
	req.ApprovedAt = approvedAt.String
	req.ApprovedBy = approvedBy.String
	return &req, nil
}

func insertEventTx(ctx context.Context, tx *sql.Tx, e *Event) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (id, created_at, request_id, type, data_json)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.CreatedAt, nullable(e.RequestID), e.Type, e.DataJSON,
	)
	if err != nil {
		return NewStorageError("sqlite", "insert_event", err)
	}
	return nil
}

// nullable converts an empty string to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
