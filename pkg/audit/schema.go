package audit

// SchemaVersion is bumped whenever Schema changes shape.
const SchemaVersion = 1

// Schema creates the audit tables. Idempotent; applied at every open.
const Schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS requests (
	id              TEXT PRIMARY KEY,
	created_at      TEXT NOT NULL,
	server          TEXT NOT NULL,
	tool            TEXT NOT NULL,
	arguments_json  TEXT NOT NULL,
	arguments_hash  TEXT NOT NULL,
	actor           TEXT,
	env             TEXT NOT NULL,
	status          TEXT NOT NULL,
	risk_score      INTEGER NOT NULL DEFAULT 0,
	risk_mode       TEXT NOT NULL DEFAULT 'safe',
	approved_at     TEXT,
	approved_by     TEXT
);

CREATE INDEX IF NOT EXISTS idx_requests_status_created
	ON requests (status, created_at DESC);

CREATE TABLE IF NOT EXISTS decisions (
	id                 TEXT PRIMARY KEY,
	request_id         TEXT NOT NULL REFERENCES requests(id),
	decided_at         TEXT NOT NULL,
	decision           TEXT NOT NULL,
	matched_policy_id  TEXT,
	matched_condition  TEXT NOT NULL,
	reason             TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_request
	ON decisions (request_id, decided_at DESC);

CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	created_at  TEXT NOT NULL,
	request_id  TEXT,
	type        TEXT NOT NULL,
	data_json   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_request
	ON events (request_id, created_at);
`

// InsertSchemaVersion records the schema version, ignoring re-runs.
const InsertSchemaVersion = `INSERT OR IGNORE INTO schema_version (version) VALUES (?)`

// GetSchemaVersion reads back the recorded version.
const GetSchemaVersion = `SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`
