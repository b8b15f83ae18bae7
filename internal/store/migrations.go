package store

import (
	"fmt"
)

// migration is one forward-only schema step. Versions are applied in slice
// order and never edited once released.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "facts: profile-scoped tiered facts",
		SQL: `
CREATE TABLE facts (
    id             INTEGER PRIMARY KEY,
    profile_id     TEXT NOT NULL,
    key            TEXT NOT NULL,
    domain         TEXT NOT NULL CHECK (domain IN ('identity', 'preferences', 'values', 'relationships', 'events')),
    fact_type      TEXT NOT NULL DEFAULT 'statement',

    -- Three verbosity tiers
    brief          TEXT NOT NULL DEFAULT '',
    standard       TEXT NOT NULL DEFAULT '',
    full           TEXT NOT NULL DEFAULT '',

    weight         REAL NOT NULL DEFAULT 0.5 CHECK (weight >= 0 AND weight <= 1),
    protected      INTEGER NOT NULL DEFAULT 0,

    -- Access and decay
    access_count   INTEGER NOT NULL DEFAULT 0,
    last_access    INTEGER,
    decayed_at     INTEGER,

    source_obs     INTEGER,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL,

    UNIQUE (profile_id, key)
);

CREATE INDEX idx_facts_domain ON facts(domain);
CREATE INDEX idx_facts_weight ON facts(weight DESC);
`,
	},
	{
		Version:     2,
		Description: "fact_vectors: embedding vectors for semantic scoring",
		SQL: `
CREATE TABLE fact_vectors (
    fact_id    INTEGER PRIMARY KEY,
    embedding  BLOB NOT NULL,
    model      TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (fact_id) REFERENCES facts(id) ON DELETE CASCADE
);
`,
	},
	{
		Version:     3,
		Description: "pending_observations: triage queue",
		SQL: `
CREATE TABLE pending_observations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    text        TEXT NOT NULL,
    source      TEXT NOT NULL DEFAULT '',
    session_id  TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'pending_review', 'approved', 'rejected', 'consolidated')),
    confidence  REAL NOT NULL DEFAULT 0 CHECK (confidence >= 0 AND confidence <= 1),
    score       REAL,
    target_key  TEXT NOT NULL DEFAULT '',
    metadata    TEXT NOT NULL DEFAULT '{}',
    embedding   BLOB,
    fact_id     INTEGER,
    reason      TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE INDEX idx_obs_status  ON pending_observations(status, created_at, id);
CREATE INDEX idx_obs_session ON pending_observations(session_id);
`,
	},
	{
		Version:     4,
		Description: "concept_links: Hebbian associative graph",
		SQL: `
CREATE TABLE concept_links (
    concept_a   TEXT NOT NULL,
    concept_b   TEXT NOT NULL,
    strength    REAL NOT NULL CHECK (strength >= 0 AND strength <= 1),
    fire_count  INTEGER NOT NULL DEFAULT 1,
    stage       TEXT NOT NULL DEFAULT 'SHORT' CHECK (stage IN ('SHORT', 'LONG')),
    last_fired  INTEGER NOT NULL,
    created_at  INTEGER NOT NULL,
    PRIMARY KEY (concept_a, concept_b),
    CHECK (concept_a < concept_b)
);

CREATE INDEX idx_links_b ON concept_links(concept_b);
`,
	},
	{
		Version:     5,
		Description: "thread_summaries: versioned per-thread summary cache",
		SQL: `
CREATE TABLE thread_summaries (
    id          INTEGER PRIMARY KEY,
    thread_id   TEXT NOT NULL,
    version     INTEGER NOT NULL,
    text        TEXT NOT NULL,
    terms       TEXT NOT NULL DEFAULT '[]',
    profiles    TEXT NOT NULL DEFAULT '[]',
    embedding   BLOB,
    fact_count  INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    UNIQUE (thread_id, version)
);
`,
	},
	{
		Version:     6,
		Description: "relevance_audit: optional per-query scoring log",
		SQL: `
CREATE TABLE relevance_audit (
    id            INTEGER PRIMARY KEY,
    request_id    TEXT NOT NULL,
    query         TEXT NOT NULL,
    thread_id     TEXT NOT NULL,
    fact_key      TEXT NOT NULL,
    semantic      REAL NOT NULL,
    cooccurrence  REAL NOT NULL,
    activation    REAL NOT NULL,
    keyword       REAL NOT NULL,
    score         REAL NOT NULL,
    fallback      INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL
);

CREATE INDEX idx_audit_request ON relevance_audit(request_id);
`,
	},
}

// LatestSchemaVersion is the newest migration this binary knows about.
func LatestSchemaVersion() int {
	return migrations[len(migrations)-1].Version
}

const createSchemaVersions = `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    description TEXT NOT NULL,
    applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
)`

// migrate applies every migration not yet recorded in schema_versions, each
// in its own transaction. A database stamped by a newer binary is refused
// before anything is touched.
func (db *DB) migrate() error {
	if _, err := db.Exec(createSchemaVersions); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}
	if err := db.VerifySchema(); err != nil {
		return err
	}

	applied, err := db.appliedVersions()
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := db.apply(m); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) appliedVersions() (map[int]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_versions")
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (db *DB) apply(m migration) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if _, err = tx.Exec("INSERT INTO schema_versions (version, description) VALUES (?, ?)", m.Version, m.Description); err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}

// VerifySchema returns ErrSchemaMismatch when the stored schema is newer
// than the binary's migrations.
func (db *DB) VerifySchema() error {
	v, err := db.SchemaVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v > LatestSchemaVersion() {
		return fmt.Errorf("%w: database at version %d, binary knows %d", ErrSchemaMismatch, v, LatestSchemaVersion())
	}
	return nil
}
