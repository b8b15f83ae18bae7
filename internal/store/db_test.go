package store

import (
	"context"
	"errors"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenMemory(t *testing.T) {
	db := testDB(t)
	if db.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", db.Path)
	}
}

func TestSchemaVersion(t *testing.T) {
	db := testDB(t)

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != LatestSchemaVersion() {
		t.Errorf("SchemaVersion = %d, want %d", v, LatestSchemaVersion())
	}
	if v != 6 {
		t.Errorf("SchemaVersion = %d, want 6", v)
	}
}

func TestTablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{"schema_versions", "facts", "fact_vectors", "pending_observations",
		"concept_links", "thread_summaries", "relevance_audit"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestVerifySchemaRejectsNewerDatabase(t *testing.T) {
	db := testDB(t)

	if err := db.VerifySchema(); err != nil {
		t.Fatalf("VerifySchema on fresh db: %v", err)
	}
	if _, err := db.Exec("INSERT INTO schema_versions (version, description) VALUES (?, 'future')",
		LatestSchemaVersion()+1); err != nil {
		t.Fatalf("insert future version: %v", err)
	}
	if err := db.VerifySchema(); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("VerifySchema = %v, want ErrSchemaMismatch", err)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var count int
	db.QueryRow("SELECT COUNT(*) FROM schema_versions").Scan(&count)
	if count != LatestSchemaVersion() {
		t.Errorf("schema_versions rows = %d, want %d", count, LatestSchemaVersion())
	}
}

func TestFactDomainConstraint(t *testing.T) {
	db := testDB(t)
	err := db.Write(context.Background(), func(tx *Tx) error {
		return tx.UpsertFact(context.Background(), &Fact{ProfileID: "user", Key: "x", Domain: "bogus", Brief: "x"})
	})
	if err == nil {
		t.Error("expected CHECK constraint failure for unknown domain")
	}
}
