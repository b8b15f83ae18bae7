package store

import (
	"context"
	"fmt"
	"time"
)

// AuditRow is one fact's relevance breakdown for a single query.
type AuditRow struct {
	RequestID    string
	Query        string
	ThreadID     string
	FactKey      string
	Semantic     float64
	Cooccurrence float64
	Activation   float64
	Keyword      float64
	Score        float64
	Fallback     bool
}

// InsertAudit appends relevance rows for offline analysis.
func (t *Tx) InsertAudit(ctx context.Context, rows []AuditRow) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO relevance_audit (request_id, query, thread_id, fact_key, semantic, cooccurrence,
			activation, keyword, score, fallback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare audit: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.RequestID, r.Query, r.ThreadID, r.FactKey,
			r.Semantic, r.Cooccurrence, r.Activation, r.Keyword, r.Score, boolInt(r.Fallback), now); err != nil {
			return fmt.Errorf("insert audit: %w", err)
		}
	}
	return nil
}

// AuditRows returns the rows logged for a request.
func (db *DB) AuditRows(ctx context.Context, requestID string) ([]AuditRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT request_id, query, thread_id, fact_key, semantic, cooccurrence, activation, keyword, score, fallback
		FROM relevance_audit WHERE request_id = ? ORDER BY id
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("audit rows: %w", err)
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var r AuditRow
		var fallback int
		if err := rows.Scan(&r.RequestID, &r.Query, &r.ThreadID, &r.FactKey, &r.Semantic,
			&r.Cooccurrence, &r.Activation, &r.Keyword, &r.Score, &fallback); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		r.Fallback = fallback != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
