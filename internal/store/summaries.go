package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// summaryVersionsKept is how many versions per thread survive a refresh.
const summaryVersionsKept = 3

// ThreadSummary is one cached, versioned synthesis of a thread's facts.
type ThreadSummary struct {
	ID        int64
	ThreadID  string
	Version   int
	Text      string
	Terms     []string
	Profiles  []string
	Embedding []float64
	FactCount int
	CreatedAt int64
}

// InsertSummary writes a new version for s.ThreadID and prunes old versions.
// s.Version and s.ID are set on return.
func (t *Tx) InsertSummary(ctx context.Context, s *ThreadSummary) error {
	var version int
	if err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM thread_summaries WHERE thread_id = ?`, s.ThreadID,
	).Scan(&version); err != nil {
		return fmt.Errorf("next summary version: %w", err)
	}

	terms, err := json.Marshal(nonNil(s.Terms))
	if err != nil {
		return fmt.Errorf("encode terms: %w", err)
	}
	profiles, err := json.Marshal(nonNil(s.Profiles))
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}
	var blob any
	if len(s.Embedding) > 0 {
		blob = encodeEmbedding(s.Embedding)
	}

	now := time.Now().UnixMilli()
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO thread_summaries (thread_id, version, text, terms, profiles, embedding, fact_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ThreadID, version, s.Text, string(terms), string(profiles), blob, s.FactCount, now)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	s.ID, _ = res.LastInsertId()
	s.Version = version
	s.CreatedAt = now

	if _, err := t.tx.ExecContext(ctx, `
		DELETE FROM thread_summaries WHERE thread_id = ? AND version <= ?
	`, s.ThreadID, version-summaryVersionsKept); err != nil {
		return fmt.Errorf("prune summaries: %w", err)
	}
	return nil
}

// LatestSummaries returns the newest summary for every thread.
func (db *DB) LatestSummaries(ctx context.Context) (map[string]*ThreadSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.id, s.thread_id, s.version, s.text, s.terms, s.profiles, s.embedding, s.fact_count, s.created_at
		FROM thread_summaries s
		JOIN (SELECT thread_id, MAX(version) AS v FROM thread_summaries GROUP BY thread_id) latest
		  ON latest.thread_id = s.thread_id AND latest.v = s.version
	`)
	if err != nil {
		return nil, fmt.Errorf("latest summaries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*ThreadSummary)
	for rows.Next() {
		var s ThreadSummary
		var terms, profiles string
		var blob []byte
		if err := rows.Scan(&s.ID, &s.ThreadID, &s.Version, &s.Text, &terms, &profiles, &blob, &s.FactCount, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if err := json.Unmarshal([]byte(terms), &s.Terms); err != nil {
			return nil, fmt.Errorf("decode terms for %s: %w", s.ThreadID, err)
		}
		if err := json.Unmarshal([]byte(profiles), &s.Profiles); err != nil {
			return nil, fmt.Errorf("decode profiles for %s: %w", s.ThreadID, err)
		}
		if len(blob) > 0 {
			s.Embedding = decodeEmbedding(blob)
		}
		out[s.ThreadID] = &s
	}
	return out, rows.Err()
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
