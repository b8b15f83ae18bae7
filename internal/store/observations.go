package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// maxObservationText bounds stored observation text.
const maxObservationText = 4 * 1024

// Status is the triage state of a pending observation.
type Status string

const (
	StatusPending       Status = "pending"
	StatusPendingReview Status = "pending_review"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusConsolidated  Status = "consolidated"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusConsolidated
}

// allowedFrom lists the statuses each target may be entered from.
// Forward-only; rejected is reachable from any non-terminal status.
var allowedFrom = map[Status][]Status{
	StatusPendingReview: {StatusPending},
	StatusApproved:      {StatusPending, StatusPendingReview},
	StatusConsolidated:  {StatusApproved},
	StatusRejected:      {StatusPending, StatusPendingReview, StatusApproved},
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Observation is a raw extracted statement awaiting triage.
type Observation struct {
	ID         int64
	Text       string
	Source     string
	SessionID  string
	Status     Status
	Confidence float64
	Score      *float64
	TargetKey  string
	Metadata   map[string]any
	Embedding  []float64
	FactID     int64
	Reason     string
	CreatedAt  int64
	UpdatedAt  int64
}

const observationColumns = `id, text, source, session_id, status, confidence, score, target_key,
	metadata, embedding, fact_id, reason, created_at, updated_at`

func scanObservation(r rowScanner) (*Observation, error) {
	var o Observation
	var status, metadata string
	var score sql.NullFloat64
	var blob []byte
	var factID sql.NullInt64
	if err := r.Scan(&o.ID, &o.Text, &o.Source, &o.SessionID, &status, &o.Confidence, &score,
		&o.TargetKey, &metadata, &blob, &factID, &o.Reason, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = Status(status)
	if score.Valid {
		s := score.Float64
		o.Score = &s
	}
	if len(blob) > 0 {
		o.Embedding = decodeEmbedding(blob)
	}
	o.FactID = factID.Int64
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &o.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for observation %d: %w", o.ID, err)
		}
	}
	return &o, nil
}

// AddObservation stores a new pending observation and sets o.ID.
func (t *Tx) AddObservation(ctx context.Context, o *Observation) error {
	text := strings.TrimSpace(o.Text)
	text = Clip(text, maxObservationText)
	meta := "{}"
	if len(o.Metadata) > 0 {
		b, err := json.Marshal(o.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		meta = string(b)
	}

	now := time.Now().UnixMilli()
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO pending_observations (text, source, session_id, status, confidence, target_key, metadata, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', ?, ?, ?, ?, ?)
	`, text, o.Source, o.SessionID, clamp01(o.Confidence), o.TargetKey, meta, now, now)
	if err != nil {
		return fmt.Errorf("add observation: %w", err)
	}
	id, _ := res.LastInsertId()
	o.ID = id
	o.Text = text
	o.Status = StatusPending
	o.CreatedAt = now
	o.UpdatedAt = now
	return nil
}

// GetObservation returns an observation by id, or ErrNotFound.
func (db *DB) GetObservation(ctx context.Context, id int64) (*Observation, error) {
	row := db.QueryRowContext(ctx, `SELECT `+observationColumns+` FROM pending_observations WHERE id = ?`, id)
	o, err := scanObservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get observation: %w", err)
	}
	return o, nil
}

// ListObservations returns observations in the given statuses, oldest first
// (created_at, then id) so repeated passes see a stable order.
// A limit <= 0 means no limit.
func (db *DB) ListObservations(ctx context.Context, limit int, statuses ...Status) ([]Observation, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	ph := make([]string, len(statuses))
	args := make([]any, 0, len(statuses)+1)
	for i, s := range statuses {
		ph[i] = "?"
		args = append(args, string(s))
	}
	query := `SELECT ` + observationColumns + ` FROM pending_observations
		WHERE status IN (` + strings.Join(ph, ",") + `) ORDER BY created_at, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// CountObservations returns counts per status.
func (db *DB) CountObservations(ctx context.Context) (map[Status]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM pending_observations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count observations: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("scan observation count: %w", err)
		}
		out[Status(s)] = n
	}
	return out, rows.Err()
}

// TransitionObservation moves an observation to status `to`. The WHERE clause
// admits only legal source statuses, so concurrent writers cannot move an
// observation backwards. Returns ErrNotFound or ErrInvalidTransition.
func (t *Tx) TransitionObservation(ctx context.Context, id int64, to Status, reason string) error {
	from := allowedFrom[to]
	if len(from) == 0 {
		return fmt.Errorf("transition to %s: %w", to, ErrInvalidTransition)
	}
	ph := make([]string, len(from))
	args := []any{string(to), reason, time.Now().UnixMilli(), id}
	for i, s := range from {
		ph[i] = "?"
		args = append(args, string(s))
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE pending_observations SET status = ?, reason = ?, updated_at = ?
		WHERE id = ? AND status IN (`+strings.Join(ph, ",")+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("transition observation %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var current string
	err = t.tx.QueryRowContext(ctx, `SELECT status FROM pending_observations WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("observation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup observation %d: %w", id, err)
	}
	return fmt.Errorf("observation %d %s -> %s: %w", id, current, to, ErrInvalidTransition)
}

// SetObservationScore records the consolidation score and, if present, the
// text embedding used for duplicate detection.
func (t *Tx) SetObservationScore(ctx context.Context, id int64, score float64, embedding []float64) error {
	var blob any
	if len(embedding) > 0 {
		blob = encodeEmbedding(embedding)
	}
	_, err := t.tx.ExecContext(ctx, `
		UPDATE pending_observations SET score = ?, embedding = COALESCE(?, embedding), updated_at = ?
		WHERE id = ?
	`, clamp01(score), blob, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("set observation score: %w", err)
	}
	return nil
}

// MarkConsolidated links an approved observation to the fact it produced.
func (t *Tx) MarkConsolidated(ctx context.Context, id, factID int64) error {
	if err := t.TransitionObservation(ctx, id, StatusConsolidated, ""); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `UPDATE pending_observations SET fact_id = ? WHERE id = ?`, factID, id); err != nil {
		return fmt.Errorf("link observation %d to fact %d: %w", id, factID, err)
	}
	return nil
}
