package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Stage is a concept link's potentiation stage.
type Stage string

const (
	StageShort Stage = "SHORT"
	StageLong  Stage = "LONG"
)

// ConceptLink is an undirected association between two concepts.
// Pairs are stored ordered so (a, b) and (b, a) address the same row.
type ConceptLink struct {
	ConceptA  string
	ConceptB  string
	Strength  float64
	FireCount int
	Stage     Stage
	LastFired int64
	CreatedAt int64
}

// OrderPair returns the canonical ordering of an unordered concept pair.
func OrderPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// RecordCooccurrence applies one Hebbian reinforcement to the (a, b) link,
// creating it on first co-occurrence. The read-modify-write happens inside a
// single statement: strength' = strength + (1 - strength) * rate.
// Self-pairs and empty concepts are ignored.
func (t *Tx) RecordCooccurrence(ctx context.Context, a, b string, rate float64, now time.Time) error {
	if a == "" || b == "" || a == b {
		return nil
	}
	a, b = OrderPair(a, b)
	rate = clamp01(rate)
	ms := now.UnixMilli()

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO concept_links (concept_a, concept_b, strength, fire_count, stage, last_fired, created_at)
		VALUES (?, ?, ?, 1, 'SHORT', ?, ?)
		ON CONFLICT(concept_a, concept_b) DO UPDATE SET
			strength   = MIN(1.0, concept_links.strength + (1.0 - concept_links.strength) * ?),
			fire_count = concept_links.fire_count + 1,
			last_fired = excluded.last_fired
	`, a, b, rate, ms, ms, rate)
	if err != nil {
		return fmt.Errorf("record cooccurrence %s/%s: %w", a, b, err)
	}
	return nil
}

// DecayLinks multiplies every link's strength by its stage's retention factor
// and prunes links that fall below floor. Returns (decayed, pruned).
func (t *Tx) DecayLinks(ctx context.Context, shortRetention, longRetention, floor float64) (int, int, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE concept_links SET strength = MAX(0.0, strength * CASE stage WHEN 'LONG' THEN ? ELSE ? END)
	`, clamp01(longRetention), clamp01(shortRetention))
	if err != nil {
		return 0, 0, fmt.Errorf("decay links: %w", err)
	}
	decayed, _ := res.RowsAffected()

	res, err = t.tx.ExecContext(ctx, `DELETE FROM concept_links WHERE strength < ?`, floor)
	if err != nil {
		return int(decayed), 0, fmt.Errorf("prune links: %w", err)
	}
	pruned, _ := res.RowsAffected()
	return int(decayed), int(pruned), nil
}

// PromoteLinks moves SHORT links whose fire_count reached threshold to LONG.
func (t *Tx) PromoteLinks(ctx context.Context, threshold int) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE concept_links SET stage = 'LONG' WHERE stage = 'SHORT' AND fire_count >= ?
	`, threshold)
	if err != nil {
		return 0, fmt.Errorf("promote links: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetLink returns the link between a and b, or nil if none exists.
func (db *DB) GetLink(ctx context.Context, a, b string) (*ConceptLink, error) {
	a, b = OrderPair(a, b)
	var l ConceptLink
	var stage string
	err := db.QueryRowContext(ctx, `
		SELECT concept_a, concept_b, strength, fire_count, stage, last_fired, created_at
		FROM concept_links WHERE concept_a = ? AND concept_b = ?
	`, a, b).Scan(&l.ConceptA, &l.ConceptB, &l.Strength, &l.FireCount, &stage, &l.LastFired, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	l.Stage = Stage(stage)
	return &l, nil
}

// AllLinks returns every concept link.
func (db *DB) AllLinks(ctx context.Context) ([]ConceptLink, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT concept_a, concept_b, strength, fire_count, stage, last_fired, created_at
		FROM concept_links ORDER BY concept_a, concept_b
	`)
	if err != nil {
		return nil, fmt.Errorf("all links: %w", err)
	}
	defer rows.Close()

	var out []ConceptLink
	for rows.Next() {
		var l ConceptLink
		var stage string
		if err := rows.Scan(&l.ConceptA, &l.ConceptB, &l.Strength, &l.FireCount, &stage, &l.LastFired, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		l.Stage = Stage(stage)
		out = append(out, l)
	}
	return out, rows.Err()
}
