package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Verbosity selects one of a fact's three text renderings.
type Verbosity int

const (
	Brief Verbosity = iota
	Standard
	Full
)

func (v Verbosity) String() string {
	switch v {
	case Brief:
		return "brief"
	case Standard:
		return "standard"
	case Full:
		return "full"
	default:
		return "unknown"
	}
}

// Fact is one piece of knowledge about an entity, addressed by (ProfileID, Key).
type Fact struct {
	ID          int64
	ProfileID   string // "self", "user", or "user.<relation>"
	Key         string // dot-hierarchical, e.g. "ui.theme"
	Domain      string // thread the fact belongs to
	FactType    string
	Brief       string
	Standard    string
	Full        string
	Weight      float64
	Protected   bool
	AccessCount int
	LastAccess  *int64
	DecayedAt   *int64
	SourceObs   int64
	CreatedAt   int64
	UpdatedAt   int64
}

// QualifiedKey renders the fact address as domain.profile.key.
func (f *Fact) QualifiedKey() string {
	return f.Domain + "." + f.ProfileID + "." + f.Key
}

// Text returns the requested tier, falling back to the next shorter tier
// that is populated.
func (f *Fact) Text(v Verbosity) string {
	tiers := []string{f.Brief, f.Standard, f.Full}
	if v < Brief || v > Full {
		v = Brief
	}
	for i := int(v); i >= 0; i-- {
		if s := strings.TrimSpace(tiers[i]); s != "" {
			return s
		}
	}
	// Nothing at or below the requested tier; take whatever exists.
	for _, s := range tiers {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// Tiers reports which verbosity tiers are populated.
func (f *Fact) Tiers() []Verbosity {
	var out []Verbosity
	if f.Brief != "" {
		out = append(out, Brief)
	}
	if f.Standard != "" {
		out = append(out, Standard)
	}
	if f.Full != "" {
		out = append(out, Full)
	}
	return out
}

// ProfileCount is a per-entity fact count inside a domain.
type ProfileCount struct {
	ProfileID string
	Facts     int
}

const factColumns = `id, profile_id, key, domain, fact_type, brief, standard, full,
	weight, protected, access_count, last_access, decayed_at, source_obs, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFact(r rowScanner) (*Fact, error) {
	var f Fact
	var protected int
	var lastAccess, decayedAt, sourceObs sql.NullInt64
	if err := r.Scan(&f.ID, &f.ProfileID, &f.Key, &f.Domain, &f.FactType,
		&f.Brief, &f.Standard, &f.Full,
		&f.Weight, &protected, &f.AccessCount, &lastAccess, &decayedAt, &sourceObs,
		&f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.Protected = protected != 0
	f.SourceObs = sourceObs.Int64
	if lastAccess.Valid {
		f.LastAccess = &lastAccess.Int64
	}
	if decayedAt.Valid {
		f.DecayedAt = &decayedAt.Int64
	}
	return &f, nil
}

func scanFacts(rows *sql.Rows) ([]Fact, error) {
	var facts []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, *f)
	}
	return facts, rows.Err()
}

// GetFact returns the fact at (profileID, key), or nil if not found.
func (db *DB) GetFact(ctx context.Context, profileID, key string) (*Fact, error) {
	row := db.QueryRowContext(ctx, `SELECT `+factColumns+` FROM facts WHERE profile_id = ? AND key = ?`, profileID, key)
	f, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fact: %w", err)
	}
	return f, nil
}

// GetFactByID returns a fact by its database ID, or nil if not found.
func (db *DB) GetFactByID(ctx context.Context, id int64) (*Fact, error) {
	row := db.QueryRowContext(ctx, `SELECT `+factColumns+` FROM facts WHERE id = ?`, id)
	f, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fact by id: %w", err)
	}
	return f, nil
}

// FactsByDomain returns all facts in a domain ordered by weight DESC.
func (db *DB) FactsByDomain(ctx context.Context, domain string) ([]Fact, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+factColumns+` FROM facts WHERE domain = ?
		ORDER BY weight DESC, updated_at DESC, key`, domain)
	if err != nil {
		return nil, fmt.Errorf("facts by domain: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// ListFacts returns every fact ordered by weight DESC.
func (db *DB) ListFacts(ctx context.Context) ([]Fact, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+factColumns+` FROM facts ORDER BY weight DESC, updated_at DESC, key`)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// CountFacts returns the number of facts in a domain.
func (db *DB) CountFacts(ctx context.Context, domain string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts WHERE domain = ?`, domain).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count facts: %w", err)
	}
	return n, nil
}

// DomainProfiles returns the entities that have facts in a domain, with counts.
func (db *DB) DomainProfiles(ctx context.Context, domain string) ([]ProfileCount, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT profile_id, COUNT(*) FROM facts WHERE domain = ?
		GROUP BY profile_id ORDER BY COUNT(*) DESC, profile_id
	`, domain)
	if err != nil {
		return nil, fmt.Errorf("domain profiles: %w", err)
	}
	defer rows.Close()

	var out []ProfileCount
	for rows.Next() {
		var pc ProfileCount
		if err := rows.Scan(&pc.ProfileID, &pc.Facts); err != nil {
			return nil, fmt.Errorf("scan profile count: %w", err)
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

// UpsertFact creates the fact or replaces the values of the existing one at
// (ProfileID, Key): tiers and weight are exactly f's. Existing facts keep
// their protected flag. On return f carries the stored row.
func (t *Tx) UpsertFact(ctx context.Context, f *Fact) error {
	now := time.Now().UnixMilli()
	if f.FactType == "" {
		f.FactType = "statement"
	}
	weight := clamp01(f.Weight)

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO facts (profile_id, key, domain, fact_type, brief, standard, full,
			weight, protected, source_obs, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, 0), ?, ?)
		ON CONFLICT(profile_id, key) DO UPDATE SET
			domain     = excluded.domain,
			fact_type  = excluded.fact_type,
			brief      = excluded.brief,
			standard   = excluded.standard,
			full       = excluded.full,
			weight     = excluded.weight,
			source_obs = COALESCE(excluded.source_obs, facts.source_obs),
			updated_at = excluded.updated_at
	`, f.ProfileID, f.Key, f.Domain, f.FactType, f.Brief, f.Standard, f.Full,
		weight, boolInt(f.Protected), f.SourceObs, now, now)
	if err != nil {
		return fmt.Errorf("upsert fact %s/%s: %w", f.ProfileID, f.Key, err)
	}

	row := t.tx.QueryRowContext(ctx, `SELECT `+factColumns+` FROM facts WHERE profile_id = ? AND key = ?`, f.ProfileID, f.Key)
	stored, err := scanFact(row)
	if err != nil {
		return fmt.Errorf("reload fact: %w", err)
	}
	*f = *stored
	return nil
}

// SetProtected marks or unmarks a fact as protected.
func (t *Tx) SetProtected(ctx context.Context, profileID, key string, protected bool) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE facts SET protected = ? WHERE profile_id = ? AND key = ?`,
		boolInt(protected), profileID, key)
	if err != nil {
		return fmt.Errorf("set protected: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFact removes a fact and its vector. Protected facts are never removed.
func (t *Tx) DeleteFact(ctx context.Context, profileID, key string) error {
	var id int64
	var protected int
	err := t.tx.QueryRowContext(ctx, `SELECT id, protected FROM facts WHERE profile_id = ? AND key = ?`,
		profileID, key).Scan(&id, &protected)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup fact: %w", err)
	}
	if protected != 0 {
		return fmt.Errorf("delete %s/%s: %w", profileID, key, ErrProtected)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM fact_vectors WHERE fact_id = ?`, id); err != nil {
		return fmt.Errorf("delete vector for fact %d: %w", id, err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete fact %d: %w", id, err)
	}
	return nil
}

// SetFactWeight overwrites a fact's importance weight, clamped to [0,1].
func (t *Tx) SetFactWeight(ctx context.Context, id int64, weight float64) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE facts SET weight = ? WHERE id = ?`, clamp01(weight), id)
	if err != nil {
		return fmt.Errorf("set fact weight: %w", err)
	}
	return nil
}

// TouchFacts bumps access_count and last_access for the given fact IDs.
// The increment happens in SQL so concurrent touches never lose updates.
func (t *Tx) TouchFacts(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	stmt, err := t.tx.PrepareContext(ctx, `UPDATE facts SET access_count = access_count + 1, last_access = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare touch: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, now, id); err != nil {
			return fmt.Errorf("touch fact %d: %w", id, err)
		}
	}
	return nil
}

// DecayFactWeights applies half-life decay to every unprotected fact, measured
// from the later of its last access and its last decay. Weights never drop
// below floor. Returns the number of facts updated.
func (t *Tx) DecayFactWeights(ctx context.Context, halfLife time.Duration, floor float64, now time.Time) (int, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, weight, last_access, decayed_at, created_at
		FROM facts WHERE protected = 0
	`)
	if err != nil {
		return 0, fmt.Errorf("query decayable facts: %w", err)
	}

	type decayTarget struct {
		id     int64
		weight float64
		ref    int64
	}

	var targets []decayTarget
	for rows.Next() {
		var d decayTarget
		var lastAccess, decayedAt sql.NullInt64
		var createdAt int64
		if err := rows.Scan(&d.id, &d.weight, &lastAccess, &decayedAt, &createdAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan decay target: %w", err)
		}
		d.ref = createdAt
		if lastAccess.Valid && lastAccess.Int64 > d.ref {
			d.ref = lastAccess.Int64
		}
		if decayedAt.Valid && decayedAt.Int64 > d.ref {
			d.ref = decayedAt.Int64
		}
		targets = append(targets, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	nowMs := now.UnixMilli()
	halfLifeMs := float64(halfLife.Milliseconds())
	if halfLifeMs <= 0 {
		return 0, fmt.Errorf("half-life must be positive")
	}

	updated := 0
	for _, d := range targets {
		elapsed := float64(nowMs - d.ref)
		if elapsed <= 0 || d.weight <= floor {
			continue
		}
		w := d.weight * math.Pow(0.5, elapsed/halfLifeMs)
		if w < floor {
			w = floor
		}
		if _, err := t.tx.ExecContext(ctx, `UPDATE facts SET weight = ?, decayed_at = ? WHERE id = ?`, w, nowMs, d.id); err != nil {
			return updated, fmt.Errorf("update decay: %w", err)
		}
		updated++
	}
	return updated, nil
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
