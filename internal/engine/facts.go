package engine

import (
	"context"
	"fmt"

	"github.com/lazypower/hippocampus/internal/scoring"
	"github.com/lazypower/hippocampus/internal/store"
)

const defaultSearchLimit = 10

// SearchResult is one fact ranked against a search query.
type SearchResult struct {
	Key      string          `json:"key"`
	Fact     store.Fact      `json:"fact"`
	Score    float64         `json:"score"`
	Signals  scoring.Signals `json:"signals"`
	Fallback bool            `json:"fallback"`
}

// SearchFacts ranks every fact against query with the fact-level scorer,
// ignoring thread gating. It is read-only: access counts are not touched.
func (e *Engine) SearchFacts(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	facts, err := e.db.ListFacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	if len(facts) == 0 {
		return nil, nil
	}

	q := e.scorer.Prepare(ctx, query)
	scored := e.scorer.ScoreFacts(ctx, q, facts)

	var out []SearchResult
	for _, sf := range scored {
		if sf.Score <= 0 {
			continue
		}
		out = append(out, SearchResult{
			Key:      sf.Fact.QualifiedKey(),
			Fact:     sf.Fact,
			Score:    sf.Score,
			Signals:  sf.Signals,
			Fallback: sf.Fallback,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ForgetFact deletes a fact. Protected facts return store.ErrProtected.
func (e *Engine) ForgetFact(ctx context.Context, profileID, key string) error {
	err := e.db.Write(ctx, func(tx *store.Tx) error {
		return tx.DeleteFact(ctx, profileID, key)
	})
	if err != nil {
		return fmt.Errorf("forget %s/%s: %w", profileID, key, err)
	}
	e.log.Info().Str("profile", profileID).Str("key", key).Msg("fact forgotten")
	return nil
}

// ProtectFact sets or clears a fact's protected flag.
func (e *Engine) ProtectFact(ctx context.Context, profileID, key string, protected bool) error {
	err := e.db.Write(ctx, func(tx *store.Tx) error {
		return tx.SetProtected(ctx, profileID, key, protected)
	})
	if err != nil {
		return fmt.Errorf("protect %s/%s: %w", profileID, key, err)
	}
	return nil
}

// Stats is a point-in-time summary of the engine's state.
type Stats struct {
	Facts           int                  `json:"facts"`
	FactsByDomain   map[string]int       `json:"facts_by_domain"`
	Observations    map[store.Status]int `json:"observations"`
	Concepts        int                  `json:"concepts"`
	Links           int                  `json:"links"`
	Summaries       int                  `json:"summaries"`
	AccessDropped   int64                `json:"access_dropped"`
	EmbedderEnabled bool                 `json:"embedder_enabled"`
}

// Stats collects counts from the store and the in-memory snapshots.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{FactsByDomain: map[string]int{}}
	for _, ad := range e.registry.All() {
		n, err := e.db.CountFacts(ctx, ad.ID())
		if err != nil {
			return nil, fmt.Errorf("count facts in %s: %w", ad.ID(), err)
		}
		st.FactsByDomain[ad.ID()] = n
		st.Facts += n
	}
	obs, err := e.db.CountObservations(ctx)
	if err != nil {
		return nil, err
	}
	st.Observations = obs
	st.Concepts, st.Links = e.graph.Stats()
	st.Summaries = e.summaries.Len()
	st.AccessDropped = e.access.Dropped()
	st.EmbedderEnabled = e.hasEmbedder
	return st, nil
}
