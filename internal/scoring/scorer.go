// Package scoring ranks threads (0-10) and facts (0-1) against a query.
package scoring

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lazypower/hippocampus/internal/config"
	"github.com/lazypower/hippocampus/internal/embedding"
	"github.com/lazypower/hippocampus/internal/graph"
	"github.com/lazypower/hippocampus/internal/store"
	"github.com/lazypower/hippocampus/internal/thread"
)

// Thread score components.
const (
	firstTriggerPoints = 5.0
	extraTriggerPoints = 2.0
	summaryTermPoints  = 1.5
	maxSummaryTermHits = 4
	profilePoints      = 1.5
	maxThreadScore     = 10.0
)

// VectorReader loads stored fact embeddings.
type VectorReader interface {
	FactVectors(ctx context.Context, ids ...int64) (map[int64][]float64, error)
}

// Signals is the per-fact breakdown. HasSemantic is false when the fact or
// the query had no usable vector.
type Signals struct {
	Semantic     float64 `json:"semantic"`
	Cooccurrence float64 `json:"cooccurrence"`
	Activation   float64 `json:"activation"`
	Keyword      float64 `json:"keyword"`
	HasSemantic  bool    `json:"has_semantic"`
}

// ScoredFact is a fact with its relevance score in [0,1].
type ScoredFact struct {
	Fact     store.Fact
	Score    float64
	Signals  Signals
	Fallback bool // keyword-only
}

// Query is a prepared query: tokens, concepts, activation and (maybe) an
// embedding, computed once per request.
type Query struct {
	Text       string
	Concepts   []string
	Activation map[string]float64
	Embedding  []float64
	// EmbedErr is set when the semantic signal is unavailable.
	EmbedErr error

	conceptSet map[string]bool
	lower      string
	tokenSet   map[string]bool
}

// Fallback reports whether fact scoring runs keyword-only.
func (q *Query) Fallback() bool { return q.EmbedErr != nil }

// Scorer computes thread and fact relevance from the current snapshots.
// It never writes.
type Scorer struct {
	cfg         config.ScoringConfig
	maxConcepts int
	registry    *thread.Registry
	graph       *graph.Graph
	emb         embedding.Embedder
	vectors     VectorReader
	summaries   *SummaryCache
	log         zerolog.Logger
}

// New creates a Scorer. emb may be nil (keyword-only). It should be a
// time-bounded embedder such as embedding.QueryCache.
func New(cfg config.ScoringConfig, maxConcepts int, registry *thread.Registry, g *graph.Graph,
	emb embedding.Embedder, vectors VectorReader, summaries *SummaryCache, log zerolog.Logger) *Scorer {
	return &Scorer{
		cfg:         cfg,
		maxConcepts: maxConcepts,
		registry:    registry,
		graph:       g,
		emb:         emb,
		vectors:     vectors,
		summaries:   summaries,
		log:         log,
	}
}

// Prepare tokenizes the query, spreads activation from its concepts and
// fetches its embedding. An unavailable embedding is logged and recorded on
// the Query, never returned.
func (s *Scorer) Prepare(ctx context.Context, text string) *Query {
	q := &Query{
		Text:       text,
		Concepts:   graph.ExtractConcepts(text, s.maxConcepts),
		lower:      " " + strings.Join(embedding.Tokenize(text), " ") + " ",
		conceptSet: map[string]bool{},
		tokenSet:   map[string]bool{},
	}
	for _, c := range q.Concepts {
		q.conceptSet[c] = true
	}
	for _, t := range embedding.Tokenize(text) {
		q.tokenSet[t] = true
	}
	q.Activation = s.graph.SpreadActivate(q.Concepts, s.cfg.SpreadHops, s.cfg.SpreadThreshold)

	if s.emb == nil {
		q.EmbedErr = embedding.ErrUnavailable
	} else {
		q.Embedding, q.EmbedErr = s.emb.Embed(ctx, text)
		if q.EmbedErr == nil && embedding.IsZero(q.Embedding) {
			// A query sharing no terms with the vocabulary has no direction.
			q.Embedding = nil
			q.EmbedErr = fmt.Errorf("query has no vocabulary terms: %w", embedding.ErrUnavailable)
		}
	}
	if q.EmbedErr != nil {
		s.log.Warn().Err(q.EmbedErr).Str("query", truncate(text, 80)).
			Msg("semantic signal unavailable, fact scoring is keyword-only")
	}
	return q
}

// ScoreThreads returns a 0-10 admission score per thread. Pure in-memory:
// trigger keywords, cached summary terms and profile names.
func (s *Scorer) ScoreThreads(q *Query) map[string]float64 {
	out := make(map[string]float64, len(s.registry.All()))
	for _, a := range s.registry.All() {
		out[a.ID()] = s.scoreThread(q, a.ID(), a.Keywords())
	}
	return out
}

func (s *Scorer) scoreThread(q *Query, id string, keywords []string) float64 {
	score := 0.0
	hits := 0
	for _, kw := range keywords {
		if q.matches(kw) {
			if hits == 0 {
				score += firstTriggerPoints
			} else {
				score += extraTriggerPoints
			}
			hits++
		}
	}

	if sum := s.summaries.Get(id); sum != nil {
		termHits := 0
		for _, c := range q.Concepts {
			if sum.Terms[c] {
				termHits++
				if termHits == maxSummaryTermHits {
					break
				}
			}
		}
		score += float64(termHits) * summaryTermPoints

		for _, p := range sum.Profiles {
			if rel := thread.RelationOf(p); rel != "" && q.conceptSet[rel] {
				score += profilePoints
				break
			}
		}
	}
	return clamp(score, 0, maxThreadScore)
}

// matches reports whether a trigger keyword or phrase occurs in the query.
func (q *Query) matches(kw string) bool {
	if strings.Contains(kw, " ") {
		return strings.Contains(q.lower, " "+kw+" ")
	}
	return q.tokenSet[kw] || q.conceptSet[kw]
}

// ScoreFacts scores candidates in [0,1] and returns them ranked: score desc,
// then weight desc, updated_at desc, key asc.
func (s *Scorer) ScoreFacts(ctx context.Context, q *Query, facts []store.Fact) []ScoredFact {
	var vecs map[int64][]float64
	if !q.Fallback() && len(facts) > 0 && s.vectors != nil {
		ids := make([]int64, len(facts))
		for i := range facts {
			ids[i] = facts[i].ID
		}
		var err error
		vecs, err = s.vectors.FactVectors(ctx, ids...)
		if err != nil {
			s.log.Warn().Err(err).Msg("load fact vectors, semantic signal skipped")
			vecs = nil
		}
	}

	out := make([]ScoredFact, len(facts))
	for i := range facts {
		out[i] = s.scoreFact(q, facts[i], vecs)
	}
	Rank(out)
	return out
}

func (s *Scorer) scoreFact(q *Query, f store.Fact, vecs map[int64][]float64) ScoredFact {
	concepts := FactConcepts(f, 0)

	var sig Signals
	sig.Keyword = keywordOverlap(q.Concepts, concepts)

	if q.Fallback() {
		return ScoredFact{Fact: f, Score: clamp(sig.Keyword, 0, 1), Signals: sig, Fallback: true}
	}

	for _, qc := range q.Concepts {
		for _, fc := range concepts {
			if st := s.graph.Strength(qc, fc); st > sig.Cooccurrence {
				sig.Cooccurrence = st
			}
		}
	}
	for _, fc := range concepts {
		if a := q.Activation[fc]; a > sig.Activation {
			sig.Activation = a
		}
	}
	if v, ok := vecs[f.ID]; ok && len(q.Embedding) > 0 && len(v) == len(q.Embedding) && !embedding.IsZero(v) {
		sig.Semantic = clamp(embedding.CosineSimilarity(q.Embedding, v), 0, 1)
		sig.HasSemantic = true
	}

	num := s.cfg.CooccurrenceWeight*sig.Cooccurrence + s.cfg.ActivationWeight*sig.Activation +
		s.cfg.KeywordWeight*sig.Keyword
	den := s.cfg.CooccurrenceWeight + s.cfg.ActivationWeight + s.cfg.KeywordWeight
	if sig.HasSemantic {
		num += s.cfg.SemanticWeight * sig.Semantic
		den += s.cfg.SemanticWeight
	}
	score := 0.0
	if den > 0 {
		score = num / den
	}
	return ScoredFact{Fact: f, Score: clamp(score, 0, 1), Signals: sig}
}

// Rank sorts scored facts: score desc, weight desc, updated_at desc, key asc.
func Rank(fs []ScoredFact) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Fact.Weight != b.Fact.Weight {
			return a.Fact.Weight > b.Fact.Weight
		}
		if a.Fact.UpdatedAt != b.Fact.UpdatedAt {
			return a.Fact.UpdatedAt > b.Fact.UpdatedAt
		}
		return a.Fact.QualifiedKey() < b.Fact.QualifiedKey()
	})
}

// FactConcepts returns the concepts a fact is addressed by: its profile
// relation, key segments and text.
func FactConcepts(f store.Fact, limit int) []string {
	seen := map[string]bool{}
	var out []string
	add := func(cs []string) {
		for _, c := range cs {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	add(graph.KeyConcepts(f.ProfileID))
	add(graph.KeyConcepts(f.Key))
	add(graph.ExtractConcepts(f.Brief+" "+f.Standard+" "+f.Full, 0))
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// AuditRows renders scored facts as relevance audit rows.
func AuditRows(requestID string, q *Query, threadID string, fs []ScoredFact) []store.AuditRow {
	rows := make([]store.AuditRow, len(fs))
	for i, f := range fs {
		rows[i] = store.AuditRow{
			RequestID:    requestID,
			Query:        q.Text,
			ThreadID:     threadID,
			FactKey:      f.Fact.QualifiedKey(),
			Semantic:     f.Signals.Semantic,
			Cooccurrence: f.Signals.Cooccurrence,
			Activation:   f.Signals.Activation,
			Keyword:      f.Signals.Keyword,
			Score:        f.Score,
			Fallback:     f.Fallback,
		}
	}
	return rows
}

func keywordOverlap(query, fact []string) float64 {
	if len(query) == 0 {
		return 0
	}
	set := make(map[string]bool, len(fact))
	for _, c := range fact {
		set[c] = true
	}
	hit := 0
	for _, c := range query {
		if set[c] {
			hit++
		}
	}
	return float64(hit) / float64(len(query))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return store.Clip(s, n) + "..."
}
