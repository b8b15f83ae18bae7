package consolidate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/lazypower/hippocampus/internal/config"
	"github.com/lazypower/hippocampus/internal/embedding"
	"github.com/lazypower/hippocampus/internal/graph"
	"github.com/lazypower/hippocampus/internal/llm"
	"github.com/lazypower/hippocampus/internal/scoring"
	"github.com/lazypower/hippocampus/internal/store"
	"github.com/lazypower/hippocampus/internal/thread"
)

// Job names.
const (
	JobConsolidate = "consolidate"
	JobPromote     = "promote"
	JobDecay       = "decay"
	JobSummaries   = "summaries"
)

// Jobs lists the job names in pipeline order.
var Jobs = []string{JobConsolidate, JobPromote, JobDecay, JobSummaries}

// Consolidator owns the write side of the engine: it turns observations
// into facts and keeps the graph and summaries current.
type Consolidator struct {
	db        *store.DB
	graph     *graph.Graph
	registry  *thread.Registry
	summaries *scoring.SummaryCache
	emb       embedding.Embedder // may be nil
	llm       llm.Client         // may be nil
	cfg       config.Config
	log       zerolog.Logger
}

// New creates a Consolidator. emb and client may be nil; every step has a
// deterministic fallback.
func New(db *store.DB, g *graph.Graph, registry *thread.Registry, summaries *scoring.SummaryCache,
	emb embedding.Embedder, client llm.Client, cfg config.Config, log zerolog.Logger) *Consolidator {
	return &Consolidator{
		db:        db,
		graph:     g,
		registry:  registry,
		summaries: summaries,
		emb:       emb,
		llm:       client,
		cfg:       cfg,
		log:       log,
	}
}

// RegisterAll adds the four jobs to s with the configured intervals.
// Promotion is offset by half its interval so it runs between triage passes.
func (c *Consolidator) RegisterAll(s *Scheduler) error {
	sc := c.cfg.Scheduler
	regs := []struct {
		name     string
		interval time.Duration
		offset   time.Duration
		fn       Job
	}{
		{JobConsolidate, sc.ConsolidateInterval, 0, func(ctx context.Context) error { _, err := c.Consolidate(ctx); return err }},
		{JobPromote, sc.PromoteInterval, sc.PromoteInterval / 2, func(ctx context.Context) error { _, err := c.Promote(ctx); return err }},
		{JobDecay, sc.DecayInterval, 0, func(ctx context.Context) error { _, err := c.Decay(ctx); return err }},
		{JobSummaries, sc.SummaryInterval, 0, func(ctx context.Context) error { _, err := c.RefreshSummaries(ctx); return err }},
	}
	for _, r := range regs {
		if err := s.Register(r.name, r.interval, r.offset, r.fn); err != nil {
			return err
		}
	}
	return nil
}

// ConsolidateStats summarizes one triage pass.
type ConsolidateStats struct {
	Seen       int `json:"seen"`
	Approved   int `json:"approved"`
	Review     int `json:"review"`
	Rejected   int `json:"rejected"`
	Duplicates int `json:"duplicates"`
	Malformed  int `json:"malformed"`
	Unchanged  int `json:"unchanged"`
}

// decision is the outcome computed for one observation before any write.
type decision struct {
	id     int64
	from   store.Status
	to     store.Status
	score  *float64
	vec    []float64
	reason string
}

// accepted is an observation that later observations are checked against
// for duplication.
type accepted struct {
	id   int64
	pos  int
	text string
	vec  []float64
}

// Consolidate triages every pending and pending_review observation, oldest
// first. Duplicates of existing facts or of older accepted observations are
// rejected without a score; the rest are scored and routed to approved,
// pending_review or rejected. Re-running with no new input changes nothing.
func (c *Consolidator) Consolidate(ctx context.Context) (ConsolidateStats, error) {
	var st ConsolidateStats
	cc := c.cfg.Consolidation

	queue, err := c.db.ListObservations(ctx, 0, store.StatusPending, store.StatusPendingReview)
	if err != nil {
		return st, err
	}
	if len(queue) == 0 {
		return st, nil
	}
	all, err := c.db.ListObservations(ctx, 0, store.StatusPending, store.StatusPendingReview,
		store.StatusApproved, store.StatusRejected, store.StatusConsolidated)
	if err != nil {
		return st, err
	}
	factVecs, err := c.db.FactVectors(ctx)
	if err != nil {
		return st, err
	}
	facts, err := c.db.ListFacts(ctx)
	if err != nil {
		return st, err
	}

	pos := make(map[int64]int, len(all))
	sessions := make(map[string][]sessionObs)
	var prior []accepted
	for i, o := range all {
		pos[o.ID] = i
		if o.SessionID != "" {
			sessions[o.SessionID] = append(sessions[o.SessionID], sessionObs{id: o.ID, concepts: conceptSet(o.Text)})
		}
		if o.Status == store.StatusApproved || o.Status == store.StatusConsolidated {
			prior = append(prior, accepted{id: o.ID, pos: i, text: o.Text, vec: o.Embedding})
		}
	}

	embedDown := false
	decisions := make([]decision, 0, len(queue))
	for _, o := range queue {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Seen++
		d := decision{id: o.ID, from: o.Status}

		if Malformed(o.Text) {
			d.to, d.reason = store.StatusRejected, "malformed"
			st.Malformed++
			st.Rejected++
			decisions = append(decisions, d)
			continue
		}

		d.vec = o.Embedding
		if len(d.vec) == 0 && c.emb != nil && !embedDown {
			vec, err := c.emb.Embed(ctx, o.Text)
			if err != nil {
				// One warning per pass; the rest of the batch uses text matching.
				c.log.Warn().Err(err).Msg("embedding unavailable, duplicate check falls back to text similarity")
				embedDown = true
			} else {
				d.vec = vec
			}
		}
		if embedding.IsZero(d.vec) {
			// No vocabulary overlap; cosine is undefined so text matching decides.
			d.vec = nil
		}

		if dup := c.duplicateOf(o, pos[o.ID], d.vec, factVecs, facts, prior); dup != "" {
			d.to, d.reason = store.StatusRejected, dup
			st.Duplicates++
			st.Rejected++
			decisions = append(decisions, d)
			continue
		}

		score := clamp01(effectiveConfidence(o) + c.corroboration(o, sessions[o.SessionID]))
		d.score = &score
		switch {
		case score >= cc.ApproveThreshold:
			d.to = store.StatusApproved
			st.Approved++
			prior = append(prior, accepted{id: o.ID, pos: pos[o.ID], text: o.Text, vec: d.vec})
		case score >= cc.RejectFloor:
			d.to = store.StatusPendingReview
			st.Review++
		default:
			d.to, d.reason = store.StatusRejected, fmt.Sprintf("score %.2f below floor", score)
			st.Rejected++
		}

		if d.to == o.Status && o.Score != nil && math.Abs(*o.Score-score) < 1e-9 {
			st.Unchanged++
			switch d.to {
			case store.StatusApproved:
				st.Approved--
			case store.StatusPendingReview:
				st.Review--
			}
			continue
		}
		decisions = append(decisions, d)
	}

	if err := c.writeDecisions(ctx, decisions); err != nil {
		return st, err
	}
	c.log.Info().Int("seen", st.Seen).Int("approved", st.Approved).Int("review", st.Review).
		Int("rejected", st.Rejected).Int("duplicates", st.Duplicates).Int("unchanged", st.Unchanged).
		Msg("consolidation pass")
	return st, nil
}

// duplicateOf returns a rejection reason if o repeats a stored fact or an
// older accepted observation, or "" when it is new.
func (c *Consolidator) duplicateOf(o store.Observation, at int, vec []float64, factVecs map[int64][]float64,
	facts []store.Fact, prior []accepted) string {
	threshold := c.cfg.Consolidation.DuplicateThreshold
	sameSpace := func(other []float64) bool {
		return len(vec) > 0 && len(other) == len(vec) && !embedding.IsZero(other)
	}

	for i := range facts {
		f := &facts[i]
		if fv, ok := factVecs[f.ID]; ok && sameSpace(fv) {
			if embedding.CosineSimilarity(vec, fv) >= threshold {
				return fmt.Sprintf("duplicate of fact %d", f.ID)
			}
			continue
		}
		if store.NearIdentical(o.Text, f.Full) || store.NearIdentical(o.Text, f.Standard) {
			return fmt.Sprintf("duplicate of fact %d", f.ID)
		}
	}
	for _, p := range prior {
		if p.pos >= at || p.id == o.ID {
			continue
		}
		if sameSpace(p.vec) {
			if embedding.CosineSimilarity(vec, p.vec) >= threshold {
				return fmt.Sprintf("duplicate of observation %d", p.id)
			}
			continue
		}
		if store.NearIdentical(o.Text, p.text) {
			return fmt.Sprintf("duplicate of observation %d", p.id)
		}
	}
	return ""
}

type sessionObs struct {
	id       int64
	concepts map[string]bool
}

func conceptSet(text string) map[string]bool {
	cs := graph.ExtractConcepts(text, 0)
	m := make(map[string]bool, len(cs))
	for _, c := range cs {
		m[c] = true
	}
	return m
}

// corroboration is the bonus for other observations in the same session that
// share a concept with o. Every status counts, so the bonus does not move
// when a sibling is later rejected or promoted.
func (c *Consolidator) corroboration(o store.Observation, siblings []sessionObs) float64 {
	cc := c.cfg.Consolidation
	mine := conceptSet(o.Text)
	bonus := 0.0
	for _, s := range siblings {
		if s.id == o.ID {
			continue
		}
		for concept := range s.concepts {
			if mine[concept] {
				bonus += cc.CorroborationBonus
				break
			}
		}
	}
	return math.Min(bonus, cc.CorroborationMax)
}

// writeDecisions applies decisions in batches, one transaction per batch.
// An observation moved concurrently (by manual triage) is skipped.
func (c *Consolidator) writeDecisions(ctx context.Context, ds []decision) error {
	size := c.cfg.Consolidation.BatchSize
	if size <= 0 {
		size = len(ds)
	}
	for start := 0; start < len(ds); start += size {
		batch := ds[start:min(start+size, len(ds))]
		err := c.db.Write(ctx, func(tx *store.Tx) error {
			for _, d := range batch {
				if d.score != nil {
					if err := tx.SetObservationScore(ctx, d.id, *d.score, d.vec); err != nil {
						return err
					}
				}
				if d.to == d.from {
					continue
				}
				err := tx.TransitionObservation(ctx, d.id, d.to, d.reason)
				if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
					c.log.Warn().Err(err).Int64("observation", d.id).Msg("observation moved during consolidation, skipped")
					continue
				}
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("write consolidation batch at %d: %w", start, err)
		}
	}
	return nil
}
