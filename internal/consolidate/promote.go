package consolidate

import (
	"context"
	"errors"
	"fmt"

	"github.com/lazypower/hippocampus/internal/embedding"
	"github.com/lazypower/hippocampus/internal/graph"
	"github.com/lazypower/hippocampus/internal/llm"
	"github.com/lazypower/hippocampus/internal/store"
	"github.com/lazypower/hippocampus/internal/thread"
)

// PromoteStats summarizes one promotion pass.
type PromoteStats struct {
	Promoted  int `json:"promoted"`
	Discarded int `json:"discarded"`
	Failed    int `json:"failed"`
}

// Promote turns every approved observation into a fact. A failure on one
// observation is logged and the pass continues; the returned error reports
// how many failed.
func (c *Consolidator) Promote(ctx context.Context) (PromoteStats, error) {
	var st PromoteStats
	obs, err := c.db.ListObservations(ctx, 0, store.StatusApproved)
	if err != nil {
		return st, err
	}

	var firstErr error
	for _, o := range obs {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		f, err := c.promote(ctx, o)
		switch {
		case err != nil:
			st.Failed++
			if firstErr == nil {
				firstErr = err
			}
			c.log.Warn().Err(err).Int64("observation", o.ID).Msg("promotion failed")
		case f == nil:
			st.Discarded++
		default:
			st.Promoted++
		}
	}

	if st.Promoted > 0 {
		if err := c.graph.Reload(ctx); err != nil {
			return st, err
		}
	}
	if len(obs) > 0 {
		c.log.Info().Int("promoted", st.Promoted).Int("discarded", st.Discarded).Int("failed", st.Failed).
			Msg("promotion pass")
	}
	if firstErr != nil {
		return st, fmt.Errorf("%d of %d promotions failed: %w", st.Failed, len(obs), firstErr)
	}
	return st, nil
}

// PromoteOne promotes a single approved observation now. It returns the
// written fact, or nil when the observation scored too low and was
// discarded.
func (c *Consolidator) PromoteOne(ctx context.Context, id int64) (*store.Fact, error) {
	o, err := c.db.GetObservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != store.StatusApproved {
		return nil, fmt.Errorf("promote observation %d in status %s: %w", id, o.Status, store.ErrInvalidTransition)
	}
	f, err := c.promote(ctx, *o)
	if err != nil {
		return nil, err
	}
	if f != nil {
		if err := c.graph.Reload(ctx); err != nil {
			return f, err
		}
	}
	return f, nil
}

// promote writes the fact for one approved observation. Model and embedding
// calls happen before the transaction; the fact, its vector, its concept
// links and the observation's transition commit together.
func (c *Consolidator) promote(ctx context.Context, o store.Observation) (*store.Fact, error) {
	score := effectiveConfidence(o)
	if o.Score != nil {
		score = *o.Score
	}
	bracket, ok := BracketFor(score)
	if !ok {
		err := c.db.Write(ctx, func(tx *store.Tx) error {
			return tx.TransitionObservation(ctx, o.ID, store.StatusRejected, "discarded")
		})
		if err != nil {
			return nil, err
		}
		c.log.Info().Int64("observation", o.ID).Float64("score", score).Msg("observation discarded")
		return nil, nil
	}

	domain := c.classify(ctx, o.Text)
	profile := ProfileFor(domain, o.Text)
	key := KeyFor(domain, profile, o.Text, o.TargetKey)
	tiers := bracket.Apply(c.compress(ctx, o.Text))

	f := &store.Fact{
		ProfileID: profile,
		Key:       key,
		Domain:    domain,
		FactType:  "observation",
		Brief:     tiers.Brief,
		Standard:  tiers.Standard,
		Full:      tiers.Full,
		Weight:    bracket.Weight,
		SourceObs: o.ID,
	}

	var (
		vec []float64
		err error
	)
	if c.emb != nil {
		vec, err = c.emb.Embed(ctx, f.Text(store.Full))
		if err != nil {
			c.log.Warn().Err(err).Str("key", f.QualifiedKey()).Msg("fact stored without embedding")
			vec = nil
		} else if embedding.IsZero(vec) {
			vec = nil
		}
	}

	concepts := graph.ExtractConcepts(o.Text, c.cfg.Graph.MaxConcepts)
	err = c.db.Write(ctx, func(tx *store.Tx) error {
		if err := tx.UpsertFact(ctx, f); err != nil {
			return err
		}
		// A replaced fact must not keep the vector of its old text.
		if len(vec) > 0 {
			if err := tx.SaveFactVector(ctx, f.ID, vec, c.emb.Model()); err != nil {
				return err
			}
		} else if err := tx.DeleteFactVector(ctx, f.ID); err != nil {
			return err
		}
		if err := c.graph.LinkConcepts(ctx, tx, concepts); err != nil {
			return err
		}
		return tx.MarkConsolidated(ctx, o.ID, f.ID)
	})
	if errors.Is(err, store.ErrInvalidTransition) {
		return nil, fmt.Errorf("observation %d changed during promotion: %w", o.ID, err)
	}
	if err != nil {
		return nil, err
	}

	c.log.Info().Int64("observation", o.ID).Str("fact", f.QualifiedKey()).Float64("weight", f.Weight).
		Int("concepts", len(concepts)).Msg("observation promoted")
	return f, nil
}

// classify uses the heuristic unless model-assisted classification is
// enabled and a client is configured. Model answers are logged next to the
// heuristic's so the two can be compared.
func (c *Consolidator) classify(ctx context.Context, text string) string {
	heuristic := Classify(text)
	if !c.cfg.Consolidation.LLMClassify || c.llm == nil {
		return heuristic
	}
	resp, err := c.llm.Complete(ctx, llm.ClassifyPrompt(text, thread.Domains))
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("model classification failed, using heuristic")
		return heuristic
	}
	domain, ok := llm.ParseClassification(resp.Content, thread.Domains)
	if !ok {
		c.log.Warn().Str("answer", resp.Content).Msg("model classification unparseable, using heuristic")
		return heuristic
	}
	c.log.Info().Str("heuristic", heuristic).Str("model", domain).Str("provider", resp.Provider).
		Msg("model-assisted classification")
	return domain
}

// compress renders the three tiers, through the model when one is
// configured. Missing model tiers are filled deterministically.
func (c *Consolidator) compress(ctx context.Context, text string) llm.Tiers {
	det := DeterministicTiers(text)
	if c.llm == nil {
		return det
	}
	resp, err := c.llm.Complete(ctx, llm.CompressPrompt(text))
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("model compression failed, using deterministic tiers")
		return det
	}
	t, err := llm.ParseTiers(resp.Content)
	if err != nil {
		c.log.Warn().Err(err).Msg("model tiers unparseable, using deterministic tiers")
		return det
	}
	if t.Brief == "" {
		t.Brief = det.Brief
	}
	if t.Standard == "" {
		t.Standard = det.Standard
	}
	if t.Full == "" {
		t.Full = det.Full
	}
	return t
}
