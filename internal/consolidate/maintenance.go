package consolidate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lazypower/hippocampus/internal/graph"
	"github.com/lazypower/hippocampus/internal/llm"
	"github.com/lazypower/hippocampus/internal/scoring"
	"github.com/lazypower/hippocampus/internal/store"
	"github.com/lazypower/hippocampus/internal/thread"
)

// maxSummaryTerms caps the term set stored with a summary.
const maxSummaryTerms = 64

// DecayReport summarizes one decay pass.
type DecayReport struct {
	Links graph.DecayStats `json:"links"`
	Facts int              `json:"facts"`
}

// Decay weakens unreinforced concept links (promoting frequently fired ones
// to LONG) and applies half-life decay to fact weights.
func (c *Consolidator) Decay(ctx context.Context) (DecayReport, error) {
	var rep DecayReport
	var err error
	rep.Links, err = c.graph.DecayAll(ctx, c.cfg.Graph.DecayRate)
	if err != nil {
		return rep, fmt.Errorf("decay links: %w", err)
	}

	sc := c.cfg.Scheduler
	err = c.db.Write(ctx, func(tx *store.Tx) error {
		var err error
		rep.Facts, err = tx.DecayFactWeights(ctx, sc.FactHalfLife, sc.FactWeightFloor, time.Now())
		return err
	})
	if err != nil {
		return rep, fmt.Errorf("decay facts: %w", err)
	}
	c.log.Info().Int("facts", rep.Facts).Msg("fact weight decay")
	return rep, nil
}

// RefreshSummaries writes a new summary version for every thread whose
// content changed, then swaps the in-memory cache. A thread that cannot be
// read keeps its previous summary.
func (c *Consolidator) RefreshSummaries(ctx context.Context) (int, error) {
	var fresh []*store.ThreadSummary
	var errs []error
	for _, ad := range c.registry.All() {
		s, err := c.buildSummary(ctx, ad)
		if err != nil {
			c.log.Warn().Err(err).Str("thread", ad.ID()).Msg("summary refresh skipped")
			errs = append(errs, err)
			continue
		}
		if s != nil {
			fresh = append(fresh, s)
		}
	}

	if len(fresh) > 0 {
		err := c.db.Write(ctx, func(tx *store.Tx) error {
			for _, s := range fresh {
				if err := tx.InsertSummary(ctx, s); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	if err := c.summaries.Reload(ctx, c.db); err != nil {
		return len(fresh), err
	}
	c.log.Info().Int("updated", len(fresh)).Msg("summary refresh")
	return len(fresh), errors.Join(errs...)
}

// buildSummary returns the new summary for a thread, or nil when the cached
// one is still current.
func (c *Consolidator) buildSummary(ctx context.Context, ad thread.Adapter) (*store.ThreadSummary, error) {
	fetch, err := ad.FetchTiered(ctx, thread.TierFacts)
	if err != nil {
		return nil, err
	}
	facts := fetch.Facts
	sort.SliceStable(facts, func(i, j int) bool { return facts[i].Weight > facts[j].Weight })
	if n := c.cfg.Consolidation.SummaryFacts; n > 0 && len(facts) > n {
		facts = facts[:n]
	}

	current := c.summaries.Get(ad.ID())
	if len(facts) == 0 && (current == nil || current.FactCount == 0) {
		return nil, nil
	}

	s := &store.ThreadSummary{ThreadID: ad.ID(), FactCount: fetch.Count}
	s.Terms, s.Profiles = summaryTerms(facts, c.cfg.Graph.MaxConcepts)
	s.Text = c.summaryText(ctx, ad.Name(), facts)

	if current != nil && current.Text == s.Text && current.FactCount == s.FactCount &&
		sameTerms(current.Terms, s.Terms) && sameStrings(current.Profiles, s.Profiles) {
		return nil, nil
	}

	if c.emb != nil && s.Text != "" {
		vec, err := c.emb.Embed(ctx, s.Text)
		if err != nil {
			c.log.Warn().Err(err).Str("thread", ad.ID()).Msg("summary stored without embedding")
		} else {
			s.Embedding = vec
		}
	}
	return s, nil
}

func (c *Consolidator) summaryText(ctx context.Context, name string, facts []store.Fact) string {
	briefs := make([]string, 0, len(facts))
	for i := range facts {
		if b := facts[i].Text(store.Brief); b != "" {
			briefs = append(briefs, b)
		}
	}
	det := strings.Join(briefs, "; ")
	if c.llm == nil || len(facts) == 0 {
		return det
	}

	lines := make([]string, len(facts))
	for i := range facts {
		lines[i] = facts[i].ProfileID + ": " + facts[i].Text(store.Standard)
	}
	resp, err := c.llm.Complete(ctx, llm.SummaryPrompt(name, lines))
	if err != nil || resp == nil || strings.TrimSpace(resp.Content) == "" {
		c.log.Warn().Err(err).Str("thread", name).Msg("model summary unavailable, using fact join")
		return det
	}
	return strings.TrimSpace(resp.Content)
}

// summaryTerms collects the concepts and distinct profile ids of facts.
func summaryTerms(facts []store.Fact, perFact int) (terms, profiles []string) {
	seenT := make(map[string]bool)
	seenP := make(map[string]bool)
	for _, f := range facts {
		if !seenP[f.ProfileID] {
			seenP[f.ProfileID] = true
			profiles = append(profiles, f.ProfileID)
		}
		for _, t := range scoring.FactConcepts(f, perFact) {
			if len(terms) < maxSummaryTerms && !seenT[t] {
				seenT[t] = true
				terms = append(terms, t)
			}
		}
	}
	sort.Strings(terms)
	sort.Strings(profiles)
	return terms, profiles
}

func sameTerms(have map[string]bool, want []string) bool {
	if len(have) != len(want) {
		return false
	}
	for _, t := range want {
		if !have[t] {
			return false
		}
	}
	return true
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
