// Package assemble builds the token-budgeted context block for a query.
package assemble

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lazypower/hippocampus/internal/config"
	"github.com/lazypower/hippocampus/internal/scoring"
	"github.com/lazypower/hippocampus/internal/store"
	"github.com/lazypower/hippocampus/internal/thread"
)

// Thread outcome states.
const (
	OutcomeIncluded   = "included"
	OutcomeEmpty      = "empty"
	OutcomeDegraded   = "degraded"
	OutcomeTimeout    = "timeout"
	OutcomeOverBudget = "over_budget"
)

// ThreadOutcome records what happened to one thread during assembly.
type ThreadOutcome struct {
	ID     string  `json:"id"`
	Score  float64 `json:"score"`
	Tier   string  `json:"tier"`
	Status string  `json:"status"`
	Facts  int     `json:"facts"`
	Error  string  `json:"error,omitempty"`
}

// Result is an assembled context block.
type Result struct {
	RequestID    string           `json:"request_id"`
	Text         string           `json:"text"`
	AccessedKeys []string         `json:"accessed_keys"`
	AccessedIDs  []int64          `json:"-"`
	Threads      []ThreadOutcome  `json:"threads"`
	Tokens       int              `json:"tokens"`
	Budget       int              `json:"budget"`
	Level        string           `json:"level"`
	Fallback     bool             `json:"fallback"`
	Audit        []store.AuditRow `json:"-"`
}

// Assembler gates threads by score, fetches each at its tier in parallel
// and packs the result into the token budget.
type Assembler struct {
	registry *thread.Registry
	scorer   *scoring.Scorer
	cfg      config.AssemblyConfig
	audit    bool
	log      zerolog.Logger
}

// New creates an Assembler.
func New(registry *thread.Registry, scorer *scoring.Scorer, cfg config.AssemblyConfig, audit bool, log zerolog.Logger) *Assembler {
	return &Assembler{registry: registry, scorer: scorer, cfg: cfg, audit: audit, log: log}
}

// section is one thread's gating decision.
type section struct {
	adapter thread.Adapter
	score   float64
	tier    thread.Tier
}

// fetched is one thread's material once its fetch has returned.
type fetched struct {
	done  bool
	err   error
	fetch *thread.Fetch
	facts []scoring.ScoredFact
}

// Assemble builds the context for query at level within budget tokens. A
// budget <= 0 selects level magnitude x max_facts. A failing or slow thread
// is omitted and reported in Result.Threads; Assemble itself only fails on
// invalid input.
func (a *Assembler) Assemble(ctx context.Context, query string, level Level, budget int) (*Result, error) {
	if level < L1 || level > L3 {
		return nil, fmt.Errorf("invalid level %d", level)
	}
	if budget <= 0 {
		budget = level.tokensPerFact() * a.cfg.MaxFacts
	}
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	res := &Result{RequestID: uuid.NewString(), Budget: budget, Level: level.String()}

	q := a.scorer.Prepare(ctx, query)
	res.Fallback = q.Fallback()
	scores := a.scorer.ScoreThreads(q)

	sections := make([]section, 0, len(a.registry.All()))
	for _, ad := range a.registry.All() {
		s := scores[ad.ID()]
		sections = append(sections, section{
			adapter: ad,
			score:   s,
			tier:    TierFor(s, a.cfg.ProfileGate, a.cfg.FactGate),
		})
	}
	// Stable keeps registry order on equal scores.
	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].score > sections[j].score
	})

	results := a.fetchAll(ctx, q, sections)
	a.pack(res, q, level, sections, results)
	return res, nil
}

// fetchAll runs each thread's fetch under the assembly deadline and returns
// a copy of whatever finished in time. Late fetches write into the shared
// slice after the copy is taken and are discarded.
func (a *Assembler) fetchAll(ctx context.Context, q *scoring.Query, sections []section) []fetched {
	var mu sync.Mutex
	shared := make([]fetched, len(sections))

	var g errgroup.Group
	if a.cfg.Concurrency > 0 {
		g.SetLimit(a.cfg.Concurrency)
	}

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := range sections {
			i := i
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				f, facts, err := a.fetchOne(ctx, q, sections[i])
				mu.Lock()
				shared[i] = fetched{done: true, err: err, fetch: f, facts: facts}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-finished:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]fetched, len(shared))
	copy(out, shared)
	return out
}

func (a *Assembler) fetchOne(ctx context.Context, q *scoring.Query, s section) (f *thread.Fetch, facts []scoring.ScoredFact, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("thread %s panicked: %v", s.adapter.ID(), p)
		}
	}()

	f, err = s.adapter.FetchTiered(ctx, s.tier)
	if err != nil {
		return nil, nil, err
	}
	if s.tier == thread.TierFacts {
		facts = a.scorer.ScoreFacts(ctx, q, f.Facts)
	}
	return f, facts, nil
}

// pack walks sections in score order and emits lines until the first one
// that would exceed the budget. Nothing is emitted after that point.
func (a *Assembler) pack(res *Result, q *scoring.Query, level Level, sections []section, results []fetched) {
	var lines []string
	used := 0
	full := false
	factsEmitted := 0

	// emit appends lines only if all of them fit.
	emit := func(add ...string) bool {
		if full {
			return false
		}
		c := 0
		for _, l := range add {
			c += lineCost(l)
		}
		if used+c > res.Budget {
			full = true
			return false
		}
		lines = append(lines, add...)
		used += c
		return true
	}

	for i, s := range sections {
		r := results[i]
		out := ThreadOutcome{ID: s.adapter.ID(), Score: s.score, Tier: s.tier.String()}
		switch {
		case !r.done:
			out.Status = OutcomeTimeout
			a.log.Warn().Str("thread", out.ID).Msg("thread fetch timed out, omitted")
		case r.err != nil:
			out.Status = OutcomeDegraded
			out.Error = r.err.Error()
			a.log.Warn().Err(r.err).Str("thread", out.ID).Msg("thread degraded, omitted")
		case r.fetch.Count == 0:
			out.Status = OutcomeEmpty
		default:
			out.Status = OutcomeIncluded
			var ok bool
			switch s.tier {
			case thread.TierMetadata:
				ok = emit(metadataLine(out.ID, s.adapter.Name(), r.fetch.Count))
			case thread.TierProfiles:
				ok = emit(profilesLine(out.ID, s.adapter.Name(), r.fetch.Profiles))
			case thread.TierFacts:
				// The header only goes out together with the first fact.
				pending := []string{headerLine(out.ID, s.adapter.Name())}
				for j := range r.facts {
					if a.cfg.MaxFacts > 0 && factsEmitted >= a.cfg.MaxFacts {
						break
					}
					f := &r.facts[j].Fact
					if !emit(append(pending, factLine(f, level.Verbosity(f.Weight)))...) {
						break
					}
					pending = nil
					factsEmitted++
					out.Facts++
					res.AccessedKeys = append(res.AccessedKeys, f.QualifiedKey())
					res.AccessedIDs = append(res.AccessedIDs, f.ID)
				}
				ok = out.Facts > 0
				if a.audit {
					res.Audit = append(res.Audit, scoring.AuditRows(res.RequestID, q, out.ID, r.facts)...)
				}
			}
			if !ok {
				out.Status = OutcomeOverBudget
			}
		}
		res.Threads = append(res.Threads, out)
	}

	res.Text = strings.Join(lines, "\n")
	res.Tokens = used
}
