package assemble

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/hippocampus/internal/config"
	"github.com/lazypower/hippocampus/internal/graph"
	"github.com/lazypower/hippocampus/internal/scoring"
	"github.com/lazypower/hippocampus/internal/store"
	"github.com/lazypower/hippocampus/internal/thread"
)

func newDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func addFact(t *testing.T, db *store.DB, f store.Fact) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.Write(ctx, func(tx *store.Tx) error { return tx.UpsertFact(ctx, &f) }))
}

func newAssembler(t *testing.T, db *store.DB, reg *thread.Registry, mutate func(*config.AssemblyConfig)) *Assembler {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg.Assembly)
	}
	g := graph.New(db, cfg.Graph, zerolog.Nop())
	sc := scoring.New(cfg.Scoring, cfg.Graph.MaxConcepts, reg, g, nil, db, scoring.NewSummaryCache(), zerolog.Nop())
	return New(reg, sc, cfg.Assembly, true, zerolog.Nop())
}

func outcome(t *testing.T, res *Result, id string) ThreadOutcome {
	t.Helper()
	for _, o := range res.Threads {
		if o.ID == id {
			return o
		}
	}
	t.Fatalf("no outcome for thread %s", id)
	return ThreadOutcome{}
}

// stubThread is an adapter with scripted fetch behaviour.
type stubThread struct {
	id       string
	keywords []string
	fetch    func(ctx context.Context, tier thread.Tier) (*thread.Fetch, error)
}

func (s *stubThread) ID() string                           { return s.id }
func (s *stubThread) Name() string                         { return strings.ToUpper(s.id) }
func (s *stubThread) Keywords() []string                   { return s.keywords }
func (s *stubThread) Health(context.Context) thread.Status { return thread.Status{Status: thread.HealthOK} }
func (s *stubThread) FetchTiered(ctx context.Context, tier thread.Tier) (*thread.Fetch, error) {
	return s.fetch(ctx, tier)
}

func TestAssembleProfilesTierForRelationshipQuery(t *testing.T) {
	db := newDB(t)
	addFact(t, db, store.Fact{ProfileID: "user.dad", Key: "about.fishing", Domain: thread.Relationships,
		Brief: "loves fishing", Weight: 0.6})
	addFact(t, db, store.Fact{ProfileID: "user.dad", Key: "about.home", Domain: thread.Relationships,
		Brief: "lives in Maine", Weight: 0.6})
	addFact(t, db, store.Fact{ProfileID: "user", Key: "ui.theme", Domain: thread.Preferences,
		Brief: "dark mode", Weight: 0.9})

	a := newAssembler(t, db, thread.NewRegistry(db), nil)
	res, err := a.Assemble(context.Background(), "what do you know about my dad", L2, 0)
	require.NoError(t, err)

	assert.Contains(t, res.Text, "[relationships] Relationships: user.dad(2)")
	assert.Contains(t, res.Text, "[preferences] Preferences (1 facts)")
	assert.NotContains(t, res.Text, "loves fishing")
	assert.Empty(t, res.AccessedKeys)

	rel := outcome(t, res, thread.Relationships)
	assert.Equal(t, "profiles", rel.Tier)
	assert.Equal(t, OutcomeIncluded, rel.Status)
	assert.Equal(t, OutcomeEmpty, outcome(t, res, thread.Values).Status)

	// Higher-scoring thread renders first.
	assert.Less(t, strings.Index(res.Text, "[relationships]"), strings.Index(res.Text, "[preferences]"))
	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, 50*20, res.Budget)
}

func TestAssembleFactsTier(t *testing.T) {
	db := newDB(t)
	addFact(t, db, store.Fact{ProfileID: "user", Key: "ui.theme", Domain: thread.Preferences,
		Brief: "dark mode", Standard: "Prefers dark mode\nin every editor", Weight: 0.9})
	addFact(t, db, store.Fact{ProfileID: "user", Key: "editor.indent", Domain: thread.Preferences,
		Brief: "tabs", Weight: 0.2})

	a := newAssembler(t, db, thread.NewRegistry(db), func(c *config.AssemblyConfig) { c.FactGate = 4 })
	res, err := a.Assemble(context.Background(), "which theme do I prefer, dark mode?", L2, 0)
	require.NoError(t, err)

	assert.Contains(t, res.Text, "[preferences] Preferences\n")
	assert.Contains(t, res.Text, "preferences.user.ui.theme: Prefers dark mode in every editor")
	assert.Contains(t, res.AccessedKeys, "preferences.user.ui.theme")
	assert.Len(t, res.AccessedIDs, len(res.AccessedKeys))
	assert.Equal(t, "preferences.user.ui.theme", res.AccessedKeys[0])
	assert.True(t, res.Fallback)
	assert.NotEmpty(t, res.Audit)

	pref := outcome(t, res, thread.Preferences)
	assert.Equal(t, "facts", pref.Tier)
	assert.Equal(t, 2, pref.Facts)
}

func TestAssembleRespectsBudget(t *testing.T) {
	db := newDB(t)
	for _, k := range []string{"a", "b", "c", "d", "e", "f"} {
		addFact(t, db, store.Fact{ProfileID: "user", Key: "tool." + k, Domain: thread.Preferences,
			Brief: "likes a reasonably long tool description for entry " + k, Weight: 0.5})
	}
	a := newAssembler(t, db, thread.NewRegistry(db), func(c *config.AssemblyConfig) { c.FactGate = 4 })

	for _, budget := range []int{1, 10, 30, 60, 120} {
		res, err := a.Assemble(context.Background(), "what tool do I prefer", L1, budget)
		require.NoError(t, err)
		assert.LessOrEqual(t, res.Tokens, budget, "budget %d", budget)
		assert.LessOrEqual(t, EstimateTokens(res.Text), budget, "budget %d", budget)
		assert.Equal(t, strings.Count(res.Text, "preferences.user.tool."), len(res.AccessedKeys))
	}

	res, err := a.Assemble(context.Background(), "what tool do I prefer", L1, 1)
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Equal(t, OutcomeOverBudget, outcome(t, res, thread.Preferences).Status)
}

func TestAssembleMaxFacts(t *testing.T) {
	db := newDB(t)
	for _, k := range []string{"a", "b", "c", "d"} {
		addFact(t, db, store.Fact{ProfileID: "user", Key: "tool." + k, Domain: thread.Preferences,
			Brief: "tool " + k, Weight: 0.5})
	}
	a := newAssembler(t, db, thread.NewRegistry(db), func(c *config.AssemblyConfig) {
		c.FactGate = 4
		c.MaxFacts = 2
	})
	res, err := a.Assemble(context.Background(), "what tool do I prefer", L3, 10000)
	require.NoError(t, err)
	assert.Len(t, res.AccessedKeys, 2)
}

func TestAssembleOmitsDegradedThread(t *testing.T) {
	db := newDB(t)
	broken := &stubThread{id: "broken", keywords: []string{"dad"},
		fetch: func(context.Context, thread.Tier) (*thread.Fetch, error) {
			return nil, errors.New("backing store offline")
		}}
	panicky := &stubThread{id: "panicky", keywords: []string{"dad"},
		fetch: func(context.Context, thread.Tier) (*thread.Fetch, error) { panic("boom") }}
	healthy := &stubThread{id: "healthy", keywords: []string{"dad"},
		fetch: func(context.Context, thread.Tier) (*thread.Fetch, error) {
			return &thread.Fetch{Count: 1, Profiles: []store.ProfileCount{{ProfileID: "user.dad", Facts: 1}}}, nil
		}}

	a := newAssembler(t, db, thread.NewRegistryOf(broken, panicky, healthy), nil)
	res, err := a.Assemble(context.Background(), "my dad", L2, 0)
	require.NoError(t, err)

	assert.Equal(t, "[healthy] HEALTHY: user.dad(1)", res.Text)
	assert.Equal(t, OutcomeDegraded, outcome(t, res, "broken").Status)
	assert.Contains(t, outcome(t, res, "broken").Error, "offline")
	assert.Equal(t, OutcomeDegraded, outcome(t, res, "panicky").Status)
	assert.Equal(t, OutcomeIncluded, outcome(t, res, "healthy").Status)
}

func TestAssembleTimesOutSlowThread(t *testing.T) {
	db := newDB(t)
	slow := &stubThread{id: "slow", keywords: []string{"dad"},
		fetch: func(ctx context.Context, _ thread.Tier) (*thread.Fetch, error) {
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			return &thread.Fetch{Count: 1}, nil
		}}
	fast := &stubThread{id: "fast", keywords: []string{"dad"},
		fetch: func(context.Context, thread.Tier) (*thread.Fetch, error) {
			return &thread.Fetch{Count: 3}, nil
		}}

	a := newAssembler(t, db, thread.NewRegistryOf(slow, fast), func(c *config.AssemblyConfig) {
		c.Timeout = 30 * time.Millisecond
		c.ProfileGate = 8
		c.FactGate = 9
	})
	start := time.Now()
	res, err := a.Assemble(context.Background(), "my dad", L2, 0)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, OutcomeTimeout, outcome(t, res, "slow").Status)
	assert.Equal(t, "[fast] FAST (3 facts)", res.Text)
}

func TestAssembleRejectsBadLevel(t *testing.T) {
	db := newDB(t)
	a := newAssembler(t, db, thread.NewRegistry(db), nil)
	_, err := a.Assemble(context.Background(), "anything", Level(7), 0)
	assert.Error(t, err)
}

func TestAssembleEmptyStore(t *testing.T) {
	db := newDB(t)
	a := newAssembler(t, db, thread.NewRegistry(db), nil)
	res, err := a.Assemble(context.Background(), "what do you know about my dad", L2, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Zero(t, res.Tokens)
	for _, o := range res.Threads {
		assert.Equal(t, OutcomeEmpty, o.Status, o.ID)
	}
}
