package scoring

import (
	"context"
	"errors"
	"hash/fnv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/hippocampus/internal/config"
	"github.com/lazypower/hippocampus/internal/embedding"
	"github.com/lazypower/hippocampus/internal/graph"
	"github.com/lazypower/hippocampus/internal/store"
	"github.com/lazypower/hippocampus/internal/thread"
)

// hashEmbedder maps each token to one of 32 buckets.
type hashEmbedder struct{ err error }

func (h hashEmbedder) Model() string   { return "hash" }
func (h hashEmbedder) Dimensions() int { return 32 }
func (h hashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if h.err != nil {
		return nil, h.err
	}
	vec := make([]float64, 32)
	for _, tok := range graph.ExtractConcepts(text, 0) {
		f := fnv.New32a()
		f.Write([]byte(tok))
		vec[f.Sum32()%32]++
	}
	return vec, nil
}

type fixture struct {
	db        *store.DB
	graph     *graph.Graph
	summaries *SummaryCache
	scorer    *Scorer
}

func newFixture(t *testing.T, emb embedding.Embedder) *fixture {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	g := graph.New(db, cfg.Graph, zerolog.Nop())
	sums := NewSummaryCache()
	reg := thread.NewRegistry(db)
	return &fixture{
		db:        db,
		graph:     g,
		summaries: sums,
		scorer:    New(cfg.Scoring, cfg.Graph.MaxConcepts, reg, g, emb, db, sums, zerolog.Nop()),
	}
}

func (fx *fixture) fact(t *testing.T, f store.Fact) store.Fact {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fx.db.Write(ctx, func(tx *store.Tx) error { return tx.UpsertFact(ctx, &f) }))
	return f
}

func (fx *fixture) embedFact(t *testing.T, f store.Fact, emb embedding.Embedder) {
	t.Helper()
	ctx := context.Background()
	vec, err := emb.Embed(ctx, f.Text(store.Full))
	require.NoError(t, err)
	require.NoError(t, fx.db.Write(ctx, func(tx *store.Tx) error { return tx.SaveFactVector(ctx, f.ID, vec, emb.Model()) }))
}

func (fx *fixture) link(t *testing.T, a, b string, s float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fx.db.Write(ctx, func(tx *store.Tx) error { return tx.RecordCooccurrence(ctx, a, b, s, time.Now()) }))
}

func TestScoreThreadsTriggers(t *testing.T) {
	fx := newFixture(t, nil)
	q := fx.scorer.Prepare(context.Background(), "what do you know about my dad")
	scores := fx.scorer.ScoreThreads(q)

	assert.Equal(t, firstTriggerPoints, scores[thread.Relationships])
	assert.Zero(t, scores[thread.Values])
	for id, s := range scores {
		assert.GreaterOrEqual(t, s, 0.0, id)
		assert.LessOrEqual(t, s, 10.0, id)
	}
}

func TestScoreThreadsSummaryAndProfiles(t *testing.T) {
	fx := newFixture(t, nil)
	fx.summaries.Swap(map[string]*Summary{
		thread.Relationships: {
			ThreadID: thread.Relationships,
			Terms:    map[string]bool{"dad": true, "fishing": true, "maine": true},
			Profiles: []string{"user.dad", "user.sister"},
		},
	})

	q := fx.scorer.Prepare(context.Background(), "does my dad still go fishing in maine")
	scores := fx.scorer.ScoreThreads(q)
	// trigger "dad" + three summary terms + profile name
	want := firstTriggerPoints + 3*summaryTermPoints + profilePoints
	assert.Equal(t, min(want, maxThreadScore), scores[thread.Relationships])
}

func TestScoreThreadsCapsAtTen(t *testing.T) {
	fx := newFixture(t, nil)
	q := fx.scorer.Prepare(context.Background(), "my dad, mom, brother, sister, wife and friend")
	assert.Equal(t, maxThreadScore, fx.scorer.ScoreThreads(q)[thread.Relationships])
}

func TestScoreThreadsPhraseTrigger(t *testing.T) {
	fx := newFixture(t, nil)
	q := fx.scorer.Prepare(context.Background(), "Who are you, really?")
	assert.Equal(t, firstTriggerPoints, fx.scorer.ScoreThreads(q)[thread.Identity])
}

func TestScoreFactsKeywordFallbackIsExplicit(t *testing.T) {
	fx := newFixture(t, hashEmbedder{err: errors.New("backend down")})
	dark := fx.fact(t, store.Fact{ProfileID: "user", Key: "ui.theme", Domain: thread.Preferences,
		Brief: "dark mode", Weight: 0.9})
	tabs := fx.fact(t, store.Fact{ProfileID: "user", Key: "editor.indent", Domain: thread.Preferences,
		Brief: "tabs", Weight: 0.5})

	q := fx.scorer.Prepare(context.Background(), "dark mode please")
	require.True(t, q.Fallback())

	scored := fx.scorer.ScoreFacts(context.Background(), q, []store.Fact{tabs, dark})
	require.Len(t, scored, 2)
	assert.Equal(t, dark.ID, scored[0].Fact.ID)
	assert.True(t, scored[0].Fallback)
	// query concepts: dark, mode, please; two of three match.
	assert.InDelta(t, 2.0/3.0, scored[0].Score, 1e-9)
	assert.Zero(t, scored[1].Score)
}

func TestScoreFactsSpreadActivationScenario(t *testing.T) {
	emb := hashEmbedder{}
	fx := newFixture(t, emb)
	fx.link(t, "dad", "family", 0.8)
	fx.link(t, "family", "fishing", 0.6)
	require.NoError(t, fx.graph.Reload(context.Background()))

	fishing := fx.fact(t, store.Fact{ProfileID: "user", Key: "hobby.fishing", Domain: thread.Preferences,
		Brief: "fishing trips", Weight: 0.5})
	gardening := fx.fact(t, store.Fact{ProfileID: "user", Key: "hobby.garden", Domain: thread.Preferences,
		Brief: "tomatoes", Weight: 0.5})

	q := fx.scorer.Prepare(context.Background(), "what do you know about my dad")
	require.False(t, q.Fallback())
	assert.InDelta(t, 0.48, q.Activation["fishing"], 1e-9)

	scored := fx.scorer.ScoreFacts(context.Background(), q, []store.Fact{gardening, fishing})
	require.Equal(t, fishing.ID, scored[0].Fact.ID)
	assert.InDelta(t, 0.48, scored[0].Signals.Activation, 1e-9)
	assert.Zero(t, scored[0].Signals.Keyword)
	assert.Greater(t, scored[0].Score, scored[1].Score)
	// Without vectors the semantic weight drops out of the denominator.
	assert.InDelta(t, 0.2*0.48/0.6, scored[0].Score, 1e-9)
}

func TestScoreFactsSemanticSignal(t *testing.T) {
	emb := hashEmbedder{}
	fx := newFixture(t, emb)
	f := fx.fact(t, store.Fact{ProfileID: "user", Key: "ui.theme", Domain: thread.Preferences,
		Brief: "dark mode", Full: "dark mode", Weight: 0.9})
	fx.embedFact(t, f, emb)

	q := fx.scorer.Prepare(context.Background(), "dark mode")
	scored := fx.scorer.ScoreFacts(context.Background(), q, []store.Fact{f})
	require.Len(t, scored, 1)
	s := scored[0]
	assert.True(t, s.Signals.HasSemantic)
	assert.InDelta(t, 1.0, s.Signals.Semantic, 1e-9)
	assert.Equal(t, 1.0, s.Signals.Keyword)
	assert.Equal(t, 1.0, s.Signals.Activation)
	assert.LessOrEqual(t, s.Score, 1.0)
	assert.InDelta(t, (0.5+0.2+0.1)/1.1, s.Score, 1e-9)
}

func TestScoreFactsZeroVectorsAreKeywordOnly(t *testing.T) {
	emb := embedding.NewTFIDFEmbedder([]string{"dark mode", "fishing trips"}, 0)
	fx := newFixture(t, emb)
	dark := fx.fact(t, store.Fact{ProfileID: "user", Key: "ui.theme", Domain: thread.Preferences,
		Brief: "dark mode", Full: "dark mode", Weight: 0.9})
	veg := fx.fact(t, store.Fact{ProfileID: "user", Key: "hobby.garden", Domain: thread.Preferences,
		Brief: "tomatoes", Full: "tomatoes", Weight: 0.5})
	fx.embedFact(t, dark, emb)
	fx.embedFact(t, veg, emb)

	q := fx.scorer.Prepare(context.Background(), "weather tomorrow")
	require.True(t, q.Fallback())
	assert.ErrorIs(t, q.EmbedErr, embedding.ErrUnavailable)
	assert.Nil(t, q.Embedding)
	for _, s := range fx.scorer.ScoreFacts(context.Background(), q, []store.Fact{dark, veg}) {
		assert.False(t, s.Signals.HasSemantic, s.Fact.Key)
	}

	q = fx.scorer.Prepare(context.Background(), "dark mode")
	require.False(t, q.Fallback())
	scored := fx.scorer.ScoreFacts(context.Background(), q, []store.Fact{dark, veg})
	require.Len(t, scored, 2)
	byKey := map[string]ScoredFact{}
	for _, s := range scored {
		byKey[s.Fact.Key] = s
	}
	assert.True(t, byKey["ui.theme"].Signals.HasSemantic)
	// tomatoes is outside the vocabulary, so its stored vector is all zero.
	assert.False(t, byKey["hobby.garden"].Signals.HasSemantic)
}

func TestRankTieBreaks(t *testing.T) {
	fs := []ScoredFact{
		{Fact: store.Fact{Domain: "values", ProfileID: "user", Key: "b", Weight: 0.5, UpdatedAt: 1}, Score: 0.5},
		{Fact: store.Fact{Domain: "values", ProfileID: "user", Key: "a", Weight: 0.5, UpdatedAt: 1}, Score: 0.5},
		{Fact: store.Fact{Domain: "values", ProfileID: "user", Key: "c", Weight: 0.5, UpdatedAt: 2}, Score: 0.5},
		{Fact: store.Fact{Domain: "values", ProfileID: "user", Key: "d", Weight: 0.9, UpdatedAt: 0}, Score: 0.5},
		{Fact: store.Fact{Domain: "values", ProfileID: "user", Key: "e", Weight: 0.1, UpdatedAt: 0}, Score: 0.6},
	}
	Rank(fs)
	var keys []string
	for _, f := range fs {
		keys = append(keys, f.Fact.Key)
	}
	assert.Equal(t, []string{"e", "d", "c", "a", "b"}, keys)
}

func TestFactConcepts(t *testing.T) {
	f := store.Fact{ProfileID: "user.dad", Key: "hobby.fishing", Brief: "fishing trips"}
	assert.Equal(t, []string{"dad", "hobby", "fishing", "trip"}, FactConcepts(f, 0))
	assert.Len(t, FactConcepts(f, 2), 2)
}

func TestAuditRows(t *testing.T) {
	q := &Query{Text: "q"}
	rows := AuditRows("r1", q, "values", []ScoredFact{{Fact: store.Fact{Domain: "values", ProfileID: "user", Key: "k"}, Score: 0.3, Fallback: true}})
	require.Len(t, rows, 1)
	assert.Equal(t, "values.user.k", rows[0].FactKey)
	assert.True(t, rows[0].Fallback)
}

func TestSummaryCacheReload(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, fx.db.Write(ctx, func(tx *store.Tx) error {
		return tx.InsertSummary(ctx, &store.ThreadSummary{ThreadID: thread.Values, Text: "honesty",
			Terms: []string{"honesty"}, Profiles: []string{"user"}, FactCount: 1})
	}))

	require.NoError(t, fx.summaries.Reload(ctx, fx.db))
	s := fx.summaries.Get(thread.Values)
	require.NotNil(t, s)
	assert.True(t, s.Terms["honesty"])
	assert.Equal(t, 1, fx.summaries.Len())
	assert.Nil(t, fx.summaries.Get(thread.Events))
}
