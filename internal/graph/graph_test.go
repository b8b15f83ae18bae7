package graph

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/hippocampus/internal/config"
	"github.com/lazypower/hippocampus/internal/store"
)

func testGraph(t *testing.T) (*Graph, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, config.Default().Graph, zerolog.Nop()), db
}

// seedLink creates a link whose first-fire strength equals s.
func seedLink(t *testing.T, db *store.DB, a, b string, s float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.Write(ctx, func(tx *store.Tx) error {
		return tx.RecordCooccurrence(ctx, a, b, s, time.Now())
	}))
}

func TestSpreadActivateTwoHopScenario(t *testing.T) {
	g, db := testGraph(t)
	seedLink(t, db, "dad", "family", 0.8)
	seedLink(t, db, "family", "fishing", 0.6)
	require.NoError(t, g.Reload(context.Background()))

	act := g.SpreadActivate([]string{"dad"}, 2, 0.1)
	assert.Equal(t, 1.0, act["dad"])
	assert.InDelta(t, 0.8, act["family"], 1e-9)
	assert.InDelta(t, 0.48, act["fishing"], 1e-9)

	oneHop := g.SpreadActivate([]string{"dad"}, 1, 0.1)
	_, reached := oneHop["fishing"]
	assert.False(t, reached, "fishing is two hops away")
}

func TestSpreadActivateThresholdDropsWeakPaths(t *testing.T) {
	g, db := testGraph(t)
	seedLink(t, db, "dad", "family", 0.8)
	seedLink(t, db, "family", "fishing", 0.6)
	require.NoError(t, g.Reload(context.Background()))

	act := g.SpreadActivate([]string{"dad"}, 2, 0.5)
	assert.Contains(t, act, "family")
	assert.NotContains(t, act, "fishing")
}

func TestSpreadActivateSumsAndCaps(t *testing.T) {
	g, db := testGraph(t)
	seedLink(t, db, "a", "b", 0.6)
	seedLink(t, db, "a", "c", 0.6)
	seedLink(t, db, "b", "d", 0.9)
	seedLink(t, db, "c", "d", 0.9)
	seedLink(t, db, "a", "e", 0.3)
	seedLink(t, db, "b", "e", 0.2)
	require.NoError(t, g.Reload(context.Background()))

	act := g.SpreadActivate([]string{"a"}, 2, 0.01)
	// Two same-layer paths of 0.54 each, capped.
	assert.Equal(t, 1.0, act["d"])
	// e gets 0.3 from a in layer 1 and 0.6*0.2 from b in layer 2.
	assert.InDelta(t, 0.42, act["e"], 1e-9)
}

func TestSpreadActivateAccumulatesAcrossLayers(t *testing.T) {
	g, db := testGraph(t)
	seedLink(t, db, "a", "b", 0.5)
	seedLink(t, db, "a", "c", 0.9)
	seedLink(t, db, "c", "b", 0.9)
	require.NoError(t, g.Reload(context.Background()))

	oneHop := g.SpreadActivate([]string{"a"}, 1, 0.01)
	assert.InDelta(t, 0.5, oneHop["b"], 1e-9)

	// b: 0.5 direct, then 0.9*0.9 through c, capped.
	act := g.SpreadActivate([]string{"a"}, 2, 0.01)
	assert.Equal(t, 1.0, act["b"])
	assert.Equal(t, 1.0, act["c"])
	assert.Equal(t, 1.0, act["a"])
}

func TestSpreadActivateLaterHopBelowCap(t *testing.T) {
	g, db := testGraph(t)
	seedLink(t, db, "a", "b", 0.2)
	seedLink(t, db, "a", "c", 0.5)
	seedLink(t, db, "c", "b", 0.4)
	require.NoError(t, g.Reload(context.Background()))

	act := g.SpreadActivate([]string{"a"}, 2, 0.01)
	// b: 0.2 + 0.5*0.4; c: 0.5 + 0.2*0.4.
	assert.InDelta(t, 0.4, act["b"], 1e-9)
	assert.InDelta(t, 0.58, act["c"], 1e-9)
}

func TestSpreadActivateTerminatesOnCycles(t *testing.T) {
	g, db := testGraph(t)
	seedLink(t, db, "x", "y", 1.0)
	seedLink(t, db, "y", "z", 1.0)
	seedLink(t, db, "z", "x", 1.0)
	require.NoError(t, g.Reload(context.Background()))

	done := make(chan map[string]float64, 1)
	go func() { done <- g.SpreadActivate([]string{"x", "y"}, 1000, 0) }()

	select {
	case act := <-done:
		assert.Len(t, act, 3)
		for c, v := range act {
			assert.LessOrEqual(t, v, 1.0, c)
			assert.GreaterOrEqual(t, v, 0.0, c)
		}
	case <-time.After(time.Second):
		t.Fatal("SpreadActivate did not terminate")
	}
}

func TestSpreadActivateIgnoresUnknownSeeds(t *testing.T) {
	g, _ := testGraph(t)
	act := g.SpreadActivate([]string{"ghost", ""}, 3, 0.1)
	assert.Equal(t, map[string]float64{"ghost": 1.0}, act)
}

func TestRecordCooccurrenceHebbian(t *testing.T) {
	g, db := testGraph(t)
	ctx := context.Background()

	prev, prevGain := 0.0, 1.0
	for i := 0; i < 10; i++ {
		require.NoError(t, g.RecordCooccurrence(ctx, "coffee", "morning"))
		l, err := db.GetLink(ctx, "coffee", "morning")
		require.NoError(t, err)
		assert.Greater(t, l.Strength, prev)
		assert.LessOrEqual(t, l.Strength, 1.0)
		// Asymptotic: each gain is smaller than the last.
		gain := l.Strength - prev
		assert.Less(t, gain, prevGain)
		prev, prevGain = l.Strength, gain
	}
}

func TestConcurrentCooccurrenceLosesNoUpdates(t *testing.T) {
	g, db := testGraph(t)
	ctx := context.Background()

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() { errs <- g.RecordCooccurrence(ctx, "a", "b") }()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
	l, err := db.GetLink(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, n, l.FireCount)
}

func TestLinkConceptsPairwise(t *testing.T) {
	g, db := testGraph(t)
	ctx := context.Background()
	require.NoError(t, db.Write(ctx, func(tx *store.Tx) error {
		return g.LinkConcepts(ctx, tx, []string{"dad", "fishing", "maine"})
	}))
	require.NoError(t, g.Reload(ctx))

	_, links := g.Stats()
	assert.Equal(t, 3, links)
	assert.InDelta(t, 0.1, g.Strength("fishing", "dad"), 1e-9)
	assert.Zero(t, g.Strength("dad", "nobody"))
}

func TestDecayBoundedness(t *testing.T) {
	g, db := testGraph(t)
	ctx := context.Background()
	seedLink(t, db, "a", "b", 0.9)

	prev := 0.9
	for i := 0; i < 200; i++ {
		_, err := g.DecayAll(ctx, 0.1)
		require.NoError(t, err)
		l, err := db.GetLink(ctx, "a", "b")
		require.NoError(t, err)
		if l == nil {
			// Pruned below the floor.
			return
		}
		assert.Less(t, l.Strength, prev)
		assert.GreaterOrEqual(t, l.Strength, 0.0)
		prev = l.Strength
	}
	t.Fatal("link never decayed below the prune floor")
}

func TestLongDecaysSlowerThanShort(t *testing.T) {
	g, db := testGraph(t)
	ctx := context.Background()
	threshold := config.Default().Graph.PromoteThreshold

	// Same strength history; only "long" fires enough to promote.
	for i := 0; i < threshold; i++ {
		require.NoError(t, g.RecordCooccurrence(ctx, "long", "pair"))
	}
	for i := 0; i < threshold-1; i++ {
		require.NoError(t, g.RecordCooccurrence(ctx, "short", "pair"))
	}
	// Promotion happens during the first decay pass; run one to promote and
	// then compare retention on the next.
	_, err := g.DecayAll(ctx, 0)
	require.NoError(t, err)

	long0, _ := db.GetLink(ctx, "long", "pair")
	short0, _ := db.GetLink(ctx, "short", "pair")
	require.Equal(t, store.StageLong, long0.Stage)
	require.Equal(t, store.StageShort, short0.Stage)

	st, err := g.DecayAll(ctx, 0.2)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Decayed)

	long1, _ := db.GetLink(ctx, "long", "pair")
	short1, _ := db.GetLink(ctx, "short", "pair")
	assert.Greater(t, long1.Strength/long0.Strength, short1.Strength/short0.Strength)
	assert.InDelta(t, 0.95, long1.Strength/long0.Strength, 1e-9)
	assert.InDelta(t, 0.8, short1.Strength/short0.Strength, 1e-9)
}

func TestDecayAllRejectsBadRate(t *testing.T) {
	g, _ := testGraph(t)
	_, err := g.DecayAll(context.Background(), 1.5)
	assert.Error(t, err)
}

func TestSnapshotIsolation(t *testing.T) {
	g, db := testGraph(t)
	ctx := context.Background()
	seedLink(t, db, "a", "b", 0.5)

	// Writes are invisible until Reload swaps the snapshot.
	assert.Zero(t, g.Strength("a", "b"))
	require.NoError(t, g.Reload(ctx))
	assert.Equal(t, 0.5, g.Strength("a", "b"))
}
