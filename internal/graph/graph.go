// Package graph is the associative concept network: Hebbian co-occurrence
// learning, two-stage potentiation, decay and spread activation.
package graph

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lazypower/hippocampus/internal/config"
	"github.com/lazypower/hippocampus/internal/store"
)

// Graph owns the concept_links table and an immutable in-memory adjacency
// snapshot used by the read path. Writers update the table and call Reload;
// readers never touch the database.
type Graph struct {
	db   *store.DB
	cfg  config.GraphConfig
	log  zerolog.Logger
	snap atomic.Pointer[snapshot]
}

type edge struct {
	to       string
	strength float64
}

type snapshot struct {
	adj      map[string][]edge
	links    int
	loadedAt time.Time
}

// DecayStats reports the effect of one DecayAll pass.
type DecayStats struct {
	Decayed  int
	Pruned   int
	Promoted int
}

// New creates a Graph with an empty snapshot. Call Reload to load links.
func New(db *store.DB, cfg config.GraphConfig, log zerolog.Logger) *Graph {
	g := &Graph{db: db, cfg: cfg, log: log}
	g.snap.Store(&snapshot{adj: map[string][]edge{}})
	return g
}

// Reload rebuilds the adjacency snapshot from the store and swaps it in.
func (g *Graph) Reload(ctx context.Context) error {
	links, err := g.db.AllLinks(ctx)
	if err != nil {
		return fmt.Errorf("reload graph: %w", err)
	}
	g.snap.Store(buildSnapshot(links))
	return nil
}

func buildSnapshot(links []store.ConceptLink) *snapshot {
	adj := make(map[string][]edge)
	for _, l := range links {
		adj[l.ConceptA] = append(adj[l.ConceptA], edge{l.ConceptB, l.Strength})
		adj[l.ConceptB] = append(adj[l.ConceptB], edge{l.ConceptA, l.Strength})
	}
	for k := range adj {
		es := adj[k]
		sort.Slice(es, func(i, j int) bool { return es[i].to < es[j].to })
	}
	return &snapshot{adj: adj, links: len(links), loadedAt: time.Now()}
}

// Stats reports the snapshot size.
func (g *Graph) Stats() (concepts, links int) {
	s := g.snap.Load()
	return len(s.adj), s.links
}

// RecordCooccurrence reinforces the a-b link in its own transaction.
func (g *Graph) RecordCooccurrence(ctx context.Context, a, b string) error {
	return g.db.Write(ctx, func(tx *store.Tx) error {
		return tx.RecordCooccurrence(ctx, a, b, g.cfg.LearningRate, time.Now())
	})
}

// LinkConcepts reinforces every pair in concepts inside an existing
// transaction. Used by promotion so a fact and its links commit together.
func (g *Graph) LinkConcepts(ctx context.Context, tx *store.Tx, concepts []string) error {
	now := time.Now()
	for i := 0; i < len(concepts); i++ {
		for j := i + 1; j < len(concepts); j++ {
			if err := tx.RecordCooccurrence(ctx, concepts[i], concepts[j], g.cfg.LearningRate, now); err != nil {
				return err
			}
		}
	}
	return nil
}

// Strength returns the snapshot strength of the a-b link, 0 if absent.
func (g *Graph) Strength(a, b string) float64 {
	for _, e := range g.snap.Load().adj[a] {
		if e.to == b {
			return e.strength
		}
	}
	return 0
}

// DecayAll applies one decay step: SHORT links keep (1-rate) of their
// strength, LONG links keep (1-rate*long_decay_ratio). Links under the prune
// floor are removed, then links that fired often enough are promoted.
func (g *Graph) DecayAll(ctx context.Context, rate float64) (DecayStats, error) {
	if rate < 0 || rate >= 1 {
		return DecayStats{}, fmt.Errorf("decay rate %f out of range [0,1)", rate)
	}
	short := 1 - rate
	long := 1 - rate*g.cfg.LongDecayRatio

	var st DecayStats
	err := g.db.Write(ctx, func(tx *store.Tx) error {
		var err error
		st.Decayed, st.Pruned, err = tx.DecayLinks(ctx, short, long, g.cfg.PruneFloor)
		if err != nil {
			return err
		}
		st.Promoted, err = tx.PromoteLinks(ctx, g.cfg.PromoteThreshold)
		return err
	})
	if err != nil {
		return DecayStats{}, err
	}

	g.log.Info().Int("decayed", st.Decayed).Int("pruned", st.Pruned).Int("promoted", st.Promoted).
		Float64("rate", rate).Msg("graph decay")
	return st, g.Reload(ctx)
}
