package graph

import "sort"

// SpreadActivate propagates activation from seeds (each at 1.0) through the
// snapshot for at most maxHops layers. A contribution source*strength below
// threshold is dropped. Every contribution a concept receives, in any layer,
// adds to its activation, capped at 1.0. Each concept spreads at most once,
// in the layer after it is first reached, so cycles cannot echo.
func (g *Graph) SpreadActivate(seeds []string, maxHops int, threshold float64) map[string]float64 {
	adj := g.snap.Load().adj
	act := make(map[string]float64, len(seeds))
	spread := make(map[string]bool, len(seeds))
	frontier := make([]string, 0, len(seeds))
	for _, s := range seeds {
		if s == "" || spread[s] {
			continue
		}
		act[s] = 1.0
		spread[s] = true
		frontier = append(frontier, s)
	}

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		// Sources spread the value they held when the layer began.
		next := make(map[string]float64)
		for _, src := range frontier {
			a := act[src]
			for _, e := range adj[src] {
				c := a * e.strength
				if c < threshold {
					continue
				}
				next[e.to] += c
			}
		}

		frontier = frontier[:0]
		for c, v := range next {
			act[c] = min(act[c]+v, 1)
			if !spread[c] {
				spread[c] = true
				frontier = append(frontier, c)
			}
		}
		sort.Strings(frontier)
	}
	return act
}
