package scoring

import (
	"context"
	"sync/atomic"

	"github.com/lazypower/hippocampus/internal/store"
)

// Summary is the read-only per-thread cache entry consumed by thread scoring.
type Summary struct {
	ThreadID  string
	Version   int
	Text      string
	Terms     map[string]bool
	Profiles  []string
	Embedding []float64
	FactCount int
}

// SummaryCache holds the current summaries behind an atomic pointer. The
// refresh job builds a new map and swaps it in; readers never lock.
type SummaryCache struct {
	p atomic.Pointer[map[string]*Summary]
}

// NewSummaryCache returns an empty cache.
func NewSummaryCache() *SummaryCache {
	c := &SummaryCache{}
	empty := map[string]*Summary{}
	c.p.Store(&empty)
	return c
}

// Get returns the summary for a thread, or nil.
func (c *SummaryCache) Get(threadID string) *Summary {
	return (*c.p.Load())[threadID]
}

// Len reports the number of cached threads.
func (c *SummaryCache) Len() int { return len(*c.p.Load()) }

// Swap replaces the whole cache.
func (c *SummaryCache) Swap(m map[string]*Summary) {
	c.p.Store(&m)
}

// SummaryReader is the store query the cache reloads from.
type SummaryReader interface {
	LatestSummaries(ctx context.Context) (map[string]*store.ThreadSummary, error)
}

// Reload reads the newest summary version for every thread and swaps it in.
func (c *SummaryCache) Reload(ctx context.Context, r SummaryReader) error {
	rows, err := r.LatestSummaries(ctx)
	if err != nil {
		return err
	}
	m := make(map[string]*Summary, len(rows))
	for id, s := range rows {
		terms := make(map[string]bool, len(s.Terms))
		for _, t := range s.Terms {
			terms[t] = true
		}
		m[id] = &Summary{
			ThreadID:  id,
			Version:   s.Version,
			Text:      s.Text,
			Terms:     terms,
			Profiles:  s.Profiles,
			Embedding: s.Embedding,
			FactCount: s.FactCount,
		}
	}
	c.Swap(m)
	return nil
}
