package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// QueryCache wraps an Embedder for the foreground path: results are cached
// by normalized text and every miss is bounded by a timeout. A miss that
// times out still lands in the cache when the backend eventually answers.
type QueryCache struct {
	inner   Embedder
	cache   *lru.Cache[string, []float64]
	timeout time.Duration
	log     zerolog.Logger
}

// NewQueryCache wraps inner. A nil inner yields a cache that always reports
// ErrUnavailable.
func NewQueryCache(inner Embedder, size int, timeout time.Duration, log zerolog.Logger) (*QueryCache, error) {
	if size <= 0 {
		size = 512
	}
	c, err := lru.New[string, []float64](size)
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}
	return &QueryCache{inner: inner, cache: c, timeout: timeout, log: log}, nil
}

func (q *QueryCache) Model() string {
	if q.inner == nil {
		return "none"
	}
	return q.inner.Model()
}

func (q *QueryCache) Dimensions() int {
	if q.inner == nil {
		return 0
	}
	return q.inner.Dimensions()
}

// Embed returns the cached vector for text, or asks the backend and waits at
// most the configured timeout. Any failure is reported as ErrUnavailable.
func (q *QueryCache) Embed(ctx context.Context, text string) ([]float64, error) {
	if q.inner == nil {
		return nil, fmt.Errorf("no embedder configured: %w", ErrUnavailable)
	}
	key := strings.ToLower(strings.TrimSpace(text))
	if v, ok := q.cache.Get(key); ok {
		return v, nil
	}

	type result struct {
		vec []float64
		err error
	}
	done := make(chan result, 1)
	go func() {
		// Detached from the caller so a slow answer can still warm the cache.
		embedCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		vec, err := q.inner.Embed(embedCtx, text)
		if err == nil && len(vec) > 0 {
			q.cache.Add(key, vec)
		}
		done <- result{vec, err}
	}()

	var timer <-chan time.Time
	if q.timeout > 0 {
		t := time.NewTimer(q.timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, r.err)
		}
		if len(r.vec) == 0 {
			return nil, fmt.Errorf("%w: empty vector", ErrUnavailable)
		}
		return r.vec, nil
	case <-timer:
		q.log.Debug().Dur("timeout", q.timeout).Msg("query embedding timed out")
		return nil, fmt.Errorf("%w: timed out after %s", ErrUnavailable, q.timeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
}

// Len reports the number of cached vectors.
func (q *QueryCache) Len() int { return q.cache.Len() }
