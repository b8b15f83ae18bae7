// Package thread defines the fixed set of knowledge domains the assembler
// iterates over, each backed by an adapter with its own health.
package thread

import (
	"context"
	"fmt"

	"github.com/lazypower/hippocampus/internal/store"
)

// Health is a thread's availability.
type Health string

const (
	HealthOK          Health = "ok"
	HealthEmpty       Health = "empty"
	HealthUnavailable Health = "unavailable"
)

// Status is the per-thread health report.
type Status struct {
	Status  Health `json:"status"`
	Message string `json:"message"`
	HasData bool   `json:"has_data"`
	Facts   int    `json:"facts"`
}

// Tier is the amount of detail fetched for a thread.
type Tier int

const (
	TierMetadata Tier = iota + 1 // name and row count
	TierProfiles                 // entity list with per-entity counts
	TierFacts                    // full facts
)

func (t Tier) String() string {
	switch t {
	case TierMetadata:
		return "metadata"
	case TierProfiles:
		return "profiles"
	case TierFacts:
		return "facts"
	default:
		return "none"
	}
}

// Fetch is what a thread returns for a tier. Only the fields the tier
// needs are populated.
type Fetch struct {
	Count    int
	Profiles []store.ProfileCount
	Facts    []store.Fact
}

// Adapter is one knowledge domain.
type Adapter interface {
	ID() string
	Name() string
	// Keywords are the trigger terms used by thread-level scoring.
	Keywords() []string
	Health(ctx context.Context) Status
	FetchTiered(ctx context.Context, tier Tier) (*Fetch, error)
}

// FactReader is the read side of the fact store a FactThread needs.
type FactReader interface {
	CountFacts(ctx context.Context, domain string) (int, error)
	DomainProfiles(ctx context.Context, domain string) ([]store.ProfileCount, error)
	FactsByDomain(ctx context.Context, domain string) ([]store.Fact, error)
}

// FactThread is a thread over the facts table filtered by domain.
type FactThread struct {
	id       string
	name     string
	keywords []string
	r        FactReader
}

// NewFactThread creates a thread over domain id.
func NewFactThread(id, name string, keywords []string, r FactReader) *FactThread {
	return &FactThread{id: id, name: name, keywords: keywords, r: r}
}

func (t *FactThread) ID() string         { return t.id }
func (t *FactThread) Name() string       { return t.name }
func (t *FactThread) Keywords() []string { return t.keywords }

// Health probes the store with a count query.
func (t *FactThread) Health(ctx context.Context) Status {
	n, err := t.r.CountFacts(ctx, t.id)
	if err != nil {
		return Status{Status: HealthUnavailable, Message: err.Error()}
	}
	if n == 0 {
		return Status{Status: HealthEmpty, Message: "no facts"}
	}
	return Status{Status: HealthOK, Message: fmt.Sprintf("%d facts", n), HasData: true, Facts: n}
}

// FetchTiered loads only what tier needs.
func (t *FactThread) FetchTiered(ctx context.Context, tier Tier) (*Fetch, error) {
	var f Fetch
	var err error
	switch tier {
	case TierMetadata:
		f.Count, err = t.r.CountFacts(ctx, t.id)
	case TierProfiles:
		f.Profiles, err = t.r.DomainProfiles(ctx, t.id)
		for _, p := range f.Profiles {
			f.Count += p.Facts
		}
	case TierFacts:
		f.Facts, err = t.r.FactsByDomain(ctx, t.id)
		f.Count = len(f.Facts)
	default:
		return nil, fmt.Errorf("thread %s: unknown tier %d", t.id, tier)
	}
	if err != nil {
		return nil, fmt.Errorf("thread %s fetch %s: %w", t.id, tier, err)
	}
	return &f, nil
}
