// Package engine wires the store, graph, scorer, assembler and background
// jobs into one service. It is the single entry point for the server and
// the CLI.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lazypower/hippocampus/internal/assemble"
	"github.com/lazypower/hippocampus/internal/config"
	"github.com/lazypower/hippocampus/internal/consolidate"
	"github.com/lazypower/hippocampus/internal/embedding"
	"github.com/lazypower/hippocampus/internal/graph"
	"github.com/lazypower/hippocampus/internal/llm"
	"github.com/lazypower/hippocampus/internal/logging"
	"github.com/lazypower/hippocampus/internal/scoring"
	"github.com/lazypower/hippocampus/internal/store"
	"github.com/lazypower/hippocampus/internal/thread"
)

// ErrMalformedObservation is returned when an observation has no usable text
// or invalid metadata.
var ErrMalformedObservation = errors.New("malformed observation")

// Engine owns every component. There is no package-level state; tests build
// as many engines as they need.
type Engine struct {
	cfg config.Config
	db  *store.DB
	log zerolog.Logger

	graph        *graph.Graph
	registry     *thread.Registry
	summaries    *scoring.SummaryCache
	scorer       *scoring.Scorer
	assembler    *assemble.Assembler
	consolidator *consolidate.Consolidator
	scheduler    *consolidate.Scheduler
	access       *accessRecorder
	hasEmbedder  bool

	mu      sync.Mutex
	started bool
}

// New builds an Engine over db. client and emb may be nil: assembly then
// runs keyword-only and consolidation uses its deterministic fallbacks.
func New(cfg config.Config, db *store.DB, client llm.Client, emb embedding.Embedder, log zerolog.Logger) (*Engine, error) {
	e := &Engine{
		cfg:         cfg,
		db:          db,
		log:         logging.Component(log, "engine"),
		registry:    thread.NewRegistry(db),
		summaries:   scoring.NewSummaryCache(),
		hasEmbedder: emb != nil,
	}
	e.graph = graph.New(db, cfg.Graph, logging.Component(log, "graph"))

	// The foreground path gets a cached, deadline-bounded embedder; the
	// background jobs embed without a deadline.
	var queryEmb embedding.Embedder
	if emb != nil {
		qc, err := embedding.NewQueryCache(emb, cfg.Embedding.CacheSize, cfg.Embedding.QueryTimeout,
			logging.Component(log, "embedding"))
		if err != nil {
			return nil, fmt.Errorf("query cache: %w", err)
		}
		queryEmb = qc
	}

	e.scorer = scoring.New(cfg.Scoring, cfg.Graph.MaxConcepts, e.registry, e.graph, queryEmb, db, e.summaries,
		logging.Component(log, "scorer"))
	e.assembler = assemble.New(e.registry, e.scorer, cfg.Assembly, cfg.Scoring.Audit,
		logging.Component(log, "assembler"))
	e.consolidator = consolidate.New(db, e.graph, e.registry, e.summaries, emb, client, cfg,
		logging.Component(log, "consolidate"))

	e.scheduler = consolidate.NewScheduler(cfg.Scheduler.JobTimeout, logging.Component(log, "scheduler"))
	if err := e.consolidator.RegisterAll(e.scheduler); err != nil {
		return nil, fmt.Errorf("register jobs: %w", err)
	}

	e.access = newAccessRecorder(db, cfg.Assembly.AccessQueue, logging.Component(log, "access"))
	return e, nil
}

// Start verifies the schema, loads the in-memory snapshots and, when
// enabled, starts the background scheduler. A schema newer than this
// binary is fatal.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	if err := e.db.VerifySchema(); err != nil {
		return err
	}
	if err := e.graph.Reload(ctx); err != nil {
		return fmt.Errorf("load graph: %w", err)
	}
	if err := e.summaries.Reload(ctx, e.db); err != nil {
		return fmt.Errorf("load summaries: %w", err)
	}
	if e.summaries.Len() == 0 {
		if n, err := e.consolidator.RefreshSummaries(ctx); err != nil {
			e.log.Warn().Err(err).Msg("initial summary refresh")
		} else if n > 0 {
			e.log.Info().Int("threads", n).Msg("built initial summaries")
		}
	}

	e.access.start()
	if e.cfg.Scheduler.Enabled {
		if err := e.scheduler.Start(e.db.VerifySchema); err != nil {
			return err
		}
	}
	e.started = true

	concepts, links := e.graph.Stats()
	e.log.Info().
		Int("concepts", concepts).
		Int("links", links).
		Bool("scheduler", e.cfg.Scheduler.Enabled).
		Bool("embedder", e.hasEmbedder).
		Msg("engine started")
	return nil
}

// Stop halts the scheduler and drains the access recorder, waiting at most
// until ctx is done.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	schedErr := e.scheduler.Stop(ctx)
	accessErr := e.access.close(ctx)
	e.started = false
	return errors.Join(schedErr, accessErr)
}

// DB exposes the store for maintenance commands.
func (e *Engine) DB() *store.DB { return e.db }

// Config returns the configuration the engine was built with.
func (e *Engine) Config() config.Config { return e.cfg }

// AssembleContext builds the context block for query. Keys of included facts
// are recorded asynchronously; recording never delays or fails the call.
func (e *Engine) AssembleContext(ctx context.Context, query string, level assemble.Level, budget int) (*assemble.Result, error) {
	if budget <= 0 {
		budget = e.cfg.Assembly.DefaultBudget
	}
	res, err := e.assembler.Assemble(ctx, query, level, budget)
	if err != nil {
		return nil, err
	}
	e.access.record(res.AccessedIDs, res.Audit)
	return res, nil
}

// GetThreadHealth reports every thread's availability.
func (e *Engine) GetThreadHealth(ctx context.Context) map[string]thread.Status {
	return e.registry.Health(ctx)
}

// RunJob executes a background job now, in the caller's goroutine.
func (e *Engine) RunJob(ctx context.Context, name string) error {
	return e.scheduler.RunNow(ctx, name)
}

// JobStatus reports every background job.
func (e *Engine) JobStatus() []consolidate.JobStatus {
	return e.scheduler.Status()
}
