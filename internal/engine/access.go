package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/lazypower/hippocampus/internal/store"
)

const defaultAccessQueue = 256

// accessBatch is what one assembly touched.
type accessBatch struct {
	ids   []int64
	audit []store.AuditRow
}

// accessRecorder applies access-count updates off the request path. The
// queue is bounded; when it is full the batch is dropped and counted, and
// nothing is retried.
type accessRecorder struct {
	db  *store.DB
	log zerolog.Logger

	ch      chan accessBatch
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64

	mu      sync.RWMutex
	running bool
	closed  bool
}

func newAccessRecorder(db *store.DB, size int, log zerolog.Logger) *accessRecorder {
	if size <= 0 {
		size = defaultAccessQueue
	}
	return &accessRecorder{
		db:   db,
		log:  log,
		ch:   make(chan accessBatch, size),
		done: make(chan struct{}),
	}
}

func (a *accessRecorder) start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running || a.closed {
		return
	}
	a.running = true
	go a.loop()
}

// record queues a batch without blocking.
func (a *accessRecorder) record(ids []int64, audit []store.AuditRow) {
	if len(ids) == 0 && len(audit) == 0 {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- accessBatch{ids: ids, audit: audit}:
	default:
		n := a.dropped.Add(1)
		a.log.Warn().Int("facts", len(ids)).Int64("dropped_total", n).Msg("access queue full, batch dropped")
	}
}

// Dropped reports how many batches were discarded.
func (a *accessRecorder) Dropped() int64 { return a.dropped.Load() }

func (a *accessRecorder) loop() {
	defer close(a.done)
	for b := range a.ch {
		a.apply(b)
	}
}

// apply writes one batch with a single attempt. A busy store loses the
// batch rather than stalling the queue.
func (a *accessRecorder) apply(b accessBatch) {
	err := a.db.WriteOnce(context.Background(), func(tx *store.Tx) error {
		if err := tx.TouchFacts(context.Background(), b.ids); err != nil {
			return err
		}
		return tx.InsertAudit(context.Background(), b.audit)
	})
	if err != nil {
		a.dropped.Add(1)
		a.log.Warn().Err(err).Int("facts", len(b.ids)).Msg("access update dropped")
	}
}

// close stops accepting batches and waits for queued ones to be written.
func (a *accessRecorder) close(ctx context.Context) error {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.ch)
		running := a.running
		a.mu.Unlock()
		if !running {
			close(a.done)
		}
	})
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
