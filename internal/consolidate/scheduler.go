// Package consolidate runs the background maintenance jobs: observation
// triage, promotion into facts, decay and thread summary refresh.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	// ErrUnknownJob is returned by RunNow for an unregistered name.
	ErrUnknownJob = errors.New("unknown job")
	// ErrJobRunning is returned by RunNow when the job is already executing.
	ErrJobRunning = errors.New("job already running")
	// ErrStopped is returned once Stop has been called.
	ErrStopped = errors.New("scheduler stopped")
)

// Job is one unit of background work.
type Job func(ctx context.Context) error

// JobStatus is the health record of a registered job.
type JobStatus struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	Enabled      bool          `json:"enabled"`
	Running      bool          `json:"running"`
	Runs         int           `json:"runs"`
	Failures     int           `json:"failures"`
	LastRun      time.Time     `json:"last_run"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
}

type job struct {
	name     string
	interval time.Duration
	offset   time.Duration
	fn       Job

	run sync.Mutex // held while executing

	mu     sync.Mutex
	status JobStatus
}

// Scheduler runs each registered job on its own interval. A panicking or
// failing job is recorded and logged; it never stops the others.
type Scheduler struct {
	cron    *cron.Cron
	log     zerolog.Logger
	timeout time.Duration

	mu       sync.Mutex
	jobs     map[string]*job
	started  bool
	stopping bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewScheduler creates a Scheduler. Each run is bounded by timeout (0 for
// none).
func NewScheduler(timeout time.Duration, log zerolog.Logger) *Scheduler {
	cl := cronLogger{log}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		log:     log,
		timeout: timeout,
		jobs:    make(map[string]*job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a job that runs every interval, first firing offset after
// the first interval. An interval <= 0 registers the job disabled: it only
// runs through RunNow.
func (s *Scheduler) Register(name string, interval, offset time.Duration, fn Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("register %s: scheduler already started", name)
	}
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("register %s: duplicate job name", name)
	}
	j := &job{name: name, interval: interval, offset: offset, fn: fn}
	j.status = JobStatus{Name: name, Interval: interval, Enabled: interval > 0}
	s.jobs[name] = j
	return nil
}

// Start verifies the store and begins scheduling. If verify fails nothing is
// scheduled and its error is returned.
func (s *Scheduler) Start(verify func() error) error {
	if verify != nil {
		if err := verify(); err != nil {
			s.log.Error().Err(err).Msg("scheduler not started")
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return ErrStopped
	}
	if s.started {
		return nil
	}
	for _, j := range s.jobs {
		if j.interval <= 0 {
			s.log.Info().Str("job", j.name).Msg("job disabled")
			continue
		}
		j := j
		sched := &offsetSchedule{every: cron.Every(j.interval), offset: j.offset}
		s.cron.Schedule(sched, cron.FuncJob(func() {
			if err := s.execute(s.ctx, j); errors.Is(err, ErrJobRunning) {
				s.log.Debug().Str("job", j.name).Msg("skipped, previous run still active")
			}
		}))
		s.log.Info().Str("job", j.name).Dur("interval", j.interval).Msg("job scheduled")
	}
	s.cron.Start()
	s.started = true
	return nil
}

// RunNow executes a job synchronously in the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, j)
}

func (s *Scheduler) execute(ctx context.Context, j *job) error {
	// wg.Add must not race the Wait in Stop.
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", j.name, ErrStopped)
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if !j.run.TryLock() {
		return fmt.Errorf("%s: %w", j.name, ErrJobRunning)
	}
	defer j.run.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	j.mu.Lock()
	j.status.Running = true
	j.mu.Unlock()

	start := time.Now()
	err := safeRun(ctx, j.fn)
	dur := time.Since(start)

	j.mu.Lock()
	j.status.Running = false
	j.status.Runs++
	j.status.LastRun = start
	j.status.LastDuration = dur
	j.status.LastError = ""
	if err != nil {
		j.status.Failures++
		j.status.LastError = err.Error()
	}
	j.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Str("job", j.name).Dur("duration", dur).Msg("job failed")
		return err
	}
	s.log.Debug().Str("job", j.name).Dur("duration", dur).Msg("job finished")
	return nil
}

func safeRun(ctx context.Context, fn Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}

// Status reports every job, sorted by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	out := make([]JobStatus, len(jobs))
	for i, j := range jobs {
		j.mu.Lock()
		out[i] = j.status
		j.mu.Unlock()
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Stop halts scheduling and waits for running jobs until ctx is done, then
// cancels whatever is still running.
func (s *Scheduler) Stop(ctx context.Context) error {
	defer s.cancel()

	s.mu.Lock()
	started := s.started
	s.stopping = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		if started {
			<-s.cron.Stop().Done()
		}
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// offsetSchedule is a constant-delay schedule whose first activation is
// pushed back by offset, so jobs sharing an interval do not fire together.
// cron calls Next from a single goroutine.
type offsetSchedule struct {
	every   cron.ConstantDelaySchedule
	offset  time.Duration
	shifted bool
}

func (o *offsetSchedule) Next(t time.Time) time.Time {
	next := o.every.Next(t)
	if !o.shifted {
		o.shifted = true
		return next.Add(o.offset)
	}
	return next
}

// cronLogger adapts zerolog to cron.Logger. cron's own info chatter is
// demoted to debug.
type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.l.Debug().Fields(kv).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error().Err(err).Fields(kv).Msg("cron: " + msg)
}
