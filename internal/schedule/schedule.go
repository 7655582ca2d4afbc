// Package schedule runs named background jobs on cron specs.
//
// It is a thin layer over [cron.Cron] that hands each run a context bounded
// by the scheduler's lifetime, logs through slog and never lets a panicking
// or slow job pile up behind itself.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MrWong99/gitapractice/internal/config"
)

// Job is one unit of scheduled work. The context is cancelled when the
// scheduler stops.
type Job func(ctx context.Context) error

// Scheduler owns a cron instance. Register jobs with [Scheduler.Add] before
// calling [Scheduler.Run].
type Scheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]cron.EntryID
}

// Option configures a [Scheduler].
type Option func(*options)

type options struct {
	loc *time.Location
}

// WithLocation sets the time zone specs are evaluated in. Default: UTC.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.loc = loc }
}

// New creates an idle [Scheduler].
func New(opts ...Option) *Scheduler {
	o := options{loc: time.UTC}
	for _, opt := range opts {
		opt(&o)
	}
	logger := slogAdapter{}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(o.loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers job under name. A spec of "" or [config.ScheduleOff] skips
// the job and reports added=false.
func (s *Scheduler) Add(name, spec string, job Job) (added bool, err error) {
	if spec == "" || spec == config.ScheduleOff {
		slog.Info("scheduled job disabled", "job", name)
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[name]; dup {
		return false, fmt.Errorf("schedule: job %q already registered", name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return false, fmt.Errorf("schedule: add %q: %w", name, err)
	}
	s.entries[name] = id
	slog.Info("scheduled job registered", "job", name, "spec", spec)
	return true, nil
}

// Next returns the next activation time of the named job, or the zero time
// when it is unknown or the scheduler is not running.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.entries))
}

// Run starts the scheduler and blocks until ctx is done. It then stops
// scheduling, cancels running jobs and waits for them to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	s.cancel()
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	start := time.Now()
	err := job(s.ctx)
	switch {
	case err == nil:
		slog.Debug("scheduled job done", "job", name, "duration", time.Since(start))
	case errors.Is(err, context.Canceled):
		slog.Debug("scheduled job cancelled", "job", name)
	default:
		slog.Warn("scheduled job failed", "job", name, "err", err, "duration", time.Since(start))
	}
}

// slogAdapter satisfies [cron.Logger].
type slogAdapter struct{}

func (slogAdapter) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogAdapter) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"err", err}, keysAndValues...)...)
}
