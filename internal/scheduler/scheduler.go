// Package scheduler wires up the cron job that triggers ingestion cycles at
// fixed wall-clock times, and the manual trigger used by operators and tests.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	"jobchommie/listing-service/internal/ingest"
	"jobchommie/listing-service/internal/logging"
)

// DefaultSpec fires at 00:00 and 12:00 UTC.
const DefaultSpec = "0 0,12 * * *"

const defaultCycleTimeout = 2 * time.Minute

// ErrCycleInFlight is returned by TriggerNow when a cycle is already running.
// The trigger is dropped, not queued.
var ErrCycleInFlight = errors.New("ingestion cycle already in progress")

// ErrStopped is returned by TriggerNow once Stop has been called.
var ErrStopped = errors.New("scheduler stopped")

// Runner executes one ingestion cycle.
type Runner interface {
	RunCycle(ctx context.Context) (ingest.Report, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSpec overrides the five-field cron spec (evaluated in UTC).
func WithSpec(spec string) Option {
	return func(s *Scheduler) { s.spec = spec }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithCycleTimeout bounds a single cycle.
func WithCycleTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.cycleTimeout = d }
}

// WithRunOnStart runs one cycle immediately when Start is called so the
// store is populated without waiting for the first tick.
func WithRunOnStart(v bool) Option {
	return func(s *Scheduler) { s.runOnStart = v }
}

// WithCycleHook registers a callback invoked after every cycle that ran.
func WithCycleHook(fn func(ingest.Report, error)) Option {
	return func(s *Scheduler) { s.hook = fn }
}

// Scheduler wraps robfig/cron. Cron ticks and manual triggers share one
// in-flight guard, so cycles never overlap.
type Scheduler struct {
	cron         *cron.Cron
	schedule     cron.Schedule
	runner       Runner
	spec         string
	log          *logging.Logger
	cycleTimeout time.Duration
	runOnStart   bool
	hook         func(ingest.Report, error)

	running atomic.Bool

	mu      sync.Mutex // guards stopped and wg.Add
	stopped bool
	wg      sync.WaitGroup
}

// New validates the cron spec and builds a stopped Scheduler.
func New(runner Runner, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		runner:       runner,
		spec:         DefaultSpec,
		log:          logging.Nop(),
		cycleTimeout: defaultCycleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	schedule, err := cron.ParseStandard(s.spec)
	if err != nil {
		return nil, errors.Wrapf(err, "parse cron spec %q", s.spec)
	}
	s.schedule = schedule
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{s.log}),
	)
	return s, nil
}

// Start registers the job and starts the cron loop.
func (s *Scheduler) Start() {
	s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		_, _ = s.run(context.Background(), "cron")
	}))
	s.cron.Start()
	s.log.Info("scheduler started", "spec", s.spec, "next", s.Next())

	if s.runOnStart && s.track() {
		go func() {
			defer s.wg.Done()
			_, _ = s.run(context.Background(), "startup")
		}()
	}
}

// Stop halts the cron loop and waits for an in-flight cycle to finish, or
// for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for in-flight ingestion cycle")
	}
}

// TriggerNow runs one cycle synchronously. The cycle is detached from ctx
// cancellation: once started it commits or fails as a whole.
func (s *Scheduler) TriggerNow(ctx context.Context) (ingest.Report, error) {
	if !s.track() {
		return ingest.Report{}, ErrStopped
	}
	defer s.wg.Done()
	return s.run(ctx, "manual")
}

// track registers a cycle with the wait group unless Stop was called.
func (s *Scheduler) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

// Running reports whether a cycle is in flight.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Next returns the next scheduled fire time in UTC.
func (s *Scheduler) Next() time.Time {
	return s.schedule.Next(time.Now().UTC())
}

func (s *Scheduler) run(parent context.Context, source string) (rep ingest.Report, err error) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("ingestion trigger dropped: cycle in flight", "source", source)
		return ingest.Report{}, ErrCycleInFlight
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.cycleTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("ingestion cycle panicked: %v", r)
			s.log.Error("ingestion cycle panicked", "source", source, "panic", r)
		}
		if s.hook != nil {
			s.hook(rep, err)
		}
	}()

	s.log.Info("ingestion cycle started", "source", source)
	rep, err = s.runner.RunCycle(ctx)
	switch {
	case err != nil:
		s.log.Error("ingestion cycle failed",
			"source", source,
			"startedAt", rep.StartedAt,
			"apiCalls", rep.APICalls,
			"err", err,
		)
	case rep.Skipped:
		s.log.Info("ingestion cycle skipped", "source", source)
	default:
		s.log.Info("ingestion cycle complete",
			"source", source,
			"inserted", rep.Inserted,
			"duplicates", rep.Duplicates,
		)
	}
	return rep, err
}

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct {
	log *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
