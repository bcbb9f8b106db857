package scheduler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobchommie/listing-service/internal/ingest"
	"jobchommie/listing-service/internal/scheduler"
)

// blockingRunner holds each cycle until release is closed.
type blockingRunner struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
}

func (r *blockingRunner) RunCycle(ctx context.Context) (ingest.Report, error) {
	r.calls.Add(1)
	r.once.Do(func() { close(r.started) })
	select {
	case <-r.release:
	case <-ctx.Done():
		return ingest.Report{}, ctx.Err()
	}
	return ingest.Report{Success: true, APICalls: 1}, nil
}

type scriptedRunner struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (r *scriptedRunner) RunCycle(context.Context) (ingest.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.calls < len(r.errs) {
		err = r.errs[r.calls]
	}
	r.calls++
	return ingest.Report{Success: err == nil, APICalls: 1}, err
}

type panicRunner struct{}

func (panicRunner) RunCycle(context.Context) (ingest.Report, error) {
	panic("boom")
}

func TestDefaultSpecFiresAtMidnightAndNoonUTC(t *testing.T) {
	sched, err := cron.ParseStandard(scheduler.DefaultSpec)
	require.NoError(t, err)

	cases := []struct {
		from time.Time
		want time.Time
	}{
		{time.Date(2026, 10, 19, 5, 30, 0, 0, time.UTC), time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)},
		{time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC), time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 10, 19, 23, 59, 59, 0, time.UTC), time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, sched.Next(tc.from), "next after %s", tc.from)
	}
}

func TestNew_RejectsInvalidSpec(t *testing.T) {
	_, err := scheduler.New(&scriptedRunner{}, scheduler.WithSpec("not a cron spec"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a cron spec")
}

func TestNext_IsInUTCAndInFuture(t *testing.T) {
	s, err := scheduler.New(&scriptedRunner{})
	require.NoError(t, err)

	next := s.Next()
	assert.Equal(t, time.UTC, next.Location())
	assert.True(t, next.After(time.Now()))
	assert.Zero(t, next.Minute())
	assert.Contains(t, []int{0, 12}, next.Hour())
}

func TestTriggerNow_DroppedWhileCycleInFlight(t *testing.T) {
	r := newBlockingRunner()
	s, err := scheduler.New(r)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.TriggerNow(context.Background())
		done <- err
	}()
	<-r.started
	assert.True(t, s.Running())

	_, err = s.TriggerNow(context.Background())
	require.ErrorIs(t, err, scheduler.ErrCycleInFlight)

	close(r.release)
	require.NoError(t, <-done)
	assert.False(t, s.Running())
	assert.EqualValues(t, 1, r.calls.Load(), "dropped trigger must not queue a second cycle")
}

func TestTriggerNow_FailureDoesNotStopLaterCycles(t *testing.T) {
	r := &scriptedRunner{errs: []error{errors.New("serpapi down")}}

	var hooked []error
	s, err := scheduler.New(r, scheduler.WithCycleHook(func(_ ingest.Report, err error) {
		hooked = append(hooked, err)
	}))
	require.NoError(t, err)

	_, err = s.TriggerNow(context.Background())
	require.Error(t, err)

	rep, err := s.TriggerNow(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Success)

	require.Len(t, hooked, 2)
	assert.Error(t, hooked[0])
	assert.NoError(t, hooked[1])
}

func TestTriggerNow_DetachedFromCallerCancellation(t *testing.T) {
	r := newBlockingRunner()
	s, err := scheduler.New(r)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.TriggerNow(ctx)
		done <- err
	}()
	<-r.started
	cancel()
	close(r.release)

	assert.NoError(t, <-done)
}

func TestTriggerNow_CycleTimeout(t *testing.T) {
	r := newBlockingRunner()
	s, err := scheduler.New(r, scheduler.WithCycleTimeout(20*time.Millisecond))
	require.NoError(t, err)

	_, err = s.TriggerNow(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, s.Running())
}

func TestTriggerNow_PanicBecomesError(t *testing.T) {
	s, err := scheduler.New(panicRunner{})
	require.NoError(t, err)

	_, err = s.TriggerNow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, s.Running())
}

func TestStart_RunOnStartAndStop(t *testing.T) {
	r := &scriptedRunner{}
	ran := make(chan struct{}, 1)
	s, err := scheduler.New(r,
		scheduler.WithRunOnStart(true),
		scheduler.WithCycleHook(func(ingest.Report, error) { ran <- struct{}{} }),
	)
	require.NoError(t, err)

	s.Start()
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("startup cycle did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestStart_CronTicksDoNotOverlap(t *testing.T) {
	r := newBlockingRunner()
	s, err := scheduler.New(r, scheduler.WithSpec("@every 1s"))
	require.NoError(t, err)

	s.Start()
	select {
	case <-r.started:
	case <-time.After(3 * time.Second):
		t.Fatal("cron tick did not fire")
	}

	// Let at least one more tick arrive while the first cycle is held.
	time.Sleep(1200 * time.Millisecond)
	assert.EqualValues(t, 1, r.calls.Load())

	close(r.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestTriggerNow_RejectedAfterStop(t *testing.T) {
	r := &scriptedRunner{}
	s, err := scheduler.New(r)
	require.NoError(t, err)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	_, err = s.TriggerNow(context.Background())
	require.ErrorIs(t, err, scheduler.ErrStopped)
	assert.Zero(t, r.calls, "no cycle runs after Stop")
}
