package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"terralink/internal/metrics"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTask struct {
	runs     atomic.Int32
	onStart  bool
	finishAt int32
	ran      chan struct{}
}

func newCountingTask(onStart bool, finishAt int32) *countingTask {
	return &countingTask{onStart: onStart, finishAt: finishAt, ran: make(chan struct{}, 16)}
}

func (t *countingTask) Name() string            { return "counting" }
func (t *countingTask) Interval() time.Duration { return time.Minute }
func (t *countingTask) RunOnStart() bool        { return t.onStart }

func (t *countingTask) Run(context.Context) error {
	n := t.runs.Add(1)
	t.ran <- struct{}{}
	if t.finishAt > 0 && n >= t.finishAt {
		return ErrTaskCompleted
	}
	if n == 1 {
		return errors.New("transient")
	}
	return nil
}

func waitRun(t *testing.T, task *countingTask) {
	t.Helper()
	select {
	case <-task.ran:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestRegisterValidation(t *testing.T) {
	s := New()
	assert.Error(t, s.Register(nil))

	require.NoError(t, s.Register(newCountingTask(true, 0)))
	assert.Error(t, s.Register(newCountingTask(true, 0)), "duplicate name")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	assert.Error(t, s.Register(&slowTask{}), "register after start")
}

type slowTask struct{}

func (slowTask) Name() string            { return "slow" }
func (slowTask) Interval() time.Duration { return time.Minute }
func (slowTask) RunOnStart() bool        { return true }

func (slowTask) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunIsBoundedByInterval(t *testing.T) {
	clk := clock.NewMock()
	s := NewWithClock(clk)
	require.NoError(t, s.Register(slowTask{}))
	failed := metrics.TaskRuns.WithLabelValues("slow", "failed")
	before := testutil.ToFloat64(failed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.Eventually(t, func() bool {
		clk.Add(time.Minute)
		return testutil.ToFloat64(failed) > before
	}, time.Second, 5*time.Millisecond, "hung run was never cut off")
}

func TestTaskCompletesAndStops(t *testing.T) {
	clk := clock.NewMock()
	s := NewWithClock(clk)
	task := newCountingTask(true, 2)
	require.NoError(t, s.Register(task))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	waitRun(t, task)
	// The loop may not have created its ticker yet; keep nudging the clock
	// until the second run lands.
	deadline := time.After(time.Second)
	for task.runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("second run never happened")
		default:
		}
		clk.Add(time.Minute)
		time.Sleep(time.Millisecond)
	}

	done := make(chan struct{})
	go func() { s.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after ErrTaskCompleted")
	}
	assert.Equal(t, int32(2), task.runs.Load())
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.TaskRuns.WithLabelValues("counting", "completed")), 1.0)
}

func TestContextCancelStopsLoop(t *testing.T) {
	s := NewWithClock(clock.NewMock())
	task := newCountingTask(false, 0)
	require.NoError(t, s.Register(task))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() { s.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler ignored context cancel")
	}
	assert.Equal(t, int32(0), task.runs.Load())
}
