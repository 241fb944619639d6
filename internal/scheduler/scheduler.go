// Package scheduler runs periodic background tasks, each on its own ticker,
// until the task reports ErrTaskCompleted or the context ends.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"terralink/internal/logging"
	"terralink/internal/metrics"

	"github.com/benbjohnson/clock"
)

// ErrTaskCompleted stops a task's loop without counting as a failure.
var ErrTaskCompleted = errors.New("task completed")

type Task interface {
	Name() string
	Interval() time.Duration
	RunOnStart() bool
	Run(ctx context.Context) error
}

type Scheduler struct {
	clock   clock.Clock
	mu      sync.Mutex
	tasks   map[string]Task
	order   []string
	started bool
	wg      sync.WaitGroup
}

func New() *Scheduler {
	return NewWithClock(clock.New())
}

func NewWithClock(clk clock.Clock) *Scheduler {
	return &Scheduler{clock: clk, tasks: make(map[string]Task)}
}

func (s *Scheduler) Register(task Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}
	if task.Interval() <= 0 {
		return fmt.Errorf("task %s has invalid interval %s", task.Name(), task.Interval())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("cannot register task %s after scheduler start", task.Name())
	}
	if _, dup := s.tasks[task.Name()]; dup {
		return fmt.Errorf("task %s is already registered", task.Name())
	}

	s.tasks[task.Name()] = task
	s.order = append(s.order, task.Name())
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	tasks := make([]Task, 0, len(s.order))
	for _, name := range s.order {
		tasks = append(tasks, s.tasks[name])
	}
	s.mu.Unlock()

	for _, task := range tasks {
		s.wg.Add(1)
		go s.runTaskLoop(ctx, task)
	}
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// runOnce bounds a single run by the task interval so one hung run cannot
// delay the next. It reports whether the loop should continue.
func (s *Scheduler) runOnce(ctx context.Context, task Task) bool {
	runCtx, cancel := s.clock.WithTimeout(ctx, task.Interval())
	defer cancel()

	err := task.Run(runCtx)
	switch {
	case err == nil:
		metrics.TaskRuns.WithLabelValues(task.Name(), "ok").Inc()
		return true
	case errors.Is(err, ErrTaskCompleted):
		metrics.TaskRuns.WithLabelValues(task.Name(), "completed").Inc()
		logging.Log("SCHED", "task_completed", map[string]string{"task": task.Name()})
		return false
	case ctx.Err() != nil:
		return false
	default:
		metrics.TaskRuns.WithLabelValues(task.Name(), "failed").Inc()
		logging.Log("SCHED", "task_failed", map[string]string{
			"task":   task.Name(),
			"reason": err.Error(),
		})
		return true
	}
}

func (s *Scheduler) runTaskLoop(ctx context.Context, task Task) {
	defer s.wg.Done()

	if task.RunOnStart() && !s.runOnce(ctx, task) {
		return
	}

	ticker := s.clock.Ticker(task.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.runOnce(ctx, task) {
				return
			}
		}
	}
}
