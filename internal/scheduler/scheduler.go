// Package scheduler drives the task state machine over the dependency
// graph: a fixed-size worker pool claims Ready tasks from a bounded
// channel while a single scheduler goroutine promotes Pending tasks to
// Ready as their dependencies resolve. Grounded on spec §4.6; this
// supersedes the teacher's ticker-polling job-queue scheduler (which
// modeled a fundamentally different problem — recurring plugin polls
// against a persistent SQL queue) with the bounded-channel design the
// spec explicitly calls for.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/spacesbuild/spaces/internal/progress"
)

// Status is a task's position in the state machine described by spec
// §4.6.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusReady     Status = "Ready"
	StatusRunning   Status = "Running"
	StatusSucceeded Status = "Succeeded"
	StatusSkipped   Status = "Skipped"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

// terminal success-equivalent statuses that satisfy a dependent's deps.
func isSuccessEquivalent(s Status) bool {
	return s == StatusSucceeded || s == StatusSkipped
}

// Execute runs a task's payload. A non-nil error marks the task Failed.
type Execute func(ctx context.Context) error

// ShouldSkip is evaluated at Ready time (spec §4.7); returning true marks
// the task Skipped instead of running it.
type ShouldSkip func() (bool, error)

// Recorder is the run-history ledger's write side, consulted as a
// best-effort side effect of every terminal task (spec §10.3/§4.6).
// Write failures are logged at warn and never fail the task.
type Recorder interface {
	RecordTaskRun(name string, status Status, started, finished time.Time, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordTaskRun(string, Status, time.Time, time.Time, error) {}

// Task is the runtime instance of one rule.
type Task struct {
	Name       string
	Deps       []string
	Execute    Execute
	ShouldSkip ShouldSkip

	Status    Status
	Started   time.Time
	Finished  time.Time
	Err       error
}

// Scheduler owns the active task set for one invocation (checkout or run
// phase) and drives it to completion.
type Scheduler struct {
	workers  int
	rep      progress.Reporter
	recorder Recorder

	mu    sync.Mutex
	tasks map[string]*Task
	order []string
}

// New returns a Scheduler with the given worker pool size (at least 1),
// reporting to rep and recording to recorder (both may be nil).
func New(workers int, rep progress.Reporter, recorder Recorder) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if rep == nil {
		rep = progress.Noop{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Scheduler{
		workers:  workers,
		rep:      rep,
		recorder: recorder,
		tasks:    make(map[string]*Task),
	}
}

// AddTask registers a task. All of Deps must themselves be added (in any
// order relative to this call) before Run is invoked.
func (s *Scheduler) AddTask(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Status = StatusPending
	s.tasks[t.Name] = t
	s.order = append(s.order, t.Name)
}

// Snapshot returns the current status of every task, for inspect/test
// use; it copies under lock so callers never race the scheduler.
func (s *Scheduler) Snapshot() map[string]Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Status, len(s.tasks))
	for name, t := range s.tasks {
		out[name] = t.Status
	}
	return out
}

type doneMsg struct {
	name string
}

// Run drives every registered task to a terminal state and returns the
// first failure encountered (nil if every task succeeded or was
// skipped/cancelled without error). Per spec §4.6, a Failed task sets a
// cancel flag: tasks already Ready continue, but no further Pending task
// is promoted — it becomes Cancelled instead.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	dependents := make(map[string][]string, len(s.tasks))
	pendingDeps := make(map[string]map[string]bool, len(s.tasks))
	for _, name := range s.order {
		t := s.tasks[name]
		pendingDeps[name] = make(map[string]bool, len(t.Deps))
		for _, d := range t.Deps {
			pendingDeps[name][d] = true
			dependents[d] = append(dependents[d], name)
		}
	}
	s.mu.Unlock()

	readyCh := make(chan string, len(s.order))
	doneCh := make(chan doneMsg, len(s.order))
	var cancelled boolFlag
	var firstErr errFlag

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range readyCh {
				s.runOne(ctx, name)
				doneCh <- doneMsg{name: name}
			}
		}()
	}

	// Seed tasks with no remaining deps.
	s.mu.Lock()
	for _, name := range s.order {
		if len(pendingDeps[name]) == 0 {
			s.markReady(name)
			readyCh <- name
		}
	}
	remaining := len(s.order)
	s.mu.Unlock()

	if remaining == 0 {
		close(readyCh)
		wg.Wait()
		close(doneCh)
		return nil
	}

	for msg := range doneCh {
		remaining--

		s.mu.Lock()
		t := s.tasks[msg.name]
		status := t.Status
		if status == StatusFailed {
			cancelled.set(true)
			if firstErr.get() == nil {
				firstErr.set(t.Err)
			}
		}

		for _, dep := range dependents[msg.name] {
			delete(pendingDeps[dep], msg.name)
			if !isSuccessEquivalent(status) {
				s.cascadeCancel(dep, pendingDeps, dependents, &remaining)
				continue
			}
			if len(pendingDeps[dep]) == 0 && s.tasks[dep].Status == StatusPending {
				if cancelled.get() {
					s.cascadeCancel(dep, pendingDeps, dependents, &remaining)
					continue
				}
				s.markReady(dep)
				readyCh <- dep
			}
		}
		s.mu.Unlock()

		if remaining == 0 {
			close(readyCh)
			break
		}
	}
	wg.Wait()
	close(doneCh)

	return firstErr.get()
}

// cascadeCancel marks name (and, transitively, everything depending on
// it) Cancelled because one of its deps did not reach a success-
// equivalent terminal state, or because the run was cancelled before
// name could start. Must be called with s.mu held; decrements
// *remaining exactly once per task it resolves.
func (s *Scheduler) cascadeCancel(name string, pendingDeps map[string]map[string]bool, dependents map[string][]string, remaining *int) {
	t := s.tasks[name]
	if t.Status != StatusPending {
		return
	}
	t.Status = StatusCancelled
	t.Finished = time.Now()
	s.rep.TaskFinished(name, string(StatusCancelled), 0)
	s.recorder.RecordTaskRun(name, StatusCancelled, t.Started, t.Finished, nil)
	*remaining--

	for _, dep := range dependents[name] {
		delete(pendingDeps[dep], name)
		s.cascadeCancel(dep, pendingDeps, dependents, remaining)
	}
}

func (s *Scheduler) markReady(name string) {
	s.tasks[name].Status = StatusReady
	s.rep.TaskReady(name)
}

// runOne executes a single Ready task end to end, transitioning it
// through Running to its terminal state.
func (s *Scheduler) runOne(ctx context.Context, name string) {
	s.mu.Lock()
	t := s.tasks[name]
	s.mu.Unlock()

	t.Started = time.Now()

	if t.ShouldSkip != nil {
		skip, err := t.ShouldSkip()
		if err != nil {
			s.finish(t, StatusFailed, err)
			return
		}
		if skip {
			s.finish(t, StatusSkipped, nil)
			return
		}
	}

	t.Status = StatusRunning
	s.rep.TaskStarted(name)

	var err error
	if t.Execute != nil {
		err = t.Execute(ctx)
	}

	if err != nil {
		s.finish(t, StatusFailed, err)
		return
	}
	s.finish(t, StatusSucceeded, nil)
}

func (s *Scheduler) finish(t *Task, status Status, err error) {
	t.Status = status
	t.Err = err
	t.Finished = time.Now()
	s.rep.TaskFinished(t.Name, string(status), t.Finished.Sub(t.Started))
	s.recorder.RecordTaskRun(t.Name, status, t.Started, t.Finished, err)
}

// Ordered returns every task name in registration order, the tie-breaker
// spec §4.5 requires for deterministic output.
func (s *Scheduler) Ordered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

type boolFlag struct {
	mu sync.Mutex
	v  bool
}

func (b *boolFlag) set(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.v = v
}

func (b *boolFlag) get() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.v
}

type errFlag struct {
	mu sync.Mutex
	v  error
}

func (e *errFlag) set(v error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.v = v
}

func (e *errFlag) get() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.v
}
