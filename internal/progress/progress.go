// Package progress defines the contract between the engine (scheduler,
// store, fetchers) and whatever renders progress to the user. spec §1 scopes
// the actual rendering layer out as a collaborator with a contract only;
// this package is that contract, plus a couple of trivial implementations.
package progress

import "time"

// Reporter receives progress events from the scheduler and executors. It
// must be safe for concurrent use: multiple worker goroutines report on it
// at once.
type Reporter interface {
	// TaskReady is called when a task's dependencies are satisfied and it
	// enters the Ready state.
	TaskReady(rule string)
	// TaskStarted is called when a worker claims a Ready task.
	TaskStarted(rule string)
	// TaskProgress is called zero or more times while a task runs, e.g. by
	// a store lock reporting it is still waiting, or a fetcher reporting
	// download progress.
	TaskProgress(rule, message string)
	// TaskFinished is called exactly once per task, with its terminal
	// status ("Succeeded", "Skipped", "Failed", "Cancelled") and duration.
	TaskFinished(rule, status string, d time.Duration)
	// Log emits a reporter-level diagnostic line not tied to a specific
	// task (e.g. "evaluating //tools:setup.spaces.star").
	Log(level, msg string)
}

// Noop discards every event. Used by tests and non-interactive contexts
// that only want the structured log/slog output, not a second rendering.
type Noop struct{}

func (Noop) TaskReady(string)                        {}
func (Noop) TaskStarted(string)                      {}
func (Noop) TaskProgress(string, string)              {}
func (Noop) TaskFinished(string, string, time.Duration) {}
func (Noop) Log(string, string)                      {}

var _ Reporter = Noop{}
