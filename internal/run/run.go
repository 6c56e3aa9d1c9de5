// Package run implements the run executors: RunExec (process
// execution), RunExecIf (conditional branch enabling), and RunTarget
// (dependency-grouping no-op). RunExec's optional timeout escalation is
// grounded on internal/dispatch/dispatcher.go::spawnPlugin's
// process-group SIGTERM-then-SIGKILL sequence, generalized from a fixed
// plugin-protocol command to an arbitrary user command.
package run

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/spacesbuild/spaces/internal/errs"
	"github.com/spacesbuild/spaces/internal/log"
	"github.com/spacesbuild/spaces/internal/progress"
)

// terminationGracePeriod is how long a timed-out process group is given
// to exit after SIGTERM before it is SIGKILLed.
const terminationGracePeriod = 5 * time.Second

// logEchoThreshold is the log size (bytes) above which RunExec also
// echoes the log to the terminal at task end, per spec §4.8.
const logEchoThreshold = 10 << 20

// Expect is the exit-status outcome a RunExec or RunExecIf's inner exec
// is expected to produce.
type Expect string

const (
	ExpectSuccess Expect = "success"
	ExpectFailure Expect = "failure"
)

// matches reports whether exitCode satisfies e.
func (e Expect) matches(exitCode int) bool {
	if e == ExpectFailure {
		return exitCode != 0
	}
	return exitCode == 0
}

// ExecSpec is a RunExec rule's payload.
type ExecSpec struct {
	Name             string
	Command          string
	Args             []string
	Env              map[string]string
	WorkingDirectory string
	Expect           Expect
	Timeout          time.Duration
	RedirectStdout   string
	LogPath          string
}

// Executor runs ExecSpecs, reporting progress via rep.
type Executor struct {
	rep progress.Reporter
}

// New returns an Executor reporting to rep (a Noop reporter if nil).
func New(rep progress.Reporter) *Executor {
	if rep == nil {
		rep = progress.Noop{}
	}
	return &Executor{rep: rep}
}

// Run executes spec, merging baseEnv (the frozen workspace environment)
// with spec.Env (per-rule wins on conflicts). It returns an
// *errs.ProcessFailure if the exit status doesn't match spec.Expect, or
// if the command times out.
func (e *Executor) Run(ctx context.Context, spec ExecSpec, baseEnv map[string]string) error {
	e.rep.TaskStarted(spec.Name)
	rlog := log.WithRule(spec.Name)
	rlog.Debug("exec starting", "command", spec.Command, "args", spec.Args)

	if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0o755); err != nil {
		return &errs.IoError{Op: "mkdir log directory", Err: err}
	}
	logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return &errs.IoError{Op: "create log file", Err: err}
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.WorkingDirectory
	cmd.Env = mergedEnviron(baseEnv, spec.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var tail bytes.Buffer
	outputs := []io.Writer{logFile, &tail}
	if spec.RedirectStdout != "" {
		if err := os.MkdirAll(filepath.Dir(spec.RedirectStdout), 0o755); err != nil {
			return &errs.IoError{Op: "mkdir redirect_stdout directory", Err: err}
		}
		redirectFile, err := os.OpenFile(spec.RedirectStdout, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return &errs.IoError{Op: "create redirect_stdout file", Err: err}
		}
		defer redirectFile.Close()
		outputs = append(outputs, redirectFile)
	}
	// exec.Cmd copies stdout/stderr on separate goroutines whenever the two
	// writers aren't the same *os.File, which they never are here, so the
	// shared tail buffer needs its own lock rather than relying on
	// exec.Cmd's same-writer fast path.
	sink := newSyncWriter(io.MultiWriter(outputs...))
	cmd.Stdout = sink
	cmd.Stderr = sink

	if err := cmd.Start(); err != nil {
		return &errs.IoError{Op: "start process", Err: err}
	}

	exitCode, timedOut := e.wait(cmd, spec)

	if info, statErr := os.Stat(spec.LogPath); statErr == nil && info.Size() >= logEchoThreshold {
		e.rep.TaskProgress(spec.Name, fmt.Sprintf("log exceeded %d bytes, tail:\n%s", logEchoThreshold, lastLines(tail.String(), 40)))
	}

	if timedOut {
		rlog.Error("exec timed out")
		return &errs.ProcessFailure{Rule: spec.Name, TimedOut: true}
	}
	if !spec.Expect.matches(exitCode) {
		rlog.Error("exec finished with unexpected exit status", "exit_code", exitCode, "expected", spec.Expect)
		return &errs.ProcessFailure{Rule: spec.Name, ExitCode_: exitCode, Expected: string(spec.Expect)}
	}
	rlog.Debug("exec finished", "exit_code", exitCode)
	return nil
}

// wait races spec.Timeout (if set) against cmd.Wait, escalating
// SIGTERM→SIGKILL on the process group if the timeout fires.
func (e *Executor) wait(cmd *exec.Cmd, spec ExecSpec) (exitCode int, timedOut bool) {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	if spec.Timeout <= 0 {
		waitErr := <-done
		return exitCodeOf(cmd, waitErr), false
	}

	timer := time.NewTimer(spec.Timeout)
	defer timer.Stop()

	select {
	case waitErr := <-done:
		return exitCodeOf(cmd, waitErr), false
	case <-timer.C:
		e.rep.Log("warn", fmt.Sprintf("%s: exceeded timeout of %s, sending SIGTERM", spec.Name, spec.Timeout))
		log.WithRule(spec.Name).Warn("exceeded timeout, sending SIGTERM", "timeout", spec.Timeout)
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)

		grace := time.NewTimer(terminationGracePeriod)
		defer grace.Stop()
		select {
		case <-done:
		case <-grace.C:
			e.rep.Log("warn", fmt.Sprintf("%s: still alive after grace period, sending SIGKILL", spec.Name))
			log.WithRule(spec.Name).Warn("still alive after grace period, sending SIGKILL")
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			<-done
		}
		return -1, true
	}
}

func exitCodeOf(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

func lastLines(s string, n int) string {
	lines := splitLines(s)
	if len(lines) <= n {
		return s
	}
	return joinLines(lines[len(lines)-n:])
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func joinLines(lines []string) string {
	var b bytes.Buffer
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l)
	}
	return b.String()
}

// mergedEnviron renders base overlaid with overrides into a process
// environ slice ("K=V"), sorted by key for deterministic child process
// environments (and hence deterministic logs/tests).
func mergedEnviron(base, overrides map[string]string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

// syncWriter serializes writes to an inner writer, needed wherever the
// same destination (e.g. the tail buffer below) is reachable from more
// than one exec.Cmd stream copier goroutine at once.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newSyncWriter(w io.Writer) *syncWriter { return &syncWriter{w: w} }

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// IfSpec is a RunExecIf rule's payload.
type IfSpec struct {
	Name string
	If   ExecSpec
	Then []string
	Else []string
}

// EvaluateIf runs spec.If and returns the set of qualified rule names to
// enable: Then on the expected outcome, Else (if any) otherwise.
// Enabling is the caller's responsibility (promoting Optional rules in
// the registry and recomputing dependencies), per spec §4.8.
func (e *Executor) EvaluateIf(ctx context.Context, spec IfSpec, baseEnv map[string]string) ([]string, error) {
	err := e.Run(ctx, spec.If, baseEnv)
	if err == nil {
		return spec.Then, nil
	}
	if _, ok := err.(*errs.ProcessFailure); ok {
		return spec.Else, nil
	}
	return nil, err
}

// TargetSpec is a RunTarget rule's payload; RunTarget performs no action
// beyond existing as a dependency-grouping node.
type TargetSpec struct {
	Name string
}

// RunTarget is a no-op, per spec §4.8.
func (e *Executor) RunTarget(spec TargetSpec) error {
	e.rep.TaskStarted(spec.Name)
	log.WithRule(spec.Name).Debug("run-target reached")
	return nil
}
