package run

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spacesbuild/spaces/internal/errs"
)

func TestRunSucceedsAndWritesLog(t *testing.T) {
	dir := t.TempDir()
	spec := ExecSpec{
		Name:    "//pkg:ok",
		Command: "sh",
		Args:    []string{"-c", "echo hello"},
		Expect:  ExpectSuccess,
		LogPath: filepath.Join(dir, "logs", "ok.log"),
	}

	e := New(nil)
	if err := e.Run(context.Background(), spec, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(spec.LogPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello\n" {
		t.Errorf("log content = %q", data)
	}
}

func TestRunFailsOnUnexpectedExitCode(t *testing.T) {
	dir := t.TempDir()
	spec := ExecSpec{
		Name:    "//pkg:fail",
		Command: "sh",
		Args:    []string{"-c", "exit 7"},
		Expect:  ExpectSuccess,
		LogPath: filepath.Join(dir, "fail.log"),
	}

	err := New(nil).Run(context.Background(), spec, nil)
	pf, ok := err.(*errs.ProcessFailure)
	if !ok {
		t.Fatalf("expected ProcessFailure, got %T: %v", err, err)
	}
	if pf.ExitCode_ != 7 {
		t.Errorf("ExitCode_ = %d, want 7", pf.ExitCode_)
	}
}

func TestRunExpectFailureAllowsNonZero(t *testing.T) {
	dir := t.TempDir()
	spec := ExecSpec{
		Name:    "//pkg:expect-fail",
		Command: "sh",
		Args:    []string{"-c", "exit 1"},
		Expect:  ExpectFailure,
		LogPath: filepath.Join(dir, "ef.log"),
	}

	if err := New(nil).Run(context.Background(), spec, nil); err != nil {
		t.Fatalf("expected success for expect=failure with nonzero exit, got %v", err)
	}
}

func TestRunTimesOutAndKillsProcessGroup(t *testing.T) {
	dir := t.TempDir()
	spec := ExecSpec{
		Name:    "//pkg:slow",
		Command: "sh",
		Args:    []string{"-c", "sleep 30"},
		Expect:  ExpectSuccess,
		Timeout: 100 * time.Millisecond,
		LogPath: filepath.Join(dir, "slow.log"),
	}

	start := time.Now()
	err := New(nil).Run(context.Background(), spec, nil)
	elapsed := time.Since(start)

	pf, ok := err.(*errs.ProcessFailure)
	if !ok || !pf.TimedOut {
		t.Fatalf("expected a timed-out ProcessFailure, got %T: %v", err, err)
	}
	if elapsed > terminationGracePeriod+5*time.Second {
		t.Errorf("took too long to time out: %s", elapsed)
	}
}

func TestMergedEnvironRuleOverridesBase(t *testing.T) {
	got := mergedEnviron(map[string]string{"A": "base", "B": "base"}, map[string]string{"A": "override"})
	want := map[string]string{"A": "override", "B": "base"}
	seen := map[string]string{}
	for _, kv := range got {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				seen[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range want {
		if seen[k] != v {
			t.Errorf("env[%s] = %q, want %q", k, seen[k], v)
		}
	}
}

func TestEvaluateIfPicksThenOnExpectedOutcome(t *testing.T) {
	dir := t.TempDir()
	spec := IfSpec{
		Name: "//pkg:cond",
		If: ExecSpec{
			Name:    "//pkg:cond.if",
			Command: "sh",
			Args:    []string{"-c", "exit 0"},
			Expect:  ExpectSuccess,
			LogPath: filepath.Join(dir, "if.log"),
		},
		Then: []string{"//pkg:then"},
		Else: []string{"//pkg:else"},
	}

	enabled, err := New(nil).EvaluateIf(context.Background(), spec, nil)
	if err != nil {
		t.Fatalf("EvaluateIf: %v", err)
	}
	if len(enabled) != 1 || enabled[0] != "//pkg:then" {
		t.Errorf("enabled = %v, want [//pkg:then]", enabled)
	}
}

func TestEvaluateIfPicksElseOnUnexpectedOutcome(t *testing.T) {
	dir := t.TempDir()
	spec := IfSpec{
		Name: "//pkg:cond",
		If: ExecSpec{
			Name:    "//pkg:cond.if",
			Command: "sh",
			Args:    []string{"-c", "exit 1"},
			Expect:  ExpectSuccess,
			LogPath: filepath.Join(dir, "if.log"),
		},
		Then: []string{"//pkg:then"},
		Else: []string{"//pkg:else"},
	}

	enabled, err := New(nil).EvaluateIf(context.Background(), spec, nil)
	if err != nil {
		t.Fatalf("EvaluateIf: %v", err)
	}
	if len(enabled) != 1 || enabled[0] != "//pkg:else" {
		t.Errorf("enabled = %v, want [//pkg:else]", enabled)
	}
}

func TestRunTargetIsNoop(t *testing.T) {
	if err := New(nil).RunTarget(TargetSpec{Name: "//pkg:group"}); err != nil {
		t.Fatalf("RunTarget: %v", err)
	}
}
