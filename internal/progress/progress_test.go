package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLineReporterFormatsEvents(t *testing.T) {
	var buf bytes.Buffer
	l := NewLine(&buf)

	l.TaskReady("//pkg:build")
	l.TaskStarted("//pkg:build")
	l.TaskProgress("//pkg:build", "compiling")
	l.TaskFinished("//pkg:build", "Succeeded", 2*time.Second)
	l.Log("warn", "something noteworthy")

	out := buf.String()
	for _, want := range []string{"ready", "//pkg:build", "start", "compiling", "Succeeded", "warn", "something noteworthy"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestNoopReporterDoesNotPanic(t *testing.T) {
	var n Noop
	n.TaskReady("r")
	n.TaskStarted("r")
	n.TaskProgress("r", "m")
	n.TaskFinished("r", "Succeeded", time.Second)
	n.Log("info", "m")
}

func TestTUIModelAppliesEvents(t *testing.T) {
	m := newTUIModel(make(chan tuiEvent))
	m.apply(tuiEvent{rule: "//pkg:a", status: rowReady})
	m.apply(tuiEvent{rule: "//pkg:a", status: rowRunning, message: "building"})
	m.apply(tuiEvent{rule: "//pkg:a", status: rowFinished, finalStat: "Succeeded", duration: time.Second})

	row, ok := m.rows["//pkg:a"]
	if !ok {
		t.Fatal("expected row for //pkg:a")
	}
	if row.status != "Succeeded" {
		t.Errorf("status = %q, want Succeeded", row.status)
	}
	if row.message != "building" {
		t.Errorf("message = %q, want building", row.message)
	}
}
