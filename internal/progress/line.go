package progress

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Line renders progress as plain log-style lines, one per event. Used under
// --log.format=text (CI logs, piped output) and in tests; a non-terminal
// run under any other log format gets Noop instead.
type Line struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLine returns a Line reporter writing to w.
func NewLine(w io.Writer) *Line {
	return &Line{w: w}
}

func (l *Line) TaskReady(rule string) {
	l.printf("ready   %s", rule)
}

func (l *Line) TaskStarted(rule string) {
	l.printf("start   %s", rule)
}

func (l *Line) TaskProgress(rule, message string) {
	l.printf("...     %s: %s", rule, message)
}

func (l *Line) TaskFinished(rule, status string, d time.Duration) {
	l.printf("%-7s %s (%s)", status, rule, d.Round(time.Millisecond))
}

func (l *Line) Log(level, msg string) {
	l.printf("%-5s %s", level, msg)
}

func (l *Line) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format+"\n", args...)
}

var _ Reporter = (*Line)(nil)
