package workspace

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacesbuild/spaces/internal/scheduler"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := OpenHistory(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestOpenHistoryBootstrapsEmptyLedger(t *testing.T) {
	h := openTestHistory(t)

	rec, err := h.LastRun("//pkg:build")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRecordTaskRunAndLastRun(t *testing.T) {
	h := openTestHistory(t)
	rec := h.Recorder(PhaseRun)

	started := time.Now().Add(-time.Second)
	finished := time.Now()
	rec.RecordTaskRun("//pkg:build", scheduler.StatusSucceeded, started, finished, nil)

	got, err := h.LastRun("//pkg:build")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "//pkg:build", got.RuleName)
	assert.Equal(t, PhaseRun, got.Phase)
	assert.Equal(t, string(scheduler.StatusSucceeded), got.Status)
	assert.Empty(t, got.LogTail)
}

func TestLastRunReturnsMostRecentByFinishedAt(t *testing.T) {
	h := openTestHistory(t)
	rec := h.Recorder(PhaseRun)

	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	rec.RecordTaskRun("//pkg:build", scheduler.StatusFailed, older, older, errors.New("boom"))
	rec.RecordTaskRun("//pkg:build", scheduler.StatusSucceeded, newer, newer, nil)

	got, err := h.LastRun("//pkg:build")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, string(scheduler.StatusSucceeded), got.Status)
}

func TestRecordTaskRunCapturesErrorAsLogTail(t *testing.T) {
	h := openTestHistory(t)
	rec := h.Recorder(PhaseCheckout)

	now := time.Now()
	rec.RecordTaskRun("//repo:checkout", scheduler.StatusFailed, now, now, errors.New("network unreachable"))

	got, err := h.LastRun("//repo:checkout")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, PhaseCheckout, got.Phase)
	assert.Equal(t, "network unreachable", got.LogTail)
}

func TestLastRunDistinguishesUnrelatedRules(t *testing.T) {
	h := openTestHistory(t)
	rec := h.Recorder(PhaseRun)

	now := time.Now()
	rec.RecordTaskRun("//a:build", scheduler.StatusSucceeded, now, now, nil)

	got, err := h.LastRun("//b:build")
	require.NoError(t, err)
	assert.Nil(t, got)
}
