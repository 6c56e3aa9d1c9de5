package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacesbuild/spaces/internal/fingerprint"
	"github.com/spacesbuild/spaces/internal/registry"
	"github.com/spacesbuild/spaces/internal/workspace"
)

func TestModulePathResolvesFlatNamesUnderStarDir(t *testing.T) {
	ws, err := workspace.Create(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)

	got := modulePath(ws, "tasks")
	assert.Equal(t, filepath.Join(ws.StarDir(), "tasks.spaces.star"), got)
}

func TestModulePathResolvesNestedNamesUnderWorkspaceRoot(t *testing.T) {
	ws, err := workspace.Create(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)

	got := modulePath(ws, "repo/tools/build")
	assert.Equal(t, filepath.Join(ws.Root, "repo/tools/build.spaces.star"), got)
}

func TestNewShouldSkipAlwaysRunsWithoutDeclaredInputs(t *testing.T) {
	rule := &registry.Rule{QualifiedName: "//:x", InputsDeclared: false}
	cache := fingerprint.NewCache(nil)

	should := newShouldSkip(rule, t.TempDir(), "digest", cache)
	skip, err := should()
	require.NoError(t, err)
	assert.False(t, skip)
}

func TestNewShouldSkipRunsOnceForConstantFingerprint(t *testing.T) {
	rule := &registry.Rule{QualifiedName: "//:once", InputsDeclared: true}
	cache := fingerprint.NewCache(nil)

	should := newShouldSkip(rule, t.TempDir(), "digest", cache)

	skip, err := should()
	require.NoError(t, err)
	assert.False(t, skip, "first run must not be skipped")

	require.NoError(t, saveFingerprintIfDeclared(rule, t.TempDir(), "digest", cache))

	skip, err = should()
	require.NoError(t, err)
	assert.True(t, skip, "once a constant fingerprint is saved, subsequent runs skip")
}

func TestLastLinesReturnsWholeStringWhenShortEnough(t *testing.T) {
	assert.Equal(t, "a\nb", lastLines("a\nb", 10))
}

func TestLastLinesTruncatesToTail(t *testing.T) {
	assert.Equal(t, "b\nc", lastLines("a\nb\nc", 2))
}
