package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacesbuild/spaces/internal/registry"
	"github.com/spacesbuild/spaces/internal/run"
)

func addRunRule(t *testing.T, reg *registry.Registry, name string, kind registry.Kind, typ registry.Type, deps []string, payload any) {
	t.Helper()
	require.NoError(t, reg.Add(&registry.Rule{
		Name:          name,
		QualifiedName: name,
		Kind:          kind,
		Type:          typ,
		Deps:          deps,
		Site:          "test",
		Payload:       payload,
	}))
}

func TestQualifyFromDirLeavesAlreadyQualifiedNamesAlone(t *testing.T) {
	assert.Equal(t, "//other:task", qualifyFromDir("here", "//other:task"))
}

func TestQualifyFromDirQualifiesRelativeToDir(t *testing.T) {
	assert.Equal(t, "//tools:build", qualifyFromDir("tools", "build"))
	assert.Equal(t, "//:build", qualifyFromDir("", "build"))
}

func TestBuildRunGraphAddsImplicitEdgeFromBranchesToExecIf(t *testing.T) {
	reg := registry.New()
	addRunRule(t, reg, "//:check", registry.KindRunExecIf, registry.TypeRun, nil, run.IfSpec{
		Name: "//:check",
		Then: []string{"//:ok"},
		Else: []string{"//:fallback"},
	})
	addRunRule(t, reg, "//:ok", registry.KindRunExec, registry.TypeOptional, nil, run.ExecSpec{Name: "//:ok"})
	addRunRule(t, reg, "//:fallback", registry.KindRunExec, registry.TypeOptional, nil, run.ExecSpec{Name: "//:fallback"})

	g, byName, err := buildRunGraph(reg)
	require.NoError(t, err)
	assert.Len(t, byName, 3)

	deps := g.DepsOf("//:ok")
	assert.Contains(t, deps, "//:check")
	deps = g.DepsOf("//:fallback")
	assert.Contains(t, deps, "//:check")
}

func TestSelectActiveRunSetPullsInBothBranchesOfReachableExecIf(t *testing.T) {
	reg := registry.New()
	addRunRule(t, reg, "//:top", registry.KindRunExec, registry.TypeRun, []string{"//:check"}, run.ExecSpec{Name: "//:top"})
	addRunRule(t, reg, "//:check", registry.KindRunExecIf, registry.TypeOptional, nil, run.IfSpec{
		Name: "//:check",
		Then: []string{"//:ok"},
		Else: []string{"//:fallback"},
	})
	addRunRule(t, reg, "//:ok", registry.KindRunExec, registry.TypeOptional, nil, run.ExecSpec{Name: "//:ok"})
	addRunRule(t, reg, "//:fallback", registry.KindRunExec, registry.TypeOptional, nil, run.ExecSpec{Name: "//:fallback"})

	g, byName, err := buildRunGraph(reg)
	require.NoError(t, err)

	active, err := selectActiveRunSet(reg, g, byName, nil, "")
	require.NoError(t, err)

	assert.Contains(t, active, "//:top")
	assert.Contains(t, active, "//:check")
	assert.Contains(t, active, "//:ok")
	assert.Contains(t, active, "//:fallback")

	// Both Optional branches must have been promoted to Run so the
	// scheduler actually schedules whichever one is not taken (it gets
	// Skipped, not silently dropped).
	assert.Equal(t, registry.TypeRun, byName["//:ok"].Type)
	assert.Equal(t, registry.TypeRun, byName["//:fallback"].Type)
}

func TestSelectActiveRunSetAlwaysIncludesSetupRules(t *testing.T) {
	reg := registry.New()
	addRunRule(t, reg, "//:setup", registry.KindRunExec, registry.TypeSetup, nil, run.ExecSpec{Name: "//:setup"})
	addRunRule(t, reg, "//:main", registry.KindRunExec, registry.TypeRun, nil, run.ExecSpec{Name: "//:main"})

	g, byName, err := buildRunGraph(reg)
	require.NoError(t, err)

	active, err := selectActiveRunSet(reg, g, byName, []string{"main"}, "")
	require.NoError(t, err)

	assert.Contains(t, active, "//:setup")
	assert.Contains(t, active, "//:main")
}

func TestGatedShouldSkipSkipsWhenNameNotEnabled(t *testing.T) {
	decisions := &execIfDecisions{m: map[string]map[string]bool{}}
	decisions.set("//:check", []string{"//:fallback"})

	inner := func() (bool, error) { return false, nil }
	gated := gatedShouldSkip(inner, "//:ok", []execIfGate{{ifName: "//:check"}}, decisions)

	skip, err := gated()
	require.NoError(t, err)
	assert.True(t, skip)
}

func TestGatedShouldSkipDefersToInnerWhenNameEnabled(t *testing.T) {
	decisions := &execIfDecisions{m: map[string]map[string]bool{}}
	decisions.set("//:check", []string{"//:ok"})

	inner := func() (bool, error) { return false, nil }
	gated := gatedShouldSkip(inner, "//:ok", []execIfGate{{ifName: "//:check"}}, decisions)

	skip, err := gated()
	require.NoError(t, err)
	assert.False(t, skip)
}

func TestGatedShouldSkipSkipsWhenDecisionNotYetRecorded(t *testing.T) {
	decisions := &execIfDecisions{m: map[string]map[string]bool{}}
	inner := func() (bool, error) { return false, nil }
	gated := gatedShouldSkip(inner, "//:ok", []execIfGate{{ifName: "//:check"}}, decisions)

	skip, err := gated()
	require.NoError(t, err)
	assert.True(t, skip)
}

func TestBuildExecIfGatesMapsBothBranches(t *testing.T) {
	byName := map[string]*registry.Rule{
		"//:check": {
			QualifiedName: "//:check",
			Kind:          registry.KindRunExecIf,
			Payload: run.IfSpec{
				Name: "//:check",
				Then: []string{"//:ok"},
				Else: []string{"//:fallback"},
			},
		},
	}
	gates := buildExecIfGates([]string{"//:check"}, byName)

	require.Len(t, gates["//:ok"], 1)
	assert.Equal(t, "//:check", gates["//:ok"][0].ifName)
	require.Len(t, gates["//:fallback"], 1)
	assert.Equal(t, "//:check", gates["//:fallback"][0].ifName)
}
