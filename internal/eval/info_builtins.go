package eval

import (
	"runtime"

	"go.starlark.net/starlark"

	"github.com/spacesbuild/spaces/internal/errs"
	"github.com/spacesbuild/spaces/internal/platform"
)

// infoBuiltins assembles the info.* namespace: immediate, read-only
// queries about the host platform and the running engine. Grounded on
// original_source/crates/spaces/src/builtins/info.rs.
func (e *Evaluator) infoBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"platform":            starlark.NewBuiltin("info.platform", infoPlatform),
		"os":                  starlark.NewBuiltin("info.os", infoOS),
		"arch":                starlark.NewBuiltin("info.arch", infoArch),
		"cpu_count":           starlark.NewBuiltin("info.cpu_count", infoCPUCount),
		"workspace_root":      starlark.NewBuiltin("info.workspace_root", e.infoWorkspaceRoot),
		"set_minimum_version": starlark.NewBuiltin("info.set_minimum_version", infoSetMinimumVersion),
	}
}

func infoPlatform(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	cur, err := platform.Current()
	if err != nil {
		return nil, err
	}
	return starlark.String(cur.String()), nil
}

func infoOS(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	cur, err := platform.Current()
	if err != nil {
		return nil, err
	}
	return starlark.String(cur.OS), nil
}

func infoArch(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	cur, err := platform.Current()
	if err != nil {
		return nil, err
	}
	return starlark.String(cur.Arch), nil
}

func infoCPUCount(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	return starlark.MakeInt(runtime.NumCPU()), nil
}

func (e *Evaluator) infoWorkspaceRoot(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	return starlark.String(e.WorkspaceRoot), nil
}

// infoSetMinimumVersion implements a script's declared minimum-engine-
// version check, grounded on workspace.Settings.MinVersion's Open
// enforcement: a script can also assert its requirement inline, failing
// fast during evaluation rather than waiting for Workspace.Open.
func infoSetMinimumVersion(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	var required string
	if len(args) == 1 {
		s, ok := starlark.AsString(args[0])
		if !ok {
			return nil, wrongTypeErr(b.Name(), "version", args[0])
		}
		required = s
	} else {
		kw, err := kwargsMap(kwargsT)
		if err != nil {
			return nil, err
		}
		required, err = reqString(kw, "version", b.Name())
		if err != nil {
			return nil, err
		}
	}
	if versionLess(EngineVersion, required) {
		return nil, &errs.VersionTooOld{Required: required, Actual: EngineVersion}
	}
	return starlark.None, nil
}

func wrongTypeErr(builtinName, argName string, v starlark.Value) error {
	return &wrongTypeError{builtinName: builtinName, argName: argName, got: v.Type()}
}

type wrongTypeError struct {
	builtinName string
	argName     string
	got         string
}

func (e *wrongTypeError) Error() string {
	return e.builtinName + ": argument " + e.argName + " must be a string, got " + e.got
}

// versionLess reports whether a is an older dotted version than b,
// mirroring internal/workspace.versionLess (duplicated rather than
// exported across packages for a comparison this small).
func versionLess(a, b string) bool {
	as, bs := splitDots(a), splitDots(b)
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		if av != bv {
			return av < bv
		}
	}
	return false
}

func splitDots(v string) []int {
	var out []int
	cur := 0
	has := false
	for _, c := range v {
		if c >= '0' && c <= '9' {
			cur = cur*10 + int(c-'0')
			has = true
			continue
		}
		if c == '.' {
			out = append(out, cur)
			cur = 0
			has = false
		}
	}
	if has || len(out) == 0 {
		out = append(out, cur)
	}
	return out
}
