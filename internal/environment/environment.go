// Package environment models the workspace's frozen environment: a
// mapping of variable name to value plus an ordered PATH, emitted
// to a shell-sourceable file at the end of checkout. Grounded on
// original_source/crates/spaces/src/environment.rs's Environment type.
package environment

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spacesbuild/spaces/internal/errs"
)

// Environment is the mutable-during-checkout, frozen-during-run
// environment a workspace exposes to RunExec. Mutated only by
// CheckoutUpdateEnv rules (spec §3's "Environment" glossary entry).
type Environment struct {
	Vars          map[string]string
	Paths         []string
	SystemPaths   []string
	InheritedVars []string

	frozen bool
}

// New returns an empty, mutable Environment.
func New() *Environment {
	return &Environment{Vars: make(map[string]string)}
}

// SetVar sets name to value. Panics if the environment has been frozen,
// since that would violate spec §3's "mutated only during checkout"
// invariant and is always a caller bug, not a runtime condition.
func (e *Environment) SetVar(name, value string) {
	e.mustBeMutable()
	e.Vars[name] = value
}

// PrependPath inserts dir at the front of the workspace PATH.
func (e *Environment) PrependPath(dir string) {
	e.mustBeMutable()
	e.Paths = append([]string{dir}, e.Paths...)
}

// AppendPath adds dir to the end of the workspace PATH.
func (e *Environment) AppendPath(dir string) {
	e.mustBeMutable()
	e.Paths = append(e.Paths, dir)
}

// AppendSystemPath adds dir to the end of the workspace's system PATH
// segment, emitted after Paths by PathValue.
func (e *Environment) AppendSystemPath(dir string) {
	e.mustBeMutable()
	e.SystemPaths = append(e.SystemPaths, dir)
}

func (e *Environment) mustBeMutable() {
	if e.frozen {
		panic("environment: mutation after Freeze")
	}
}

// Freeze marks the environment read-only, per spec §3: "frozen before
// run phase".
func (e *Environment) Freeze() {
	e.frozen = true
}

// PathValue joins Paths and SystemPaths into a single PATH string,
// grounded on get_path_with_system_paths.
func (e *Environment) PathValue() string {
	path := strings.Join(e.Paths, ":")
	if len(e.SystemPaths) > 0 {
		if path != "" {
			path += ":"
		}
		path += strings.Join(e.SystemPaths, ":")
	}
	return path
}

// AllVars returns the full variable set a RunExec should inherit: inherited
// vars read from the calling process's own environment, overlaid with
// explicitly set vars, overlaid with the computed PATH. Grounded on
// get_vars.
func (e *Environment) AllVars() (map[string]string, error) {
	out := make(map[string]string)

	for _, key := range e.InheritedVars {
		value, ok := os.LookupEnv(key)
		if !ok {
			return nil, &errs.IoError{Op: "read inherited environment variable", Err: fmt.Errorf("%s is not set in the calling environment", key)}
		}
		out[key] = value
	}
	for k, v := range e.Vars {
		out[k] = v
	}
	out["PATH"] = e.PathValue()
	return out, nil
}

// WriteShellEnv renders the environment as `export NAME="VALUE"` lines,
// one per variable sorted by name for deterministic output, and writes
// them to path. Grounded on create_shell_env.
func (e *Environment) WriteShellEnv(path string) error {
	vars, err := e.AllVars()
	if err != nil {
		return err
	}

	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "export %s=%q\n", name, vars[name])
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return &errs.IoError{Op: "write shell environment file", Err: err}
	}
	return nil
}

// LoadShellEnv reads back a file written by WriteShellEnv, the run
// phase's source of the environment checkout froze: run never
// re-executes CheckoutUpdateEnv rules, it only reads what they already
// produced.
func LoadShellEnv(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &errs.IoError{Op: "read shell environment file", Err: err}
	}
	defer f.Close()

	out := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimPrefix(scanner.Text(), "export ")
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		name := line[:idx]
		value, err := strconv.Unquote(line[idx+1:])
		if err != nil {
			return nil, &errs.IoError{Op: "parse shell environment file", Err: err}
		}
		out[name] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, &errs.IoError{Op: "read shell environment file", Err: err}
	}
	return out, nil
}
