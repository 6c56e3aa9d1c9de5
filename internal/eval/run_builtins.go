package eval

import (
	"fmt"
	"time"

	"go.starlark.net/starlark"

	"github.com/spacesbuild/spaces/internal/registry"
	"github.com/spacesbuild/spaces/internal/run"
)

// runBuiltins assembles the run.* namespace, grounded on
// original_source/crates/spaces/src/builtins/run.rs: add_exec,
// add_exec_if, add_target, plus abort (shared with checkout.abort).
func (e *Evaluator) runBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"add_exec":    starlark.NewBuiltin("run.add_exec", e.runAddExec),
		"add_exec_if": starlark.NewBuiltin("run.add_exec_if", e.runAddExecIf),
		"add_target":  starlark.NewBuiltin("run.add_target", e.runAddTarget),
		"abort":       starlark.NewBuiltin("run.abort", e.abort),
	}
}

func parseExecDict(kw map[string]starlark.Value, name, builtinName string) (run.ExecSpec, error) {
	command, err := reqString(kw, "command", builtinName)
	if err != nil {
		return run.ExecSpec{}, err
	}
	args, err := optStringList(kw, "args")
	if err != nil {
		return run.ExecSpec{}, err
	}
	env, err := optStringMap(kw, "env")
	if err != nil {
		return run.ExecSpec{}, err
	}
	workingDirectory, err := optString(kw, "working_directory", "")
	if err != nil {
		return run.ExecSpec{}, err
	}
	expect, err := optString(kw, "expect", string(run.ExpectSuccess))
	if err != nil {
		return run.ExecSpec{}, err
	}
	if expect != string(run.ExpectSuccess) && expect != string(run.ExpectFailure) {
		return run.ExecSpec{}, fmt.Errorf("%s: invalid expect %q (want success or failure)", builtinName, expect)
	}
	timeoutSeconds, err := optInt(kw, "timeout", 0)
	if err != nil {
		return run.ExecSpec{}, err
	}
	redirectStdout, err := optString(kw, "redirect_stdout", "")
	if err != nil {
		return run.ExecSpec{}, err
	}

	var timeout time.Duration
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}

	return run.ExecSpec{
		Name:             name,
		Command:          command,
		Args:             args,
		Env:              env,
		WorkingDirectory: workingDirectory,
		Expect:           run.Expect(expect),
		Timeout:          timeout,
		RedirectStdout:   redirectStdout,
	}, nil
}

func (e *Evaluator) runAddExec(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	if err := noPositional(b.Name(), args); err != nil {
		return nil, err
	}
	kw, err := kwargsMap(kwargsT)
	if err != nil {
		return nil, err
	}
	rc, err := parseRuleCommon(kw, b.Name(), moduleOf(thread))
	if err != nil {
		return nil, err
	}
	typ, err := ruleType(kw, b.Name())
	if err != nil {
		return nil, err
	}
	spec, err := parseExecDict(kw, rc.Name, b.Name())
	if err != nil {
		return nil, err
	}

	if err := e.addRule(thread, rc, registry.KindRunExec, typ, spec); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (e *Evaluator) runAddExecIf(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	if err := noPositional(b.Name(), args); err != nil {
		return nil, err
	}
	kw, err := kwargsMap(kwargsT)
	if err != nil {
		return nil, err
	}
	rc, err := parseRuleCommon(kw, b.Name(), moduleOf(thread))
	if err != nil {
		return nil, err
	}
	typ, err := ruleType(kw, b.Name())
	if err != nil {
		return nil, err
	}

	conditionDict, present, err := dictOf(kw, "condition")
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, fmt.Errorf("%s: missing required argument %q", b.Name(), "condition")
	}
	conditionKW, err := dictToKwargs(conditionDict)
	if err != nil {
		return nil, err
	}
	ifSpec, err := parseExecDict(conditionKW, rc.Name, b.Name())
	if err != nil {
		return nil, err
	}

	module := moduleOf(thread)
	rawThen, err := optStringList(kw, "then")
	if err != nil {
		return nil, err
	}
	rawElse, err := optStringList(kw, "else_")
	if err != nil {
		return nil, err
	}
	then := make([]string, len(rawThen))
	for i, n := range rawThen {
		then[i] = registry.Qualify(module, n)
	}
	els := make([]string, len(rawElse))
	for i, n := range rawElse {
		els[i] = registry.Qualify(module, n)
	}

	payload := run.IfSpec{Name: rc.Name, If: ifSpec, Then: then, Else: els}
	if err := e.addRule(thread, rc, registry.KindRunExecIf, typ, payload); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (e *Evaluator) runAddTarget(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	if err := noPositional(b.Name(), args); err != nil {
		return nil, err
	}
	kw, err := kwargsMap(kwargsT)
	if err != nil {
		return nil, err
	}
	rc, err := parseRuleCommon(kw, b.Name(), moduleOf(thread))
	if err != nil {
		return nil, err
	}
	typ, err := ruleType(kw, b.Name())
	if err != nil {
		return nil, err
	}

	payload := run.TargetSpec{Name: rc.Name}
	if err := e.addRule(thread, rc, registry.KindRunTarget, typ, payload); err != nil {
		return nil, err
	}
	return starlark.None, nil
}
