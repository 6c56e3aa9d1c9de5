package eval

import (
	"fmt"
	"path/filepath"

	"go.starlark.net/starlark"

	"github.com/spacesbuild/spaces/internal/checkout"
	"github.com/spacesbuild/spaces/internal/fetch/git"
	"github.com/spacesbuild/spaces/internal/fetch/httparchive"
	"github.com/spacesbuild/spaces/internal/registry"
)

// checkoutBuiltins assembles the checkout.* namespace, grounded on
// original_source/crates/spaces/src/builtins/checkout.rs: one
// rule-emitting built-in per checkout.Executor method, plus abort.
func (e *Evaluator) checkoutBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"add_repo":             starlark.NewBuiltin("checkout.add_repo", e.checkoutAddRepo),
		"add_archive":          starlark.NewBuiltin("checkout.add_archive", e.checkoutAddArchive),
		"add_platform_archive": starlark.NewBuiltin("checkout.add_platform_archive", e.checkoutAddPlatformArchive),
		"add_asset":            starlark.NewBuiltin("checkout.add_asset", e.checkoutAddAsset),
		"add_which_asset":      starlark.NewBuiltin("checkout.add_which_asset", e.checkoutAddWhichAsset),
		"add_hard_link_asset":  starlark.NewBuiltin("checkout.add_hard_link_asset", e.checkoutAddHardLinkAsset),
		"update_asset":         starlark.NewBuiltin("checkout.update_asset", e.checkoutUpdateAsset),
		"update_env":           starlark.NewBuiltin("checkout.update_env", e.checkoutUpdateEnv),
		"add_cargo_bin":        starlark.NewBuiltin("checkout.add_cargo_bin", e.checkoutAddCargoBin),
		"abort":                starlark.NewBuiltin("checkout.abort", e.abort),
	}
}

// workspacePath resolves the "path" keyword argument, defaulting to
// name, and joins it onto the evaluator's workspace root.
func (e *Evaluator) workspacePath(kw map[string]starlark.Value, name string) (string, error) {
	rel, err := optString(kw, "path", name)
	if err != nil {
		return "", err
	}
	return filepath.Join(e.WorkspaceRoot, rel), nil
}

func (e *Evaluator) checkoutAddRepo(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
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

	url, err := reqString(kw, "url", b.Name())
	if err != nil {
		return nil, err
	}
	rev, err := reqString(kw, "rev", b.Name())
	if err != nil {
		return nil, err
	}
	cloneMode, err := optString(kw, "clone", string(git.CloneDefault))
	if err != nil {
		return nil, err
	}
	checkoutMode, err := optString(kw, "mode", string(git.CheckoutRevision))
	if err != nil {
		return nil, err
	}
	wsPath, err := e.workspacePath(kw, rc.Name)
	if err != nil {
		return nil, err
	}

	payload := checkout.RepoSpec{
		Name: rc.Name,
		Repo: git.Repo{
			Name:  rc.Name,
			URL:   url,
			Rev:   rev,
			Clone: git.CloneMode(cloneMode),
			Mode:  git.CheckoutMode(checkoutMode),
		},
		WorkspacePath: wsPath,
	}
	if err := e.addRule(thread, rc, registry.KindCheckoutRepo, typ, payload); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func parseArchiveDict(kw map[string]starlark.Value, name string) (httparchive.Spec, error) {
	includes, err := optStringList(kw, "includes")
	if err != nil {
		return httparchive.Spec{}, err
	}
	excludes, err := optStringList(kw, "excludes")
	if err != nil {
		return httparchive.Spec{}, err
	}
	url, err := reqString(kw, "url", "checkout.add_archive")
	if err != nil {
		return httparchive.Spec{}, err
	}
	sha256, err := reqString(kw, "sha256", "checkout.add_archive")
	if err != nil {
		return httparchive.Spec{}, err
	}
	stripPrefix, err := optString(kw, "strip_prefix", "")
	if err != nil {
		return httparchive.Spec{}, err
	}
	addPrefix, err := optString(kw, "add_prefix", "")
	if err != nil {
		return httparchive.Spec{}, err
	}
	return httparchive.Spec{
		Name:        name,
		URL:         url,
		Sha256:      sha256,
		Includes:    includes,
		Excludes:    excludes,
		StripPrefix: stripPrefix,
		AddPrefix:   addPrefix,
	}, nil
}

func (e *Evaluator) checkoutAddArchive(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
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
	archiveSpec, err := parseArchiveDict(kw, rc.Name)
	if err != nil {
		return nil, err
	}
	wsPath, err := e.workspacePath(kw, rc.Name)
	if err != nil {
		return nil, err
	}

	payload := checkout.ArchiveSpec{Name: rc.Name, Archive: archiveSpec, WorkspacePath: wsPath}
	if err := e.addRule(thread, rc, registry.KindCheckoutArchive, typ, payload); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (e *Evaluator) checkoutAddPlatformArchive(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
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

	platformsDict, present, err := dictOf(kw, "platforms")
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, fmt.Errorf("%s: missing required argument %q", b.Name(), "platforms")
	}
	platforms := make(map[string]httparchive.Spec, platformsDict.Len())
	for _, item := range platformsDict.Items() {
		platformID, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("%s: platforms keys must be strings", b.Name())
		}
		entryDict, ok := item[1].(*starlark.Dict)
		if !ok {
			return nil, fmt.Errorf("%s: platforms[%q] must be a dict", b.Name(), platformID)
		}
		entryKW, err := dictToKwargs(entryDict)
		if err != nil {
			return nil, err
		}
		spec, err := parseArchiveDict(entryKW, rc.Name)
		if err != nil {
			return nil, err
		}
		platforms[platformID] = spec
	}

	wsPath, err := e.workspacePath(kw, rc.Name)
	if err != nil {
		return nil, err
	}

	payload := checkout.PlatformArchiveSpec{Name: rc.Name, Platforms: platforms, WorkspacePath: wsPath}
	if err := e.addRule(thread, rc, registry.KindCheckoutPlatformArchive, typ, payload); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

// dictToKwargs views a *starlark.Dict as the map[string]starlark.Value
// the kw* helpers operate over, for parsing a nested dict argument
// (e.g. one platform's archive spec inside platforms={...}) with the
// same helpers used for top-level keyword arguments.
func dictToKwargs(d *starlark.Dict) (map[string]starlark.Value, error) {
	out := make(map[string]starlark.Value, d.Len())
	for _, item := range d.Items() {
		k, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("dict keys must be strings")
		}
		out[k] = item[1]
	}
	return out, nil
}

func (e *Evaluator) checkoutAddAsset(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
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
	destination, err := reqString(kw, "destination", b.Name())
	if err != nil {
		return nil, err
	}
	content, err := reqString(kw, "content", b.Name())
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(destination) {
		destination = filepath.Join(e.WorkspaceRoot, destination)
	}

	payload := checkout.AssetSpec{Name: rc.Name, Destination: destination, Content: content}
	if err := e.addRule(thread, rc, registry.KindCheckoutAsset, typ, payload); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (e *Evaluator) checkoutUpdateAsset(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
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
	destination, err := reqString(kw, "destination", b.Name())
	if err != nil {
		return nil, err
	}
	value, err := optAnyMap(kw, "value")
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(destination) {
		destination = filepath.Join(e.WorkspaceRoot, destination)
	}

	payload := checkout.UpdateAssetSpec{Name: rc.Name, Destination: destination, Value: value}
	if err := e.addRule(thread, rc, registry.KindCheckoutUpdateAsset, typ, payload); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (e *Evaluator) checkoutAddHardLinkAsset(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
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
	source, err := reqString(kw, "source", b.Name())
	if err != nil {
		return nil, err
	}
	destination, err := reqString(kw, "destination", b.Name())
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(destination) {
		destination = filepath.Join(e.WorkspaceRoot, destination)
	}

	payload := checkout.HardLinkAssetSpec{Name: rc.Name, Source: source, Destination: destination}
	if err := e.addRule(thread, rc, registry.KindCheckoutHardLinkAsset, typ, payload); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (e *Evaluator) checkoutAddWhichAsset(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
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
	which, err := reqString(kw, "which", b.Name())
	if err != nil {
		return nil, err
	}
	destination, err := reqString(kw, "destination", b.Name())
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(destination) {
		destination = filepath.Join(e.WorkspaceRoot, destination)
	}

	payload := checkout.WhichAssetSpec{Name: rc.Name, Which: which, Destination: destination}
	if err := e.addRule(thread, rc, registry.KindCheckoutWhichAsset, typ, payload); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (e *Evaluator) checkoutUpdateEnv(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
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
	vars, err := optStringMap(kw, "vars")
	if err != nil {
		return nil, err
	}
	prependPaths, err := optStringList(kw, "prepend_paths")
	if err != nil {
		return nil, err
	}
	appendPaths, err := optStringList(kw, "append_paths")
	if err != nil {
		return nil, err
	}
	systemPaths, err := optStringList(kw, "system_paths")
	if err != nil {
		return nil, err
	}

	payload := checkout.UpdateEnvSpec{
		Name:         rc.Name,
		Vars:         vars,
		PrependPaths: prependPaths,
		AppendPaths:  appendPaths,
		SystemPaths:  systemPaths,
	}
	if err := e.addRule(thread, rc, registry.KindCheckoutUpdateEnv, typ, payload); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (e *Evaluator) checkoutAddCargoBin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
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
	crate, err := reqString(kw, "crate", b.Name())
	if err != nil {
		return nil, err
	}
	version, err := reqString(kw, "version", b.Name())
	if err != nil {
		return nil, err
	}
	bins, err := optStringList(kw, "bins")
	if err != nil {
		return nil, err
	}
	if len(bins) == 0 {
		bins = []string{crate}
	}

	payload := checkout.CargoBinSpec{Name: rc.Name, Crate: crate, Version: version, Bins: bins}
	if err := e.addRule(thread, rc, registry.KindCheckoutCargoBin, typ, payload); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

// abort implements both checkout.abort and run.abort: it records msg on
// the Evaluator and returns an error to unwind the running script. Not
// relying on go.starlark.net's *starlark.EvalError unwrapping to carry a
// typed payload back out — EvalFile instead inspects e.Aborted once
// ExecFileOptions returns, regardless of how the underlying error is
// wrapped.
func (e *Evaluator) abort(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	var msg string
	if len(args) == 1 {
		s, ok := starlark.AsString(args[0])
		if !ok {
			return nil, fmt.Errorf("%s: argument must be a string", b.Name())
		}
		msg = s
	} else {
		kw, err := kwargsMap(kwargsT)
		if err != nil {
			return nil, err
		}
		msg, err = optString(kw, "msg", "")
		if err != nil {
			return nil, err
		}
	}
	e.Aborted = true
	e.AbortMessage = msg
	return nil, fmt.Errorf("abort: %s", msg)
}
