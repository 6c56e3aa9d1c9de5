package eval

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/spacesbuild/spaces/internal/fingerprint"
	"github.com/spacesbuild/spaces/internal/registry"
)

// ruleCommon holds the fields shared by every rule-emitting built-in:
// name, deps, help, and the tri-state inputs declaration spec §4.7
// describes (absent, empty, or populated).
type ruleCommon struct {
	Name           string
	Deps           []string
	Help           string
	InputsDeclared bool
	Includes       []string
	Excludes       []string
}

// parseRuleCommon extracts name/deps/help/inputs from kw, qualifying
// deps against the calling module the same way the rule's own name will
// be qualified.
func parseRuleCommon(kw map[string]starlark.Value, builtinName, module string) (ruleCommon, error) {
	name, err := reqString(kw, "name", builtinName)
	if err != nil {
		return ruleCommon{}, err
	}
	rawDeps, err := optStringList(kw, "deps")
	if err != nil {
		return ruleCommon{}, err
	}
	deps := make([]string, len(rawDeps))
	for i, d := range rawDeps {
		deps[i] = registry.Qualify(module, d)
	}
	help, err := optString(kw, "help", "")
	if err != nil {
		return ruleCommon{}, err
	}

	rc := ruleCommon{Name: name, Deps: deps, Help: help}
	if raw, ok := kw["inputs"]; ok && raw != starlark.None {
		rawInputs, err := optStringList(kw, "inputs")
		if err != nil {
			return ruleCommon{}, err
		}
		rc.InputsDeclared = true
		for _, glob := range fingerprint.ParseGlobs(rawInputs) {
			if glob.Include {
				rc.Includes = append(rc.Includes, glob.Pattern)
			} else {
				rc.Excludes = append(rc.Excludes, glob.Pattern)
			}
		}
	}
	return rc, nil
}

// addRule qualifies rc's name against the calling script's module and
// registers rule (whose Name/Deps/Includes/Excludes/Help/Type are
// already populated by the caller) into e.Registry, tagging it with the
// calling script's path for DuplicateRule diagnostics.
func (e *Evaluator) addRule(thread *starlark.Thread, rc ruleCommon, kind registry.Kind, typ registry.Type, payload any) error {
	module := moduleOf(thread)
	rule := &registry.Rule{
		Name:           rc.Name,
		QualifiedName:  registry.Qualify(module, rc.Name),
		Kind:           kind,
		Type:           typ,
		Deps:           rc.Deps,
		Includes:       rc.Includes,
		Excludes:       rc.Excludes,
		InputsDeclared: rc.InputsDeclared,
		Help:           rc.Help,
		Site:           thread.Name,
		Payload:        payload,
	}
	if err := e.Registry.Add(rule); err != nil {
		return err
	}
	return nil
}

// ruleType resolves the optional "type" keyword argument (one of
// "setup", "run", "optional") to a registry.Type, defaulting to Run.
func ruleType(kw map[string]starlark.Value, builtinName string) (registry.Type, error) {
	raw, err := optString(kw, "type", "run")
	if err != nil {
		return "", err
	}
	switch raw {
	case "setup":
		return registry.TypeSetup, nil
	case "run":
		return registry.TypeRun, nil
	case "optional":
		return registry.TypeOptional, nil
	default:
		return "", fmt.Errorf("%s: invalid type %q (want setup, run, or optional)", builtinName, raw)
	}
}
