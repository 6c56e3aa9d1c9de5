// Package registry holds the process-wide, ordered collection of rules
// emitted by evaluated scripts, keyed by their qualified name. Grounded
// on original_source/crates/spaces/src/label.rs's sanitize_rule (the
// `//dir/script:name` qualification scheme) and
// original_source/crates/spaces/src/rule.rs's Rule/RuleType, with one
// deliberate divergence: the original silently skips a duplicate rule
// name, whereas here registering the same qualified name twice is a
// fatal *errs.DuplicateRule (see DESIGN.md's Open Question #1).
package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spacesbuild/spaces/internal/errs"
)

// Kind enumerates every rule-emitting built-in.
type Kind string

const (
	KindCheckoutRepo            Kind = "CheckoutRepo"
	KindCheckoutArchive         Kind = "CheckoutArchive"
	KindCheckoutPlatformArchive Kind = "CheckoutPlatformArchive"
	KindCheckoutAsset           Kind = "CheckoutAsset"
	KindCheckoutUpdateAsset     Kind = "CheckoutUpdateAsset"
	KindCheckoutHardLinkAsset   Kind = "CheckoutHardLinkAsset"
	KindCheckoutWhichAsset      Kind = "CheckoutWhichAsset"
	KindCheckoutCargoBin        Kind = "CheckoutCargoBin"
	KindCheckoutUpdateEnv       Kind = "CheckoutUpdateEnv"
	KindRunExec                 Kind = "RunExec"
	KindRunExecIf               Kind = "RunExecIf"
	KindRunTarget               Kind = "RunTarget"
)

// Type is a rule's scheduling class.
type Type string

const (
	TypeSetup    Type = "Setup"
	TypeRun      Type = "Run"
	TypeOptional Type = "Optional"
)

// Rule is the canonical record emitted by a built-in during evaluation.
type Rule struct {
	Name          string
	QualifiedName string
	Kind          Kind
	Type          Type
	Deps          []string
	Includes      []string
	Excludes      []string
	// InputsDeclared distinguishes spec §4.7's three input-fingerprinting
	// states: false means no inputs= argument was given at all (the rule
	// always runs); true with both Includes and Excludes empty means
	// inputs=[] was given (the rule runs exactly once per workspace
	// lifetime); true with either populated means real glob fingerprinting
	// applies.
	InputsDeclared bool
	Help          string
	Site          string // script path that defined this rule, for DuplicateRule diagnostics
	Payload       any
}

// Qualify turns an unqualified rule name into its qualified form
// `//dir/script:name`, given the script module path it was defined in
// (e.g. "tools/build.spaces.star"). Grounded on sanitize_rule: strip the
// trailing "/spaces.star"-style module filename, keep the directory as
// the rule's prefix.
func Qualify(scriptModule, ruleName string) string {
	if IsQualified(ruleName) {
		return ruleName
	}
	dir := scriptModule
	if idx := strings.LastIndex(scriptModule, "/"); idx >= 0 {
		dir = scriptModule[:idx]
	} else {
		dir = ""
	}
	return fmt.Sprintf("//%s:%s", dir, ruleName)
}

// IsQualified reports whether name already contains the `:` qualifier,
// grounded on is_rule_sanitized.
func IsQualified(name string) bool {
	return strings.Contains(name, ":")
}

// Registry is the process-wide ordered collection of rules, safe for
// concurrent registration during the fixed-point evaluation loop (spec
// §4.4 step 1 runs evaluation of multiple discovered scripts that may
// register rules from different goroutines' results, though evaluation
// itself is single-threaded per script).
type Registry struct {
	mu    sync.Mutex
	order []string
	byQN  map[string]*Rule
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byQN: make(map[string]*Rule)}
}

// Add registers rule, returning *errs.DuplicateRule if its qualified name
// is already present.
func (r *Registry) Add(rule *Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byQN[rule.QualifiedName]; ok {
		return &errs.DuplicateRule{
			Name:       rule.QualifiedName,
			FirstSite:  existing.Site,
			SecondSite: rule.Site,
		}
	}
	r.byQN[rule.QualifiedName] = rule
	r.order = append(r.order, rule.QualifiedName)
	return nil
}

// Get returns the rule registered under qualifiedName, if any.
func (r *Registry) Get(qualifiedName string) (*Rule, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.byQN[qualifiedName]
	return rule, ok
}

// All returns every registered rule in registration order.
func (r *Registry) All() []*Rule {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Rule, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byQN[name])
	}
	return out
}

// Names returns every registered qualified name in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// PromoteReachable sets every rule in names to Type Run if it is
// currently Optional, per §3's "default Optional for rules not reachable
// by :all" invariant: once a rule is determined to be reachable from the
// active target set, it is promoted so the scheduler treats it as a real
// unit of work rather than a candidate that was never selected.
func (r *Registry) PromoteReachable(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if rule, ok := r.byQN[name]; ok && rule.Type == TypeOptional {
			rule.Type = TypeRun
		}
	}
}
