// Package graph implements the dependency graph over qualified rule
// names: cycle detection, unknown-dependency detection with suggestions,
// and stable topological ordering. Grounded on
// original_source/crates/graph/src/lib.rs's Graph (a petgraph DiGraph
// wrapper offering add_task/add_dependency/get_sorted_tasks); reimplemented
// on the standard library since no graph library appears anywhere in the
// example pack, and petgraph itself has no direct Go analog worth
// depending on for a few hundred nodes.
package graph

import (
	"github.com/spacesbuild/spaces/internal/errs"
	"github.com/spacesbuild/spaces/internal/suggest"
)

// Graph is a directed graph of qualified rule names, edges pointing from
// a rule to each of its dependencies.
type Graph struct {
	nodes  []string
	index  map[string]int
	deps   map[string][]string
	depsOf map[string]map[string]bool // membership helper for duplicate-edge checks
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		index:  make(map[string]int),
		deps:   make(map[string][]string),
		depsOf: make(map[string]map[string]bool),
	}
}

// AddNode registers name if not already present. Grounded on
// Graph::add_task.
func (g *Graph) AddNode(name string) {
	if _, ok := g.index[name]; ok {
		return
	}
	g.index[name] = len(g.nodes)
	g.nodes = append(g.nodes, name)
	g.depsOf[name] = make(map[string]bool)
}

// AddDependency records that `from` depends on `to`, registering `from`
// if absent; `to` not existing is reported by Validate, not here, so
// that all dangling deps across the whole registry can be surfaced
// together rather than failing on the first one encountered. Grounded on
// Graph::add_dependency.
func (g *Graph) AddDependency(from, to string) {
	g.AddNode(from)
	if g.depsOf[from][to] {
		return
	}
	g.depsOf[from][to] = true
	g.deps[from] = append(g.deps[from], to)
}

// Nodes returns all registered node names in registration order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// DepsOf returns the declared dependencies of name, in the order they
// were added.
func (g *Graph) DepsOf(name string) []string {
	return g.deps[name]
}

// Validate checks that every dependency edge targets a registered node,
// returning an *errs.UnknownTarget (with a Levenshtein-nearest suggestion
// among registered nodes) for the first dangling edge found, in
// registration order.
func (g *Graph) Validate() error {
	for _, name := range g.nodes {
		for _, dep := range g.deps[name] {
			if _, ok := g.index[dep]; !ok {
				return &errs.UnknownTarget{Name: dep, Suggestion: suggest.Closest(dep, g.nodes)}
			}
		}
	}
	return nil
}

// TopoSort returns all registered nodes in dependency-first order (a
// node always appears after every node it depends on), stable under
// registration order among nodes with no ordering constraint between
// them. Grounded on Graph::get_sorted_tasks's no-target branch
// (petgraph::algo::toposort, reversed to dependency-first).
//
// It returns an *errs.CycleDetected if the graph is not a DAG.
func (g *Graph) TopoSort() ([]string, error) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.nodes))
	var order []string
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			cycle := append(append([]string{}, stack...), name)
			return &errs.CycleDetected{Cycle: cycle}
		}
		state[name] = visiting
		stack = append(stack, name)
		for _, dep := range g.deps[name] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, name := range g.nodes {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Reachable returns target and every node it transitively depends on,
// dependency-first, stable under registration order. Grounded on
// Graph::get_sorted_tasks's target-given branch (DfsPostOrder).
func (g *Graph) Reachable(target string) ([]string, error) {
	if _, ok := g.index[target]; !ok {
		return nil, &errs.UnknownTarget{Name: target, Suggestion: suggest.Closest(target, g.nodes)}
	}

	visited := make(map[string]bool)
	var order []string

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		for _, dep := range g.deps[name] {
			visit(dep)
		}
		order = append(order, name)
	}
	visit(target)
	return order, nil
}
