package graph

import (
	"testing"

	"github.com/spacesbuild/spaces/internal/errs"
)

func buildDiamond() *Graph {
	g := New()
	for _, n := range []string{"//p:a", "//p:b", "//p:c", "//p:d"} {
		g.AddNode(n)
	}
	g.AddDependency("//p:d", "//p:b")
	g.AddDependency("//p:d", "//p:c")
	g.AddDependency("//p:b", "//p:a")
	g.AddDependency("//p:c", "//p:a")
	return g
}

func indexOf(order []string, name string) int {
	for i, n := range order {
		if n == name {
			return i
		}
	}
	return -1
}

func TestTopoSortRespectsDependencyOrder(t *testing.T) {
	g := buildDiamond()
	order, err := g.TopoSort()
	if err != nil {
		t.Fatalf("TopoSort: %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("expected 4 nodes, got %d: %v", len(order), order)
	}
	if indexOf(order, "//p:a") > indexOf(order, "//p:b") {
		t.Error("a must come before b")
	}
	if indexOf(order, "//p:a") > indexOf(order, "//p:c") {
		t.Error("a must come before c")
	}
	if indexOf(order, "//p:b") > indexOf(order, "//p:d") {
		t.Error("b must come before d")
	}
}

func TestReachableFiltersToTargetSubtree(t *testing.T) {
	g := New()
	for _, n := range []string{"//p:a", "//p:b", "//p:c"} {
		g.AddNode(n)
	}
	g.AddDependency("//p:b", "//p:a")
	// c has no relation to a/b.

	order, err := g.Reachable("//p:b")
	if err != nil {
		t.Fatalf("Reachable: %v", err)
	}
	if len(order) != 2 {
		t.Fatalf("expected 2 reachable nodes, got %v", order)
	}
	for _, n := range order {
		if n == "//p:c" {
			t.Error("c should not be reachable from b")
		}
	}
}

func TestReachableUnknownTarget(t *testing.T) {
	g := New()
	g.AddNode("//p:build")
	_, err := g.Reachable("//p:buidl")
	unknown, ok := err.(*errs.UnknownTarget)
	if !ok {
		t.Fatalf("expected UnknownTarget, got %T: %v", err, err)
	}
	if unknown.Suggestion != "//p:build" {
		t.Errorf("Suggestion = %q, want //p:build", unknown.Suggestion)
	}
}

func TestCycleDetected(t *testing.T) {
	g := New()
	g.AddDependency("//p:a", "//p:b")
	g.AddDependency("//p:b", "//p:a")

	_, err := g.TopoSort()
	if _, ok := err.(*errs.CycleDetected); !ok {
		t.Fatalf("expected CycleDetected, got %T: %v", err, err)
	}
}

func TestValidateCatchesDanglingDependency(t *testing.T) {
	g := New()
	g.AddNode("//p:a")
	g.AddDependency("//p:a", "//p:missing")

	err := g.Validate()
	if _, ok := err.(*errs.UnknownTarget); !ok {
		t.Fatalf("expected UnknownTarget, got %T: %v", err, err)
	}
}

func TestAddDependencyDedupes(t *testing.T) {
	g := New()
	g.AddDependency("//p:a", "//p:b")
	g.AddDependency("//p:a", "//p:b")
	if len(g.DepsOf("//p:a")) != 1 {
		t.Errorf("expected deduped deps, got %v", g.DepsOf("//p:a"))
	}
}
