package registry

import (
	"testing"

	"github.com/spacesbuild/spaces/internal/errs"
)

func TestQualify(t *testing.T) {
	cases := []struct {
		module, name, want string
	}{
		{"tools/build.spaces.star", "compile", "//tools:compile"},
		{"build.spaces.star", "compile", "//:compile"},
		{"tools/build.spaces.star", "//other:already", "//other:already"},
	}
	for _, c := range cases {
		if got := Qualify(c.module, c.name); got != c.want {
			t.Errorf("Qualify(%q, %q) = %q, want %q", c.module, c.name, got, c.want)
		}
	}
}

func TestIsQualified(t *testing.T) {
	if !IsQualified("//pkg:build") {
		t.Error("expected //pkg:build to be qualified")
	}
	if IsQualified("build") {
		t.Error("expected bare name to be unqualified")
	}
}

func TestRegistryAddAndDuplicate(t *testing.T) {
	r := New()
	rule := &Rule{Name: "build", QualifiedName: "//pkg:build", Kind: KindRunExec, Type: TypeOptional, Site: "pkg/build.spaces.star"}
	if err := r.Add(rule); err != nil {
		t.Fatalf("Add: %v", err)
	}

	dup := &Rule{Name: "build", QualifiedName: "//pkg:build", Kind: KindRunExec, Site: "pkg/other.spaces.star"}
	err := r.Add(dup)
	if err == nil {
		t.Fatal("expected DuplicateRule error")
	}
	de, ok := err.(*errs.DuplicateRule)
	if !ok {
		t.Fatalf("expected *errs.DuplicateRule, got %T", err)
	}
	if de.FirstSite != "pkg/build.spaces.star" || de.SecondSite != "pkg/other.spaces.star" {
		t.Errorf("unexpected sites: %+v", de)
	}
}

func TestRegistryOrderingAndGet(t *testing.T) {
	r := New()
	_ = r.Add(&Rule{QualifiedName: "//a:x", Type: TypeOptional})
	_ = r.Add(&Rule{QualifiedName: "//b:y", Type: TypeOptional})

	names := r.Names()
	if len(names) != 2 || names[0] != "//a:x" || names[1] != "//b:y" {
		t.Errorf("unexpected order: %v", names)
	}

	if _, ok := r.Get("//missing:z"); ok {
		t.Error("expected missing rule to not be found")
	}
	if rule, ok := r.Get("//a:x"); !ok || rule.QualifiedName != "//a:x" {
		t.Error("expected //a:x to be found")
	}
}

func TestPromoteReachablePromotesOptionalOnly(t *testing.T) {
	r := New()
	_ = r.Add(&Rule{QualifiedName: "//a:x", Type: TypeOptional})
	_ = r.Add(&Rule{QualifiedName: "//a:y", Type: TypeSetup})

	r.PromoteReachable([]string{"//a:x", "//a:y"})

	x, _ := r.Get("//a:x")
	y, _ := r.Get("//a:y")
	if x.Type != TypeRun {
		t.Errorf("expected //a:x promoted to Run, got %v", x.Type)
	}
	if y.Type != TypeSetup {
		t.Errorf("expected //a:y to remain Setup, got %v", y.Type)
	}
}
