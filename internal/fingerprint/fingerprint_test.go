package fingerprint

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseGlobsSplitsIncludeExclude(t *testing.T) {
	globs := ParseGlobs([]string{"+src/**/*.c", "-src/generated/*.c", "ignored-no-prefix"})
	if len(globs) != 2 {
		t.Fatalf("expected 2 parsed globs, got %d: %+v", len(globs), globs)
	}
	if !globs[0].Include || globs[0].Pattern != "src/**/*.c" {
		t.Errorf("unexpected first glob: %+v", globs[0])
	}
	if globs[1].Include || globs[1].Pattern != "src/generated/*.c" {
		t.Errorf("unexpected second glob: %+v", globs[1])
	}
}

func TestMatchesLaterGlobOverridesEarlier(t *testing.T) {
	globs := []Glob{
		{Include: true, Pattern: "*.c"},
		{Include: false, Pattern: "skip.c"},
	}
	if !Matches(globs, "main.c") {
		t.Error("expected main.c to match the include")
	}
	if Matches(globs, "skip.c") {
		t.Error("expected skip.c's later exclude to override the include")
	}
	if Matches(globs, "unrelated.txt") {
		t.Error("expected unrelated.txt to not match")
	}
}

func TestMatchingFilesWalksAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.c", "b.c", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	globs := ParseGlobs([]string{"+*.c"})
	files, err := MatchingFiles(dir, globs)
	if err != nil {
		t.Fatalf("MatchingFiles: %v", err)
	}
	if len(files) != 2 || files[0] != "a.c" || files[1] != "b.c" {
		t.Errorf("unexpected matches: %v", files)
	}
}

func TestMatchingFilesMissingRootIsNotAnError(t *testing.T) {
	files, err := MatchingFiles(filepath.Join(t.TempDir(), "does-not-exist"), nil)
	if err != nil {
		t.Fatalf("expected missing root to be silently empty, got %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected no matches, got %v", files)
	}
}

func TestComputeIsOrderIndependentAcrossInputMap(t *testing.T) {
	a := Compute("def", map[string]string{"b.c": "digestB", "a.c": "digestA"})
	b := Compute("def", map[string]string{"a.c": "digestA", "b.c": "digestB"})
	if a != b {
		t.Error("expected Compute to be independent of map iteration order")
	}

	c := Compute("def", map[string]string{"a.c": "digestA-changed", "b.c": "digestB"})
	if a == c {
		t.Error("expected changing a file's digest to change the fingerprint")
	}
}

func TestCacheIsChangedAndSave(t *testing.T) {
	c := NewCache(nil)
	if !c.IsChanged("//pkg:build", "fp1") {
		t.Error("expected a fresh cache entry to be considered changed")
	}
	c.Save("//pkg:build", "fp1")
	if c.IsChanged("//pkg:build", "fp1") {
		t.Error("expected matching fingerprint to not be changed")
	}
	if !c.IsChanged("//pkg:build", "fp2") {
		t.Error("expected differing fingerprint to be changed")
	}
}

func TestNewCacheWrapsExistingEntries(t *testing.T) {
	c := NewCache(map[string]string{"//pkg:build": "fp1"})
	if c.IsChanged("//pkg:build", "fp1") {
		t.Error("expected pre-seeded entry to be recognized")
	}
}
