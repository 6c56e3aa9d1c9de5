// Package fingerprint computes and caches per-rule input fingerprints,
// the basis of incremental re-execution. Grounded on
// original_source/crates/spaces/src/inputs.rs's Inputs (a
// rule-name→digest map with is_changed/save_digest), generalized from
// bincode persistence to a JSON map inside .spaces/settings.json (see
// DESIGN.md: the workspace settings file is JSON throughout, so the
// fingerprint cache follows suit rather than introducing a second
// serialization format).
package fingerprint

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spacesbuild/spaces/internal/digest"
)

// Glob is one `+pattern` (include) or `-pattern` (exclude) entry from a
// rule's inputs list.
type Glob struct {
	Include bool
	Pattern string
}

// ParseGlobs splits a rule's raw inputs strings into typed Globs,
// returning no error — validation that every entry starts with '+' or
// '-' happens at script-evaluation time (out of scope per spec §1); an
// entry with neither prefix is silently dropped here, grounded on
// validate_input_globs's closed +/- contract.
func ParseGlobs(raw []string) []Glob {
	globs := make([]Glob, 0, len(raw))
	for _, r := range raw {
		if strings.HasPrefix(r, "+") {
			globs = append(globs, Glob{Include: true, Pattern: r[1:]})
		} else if strings.HasPrefix(r, "-") {
			globs = append(globs, Glob{Include: false, Pattern: r[1:]})
		}
	}
	return globs
}

// Matches reports whether relPath is selected by globs, evaluated in
// declaration order so a later exclude/include can override an earlier
// one for the same file, per spec §4.7.
func Matches(globs []Glob, relPath string) bool {
	matched := false
	for _, g := range globs {
		if ok, _ := filepath.Match(g.Pattern, relPath); ok {
			matched = g.Include
		}
	}
	return matched
}

// MatchingFiles walks root and returns every regular file path (relative
// to root, slash-separated) selected by globs, sorted for deterministic
// fingerprinting. A glob pattern that matches no files silently
// contributes nothing, per spec §4.7.
func MatchingFiles(root string, globs []Glob) ([]string, error) {
	var matched []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if Matches(globs, rel) {
			matched = append(matched, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matched)
	return matched, nil
}

// Compute returns fp = sha256(ruleDefinitionDigest || sorted "path=digest"
// pairs for each matching file's content). contentDigest is supplied by
// the caller per file (sha256 of file bytes) so this package does no I/O
// beyond the directory walk in MatchingFiles.
func Compute(ruleDefinitionDigest string, fileDigests map[string]string) string {
	paths := make([]string, 0, len(fileDigests))
	for p := range fileDigests {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	parts := make([]string, 0, len(paths)+1)
	parts = append(parts, ruleDefinitionDigest)
	for _, p := range paths {
		parts = append(parts, p+"="+fileDigests[p])
	}
	return digest.Combine(parts...)
}

// Cache is the persisted map of qualified-rule-name → last-successful
// fingerprint, the in-memory mirror of settings.json's input_fingerprints
// map. Persistence itself lives in internal/workspace, which owns
// settings.json as a whole; this type is the pure, testable logic around
// it. Grounded on Inputs::is_changed/save_digest.
type Cache struct {
	entries map[string]string
}

// NewCache wraps an existing input_fingerprints map (as decoded from
// settings.json), or starts empty if entries is nil.
func NewCache(entries map[string]string) *Cache {
	if entries == nil {
		entries = make(map[string]string)
	}
	return &Cache{entries: entries}
}

// IsChanged reports whether fp differs from the cached value for rule
// (including the case where there is no cached value yet).
func (c *Cache) IsChanged(rule, fp string) bool {
	return c.entries[rule] != fp
}

// Save records fp as rule's last-successful fingerprint.
func (c *Cache) Save(rule, fp string) {
	c.entries[rule] = fp
}

// Entries returns the backing map, for the workspace layer to serialize
// back into settings.json.
func (c *Cache) Entries() map[string]string {
	return c.entries
}

// ConstantFingerprint is used for rules with inputs = [] (spec §4.7: such
// a rule runs exactly once per workspace lifetime; the first run stores
// this constant value, and every subsequent Ready-time check finds no
// change).
const ConstantFingerprint = "once"
