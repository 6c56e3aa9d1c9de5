package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenCreatesRoot(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "store")

	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := os.Stat(root); err != nil {
		t.Fatalf("expected store root to be created: %v", err)
	}
	if s.Path("abc") != filepath.Join(root, "abc") {
		t.Errorf("Path = %q", s.Path("abc"))
	}
}

func TestExistsAndMarkComplete(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key := "deadbeef"
	if s.Exists(key) {
		t.Fatal("expected fresh key to not exist")
	}
	if err := s.MarkComplete(key); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	if !s.Exists(key) {
		t.Fatal("expected key to exist after MarkComplete")
	}
}

func TestAcquireAndRelease(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	g, err := s.Acquire(ctx, nil, "some-key")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := g.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	// Releasing twice must be safe.
	if err := g.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	// Reacquiring after release must succeed promptly.
	g2, err := s.Acquire(ctx, nil, "some-key")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	_ = g2.Release()
}

func TestInstallHardlinkFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	if err := os.WriteFile(src, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	dst := filepath.Join(dir, "nested", "dst.txt")

	if err := InstallHardlink(src, dst); err != nil {
		t.Fatalf("InstallHardlink: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile dst: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("dst content = %q", data)
	}
}

func TestInstallHardlinkTree(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.MkdirAll(filepath.Join(src, "sub"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("b"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	// A .complete sentinel inside the store entry must never be installed.
	if err := os.WriteFile(filepath.Join(src, completeSentinel), nil, 0o644); err != nil {
		t.Fatalf("WriteFile sentinel: %v", err)
	}

	dst := filepath.Join(dir, "dst")
	if err := InstallHardlink(src, dst); err != nil {
		t.Fatalf("InstallHardlink: %v", err)
	}

	for _, rel := range []string{"a.txt", filepath.Join("sub", "b.txt")} {
		if _, err := os.Stat(filepath.Join(dst, rel)); err != nil {
			t.Errorf("expected %s to be installed: %v", rel, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dst, completeSentinel)); !os.IsNotExist(err) {
		t.Errorf("expected sentinel to be skipped, stat err = %v", err)
	}

	// Files are hardlinked, so they share an inode with the source.
	srcInfo, err := os.Stat(filepath.Join(src, "a.txt"))
	if err != nil {
		t.Fatalf("stat src: %v", err)
	}
	dstInfo, err := os.Stat(filepath.Join(dst, "a.txt"))
	if err != nil {
		t.Fatalf("stat dst: %v", err)
	}
	if !os.SameFile(srcInfo, dstInfo) {
		t.Error("expected dst to be hardlinked to src (same inode)")
	}
}
