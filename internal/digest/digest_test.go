package digest

import (
	"strings"
	"testing"
)

func TestSha256HexLength(t *testing.T) {
	got := Sha256Hex([]byte("hello"))
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d (%s)", len(got), got)
	}
}

func TestSha256HexDeterministic(t *testing.T) {
	a := Sha256Hex([]byte("same input"))
	b := Sha256Hex([]byte("same input"))
	if a != b {
		t.Fatalf("expected deterministic digest, got %s != %s", a, b)
	}
}

func TestSha256HexReader(t *testing.T) {
	got, err := Sha256HexReader(strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Sha256HexReader: %v", err)
	}
	want := Sha256Hex([]byte("hello"))
	if got != want {
		t.Fatalf("Sha256HexReader() = %s, want %s", got, want)
	}
}

func TestBlake3HexDiffersFromSha256(t *testing.T) {
	b3 := Blake3Hex([]byte("payload"))
	sha := Sha256Hex([]byte("payload"))
	if b3 == sha {
		t.Fatal("blake3 and sha256 digests should not collide for the same input")
	}
	if len(b3) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(b3))
	}
}

func TestCombineOrderMatters(t *testing.T) {
	a := Combine("x", "y")
	b := Combine("y", "x")
	if a == b {
		t.Fatal("Combine should be order-sensitive")
	}
}
