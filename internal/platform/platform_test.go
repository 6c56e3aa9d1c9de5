package platform

import "testing"

func TestParseRoundTrip(t *testing.T) {
	cases := []string{"macos-aarch64", "linux-x86_64", "windows-x86_64"}
	for _, c := range cases {
		p, err := Parse(c)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c, err)
		}
		if got := p.String(); got != c {
			t.Fatalf("round trip mismatch: got %q want %q", got, c)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse("amiga-68k"); err == nil {
		t.Fatal("expected error for unknown platform identifier")
	}
}

func TestCurrent(t *testing.T) {
	p, err := Current()
	if err != nil {
		t.Fatalf("Current(): %v", err)
	}
	if p.OS == "" || p.Arch == "" {
		t.Fatalf("Current() returned zero value: %+v", p)
	}
}
