package httparchive

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spacesbuild/spaces/internal/digest"
	"github.com/spacesbuild/spaces/internal/errs"
)

func TestDetectFormat(t *testing.T) {
	cases := map[string]Format{
		"https://example.com/a.tar.gz":  FormatTarGz,
		"https://example.com/a.tgz":     FormatTarGz,
		"https://example.com/a.tar.bz2": FormatTarBz2,
		"https://example.com/a.tar.xz":  FormatTarXz,
		"https://example.com/a.tar":     FormatTar,
		"https://example.com/a.zip":     FormatZip,
		"https://example.com/a.bin":     FormatPlain,
	}
	for url, want := range cases {
		if got := DetectFormat(url); got != want {
			t.Errorf("DetectFormat(%q) = %v, want %v", url, got, want)
		}
	}
}

func TestGlobFilterAllow(t *testing.T) {
	f := newGlobFilter([]string{"*.go"}, []string{"vendor/*"})
	if !f.allow("main.go") {
		t.Error("expected main.go to be allowed")
	}
	if f.allow("vendor/x.go") {
		t.Error("expected vendor/x.go to be excluded")
	}
	if f.allow("README.md") {
		t.Error("expected README.md to be excluded (not in includes)")
	}

	none := newGlobFilter(nil, nil)
	if !none.allow("anything/at/all.txt") {
		t.Error("expected no includes to mean everything is allowed")
	}
}

func TestRewriteStripAndAddPrefix(t *testing.T) {
	spec := Spec{StripPrefix: "pkg-1.0", AddPrefix: "tools"}
	filter := newGlobFilter(nil, nil)

	got, ok := rewrite("pkg-1.0/bin/tool", spec, filter)
	if !ok || got != filepath.ToSlash(filepath.Join("tools", "bin", "tool")) {
		t.Errorf("rewrite = %q, %v", got, ok)
	}

	_, ok = rewrite("other/bin/tool", spec, filter)
	if ok {
		t.Error("expected entries outside strip_prefix to be dropped")
	}
}

func TestFetchAndExtractVerifiesChecksumAndExtractsTar(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	content := []byte("hello world")
	if err := tw.WriteHeader(&tar.Header{Name: "root/file.txt", Mode: 0o644, Size: int64(len(content))}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sum := digest.Sha256Hex(buf.Bytes())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(w, bytes.NewReader(buf.Bytes()))
	}))
	defer srv.Close()

	dest := t.TempDir()
	f := New(nil, nil)
	spec := Spec{Name: "//archives:thing", URL: srv.URL + "/thing.tar", Sha256: sum}

	if err := f.FetchAndExtract(context.Background(), spec, dest); err != nil {
		t.Fatalf("FetchAndExtract: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "root", "file.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("extracted content = %q", data)
	}
}

func TestFetchAndExtractRejectsChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not the expected bytes"))
	}))
	defer srv.Close()

	f := New(nil, nil)
	spec := Spec{Name: "//archives:thing", URL: srv.URL + "/thing.tar", Sha256: "0000000000000000000000000000000000000000000000000000000000000"}

	err := f.FetchAndExtract(context.Background(), spec, t.TempDir())
	if err == nil {
		t.Fatal("expected checksum mismatch error")
	}
	var mismatch *errs.ChecksumMismatch
	if !errorsAs(err, &mismatch) {
		t.Fatalf("expected ChecksumMismatch, got %T: %v", err, err)
	}
}

func errorsAs(err error, target **errs.ChecksumMismatch) bool {
	m, ok := err.(*errs.ChecksumMismatch)
	if ok {
		*target = m
	}
	return ok
}
