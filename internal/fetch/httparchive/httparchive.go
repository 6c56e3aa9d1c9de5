// Package httparchive implements the HTTP archive checkout executor:
// downloading a declared-checksum archive into the store, verifying it,
// and extracting it with include/exclude glob filtering and prefix
// rewriting. Archive wire formats are an explicit out-of-scope
// collaborator (spec §1) — this package leans entirely on
// archive/tar, archive/zip, compress/gzip, compress/bzip2, and
// github.com/ulikunitz/xz for .tar.xz, matching the "a correct decoder,
// not a hand-rolled one" framing.
package httparchive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/spacesbuild/spaces/internal/digest"
	"github.com/spacesbuild/spaces/internal/errs"
	"github.com/spacesbuild/spaces/internal/log"
	"github.com/spacesbuild/spaces/internal/progress"
)

// Format identifies a supported archive container, detected from the
// download URL's extension.
type Format int

const (
	FormatPlain Format = iota
	FormatZip
	FormatTar
	FormatTarGz
	FormatTarBz2
	FormatTarXz
)

// DetectFormat maps a URL or filename to a Format by extension, per spec
// §4.3's closed list.
func DetectFormat(name string) Format {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(lower, ".tar.bz2") || strings.HasSuffix(lower, ".tbz2"):
		return FormatTarBz2
	case strings.HasSuffix(lower, ".tar.xz") || strings.HasSuffix(lower, ".txz"):
		return FormatTarXz
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	default:
		return FormatPlain
	}
}

// Spec is one http-archive checkout rule's payload.
type Spec struct {
	Name        string
	URL         string
	Sha256      string
	Includes    []string
	Excludes    []string
	StripPrefix string
	AddPrefix   string
}

// Key is the store key this archive is cached under: its declared sha256.
func (s Spec) Key() string { return s.Sha256 }

// Fetcher downloads and extracts archives, reporting progress via rep.
type Fetcher struct {
	client *http.Client
	rep    progress.Reporter
}

// New returns a Fetcher using client (http.DefaultClient if nil) and
// reporting to rep (a Noop reporter if nil).
func New(client *http.Client, rep progress.Reporter) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if rep == nil {
		rep = progress.Noop{}
	}
	return &Fetcher{client: client, rep: rep}
}

// FetchAndExtract downloads spec.URL to a temp file, verifies its sha256
// against spec.Sha256, and extracts it into destDir, honoring
// strip_prefix and the include/exclude globs. It reports progress under
// spec.Name.
func (f *Fetcher) FetchAndExtract(ctx context.Context, spec Spec, destDir string) error {
	tmp, err := f.download(ctx, spec)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := f.verify(tmp, spec); err != nil {
		return err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return &errs.IoError{Op: "mkdir extract destination", Err: err}
	}

	return f.extract(tmp, DetectFormat(spec.URL), spec, destDir)
}

func (f *Fetcher) download(ctx context.Context, spec Spec) (string, error) {
	f.rep.TaskProgress(spec.Name, "downloading "+spec.URL)
	log.WithRule(spec.Name).Debug("downloading archive", "url", spec.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build request for %s: %w", spec.URL, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", &errs.NetworkFailure{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &errs.NetworkFailure{Err: fmt.Errorf("GET %s: status %s", spec.URL, resp.Status)}
	}

	out, err := os.CreateTemp("", "spaces-archive-*")
	if err != nil {
		return "", &errs.IoError{Op: "create temp file", Err: err}
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(out.Name())
		return "", &errs.NetworkFailure{Err: fmt.Errorf("downloading %s: %w", spec.URL, err)}
	}
	return out.Name(), nil
}

func (f *Fetcher) verify(path string, spec Spec) error {
	fh, err := os.Open(path)
	if err != nil {
		return &errs.IoError{Op: "open downloaded archive", Err: err}
	}
	defer fh.Close()

	sum, err := digest.Sha256HexReader(fh)
	if err != nil {
		return &errs.IoError{Op: "hash downloaded archive", Err: err}
	}
	if sum != spec.Sha256 {
		return &errs.ChecksumMismatch{Expected: spec.Sha256, Actual: sum, Source: spec.URL}
	}
	return nil
}

func (f *Fetcher) extract(archivePath string, format Format, spec Spec, destDir string) error {
	fh, err := os.Open(archivePath)
	if err != nil {
		return &errs.IoError{Op: "open archive for extraction", Err: err}
	}
	defer fh.Close()

	filter := newGlobFilter(spec.Includes, spec.Excludes)

	switch format {
	case FormatZip:
		return extractZip(archivePath, spec, destDir, filter)
	case FormatTar:
		return extractTar(fh, spec, destDir, filter)
	case FormatTarGz:
		gz, err := gzip.NewReader(fh)
		if err != nil {
			return &errs.IoError{Op: "open gzip stream", Err: err}
		}
		defer gz.Close()
		return extractTar(gz, spec, destDir, filter)
	case FormatTarBz2:
		return extractTar(bzip2.NewReader(fh), spec, destDir, filter)
	case FormatTarXz:
		xr, err := xz.NewReader(fh)
		if err != nil {
			return &errs.IoError{Op: "open xz stream", Err: err}
		}
		return extractTar(xr, spec, destDir, filter)
	default:
		return fmt.Errorf("archive %q has no recognized extension (.zip|.tar|.tar.gz|.tar.bz2|.tar.xz) to detect its format", spec.URL)
	}
}

type globFilter struct {
	includes []string
	excludes []string
}

func newGlobFilter(includes, excludes []string) globFilter {
	return globFilter{includes: includes, excludes: excludes}
}

// allow reports whether relPath (slash-separated) should be extracted,
// per spec §4.3's include/exclude glob filtering: no includes means
// everything is included by default, any exclude match always wins.
func (g globFilter) allow(relPath string) bool {
	for _, ex := range g.excludes {
		if ok, _ := path.Match(ex, relPath); ok {
			return false
		}
	}
	if len(g.includes) == 0 {
		return true
	}
	for _, in := range g.includes {
		if ok, _ := path.Match(in, relPath); ok {
			return true
		}
	}
	return false
}

// rewrite applies strip_prefix and add_prefix to a tar/zip entry name,
// returning ("", false) if the entry falls outside strip_prefix or is
// filtered out.
func rewrite(name string, spec Spec, filter globFilter) (string, bool) {
	name = path.Clean("/" + name)[1:]
	if spec.StripPrefix != "" {
		prefix := strings.TrimSuffix(spec.StripPrefix, "/") + "/"
		if !strings.HasPrefix(name+"/", prefix) && name != strings.TrimSuffix(prefix, "/") {
			return "", false
		}
		name = strings.TrimPrefix(name, prefix)
	}
	if name == "" {
		return "", false
	}
	if !filter.allow(name) {
		return "", false
	}
	if spec.AddPrefix != "" {
		name = path.Join(spec.AddPrefix, name)
	}
	return name, true
}

func extractTar(r io.Reader, spec Spec, destDir string, filter globFilter) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &errs.IoError{Op: "read tar entry", Err: err}
		}

		target, ok := rewrite(hdr.Name, spec, filter)
		if !ok {
			continue
		}
		dst := filepath.Join(destDir, target)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return &errs.IoError{Op: "mkdir extracted directory", Err: err}
			}
		case tar.TypeSymlink:
			_ = os.MkdirAll(filepath.Dir(dst), 0o755)
			_ = os.Remove(dst)
			if err := os.Symlink(hdr.Linkname, dst); err != nil {
				return &errs.IoError{Op: "create extracted symlink", Err: err}
			}
		default:
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return &errs.IoError{Op: "mkdir extracted file parent", Err: err}
			}
			out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return &errs.IoError{Op: "create extracted file", Err: err}
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return &errs.IoError{Op: "write extracted file", Err: err}
			}
			if err := out.Close(); err != nil {
				return &errs.IoError{Op: "close extracted file", Err: err}
			}
		}
	}
}

func extractZip(archivePath string, spec Spec, destDir string, filter globFilter) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return &errs.IoError{Op: "open zip archive", Err: err}
	}
	defer zr.Close()

	for _, entry := range zr.File {
		target, ok := rewrite(entry.Name, spec, filter)
		if !ok {
			continue
		}
		dst := filepath.Join(destDir, target)

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return &errs.IoError{Op: "mkdir extracted directory", Err: err}
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return &errs.IoError{Op: "mkdir extracted file parent", Err: err}
		}
		in, err := entry.Open()
		if err != nil {
			return &errs.IoError{Op: "open zip entry", Err: err}
		}
		out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, entry.Mode())
		if err != nil {
			in.Close()
			return &errs.IoError{Op: "create extracted file", Err: err}
		}
		if _, err := io.Copy(out, in); err != nil {
			in.Close()
			out.Close()
			return &errs.IoError{Op: "write extracted file", Err: err}
		}
		in.Close()
		if err := out.Close(); err != nil {
			return &errs.IoError{Op: "close extracted file", Err: err}
		}
	}
	return nil
}
