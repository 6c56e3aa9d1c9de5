// Package git implements the git checkout executor: cloning (or reusing a
// store-cached bare clone of) a repository, checking out a revision or
// branch into a workspace path, and resolving branch/tag revs to commits.
// Grounded on original_source/crates/git/src/lib.rs's BareRepository and
// Worktree types, which drive the same bare-clone-then-worktree sequence
// via the same git subcommands; git's wire protocol itself is an
// out-of-scope collaborator, so every operation here is argument
// construction and output parsing around the system git binary.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spacesbuild/spaces/internal/digest"
	"github.com/spacesbuild/spaces/internal/errs"
	"github.com/spacesbuild/spaces/internal/log"
	"github.com/spacesbuild/spaces/internal/progress"
)

// CloneMode selects how the bare or full clone underlying a repository
// checkout is created.
type CloneMode string

const (
	CloneDefault  CloneMode = "default"
	CloneBlobless CloneMode = "blobless"
	CloneWorktree CloneMode = "worktree"
)

// CheckoutMode selects whether the workspace checkout lands on a detached
// revision or a freshly created local branch.
type CheckoutMode string

const (
	CheckoutRevision  CheckoutMode = "revision"
	CheckoutNewBranch CheckoutMode = "new_branch"
)

// Repo is one git checkout rule's payload.
type Repo struct {
	Name  string
	URL   string
	Rev   string
	Clone CloneMode
	Mode  CheckoutMode
}

// Key is the store key this repo's bare clone is cached under:
// sha256(url + "#" + rev + mode).
func (r Repo) Key() string {
	return digest.Sha256Hex([]byte(r.URL + "#" + r.Rev + string(r.Clone)))
}

// Fetcher performs git checkouts, reporting progress via rep.
type Fetcher struct {
	rep progress.Reporter
}

// New returns a Fetcher that reports to rep. A nil rep is replaced with a
// Noop reporter.
func New(rep progress.Reporter) *Fetcher {
	if rep == nil {
		rep = progress.Noop{}
	}
	return &Fetcher{rep: rep}
}

// Checkout ensures repo's bare clone exists at barePath (a store entry
// path) and that workspacePath contains a checkout at the resolved
// revision. If locked is non-empty (an existing entry in
// settings.json's locks map matching r.Rev), that commit is used directly
// instead of re-resolving the rev, per spec §4.2's lock-pinning rule. It
// returns the resolved commit to be recorded back into that map.
func (f *Fetcher) Checkout(ctx context.Context, repo Repo, barePath, workspacePath, locked string) (string, error) {
	if err := f.ensureBareClone(ctx, repo, barePath); err != nil {
		return "", err
	}

	resolved := locked
	if resolved == "" {
		rev, err := f.resolveRev(ctx, barePath, repo.Rev)
		if err != nil {
			return "", err
		}
		resolved = rev
	}

	switch repo.Clone {
	case CloneWorktree:
		if err := f.addWorktree(ctx, barePath, workspacePath, repo, resolved); err != nil {
			return "", err
		}
	default:
		if err := f.checkoutInPlace(ctx, workspacePath, repo, resolved); err != nil {
			return "", err
		}
	}

	return resolved, nil
}

// ensureBareClone creates barePath as a bare clone of repo.URL if it does
// not already exist, or updates its fetch refspec to pick up newly created
// remote branches if it does. Grounded on BareRepository::new.
func (f *Fetcher) ensureBareClone(ctx context.Context, repo Repo, barePath string) error {
	if _, err := os.Stat(barePath); err == nil {
		return f.run(ctx, barePath, repo.URL, "config", "remote.origin.fetch", "+refs/heads/*:refs/heads/*")
	}

	if err := os.MkdirAll(filepath.Dir(barePath), 0o755); err != nil {
		return &errs.IoError{Op: "mkdir bare clone parent", Err: err}
	}

	args := []string{"clone", "--bare"}
	if repo.Clone == CloneBlobless || repo.Clone == CloneWorktree {
		args = append(args, "--filter=blob:none")
	}
	args = append(args, repo.URL, barePath)

	if err := f.run(ctx, "", repo.URL, args...); err != nil {
		return err
	}

	return f.run(ctx, barePath, repo.URL, "config", "--add", "--bool", "push.autoSetupRemote", "true")
}

// resolveRev fetches and rev-parses rev against the bare clone, returning
// the resolved commit hash.
func (f *Fetcher) resolveRev(ctx context.Context, barePath, rev string) (string, error) {
	if err := f.run(ctx, barePath, "", "fetch", "origin"); err != nil {
		return "", err
	}
	out, err := f.capture(ctx, barePath, "rev-parse", rev)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// addWorktree attaches a worktree at workspacePath against the bare clone
// at barePath, detached at resolved, pruning stale entries first; an
// existing worktree is moved to resolved instead. Grounded on
// Worktree::new.
func (f *Fetcher) addWorktree(ctx context.Context, barePath, workspacePath string, repo Repo, resolved string) error {
	if err := os.MkdirAll(filepath.Dir(workspacePath), 0o755); err != nil {
		return &errs.IoError{Op: "mkdir worktree parent", Err: err}
	}
	if err := f.run(ctx, barePath, repo.URL, "worktree", "prune"); err != nil {
		return err
	}
	if _, err := os.Stat(workspacePath); err == nil {
		return f.run(ctx, workspacePath, repo.URL, "checkout", "--detach", resolved)
	}
	return f.run(ctx, barePath, repo.URL, "worktree", "add", "--detach", workspacePath, resolved)
}

// checkoutInPlace clones a non-worktree checkout directly at workspacePath
// (CloneDefault/CloneBlobless without the bare-cache indirection) and
// checks it out at resolved, per repo.Mode.
func (f *Fetcher) checkoutInPlace(ctx context.Context, workspacePath string, repo Repo, resolved string) error {
	if _, err := os.Stat(workspacePath); err != nil {
		args := []string{"clone"}
		if repo.Clone == CloneBlobless {
			args = append(args, "--filter=blob:none")
		}
		args = append(args, repo.URL, workspacePath)
		if err := f.run(ctx, "", repo.URL, args...); err != nil {
			return err
		}
	} else {
		if err := f.run(ctx, workspacePath, repo.URL, "fetch", "origin"); err != nil {
			return err
		}
	}

	switch repo.Mode {
	case CheckoutNewBranch:
		if err := f.run(ctx, workspacePath, repo.URL, "checkout", "--detach", resolved); err != nil {
			return err
		}
		if err := f.run(ctx, workspacePath, repo.URL, "switch", "-c", repo.Rev); err != nil {
			// Branch may already exist locally from a previous run.
			return f.run(ctx, workspacePath, repo.URL, "checkout", repo.Rev)
		}
		return nil
	default:
		return f.run(ctx, workspacePath, repo.URL, "checkout", "--detach", resolved)
	}
}

// run executes git with args in dir (the process's current directory if
// dir is empty), reporting progress under the given rule key, and
// classifies any failure.
func (f *Fetcher) run(ctx context.Context, dir, rule string, args ...string) error {
	_, err := f.exec(ctx, dir, rule, args...)
	return err
}

func (f *Fetcher) capture(ctx context.Context, dir string, args ...string) (string, error) {
	return f.exec(ctx, dir, "", args...)
}

func (f *Fetcher) exec(ctx context.Context, dir, rule string, args ...string) (string, error) {
	if rule != "" {
		f.rep.TaskProgress(rule, "git "+strings.Join(args, " "))
		log.WithRule(rule).Debug("git", "args", args, "dir", dir)
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	classified := classify(err, stderr.String(), remoteOf(args))
	if rule != "" {
		log.WithRule(rule).Error("git command failed", "args", args, "err", classified)
	}
	if rule != "" && isAuthFailure(stderr.String()) {
		hintGitHubAuth(f.rep, rule, remoteOf(args))
	}
	return "", classified
}

// remoteOf extracts the clone/remote URL from a git argv, if present
// (the first positional argument that looks like a URL).
func remoteOf(args []string) string {
	for _, a := range args {
		if strings.Contains(a, "://") || strings.HasPrefix(a, "git@") {
			return a
		}
	}
	return ""
}

func isAuthFailure(stderr string) bool {
	l := strings.ToLower(stderr)
	return strings.Contains(l, "authentication failed") ||
		strings.Contains(l, "permission denied") ||
		strings.Contains(l, "could not read username")
}

func isNetworkFailure(stderr string) bool {
	l := strings.ToLower(stderr)
	return strings.Contains(l, "could not resolve host") ||
		strings.Contains(l, "connection refused") ||
		strings.Contains(l, "connection timed out") ||
		strings.Contains(l, "network is unreachable")
}

func classify(err error, stderr, remote string) error {
	if isAuthFailure(stderr) || isNetworkFailure(stderr) {
		return &errs.NetworkFailure{Err: fmt.Errorf("%s: %s", remote, strings.TrimSpace(stderr))}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("git failed: %s", strings.TrimSpace(stderr))
	}
	return fmt.Errorf("git failed: %w", err)
}

// hintGitHubAuth logs an advisory hint when an auth failure is against
// github.com and the gh CLI is available, per spec §4.2/§9's decision not
// to auto-retry through gh, only to surface it as a warn-level suggestion.
func hintGitHubAuth(rep progress.Reporter, rule, remote string) {
	if remote == "" {
		return
	}
	u, err := url.Parse(remote)
	if err != nil || !strings.Contains(u.Host, "github.com") {
		return
	}
	if _, err := exec.LookPath("gh"); err != nil {
		return
	}
	rep.Log("warn", fmt.Sprintf("%s: authentication to %s failed; try `gh auth login` then retry", rule, remote))
	log.WithRule(rule).Warn("authentication failed, gh is available", "remote", remote)
}
