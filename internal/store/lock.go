package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/spacesbuild/spaces/internal/errs"
	"github.com/spacesbuild/spaces/internal/progress"
)

// processGroupID identifies this process (or process group, if the caller
// has set SPACES_PROCESS_GROUP_ID, e.g. a parent shepherding several
// spaces invocations) as a lock holder. Grounded on
// original_source/crates/lock/src/lib.rs's get_process_group_id, which
// reads the same environment variable and otherwise derives an id from the
// current time; this port uses a random UUID instead of a timestamp, since
// two processes starting within the same second would otherwise collide.
func processGroupID() string {
	if v := os.Getenv("SPACES_PROCESS_GROUP_ID"); v != "" {
		return v
	}
	return uuid.NewString()
}

var myProcessGroupID = processGroupID()

type lockFileContents struct {
	ProcessGroupID string `json:"process_group_id"`
}

// Lock is a cross-process advisory lock for one store key, implemented as
// an atomically-created sentinel file holding the holder's process-group
// id. Grounded on original_source/crates/lock/src/lib.rs's FileLock.
type Lock struct {
	path    string
	held    bool
}

func newLock(path string) *Lock {
	return &Lock{path: path}
}

// tryAcquire attempts a single non-blocking acquisition. It returns
// (true, nil) if the lock was acquired, (false, nil) if another holder
// currently owns it, and a non-nil error only for unexpected I/O failures.
func (l *Lock) tryAcquire() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		defer f.Close()
		enc := json.NewEncoder(f)
		if err := enc.Encode(lockFileContents{ProcessGroupID: myProcessGroupID}); err != nil {
			return false, fmt.Errorf("write lock file: %w", err)
		}
		l.held = true
		return true, nil
	}

	if !errors.Is(err, os.ErrExist) {
		return false, fmt.Errorf("create lock file %q: %w", l.path, err)
	}

	// The file already exists. If it belongs to our own process group we
	// already hold this lock (re-entrant acquisition within one process
	// group) and treat it as acquired.
	contents, readErr := readLockFile(l.path)
	if readErr != nil {
		// Another process may have just created it and not finished
		// writing; treat this as "busy, keep waiting" rather than failing.
		return false, nil
	}
	if contents.ProcessGroupID == myProcessGroupID {
		l.held = true
		return true, nil
	}
	return false, nil
}

func readLockFile(path string) (lockFileContents, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return lockFileContents{}, err
	}
	var contents lockFileContents
	if err := json.Unmarshal(raw, &contents); err != nil {
		return lockFileContents{}, err
	}
	return contents, nil
}

// acquire blocks until the lock is granted, reporting progress on rep for
// the given key roughly every ten polls (grounded on FileLock::wait's
// log_count-every-ten-iterations cadence), or returns a StoreBusy error if
// ctx is cancelled first.
func (l *Lock) acquire(ctx context.Context, rep progress.Reporter, key string) error {
	pollCount := 0
	for {
		ok, err := l.tryAcquire()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return &errs.StoreBusy{Key: key}
		case <-time.After(200 * time.Millisecond):
		}

		pollCount++
		if pollCount%10 == 0 {
			rep.TaskProgress(key, "waiting for another process to finish materializing this store entry")
		}

		// The holder may have released and a different holder taken over;
		// either way we just retry tryAcquire on the next loop iteration.
	}
}

// release removes the lock file. It is safe to call on an unheld lock.
func (l *Lock) release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file %q: %w", l.path, err)
	}
	return nil
}
