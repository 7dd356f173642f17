// Package lock provides the bubble-level mutual exclusion every protocol
// handler acquires before touching a bubble's state, transcript, or
// inbox (spec §4.B). It wraps github.com/gofrs/flock the same way the
// teacher's boot.AcquireLock and crew.lockCrew do — TryLock on an
// on-disk marker file — but adds the poll-with-timeout loop those two
// callers don't need (boot fails fast, crew blocks forever).
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/felho/pairflow/internal/pferrors"
)

// DefaultPollInterval is how often WithFileLock retries TryLock while
// waiting for a timed-out acquisition.
const DefaultPollInterval = 25 * time.Millisecond

// WithFileLock acquires an exclusive lock on lockPath, runs task while
// holding it, and releases the lock before returning — on every path,
// including a panic inside task, which is re-raised after the lock is
// released. If the lock cannot be acquired within timeout, it returns a
// *pferrors.Error of kind LockTimeout without calling task.
func WithFileLock(ctx context.Context, lockPath string, timeout time.Duration, task func() error) (err error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("creating lock dir: %w", err)
	}

	fl := flock.New(lockPath)
	deadline := time.Now().Add(timeout)
	pollInterval := DefaultPollInterval

	for {
		locked, lockErr := fl.TryLock()
		if lockErr != nil {
			return fmt.Errorf("acquiring lock %s: %w", lockPath, lockErr)
		}
		if locked {
			break
		}
		if time.Now().After(deadline) {
			return pferrors.NewLockTimeout(lockPath, int(timeout/time.Millisecond))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	defer func() {
		if unlockErr := fl.Unlock(); unlockErr != nil && err == nil {
			err = fmt.Errorf("releasing lock %s: %w", lockPath, unlockErr)
		}
		// Deliberately does not os.Remove(lockPath): flock locks an inode,
		// not a path. Unlinking the marker after release while a waiter is
		// blocked in its own TryLock poll loop would let that waiter's next
		// os.OpenFile create a fresh inode at the same path and "acquire"
		// it immediately, defeating mutual exclusion against any holder
		// still referencing the old inode. The marker file is left in
		// place and reused by every acquisition instead (see DESIGN.md).
	}()

	return task()
}

// TryAcquire attempts a single non-blocking lock acquisition, returning
// an already-held flock.Flock on success, or (nil, false, nil) if the
// lock is currently held by another process. It never blocks on the
// lock; WithFileLock is the polling, timeout-bounded variant.
func TryAcquire(lockPath string) (*flock.Flock, bool, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, false, fmt.Errorf("creating lock dir: %w", err)
	}
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("probing lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, false, nil
	}
	return fl, true, nil
}
