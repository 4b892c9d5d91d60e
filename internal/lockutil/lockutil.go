// Package lockutil provides a named lock abstraction with stale-holder
// detection: a flock-backed lock (flock.New(lockFile).TryLock()) paired
// with a holder-identity sidecar file, since flock alone records that a
// lock is held but not by whom.
package lockutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/v0dev/v0core/internal/verr"
)

// Lock pairs an OS-level advisory lock with a holder-identity sidecar file
// ("<holder> (pid <pid>)").
type Lock struct {
	path   string
	holder string
	fl     *flock.Flock
}

// New constructs a Lock at path, identifying the calling process as holder
// when it succeeds in acquiring the lock.
func New(path, holder string) *Lock {
	return &Lock{path: path, holder: holder, fl: flock.New(path + ".flock")}
}

// TryAcquire attempts one non-blocking acquisition, first reclaiming a
// stale lock (dead PID) if present.
func (l *Lock) TryAcquire() (bool, error) {
	if stale, reason := l.staleHolder(); stale {
		_ = os.Remove(l.path)
		_ = l.fl.Unlock()
		_ = reason
	}

	locked, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquiring lock %s: %w", l.path, err)
	}
	if !locked {
		return false, nil
	}

	content := fmt.Sprintf("%s (pid %d)", l.holder, os.Getpid())
	if err := os.WriteFile(l.path, []byte(content), 0o644); err != nil {
		_ = l.fl.Unlock()
		return false, fmt.Errorf("writing lock identity: %w", err)
	}
	return true, nil
}

// Acquire retries TryAcquire with exponential back-off up to maxAttempts,
// failing loudly with ErrLockTimed if the lock is never reclaimed.
func (l *Lock) Acquire(base time.Duration, maxAttempts int) error {
	delay := base
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ok, err := l.TryAcquire()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		time.Sleep(delay)
		delay *= 2
	}
	return fmt.Errorf("%w: %s after %d attempts", verr.ErrLockTimed, l.path, maxAttempts)
}

// Release unlocks and removes the identity sidecar file. Callers must
// invoke this from a deferred cleanup/signal handler so a crash never
// leaves a live-PID lock behind indefinitely.
func (l *Lock) Release() error {
	_ = os.Remove(l.path)
	return l.fl.Unlock()
}

// staleHolder reports whether the lock's recorded holder PID is no longer
// alive.
func (l *Lock) staleHolder() (bool, string) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return false, ""
	}
	pid, ok := parsePID(string(data))
	if !ok {
		return false, ""
	}
	if PIDAlive(pid) {
		return false, ""
	}
	return true, fmt.Sprintf("holder pid %d dead", pid)
}

func parsePID(content string) (int, bool) {
	start := strings.LastIndex(content, "pid ")
	if start < 0 {
		return 0, false
	}
	rest := strings.TrimSuffix(strings.TrimSpace(content[start+len("pid "):]), ")")
	pid, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return pid, true
}

// PIDAlive reports whether a process with the given PID is currently
// alive, using signal 0 as a liveness probe.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
