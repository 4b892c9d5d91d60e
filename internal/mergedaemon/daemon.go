// Package mergedaemon implements the Merge Daemon (C5): a long-running
// supervisor with a single-instance guarantee, orphan reaping, crash
// recovery, and the documented watch loop, guarded by a flock-backed PID
// file and a standard SIGTERM/SIGINT shutdown path.
package mergedaemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/v0dev/v0core/internal/constants"
	"github.com/v0dev/v0core/internal/lockutil"
	"github.com/v0dev/v0core/internal/mergeexec"
	"github.com/v0dev/v0core/internal/mergequeue"
	"github.com/v0dev/v0core/internal/opstate"
	"github.com/v0dev/v0core/internal/phase"
)

// Config carries the daemon's per-project paths and tunables.
type Config struct {
	ProjectRoot  string
	MergeqDir    string
	PidFilePath  string
	LogFilePath  string
	PollInterval time.Duration
}

// Daemon is the C5 Merge Daemon.
type Daemon struct {
	cfg      Config
	lock     *lockutil.Lock
	logger   *log.Logger
	logFile  *os.File
	queue    *mergequeue.Queue
	phase    *phase.Machine
	executor *mergeexec.Executor
	store    *opstate.Store

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Daemon for one project.
func New(cfg Config, queue *mergequeue.Queue, ph *phase.Machine, executor *mergeexec.Executor, store *opstate.Store) (*Daemon, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	logFile, err := os.OpenFile(cfg.LogFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening merges log: %w", err)
	}
	logger := log.New(logFile, "", log.LstdFlags)
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.PollInterval == 0 {
		cfg.PollInterval = constants.QueuePollInterval
	}

	return &Daemon{
		cfg:      cfg,
		lock:     lockutil.New(cfg.PidFilePath+".flock", "mergedaemon"),
		logger:   logger,
		logFile:  logFile,
		queue:    queue,
		phase:    ph,
		executor: executor,
		store:    store,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// EnsureRunning spawns a detached daemon process if one is not already
// running, satisfying the mergequeue.Starter interface.
func (d *Daemon) EnsureRunning() error {
	if d.running() {
		return nil
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable for daemon spawn: %w", err)
	}
	cmd := exec.Command(exe, "daemon", "start", "--foreground")
	cmd.Dir = d.cfg.ProjectRoot
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning daemon: %w", err)
	}
	return cmd.Process.Release()
}

func (d *Daemon) running() bool {
	data, err := os.ReadFile(d.cfg.PidFilePath)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	if !lockutil.PIDAlive(pid) {
		return false
	}
	return commandMatches(pid)
}

// Running reports whether a daemon matching this project's identity already
// holds the PID file.
func (d *Daemon) Running() bool { return d.running() }

// commandMatches reports whether pid's command line identifies it as this
// daemon: valid only when the recorded PID is alive AND that process's
// command matches the daemon identity.
func commandMatches(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return true
	}
	return strings.Contains(string(data), "daemon")
}

// Run is the daemon's single-instance-guarded main loop.
func (d *Daemon) Run() error {
	locked, err := d.lock.TryAcquire()
	if err != nil {
		return err
	}
	if !locked {
		return fmt.Errorf("merge daemon already running (lock held by another process)")
	}
	defer d.lock.Release()

	if err := os.WriteFile(d.cfg.PidFilePath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("writing daemon PID file: %w", err)
	}
	defer os.Remove(d.cfg.PidFilePath)

	d.reapOrphans()
	d.recoverCrashedMerges()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	d.logger.Printf("merge daemon started pid=%d", os.Getpid())

	for {
		select {
		case <-sigCh:
			d.logger.Printf("merge daemon received SIGTERM, shutting down")
			d.reapOrphans()
			return nil
		case <-d.ctx.Done():
			return nil
		default:
		}

		if found := d.pollOnce(); !found {
			time.Sleep(d.cfg.PollInterval)
		} else {
			time.Sleep(constants.PostMergeSleep)
		}
	}
}

// Stop signals a running daemon to terminate gracefully.
func Stop(pidFilePath string) error {
	data, err := os.ReadFile(pidFilePath)
	if err != nil {
		return fmt.Errorf("reading daemon PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parsing daemon PID: %w", err)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Signal(syscall.SIGTERM)
}

// reapOrphans scans for daemon-identity processes whose PID is not tracked
// by the current PID file, killing only those under this project's state
// directory.
func (d *Daemon) reapOrphans() {
	out, err := exec.Command("pgrep", "-f", "daemon start").Output()
	if err != nil {
		return
	}
	selfPID := os.Getpid()
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || pid == selfPID {
			continue
		}
		cwd, err := os.Readlink(fmt.Sprintf("/proc/%d/cwd", pid))
		if err != nil || !strings.HasPrefix(cwd, d.cfg.ProjectRoot) {
			continue
		}
		if process, err := os.FindProcess(pid); err == nil {
			d.logger.Printf("reaping orphaned daemon process pid=%d", pid)
			_ = process.Signal(syscall.SIGTERM)
		}
	}
}

// recoverCrashedMerges rewrites processing entries back to pending.
func (d *Daemon) recoverCrashedMerges() {
	processing, err := d.queue.GetAll(mergequeue.StatusProcessing)
	if err != nil {
		return
	}
	for _, op := range processing {
		if err := d.queue.UpdateStatus(op, mergequeue.StatusPending); err != nil {
			d.logger.Printf("recovery: failed to reset %s: %v", op, err)
			continue
		}
		d.logger.Printf("recovery: reset %s from processing to pending", op)
	}
}

// pollOnce runs one pass of the watch loop and reports whether a merge was
// attempted.
func (d *Daemon) pollOnce() bool {
	d.retryConflicts()

	pending, err := d.queue.AllPending()
	if err != nil {
		d.logger.Printf("poll: reading queue failed: %v", err)
		return false
	}
	if len(pending) == 0 {
		return false
	}

	for _, entry := range pending {
		if reason, err := d.queue.IsStale(entry.Operation, d); err == nil && reason != "" {
			d.logger.Printf("stale cleanup: %s (%s)", entry.Operation, reason)
			continue
		}

		reason, err := d.phase.MergeReadyReason(entry.Operation)
		if err != nil {
			d.logger.Printf("poll: readiness check failed for %s: %v", entry.Operation, err)
			continue
		}
		if reason == phase.ReasonReady {
			_ = d.queue.UpdateStatus(entry.Operation, mergequeue.StatusProcessing)
			d.logger.Printf("merge:start %s", entry.Operation)
			if err := d.executor.Process(entry.Operation); err != nil {
				d.logger.Printf("merge:failure %s: %v", entry.Operation, err)
			} else {
				d.logger.Printf("merge:success %s", entry.Operation)
			}
			return true
		}
		d.handleNotReady(entry.Operation, string(reason))
	}
	return false
}

func (d *Daemon) retryConflicts() {
	entries, err := d.queue.ConflictEntries()
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.Retried {
			_ = d.queue.MarkRetried(e.Operation)
			d.logger.Printf("conflict:retry %s", e.Operation)
		}
	}
}

// handleNotReady applies the per-reason recovery policy for an operation
// the readiness check rejected.
func (d *Daemon) handleNotReady(op, reason string) {
	switch {
	case strings.HasPrefix(reason, "open_issues:"):
		o, err := d.store.Read(op)
		if err != nil || o.MergeResumed {
			return
		}
		target, err := d.phase.Resume(op, "resume:auto")
		if err != nil {
			d.logger.Printf("auto-resume failed for %s: %v", op, err)
			return
		}
		_ = d.queue.UpdateStatus(op, mergequeue.StatusResumed)
		d.logger.Printf("auto-resumed %s -> %s to finish remaining issues", op, target)
	case reason == "worktree:missing" || reason == "branch:missing":
		if _, err := d.store.BulkUpdate(op, func(o *opstate.Operation) {
			o.WorktreeMissing = true
		}); err != nil {
			d.logger.Printf("marking %s worktree_missing failed: %v", op, err)
			return
		}
		d.logger.Printf("marking %s worktree_missing, requires manual recovery", op)
	default:
		// session:active or phase:* are transient; just wait.
	}
}

// OperationMerged satisfies mergequeue.StaleChecker.
func (d *Daemon) OperationMerged(op string) (bool, error) {
	o, err := d.store.Read(op)
	if err != nil {
		return false, err
	}
	return o.Phase == opstate.PhaseMerged, nil
}

// CreatedAt satisfies mergequeue.StaleChecker.
func (d *Daemon) CreatedAt(op string) (time.Time, error) {
	o, err := d.store.Read(op)
	if err != nil {
		return time.Time{}, err
	}
	return o.CreatedAt, nil
}

// RemoteBranchExists satisfies mergequeue.StaleChecker for branch-only
// entries; the daemon has no git.Runner of its own, so this defers to the
// executor's.
func (d *Daemon) RemoteBranchExists(branch string) bool {
	if d.executor == nil || d.executor.Git == nil {
		return true
	}
	return d.executor.Git.BranchExistsRemote(d.cfg.ProjectRoot, d.executor.Config.Remote, branch)
}

// Close releases the daemon's log file.
func (d *Daemon) Close() error {
	d.cancel()
	return d.logFile.Close()
}
