// Package mergequeue implements the Merge Queue (C3): a persistent,
// file-lock protected FIFO-with-priority queue of merge requests, serialized
// through internal/lockutil's flock-backed named lock.
package mergequeue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/v0dev/v0core/internal/constants"
	"github.com/v0dev/v0core/internal/lockutil"
	"github.com/v0dev/v0core/internal/phase"
	"github.com/v0dev/v0core/internal/verr"
)

// Status enumerates Entry.Status values.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusConflict   Status = "conflict"
	StatusResumed    Status = "resumed"
)

// MergeType enumerates Entry.MergeType values.
type MergeType string

const (
	MergeTypeOperation MergeType = "operation"
	MergeTypeBranch    MergeType = "branch"
)

// Entry is one merge request. Field names match the persisted
// schema and must not be renamed.
type Entry struct {
	Operation  string    `json:"operation"`
	Worktree   string    `json:"worktree,omitempty"`
	Priority   int       `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
	Status     Status    `json:"status"`
	MergeType  MergeType `json:"merge_type"`
	IssueID    string    `json:"issue_id,omitempty"`
	Retried    bool      `json:"retried,omitempty"`
}

type file struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

func activeStatus(s Status) bool { return s == StatusPending || s == StatusProcessing }

// Starter is invoked by Enqueue to ensure the Merge Daemon is running.
type Starter interface {
	EnsureRunning() error
}

// Queue is the C3 Merge Queue over one project's mergeq directory.
type Queue struct {
	Dir    string
	lock   *lockutil.Lock
	Daemon Starter
}

// New constructs a Queue rooted at mergeqDir.
func New(mergeqDir string, daemon Starter) *Queue {
	lockPath := filepath.Join(mergeqDir, constants.QueueLockFileName)
	return &Queue{
		Dir:    mergeqDir,
		lock:   lockutil.New(lockPath, fmt.Sprintf("mergequeue-%s", uuid.NewString()[:8])),
		Daemon: daemon,
	}
}

func (q *Queue) path() string { return filepath.Join(q.Dir, constants.QueueFileName) }

func (q *Queue) read() (*file, error) {
	data, err := os.ReadFile(q.path())
	if err != nil {
		if os.IsNotExist(err) {
			return &file{Version: 1}, nil
		}
		return nil, fmt.Errorf("reading queue: %w", err)
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", verr.ErrMalformedEntry, err)
	}
	return &f, nil
}

// writeAtomic persists the queue via write-to-temp + rename in the same
// directory.
func (q *Queue) writeAtomic(f *file) error {
	if err := os.MkdirAll(q.Dir, 0o755); err != nil {
		return fmt.Errorf("creating mergeq directory: %w", err)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding queue: %w", err)
	}
	tmp, err := os.CreateTemp(q.Dir, ".queue-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp queue file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp queue file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, q.path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming queue file into place: %w", err)
	}
	return nil
}

// withLock runs fn while holding the queue lock, retrying acquisition with
// exponential back-off.
func (q *Queue) withLock(fn func(*file) (*file, error)) error {
	if err := q.lock.Acquire(constants.LockRetryBase, constants.LockRetryMax); err != nil {
		return err
	}
	defer q.lock.Release()

	f, err := q.read()
	if err != nil {
		return err
	}
	f, err = fn(f)
	if err != nil {
		return err
	}
	return q.writeAtomic(f)
}

// Enqueue adds or refreshes an entry. Idempotent: an entry already in an
// active status is left untouched (its enqueued_at does not change); a
// terminal entry is re-enqueued in place.
func (q *Queue) Enqueue(operation string, priority int, issueID string) error {
	err := q.withLock(func(f *file) (*file, error) {
		now := time.Now().UTC()
		for i := range f.Entries {
			if f.Entries[i].Operation != operation {
				continue
			}
			if activeStatus(f.Entries[i].Status) {
				return f, nil
			}
			f.Entries[i].Status = StatusPending
			f.Entries[i].EnqueuedAt = now
			f.Entries[i].UpdatedAt = now
			f.Entries[i].Priority = priority
			return f, nil
		}
		f.Entries = append(f.Entries, Entry{
			Operation:  operation,
			Priority:   priority,
			EnqueuedAt: now,
			UpdatedAt:  now,
			Status:     StatusPending,
			MergeType:  MergeTypeOperation,
			IssueID:    issueID,
		})
		return f, nil
	})
	if err != nil {
		return err
	}
	if q.Daemon != nil {
		return q.Daemon.EnsureRunning()
	}
	return nil
}

// EnqueueBranch adds a branch-only entry.
func (q *Queue) EnqueueBranch(branch string, priority int, issueID string) error {
	return q.withLock(func(f *file) (*file, error) {
		now := time.Now().UTC()
		f.Entries = append(f.Entries, Entry{
			Operation:  branch,
			Priority:   priority,
			EnqueuedAt: now,
			UpdatedAt:  now,
			Status:     StatusPending,
			MergeType:  MergeTypeBranch,
			IssueID:    issueID,
		})
		return f, nil
	})
}

// UpdateStatus transitions the named entry to a new status.
func (q *Queue) UpdateStatus(operation string, status Status) error {
	return q.withLock(func(f *file) (*file, error) {
		found := false
		for i := range f.Entries {
			if f.Entries[i].Operation == operation && activeStatusOrConflict(f.Entries[i].Status) {
				f.Entries[i].Status = status
				f.Entries[i].UpdatedAt = time.Now().UTC()
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", verr.ErrUnknownOperation, operation)
		}
		return f, nil
	})
}

func activeStatusOrConflict(s Status) bool {
	return activeStatus(s) || s == StatusConflict || s == StatusResumed
}

// sortedPending returns pending entries ordered by (priority asc,
// enqueued_at asc), the order candidates are considered for merging.
func sortedPending(entries []Entry) []Entry {
	var pending []Entry
	for _, e := range entries {
		if e.Status == StatusPending {
			pending = append(pending, e)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority < pending[j].Priority
		}
		return pending[i].EnqueuedAt.Before(pending[j].EnqueuedAt)
	})
	return pending
}

// Readiness abstracts the phase.Machine readiness check the queue needs,
// satisfied structurally by *phase.Machine.
type Readiness interface {
	MergeReadyReason(op string) (phase.ReadyReason, error)
}

// GetNextReady returns the top candidate whose readiness check passes, or
// ("", nil) if none are ready.
func (q *Queue) GetNextReady(readiness Readiness) (string, error) {
	f, err := q.read()
	if err != nil {
		return "", err
	}
	for _, e := range sortedPending(f.Entries) {
		reason, err := readiness.MergeReadyReason(e.Operation)
		if err != nil {
			continue
		}
		if reason == phase.ReasonReady {
			return e.Operation, nil
		}
	}
	return "", nil
}

// GetAll returns operation names with the given status.
func (q *Queue) GetAll(status Status) ([]string, error) {
	f, err := q.read()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range f.Entries {
		if e.Status == status {
			out = append(out, e.Operation)
		}
	}
	return out, nil
}

// AllPending returns pending entries sorted by selection order.
func (q *Queue) AllPending() ([]Entry, error) {
	f, err := q.read()
	if err != nil {
		return nil, err
	}
	return sortedPending(f.Entries), nil
}

// ConflictEntries returns entries currently in the conflict status.
func (q *Queue) ConflictEntries() ([]Entry, error) {
	f, err := q.read()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range f.Entries {
		if e.Status == StatusConflict {
			out = append(out, e)
		}
	}
	return out, nil
}

// MarkRetried flags a conflict entry as retried and resets it to pending.
func (q *Queue) MarkRetried(operation string) error {
	return q.withLock(func(f *file) (*file, error) {
		for i := range f.Entries {
			if f.Entries[i].Operation == operation && f.Entries[i].Status == StatusConflict && !f.Entries[i].Retried {
				f.Entries[i].Retried = true
				f.Entries[i].Status = StatusPending
				f.Entries[i].UpdatedAt = time.Now().UTC()
			}
		}
		return f, nil
	})
}

// StaleChecker abstracts the operation-state lookups IsStale needs.
type StaleChecker interface {
	// OperationMerged reports whether the operation is already merged and
	// verified.
	OperationMerged(op string) (bool, error)
	// CreatedAt returns the operation's created_at, or the zero time if
	// unknown.
	CreatedAt(op string) (time.Time, error)
	// RemoteBranchExists reports whether a bare-branch entry's branch
	// still exists on the remote.
	RemoteBranchExists(branch string) bool
}

// IsStale detects three staleness conditions (already merged, entry older
// than the operation, or the branch missing on the remote) and, if any
// apply, moves the entry to completed and returns the reason.
func (q *Queue) IsStale(operation string, checker StaleChecker) (string, error) {
	f, err := q.read()
	if err != nil {
		return "", err
	}
	var entry *Entry
	for i := range f.Entries {
		if f.Entries[i].Operation == operation {
			entry = &f.Entries[i]
			break
		}
	}
	if entry == nil {
		return "", fmt.Errorf("%w: %s", verr.ErrUnknownOperation, operation)
	}

	reason := ""
	if merged, err := checker.OperationMerged(operation); err == nil && merged {
		reason = "merged_at:verified"
	} else if entry.MergeType == MergeTypeOperation {
		if createdAt, err := checker.CreatedAt(operation); err == nil && !createdAt.IsZero() && entry.EnqueuedAt.Before(createdAt) {
			reason = "entry_older_than_operation"
		}
	} else if entry.MergeType == MergeTypeBranch {
		if !checker.RemoteBranchExists(entry.Operation) {
			reason = "branch_missing_on_remote"
		}
	}

	if reason == "" {
		return "", nil
	}
	if err := q.UpdateStatus(operation, StatusCompleted); err != nil {
		return "", err
	}
	return reason, nil
}
