// Package constants defines shared magic values used across the v0 core.
package constants

import "time"

// Timing constants for the merge queue, merge daemon, and conflict
// resolution sessions.
const (
	// QueuePollInterval is the Merge Daemon's watch-loop poll period.
	QueuePollInterval = 30 * time.Second

	// PostMergeSleep is the short pause the daemon takes after finishing
	// one merge before looking at the queue again.
	PostMergeSleep = 2 * time.Second

	// ConflictResolutionTimeout bounds how long a conflict-resolution
	// sub-session may run before the daemon aborts the merge.
	ConflictResolutionTimeout = 300 * time.Second

	// SessionPollInterval is how often the executor polls for
	// conflict-resolution session termination.
	SessionPollInterval = 2 * time.Second

	// LockRetryBase is the initial back-off delay for queue lock acquisition.
	LockRetryBase = 50 * time.Millisecond

	// LockRetryMax is the max number of exponential back-off attempts.
	LockRetryMax = 8

	// ShutdownSignalWait is a grace period after SIGTERM. mergedaemon.Stop
	// does not use it: Stop sends SIGTERM only, and neither waits nor
	// escalates to SIGKILL.
	ShutdownSignalWait = 500 * time.Millisecond
)

// Directory and file names within the on-disk layout.
const (
	// ConfigFileName is the project configuration file.
	ConfigFileName = ".v0.rc"

	// ProfileFileName is the optional per-user override file.
	ProfileFileName = ".v0.profile.rc"

	// BuildDirName is the project-local build directory.
	BuildDirName = ".v0/build"

	// OperationsDirName holds one subdirectory per operation.
	OperationsDirName = "operations"

	// StateFileName is the per-operation state file.
	StateFileName = "state.json"

	// EventsFileName is the per-operation append-only event log.
	EventsFileName = "events.log"

	// MergeQueueDirName holds the queue file and its lock. The daemon PID
	// file and the logs directory are not kept here; they sit directly under
	// the build directory.
	MergeQueueDirName = "mergeq"

	// QueueFileName is the merge queue's persisted entries.
	QueueFileName = "queue.json"

	// QueueLockFileName is the merge queue's file lock.
	QueueLockFileName = ".queue.lock"

	// DaemonPidFileName is the merge daemon's PID file.
	DaemonPidFileName = ".daemon.pid"

	// LogsDirName holds the merges log.
	LogsDirName = "logs"

	// DaemonLogFileName names a merge daemon operational log; no code in
	// this module writes a file under this name.
	DaemonLogFileName = "daemon.log"

	// MergesLogFileName records every significant merge event.
	MergesLogFileName = "merges.log"

	// WorkspaceDirName is the per-project dedicated checkout directory
	// name under the XDG state directory.
	WorkspaceDirName = "workspace"

	// RemotesDirName holds an optional local bare remote.
	RemotesDirName = "remotes"
)

// ConventionalBranchPrefixes are consulted by the merge-readiness predicate
// when no branch is recorded on the operation.
var ConventionalBranchPrefixes = []string{"feature", "fix", "chore", "bugfix", "hotfix"}

// CloneModeBranches force clone-mode workspace inference.
var CloneModeBranches = map[string]bool{
	"main":    true,
	"master":  true,
	"develop": true,
}
