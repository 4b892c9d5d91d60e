package doctor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/v0dev/v0core/internal/config"
	"github.com/v0dev/v0core/internal/constants"
	"github.com/v0dev/v0core/internal/gitw"
	"github.com/v0dev/v0core/internal/lockutil"
)

// ConfigExistsCheck verifies the project's .v0.rc exists.
type ConfigExistsCheck struct {
	BaseCheck
}

// NewConfigExistsCheck constructs the check.
func NewConfigExistsCheck() *ConfigExistsCheck {
	return &ConfigExistsCheck{BaseCheck: BaseCheck{
		CheckName:        "config-exists",
		CheckDescription: "Check that " + constants.ConfigFileName + " exists",
		CheckCategory:    CategoryConfig,
	}}
}

// Run checks for the config file's presence.
func (c *ConfigExistsCheck) Run(ctx *CheckContext) *CheckResult {
	path := filepath.Join(ctx.ProjectRoot, constants.ConfigFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &CheckResult{Name: c.Name(), Status: StatusError, Message: constants.ConfigFileName + " not found"}
	}
	return &CheckResult{Name: c.Name(), Status: StatusOK, Message: constants.ConfigFileName + " exists"}
}

// ConfigValidCheck verifies .v0.rc parses and validates.
type ConfigValidCheck struct {
	BaseCheck
}

// NewConfigValidCheck constructs the check.
func NewConfigValidCheck() *ConfigValidCheck {
	return &ConfigValidCheck{BaseCheck: BaseCheck{
		CheckName:        "config-valid",
		CheckDescription: "Check that " + constants.ConfigFileName + " parses and has required fields",
		CheckCategory:    CategoryConfig,
	}}
}

// Run loads and validates the config.
func (c *ConfigValidCheck) Run(ctx *CheckContext) *CheckResult {
	if _, err := config.Load(ctx.ProjectRoot, ctx.MainRepoRoot); err != nil {
		return &CheckResult{Name: c.Name(), Status: StatusError, Message: err.Error()}
	}
	return &CheckResult{Name: c.Name(), Status: StatusOK, Message: "config valid"}
}

// BuildDirCheck verifies the .v0/build directory exists, creating it when
// fixable.
type BuildDirCheck struct {
	BaseCheck
}

// NewBuildDirCheck constructs the check.
func NewBuildDirCheck() *BuildDirCheck {
	return &BuildDirCheck{BaseCheck: BaseCheck{
		CheckName:        "build-dir-exists",
		CheckDescription: "Check that " + constants.BuildDirName + " exists",
		CheckCategory:    CategoryWorkspace,
	}}
}

// Run checks for the build directory's presence.
func (c *BuildDirCheck) Run(ctx *CheckContext) *CheckResult {
	path := filepath.Join(ctx.ProjectRoot, constants.BuildDirName)
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		return &CheckResult{Name: c.Name(), Status: StatusWarning, Message: constants.BuildDirName + " missing", CanFix: true}
	}
	return &CheckResult{Name: c.Name(), Status: StatusOK, Message: constants.BuildDirName + " exists"}
}

// Fix creates the build directory.
func (c *BuildDirCheck) Fix(ctx *CheckContext) error {
	return os.MkdirAll(filepath.Join(ctx.ProjectRoot, constants.BuildDirName), 0o755)
}

// DaemonPidStaleCheck detects a stale daemon PID file (process no longer
// alive) and removes it when fixable.
type DaemonPidStaleCheck struct {
	BaseCheck
}

// NewDaemonPidStaleCheck constructs the check.
func NewDaemonPidStaleCheck() *DaemonPidStaleCheck {
	return &DaemonPidStaleCheck{BaseCheck: BaseCheck{
		CheckName:        "daemon-pid-stale",
		CheckDescription: "Check for a stale " + constants.DaemonPidFileName,
		CheckCategory:    CategoryDaemon,
	}}
}

func (c *DaemonPidStaleCheck) pidPath(ctx *CheckContext) string {
	return filepath.Join(ctx.ProjectRoot, constants.BuildDirName, constants.DaemonPidFileName)
}

// Run checks whether the recorded daemon PID is alive.
func (c *DaemonPidStaleCheck) Run(ctx *CheckContext) *CheckResult {
	path := c.pidPath(ctx)
	data, err := os.ReadFile(path)
	if err != nil {
		return &CheckResult{Name: c.Name(), Status: StatusOK, Message: "no daemon PID file"}
	}
	pid := 0
	fmt.Sscanf(string(data), "%d", &pid)
	if pid > 0 && lockutil.PIDAlive(pid) {
		return &CheckResult{Name: c.Name(), Status: StatusOK, Message: fmt.Sprintf("daemon pid %d alive", pid)}
	}
	return &CheckResult{Name: c.Name(), Status: StatusWarning, Message: "stale daemon PID file", CanFix: true}
}

// Fix removes the stale PID file.
func (c *DaemonPidStaleCheck) Fix(ctx *CheckContext) error {
	return os.Remove(c.pidPath(ctx))
}

// MergeQueueLockStaleCheck detects an orphaned .queue.lock sidecar file.
type MergeQueueLockStaleCheck struct {
	BaseCheck
}

// NewMergeQueueLockStaleCheck constructs the check.
func NewMergeQueueLockStaleCheck() *MergeQueueLockStaleCheck {
	return &MergeQueueLockStaleCheck{BaseCheck: BaseCheck{
		CheckName:        "queue-lock-stale",
		CheckDescription: "Check for an orphaned " + constants.QueueLockFileName,
		CheckCategory:    CategoryQueue,
	}}
}

func (c *MergeQueueLockStaleCheck) lockPath(ctx *CheckContext) string {
	return filepath.Join(ctx.ProjectRoot, constants.BuildDirName, constants.MergeQueueDirName, constants.QueueLockFileName)
}

// Run checks whether the queue lock's holder process is still alive.
func (c *MergeQueueLockStaleCheck) Run(ctx *CheckContext) *CheckResult {
	path := c.lockPath(ctx)
	data, err := os.ReadFile(path)
	if err != nil {
		return &CheckResult{Name: c.Name(), Status: StatusOK, Message: "no queue lock held"}
	}
	// The sidecar records "<holder> (pid <pid>)".
	pid := 0
	if i := strings.LastIndex(string(data), "pid "); i >= 0 {
		pid, _ = strconv.Atoi(strings.TrimRight(strings.TrimSpace(string(data)[i+4:]), ")"))
	}
	if pid > 0 && lockutil.PIDAlive(pid) {
		return &CheckResult{Name: c.Name(), Status: StatusOK, Message: fmt.Sprintf("queue lock held by live pid %d", pid)}
	}
	return &CheckResult{Name: c.Name(), Status: StatusWarning, Message: "stale queue lock: holder process is not alive", CanFix: false}
}

// WorkspaceGitValidCheck verifies a workspace path is a valid git checkout.
type WorkspaceGitValidCheck struct {
	BaseCheck
	Git  *gitw.Runner
	Path string
}

// NewWorkspaceGitValidCheck constructs the check for one workspace path.
func NewWorkspaceGitValidCheck(git *gitw.Runner, path string) *WorkspaceGitValidCheck {
	return &WorkspaceGitValidCheck{
		BaseCheck: BaseCheck{
			CheckName:        "workspace-git-valid:" + path,
			CheckDescription: "Check that " + path + " is a valid git working copy",
			CheckCategory:    CategoryWorkspace,
		},
		Git:  git,
		Path: path,
	}
}

// Run checks git validity of the workspace.
func (c *WorkspaceGitValidCheck) Run(ctx *CheckContext) *CheckResult {
	if _, err := os.Stat(c.Path); os.IsNotExist(err) {
		return &CheckResult{Name: c.Name(), Status: StatusWarning, Message: "workspace does not exist"}
	}
	if !c.Git.IsGitDir(c.Path) {
		return &CheckResult{Name: c.Name(), Status: StatusError, Message: "not a valid git working copy"}
	}
	return &CheckResult{Name: c.Name(), Status: StatusOK, Message: "valid git working copy"}
}

// DefaultChecks returns the standard check set run by `v0 doctor`.
func DefaultChecks(git *gitw.Runner) []Check {
	return []Check{
		NewConfigExistsCheck(),
		NewConfigValidCheck(),
		NewBuildDirCheck(),
		NewDaemonPidStaleCheck(),
		NewMergeQueueLockStaleCheck(),
	}
}
