package doctor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/v0dev/v0core/internal/constants"
	"github.com/v0dev/v0core/internal/gitw"
)

func TestConfigExistsCheck(t *testing.T) {
	root := t.TempDir()
	c := NewConfigExistsCheck()
	ctx := &CheckContext{ProjectRoot: root}

	if got := c.Run(ctx).Status; got != StatusError {
		t.Errorf("Run() status = %q, want error when .v0.rc is absent", got)
	}

	if err := os.WriteFile(filepath.Join(root, constants.ConfigFileName), []byte(""), 0o644); err != nil {
		t.Fatalf("writing .v0.rc: %v", err)
	}
	if got := c.Run(ctx).Status; got != StatusOK {
		t.Errorf("Run() status = %q, want ok once .v0.rc exists", got)
	}
}

func TestBuildDirCheckAndFix(t *testing.T) {
	root := t.TempDir()
	c := NewBuildDirCheck()
	ctx := &CheckContext{ProjectRoot: root}

	result := c.Run(ctx)
	if result.Status != StatusWarning || !result.CanFix {
		t.Fatalf("Run() = %+v, want a fixable warning", result)
	}

	if err := c.Fix(ctx); err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if got := c.Run(ctx).Status; got != StatusOK {
		t.Errorf("Run() after Fix = %q, want ok", got)
	}
}

func TestDaemonPidStaleCheck(t *testing.T) {
	root := t.TempDir()
	c := NewDaemonPidStaleCheck()
	ctx := &CheckContext{ProjectRoot: root}

	if got := c.Run(ctx).Status; got != StatusOK {
		t.Errorf("Run() with no pid file = %q, want ok", got)
	}

	pidPath := c.pidPath(ctx)
	if err := os.MkdirAll(filepath.Dir(pidPath), 0o755); err != nil {
		t.Fatalf("mkdir build dir: %v", err)
	}
	if err := os.WriteFile(pidPath, []byte("2000000000"), 0o644); err != nil {
		t.Fatalf("writing stale pid: %v", err)
	}

	result := c.Run(ctx)
	if result.Status != StatusWarning || !result.CanFix {
		t.Fatalf("Run() with an implausible pid = %+v, want a fixable warning", result)
	}

	if err := c.Fix(ctx); err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("Fix should remove the stale pid file")
	}
}

func TestWorkspaceGitValidCheck(t *testing.T) {
	git := gitw.NewRunner()
	missing := NewWorkspaceGitValidCheck(git, filepath.Join(t.TempDir(), "nope"))
	if got := missing.Run(&CheckContext{}).Status; got != StatusWarning {
		t.Errorf("Run() on a missing workspace = %q, want warning", got)
	}

	notGit := t.TempDir()
	invalid := NewWorkspaceGitValidCheck(git, notGit)
	if got := invalid.Run(&CheckContext{}).Status; got != StatusError {
		t.Errorf("Run() on a non-git directory = %q, want error", got)
	}
}

func TestDefaultChecksIncludesEveryCheck(t *testing.T) {
	checks := DefaultChecks(gitw.NewRunner())
	if len(checks) != 5 {
		t.Fatalf("DefaultChecks returned %d checks, want 5", len(checks))
	}
}
