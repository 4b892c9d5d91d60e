// Package workspace implements the Workspace Manager (C6): ensure/validate/
// sync/remove over a dedicated checkout distinct from the user's working
// tree, in either worktree or independent-clone mode. Root discovery walks
// up from a starting directory looking for the project's on-disk marker.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/v0dev/v0core/internal/gitw"
)

// Mode is the workspace creation strategy.
type Mode string

const (
	ModeWorktree Mode = "worktree"
	ModeClone    Mode = "clone"
)

// Workspace is one operation's dedicated checkout.
type Workspace struct {
	Path         string
	Mode         Mode
	TargetBranch string
	MainRepoDir  string
	Remote       string
	RemoteURL    string
}

// Manager drives workspace lifecycle operations over one Workspace
// description.
type Manager struct {
	Git *gitw.Runner
}

// New constructs a Manager.
func New(git *gitw.Runner) *Manager { return &Manager{Git: git} }

// Find locates the nearest project root by walking up from startDir,
// looking for a ".v0" marker directory.
func Find(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	current := absDir
	for {
		if info, err := os.Stat(filepath.Join(current, ".v0")); err == nil && info.IsDir() {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("not inside a v0 project (no .v0 directory found above %s)", absDir)
		}
		current = parent
	}
}

// EnsureWorkspace is the only entry point callers use; idempotent.
func (m *Manager) EnsureWorkspace(w Workspace) error {
	if _, err := os.Stat(w.Path); os.IsNotExist(err) {
		return m.create(w)
	}

	if !m.Git.IsGitDir(w.Path) {
		if err := m.destroy(w); err != nil {
			return err
		}
		return m.create(w)
	}

	if err := m.Validate(w); err != nil {
		if err := m.destroy(w); err != nil {
			return err
		}
		return m.create(w)
	}

	return m.SyncToTargetBranch(w)
}

// create builds a fresh workspace per the configured mode.
func (m *Manager) create(w Workspace) error {
	switch w.Mode {
	case ModeWorktree:
		if m.Git.IsBranchCheckedOut(w.MainRepoDir, w.TargetBranch) {
			return fmt.Errorf("branch %s is already checked out elsewhere; cannot create worktree", w.TargetBranch)
		}
		if err := os.MkdirAll(filepath.Dir(w.Path), 0o755); err != nil {
			return err
		}
		return m.Git.WorktreeAdd(w.MainRepoDir, w.Path, w.TargetBranch)
	case ModeClone:
		if err := os.MkdirAll(filepath.Dir(w.Path), 0o755); err != nil {
			return err
		}
		if err := m.Git.CloneLocal(w.MainRepoDir, w.Path); err != nil {
			return err
		}
		if w.RemoteURL != "" {
			if err := m.Git.SetRemoteURL(w.Path, w.Remote, w.RemoteURL); err != nil {
				return err
			}
		}
		return m.Git.Checkout(w.Path, w.TargetBranch)
	default:
		return fmt.Errorf("unknown workspace mode %q", w.Mode)
	}
}

// destroy removes an existing, possibly-broken workspace before recreation.
func (m *Manager) destroy(w Workspace) error {
	if w.Mode == ModeWorktree {
		if err := m.Git.WorktreeRemove(w.MainRepoDir, w.Path); err != nil {
			_ = os.RemoveAll(w.Path)
		}
		return nil
	}
	return os.RemoveAll(w.Path)
}

// Validate checks existence, git validity, current branch, mode, and (clone
// mode only) remote URL match.
func (m *Manager) Validate(w Workspace) error {
	if _, err := os.Stat(w.Path); err != nil {
		return fmt.Errorf("workspace %s does not exist: %w", w.Path, err)
	}
	if !m.Git.IsGitDir(w.Path) {
		return fmt.Errorf("workspace %s is not a valid git working copy", w.Path)
	}
	branch, err := m.Git.CurrentBranch(w.Path)
	if err != nil {
		return fmt.Errorf("reading workspace branch: %w", err)
	}
	if branch != w.TargetBranch {
		return fmt.Errorf("workspace %s is on branch %s, expected %s", w.Path, branch, w.TargetBranch)
	}
	if w.Mode == ModeClone && w.RemoteURL != "" {
		url, err := m.Git.RemoteURL(w.Path, w.Remote)
		if err != nil || url != w.RemoteURL {
			return fmt.Errorf("workspace %s remote %s does not match configured URL", w.Path, w.Remote)
		}
	}
	return nil
}

// SyncToTargetBranch brings the workspace current with the remote target
// branch, hard-resetting if local has diverged.
func (m *Manager) SyncToTargetBranch(w Workspace) error {
	if m.Git.InProgress(w.Path) {
		_ = m.Git.RebaseAbort(w.Path)
		_ = m.Git.MergeAbort(w.Path)
	}
	branch, err := m.Git.CurrentBranch(w.Path)
	if err != nil {
		return err
	}
	if branch != w.TargetBranch {
		if err := m.Git.Checkout(w.Path, w.TargetBranch); err != nil {
			return err
		}
	}
	if err := m.Git.Fetch(w.Path, w.Remote, w.TargetBranch); err != nil {
		return err
	}
	if err := m.Git.PullFFOnly(w.Path); err != nil {
		remoteRef := w.Remote + "/" + w.TargetBranch
		return m.Git.HardReset(w.Path, remoteRef)
	}
	return nil
}

// Remove deletes the workspace, unregistering a worktree if applicable.
func (m *Manager) Remove(w Workspace) error {
	return m.destroy(w)
}
