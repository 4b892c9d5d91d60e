package mergeexec

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/v0dev/v0core/internal/gitw"
	"github.com/v0dev/v0core/internal/mergequeue"
	"github.com/v0dev/v0core/internal/opstate"
	"github.com/v0dev/v0core/internal/phase"
	"github.com/v0dev/v0core/internal/sessionctl"
	"github.com/v0dev/v0core/internal/tracker"
)

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
	return string(out)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

// newBareRemote creates an empty bare repo to act as "origin", plus a clone
// of it that serves as the merge workspace, seeded with one commit on main.
func newBareRemote(t *testing.T) (remote, workDir string) {
	t.Helper()
	remote = t.TempDir()
	runGit(t, remote, "init", "-q", "--bare", "-b", "main")

	seed := t.TempDir()
	runGit(t, seed, "init", "-q", "-b", "main")
	writeFile(t, seed, "README.md", "hello\n")
	runGit(t, seed, "add", ".")
	runGit(t, seed, "commit", "-q", "-m", "initial")
	runGit(t, seed, "remote", "add", "origin", remote)
	runGit(t, seed, "push", "-q", "origin", "main")

	workDir = t.TempDir()
	runGit(t, workDir, "clone", "-q", remote, ".")
	runGit(t, workDir, "config", "user.name", "test")
	runGit(t, workDir, "config", "user.email", "test@example.com")
	return remote, workDir
}

func newExecutor(t *testing.T, buildDir string) (*Executor, *opstate.Store, *mergequeue.Queue) {
	t.Helper()
	store := opstate.New(filepath.Join(buildDir, "operations"))
	queue := mergequeue.New(filepath.Join(buildDir, "mergeq"), nil)
	trk := tracker.New(store)
	ph := phase.New(store, trk, sessionctl.New(), noBranches{})
	cfg := Config{
		Remote:                 "origin",
		TargetBranch:           "main",
		ResolveEnabled:         false,
		ConflictSessionTimeout: time.Second,
		SessionPollInterval:    10 * time.Millisecond,
	}
	return New(gitw.NewRunner(), sessionctl.New(), ph, store, queue, trk, cfg), store, queue
}

type noBranches struct{}

func (noBranches) WorktreeExists(string) bool { return false }
func (noBranches) BranchExists(string) bool   { return false }

func seedOperation(t *testing.T, store *opstate.Store, name, worktree, branch string) {
	t.Helper()
	if _, err := store.Create(name, opstate.TypeFeature); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Update(name, func(o *opstate.Operation) {
		o.Phase = opstate.PhaseCompleted
		o.Worktree = worktree
		o.Branch = branch
		o.MergeQueued = true
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestProcessFastForwardMerge(t *testing.T) {
	_, workDir := newBareRemote(t)

	runGit(t, workDir, "checkout", "-q", "-b", "feature/auth")
	writeFile(t, workDir, "auth.go", "package auth\n")
	runGit(t, workDir, "add", ".")
	runGit(t, workDir, "commit", "-q", "-m", "add auth")
	featureTip := gitHEAD(t, workDir)
	runGit(t, workDir, "push", "-q", "origin", "feature/auth")
	runGit(t, workDir, "checkout", "-q", "main")

	buildDir := t.TempDir()
	ex, store, queue := newExecutor(t, buildDir)
	seedOperation(t, store, "auth", workDir, "feature/auth")
	if err := queue.Enqueue("auth", 0, ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := queue.UpdateStatus("auth", mergequeue.StatusProcessing); err != nil {
		t.Fatalf("UpdateStatus(processing): %v", err)
	}

	if err := ex.Process("auth"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	op, err := store.Read("auth")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if op.Phase != opstate.PhaseMerged {
		t.Fatalf("phase = %s, want merged", op.Phase)
	}
	if op.MergeCommit != featureTip {
		t.Errorf("merge_commit = %s, want %s (fast-forward should not create a new commit)", op.MergeCommit, featureTip)
	}

	completed, err := queue.GetAll(mergequeue.StatusCompleted)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(completed) != 1 || completed[0] != "auth" {
		t.Errorf("GetAll(completed) = %v, want [auth]", completed)
	}
}

func TestProcessRebaseMerge(t *testing.T) {
	_, workDir := newBareRemote(t)

	runGit(t, workDir, "checkout", "-q", "-b", "feature/api")
	writeFile(t, workDir, "api.go", "package api\n")
	runGit(t, workDir, "add", ".")
	runGit(t, workDir, "commit", "-q", "-m", "add api")
	runGit(t, workDir, "push", "-q", "origin", "feature/api")

	runGit(t, workDir, "checkout", "-q", "main")
	writeFile(t, workDir, "VERSION", "2\n")
	runGit(t, workDir, "add", ".")
	runGit(t, workDir, "commit", "-q", "-m", "bump version")
	runGit(t, workDir, "push", "-q", "origin", "main")

	buildDir := t.TempDir()
	ex, store, _ := newExecutor(t, buildDir)
	seedOperation(t, store, "api", workDir, "feature/api")
	featureTip := gitBranchTip(t, workDir, "feature/api")

	if err := ex.Process("api"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	op, err := store.Read("api")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if op.Phase != opstate.PhaseMerged {
		t.Fatalf("phase = %s, want merged", op.Phase)
	}
	if op.MergeCommit == featureTip {
		t.Error("merge_commit should be a new post-rebase commit, not the original branch tip")
	}
}

func TestProcessAllStrategiesFailGoesToConflict(t *testing.T) {
	_, workDir := newBareRemote(t)

	runGit(t, workDir, "checkout", "-q", "-b", "feature/db")
	writeFile(t, workDir, "shared.txt", "feature version\n")
	runGit(t, workDir, "add", ".")
	runGit(t, workDir, "commit", "-q", "-m", "feature change")
	runGit(t, workDir, "push", "-q", "origin", "feature/db")

	runGit(t, workDir, "checkout", "-q", "main")
	writeFile(t, workDir, "shared.txt", "main version\n")
	runGit(t, workDir, "add", ".")
	runGit(t, workDir, "commit", "-q", "-m", "main change")
	runGit(t, workDir, "push", "-q", "origin", "main")

	buildDir := t.TempDir()
	ex, store, queue := newExecutor(t, buildDir)
	seedOperation(t, store, "db", workDir, "feature/db")
	if err := queue.Enqueue("db", 0, ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := queue.UpdateStatus("db", mergequeue.StatusProcessing); err != nil {
		t.Fatalf("UpdateStatus(processing): %v", err)
	}

	err := ex.Process("db")
	if err == nil {
		t.Fatal("Process should fail when all merge strategies fail and resolution is disabled")
	}

	op, rerr := store.Read("db")
	if rerr != nil {
		t.Fatalf("Read: %v", rerr)
	}
	if op.Phase != opstate.PhaseConflict {
		t.Fatalf("phase = %s, want conflict", op.Phase)
	}

	conflicted, gerr := queue.GetAll(mergequeue.StatusConflict)
	if gerr != nil {
		t.Fatalf("GetAll: %v", gerr)
	}
	if len(conflicted) != 1 || conflicted[0] != "db" {
		t.Errorf("GetAll(conflict) = %v, want [db]", conflicted)
	}

	if gitInProgress(t, workDir) {
		t.Error("workspace should be left clean (no in-progress rebase/merge) after a failed attempt")
	}
}

func gitHEAD(t *testing.T, dir string) string {
	t.Helper()
	out := runGit(t, dir, "rev-parse", "HEAD")
	return trimNL(out)
}

func gitBranchTip(t *testing.T, dir, branch string) string {
	t.Helper()
	out := runGit(t, dir, "rev-parse", branch)
	return trimNL(out)
}

func gitInProgress(t *testing.T, dir string) bool {
	t.Helper()
	if _, err := os.Stat(filepath.Join(dir, ".git", "MERGE_HEAD")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(dir, ".git", "rebase-merge")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(dir, ".git", "rebase-apply")); err == nil {
		return true
	}
	return false
}

func trimNL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func TestProcessBranchOnlyMerge(t *testing.T) {
	_, workDir := newBareRemote(t)

	runGit(t, workDir, "checkout", "-q", "-b", "fix/typo")
	writeFile(t, workDir, "typo.txt", "fixed\n")
	runGit(t, workDir, "add", ".")
	runGit(t, workDir, "commit", "-q", "-m", "fix typo")
	runGit(t, workDir, "push", "-q", "origin", "fix/typo")
	runGit(t, workDir, "checkout", "-q", "main")

	buildDir := t.TempDir()
	ex, _, _ := newExecutor(t, buildDir)

	if err := ex.ProcessBranch(workDir, "fix/typo", ""); err != nil {
		t.Fatalf("ProcessBranch: %v", err)
	}

	if gitInProgress(t, workDir) {
		t.Error("workspace should be left clean after a branch-only merge")
	}
}
