package workspace

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/v0dev/v0core/internal/gitw"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
}

func initMainRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	runGit(t, root, "init", "-q", "-b", "main")
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	runGit(t, root, "add", ".")
	runGit(t, root, "commit", "-q", "-m", "initial")
	runGit(t, root, "branch", "feature/x")
	runGit(t, root, "remote", "add", "origin", root)
	return root
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	marker := filepath.Join(root, ".v0")
	if err := os.MkdirAll(marker, 0o755); err != nil {
		t.Fatalf("mkdir .v0: %v", err)
	}
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}

	found, err := Find(nested)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	resolvedRoot, _ := filepath.EvalSymlinks(root)
	resolvedFound, _ := filepath.EvalSymlinks(found)
	if resolvedFound != resolvedRoot {
		t.Errorf("Find = %q, want %q", found, root)
	}
}

func TestFindNotFound(t *testing.T) {
	if _, err := Find(t.TempDir()); err == nil {
		t.Fatal("Find should fail when no .v0 marker exists above the starting directory")
	}
}

func TestEnsureWorkspaceWorktreeMode(t *testing.T) {
	mainRepo := initMainRepo(t)
	git := gitw.NewRunner()
	m := New(git)

	wsPath := filepath.Join(t.TempDir(), "ws")
	w := Workspace{Path: wsPath, Mode: ModeWorktree, TargetBranch: "feature/x", MainRepoDir: mainRepo, Remote: "origin"}

	if err := m.EnsureWorkspace(w); err != nil {
		t.Fatalf("EnsureWorkspace: %v", err)
	}
	if err := m.Validate(w); err != nil {
		t.Fatalf("Validate after create: %v", err)
	}

	// Idempotent: calling again on an already-valid workspace should succeed.
	if err := m.EnsureWorkspace(w); err != nil {
		t.Fatalf("EnsureWorkspace (second call): %v", err)
	}
}

func TestEnsureWorkspaceRefusesDoubleCheckout(t *testing.T) {
	mainRepo := initMainRepo(t)
	git := gitw.NewRunner()
	m := New(git)

	first := Workspace{Path: filepath.Join(t.TempDir(), "ws1"), Mode: ModeWorktree, TargetBranch: "feature/x", MainRepoDir: mainRepo, Remote: "origin"}
	if err := m.EnsureWorkspace(first); err != nil {
		t.Fatalf("EnsureWorkspace(first): %v", err)
	}

	second := Workspace{Path: filepath.Join(t.TempDir(), "ws2"), Mode: ModeWorktree, TargetBranch: "feature/x", MainRepoDir: mainRepo, Remote: "origin"}
	if err := m.EnsureWorkspace(second); err == nil {
		t.Fatal("EnsureWorkspace should refuse to check out a branch already checked out elsewhere")
	}
}

func TestValidateDetectsWrongBranch(t *testing.T) {
	mainRepo := initMainRepo(t)
	git := gitw.NewRunner()
	m := New(git)

	wsPath := filepath.Join(t.TempDir(), "ws")
	w := Workspace{Path: wsPath, Mode: ModeWorktree, TargetBranch: "feature/x", MainRepoDir: mainRepo, Remote: "origin"}
	if err := m.EnsureWorkspace(w); err != nil {
		t.Fatalf("EnsureWorkspace: %v", err)
	}

	runGit(t, mainRepo, "branch", "feature/y")
	runGit(t, wsPath, "checkout", "-q", "feature/y")

	if err := m.Validate(w); err == nil {
		t.Fatal("Validate should fail when the workspace is on the wrong branch")
	}
}

func TestRemoveWorktree(t *testing.T) {
	mainRepo := initMainRepo(t)
	git := gitw.NewRunner()
	m := New(git)

	wsPath := filepath.Join(t.TempDir(), "ws")
	w := Workspace{Path: wsPath, Mode: ModeWorktree, TargetBranch: "feature/x", MainRepoDir: mainRepo, Remote: "origin"}
	if err := m.EnsureWorkspace(w); err != nil {
		t.Fatalf("EnsureWorkspace: %v", err)
	}

	if err := m.Remove(w); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if git.IsBranchCheckedOut(mainRepo, "feature/x") {
		t.Error("feature/x should no longer be checked out anywhere after Remove")
	}
}
