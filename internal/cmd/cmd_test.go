package cmd

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// newTestProjectRoot builds a minimal git repository with a valid .v0.rc so
// newApp(root) succeeds end to end, the way every RunE in this package
// expects.
func newTestProjectRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	rc := "PROJECT = \"testproj\"\nISSUE_PREFIX = \"TP\"\n"
	if err := os.WriteFile(filepath.Join(root, ".v0.rc"), []byte(rc), 0o644); err != nil {
		t.Fatalf("writing .v0.rc: %v", err)
	}

	for _, args := range [][]string{
		{"init", "-q", "-b", "main"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = root
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	add := exec.Command("git", "add", ".")
	add.Dir = root
	if out, err := add.CombinedOutput(); err != nil {
		t.Fatalf("git add: %v: %s", err, out)
	}
	commit := exec.Command("git", "commit", "-q", "-m", "initial")
	commit.Dir = root
	if out, err := commit.CombinedOutput(); err != nil {
		t.Fatalf("git commit: %v: %s", err, out)
	}

	return root
}

// withProjectRoot points rootProjectRoot at root for the duration of the
// test, restoring the previous value afterward (commands share the
// package-level flag variable the way cobra wires it).
func withProjectRoot(t *testing.T, root string) {
	t.Helper()
	prev := rootProjectRoot
	rootProjectRoot = root
	t.Cleanup(func() { rootProjectRoot = prev })
}
