package sessionctl

import (
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"
)

func requireTmux(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not installed, skipping integration test")
	}
}

func uniqueSession(t *testing.T) string {
	return fmt.Sprintf("v0-test-%d-%d", os.Getpid(), time.Now().UnixNano())
}

func TestLaunchExistsKill(t *testing.T) {
	requireTmux(t)
	c := New()
	session := uniqueSession(t)

	exists, err := c.Exists(session)
	if err != nil {
		t.Fatalf("Exists (before launch): %v", err)
	}
	if exists {
		t.Fatal("session should not exist before Launch")
	}

	if err := c.Launch(session, t.TempDir(), ""); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	t.Cleanup(func() { _ = c.Kill(session) })

	exists, err = c.Exists(session)
	if err != nil {
		t.Fatalf("Exists (after launch): %v", err)
	}
	if !exists {
		t.Fatal("session should exist after Launch")
	}

	if err := c.Kill(session); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	exists, err = c.Exists(session)
	if err != nil {
		t.Fatalf("Exists (after kill): %v", err)
	}
	if exists {
		t.Fatal("session should not exist after Kill")
	}
}

func TestKillNonexistentSessionIsNotAnError(t *testing.T) {
	requireTmux(t)
	c := New()
	if err := c.Kill(uniqueSession(t)); err != nil {
		t.Errorf("Kill on a nonexistent session should be a no-op, got: %v", err)
	}
}

func TestWaitReturnsOnceSessionExits(t *testing.T) {
	requireTmux(t)
	c := New()
	session := uniqueSession(t)
	if err := c.Launch(session, t.TempDir(), "exit 0"); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	t.Cleanup(func() { _ = c.Kill(session) })

	if err := c.Wait(session, 5*time.Second, 20*time.Millisecond); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestWaitTimesOutOnLongRunningSession(t *testing.T) {
	requireTmux(t)
	c := New()
	session := uniqueSession(t)
	if err := c.Launch(session, t.TempDir(), "sleep 60"); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	t.Cleanup(func() { _ = c.Kill(session) })

	if err := c.Wait(session, 50*time.Millisecond, 10*time.Millisecond); err == nil {
		t.Fatal("Wait should time out while the session is still alive")
	}
}
