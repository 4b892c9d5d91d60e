// Package sessionctl wraps the terminal multiplexer behind a
// SessionController abstraction: launch, exists, signal, wait. This package
// does not look up the agent process inside a session; that lookup belongs
// to the conflict-resolution "done" script written by mergeexec.
package sessionctl

import (
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Controller launches, signals, and waits on named tmux sessions, treating
// tmux as an external, named-session launcher.
type Controller struct {
	// Bin is the tmux executable name; overridable for tests.
	Bin string
}

// New constructs a Controller using the system tmux binary.
func New() *Controller {
	return &Controller{Bin: "tmux"}
}

func (c *Controller) bin() string {
	if c.Bin == "" {
		return "tmux"
	}
	return c.Bin
}

// Exists reports whether a session with the given name exists.
func (c *Controller) Exists(session string) (bool, error) {
	cmd := exec.Command(c.bin(), "has-session", "-t", session)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("checking session %s: %w", session, err)
}

// Launch starts a new detached session at dir running command.
func (c *Controller) Launch(session, dir, command string) error {
	cmd := exec.Command(c.bin(), "new-session", "-d", "-s", session, "-c", dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("launching session %s: %w: %s", session, err, out)
	}
	if command == "" {
		return nil
	}
	return c.SendKeys(session, command)
}

// SendKeys types a command into the session followed by Enter. This is the
// mechanism the conflict-resolution sub-session uses to start
// the agent process; finding that agent afterward is left to the "done"
// script, not this package.
func (c *Controller) SendKeys(session, command string) error {
	cmd := exec.Command(c.bin(), "send-keys", "-t", session, command, "Enter")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("sending keys to %s: %w: %s", session, err, out)
	}
	return nil
}

// Signal sends a message into the session, used to signal the running
// agent process without killing its session.
func (c *Controller) Signal(session, message string) error {
	return c.SendKeys(session, message)
}

// Kill terminates a session. Killing a session that does not exist (or
// when no tmux server is running) is not an error.
func (c *Controller) Kill(session string) error {
	cmd := exec.Command(c.bin(), "kill-session", "-t", session)
	out, err := cmd.CombinedOutput()
	msg := string(out)
	absent := strings.Contains(msg, "session not found") || strings.Contains(msg, "can't find session") ||
		strings.Contains(msg, "no server running") || strings.Contains(msg, "error connecting to")
	if err != nil && !absent {
		return fmt.Errorf("killing session %s: %w: %s", session, err, out)
	}
	return nil
}

// Wait polls Exists until the session terminates or the deadline elapses.
func (c *Controller) Wait(session string, timeout time.Duration, pollInterval time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		exists, err := c.Exists(session)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		time.Sleep(pollInterval)
	}
	return fmt.Errorf("session %s still present after %s", session, timeout)
}
