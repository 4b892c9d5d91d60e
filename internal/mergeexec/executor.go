// Package mergeexec implements the Merge Executor (C4): the single-merge
// algorithm — fast-forward, rebase+fast-forward, no-fast-forward, and the
// conflict-resolution sub-session fallback, driving the sub-session over a
// detached tmux session via internal/sessionctl.
package mergeexec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/v0dev/v0core/internal/constants"
	"github.com/v0dev/v0core/internal/gitw"
	"github.com/v0dev/v0core/internal/mergequeue"
	"github.com/v0dev/v0core/internal/opstate"
	"github.com/v0dev/v0core/internal/phase"
	"github.com/v0dev/v0core/internal/sessionctl"
	"github.com/v0dev/v0core/internal/tracker"
	"github.com/v0dev/v0core/internal/verr"
)

// Config carries the executor's per-project target configuration.
type Config struct {
	Remote                 string
	TargetBranch           string
	ResolveEnabled         bool
	ConflictSessionTimeout time.Duration
	SessionPollInterval    time.Duration
}

// Executor drives one merge end-to-end.
type Executor struct {
	Git      *gitw.Runner
	Sessions *sessionctl.Controller
	Phase    *phase.Machine
	Store    *opstate.Store
	Queue    *mergequeue.Queue
	Tracker  *tracker.Tracker
	Config   Config
}

// New constructs an Executor.
func New(git *gitw.Runner, sessions *sessionctl.Controller, ph *phase.Machine, store *opstate.Store, queue *mergequeue.Queue, trk *tracker.Tracker, cfg Config) *Executor {
	return &Executor{Git: git, Sessions: sessions, Phase: ph, Store: store, Queue: queue, Tracker: trk, Config: cfg}
}

func (e *Executor) log(op, kind, detail string) {
	_ = e.Store.EmitEvent(op, kind, detail)
}

// Process performs the full operation-merge algorithm end to end.
func (e *Executor) Process(opName string) error {
	o, err := e.Store.Read(opName)
	if err != nil {
		return err
	}
	workDir := o.Worktree
	sourceBranch := o.Branch
	if sourceBranch == "" {
		sourceBranch = opName
	}

	// Entering pending_merge here (rather than leaving the operation in
	// completed) is what makes the conflict/failed transitions below legal:
	// conflict is only reachable from pending_merge, not from completed.
	if o.Phase == opstate.PhaseCompleted {
		if err := e.Phase.TransitionTo(opName, opstate.PhasePendingMerge, map[string]string{"merge_status": string(opstate.MergeStatusMerging)}); err != nil {
			return err
		}
	} else if _, err := e.Store.Update(opName, func(o *opstate.Operation) {
		o.MergeStatus = opstate.MergeStatusMerging
	}); err != nil {
		return err
	}

	if err := e.prepareTargetBranch(workDir); err != nil {
		_ = e.Queue.UpdateStatus(opName, mergequeue.StatusFailed)
		_ = e.Phase.TransitionTo(opName, opstate.PhaseFailed, map[string]string{"error": err.Error()})
		e.log(opName, "merge:failed", err.Error())
		return err
	}

	preMergeHEAD, _ := e.Git.HEAD(workDir)

	merged, strategy := e.attemptStrategies(workDir, sourceBranch)
	if !merged {
		if !e.Config.ResolveEnabled {
			err := fmt.Errorf("%w: all merge strategies failed for %s", verr.ErrVerificationFailed, opName)
			_ = e.Queue.UpdateStatus(opName, mergequeue.StatusConflict)
			_ = e.Phase.TransitionTo(opName, opstate.PhaseConflict, map[string]string{"merge_status": string(opstate.MergeStatusConflict)})
			e.log(opName, "merge:conflict", err.Error())
			return err
		}
		if err := e.runConflictResolution(opName, workDir, sourceBranch, preMergeHEAD); err != nil {
			_ = e.Queue.UpdateStatus(opName, mergequeue.StatusConflict)
			_ = e.Phase.TransitionTo(opName, opstate.PhaseConflict, map[string]string{"merge_status": string(opstate.MergeStatusConflict)})
			e.log(opName, "verification_failed", err.Error())
			return err
		}
		strategy = "conflict-resolution"
	}

	commit, err := e.Git.HEAD(workDir)
	if err != nil {
		return err
	}

	if err := e.Git.Push(workDir, e.Config.Remote, e.Config.TargetBranch); err != nil {
		_ = e.Queue.UpdateStatus(opName, mergequeue.StatusFailed)
		_ = e.Phase.TransitionTo(opName, opstate.PhaseFailed, map[string]string{"error": err.Error()})
		e.log(opName, "merge:failed", "push: "+err.Error())
		return err
	}

	ancestor, err := e.Git.IsAncestor(workDir, commit, e.Config.TargetBranch)
	if err != nil || !ancestor {
		err := fmt.Errorf("%w: %s not an ancestor of %s after push", verr.ErrVerificationFailed, commit, e.Config.TargetBranch)
		_ = e.Queue.UpdateStatus(opName, mergequeue.StatusFailed)
		_ = e.Phase.TransitionTo(opName, opstate.PhaseFailed, map[string]string{
			"error":        err.Error(),
			"merge_status": string(opstate.MergeStatusVerificationFailed),
		})
		e.log(opName, "verification_failed", err.Error())
		return err
	}

	if err := e.Git.DeleteRemoteBranch(workDir, e.Config.Remote, sourceBranch); err != nil {
		e.log(opName, "merge:branch_delete_failed", err.Error())
	}

	if err := e.Phase.TransitionTo(opName, opstate.PhaseMerged, map[string]string{"merge_commit": commit}); err != nil {
		return err
	}
	_ = e.Queue.UpdateStatus(opName, mergequeue.StatusCompleted)
	e.log(opName, "merge:success", fmt.Sprintf("strategy=%s commit=%s", strategy, commit))
	return nil
}

// ProcessBranch implements the simplified branch-only merge path, used
// when an operation has no tracked state, only a branch name.
func (e *Executor) ProcessBranch(mainRepoDir, branch, issueID string) error {
	if err := e.prepareTargetBranch(mainRepoDir); err != nil {
		return err
	}
	if err := e.Git.Fetch(mainRepoDir, e.Config.Remote, branch); err != nil {
		return err
	}
	merged, _ := e.attemptStrategies(mainRepoDir, branch)
	if !merged {
		return fmt.Errorf("%w: branch-only merge of %s failed", verr.ErrVerificationFailed, branch)
	}
	if err := e.Git.Push(mainRepoDir, e.Config.Remote, e.Config.TargetBranch); err != nil {
		return err
	}
	if err := e.Git.DeleteRemoteBranch(mainRepoDir, e.Config.Remote, branch); err != nil {
		_ = err
	}
	if issueID != "" && e.Tracker != nil {
		return e.Tracker.NotifyDependentsByIssue(issueID)
	}
	return nil
}

// prepareTargetBranch checks out the target branch, fetches and pulls
// fast-forward, and aborts any leftover rebase/merge state.
func (e *Executor) prepareTargetBranch(dir string) error {
	current, err := e.Git.CurrentBranch(dir)
	if err != nil {
		return err
	}
	if current != e.Config.TargetBranch {
		if err := e.Git.Checkout(dir, e.Config.TargetBranch); err != nil {
			return err
		}
	}
	if err := e.Git.Fetch(dir, e.Config.Remote, e.Config.TargetBranch); err != nil {
		return err
	}
	if err := e.Git.PullFFOnly(dir); err != nil {
		return err
	}
	if e.Git.InProgress(dir) {
		_ = e.Git.RebaseAbort(dir)
		_ = e.Git.MergeAbort(dir)
	}
	return nil
}

// attemptStrategies tries fast-forward, rebase+fast-forward, then
// no-fast-forward merge in order, leaving the workspace clean after any
// failed attempt. The caller has already checked out the target branch;
// the rebase strategy checks out the source branch to rewrite its commits,
// then returns to the target branch before attempting the fast-forward.
func (e *Executor) attemptStrategies(dir, sourceBranch string) (bool, string) {
	target := e.Config.TargetBranch

	if err := e.Git.MergeFF(dir, sourceBranch); err == nil {
		return true, "fast-forward"
	}
	_ = e.Git.MergeAbort(dir)

	if e.rebaseSourceOntoTarget(dir, sourceBranch, target) {
		if err := e.Git.MergeFF(dir, sourceBranch); err == nil {
			return true, "rebase"
		}
		_ = e.Git.MergeAbort(dir)
	}

	msg := fmt.Sprintf("Merge %s into %s", sourceBranch, target)
	if err := e.Git.MergeNoFF(dir, sourceBranch, msg); err == nil {
		return true, "no-fast-forward"
	}
	_ = e.Git.MergeAbort(dir)
	return false, ""
}

// rebaseSourceOntoTarget checks out sourceBranch, rebases it onto
// <remote>/<target>, and returns to target, leaving both branches clean on
// any failure. It reports whether the rebase itself succeeded; the caller
// is responsible for the subsequent fast-forward attempt.
func (e *Executor) rebaseSourceOntoTarget(dir, sourceBranch, target string) bool {
	if err := e.Git.Checkout(dir, sourceBranch); err != nil {
		return false
	}
	remoteTarget := e.Config.Remote + "/" + target
	rebaseErr := e.Git.Rebase(dir, remoteTarget)
	if rebaseErr != nil {
		_ = e.Git.RebaseAbort(dir)
	}
	if err := e.Git.Checkout(dir, target); err != nil {
		return false
	}
	return rebaseErr == nil
}

// runConflictResolution launches a detached conflict-resolution session,
// waits for it to terminate by presence polling, then verifies success.
func (e *Executor) runConflictResolution(opName, workDir, sourceBranch, preMergeHEAD string) error {
	base, err := e.Git.MergeBase(workDir, e.Config.TargetBranch, sourceBranch)
	if err != nil {
		return err
	}
	summary, _ := e.Git.LogSummary(workDir, base, sourceBranch)

	if err := writeStopHookSettings(workDir); err != nil {
		return err
	}
	donePath, err := writeDoneScript(filepath.Dir(workDir), opName)
	if err != nil {
		return err
	}
	promptPath, err := writePromptFile(workDir, opName, sourceBranch, e.Config.TargetBranch, summary, donePath)
	if err != nil {
		return err
	}

	session := "merge-resolve-" + opName
	if err := e.Sessions.Launch(session, workDir, "agent --prompt-file "+promptPath); err != nil {
		return fmt.Errorf("launching conflict-resolution session: %w", err)
	}
	e.log(opName, "conflict:session_launched", session)

	timeout := e.Config.ConflictSessionTimeout
	if timeout == 0 {
		timeout = constants.ConflictResolutionTimeout
	}
	poll := e.Config.SessionPollInterval
	if poll == 0 {
		poll = constants.SessionPollInterval
	}
	if err := e.Sessions.Wait(session, timeout, poll); err != nil {
		return fmt.Errorf("conflict-resolution session did not terminate: %w", err)
	}

	newHEAD, _ := e.Git.HEAD(workDir)
	if e.Git.ConflictMarkersPresent(workDir) {
		return fmt.Errorf("%w: conflict markers remain after resolution session", verr.ErrVerificationFailed)
	}
	if e.Git.InProgress(workDir) {
		return fmt.Errorf("%w: rebase/merge still in progress after resolution session", verr.ErrVerificationFailed)
	}
	if newHEAD == preMergeHEAD {
		return fmt.Errorf("%w: HEAD unchanged after resolution session", verr.ErrVerificationFailed)
	}
	return nil
}

// writeStopHookSettings installs a Stop hook that blocks termination of the
// conflict-resolution agent while residual conflict markers remain.
func writeStopHookSettings(workDir string) error {
	dir := filepath.Join(workDir, ".claude")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	settings := map[string]any{
		"hooks": map[string]any{
			"Stop": []map[string]any{
				{
					"hooks": []map[string]any{
						{
							"type":    "command",
							"command": "git -C . diff --name-only --diff-filter=U | grep -q . && exit 2 || exit 0",
						},
					},
				},
			},
		},
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "settings.local.json"), data, 0o644)
}

// writeDoneScript writes a shell script that sends SIGTERM to the first
// process whose command line matches 'agent --prompt-file' (pgrep -f). It
// does not walk the conflict session's process tree, so with several
// matching processes it signals whichever pgrep lists first.
func writeDoneScript(parentDir, opName string) (string, error) {
	path := filepath.Join(parentDir, fmt.Sprintf("done-%s.sh", opName))
	script := "#!/bin/sh\n" +
		"set -e\n" +
		"pid=$(pgrep -f 'agent --prompt-file' | head -n1)\n" +
		"[ -n \"$pid\" ] && kill -TERM \"$pid\" || true\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// writePromptFile embeds the source branch's commit summary since the merge
// base into the prompt the conflict-resolution session reads. Commits on the
// target branch are not listed.
func writePromptFile(workDir, opName, sourceBranch, targetBranch, commitSummary, donePath string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Merge conflict resolution: %s\n\n", opName)
	fmt.Fprintf(&b, "Target branch: %s\nSource branch: %s\n\n", targetBranch, sourceBranch)
	b.WriteString("Commits on the source branch since the merge base:\n")
	b.WriteString(commitSummary)
	b.WriteString("\n\nResolve every conflict marker, stage the results, and commit.\n")
	fmt.Fprintf(&b, "When finished, run: %s\n", donePath)

	path := filepath.Join(workDir, fmt.Sprintf(".merge-prompt-%s.md", opName))
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
