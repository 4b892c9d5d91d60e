// Package tracker implements the Dependency Resolver (C7): a thin adapter
// over the external issue-tracker CLI (`wk`), treated as a black box
// returning issue IDs, statuses, and blocked-by relations over --json
// output.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/v0dev/v0core/internal/opstate"
)

// Issue is the subset of tracker fields this resolver needs.
type Issue struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Status    string   `json:"status"`
	Labels    []string `json:"labels"`
	BlockedBy []string `json:"blocked_by"`
}

const (
	statusDone = "done"
	statusTodo = "todo"
)

// DependentResumer performs the resumption path for a dependent operation
// unblocked by a merge. Satisfied by *phase.Machine; wired in after
// construction (see newApp) to break the Tracker/Machine construction
// cycle, the same two-phase pattern used for mergequeue.Queue.Daemon.
type DependentResumer interface {
	IsHeld(op string) (bool, error)
	Resume(op string, actor string) (opstate.Phase, error)
}

// Tracker wraps the tracker CLI binary, defaulting to "wk".
type Tracker struct {
	Bin     string
	Store   *opstate.Store
	Resumer DependentResumer
}

// New constructs a Tracker backed by the system tracker binary and an
// opstate.Store used for resolve_to_op_name's epic_id scan.
func New(store *opstate.Store) *Tracker {
	return &Tracker{Bin: "wk", Store: store}
}

func (t *Tracker) bin() string {
	if t.Bin == "" {
		return "wk"
	}
	return t.Bin
}

func (t *Tracker) run(args ...string) ([]byte, error) {
	cmd := exec.Command(t.bin(), args...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("wk %s: %w: %s", strings.Join(args, " "), err, string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("wk %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

// Show fetches one issue by ID (wk show --json <id>).
func (t *Tracker) Show(issueID string) (*Issue, error) {
	out, err := t.run("show", "--json", issueID)
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err := json.Unmarshal(out, &issue); err != nil {
		return nil, fmt.Errorf("decoding issue %s: %w", issueID, err)
	}
	return &issue, nil
}

// NewIssue creates a tracker issue, returning its assigned ID.
func (t *Tracker) NewIssue(title, description string, labels []string) (string, error) {
	args := []string{"create", "--json", "--title=" + title}
	if description != "" {
		args = append(args, "--description="+description)
	}
	for _, l := range labels {
		args = append(args, "--labels="+l)
	}
	if actor := os.Getenv("WK_ACTOR"); actor != "" {
		args = append(args, "--actor="+actor)
	}
	out, err := t.run(args...)
	if err != nil {
		return "", err
	}
	var issue Issue
	if err := json.Unmarshal(out, &issue); err != nil {
		return "", fmt.Errorf("decoding created issue: %w", err)
	}
	return issue.ID, nil
}

// MarkDone marks an issue done (idempotent: already-done is not an error).
func (t *Tracker) MarkDone(issueID string) error {
	if issueID == "" {
		return nil
	}
	_, err := t.run("update", issueID, "--status="+statusDone)
	return err
}

// MarkInProgress marks an issue in_progress, advancing it from todo first if
// needed.
func (t *Tracker) MarkInProgress(issueID string) error {
	if issueID == "" {
		return nil
	}
	issue, err := t.Show(issueID)
	if err == nil && issue.Status == "in_progress" {
		return nil
	}
	_, err = t.run("update", issueID, "--status=in_progress")
	return err
}

// ListByLabel returns issues carrying the given label.
func (t *Tracker) ListByLabel(label string) ([]Issue, error) {
	out, err := t.run("list", "--json", "--label="+label)
	if err != nil {
		return nil, err
	}
	var issues []Issue
	if err := json.Unmarshal(out, &issues); err != nil {
		return nil, fmt.Errorf("decoding issue list: %w", err)
	}
	return issues, nil
}

// Blocking returns the IDs of issues that issueID blocks (i.e. issues whose
// blocked_by includes issueID).
func (t *Tracker) Blocking(issueID string) ([]string, error) {
	out, err := t.run("list", "--json", "--blocking="+issueID)
	if err != nil {
		return nil, err
	}
	var issues []Issue
	if err := json.Unmarshal(out, &issues); err != nil {
		return nil, fmt.Errorf("decoding blocking list: %w", err)
	}
	ids := make([]string, 0, len(issues))
	for _, i := range issues {
		ids = append(ids, i.ID)
	}
	return ids, nil
}

// IsBlocked reports whether any of issueID's blocked_by records is not yet
// done/closed.
func (t *Tracker) IsBlocked(issueID string) (bool, error) {
	issue, err := t.Show(issueID)
	if err != nil {
		return false, err
	}
	for _, blockerID := range issue.BlockedBy {
		blocker, err := t.Show(blockerID)
		if err != nil {
			return false, err
		}
		if blocker.Status != statusDone && blocker.Status != "closed" {
			return true, nil
		}
	}
	return false, nil
}

// FirstOpenBlocker returns the first not-done blocker, or "" if none.
func (t *Tracker) FirstOpenBlocker(issueID string) (string, error) {
	issue, err := t.Show(issueID)
	if err != nil {
		return "", err
	}
	for _, blockerID := range issue.BlockedBy {
		blocker, err := t.Show(blockerID)
		if err != nil {
			return "", err
		}
		if blocker.Status != statusDone && blocker.Status != "closed" {
			return blockerID, nil
		}
	}
	return "", nil
}

// ResolveToOpName maps an issue ID back to a known operation name by
// scanning operation state files for a matching epic_id.
func (t *Tracker) ResolveToOpName(issueID string) (string, error) {
	names, err := t.Store.List()
	if err != nil {
		return "", err
	}
	for _, name := range names {
		o, err := t.Store.Read(name)
		if err != nil {
			continue
		}
		if o.EpicID == issueID {
			return name, nil
		}
	}
	return "", nil
}

// CloseOpenPlanIssues closes any remaining plan-labelled issues for opName
// (label "plan:<op>"), called from the merged post-hook.
func (t *Tracker) CloseOpenPlanIssues(opName string) error {
	issues, err := t.ListByLabel("plan:" + opName)
	if err != nil {
		return err
	}
	for _, issue := range issues {
		if issue.Status == statusDone || issue.Status == "closed" {
			continue
		}
		if err := t.MarkDone(issue.ID); err != nil {
			return fmt.Errorf("closing plan issue %s: %w", issue.ID, err)
		}
	}
	return nil
}

// NotifyDependents resolves opName's epic_id and notifies by issue.
func (t *Tracker) NotifyDependents(opName string) error {
	o, err := t.Store.Read(opName)
	if err != nil {
		return err
	}
	if o.EpicID == "" {
		return nil
	}
	return t.NotifyDependentsByIssue(o.EpicID)
}

// NotifyDependentsByIssue notifies every issue blocked on issueID, used
// directly by branch-only merges that lack a full operation. For each
// dependent that is now fully unblocked and maps to a known, unheld
// operation, it re-runs that operation's resumption path.
func (t *Tracker) NotifyDependentsByIssue(issueID string) error {
	dependents, err := t.Blocking(issueID)
	if err != nil {
		return err
	}
	for _, depID := range dependents {
		blocked, err := t.IsBlocked(depID)
		if err != nil || blocked {
			continue
		}
		if t.Resumer == nil {
			continue
		}
		opName, err := t.ResolveToOpName(depID)
		if err != nil || opName == "" {
			continue
		}
		held, err := t.Resumer.IsHeld(opName)
		if err != nil || held {
			continue
		}
		if _, err := t.Resumer.Resume(opName, "resume:dependency"); err != nil {
			continue
		}
	}
	return nil
}

// OpenIssueCount returns the number of open plan-labelled issues for opName
// (used by the merge-readiness predicate's open_issues:<n> reason).
func (t *Tracker) OpenIssueCount(opName string) (int, error) {
	issues, err := t.ListByLabel("plan:" + opName)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, issue := range issues {
		if issue.Status != statusDone && issue.Status != "closed" {
			n++
		}
	}
	return n, nil
}
