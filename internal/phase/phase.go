// Package phase implements the Phase State Machine (C2): transition
// validation, post-hooks, holds, resume, and the merge-readiness predicate,
// built around one allowed-transitions table.
package phase

import (
	"fmt"
	"time"

	"github.com/v0dev/v0core/internal/constants"
	"github.com/v0dev/v0core/internal/opstate"
	"github.com/v0dev/v0core/internal/verr"
)

// allowed is the transition table; transitions not listed are forbidden.
var allowed = map[opstate.Phase][]opstate.Phase{
	opstate.PhaseInit:         {opstate.PhasePlanned, opstate.PhaseFailed},
	opstate.PhasePlanned:      {opstate.PhaseQueued, opstate.PhaseExecuting, opstate.PhaseFailed},
	opstate.PhaseQueued:       {opstate.PhaseExecuting, opstate.PhaseFailed},
	opstate.PhaseExecuting:    {opstate.PhaseCompleted, opstate.PhaseFailed, opstate.PhaseInterrupted},
	opstate.PhaseCompleted:    {opstate.PhasePendingMerge, opstate.PhaseMerged, opstate.PhaseFailed},
	opstate.PhasePendingMerge: {opstate.PhaseMerged, opstate.PhaseConflict, opstate.PhaseFailed},
	opstate.PhaseMerged:       {},
	opstate.PhaseFailed:       {opstate.PhaseInit, opstate.PhasePlanned, opstate.PhaseQueued},
	opstate.PhaseConflict:     {opstate.PhasePendingMerge, opstate.PhaseFailed},
	opstate.PhaseInterrupted:  {opstate.PhaseInit, opstate.PhasePlanned, opstate.PhaseQueued},
	opstate.PhaseCancelled:    {},
}

// Terminal returns whether p is a terminal phase.
func Terminal(p opstate.Phase) bool {
	return p == opstate.PhaseMerged || p == opstate.PhaseCancelled
}

func isAllowed(from, to opstate.Phase) bool {
	for _, p := range allowed[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Tracker is the subset of the Dependency Resolver (C7) the state machine
// invokes from its post-hooks.
type Tracker interface {
	MarkInProgress(epicID string) error
	MarkDone(epicID string) error
	CloseOpenPlanIssues(opName string) error
	NotifyDependents(opName string) error
	OpenIssueCount(opName string) (int, error)
}

// SessionChecker abstracts the terminal-multiplexer's "session exists?"
// query, the private half of the SessionController abstraction.
type SessionChecker interface {
	Exists(session string) (bool, error)
}

// BranchResolver abstracts the filesystem/git lookups the readiness
// predicate needs, so phase stays free of subprocess concerns.
type BranchResolver interface {
	WorktreeExists(path string) bool
	BranchExists(branch string) bool
}

// Machine drives phase transitions for one project's state store.
type Machine struct {
	Store    *opstate.Store
	Tracker  Tracker
	Sessions SessionChecker
	Branches BranchResolver
}

// New constructs a Machine.
func New(store *opstate.Store, tracker Tracker, sessions SessionChecker, branches BranchResolver) *Machine {
	return &Machine{Store: store, Tracker: tracker, Sessions: sessions, Branches: branches}
}

// TransitionTo performs one named transition: validates it, applies the
// transition-specific fields, emits an event, and runs post-hooks. args carries transition-specific data (merge_commit for merged,
// error for failed, plan_file for planned); unrecognized keys are ignored.
func (m *Machine) TransitionTo(op string, to opstate.Phase, args map[string]string) error {
	current, err := m.Store.Read(op)
	if err != nil {
		return err
	}

	// transition_to_merged on an already-merged operation is a no-op
	// success.
	if current.Phase == to && to == opstate.PhaseMerged {
		return nil
	}

	if Terminal(current.Phase) {
		return fmt.Errorf("%w: %s is terminal in phase %s", verr.ErrBadTransition, op, current.Phase)
	}
	if !isAllowed(current.Phase, to) {
		return fmt.Errorf("%w: %s -> %s not allowed from %s", verr.ErrBadTransition, current.Phase, to, op)
	}

	_, err = m.Store.BulkUpdate(op, func(o *opstate.Operation) {
		o.Phase = to
		applyTransitionArgs(o, to, args)
	})
	if err != nil {
		return err
	}
	_ = m.Store.EmitEvent(op, "phase:transition", fmt.Sprintf("%s -> %s", current.Phase, to))

	return m.runPostHooks(op, to)
}

func applyTransitionArgs(o *opstate.Operation, to opstate.Phase, args map[string]string) {
	if ms, ok := args["merge_status"]; ok {
		o.MergeStatus = opstate.MergeStatus(ms)
	}
	switch to {
	case opstate.PhaseMerged:
		if c, ok := args["merge_commit"]; ok {
			o.MergeCommit = c
		}
		now := time.Now().UTC()
		o.MergedAt = &now
		o.MergeStatus = opstate.MergeStatusMerged
	case opstate.PhaseFailed:
		if e, ok := args["error"]; ok {
			o.MergeError = e
		}
	case opstate.PhasePlanned:
		if p, ok := args["plan_file"]; ok {
			o.PlanFile = p
		}
	case opstate.PhaseCompleted:
		now := time.Now().UTC()
		o.CompletedAt = &now
	}
}

// runPostHooks implements the executing/merged/cancelled side effects that
// fire after a transition lands.
func (m *Machine) runPostHooks(op string, to opstate.Phase) error {
	switch to {
	case opstate.PhaseExecuting:
		o, err := m.Store.Read(op)
		if err != nil {
			return err
		}
		if o.EpicID != "" && m.Tracker != nil {
			if err := m.Tracker.MarkInProgress(o.EpicID); err != nil {
				return fmt.Errorf("marking %s in_progress: %w", o.EpicID, err)
			}
		}
	case opstate.PhaseMerged:
		o, err := m.Store.Read(op)
		if err != nil {
			return err
		}
		// Transitioning to merged with no epic_id attempts no tracker call at all.
		if o.EpicID != "" && m.Tracker != nil {
			if err := m.Tracker.MarkDone(o.EpicID); err != nil {
				return fmt.Errorf("marking %s done: %w", o.EpicID, err)
			}
			if err := m.Tracker.CloseOpenPlanIssues(op); err != nil {
				return fmt.Errorf("closing plan issues for %s: %w", op, err)
			}
		}
		if m.Tracker != nil {
			if err := m.Tracker.NotifyDependents(op); err != nil {
				return fmt.Errorf("notifying dependents of %s: %w", op, err)
			}
		}
	case opstate.PhaseCancelled:
		_, err := m.Store.BulkUpdate(op, func(o *opstate.Operation) {
			o.Held = false
			o.HeldAt = nil
		})
		return err
	}
	return nil
}

// Cancel is allowed from any non-terminal phase.
func (m *Machine) Cancel(op string) error {
	current, err := m.Store.Read(op)
	if err != nil {
		return err
	}
	if Terminal(current.Phase) {
		return fmt.Errorf("%w: %s is already terminal", verr.ErrBadTransition, op)
	}
	_, err = m.Store.BulkUpdate(op, func(o *opstate.Operation) {
		now := time.Now().UTC()
		o.Phase = opstate.PhaseCancelled
		o.CancelledAt = &now
	})
	if err != nil {
		return err
	}
	_ = m.Store.EmitEvent(op, "phase:transition", fmt.Sprintf("%s -> cancelled", current.Phase))
	return m.runPostHooks(op, opstate.PhaseCancelled)
}

// SetHold sets the orthogonal hold flag.
func (m *Machine) SetHold(op string) error {
	_, err := m.Store.BulkUpdate(op, func(o *opstate.Operation) {
		now := time.Now().UTC()
		o.Held = true
		o.HeldAt = &now
	})
	return err
}

// IsHeld reports whether the operation currently carries a hold.
func (m *Machine) IsHeld(op string) (bool, error) {
	o, err := m.Store.Read(op)
	if err != nil {
		return false, err
	}
	return o.Held, nil
}

// Resume clears the error state and computes the resume phase from history.
// actor distinguishes an auto-resume from a user-initiated one in the
// event log.
func (m *Machine) Resume(op string, actor string) (opstate.Phase, error) {
	o, err := m.Store.Read(op)
	if err != nil {
		return "", err
	}

	var target opstate.Phase
	switch o.Phase {
	case opstate.PhaseFailed, opstate.PhaseInterrupted, opstate.PhaseCancelled:
		switch {
		case o.EpicID != "":
			target = opstate.PhaseQueued
		case o.PlanFile != "":
			target = opstate.PhasePlanned
		default:
			target = opstate.PhaseInit
		}
	default:
		target = o.Phase
	}

	_, err = m.Store.BulkUpdate(op, func(o *opstate.Operation) {
		o.Phase = target
		o.MergeError = ""
		o.MergeResumed = true
		o.ResumeActor = actor
	})
	if err != nil {
		return "", err
	}
	_ = m.Store.EmitEvent(op, "phase:resume", fmt.Sprintf("actor=%s -> %s", actor, target))
	return target, nil
}

// ReadyReason enumerates merge_ready_reason diagnostic values.
type ReadyReason string

const (
	ReasonReady          ReadyReason = "ready"
	ReasonWorktreeMissing ReadyReason = "worktree:missing"
	ReasonBranchMissing  ReadyReason = "branch:missing"
	ReasonSessionActive  ReadyReason = "session:active"
)

// MergeReadyReason returns a diagnostic ReadyReason explaining whether op
// can be merged right now, and why not if not.
func (m *Machine) MergeReadyReason(op string) (ReadyReason, error) {
	o, err := m.Store.Read(op)
	if err != nil {
		return "", err
	}

	if !o.MergeQueued {
		return ReadyReason(fmt.Sprintf("phase:%s", o.Phase)), nil
	}
	if o.Phase != opstate.PhaseCompleted && o.Phase != opstate.PhasePendingMerge {
		return ReadyReason(fmt.Sprintf("phase:%s", o.Phase)), nil
	}

	if m.Branches != nil && !m.branchResolvable(o) {
		if o.Worktree != "" {
			return ReasonWorktreeMissing, nil
		}
		return ReasonBranchMissing, nil
	}

	if o.TmuxSession != "" && m.Sessions != nil {
		exists, err := m.Sessions.Exists(o.TmuxSession)
		if err != nil {
			return "", err
		}
		if exists {
			return ReasonSessionActive, nil
		}
	}

	if m.Tracker != nil && o.EpicID != "" {
		n, err := m.Tracker.OpenIssueCount(op)
		if err != nil {
			return "", err
		}
		if n > 0 {
			return ReadyReason(fmt.Sprintf("open_issues:%d", n)), nil
		}
	}

	return ReasonReady, nil
}

func (m *Machine) branchResolvable(o *opstate.Operation) bool {
	if o.Worktree != "" && m.Branches.WorktreeExists(o.Worktree) {
		return true
	}
	if o.Branch != "" && m.Branches.BranchExists(o.Branch) {
		return true
	}
	for _, prefix := range constants.ConventionalBranchPrefixes {
		if m.Branches.BranchExists(prefix + "/" + o.Name) {
			return true
		}
	}
	return false
}

// IsMergeReady is the boolean form of MergeReadyReason.
func (m *Machine) IsMergeReady(op string) (bool, error) {
	reason, err := m.MergeReadyReason(op)
	if err != nil {
		return false, err
	}
	return reason == ReasonReady, nil
}
