package tracker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/v0dev/v0core/internal/opstate"
)

// fakeWk writes an executable shell script masquerading as the wk binary,
// returning canned JSON for the given subcommand/args combinations.
func fakeWk(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wk")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("writing fake wk: %v", err)
	}
	return path
}

func TestShow(t *testing.T) {
	bin := fakeWk(t, `echo '{"id":"ISSUE-1","title":"demo","status":"todo","blocked_by":[]}'
`)
	trk := &Tracker{Bin: bin, Store: opstate.New(t.TempDir())}

	issue, err := trk.Show("ISSUE-1")
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if issue.ID != "ISSUE-1" || issue.Status != "todo" {
		t.Errorf("got %+v, want id=ISSUE-1 status=todo", issue)
	}
}

func TestMarkDoneNoOpOnEmptyID(t *testing.T) {
	trk := &Tracker{Bin: fakeWk(t, "exit 1\n"), Store: opstate.New(t.TempDir())}
	if err := trk.MarkDone(""); err != nil {
		t.Fatalf("MarkDone(\"\") should be a no-op, got: %v", err)
	}
}

func TestIsBlockedTrueWhenBlockerNotDone(t *testing.T) {
	bin := fakeWk(t, `case "$*" in
  "show --json ISSUE-1") echo '{"id":"ISSUE-1","status":"todo","blocked_by":["ISSUE-0"]}' ;;
  "show --json ISSUE-0") echo '{"id":"ISSUE-0","status":"todo","blocked_by":[]}' ;;
esac
`)
	trk := &Tracker{Bin: bin, Store: opstate.New(t.TempDir())}

	blocked, err := trk.IsBlocked("ISSUE-1")
	if err != nil {
		t.Fatalf("IsBlocked: %v", err)
	}
	if !blocked {
		t.Error("IsBlocked should report true when the blocker is still open")
	}
}

func TestIsBlockedFalseWhenBlockerDone(t *testing.T) {
	bin := fakeWk(t, `case "$*" in
  "show --json ISSUE-1") echo '{"id":"ISSUE-1","status":"todo","blocked_by":["ISSUE-0"]}' ;;
  "show --json ISSUE-0") echo '{"id":"ISSUE-0","status":"done","blocked_by":[]}' ;;
esac
`)
	trk := &Tracker{Bin: bin, Store: opstate.New(t.TempDir())}

	blocked, err := trk.IsBlocked("ISSUE-1")
	if err != nil {
		t.Fatalf("IsBlocked: %v", err)
	}
	if blocked {
		t.Error("IsBlocked should report false once every blocker is done")
	}
}

func TestOpenIssueCountCountsOnlyOpenOnes(t *testing.T) {
	bin := fakeWk(t, `echo '[{"id":"ISSUE-1","status":"todo"},{"id":"ISSUE-2","status":"done"},{"id":"ISSUE-3","status":"in_progress"}]'
`)
	trk := &Tracker{Bin: bin, Store: opstate.New(t.TempDir())}

	n, err := trk.OpenIssueCount("op-a")
	if err != nil {
		t.Fatalf("OpenIssueCount: %v", err)
	}
	if n != 2 {
		t.Errorf("OpenIssueCount() = %d, want 2", n)
	}
}

func TestResolveToOpNameScansOperations(t *testing.T) {
	store := opstate.New(t.TempDir())
	if _, err := store.Create("op-a", opstate.TypeFeature); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Update("op-a", func(o *opstate.Operation) { o.EpicID = "ISSUE-1" }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := store.Create("op-b", opstate.TypeFeature); err != nil {
		t.Fatalf("Create: %v", err)
	}

	trk := &Tracker{Store: store}
	name, err := trk.ResolveToOpName("ISSUE-1")
	if err != nil {
		t.Fatalf("ResolveToOpName: %v", err)
	}
	if name != "op-a" {
		t.Errorf("ResolveToOpName = %q, want op-a", name)
	}
}

func TestResolveToOpNameNoMatch(t *testing.T) {
	store := opstate.New(t.TempDir())
	if _, err := store.Create("op-a", opstate.TypeFeature); err != nil {
		t.Fatalf("Create: %v", err)
	}

	trk := &Tracker{Store: store}
	name, err := trk.ResolveToOpName("ISSUE-404")
	if err != nil {
		t.Fatalf("ResolveToOpName: %v", err)
	}
	if name != "" {
		t.Errorf("ResolveToOpName = %q, want empty", name)
	}
}

// fakeResumer records which operations were resumed, simulating
// *phase.Machine without importing the phase package.
type fakeResumer struct {
	held    map[string]bool
	resumed []string
}

func (f *fakeResumer) IsHeld(op string) (bool, error) {
	return f.held[op], nil
}

func (f *fakeResumer) Resume(op string, actor string) (opstate.Phase, error) {
	f.resumed = append(f.resumed, op)
	return opstate.PhaseQueued, nil
}

func TestNotifyDependentsByIssueResumesUnblockedKnownOps(t *testing.T) {
	bin := fakeWk(t, `case "$*" in
  "list --json --blocking=ISSUE-0") echo '[{"id":"ISSUE-1"},{"id":"ISSUE-2"}]' ;;
  "show --json ISSUE-1") echo '{"id":"ISSUE-1","status":"todo","blocked_by":[]}' ;;
  "show --json ISSUE-2") echo '{"id":"ISSUE-2","status":"todo","blocked_by":["ISSUE-9"]}' ;;
  "show --json ISSUE-9") echo '{"id":"ISSUE-9","status":"todo","blocked_by":[]}' ;;
esac
`)
	store := opstate.New(t.TempDir())
	if _, err := store.Create("op-a", opstate.TypeFeature); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Update("op-a", func(o *opstate.Operation) { o.EpicID = "ISSUE-1" }); err != nil {
		t.Fatalf("Update: %v", err)
	}

	resumer := &fakeResumer{held: map[string]bool{}}
	trk := &Tracker{Bin: bin, Store: store, Resumer: resumer}

	if err := trk.NotifyDependentsByIssue("ISSUE-0"); err != nil {
		t.Fatalf("NotifyDependentsByIssue: %v", err)
	}

	if len(resumer.resumed) != 1 || resumer.resumed[0] != "op-a" {
		t.Errorf("resumed = %v, want [op-a] (ISSUE-1 maps to a known unblocked op; ISSUE-2 is still blocked and has no known op)", resumer.resumed)
	}
}

func TestNotifyDependentsByIssueSkipsHeldOps(t *testing.T) {
	bin := fakeWk(t, `case "$*" in
  "list --json --blocking=ISSUE-0") echo '[{"id":"ISSUE-1"}]' ;;
  "show --json ISSUE-1") echo '{"id":"ISSUE-1","status":"todo","blocked_by":[]}' ;;
esac
`)
	store := opstate.New(t.TempDir())
	if _, err := store.Create("op-a", opstate.TypeFeature); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Update("op-a", func(o *opstate.Operation) { o.EpicID = "ISSUE-1" }); err != nil {
		t.Fatalf("Update: %v", err)
	}

	resumer := &fakeResumer{held: map[string]bool{"op-a": true}}
	trk := &Tracker{Bin: bin, Store: store, Resumer: resumer}

	if err := trk.NotifyDependentsByIssue("ISSUE-0"); err != nil {
		t.Fatalf("NotifyDependentsByIssue: %v", err)
	}
	if len(resumer.resumed) != 0 {
		t.Errorf("resumed = %v, want none (op-a is held)", resumer.resumed)
	}
}
