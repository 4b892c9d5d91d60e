package cmd

import "testing"

func TestMergeEnqueueThenList(t *testing.T) {
	root := newTestProjectRoot(t)
	withProjectRoot(t, root)

	if err := opPlanCmd.RunE(opPlanCmd, []string{"op-a"}); err != nil {
		t.Fatalf("op plan: %v", err)
	}

	mergePriority = 5
	mergeIssueID = "TP-1"
	if err := mergeEnqueueCmd.RunE(mergeEnqueueCmd, []string{"op-a"}); err != nil {
		t.Fatalf("merge enqueue: %v", err)
	}

	if err := mergeListCmd.RunE(mergeListCmd, nil); err != nil {
		t.Fatalf("merge list: %v", err)
	}

	a, err := newApp(rootProjectRoot)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	entries, err := a.queue.AllPending()
	if err != nil {
		t.Fatalf("AllPending: %v", err)
	}
	if len(entries) != 1 || entries[0].Operation != "op-a" || entries[0].Priority != 5 {
		t.Fatalf("queue entries = %+v, want a single op-a entry at priority 5", entries)
	}
}

func TestMergeNextWithNothingReady(t *testing.T) {
	root := newTestProjectRoot(t)
	withProjectRoot(t, root)

	if err := mergeNextCmd.RunE(mergeNextCmd, nil); err != nil {
		t.Fatalf("merge next on an empty queue: %v", err)
	}
}
