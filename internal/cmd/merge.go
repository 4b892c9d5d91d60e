package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Inspect and drive the merge queue",
}

var mergePriority int
var mergeIssueID string

var mergeEnqueueCmd = &cobra.Command{
	Use:   "enqueue <name>",
	Short: "Enqueue an operation for merging into the target branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(rootProjectRoot)
		if err != nil {
			return err
		}
		return a.queue.Enqueue(args[0], mergePriority, mergeIssueID)
	},
}

var mergeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all pending merge queue entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(rootProjectRoot)
		if err != nil {
			return err
		}
		entries, err := a.queue.AllPending()
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s\tpriority=%d\tstatus=%s\n", e.Operation, e.Priority, e.Status)
		}
		return nil
	},
}

var mergeNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Print the next merge-ready operation, if any",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(rootProjectRoot)
		if err != nil {
			return err
		}
		op, err := a.queue.GetNextReady(a.phase)
		if err != nil {
			return err
		}
		if op == "" {
			fmt.Println("no merge-ready operation")
			return nil
		}
		fmt.Println(op)
		return nil
	},
}

var mergeProcessCmd = &cobra.Command{
	Use:   "process <name>",
	Short: "Run the merge executor against one operation immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(rootProjectRoot)
		if err != nil {
			return err
		}
		return a.executor.Process(args[0])
	},
}

func init() {
	mergeEnqueueCmd.Flags().IntVar(&mergePriority, "priority", 0, "queue priority (lower runs first)")
	mergeEnqueueCmd.Flags().StringVar(&mergeIssueID, "issue", "", "tracker issue id associated with this merge")
	mergeCmd.AddCommand(mergeEnqueueCmd, mergeListCmd, mergeNextCmd, mergeProcessCmd)
	rootCmd.AddCommand(mergeCmd)
}
