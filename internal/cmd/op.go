package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/v0dev/v0core/internal/opstate"
)

var opCmd = &cobra.Command{
	Use:   "op",
	Short: "Inspect and drive individual operations through the phase lifecycle",
}

var opPlanCmd = &cobra.Command{
	Use:   "plan <name>",
	Short: "Create a new operation in the planned phase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(rootProjectRoot)
		if err != nil {
			return err
		}
		if _, err := a.store.Create(args[0], opstate.TypeFeature); err != nil {
			return err
		}
		return a.phase.TransitionTo(args[0], opstate.PhasePlanned, nil)
	},
}

var opStatusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Print an operation's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(rootProjectRoot)
		if err != nil {
			return err
		}
		o, err := a.store.Read(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: phase=%s merge_status=%s held=%v\n", o.Name, o.Phase, o.MergeStatus, o.Held)
		return nil
	},
}

var opResumeCmd = &cobra.Command{
	Use:   "resume <name>",
	Short: "Resume a held or interrupted operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(rootProjectRoot)
		if err != nil {
			return err
		}
		p, err := a.phase.Resume(args[0], "resume:cli")
		if err != nil {
			return err
		}
		fmt.Printf("%s resumed into phase %s\n", args[0], p)
		return nil
	},
}

var opCancelCmd = &cobra.Command{
	Use:   "cancel <name>",
	Short: "Cancel an operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(rootProjectRoot)
		if err != nil {
			return err
		}
		return a.phase.Cancel(args[0])
	},
}

var opListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all known operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(rootProjectRoot)
		if err != nil {
			return err
		}
		names, err := a.store.List()
		if err != nil {
			return err
		}
		for _, n := range names {
			o, err := a.store.Read(n)
			if err != nil {
				continue
			}
			fmt.Printf("%s\t%s\n", o.Name, o.Phase)
		}
		return nil
	},
}

func init() {
	opCmd.AddCommand(opPlanCmd, opStatusCmd, opResumeCmd, opCancelCmd, opListCmd)
	rootCmd.AddCommand(opCmd)
}
