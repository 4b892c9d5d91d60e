package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/v0dev/v0core/internal/opstate"
	"github.com/v0dev/v0core/internal/workspace"
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage an operation's dedicated checkout",
}

// operationWorkspace builds the Workspace description for a named
// operation, inferring mode/remote from project config when the operation
// itself hasn't recorded a worktree path yet.
func operationWorkspace(a *app, o *opstate.Operation) workspace.Workspace {
	mode := workspace.ModeWorktree
	if a.cfg.InferredWorkspaceMode() == "clone" {
		mode = workspace.ModeClone
	}
	return workspace.Workspace{
		Path:         o.Worktree,
		Mode:         mode,
		TargetBranch: o.Branch,
		MainRepoDir:  a.cfg.ProjectRoot,
		Remote:       a.cfg.GitRemote,
	}
}

var workspaceEnsureCmd = &cobra.Command{
	Use:   "ensure <name>",
	Short: "Create or repair an operation's workspace",
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
		return a.workspace.EnsureWorkspace(operationWorkspace(a, o))
	},
}

var workspaceValidateCmd = &cobra.Command{
	Use:   "validate <name>",
	Short: "Validate an operation's workspace is intact",
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
		if err := a.workspace.Validate(operationWorkspace(a, o)); err != nil {
			return err
		}
		fmt.Println("workspace valid")
		return nil
	},
}

var workspaceSyncCmd = &cobra.Command{
	Use:   "sync <name>",
	Short: "Sync an operation's workspace to its target branch",
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
		return a.workspace.SyncToTargetBranch(operationWorkspace(a, o))
	},
}

var workspaceRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove an operation's workspace",
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
		return a.workspace.Remove(operationWorkspace(a, o))
	},
}

func init() {
	workspaceCmd.AddCommand(workspaceEnsureCmd, workspaceValidateCmd, workspaceSyncCmd, workspaceRemoveCmd)
	rootCmd.AddCommand(workspaceCmd)
}
