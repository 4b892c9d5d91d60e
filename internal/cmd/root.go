// Package cmd provides the CLI commands for the v0 tool: command-per-file
// layout, package-level `var xCmd = &cobra.Command{...}` plus an init()
// wiring flags and AddCommand.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set by the build (ldflags) or defaults to "dev".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "v0",
	Short:   "v0 — operation orchestration core for autonomous coding agents",
	Version: Version,
	Long: `v0 drives long-running coding agents through a structured lifecycle:
plan, decompose into tracked issues, execute in an isolated workspace, and
merge into a shared branch — coordinating many such operations concurrently
while serializing writes to the target branch.`,
	PersistentPreRunE: persistentPreRun,
	SilenceUsage:      true,
}

var rootProjectRoot string

func init() {
	rootCmd.PersistentFlags().StringVar(&rootProjectRoot, "project-root", "", "project root (default: discovered from cwd)")
}

// exemptCommands skip the project-root resolution persistentPreRun
// otherwise performs for every command.
var exemptCommands = map[string]bool{
	"help":       true,
	"completion": true,
	"v0":         true,
}

func persistentPreRun(cmd *cobra.Command, args []string) error {
	if exemptCommands[cmd.Name()] {
		return nil
	}
	_, err := newApp(rootProjectRoot)
	return err
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
