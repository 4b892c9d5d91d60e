package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/v0dev/v0core/internal/mergedaemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the merge daemon",
}

var daemonForeground bool

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the merge daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(rootProjectRoot)
		if err != nil {
			return err
		}
		if daemonForeground {
			return a.daemon.Run()
		}
		return a.daemon.EnsureRunning()
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the merge daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(rootProjectRoot)
		if err != nil {
			return err
		}
		return mergedaemon.Stop(a.pidFilePath())
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the merge daemon is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(rootProjectRoot)
		if err != nil {
			return err
		}
		fmt.Printf("daemon running: %v\n", a.daemon.Running())
		return nil
	},
}

func init() {
	daemonStartCmd.Flags().BoolVar(&daemonForeground, "foreground", false, "run in the foreground instead of forking")
	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}
