package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var waitTimeout time.Duration

var waitCmd = &cobra.Command{
	Use:   "wait <name>",
	Short: "Block until an operation's active tmux session exits",
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
		if o.TmuxSession == "" {
			fmt.Println("no active session recorded")
			return nil
		}
		return a.sessions.Wait(o.TmuxSession, waitTimeout, 2*time.Second)
	},
}

func init() {
	waitCmd.Flags().DurationVar(&waitTimeout, "timeout", 24*time.Hour, "max time to wait")
	rootCmd.AddCommand(waitCmd)
}
