package cmd

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/v0dev/v0core/internal/tui/feed"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show a live dashboard of every tracked operation",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(rootProjectRoot)
		if err != nil {
			return err
		}
		model := feed.New(feed.Source{Store: a.store, Queue: a.queue})
		_, err = tea.NewProgram(model).Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
