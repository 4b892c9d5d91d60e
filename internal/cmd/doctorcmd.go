package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/v0dev/v0core/internal/doctor"
)

var doctorFix bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks against the project and optionally repair them",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(rootProjectRoot)
		if err != nil {
			return err
		}
		checks := doctor.DefaultChecks(a.git)
		report := doctor.Run(a.doctorContext(), checks, doctorFix)
		fmt.Print(report.Summary())
		if report.HasErrors() {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "attempt to repair any check that reports it can")
	rootCmd.AddCommand(doctorCmd)
}
