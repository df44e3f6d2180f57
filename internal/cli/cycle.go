package cli

import (
	"github.com/spf13/cobra"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one monitoring cycle and print its result as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Cycle(cmd.Context(), cmd.OutOrStdout())
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Run one monitoring cycle and print the comprehensive report",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Report(cmd.Context(), cmd.OutOrStdout())
	},
}
