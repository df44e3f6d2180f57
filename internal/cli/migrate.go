package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate up|down",
	Short:     "Apply or roll back the PostgreSQL schema",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		direction := args[0]
		if direction != "up" && direction != "down" {
			return fmt.Errorf("unknown direction %q; expected up or down", direction)
		}
		return getApp().Migrate(direction)
	},
}
