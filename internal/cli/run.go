package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	runNoAPI    bool
	runInterval string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring loop, operator API and scheduled reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		if runNoAPI {
			a.Config.API.Enabled = false
		}
		if cmd.Flags().Changed("interval") {
			d, err := parsePositiveDuration(runInterval)
			if err != nil {
				return errors.New("--interval: " + err.Error())
			}
			a.Config.Monitoring.Interval = d
		}
		return a.Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().BoolVar(&runNoAPI, "no-api", false, "Disable the operator HTTP API")
	runCmd.Flags().StringVar(&runInterval, "interval", "", "Override monitoring.interval, e.g. 1m")
}
