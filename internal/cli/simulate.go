package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"trading-monitor/internal/app"
)

var (
	simulateSeverity string
	simulateTitle    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "发送一条合成告警以验证告警通道",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Severity: simulateSeverity,
			Title:    simulateTitle,
		})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSeverity, "severity", "high", "告警级别: low|medium|high|critical")
	simulateCmd.Flags().StringVar(&simulateTitle, "title", "", "告警标题")
}
