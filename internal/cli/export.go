package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"trading-monitor/internal/app"
)

var (
	exportFrom        string
	exportTo          string
	exportPNGPath     string
	exportCSVPath     string
	exportMaxRows     int
	exportMinSeverity string
	exportType        string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export persisted alert history as CSV rows and/or a PNG severity chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:     exportPNGPath,
			CSVPath:     exportCSVPath,
			MaxPoints:   exportMaxRows,
			MinSeverity: exportMinSeverity,
			Type:        exportType,
		}

		for flag, dst := range map[string]**time.Time{"from": &opts.From, "to": &opts.To} {
			raw, _ := cmd.Flags().GetString(flag)
			if raw == "" {
				continue
			}
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return fmt.Errorf("invalid --%s value: %w", flag, err)
			}
			*dst = &ts
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportFrom, "from", "", "Window start, RFC3339 (default: now minus monitoring.alert_retention)")
	f.StringVar(&exportTo, "to", "", "Window end, RFC3339, exclusive (default: now)")
	f.StringVar(&exportPNGPath, "png", "", "Write alert counts per severity as a PNG chart")
	f.StringVar(&exportCSVPath, "csv", "", "Write one CSV row per alert")
	f.IntVar(&exportMaxRows, "max-rows", 0, "Downsample CSV rows to at most this many (default: export.max_data_points)")
	f.StringVar(&exportMinSeverity, "min-severity", "", "Only export alerts at or above this severity")
	f.StringVar(&exportType, "type", "", "Only export alerts of this type")
}
