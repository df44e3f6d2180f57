package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"trading-monitor/internal/alert"
	"trading-monitor/internal/storage"
)

const maxChartBuckets = 200

// Export renders persisted alert history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	keep, err := recordFilter(opts.MinSeverity, opts.Type)
	if err != nil {
		return err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer store.Close()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-a.Config.Monitoring.AlertRetention)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	all, err := store.ListAlertsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	records := make([]storage.AlertRecord, 0, len(all))
	for _, rec := range all {
		if keep(rec) {
			records = append(records, rec)
		}
	}
	if len(records) == 0 {
		a.Logger.Info().Time("from", from).Time("to", to).Msg("no alerts found for export window")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting alerts")

	if opts.CSVPath != "" {
		if err := writeAlertsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		// the chart counts every alert, not the downsampled rows
		if err := writeAlertsPNG(opts.PNGPath, records, from, to); err != nil {
			return err
		}
	}

	return nil
}

func recordFilter(minSeverity, typ string) (func(storage.AlertRecord) bool, error) {
	min := alert.SeverityLow
	if minSeverity != "" {
		sev, err := alert.ParseSeverity(minSeverity)
		if err != nil {
			return nil, err
		}
		min = sev
	}
	var want alert.Type
	if typ != "" {
		t, err := alert.ParseType(typ)
		if err != nil {
			return nil, err
		}
		want = t
	}
	return func(rec storage.AlertRecord) bool {
		if rec.Alert == nil || rec.Alert.Severity < min {
			return false
		}
		return want == "" || rec.Alert.Type == want
	}, nil
}

func downsampleRecords(records []storage.AlertRecord, max int) []storage.AlertRecord {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]storage.AlertRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeAlertsCSV(path string, records []storage.AlertRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "id", "type", "severity", "status", "source", "subject", "title", "measurement", "threshold", "resolved_at"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		al := rec.Alert
		subject := al.SubjectPair
		if subject == "" {
			subject = al.SubjectCoin
		}
		threshold := ""
		if al.ThresholdValue != nil {
			threshold = strconv.FormatFloat(*al.ThresholdValue, 'f', -1, 64)
		}
		resolved := ""
		if al.ResolvedAt != nil {
			resolved = al.ResolvedAt.UTC().Format(time.RFC3339)
		}
		row := []string{
			al.CreatedAt.UTC().Format(time.RFC3339),
			al.ID,
			string(al.Type),
			al.Severity.String(),
			string(al.Status),
			al.Source,
			subject,
			sanitizeInline(al.Title),
			strconv.FormatFloat(rec.Measurement, 'f', -1, 64),
			threshold,
			resolved,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return writer.Error()
}

type severityBuckets struct {
	starts []time.Time
	counts map[alert.Severity][]float64
}

// bucketBySeverity counts alerts per severity in equal-width buckets over [from, to).
func bucketBySeverity(records []storage.AlertRecord, from, to time.Time, buckets int) severityBuckets {
	if buckets < 2 {
		buckets = 2
	}
	width := to.Sub(from) / time.Duration(buckets)
	if width <= 0 {
		width = time.Second
	}

	out := severityBuckets{
		starts: make([]time.Time, buckets),
		counts: make(map[alert.Severity][]float64, len(alert.Severities)),
	}
	for i := range out.starts {
		out.starts[i] = from.Add(time.Duration(i) * width)
	}
	for _, sev := range alert.Severities {
		out.counts[sev] = make([]float64, buckets)
	}

	for _, rec := range records {
		offset := rec.Alert.CreatedAt.Sub(from)
		if offset < 0 {
			continue
		}
		idx := int(offset / width)
		if idx >= buckets {
			idx = buckets - 1
		}
		if series, ok := out.counts[rec.Alert.Severity]; ok {
			series[idx]++
		}
	}
	return out
}

var severityColors = map[alert.Severity]drawing.Color{
	alert.SeverityLow:      chart.ColorBlue,
	alert.SeverityMedium:   chart.ColorYellow,
	alert.SeverityHigh:     chart.ColorOrange,
	alert.SeverityCritical: chart.ColorRed,
}

func writeAlertsPNG(path string, records []storage.AlertRecord, from, to time.Time) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	buckets := bucketBySeverity(records, from, to, maxChartBuckets)

	series := make([]chart.Series, 0, len(alert.Severities))
	for _, sev := range alert.Severities {
		series = append(series, chart.TimeSeries{
			Name:    strings.ToUpper(sev.String()),
			XValues: buckets.starts,
			YValues: buckets.counts[sev],
			Style: chart.Style{
				StrokeColor: severityColors[sev],
				StrokeWidth: 2,
			},
		})
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Alerts per bucket",
			ValueFormatter: countFormatter,
			Range:          &chart.ContinuousRange{Min: 0, Max: maxCount(buckets) + 1},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func maxCount(b severityBuckets) float64 {
	max := 0.0
	for _, series := range b.counts {
		for _, v := range series {
			if v > max {
				max = v
			}
		}
	}
	return max
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
