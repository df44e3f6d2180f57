package config

import (
	"fmt"

	"trading-monitor/internal/alert"
)

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Monitoring.Interval <= 0 {
		return fmt.Errorf("monitoring.interval must be greater than zero")
	}
	if c.Monitoring.DetectorTimeout <= 0 {
		return fmt.Errorf("monitoring.detector_timeout must be greater than zero")
	}
	if c.Monitoring.MaxActiveAlerts <= 0 {
		return fmt.Errorf("monitoring.max_active_alerts must be greater than zero")
	}
	if c.Monitoring.AlertRetention <= 0 {
		return fmt.Errorf("monitoring.alert_retention must be greater than zero")
	}
	if c.Monitoring.RateLimit.MaxAlertsPerPeriod <= 0 {
		return fmt.Errorf("monitoring.rate_limit.max_alerts_per_period must be greater than zero")
	}
	if c.Monitoring.RateLimit.Period <= 0 {
		return fmt.Errorf("monitoring.rate_limit.period must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}

	d := c.Detectors
	if d.Volatility.Enabled {
		if len(d.Volatility.Symbols) == 0 || len(d.Volatility.Periods) == 0 {
			return fmt.Errorf("detectors.volatility requires symbols and periods")
		}
		switch d.Volatility.Metric {
		case "stdev", "range", "atr":
		default:
			return fmt.Errorf("detectors.volatility.metric must be stdev, range or atr, got %q", d.Volatility.Metric)
		}
	}
	if d.Performance.Enabled {
		if len(d.Performance.Symbols) == 0 || len(d.Performance.Periods) == 0 {
			return fmt.Errorf("detectors.performance requires symbols and periods")
		}
		if d.Performance.BaselinePeriods <= 0 {
			return fmt.Errorf("detectors.performance.baseline_periods must be greater than zero")
		}
		if d.Performance.ExceptionalityFactor < 0 {
			return fmt.Errorf("detectors.performance.exceptionality_factor cannot be negative")
		}
	}
	if d.Frequency.Enabled && d.Frequency.Lookback <= 0 {
		return fmt.Errorf("detectors.frequency.lookback must be greater than zero")
	}
	if d.APIError.Enabled && d.APIError.Window <= 0 {
		return fmt.Errorf("detectors.api_error.window must be greater than zero")
	}
	if d.Portfolio.Enabled {
		if d.Portfolio.ConcentrationLimit <= 0 || d.Portfolio.ConcentrationLimit > 1 {
			return fmt.Errorf("detectors.portfolio.concentration_limit must be within (0, 1]")
		}
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Reporting.Enabled && c.Reporting.Schedule == "" {
		return fmt.Errorf("reporting.schedule must be set when reporting is enabled")
	}

	if c.Monitoring.StrictThresholds {
		if warnings := c.ThresholdWarnings(); len(warnings) > 0 {
			return fmt.Errorf("monitoring.strict_thresholds: %s", warnings[0])
		}
	}
	return nil
}

// ThresholdWarnings lists every threshold table whose tiers are out of order.
// Such tables still classify deterministically (most severe tier wins).
func (c *Config) ThresholdWarnings() []string {
	type entry struct {
		name       string
		table      alert.ThresholdTable
		descending bool
	}
	d := c.Detectors
	entries := []entry{
		{"detectors.volatility.thresholds", d.Volatility.Thresholds, false},
		{"detectors.performance.price_thresholds", d.Performance.PriceThresholds, false},
		{"detectors.performance.volume_thresholds", d.Performance.VolumeThresholds, false},
		{"detectors.frequency.hourly", d.Frequency.Hourly, false},
		{"detectors.frequency.daily", d.Frequency.Daily, false},
		{"detectors.frequency.weekly", d.Frequency.Weekly, false},
		{"detectors.frequency.consecutive", d.Frequency.Consecutive, false},
		{"detectors.frequency.holding_period", d.Frequency.HoldingPeriod, true},
		{"detectors.api_error.error_rate", d.APIError.ErrorRate, false},
		{"detectors.api_error.consecutive", d.APIError.Consecutive, false},
		{"detectors.api_error.error_kind_count", d.APIError.ErrorKindCount, false},
		{"detectors.portfolio.change_thresholds", d.Portfolio.ChangeThresholds, false},
		{"detectors.portfolio.concentration_thresholds", d.Portfolio.ConcentrationThreshold, false},
	}

	var warnings []string
	for _, e := range entries {
		var err error
		if e.descending {
			err = e.table.CheckDescending()
		} else {
			err = e.table.CheckAscending()
		}
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", e.name, err))
		}
	}
	return warnings
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
