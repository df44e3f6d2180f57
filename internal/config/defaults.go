package config

import "github.com/spf13/viper"

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tradewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 14)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("exchange.base_url", "https://api.binance.com")
	v.SetDefault("exchange.request_timeout", "10s")
	v.SetDefault("exchange.requests_per_second", 10.0)
	v.SetDefault("exchange.burst", 20)
	v.SetDefault("exchange.user_agent", "tradewatch/1.0")
	v.SetDefault("exchange.quote_asset", "USDT")
	v.SetDefault("exchange.call_log_size", 2000)

	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("monitoring.interval", "5m")
	v.SetDefault("monitoring.align_to_interval", true)
	v.SetDefault("monitoring.startup_delay", "0s")
	v.SetDefault("monitoring.detector_timeout", "60s")
	v.SetDefault("monitoring.max_active_alerts", 500)
	v.SetDefault("monitoring.alert_retention", "168h")
	v.SetDefault("monitoring.rate_limit.max_alerts_per_period", 10)
	v.SetDefault("monitoring.rate_limit.period", "1h")
	v.SetDefault("monitoring.strict_thresholds", false)

	v.SetDefault("detectors.volatility.enabled", true)
	v.SetDefault("detectors.volatility.symbols", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("detectors.volatility.periods", []string{"1h", "4h", "24h"})
	v.SetDefault("detectors.volatility.metric", "stdev")
	v.SetDefault("detectors.volatility.thresholds.low", 0.02)
	v.SetDefault("detectors.volatility.thresholds.medium", 0.05)
	v.SetDefault("detectors.volatility.thresholds.high", 0.10)
	v.SetDefault("detectors.volatility.thresholds.critical", 0.20)
	v.SetDefault("detectors.volatility.cooldown", "1h")

	v.SetDefault("detectors.performance.enabled", true)
	v.SetDefault("detectors.performance.symbols", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("detectors.performance.periods", []string{"1h", "24h"})
	v.SetDefault("detectors.performance.baseline_periods", 7)
	v.SetDefault("detectors.performance.exceptionality_factor", 2.0)
	v.SetDefault("detectors.performance.price_thresholds.low", 0.03)
	v.SetDefault("detectors.performance.price_thresholds.medium", 0.05)
	v.SetDefault("detectors.performance.price_thresholds.high", 0.10)
	v.SetDefault("detectors.performance.price_thresholds.critical", 0.20)
	v.SetDefault("detectors.performance.volume_thresholds.low", 2.0)
	v.SetDefault("detectors.performance.volume_thresholds.medium", 3.0)
	v.SetDefault("detectors.performance.volume_thresholds.high", 5.0)
	v.SetDefault("detectors.performance.volume_thresholds.critical", 10.0)
	v.SetDefault("detectors.performance.cooldown", "2h")

	v.SetDefault("detectors.frequency.enabled", true)
	v.SetDefault("detectors.frequency.lookback", "168h")
	v.SetDefault("detectors.frequency.consecutive_gap", "60m")
	v.SetDefault("detectors.frequency.hourly.low", 5)
	v.SetDefault("detectors.frequency.hourly.medium", 10)
	v.SetDefault("detectors.frequency.hourly.high", 20)
	v.SetDefault("detectors.frequency.hourly.critical", 50)
	v.SetDefault("detectors.frequency.daily.low", 20)
	v.SetDefault("detectors.frequency.daily.medium", 50)
	v.SetDefault("detectors.frequency.daily.high", 100)
	v.SetDefault("detectors.frequency.daily.critical", 200)
	v.SetDefault("detectors.frequency.weekly.low", 100)
	v.SetDefault("detectors.frequency.weekly.medium", 200)
	v.SetDefault("detectors.frequency.weekly.high", 400)
	v.SetDefault("detectors.frequency.weekly.critical", 800)
	v.SetDefault("detectors.frequency.consecutive.low", 5)
	v.SetDefault("detectors.frequency.consecutive.medium", 10)
	v.SetDefault("detectors.frequency.consecutive.high", 20)
	v.SetDefault("detectors.frequency.consecutive.critical", 40)
	v.SetDefault("detectors.frequency.holding_period.low", 60)
	v.SetDefault("detectors.frequency.holding_period.medium", 30)
	v.SetDefault("detectors.frequency.holding_period.high", 10)
	v.SetDefault("detectors.frequency.holding_period.critical", 2)
	v.SetDefault("detectors.frequency.max_alerts_per_symbol", 3)
	v.SetDefault("detectors.frequency.rate_period", "1h")
	v.SetDefault("detectors.frequency.cooldown", "1h")

	v.SetDefault("detectors.api_error.enabled", true)
	v.SetDefault("detectors.api_error.window", "15m")
	v.SetDefault("detectors.api_error.min_calls", 10)
	v.SetDefault("detectors.api_error.error_rate.low", 0.05)
	v.SetDefault("detectors.api_error.error_rate.medium", 0.10)
	v.SetDefault("detectors.api_error.error_rate.high", 0.25)
	v.SetDefault("detectors.api_error.error_rate.critical", 0.50)
	v.SetDefault("detectors.api_error.consecutive.low", 3)
	v.SetDefault("detectors.api_error.consecutive.medium", 5)
	v.SetDefault("detectors.api_error.consecutive.high", 10)
	v.SetDefault("detectors.api_error.consecutive.critical", 20)
	v.SetDefault("detectors.api_error.error_kind_count.low", 5)
	v.SetDefault("detectors.api_error.error_kind_count.medium", 10)
	v.SetDefault("detectors.api_error.error_kind_count.high", 25)
	v.SetDefault("detectors.api_error.error_kind_count.critical", 50)
	v.SetDefault("detectors.api_error.cooldown", "30m")

	v.SetDefault("detectors.portfolio.enabled", true)
	v.SetDefault("detectors.portfolio.periods", []string{"24h", "168h", "720h"})
	v.SetDefault("detectors.portfolio.change_thresholds.low", 0.05)
	v.SetDefault("detectors.portfolio.change_thresholds.medium", 0.10)
	v.SetDefault("detectors.portfolio.change_thresholds.high", 0.20)
	v.SetDefault("detectors.portfolio.change_thresholds.critical", 0.35)
	v.SetDefault("detectors.portfolio.concentration_limit", 0.5)
	v.SetDefault("detectors.portfolio.concentration_thresholds.low", 0.5)
	v.SetDefault("detectors.portfolio.concentration_thresholds.medium", 0.6)
	v.SetDefault("detectors.portfolio.concentration_thresholds.high", 0.75)
	v.SetDefault("detectors.portfolio.concentration_thresholds.critical", 0.9)
	v.SetDefault("detectors.portfolio.stable_assets", []string{"USDT", "USDC", "FDUSD", "DAI"})
	v.SetDefault("detectors.portfolio.cooldown", "6h")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", "127.0.0.1:8088")

	v.SetDefault("reporting.enabled", false)
	v.SetDefault("reporting.schedule", "0 0 8 * * *")

	v.SetDefault("export.max_data_points", 100000)
}
