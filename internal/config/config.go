package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"trading-monitor/internal/alert"
	"trading-monitor/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Ethereum   EthereumConfig   `mapstructure:"ethereum"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Detectors  DetectorsConfig  `mapstructure:"detectors"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	API        APIConfig        `mapstructure:"api"`
	Reporting  ReportingConfig  `mapstructure:"reporting"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the persistence backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Enabled reports whether any backend is configured.
func (d DatabaseConfig) Enabled() bool {
	switch d.Driver {
	case "sqlite":
		return d.Path != ""
	default:
		return d.DSN != ""
	}
}

// ExchangeConfig covers the market/account REST source.
type ExchangeConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	APISecret         string        `mapstructure:"api_secret"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	UserAgent         string        `mapstructure:"user_agent"`
	QuoteAsset        string        `mapstructure:"quote_asset"`
	CallLogSize       int           `mapstructure:"call_log_size"`
}

// EthereumConfig covers on-chain wallet holdings.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	WalletAddress  string        `mapstructure:"wallet_address"`
	Tokens         []TokenConfig `mapstructure:"tokens"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TokenConfig describes one ERC-20 token to value.
type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Address  string `mapstructure:"address"`
	Decimals int32  `mapstructure:"decimals"`
}

// MonitoringConfig governs the orchestrator cycle.
type MonitoringConfig struct {
	Interval         time.Duration   `mapstructure:"interval"`
	AlignToInterval  bool            `mapstructure:"align_to_interval"`
	StartupDelay     time.Duration   `mapstructure:"startup_delay"`
	DetectorTimeout  time.Duration   `mapstructure:"detector_timeout"`
	MaxActiveAlerts  int             `mapstructure:"max_active_alerts"`
	AlertRetention   time.Duration   `mapstructure:"alert_retention"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit"`
	StrictThresholds bool            `mapstructure:"strict_thresholds"`
}

// RateLimitConfig bounds admitted alerts per (type, severity).
type RateLimitConfig struct {
	MaxAlertsPerPeriod int           `mapstructure:"max_alerts_per_period"`
	Period             time.Duration `mapstructure:"period"`
}

// DetectorsConfig groups the five detector configurations.
type DetectorsConfig struct {
	Volatility  VolatilityConfig  `mapstructure:"volatility"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Frequency   FrequencyConfig   `mapstructure:"frequency"`
	APIError    APIErrorConfig    `mapstructure:"api_error"`
	Portfolio   PortfolioConfig   `mapstructure:"portfolio"`
}

// VolatilityConfig tunes the volatility detector.
type VolatilityConfig struct {
	Enabled    bool                 `mapstructure:"enabled"`
	Symbols    []string             `mapstructure:"symbols"`
	Periods    []time.Duration      `mapstructure:"periods"`
	Metric     string               `mapstructure:"metric"`
	Thresholds alert.ThresholdTable `mapstructure:"thresholds"`
	Cooldown   time.Duration        `mapstructure:"cooldown"`
}

// PerformanceConfig tunes the exceptional-performance detector.
type PerformanceConfig struct {
	Enabled              bool                 `mapstructure:"enabled"`
	Symbols              []string             `mapstructure:"symbols"`
	Periods              []time.Duration      `mapstructure:"periods"`
	BaselinePeriods      int                  `mapstructure:"baseline_periods"`
	ExceptionalityFactor float64              `mapstructure:"exceptionality_factor"`
	PriceThresholds      alert.ThresholdTable `mapstructure:"price_thresholds"`
	VolumeThresholds     alert.ThresholdTable `mapstructure:"volume_thresholds"`
	Cooldown             time.Duration        `mapstructure:"cooldown"`
}

// FrequencyConfig tunes the trading-frequency detector.
type FrequencyConfig struct {
	Enabled            bool                 `mapstructure:"enabled"`
	SyncSymbols        []string             `mapstructure:"sync_symbols"`
	Lookback           time.Duration        `mapstructure:"lookback"`
	ConsecutiveGap     time.Duration        `mapstructure:"consecutive_gap"`
	Hourly             alert.ThresholdTable `mapstructure:"hourly"`
	Daily              alert.ThresholdTable `mapstructure:"daily"`
	Weekly             alert.ThresholdTable `mapstructure:"weekly"`
	Consecutive        alert.ThresholdTable `mapstructure:"consecutive"`
	HoldingPeriod      alert.ThresholdTable `mapstructure:"holding_period"`
	MaxAlertsPerSymbol int                  `mapstructure:"max_alerts_per_symbol"`
	RatePeriod         time.Duration        `mapstructure:"rate_period"`
	Cooldown           time.Duration        `mapstructure:"cooldown"`
}

// APIErrorConfig tunes the API-error-rate detector.
type APIErrorConfig struct {
	Enabled        bool                 `mapstructure:"enabled"`
	Window         time.Duration        `mapstructure:"window"`
	MinCalls       int                  `mapstructure:"min_calls"`
	ErrorRate      alert.ThresholdTable `mapstructure:"error_rate"`
	Consecutive    alert.ThresholdTable `mapstructure:"consecutive"`
	ErrorKindCount alert.ThresholdTable `mapstructure:"error_kind_count"`
	Cooldown       time.Duration        `mapstructure:"cooldown"`
}

// PortfolioConfig tunes the portfolio-change detector.
type PortfolioConfig struct {
	Enabled                bool                 `mapstructure:"enabled"`
	Periods                []time.Duration      `mapstructure:"periods"`
	ChangeThresholds       alert.ThresholdTable `mapstructure:"change_thresholds"`
	ConcentrationLimit     float64              `mapstructure:"concentration_limit"`
	ConcentrationThreshold alert.ThresholdTable `mapstructure:"concentration_thresholds"`
	StableAssets           []string             `mapstructure:"stable_assets"`
	Cooldown               time.Duration        `mapstructure:"cooldown"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// APIConfig configures the operator HTTP surface.
type APIConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// ReportingConfig schedules the comprehensive report notification.
type ReportingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("TRADEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
