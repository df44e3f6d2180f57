package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	if err != nil {
		t.Fatalf("默认配置应可加载: %v", err)
	}
	if cfg.Monitoring.Interval != 5*time.Minute {
		t.Fatalf("interval 默认值错误: %s", cfg.Monitoring.Interval)
	}
	if len(cfg.Detectors.Volatility.Periods) != 3 || cfg.Detectors.Volatility.Periods[2] != 24*time.Hour {
		t.Fatalf("volatility periods 解析错误: %v", cfg.Detectors.Volatility.Periods)
	}
	if cfg.Detectors.Volatility.Thresholds.Medium != 0.05 {
		t.Fatalf("volatility thresholds 默认值错误: %+v", cfg.Detectors.Volatility.Thresholds)
	}
	if cfg.Database.Enabled() {
		t.Fatal("未配置 dsn 时数据库应视为未启用")
	}
	if warnings := cfg.ThresholdWarnings(); len(warnings) != 0 {
		t.Fatalf("默认阈值应单调: %v", warnings)
	}
}

func TestLoadRejectsNonMonotonicWhenStrict(t *testing.T) {
	body := `
monitoring:
  strict_thresholds: true
detectors:
  volatility:
    thresholds:
      low: 0.3
      medium: 0.05
      high: 0.1
      critical: 0.2
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("strict 模式下非单调阈值应报错")
	}
}

func TestLoadAcceptsNonMonotonicWithWarning(t *testing.T) {
	body := `
detectors:
  volatility:
    thresholds:
      low: 0.3
      medium: 0.05
      high: 0.1
      critical: 0.2
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("非 strict 模式应接受: %v", err)
	}
	if len(cfg.ThresholdWarnings()) != 1 {
		t.Fatalf("应报告一条阈值告警: %v", cfg.ThresholdWarnings())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"interval":  "monitoring:\n  interval: 0s\n",
		"capacity":  "monitoring:\n  max_active_alerts: 0\n",
		"metric":    "detectors:\n  volatility:\n    metric: variance\n",
		"driver":    "database:\n  driver: mysql\n",
		"telegram":  "alerting:\n  telegram:\n    enabled: true\n",
		"portfolio": "detectors:\n  portfolio:\n    concentration_limit: 1.5\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: 非法配置应报错", name)
		}
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("TRADEWATCH_MONITORING_MAX_ACTIVE_ALERTS", "42")
	cfg, err := Load(writeConfig(t, "app:\n  name: env\n"))
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Monitoring.MaxActiveAlerts != 42 {
		t.Fatalf("环境变量覆盖失败: %d", cfg.Monitoring.MaxActiveAlerts)
	}
}
