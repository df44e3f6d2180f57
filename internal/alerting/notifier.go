package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"trading-monitor/internal/alert"
)

// telegramMaxText is the sendMessage text limit.
const telegramMaxText = 4096

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, severity alert.Severity, message string) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, severity alert.Severity, message string) error {
	payload := map[string]any{
		"chat_id":              n.chatID,
		"text":                 truncate(message, telegramMaxText),
		"disable_notification": severity < alert.SeverityHigh,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false: %s", result.Description)
		}
	}

	n.logger.Info().Str("severity", severity.String()).
		Int("length", len(message)).
		Msg("告警已发送 (Telegram)")
	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - len("\n…")
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut] + "\n…"
}

// LogNotifier writes notifications to the structured log. It is the sink
// used when no chat channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a log-backed notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs message at a level matching severity.
func (n *LogNotifier) Notify(_ context.Context, severity alert.Severity, message string) error {
	var ev *zerolog.Event
	switch severity {
	case alert.SeverityCritical, alert.SeverityHigh:
		ev = n.logger.Warn()
	default:
		ev = n.logger.Info()
	}
	ev.Str("severity", severity.String()).Msg(message)
	return nil
}

// Multi fans a notification out to every sink. All sinks are attempted;
// failures are joined.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, severity alert.Severity, message string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, severity, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MinSeverity drops notifications below a floor.
type MinSeverity struct {
	Min  alert.Severity
	Next Notifier
}

// Notify implements Notifier.
func (f MinSeverity) Notify(ctx context.Context, severity alert.Severity, message string) error {
	if severity < f.Min || f.Next == nil {
		return nil
	}
	return f.Next.Notify(ctx, severity, message)
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Multi(nil)
	_ Notifier = MinSeverity{}
)
