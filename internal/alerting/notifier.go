package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Kind 区分告警类型。
type Kind string

const (
	KindCommit  Kind = "commit"
	KindFailure Kind = "failure_streak"
)

// Notification 封装告警上下文。
type Notification struct {
	Kind      Kind
	Pair      string
	At        time.Time
	Rate      decimal.Decimal
	Previous  decimal.Decimal
	ChangePct *decimal.Decimal
	Reason    string
	Failures  int
	LastError string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
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
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
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
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false: %s", result.Description)
		}
	}

	n.logger.Info().Str("pair", note.Pair).
		Str("kind", string(note.Kind)).
		Msg("Alert sent (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	switch note.Kind {
	case KindFailure:
		builder.WriteString(fmt.Sprintf("[%s Oracle Updater] %d consecutive failed ticks\n", note.Pair, note.Failures))
		builder.WriteString(fmt.Sprintf("Since: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
		if note.LastError != "" {
			builder.WriteString(fmt.Sprintf("Last error: %s\n", note.LastError))
		}
	default:
		builder.WriteString(fmt.Sprintf("[%s Oracle Updater] rate committed\n", note.Pair))
		builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
		builder.WriteString(fmt.Sprintf("Rate: %s (previous %s)\n", note.Rate.String(), note.Previous.String()))
		if note.ChangePct != nil {
			builder.WriteString(fmt.Sprintf("Change: %s%%\n", note.ChangePct.StringFixed(3)))
		}
		builder.WriteString(fmt.Sprintf("Reason: %s\n", note.Reason))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
