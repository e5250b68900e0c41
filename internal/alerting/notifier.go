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

	"github.com/ArseniyBogdan/currency-converter-bot/internal/events"
)

// Notifier delivers a firing alert directly to its owner.
type Notifier interface {
	Notify(ctx context.Context, note events.Notification) error
}

// TelegramNotifier pushes alert messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the rendered alert text to the owner chat via sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note events.Notification) error {
	payload := map[string]string{
		"chat_id": fmt.Sprintf("%d", note.ChatID),
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
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Int64("chat_id", note.ChatID).
		Str("pair", note.BaseCurrency+"/"+note.TargetCurrency).
		Msg("alert delivered via telegram")
	return nil
}

func renderMessage(note events.Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("Alert triggered for %s/%s\n\n", note.BaseCurrency, note.TargetCurrency))
	builder.WriteString(fmt.Sprintf("Current rate: %s\n", note.NewRate.StringFixed(4)))
	if note.ChangePercent != nil {
		builder.WriteString(fmt.Sprintf("Change: %s%%\n", note.ChangePercent.StringFixed(2)))
	}
	builder.WriteString(fmt.Sprintf("Reason: %s\n\n", note.Reason))
	builder.WriteString("To manage alerts: /alert_list")
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
