// Package notify delivers change notifications through the configured
// channels: Telegram bots and WeCom (enterprise WeChat) apps.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"pt-watch/internal/httpclient"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier sends messages through the bot API.
type TelegramNotifier struct {
	BotToken string
	ChatID   string
	// BaseURL is overridable for tests.
	BaseURL string
}

// Send posts one text message with link previews disabled.
func (n *TelegramNotifier) Send(ctx context.Context, client *http.Client, text string) error {
	if n.BotToken == "" || n.ChatID == "" {
		return fmt.Errorf("telegram is not configured")
	}
	base := n.BaseURL
	if base == "" {
		base = telegramAPIBase
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id":                  n.ChatID,
		"text":                     text,
		"disable_web_page_preview": true,
	})
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(base, "/") + "/bot" + n.BotToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	body, err := httpclient.ReadBody(resp, 1<<20)
	if err != nil {
		return fmt.Errorf("telegram read failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram sendMessage returned HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
