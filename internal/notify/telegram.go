package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ameistad/shipyard/internal/config"
	"github.com/ameistad/shipyard/internal/constants"
	"github.com/ameistad/shipyard/internal/logging"
	"golang.org/x/time/rate"
)

// Telegram posts to the Bot API sendMessage method, once per recipient.
type Telegram struct {
	client     *http.Client
	apiURL     string
	token      string
	recipients []string
	limiter    *rate.Limiter
}

func NewTelegram(cfg config.NotifyConfig) *Telegram {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultNotifyTimeout
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = constants.DefaultTelegramAPIURL
	}
	return &Telegram{
		client:     &http.Client{Timeout: timeout},
		apiURL:     strings.TrimRight(apiURL, "/"),
		token:      cfg.BotToken,
		recipients: cfg.Recipients,
		// The Bot API allows roughly one message per second per chat.
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send delivers msg to every recipient. One failing recipient does not stop
// the others; the failures are collected into a DeliveryError.
func (t *Telegram) Send(ctx context.Context, msg Message) error {
	logger := logging.FromContext(ctx)
	text := msg.Text(constants.DefaultMessageLimit)

	failed := map[string]error{}
	for _, chatID := range t.recipients {
		if err := t.limiter.Wait(ctx); err != nil {
			failed[chatID] = err
			continue
		}
		if err := t.send(ctx, chatID, text); err != nil {
			logger.Warn("telegram delivery failed", "chat_id", chatID, "error", err)
			failed[chatID] = err
			continue
		}
		logger.Debug("telegram message sent", "chat_id", chatID)
	}
	if len(failed) > 0 {
		return &DeliveryError{Attempted: len(t.recipients), Failed: failed}
	}
	return nil
}

func (t *Telegram) send(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text, DisableWebPagePreview: true})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of logs.
		return fmt.Errorf("failed to reach telegram: %s", strings.ReplaceAll(err.Error(), t.token, "***"))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var parsed sendMessageResponse
	_ = json.Unmarshal(raw, &parsed)
	if resp.StatusCode >= 400 || !parsed.OK {
		if parsed.Description != "" {
			return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, parsed.Description)
		}
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}
