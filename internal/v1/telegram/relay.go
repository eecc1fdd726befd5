// Package telegram is the thin adapter for the Telegram notification relay
// (spec §1 "Out of scope... consumed through thin adapters"; §4.5, §9
// "fire-and-forget side effects"). It has no retry policy and no queue: a
// failed send is logged and dropped, by design — the relay must never stall
// or fail the webhook request that triggered it.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	sendTimeout = 5 * time.Second
	apiBaseURL  = "https://api.telegram.org"
)

// Relay posts a message to a single Telegram chat via the Bot API.
type Relay struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	log      *zap.Logger
}

// New builds a Relay. When botToken or chatID is empty, NotifyNewMessage is
// a no-op (spec: "optional — fire-and-forget relay is a no-op without them").
func New(botToken, chatID string, log *zap.Logger) *Relay {
	return &Relay{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  apiBaseURL,
		client:   &http.Client{Timeout: sendTimeout},
		log:      log,
	}
}

func (r *Relay) enabled() bool {
	return r.botToken != "" && r.chatID != ""
}

type avitoMessagePreview struct {
	Text       string `json:"text"`
	AuthorName string `json:"authorName"`
	ChatID     string `json:"chatId"`
}

// NotifyNewMessage formats the incoming avito-new-message payload as a
// Telegram message and posts it. Called as `go relay.NotifyNewMessage(...)`
// from the webhook handler so its latency and failures never reach the
// caller (spec §9).
func (r *Relay) NotifyNewMessage(ctx context.Context, data json.RawMessage) {
	if !r.enabled() {
		return
	}

	var preview avitoMessagePreview
	_ = json.Unmarshal(data, &preview)

	text := "New Avito message"
	if preview.AuthorName != "" {
		text = fmt.Sprintf("New Avito message from %s", preview.AuthorName)
	}
	if preview.Text != "" {
		text = text + ": " + preview.Text
	}

	if err := r.send(ctx, text); err != nil {
		r.log.Warn("telegram: send failed", zap.Error(err))
	}
}

func (r *Relay) send(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]any{
		"chat_id": r.chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal request: %w", err)
	}

	url := r.baseURL + "/bot" + r.botToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
	}
	return nil
}
