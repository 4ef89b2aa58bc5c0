package webhook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
)

// WebhookAPI is the part of the Bot API that registers webhooks
type WebhookAPI interface {
	SetWebhook(ctx context.Context, params *bot.SetWebhookParams) (bool, error)
	DeleteWebhook(ctx context.Context, params *bot.DeleteWebhookParams) (bool, error)
}

// Manager registers the Telegram webhook on startup and removes it on shutdown
type Manager struct {
	api    WebhookAPI
	url    string
	secret string
	log    *slog.Logger
}

// NewManager creates a new webhook manager
func NewManager(api WebhookAPI, url, secret string, log *slog.Logger) *Manager {
	return &Manager{
		api:    api,
		url:    url,
		secret: secret,
		log:    log,
	}
}

// Init points Telegram at our webhook URL
func (m *Manager) Init(ctx context.Context) error {
	if m.url == "" {
		m.log.Warn("telegram webhook url not set, skipping webhook init")
		return nil
	}

	ok, err := m.api.SetWebhook(ctx, &bot.SetWebhookParams{
		URL:         m.url,
		SecretToken: m.secret,
	})
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	if !ok {
		return fmt.Errorf("set webhook: rejected by telegram")
	}

	m.log.Info("telegram webhook set", "url", m.url)
	return nil
}

// Close removes the webhook so a later polling run receives updates
func (m *Manager) Close(ctx context.Context) {
	if m.url == "" {
		return
	}

	if _, err := m.api.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
		m.log.Error("delete webhook", "error", err)
		return
	}
	m.log.Info("telegram webhook deleted")
}
