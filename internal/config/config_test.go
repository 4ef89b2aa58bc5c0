package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"BOT_USERNAME", "ADMIN_ID", "HTTP_PORT", "DB_PATH", "PRICE_USDT", "REFERRAL_RATE", "SESSION_TTL", "CRYPTOCLOUD_BASE_URL"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.HTTPPort != 8000 || cfg.DBPath != "./bot.db" || cfg.AdminID != 0 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !cfg.Price.Equal(decimal.NewFromInt(1)) || !cfg.ReferralRate.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("unexpected pricing %s %s", cfg.Price, cfg.ReferralRate)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("unexpected ttl %s", cfg.SessionTTL)
	}
	if cfg.CryptoCloudBaseURL != "https://api.cryptocloud.plus/v2" {
		t.Fatalf("unexpected base url %q", cfg.CryptoCloudBaseURL)
	}
	if cfg.WebhookMode() {
		t.Fatal("polling expected without TELEGRAM_WEBHOOK_URL")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BOT_USERNAME", "@paygate_bot")
	t.Setenv("ADMIN_ID", " 12345 ")
	t.Setenv("PRICE_USDT", "2.50")
	t.Setenv("REFERRAL_RATE", "not-a-number")
	t.Setenv("SESSION_TTL", "90")
	t.Setenv("CRYPTOCLOUD_BASE_URL", "http://localhost:9000/v2/")
	t.Setenv("TELEGRAM_WEBHOOK_URL", "https://example.com/webhook/telegram")

	cfg := Load()

	if cfg.BotUsername != "paygate_bot" {
		t.Fatalf("unexpected username %q", cfg.BotUsername)
	}
	if cfg.AdminID != 12345 {
		t.Fatalf("unexpected admin id %d", cfg.AdminID)
	}
	if !cfg.Price.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("unexpected price %s", cfg.Price)
	}
	if !cfg.ReferralRate.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("bad rate must fall back to default, got %s", cfg.ReferralRate)
	}
	if cfg.SessionTTL != 90*time.Second {
		t.Fatalf("unexpected ttl %s", cfg.SessionTTL)
	}
	if cfg.CryptoCloudBaseURL != "http://localhost:9000/v2" {
		t.Fatalf("unexpected base url %q", cfg.CryptoCloudBaseURL)
	}
	if !cfg.WebhookMode() {
		t.Fatal("webhook mode expected")
	}
}
