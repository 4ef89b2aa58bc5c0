package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	// Telegram
	BotToken    string
	BotUsername string
	AdminID     int64

	// Telegram webhook mode; long polling when URL is empty
	TelegramWebhookURL    string
	TelegramWebhookSecret string

	// HTTP
	HTTPPort int

	// Database
	DBPath      string
	DatabaseURL string

	// Pricing
	Price        decimal.Decimal
	ReferralRate decimal.Decimal

	// CryptoCloud
	CryptoCloudAPIKey  string
	CryptoCloudShopID  string
	CryptoCloudBaseURL string
	CryptoCloudSecret  string

	// Withdrawal sessions
	SessionTTL time.Duration

	GuideURL string

	Logging LoggingConfig
}

// LoggingConfig controls the process logger
type LoggingConfig struct {
	Level         string
	Format        string
	IncludeCaller bool
}

func Load() *Config {
	return &Config{
		// Telegram
		BotToken:    getEnv("BOT_TOKEN", ""),
		BotUsername: strings.TrimPrefix(getEnv("BOT_USERNAME", ""), "@"),
		AdminID:     getEnvInt64("ADMIN_ID", 0),

		TelegramWebhookURL:    getEnv("TELEGRAM_WEBHOOK_URL", ""),
		TelegramWebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),

		// HTTP
		HTTPPort: getEnvInt("HTTP_PORT", 8000),

		// Database
		DBPath:      getEnv("DB_PATH", "./bot.db"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		// Pricing
		Price:        getEnvDecimal("PRICE_USDT", decimal.RequireFromString("1.00")),
		ReferralRate: getEnvDecimal("REFERRAL_RATE", decimal.RequireFromString("0.5")),

		// CryptoCloud
		CryptoCloudAPIKey:  getEnv("CRYPTOCLOUD_API_KEY", ""),
		CryptoCloudShopID:  getEnv("CRYPTOCLOUD_SHOP_ID", ""),
		CryptoCloudBaseURL: strings.TrimSuffix(getEnv("CRYPTOCLOUD_BASE_URL", "https://api.cryptocloud.plus/v2"), "/"),
		CryptoCloudSecret:  getEnv("CRYPTOCLOUD_SECRET", ""),

		SessionTTL: getEnvDuration("SESSION_TTL", 30*time.Minute),

		GuideURL: getEnv("GUIDE_URL", "https://telegra.ph/your-guide-post"),

		Logging: LoggingConfig{
			Level:         getEnv("LOG_LEVEL", "info"),
			Format:        getEnv("LOG_FORMAT", "text"),
			IncludeCaller: getEnvBool("LOG_CALLER", false),
		},
	}
}

// WebhookMode reports whether Telegram updates arrive over HTTP
func (c *Config) WebhookMode() bool {
	return c.TelegramWebhookURL != ""
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if val := os.Getenv(key); val != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(val)); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("45m") or plain seconds ("1800")
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}
