package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/suspectuso/paygate-bot/internal/admin"
	"github.com/suspectuso/paygate-bot/internal/config"
	"github.com/suspectuso/paygate-bot/internal/cryptocloud"
	"github.com/suspectuso/paygate-bot/internal/logging"
	"github.com/suspectuso/paygate-bot/internal/notifier"
	"github.com/suspectuso/paygate-bot/internal/payment"
	"github.com/suspectuso/paygate-bot/internal/storage"
	"github.com/suspectuso/paygate-bot/internal/storage/postgres"
	"github.com/suspectuso/paygate-bot/internal/telegram"
	"github.com/suspectuso/paygate-bot/internal/webhook"
	"github.com/suspectuso/paygate-bot/internal/withdraw"
)

func main() {
	// Load .env file
	envErr := godotenv.Load()

	// Load config
	cfg := config.Load()

	// Setup logger
	log := logging.New(cfg.Logging)
	slog.SetDefault(log)

	if envErr != nil {
		log.Debug("no .env file found")
	}

	if cfg.BotToken == "" {
		log.Error("BOT_TOKEN is required")
		os.Exit(1)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	ledger, err := openLedger(ctx, cfg, log)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer ledger.Close()

	// Initialize CryptoCloud client
	provider := cryptocloud.NewClient(cfg.CryptoCloudBaseURL, cfg.CryptoCloudAPIKey, cfg.CryptoCloudShopID)
	if cfg.CryptoCloudAPIKey == "" {
		log.Warn("CRYPTOCLOUD_API_KEY not set, using hosted pay links")
	}

	// Initialize telegram bot
	bot, err := telegram.New(cfg, log)
	if err != nil {
		log.Error("init telegram bot", "error", err)
		os.Exit(1)
	}
	log.Info("telegram bot initialized", "webhook_mode", cfg.WebhookMode())

	// Initialize notifier and core services
	notify := notifier.New(cfg.AdminID, cfg.GuideURL, bot, log)
	if cfg.AdminID == 0 {
		log.Warn("ADMIN_ID not set, withdrawal requests will not reach an administrator")
	}

	payments := payment.NewService(ledger, provider, notify, cfg.Price, cfg.ReferralRate, log)
	sessions := withdraw.NewSessions(cfg.SessionTTL)
	withdrawals := withdraw.New(ledger, sessions, notify, log)
	admins := admin.New(cfg.AdminID, ledger, notify, log)

	bot.Use(telegram.Services{
		Users:       ledger,
		Payments:    payments,
		Withdrawals: withdrawals,
		Admin:       admins,
	})

	// Start HTTP server
	var tgHandler http.Handler
	if cfg.WebhookMode() {
		tgHandler = bot.WebhookHandler()
	}
	server := webhook.NewServer(payments, tgHandler, cfg.TelegramWebhookSecret, cfg.CryptoCloudSecret, log)
	go func() {
		if err := server.Start(ctx, cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			log.Error("webhook server", "error", err)
		}
	}()

	// Initialize telegram webhook
	manager := webhook.NewManager(bot.GetBot(), cfg.TelegramWebhookURL, cfg.TelegramWebhookSecret, log)
	if cfg.WebhookMode() {
		if err := manager.Init(ctx); err != nil {
			log.Error("init telegram webhook", "error", err)
			os.Exit(1)
		}
	}

	// Start session sweeper
	go sessions.SweepLoop(ctx, time.Minute, log)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	log.Info("starting bot...")
	bot.Start(ctx)

	if cfg.WebhookMode() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		manager.Close(closeCtx)
		closeCancel()
	}
}

// openLedger picks PostgreSQL when DATABASE_URL is set and SQLite otherwise
func openLedger(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Ledger, error) {
	if cfg.DatabaseURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		store, err := postgres.New(connectCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Info("storage initialized", "driver", "postgres")
		return store, nil
	}

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	log.Info("storage initialized", "driver", "sqlite", "path", cfg.DBPath)
	return store, nil
}
