package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"

	"github.com/suspectuso/paygate-bot/internal/address"
	"github.com/suspectuso/paygate-bot/internal/admin"
	"github.com/suspectuso/paygate-bot/internal/config"
	"github.com/suspectuso/paygate-bot/internal/payment"
	"github.com/suspectuso/paygate-bot/internal/storage"
	"github.com/suspectuso/paygate-bot/internal/withdraw"
)

// api is the subset of the Bot API the handlers call
type api interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	GetMe(ctx context.Context) (*models.User, error)
}

// Users is the part of the ledger the chat needs directly
type Users interface {
	EnsureUser(ctx context.Context, userID int64, referrerID *int64) (bool, error)
	GetUser(ctx context.Context, userID int64) (*storage.User, error)
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
}

// Services are the core components the chat dispatches into
type Services struct {
	Users       Users
	Payments    *payment.Service
	Withdrawals *withdraw.Workflow
	Admin       *admin.Handler
}

// Bot wraps the telegram bot with handlers
type Bot struct {
	bot *bot.Bot
	api api
	cfg *config.Config
	svc Services
	log *slog.Logger

	mu       sync.Mutex
	username string
}

// New creates a new telegram bot. Services must be attached with Use
// before updates are processed.
func New(cfg *config.Config, log *slog.Logger) (*Bot, error) {
	b := newBot(nil, cfg, log)

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
		bot.WithCallbackQueryDataHandler("", bot.MatchTypePrefix, b.callbackHandler),
	}

	tgBot, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	b.bot = tgBot
	b.api = tgBot

	// Register command handlers
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start ", bot.MatchTypePrefix, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/withdrawals", bot.MatchTypeExact, b.withdrawalsHandler)

	return b, nil
}

func newBot(client api, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:      client,
		cfg:      cfg,
		log:      log,
		username: cfg.BotUsername,
	}
}

// Use attaches the core services
func (b *Bot) Use(svc Services) {
	b.svc = svc
}

// Start processes updates until ctx is done, by long polling or, when a
// webhook URL is configured, from the HTTP handler.
func (b *Bot) Start(ctx context.Context) {
	if b.cfg.WebhookMode() {
		b.bot.StartWebhook(ctx)
		return
	}
	b.bot.Start(ctx)
}

// WebhookHandler serves Telegram webhook deliveries
func (b *Bot) WebhookHandler() http.Handler {
	return b.bot.WebhookHandler()
}

// GetBot returns the underlying bot instance
func (b *Bot) GetBot() *bot.Bot {
	return b.bot
}

// --- Handlers ---

func (b *Bot) startHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	msg := update.Message
	userID := msg.From.ID

	paid, err := b.svc.Users.EnsureUser(ctx, userID, parseReferrer(msg.Text, userID))
	if err != nil {
		b.log.Error("ensure user", "user_id", userID, "error", err)
		b.sendMessage(ctx, msg.Chat.ID, "❌ Сервис временно недоступен, попробуйте позже.", nil)
		return
	}

	if !paid {
		b.sendMessage(ctx, msg.Chat.ID,
			"👋 Добро пожаловать!\nНажмите «Продолжить», чтобы начать.",
			ContinueKeyboard(),
		)
		return
	}

	b.showMainMenu(ctx, msg.Chat.ID)
}

func (b *Bot) withdrawalsHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	msg := update.Message
	ws, err := b.svc.Admin.Pending(ctx, msg.From.ID)
	if errors.Is(err, admin.ErrUnauthorized) {
		return
	}
	if err != nil {
		b.log.Error("list pending withdrawals", "error", err)
		b.sendMessage(ctx, msg.Chat.ID, "❌ Не удалось получить заявки.", nil)
		return
	}

	b.sendMessage(ctx, msg.Chat.ID, pendingText(ws), nil)
}

func (b *Bot) defaultHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Text == "" {
		return
	}

	msg := update.Message
	if strings.HasPrefix(msg.Text, "/") {
		return
	}

	b.dispatch(ctx, msg.From.ID, msg.Chat.ID, withdraw.Input{Text: msg.Text})
}

func (b *Bot) callbackHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	cb := update.CallbackQuery
	userID := cb.From.ID
	chatID := chatOf(cb)

	// Answer callback to remove loading state
	if _, err := b.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
	}); err != nil {
		b.log.Debug("answer callback", "error", err)
	}

	c, ok := parseCallback(cb.Data)
	if !ok {
		b.log.Warn("unknown callback", "data", cb.Data, "user_id", userID)
		return
	}

	switch c.action {
	case cbContinue:
		b.handleContinue(ctx, userID, chatID)
	case cbPay:
		b.handlePay(ctx, userID, chatID)
	case cbBalance:
		b.handleBalance(ctx, userID, chatID)
	case cbRefLink:
		b.handleRefLink(ctx, userID, chatID)
	case cbWithdraw:
		b.dispatch(ctx, userID, chatID, withdraw.Begin{})
	case cbNetworkPrefix:
		b.dispatch(ctx, userID, chatID, withdraw.ChooseNetwork{Network: c.network})
	case cbWithdrawOK:
		b.dispatch(ctx, userID, chatID, withdraw.Confirm{})
	case cbWithdrawCancel:
		b.dispatch(ctx, userID, chatID, withdraw.Cancel{})
	case cbApprovePrefix:
		b.handleDecision(ctx, userID, chatID, c.userID, true)
	case cbRejectPrefix:
		b.handleDecision(ctx, userID, chatID, c.userID, false)
	}
}

func (b *Bot) showMainMenu(ctx context.Context, chatID int64) {
	b.sendMessage(ctx, chatID, "🎉 Добро пожаловать! Вот ваше меню:", MainKeyboard(b.cfg.GuideURL))
}

func (b *Bot) handleContinue(ctx context.Context, userID, chatID int64) {
	u, err := b.svc.Users.GetUser(ctx, userID)
	if err == nil && u.Paid {
		b.showMainMenu(ctx, chatID)
		return
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		b.log.Error("get user", "user_id", userID, "error", err)
	}

	b.sendMessage(ctx, chatID, "✅ Отлично, теперь переходим к оплате!", nil)
	b.sendMessage(ctx, chatID,
		"💳 Чтобы получить доступ, подтвердите оплату:",
		PayKeyboard(b.svc.Payments.Price()),
	)
}

func (b *Bot) handlePay(ctx context.Context, userID, chatID int64) {
	if _, err := b.svc.Users.EnsureUser(ctx, userID, nil); err != nil {
		b.log.Error("ensure user", "user_id", userID, "error", err)
		b.sendMessage(ctx, chatID, "❌ Ошибка при создании оплаты.", nil)
		return
	}

	co, err := b.svc.Payments.Checkout(ctx, userID)
	if err != nil {
		b.log.Error("checkout", "user_id", userID, "error", err)
		b.sendMessage(ctx, chatID, "❌ Ошибка при создании оплаты.", nil)
		return
	}

	text := fmt.Sprintf("✅ Оплата создана на %s USDT:\n%s",
		co.Amount.StringFixed(2), html.EscapeString(co.Link))

	png, err := qrcode.Encode(co.Link, qrcode.Medium, 256)
	if err != nil {
		b.log.Warn("encode payment qr", "order_id", co.OrderID, "error", err)
		b.sendMessage(ctx, chatID, text, CheckoutKeyboard(co.Link))
		return
	}

	_, err = b.api.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:      chatID,
		Photo:       &models.InputFileUpload{Filename: co.OrderID + ".png", Data: bytes.NewReader(png)},
		Caption:     text,
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: CheckoutKeyboard(co.Link),
	})
	if err != nil {
		b.log.Warn("send payment qr", "order_id", co.OrderID, "error", err)
		b.sendMessage(ctx, chatID, text, CheckoutKeyboard(co.Link))
	}
}

func (b *Bot) handleBalance(ctx context.Context, userID, chatID int64) {
	balance, err := b.svc.Users.GetBalance(ctx, userID)
	if err != nil {
		b.log.Error("get balance", "user_id", userID, "error", err)
		return
	}

	b.sendMessage(ctx, chatID, fmt.Sprintf("💰 Ваш баланс: %s USDT", balance.StringFixed(2)), nil)
}

func (b *Bot) handleRefLink(ctx context.Context, userID, chatID int64) {
	u, err := b.svc.Users.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		b.log.Error("get user", "user_id", userID, "error", err)
		return
	}
	if u == nil || !u.Paid {
		b.sendMessage(ctx, chatID, "❌ Реферальная ссылка доступна только после оплаты.", nil)
		return
	}

	username, err := b.botUsername(ctx)
	if err != nil {
		b.log.Error("get bot username", "error", err)
		return
	}

	b.sendMessage(ctx, chatID,
		fmt.Sprintf("🔗 Ваша реферальная ссылка:\nhttps://t.me/%s?start=%d", username, userID),
		nil,
	)
}

// dispatch feeds a withdrawal event into the workflow and renders the reply
func (b *Bot) dispatch(ctx context.Context, userID, chatID int64, ev withdraw.Event) {
	r, err := b.svc.Withdrawals.Dispatch(ctx, userID, ev)
	if err != nil {
		b.log.Error("withdrawal", "user_id", userID, "event", fmt.Sprintf("%T", ev), "error", err)
		b.sendMessage(ctx, chatID, "❌ Не удалось обработать запрос, попробуйте позже.", nil)
		return
	}

	text, keyboard := withdrawalReply(ev, r)
	if text == "" {
		return
	}
	b.sendMessage(ctx, chatID, text, keyboard)
}

func (b *Bot) handleDecision(ctx context.Context, actorID, chatID, userID int64, approve bool) {
	var (
		ws  []storage.Withdrawal
		err error
	)
	if approve {
		ws, err = b.svc.Admin.Approve(ctx, actorID, userID)
	} else {
		ws, err = b.svc.Admin.Reject(ctx, actorID, userID)
	}

	if errors.Is(err, admin.ErrUnauthorized) {
		b.log.Warn("admin action by non-admin", "actor_id", actorID, "user_id", userID)
		return
	}
	if err != nil {
		b.log.Error("admin decision", "user_id", userID, "approve", approve, "error", err)
		b.sendMessage(ctx, chatID, "❌ Не удалось обработать заявку.", nil)
		return
	}

	b.sendMessage(ctx, chatID, decisionText(userID, approve, len(ws)), nil)
}

// --- Helpers ---

func (b *Bot) botUsername(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.username != "" {
		return b.username, nil
	}

	me, err := b.api.GetMe(ctx)
	if err != nil {
		return "", err
	}
	b.username = me.Username
	return b.username, nil
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.api.SendMessage(ctx, params)
	if err != nil {
		b.log.Error("send message", "error", err)
	}
}

// SendNotification sends a notification message to a user
func (b *Bot) SendNotification(ctx context.Context, userID int64, text string, keyboard *models.InlineKeyboardMarkup) error {
	disablePreview := true
	params := &bot.SendMessageParams{
		ChatID:    userID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.api.SendMessage(ctx, params)
	return err
}

// chatOf returns the chat a button was pressed in. Private chats share the user's id.
func chatOf(cb *models.CallbackQuery) int64 {
	if cb.Message.Message != nil {
		return cb.Message.Message.Chat.ID
	}
	return cb.From.ID
}

// withdrawalReply renders a workflow reply. An empty text means nothing is sent.
func withdrawalReply(ev withdraw.Event, r withdraw.Reply) (string, *models.InlineKeyboardMarkup) {
	switch r.Outcome {
	case withdraw.NoFunds:
		if _, begin := ev.(withdraw.Begin); begin {
			return "😕 На вашем балансе нет средств для вывода.", nil
		}
		return "😕 Баланс пуст.", nil
	case withdraw.NetworkPrompt:
		return "💸 Вывод средств.\nВыберите сеть:", NetworksKeyboard()
	case withdraw.AddressPrompt:
		st, _ := r.State.(withdraw.EnteringAddress)
		return fmt.Sprintf("✍️ Укажите адрес для вывода (%s).", html.EscapeString(address.Title(st.Network))), CancelKeyboard()
	case withdraw.InvalidAddress:
		return "⚠️ Неверный адрес для этой сети.", nil
	case withdraw.MemoPrompt:
		return "ℹ️ Укажите MEMO/Tag (или «-», если не нужно).", CancelKeyboard()
	case withdraw.ConfirmPrompt:
		st, _ := r.State.(withdraw.Confirming)
		return confirmText(st), ConfirmKeyboard()
	case withdraw.Created:
		return "✅ Заявка на вывод создана. Статус: pending.", nil
	case withdraw.BalanceChanged:
		return "⚠️ Баланс изменился. Попробуйте снова.", nil
	case withdraw.Cancelled:
		return "❌ Вывод отменён.", nil
	default:
		return "", nil
	}
}

func confirmText(st withdraw.Confirming) string {
	lines := []string{
		"🔁 Подтвердите вывод:",
		fmt.Sprintf("• Сеть: %s", html.EscapeString(address.Title(st.Network))),
		fmt.Sprintf("• Адрес: <code>%s</code>", html.EscapeString(st.Address)),
	}
	if st.Memo != "" {
		lines = append(lines, fmt.Sprintf("• MEMO: <code>%s</code>", html.EscapeString(st.Memo)))
	}
	lines = append(lines, fmt.Sprintf("• Сумма: %s USDT", st.Amount.StringFixed(2)))
	return strings.Join(lines, "\n")
}

func decisionText(userID int64, approve bool, resolved int) string {
	if resolved == 0 {
		return fmt.Sprintf("ℹ️ У пользователя %d нет заявок в ожидании.", userID)
	}
	if approve {
		return fmt.Sprintf("✅ Вывод для %d одобрен.", userID)
	}
	return fmt.Sprintf("❌ Вывод для %d отклонён.", userID)
}

func pendingText(ws []storage.Withdrawal) string {
	if len(ws) == 0 {
		return "❌ Нет заявок на вывод."
	}

	lines := []string{"📋 <b>Заявки:</b>"}
	for _, w := range ws {
		lines = append(lines, fmt.Sprintf("#%d | User %d | %s USDT | %s | <code>%s</code> | %s",
			w.ID, w.UserID, w.Amount.StringFixed(2),
			html.EscapeString(w.Network), html.EscapeString(w.Address), w.Status,
		))
	}
	return strings.Join(lines, "\n")
}
