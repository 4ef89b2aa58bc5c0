package telegram

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"

	"github.com/suspectuso/paygate-bot/internal/admin"
	"github.com/suspectuso/paygate-bot/internal/config"
	"github.com/suspectuso/paygate-bot/internal/cryptocloud"
	"github.com/suspectuso/paygate-bot/internal/payment"
	"github.com/suspectuso/paygate-bot/internal/storage"
	"github.com/suspectuso/paygate-bot/internal/withdraw"
)

type sent struct {
	chatID   int64
	text     string
	keyboard *models.InlineKeyboardMarkup
	photo    string
}

type fakeAPI struct {
	mu       sync.Mutex
	messages []sent
}

func (f *fakeAPI) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	kb, _ := params.ReplyMarkup.(*models.InlineKeyboardMarkup)
	f.messages = append(f.messages, sent{chatID: params.ChatID.(int64), text: params.Text, keyboard: kb})
	return &models.Message{}, nil
}

func (f *fakeAPI) SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	upload := params.Photo.(*models.InputFileUpload)
	kb, _ := params.ReplyMarkup.(*models.InlineKeyboardMarkup)
	f.messages = append(f.messages, sent{chatID: params.ChatID.(int64), text: params.Caption, keyboard: kb, photo: upload.Filename})
	return &models.Message{}, nil
}

func (f *fakeAPI) AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	return true, nil
}

func (f *fakeAPI) GetMe(ctx context.Context) (*models.User, error) {
	return &models.User{ID: 1, Username: "paygate_bot"}, nil
}

func (f *fakeAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeAPI) last(t *testing.T) sent {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		t.Fatal("nothing was sent")
	}
	return f.messages[len(f.messages)-1]
}

type nopNotifier struct{}

func (nopNotifier) PaymentSettled(ctx context.Context, st *storage.Settlement) {}

func (nopNotifier) WithdrawalRequested(ctx context.Context, w *storage.Withdrawal) {}

func (nopNotifier) WithdrawalsResolved(ctx context.Context, userID int64, status string, ws []storage.Withdrawal) {
}

const testAdminID = 99

type testEnv struct {
	api   *fakeAPI
	store *storage.Storage
	bot   *Bot
}

func setup(t *testing.T, username string) *testEnv {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{BotUsername: username, GuideURL: "https://example.com/guide"}
	api := &fakeAPI{}

	b := newBot(api, cfg, log)
	b.Use(Services{
		Users: store,
		Payments: payment.NewService(store, cryptocloud.NewClient("", "", ""), nopNotifier{},
			decimal.RequireFromString("1.00"), decimal.RequireFromString("0.5"), log),
		Withdrawals: withdraw.New(store, withdraw.NewSessions(0), nopNotifier{}, log),
		Admin:       admin.New(testAdminID, store, nopNotifier{}, log),
	})

	return &testEnv{api: api, store: store, bot: b}
}

func (e *testEnv) message(userID int64, text string) {
	update := &models.Update{Message: &models.Message{
		From: &models.User{ID: userID},
		Chat: models.Chat{ID: userID},
		Text: text,
	}}

	ctx := context.Background()
	switch {
	case strings.HasPrefix(text, "/start"):
		e.bot.startHandler(ctx, nil, update)
	case text == "/withdrawals":
		e.bot.withdrawalsHandler(ctx, nil, update)
	default:
		e.bot.defaultHandler(ctx, nil, update)
	}
}

func (e *testEnv) press(userID int64, data string) {
	e.bot.callbackHandler(context.Background(), nil, &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "cb",
		From: models.User{ID: userID},
		Data: data,
	}})
}

func expectText(t *testing.T, got sent, substr string) {
	t.Helper()
	if !strings.Contains(got.text, substr) {
		t.Fatalf("expected %q in %q", substr, got.text)
	}
}

func TestPaymentAndReferralFlow(t *testing.T) {
	env := setup(t, "paygate_bot")
	ctx := context.Background()

	env.message(7, "/start")
	env.message(8, "/start 7")
	got := env.api.last(t)
	expectText(t, got, "Продолжить")
	if got.keyboard.InlineKeyboard[0][0].CallbackData != cbContinue {
		t.Fatalf("expected continue button, got %+v", got.keyboard)
	}

	env.press(8, cbContinue)
	got = env.api.last(t)
	if got.keyboard.InlineKeyboard[0][0].Text != "💸 Оплатить 1.00 USDT" {
		t.Fatalf("unexpected pay button %+v", got.keyboard.InlineKeyboard[0][0])
	}

	env.press(8, cbRefLink)
	expectText(t, env.api.last(t), "только после оплаты")

	env.press(8, cbPay)
	got = env.api.last(t)
	if got.photo == "" {
		t.Fatalf("expected a QR photo, got %+v", got)
	}
	orderID := strings.TrimSuffix(got.photo, ".png")
	if !strings.HasPrefix(orderID, "8_") {
		t.Fatalf("unexpected order id %q", orderID)
	}
	expectText(t, got, cryptocloud.HostedPayURL+orderID)
	if got.keyboard.InlineKeyboard[0][0].URL != cryptocloud.HostedPayURL+orderID {
		t.Fatalf("unexpected checkout button %+v", got.keyboard)
	}

	res, err := env.bot.svc.Payments.Settle(ctx, orderID, "success", decimal.Zero)
	if err != nil || res.Outcome != payment.Settled {
		t.Fatalf("settle: %+v %v", res, err)
	}

	if b, _ := env.store.GetBalance(ctx, 7); !b.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("expected referrer bonus 0.5, got %s", b)
	}

	env.message(8, "/start")
	expectText(t, env.api.last(t), "Вот ваше меню")

	env.press(8, cbRefLink)
	expectText(t, env.api.last(t), "https://t.me/paygate_bot?start=8")

	env.press(7, cbBalance)
	expectText(t, env.api.last(t), "0.50 USDT")
}

func TestSelfReferralIgnored(t *testing.T) {
	env := setup(t, "")
	ctx := context.Background()

	env.message(5, "/start 5")
	u, err := env.store.GetUser(ctx, 5)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.ReferrerID != nil {
		t.Fatalf("self referral must be ignored, got %d", *u.ReferrerID)
	}
}

func TestRefLinkResolvesUsername(t *testing.T) {
	env := setup(t, "")
	ctx := context.Background()

	if _, err := env.store.EnsureUser(ctx, 3, nil); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if err := env.store.MarkPaid(ctx, 3); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	env.press(3, cbRefLink)
	expectText(t, env.api.last(t), "https://t.me/paygate_bot?start=3")
}

func TestWithdrawalAndRejectFlow(t *testing.T) {
	env := setup(t, "paygate_bot")
	ctx := context.Background()

	env.message(1, "/start")
	if err := env.store.Credit(ctx, 1, decimal.RequireFromString("10.0")); err != nil {
		t.Fatalf("credit: %v", err)
	}

	env.press(1, cbWithdraw)
	got := env.api.last(t)
	expectText(t, got, "Выберите сеть")
	if n := len(got.keyboard.InlineKeyboard); n != 4 {
		t.Fatalf("expected 3 networks and cancel, got %d rows", n)
	}

	env.press(1, cbNetworkPrefix+"ton")
	expectText(t, env.api.last(t), "Укажите адрес")

	env.message(1, "short")
	expectText(t, env.api.last(t), "Неверный адрес")

	addr := strings.Repeat("Q", 31)
	env.message(1, addr)
	got = env.api.last(t)
	expectText(t, got, "10.00 USDT")
	expectText(t, got, addr)

	env.press(1, cbWithdrawOK)
	expectText(t, env.api.last(t), "Заявка на вывод создана")

	if b, _ := env.store.GetBalance(ctx, 1); !b.IsZero() {
		t.Fatalf("expected 0, got %s", b)
	}

	before := env.api.count()
	env.message(1, "/withdrawals")
	env.press(1, cbRejectPrefix+"1")
	if env.api.count() != before {
		t.Fatal("non-admin must be ignored silently")
	}

	env.message(testAdminID, "/withdrawals")
	expectText(t, env.api.last(t), "User 1 | 10.00 USDT")

	env.press(testAdminID, cbRejectPrefix+"1")
	expectText(t, env.api.last(t), "Вывод для 1 отклонён")

	if b, _ := env.store.GetBalance(ctx, 1); !b.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected 10 after reject, got %s", b)
	}

	env.press(testAdminID, cbApprovePrefix+"1")
	expectText(t, env.api.last(t), "нет заявок в ожидании")

	env.message(testAdminID, "/withdrawals")
	expectText(t, env.api.last(t), "Нет заявок на вывод")
}

func TestWithdrawWithoutFunds(t *testing.T) {
	env := setup(t, "paygate_bot")

	env.press(2, cbWithdraw)
	expectText(t, env.api.last(t), "нет средств для вывода")

	env.press(2, cbWithdrawCancel)
	expectText(t, env.api.last(t), "Вывод отменён")
}

func TestIdleTextAndMalformedCallbacksIgnored(t *testing.T) {
	env := setup(t, "paygate_bot")

	env.message(4, "hello")
	env.press(4, cbWithdrawOK)
	env.press(4, "admin_reject:abc")
	env.press(4, "wd_net:")
	env.press(4, "something_else")

	if n := env.api.count(); n != 0 {
		t.Fatalf("expected nothing sent, got %d messages", n)
	}
}
