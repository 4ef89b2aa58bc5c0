package notifier

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/suspectuso/paygate-bot/internal/address"
	"github.com/suspectuso/paygate-bot/internal/storage"
	"github.com/suspectuso/paygate-bot/internal/telegram"
)

// Sender delivers a message to a chat identity
type Sender interface {
	SendNotification(ctx context.Context, userID int64, text string, keyboard *models.InlineKeyboardMarkup) error
}

// Notifier composes outbound messages to users, referrers and the administrator.
// Delivery failures are logged and never returned: the ledger change that
// triggered a notification is already committed.
type Notifier struct {
	adminID  int64
	guideURL string
	sender   Sender
	log      *slog.Logger
}

// New creates a new Notifier. A zero adminID disables admin messages.
func New(adminID int64, guideURL string, sender Sender, log *slog.Logger) *Notifier {
	return &Notifier{
		adminID:  adminID,
		guideURL: guideURL,
		sender:   sender,
		log:      log,
	}
}

// PaymentSettled tells the payer that access is open and the referrer about the bonus
func (n *Notifier) PaymentSettled(ctx context.Context, st *storage.Settlement) {
	n.send(ctx, st.Payment.UserID,
		"✅ Оплата получена, доступ открыт!\n\n🎉 Вот ваше меню:",
		telegram.MainKeyboard(n.guideURL),
	)

	if st.ReferrerID == nil || !st.Bonus.IsPositive() {
		return
	}

	n.send(ctx, *st.ReferrerID,
		fmt.Sprintf("🎁 Ваш реферал оплатил доступ. Начислено <b>%s USDT</b>.", st.Bonus.StringFixed(2)),
		nil,
	)
}

// WithdrawalRequested asks the administrator to approve or reject a new withdrawal
func (n *Notifier) WithdrawalRequested(ctx context.Context, w *storage.Withdrawal) {
	if n.adminID == 0 {
		return
	}

	n.send(ctx, n.adminID, formatWithdrawalRequest(w), telegram.AdminDecisionKeyboard(w.UserID))
}

// WithdrawalsResolved tells the user how the administrator decided
func (n *Notifier) WithdrawalsResolved(ctx context.Context, userID int64, status string, ws []storage.Withdrawal) {
	if len(ws) == 0 {
		return
	}

	var text string
	switch status {
	case storage.WithdrawalApproved:
		text = "✅ Ваш вывод был успешно обработан."
	case storage.WithdrawalRejected:
		text = "❌ Ваш вывод был отклонён, средства возвращены на баланс."
	default:
		n.log.Warn("unexpected withdrawal status", "user_id", userID, "status", status)
		return
	}

	n.send(ctx, userID, text, nil)
}

func (n *Notifier) send(ctx context.Context, userID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	if err := n.sender.SendNotification(ctx, userID, text, keyboard); err != nil {
		n.log.Error("send notification", "user_id", userID, "error", err)
	}
}

func formatWithdrawalRequest(w *storage.Withdrawal) string {
	lines := []string{
		"🧾 <b>Новая заявка</b>",
		"",
		fmt.Sprintf("User: <a href='tg://user?id=%d'>%d</a>", w.UserID, w.UserID),
		fmt.Sprintf("Amount: <b>%s USDT</b>", w.Amount.StringFixed(2)),
		fmt.Sprintf("Network: %s", html.EscapeString(address.Title(w.Network))),
		fmt.Sprintf("Address: <code>%s</code>", html.EscapeString(address.Display(w.Network, w.Address))),
	}
	if w.Memo != "" {
		lines = append(lines, fmt.Sprintf("Memo: <code>%s</code>", html.EscapeString(w.Memo)))
	}
	return strings.Join(lines, "\n")
}
