package telegram

import (
	"fmt"

	"github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"

	"github.com/suspectuso/paygate-bot/internal/address"
)

// ContinueKeyboard is shown to a new user before the payment step
func ContinueKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "✅ Продолжить", CallbackData: cbContinue},
			},
		},
	}
}

// PayKeyboard offers the checkout for the access price
func PayKeyboard(price decimal.Decimal) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: fmt.Sprintf("💸 Оплатить %s USDT", price.StringFixed(2)), CallbackData: cbPay},
			},
		},
	}
}

// CheckoutKeyboard links to the provider's payment page
func CheckoutKeyboard(link string) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "💳 Перейти к оплате", URL: link},
			},
		},
	}
}

// MainKeyboard returns the main menu of a paid user
func MainKeyboard(guideURL string) *models.InlineKeyboardMarkup {
	rows := [][]models.InlineKeyboardButton{
		{{Text: "💰 Баланс", CallbackData: cbBalance}},
		{{Text: "🔗 Реф. ссылка", CallbackData: cbRefLink}},
		{{Text: "💸 Вывод средств", CallbackData: cbWithdraw}},
	}
	if guideURL != "" {
		rows = append(rows, []models.InlineKeyboardButton{{Text: "📖 Гайд", URL: guideURL}})
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// NetworksKeyboard lists withdrawal networks followed by a cancel button
func NetworksKeyboard() *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(address.Networks)+1)
	for _, n := range address.Networks {
		rows = append(rows, []models.InlineKeyboardButton{
			{Text: n.Title, CallbackData: cbNetworkPrefix + n.Code},
		})
	}
	rows = append(rows, []models.InlineKeyboardButton{
		{Text: "↩️ Отмена", CallbackData: cbWithdrawCancel},
	})
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// CancelKeyboard aborts the withdrawal conversation
func CancelKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "↩️ Отмена", CallbackData: cbWithdrawCancel},
			},
		},
	}
}

// ConfirmKeyboard confirms or cancels a withdrawal
func ConfirmKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "✅ Подтвердить", CallbackData: cbWithdrawOK},
			},
			{
				{Text: "↩️ Отмена", CallbackData: cbWithdrawCancel},
			},
		},
	}
}

// AdminDecisionKeyboard is attached to the admin's copy of a new withdrawal
func AdminDecisionKeyboard(userID int64) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "✅ Approve", CallbackData: fmt.Sprintf("%s%d", cbApprovePrefix, userID)},
			},
			{
				{Text: "❌ Reject", CallbackData: fmt.Sprintf("%s%d", cbRejectPrefix, userID)},
			},
		},
	}
}
