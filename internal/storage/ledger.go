package storage

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadySettled      = errors.New("payment already settled")
)

// Epsilon absorbs rounding noise when comparing a balance against an amount.
var Epsilon = decimal.New(1, -9)

// Ledger is the contract shared by the SQLite and PostgreSQL stores.
// Every balance mutation runs inside a single transaction.
type Ledger interface {
	EnsureUser(ctx context.Context, userID int64, referrerID *int64) (bool, error)
	GetUser(ctx context.Context, userID int64) (*User, error)
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	Credit(ctx context.Context, userID int64, amount decimal.Decimal) error
	DebitIfSufficient(ctx context.Context, userID int64, amount decimal.Decimal) (bool, error)
	MarkPaid(ctx context.Context, userID int64) error

	CreatePayment(ctx context.Context, orderID string, userID int64, amount decimal.Decimal) (*Payment, error)
	GetPayment(ctx context.Context, orderID string) (*Payment, error)
	SettlePayment(ctx context.Context, orderID string, amount, rate decimal.Decimal) (*Settlement, error)

	RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*Withdrawal, error)
	ListWithdrawals(ctx context.Context, userID int64) ([]Withdrawal, error)
	ListPendingWithdrawals(ctx context.Context) ([]Withdrawal, error)
	ApproveWithdrawals(ctx context.Context, userID int64) ([]Withdrawal, error)
	RejectWithdrawals(ctx context.Context, userID int64) ([]Withdrawal, error)

	Close() error
}

// Covers reports whether balance is enough for amount within Epsilon.
func Covers(balance, amount decimal.Decimal) bool {
	return balance.GreaterThanOrEqual(amount.Sub(Epsilon))
}

// Debited is what a debit of amount actually takes from balance: the whole
// amount, or the balance when it is short by no more than Epsilon.
func Debited(balance, amount decimal.Decimal) decimal.Decimal {
	return decimal.Min(balance, amount)
}

// Deduct subtracts amount from balance, clamping tolerance leftovers at zero.
func Deduct(balance, amount decimal.Decimal) decimal.Decimal {
	rest := balance.Sub(amount)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}
