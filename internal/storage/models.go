package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment statuses
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
)

// Withdrawal statuses
const (
	WithdrawalPending  = "pending"
	WithdrawalApproved = "approved"
	WithdrawalRejected = "rejected"
)

// User represents a bot user and their referral balance
type User struct {
	UserID     int64
	ReferrerID *int64
	Balance    decimal.Decimal
	Paid       bool
}

// Payment represents an access payment created at checkout
type Payment struct {
	OrderID   string
	UserID    int64
	Amount    decimal.Decimal
	Status    string
	CreatedAt time.Time
}

// Withdrawal represents a payout request awaiting admin decision
type Withdrawal struct {
	ID        int64
	UserID    int64
	Amount    decimal.Decimal
	Network   string
	Address   string
	Memo      string
	Status    string
	CreatedAt time.Time
}

// WithdrawalRequest is the input for RequestWithdrawal
type WithdrawalRequest struct {
	UserID  int64
	Amount  decimal.Decimal
	Network string
	Address string
	Memo    string
}

// Settlement describes the ledger effects of a settled payment
type Settlement struct {
	Payment    Payment
	ReferrerID *int64
	Bonus      decimal.Decimal
}
