package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/suspectuso/paygate-bot/internal/cryptocloud"
	"github.com/suspectuso/paygate-bot/internal/storage"
)

// Ledger is the part of the store settlement needs
type Ledger interface {
	CreatePayment(ctx context.Context, orderID string, userID int64, amount decimal.Decimal) (*storage.Payment, error)
	GetPayment(ctx context.Context, orderID string) (*storage.Payment, error)
	SettlePayment(ctx context.Context, orderID string, amount, rate decimal.Decimal) (*storage.Settlement, error)
}

// InvoiceCreator creates checkout invoices at the payment provider
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, amount decimal.Decimal, orderID string) (*cryptocloud.Invoice, error)
}

// Notifier is told about every settled payment
type Notifier interface {
	PaymentSettled(ctx context.Context, st *storage.Settlement)
}

// Outcome of a settlement notification
type Outcome int

const (
	Ignored Outcome = iota
	Settled
)

// Result describes what Settle did
type Result struct {
	Outcome    Outcome
	Reason     string
	Settlement *storage.Settlement
}

// Checkout is a created payment awaiting the provider notification
type Checkout struct {
	OrderID string
	Amount  decimal.Decimal
	Link    string
}

// Service converts checkouts and provider notifications into ledger effects
type Service struct {
	ledger   Ledger
	provider InvoiceCreator
	notify   Notifier
	price    decimal.Decimal
	rate     decimal.Decimal
	log      *slog.Logger
}

// NewService creates a payment service charging price and paying rate*amount
// to the payer's referrer.
func NewService(ledger Ledger, provider InvoiceCreator, notify Notifier, price, rate decimal.Decimal, log *slog.Logger) *Service {
	return &Service{
		ledger:   ledger,
		provider: provider,
		notify:   notify,
		price:    price,
		rate:     rate,
		log:      log,
	}
}

// Price returns the access price
func (s *Service) Price() decimal.Decimal {
	return s.price
}

// Checkout creates a provider invoice and a pending payment for the user
func (s *Service) Checkout(ctx context.Context, userID int64) (*Checkout, error) {
	orderID := fmt.Sprintf("%d_%s", userID, strings.ReplaceAll(uuid.NewString(), "-", ""))

	inv, err := s.provider.CreateInvoice(ctx, s.price, orderID)
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	if _, err := s.ledger.CreatePayment(ctx, orderID, userID, s.price); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	s.log.Info("checkout created",
		"user_id", userID,
		"order_id", orderID,
		"amount", s.price.String(),
	)

	return &Checkout{OrderID: orderID, Amount: s.price, Link: inv.Link}, nil
}

// Settle applies a provider notification. Unknown orders, non-success
// statuses and repeated notifications are ignored. A zero amount falls back
// to the amount recorded at checkout.
func (s *Service) Settle(ctx context.Context, orderID, status string, amount decimal.Decimal) (Result, error) {
	if orderID == "" {
		return Result{Outcome: Ignored, Reason: "empty order id"}, nil
	}
	if !strings.EqualFold(strings.TrimSpace(status), cryptocloud.StatusSuccess) {
		s.log.Debug("payment not successful", "order_id", orderID, "status", status)
		return Result{Outcome: Ignored, Reason: "status " + status}, nil
	}

	if !amount.IsPositive() {
		p, err := s.ledger.GetPayment(ctx, orderID)
		if errors.Is(err, storage.ErrNotFound) {
			return s.unknown(orderID), nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("get payment: %w", err)
		}
		amount = p.Amount
	}

	st, err := s.ledger.SettlePayment(ctx, orderID, amount, s.rate)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return s.unknown(orderID), nil
	case errors.Is(err, storage.ErrAlreadySettled):
		s.log.Info("payment already settled", "order_id", orderID)
		return Result{Outcome: Ignored, Reason: "already settled"}, nil
	case err != nil:
		return Result{}, fmt.Errorf("settle payment: %w", err)
	}

	attrs := []any{
		"order_id", orderID,
		"user_id", st.Payment.UserID,
		"amount", amount.String(),
	}
	if st.ReferrerID != nil {
		attrs = append(attrs, "referrer_id", *st.ReferrerID, "bonus", st.Bonus.String())
	}
	s.log.Info("payment settled", attrs...)

	s.notify.PaymentSettled(ctx, st)
	return Result{Outcome: Settled, Settlement: st}, nil
}

func (s *Service) unknown(orderID string) Result {
	s.log.Warn("settlement for unknown order", "order_id", orderID)
	return Result{Outcome: Ignored, Reason: "unknown order"}
}
