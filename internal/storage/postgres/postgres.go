// Package postgres implements the ledger on PostgreSQL. Balance changes are
// single conditional UPDATE statements; multi-step operations run in one
// transaction with the touched rows locked.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/suspectuso/paygate-bot/internal/storage"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id BIGINT PRIMARY KEY,
		referrer_id BIGINT,
		balance NUMERIC NOT NULL DEFAULT 0 CHECK (balance >= 0),
		paid BOOLEAN NOT NULL DEFAULT FALSE
	)`,

	`CREATE TABLE IF NOT EXISTS payments (
		order_id TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		amount NUMERIC NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_user_id ON payments(user_id)`,

	`CREATE TABLE IF NOT EXISTS withdrawals (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		amount NUMERIC NOT NULL CHECK (amount > 0),
		network TEXT NOT NULL,
		address TEXT NOT NULL,
		memo TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_withdrawals_user_id ON withdrawals(user_id)`,
}

const withdrawalColumns = `id, user_id, amount::text, network, address, COALESCE(memo, ''), status, created_at`

// Store is the PostgreSQL ledger
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Ledger = (*Store)(nil)

// New connects to databaseURL and applies the schema
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	for _, q := range schema {
		if _, err := pool.Exec(ctx, q); err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	return &Store{pool: pool}, nil
}

// Close releases the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) EnsureUser(ctx context.Context, userID int64, referrerID *int64) (bool, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (user_id, referrer_id)
		VALUES ($1, (SELECT user_id FROM users WHERE user_id = $2 AND user_id <> $1))
		ON CONFLICT (user_id) DO NOTHING
	`, userID, referrerID)
	if err != nil {
		return false, err
	}

	var paid bool
	err = s.pool.QueryRow(ctx, "SELECT paid FROM users WHERE user_id = $1", userID).Scan(&paid)
	return paid, err
}

func (s *Store) GetUser(ctx context.Context, userID int64) (*storage.User, error) {
	var u storage.User
	var balance string

	err := s.pool.QueryRow(ctx,
		"SELECT user_id, referrer_id, balance::text, paid FROM users WHERE user_id = $1",
		userID,
	).Scan(&u.UserID, &u.ReferrerID, &balance, &u.Paid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	u.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	return &u, nil
}

func (s *Store) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balance string
	err := s.pool.QueryRow(ctx, "SELECT balance::text FROM users WHERE user_id = $1", userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(balance)
}

func (s *Store) Credit(ctx context.Context, userID int64, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return storage.ErrInvalidAmount
	}
	return credit(ctx, s.pool, userID, amount)
}

func (s *Store) DebitIfSufficient(ctx context.Context, userID int64, amount decimal.Decimal) (bool, error) {
	if amount.IsNegative() {
		return false, storage.ErrInvalidAmount
	}

	_, err := debit(ctx, s.pool, userID, amount)
	if errors.Is(err, storage.ErrInsufficientBalance) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) MarkPaid(ctx context.Context, userID int64) error {
	_, err := s.pool.Exec(ctx, "UPDATE users SET paid = TRUE WHERE user_id = $1", userID)
	return err
}

func (s *Store) CreatePayment(ctx context.Context, orderID string, userID int64, amount decimal.Decimal) (*storage.Payment, error) {
	p := storage.Payment{OrderID: orderID, UserID: userID, Amount: amount, Status: storage.PaymentPending}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO payments (order_id, user_id, amount, status)
		VALUES ($1, $2, $3::numeric, $4)
		RETURNING created_at
	`, orderID, userID, amount.String(), storage.PaymentPending).Scan(&p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, storage.ErrAlreadyExists
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetPayment(ctx context.Context, orderID string) (*storage.Payment, error) {
	return getPayment(ctx, s.pool, orderID, false)
}

func (s *Store) SettlePayment(ctx context.Context, orderID string, amount, rate decimal.Decimal) (*storage.Settlement, error) {
	if amount.IsNegative() || rate.IsNegative() {
		return nil, storage.ErrInvalidAmount
	}

	var st storage.Settlement
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		p, err := getPayment(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		if p.Status == storage.PaymentPaid {
			return storage.ErrAlreadySettled
		}

		if _, err := tx.Exec(ctx,
			"UPDATE payments SET status = $1 WHERE order_id = $2",
			storage.PaymentPaid, orderID,
		); err != nil {
			return err
		}
		p.Status = storage.PaymentPaid
		st.Payment = *p

		var referrerID *int64
		err = tx.QueryRow(ctx,
			"UPDATE users SET paid = TRUE WHERE user_id = $1 RETURNING referrer_id",
			p.UserID,
		).Scan(&referrerID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if referrerID == nil {
			return nil
		}

		bonus := amount.Mul(rate)
		err = credit(ctx, tx, *referrerID, bonus)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		st.ReferrerID = referrerID
		st.Bonus = bonus
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) RequestWithdrawal(ctx context.Context, req storage.WithdrawalRequest) (*storage.Withdrawal, error) {
	if !req.Amount.IsPositive() {
		return nil, storage.ErrInvalidAmount
	}

	w := storage.Withdrawal{
		UserID:  req.UserID,
		Network: req.Network,
		Address: req.Address,
		Memo:    req.Memo,
		Status:  storage.WithdrawalPending,
	}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		debited, err := debit(ctx, tx, req.UserID, req.Amount)
		if err != nil {
			return err
		}
		w.Amount = debited

		var memo *string
		if req.Memo != "" {
			memo = &req.Memo
		}

		return tx.QueryRow(ctx, `
			INSERT INTO withdrawals (user_id, amount, network, address, memo, status)
			VALUES ($1, $2::numeric, $3, $4, $5, $6)
			RETURNING id, created_at
		`, req.UserID, debited.String(), req.Network, req.Address, memo, storage.WithdrawalPending,
		).Scan(&w.ID, &w.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) ListWithdrawals(ctx context.Context, userID int64) ([]storage.Withdrawal, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawals WHERE user_id = $1 ORDER BY id DESC",
		userID,
	)
	if err != nil {
		return nil, err
	}
	return collectWithdrawals(rows)
}

func (s *Store) ListPendingWithdrawals(ctx context.Context) ([]storage.Withdrawal, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawals WHERE status = $1 ORDER BY id",
		storage.WithdrawalPending,
	)
	if err != nil {
		return nil, err
	}
	return collectWithdrawals(rows)
}

func (s *Store) ApproveWithdrawals(ctx context.Context, userID int64) ([]storage.Withdrawal, error) {
	return s.resolvePending(ctx, userID, storage.WithdrawalApproved)
}

func (s *Store) RejectWithdrawals(ctx context.Context, userID int64) ([]storage.Withdrawal, error) {
	return s.resolvePending(ctx, userID, storage.WithdrawalRejected)
}

func (s *Store) resolvePending(ctx context.Context, userID int64, status string) ([]storage.Withdrawal, error) {
	var resolved []storage.Withdrawal
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			"UPDATE withdrawals SET status = $1 WHERE user_id = $2 AND status = $3 RETURNING "+withdrawalColumns,
			status, userID, storage.WithdrawalPending,
		)
		if err != nil {
			return err
		}
		resolved, err = collectWithdrawals(rows)
		if err != nil {
			return err
		}

		if status != storage.WithdrawalRejected || len(resolved) == 0 {
			return nil
		}

		refund := decimal.Zero
		for _, w := range resolved {
			refund = refund.Add(w.Amount)
		}
		return credit(ctx, tx, userID, refund)
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// --- Helpers ---

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func credit(ctx context.Context, db execer, userID int64, amount decimal.Decimal) error {
	tag, err := db.Exec(ctx,
		"UPDATE users SET balance = balance + $1::numeric WHERE user_id = $2",
		amount.String(), userID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// debit takes amount from the balance and returns what was actually taken.
// The row lock in prev serializes concurrent debits of the same user.
func debit(ctx context.Context, db execer, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	var debited string
	err := db.QueryRow(ctx, `
		WITH prev AS (
			SELECT balance FROM users WHERE user_id = $2 FOR UPDATE
		)
		UPDATE users u SET balance = GREATEST(u.balance - $1::numeric, 0)
		FROM prev
		WHERE u.user_id = $2 AND prev.balance >= $1::numeric - $3::numeric
		RETURNING LEAST(prev.balance, $1::numeric)::text
	`, amount.String(), userID, storage.Epsilon.String()).Scan(&debited)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, storage.ErrInsufficientBalance
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(debited)
}

func getPayment(ctx context.Context, db execer, orderID string, forUpdate bool) (*storage.Payment, error) {
	query := "SELECT order_id, user_id, amount::text, status, created_at FROM payments WHERE order_id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	var p storage.Payment
	var amount string
	err := db.QueryRow(ctx, query, orderID).Scan(&p.OrderID, &p.UserID, &amount, &p.Status, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &p, nil
}

func collectWithdrawals(rows pgx.Rows) ([]storage.Withdrawal, error) {
	defer rows.Close()

	var withdrawals []storage.Withdrawal
	for rows.Next() {
		var w storage.Withdrawal
		var amount string
		var createdAt time.Time

		if err := rows.Scan(&w.ID, &w.UserID, &amount, &w.Network, &w.Address, &w.Memo, &w.Status, &createdAt); err != nil {
			return nil, err
		}

		parsed, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		w.Amount = parsed
		w.CreatedAt = createdAt
		withdrawals = append(withdrawals, w)
	}

	return withdrawals, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}
