package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Storage is the SQLite ledger. Transactions are opened with BEGIN IMMEDIATE
// so a read-modify-write holds the database write lock from its first read.
type Storage struct {
	db *sql.DB
}

var _ Ledger = (*Storage)(nil)

// New creates a new Storage instance and initializes the database
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id INTEGER PRIMARY KEY,
			referrer_id INTEGER,
			balance TEXT NOT NULL DEFAULT '0',
			paid INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS payments (
			order_id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			amount TEXT NOT NULL DEFAULT '0',
			status TEXT NOT NULL DEFAULT 'pending',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_user_id ON payments(user_id)`,

		`CREATE TABLE IF NOT EXISTS withdrawals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			amount TEXT NOT NULL,
			network TEXT NOT NULL,
			address TEXT NOT NULL,
			memo TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_withdrawals_user_id ON withdrawals(user_id)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Users ---

// EnsureUser creates the user on first contact and returns the paid flag.
// The referrer is only recorded for a new user and only if it is a known user.
func (s *Storage) EnsureUser(ctx context.Context, userID int64, referrerID *int64) (bool, error) {
	var paid bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, "SELECT paid FROM users WHERE user_id = ?", userID).Scan(&paid)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		var ref sql.NullInt64
		if referrerID != nil && *referrerID != userID {
			var one int
			err := tx.QueryRowContext(ctx, "SELECT 1 FROM users WHERE user_id = ?", *referrerID).Scan(&one)
			if err == nil {
				ref = sql.NullInt64{Int64: *referrerID, Valid: true}
			} else if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO users (user_id, referrer_id, balance, paid) VALUES (?, ?, '0', 0)",
			userID, ref,
		)
		return err
	})
	return paid, err
}

// GetUser returns a user by ID
func (s *Storage) GetUser(ctx context.Context, userID int64) (*User, error) {
	var u User
	var ref sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, referrer_id, balance, paid FROM users WHERE user_id = ?",
		userID,
	).Scan(&u.UserID, &ref, &u.Balance, &u.Paid)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if ref.Valid {
		u.ReferrerID = &ref.Int64
	}
	return &u, nil
}

// GetBalance returns the user's balance, zero for unknown users
func (s *Storage) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.QueryRowContext(ctx, "SELECT balance FROM users WHERE user_id = ?", userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	return balance, err
}

// Credit adds amount to the user's balance
func (s *Storage) Credit(ctx context.Context, userID int64, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return credit(ctx, tx, userID, amount)
	})
}

// DebitIfSufficient subtracts amount if the balance covers it.
// Returns false without touching the balance otherwise.
func (s *Storage) DebitIfSufficient(ctx context.Context, userID int64, amount decimal.Decimal) (bool, error) {
	if amount.IsNegative() {
		return false, ErrInvalidAmount
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := debit(ctx, tx, userID, amount)
		return err
	})
	if errors.Is(err, ErrInsufficientBalance) {
		return false, nil
	}
	return err == nil, err
}

// MarkPaid sets the paid flag
func (s *Storage) MarkPaid(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE users SET paid = 1 WHERE user_id = ?", userID)
	return err
}

// --- Payments ---

// CreatePayment records a pending payment for a checkout
func (s *Storage) CreatePayment(ctx context.Context, orderID string, userID int64, amount decimal.Decimal) (*Payment, error) {
	now := time.Now().Unix()
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO payments (order_id, user_id, amount, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		orderID, userID, amount.String(), PaymentPending, now,
	)
	if err != nil {
		return nil, err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, ErrAlreadyExists
	}

	return &Payment{
		OrderID:   orderID,
		UserID:    userID,
		Amount:    amount,
		Status:    PaymentPending,
		CreatedAt: time.Unix(now, 0),
	}, nil
}

// GetPayment returns a payment by order ID
func (s *Storage) GetPayment(ctx context.Context, orderID string) (*Payment, error) {
	return getPayment(ctx, s.db, orderID)
}

// SettlePayment marks the order paid, grants access and pays the referral
// bonus in one transaction. A second call for the same order returns
// ErrAlreadySettled and changes nothing.
func (s *Storage) SettlePayment(ctx context.Context, orderID string, amount, rate decimal.Decimal) (*Settlement, error) {
	if amount.IsNegative() || rate.IsNegative() {
		return nil, ErrInvalidAmount
	}

	var st Settlement
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := getPayment(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if p.Status == PaymentPaid {
			return ErrAlreadySettled
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE payments SET status = ? WHERE order_id = ?",
			PaymentPaid, orderID,
		); err != nil {
			return err
		}
		p.Status = PaymentPaid
		st.Payment = *p

		if _, err := tx.ExecContext(ctx, "UPDATE users SET paid = 1 WHERE user_id = ?", p.UserID); err != nil {
			return err
		}

		var ref sql.NullInt64
		err = tx.QueryRowContext(ctx, "SELECT referrer_id FROM users WHERE user_id = ?", p.UserID).Scan(&ref)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if !ref.Valid {
			return nil
		}

		bonus := amount.Mul(rate)
		err = credit(ctx, tx, ref.Int64, bonus)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		st.ReferrerID = &ref.Int64
		st.Bonus = bonus
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// --- Withdrawals ---

// RequestWithdrawal debits the amount and records a pending withdrawal
// in the same transaction. The row holds the amount actually debited.
func (s *Storage) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*Withdrawal, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var w *Withdrawal
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		debited, err := debit(ctx, tx, req.UserID, req.Amount)
		if err != nil {
			return err
		}

		now := time.Now().Unix()
		var memo sql.NullString
		if req.Memo != "" {
			memo = sql.NullString{String: req.Memo, Valid: true}
		}

		result, err := tx.ExecContext(ctx,
			`INSERT INTO withdrawals (user_id, amount, network, address, memo, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			req.UserID, debited.String(), req.Network, req.Address, memo, WithdrawalPending, now,
		)
		if err != nil {
			return err
		}

		id, err := result.LastInsertId()
		if err != nil {
			return err
		}

		w = &Withdrawal{
			ID:        id,
			UserID:    req.UserID,
			Amount:    debited,
			Network:   req.Network,
			Address:   req.Address,
			Memo:      req.Memo,
			Status:    WithdrawalPending,
			CreatedAt: time.Unix(now, 0),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// ListWithdrawals returns all withdrawals of a user, newest first
func (s *Storage) ListWithdrawals(ctx context.Context, userID int64) ([]Withdrawal, error) {
	return queryWithdrawals(ctx, s.db,
		`SELECT id, user_id, amount, network, address, memo, status, created_at
		 FROM withdrawals WHERE user_id = ? ORDER BY id DESC`,
		userID,
	)
}

// ListPendingWithdrawals returns every pending withdrawal, oldest first
func (s *Storage) ListPendingWithdrawals(ctx context.Context) ([]Withdrawal, error) {
	return queryWithdrawals(ctx, s.db,
		`SELECT id, user_id, amount, network, address, memo, status, created_at
		 FROM withdrawals WHERE status = ? ORDER BY id`,
		WithdrawalPending,
	)
}

// ApproveWithdrawals marks all pending withdrawals of the user approved.
// The balance was already debited when they were requested.
func (s *Storage) ApproveWithdrawals(ctx context.Context, userID int64) ([]Withdrawal, error) {
	return s.resolvePending(ctx, userID, WithdrawalApproved)
}

// RejectWithdrawals marks all pending withdrawals of the user rejected and
// returns their amounts to the balance.
func (s *Storage) RejectWithdrawals(ctx context.Context, userID int64) ([]Withdrawal, error) {
	return s.resolvePending(ctx, userID, WithdrawalRejected)
}

func (s *Storage) resolvePending(ctx context.Context, userID int64, status string) ([]Withdrawal, error) {
	var resolved []Withdrawal
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		pending, err := queryWithdrawals(ctx, tx,
			`SELECT id, user_id, amount, network, address, memo, status, created_at
			 FROM withdrawals WHERE user_id = ? AND status = ? ORDER BY id`,
			userID, WithdrawalPending,
		)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		if status == WithdrawalRejected {
			refund := decimal.Zero
			for _, w := range pending {
				refund = refund.Add(w.Amount)
			}
			if err := credit(ctx, tx, userID, refund); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE withdrawals SET status = ? WHERE user_id = ? AND status = ?",
			status, userID, WithdrawalPending,
		); err != nil {
			return err
		}

		for i := range pending {
			pending[i].Status = status
		}
		resolved = pending
		return nil
	})
	return resolved, err
}

// --- Helpers ---

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func credit(ctx context.Context, tx *sql.Tx, userID int64, amount decimal.Decimal) error {
	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx, "SELECT balance FROM users WHERE user_id = ?", userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE users SET balance = ? WHERE user_id = ?",
		balance.Add(amount).String(), userID,
	)
	return err
}

// debit takes amount from the balance and returns what was actually taken
func debit(ctx context.Context, tx *sql.Tx, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx, "SELECT balance FROM users WHERE user_id = ?", userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, ErrInsufficientBalance
	}
	if err != nil {
		return decimal.Zero, err
	}

	if !Covers(balance, amount) {
		return decimal.Zero, ErrInsufficientBalance
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE users SET balance = ? WHERE user_id = ?",
		Deduct(balance, amount).String(), userID,
	)
	if err != nil {
		return decimal.Zero, err
	}
	return Debited(balance, amount), nil
}

func getPayment(ctx context.Context, q querier, orderID string) (*Payment, error) {
	var p Payment
	var createdAt int64

	err := q.QueryRowContext(ctx,
		"SELECT order_id, user_id, amount, status, created_at FROM payments WHERE order_id = ?",
		orderID,
	).Scan(&p.OrderID, &p.UserID, &p.Amount, &p.Status, &createdAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.CreatedAt = time.Unix(createdAt, 0)
	return &p, nil
}

func queryWithdrawals(ctx context.Context, q querier, query string, args ...any) ([]Withdrawal, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var withdrawals []Withdrawal
	for rows.Next() {
		var w Withdrawal
		var memo sql.NullString
		var createdAt int64

		err := rows.Scan(&w.ID, &w.UserID, &w.Amount, &w.Network, &w.Address, &memo, &w.Status, &createdAt)
		if err != nil {
			return nil, err
		}

		w.Memo = memo.String
		w.CreatedAt = time.Unix(createdAt, 0)
		withdrawals = append(withdrawals, w)
	}

	return withdrawals, rows.Err()
}
