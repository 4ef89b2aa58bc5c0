package admin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/paygate-bot/internal/storage"
)

type resolution struct {
	userID int64
	status string
	count  int
}

type recordingNotifier struct {
	got []resolution
}

func (n *recordingNotifier) WithdrawalsResolved(ctx context.Context, userID int64, status string, ws []storage.Withdrawal) {
	n.got = append(n.got, resolution{userID: userID, status: status, count: len(ws)})
}

const adminID = 42

func setup(t *testing.T) (*Handler, *storage.Storage, *recordingNotifier) {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	notify := &recordingNotifier{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(adminID, store, notify, log), store, notify
}

func requestWithdrawal(t *testing.T, store *storage.Storage, userID int64, balance, amount string) {
	t.Helper()

	ctx := context.Background()
	if _, err := store.EnsureUser(ctx, userID, nil); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if balance != "" {
		if err := store.Credit(ctx, userID, decimal.RequireFromString(balance)); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}
	_, err := store.RequestWithdrawal(ctx, storage.WithdrawalRequest{
		UserID:  userID,
		Amount:  decimal.RequireFromString(amount),
		Network: "ton",
		Address: "EQ" + "a0b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7",
	})
	if err != nil {
		t.Fatalf("request withdrawal: %v", err)
	}
}

func TestRejectRestoresBalance(t *testing.T) {
	h, store, notify := setup(t)
	ctx := context.Background()
	requestWithdrawal(t, store, 1, "10.0", "10.0")

	if b, _ := store.GetBalance(ctx, 1); !b.IsZero() {
		t.Fatalf("expected 0 after request, got %s", b)
	}

	ws, err := h.Reject(ctx, adminID, 1)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if len(ws) != 1 || ws[0].Status != storage.WithdrawalRejected {
		t.Fatalf("unexpected result %+v", ws)
	}

	b, err := store.GetBalance(ctx, 1)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !b.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected 10, got %s", b)
	}

	list, err := store.ListWithdrawals(ctx, 1)
	if err != nil || len(list) != 1 || list[0].Status != storage.WithdrawalRejected {
		t.Fatalf("unexpected withdrawals %+v (%v)", list, err)
	}

	if len(notify.got) != 1 || notify.got[0] != (resolution{1, storage.WithdrawalRejected, 1}) {
		t.Fatalf("unexpected notifications %+v", notify.got)
	}
}

func TestRejectRefundsEveryPending(t *testing.T) {
	h, store, _ := setup(t)
	ctx := context.Background()
	requestWithdrawal(t, store, 1, "10", "4")
	requestWithdrawal(t, store, 1, "", "6")

	ws, err := h.Reject(ctx, adminID, 1)
	if err != nil || len(ws) != 2 {
		t.Fatalf("reject: %v %v", ws, err)
	}
	if b, _ := store.GetBalance(ctx, 1); !b.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected 10, got %s", b)
	}
}

func TestApproveKeepsBalance(t *testing.T) {
	h, store, notify := setup(t)
	ctx := context.Background()
	requestWithdrawal(t, store, 1, "5", "5")

	ws, err := h.Approve(ctx, adminID, 1)
	if err != nil || len(ws) != 1 || ws[0].Status != storage.WithdrawalApproved {
		t.Fatalf("approve: %+v %v", ws, err)
	}
	if b, _ := store.GetBalance(ctx, 1); !b.IsZero() {
		t.Fatalf("approve must not touch the balance, got %s", b)
	}

	// a second decision finds nothing pending
	ws, err = h.Reject(ctx, adminID, 1)
	if err != nil || len(ws) != 0 {
		t.Fatalf("second decision: %+v %v", ws, err)
	}
	if b, _ := store.GetBalance(ctx, 1); !b.IsZero() {
		t.Fatalf("expected 0, got %s", b)
	}
	if len(notify.got) != 1 {
		t.Fatalf("expected a single notification, got %+v", notify.got)
	}
}

func TestUnauthorized(t *testing.T) {
	h, store, notify := setup(t)
	ctx := context.Background()
	requestWithdrawal(t, store, 1, "5", "5")

	if _, err := h.Reject(ctx, 1, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := h.Approve(ctx, 7, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := h.Pending(ctx, 7); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	pending, err := store.ListPendingWithdrawals(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("withdrawal must stay pending: %+v %v", pending, err)
	}
	if len(notify.got) != 0 {
		t.Fatalf("unexpected notifications %+v", notify.got)
	}
}

func TestZeroAdminMatchesNobody(t *testing.T) {
	h := New(0, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if h.IsAdmin(0) {
		t.Fatal("zero admin id must not authorize anyone")
	}
}

func TestPending(t *testing.T) {
	h, store, _ := setup(t)
	ctx := context.Background()
	requestWithdrawal(t, store, 1, "5", "5")
	requestWithdrawal(t, store, 2, "3", "3")

	ws, err := h.Pending(ctx, adminID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(ws) != 2 || ws[0].UserID != 1 || ws[1].UserID != 2 {
		t.Fatalf("unexpected pending list %+v", ws)
	}
}

var errLedgerDown = errors.New("ledger down")

type failingLedger struct{}

func (failingLedger) ListPendingWithdrawals(ctx context.Context) ([]storage.Withdrawal, error) {
	return nil, errLedgerDown
}

func (failingLedger) ApproveWithdrawals(ctx context.Context, userID int64) ([]storage.Withdrawal, error) {
	return nil, errLedgerDown
}

func (failingLedger) RejectWithdrawals(ctx context.Context, userID int64) ([]storage.Withdrawal, error) {
	return nil, errLedgerDown
}

func TestLedgerErrorsPropagate(t *testing.T) {
	notify := &recordingNotifier{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(adminID, failingLedger{}, notify, log)
	ctx := context.Background()

	if ws, err := h.Approve(ctx, adminID, 1); !errors.Is(err, errLedgerDown) || ws != nil {
		t.Fatalf("approve: got %v, %v", ws, err)
	}
	if ws, err := h.Reject(ctx, adminID, 1); !errors.Is(err, errLedgerDown) || ws != nil {
		t.Fatalf("reject: got %v, %v", ws, err)
	}
	if _, err := h.Pending(ctx, adminID); !errors.Is(err, errLedgerDown) {
		t.Fatalf("pending: got %v", err)
	}
	if len(notify.got) != 0 {
		t.Fatalf("failed decisions must not notify, got %+v", notify.got)
	}
}
