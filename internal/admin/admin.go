package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/suspectuso/paygate-bot/internal/storage"
)

// ErrUnauthorized is returned when the actor is not the configured administrator
var ErrUnauthorized = errors.New("unauthorized")

// Ledger is the part of the store the admin handler needs
type Ledger interface {
	ListPendingWithdrawals(ctx context.Context) ([]storage.Withdrawal, error)
	ApproveWithdrawals(ctx context.Context, userID int64) ([]storage.Withdrawal, error)
	RejectWithdrawals(ctx context.Context, userID int64) ([]storage.Withdrawal, error)
}

// Notifier tells the user how their withdrawals were resolved
type Notifier interface {
	WithdrawalsResolved(ctx context.Context, userID int64, status string, ws []storage.Withdrawal)
}

// Handler resolves pending withdrawals on behalf of the administrator.
// Decisions are keyed by user id and cover every pending withdrawal of that user.
type Handler struct {
	adminID int64
	ledger  Ledger
	notify  Notifier
	log     *slog.Logger
}

func New(adminID int64, ledger Ledger, notify Notifier, log *slog.Logger) *Handler {
	return &Handler{
		adminID: adminID,
		ledger:  ledger,
		notify:  notify,
		log:     log,
	}
}

// IsAdmin reports whether actorID is the administrator. A zero admin id matches nobody.
func (h *Handler) IsAdmin(actorID int64) bool {
	return h.adminID != 0 && actorID == h.adminID
}

// Approve marks all pending withdrawals of userID approved. The balance was
// already debited when they were requested.
func (h *Handler) Approve(ctx context.Context, actorID, userID int64) ([]storage.Withdrawal, error) {
	if !h.IsAdmin(actorID) {
		return nil, ErrUnauthorized
	}

	ws, err := h.ledger.ApproveWithdrawals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("approve withdrawals: %w", err)
	}

	h.resolved(ctx, userID, storage.WithdrawalApproved, ws)
	return ws, nil
}

// Reject marks all pending withdrawals of userID rejected and credits their amounts back.
func (h *Handler) Reject(ctx context.Context, actorID, userID int64) ([]storage.Withdrawal, error) {
	if !h.IsAdmin(actorID) {
		return nil, ErrUnauthorized
	}

	ws, err := h.ledger.RejectWithdrawals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reject withdrawals: %w", err)
	}

	h.resolved(ctx, userID, storage.WithdrawalRejected, ws)
	return ws, nil
}

// Pending lists every pending withdrawal, oldest first
func (h *Handler) Pending(ctx context.Context, actorID int64) ([]storage.Withdrawal, error) {
	if !h.IsAdmin(actorID) {
		return nil, ErrUnauthorized
	}

	ws, err := h.ledger.ListPendingWithdrawals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending withdrawals: %w", err)
	}
	return ws, nil
}

func (h *Handler) resolved(ctx context.Context, userID int64, status string, ws []storage.Withdrawal) {
	if len(ws) == 0 {
		h.log.Info("no pending withdrawals", "user_id", userID, "status", status)
		return
	}

	h.log.Info("withdrawals resolved",
		"user_id", userID,
		"status", status,
		"count", len(ws),
	)
	h.notify.WithdrawalsResolved(ctx, userID, status, ws)
}
