package withdraw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/paygate-bot/internal/address"
	"github.com/suspectuso/paygate-bot/internal/storage"
)

// Event is an input to the workflow: Begin, ChooseNetwork, Input, Confirm or Cancel.
type Event interface {
	isEvent()
}

// Begin starts a withdrawal from the menu
type Begin struct{}

// ChooseNetwork is a network button press
type ChooseNetwork struct {
	Network string
}

// Input is free text typed by the user
type Input struct {
	Text string
}

// Confirm is the confirmation button press
type Confirm struct{}

// Cancel aborts the conversation
type Cancel struct{}

func (Begin) isEvent()         {}
func (ChooseNetwork) isEvent() {}
func (Input) isEvent()         {}
func (Confirm) isEvent()       {}
func (Cancel) isEvent()        {}

// Outcome tells the transport what to show after an event
type Outcome int

const (
	Ignored Outcome = iota
	NoFunds
	NetworkPrompt
	AddressPrompt
	InvalidAddress
	MemoPrompt
	ConfirmPrompt
	Created
	BalanceChanged
	Cancelled
)

var outcomeNames = map[Outcome]string{
	Ignored:        "ignored",
	NoFunds:        "no_funds",
	NetworkPrompt:  "network_prompt",
	AddressPrompt:  "address_prompt",
	InvalidAddress: "invalid_address",
	MemoPrompt:     "memo_prompt",
	ConfirmPrompt:  "confirm_prompt",
	Created:        "created",
	BalanceChanged: "balance_changed",
	Cancelled:      "cancelled",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Reply is the result of dispatching an event
type Reply struct {
	Outcome    Outcome
	State      State
	Withdrawal *storage.Withdrawal
}

// Ledger is the part of the store the workflow needs
type Ledger interface {
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	RequestWithdrawal(ctx context.Context, req storage.WithdrawalRequest) (*storage.Withdrawal, error)
}

// AdminNotifier is told about every created withdrawal
type AdminNotifier interface {
	WithdrawalRequested(ctx context.Context, w *storage.Withdrawal)
}

// Workflow drives the withdrawal conversation of every user
type Workflow struct {
	ledger   Ledger
	sessions *Sessions
	notify   AdminNotifier
	log      *slog.Logger
}

// New creates a workflow
func New(ledger Ledger, sessions *Sessions, notify AdminNotifier, log *slog.Logger) *Workflow {
	return &Workflow{
		ledger:   ledger,
		sessions: sessions,
		notify:   notify,
		log:      log,
	}
}

// State returns the user's current state
func (w *Workflow) State(userID int64) State {
	return w.sessions.Get(userID)
}

// Dispatch applies ev to the user's current state. Store errors are
// returned with the session cleared; nothing is debited in that case.
func (w *Workflow) Dispatch(ctx context.Context, userID int64, ev Event) (Reply, error) {
	switch ev.(type) {
	case Cancel:
		w.sessions.Clear(userID)
		return Reply{Outcome: Cancelled, State: Idle{}}, nil
	case Begin:
		return w.begin(ctx, userID)
	case Confirm:
		return w.confirm(ctx, userID)
	}

	current := w.sessions.Get(userID)

	switch st := current.(type) {
	case ChoosingNetwork:
		if ev, ok := ev.(ChooseNetwork); ok {
			return w.chooseNetwork(userID, ev.Network)
		}
	case EnteringAddress:
		switch ev := ev.(type) {
		case Input:
			return w.enterAddress(ctx, userID, st, ev.Text)
		case ChooseNetwork:
			return w.reselectNetwork(userID, st, ev.Network)
		}
	case EnteringMemo:
		switch ev := ev.(type) {
		case Input:
			return w.enterMemo(ctx, userID, st, ev.Text)
		case ChooseNetwork:
			return w.reselectNetwork(userID, st, ev.Network)
		}
	}

	return Reply{Outcome: Ignored, State: current}, nil
}

func (w *Workflow) begin(ctx context.Context, userID int64) (Reply, error) {
	balance, err := w.ledger.GetBalance(ctx, userID)
	if err != nil {
		w.sessions.Clear(userID)
		return Reply{State: Idle{}}, fmt.Errorf("get balance: %w", err)
	}

	if !balance.IsPositive() {
		w.sessions.Clear(userID)
		return Reply{Outcome: NoFunds, State: Idle{}}, nil
	}

	st := ChoosingNetwork{}
	w.sessions.Set(userID, st)
	return Reply{Outcome: NetworkPrompt, State: st}, nil
}

func (w *Workflow) chooseNetwork(userID int64, network string) (Reply, error) {
	if !address.Supported(network) {
		w.log.Warn("unknown withdrawal network", "user_id", userID, "network", network)
		return Reply{Outcome: Ignored, State: ChoosingNetwork{}}, nil
	}

	st := EnteringAddress{Network: network}
	w.sessions.Set(userID, st)
	return Reply{Outcome: AddressPrompt, State: st}, nil
}

// reselectNetwork handles a network button pressed again after the first
// choice; an unsupported network leaves the current step as it is.
func (w *Workflow) reselectNetwork(userID int64, current State, network string) (Reply, error) {
	if !address.Supported(network) {
		w.log.Warn("unknown withdrawal network", "user_id", userID, "network", network)
		return Reply{Outcome: Ignored, State: current}, nil
	}
	return w.chooseNetwork(userID, network)
}

func (w *Workflow) enterAddress(ctx context.Context, userID int64, st EnteringAddress, text string) (Reply, error) {
	addr := strings.TrimSpace(text)
	if !address.Validate(st.Network, addr) {
		return Reply{Outcome: InvalidAddress, State: st}, nil
	}

	if address.NeedMemo(st.Network) {
		next := EnteringMemo{Network: st.Network, Address: addr}
		w.sessions.Set(userID, next)
		return Reply{Outcome: MemoPrompt, State: next}, nil
	}

	return w.summarize(ctx, userID, st.Network, addr, "")
}

func (w *Workflow) enterMemo(ctx context.Context, userID int64, st EnteringMemo, text string) (Reply, error) {
	memo := strings.TrimSpace(text)
	if memo == "-" {
		memo = ""
	}
	return w.summarize(ctx, userID, st.Network, st.Address, memo)
}

// summarize snapshots the whole balance as the amount to withdraw
func (w *Workflow) summarize(ctx context.Context, userID int64, network, addr, memo string) (Reply, error) {
	balance, err := w.ledger.GetBalance(ctx, userID)
	if err != nil {
		w.sessions.Clear(userID)
		return Reply{State: Idle{}}, fmt.Errorf("get balance: %w", err)
	}

	if !balance.IsPositive() {
		w.sessions.Clear(userID)
		return Reply{Outcome: NoFunds, State: Idle{}}, nil
	}

	st := Confirming{Network: network, Address: addr, Memo: memo, Amount: balance}
	w.sessions.Set(userID, st)
	return Reply{Outcome: ConfirmPrompt, State: st}, nil
}

func (w *Workflow) confirm(ctx context.Context, userID int64) (Reply, error) {
	st, ok := w.sessions.TakeConfirming(userID)
	if !ok {
		return Reply{Outcome: Ignored, State: w.sessions.Get(userID)}, nil
	}

	balance, err := w.ledger.GetBalance(ctx, userID)
	if err != nil {
		return Reply{State: Idle{}}, fmt.Errorf("get balance: %w", err)
	}
	if !storage.Covers(balance, st.Amount) {
		w.log.Info("balance changed before confirmation",
			"user_id", userID,
			"snapshot", st.Amount.String(),
			"balance", balance.String(),
		)
		return Reply{Outcome: BalanceChanged, State: Idle{}}, nil
	}

	wd, err := w.ledger.RequestWithdrawal(ctx, storage.WithdrawalRequest{
		UserID:  userID,
		Amount:  st.Amount,
		Network: st.Network,
		Address: st.Address,
		Memo:    st.Memo,
	})
	if errors.Is(err, storage.ErrInsufficientBalance) {
		return Reply{Outcome: BalanceChanged, State: Idle{}}, nil
	}
	if err != nil {
		return Reply{State: Idle{}}, fmt.Errorf("request withdrawal: %w", err)
	}

	w.log.Info("withdrawal requested",
		"user_id", userID,
		"withdrawal_id", wd.ID,
		"amount", wd.Amount.String(),
		"network", wd.Network,
	)

	w.notify.WithdrawalRequested(ctx, wd)
	return Reply{Outcome: Created, State: Idle{}, Withdrawal: wd}, nil
}
