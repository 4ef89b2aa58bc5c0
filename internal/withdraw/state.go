package withdraw

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// State is the position of a user in the withdrawal conversation.
// It is one of Idle, ChoosingNetwork, EnteringAddress, EnteringMemo, Confirming.
type State interface {
	isState()
}

type Idle struct{}

type ChoosingNetwork struct{}

type EnteringAddress struct {
	Network string
}

type EnteringMemo struct {
	Network string
	Address string
}

// Confirming holds everything needed to create the request.
// Amount is the full balance at the moment the summary was shown.
type Confirming struct {
	Network string
	Address string
	Memo    string
	Amount  decimal.Decimal
}

func (Idle) isState()            {}
func (ChoosingNetwork) isState() {}
func (EnteringAddress) isState() {}
func (EnteringMemo) isState()    {}
func (Confirming) isState()      {}

type session struct {
	state   State
	touched time.Time
}

// Sessions keeps withdrawal conversation state per user in memory.
// A session not touched for ttl is treated as Idle; ttl <= 0 keeps
// sessions forever.
type Sessions struct {
	mu       sync.Mutex
	sessions map[int64]session
	ttl      time.Duration
	now      func() time.Time
}

// NewSessions creates an empty session store
func NewSessions(ttl time.Duration) *Sessions {
	return &Sessions{
		sessions: make(map[int64]session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the user's current state
func (s *Sessions) Get(userID int64) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(userID)
}

// Set stores the user's state. Setting Idle clears the session.
func (s *Sessions) Set(userID int64, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, idle := st.(Idle); idle || st == nil {
		delete(s.sessions, userID)
		return
	}
	s.sessions[userID] = session{state: st, touched: s.now()}
}

// Clear removes the user's session
func (s *Sessions) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// TakeConfirming removes the user's session only when it is Confirming and
// returns it. Any other state stays untouched. Only one caller can take a
// given Confirming session.
func (s *Sessions) TakeConfirming(userID int64) (Confirming, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.get(userID).(Confirming)
	if !ok {
		return Confirming{}, false
	}
	delete(s.sessions, userID)
	return st, true
}

// Sweep drops expired sessions and returns how many were removed
func (s *Sessions) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// SweepLoop periodically drops expired sessions until ctx is done
func (s *Sessions) SweepLoop(ctx context.Context, interval time.Duration, log *slog.Logger) {
	if s.ttl <= 0 {
		log.Info("session sweeper disabled: no ttl")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("session sweeper started", "interval", interval, "ttl", s.ttl)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				log.Debug("expired withdrawal sessions", "count", n)
			}
		}
	}
}

func (s *Sessions) get(userID int64) State {
	sess, ok := s.sessions[userID]
	if !ok {
		return Idle{}
	}
	if s.expired(sess) {
		delete(s.sessions, userID)
		return Idle{}
	}
	return sess.state
}

func (s *Sessions) expired(sess session) bool {
	return s.ttl > 0 && s.now().Sub(sess.touched) > s.ttl
}
