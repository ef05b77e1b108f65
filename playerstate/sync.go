package playerstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/luca-patrignani/chain-monopoly/contract"
	"github.com/luca-patrignani/chain-monopoly/events"
)

var (
	// ErrNotJoined is returned by Refresh when the account holds no token.
	ErrNotJoined = errors.New("account has not joined the game")
	// ErrStaleApplication marks a notification addressed to a token other
	// than the one currently held. It is filtered, never returned to callers.
	ErrStaleApplication = errors.New("stale application")
)

// State is a snapshot of the mirrored player.
type State struct {
	TokenID  uint64
	Position uint64
	Score    *big.Int

	PositionSeq events.Sequence
	ScoreSeq    events.Sequence
}

// Joined reports whether the state belongs to a joined player.
func (s State) Joined() bool {
	return s.TokenID != 0
}

func (s State) clone() State {
	c := s
	c.Score = new(big.Int)
	if s.Score != nil {
		c.Score.Set(s.Score)
	}
	return c
}

type option func(*Sync)

// WithOnChange registers fn to be called with a snapshot every time a field
// of the state changes value. It runs on the goroutine that applied the
// update, which may be the notification dispatcher, and must not call Attach
// or Detach.
func WithOnChange(fn func(State)) option {
	return func(s *Sync) {
		s.onChange = fn
	}
}

// WithLogger sets the logger used by the Sync.
func WithLogger(logger *slog.Logger) option {
	return func(s *Sync) {
		s.logger = logger
	}
}

// Sync mirrors the state of one account.
type Sync struct {
	game    contract.Game
	manager *events.Manager
	account common.Address

	mu          sync.Mutex
	state       State
	positionSet bool
	scoreSet    bool
	handles     []*events.Handle
	detached    bool
	detaches    uint64
	stale       uint64

	onChange func(State)
	logger   *slog.Logger
}

// New returns a Sync mirroring account through game. Notifications are
// received through manager once Attach is called.
func New(game contract.Game, manager *events.Manager, account common.Address, opts ...option) *Sync {
	s := &Sync{
		game:    game,
		manager: manager,
		account: account,
		state:   State{Score: new(big.Int)},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("account", account)
	return s
}

// Account returns the mirrored address.
func (s *Sync) Account() common.Address {
	return s.account
}

// State returns a snapshot of the mirrored state.
func (s *Sync) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Stale returns how many notifications were discarded because they were
// addressed to another token.
func (s *Sync) Stale() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

// Refresh queries the token of the account and, when it has joined, its
// position and score, both pinned to the current head block. The result is
// reconciled with the notifications already applied and the reconciled state
// is returned. Query failures are returned without touching subscriptions.
func (s *Sync) Refresh(ctx context.Context) (State, error) {
	var block uint64
	seq := events.Sequence{}
	if head, err := s.game.HeadBlock(ctx); err != nil {
		s.logger.Warn("head block unavailable, refresh has no sequence", "err", err)
	} else {
		block, seq = head, events.AtBlock(head)
	}

	tokenID, err := s.game.AddressToTokenID(ctx, s.account, block)
	if err != nil {
		return State{}, fmt.Errorf("refresh: %w", err)
	}
	if tokenID == 0 {
		return State{}, ErrNotJoined
	}
	rec, err := s.game.PlayerStates(ctx, tokenID, block)
	if err != nil {
		return State{}, fmt.Errorf("refresh token %d: %w", tokenID, err)
	}

	s.mu.Lock()
	changed := s.state.TokenID != tokenID
	if changed {
		if s.state.TokenID != 0 {
			s.logger.Warn("token changed, resetting state", "held", s.state.TokenID, "queried", tokenID)
		}
		s.state = State{TokenID: tokenID, Score: new(big.Int)}
		s.positionSet, s.scoreSet = false, false
	}
	if s.applyPosition(rec.Position, seq) {
		changed = true
	}
	if s.applyScore(rec.Score, seq) {
		changed = true
	}
	snapshot := s.state.clone()
	s.mu.Unlock()

	s.logger.Debug("refreshed", "token", tokenID, "position", snapshot.Position, "score", snapshot.Score, "seq", seq)
	if changed {
		s.notify(snapshot)
	}
	return snapshot, nil
}

// Join submits the join transaction and waits for its confirmation. The state
// is not modified; the assigned token is observed by the next Refresh.
func (s *Sync) Join(ctx context.Context) (*types.Receipt, error) {
	tx, err := s.game.JoinGame(ctx)
	if err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}
	receipt, err := s.game.WaitConfirmed(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}
	s.logger.Info("joined", "tx", tx.Hash(), "block", receipt.BlockNumber)
	return receipt, nil
}

// Attach subscribes to PlayerMoved and ScoreUpdated. tokenID is the token the
// caller expects; when the Sync holds none yet it adopts it. Notifications are
// matched against the token held when they arrive, so a token assigned after
// Attach is honoured. Attaching again replaces the previous subscriptions once
// the new ones are in place; on failure the previous ones are kept.
func (s *Sync) Attach(ctx context.Context, tokenID uint64) error {
	s.mu.Lock()
	detaches := s.detaches
	s.mu.Unlock()

	var handles []*events.Handle
	for _, kind := range []events.Kind{events.PlayerMoved, events.ScoreUpdated} {
		h, err := s.manager.Subscribe(ctx, kind, tokenID, s.handle)
		if err != nil {
			s.manager.UnsubscribeAll(handles...)
			return fmt.Errorf("attach: %w", err)
		}
		handles = append(handles, h)
	}

	s.mu.Lock()
	if s.detaches != detaches {
		s.mu.Unlock()
		s.manager.UnsubscribeAll(handles...)
		s.logger.Debug("detached while attaching")
		return nil
	}
	previous := s.handles
	s.handles = handles
	s.detached = false
	if tokenID != 0 && s.state.TokenID == 0 {
		s.state.TokenID = tokenID
	}
	s.mu.Unlock()
	s.manager.UnsubscribeAll(previous...)
	s.logger.Debug("attached", "token", tokenID)
	return nil
}

// Attached reports whether every subscription made by the last Attach is
// still active.
func (s *Sync) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.handles) == 0 {
		return false
	}
	for _, h := range s.handles {
		if !h.Active() {
			return false
		}
	}
	return true
}

// Detach releases every subscription. When it returns no notification is
// applied anymore. It is safe to call more than once.
func (s *Sync) Detach() {
	s.mu.Lock()
	s.detached = true
	s.detaches++
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()
	if len(handles) > 0 {
		s.manager.UnsubscribeAll(handles...)
		s.logger.Debug("detached")
	}
}

func (s *Sync) handle(n events.Notification) {
	err := s.apply(n)
	switch {
	case errors.Is(err, ErrStaleApplication):
		s.logger.Debug("notification discarded", "kind", n.Kind, "err", err)
	case err != nil:
		s.logger.Warn("notification not applied", "kind", n.Kind, "err", err)
	}
}

func (s *Sync) apply(n events.Notification) error {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return nil
	}
	if n.TokenID != s.state.TokenID {
		s.stale++
		held := s.state.TokenID
		s.mu.Unlock()
		return fmt.Errorf("%w: %s for token %d, holding %d", ErrStaleApplication, n.Kind, n.TokenID, held)
	}
	var changed bool
	switch n.Kind {
	case events.PlayerMoved:
		changed = s.applyPosition(n.To, n.Seq)
	case events.ScoreUpdated:
		if n.Score == nil {
			s.mu.Unlock()
			return fmt.Errorf("score update without score at %s", n.Seq)
		}
		changed = s.applyScore(n.Score, n.Seq)
	default:
		s.mu.Unlock()
		return fmt.Errorf("unknown notification kind %q", n.Kind)
	}
	snapshot := s.state.clone()
	s.mu.Unlock()
	if changed {
		s.notify(snapshot)
	}
	return nil
}

// applyPosition and applyScore must be called with s.mu held. They report
// whether the value changed.
func (s *Sync) applyPosition(position uint64, seq events.Sequence) bool {
	if !s.accept("position", s.positionSet, s.state.PositionSeq, seq) {
		return false
	}
	s.positionSet = true
	s.state.PositionSeq = seq
	if s.state.Position == position {
		return false
	}
	s.state.Position = position
	return true
}

func (s *Sync) applyScore(score *big.Int, seq events.Sequence) bool {
	if !s.accept("score", s.scoreSet, s.state.ScoreSeq, seq) {
		return false
	}
	s.scoreSet = true
	s.state.ScoreSeq = seq
	if s.state.Score.Cmp(score) == 0 {
		return false
	}
	s.state.Score = new(big.Int).Set(score)
	return true
}

func (s *Sync) accept(field string, set bool, current, next events.Sequence) bool {
	if !set {
		return true
	}
	if !current.Known() || !next.Known() {
		s.logger.Warn("update ordering unknown, last applied wins", "field", field, "current", current, "next", next)
		return true
	}
	switch next.Compare(current) {
	case 0:
		return false
	case -1:
		s.logger.Debug("older update dropped", "field", field, "current", current, "next", next)
		return false
	}
	return true
}

func (s *Sync) notify(state State) {
	if s.onChange != nil {
		s.onChange(state)
	}
}
