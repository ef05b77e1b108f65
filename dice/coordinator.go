package dice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type Phase string

const (
	Idle       Phase = "idle"
	Committing Phase = "committing"
	Committed  Phase = "committed"
	Revealing  Phase = "revealing"
	Resolved   Phase = "resolved"
	Failed     Phase = "failed"
)

var (
	// ErrRollInProgress is returned when a roll is started while another one
	// is committing, committed or revealing.
	ErrRollInProgress = errors.New("roll in progress")
	// ErrNotCommitted is returned by Reveal unless the commitment has been
	// confirmed. No transaction is attempted.
	ErrNotCommitted = errors.New("commitment not confirmed")
)

// Ledger is the part of the game contract a roll needs.
type Ledger interface {
	Account() common.Address
	CommitDice(ctx context.Context, commitment common.Hash) (*types.Transaction, error)
	RevealDice(ctx context.Context, nonce *big.Int) (*types.Transaction, error)
	WaitConfirmed(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Status describes the current roll. It never carries the secret nonce.
type Status struct {
	Phase      Phase
	Commitment common.Hash
	CommitTx   common.Hash
	RevealTx   common.Hash
	Err        error
}

// Outcome is a resolved roll. The nonce is public once revealed.
type Outcome struct {
	Account     common.Address
	Nonce       *big.Int
	Commitment  common.Hash
	CommitTx    common.Hash
	RevealTx    common.Hash
	RevealBlock uint64
}

type option func(*Coordinator)

// WithNonceSource replaces RandomNonce.
func WithNonceSource(source NonceSource) option {
	return func(c *Coordinator) {
		c.newNonce = source
	}
}

// WithOnTransition registers fn to be called after every phase change.
func WithOnTransition(fn func(from, to Phase)) option {
	return func(c *Coordinator) {
		c.onTransition = fn
	}
}

func WithLogger(logger *slog.Logger) option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// Coordinator runs the rolls of one player, one at a time.
type Coordinator struct {
	ledger Ledger

	mu        sync.Mutex
	phase     Phase
	nonce     *big.Int
	lastNonce *big.Int
	status    Status
	outcome   *Outcome

	newNonce     NonceSource
	onTransition func(from, to Phase)
	logger       *slog.Logger
}

func NewCoordinator(ledger Ledger, opts ...option) *Coordinator {
	c := &Coordinator{
		ledger:   ledger,
		phase:    Idle,
		newNonce: RandomNonce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("account", ledger.Account())
	return c
}

// Status returns the state of the current or last roll.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.status
	s.Phase = c.phase
	return s
}

// Outcome returns the last resolved roll.
func (c *Coordinator) Outcome() (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcome == nil {
		return Outcome{}, false
	}
	o := *c.outcome
	o.Nonce = new(big.Int).Set(c.outcome.Nonce)
	return o, true
}

// Roll commits and then reveals a fresh nonce.
func (c *Coordinator) Roll(ctx context.Context) (Outcome, error) {
	if err := c.Commit(ctx); err != nil {
		return Outcome{}, err
	}
	return c.Reveal(ctx)
}

// Commit starts a new roll: it draws a fresh nonce, submits its commitment and
// waits until the commitment is confirmed.
func (c *Coordinator) Commit(ctx context.Context) error {
	var transitions [][2]Phase
	c.mu.Lock()
	switch c.phase {
	case Committing, Committed, Revealing:
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("%w: phase %s", ErrRollInProgress, phase)
	case Resolved, Failed:
		transitions = append(transitions, [2]Phase{c.phase, Idle})
		c.phase = Idle
	}
	c.status = Status{}
	nonce, err := c.freshNonce()
	if err != nil {
		c.mu.Unlock()
		c.notify(transitions...)
		return c.fail(fmt.Errorf("commit: %w", err))
	}
	commitment := Hash(c.ledger.Account(), nonce)
	c.nonce = nonce
	c.status.Commitment = commitment
	transitions = append(transitions, [2]Phase{Idle, Committing})
	c.phase = Committing
	c.mu.Unlock()
	c.notify(transitions...)

	tx, err := c.ledger.CommitDice(ctx, commitment)
	if err != nil {
		return c.fail(fmt.Errorf("commit: %w", err))
	}
	c.mu.Lock()
	c.status.CommitTx = tx.Hash()
	c.mu.Unlock()
	c.logger.Info("commitment submitted", "commitment", commitment, "tx", tx.Hash())

	receipt, err := c.ledger.WaitConfirmed(ctx, tx)
	if err != nil {
		return c.fail(fmt.Errorf("commit: %w", err))
	}
	c.moveTo(Committed)
	c.logger.Info("commitment confirmed", "block", receipt.BlockNumber)
	return nil
}

// Reveal submits the nonce of a confirmed commitment and waits for the
// reveal to be confirmed. The contract then emits the movement of the player.
func (c *Coordinator) Reveal(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	if c.phase != Committed {
		phase := c.phase
		c.mu.Unlock()
		return Outcome{}, fmt.Errorf("%w: phase %s", ErrNotCommitted, phase)
	}
	c.phase = Revealing
	nonce := new(big.Int).Set(c.nonce)
	c.mu.Unlock()
	c.notify([2]Phase{Committed, Revealing})

	tx, err := c.ledger.RevealDice(ctx, nonce)
	if err != nil {
		return Outcome{}, c.fail(fmt.Errorf("reveal: %w", err))
	}
	c.mu.Lock()
	c.status.RevealTx = tx.Hash()
	c.mu.Unlock()
	c.logger.Info("nonce revealed", "tx", tx.Hash())

	receipt, err := c.ledger.WaitConfirmed(ctx, tx)
	if err != nil {
		return Outcome{}, c.fail(fmt.Errorf("reveal: %w", err))
	}

	c.mu.Lock()
	o := &Outcome{
		Account:    c.ledger.Account(),
		Nonce:      nonce,
		Commitment: c.status.Commitment,
		CommitTx:   c.status.CommitTx,
		RevealTx:   c.status.RevealTx,
	}
	if receipt.BlockNumber != nil {
		o.RevealBlock = receipt.BlockNumber.Uint64()
	}
	c.outcome = o
	c.lastNonce, c.nonce = c.nonce, nil
	c.phase = Resolved
	c.mu.Unlock()
	c.notify([2]Phase{Revealing, Resolved})
	c.logger.Info("roll resolved", "block", o.RevealBlock)
	return Outcome{
		Account:     o.Account,
		Nonce:       new(big.Int).Set(nonce),
		Commitment:  o.Commitment,
		CommitTx:    o.CommitTx,
		RevealTx:    o.RevealTx,
		RevealBlock: o.RevealBlock,
	}, nil
}

// freshNonce must be called with c.mu held.
func (c *Coordinator) freshNonce() (*big.Int, error) {
	for range 3 {
		n, err := c.newNonce()
		if err != nil {
			return nil, fmt.Errorf("draw nonce: %w", err)
		}
		if n == nil || n.Sign() <= 0 || n.Cmp(nonceBound) >= 0 {
			continue
		}
		if c.lastNonce != nil && n.Cmp(c.lastNonce) == 0 {
			continue
		}
		return n, nil
	}
	return nil, errors.New("draw nonce: source repeated or out of range")
}

func (c *Coordinator) moveTo(to Phase) {
	c.mu.Lock()
	from := c.phase
	c.phase = to
	c.mu.Unlock()
	c.notify([2]Phase{from, to})
}

// fail ends the current roll. The nonce is discarded so it can never be
// committed again.
func (c *Coordinator) fail(err error) error {
	c.mu.Lock()
	from := c.phase
	c.phase = Failed
	c.status.Err = err
	if c.nonce != nil {
		c.lastNonce, c.nonce = c.nonce, nil
	}
	c.mu.Unlock()
	c.notify([2]Phase{from, Failed})
	c.logger.Error("roll failed", "phase", from, "err", err)
	return err
}

func (c *Coordinator) notify(transitions ...[2]Phase) {
	if c.onTransition == nil {
		return
	}
	for _, t := range transitions {
		c.onTransition(t[0], t[1])
	}
}
