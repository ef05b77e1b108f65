// Package contracttest provides an in-memory game contract for tests. It
// confirms transactions on demand, verifies reveals against commitments the
// way the real contract does, and emits notifications through go-ethereum
// event feeds.
package contracttest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"

	"github.com/luca-patrignani/chain-monopoly/contract"
	"github.com/luca-patrignani/chain-monopoly/events"
)

// BoardSize is the number of tiles the fake contract moves players around.
const BoardSize = 40

// FirstTokenID is the token assigned to the first player that joins.
const FirstTokenID = 7

type pendingTx struct {
	method string
	arg    interface{}
}

// Game is a fake contract.Game bound to a single account.
type Game struct {
	mu          sync.Mutex
	account     common.Address
	head        uint64
	txNonce     uint64
	nextToken   uint64
	tokens      map[common.Address]uint64
	states      map[uint64]contract.PlayerRecord
	commitments map[common.Address]common.Hash
	pending     map[common.Hash]pendingTx
	submitted   []string
	submitErr   map[string]error
	confirmErr  map[string]error
	queryErr    error
	onConfirm   func(method string)
	feeds       map[events.Kind]*event.Feed
}

var _ contract.Game = (*Game)(nil)

func NewGame(account common.Address) *Game {
	return &Game{
		account:     account,
		head:        1,
		nextToken:   FirstTokenID,
		tokens:      map[common.Address]uint64{},
		states:      map[uint64]contract.PlayerRecord{},
		commitments: map[common.Address]common.Hash{},
		pending:     map[common.Hash]pendingTx{},
		submitErr:   map[string]error{},
		confirmErr:  map[string]error{},
		feeds:       map[events.Kind]*event.Feed{},
	}
}

// FailSubmit makes the next submissions of method fail with err before
// anything reaches the chain. A nil err clears the failure.
func (g *Game) FailSubmit(method string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitErr[method] = err
}

// FailConfirm makes confirmation of method fail with err, as for a reverted
// or dropped transaction.
func (g *Game) FailConfirm(method string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmErr[method] = err
}

// FailQueries makes every query fail with err until cleared with nil.
func (g *Game) FailQueries(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queryErr = err
}

// OnConfirm registers a hook run at the start of every WaitConfirmed.
func (g *Game) OnConfirm(hook func(method string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onConfirm = hook
}

// Submitted returns the methods submitted so far, in order.
func (g *Game) Submitted() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.submitted...)
}

// Commitment returns the commitment stored for account, if any.
func (g *Game) Commitment(account common.Address) (common.Hash, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.commitments[account]
	return c, ok
}

// SetHead moves the chain head.
func (g *Game) SetHead(n uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.head = n
}

// SetPlayer stores the state of a joined account directly.
func (g *Game) SetPlayer(account common.Address, tokenID uint64, rec contract.PlayerRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens[account] = tokenID
	g.states[tokenID] = rec
}

// Emit delivers n to the current subscribers of its kind and returns how many
// received it.
func (g *Game) Emit(n events.Notification) int {
	return g.feed(n.Kind).Send(n)
}

func (g *Game) feed(kind events.Kind) *event.Feed {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.feeds[kind]
	if !ok {
		f = new(event.Feed)
		g.feeds[kind] = f
	}
	return f
}

func (g *Game) Account() common.Address {
	return g.account
}

func (g *Game) JoinGame(ctx context.Context) (*types.Transaction, error) {
	return g.submit("joinGame", nil)
}

func (g *Game) CommitDice(ctx context.Context, commitment common.Hash) (*types.Transaction, error) {
	return g.submit("commitDice", commitment)
}

func (g *Game) RevealDice(ctx context.Context, nonce *big.Int) (*types.Transaction, error) {
	return g.submit("revealDice", new(big.Int).Set(nonce))
}

func (g *Game) submit(method string, arg interface{}) (*types.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.submitErr[method]; err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	to := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	tx := types.NewTx(&types.LegacyTx{Nonce: g.txNonce, To: &to, Gas: 100000, GasPrice: big.NewInt(1), Data: []byte(method)})
	g.txNonce++
	g.pending[tx.Hash()] = pendingTx{method: method, arg: arg}
	g.submitted = append(g.submitted, method)
	return tx, nil
}

func (g *Game) AddressToTokenID(ctx context.Context, account common.Address, block uint64) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.queryErr != nil {
		return 0, fmt.Errorf("addressToTokenId: %w: %w", contract.ErrNetwork, g.queryErr)
	}
	return g.tokens[account], nil
}

func (g *Game) PlayerStates(ctx context.Context, tokenID uint64, block uint64) (contract.PlayerRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.queryErr != nil {
		return contract.PlayerRecord{}, fmt.Errorf("playerStates: %w: %w", contract.ErrNetwork, g.queryErr)
	}
	rec := g.states[tokenID]
	score := new(big.Int)
	if rec.Score != nil {
		score.Set(rec.Score)
	}
	return contract.PlayerRecord{Position: rec.Position, Score: score}, nil
}

func (g *Game) HeadBlock(ctx context.Context) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.queryErr != nil {
		return 0, fmt.Errorf("block number: %w: %w", contract.ErrNetwork, g.queryErr)
	}
	return g.head, nil
}

// WaitConfirmed mines tx in a new block and applies its effects. Successful
// reveals emit PlayerMoved and ScoreUpdated for the caller's token.
func (g *Game) WaitConfirmed(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	g.mu.Lock()
	hook := g.onConfirm
	p, ok := g.pending[tx.Hash()]
	g.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown tx %s: %w", tx.Hash(), contract.ErrTransactionFailed)
	}
	if hook != nil {
		hook(p.method)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("wait for tx %s: %w: %w", tx.Hash(), contract.ErrTransactionFailed, err)
	}

	g.mu.Lock()
	delete(g.pending, tx.Hash())
	if err := g.confirmErr[p.method]; err != nil {
		g.mu.Unlock()
		return nil, fmt.Errorf("tx %s: %w", tx.Hash(), err)
	}
	g.head++
	block := g.head
	emitted, err := g.apply(p, block)
	g.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("tx %s reverted: %w: %w", tx.Hash(), contract.ErrTransactionFailed, err)
	}
	for i := range emitted {
		emitted[i].TxHash = tx.Hash()
		g.Emit(emitted[i])
	}
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(block),
	}, nil
}

func (g *Game) apply(p pendingTx, block uint64) ([]events.Notification, error) {
	switch p.method {
	case "joinGame":
		if g.tokens[g.account] != 0 {
			return nil, fmt.Errorf("already joined")
		}
		id := g.nextToken
		g.nextToken++
		g.tokens[g.account] = id
		g.states[id] = contract.PlayerRecord{Score: new(big.Int)}
		return nil, nil
	case "commitDice":
		g.commitments[g.account] = p.arg.(common.Hash)
		return nil, nil
	case "revealDice":
		nonce := p.arg.(*big.Int)
		stored, ok := g.commitments[g.account]
		if !ok {
			return nil, fmt.Errorf("no commitment")
		}
		if crypto.Keccak256Hash(g.account.Bytes(), common.LeftPadBytes(nonce.Bytes(), 32)) != stored {
			return nil, fmt.Errorf("commitment mismatch")
		}
		delete(g.commitments, g.account)
		id := g.tokens[g.account]
		if id == 0 {
			return nil, fmt.Errorf("not joined")
		}
		rec := g.states[id]
		roll := new(big.Int).Mod(nonce, big.NewInt(6)).Uint64() + 1
		from := rec.Position
		to := (from + roll) % BoardSize
		score := new(big.Int).Add(rec.Score, new(big.Int).SetUint64(roll))
		g.states[id] = contract.PlayerRecord{Position: to, Score: score}
		return []events.Notification{
			{Kind: events.PlayerMoved, TokenID: id, From: from, To: to, Seq: events.Sequence{Block: block, Index: 0}},
			{Kind: events.ScoreUpdated, TokenID: id, Score: new(big.Int).Set(score), Seq: events.Sequence{Block: block, Index: 1}},
		}, nil
	}
	return nil, fmt.Errorf("unknown method %s", p.method)
}

func (g *Game) Watch(ctx context.Context, kind events.Kind, sink chan<- events.Notification) (event.Subscription, error) {
	g.mu.Lock()
	err := g.queryErr
	g.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w: %w", kind, contract.ErrNetwork, err)
	}
	return g.feed(kind).Subscribe(sink), nil
}
