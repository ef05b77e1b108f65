// Package contract binds the game contract to a wallet session and exposes it
// through the typed Game interface.
package contract

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/luca-patrignani/chain-monopoly/wallet"
)

// DefaultABI is the interface descriptor of the game contract.
//
//go:embed abi.json
var DefaultABI string

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrTransactionFailed = errors.New("transaction failed")
	ErrNetwork           = errors.New("network error")
	// ErrConfirmationTimeout is a transaction failure: the transaction was
	// not seen mined within the confirmation bound.
	ErrConfirmationTimeout = fmt.Errorf("%w: confirmation timed out", ErrTransactionFailed)
)

// DefaultConfirmTimeout bounds how long WaitConfirmed waits for a receipt.
const DefaultConfirmTimeout = 2 * time.Minute

var requiredMethods = []string{"joinGame", "addressToTokenId", "playerStates", "commitDice", "revealDice"}

type option func(*Handle)

// WithConfirmTimeout bounds confirmation waits. Zero disables the bound.
func WithConfirmTimeout(d time.Duration) option {
	return func(h *Handle) {
		h.confirmTimeout = d
	}
}

// WithPollInterval sets how often logs are polled over transports without
// notifications.
func WithPollInterval(d time.Duration) option {
	return func(h *Handle) {
		if d > 0 {
			h.pollInterval = d
		}
	}
}

// WithLogger sets the logger used by the handle.
func WithLogger(logger *slog.Logger) option {
	return func(h *Handle) {
		h.logger = logger
	}
}

// Handle is the game contract bound to a session. It is immutable; bind a new
// one when the session changes.
type Handle struct {
	address        common.Address
	abi            abi.ABI
	bound          *bind.BoundContract
	backend        Backend
	session        *wallet.Session
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger
}

var _ Game = (*Handle)(nil)

// Bind parses the interface descriptor and binds it at remoteAddress for
// session. It performs no network I/O.
func Bind(remoteAddress string, descriptor string, session *wallet.Session, backend Backend, opts ...option) (*Handle, error) {
	remoteAddress = strings.TrimSpace(remoteAddress)
	if remoteAddress == "" {
		return nil, fmt.Errorf("%w: contract address is missing", ErrConfiguration)
	}
	if !common.IsHexAddress(remoteAddress) {
		return nil, fmt.Errorf("%w: malformed contract address %q", ErrConfiguration, remoteAddress)
	}
	address := common.HexToAddress(remoteAddress)
	if address == (common.Address{}) {
		return nil, fmt.Errorf("%w: contract address is the zero address", ErrConfiguration)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: no wallet session", ErrConfiguration)
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: no backend", ErrConfiguration)
	}
	parsed, err := abi.JSON(strings.NewReader(descriptor))
	if err != nil {
		return nil, fmt.Errorf("%w: parse interface descriptor: %w", ErrConfiguration, err)
	}
	for _, m := range requiredMethods {
		if _, ok := parsed.Methods[m]; !ok {
			return nil, fmt.Errorf("%w: interface descriptor lacks method %s", ErrConfiguration, m)
		}
	}
	h := &Handle{
		address:        address,
		abi:            parsed,
		bound:          bind.NewBoundContract(address, parsed, backend, backend, backend),
		backend:        backend,
		session:        session,
		confirmTimeout: DefaultConfirmTimeout,
		pollInterval:   DefaultPollInterval,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Address returns the contract address.
func (h *Handle) Address() common.Address {
	return h.address
}

func (h *Handle) Account() common.Address {
	return h.session.Address()
}

func (h *Handle) JoinGame(ctx context.Context) (*types.Transaction, error) {
	return h.transact(ctx, "joinGame")
}

func (h *Handle) CommitDice(ctx context.Context, commitment common.Hash) (*types.Transaction, error) {
	return h.transact(ctx, "commitDice", [32]byte(commitment))
}

func (h *Handle) RevealDice(ctx context.Context, nonce *big.Int) (*types.Transaction, error) {
	return h.transact(ctx, "revealDice", nonce)
}

func (h *Handle) AddressToTokenID(ctx context.Context, account common.Address, block uint64) (uint64, error) {
	var out []interface{}
	if err := h.bound.Call(h.callOpts(ctx, block), &out, "addressToTokenId", account); err != nil {
		return 0, fmt.Errorf("addressToTokenId(%s): %w: %w", account, ErrNetwork, err)
	}
	id, err := uint64Output(out, 0)
	if err != nil {
		return 0, fmt.Errorf("addressToTokenId(%s): %w", account, err)
	}
	return id, nil
}

func (h *Handle) PlayerStates(ctx context.Context, tokenID uint64, block uint64) (PlayerRecord, error) {
	var out []interface{}
	if err := h.bound.Call(h.callOpts(ctx, block), &out, "playerStates", new(big.Int).SetUint64(tokenID)); err != nil {
		return PlayerRecord{}, fmt.Errorf("playerStates(%d): %w: %w", tokenID, ErrNetwork, err)
	}
	position, err := uint64Output(out, 0)
	if err != nil {
		return PlayerRecord{}, fmt.Errorf("playerStates(%d): %w", tokenID, err)
	}
	if len(out) < 2 {
		return PlayerRecord{}, fmt.Errorf("playerStates(%d): missing score output", tokenID)
	}
	score := *abi.ConvertType(out[1], new(big.Int)).(*big.Int)
	return PlayerRecord{Position: position, Score: &score}, nil
}

func (h *Handle) HeadBlock(ctx context.Context) (uint64, error) {
	n, err := h.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w: %w", ErrNetwork, err)
	}
	return n, nil
}

// WaitConfirmed waits for tx to be mined and checks its status. Waiting longer
// than the confirmation bound yields ErrConfirmationTimeout.
func (h *Handle) WaitConfirmed(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if h.confirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.confirmTimeout)
		defer cancel()
	}
	receipt, err := bind.WaitMined(ctx, h.backend, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("tx %s: %w after %s", tx.Hash(), ErrConfirmationTimeout, h.confirmTimeout)
		}
		return nil, fmt.Errorf("wait for tx %s: %w: %w", tx.Hash(), ErrTransactionFailed, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("tx %s reverted in block %s: %w", tx.Hash(), receipt.BlockNumber, ErrTransactionFailed)
	}
	h.logger.Debug("transaction confirmed", "tx", tx.Hash(), "block", receipt.BlockNumber)
	return receipt, nil
}

func (h *Handle) transact(ctx context.Context, method string, params ...interface{}) (*types.Transaction, error) {
	opts, err := h.session.TransactOpts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	tx, err := h.bound.Transact(opts, method, params...)
	if err != nil {
		if errors.Is(err, wallet.ErrUserRejected) {
			return nil, fmt.Errorf("%s: %w", method, err)
		}
		return nil, fmt.Errorf("%s: %w: %w", method, ErrTransactionFailed, err)
	}
	h.logger.Info("transaction submitted", "method", method, "tx", tx.Hash())
	return tx, nil
}

func (h *Handle) callOpts(ctx context.Context, block uint64) *bind.CallOpts {
	opts := &bind.CallOpts{Context: ctx, From: h.session.Address()}
	if block > 0 {
		opts.BlockNumber = new(big.Int).SetUint64(block)
	}
	return opts
}

func uint64Output(out []interface{}, i int) (uint64, error) {
	if len(out) <= i {
		return 0, fmt.Errorf("missing output %d", i)
	}
	v := abi.ConvertType(out[i], new(big.Int)).(*big.Int)
	if !v.IsUint64() {
		return 0, fmt.Errorf("output %d out of range: %s", i, v)
	}
	return v.Uint64(), nil
}
