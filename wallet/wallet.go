package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrProviderUnavailable means no wallet capability is present.
	ErrProviderUnavailable = errors.New("wallet provider unavailable")
	// ErrUserRejected means the account holder declined the request.
	ErrUserRejected = errors.New("rejected by account holder")
	// ErrReadOnly is returned when a signature is requested from a session
	// without a signing handle.
	ErrReadOnly = errors.New("session is read-only")
)

// Provider is the wallet capability supplied by the host.
type Provider interface {
	// RequestAccounts asks the holder for access to their accounts.
	RequestAccounts(ctx context.Context) ([]common.Address, error)

	// Signer returns the signing handle of the given account.
	Signer(ctx context.Context, account common.Address) (Signer, error)
}

// Signer signs transactions on behalf of a single account.
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
}

type option func(*Wallet)

// WithLogger sets the logger used by the wallet.
func WithLogger(logger *slog.Logger) option {
	return func(w *Wallet) {
		w.logger = logger
	}
}

// Wallet connects to a Provider and owns the resulting Session.
type Wallet struct {
	provider Provider
	session  atomic.Pointer[Session]
	logger   *slog.Logger
}

// New creates a Wallet on top of provider. A nil provider is accepted: the
// failure surfaces as ErrProviderUnavailable on Connect.
func New(provider Provider, opts ...option) *Wallet {
	w := &Wallet{
		provider: provider,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Connect requests account access and builds a Session for the first account
// the holder shares. On success the Session replaces the previous one; on
// failure the previous Session is left untouched.
func (w *Wallet) Connect(ctx context.Context) (*Session, error) {
	if w.provider == nil {
		return nil, ErrProviderUnavailable
	}
	accounts, err := w.provider.RequestAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("request accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("request accounts: no account shared: %w", ErrUserRejected)
	}
	signer, err := w.provider.Signer(ctx, accounts[0])
	if err != nil {
		return nil, fmt.Errorf("signer for %s: %w", accounts[0], err)
	}
	if signer.Address() != accounts[0] {
		return nil, fmt.Errorf("signer address %s does not match account %s", signer.Address(), accounts[0])
	}
	s := &Session{address: accounts[0], signer: signer}
	if old := w.session.Swap(s); old != nil {
		w.logger.Info("wallet session replaced", "old", old.address, "new", s.address)
	} else {
		w.logger.Info("wallet connected", "address", s.address)
	}
	return s, nil
}

// Session returns the current Session, or nil when not connected.
func (w *Wallet) Session() *Session {
	return w.session.Load()
}

// Disconnect drops the current Session.
func (w *Wallet) Disconnect() {
	if old := w.session.Swap(nil); old != nil {
		w.logger.Info("wallet disconnected", "address", old.address)
	}
}
