package wallet

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Session is the authenticated identity of the current user.
type Session struct {
	address common.Address
	signer  Signer
}

// NewReadOnlySession returns a Session that can only be used for queries.
func NewReadOnlySession(address common.Address) *Session {
	return &Session{address: address}
}

// Address returns the account address of the session.
func (s *Session) Address() common.Address {
	return s.address
}

// CanSign reports whether the session carries a signing handle.
func (s *Session) CanSign() bool {
	return s.signer != nil
}

// TransactOpts returns fresh transaction options signing with the session's
// handle. Each call returns a new value so callers may adjust gas or nonce
// without affecting each other.
func (s *Session) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if s.signer == nil {
		return nil, ErrReadOnly
	}
	return &bind.TransactOpts{
		From:    s.address,
		Context: ctx,
		Signer: func(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if from != s.address {
				return nil, bind.ErrNotAuthorized
			}
			return s.signer.SignTx(ctx, tx)
		},
	}, nil
}
