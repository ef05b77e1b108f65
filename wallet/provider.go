package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var privateKeyPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// KeyProvider is a Provider backed by a single in-memory private key.
type KeyProvider struct {
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
}

// NewKeyProvider parses a 0x-prefixed, 64 hex digit private key and returns a
// provider signing for chainID.
func NewKeyProvider(hexKey string, chainID *big.Int) (*KeyProvider, error) {
	if !privateKeyPattern.MatchString(hexKey) {
		return nil, errors.New("private key must be 0x followed by 64 hex digits")
	}
	if chainID == nil {
		return nil, errors.New("chain id is required")
	}
	key, err := crypto.HexToECDSA(hexKey[2:])
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewKeyProviderFromKey(key, chainID), nil
}

// NewKeyProviderFromKey wraps an already parsed key.
func NewKeyProviderFromKey(key *ecdsa.PrivateKey, chainID *big.Int) *KeyProvider {
	return &KeyProvider{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(chainID),
	}
}

func (p *KeyProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{p.address}, nil
}

func (p *KeyProvider) Signer(ctx context.Context, account common.Address) (Signer, error) {
	if account != p.address {
		return nil, fmt.Errorf("unknown account %s", account)
	}
	return keySigner{p}, nil
}

type keySigner struct {
	p *KeyProvider
}

func (s keySigner) Address() common.Address {
	return s.p.address
}

func (s keySigner) SignTx(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.p.signer, s.p.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

// Confirmer asks the account holder a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to the Confirmer interface.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// ConfirmingProvider wraps a Provider and asks the holder to approve account
// access and every signature. A refusal is reported as ErrUserRejected and
// nothing is signed.
type ConfirmingProvider struct {
	inner   Provider
	confirm Confirmer
}

func NewConfirmingProvider(inner Provider, confirm Confirmer) *ConfirmingProvider {
	return &ConfirmingProvider{inner: inner, confirm: confirm}
}

func (p *ConfirmingProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	accounts, err := p.inner.RequestAccounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	if err := p.ask(ctx, fmt.Sprintf("Connect account %s?", accounts[0])); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (p *ConfirmingProvider) Signer(ctx context.Context, account common.Address) (Signer, error) {
	inner, err := p.inner.Signer(ctx, account)
	if err != nil {
		return nil, err
	}
	return confirmingSigner{inner: inner, p: p}, nil
}

func (p *ConfirmingProvider) ask(ctx context.Context, prompt string) error {
	ok, err := p.confirm.Confirm(ctx, prompt)
	if err != nil {
		return fmt.Errorf("confirm: %w", err)
	}
	if !ok {
		return ErrUserRejected
	}
	return nil
}

type confirmingSigner struct {
	inner Signer
	p     *ConfirmingProvider
}

func (s confirmingSigner) Address() common.Address {
	return s.inner.Address()
}

func (s confirmingSigner) SignTx(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	to := "contract creation"
	if tx.To() != nil {
		to = tx.To().Hex()
	}
	if err := s.p.ask(ctx, fmt.Sprintf("Sign transaction #%d to %s?", tx.Nonce(), to)); err != nil {
		return nil, err
	}
	return s.inner.SignTx(ctx, tx)
}
