package contract

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/luca-patrignani/chain-monopoly/events"
)

// Backend is the RPC surface the binding needs. *ethclient.Client satisfies
// it; tests provide fakes.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend

	// BlockNumber returns the most recent block number.
	BlockNumber(ctx context.Context) (uint64, error)
}

// PlayerRecord is the on-chain state of a joined player.
type PlayerRecord struct {
	Position uint64
	Score    *big.Int
}

// Game is the typed interface of the remote game contract, one method per
// remote operation. Block arguments pin a query to a block; 0 means latest.
type Game interface {
	// Account returns the address calls are made from.
	Account() common.Address

	// JoinGame submits joinGame(); the contract assigns the caller a token.
	JoinGame(ctx context.Context) (*types.Transaction, error)

	// AddressToTokenID returns the token of account, 0 when not joined.
	AddressToTokenID(ctx context.Context, account common.Address, block uint64) (uint64, error)

	// PlayerStates returns position and score of a joined token.
	PlayerStates(ctx context.Context, tokenID uint64, block uint64) (PlayerRecord, error)

	// CommitDice submits phase one of the dice protocol.
	CommitDice(ctx context.Context, commitment common.Hash) (*types.Transaction, error)

	// RevealDice submits phase two; the contract recomputes the commitment
	// from the caller and nonce before accepting.
	RevealDice(ctx context.Context, nonce *big.Int) (*types.Transaction, error)

	// WaitConfirmed blocks until tx is mined successfully, fails, or the
	// confirmation bound elapses.
	WaitConfirmed(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

	// HeadBlock returns the latest block number.
	HeadBlock(ctx context.Context) (uint64, error)

	events.Source
}
