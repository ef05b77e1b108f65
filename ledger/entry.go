package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/luca-patrignani/chain-monopoly/dice"
)

// Entry is a journal record.
type Entry struct {
	Index     int      `json:"index"`
	Timestamp int64    `json:"timestamp"`
	PrevHash  string   `json:"prev_hash"`
	Hash      string   `json:"hash"`
	Roll      Roll     `json:"roll"`
	Metadata  Metadata `json:"metadata"`
}

// Roll is a resolved commit-reveal round.
type Roll struct {
	Account    common.Address `json:"account"`
	Nonce      *big.Int       `json:"nonce"`
	Commitment common.Hash    `json:"commitment"`
	CommitTx   common.Hash    `json:"commit_tx"`
	RevealTx   common.Hash    `json:"reveal_tx"`
}

type Metadata struct {
	Contract    common.Address    `json:"contract"`
	RevealBlock uint64            `json:"reveal_block"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// RollFromOutcome converts a resolved roll of the coordinator.
func RollFromOutcome(o dice.Outcome) Roll {
	return Roll{
		Account:    o.Account,
		Nonce:      new(big.Int).Set(o.Nonce),
		Commitment: o.Commitment,
		CommitTx:   o.CommitTx,
		RevealTx:   o.RevealTx,
	}
}
