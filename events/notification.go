package events

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

// Kind names a notification emitted by the game contract. The value is the
// event name in the contract interface.
type Kind string

const (
	PlayerMoved  Kind = "PlayerMoved"
	ScoreUpdated Kind = "ScoreUpdated"
)

// Sequence orders competing updates of the same local state. It is derived
// from the position of the emitting log in the chain, not from wall-clock
// time. The zero value is an unknown sequence.
type Sequence struct {
	Block uint64
	Index uint64
}

// AtBlock returns the sequence of a query answered at the end of block n:
// it is newer than every log of that block and older than any later block.
func AtBlock(n uint64) Sequence {
	return Sequence{Block: n, Index: math.MaxUint64}
}

// Known reports whether the sequence carries ordering information.
func (s Sequence) Known() bool {
	return s.Block != 0
}

// Compare returns -1, 0 or +1 depending on whether s is older than, equal to
// or newer than o. Both sequences must be known.
func (s Sequence) Compare(o Sequence) int {
	switch {
	case s.Block < o.Block:
		return -1
	case s.Block > o.Block:
		return 1
	case s.Index < o.Index:
		return -1
	case s.Index > o.Index:
		return 1
	}
	return 0
}

func (s Sequence) String() string {
	if !s.Known() {
		return "unknown"
	}
	if s.Index == math.MaxUint64 {
		return fmt.Sprintf("%d/end", s.Block)
	}
	return fmt.Sprintf("%d/%d", s.Block, s.Index)
}

// Notification is a decoded contract event.
type Notification struct {
	Kind    Kind
	TokenID uint64

	// PlayerMoved
	From uint64
	To   uint64

	// ScoreUpdated
	Score *big.Int

	Seq    Sequence
	TxHash common.Hash
}

// Source opens a transport subscription delivering notifications of one kind
// into sink, in the order the transport receives them.
type Source interface {
	Watch(ctx context.Context, kind Kind, sink chan<- Notification) (event.Subscription, error)
}
