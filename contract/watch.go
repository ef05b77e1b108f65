package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/luca-patrignani/chain-monopoly/events"
)

type playerMovedLog struct {
	TokenId *big.Int
	From    *big.Int
	To      *big.Int
}

type scoreUpdatedLog struct {
	TokenId  *big.Int
	NewScore *big.Int
}

// DefaultPollInterval is how often logs are polled when the transport cannot
// push them.
const DefaultPollInterval = 4 * time.Second

// Watch subscribes to contract logs of kind and forwards them, decoded, to
// sink. Logs that cannot be decoded and logs removed by a reorg are dropped.
// Over transports without notifications (plain HTTP) the logs are polled
// from the block following the head at subscription time.
func (h *Handle) Watch(ctx context.Context, kind events.Kind, sink chan<- events.Notification) (event.Subscription, error) {
	ev, ok := h.abi.Events[string(kind)]
	if !ok {
		return nil, fmt.Errorf("%w: interface descriptor lacks event %s", ErrConfiguration, kind)
	}
	logs, sub, err := h.bound.WatchLogs(&bind.WatchOpts{Context: ctx}, string(kind))
	if errors.Is(err, rpc.ErrNotificationsUnsupported) {
		return h.poll(ctx, kind, ev.ID, sink)
	}
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w: %w", kind, ErrNetwork, err)
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case l := <-logs:
				if l.Removed {
					h.logger.Warn("log removed by reorg", "kind", kind, "tx", l.TxHash, "block", l.BlockNumber)
					continue
				}
				n, err := h.decode(kind, l)
				if err != nil {
					h.logger.Warn("undecodable log", "kind", kind, "tx", l.TxHash, "err", err)
					continue
				}
				select {
				case sink <- n:
				case err := <-sub.Err():
					return err
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func (h *Handle) poll(ctx context.Context, kind events.Kind, topic common.Hash, sink chan<- events.Notification) (event.Subscription, error) {
	head, err := h.backend.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w: %w", kind, ErrNetwork, err)
	}
	h.logger.Info("notifications unsupported, polling logs", "kind", kind, "from", head+1, "interval", h.pollInterval)
	next := head + 1
	return event.NewSubscription(func(quit <-chan struct{}) error {
		ticker := time.NewTicker(h.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return nil
			case <-quit:
				return nil
			}
			head, err := h.backend.BlockNumber(ctx)
			if err != nil {
				h.logger.Warn("poll head failed", "kind", kind, "err", err)
				continue
			}
			if head < next {
				continue
			}
			found, err := h.backend.FilterLogs(ctx, ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(next),
				ToBlock:   new(big.Int).SetUint64(head),
				Addresses: []common.Address{h.address},
				Topics:    [][]common.Hash{{topic}},
			})
			if err != nil {
				h.logger.Warn("poll logs failed", "kind", kind, "from", next, "to", head, "err", err)
				continue
			}
			for _, l := range found {
				if l.Removed {
					continue
				}
				n, err := h.decode(kind, l)
				if err != nil {
					h.logger.Warn("undecodable log", "kind", kind, "tx", l.TxHash, "err", err)
					continue
				}
				select {
				case sink <- n:
				case <-ctx.Done():
					return nil
				case <-quit:
					return nil
				}
			}
			next = head + 1
		}
	}), nil
}

func (h *Handle) decode(kind events.Kind, l types.Log) (events.Notification, error) {
	n := events.Notification{
		Kind:   kind,
		Seq:    events.Sequence{Block: l.BlockNumber, Index: uint64(l.Index)},
		TxHash: l.TxHash,
	}
	var err error
	switch kind {
	case events.PlayerMoved:
		var ev playerMovedLog
		if err := h.bound.UnpackLog(&ev, string(kind), l); err != nil {
			return n, err
		}
		if n.TokenID, err = toUint64("tokenId", ev.TokenId); err != nil {
			return n, err
		}
		if n.From, err = toUint64("from", ev.From); err != nil {
			return n, err
		}
		if n.To, err = toUint64("to", ev.To); err != nil {
			return n, err
		}
	case events.ScoreUpdated:
		var ev scoreUpdatedLog
		if err := h.bound.UnpackLog(&ev, string(kind), l); err != nil {
			return n, err
		}
		if n.TokenID, err = toUint64("tokenId", ev.TokenId); err != nil {
			return n, err
		}
		n.Score = ev.NewScore
	default:
		return n, fmt.Errorf("unknown event %s", kind)
	}
	return n, nil
}

func toUint64(name string, v *big.Int) (uint64, error) {
	if v == nil || !v.IsUint64() {
		return 0, fmt.Errorf("%s out of range: %v", name, v)
	}
	return v.Uint64(), nil
}
