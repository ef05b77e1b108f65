// Package events manages the lifecycle of contract notification
// subscriptions: registration, serialized dispatch to the current handler,
// and guaranteed deregistration on teardown.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
)

const defaultBuffer = 16

// Handler consumes one notification. Handlers run one at a time and must not
// call back into the Manager.
type Handler func(Notification)

// Handle is a registered subscription.
type Handle struct {
	id      uuid.UUID
	kind    Kind
	tokenID uint64
	active  atomic.Bool

	sub     event.Subscription
	cancel  context.CancelFunc
	release sync.Once
	done    chan struct{}
}

func (h *Handle) ID() uuid.UUID { return h.id }

func (h *Handle) Kind() Kind { return h.kind }

// TokenID returns the subject recorded at registration.
func (h *Handle) TokenID() uint64 { return h.tokenID }

// Active reports whether notifications are still dispatched to the handler.
func (h *Handle) Active() bool { return h.active.Load() }

// Done is closed once the dispatch goroutine of the handle has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) stop() {
	h.release.Do(func() {
		h.sub.Unsubscribe()
		h.cancel()
	})
}

type option func(*Manager)

// WithLogger sets the logger used by the manager.
func WithLogger(logger *slog.Logger) option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithBuffer sets the size of the per-subscription delivery buffer.
func WithBuffer(n int) option {
	return func(m *Manager) {
		m.buffer = n
	}
}

// Manager registers subscriptions on a Source and dispatches their
// notifications. Dispatch of every handle is serialized through one lock,
// which is also taken by UnsubscribeAll: once UnsubscribeAll returns, no
// handler of the released handles runs again.
type Manager struct {
	source Source
	mu     sync.Mutex
	buffer int
	logger *slog.Logger
}

func NewManager(source Source, opts ...option) *Manager {
	m := &Manager{
		source: source,
		buffer: defaultBuffer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers handler for notifications of kind. tokenID records the
// subject the caller had in mind at registration; it is informational only
// and handlers must resolve the current subject themselves. The subscription
// ends when ctx is done, when the transport fails, or on UnsubscribeAll.
func (m *Manager) Subscribe(ctx context.Context, kind Kind, tokenID uint64, handler Handler) (*Handle, error) {
	sink := make(chan Notification, m.buffer)
	subCtx, cancel := context.WithCancel(ctx)
	sub, err := m.source.Watch(subCtx, kind, sink)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", kind, err)
	}
	h := &Handle{
		id:      uuid.New(),
		kind:    kind,
		tokenID: tokenID,
		sub:     sub,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	h.active.Store(true)
	m.logger.Debug("subscribed", "kind", kind, "token", tokenID, "subscription", h.id)
	go m.dispatch(subCtx, h, sink, handler)
	return h, nil
}

func (m *Manager) dispatch(ctx context.Context, h *Handle, sink <-chan Notification, handler Handler) {
	defer close(h.done)
	for {
		select {
		case n := <-sink:
			m.deliver(h, n, handler)
		case err, ok := <-h.sub.Err():
			if ok && err != nil {
				m.logger.Warn("subscription failed", "kind", h.kind, "subscription", h.id, "err", err)
			}
			m.deactivate(h)
			h.stop()
			return
		case <-ctx.Done():
			m.deactivate(h)
			h.stop()
			return
		}
	}
}

// deliver hands n to handler unless the handle was released meanwhile.
func (m *Manager) deliver(h *Handle, n Notification, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !h.active.Load() {
		m.logger.Debug("notification discarded, subscription inactive", "kind", n.Kind, "token", n.TokenID, "subscription", h.id)
		return
	}
	handler(n)
}

func (m *Manager) deactivate(h *Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.active.CompareAndSwap(true, false) {
		m.logger.Debug("unsubscribed", "kind", h.kind, "subscription", h.id)
		return true
	}
	return false
}

// UnsubscribeAll releases handles. It is safe to call any number of times,
// with nil entries, and with handles already released.
func (m *Manager) UnsubscribeAll(handles ...*Handle) {
	for _, h := range handles {
		if h == nil {
			continue
		}
		m.deactivate(h)
		h.stop()
	}
}
