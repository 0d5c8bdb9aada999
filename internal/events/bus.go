// Package events is the append-only provenance stream every core
// component publishes to: signal generation, order lifecycle, position
// reconciliation, phase/drawdown transitions. Grounded on the reference's
// EventBus subscriber-fanout shape in the former internal/events/event_bus.go,
// narrowed from its generic multi-type pub/sub to the single concrete
// types.Event record this engine persists and inspects, and its
// EventHandler callbacks replaced with a bounded ring buffer plus a
// synchronous persistence hook (the durable sink of record).
package events

import (
	"sync"

	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"go.uber.org/zap"
)

// Sink receives every published event synchronously, in publish order.
// internal/persistence.Store satisfies this for the durable append-only
// log; tests can substitute an in-memory fake.
type Sink interface {
	Append(event types.Event) error
}

// Bus fans a published event out to a bounded in-memory ring (for the
// inspection API's "recent events" view) and to a durable Sink. Publish
// never blocks on Sink I/O failures — a persistence error is logged, not
// propagated, since losing the bus would stop the trading loop itself.
type Bus struct {
	logger *zap.Logger
	sink   Sink

	mu      sync.RWMutex
	ring    []types.Event
	ringCap int
	subs    []chan types.Event
}

// New builds an event bus backed by sink, retaining up to ringCap recent
// events for synchronous inspection.
func New(logger *zap.Logger, sink Sink, ringCap int) *Bus {
	if ringCap <= 0 {
		ringCap = 1000
	}
	return &Bus{logger: logger.Named("events"), sink: sink, ringCap: ringCap}
}

// Publish implements execution.EventSink, tracker.EventSink, and every
// other component's event-sink dependency.
func (b *Bus) Publish(event types.Event) {
	b.mu.Lock()
	b.ring = append(b.ring, event)
	if len(b.ring) > b.ringCap {
		b.ring = b.ring[len(b.ring)-b.ringCap:]
	}
	subs := make([]chan types.Event, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	if b.sink != nil {
		if err := b.sink.Append(event); err != nil {
			b.logger.Error("failed to persist event", zap.String("kind", string(event.Kind)), zap.Error(err))
		}
	}
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			b.logger.Warn("subscriber channel full, dropping event", zap.String("kind", string(event.Kind)))
		}
	}
}

// Subscribe returns a channel that receives every subsequently published
// event. The caller must drain it; a full channel drops events rather
// than blocking Publish.
func (b *Bus) Subscribe(buffer int) <-chan types.Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan types.Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Recent returns a copy of the last n published events (fewer if the ring
// hasn't filled), newest last.
func (b *Bus) Recent(n int) []types.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 || n > len(b.ring) {
		n = len(b.ring)
	}
	out := make([]types.Event, n)
	copy(out, b.ring[len(b.ring)-n:])
	return out
}
