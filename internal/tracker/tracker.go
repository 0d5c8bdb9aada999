// Package tracker maintains the engine's ticket-keyed view of live broker
// positions and reconciles it against the adapter once per cycle. Grounded
// on the reference's BlockTracker in internal/blockchain/block_tracker.go —
// same mutex-guarded map plus copy-on-read accessor shape and the same
// "detect divergence from the external source of truth, emit an event,
// repair local state" pattern, applied to positions instead of blocks.
package tracker

import (
	"context"
	"sync"

	"github.com/atlas-desktop/autopilot-engine/internal/adapter"
	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const unknownSymbol = "UNKNOWN"

// EventSink receives provenance events produced during reconciliation.
type EventSink interface {
	Publish(event types.Event)
}

// Tracker holds the ticket -> Position map and reconciles it against the
// adapter's own book every cycle.
type Tracker struct {
	logger *zap.Logger
	mkt    adapter.MarketAdapter
	events EventSink

	mu        sync.RWMutex
	positions map[string]types.Position
}

// New builds an empty tracker.
func New(logger *zap.Logger, mkt adapter.MarketAdapter, events EventSink) *Tracker {
	return &Tracker{
		logger:    logger.Named("tracker"),
		mkt:       mkt,
		events:    events,
		positions: make(map[string]types.Position),
	}
}

// Snapshot returns a copy of every tracked position, safe to read outside
// the supervisor goroutine.
func (t *Tracker) Snapshot() []types.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	return out
}

// Get returns the tracked position for ticket, if any.
func (t *Tracker) Get(ticket string) (types.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[ticket]
	return p, ok
}

// Reconcile pulls the adapter's current position book and merges it into
// local state: adapter-only tickets are inserted (adopted unless already
// known), local-only tickets are marked closed, shared tickets have their
// live fields overwritten from the adapter, and any UNKNOWN-symbol local
// position triggers an immediate targeted re-query before returning.
func (t *Tracker) Reconcile(ctx context.Context, cycleID uint64) error {
	live, err := t.mkt.Positions(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	liveByTicket := make(map[string]types.Position, len(live))
	for _, p := range live {
		liveByTicket[p.Ticket] = p
	}

	for ticket, remote := range liveByTicket {
		local, known := t.positions[ticket]
		if !known {
			if remote.Source == "" {
				remote.Source = types.PositionSourceAdopted
			}
			t.positions[ticket] = remote
			t.publish(cycleID, types.EventPositionAdopted, remote.ClientTag, remote.Ticket, map[string]interface{}{
				"symbol": remote.Symbol,
			})
			continue
		}
		local.Symbol = remote.Symbol
		local.CurrentPrice = remote.CurrentPrice
		local.PnL = remote.PnL
		local.SL = remote.SL
		local.TP = remote.TP
		t.positions[ticket] = local
	}

	for ticket, local := range t.positions {
		if _, stillOpen := liveByTicket[ticket]; stillOpen {
			continue
		}
		delete(t.positions, ticket)
		t.publish(cycleID, types.EventPositionClosed, local.ClientTag, local.Ticket, map[string]interface{}{
			"reason": "reconciled_missing",
		})
	}

	pendingUnknown := make([]string, 0)
	for ticket, p := range t.positions {
		if p.Symbol == unknownSymbol {
			pendingUnknown = append(pendingUnknown, ticket)
		}
	}
	t.mu.Unlock()

	for _, ticket := range pendingUnknown {
		if err := t.resolveUnknown(ctx, cycleID, ticket); err != nil {
			t.logger.Warn("failed to resolve unknown-symbol position", zap.String("ticket", ticket), zap.Error(err))
		}
	}
	return nil
}

// resolveUnknown performs a targeted re-query for a single ticket whose
// symbol the adapter reported as UNKNOWN, so no price-dependent consumer
// ever runs against it this cycle, and records the self-heal on the event
// log once the canonical symbol is restored.
func (t *Tracker) resolveUnknown(ctx context.Context, cycleID uint64, ticket string) error {
	p, err := t.mkt.PositionByTicket(ctx, ticket)
	if err != nil {
		return err
	}
	t.mu.Lock()
	_, ok := t.positions[ticket]
	if ok {
		t.positions[ticket] = p
	}
	t.mu.Unlock()

	if ok {
		t.publish(cycleID, types.EventPositionReconciled, p.ClientTag, p.Ticket, map[string]interface{}{
			"fixed_symbol": true, "symbol": p.Symbol,
		})
	}
	return nil
}

// Insert records a position opened this cycle by the execution engine,
// under the engine's own ownership (not reconciliation-adopted).
func (t *Tracker) Insert(p types.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions[p.Ticket] = p
}

// Remove drops a ticket from the local book, e.g. after a confirmed full
// close initiated by this engine.
func (t *Tracker) Remove(ticket string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.positions, ticket)
}

func (t *Tracker) publish(cycleID uint64, kind types.EventKind, correlationID uuid.UUID, subject string, payload map[string]interface{}) {
	if t.events == nil {
		return
	}
	t.events.Publish(types.NewEvent(cycleID, kind, correlationID, subject, payload))
}
