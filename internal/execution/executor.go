// Package execution converts admitted signals into broker orders with an
// idempotency key and a full provenance event chain. Grounded on the
// reference's Executor/OrderManager pair in internal/execution/executor.go
// and order_manager.go, adapted from their multi-exchange-adapter shape to
// this spec's single narrow MarketAdapter interface, and from the
// reference's hand-rolled commission/slippage tracking to an
// idempotency-first submit contract.
package execution

import (
	"context"
	"time"

	"github.com/atlas-desktop/autopilot-engine/internal/adapter"
	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventSink receives provenance events as the engine processes a signal.
// internal/events.Bus satisfies this.
type EventSink interface {
	Publish(event types.Event)
}

// Engine submits orders through a MarketAdapter and records the
// signal_generated -> order_submitted -> order_filled|rejected chain.
type Engine struct {
	logger  *zap.Logger
	adapter adapter.MarketAdapter
	events  EventSink
}

// New builds an execution engine.
func New(logger *zap.Logger, mkt adapter.MarketAdapter, events EventSink) *Engine {
	return &Engine{logger: logger.Named("execution"), adapter: mkt, events: events}
}

// Submit places req through the adapter. client_tag is the caller's
// responsibility to keep stable across retries of the same logical order;
// the adapter is expected to treat a duplicate tag as the original fill.
// cycleID ties the emitted events to the trading loop cycle that produced
// signalID.
func (e *Engine) Submit(ctx context.Context, cycleID uint64, signalID uuid.UUID, req types.OrderRequest) (types.OrderOutcome, error) {
	correlation := signalID
	e.publish(cycleID, types.EventSignalGenerated, correlation, req.Symbol, map[string]interface{}{"signalId": signalID.String()})
	e.publish(cycleID, types.EventOrderSubmitted, correlation, req.Symbol, map[string]interface{}{
		"side": req.Side, "volume": req.Volume.String(), "clientTag": req.ClientTag.String(),
	})

	outcome, err := e.adapter.OrderSend(ctx, req)
	if err != nil {
		e.publish(cycleID, types.EventOrderRejected, correlation, req.Symbol, map[string]interface{}{"error": err.Error()})
		return outcome, err
	}

	switch outcome.Kind {
	case types.OutcomeFilled:
		e.publish(cycleID, types.EventOrderFilled, correlation, req.Symbol, map[string]interface{}{
			"ticket": outcome.Ticket, "fillPrice": outcome.FillPrice.String(),
		})
	case types.OutcomeRejected:
		e.publish(cycleID, types.EventOrderRejected, correlation, req.Symbol, map[string]interface{}{
			"code": outcome.RejectCode, "reason": outcome.RejectReason,
		})
	}
	return outcome, nil
}

func (e *Engine) publish(cycleID uint64, kind types.EventKind, correlationID uuid.UUID, subject string, payload map[string]interface{}) {
	if e.events == nil {
		return
	}
	e.events.Publish(types.NewEvent(cycleID, kind, correlationID, subject, payload))
}

// RetryableSubmit wraps Submit with the adapter-timeout/retry budget from
// §5, retrying only transient adapter failures with the same client_tag.
func (e *Engine) RetryableSubmit(ctx context.Context, cycleID uint64, signalID uuid.UUID, req types.OrderRequest, timeout time.Duration, maxRetries int) (types.OrderOutcome, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		outcome, err := e.Submit(callCtx, cycleID, signalID, req)
		cancel()
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if !types.IsTransient(err) {
			return outcome, err
		}
	}
	return types.OrderOutcome{}, lastErr
}
