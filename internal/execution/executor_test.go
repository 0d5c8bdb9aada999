package execution_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/autopilot-engine/internal/execution"
	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type scriptedAdapter struct {
	outcomes []types.OrderOutcome
	errs     []error
	calls    int
}

func (a *scriptedAdapter) AccountInfo(ctx context.Context) (types.AccountSnapshot, error) { return types.AccountSnapshot{}, nil }
func (a *scriptedAdapter) SymbolInfo(ctx context.Context, code string) (types.Symbol, error) {
	return types.Symbol{}, nil
}
func (a *scriptedAdapter) CopyRates(ctx context.Context, code string, tf types.Timeframe, count int) ([]types.Bar, error) {
	return nil, nil
}
func (a *scriptedAdapter) Tick(ctx context.Context, code string) (types.TickQuote, error) {
	return types.TickQuote{}, nil
}
func (a *scriptedAdapter) Positions(ctx context.Context) ([]types.Position, error) { return nil, nil }
func (a *scriptedAdapter) PositionByTicket(ctx context.Context, ticket string) (types.Position, error) {
	return types.Position{}, nil
}
func (a *scriptedAdapter) OrderSend(ctx context.Context, req types.OrderRequest) (types.OrderOutcome, error) {
	idx := a.calls
	a.calls++
	if idx < len(a.errs) && a.errs[idx] != nil {
		return types.OrderOutcome{}, a.errs[idx]
	}
	return a.outcomes[idx], nil
}
func (a *scriptedAdapter) PositionClose(ctx context.Context, ticket string, volumeFraction decimal.Decimal) error {
	return nil
}
func (a *scriptedAdapter) PositionModify(ctx context.Context, ticket string, sl, tp *decimal.Decimal) error {
	return nil
}

type fakeSink struct {
	events []types.Event
}

func (f *fakeSink) Publish(event types.Event) { f.events = append(f.events, event) }

func (f *fakeSink) has(kind types.EventKind) bool {
	for _, e := range f.events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func baseRequest() types.OrderRequest {
	return types.OrderRequest{
		SignalID: uuid.New(), Symbol: "EURUSD", Side: types.SideLong,
		Volume: decimal.NewFromFloat(0.1), SL: decimal.NewFromFloat(1.0950), TP: decimal.NewFromFloat(1.1100),
		ClientTag: uuid.New(), StrategyID: "ema_cross",
	}
}

func TestSubmitEmitsFullProvenanceChainOnFill(t *testing.T) {
	mkt := &scriptedAdapter{outcomes: []types.OrderOutcome{{Kind: types.OutcomeFilled, Ticket: "T1", FillPrice: decimal.NewFromFloat(1.1000)}}}
	sink := &fakeSink{}
	eng := execution.New(zap.NewNop(), mkt, sink)

	outcome, err := eng.Submit(context.Background(), 1, uuid.New(), baseRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != types.OutcomeFilled {
		t.Fatalf("expected a filled outcome, got %v", outcome.Kind)
	}
	for _, kind := range []types.EventKind{types.EventSignalGenerated, types.EventOrderSubmitted, types.EventOrderFilled} {
		if !sink.has(kind) {
			t.Errorf("expected event %v to be published", kind)
		}
	}
	if sink.has(types.EventOrderRejected) {
		t.Error("did not expect a rejection event for a filled order")
	}
}

func TestSubmitEmitsRejectionEventOnRejectedOutcome(t *testing.T) {
	mkt := &scriptedAdapter{outcomes: []types.OrderOutcome{{Kind: types.OutcomeRejected, RejectCode: "NO_MONEY", RejectReason: "insufficient margin"}}}
	sink := &fakeSink{}
	eng := execution.New(zap.NewNop(), mkt, sink)

	outcome, err := eng.Submit(context.Background(), 1, uuid.New(), baseRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != types.OutcomeRejected {
		t.Fatalf("expected a rejected outcome, got %v", outcome.Kind)
	}
	if !sink.has(types.EventOrderRejected) {
		t.Error("expected an order-rejected event")
	}
}

func TestSubmitPublishesRejectionEventOnAdapterError(t *testing.T) {
	mkt := &scriptedAdapter{errs: []error{types.NewCoreError(types.ErrPermanentAdapter, "boom", nil)}, outcomes: []types.OrderOutcome{{}}}
	sink := &fakeSink{}
	eng := execution.New(zap.NewNop(), mkt, sink)

	_, err := eng.Submit(context.Background(), 1, uuid.New(), baseRequest())
	if err == nil {
		t.Fatal("expected the adapter error to propagate")
	}
	if !sink.has(types.EventOrderRejected) {
		t.Error("expected a rejection event to be published on adapter error")
	}
}

func TestRetryableSubmitRetriesOnlyTransientErrors(t *testing.T) {
	mkt := &scriptedAdapter{
		errs:     []error{types.NewCoreError(types.ErrTransientAdapter, "timeout", nil), nil},
		outcomes: []types.OrderOutcome{{}, {Kind: types.OutcomeFilled, Ticket: "T2"}},
	}
	sink := &fakeSink{}
	eng := execution.New(zap.NewNop(), mkt, sink)

	outcome, err := eng.RetryableSubmit(context.Background(), 1, uuid.New(), baseRequest(), time.Second, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Ticket != "T2" {
		t.Fatalf("expected the retry to succeed with ticket T2, got %q", outcome.Ticket)
	}
	if mkt.calls != 2 {
		t.Errorf("expected exactly 2 adapter calls, got %d", mkt.calls)
	}
}

func TestRetryableSubmitStopsImmediatelyOnPermanentError(t *testing.T) {
	mkt := &scriptedAdapter{
		errs:     []error{types.NewCoreError(types.ErrPermanentAdapter, "rejected", nil)},
		outcomes: []types.OrderOutcome{{}},
	}
	sink := &fakeSink{}
	eng := execution.New(zap.NewNop(), mkt, sink)

	_, err := eng.RetryableSubmit(context.Background(), 1, uuid.New(), baseRequest(), time.Second, 3)
	if err == nil {
		t.Fatal("expected a permanent adapter error to propagate without retrying")
	}
	if mkt.calls != 1 {
		t.Errorf("expected exactly 1 adapter call for a permanent error, got %d", mkt.calls)
	}
}
