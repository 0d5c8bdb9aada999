package loop_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/autopilot-engine/internal/account"
	"github.com/atlas-desktop/autopilot-engine/internal/cognition"
	"github.com/atlas-desktop/autopilot-engine/internal/events"
	"github.com/atlas-desktop/autopilot-engine/internal/execution"
	"github.com/atlas-desktop/autopilot-engine/internal/exits"
	"github.com/atlas-desktop/autopilot-engine/internal/indicators"
	"github.com/atlas-desktop/autopilot-engine/internal/lifecycle"
	"github.com/atlas-desktop/autopilot-engine/internal/loop"
	"github.com/atlas-desktop/autopilot-engine/internal/profitscaler"
	"github.com/atlas-desktop/autopilot-engine/internal/regime"
	"github.com/atlas-desktop/autopilot-engine/internal/risk"
	"github.com/atlas-desktop/autopilot-engine/internal/selector"
	"github.com/atlas-desktop/autopilot-engine/internal/strategy"
	"github.com/atlas-desktop/autopilot-engine/internal/tracker"
	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type noopAdapter struct{}

func (noopAdapter) AccountInfo(ctx context.Context) (types.AccountSnapshot, error) {
	return types.AccountSnapshot{Balance: decimal.NewFromInt(1000), Equity: decimal.NewFromInt(1000), TradeAllowed: true}, nil
}
func (noopAdapter) SymbolInfo(ctx context.Context, code string) (types.Symbol, error) {
	return types.Symbol{Code: code, PipSize: decimal.NewFromFloat(0.0001), LotMin: decimal.NewFromFloat(0.01), LotStep: decimal.NewFromFloat(0.01), LotMax: decimal.NewFromFloat(10)}, nil
}
func (noopAdapter) CopyRates(ctx context.Context, code string, tf types.Timeframe, count int) ([]types.Bar, error) {
	return nil, nil
}
func (noopAdapter) Tick(ctx context.Context, code string) (types.TickQuote, error) {
	return types.TickQuote{Symbol: code, Bid: decimal.NewFromFloat(1.1), Ask: decimal.NewFromFloat(1.1002)}, nil
}
func (noopAdapter) Positions(ctx context.Context) ([]types.Position, error) { return nil, nil }
func (noopAdapter) PositionByTicket(ctx context.Context, ticket string) (types.Position, error) {
	return types.Position{}, nil
}
func (noopAdapter) OrderSend(ctx context.Context, req types.OrderRequest) (types.OrderOutcome, error) {
	return types.OrderOutcome{Kind: types.OutcomeFilled, Ticket: "T1"}, nil
}
func (noopAdapter) PositionClose(ctx context.Context, ticket string, volumeFraction decimal.Decimal) error {
	return nil
}
func (noopAdapter) PositionModify(ctx context.Context, ticket string, sl, tp *decimal.Decimal) error {
	return nil
}

func newTestSupervisor(t *testing.T) *loop.Supervisor {
	t.Helper()
	logger := zap.NewNop()
	mkt := noopAdapter{}
	bus := events.New(logger, nil, 64)
	registry := strategy.NewRegistry(logger)

	sup := loop.New(
		logger,
		loop.DefaultConfig(),
		mkt,
		indicators.NewEngine(logger),
		regime.NewClassifier(logger, regime.DefaultConfig()),
		registry,
		selector.New(logger, registry, selector.DefaultConfig()),
		cognition.New(logger, types.DefaultCognitionConfig()),
		risk.New(logger, types.DefaultRiskEvaluatorConfig()),
		account.New(logger, account.DefaultConfig(), types.DefaultPhaseTable()),
		tracker.New(logger, mkt, bus),
		execution.New(logger, mkt, bus),
		exits.New(types.DefaultExitConfig()),
		profitscaler.New(types.DefaultProfitScalingConfig()),
		lifecycle.NewAdoptionFilter(types.AdoptionAcceptAll, ""),
		nil,
		bus,
		nil,
	)
	return sup
}

func TestNewSupervisorSnapshotStartsAtZero(t *testing.T) {
	sup := newTestSupervisor(t)
	snap := sup.Snapshot()
	if snap.CycleID != 0 {
		t.Errorf("expected a fresh supervisor to report cycle 0, got %d", snap.CycleID)
	}
	if len(snap.Positions) != 0 {
		t.Errorf("expected no tracked positions before the loop ever starts, got %d", len(snap.Positions))
	}
}

func TestStartReturnsErrorWhenAlreadyRunning(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sup.Start(ctx) }()

	// Give the first Start call a moment to flip the running flag before
	// attempting a concurrent second Start.
	time.Sleep(50 * time.Millisecond)
	if err := sup.Start(context.Background()); err == nil {
		t.Error("expected a second concurrent Start to return an error")
	}

	cancel()
	<-done
}

func TestStopIsSafeToCallMultipleTimesWithoutStarting(t *testing.T) {
	sup := newTestSupervisor(t)
	sup.Stop()
	sup.Stop()
}
