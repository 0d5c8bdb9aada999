package exits_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/autopilot-engine/internal/exits"
	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/shopspring/decimal"
)

func baseContext() exits.Context {
	return exits.Context{
		Position: types.Position{
			Ticket:       "T1",
			Side:         types.SideLong,
			Volume:       decimal.NewFromFloat(0.1),
			EntryPrice:   decimal.NewFromFloat(1.1000),
			CurrentPrice: decimal.NewFromFloat(1.1010),
			PnL:          decimal.NewFromFloat(0.0001),
			OpenTime:     time.Now().Add(-time.Hour),
		},
		Account: types.AccountSnapshot{
			Balance: decimal.NewFromInt(1000),
			Equity:  decimal.NewFromInt(1000),
		},
		MarginLevel: decimal.NewFromInt(500),
		Liquidity:   exits.LiquiditySignal{DepthOK: true},
		Now:         time.Now(),
	}
}

func TestCoordinatorSurvivalOutranksEverything(t *testing.T) {
	c := exits.New(types.DefaultExitConfig())
	ctx := baseContext()
	ctx.Account.Equity = decimal.Zero // at or below SurvivalFloorEquity (0)

	decision, _ := c.Evaluate(ctx)
	if decision.Kind != types.ExitEmergency {
		t.Fatalf("expected survival rule to force ExitEmergency, got %v (%s)", decision.Kind, decision.ReasonCode)
	}
	if decision.OriginatingRule != "survival" {
		t.Errorf("expected survival to be the originating rule, got %q", decision.OriginatingRule)
	}
}

func TestCoordinatorHoldsWhenNothingTriggers(t *testing.T) {
	c := exits.New(types.DefaultExitConfig())
	ctx := baseContext()

	decision, move := c.Evaluate(ctx)
	if decision.Kind != types.ExitHold {
		t.Fatalf("expected hold for a freshly opened, flat position, got %v (%s / %s)", decision.Kind, decision.ReasonCode, decision.OriginatingRule)
	}
	if move.Requested {
		t.Error("expected no stop move for a position far from breakeven activation")
	}
}

func TestCoordinatorHardProfitTarget(t *testing.T) {
	cfg := types.DefaultExitConfig()
	c := exits.New(cfg)
	ctx := baseContext()
	ctx.Account.Balance = decimal.NewFromInt(100000) // stay well above the micro-account rule's threshold
	ctx.Position.EntryPrice = decimal.NewFromFloat(100)
	ctx.Position.Volume = decimal.NewFromFloat(1)
	ctx.Position.PnL = cfg.HardProfitTargetPct.Mul(decimal.NewFromFloat(100)).Add(decimal.NewFromFloat(1))

	decision, _ := c.Evaluate(ctx)
	if decision.Kind != types.ExitClose {
		t.Fatalf("expected ExitClose at the hard profit target, got %v (%s / %s)", decision.Kind, decision.ReasonCode, decision.OriginatingRule)
	}
}

func TestCoordinatorMicroAccountTarget(t *testing.T) {
	cfg := types.DefaultExitConfig()
	c := exits.New(cfg)
	ctx := baseContext()
	ctx.Account.Balance = decimal.NewFromInt(50) // below MicroAccountBalance (100)
	ctx.Position.EntryPrice = decimal.NewFromFloat(100)
	ctx.Position.Volume = decimal.NewFromFloat(1)
	ctx.Position.PnL = cfg.MicroTargetPct.Mul(decimal.NewFromFloat(100)).Add(decimal.NewFromFloat(1))

	decision, _ := c.Evaluate(ctx)
	if decision.Kind != types.ExitClose || decision.OriginatingRule != "micro_account_protection" {
		t.Fatalf("expected micro-account protection to close, got %v from %q", decision.Kind, decision.OriginatingRule)
	}
}
