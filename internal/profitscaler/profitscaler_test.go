package profitscaler_test

import (
	"testing"

	"github.com/atlas-desktop/autopilot-engine/internal/profitscaler"
	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/shopspring/decimal"
)

func posWithProfitPct(ticket string, pct float64) types.Position {
	entry := decimal.NewFromFloat(100)
	volume := decimal.NewFromFloat(1)
	pnl := entry.Mul(volume).Mul(decimal.NewFromFloat(pct))
	return types.Position{Ticket: ticket, EntryPrice: entry, Volume: volume, PnL: pnl}
}

func TestEvaluateFiresFirstTierAtThreshold(t *testing.T) {
	s := profitscaler.New(types.DefaultProfitScalingConfig())
	balance := decimal.NewFromInt(10000)

	decision := s.Evaluate(posWithProfitPct("T1", 0.025), balance)
	if !decision.ScaleOut || decision.TierIndex != 0 {
		t.Fatalf("expected tier 0 to fire at 2.5%% profit, got %+v", decision)
	}
}

func TestEvaluateNeverRefiresAnAlreadyFiredTier(t *testing.T) {
	s := profitscaler.New(types.DefaultProfitScalingConfig())
	balance := decimal.NewFromInt(10000)

	first := s.Evaluate(posWithProfitPct("T1", 0.025), balance)
	if !first.ScaleOut {
		t.Fatal("expected tier 0 to fire on the first call")
	}
	second := s.Evaluate(posWithProfitPct("T1", 0.025), balance)
	if second.ScaleOut {
		t.Fatalf("expected the same profit level not to re-fire an already-consumed tier, got %+v", second)
	}
}

func TestEvaluateSkipsDirectlyToHighestUnfiredTier(t *testing.T) {
	s := profitscaler.New(types.DefaultProfitScalingConfig())
	balance := decimal.NewFromInt(10000)

	decision := s.Evaluate(posWithProfitPct("T1", 0.09), balance)
	if decision.TierIndex != 2 {
		t.Fatalf("expected the highest tier below 9%% profit to fire directly, got tier %d", decision.TierIndex)
	}
}

func TestEvaluateUsesMicroTiersBelowThreshold(t *testing.T) {
	s := profitscaler.New(types.DefaultProfitScalingConfig())
	balance := decimal.NewFromInt(50) // below MicroAccountThreshold (100)

	decision := s.Evaluate(posWithProfitPct("T1", 0.06), balance)
	if !decision.ScaleOut || decision.TierIndex != 0 {
		t.Fatalf("expected the micro tier ladder's first rung (5%%) to fire at 6%% profit, got %+v", decision)
	}
}

func TestEvaluateTriggersEmergencyLockAboveThreshold(t *testing.T) {
	s := profitscaler.New(types.DefaultProfitScalingConfig())
	balance := decimal.NewFromInt(10) // small balance so pnl/balance exceeds 20% easily

	pos := posWithProfitPct("T1", 0.01)
	pos.PnL = decimal.NewFromFloat(5) // pnl/balance = 0.5 >= 0.20 emergency lock
	decision := s.Evaluate(pos, balance)
	if !decision.EmergencyLock || decision.ClosePct != 1.0 {
		t.Fatalf("expected an emergency lock full close, got %+v", decision)
	}
}

func TestForgetClearsTierProgressForTicket(t *testing.T) {
	s := profitscaler.New(types.DefaultProfitScalingConfig())
	balance := decimal.NewFromInt(10000)

	s.Evaluate(posWithProfitPct("T1", 0.025), balance)
	s.Forget("T1")

	decision := s.Evaluate(posWithProfitPct("T1", 0.025), balance)
	if !decision.ScaleOut {
		t.Fatal("expected tier 0 to be eligible to fire again after Forget")
	}
}
