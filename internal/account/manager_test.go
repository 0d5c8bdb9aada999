package account_test

import (
	"testing"

	"github.com/atlas-desktop/autopilot-engine/internal/account"
	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestEvaluateStaysInCurrentPhaseBelowDebounceThreshold(t *testing.T) {
	m := account.New(zap.NewNop(), account.DefaultConfig(), types.DefaultPhaseTable())

	snap := types.AccountSnapshot{Balance: decimal.NewFromInt(5000)}
	rs := types.RiskState{DrawdownState: types.DrawdownNormal}

	limits := m.Evaluate(snap, rs, 0.5)
	if limits.Phase != types.PhaseMicro {
		t.Fatalf("expected the manager to require DebounceCycles before switching, got %s", limits.Phase)
	}
}

func TestEvaluateSwitchesPhaseAfterDebounceStreak(t *testing.T) {
	cfg := account.DefaultConfig()
	m := account.New(zap.NewNop(), cfg, types.DefaultPhaseTable())

	snap := types.AccountSnapshot{Balance: decimal.NewFromInt(1000)}
	rs := types.RiskState{DrawdownState: types.DrawdownNormal}

	var limits types.PhaseLimits
	for i := 0; i < cfg.DebounceCycles; i++ {
		limits = m.Evaluate(snap, rs, 0.5)
	}
	if limits.Phase != types.PhaseGrowth {
		t.Fatalf("expected phase to settle on growth for a $1000 balance, got %s", limits.Phase)
	}
}

func TestEvaluateForcesRecoveryOnCriticalDrawdown(t *testing.T) {
	cfg := account.DefaultConfig()
	m := account.New(zap.NewNop(), cfg, types.DefaultPhaseTable())

	snap := types.AccountSnapshot{Balance: decimal.NewFromInt(5000)}
	rs := types.RiskState{DrawdownState: types.DrawdownCritical}

	var limits types.PhaseLimits
	for i := 0; i < cfg.DebounceCycles; i++ {
		limits = m.Evaluate(snap, rs, 0.5)
	}
	if limits.Phase != types.PhaseRecovery {
		t.Fatalf("expected critical drawdown to force recovery phase, got %s", limits.Phase)
	}
}

func TestCurrentPhaseDefaultsToMicro(t *testing.T) {
	m := account.New(zap.NewNop(), account.DefaultConfig(), types.DefaultPhaseTable())
	if m.CurrentPhase().Phase != types.PhaseMicro {
		t.Fatalf("expected manager to start in micro phase, got %s", m.CurrentPhase().Phase)
	}
}
