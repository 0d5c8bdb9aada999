// Package account implements the Adaptive Account Manager: it classifies
// the live account into one of six phases by an argmax scoring function
// and debounces transitions so the engine's limits don't flap. Grounded on
// the reference's phase-shaped config records in pkg/types/config.go,
// generalized from a single flat risk config into the six-phase table
// this spec requires, with the hysteresis debounce pattern grounded on
// the reference's regime-adjustment debouncing in internal/orchestrator/orchestrator.go.
package account

import (
	"sync"

	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config parameterizes the hysteresis behavior.
type Config struct {
	TransitionMargin    float64
	DebounceCycles      int
}

// DefaultConfig returns the documented defaults (5-point margin, 3-cycle
// debounce).
func DefaultConfig() Config {
	return Config{TransitionMargin: 5, DebounceCycles: 3}
}

// Manager tracks the current phase and the table of per-phase limits.
type Manager struct {
	logger *zap.Logger
	config Config
	table  map[types.Phase]types.PhaseLimits

	mu               sync.RWMutex
	currentPhase     types.Phase
	pendingPhase     types.Phase
	pendingStreak    int
}

// New builds an account manager starting in PhaseMicro until the first
// Evaluate call establishes the real phase.
func New(logger *zap.Logger, cfg Config, table map[types.Phase]types.PhaseLimits) *Manager {
	return &Manager{
		logger:       logger.Named("account"),
		config:       cfg,
		table:        table,
		currentPhase: types.PhaseMicro,
	}
}

// CurrentPhase returns the active phase's limits.
func (m *Manager) CurrentPhase() types.PhaseLimits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.table[m.currentPhase]
}

// Evaluate scores every phase against the account snapshot and recent
// win rate, argmaxes, and applies the hysteresis/debounce rule before
// possibly switching the active phase.
func (m *Manager) Evaluate(account types.AccountSnapshot, riskState types.RiskState, recentWinRate float64) types.PhaseLimits {
	scores := make(map[types.Phase]float64, len(m.table))
	for phase, limits := range m.table {
		scores[phase] = balanceScore(limits, account.Balance) + ddScore(riskState.DrawdownState) + momentumScore(recentWinRate)
	}
	// recovery mode always wins on critical drawdown, regardless of score
	if riskState.DrawdownState == types.DrawdownCritical {
		scores[types.PhaseRecovery] += 1000
	}

	best := argmax(scores)

	m.mu.Lock()
	defer m.mu.Unlock()

	if best == m.currentPhase {
		m.pendingPhase = ""
		m.pendingStreak = 0
		return m.table[m.currentPhase]
	}

	margin := scores[best] - scores[m.currentPhase]
	if margin < m.config.TransitionMargin {
		m.pendingPhase = ""
		m.pendingStreak = 0
		return m.table[m.currentPhase]
	}

	if m.pendingPhase != best {
		m.pendingPhase = best
		m.pendingStreak = 1
	} else {
		m.pendingStreak++
	}

	if m.pendingStreak >= m.config.DebounceCycles {
		m.logger.Info("account phase transition",
			zap.String("from", string(m.currentPhase)), zap.String("to", string(best)))
		m.currentPhase = best
		m.pendingPhase = ""
		m.pendingStreak = 0
	}
	return m.table[m.currentPhase]
}

func balanceScore(limits types.PhaseLimits, balance decimal.Decimal) float64 {
	if balance.LessThan(limits.BalanceMin) {
		return -50
	}
	if !limits.BalanceMax.IsZero() && balance.GreaterThanOrEqual(limits.BalanceMax) {
		return -50
	}
	return 50
}

func ddScore(state types.DrawdownState) float64 {
	switch state {
	case types.DrawdownNormal:
		return 20
	case types.DrawdownCaution:
		return 5
	case types.DrawdownWarning:
		return -10
	case types.DrawdownDanger:
		return -30
	case types.DrawdownCritical:
		return -60
	default:
		return 0
	}
}

func momentumScore(recentWinRate float64) float64 {
	return (recentWinRate - 0.5) * 40
}

func argmax(scores map[types.Phase]float64) types.Phase {
	var best types.Phase
	bestScore := -1e18
	// iterate over a fixed phase order for determinism on ties
	for _, phase := range []types.Phase{
		types.PhaseMicro, types.PhaseSeed, types.PhaseGrowth,
		types.PhaseEstablished, types.PhaseMature, types.PhaseRecovery,
	} {
		score, ok := scores[phase]
		if !ok {
			continue
		}
		if score > bestScore {
			bestScore = score
			best = phase
		}
	}
	return best
}
