// Package profitscaler maintains per-position tier state and decides when
// a position has reached its next partial-close rung. Grounded on the
// reference's PositionSizer in internal/sizing/position_sizer.go — same
// RWMutex-guarded per-key history map and config-object shape, applied to
// tier progression instead of Kelly-fraction sizing.
package profitscaler

import (
	"sync"

	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// Decision is what the scaler wants done to a position this cycle.
type Decision struct {
	ScaleOut      bool
	ClosePct      float64
	MoveStopEntry bool
	EmergencyLock bool
	TierIndex     int
}

// Scaler tracks, per ticket, the highest tier already triggered so a
// position never re-fires a tier it has already scaled out of.
type Scaler struct {
	config types.ProfitScalingConfig

	mu        sync.RWMutex
	tierFired map[string]int // ticket -> highest tier index fired (-1 = none)
}

// New builds a profit scaler.
func New(cfg types.ProfitScalingConfig) *Scaler {
	return &Scaler{config: cfg, tierFired: make(map[string]int)}
}

// Evaluate checks pos against the tier ladder (micro tiers if the account
// balance is below the micro threshold) and the emergency profit lock.
func (s *Scaler) Evaluate(pos types.Position, balance decimal.Decimal) Decision {
	profitPct := pos.ProfitPct()
	if !balance.IsZero() {
		unrealizedFrac := pos.PnL.Div(balance)
		if unrealizedFrac.GreaterThanOrEqual(s.config.EmergencyLockPct) {
			return Decision{ScaleOut: true, ClosePct: 1.0, EmergencyLock: true, TierIndex: -1}
		}
	}

	tiers := s.config.Tiers
	if balance.LessThan(s.config.MicroAccountThreshold) {
		tiers = s.config.MicroTiers
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fired, ok := s.tierFired[pos.Ticket]
	if !ok {
		fired = -1
	}

	for i := len(tiers) - 1; i > fired; i-- {
		tier := tiers[i]
		if profitPct.GreaterThanOrEqual(tier.ProfitPct) {
			s.tierFired[pos.Ticket] = i
			return Decision{ScaleOut: true, ClosePct: tier.ClosePct, MoveStopEntry: tier.MoveStopToEntry, TierIndex: i}
		}
	}
	return Decision{}
}

// Forget clears tier state for a closed ticket so a future position
// reusing ticket bookkeeping never inherits stale progress.
func (s *Scaler) Forget(ticket string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tierFired, ticket)
}
