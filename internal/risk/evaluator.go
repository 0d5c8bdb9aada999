// Package risk implements the admission gate between an enhanced signal
// and an order request: phase-keyed limits, drawdown-aware sizing, the
// adaptive loss curve, and survival mode. Grounded on the reference's
// CalculatePositionSize in internal/execution/risk_manager.go and the
// Kelly/regime/confidence sizing cascade in internal/sizing/position_sizer.go,
// rebuilt around this spec's phase-keyed PhaseLimits table rather than a
// single flat risk config.
package risk

import (
	"time"

	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/atlas-desktop/autopilot-engine/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LiquiditySignal carries the volume-divergence / adverse-wick inputs the
// liquidity-trap filter needs; computed by the caller from recent bars.
type LiquiditySignal struct {
	VolumeDivergence bool
	WickAgainstSide  bool
}

// Input bundles everything the evaluator needs for one admission decision.
type Input struct {
	Signal          types.EnhancedSignal
	Symbol          types.Symbol
	Tick            types.TickQuote
	Account         types.AccountSnapshot
	Phase           types.PhaseLimits
	RiskState       types.RiskState
	OpenPerSymbol   int
	OpenGlobal      int
	StrategyTags    []string
	Liquidity       LiquiditySignal
}

// Decision is the evaluator's admission verdict.
type Decision struct {
	Admitted bool
	Reason   string
	Volume   decimal.Decimal
}

// Evaluator runs the admission ladder and computes position size.
type Evaluator struct {
	logger *zap.Logger
	config types.RiskEvaluatorConfig
}

// New builds a risk evaluator.
func New(logger *zap.Logger, cfg types.RiskEvaluatorConfig) *Evaluator {
	return &Evaluator{logger: logger.Named("risk"), config: cfg}
}

// Evaluate runs the 8-step admission order, short-circuiting on the first
// failing step, and returns the sized order volume on success.
func (e *Evaluator) Evaluate(in Input, now time.Time) Decision {
	// 1. adapter trade-allowed + balance
	if !in.Account.TradeAllowed || in.Account.Balance.LessThanOrEqual(decimal.Zero) {
		return Decision{Reason: "adapter disallows trading or zero balance"}
	}

	// 2. spread filters
	spreadPoints := in.Tick.SpreadPoints(in.Symbol.PipSize)
	mid := in.Tick.Mid()
	var maxPoints, maxPct decimal.Decimal
	if in.Symbol.IsCrypto {
		maxPoints, maxPct = in.Phase.MaxSpreadPointsCrypto, in.Phase.MaxSpreadPctCrypto
	} else {
		maxPoints, maxPct = in.Phase.MaxSpreadPoints, in.Phase.MaxSpreadPct
	}
	if spreadPoints.GreaterThan(maxPoints) {
		return Decision{Reason: "spread points exceed phase limit"}
	}
	if !mid.IsZero() {
		spreadPct := in.Tick.Ask.Sub(in.Tick.Bid).Div(mid)
		if spreadPct.GreaterThan(maxPct) {
			return Decision{Reason: "spread pct exceeds phase limit"}
		}
	}

	// 3. concurrent position caps
	if in.OpenPerSymbol >= in.Phase.MaxPositionsPerSym {
		return Decision{Reason: "per-symbol position cap reached"}
	}
	if in.OpenGlobal >= in.Phase.MaxPositionsGlobal {
		return Decision{Reason: "global position cap reached"}
	}

	// 4. confidence threshold
	if in.Signal.Confidence < in.Phase.MinConfidence {
		return Decision{Reason: "confidence below phase threshold"}
	}

	// 5. minimum R:R
	rr := in.Signal.RiskReward()
	if rr.LessThan(in.Phase.MinRR) {
		return Decision{Reason: "risk:reward below phase threshold"}
	}

	// 6. trade frequency caps
	if in.RiskState.TradesLastHour >= in.Phase.MaxTradesPerHour {
		return Decision{Reason: "trade frequency cap reached"}
	}
	if !in.RiskState.LastTradeTime.IsZero() {
		if now.Sub(in.RiskState.LastTradeTime) < time.Duration(in.Phase.MinIntervalSeconds)*time.Second {
			return Decision{Reason: "minimum trade interval not elapsed"}
		}
	}

	// 7. drawdown gate
	sizeMultiplier := types.DrawdownSizeMultiplier(in.RiskState.DrawdownState)
	switch in.RiskState.DrawdownState {
	case types.DrawdownCritical:
		return Decision{Reason: "drawdown critical: exit-only mode"}
	case types.DrawdownWarning:
		if hasTag(in.StrategyTags, "aggressive-only") {
			return Decision{Reason: "warning drawdown rejects aggressive-only strategies"}
		}
	case types.DrawdownDanger:
		if !hasTag(in.StrategyTags, "recovery-safe") {
			return Decision{Reason: "danger drawdown admits only recovery-safe strategies"}
		}
	}

	// 8. liquidity-trap filter
	if in.Liquidity.VolumeDivergence && in.Liquidity.WickAgainstSide {
		return Decision{Reason: "liquidity-trap pattern detected against signal direction"}
	}

	// survival mode override
	if in.RiskState.CurrentDDPct.GreaterThanOrEqual(e.config.SurvivalThreshold) {
		sizeMultiplier *= 0.5
	}

	stopDistance := in.Signal.EntryHint.Sub(in.Signal.StopHint).Abs()
	if stopDistance.LessThanOrEqual(decimal.Zero) {
		return Decision{Reason: string(types.ErrInvalidStopDistance)}
	}

	volume := e.sizePosition(in, stopDistance, sizeMultiplier)
	maxLossValue := e.maxLossValue(in.Account.Balance)
	lossAtStop := stopDistance.Mul(volume)
	if lossAtStop.GreaterThan(maxLossValue) {
		volume = maxLossValue.Div(stopDistance)
		volume = utils.RoundToStepSize(volume, in.Symbol.LotStep)
	}

	if volume.LessThanOrEqual(decimal.Zero) {
		return Decision{Reason: "sized volume collapsed to zero under risk constraints"}
	}

	return Decision{Admitted: true, Volume: volume, Reason: "admitted"}
}

// sizePosition implements volume = clamp(risk_pct*balance/stop_distance,
// lot_min, min(lot_max, phase.max_lot)) rounded to lot_step.
func (e *Evaluator) sizePosition(in Input, stopDistance decimal.Decimal, multiplier float64) decimal.Decimal {
	riskBudget := in.Account.Balance.Mul(decimal.NewFromFloat(in.Phase.RiskPct * multiplier * in.Signal.SizeMultiplier))
	raw := riskBudget.Div(stopDistance)
	maxLot := utils.MinDecimal(in.Symbol.LotMax, in.Phase.MaxLot)
	clamped := utils.ClampDecimal(raw, in.Symbol.LotMin, maxLot)
	return utils.RoundToStepSize(clamped, in.Symbol.LotStep)
}

// maxLossValue implements the adaptive loss curve: small accounts tolerate
// a larger percentage but smaller absolute loss than large ones.
func (e *Evaluator) maxLossValue(balance decimal.Decimal) decimal.Decimal {
	curve := e.config.AdaptiveLossCurve
	if balance.LessThanOrEqual(curve.SmallAccountThreshold) {
		return balance.Mul(decimal.NewFromFloat(curve.SmallAccountMaxPct))
	}
	return balance.Mul(decimal.NewFromFloat(curve.LargeAccountFlatPct))
}

// MaxLossValue exposes the adaptive loss curve to callers outside the
// admission path, namely the exit coordinator's per-position loss check.
func (e *Evaluator) MaxLossValue(balance decimal.Decimal) decimal.Decimal {
	return e.maxLossValue(balance)
}

// Config returns the evaluator's configuration, for callers (the trading
// loop) that need the adapter timeout and retry budget alongside sizing.
func (e *Evaluator) Config() types.RiskEvaluatorConfig {
	return e.config
}

func hasTag(tags []string, target string) bool {
	for _, t := range tags {
		if t == target {
			return true
		}
	}
	return false
}
