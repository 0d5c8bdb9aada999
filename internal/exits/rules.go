package exits

import (
	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/shopspring/decimal"
)

const reasonBreakevenMove = "breakeven activation: stop moved to entry"

// --- 100: Survival ---------------------------------------------------

type survivalRule struct{}

func (survivalRule) Priority() int { return 100 }
func (survivalRule) Name() string  { return "survival" }
func (survivalRule) Evaluate(ctx Context, cfg types.ExitConfig) types.ExitDecision {
	if ctx.Account.Equity.LessThanOrEqual(cfg.SurvivalFloorEquity) ||
		ctx.MarginLevel.LessThanOrEqual(cfg.SurvivalCriticalMargin) {
		return types.ExitDecision{Kind: types.ExitEmergency, ReasonCode: "equity or margin level at survival floor"}
	}
	return hold("equity and margin above survival floor")
}

// --- 95: Micro-account protection ------------------------------------

type microAccountRule struct{}

func (microAccountRule) Priority() int { return 95 }
func (microAccountRule) Name() string  { return "micro_account_protection" }
func (microAccountRule) Evaluate(ctx Context, cfg types.ExitConfig) types.ExitDecision {
	if ctx.Account.Balance.GreaterThanOrEqual(cfg.MicroAccountBalance) {
		return hold("account above micro threshold")
	}
	if ctx.Position.ProfitPct().GreaterThanOrEqual(cfg.MicroTargetPct) {
		return types.ExitDecision{Kind: types.ExitClose, ReasonCode: "micro-account target reached"}
	}
	return hold("micro-account target not yet reached")
}

// --- 80: Trailing stop -------------------------------------------------

type trailingStopRule struct{}

func (trailingStopRule) Priority() int { return 80 }
func (trailingStopRule) Name() string  { return "trailing_stop" }
func (trailingStopRule) Evaluate(ctx Context, cfg types.ExitConfig) types.ExitDecision {
	profit := ctx.Position.ProfitPct()
	if profit.LessThan(cfg.TrailingActivationPct) {
		return hold("trailing stop not yet activated")
	}
	if ctx.PriceGoodSide.IsZero() {
		return hold("no favorable excursion recorded")
	}
	retraceFromPeak := ctx.PriceGoodSide.Sub(ctx.Position.CurrentPrice).Abs().Div(ctx.PriceGoodSide)
	if retraceFromPeak.GreaterThanOrEqual(cfg.TrailingRetracePct) {
		return types.ExitDecision{Kind: types.ExitClose, ReasonCode: "trailing stop: retraced from peak favorable excursion"}
	}
	return hold("within trailing band")
}

// --- 70: Hard profit target ------------------------------------------

type hardProfitTargetRule struct{}

func (hardProfitTargetRule) Priority() int { return 70 }
func (hardProfitTargetRule) Name() string  { return "hard_profit_target" }
func (hardProfitTargetRule) Evaluate(ctx Context, cfg types.ExitConfig) types.ExitDecision {
	if ctx.Position.ProfitPct().GreaterThanOrEqual(cfg.HardProfitTargetPct) {
		return types.ExitDecision{Kind: types.ExitClose, ReasonCode: "hard profit target reached"}
	}
	return hold("below hard profit target")
}

// --- 65: Confluence exit (delegates to ScoreConfluence in confluence.go) --

type confluenceRule struct{}

func (confluenceRule) Priority() int { return 65 }
func (confluenceRule) Name() string  { return "confluence_exit" }
func (confluenceRule) Evaluate(ctx Context, cfg types.ExitConfig) types.ExitDecision {
	score := ScoreConfluence(ctx)
	switch {
	case score >= cfg.ConfluenceThresholds.Emergency:
		return types.ExitDecision{Kind: types.ExitEmergency, ReasonCode: "confluence score at emergency band", ConfluenceScore: score}
	case score >= cfg.ConfluenceThresholds.Close:
		return types.ExitDecision{Kind: types.ExitClose, ReasonCode: "confluence score at close band", ConfluenceScore: score}
	case score >= cfg.ConfluenceThresholds.ScaleOut:
		return types.ExitDecision{Kind: types.ExitScaleOut, Fraction: 0.5, ReasonCode: "confluence score at scale-out band", ConfluenceScore: score}
	default:
		return types.ExitDecision{Kind: types.ExitHold, ReasonCode: "confluence score below scale-out band", ConfluenceScore: score}
	}
}

// --- 60: Time-based ---------------------------------------------------

type timeBasedRule struct{}

func (timeBasedRule) Priority() int { return 60 }
func (timeBasedRule) Name() string  { return "time_based" }
func (timeBasedRule) Evaluate(ctx Context, cfg types.ExitConfig) types.ExitDecision {
	ageHours := ctx.Position.Age(ctx.Now).Hours()
	if ageHours < cfg.MaxAgeHours {
		return hold("position below max age")
	}
	// weekend-protection is a hard no-op for crypto: it trades 24/7, so
	// age-based closure never fires for crypto regardless of config.
	if ctx.Symbol.IsCrypto {
		return hold("crypto symbol exempt from weekend/time-based closure")
	}
	return types.ExitDecision{Kind: types.ExitClose, ReasonCode: "position exceeded max age"}
}

// --- 50: Adverse movement ----------------------------------------------

type adverseMovementRule struct{}

func (adverseMovementRule) Priority() int { return 50 }
func (adverseMovementRule) Name() string  { return "adverse_movement" }
func (adverseMovementRule) Evaluate(ctx Context, cfg types.ExitConfig) types.ExitDecision {
	ageMinutes := ctx.Position.Age(ctx.Now).Minutes()
	if ageMinutes <= 0 {
		return hold("position just opened")
	}
	profit := ctx.Position.ProfitPct()
	if profit.GreaterThan(decimal.Zero) {
		return hold("position not adverse")
	}
	perMinute := profit.Abs().Div(decimal.NewFromFloat(ageMinutes))
	if perMinute.GreaterThanOrEqual(cfg.AdverseExcursionPerMin) {
		return types.ExitDecision{Kind: types.ExitClose, ReasonCode: "rapid adverse excursion exceeded per-minute threshold"}
	}
	return hold("adverse excursion within threshold")
}

// --- 45: Breakeven stop (Hold outcome, side-effecting) -----------------

type breakevenStopRule struct{}

func (breakevenStopRule) Priority() int { return 45 }
func (breakevenStopRule) Name() string  { return "breakeven_stop" }
func (breakevenStopRule) Evaluate(ctx Context, cfg types.ExitConfig) types.ExitDecision {
	if ctx.Position.ProfitPct().GreaterThanOrEqual(cfg.BreakevenActivationPct) {
		stopAlreadyAtEntry := ctx.Position.SL.Equal(ctx.Position.EntryPrice)
		if !stopAlreadyAtEntry {
			return hold(reasonBreakevenMove)
		}
	}
	return hold("breakeven not activated")
}

// --- 40: Profit scaling hook --------------------------------------------
//
// The actual tier bookkeeping lives in internal/profitscaler, since it is
// stateful across cycles (which tier has already fired). This rung always
// holds: the trading loop runs profitscaler.Scaler.Evaluate separately and
// applies its scale-out only when the ladder returns Hold. The rung exists
// to keep the priority numbering faithful to SPEC_FULL.md's ladder.
type profitScalingHookRule struct{}

func (profitScalingHookRule) Priority() int { return 40 }
func (profitScalingHookRule) Name() string  { return "profit_scaling" }
func (profitScalingHookRule) Evaluate(ctx Context, cfg types.ExitConfig) types.ExitDecision {
	return hold("profit scaling handled by the profit scaler, not the ladder")
}

// --- 35: Hard stop loss --------------------------------------------------

type hardStopLossRule struct{}

func (hardStopLossRule) Priority() int { return 35 }
func (hardStopLossRule) Name() string  { return "hard_stop_loss" }
func (hardStopLossRule) Evaluate(ctx Context, cfg types.ExitConfig) types.ExitDecision {
	if ctx.Position.SL.IsZero() {
		return hold("no stop loss set")
	}
	if isLong(ctx.Position) {
		if ctx.Position.CurrentPrice.LessThanOrEqual(ctx.Position.SL) {
			return types.ExitDecision{Kind: types.ExitClose, ReasonCode: "hard stop loss hit"}
		}
	} else if ctx.Position.CurrentPrice.GreaterThanOrEqual(ctx.Position.SL) {
		return types.ExitDecision{Kind: types.ExitClose, ReasonCode: "hard stop loss hit"}
	}
	return hold("stop loss not hit")
}

// --- 30: Hard take profit -------------------------------------------------

type hardTakeProfitRule struct{}

func (hardTakeProfitRule) Priority() int { return 30 }
func (hardTakeProfitRule) Name() string  { return "hard_take_profit" }
func (hardTakeProfitRule) Evaluate(ctx Context, cfg types.ExitConfig) types.ExitDecision {
	if ctx.Position.TP.IsZero() {
		return hold("no take profit set")
	}
	if isLong(ctx.Position) {
		if ctx.Position.CurrentPrice.GreaterThanOrEqual(ctx.Position.TP) {
			return types.ExitDecision{Kind: types.ExitClose, ReasonCode: "hard take profit hit"}
		}
	} else if ctx.Position.CurrentPrice.LessThanOrEqual(ctx.Position.TP) {
		return types.ExitDecision{Kind: types.ExitClose, ReasonCode: "hard take profit hit"}
	}
	return hold("take profit not hit")
}

// --- 25: Liquidity exit ----------------------------------------------------

type liquidityExitRule struct{}

func (liquidityExitRule) Priority() int { return 25 }
func (liquidityExitRule) Name() string  { return "liquidity_exit" }
func (liquidityExitRule) Evaluate(ctx Context, cfg types.ExitConfig) types.ExitDecision {
	if ctx.Liquidity.SpreadPoints.GreaterThan(cfg.LiquidityMaxSpreadPoints) || !ctx.Liquidity.DepthOK {
		return types.ExitDecision{Kind: types.ExitClose, ReasonCode: "spread or depth degraded beyond policy"}
	}
	return hold("liquidity within policy")
}

// --- 20: Signal reversal ----------------------------------------------------

type signalReversalRule struct{}

func (signalReversalRule) Priority() int { return 20 }
func (signalReversalRule) Name() string  { return "signal_reversal" }
func (signalReversalRule) Evaluate(ctx Context, cfg types.ExitConfig) types.ExitDecision {
	sig := ctx.ReversalSignal
	if sig == nil {
		return hold("no reversal signal this cycle")
	}
	if sig.Confidence < cfg.SignalReversalMinConf {
		return hold("reversal signal below confidence threshold")
	}
	opposesPosition := (isLong(ctx.Position) && sig.Side == types.SideShort) ||
		(!isLong(ctx.Position) && sig.Side == types.SideLong)
	if opposesPosition {
		return types.ExitDecision{Kind: types.ExitClose, ReasonCode: "selector emitted high-confidence opposite-side signal"}
	}
	return hold("reversal signal agrees with position side")
}

// --- 15: Adaptive loss curve ------------------------------------------------

type adaptiveLossCurveRule struct{}

func (adaptiveLossCurveRule) Priority() int { return 15 }
func (adaptiveLossCurveRule) Name() string  { return "adaptive_loss_curve" }
func (adaptiveLossCurveRule) Evaluate(ctx Context, cfg types.ExitConfig) types.ExitDecision {
	if !ctx.Position.PnL.IsNegative() {
		return hold("position not at a loss")
	}
	if ctx.MaxLossValue.IsZero() {
		return hold("no adaptive loss curve bound configured")
	}
	if ctx.Position.PnL.Abs().GreaterThanOrEqual(ctx.MaxLossValue) {
		return types.ExitDecision{Kind: types.ExitClose, ReasonCode: "unrealized loss reached adaptive loss curve bound"}
	}
	return hold("within adaptive loss curve bound")
}
