// Package exits implements the Exit Coordinator: a fixed-priority ladder of
// independent rules plus a six-detector confluence score, run once per
// open position every cycle. Grounded on the reference's capability-set /
// explicit-registration shape for pluggable Strategy implementations in
// internal/strategy/strategy.go, applied here to exit rules instead of
// entry strategies, and on the multi-signal confluence scoring idiom in
// internal/sizing/position_sizer.go's weighted cascade.
package exits

import (
	"time"

	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// Frame keys the coordinator expects the caller to have computed for the
// confluence detectors. The caller (trading loop) is responsible for
// requesting these from the indicator engine alongside whatever the
// regime classifier and strategies need.
const (
	KeyEMAFast    = "ema_fast"
	KeyEMASlow    = "ema_slow"
	KeyRSI        = "rsi"
	KeyMACD       = "macd.macd"
	KeyMACDSignal = "macd.signal"
	KeyBBUpper    = "bb.upper"
	KeyBBLower    = "bb.lower"
	KeyVolRatio   = "vol_ratio"
)

// LiquiditySignal mirrors the risk evaluator's liquidity inputs; kept as a
// separate type to avoid a dependency from exits on the risk package.
type LiquiditySignal struct {
	SpreadPoints decimal.Decimal
	DepthOK      bool
}

// Context bundles everything a rule needs to evaluate one position.
type Context struct {
	Position        types.Position
	Symbol          types.Symbol
	Account         types.AccountSnapshot
	MarginLevel     decimal.Decimal
	Frame           types.IndicatorFrame
	PrevFrame       *types.IndicatorFrame // prior cycle's frame, for directional detectors; nil on the position's first cycle
	Now             time.Time
	Liquidity       LiquiditySignal
	ReversalSignal  *types.EnhancedSignal // opposite-side candidate surfaced by the selector this cycle, if any
	MaxLossValue    decimal.Decimal       // from risk.Evaluator's adaptive loss curve, evaluated by the caller
	PriceGoodSide   decimal.Decimal       // best price reached in the position's favor since open (for giveback detection)
	Weights         types.ConfluenceWeights // populated by Coordinator.Evaluate from its config; callers need not set it
}

func (ctx Context) halfDecimal() decimal.Decimal {
	return decimal.NewFromFloat(0.5)
}

// Rule is one rung of the priority ladder. Priority is unique and fixed at
// registration time; rules never renegotiate order at runtime.
type Rule interface {
	Priority() int
	Name() string
	Evaluate(ctx Context, cfg types.ExitConfig) types.ExitDecision
}

// Coordinator runs the registered rules in descending priority order and
// returns the first non-Hold decision. A rule may additionally request a
// stop-loss move (the breakeven rule) without terminating the ladder.
type Coordinator struct {
	rules []Rule
	cfg   types.ExitConfig
}

// New builds a coordinator with the full 14-rule ladder (the confluence
// rule included), in the priorities SPEC_FULL.md §4.11 assigns them.
func New(cfg types.ExitConfig) *Coordinator {
	c := &Coordinator{cfg: cfg}
	c.rules = []Rule{
		survivalRule{},
		microAccountRule{},
		trailingStopRule{},
		hardProfitTargetRule{},
		confluenceRule{},
		timeBasedRule{},
		adverseMovementRule{},
		breakevenStopRule{},
		profitScalingHookRule{},
		hardStopLossRule{},
		hardTakeProfitRule{},
		liquidityExitRule{},
		signalReversalRule{},
		adaptiveLossCurveRule{},
	}
	return c
}

// StopMove is a non-terminal side effect a rule below Close/Emergency can
// request: move the stop loss to newSL without ending the ladder.
type StopMove struct {
	Requested bool
	NewSL     decimal.Decimal
}

// Evaluate walks the ladder for one position and returns the first
// non-Hold decision (or an explicit Hold if every rule abstains), plus any
// stop-move side effect encountered along the way.
func (c *Coordinator) Evaluate(ctx Context) (types.ExitDecision, StopMove) {
	ctx.Weights = c.cfg.ConfluenceWeights
	var move StopMove
	for _, r := range c.rules {
		d := r.Evaluate(ctx, c.cfg)
		if r.Name() == "breakeven_stop" && d.Kind == types.ExitHold && d.ReasonCode == reasonBreakevenMove {
			move = StopMove{Requested: true, NewSL: ctx.Position.EntryPrice}
			continue
		}
		if d.Kind != types.ExitHold {
			d.OriginatingRule = r.Name()
			return d, move
		}
	}
	return types.ExitDecision{Kind: types.ExitHold, ReasonCode: "no rule triggered"}, move
}

func hold(reason string) types.ExitDecision {
	return types.ExitDecision{Kind: types.ExitHold, ReasonCode: reason}
}

func isLong(pos types.Position) bool { return pos.Side == types.SideLong }
