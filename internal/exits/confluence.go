package exits

import (
	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// ScoreConfluence combines the six weighted reversal detectors from
// SPEC_FULL.md §4.12 into a single score in [0,1]. A detector contributes
// its full weight when its condition holds for the position's side, zero
// otherwise; detectors that need a prior frame to judge direction
// (RSI divergence, trend flip) contribute zero when ctx.PrevFrame is nil
// rather than guessing.
func ScoreConfluence(ctx Context) float64 {
	w := ctx.Frame
	long := isLong(ctx.Position)
	var score float64

	if trendFlipAgainst(ctx, long) {
		score += ctx.confluenceWeight(weightTrendFlip)
	}
	if rsiDivergenceAgainst(ctx, long) {
		score += ctx.confluenceWeight(weightRSIDivergence)
	}
	if macdCrossAgainst(w, long) {
		score += ctx.confluenceWeight(weightMACDCross)
	}
	if bollingerTouchAgainst(w, ctx.Position.CurrentPrice, long) {
		score += ctx.confluenceWeight(weightBollingerTouch)
	}
	if priceActionGivebackAgainst(ctx) {
		score += ctx.confluenceWeight(weightPriceActionGiveback)
	}
	if volumeDistributionAgainst(ctx) {
		score += ctx.confluenceWeight(weightVolumeDistribution)
	}
	return score
}

type confluenceDetector int

const (
	weightTrendFlip confluenceDetector = iota
	weightRSIDivergence
	weightMACDCross
	weightBollingerTouch
	weightPriceActionGiveback
	weightVolumeDistribution
)

// confluenceWeight is resolved against the caller-supplied config rather
// than hardcoded, so this file stays config-driven; rules.go's
// confluenceRule calls ScoreConfluence with ctx.Weights already populated
// by Coordinator.Evaluate.
func (ctx Context) confluenceWeight(d confluenceDetector) float64 {
	w := ctx.Weights
	switch d {
	case weightTrendFlip:
		return w.TrendFlip
	case weightRSIDivergence:
		return w.RSIDivergence
	case weightMACDCross:
		return w.MACDCross
	case weightBollingerTouch:
		return w.BollingerTouch
	case weightPriceActionGiveback:
		return w.PriceActionGiveback
	case weightVolumeDistribution:
		return w.VolumeDistribution
	default:
		return 0
	}
}

func trendFlipAgainst(ctx Context, long bool) bool {
	fast, ok1 := ctx.Frame.Get(KeyEMAFast)
	slow, ok2 := ctx.Frame.Get(KeyEMASlow)
	if !ok1 || !ok2 || ctx.PrevFrame == nil {
		return false
	}
	prevFast, ok3 := ctx.PrevFrame.Get(KeyEMAFast)
	prevSlow, ok4 := ctx.PrevFrame.Get(KeyEMASlow)
	if !ok3 || !ok4 {
		return false
	}
	if long {
		return prevFast >= prevSlow && fast < slow
	}
	return prevFast <= prevSlow && fast > slow
}

func rsiDivergenceAgainst(ctx Context, long bool) bool {
	rsi, ok := ctx.Frame.Get(KeyRSI)
	if !ok || ctx.PrevFrame == nil {
		return false
	}
	prevRSI, ok2 := ctx.PrevFrame.Get(KeyRSI)
	if !ok2 {
		return false
	}
	if long {
		return rsi > 70 && rsi < prevRSI
	}
	return rsi < 30 && rsi > prevRSI
}

func macdCrossAgainst(f types.IndicatorFrame, long bool) bool {
	macd, ok1 := f.Get(KeyMACD)
	signal, ok2 := f.Get(KeyMACDSignal)
	if !ok1 || !ok2 {
		return false
	}
	if long {
		return macd < signal
	}
	return macd > signal
}

func bollingerTouchAgainst(f types.IndicatorFrame, price decimal.Decimal, long bool) bool {
	upper, ok1 := f.Get(KeyBBUpper)
	lower, ok2 := f.Get(KeyBBLower)
	if !ok1 || !ok2 {
		return false
	}
	p, _ := price.Float64()
	if long {
		return p >= upper
	}
	return p <= lower
}

func priceActionGivebackAgainst(ctx Context) bool {
	if ctx.PriceGoodSide.IsZero() {
		return false
	}
	mfe := ctx.PriceGoodSide.Sub(ctx.Position.EntryPrice).Abs()
	if mfe.IsZero() {
		return false
	}
	given := ctx.PriceGoodSide.Sub(ctx.Position.CurrentPrice).Abs()
	return given.Div(mfe).GreaterThanOrEqual(ctx.halfDecimal())
}

func volumeDistributionAgainst(ctx Context) bool {
	ratio, ok := ctx.Frame.Get(KeyVolRatio)
	if !ok {
		return false
	}
	return ratio >= 2.0
}
