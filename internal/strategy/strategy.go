// Package strategy holds the pluggable strategy set. Each strategy consumes
// an IndicatorFrame plus recent bars and optionally emits a Signal.
// Grounded on the reference's internal/strategy package: the Strategy
// interface, parameter-map, and registry/factory shape are kept, but each
// strategy body is rewritten against this engine's own IndicatorFrame
// rather than raw OHLCV math, and the output is a types.Signal rather than
// a strategy-local Signal struct.
package strategy

import (
	"fmt"
	"sync"

	"github.com/atlas-desktop/autopilot-engine/internal/indicators"
	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/atlas-desktop/autopilot-engine/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Parameter describes one tunable strategy parameter, always sourced from
// config rather than hardcoded inline in the strategy body.
type Parameter struct {
	Name        string
	Description string
	Default     float64
	Min         float64
	Max         float64
	Current     float64
}

// Strategy produces a signal from the latest frame and bar window, or nil
// if its conditions are not met. Implementations must be stateless aside
// from their configured parameters, so the same (frame, bars) input always
// yields the same signal.
type Strategy interface {
	ID() string
	Description() string
	Parameters() map[string]Parameter
	SetParameter(name string, value float64) error
	RequiredIndicators() []indicators.Request
	Evaluate(frame types.IndicatorFrame, bars []types.Bar) (*types.Signal, error)
}

// Registry is the factory-map of available strategies, built once at
// startup and consulted by the selector every cycle.
type Registry struct {
	logger     *zap.Logger
	mu         sync.RWMutex
	strategies map[string]func() Strategy
}

// NewRegistry builds a registry with the engine's seven built-in
// strategies pre-registered.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{logger: logger.Named("strategy"), strategies: make(map[string]func() Strategy)}
	r.Register("ema_cross", func() Strategy { return NewEMACrossStrategy() })
	r.Register("sma_cross", func() Strategy { return NewSMACrossStrategy() })
	r.Register("momentum_breakout", func() Strategy { return NewMomentumBreakoutStrategy() })
	r.Register("scalping", func() Strategy { return NewScalpingStrategy() })
	r.Register("trend_following", func() Strategy { return NewTrendFollowingStrategy() })
	r.Register("mean_reversion", func() Strategy { return NewMeanReversionStrategy() })
	r.Register("rsi_reversal", func() Strategy { return NewRSIReversalStrategy() })
	return r
}

// Register adds (or replaces) a strategy factory under name.
func (r *Registry) Register(name string, factory func() Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = factory
}

// Create instantiates a fresh strategy instance by name.
func (r *Registry) Create(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.strategies[name]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// List returns every registered strategy name.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	return names
}

func buildSignal(strategyID string, frame types.IndicatorFrame, side types.Side, confidence float64, entry, stop, target decimal.Decimal, rationale string) *types.Signal {
	return &types.Signal{
		ID:            utils.NewSignalID(),
		Symbol:        frame.Symbol,
		Side:          side,
		Confidence:    utils.ClampFloat(confidence, 0, 1),
		StopHint:      stop,
		TargetHint:    target,
		EntryHint:     entry,
		StrategyID:    strategyID,
		OriginBarTime: frame.BarTime,
		Rationale:     rationale,
	}
}

func lastClose(bars []types.Bar) decimal.Decimal {
	if len(bars) == 0 {
		return decimal.Zero
	}
	return bars[len(bars)-1].Close
}

// --- EMA cross -------------------------------------------------------

// EMACrossStrategy signals on a fast/slow EMA crossover.
type EMACrossStrategy struct {
	params map[string]Parameter
}

// NewEMACrossStrategy builds the EMA-cross strategy with default periods.
func NewEMACrossStrategy() *EMACrossStrategy {
	return &EMACrossStrategy{params: map[string]Parameter{
		"fast_period": {Name: "fast_period", Description: "fast EMA period", Default: 12, Min: 5, Max: 50, Current: 12},
		"slow_period": {Name: "slow_period", Description: "slow EMA period", Default: 26, Min: 10, Max: 100, Current: 26},
	}}
}

func (s *EMACrossStrategy) ID() string          { return "ema_cross" }
func (s *EMACrossStrategy) Description() string { return "signals on fast/slow EMA crossover" }
func (s *EMACrossStrategy) Parameters() map[string]Parameter { return s.params }

func (s *EMACrossStrategy) SetParameter(name string, value float64) error {
	p, ok := s.params[name]
	if !ok {
		return types.NewCoreError(types.ErrConfigInvalid, fmt.Sprintf("unknown parameter %q", name), nil)
	}
	p.Current = value
	s.params[name] = p
	return nil
}

func (s *EMACrossStrategy) RequiredIndicators() []indicators.Request {
	return []indicators.Request{
		{ID: "ema_fast", Kind: indicators.KindEMA, Period: int(s.params["fast_period"].Current)},
		{ID: "ema_slow", Kind: indicators.KindEMA, Period: int(s.params["slow_period"].Current)},
	}
}

func (s *EMACrossStrategy) Evaluate(frame types.IndicatorFrame, bars []types.Bar) (*types.Signal, error) {
	fast, ok1 := frame.Get("ema_fast")
	slow, ok2 := frame.Get("ema_slow")
	if !ok1 || !ok2 {
		return nil, nil
	}
	close := lastClose(bars)
	diffPct := (fast - slow) / slow
	if fast > slow && diffPct > 0.0005 {
		stop := close.Mul(decimal.NewFromFloat(0.985))
		target := close.Mul(decimal.NewFromFloat(1.03))
		return buildSignal(s.ID(), frame, types.SideLong, 0.5+diffPct*20, close, stop, target, "fast EMA above slow EMA"), nil
	}
	if fast < slow && diffPct < -0.0005 {
		stop := close.Mul(decimal.NewFromFloat(1.015))
		target := close.Mul(decimal.NewFromFloat(0.97))
		return buildSignal(s.ID(), frame, types.SideShort, 0.5-diffPct*20, close, stop, target, "fast EMA below slow EMA"), nil
	}
	return nil, nil
}

// --- SMA cross -------------------------------------------------------

// SMACrossStrategy signals on a fast/slow SMA crossover.
type SMACrossStrategy struct {
	params map[string]Parameter
}

// NewSMACrossStrategy builds the SMA-cross strategy with default periods.
func NewSMACrossStrategy() *SMACrossStrategy {
	return &SMACrossStrategy{params: map[string]Parameter{
		"fast_period": {Name: "fast_period", Description: "fast SMA period", Default: 10, Min: 5, Max: 50, Current: 10},
		"slow_period": {Name: "slow_period", Description: "slow SMA period", Default: 30, Min: 10, Max: 120, Current: 30},
	}}
}

func (s *SMACrossStrategy) ID() string          { return "sma_cross" }
func (s *SMACrossStrategy) Description() string { return "signals on fast/slow SMA crossover" }
func (s *SMACrossStrategy) Parameters() map[string]Parameter { return s.params }

func (s *SMACrossStrategy) SetParameter(name string, value float64) error {
	p, ok := s.params[name]
	if !ok {
		return types.NewCoreError(types.ErrConfigInvalid, fmt.Sprintf("unknown parameter %q", name), nil)
	}
	p.Current = value
	s.params[name] = p
	return nil
}

func (s *SMACrossStrategy) RequiredIndicators() []indicators.Request {
	return []indicators.Request{
		{ID: "sma_fast", Kind: indicators.KindSMA, Period: int(s.params["fast_period"].Current)},
		{ID: "sma_slow", Kind: indicators.KindSMA, Period: int(s.params["slow_period"].Current)},
	}
}

func (s *SMACrossStrategy) Evaluate(frame types.IndicatorFrame, bars []types.Bar) (*types.Signal, error) {
	fast, ok1 := frame.Get("sma_fast")
	slow, ok2 := frame.Get("sma_slow")
	if !ok1 || !ok2 {
		return nil, nil
	}
	close := lastClose(bars)
	diffPct := (fast - slow) / slow
	if fast > slow && diffPct > 0.0008 {
		stop := close.Mul(decimal.NewFromFloat(0.98))
		target := close.Mul(decimal.NewFromFloat(1.04))
		return buildSignal(s.ID(), frame, types.SideLong, 0.45+diffPct*15, close, stop, target, "fast SMA above slow SMA"), nil
	}
	if fast < slow && diffPct < -0.0008 {
		stop := close.Mul(decimal.NewFromFloat(1.02))
		target := close.Mul(decimal.NewFromFloat(0.96))
		return buildSignal(s.ID(), frame, types.SideShort, 0.45-diffPct*15, close, stop, target, "fast SMA below slow SMA"), nil
	}
	return nil, nil
}

// --- Momentum breakout ------------------------------------------------

// MomentumBreakoutStrategy signals when price clears a lookback high/low
// with volume confirmation.
type MomentumBreakoutStrategy struct {
	params map[string]Parameter
}

// NewMomentumBreakoutStrategy builds the breakout strategy with defaults.
func NewMomentumBreakoutStrategy() *MomentumBreakoutStrategy {
	return &MomentumBreakoutStrategy{params: map[string]Parameter{
		"lookback":        {Name: "lookback", Description: "bars to scan for range extremes", Default: 20, Min: 10, Max: 60, Current: 20},
		"min_volume_mult": {Name: "min_volume_mult", Description: "minimum volume ratio for confirmation", Default: 1.5, Min: 1.0, Max: 3.0, Current: 1.5},
	}}
}

func (s *MomentumBreakoutStrategy) ID() string          { return "momentum_breakout" }
func (s *MomentumBreakoutStrategy) Description() string { return "trades range breakouts confirmed by volume" }
func (s *MomentumBreakoutStrategy) Parameters() map[string]Parameter { return s.params }

func (s *MomentumBreakoutStrategy) SetParameter(name string, value float64) error {
	p, ok := s.params[name]
	if !ok {
		return types.NewCoreError(types.ErrConfigInvalid, fmt.Sprintf("unknown parameter %q", name), nil)
	}
	p.Current = value
	s.params[name] = p
	return nil
}

func (s *MomentumBreakoutStrategy) RequiredIndicators() []indicators.Request {
	period := int(s.params["lookback"].Current)
	return []indicators.Request{
		{ID: "vol_ratio", Kind: indicators.KindVolumeStat, Period: period},
	}
}

func (s *MomentumBreakoutStrategy) Evaluate(frame types.IndicatorFrame, bars []types.Bar) (*types.Signal, error) {
	lookback := int(s.params["lookback"].Current)
	if len(bars) < lookback+1 {
		return nil, nil
	}
	volRatio, ok := frame.Get("vol_ratio")
	if !ok || volRatio < s.params["min_volume_mult"].Current {
		return nil, nil
	}
	window := bars[len(bars)-lookback-1 : len(bars)-1]
	highest, lowest := window[0].High, window[0].Low
	for _, b := range window {
		if b.High.GreaterThan(highest) {
			highest = b.High
		}
		if b.Low.LessThan(lowest) {
			lowest = b.Low
		}
	}
	rangeSize := highest.Sub(lowest)
	close := lastClose(bars)
	if close.GreaterThan(highest) {
		stop := highest.Sub(rangeSize.Mul(decimal.NewFromFloat(0.5)))
		target := close.Add(rangeSize)
		return buildSignal(s.ID(), frame, types.SideLong, 0.7, close, stop, target, "breakout above range high with volume"), nil
	}
	if close.LessThan(lowest) {
		stop := lowest.Add(rangeSize.Mul(decimal.NewFromFloat(0.5)))
		target := close.Sub(rangeSize)
		return buildSignal(s.ID(), frame, types.SideShort, 0.7, close, stop, target, "breakdown below range low with volume"), nil
	}
	return nil, nil
}

// --- Scalping ----------------------------------------------------------

// ScalpingStrategy looks for short-horizon Stochastic extremes, aiming for
// small, fast moves. It reads only the Stochastic; band width is not checked.
type ScalpingStrategy struct {
	params map[string]Parameter
}

// NewScalpingStrategy builds the scalping strategy with defaults.
func NewScalpingStrategy() *ScalpingStrategy {
	return &ScalpingStrategy{params: map[string]Parameter{
		"stoch_period":    {Name: "stoch_period", Description: "stochastic %K period", Default: 5, Min: 3, Max: 14, Current: 5},
		"stoch_smooth":    {Name: "stoch_smooth", Description: "stochastic %D smoothing", Default: 3, Min: 2, Max: 8, Current: 3},
		"target_pct":      {Name: "target_pct", Description: "target move as a fraction of price", Default: 0.003, Min: 0.001, Max: 0.01, Current: 0.003},
	}}
}

func (s *ScalpingStrategy) ID() string          { return "scalping" }
func (s *ScalpingStrategy) Description() string { return "fast mean-reversion scalps on stochastic extremes" }
func (s *ScalpingStrategy) Parameters() map[string]Parameter { return s.params }

func (s *ScalpingStrategy) SetParameter(name string, value float64) error {
	p, ok := s.params[name]
	if !ok {
		return types.NewCoreError(types.ErrConfigInvalid, fmt.Sprintf("unknown parameter %q", name), nil)
	}
	p.Current = value
	s.params[name] = p
	return nil
}

func (s *ScalpingStrategy) RequiredIndicators() []indicators.Request {
	return []indicators.Request{
		{ID: "stoch", Kind: indicators.KindStochastic, Period: int(s.params["stoch_period"].Current), Period2: int(s.params["stoch_smooth"].Current)},
	}
}

func (s *ScalpingStrategy) Evaluate(frame types.IndicatorFrame, bars []types.Bar) (*types.Signal, error) {
	k, ok := frame.Get("stoch.k")
	if !ok {
		return nil, nil
	}
	close := lastClose(bars)
	targetPct := decimal.NewFromFloat(s.params["target_pct"].Current)
	if k < 15 {
		stop := close.Mul(decimal.NewFromFloat(1).Sub(targetPct.Mul(decimal.NewFromFloat(0.6))))
		target := close.Mul(decimal.NewFromFloat(1).Add(targetPct))
		return buildSignal(s.ID(), frame, types.SideLong, 0.55, close, stop, target, "stochastic oversold scalp"), nil
	}
	if k > 85 {
		stop := close.Mul(decimal.NewFromFloat(1).Add(targetPct.Mul(decimal.NewFromFloat(0.6))))
		target := close.Mul(decimal.NewFromFloat(1).Sub(targetPct))
		return buildSignal(s.ID(), frame, types.SideShort, 0.55, close, stop, target, "stochastic overbought scalp"), nil
	}
	return nil, nil
}

// --- Trend following ----------------------------------------------------

// TrendFollowingStrategy rides established trends using ADX strength plus
// Supertrend direction.
type TrendFollowingStrategy struct {
	params map[string]Parameter
}

// NewTrendFollowingStrategy builds the trend-following strategy.
func NewTrendFollowingStrategy() *TrendFollowingStrategy {
	return &TrendFollowingStrategy{params: map[string]Parameter{
		"adx_period":         {Name: "adx_period", Description: "ADX lookback", Default: 14, Min: 7, Max: 30, Current: 14},
		"supertrend_period":  {Name: "supertrend_period", Description: "Supertrend ATR period", Default: 10, Min: 5, Max: 30, Current: 10},
		"supertrend_mult_x10": {Name: "supertrend_mult_x10", Description: "Supertrend multiplier times ten", Default: 30, Min: 10, Max: 50, Current: 30},
		"min_adx":            {Name: "min_adx", Description: "minimum ADX to treat as trending", Default: 22, Min: 10, Max: 40, Current: 22},
	}}
}

func (s *TrendFollowingStrategy) ID() string          { return "trend_following" }
func (s *TrendFollowingStrategy) Description() string { return "rides established trends confirmed by ADX and Supertrend" }
func (s *TrendFollowingStrategy) Parameters() map[string]Parameter { return s.params }

func (s *TrendFollowingStrategy) SetParameter(name string, value float64) error {
	p, ok := s.params[name]
	if !ok {
		return types.NewCoreError(types.ErrConfigInvalid, fmt.Sprintf("unknown parameter %q", name), nil)
	}
	p.Current = value
	s.params[name] = p
	return nil
}

func (s *TrendFollowingStrategy) RequiredIndicators() []indicators.Request {
	return []indicators.Request{
		{ID: "adx", Kind: indicators.KindADX, Period: int(s.params["adx_period"].Current)},
		{ID: "supertrend", Kind: indicators.KindSupertrend, Period: int(s.params["supertrend_period"].Current), Period2: int(s.params["supertrend_mult_x10"].Current)},
	}
}

func (s *TrendFollowingStrategy) Evaluate(frame types.IndicatorFrame, bars []types.Bar) (*types.Signal, error) {
	adx, ok1 := frame.Get("adx")
	trend, ok2 := frame.Get("supertrend")
	if !ok1 || !ok2 || adx < s.params["min_adx"].Current {
		return nil, nil
	}
	close := lastClose(bars)
	atrPct := decimal.NewFromFloat(0.02)
	if trend > 0 {
		stop := close.Mul(decimal.NewFromFloat(1).Sub(atrPct))
		target := close.Mul(decimal.NewFromFloat(1).Add(atrPct.Mul(decimal.NewFromFloat(2.5))))
		return buildSignal(s.ID(), frame, types.SideLong, utils.ClampFloat(adx/50, 0.5, 0.9), close, stop, target, "supertrend bullish with strong ADX"), nil
	}
	if trend < 0 {
		stop := close.Mul(decimal.NewFromFloat(1).Add(atrPct))
		target := close.Mul(decimal.NewFromFloat(1).Sub(atrPct.Mul(decimal.NewFromFloat(2.5))))
		return buildSignal(s.ID(), frame, types.SideShort, utils.ClampFloat(adx/50, 0.5, 0.9), close, stop, target, "supertrend bearish with strong ADX"), nil
	}
	return nil, nil
}

// --- Mean reversion ------------------------------------------------------

// MeanReversionStrategy fades Bollinger Band extremes back toward the
// middle band.
type MeanReversionStrategy struct {
	params map[string]Parameter
}

// NewMeanReversionStrategy builds the mean-reversion strategy.
func NewMeanReversionStrategy() *MeanReversionStrategy {
	return &MeanReversionStrategy{params: map[string]Parameter{
		"period":          {Name: "period", Description: "Bollinger middle-band period", Default: 20, Min: 10, Max: 60, Current: 20},
		"std_dev_mult_x10": {Name: "std_dev_mult_x10", Description: "band width in std-devs times ten", Default: 20, Min: 10, Max: 35, Current: 20},
	}}
}

func (s *MeanReversionStrategy) ID() string          { return "mean_reversion" }
func (s *MeanReversionStrategy) Description() string { return "fades Bollinger Band extremes back to the mean" }
func (s *MeanReversionStrategy) Parameters() map[string]Parameter { return s.params }

func (s *MeanReversionStrategy) SetParameter(name string, value float64) error {
	p, ok := s.params[name]
	if !ok {
		return types.NewCoreError(types.ErrConfigInvalid, fmt.Sprintf("unknown parameter %q", name), nil)
	}
	p.Current = value
	s.params[name] = p
	return nil
}

func (s *MeanReversionStrategy) RequiredIndicators() []indicators.Request {
	return []indicators.Request{
		{ID: "bb", Kind: indicators.KindBollinger, Period: int(s.params["period"].Current), Period2: int(s.params["std_dev_mult_x10"].Current)},
	}
}

func (s *MeanReversionStrategy) Evaluate(frame types.IndicatorFrame, bars []types.Bar) (*types.Signal, error) {
	upper, ok1 := frame.Get("bb.upper")
	lower, ok2 := frame.Get("bb.lower")
	middle, ok3 := frame.Get("bb.middle")
	if !ok1 || !ok2 || !ok3 {
		return nil, nil
	}
	close := lastClose(bars)
	closeF := close.InexactFloat64()
	if closeF < lower {
		stop := close.Mul(decimal.NewFromFloat(0.97))
		target := decimal.NewFromFloat(middle)
		return buildSignal(s.ID(), frame, types.SideLong, 0.6, close, stop, target, "price below lower Bollinger band"), nil
	}
	if closeF > upper {
		stop := close.Mul(decimal.NewFromFloat(1.03))
		target := decimal.NewFromFloat(middle)
		return buildSignal(s.ID(), frame, types.SideShort, 0.6, close, stop, target, "price above upper Bollinger band"), nil
	}
	return nil, nil
}

// --- RSI reversal --------------------------------------------------------

// RSIReversalStrategy fades overbought/oversold RSI extremes. It reads only
// the RSI; the price's position within its recent range is not checked.
type RSIReversalStrategy struct {
	params map[string]Parameter
}

// NewRSIReversalStrategy builds the RSI-reversal strategy.
func NewRSIReversalStrategy() *RSIReversalStrategy {
	return &RSIReversalStrategy{params: map[string]Parameter{
		"period":     {Name: "period", Description: "RSI period", Default: 14, Min: 7, Max: 30, Current: 14},
		"oversold":   {Name: "oversold", Description: "RSI oversold level", Default: 30, Min: 15, Max: 40, Current: 30},
		"overbought": {Name: "overbought", Description: "RSI overbought level", Default: 70, Min: 60, Max: 85, Current: 70},
	}}
}

func (s *RSIReversalStrategy) ID() string          { return "rsi_reversal" }
func (s *RSIReversalStrategy) Description() string { return "fades RSI overbought/oversold extremes" }
func (s *RSIReversalStrategy) Parameters() map[string]Parameter { return s.params }

func (s *RSIReversalStrategy) SetParameter(name string, value float64) error {
	p, ok := s.params[name]
	if !ok {
		return types.NewCoreError(types.ErrConfigInvalid, fmt.Sprintf("unknown parameter %q", name), nil)
	}
	p.Current = value
	s.params[name] = p
	return nil
}

func (s *RSIReversalStrategy) RequiredIndicators() []indicators.Request {
	return []indicators.Request{
		{ID: "rsi", Kind: indicators.KindRSI, Period: int(s.params["period"].Current)},
	}
}

func (s *RSIReversalStrategy) Evaluate(frame types.IndicatorFrame, bars []types.Bar) (*types.Signal, error) {
	rsi, ok := frame.Get("rsi")
	if !ok {
		return nil, nil
	}
	close := lastClose(bars)
	oversold := s.params["oversold"].Current
	overbought := s.params["overbought"].Current
	if rsi <= oversold {
		stop := close.Mul(decimal.NewFromFloat(0.96))
		target := close.Mul(decimal.NewFromFloat(1.06))
		confidence := utils.ClampFloat((oversold-rsi)/oversold+0.5, 0.5, 0.85)
		return buildSignal(s.ID(), frame, types.SideLong, confidence, close, stop, target, "RSI oversold reversal"), nil
	}
	if rsi >= overbought {
		stop := close.Mul(decimal.NewFromFloat(1.04))
		target := close.Mul(decimal.NewFromFloat(0.94))
		confidence := utils.ClampFloat((rsi-overbought)/(100-overbought)+0.5, 0.5, 0.85)
		return buildSignal(s.ID(), frame, types.SideShort, confidence, close, stop, target, "RSI overbought reversal"), nil
	}
	return nil, nil
}
