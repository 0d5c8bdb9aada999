// Package indicators computes pure-function technical indicators over a
// bar window and deduplicates overlapping requests within one frame.
// Grounded on the regime/strategy math in the reference implementation's
// internal/regime and internal/strategy packages, with the scalar math
// itself delegated to github.com/markcheno/go-talib rather than
// hand-rolled, matching the pack's own choice of that library for the
// same concern.
package indicators

import (
	"fmt"
	"math"
	"time"

	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	talib "github.com/markcheno/go-talib"
	"go.uber.org/zap"
)

// Kind names a supported indicator family. Parameters are carried in the
// request's Period, Period2 and Period3 fields rather than the Kind itself.
type Kind string

const (
	KindRSI        Kind = "rsi"
	KindMACD       Kind = "macd"
	KindBollinger  Kind = "bollinger"
	KindStochastic Kind = "stochastic"
	KindADX        Kind = "adx"
	KindATR        Kind = "atr"
	KindSupertrend Kind = "supertrend"
	KindVWAP       Kind = "vwap"
	KindEMA        Kind = "ema"
	KindSMA        Kind = "sma"
	KindVolumeStat Kind = "volume_stat"
)

// Request asks for one indicator at one parameterization. ID is the
// stable key used in the resulting IndicatorFrame.
type Request struct {
	ID     string
	Kind   Kind
	Period int
	// Secondary periods for multi-parameter indicators (MACD fast/slow/signal,
	// Bollinger stddev multiplier encoded as Period2/10).
	Period2 int
	Period3 int
}

// MinHistory returns the minimum bar count this request needs before it
// can produce a non-NaN value.
func (r Request) MinHistory() int {
	switch r.Kind {
	case KindMACD:
		p := r.Period2
		if p < r.Period {
			p = r.Period
		}
		return p + r.Period3 + 5
	case KindBollinger, KindEMA, KindSMA, KindRSI, KindATR, KindADX:
		return r.Period + 1
	case KindStochastic:
		return r.Period + r.Period2 + 1
	case KindSupertrend:
		return r.Period + 1
	default:
		return 1
	}
}

// Engine computes indicator frames for a requested set. Within one call,
// RSI, EMA, SMA, ATR and ADX requests with identical (Kind, Period, Period2,
// Period3) share one computation; the other kinds are computed per request.
type Engine struct {
	logger *zap.Logger
}

// NewEngine constructs an indicator engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger.Named("indicators")}
}

// Compute evaluates every requested indicator over bars and returns a
// keyed IndicatorFrame. Every requested id is present in the result; NaN
// marks insufficient history. It never fabricates a value.
func (e *Engine) Compute(symbol string, tf types.Timeframe, bars []types.Bar, requested []Request) (types.IndicatorFrame, error) {
	frame := types.IndicatorFrame{
		Symbol: symbol,
		TF:     tf,
		Values: make(map[string]float64, len(requested)),
	}
	if len(bars) == 0 {
		for _, r := range requested {
			frame.Values[r.ID] = math.NaN()
		}
		return frame, nil
	}
	frame.BarTime = bars[len(bars)-1].OpenTime
	frame.FeedGap = detectGap(bars, tf)

	closes := closesOf(bars)
	highs := highsOf(bars)
	lows := lowsOf(bars)
	volumes := volumesOf(bars)

	cache := make(map[string][]float64)
	seriesFor := func(r Request) ([]float64, error) {
		key := fmt.Sprintf("%s:%d:%d:%d", r.Kind, r.Period, r.Period2, r.Period3)
		if v, ok := cache[key]; ok {
			return v, nil
		}
		if len(bars) < r.MinHistory() {
			cache[key] = nil
			return nil, types.NewCoreError(types.ErrInsufficientHistory, string(r.Kind), nil)
		}
		var series []float64
		switch r.Kind {
		case KindRSI:
			series = talib.Rsi(closes, r.Period)
		case KindEMA:
			series = talib.Ema(closes, r.Period)
		case KindSMA:
			series = talib.Sma(closes, r.Period)
		case KindATR:
			series = talib.Atr(highs, lows, closes, r.Period)
		case KindADX:
			series = talib.Adx(highs, lows, closes, r.Period)
		default:
			return nil, types.NewCoreError(types.ErrUnknownIndicator, string(r.Kind), nil)
		}
		cache[key] = series
		return series, nil
	}

	for _, r := range requested {
		val := math.NaN()
		switch r.Kind {
		case KindRSI, KindEMA, KindSMA, KindATR, KindADX:
			series, err := seriesFor(r)
			if err == nil && len(series) > 0 {
				val = series[len(series)-1]
			}
		case KindMACD:
			if len(bars) >= r.MinHistory() {
				macd, signal, _ := talib.Macd(closes, r.Period, r.Period2, r.Period3)
				if len(macd) > 0 && len(signal) > 0 {
					frame.Values[r.ID+".macd"] = macd[len(macd)-1]
					frame.Values[r.ID+".signal"] = signal[len(signal)-1]
					val = macd[len(macd)-1] - signal[len(signal)-1]
				}
			}
		case KindBollinger:
			if len(bars) >= r.MinHistory() {
				devUp := float64(r.Period2) / 10.0
				if devUp == 0 {
					devUp = 2.0
				}
				upper, middle, lower := talib.BBands(closes, r.Period, devUp, devUp, talib.SMA)
				if n := len(upper); n > 0 {
					frame.Values[r.ID+".upper"] = upper[n-1]
					frame.Values[r.ID+".middle"] = middle[n-1]
					frame.Values[r.ID+".lower"] = lower[n-1]
					width := upper[n-1] - lower[n-1]
					if middle[n-1] != 0 {
						val = width / middle[n-1]
					} else {
						val = width
					}
				}
			}
		case KindStochastic:
			if len(bars) >= r.MinHistory() {
				k, d := talib.Stoch(highs, lows, closes, r.Period, r.Period2, talib.SMA, r.Period2, talib.SMA)
				if n := len(k); n > 0 {
					frame.Values[r.ID+".k"] = k[n-1]
					frame.Values[r.ID+".d"] = d[n-1]
					val = k[n-1]
				}
			}
		case KindSupertrend:
			val = supertrend(highs, lows, closes, r.Period, float64(r.Period2)/10.0)
		case KindVWAP:
			val = vwap(closes, volumes)
		case KindVolumeStat:
			val = volumeRatio(volumes, r.Period)
		default:
			e.logger.Warn("unknown indicator requested", zap.String("id", r.ID), zap.String("kind", string(r.Kind)))
		}
		frame.Values[r.ID] = val
	}
	return frame, nil
}

func detectGap(bars []types.Bar, tf types.Timeframe) bool {
	if len(bars) < 2 {
		return false
	}
	expected := tfDuration(tf)
	if expected <= 0 {
		return false
	}
	last := bars[len(bars)-1]
	prev := bars[len(bars)-2]
	gap := last.OpenTime.Sub(prev.OpenTime)
	return gap > time.Duration(expected*2)*time.Second
}

func tfDuration(tf types.Timeframe) (d durationSeconds) {
	switch tf {
	case types.TF1Min:
		return 60
	case types.TF5Min:
		return 300
	case types.TF15Min:
		return 900
	case types.TF1Hour:
		return 3600
	case types.TF4Hour:
		return 14400
	case types.TF1Day:
		return 86400
	default:
		return 0
	}
}

type durationSeconds = int64

func closesOf(bars []types.Bar) []float64  { return extract(bars, func(b types.Bar) float64 { return b.Close.InexactFloat64() }) }
func highsOf(bars []types.Bar) []float64   { return extract(bars, func(b types.Bar) float64 { return b.High.InexactFloat64() }) }
func lowsOf(bars []types.Bar) []float64    { return extract(bars, func(b types.Bar) float64 { return b.Low.InexactFloat64() }) }
func volumesOf(bars []types.Bar) []float64 { return extract(bars, func(b types.Bar) float64 { return b.Volume.InexactFloat64() }) }

func extract(bars []types.Bar, f func(types.Bar) float64) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = f(b)
	}
	return out
}

// supertrend computes a minimal Supertrend line using talib's ATR; talib
// itself has no Supertrend primitive, so this wraps its ATR output in the
// standard multiplier-band formula and returns the latest trend direction
// encoded as +1/-1 scaled by distance from close.
func supertrend(highs, lows, closes []float64, period int, multiplier float64) float64 {
	if len(closes) < period+1 {
		return math.NaN()
	}
	if multiplier == 0 {
		multiplier = 3.0
	}
	atr := talib.Atr(highs, lows, closes, period)
	n := len(atr)
	if n == 0 {
		return math.NaN()
	}
	hl2 := (highs[len(highs)-1] + lows[len(lows)-1]) / 2
	upperBand := hl2 + multiplier*atr[n-1]
	lowerBand := hl2 - multiplier*atr[n-1]
	close := closes[len(closes)-1]
	if close > upperBand {
		return 1.0
	}
	if close < lowerBand {
		return -1.0
	}
	return 0.0
}

func vwap(closes, volumes []float64) float64 {
	if len(closes) == 0 {
		return math.NaN()
	}
	var pv, v float64
	for i := range closes {
		pv += closes[i] * volumes[i]
		v += volumes[i]
	}
	if v == 0 {
		return math.NaN()
	}
	return pv / v
}

func volumeRatio(volumes []float64, period int) float64 {
	if period <= 0 || len(volumes) < period+1 {
		return math.NaN()
	}
	window := volumes[len(volumes)-period-1 : len(volumes)-1]
	var sum float64
	for _, v := range window {
		sum += v
	}
	avg := sum / float64(len(window))
	if avg == 0 {
		return math.NaN()
	}
	return volumes[len(volumes)-1] / avg
}
