// Package regime derives a single categorical market Regime per cycle from
// an IndicatorFrame plus recent price action. Grounded on the reference's
// HMM-based internal/regime/detector.go: the same two-layer shape (a
// probabilistic base classification refined by a rule-based tie-break) is
// kept, but the taxonomy and priority order follow this engine's own
// regime set rather than the reference's bull/bear/high_vol/low_vol set,
// and the emission-probability math is delegated to gonum/stat instead of
// a hand-rolled Gaussian PDF.
package regime

import (
	"math"
	"sync"

	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// priorityOrder is the fixed tie-break list from highest to lowest
// priority. Classification is deterministic given an identical
// IndicatorFrame.
var priorityOrder = []types.Regime{
	types.RegimeTrendingUpStrong,
	types.RegimeTrendingDownStrong,
	types.RegimeVolatileBreakout,
	types.RegimeVolatileConsolidate,
	types.RegimeTrendingUpWeak,
	types.RegimeTrendingDownWeak,
	types.RegimeRangingTight,
	types.RegimeRangingWide,
	types.RegimeReversal,
	types.RegimeUnknown,
}

// Config parameterizes the classifier's thresholds. Every constant a
// classification decision depends on lives here, never inline.
type Config struct {
	ADXStrongTrend   float64
	ADXWeakTrend     float64
	EMASlopeStrong   float64
	BBWidthTight     float64
	BBWidthWide      float64
	VolatileVolRatio float64
	ReversalRSIHigh  float64
	ReversalRSILow   float64
	HMMStates        int
}

// DefaultConfig returns representative thresholds.
func DefaultConfig() Config {
	return Config{
		ADXStrongTrend:   30,
		ADXWeakTrend:     18,
		EMASlopeStrong:   0.0015,
		BBWidthTight:     0.015,
		BBWidthWide:      0.05,
		VolatileVolRatio: 1.8,
		ReversalRSIHigh:  72,
		ReversalRSILow:   28,
		HMMStates:        len(priorityOrder) - 1, // excludes unknown
	}
}

// Features is the scalar feature vector the classifier consumes, derived
// from an IndicatorFrame by the caller (the trading loop).
type Features struct {
	ADX          float64
	EMAFastSlope float64
	BBWidthPct   float64
	RangePos     float64 // (close-low)/(high-low) over the window, in [0,1]
	RecentReturn float64
	VolumeRatio  float64
	RSI          float64
}

// Classification is the classifier's output for one cycle.
type Classification struct {
	Regime      types.Regime
	Confidence  float64
	Probability map[types.Regime]float64
}

// Classifier assigns a Regime per (symbol, tf, bar). State is the rolling
// emission-parameter fit used to weight the rule-based tie-break by a
// background Gaussian-mixture plausibility score.
type Classifier struct {
	logger *zap.Logger
	config Config

	mu      sync.RWMutex
	means   []float64 // fitted mean recent-return per regime bucket
	stdDevs []float64
	history []Classification
}

// NewClassifier builds a classifier with the given config.
func NewClassifier(logger *zap.Logger, cfg Config) *Classifier {
	means := make([]float64, cfg.HMMStates)
	stdDevs := make([]float64, cfg.HMMStates)
	for i := range stdDevs {
		stdDevs[i] = 0.01
	}
	return &Classifier{
		logger:  logger.Named("regime"),
		config:  cfg,
		means:   means,
		stdDevs: stdDevs,
		history: make([]Classification, 0, 256),
	}
}

// Classify derives a single Regime from the given features. Output is
// deterministic given identical input features.
func (c *Classifier) Classify(f Features) Classification {
	c.mu.RLock()
	means := append([]float64(nil), c.means...)
	stdDevs := append([]float64(nil), c.stdDevs...)
	c.mu.RUnlock()

	candidates := c.ruleCandidates(f)
	probs := make(map[types.Regime]float64, len(candidates))
	var total float64
	for i, regime := range priorityOrder {
		if i >= len(means) {
			continue
		}
		if !candidates[regime] {
			continue
		}
		density := stat.NormPDF(f.RecentReturn, means[i], math.Max(stdDevs[i], 1e-6))
		probs[regime] = density
		total += density
	}
	if total > 0 {
		for k := range probs {
			probs[k] /= total
		}
	}

	chosen := c.resolveTie(candidates)
	confidence := probs[chosen]
	if confidence == 0 {
		confidence = 0.5 // rule fired with no probabilistic support yet
	}

	result := Classification{Regime: chosen, Confidence: confidence, Probability: probs}
	c.mu.Lock()
	c.history = append(c.history, result)
	if len(c.history) > 500 {
		c.history = c.history[200:]
	}
	c.mu.Unlock()
	return result
}

// UpdateEmissions refits the per-regime Gaussian parameters from observed
// returns labeled by their realized regime, keeping the probabilistic
// layer adaptive without altering the rule-based tie-break itself.
func (c *Classifier) UpdateEmissions(regime types.Regime, returns []float64) {
	idx := indexOf(regime)
	if idx < 0 || len(returns) == 0 {
		return
	}
	mean, std := stat.MeanStdDev(returns, nil)
	c.mu.Lock()
	c.means[idx] = mean
	c.stdDevs[idx] = std
	c.mu.Unlock()
}

// ruleCandidates evaluates every regime's trigger condition independently;
// more than one may fire, and resolveTie picks the highest-priority one.
func (c *Classifier) ruleCandidates(f Features) map[types.Regime]bool {
	cfg := c.config
	out := make(map[types.Regime]bool, len(priorityOrder))
	out[types.RegimeUnknown] = true // always a fallback candidate

	strongTrend := f.ADX >= cfg.ADXStrongTrend
	weakTrend := f.ADX >= cfg.ADXWeakTrend && f.ADX < cfg.ADXStrongTrend
	volatile := f.VolumeRatio >= cfg.VolatileVolRatio || f.BBWidthPct >= cfg.BBWidthWide

	if strongTrend && f.EMAFastSlope >= cfg.EMASlopeStrong {
		out[types.RegimeTrendingUpStrong] = true
	}
	if strongTrend && f.EMAFastSlope <= -cfg.EMASlopeStrong {
		out[types.RegimeTrendingDownStrong] = true
	}
	if volatile && math.Abs(f.RecentReturn) >= cfg.EMASlopeStrong {
		out[types.RegimeVolatileBreakout] = true
	}
	if volatile && math.Abs(f.RecentReturn) < cfg.EMASlopeStrong {
		out[types.RegimeVolatileConsolidate] = true
	}
	if weakTrend && f.EMAFastSlope > 0 {
		out[types.RegimeTrendingUpWeak] = true
	}
	if weakTrend && f.EMAFastSlope < 0 {
		out[types.RegimeTrendingDownWeak] = true
	}
	if !strongTrend && !weakTrend && f.BBWidthPct <= cfg.BBWidthTight {
		out[types.RegimeRangingTight] = true
	}
	if !strongTrend && !weakTrend && f.BBWidthPct > cfg.BBWidthTight && f.BBWidthPct < cfg.BBWidthWide {
		out[types.RegimeRangingWide] = true
	}
	if (f.RSI >= cfg.ReversalRSIHigh || f.RSI <= cfg.ReversalRSILow) && (f.RangePos > 0.85 || f.RangePos < 0.15) {
		out[types.RegimeReversal] = true
	}
	return out
}

// resolveTie walks priorityOrder and returns the first candidate regime,
// guaranteeing a deterministic, strictly-prioritized outcome.
func (c *Classifier) resolveTie(candidates map[types.Regime]bool) types.Regime {
	for _, regime := range priorityOrder {
		if candidates[regime] {
			return regime
		}
	}
	return types.RegimeUnknown
}

func indexOf(regime types.Regime) int {
	for i, r := range priorityOrder {
		if r == regime {
			return i
		}
	}
	return -1
}
