// Package selector ranks the registered strategy set for the current
// regime and steps through the ranking on a first-usable basis. Grounded
// on the reference's internal/orchestrator StrategyPerformance/
// evaluateStrategies pattern, narrowed to a pure scoring+fallback function
// rather than a stateful viability gate.
package selector

import (
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/autopilot-engine/internal/strategy"
	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"go.uber.org/zap"
)

// Weights controls how regime-fit, historical performance, and recency
// combine into one score. Sums to 1.0 in the default configuration but
// callers may use any positive weights.
type Weights struct {
	RegimeFit  float64
	Recency    float64
	Reliability float64
}

// DefaultWeights matches the documented 0.5/0.3/0.2 split.
func DefaultWeights() Weights {
	return Weights{RegimeFit: 0.5, Reliability: 0.3, Recency: 0.2}
}

// Config parameterizes the selector.
type Config struct {
	Weights      Weights
	MaxFallbacks int
	// OutcomeWindow is the number of most recent trade outcomes kept per
	// strategy for the reliability term. Zero means use the documented
	// default of 50.
	OutcomeWindow int
}

// DefaultOutcomeWindow is the documented default rolling-window size (N)
// for per-strategy outcome history.
const DefaultOutcomeWindow = 50

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{Weights: DefaultWeights(), MaxFallbacks: 4, OutcomeWindow: DefaultOutcomeWindow}
}

// regimeAffinity is a fixed table of how well each strategy archetype
// tends to fit each regime, on a 0..1 scale. This is the "regime fit"
// term of the score; it never changes at runtime.
var regimeAffinity = map[string]map[types.Regime]float64{
	"ema_cross": {
		types.RegimeTrendingUpStrong: 0.9, types.RegimeTrendingDownStrong: 0.9,
		types.RegimeTrendingUpWeak: 0.7, types.RegimeTrendingDownWeak: 0.7,
		types.RegimeRangingTight: 0.2, types.RegimeRangingWide: 0.3,
	},
	"sma_cross": {
		types.RegimeTrendingUpStrong: 0.8, types.RegimeTrendingDownStrong: 0.8,
		types.RegimeTrendingUpWeak: 0.65, types.RegimeTrendingDownWeak: 0.65,
		types.RegimeRangingWide: 0.3,
	},
	"momentum_breakout": {
		types.RegimeVolatileBreakout: 0.95, types.RegimeTrendingUpStrong: 0.6,
		types.RegimeTrendingDownStrong: 0.6, types.RegimeRangingWide: 0.3,
	},
	"scalping": {
		types.RegimeRangingTight: 0.9, types.RegimeVolatileConsolidate: 0.6,
		types.RegimeRangingWide: 0.4,
	},
	"trend_following": {
		types.RegimeTrendingUpStrong: 0.95, types.RegimeTrendingDownStrong: 0.95,
		types.RegimeTrendingUpWeak: 0.5, types.RegimeTrendingDownWeak: 0.5,
	},
	"mean_reversion": {
		types.RegimeRangingTight: 0.85, types.RegimeRangingWide: 0.7,
		types.RegimeVolatileConsolidate: 0.5, types.RegimeReversal: 0.4,
	},
	"rsi_reversal": {
		types.RegimeReversal: 0.9, types.RegimeRangingWide: 0.5,
		types.RegimeVolatileConsolidate: 0.45,
	},
}

// outcome records one completed trade's realized result for a strategy,
// used to compute the reliability term.
type outcome struct {
	win bool
	at  time.Time
}

// Selector ranks strategies by (regime fit, reliability, recency) and
// offers ordered fallback iteration.
type Selector struct {
	logger   *zap.Logger
	registry *strategy.Registry
	config   Config

	mu       sync.RWMutex
	outcomes map[string][]outcome
}

// New builds a selector over the given strategy registry.
func New(logger *zap.Logger, registry *strategy.Registry, cfg Config) *Selector {
	if cfg.OutcomeWindow <= 0 {
		cfg.OutcomeWindow = DefaultOutcomeWindow
	}
	return &Selector{
		logger:   logger.Named("selector"),
		registry: registry,
		config:   cfg,
		outcomes: make(map[string][]outcome),
	}
}

// RecordOutcome folds a trade's win/loss result into a strategy's
// reliability history, keeping at most the last config.OutcomeWindow
// entries.
func (s *Selector) RecordOutcome(strategyID string, win bool, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := s.outcomes[strategyID]
	hist = append(hist, outcome{win: win, at: at})
	if window := s.config.OutcomeWindow; len(hist) > window {
		hist = hist[len(hist)-window:]
	}
	s.outcomes[strategyID] = hist
}

// Ranked is one scored candidate in priority order.
type Ranked struct {
	StrategyID string
	Score      float64
}

// Rank scores every registered strategy for the given regime and returns
// them sorted from best to worst. Ties break by strategy ID for a
// deterministic ordering.
func (s *Selector) Rank(regime types.Regime) []Ranked {
	names := s.registry.List()
	ranked := make([]Ranked, 0, len(names))
	for _, name := range names {
		ranked = append(ranked, Ranked{StrategyID: name, Score: s.score(name, regime)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].StrategyID < ranked[j].StrategyID
	})
	return ranked
}

// SelectAndEvaluate walks the ranking from best to worst, up to
// MaxFallbacks strategies, returning the first non-nil signal produced.
func (s *Selector) SelectAndEvaluate(regime types.Regime, frame types.IndicatorFrame, bars []types.Bar) (*types.Signal, string, error) {
	ranked := s.Rank(regime)
	tries := 0
	for _, candidate := range ranked {
		if tries >= s.config.MaxFallbacks {
			break
		}
		tries++
		strat, ok := s.registry.Create(candidate.StrategyID)
		if !ok {
			continue
		}
		signal, err := strat.Evaluate(frame, bars)
		if err != nil {
			s.logger.Warn("strategy evaluation failed", zap.String("strategy", candidate.StrategyID), zap.Error(err))
			continue
		}
		if signal != nil {
			return signal, candidate.StrategyID, nil
		}
	}
	return nil, "", nil
}

func (s *Selector) score(strategyID string, regime types.Regime) float64 {
	w := s.config.Weights
	fit := regimeAffinity[strategyID][regime]
	reliability := s.reliability(strategyID)
	recency := s.recency(strategyID)
	return w.RegimeFit*fit + w.Reliability*reliability + w.Recency*recency
}

func (s *Selector) reliability(strategyID string) float64 {
	s.mu.RLock()
	hist := s.outcomes[strategyID]
	s.mu.RUnlock()
	if len(hist) == 0 {
		return 0.5 // no track record yet: neutral prior
	}
	wins := 0
	for _, o := range hist {
		if o.win {
			wins++
		}
	}
	return float64(wins) / float64(len(hist))
}

func (s *Selector) recency(strategyID string) float64 {
	s.mu.RLock()
	hist := s.outcomes[strategyID]
	s.mu.RUnlock()
	if len(hist) == 0 {
		return 0.5
	}
	last := hist[len(hist)-1].at
	age := time.Since(last)
	if age <= time.Hour {
		return 1.0
	}
	if age >= 7*24*time.Hour {
		return 0.0
	}
	return 1.0 - age.Hours()/(7*24)
}
