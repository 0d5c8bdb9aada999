package regime_test

import (
	"testing"

	"github.com/atlas-desktop/autopilot-engine/internal/regime"
	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"go.uber.org/zap"
)

func TestClassifyStrongUptrendWithSupportingSlope(t *testing.T) {
	c := regime.NewClassifier(zap.NewNop(), regime.DefaultConfig())
	result := c.Classify(regime.Features{ADX: 35, EMAFastSlope: 0.002, BBWidthPct: 0.02, RangePos: 0.5, RecentReturn: 0.001, VolumeRatio: 1.0, RSI: 55})
	if result.Regime != types.RegimeTrendingUpStrong {
		t.Fatalf("expected strong uptrend, got %s", result.Regime)
	}
}

func TestClassifyTightRangeWhenFlatAndNarrow(t *testing.T) {
	c := regime.NewClassifier(zap.NewNop(), regime.DefaultConfig())
	result := c.Classify(regime.Features{ADX: 10, EMAFastSlope: 0, BBWidthPct: 0.005, RangePos: 0.5, RecentReturn: 0, VolumeRatio: 1.0, RSI: 50})
	if result.Regime != types.RegimeRangingTight {
		t.Fatalf("expected tight ranging regime, got %s", result.Regime)
	}
}

func TestClassifyRangingWideForMidBollingerWidth(t *testing.T) {
	c := regime.NewClassifier(zap.NewNop(), regime.DefaultConfig())
	// ADX below the weak-trend threshold, BBWidth between the tight and
	// wide thresholds, and RSI/RangePos away from the reversal triggers:
	// ranging-wide is the only rule that fires.
	result := c.Classify(regime.Features{ADX: 5, EMAFastSlope: 0, BBWidthPct: 0.03, RangePos: 0.5, RecentReturn: 0, VolumeRatio: 1.0, RSI: 50})
	if result.Regime != types.RegimeRangingWide {
		t.Fatalf("expected ranging wide given a mid-sized bollinger width, got %s", result.Regime)
	}
}

func TestClassifyPrioritizesStrongTrendOverVolatility(t *testing.T) {
	c := regime.NewClassifier(zap.NewNop(), regime.DefaultConfig())
	// Both strong-uptrend and volatile-breakout rules can fire; priority
	// order must pick the strong trend.
	result := c.Classify(regime.Features{ADX: 35, EMAFastSlope: 0.002, BBWidthPct: 0.06, RangePos: 0.5, RecentReturn: 0.01, VolumeRatio: 2.5, RSI: 55})
	if result.Regime != types.RegimeTrendingUpStrong {
		t.Fatalf("expected priority order to favor strong trend over volatility, got %s", result.Regime)
	}
}

func TestClassifyIsDeterministicForIdenticalFeatures(t *testing.T) {
	c := regime.NewClassifier(zap.NewNop(), regime.DefaultConfig())
	f := regime.Features{ADX: 22, EMAFastSlope: 0.001, BBWidthPct: 0.02, RangePos: 0.3, RecentReturn: 0.002, VolumeRatio: 1.1, RSI: 60}
	a := c.Classify(f)
	b := c.Classify(f)
	if a.Regime != b.Regime {
		t.Fatalf("expected identical features to classify identically, got %s then %s", a.Regime, b.Regime)
	}
}

func TestUpdateEmissionsShiftsConfidenceForFutureClassifications(t *testing.T) {
	c := regime.NewClassifier(zap.NewNop(), regime.DefaultConfig())
	f := regime.Features{ADX: 35, EMAFastSlope: 0.002, BBWidthPct: 0.02, RangePos: 0.5, RecentReturn: 0.002, VolumeRatio: 1.0, RSI: 55}

	before := c.Classify(f)
	c.UpdateEmissions(types.RegimeTrendingUpStrong, []float64{0.002, 0.0019, 0.0021, 0.002, 0.0018})
	after := c.Classify(f)

	if before.Regime != after.Regime {
		t.Fatalf("expected the rule-based tie-break to remain unchanged by emission refit, got %s then %s", before.Regime, after.Regime)
	}
}
