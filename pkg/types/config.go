// Package types: configuration records consumed by the risk evaluator,
// account manager, exit coordinator, and profit scaler.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PhaseLimits is the per-phase configuration record emitted by the
// Adaptive Account Manager and consumed by the Risk Evaluator and
// position sizing.
type PhaseLimits struct {
	Phase               Phase           `json:"phase"`
	BalanceMin          decimal.Decimal `json:"balanceMin"`
	BalanceMax          decimal.Decimal `json:"balanceMax"` // exclusive upper bound, zero means unbounded
	MaxLot              decimal.Decimal `json:"maxLot"`
	RiskPct             float64         `json:"riskPct"` // fraction of balance risked per trade
	MaxPositionsPerSym  int             `json:"maxPositionsPerSymbol"`
	MaxPositionsGlobal  int             `json:"maxPositionsGlobal"`
	PreferredTimeframes []Timeframe     `json:"preferredTimeframes"`
	MinConfidence       float64         `json:"minConfidence"`
	MinRR               decimal.Decimal `json:"minRr"`
	MaxTradesPerHour    int             `json:"maxTradesPerHour"`
	MinIntervalSeconds  int             `json:"minIntervalSeconds"`
	MaxSpreadPoints     decimal.Decimal `json:"maxSpreadPoints"`
	MaxSpreadPct        decimal.Decimal `json:"maxSpreadPct"`
	MaxSpreadPointsCrypto decimal.Decimal `json:"maxSpreadPointsCrypto"`
	MaxSpreadPctCrypto  decimal.Decimal `json:"maxSpreadPctCrypto"`
	PollInterval        time.Duration   `json:"pollInterval"`
}

// DefaultPhaseTable returns the six-phase limit table with representative
// defaults. Every value is surfaced here, never hardcoded inline in the
// risk evaluator or account manager.
func DefaultPhaseTable() map[Phase]PhaseLimits {
	return map[Phase]PhaseLimits{
		PhaseMicro: {
			Phase: PhaseMicro, BalanceMin: decimal.Zero, BalanceMax: decimal.NewFromInt(100),
			MaxLot: decimal.NewFromFloat(0.02), RiskPct: 0.02,
			MaxPositionsPerSym: 1, MaxPositionsGlobal: 2,
			PreferredTimeframes: []Timeframe{TF1Min, TF5Min},
			MinConfidence:       0.70, MinRR: decimal.NewFromFloat(1.5),
			MaxTradesPerHour: 6, MinIntervalSeconds: 180,
			MaxSpreadPoints: decimal.NewFromInt(30), MaxSpreadPct: decimal.NewFromFloat(0.001),
			MaxSpreadPointsCrypto: decimal.NewFromInt(80), MaxSpreadPctCrypto: decimal.NewFromFloat(0.003),
			PollInterval: 10 * time.Second,
		},
		PhaseSeed: {
			Phase: PhaseSeed, BalanceMin: decimal.NewFromInt(100), BalanceMax: decimal.NewFromInt(500),
			MaxLot: decimal.NewFromFloat(0.05), RiskPct: 0.025,
			MaxPositionsPerSym: 1, MaxPositionsGlobal: 3,
			PreferredTimeframes: []Timeframe{TF5Min, TF15Min},
			MinConfidence:       0.65, MinRR: decimal.NewFromFloat(1.8),
			MaxTradesPerHour: 5, MinIntervalSeconds: 240,
			MaxSpreadPoints: decimal.NewFromInt(40), MaxSpreadPct: decimal.NewFromFloat(0.0012),
			MaxSpreadPointsCrypto: decimal.NewFromInt(90), MaxSpreadPctCrypto: decimal.NewFromFloat(0.0035),
			PollInterval: 15 * time.Second,
		},
		PhaseGrowth: {
			Phase: PhaseGrowth, BalanceMin: decimal.NewFromInt(500), BalanceMax: decimal.NewFromInt(2000),
			MaxLot: decimal.NewFromFloat(0.15), RiskPct: 0.03,
			MaxPositionsPerSym: 2, MaxPositionsGlobal: 5,
			PreferredTimeframes: []Timeframe{TF15Min, TF1Hour},
			MinConfidence:       0.60, MinRR: decimal.NewFromFloat(2.0),
			MaxTradesPerHour: 4, MinIntervalSeconds: 300,
			MaxSpreadPoints: decimal.NewFromInt(50), MaxSpreadPct: decimal.NewFromFloat(0.0015),
			MaxSpreadPointsCrypto: decimal.NewFromInt(100), MaxSpreadPctCrypto: decimal.NewFromFloat(0.004),
			PollInterval: 20 * time.Second,
		},
		PhaseEstablished: {
			Phase: PhaseEstablished, BalanceMin: decimal.NewFromInt(2000), BalanceMax: decimal.NewFromInt(10000),
			MaxLot: decimal.NewFromFloat(0.5), RiskPct: 0.02,
			MaxPositionsPerSym: 2, MaxPositionsGlobal: 8,
			PreferredTimeframes: []Timeframe{TF1Hour, TF4Hour},
			MinConfidence:       0.58, MinRR: decimal.NewFromFloat(2.0),
			MaxTradesPerHour: 3, MinIntervalSeconds: 360,
			MaxSpreadPoints: decimal.NewFromInt(60), MaxSpreadPct: decimal.NewFromFloat(0.0018),
			MaxSpreadPointsCrypto: decimal.NewFromInt(120), MaxSpreadPctCrypto: decimal.NewFromFloat(0.0045),
			PollInterval: 30 * time.Second,
		},
		PhaseMature: {
			Phase: PhaseMature, BalanceMin: decimal.NewFromInt(10000), BalanceMax: decimal.Zero,
			MaxLot: decimal.NewFromFloat(2.0), RiskPct: 0.01,
			MaxPositionsPerSym: 3, MaxPositionsGlobal: 12,
			PreferredTimeframes: []Timeframe{TF4Hour, TF1Day},
			MinConfidence:       0.55, MinRR: decimal.NewFromFloat(2.2),
			MaxTradesPerHour: 2, MinIntervalSeconds: 600,
			MaxSpreadPoints: decimal.NewFromInt(80), MaxSpreadPct: decimal.NewFromFloat(0.002),
			MaxSpreadPointsCrypto: decimal.NewFromInt(150), MaxSpreadPctCrypto: decimal.NewFromFloat(0.005),
			PollInterval: 60 * time.Second,
		},
		PhaseRecovery: {
			Phase: PhaseRecovery, BalanceMin: decimal.Zero, BalanceMax: decimal.Zero,
			MaxLot: decimal.NewFromFloat(0.02), RiskPct: 0.01,
			MaxPositionsPerSym: 1, MaxPositionsGlobal: 1,
			PreferredTimeframes: []Timeframe{TF15Min, TF1Hour},
			MinConfidence:       0.75, MinRR: decimal.NewFromFloat(2.5),
			MaxTradesPerHour: 2, MinIntervalSeconds: 600,
			MaxSpreadPoints: decimal.NewFromInt(25), MaxSpreadPct: decimal.NewFromFloat(0.0008),
			MaxSpreadPointsCrypto: decimal.NewFromInt(60), MaxSpreadPctCrypto: decimal.NewFromFloat(0.002),
			PollInterval: 45 * time.Second,
		},
	}
}

// DrawdownThresholds maps current drawdown pct edges to a DrawdownState.
// Exactly-on-threshold resolves to the higher-severity state.
type DrawdownThresholds struct {
	Caution  decimal.Decimal `json:"caution"`
	Warning  decimal.Decimal `json:"warning"`
	Danger   decimal.Decimal `json:"danger"`
	Critical decimal.Decimal `json:"critical"`
}

// DefaultDrawdownThresholds returns the reference ladder.
func DefaultDrawdownThresholds() DrawdownThresholds {
	return DrawdownThresholds{
		Caution:  decimal.NewFromFloat(0.10),
		Warning:  decimal.NewFromFloat(0.20),
		Danger:   decimal.NewFromFloat(0.35),
		Critical: decimal.NewFromFloat(0.50),
	}
}

// DrawdownSizeMultiplier returns the size multiplier for a drawdown state.
func DrawdownSizeMultiplier(s DrawdownState) float64 {
	switch s {
	case DrawdownCaution:
		return 0.75
	case DrawdownWarning:
		return 0.5
	case DrawdownDanger:
		return 0.25
	case DrawdownCritical:
		return 0.0
	default:
		return 1.0
	}
}

// CognitionConfig bounds the advisory overlay's confidence multiplier and
// names the critical-event flags that cause a hard block.
type CognitionConfig struct {
	ConfidenceFloor   float64  `json:"confidenceFloor"`   // default 0.85
	ConfidenceCeiling float64  `json:"confidenceCeiling"` // default 0.25 (applied as 1+ceiling)
	SizeMultiplierMin float64  `json:"sizeMultiplierMin"`
	SizeMultiplierMax float64  `json:"sizeMultiplierMax"`
	CriticalEvents    []string `json:"criticalEvents"`
}

// DefaultCognitionConfig returns the reference bounds.
func DefaultCognitionConfig() CognitionConfig {
	return CognitionConfig{
		ConfidenceFloor:   0.85,
		ConfidenceCeiling: 0.25,
		SizeMultiplierMin: 0.5,
		SizeMultiplierMax: 1.5,
		CriticalEvents:    []string{"high_impact_macro"},
	}
}

// ExitConfig parameterizes the exit coordinator's rule ladder.
type ExitConfig struct {
	SurvivalFloorEquity      decimal.Decimal `json:"survivalFloorEquity"`
	SurvivalCriticalMargin   decimal.Decimal `json:"survivalCriticalMargin"`
	MicroAccountBalance      decimal.Decimal `json:"microAccountBalance"`
	MicroTargetPct           decimal.Decimal `json:"microTargetPct"`
	TrailingActivationPct    decimal.Decimal `json:"trailingActivationPct"`
	TrailingRetracePct       decimal.Decimal `json:"trailingRetracePct"`
	HardProfitTargetPct      decimal.Decimal `json:"hardProfitTargetPct"`
	MaxAgeHours              float64         `json:"maxAgeHours"`
	CryptoSkipWeekend        bool            `json:"cryptoSkipWeekend"` // must be true
	AdverseExcursionPerMin   decimal.Decimal `json:"adverseExcursionPerMin"`
	BreakevenActivationPct   decimal.Decimal `json:"breakevenActivationPct"`
	LiquidityMaxSpreadPoints decimal.Decimal `json:"liquidityMaxSpreadPoints"`
	SignalReversalMinConf    float64         `json:"signalReversalMinConfidence"`
	ConfluenceWeights        ConfluenceWeights `json:"confluenceWeights"`
	ConfluenceThresholds     ConfluenceThresholds `json:"confluenceThresholds"`
}

// ConfluenceWeights weights the six reversal detectors; must sum to 1.0.
type ConfluenceWeights struct {
	TrendFlip         float64 `json:"trendFlip"`
	RSIDivergence     float64 `json:"rsiDivergence"`
	MACDCross         float64 `json:"macdCross"`
	BollingerTouch    float64 `json:"bollingerTouch"`
	PriceActionGiveback float64 `json:"priceActionGiveback"`
	VolumeDistribution float64 `json:"volumeDistribution"`
}

// ConfluenceThresholds are the score bands mapping to exit decisions.
type ConfluenceThresholds struct {
	ScaleOut  float64 `json:"scaleOut"`  // >= this, < Close
	Close     float64 `json:"close"`     // >= this, < Emergency
	Emergency float64 `json:"emergency"` // >= this
}

// DefaultExitConfig returns the reference ladder parameters.
func DefaultExitConfig() ExitConfig {
	return ExitConfig{
		SurvivalFloorEquity:    decimal.NewFromInt(0),
		SurvivalCriticalMargin: decimal.NewFromInt(50),
		MicroAccountBalance:    decimal.NewFromInt(100),
		MicroTargetPct:         decimal.NewFromFloat(0.15),
		TrailingActivationPct:  decimal.NewFromFloat(0.02),
		TrailingRetracePct:     decimal.NewFromFloat(0.30),
		HardProfitTargetPct:    decimal.NewFromFloat(0.05),
		MaxAgeHours:            72,
		CryptoSkipWeekend:      true,
		AdverseExcursionPerMin: decimal.NewFromFloat(0.005),
		BreakevenActivationPct: decimal.NewFromFloat(0.01),
		LiquidityMaxSpreadPoints: decimal.NewFromInt(100),
		SignalReversalMinConf:    0.65,
		ConfluenceWeights: ConfluenceWeights{
			TrendFlip: 0.25, RSIDivergence: 0.20, MACDCross: 0.15,
			BollingerTouch: 0.15, PriceActionGiveback: 0.15, VolumeDistribution: 0.10,
		},
		ConfluenceThresholds: ConfluenceThresholds{ScaleOut: 0.55, Close: 0.75, Emergency: 0.90},
	}
}

// ProfitScalingTier is one rung of the tiered partial-close ladder.
type ProfitScalingTier struct {
	ProfitPct decimal.Decimal `json:"profitPct"`
	ClosePct  float64         `json:"closePct"`
	MoveStopToEntry bool      `json:"moveStopToEntry"`
}

// ProfitScalingConfig configures the profit scaler.
type ProfitScalingConfig struct {
	MicroAccountThreshold decimal.Decimal     `json:"microAccountThreshold"`
	EmergencyLockPct      decimal.Decimal     `json:"emergencyLockPct"`
	Tiers                 []ProfitScalingTier `json:"tiers"`
	MicroTiers            []ProfitScalingTier `json:"microTiers"`
}

// DefaultProfitScalingConfig returns the reference tier ladder.
func DefaultProfitScalingConfig() ProfitScalingConfig {
	return ProfitScalingConfig{
		MicroAccountThreshold: decimal.NewFromInt(100),
		EmergencyLockPct:      decimal.NewFromFloat(0.20),
		Tiers: []ProfitScalingTier{
			{ProfitPct: decimal.NewFromFloat(0.02), ClosePct: 0.25},
			{ProfitPct: decimal.NewFromFloat(0.04), ClosePct: 0.35, MoveStopToEntry: true},
			{ProfitPct: decimal.NewFromFloat(0.08), ClosePct: 0.40},
		},
		MicroTiers: []ProfitScalingTier{
			{ProfitPct: decimal.NewFromFloat(0.05), ClosePct: 0.5},
			{ProfitPct: decimal.NewFromFloat(0.10), ClosePct: 0.5, MoveStopToEntry: true},
		},
	}
}

// AdoptionPolicy controls how externally opened positions are absorbed.
type AdoptionPolicy string

const (
	AdoptionAcceptAll          AdoptionPolicy = "accept_all"
	AdoptionAcceptTaggedPrefix AdoptionPolicy = "accept_tagged_prefix"
	AdoptionRejectAll          AdoptionPolicy = "reject_all"
)

// RiskEvaluatorConfig bundles the non-phase-keyed parameters of the risk
// evaluator: survival mode and the adaptive loss curve.
type RiskEvaluatorConfig struct {
	SurvivalThreshold   decimal.Decimal     `json:"survivalThreshold"` // default 0.50
	DrawdownThresholds  DrawdownThresholds  `json:"drawdownThresholds"`
	AdaptiveLossCurve   AdaptiveLossCurveConfig `json:"adaptiveLossCurve"`
	AdapterTimeout      time.Duration       `json:"adapterTimeout"`
	MaxRetries          int                 `json:"maxRetries"`
}

// AdaptiveLossCurveConfig parameterizes the monotone balance->max-loss
// function: small accounts tolerate a larger percentage but smaller
// absolute loss; large accounts are capped near a flat percentage.
type AdaptiveLossCurveConfig struct {
	SmallAccountThreshold decimal.Decimal `json:"smallAccountThreshold"`
	SmallAccountMaxPct    float64         `json:"smallAccountMaxPct"`
	LargeAccountFlatPct   float64         `json:"largeAccountFlatPct"`
}

// DefaultRiskEvaluatorConfig returns reference defaults.
func DefaultRiskEvaluatorConfig() RiskEvaluatorConfig {
	return RiskEvaluatorConfig{
		SurvivalThreshold:  decimal.NewFromFloat(0.50),
		DrawdownThresholds: DefaultDrawdownThresholds(),
		AdaptiveLossCurve: AdaptiveLossCurveConfig{
			SmallAccountThreshold: decimal.NewFromInt(1000),
			SmallAccountMaxPct:    0.08,
			LargeAccountFlatPct:   0.01,
		},
		AdapterTimeout: 5 * time.Second,
		MaxRetries:     2,
	}
}
