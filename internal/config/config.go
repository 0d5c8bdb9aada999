// Package config loads the engine's typed configuration from YAML via
// viper, validates every recognized key at startup, and fails fast on an
// invalid value. Grounded on the Config/Load/Validate shape in
// other_examples' Polymarket market-maker config.go: a viper.New() +
// mapstructure-tagged struct tree + fmt.Errorf-wrapped field checks,
// adapted from that bot's wallet/strategy/risk sections to this engine's
// phase table, cognition, exit, profit-scaling, and ambient-stack keys.
package config

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EngineConfig is the top-level configuration tree, §6.4.
type EngineConfig struct {
	Account      AccountConfig       `mapstructure:"account"`
	Phases       map[string]PhaseCfg `mapstructure:"phases"`
	Cognition    types.CognitionConfig `mapstructure:"cognition"`
	Exit         types.ExitConfig      `mapstructure:"exit"`
	ProfitScaling types.ProfitScalingConfig `mapstructure:"profit_scaling"`
	Risk         RiskCfg             `mapstructure:"risk"`
	Loop         LoopCfg             `mapstructure:"loop"`
	Adoption     AdoptionCfg         `mapstructure:"adoption"`
	Telemetry    TelemetryCfg        `mapstructure:"telemetry"`
	Persistence  PersistenceCfg      `mapstructure:"persistence"`
	API          APICfg              `mapstructure:"api"`
}

// AccountConfig carries the account section. InitialPhase is decoded from
// account.initial_phase, but nothing in the engine reads it: the account
// manager always computes the phase.
type AccountConfig struct {
	InitialPhase string `mapstructure:"initial_phase"`
}

// PhaseCfg mirrors types.PhaseLimits with mapstructure tags for YAML
// decoding; PhaseTable converts each into a types.PhaseLimits.
type PhaseCfg struct {
	MaxLot             float64  `mapstructure:"max_lot"`
	RiskPct            float64  `mapstructure:"risk_pct"`
	MaxPositionsPerSym int      `mapstructure:"max_positions"`
	MaxPositionsGlobal int      `mapstructure:"max_positions_global"`
	PreferredTFs       []string `mapstructure:"preferred_tfs"`
	MinConfidence      float64  `mapstructure:"min_confidence"`
	MinRR              float64  `mapstructure:"min_rr"`
	MaxTradesPerHour   int      `mapstructure:"max_trades_per_hour"`
	MinIntervalSeconds int      `mapstructure:"min_interval_seconds"`
	MaxSpreadPoints    float64  `mapstructure:"max_spread_points"`
	MaxSpreadPct       float64  `mapstructure:"max_spread_pct"`
	BalanceMin         float64  `mapstructure:"balance_min"`
	BalanceMax         float64  `mapstructure:"balance_max"`
}

// RiskCfg carries the non-phase-keyed risk evaluator parameters.
type RiskCfg struct {
	SurvivalThreshold  float64                    `mapstructure:"survival_threshold"`
	DrawdownThresholds types.DrawdownThresholds   `mapstructure:"drawdown_thresholds"`
	AdaptiveLossCurve  types.AdaptiveLossCurveConfig `mapstructure:"adaptive_loss_curve"`
}

// RiskEvaluatorConfig converts the loaded risk section into the type the
// risk evaluator consumes, falling back to the reference defaults for any
// zero-valued sub-struct left unset in the file.
func (c *EngineConfig) RiskEvaluatorConfig() types.RiskEvaluatorConfig {
	defaults := types.DefaultRiskEvaluatorConfig()
	cfg := defaults
	if c.Risk.SurvivalThreshold > 0 {
		cfg.SurvivalThreshold = decimal.NewFromFloat(c.Risk.SurvivalThreshold)
	}
	if !c.Risk.DrawdownThresholds.Critical.IsZero() {
		cfg.DrawdownThresholds = c.Risk.DrawdownThresholds
	}
	if c.Risk.AdaptiveLossCurve.LargeAccountFlatPct > 0 {
		cfg.AdaptiveLossCurve = c.Risk.AdaptiveLossCurve
	}
	return cfg
}

// LoopCfg configures the trading loop's cycle scheduling.
type LoopCfg struct {
	PollIntervalSecondsByPhase map[string]int `mapstructure:"poll_interval_seconds_by_phase"`
}

// AdoptionCfg configures the trade adoption filter.
type AdoptionCfg struct {
	Policy       string `mapstructure:"policy"`
	TaggedPrefix string `mapstructure:"tagged_prefix"`
}

// TelemetryCfg configures the metrics sinks.
type TelemetryCfg struct {
	PrometheusAddr string `mapstructure:"prometheus_addr"`
	CSVPath        string `mapstructure:"csv_path"`
}

// PersistenceCfg configures the durable store location.
type PersistenceCfg struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

// APICfg configures the inspection surface.
type APICfg struct {
	ListenAddr         string   `mapstructure:"listen_addr"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

// Load reads configPath via viper and unmarshals it into an EngineConfig.
// The keys given defaults in setDefaults are applied before unmarshalling,
// so YAML values always win; phases and the risk section fall back to the
// reference defaults through PhaseTable and RiskEvaluatorConfig. Any other
// key absent from the file is left at its zero value.
func Load(configPath string) (*EngineConfig, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cognition.confidenceFloor", 0.85)
	v.SetDefault("cognition.confidenceCeiling", 0.25)
	v.SetDefault("risk.survival_threshold", 0.50)
	v.SetDefault("exit.cryptoSkipWeekend", true)
	v.SetDefault("adoption.policy", string(types.AdoptionRejectAll))
	v.SetDefault("telemetry.prometheus_addr", ":9090")
	v.SetDefault("telemetry.csv_path", "./data/telemetry.csv")
	v.SetDefault("persistence.sqlite_path", "./data/engine.db")
	v.SetDefault("api.listen_addr", ":8080")
}

// PhaseTable converts the configured phases into the map the account
// manager and risk evaluator consume, falling back to
// types.DefaultPhaseTable() entries for any phase absent from the file.
func (c *EngineConfig) PhaseTable() map[types.Phase]types.PhaseLimits {
	table := types.DefaultPhaseTable()
	for name, pc := range c.Phases {
		phase := types.Phase(name)
		limits, ok := table[phase]
		if !ok {
			continue
		}
		if pc.MaxLot > 0 {
			limits.MaxLot = decimal.NewFromFloat(pc.MaxLot)
		}
		if pc.RiskPct > 0 {
			limits.RiskPct = pc.RiskPct
		}
		if pc.MaxPositionsPerSym > 0 {
			limits.MaxPositionsPerSym = pc.MaxPositionsPerSym
		}
		if pc.MaxPositionsGlobal > 0 {
			limits.MaxPositionsGlobal = pc.MaxPositionsGlobal
		}
		if pc.MinConfidence > 0 {
			limits.MinConfidence = pc.MinConfidence
		}
		if pc.MinRR > 0 {
			limits.MinRR = decimal.NewFromFloat(pc.MinRR)
		}
		if pc.MaxTradesPerHour > 0 {
			limits.MaxTradesPerHour = pc.MaxTradesPerHour
		}
		if pc.MinIntervalSeconds > 0 {
			limits.MinIntervalSeconds = pc.MinIntervalSeconds
		}
		if pc.MaxSpreadPoints > 0 {
			limits.MaxSpreadPoints = decimal.NewFromFloat(pc.MaxSpreadPoints)
		}
		if pc.MaxSpreadPct > 0 {
			limits.MaxSpreadPct = decimal.NewFromFloat(pc.MaxSpreadPct)
		}
		if pc.BalanceMin > 0 {
			limits.BalanceMin = decimal.NewFromFloat(pc.BalanceMin)
		}
		if pc.BalanceMax > 0 {
			limits.BalanceMax = decimal.NewFromFloat(pc.BalanceMax)
		}
		if len(pc.PreferredTFs) > 0 {
			tfs := make([]types.Timeframe, 0, len(pc.PreferredTFs))
			for _, tf := range pc.PreferredTFs {
				tfs = append(tfs, types.Timeframe(tf))
			}
			limits.PreferredTimeframes = tfs
		}
		if secs, ok := c.Loop.PollIntervalSecondsByPhase[name]; ok && secs > 0 {
			limits.PollInterval = time.Duration(secs) * time.Second
		}
		table[phase] = limits
	}
	return table
}

// Validate checks the confidence floor, the survival threshold, the crypto
// weekend flag, the adoption policy and the confluence weight sum, and
// refuses to start the engine on an invalid configuration. Other keys are
// not range-checked.
func (c *EngineConfig) Validate() error {
	if c.Cognition.ConfidenceFloor <= 0 || c.Cognition.ConfidenceFloor > 1 {
		return fmt.Errorf("cognition.confidenceFloor must be in (0,1]: %w", types.NewCoreError(types.ErrConfigInvalid, "confidence_floor", nil))
	}
	if c.Risk.SurvivalThreshold <= 0 || c.Risk.SurvivalThreshold > 1 {
		return fmt.Errorf("risk.survival_threshold must be in (0,1]: %w", types.NewCoreError(types.ErrConfigInvalid, "survival_threshold", nil))
	}
	if !c.Exit.CryptoSkipWeekend {
		return fmt.Errorf("exit.cryptoSkipWeekend must be true: %w", types.NewCoreError(types.ErrConfigInvalid, "crypto_skip_weekend", nil))
	}
	switch types.AdoptionPolicy(c.Adoption.Policy) {
	case types.AdoptionAcceptAll, types.AdoptionAcceptTaggedPrefix, types.AdoptionRejectAll:
	default:
		return fmt.Errorf("adoption.policy %q invalid: %w", c.Adoption.Policy, types.NewCoreError(types.ErrConfigInvalid, "adoption.policy", nil))
	}
	sumWeights := c.Exit.ConfluenceWeights.TrendFlip + c.Exit.ConfluenceWeights.RSIDivergence +
		c.Exit.ConfluenceWeights.MACDCross + c.Exit.ConfluenceWeights.BollingerTouch +
		c.Exit.ConfluenceWeights.PriceActionGiveback + c.Exit.ConfluenceWeights.VolumeDistribution
	if sumWeights > 0 && (sumWeights < 0.99 || sumWeights > 1.01) {
		return fmt.Errorf("exit.confluence.weights must sum to ~1.0, got %f: %w", sumWeights, types.NewCoreError(types.ErrConfigInvalid, "confluence.weights", nil))
	}
	return nil
}
