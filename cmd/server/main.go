// Package main is the autonomous trading engine's composition root: load
// config, build every collaborator in dependency order, start the
// trading loop and the read-only inspection API, and shut both down
// cleanly on SIGINT/SIGTERM. Grounded on the reference's flag-parse +
// setupLogger + sequential-construction + signal-channel-shutdown shape
// in the prior cmd/server/main.go, rebuilt around this engine's
// collaborator graph instead of the PhD orchestrator/enhanced-agent one.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/atlas-desktop/autopilot-engine/internal/account"
	"github.com/atlas-desktop/autopilot-engine/internal/adapter"
	"github.com/atlas-desktop/autopilot-engine/internal/api"
	"github.com/atlas-desktop/autopilot-engine/internal/cognition"
	"github.com/atlas-desktop/autopilot-engine/internal/config"
	"github.com/atlas-desktop/autopilot-engine/internal/events"
	"github.com/atlas-desktop/autopilot-engine/internal/execution"
	"github.com/atlas-desktop/autopilot-engine/internal/exits"
	"github.com/atlas-desktop/autopilot-engine/internal/indicators"
	"github.com/atlas-desktop/autopilot-engine/internal/lifecycle"
	"github.com/atlas-desktop/autopilot-engine/internal/loop"
	"github.com/atlas-desktop/autopilot-engine/internal/persistence"
	"github.com/atlas-desktop/autopilot-engine/internal/profitscaler"
	"github.com/atlas-desktop/autopilot-engine/internal/regime"
	"github.com/atlas-desktop/autopilot-engine/internal/risk"
	"github.com/atlas-desktop/autopilot-engine/internal/selector"
	"github.com/atlas-desktop/autopilot-engine/internal/strategy"
	"github.com/atlas-desktop/autopilot-engine/internal/telemetry"
	"github.com/atlas-desktop/autopilot-engine/internal/tracker"
	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "Path to the engine configuration file")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	symbols := flag.String("symbols", "EURUSD", "Comma-separated symbol list to trade")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := persistence.Open(logger, cfg.Persistence.SQLitePath)
	if err != nil {
		logger.Fatal("failed to open persistence store", zap.Error(err))
	}
	defer store.Close()

	telemetry.Init()
	csvMirror, err := telemetry.NewCSVMirror(cfg.Telemetry.CSVPath)
	if err != nil {
		logger.Fatal("failed to open telemetry csv mirror", zap.Error(err))
	}

	bus := events.New(logger, store, 500)

	mkt := adapter.NewSimulated(logger, adapter.DefaultSimulatedConfig())
	indEngine := indicators.NewEngine(logger)
	classifier := regime.NewClassifier(logger, regime.DefaultConfig())
	registry := strategy.NewRegistry(logger)
	logger.Info("registered strategies", zap.Strings("strategies", registry.List()))

	sel := selector.New(logger, registry, selector.DefaultConfig())
	cogOverlay := cognition.New(logger, cfg.Cognition)
	riskEval := risk.New(logger, cfg.RiskEvaluatorConfig())
	acctMgr := account.New(logger, account.DefaultConfig(), cfg.PhaseTable())
	trk := tracker.New(logger, mkt, bus)
	execEngine := execution.New(logger, mkt, bus)
	exitCoord := exits.New(cfg.Exit)
	scaler := profitscaler.New(cfg.ProfitScaling)
	adoption := lifecycle.NewAdoptionFilter(types.AdoptionPolicy(cfg.Adoption.Policy), cfg.Adoption.TaggedPrefix)

	loopCfg := loop.DefaultConfig()
	loopCfg.Symbols = splitSymbols(*symbols)
	supervisor := loop.New(
		logger, loopCfg, mkt, indEngine, classifier, registry, sel, cogOverlay,
		riskEval, acctMgr, trk, execEngine, exitCoord, scaler, adoption, store, bus, csvMirror,
	)

	apiCfg := api.DefaultConfig()
	apiCfg.ListenAddr = cfg.API.ListenAddr
	if len(cfg.API.CORSAllowedOrigins) > 0 {
		apiCfg.CORSAllowedOrigins = cfg.API.CORSAllowedOrigins
	}
	apiServer := api.New(logger, apiCfg, supervisor, bus)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := supervisor.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("trading loop stopped with error", zap.Error(err))
		}
	}()

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("inspection api stopped with error", zap.Error(err))
		}
	}()

	logger.Info("engine started", zap.String("api", fmt.Sprintf("http://%s/api/v1", cfg.API.ListenAddr)), zap.Strings("symbols", loopCfg.Symbols))

	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	supervisor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("error during api shutdown", zap.Error(err))
	}

	logger.Info("engine stopped")
}

func splitSymbols(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"EURUSD"}
	}
	return out
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
