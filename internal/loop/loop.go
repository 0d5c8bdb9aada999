// Package loop is the Trading Loop: the single supervisor goroutine that
// drives every cycle through the fixed order reconcile -> regime ->
// exits -> entries -> persist, and owns the only mutable process-wide
// state (the tracker and the risk state). Grounded on the reference's
// TradingOrchestrator Start/Stop/stopCh supervisor shape in
// internal/orchestrator/orchestrator.go, replacing its event-driven
// bar/signal/execution handler dispatch with the spec's strictly ordered
// synchronous cycle, and its hourly strategy-viability ticker with a
// robfig/cron-backed schedule that reacts to the active phase's poll
// interval.
package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/autopilot-engine/internal/account"
	"github.com/atlas-desktop/autopilot-engine/internal/adapter"
	"github.com/atlas-desktop/autopilot-engine/internal/cognition"
	"github.com/atlas-desktop/autopilot-engine/internal/events"
	"github.com/atlas-desktop/autopilot-engine/internal/execution"
	"github.com/atlas-desktop/autopilot-engine/internal/exits"
	"github.com/atlas-desktop/autopilot-engine/internal/indicators"
	"github.com/atlas-desktop/autopilot-engine/internal/lifecycle"
	"github.com/atlas-desktop/autopilot-engine/internal/persistence"
	"github.com/atlas-desktop/autopilot-engine/internal/profitscaler"
	"github.com/atlas-desktop/autopilot-engine/internal/regime"
	"github.com/atlas-desktop/autopilot-engine/internal/risk"
	"github.com/atlas-desktop/autopilot-engine/internal/selector"
	"github.com/atlas-desktop/autopilot-engine/internal/strategy"
	"github.com/atlas-desktop/autopilot-engine/internal/telemetry"
	"github.com/atlas-desktop/autopilot-engine/internal/tracker"
	"github.com/atlas-desktop/autopilot-engine/internal/workers"
	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config parameterizes the supervisor's schedule and trading universe.
type Config struct {
	Symbols               []string
	Timeframe             types.Timeframe
	BarsLookback          int
	BackpressureMaxDoublings int // caps how many times poll_interval doubles before the operator must intervene
}

// DefaultConfig returns representative defaults.
func DefaultConfig() Config {
	return Config{
		Symbols:                  []string{"EURUSD"},
		Timeframe:                types.TF15Min,
		BarsLookback:             200,
		BackpressureMaxDoublings: 3,
	}
}

// Supervisor is the engine's single cycle driver. Every field below it
// reaches into is read or mutated only from the cycle goroutine except
// where the accessor explicitly copies under a lock.
type Supervisor struct {
	logger *zap.Logger
	cfg    Config

	mkt        adapter.MarketAdapter
	indEngine  *indicators.Engine
	classifier *regime.Classifier
	registry   *strategy.Registry
	sel        *selector.Selector
	cogOverlay *cognition.Overlay
	riskEval   *risk.Evaluator
	acctMgr    *account.Manager
	tracker    *tracker.Tracker
	execEngine *execution.Engine
	exitCoord  *exits.Coordinator
	scaler     *profitscaler.Scaler
	adoption   lifecycle.AdoptionFilter
	store      *persistence.Store
	bus        *events.Bus
	csvMirror  *telemetry.CSVMirror
	ioPool     *workers.Pool

	indicatorRequests []indicators.Request

	cronSched      *cron.Cron
	cronEntryID    cron.EntryID
	currentPollInt time.Duration
	doublings      int

	mu          sync.RWMutex
	cycleID     uint64
	riskState   types.RiskState
	phase       types.Phase
	prevFrames  map[string]types.IndicatorFrame // symbol -> last cycle's frame, for directional exit detectors
	priceHighWM map[string]decimal.Decimal       // ticket -> best price reached in the position's favor

	lastAccount         types.AccountSnapshot // last successfully fetched snapshot, for degraded-mode exit evaluation
	consecutiveFailures int
	degraded            bool

	running bool
	stopCh  chan struct{}
}

// degradedModeThreshold is the number of consecutive AccountInfo failures
// after which the supervisor enters degraded mode: entries stay suppressed
// (handled by the early return in runCycle) but exits keep dispatching off
// the tracker's cached positions instead of freezing until connectivity
// returns.
const degradedModeThreshold = 3

// New builds a supervisor from its already-constructed collaborators. The
// caller (the composition root) is responsible for wiring every
// collaborator's own dependencies first.
func New(
	logger *zap.Logger,
	cfg Config,
	mkt adapter.MarketAdapter,
	indEngine *indicators.Engine,
	classifier *regime.Classifier,
	registry *strategy.Registry,
	sel *selector.Selector,
	cogOverlay *cognition.Overlay,
	riskEval *risk.Evaluator,
	acctMgr *account.Manager,
	trk *tracker.Tracker,
	execEngine *execution.Engine,
	exitCoord *exits.Coordinator,
	scaler *profitscaler.Scaler,
	adoption lifecycle.AdoptionFilter,
	store *persistence.Store,
	bus *events.Bus,
	csvMirror *telemetry.CSVMirror,
) *Supervisor {
	s := &Supervisor{
		logger:      logger.Named("loop"),
		cfg:         cfg,
		mkt:         mkt,
		indEngine:   indEngine,
		classifier:  classifier,
		registry:    registry,
		sel:         sel,
		cogOverlay:  cogOverlay,
		riskEval:    riskEval,
		acctMgr:     acctMgr,
		tracker:     trk,
		execEngine:  execEngine,
		exitCoord:   exitCoord,
		scaler:      scaler,
		adoption:    adoption,
		store:       store,
		bus:         bus,
		csvMirror:   csvMirror,
		ioPool:      workers.NewPool(logger, workers.DefaultPoolConfig("loop-io")),
		prevFrames:  make(map[string]types.IndicatorFrame),
		priceHighWM: make(map[string]decimal.Decimal),
		stopCh:      make(chan struct{}),
	}
	s.indicatorRequests = s.buildIndicatorRequests()
	return s
}

// buildIndicatorRequests unions every registered strategy's required
// indicators with the fixed set the exit coordinator's confluence
// detectors and the regime classifier always need, deduplicated by ID.
func (s *Supervisor) buildIndicatorRequests() []indicators.Request {
	byID := make(map[string]indicators.Request)
	add := func(r indicators.Request) {
		if _, exists := byID[r.ID]; !exists {
			byID[r.ID] = r
		}
	}

	add(indicators.Request{ID: "ema_fast", Kind: indicators.KindEMA, Period: 12})
	add(indicators.Request{ID: "ema_slow", Kind: indicators.KindEMA, Period: 26})
	add(indicators.Request{ID: "rsi", Kind: indicators.KindRSI, Period: 14})
	add(indicators.Request{ID: "macd", Kind: indicators.KindMACD, Period: 12, Period2: 26, Period3: 9})
	add(indicators.Request{ID: "bb", Kind: indicators.KindBollinger, Period: 20, Period2: 20})
	add(indicators.Request{ID: "vol_ratio", Kind: indicators.KindVolumeStat, Period: 20})
	add(indicators.Request{ID: "adx", Kind: indicators.KindADX, Period: 14})

	for _, name := range s.registry.List() {
		strat, ok := s.registry.Create(name)
		if !ok {
			continue
		}
		for _, r := range strat.RequiredIndicators() {
			add(r)
		}
	}

	out := make([]indicators.Request, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	return out
}

// Start begins the cron-scheduled cycle loop and blocks until ctx is
// cancelled or Stop is called.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("trading loop already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.ioPool.Start()

	if err := s.recover(ctx); err != nil {
		s.logger.Warn("recovery from persisted state failed, starting cold", zap.Error(err))
	}

	s.cronSched = cron.New(cron.WithSeconds())
	s.currentPollInt = s.acctMgr.CurrentPhase().PollInterval
	if s.currentPollInt <= 0 {
		s.currentPollInt = 15 * time.Second
	}
	entryID, err := s.cronSched.AddFunc(everySpec(s.currentPollInt), func() { s.runCycleSafely(ctx) })
	if err != nil {
		s.running = false
		return fmt.Errorf("schedule cycle: %w", err)
	}
	s.cronEntryID = entryID
	s.cronSched.Start()

	s.logger.Info("trading loop started", zap.Duration("pollInterval", s.currentPollInt), zap.Strings("symbols", s.cfg.Symbols))

	select {
	case <-ctx.Done():
	case <-stopCh:
	}
	s.Stop()
	return ctx.Err()
}

// Stop halts the cron schedule. Safe to call multiple times.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	if s.cronSched != nil {
		stopCtx := s.cronSched.Stop()
		<-stopCtx.Done()
	}
	s.ioPool.Stop()
	s.logger.Info("trading loop stopped")
}

// everySpec renders a robfig/cron "@every" schedule string for d.
func everySpec(d time.Duration) string {
	return "@every " + d.String()
}

// Inspect returns a read-only snapshot of the supervisor's state, for the
// API's inspection surface. Never mutates anything the cycle goroutine
// owns.
type Inspect struct {
	CycleID      uint64
	Phase        types.Phase
	RiskState    types.RiskState
	Positions    []types.Position
	PollInterval time.Duration
}

// Snapshot copies out the current cycle ID, phase, risk state, and open
// positions under the read lock.
func (s *Supervisor) Snapshot() Inspect {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Inspect{
		CycleID:      s.cycleID,
		Phase:        s.phase,
		RiskState:    s.riskState,
		Positions:    s.tracker.Snapshot(),
		PollInterval: s.currentPollInt,
	}
}

// recover restores the risk state and last phase from the persistence
// store so a restarted process does not silently reset its drawdown
// bookkeeping.
func (s *Supervisor) recover(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	rs, ok, err := s.store.LoadRiskState(ctx)
	if err != nil {
		return err
	}
	if ok {
		s.mu.Lock()
		s.riskState = rs
		s.mu.Unlock()
	}
	phase, ok, err := s.store.LoadLastPhase(ctx)
	if err != nil {
		return err
	}
	if ok {
		s.mu.Lock()
		s.phase = phase
		s.mu.Unlock()
	}
	return nil
}

// runCycleSafely wraps runCycle so a single cycle's panic or error never
// kills the supervisor goroutine cron drives.
func (s *Supervisor) runCycleSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cycle panicked, continuing on next schedule", zap.Any("panic", r))
		}
	}()

	start := time.Now()
	if err := s.runCycle(ctx); err != nil {
		s.logger.Error("cycle failed", zap.Error(err))
	}
	elapsed := time.Since(start)
	telemetry.CycleDuration.Observe(elapsed.Seconds())
	s.adjustBackpressure(elapsed)
}

// adjustBackpressure doubles the poll interval if a cycle overruns it,
// and restores the configured interval once cycles catch back up.
func (s *Supervisor) adjustBackpressure(elapsed time.Duration) {
	s.mu.Lock()
	configured := s.acctMgr.CurrentPhase().PollInterval
	if configured <= 0 {
		configured = 15 * time.Second
	}
	overrun := elapsed > s.currentPollInt
	s.mu.Unlock()

	if overrun && s.doublings < s.cfg.BackpressureMaxDoublings {
		s.doublings++
		s.rescheduleCycle(s.currentPollInt * 2)
		s.logger.Warn("cycle overran poll interval, doubling", zap.Duration("elapsed", elapsed), zap.Duration("newInterval", s.currentPollInt))
		return
	}
	if !overrun && s.doublings > 0 {
		s.doublings = 0
		s.rescheduleCycle(configured)
		s.logger.Info("cycle caught up, restoring configured poll interval", zap.Duration("interval", configured))
	}
}

// rescheduleCycle removes and re-adds the cron entry at the new interval.
// robfig/cron entries are immutable once scheduled, so a phase or
// backpressure change requires swapping the entry.
func (s *Supervisor) rescheduleCycle(interval time.Duration) {
	if s.cronSched == nil {
		return
	}
	s.cronSched.Remove(s.cronEntryID)
	s.currentPollInt = interval
	id, err := s.cronSched.AddFunc(everySpec(interval), func() { s.runCycleSafely(context.Background()) })
	if err != nil {
		s.logger.Error("failed to reschedule cycle", zap.Error(err))
		return
	}
	s.cronEntryID = id
}

// runCycle executes the ten ordered steps. The account snapshot,
// reconciliation, adoption dispatch and the risk-state and phase update
// run once per cycle; bars, indicators/regime, exits and then entries run
// per configured symbol, so exits precede entries within each symbol's
// slice of the cycle. Persistence follows the last symbol.
func (s *Supervisor) runCycle(ctx context.Context) error {
	s.mu.Lock()
	s.cycleID++
	cycleID := s.cycleID
	s.mu.Unlock()

	account, err := withRetry(ctx, s, func(ctx context.Context) (types.AccountSnapshot, error) {
		return s.mkt.AccountInfo(ctx)
	})
	if err != nil {
		return s.handleAccountFailure(ctx, cycleID, err)
	}

	s.mu.Lock()
	s.lastAccount = account
	wasDegraded := s.degraded
	s.consecutiveFailures = 0
	s.degraded = false
	s.mu.Unlock()
	if wasDegraded {
		s.publishDegradedModeExited(cycleID)
	}

	telemetry.Equity.Set(account.Equity.InexactFloat64())

	if err := s.tracker.Reconcile(ctx, cycleID); err != nil {
		return s.handleAccountFailure(ctx, cycleID, err)
	}

	s.dispatchAdoption(cycleID)

	positions := s.tracker.Snapshot()
	telemetry.OpenPositions.Set(float64(len(positions)))
	recentWinRate := s.recentWinRate()

	s.updateRiskState(account)

	s.mu.RLock()
	riskStateView := s.riskState
	s.mu.RUnlock()
	phaseLimits := s.acctMgr.Evaluate(account, riskStateView, recentWinRate)
	s.mu.Lock()
	s.phase = phaseLimits.Phase
	s.mu.Unlock()
	telemetry.AccountPhase.Reset()
	telemetry.AccountPhase.WithLabelValues(string(phaseLimits.Phase)).Set(1)

	if phaseLimits.PollInterval > 0 && phaseLimits.PollInterval != s.currentPollInt && s.doublings == 0 {
		s.rescheduleCycle(phaseLimits.PollInterval)
	}

	for _, code := range s.cfg.Symbols {
		if err := s.runSymbol(ctx, cycleID, code, account, positions, phaseLimits, recentWinRate); err != nil {
			s.logger.Warn("symbol cycle step failed", zap.String("symbol", code), zap.Error(err))
		}
	}

	s.mu.RLock()
	finalRiskState := s.riskState
	s.mu.RUnlock()
	telemetry.CurrentDDPct.Set(finalRiskState.CurrentDDPct.InexactFloat64())
	telemetry.DrawdownState.Reset()
	telemetry.DrawdownState.WithLabelValues(string(finalRiskState.DrawdownState)).Set(1)

	s.persistAsync(ctx, cycleID, positions, phaseLimits, finalRiskState, account)
	return nil
}

// persistAsync submits the cycle's persistence-store writes and CSV
// telemetry mirror append as tasks on the bounded I/O pool, so a slow disk
// or sqlite write never delays the next scheduled cycle. Submission itself
// never blocks: a saturated queue just drops and logs this cycle's write,
// same as any other best-effort telemetry sink.
func (s *Supervisor) persistAsync(ctx context.Context, cycleID uint64, positions []types.Position, phaseLimits types.PhaseLimits, riskState types.RiskState, account types.AccountSnapshot) {
	if s.store != nil {
		if err := s.ioPool.SubmitFunc(func() error {
			if err := s.store.SnapshotPositions(ctx, positions); err != nil {
				return fmt.Errorf("persist positions snapshot: %w", err)
			}
			if err := s.store.SaveRiskState(ctx, riskState); err != nil {
				return fmt.Errorf("persist risk state: %w", err)
			}
			if err := s.store.SavePhase(ctx, phaseLimits.Phase); err != nil {
				return fmt.Errorf("persist phase: %w", err)
			}
			return nil
		}); err != nil {
			s.logger.Warn("persistence task not submitted", zap.Uint64("cycleId", cycleID), zap.Error(err))
		}
	}
	if s.csvMirror != nil {
		summary := telemetry.CycleSummary{
			Timestamp: time.Now(), CycleID: cycleID, Equity: account.Equity.InexactFloat64(),
			DDPct: riskState.CurrentDDPct.InexactFloat64(), OpenPositons: len(positions),
			Phase: string(phaseLimits.Phase), DrawdownStat: string(riskState.DrawdownState),
		}
		if err := s.ioPool.SubmitFunc(func() error { return s.csvMirror.Append(summary) }); err != nil {
			s.logger.Warn("csv mirror task not submitted", zap.Uint64("cycleId", cycleID), zap.Error(err))
		}
	}
}

// runSymbol runs steps 1-9 for one symbol: bars, indicators, regime,
// exits on that symbol's open positions, then one entry attempt.
func (s *Supervisor) runSymbol(
	ctx context.Context,
	cycleID uint64,
	code string,
	account types.AccountSnapshot,
	positions []types.Position,
	phaseLimits types.PhaseLimits,
	recentWinRate float64,
) error {
	sym, err := withRetry(ctx, s, func(ctx context.Context) (types.Symbol, error) {
		return s.mkt.SymbolInfo(ctx, code)
	})
	if err != nil {
		return fmt.Errorf("symbol info: %w", err)
	}
	bars, err := withRetry(ctx, s, func(ctx context.Context) ([]types.Bar, error) {
		return s.mkt.CopyRates(ctx, code, s.cfg.Timeframe, s.cfg.BarsLookback)
	})
	if err != nil {
		return fmt.Errorf("copy rates: %w", err)
	}
	tick, err := withRetry(ctx, s, func(ctx context.Context) (types.TickQuote, error) {
		return s.mkt.Tick(ctx, code)
	})
	if err != nil {
		return fmt.Errorf("tick: %w", err)
	}

	frame, err := s.indEngine.Compute(code, s.cfg.Timeframe, bars, s.indicatorRequests)
	if err != nil {
		return fmt.Errorf("compute indicators: %w", err)
	}

	s.mu.Lock()
	prevFrame, hadPrev := s.prevFrames[code]
	s.prevFrames[code] = frame
	s.mu.Unlock()

	classification := s.classifier.Classify(regimeFeatures(frame, bars))

	symbolPositions := make([]types.Position, 0, len(positions))
	for _, p := range positions {
		if p.Symbol == code {
			symbolPositions = append(symbolPositions, p)
		}
	}

	// Step 5: exits, strictly before any entry for this symbol.
	for _, pos := range symbolPositions {
		s.evaluateExit(ctx, cycleID, pos, sym, account, frame, prevFrame, hadPrev, tick)
	}

	// Step 6-9: one entry attempt per symbol per cycle.
	return s.evaluateEntry(ctx, cycleID, code, sym, account, tick, frame, bars, classification, phaseLimits, symbolPositions, recentWinRate)
}

func regimeFeatures(frame types.IndicatorFrame, bars []types.Bar) regime.Features {
	adx, _ := frame.Get("adx")
	fast, _ := frame.Get("ema_fast")
	slow, _ := frame.Get("ema_slow")
	bbUpper, _ := frame.Get("bb.upper")
	bbLower, _ := frame.Get("bb.lower")
	bbMiddle, _ := frame.Get("bb.middle")
	volRatio, _ := frame.Get("vol_ratio")
	rsi, _ := frame.Get("rsi")

	var slope, recentReturn, rangePos float64
	if slow != 0 {
		slope = (fast - slow) / slow
	}
	if bbMiddle != 0 {
		recentReturn = (bbMiddle - bbLower) / bbMiddle
	}
	if n := len(bars); n > 0 {
		high := bars[n-1].High.InexactFloat64()
		low := bars[n-1].Low.InexactFloat64()
		close := bars[n-1].Close.InexactFloat64()
		if high != low {
			rangePos = (close - low) / (high - low)
		}
		if n > 1 {
			prevClose := bars[n-2].Close.InexactFloat64()
			if prevClose != 0 {
				recentReturn = (close - prevClose) / prevClose
			}
		}
	}
	var bbWidthPct float64
	if bbMiddle != 0 {
		bbWidthPct = (bbUpper - bbLower) / bbMiddle
	}

	return regime.Features{
		ADX: adx, EMAFastSlope: slope, BBWidthPct: bbWidthPct, RangePos: rangePos,
		RecentReturn: recentReturn, VolumeRatio: volRatio, RSI: rsi,
	}
}

// dispatchAdoption runs the lifecycle adoption filter over every
// externally opened position the reconcile step just merged in, dropping
// any the configured policy rejects from further management. A dropped
// position stays open at the broker; this process simply stops tracking
// and trading around it.
func (s *Supervisor) dispatchAdoption(cycleID uint64) {
	for _, pos := range s.tracker.Snapshot() {
		if pos.Source != types.PositionSourceAdopted {
			continue
		}
		if s.adoption.Admit(pos) {
			continue
		}
		s.tracker.Remove(pos.Ticket)
		if s.bus != nil {
			s.bus.Publish(types.NewEvent(cycleID, types.EventPositionClosed, pos.ClientTag, pos.Symbol, map[string]interface{}{
				"ticket": pos.Ticket, "kind": string(lifecycle.CommandDisown),
			}))
		}
	}
}

// evaluateExit runs the exit coordinator for one open position and
// dispatches its decision through the lifecycle command mapping.
func (s *Supervisor) evaluateExit(
	ctx context.Context, cycleID uint64, pos types.Position, sym types.Symbol,
	account types.AccountSnapshot, frame types.IndicatorFrame, prevFrame types.IndicatorFrame, hadPrev bool,
	tick types.TickQuote,
) {
	s.mu.Lock()
	watermark, ok := s.priceHighWM[pos.Ticket]
	if !ok {
		watermark = pos.EntryPrice
	}
	if pos.Side == types.SideLong && pos.CurrentPrice.GreaterThan(watermark) {
		watermark = pos.CurrentPrice
	}
	if pos.Side == types.SideShort && pos.CurrentPrice.LessThan(watermark) {
		watermark = pos.CurrentPrice
	}
	s.priceHighWM[pos.Ticket] = watermark
	s.mu.Unlock()

	var prevPtr *types.IndicatorFrame
	if hadPrev {
		prevPtr = &prevFrame
	}

	exitCtx := exits.Context{
		Position: pos, Symbol: sym, Account: account,
		MarginLevel: account.MarginLevel, Frame: frame, PrevFrame: prevPtr, Now: time.Now(),
		Liquidity:     exits.LiquiditySignal{SpreadPoints: tick.SpreadPoints(sym.PipSize), DepthOK: true},
		MaxLossValue:  s.riskEval.MaxLossValue(account.Balance),
		PriceGoodSide: watermark,
	}
	decision, stopMove := s.exitCoord.Evaluate(exitCtx)

	if stopMove.Requested {
		newSL := stopMove.NewSL
		if err := s.mkt.PositionModify(ctx, pos.Ticket, &newSL, nil); err != nil {
			s.logger.Warn("breakeven stop move failed", zap.String("ticket", pos.Ticket), zap.Error(err))
		}
	}

	scalerDecision := s.scaler.Evaluate(pos, account.Balance)
	cmd := lifecycle.FromExitDecision(pos.Ticket, decision)
	if scalerDecision.ScaleOut && cmd.Kind == lifecycle.CommandNone {
		cmd = lifecycle.Command{Kind: lifecycle.CommandPartialClose, Ticket: pos.Ticket, Fraction: scalerDecision.ClosePct}
	}

	switch cmd.Kind {
	case lifecycle.CommandPartialClose:
		fraction := decimal.NewFromFloat(cmd.Fraction)
		if err := s.mkt.PositionClose(ctx, pos.Ticket, fraction); err != nil {
			s.logger.Warn("partial close failed", zap.String("ticket", pos.Ticket), zap.Error(err))
			return
		}
		s.publishExit(cycleID, pos, decision, "scale_out")
	case lifecycle.CommandFullClose:
		if err := s.mkt.PositionClose(ctx, pos.Ticket, decimal.NewFromInt(1)); err != nil {
			s.logger.Warn("full close failed", zap.String("ticket", pos.Ticket), zap.Error(err))
			return
		}
		s.scaler.Forget(pos.Ticket)
		s.mu.Lock()
		delete(s.priceHighWM, pos.Ticket)
		s.mu.Unlock()
		s.publishExit(cycleID, pos, decision, "close")
	}
}

func (s *Supervisor) publishExit(cycleID uint64, pos types.Position, decision types.ExitDecision, kind string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(types.NewEvent(cycleID, types.EventPositionClosed, pos.ClientTag, pos.Symbol, map[string]interface{}{
		"ticket": pos.Ticket, "kind": kind, "reasonCode": decision.ReasonCode, "rule": decision.OriginatingRule,
	}))
}

// evaluateEntry runs steps 6-9: strategy selection, cognition, risk
// admission, and submission.
func (s *Supervisor) evaluateEntry(
	ctx context.Context, cycleID uint64, code string, sym types.Symbol,
	account types.AccountSnapshot, tick types.TickQuote, frame types.IndicatorFrame, bars []types.Bar,
	classification regime.Classification, phaseLimits types.PhaseLimits, symbolPositions []types.Position, recentWinRate float64,
) error {
	signal, strategyID, err := s.sel.SelectAndEvaluate(classification.Regime, frame, bars)
	if err != nil {
		return fmt.Errorf("select strategy: %w", err)
	}
	if signal == nil {
		return nil
	}
	telemetry.SignalsGeneratedTotal.WithLabelValues(strategyID).Inc()

	enhanced := s.cogOverlay.Enhance(*signal, time.Now())
	if enhanced.Blocked {
		if s.bus != nil {
			s.bus.Publish(types.NewEvent(cycleID, types.EventSignalBlocked, signal.ID, code, map[string]interface{}{"reason": enhanced.BlockReason}))
		}
		return nil
	}

	s.mu.RLock()
	riskState := s.riskState
	s.mu.RUnlock()

	decision := s.riskEval.Evaluate(risk.Input{
		Signal: enhanced, Symbol: sym, Tick: tick, Account: account, Phase: phaseLimits,
		RiskState: riskState, OpenPerSymbol: len(symbolPositions), OpenGlobal: len(s.tracker.Snapshot()),
		StrategyTags: signal.Tags,
	}, time.Now())
	if !decision.Admitted {
		if s.bus != nil {
			s.bus.Publish(types.NewEvent(cycleID, types.EventSignalBlocked, signal.ID, code, map[string]interface{}{"reason": decision.Reason}))
		}
		return nil
	}

	req := types.OrderRequest{
		SignalID: signal.ID, Symbol: code, Side: signal.Side, Volume: decision.Volume,
		SL: signal.StopHint, TP: signal.TargetHint, Type: types.OrderTypeMarket,
		ClientTag: uuid.New(), StrategyID: strategyID,
	}
	outcome, err := s.execEngine.Submit(ctx, cycleID, signal.ID, req)
	telemetry.OrdersSubmittedTotal.Inc()
	if err != nil {
		telemetry.OrdersRejectedTotal.WithLabelValues("adapter_error").Inc()
		return fmt.Errorf("submit order: %w", err)
	}
	switch outcome.Kind {
	case types.OutcomeFilled:
		telemetry.OrdersFilledTotal.Inc()
		s.mu.Lock()
		s.riskState.LastTradeTime = time.Now()
		s.riskState.TradesLastHour++
		s.mu.Unlock()
	case types.OutcomeRejected:
		telemetry.OrdersRejectedTotal.WithLabelValues(outcome.RejectCode).Inc()
	}
	return nil
}

// updateRiskState recomputes the drawdown state and streak counters from
// the account snapshot taken at cycle start, the only place RiskState is
// mutated outside of order-fill bookkeeping.
func (s *Supervisor) updateRiskState(account types.AccountSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.riskState.PeakEquity.IsZero() || account.Equity.GreaterThan(s.riskState.PeakEquity) {
		s.riskState.PeakEquity = account.Equity
	}
	if s.riskState.PeakEquity.GreaterThan(decimal.Zero) {
		dd := s.riskState.PeakEquity.Sub(account.Equity).Div(s.riskState.PeakEquity)
		if dd.LessThan(decimal.Zero) {
			dd = decimal.Zero
		}
		s.riskState.CurrentDDPct = dd
	}

	thresholds := s.riskEval.Config().DrawdownThresholds
	switch {
	case s.riskState.CurrentDDPct.GreaterThanOrEqual(thresholds.Critical):
		s.riskState.DrawdownState = types.DrawdownCritical
		s.riskState.SurvivalModeActive = true
	case s.riskState.CurrentDDPct.GreaterThanOrEqual(thresholds.Danger):
		s.riskState.DrawdownState = types.DrawdownDanger
	case s.riskState.CurrentDDPct.GreaterThanOrEqual(thresholds.Warning):
		s.riskState.DrawdownState = types.DrawdownWarning
	case s.riskState.CurrentDDPct.GreaterThanOrEqual(thresholds.Caution):
		s.riskState.DrawdownState = types.DrawdownCaution
	default:
		s.riskState.DrawdownState = types.DrawdownNormal
		s.riskState.SurvivalModeActive = false
	}

	if !s.riskState.LastTradeTime.IsZero() && time.Since(s.riskState.LastTradeTime) > time.Hour {
		s.riskState.TradesLastHour = 0
	}
}

func (s *Supervisor) recentWinRate() float64 {
	// Placeholder until trade-outcome history is threaded through from the
	// selector's RecordOutcome bookkeeping; neutral input keeps the account
	// manager's momentum term from dominating before any trades close.
	return 0.5
}

// publishCycleAborted records a cycle_aborted event when a suspension
// point exhausts its retry budget. Entries are suppressed this cycle;
// handleAccountFailure still dispatches exits off the tracker's cached
// positions before returning.
func (s *Supervisor) publishCycleAborted(cycleID uint64, cause error) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(types.NewEvent(cycleID, types.EventCycleAborted, uuid.Nil, "", map[string]interface{}{"error": cause.Error()}))
}

// handleAccountFailure runs when a cycle-opening adapter call (AccountInfo
// or tracker reconciliation) exhausts its retry budget. It tracks
// consecutive failures, transitions into (and back out of) degraded mode
// after degradedModeThreshold consecutive misses, and always still
// evaluates exits against the tracker's last reconciled positions so
// stop-loss, take-profit, and time-based rules keep firing while the
// adapter is unreachable.
func (s *Supervisor) handleAccountFailure(ctx context.Context, cycleID uint64, cause error) error {
	s.mu.Lock()
	s.consecutiveFailures++
	enteringDegraded := s.consecutiveFailures >= degradedModeThreshold && !s.degraded
	if enteringDegraded {
		s.degraded = true
	}
	s.mu.Unlock()

	if enteringDegraded {
		s.publishDegradedModeEntered(cycleID, cause)
	}
	s.publishCycleAborted(cycleID, cause)
	s.runDegradedExits(ctx, cycleID)
	return fmt.Errorf("cycle-opening adapter call failed: %w", cause)
}

// runDegradedExits evaluates the exit coordinator against every cached
// position the tracker already knows about, using the last successfully
// fetched account snapshot and indicator frame in place of this cycle's
// (unreachable) live data. Directional detectors that need a genuine
// previous-vs-current frame pair stay disabled (hadPrev=false); price-based
// rules (stop-loss, take-profit, max-loss, time-based) still evaluate off
// the cached current price.
func (s *Supervisor) runDegradedExits(ctx context.Context, cycleID uint64) {
	s.mu.RLock()
	account := s.lastAccount
	s.mu.RUnlock()

	for _, pos := range s.tracker.Snapshot() {
		s.mu.RLock()
		frame := s.prevFrames[pos.Symbol]
		s.mu.RUnlock()

		tick := types.TickQuote{Symbol: pos.Symbol, Bid: pos.CurrentPrice, Ask: pos.CurrentPrice, Last: pos.CurrentPrice, Time: time.Now()}
		sym := types.Symbol{Code: pos.Symbol}
		s.evaluateExit(ctx, cycleID, pos, sym, account, frame, types.IndicatorFrame{}, false, tick)
	}
}

// publishDegradedModeEntered marks the transition into degraded mode.
func (s *Supervisor) publishDegradedModeEntered(cycleID uint64, cause error) {
	s.logger.Warn("entering degraded mode after repeated adapter failures", zap.Int("consecutiveFailures", s.consecutiveFailures), zap.Error(cause))
	if s.bus == nil {
		return
	}
	s.bus.Publish(types.NewEvent(cycleID, types.EventDegradedModeEntered, uuid.Nil, "", map[string]interface{}{
		"consecutiveFailures": s.consecutiveFailures, "cause": cause.Error(),
	}))
}

// publishDegradedModeExited marks recovery out of degraded mode on the
// first successful cycle after entering it.
func (s *Supervisor) publishDegradedModeExited(cycleID uint64) {
	s.logger.Info("recovered from degraded mode")
	if s.bus == nil {
		return
	}
	s.bus.Publish(types.NewEvent(cycleID, types.EventDegradedModeExited, uuid.Nil, "", nil))
}

// withRetry runs op against the per-operation timeout and retry budget
// from the risk evaluator's configuration, with exponential backoff
// between attempts, matching the reference's explicit per-call retry
// loops in internal/execution/executor.go.
func withRetry[T any](ctx context.Context, s *Supervisor, op func(context.Context) (T, error)) (T, error) {
	cfg := s.riskEval.Config()
	timeout := cfg.AdapterTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}

	var lastErr error
	var zero T
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(withRetryBackoff(attempt)):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := op(callCtx)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return zero, lastErr
}

func withRetryBackoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
}

