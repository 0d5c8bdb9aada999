// Package types holds the shared domain vocabulary of the trading engine:
// market data, signals, account and position state, and the event records
// the core emits. All monetary and price fields use decimal.Decimal; only
// indicator and scoring math uses float64.
package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UnknownSymbol is the sentinel the tracker must never let reach a
// price-dependent operation.
const UnknownSymbol = "UNKNOWN"

// Side is the direction of a signal or position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Timeframe is a bar aggregation period.
type Timeframe string

const (
	TF1Min  Timeframe = "M1"
	TF5Min  Timeframe = "M5"
	TF15Min Timeframe = "M15"
	TF1Hour Timeframe = "H1"
	TF4Hour Timeframe = "H4"
	TF1Day  Timeframe = "D1"
)

// OrderType is the broker order type requested by the execution engine.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// Symbol is immutable reference data about a tradable instrument, sourced
// from the adapter. No symbol code may equal UnknownSymbol anywhere a
// price-dependent operation consumes it.
type Symbol struct {
	Code     string          `json:"code"`
	PipSize  decimal.Decimal `json:"pipSize"`
	LotMin   decimal.Decimal `json:"lotMin"`
	LotStep  decimal.Decimal `json:"lotStep"`
	LotMax   decimal.Decimal `json:"lotMax"`
	QuoteCcy string          `json:"quoteCcy"`
	IsCrypto bool            `json:"isCrypto"`
}

// Bar is one OHLCV sample for a symbol and timeframe, ordered ascending by
// OpenTime per (Symbol, TF).
type Bar struct {
	Symbol   string          `json:"symbol"`
	TF       Timeframe       `json:"tf"`
	OpenTime time.Time       `json:"openTime"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

// TickQuote is a live bid/ask/last snapshot.
type TickQuote struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Last   decimal.Decimal `json:"last"`
	Time   time.Time       `json:"time"`
}

// Mid returns the midpoint of bid/ask.
func (t TickQuote) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// SpreadPoints returns the bid/ask spread expressed in the symbol's pips.
func (t TickQuote) SpreadPoints(pipSize decimal.Decimal) decimal.Decimal {
	if pipSize.IsZero() {
		return decimal.Zero
	}
	return t.Ask.Sub(t.Bid).Div(pipSize)
}

// IndicatorFrame is a keyed mapping from indicator id to scalar value,
// computed once per (symbol, tf, last bar open time). Every requested
// indicator id exists in the frame; NaN means insufficient history.
type IndicatorFrame struct {
	Symbol      string
	TF          Timeframe
	BarTime     time.Time
	FeedGap     bool
	Values      map[string]float64
	ValueVector map[string][]float64
}

// Get returns a scalar value and whether the key was ever requested.
func (f IndicatorFrame) Get(key string) (float64, bool) {
	v, ok := f.Values[key]
	return v, ok
}

// Regime is the market-state label assigned by the classifier. Ties between
// candidate regimes resolve by the fixed priority order documented on the
// classifier, not on this type.
type Regime string

const (
	RegimeTrendingUpStrong    Regime = "trending_up_strong"
	RegimeTrendingUpWeak      Regime = "trending_up_weak"
	RegimeTrendingDownStrong  Regime = "trending_down_strong"
	RegimeTrendingDownWeak    Regime = "trending_down_weak"
	RegimeRangingTight        Regime = "ranging_tight"
	RegimeRangingWide         Regime = "ranging_wide"
	RegimeVolatileBreakout    Regime = "volatile_breakout"
	RegimeVolatileConsolidate Regime = "volatile_consolidation"
	RegimeReversal            Regime = "reversal"
	RegimeUnknown             Regime = "unknown"
)

// Signal is a candidate trade emitted by a strategy. Exactly one of long or
// short; Confidence is always in [0,1] after cognition enhancement.
type Signal struct {
	ID            uuid.UUID       `json:"id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Confidence    float64         `json:"confidence"`
	StopHint      decimal.Decimal `json:"stopHint"`
	TargetHint    decimal.Decimal `json:"targetHint"`
	EntryHint     decimal.Decimal `json:"entryHint"`
	StrategyID    string          `json:"strategyId"`
	OriginBarTime time.Time       `json:"originBarTime"`
	Rationale     string          `json:"rationale"`
	Tags          []string        `json:"tags,omitempty"`
}

// RiskReward computes |target-entry| / |entry-stop|. Zero or negative stop
// distance is the caller's responsibility to reject.
func (s Signal) RiskReward() decimal.Decimal {
	stopDist := s.EntryHint.Sub(s.StopHint).Abs()
	if stopDist.IsZero() {
		return decimal.Zero
	}
	rewardDist := s.TargetHint.Sub(s.EntryHint).Abs()
	return rewardDist.Div(stopDist)
}

// EnhancedSignal is a Signal after the cognition overlay has run.
//
// Confidence shadows the embedded Signal.Confidence: the embedded field
// keeps the strategy's raw confidence so re-applying the overlay always
// starts from the same input, while Confidence carries the overlay's
// clamp(raw*confidenceMultiplier, 0, 1) result that downstream admission
// logic reads.
type EnhancedSignal struct {
	Signal
	Confidence           float64  `json:"confidence"`
	ConfidenceMultiplier float64  `json:"confidenceMultiplier"`
	SizeMultiplier       float64  `json:"sizeMultiplier"`
	Warnings             []string `json:"warnings,omitempty"`
	Blocked              bool     `json:"blocked"`
	BlockReason          string   `json:"blockReason,omitempty"`
}

// AccountSnapshot is produced by the adapter once per cycle.
type AccountSnapshot struct {
	Balance      decimal.Decimal `json:"balance"`
	Equity       decimal.Decimal `json:"equity"`
	MarginUsed   decimal.Decimal `json:"marginUsed"`
	MarginFree   decimal.Decimal `json:"marginFree"`
	MarginLevel  decimal.Decimal `json:"marginLevel"`
	Currency     string          `json:"currency"`
	TradeAllowed bool            `json:"tradeAllowed"`
	ServerTime   time.Time       `json:"serverTime"`
}

// Phase is the account-lifecycle classification driving risk limits.
type Phase string

const (
	PhaseMicro       Phase = "micro"
	PhaseSeed        Phase = "seed"
	PhaseGrowth      Phase = "growth"
	PhaseEstablished Phase = "established"
	PhaseMature      Phase = "mature"
	PhaseRecovery    Phase = "recovery"
)

// DrawdownState is the categorical severity derived from current drawdown.
type DrawdownState string

const (
	DrawdownNormal   DrawdownState = "normal"
	DrawdownCaution  DrawdownState = "caution"
	DrawdownWarning  DrawdownState = "warning"
	DrawdownDanger   DrawdownState = "danger"
	DrawdownCritical DrawdownState = "critical"
)

// RiskState is process-wide mutable risk bookkeeping, owned exclusively by
// the trading loop and never reset except by explicit operator action.
type RiskState struct {
	DrawdownState      DrawdownState   `json:"drawdownState"`
	PeakEquity         decimal.Decimal `json:"peakEquity"`
	CurrentDDPct       decimal.Decimal `json:"currentDdPct"`
	ConsecutiveWins    int             `json:"consecutiveWins"`
	ConsecutiveLosses  int             `json:"consecutiveLosses"`
	TradesLastHour     int             `json:"tradesLastHour"`
	LastTradeTime      time.Time       `json:"lastTradeTime"`
	SurvivalModeActive bool            `json:"survivalModeActive"`
}

// Clone returns a copy suitable for handing to readers outside the
// supervisor goroutine.
func (r RiskState) Clone() RiskState {
	return r
}

// OrderRequest is what the execution engine submits to the adapter.
// ClientTag is stable across retries to guarantee at-most-once delivery.
type OrderRequest struct {
	SignalID   uuid.UUID       `json:"signalId"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Volume     decimal.Decimal `json:"volume"`
	SL         decimal.Decimal `json:"sl"`
	TP         decimal.Decimal `json:"tp"`
	Type       OrderType       `json:"type"`
	ClientTag  uuid.UUID       `json:"clientTag"`
	StrategyID string          `json:"strategyId"`
}

// OrderOutcomeKind discriminates the result of an order submission.
type OrderOutcomeKind string

const (
	OutcomeFilled   OrderOutcomeKind = "filled"
	OutcomeRejected OrderOutcomeKind = "rejected"
	OutcomePending  OrderOutcomeKind = "pending"
)

// OrderOutcome is the tagged result of OrderSend.
type OrderOutcome struct {
	Kind         OrderOutcomeKind `json:"kind"`
	Ticket       string           `json:"ticket,omitempty"`
	FillPrice    decimal.Decimal  `json:"fillPrice,omitempty"`
	RejectCode   string           `json:"rejectCode,omitempty"`
	RejectReason string           `json:"rejectReason,omitempty"`
}

// PositionSource records how a position entered the tracker.
type PositionSource string

const (
	PositionSourceOwned   PositionSource = "owned"
	PositionSourceAdopted PositionSource = "adopted"
)

// Position is the tracker's view of a live broker position. Canonical
// Symbol always comes from the adapter; the tracker re-queries a position
// whose symbol is the UNKNOWN sentinel, and keeps the sentinel only when
// that re-query fails.
type Position struct {
	Ticket       string          `json:"ticket"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	Volume       decimal.Decimal `json:"volume"`
	EntryPrice   decimal.Decimal `json:"entryPrice"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	SL           decimal.Decimal `json:"sl"`
	TP           decimal.Decimal `json:"tp"`
	OpenTime     time.Time       `json:"openTime"`
	ClientTag    uuid.UUID       `json:"clientTag"`
	Source       PositionSource  `json:"source"`
	PnL          decimal.Decimal `json:"pnl"`
	MAE          decimal.Decimal `json:"mae"` // maximum adverse excursion
	MFE          decimal.Decimal `json:"mfe"` // maximum favorable excursion
}

// ProfitPct returns unrealized P&L as a fraction of the entry notional.
func (p Position) ProfitPct() decimal.Decimal {
	notional := p.EntryPrice.Mul(p.Volume)
	if notional.IsZero() {
		return decimal.Zero
	}
	return p.PnL.Div(notional)
}

// Age returns how long the position has been open relative to now.
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenTime)
}

// ExitKind discriminates the exit coordinator's decision.
type ExitKind string

const (
	ExitHold      ExitKind = "hold"
	ExitScaleOut  ExitKind = "scale_out"
	ExitClose     ExitKind = "close"
	ExitEmergency ExitKind = "emergency"
)

// ExitDecision is the coalesced output of the exit coordinator for one
// position in one cycle.
type ExitDecision struct {
	Kind            ExitKind `json:"kind"`
	Fraction        float64  `json:"fraction,omitempty"` // for ScaleOut, in (0,1)
	ReasonCode      string   `json:"reasonCode"`
	ConfluenceScore float64  `json:"confluenceScore"`
	OriginatingRule string   `json:"originatingRule"`
}

// EventKind enumerates the append-only event record kinds the core emits.
type EventKind string

const (
	EventSignalGenerated      EventKind = "signal_generated"
	EventSignalEnhanced       EventKind = "signal_enhanced"
	EventSignalBlocked        EventKind = "signal_blocked"
	EventOrderSubmitted       EventKind = "order_submitted"
	EventOrderFilled          EventKind = "order_filled"
	EventOrderRejected        EventKind = "order_rejected"
	EventPositionAdopted      EventKind = "position_adopted"
	EventPositionReconciled   EventKind = "position_reconciled"
	EventPositionClosed       EventKind = "position_closed"
	EventExitTriggered        EventKind = "exit_triggered"
	EventPhaseChanged         EventKind = "phase_changed"
	EventDrawdownStateChanged EventKind = "drawdown_state_changed"
	EventCycleAborted         EventKind = "cycle_aborted"
	EventDegradedModeEntered  EventKind = "degraded_mode_entered"
	EventDegradedModeExited   EventKind = "degraded_mode_exited"
	EventInvariantViolation   EventKind = "invariant_violation"
)

// Event is the append-only record persisted for every notable state
// transition. CorrelationID ties a signal through to its terminal order
// event.
type Event struct {
	SchemaVersion uint                   `json:"schemaVersion"`
	TS            time.Time              `json:"ts"`
	CycleID       uint64                 `json:"cycleId"`
	Kind          EventKind              `json:"kind"`
	CorrelationID uuid.UUID              `json:"correlationId"`
	Subject       string                 `json:"subject"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
}

// NewEvent builds an Event with the current schema version.
func NewEvent(cycleID uint64, kind EventKind, correlationID uuid.UUID, subject string, payload map[string]interface{}) Event {
	return Event{
		SchemaVersion: 1,
		TS:            time.Now().UTC(),
		CycleID:       cycleID,
		Kind:          kind,
		CorrelationID: correlationID,
		Subject:       subject,
		Payload:       payload,
	}
}
