package adapter

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SimulatedConfig parameterizes the deterministic random walk and fill
// model.
type SimulatedConfig struct {
	Seed          int64
	StartingPrice map[string]float64
	Volatility    float64 // per-bar stddev as a fraction of price
	SlippagePct   decimal.Decimal
	StartBalance  decimal.Decimal
}

// DefaultSimulatedConfig returns representative defaults.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		Seed:          1,
		StartingPrice: map[string]float64{"EURUSD": 1.08, "BTCUSD": 60000, "XAUUSD": 2300},
		Volatility:    0.0015,
		SlippagePct:   decimal.NewFromFloat(0.0003),
		StartBalance:  decimal.NewFromInt(1000),
	}
}

// Simulated is an in-process MarketAdapter backed by a seeded random walk.
// Grounded on the reference's generateSampleData fallback and the
// ExchangeAdapter interface shape, reduced to exactly the operations the
// core's MarketAdapter interface names.
type Simulated struct {
	logger *zap.Logger
	config SimulatedConfig
	rng    *rand.Rand

	mu         sync.Mutex
	prices     map[string]float64
	bars       map[string][]types.Bar
	positions  map[string]types.Position
	balance    decimal.Decimal
	ticketSeq  int
	seenTags   map[string]string // client_tag -> ticket, for idempotent resubmission
}

// NewSimulated builds a simulated adapter.
func NewSimulated(logger *zap.Logger, cfg SimulatedConfig) *Simulated {
	return &Simulated{
		logger:    logger.Named("adapter.simulated"),
		config:    cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		prices:    make(map[string]float64),
		bars:      make(map[string][]types.Bar),
		positions: make(map[string]types.Position),
		balance:   cfg.StartBalance,
		seenTags:  make(map[string]string),
	}
}

func (s *Simulated) priceFor(code string) float64 {
	if p, ok := s.prices[code]; ok {
		return p
	}
	start, ok := s.config.StartingPrice[code]
	if !ok {
		start = 100.0
	}
	s.prices[code] = start
	return start
}

func (s *Simulated) AccountInfo(ctx context.Context) (types.AccountSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	equity := s.balance
	for _, p := range s.positions {
		equity = equity.Add(p.PnL)
	}
	return types.AccountSnapshot{
		Balance:      s.balance,
		Equity:       equity,
		MarginUsed:   decimal.Zero,
		MarginFree:   equity,
		MarginLevel:  decimal.NewFromInt(1000),
		Currency:     "USD",
		TradeAllowed: true,
		ServerTime:   time.Now(),
	}, nil
}

func (s *Simulated) SymbolInfo(ctx context.Context, code string) (types.Symbol, error) {
	isCrypto := code == "BTCUSD" || code == "ETHUSD"
	pip := decimal.NewFromFloat(0.0001)
	if isCrypto {
		pip = decimal.NewFromFloat(0.01)
	}
	return types.Symbol{
		Code: code, PipSize: pip,
		LotMin: decimal.NewFromFloat(0.01), LotStep: decimal.NewFromFloat(0.01), LotMax: decimal.NewFromFloat(100),
		QuoteCcy: "USD", IsCrypto: isCrypto,
	}, nil
}

func (s *Simulated) CopyRates(ctx context.Context, code string, tf types.Timeframe, count int) ([]types.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.bars[code]
	for len(existing) < count {
		price := s.priceFor(code)
		change := s.rng.NormFloat64() * s.config.Volatility * price
		open := price
		price += change
		s.prices[code] = price
		high := maxFloat(open, price) * (1 + s.rng.Float64()*s.config.Volatility*0.5)
		low := minFloat(open, price) * (1 - s.rng.Float64()*s.config.Volatility*0.5)
		volume := 1000 + s.rng.Float64()*5000
		openTime := time.Now()
		if len(existing) > 0 {
			openTime = existing[len(existing)-1].OpenTime.Add(barInterval(tf))
		}
		bar := types.Bar{
			Symbol: code, TF: tf, OpenTime: openTime,
			Open: decimal.NewFromFloat(open), High: decimal.NewFromFloat(high),
			Low: decimal.NewFromFloat(low), Close: decimal.NewFromFloat(price),
			Volume: decimal.NewFromFloat(volume),
		}
		existing = append(existing, bar)
	}
	if len(existing) > count {
		existing = existing[len(existing)-count:]
	}
	s.bars[code] = existing
	out := make([]types.Bar, len(existing))
	copy(out, existing)
	return out, nil
}

func (s *Simulated) Tick(ctx context.Context, code string) (types.TickQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mid := s.priceFor(code)
	spread := mid * 0.0002
	return types.TickQuote{
		Symbol: code,
		Bid:    decimal.NewFromFloat(mid - spread/2),
		Ask:    decimal.NewFromFloat(mid + spread/2),
		Last:   decimal.NewFromFloat(mid),
		Time:   time.Now(),
	}, nil
}

func (s *Simulated) Positions(ctx context.Context) ([]types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

func (s *Simulated) PositionByTicket(ctx context.Context, ticket string) (types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[ticket]
	if !ok {
		return types.Position{}, types.NewCoreError(types.ErrPermanentAdapter, "unknown ticket", nil)
	}
	return p, nil
}

func (s *Simulated) OrderSend(ctx context.Context, req types.OrderRequest) (types.OrderOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket, seen := s.seenTags[req.ClientTag.String()]; seen {
		pos := s.positions[ticket]
		return types.OrderOutcome{Kind: types.OutcomeFilled, Ticket: ticket, FillPrice: pos.EntryPrice}, nil
	}

	mid := decimal.NewFromFloat(s.priceFor(req.Symbol))
	slip := mid.Mul(s.config.SlippagePct)
	fillPrice := mid.Add(slip)
	if req.Side == types.SideShort {
		fillPrice = mid.Sub(slip)
	}

	s.ticketSeq++
	ticket := "SIM-" + ticketSuffix(s.ticketSeq)
	s.positions[ticket] = types.Position{
		Ticket: ticket, Symbol: req.Symbol, Side: req.Side, Volume: req.Volume,
		EntryPrice: fillPrice, CurrentPrice: fillPrice, SL: req.SL, TP: req.TP,
		OpenTime: time.Now(), ClientTag: req.ClientTag, Source: types.PositionSourceOwned,
	}
	s.seenTags[req.ClientTag.String()] = ticket
	return types.OrderOutcome{Kind: types.OutcomeFilled, Ticket: ticket, FillPrice: fillPrice}, nil
}

func (s *Simulated) PositionClose(ctx context.Context, ticket string, volumeFraction decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[ticket]
	if !ok {
		return types.NewCoreError(types.ErrPermanentAdapter, "unknown ticket", nil)
	}
	s.balance = s.balance.Add(pos.PnL.Mul(volumeFraction))
	if volumeFraction.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		delete(s.positions, ticket)
		return nil
	}
	pos.Volume = pos.Volume.Mul(decimal.NewFromInt(1).Sub(volumeFraction))
	s.positions[ticket] = pos
	return nil
}

func (s *Simulated) PositionModify(ctx context.Context, ticket string, sl, tp *decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[ticket]
	if !ok {
		return types.NewCoreError(types.ErrPermanentAdapter, "unknown ticket", nil)
	}
	if sl != nil {
		pos.SL = *sl
	}
	if tp != nil {
		pos.TP = *tp
	}
	s.positions[ticket] = pos
	return nil
}

func barInterval(tf types.Timeframe) time.Duration {
	switch tf {
	case types.TF1Min:
		return time.Minute
	case types.TF5Min:
		return 5 * time.Minute
	case types.TF15Min:
		return 15 * time.Minute
	case types.TF1Hour:
		return time.Hour
	case types.TF4Hour:
		return 4 * time.Hour
	case types.TF1Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func ticketSuffix(n int) string {
	const digits = "0123456789"
	if n == 0 {
		return "0"
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{digits[n%10]}, buf...)
		n /= 10
	}
	return string(buf)
}
