package indicators_test

import (
	"math"
	"testing"
	"time"

	"github.com/atlas-desktop/autopilot-engine/internal/indicators"
	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func risingBars(n int) []types.Bar {
	bars := make([]types.Bar, n)
	price := 100.0
	now := time.Now()
	for i := 0; i < n; i++ {
		price += 0.3
		bars[i] = types.Bar{
			Symbol: "EURUSD", TF: types.TF1Hour, OpenTime: now.Add(time.Duration(i) * time.Hour),
			Open: decimal.NewFromFloat(price - 0.3), High: decimal.NewFromFloat(price + 0.1),
			Low: decimal.NewFromFloat(price - 0.4), Close: decimal.NewFromFloat(price),
			Volume: decimal.NewFromFloat(1000 + float64(i)),
		}
	}
	return bars
}

func TestComputeReturnsNaNForEveryRequestOnEmptyBars(t *testing.T) {
	eng := indicators.NewEngine(zap.NewNop())
	frame, err := eng.Compute("EURUSD", types.TF1Hour, nil, []indicators.Request{
		{ID: "rsi14", Kind: indicators.KindRSI, Period: 14},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !math.IsNaN(frame.Values["rsi14"]) {
		t.Errorf("expected NaN for an indicator computed with no bars, got %f", frame.Values["rsi14"])
	}
}

func TestComputeEMAProducesFiniteValueWithSufficientHistory(t *testing.T) {
	eng := indicators.NewEngine(zap.NewNop())
	bars := risingBars(40)
	frame, err := eng.Compute("EURUSD", types.TF1Hour, bars, []indicators.Request{
		{ID: "ema20", Kind: indicators.KindEMA, Period: 20},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := frame.Values["ema20"]
	if !ok || math.IsNaN(v) {
		t.Fatalf("expected a finite EMA value with 40 bars of history, got %v", v)
	}
}

func TestComputeMarksInsufficientHistoryAsNaN(t *testing.T) {
	eng := indicators.NewEngine(zap.NewNop())
	bars := risingBars(5)
	frame, err := eng.Compute("EURUSD", types.TF1Hour, bars, []indicators.Request{
		{ID: "rsi14", Kind: indicators.KindRSI, Period: 14},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !math.IsNaN(frame.Values["rsi14"]) {
		t.Errorf("expected NaN when bar count is below MinHistory, got %f", frame.Values["rsi14"])
	}
}

func TestComputeMACDPopulatesSubcomponents(t *testing.T) {
	eng := indicators.NewEngine(zap.NewNop())
	bars := risingBars(60)
	frame, err := eng.Compute("EURUSD", types.TF1Hour, bars, []indicators.Request{
		{ID: "macd", Kind: indicators.KindMACD, Period: 12, Period2: 26, Period3: 9},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := frame.Values["macd.macd"]; !ok {
		t.Error("expected macd.macd subcomponent to be populated")
	}
	if _, ok := frame.Values["macd.signal"]; !ok {
		t.Error("expected macd.signal subcomponent to be populated")
	}
}

func TestComputeDetectsFeedGap(t *testing.T) {
	eng := indicators.NewEngine(zap.NewNop())
	bars := risingBars(10)
	bars[len(bars)-1].OpenTime = bars[len(bars)-2].OpenTime.Add(10 * time.Hour)

	frame, err := eng.Compute("EURUSD", types.TF1Hour, bars, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !frame.FeedGap {
		t.Error("expected a large jump between the last two bars to be flagged as a feed gap")
	}
}

func TestRequestMinHistoryVariesByKind(t *testing.T) {
	rsi := indicators.Request{Kind: indicators.KindRSI, Period: 14}
	if rsi.MinHistory() != 15 {
		t.Errorf("expected RSI min history of period+1=15, got %d", rsi.MinHistory())
	}

	stoch := indicators.Request{Kind: indicators.KindStochastic, Period: 14, Period2: 3}
	if stoch.MinHistory() != 18 {
		t.Errorf("expected stochastic min history of period+period2+1=18, got %d", stoch.MinHistory())
	}
}
