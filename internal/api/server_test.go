package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atlas-desktop/autopilot-engine/internal/account"
	"github.com/atlas-desktop/autopilot-engine/internal/api"
	"github.com/atlas-desktop/autopilot-engine/internal/cognition"
	"github.com/atlas-desktop/autopilot-engine/internal/events"
	"github.com/atlas-desktop/autopilot-engine/internal/execution"
	"github.com/atlas-desktop/autopilot-engine/internal/exits"
	"github.com/atlas-desktop/autopilot-engine/internal/indicators"
	"github.com/atlas-desktop/autopilot-engine/internal/lifecycle"
	"github.com/atlas-desktop/autopilot-engine/internal/loop"
	"github.com/atlas-desktop/autopilot-engine/internal/profitscaler"
	"github.com/atlas-desktop/autopilot-engine/internal/regime"
	"github.com/atlas-desktop/autopilot-engine/internal/risk"
	"github.com/atlas-desktop/autopilot-engine/internal/selector"
	"github.com/atlas-desktop/autopilot-engine/internal/strategy"
	"github.com/atlas-desktop/autopilot-engine/internal/tracker"
	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type noopAdapter struct{}

func (noopAdapter) AccountInfo(ctx context.Context) (types.AccountSnapshot, error) {
	return types.AccountSnapshot{Balance: decimal.NewFromInt(1000), Equity: decimal.NewFromInt(1000)}, nil
}
func (noopAdapter) SymbolInfo(ctx context.Context, code string) (types.Symbol, error) {
	return types.Symbol{Code: code}, nil
}
func (noopAdapter) CopyRates(ctx context.Context, code string, tf types.Timeframe, count int) ([]types.Bar, error) {
	return nil, nil
}
func (noopAdapter) Tick(ctx context.Context, code string) (types.TickQuote, error) {
	return types.TickQuote{}, nil
}
func (noopAdapter) Positions(ctx context.Context) ([]types.Position, error) { return nil, nil }
func (noopAdapter) PositionByTicket(ctx context.Context, ticket string) (types.Position, error) {
	return types.Position{}, nil
}
func (noopAdapter) OrderSend(ctx context.Context, req types.OrderRequest) (types.OrderOutcome, error) {
	return types.OrderOutcome{Kind: types.OutcomeFilled}, nil
}
func (noopAdapter) PositionClose(ctx context.Context, ticket string, volumeFraction decimal.Decimal) error {
	return nil
}
func (noopAdapter) PositionModify(ctx context.Context, ticket string, sl, tp *decimal.Decimal) error {
	return nil
}

func setupTestServer(t *testing.T) (*api.Server, *events.Bus, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()
	mkt := noopAdapter{}
	bus := events.New(logger, nil, 64)
	registry := strategy.NewRegistry(logger)

	sup := loop.New(
		logger, loop.DefaultConfig(), mkt,
		indicators.NewEngine(logger),
		regime.NewClassifier(logger, regime.DefaultConfig()),
		registry,
		selector.New(logger, registry, selector.DefaultConfig()),
		cognition.New(logger, types.DefaultCognitionConfig()),
		risk.New(logger, types.DefaultRiskEvaluatorConfig()),
		account.New(logger, account.DefaultConfig(), types.DefaultPhaseTable()),
		tracker.New(logger, mkt, bus),
		execution.New(logger, mkt, bus),
		exits.New(types.DefaultExitConfig()),
		profitscaler.New(types.DefaultProfitScalingConfig()),
		lifecycle.NewAdoptionFilter(types.AdoptionAcceptAll, ""),
		nil, bus, nil,
	)

	server := api.New(logger, api.DefaultConfig(), sup, bus)
	ts := httptest.NewServer(server.Router())
	return server, bus, ts
}

func TestHealthEndpoint(t *testing.T) {
	_, _, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["status"] != "healthy" {
		t.Errorf("expected status healthy, got %v", result["status"])
	}
}

func TestStateEndpointReflectsSupervisorSnapshot(t *testing.T) {
	_, _, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/state")
	if err != nil {
		t.Fatalf("state request failed: %v", err)
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, ok := result["cycleId"]; !ok {
		t.Error("expected a cycleId field in the state response")
	}
}

func TestPositionsEndpointReturnsEmptyBeforeAnyCycle(t *testing.T) {
	_, _, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/positions")
	if err != nil {
		t.Fatalf("positions request failed: %v", err)
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["count"].(float64) != 0 {
		t.Errorf("expected zero positions before any cycle has run, got %v", result["count"])
	}
}

func TestEventsEndpointReturnsRecentEvents(t *testing.T) {
	_, bus, ts := setupTestServer(t)
	defer ts.Close()

	bus.Publish(types.NewEvent(1, types.EventSignalGenerated, uuid.New(), "EURUSD", nil))

	resp, err := http.Get(ts.URL + "/api/v1/events?limit=10")
	if err != nil {
		t.Fatalf("events request failed: %v", err)
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	evs, ok := result["events"].([]interface{})
	if !ok || len(evs) == 0 {
		t.Fatal("expected at least one recent event in the response")
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	_, _, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestWebSocketStreamsPublishedEvents(t *testing.T) {
	_, bus, ts := setupTestServer(t)
	defer ts.Close()

	wsURL := "ws" + ts.URL[4:] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	// Give the subscription goroutines time to register before publishing.
	time.Sleep(50 * time.Millisecond)
	bus.Publish(types.NewEvent(1, types.EventSignalGenerated, uuid.New(), "EURUSD", map[string]interface{}{"k": "v"}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read streamed event: %v", err)
	}
	if _, ok := msg["event"]; !ok {
		t.Error("expected the streamed message to wrap an event field")
	}
}
