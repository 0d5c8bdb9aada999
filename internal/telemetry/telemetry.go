// Package telemetry registers the counters, histograms, and gauges
// SPEC_FULL.md §8 names against a dedicated prometheus.Registry and
// additionally mirrors each cycle's summary to a rolling CSV file for
// operators without a scrape target. Grounded on the promauto.With(Registry)
// package-level-vars idiom in the pack's metrics/metrics.go, narrowed to
// this engine's own metric names and the cycle/signal/order vocabulary
// instead of multi-trader AI-agent metrics.
package telemetry

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is this engine's dedicated prometheus registry, exposed via
// the inspection API's /metrics handler.
var Registry = prometheus.NewRegistry()

var (
	SignalsGeneratedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{Namespace: "autopilot", Name: "signals_generated_total", Help: "Signals emitted by the selector"},
		[]string{"strategy"},
	)
	OrdersSubmittedTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{Namespace: "autopilot", Name: "orders_submitted_total", Help: "Orders submitted to the adapter"},
	)
	OrdersFilledTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{Namespace: "autopilot", Name: "orders_filled_total", Help: "Orders filled by the adapter"},
	)
	OrdersRejectedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{Namespace: "autopilot", Name: "orders_rejected_total", Help: "Orders rejected, by reason"},
		[]string{"reason"},
	)
	CycleDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "autopilot", Name: "cycle_duration_seconds", Help: "Trading loop cycle duration",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
	OrderLatency = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "autopilot", Name: "order_latency_seconds", Help: "Adapter OrderSend round-trip latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)
	SignalToFillDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "autopilot", Name: "signal_to_fill_seconds", Help: "Latency from signal generation to order fill",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)
	OpenPositions = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{Namespace: "autopilot", Name: "open_positions", Help: "Current open position count"},
	)
	Equity = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{Namespace: "autopilot", Name: "equity", Help: "Current account equity"},
	)
	CurrentDDPct = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{Namespace: "autopilot", Name: "current_dd_pct", Help: "Current drawdown percentage"},
	)
	AccountPhase = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "autopilot", Name: "account_phase", Help: "Active account phase (1 for the current phase label, 0 otherwise)"},
		[]string{"phase"},
	)
	DrawdownState = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "autopilot", Name: "drawdown_state", Help: "Active drawdown state (1 for the current state label, 0 otherwise)"},
		[]string{"state"},
	)
)

// Init registers the standard process/go collectors alongside the
// engine's own metrics.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}

// CycleSummary is one row of the CSV mirror.
type CycleSummary struct {
	Timestamp    time.Time
	CycleID      uint64
	Equity       float64
	DDPct        float64
	OpenPositons int
	Phase        string
	DrawdownStat string
}

// CSVMirror appends one summary row per cycle to a rolling CSV file, for
// operators running without a Prometheus scrape target.
type CSVMirror struct {
	mu   sync.Mutex
	path string
}

// NewCSVMirror opens (creating if absent) the mirror file at path,
// writing a header row if the file is new.
func NewCSVMirror(path string) (*CSVMirror, error) {
	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open csv mirror: %w", err)
	}
	defer f.Close()
	if os.IsNotExist(statErr) {
		w := csv.NewWriter(f)
		if err := w.Write([]string{"timestamp", "cycle_id", "equity", "dd_pct", "open_positions", "phase", "drawdown_state"}); err != nil {
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		w.Flush()
	}
	return &CSVMirror{path: path}, nil
}

// Append writes one cycle summary row.
func (m *CSVMirror) Append(s CycleSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := os.OpenFile(m.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open csv mirror for append: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	row := []string{
		s.Timestamp.Format(time.RFC3339), strconv.FormatUint(s.CycleID, 10),
		strconv.FormatFloat(s.Equity, 'f', -1, 64), strconv.FormatFloat(s.DDPct, 'f', -1, 64),
		strconv.Itoa(s.OpenPositons), s.Phase, s.DrawdownStat,
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	w.Flush()
	return w.Error()
}
