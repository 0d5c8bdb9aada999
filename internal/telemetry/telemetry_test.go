package telemetry_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/atlas-desktop/autopilot-engine/internal/telemetry"
)

func TestNewCSVMirrorWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cycles.csv")
	m, err := telemetry.NewCSVMirror(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Append(telemetry.CycleSummary{Timestamp: time.Now(), CycleID: 1, Equity: 1000, DDPct: 0.02, OpenPositons: 2, Phase: "micro", DrawdownStat: "normal"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read csv file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected a header row plus one data row, got %d lines: %q", len(lines), string(data))
	}
	if !strings.HasPrefix(lines[0], "timestamp,cycle_id") {
		t.Errorf("expected the csv header row first, got %q", lines[0])
	}
}

func TestCSVMirrorReopenDoesNotDuplicateHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cycles.csv")
	m1, err := telemetry.NewCSVMirror(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m1.Append(telemetry.CycleSummary{CycleID: 1, Phase: "micro"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	m2, err := telemetry.NewCSVMirror(path)
	if err != nil {
		t.Fatalf("unexpected error reopening an existing mirror: %v", err)
	}
	if err := m2.Append(telemetry.CycleSummary{CycleID: 2, Phase: "growth"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read csv file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected exactly one header and two data rows across both mirrors, got %d lines: %q", len(lines), string(data))
	}
}

func TestMetricsRegisterWithoutPanicking(t *testing.T) {
	telemetry.SignalsGeneratedTotal.WithLabelValues("ema_cross").Inc()
	telemetry.OrdersSubmittedTotal.Inc()
	telemetry.Equity.Set(1234.5)
	telemetry.AccountPhase.WithLabelValues("micro").Set(1)

	metrics, err := telemetry.Registry.Gather()
	if err != nil {
		t.Fatalf("unexpected error gathering metrics: %v", err)
	}
	if len(metrics) == 0 {
		t.Fatal("expected at least one registered metric family after recording values")
	}
}
