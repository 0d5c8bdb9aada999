// Package persistence is the durable side of the engine: an append-only
// SQLite event log, a positions snapshot table, and recovery reads for
// the risk state and last account phase a freshly started process needs
// before its first cycle. Grounded on the reference's file-backed Store
// in internal/data/store.go — same mutex-guarded cache-plus-durable-backing
// shape and the same NewStore(logger, dir)-returns-ready-store
// constructor idiom — rebuilt on modernc.org/sqlite (named in the
// reference's domain dependency list) instead of the reference's
// JSON-file cache, since this spec's event log needs transactional
// appends rather than whole-file rewrites.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
	"go.uber.org/zap"
)

// Store is the append-only event log plus latest-state snapshot tables.
type Store struct {
	logger *zap.Logger
	db     *sql.DB
}

// Open creates/opens a SQLite database at path and ensures the schema
// exists.
func Open(logger *zap.Logger, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid lock contention
	s := &Store{logger: logger.Named("persistence"), db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			seq            INTEGER PRIMARY KEY AUTOINCREMENT,
			schema_version INTEGER NOT NULL,
			ts             TEXT NOT NULL,
			cycle_id       INTEGER NOT NULL,
			kind           TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			subject        TEXT NOT NULL,
			payload        TEXT
		);
		CREATE TABLE IF NOT EXISTS positions_snapshot (
			ticket        TEXT PRIMARY KEY,
			symbol        TEXT NOT NULL,
			side          TEXT NOT NULL,
			volume        TEXT NOT NULL,
			entry_price   TEXT NOT NULL,
			current_price TEXT NOT NULL,
			sl            TEXT NOT NULL,
			tp            TEXT NOT NULL,
			open_time     TEXT NOT NULL,
			client_tag    TEXT NOT NULL,
			source        TEXT NOT NULL,
			pnl           TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS risk_state (
			id                   INTEGER PRIMARY KEY CHECK (id = 1),
			drawdown_state       TEXT NOT NULL,
			peak_equity          TEXT NOT NULL,
			current_dd_pct       TEXT NOT NULL,
			consecutive_wins     INTEGER NOT NULL,
			consecutive_losses  INTEGER NOT NULL,
			trades_last_hour    INTEGER NOT NULL,
			last_trade_time     TEXT NOT NULL,
			survival_mode_active INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS account_phase (
			id    INTEGER PRIMARY KEY CHECK (id = 1),
			phase TEXT NOT NULL
		);
	`)
	return err
}

// Append persists one event record. Satisfies events.Sink.
func (s *Store) Append(event types.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO events (schema_version, ts, cycle_id, kind, correlation_id, subject, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.SchemaVersion, event.TS.Format(time.RFC3339Nano), event.CycleID,
		string(event.Kind), event.CorrelationID.String(), event.Subject, string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// SnapshotPositions overwrites the positions_snapshot table with the
// tracker's current view, called at the end of every cycle.
func (s *Store) SnapshotPositions(ctx context.Context, positions []types.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions_snapshot`); err != nil {
		return fmt.Errorf("clear positions snapshot: %w", err)
	}
	for _, p := range positions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO positions_snapshot
			 (ticket, symbol, side, volume, entry_price, current_price, sl, tp, open_time, client_tag, source, pnl)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Ticket, p.Symbol, string(p.Side), p.Volume.String(), p.EntryPrice.String(), p.CurrentPrice.String(),
			p.SL.String(), p.TP.String(), p.OpenTime.Format(time.RFC3339Nano), p.ClientTag.String(), string(p.Source), p.PnL.String(),
		)
		if err != nil {
			return fmt.Errorf("insert position snapshot: %w", err)
		}
	}
	return tx.Commit()
}

// SaveRiskState persists the current risk bookkeeping, overwriting the
// single-row table.
func (s *Store) SaveRiskState(ctx context.Context, rs types.RiskState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_state (id, drawdown_state, peak_equity, current_dd_pct, consecutive_wins, consecutive_losses, trades_last_hour, last_trade_time, survival_mode_active)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			drawdown_state=excluded.drawdown_state, peak_equity=excluded.peak_equity, current_dd_pct=excluded.current_dd_pct,
			consecutive_wins=excluded.consecutive_wins, consecutive_losses=excluded.consecutive_losses,
			trades_last_hour=excluded.trades_last_hour, last_trade_time=excluded.last_trade_time,
			survival_mode_active=excluded.survival_mode_active
	`, string(rs.DrawdownState), rs.PeakEquity.String(), rs.CurrentDDPct.String(), rs.ConsecutiveWins,
		rs.ConsecutiveLosses, rs.TradesLastHour, rs.LastTradeTime.Format(time.RFC3339Nano), boolToInt(rs.SurvivalModeActive))
	return err
}

// LoadRiskState reads the last persisted risk state, for recovery after a
// restart. Returns the zero value and false if nothing was ever saved.
func (s *Store) LoadRiskState(ctx context.Context) (types.RiskState, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT drawdown_state, peak_equity, current_dd_pct, consecutive_wins, consecutive_losses, trades_last_hour, last_trade_time, survival_mode_active FROM risk_state WHERE id = 1`)
	var (
		drawdownState, peakEquity, currentDD, lastTrade string
		wins, losses, tradesLastHour, survival          int
	)
	if err := row.Scan(&drawdownState, &peakEquity, &currentDD, &wins, &losses, &tradesLastHour, &lastTrade, &survival); err != nil {
		if err == sql.ErrNoRows {
			return types.RiskState{}, false, nil
		}
		return types.RiskState{}, false, fmt.Errorf("load risk state: %w", err)
	}
	peak, _ := decimal.NewFromString(peakEquity)
	dd, _ := decimal.NewFromString(currentDD)
	lastTradeTime, _ := time.Parse(time.RFC3339Nano, lastTrade)
	return types.RiskState{
		DrawdownState: types.DrawdownState(drawdownState), PeakEquity: peak, CurrentDDPct: dd,
		ConsecutiveWins: wins, ConsecutiveLosses: losses, TradesLastHour: tradesLastHour,
		LastTradeTime: lastTradeTime, SurvivalModeActive: survival != 0,
	}, true, nil
}

// SavePhase persists the current account phase.
func (s *Store) SavePhase(ctx context.Context, phase types.Phase) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_phase (id, phase) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET phase=excluded.phase
	`, string(phase))
	return err
}

// LoadLastPhase reads the last persisted account phase.
func (s *Store) LoadLastPhase(ctx context.Context) (types.Phase, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT phase FROM account_phase WHERE id = 1`)
	var phase string
	if err := row.Scan(&phase); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("load last phase: %w", err)
	}
	return types.Phase(phase), true, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
