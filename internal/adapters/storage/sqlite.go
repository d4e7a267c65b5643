package storage

// sqlite.go — almacenamiento local de datos históricos y resultados.
//
// Estrategia:
//   - `anomalies` y `price_points`: datos de entrada, solo se leen durante un run.
//   - `symbol_blacklist`: símbolos que nunca se operan.
//   - `backtest_*`: un run completo por fila en `backtest_runs`, con sus
//     posiciones, legs, rechazos y curva de equity en tablas hijas.
//   - Timestamps como INTEGER en milisegundos UTC: comparaciones de rango
//     directas y sin ambigüedad de formato.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS anomalies (
    id               INTEGER PRIMARY KEY,
    symbol           TEXT    NOT NULL,
    period           TEXT    NOT NULL DEFAULT '',
    anomaly_time     INTEGER NOT NULL,
    percent_change   REAL    NOT NULL,
    price_before     REAL    NOT NULL,
    price_after      REAL    NOT NULL,
    severity         TEXT    NOT NULL DEFAULT 'low',
    top_trader_ratio REAL,
    taker_ratio      REAL,
    global_ratio     REAL,
    daily_high       REAL    NOT NULL DEFAULT 0,
    daily_low        REAL    NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS price_points (
    symbol        TEXT    NOT NULL,
    ts            INTEGER NOT NULL,
    price         REAL    NOT NULL,
    open_interest REAL    NOT NULL DEFAULT 0,
    PRIMARY KEY (symbol, ts)
);

CREATE TABLE IF NOT EXISTS symbol_blacklist (
    symbol   TEXT PRIMARY KEY,
    reason   TEXT    NOT NULL DEFAULT '',
    added_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_runs (
    id               TEXT PRIMARY KEY,
    name             TEXT    NOT NULL,
    created_at       INTEGER NOT NULL,
    range_from       INTEGER NOT NULL,
    range_to         INTEGER NOT NULL,
    total_trades     INTEGER NOT NULL DEFAULT 0,
    wins             INTEGER NOT NULL DEFAULT 0,
    losses           INTEGER NOT NULL DEFAULT 0,
    win_rate         REAL    NOT NULL DEFAULT 0,
    total_pnl        REAL    NOT NULL DEFAULT 0,
    total_commission REAL    NOT NULL DEFAULT 0,
    avg_win          REAL    NOT NULL DEFAULT 0,
    avg_loss         REAL    NOT NULL DEFAULT 0,
    profit_factor    REAL    NOT NULL DEFAULT 0,
    max_drawdown     REAL    NOT NULL DEFAULT 0,
    max_drawdown_pct REAL    NOT NULL DEFAULT 0,
    avg_holding_ms   INTEGER NOT NULL DEFAULT 0,
    win_streak       INTEGER NOT NULL DEFAULT 0,
    loss_streak      INTEGER NOT NULL DEFAULT 0,
    initial_balance  REAL    NOT NULL DEFAULT 0,
    final_balance    REAL    NOT NULL DEFAULT 0,
    return_pct       REAL    NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS backtest_positions (
    run_id       TEXT    NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
    position_id  TEXT    NOT NULL,
    seq          INTEGER NOT NULL,
    symbol       TEXT    NOT NULL,
    side         TEXT    NOT NULL,
    strength     TEXT    NOT NULL,
    confidence   REAL    NOT NULL,
    entry_price  REAL    NOT NULL,
    quantity     REAL    NOT NULL,
    leverage     INTEGER NOT NULL,
    notional     REAL    NOT NULL,
    margin       REAL    NOT NULL,
    stop_loss    REAL    NOT NULL,
    take_profit  REAL    NOT NULL,
    liquidation  REAL    NOT NULL,
    exit_price   REAL    NOT NULL,
    realized_pnl REAL    NOT NULL,
    commission   REAL    NOT NULL,
    status       TEXT    NOT NULL,
    close_reason TEXT    NOT NULL DEFAULT '',
    opened_at    INTEGER NOT NULL,
    closed_at    INTEGER,
    degraded     INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, position_id)
);

CREATE TABLE IF NOT EXISTS backtest_legs (
    run_id      TEXT    NOT NULL,
    position_id TEXT    NOT NULL,
    seq         INTEGER NOT NULL,
    reason      TEXT    NOT NULL,
    quantity    REAL    NOT NULL,
    price       REAL    NOT NULL,
    pnl         REAL    NOT NULL,
    commission  REAL    NOT NULL,
    at          INTEGER NOT NULL,
    PRIMARY KEY (run_id, position_id, seq)
);

CREATE TABLE IF NOT EXISTS backtest_rejections (
    run_id       TEXT    NOT NULL,
    symbol       TEXT    NOT NULL,
    anomaly_id   INTEGER NOT NULL,
    anomaly_time INTEGER NOT NULL,
    direction    TEXT    NOT NULL DEFAULT '',
    stage        TEXT    NOT NULL,
    reason       TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_equity (
    run_id       TEXT    NOT NULL,
    seq          INTEGER NOT NULL,
    ts           INTEGER NOT NULL,
    equity       REAL    NOT NULL,
    drawdown_pct REAL    NOT NULL,
    PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_anomalies_time ON anomalies(anomaly_time);
CREATE INDEX IF NOT EXISTS idx_runs_created   ON backtest_runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_rejections_run ON backtest_rejections(run_id);
`

// SQLiteStorage implementa ports.AnomalySource, ports.PriceSource,
// ports.SymbolBlacklist y ports.ResultStorage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer; también mantiene viva una :memory:
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db, now: time.Now}, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
