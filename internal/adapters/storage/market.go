package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/alejandrodnm/oibacktest/internal/domain"
)

// SaveAnomalies hace upsert de anomalías por ID.
func (s *SQLiteStorage) SaveAnomalies(ctx context.Context, events []domain.AnomalyEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveAnomalies: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO anomalies
			(id, symbol, period, anomaly_time, percent_change, price_before, price_after,
			 severity, top_trader_ratio, taker_ratio, global_ratio, daily_high, daily_low)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			symbol           = excluded.symbol,
			period           = excluded.period,
			anomaly_time     = excluded.anomaly_time,
			percent_change   = excluded.percent_change,
			price_before     = excluded.price_before,
			price_after      = excluded.price_after,
			severity         = excluded.severity,
			top_trader_ratio = excluded.top_trader_ratio,
			taker_ratio      = excluded.taker_ratio,
			global_ratio     = excluded.global_ratio,
			daily_high       = excluded.daily_high,
			daily_low        = excluded.daily_low
	`)
	if err != nil {
		return fmt.Errorf("storage.SaveAnomalies: prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx,
			ev.ID,
			ev.Symbol,
			ev.Period,
			toMillis(ev.AnomalyTime),
			ev.PercentChange,
			ev.PriceBefore,
			ev.PriceAfter,
			string(ev.Severity),
			nullFloat(ev.TopTraderLongShortRatio),
			nullFloat(ev.TakerBuySellRatio),
			nullFloat(ev.GlobalLongShortRatio),
			ev.DailyHigh,
			ev.DailyLow,
		); err != nil {
			return fmt.Errorf("storage.SaveAnomalies: upsert %d: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveAnomalies: commit: %w", err)
	}
	return nil
}

// ListAnomalies devuelve las anomalías en [from, to] ordenadas por tiempo.
// Un extremo cero deja ese lado del rango abierto.
func (s *SQLiteStorage) ListAnomalies(ctx context.Context, from, to time.Time) ([]domain.AnomalyEvent, error) {
	lo, hi := rangeMillis(from, to)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, period, anomaly_time, percent_change, price_before, price_after,
		       severity, top_trader_ratio, taker_ratio, global_ratio, daily_high, daily_low
		FROM anomalies
		WHERE anomaly_time BETWEEN ? AND ?
		ORDER BY anomaly_time ASC, id ASC
	`, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("storage.ListAnomalies: query: %w", err)
	}
	defer rows.Close()

	var events []domain.AnomalyEvent
	for rows.Next() {
		var (
			ev                  domain.AnomalyEvent
			at                  int64
			severity            string
			top, taker, globalR sql.NullFloat64
		)
		if err := rows.Scan(
			&ev.ID,
			&ev.Symbol,
			&ev.Period,
			&at,
			&ev.PercentChange,
			&ev.PriceBefore,
			&ev.PriceAfter,
			&severity,
			&top,
			&taker,
			&globalR,
			&ev.DailyHigh,
			&ev.DailyLow,
		); err != nil {
			return nil, fmt.Errorf("storage.ListAnomalies: scan row: %w", err)
		}
		ev.AnomalyTime = fromMillis(at)
		ev.Severity = domain.Severity(strings.ToLower(severity))
		ev.TopTraderLongShortRatio = floatPtr(top)
		ev.TakerBuySellRatio = floatPtr(taker)
		ev.GlobalLongShortRatio = floatPtr(globalR)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SavePrices hace upsert de puntos de precio por (symbol, timestamp).
func (s *SQLiteStorage) SavePrices(ctx context.Context, points []domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SavePrices: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_points (symbol, ts, price, open_interest)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol, ts) DO UPDATE SET
			price         = excluded.price,
			open_interest = excluded.open_interest
	`)
	if err != nil {
		return fmt.Errorf("storage.SavePrices: prepare: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, p.Symbol, toMillis(p.Timestamp), p.Price, p.OpenInterest); err != nil {
			return fmt.Errorf("storage.SavePrices: upsert %s@%d: %w", p.Symbol, toMillis(p.Timestamp), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SavePrices: commit: %w", err)
	}
	return nil
}

// PriceRange devuelve la serie de symbol en [from, to], ordenada ascendente.
func (s *SQLiteStorage) PriceRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.PricePoint, error) {
	lo, hi := rangeMillis(from, to)
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, price, open_interest
		FROM price_points
		WHERE symbol = ? AND ts BETWEEN ? AND ?
		ORDER BY ts ASC
	`, symbol, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("storage.PriceRange: query %s: %w", symbol, err)
	}
	defer rows.Close()

	var points []domain.PricePoint
	for rows.Next() {
		p := domain.PricePoint{Symbol: symbol}
		var ts int64
		if err := rows.Scan(&ts, &p.Price, &p.OpenInterest); err != nil {
			return nil, fmt.Errorf("storage.PriceRange: scan row: %w", err)
		}
		p.Timestamp = fromMillis(ts)
		points = append(points, p)
	}
	return points, rows.Err()
}

// Blacklist devuelve el conjunto de símbolos bloqueados.
func (s *SQLiteStorage) Blacklist(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol FROM symbol_blacklist`)
	if err != nil {
		return nil, fmt.Errorf("storage.Blacklist: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("storage.Blacklist: scan row: %w", err)
		}
		out[sym] = true
	}
	return out, rows.Err()
}

// AddToBlacklist bloquea symbol. Repetirlo solo actualiza el motivo.
func (s *SQLiteStorage) AddToBlacklist(ctx context.Context, symbol, reason string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("storage.AddToBlacklist: empty symbol")
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO symbol_blacklist (symbol, reason, added_at) VALUES (?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET reason = excluded.reason
	`, symbol, reason, toMillis(s.now())); err != nil {
		return fmt.Errorf("storage.AddToBlacklist: %s: %w", symbol, err)
	}
	return nil
}

// RemoveFromBlacklist desbloquea symbol.
func (s *SQLiteStorage) RemoveFromBlacklist(ctx context.Context, symbol string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM symbol_blacklist WHERE symbol = ?`,
		strings.ToUpper(strings.TrimSpace(symbol))); err != nil {
		return fmt.Errorf("storage.RemoveFromBlacklist: %s: %w", symbol, err)
	}
	return nil
}

// rangeMillis convierte un rango con extremos opcionales a milisegundos.
func rangeMillis(from, to time.Time) (int64, int64) {
	lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
	if !from.IsZero() {
		lo = from.UTC().UnixMilli()
	}
	if !to.IsZero() {
		hi = to.UTC().UnixMilli()
	}
	return lo, hi
}
