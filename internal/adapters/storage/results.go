package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/oibacktest/internal/domain"
	"github.com/alejandrodnm/oibacktest/internal/ports"
)

// SaveResult persiste un run completo en una sola transacción y devuelve su ID.
func (s *SQLiteStorage) SaveResult(ctx context.Context, name string, from, to time.Time, res *domain.Result) (string, error) {
	if res == nil {
		return "", fmt.Errorf("storage.SaveResult: nil result")
	}
	id := uuid.New().String()
	st := res.Statistics

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("storage.SaveResult: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO backtest_runs
			(id, name, created_at, range_from, range_to, total_trades, wins, losses,
			 win_rate, total_pnl, total_commission, avg_win, avg_loss, profit_factor,
			 max_drawdown, max_drawdown_pct, avg_holding_ms, win_streak, loss_streak,
			 initial_balance, final_balance, return_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, name, toMillis(s.now()), toMillis(from), toMillis(to),
		st.TotalTrades, st.Wins, st.Losses,
		st.WinRate, st.TotalPnL, st.TotalCommission, st.AvgWin, st.AvgLoss, st.ProfitFactor,
		st.MaxDrawdown, st.MaxDrawdownPct, st.AvgHoldingTime.Milliseconds(),
		st.LongestWinStreak, st.LongestLossStreak,
		st.InitialBalance, st.FinalBalance, st.ReturnPct,
	); err != nil {
		return "", fmt.Errorf("storage.SaveResult: insert run: %w", err)
	}

	if err := insertPositions(ctx, tx, id, res.Positions); err != nil {
		return "", err
	}
	if err := insertRejections(ctx, tx, id, res.Rejected); err != nil {
		return "", err
	}
	if err := insertEquity(ctx, tx, id, res.EquityCurve); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("storage.SaveResult: commit: %w", err)
	}
	return id, nil
}

// ListRuns devuelve los runs guardados, más recientes primero.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit int) ([]ports.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at, range_from, range_to, total_trades, wins, losses,
		       win_rate, total_pnl, total_commission, avg_win, avg_loss, profit_factor,
		       max_drawdown, max_drawdown_pct, avg_holding_ms, win_streak, loss_streak,
		       initial_balance, final_balance, return_pct
		FROM backtest_runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.ListRuns: query: %w", err)
	}
	defer rows.Close()

	var runs []ports.RunSummary
	for rows.Next() {
		var (
			r                   ports.RunSummary
			created, lo, hi, ms int64
		)
		st := &r.Statistics
		if err := rows.Scan(
			&r.ID, &r.Name, &created, &lo, &hi,
			&st.TotalTrades, &st.Wins, &st.Losses,
			&st.WinRate, &st.TotalPnL, &st.TotalCommission, &st.AvgWin, &st.AvgLoss, &st.ProfitFactor,
			&st.MaxDrawdown, &st.MaxDrawdownPct, &ms, &st.LongestWinStreak, &st.LongestLossStreak,
			&st.InitialBalance, &st.FinalBalance, &st.ReturnPct,
		); err != nil {
			return nil, fmt.Errorf("storage.ListRuns: scan row: %w", err)
		}
		r.CreatedAt = fromMillis(created)
		r.From = fromMillis(lo)
		r.To = fromMillis(hi)
		st.AvgHoldingTime = time.Duration(ms) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRunPositions devuelve las posiciones de un run en orden de apertura, con sus legs.
func (s *SQLiteStorage) GetRunPositions(ctx context.Context, runID string) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position_id, symbol, side, strength, confidence, entry_price, quantity,
		       leverage, notional, margin, stop_loss, take_profit, liquidation, exit_price,
		       realized_pnl, commission, status, close_reason, opened_at, closed_at, degraded
		FROM backtest_positions
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage.GetRunPositions: query: %w", err)
	}

	var positions []domain.Position
	index := make(map[string]int)
	for rows.Next() {
		var (
			p                      domain.Position
			side, strength, status string
			reason                 string
			openedAt               int64
			closedAt               sql.NullInt64
			degraded               int
		)
		if err := rows.Scan(
			&p.ID, &p.Symbol, &side, &strength, &p.Confidence, &p.EntryPrice, &p.InitialQuantity,
			&p.Leverage, &p.Notional, &p.Margin, &p.StopLossPrice, &p.TakeProfitPrice,
			&p.LiquidationPrice, &p.ExitPrice, &p.RealizedPnL, &p.Commission,
			&status, &reason, &openedAt, &closedAt, &degraded,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage.GetRunPositions: scan row: %w", err)
		}
		p.Side = domain.Direction(side)
		p.Strength = domain.Strength(strength)
		p.Status = domain.PositionStatus(status)
		p.CloseReason = domain.CloseReason(reason)
		p.OpenedAt = fromMillis(openedAt)
		if closedAt.Valid {
			p.ClosedAt = fromMillis(closedAt.Int64)
		}
		p.Degraded = degraded == 1
		index[p.ID] = len(positions)
		positions = append(positions, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.GetRunPositions: rows: %w", err)
	}

	// Con una sola conexión, las legs se leen después de cerrar el cursor anterior.
	legRows, err := s.db.QueryContext(ctx, `
		SELECT position_id, reason, quantity, price, pnl, commission, at
		FROM backtest_legs
		WHERE run_id = ?
		ORDER BY position_id, seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage.GetRunPositions: query legs: %w", err)
	}
	defer legRows.Close()

	for legRows.Next() {
		var (
			pid, reason string
			leg         domain.ExitLeg
			at          int64
		)
		if err := legRows.Scan(&pid, &reason, &leg.Quantity, &leg.Price, &leg.PnL, &leg.Commission, &at); err != nil {
			return nil, fmt.Errorf("storage.GetRunPositions: scan leg: %w", err)
		}
		leg.Reason = domain.CloseReason(reason)
		leg.At = fromMillis(at)
		if i, ok := index[pid]; ok {
			positions[i].Legs = append(positions[i].Legs, leg)
		}
	}
	return positions, legRows.Err()
}

// --- helpers internos ---

func insertPositions(ctx context.Context, tx *sql.Tx, runID string, positions []domain.Position) error {
	if len(positions) == 0 {
		return nil
	}
	posStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_positions
			(run_id, position_id, seq, symbol, side, strength, confidence, entry_price,
			 quantity, leverage, notional, margin, stop_loss, take_profit, liquidation,
			 exit_price, realized_pnl, commission, status, close_reason, opened_at,
			 closed_at, degraded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage.SaveResult: prepare positions: %w", err)
	}
	defer posStmt.Close()

	legStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_legs
			(run_id, position_id, seq, reason, quantity, price, pnl, commission, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage.SaveResult: prepare legs: %w", err)
	}
	defer legStmt.Close()

	for i, p := range positions {
		var closedAt sql.NullInt64
		if !p.ClosedAt.IsZero() {
			closedAt = sql.NullInt64{Int64: toMillis(p.ClosedAt), Valid: true}
		}
		if _, err := posStmt.ExecContext(ctx,
			runID, p.ID, i, p.Symbol, string(p.Side), string(p.Strength), p.Confidence,
			p.EntryPrice, p.InitialQuantity, p.Leverage, p.Notional, p.Margin,
			p.StopLossPrice, p.TakeProfitPrice, p.LiquidationPrice, p.ExitPrice,
			p.RealizedPnL, p.Commission, string(p.Status), string(p.CloseReason),
			toMillis(p.OpenedAt), closedAt, boolInt(p.Degraded),
		); err != nil {
			return fmt.Errorf("storage.SaveResult: insert position %s: %w", p.ID, err)
		}
		for j, leg := range p.Legs {
			if _, err := legStmt.ExecContext(ctx,
				runID, p.ID, j, string(leg.Reason), leg.Quantity, leg.Price,
				leg.PnL, leg.Commission, toMillis(leg.At),
			); err != nil {
				return fmt.Errorf("storage.SaveResult: insert leg %s/%d: %w", p.ID, j, err)
			}
		}
	}
	return nil
}

func insertRejections(ctx context.Context, tx *sql.Tx, runID string, rejected []domain.RejectedSignal) error {
	if len(rejected) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_rejections
			(run_id, symbol, anomaly_id, anomaly_time, direction, stage, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage.SaveResult: prepare rejections: %w", err)
	}
	defer stmt.Close()

	for _, r := range rejected {
		if _, err := stmt.ExecContext(ctx,
			runID, r.Symbol, r.AnomalyID, toMillis(r.AnomalyTime),
			string(r.Direction), string(r.Stage), r.Reason,
		); err != nil {
			return fmt.Errorf("storage.SaveResult: insert rejection %d: %w", r.AnomalyID, err)
		}
	}
	return nil
}

func insertEquity(ctx context.Context, tx *sql.Tx, runID string, curve []domain.EquityCurvePoint) error {
	if len(curve) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_equity (run_id, seq, ts, equity, drawdown_pct)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage.SaveResult: prepare equity: %w", err)
	}
	defer stmt.Close()

	for i, pt := range curve {
		if _, err := stmt.ExecContext(ctx, runID, i, toMillis(pt.Timestamp), pt.Equity, pt.DrawdownPct); err != nil {
			return fmt.Errorf("storage.SaveResult: insert equity %d: %w", i, err)
		}
	}
	return nil
}
