package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/oibacktest/internal/application/exits"
	"github.com/alejandrodnm/oibacktest/internal/domain"
)

// positionNamespace scopes the deterministic position IDs.
var positionNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("oibacktest/position"))

// simulate opens a position for sig and walks the price path until it is
// fully closed. The returned position is always CLOSED.
func (e *Engine) simulate(ctx context.Context, r *run, ev domain.AnomalyEvent, sig domain.Signal, d domain.RiskDecision) (domain.Position, error) {
	cfg := r.cfg
	side := sig.Direction
	openedAt := ev.AnomalyTime

	entry := domain.ApplySlippage(side, ev.PriceAfter, cfg.SlippagePct, true)
	qty := d.PositionSize / entry
	pos := domain.Position{
		ID:                positionID(ev),
		Symbol:            ev.Symbol,
		Side:              side,
		Strength:          sig.Strength,
		Confidence:        sig.Confidence,
		EntryPrice:        entry,
		InitialQuantity:   qty,
		RemainingQuantity: qty,
		Leverage:          d.Leverage,
		Notional:          d.PositionSize,
		Margin:            d.PositionSize / float64(d.Leverage),
		StopLossPrice:     r.gate.StopLossPrice(side, entry),
		TakeProfitPrice:   r.gate.TakeProfitPrice(side, entry),
		LiquidationPrice:  domain.LiquidationPrice(side, entry, d.Leverage),
		Status:            domain.PositionOpen,
		OpenedAt:          openedAt,
	}

	dynamic := cfg.TakeProfit.Enabled()
	var handle exits.Handle
	if dynamic {
		h, err := r.scheduler.StartTracking(pos.ID, pos.Symbol, side, entry, qty, cfg.TakeProfit)
		if err != nil {
			return pos, fmt.Errorf("start tracking %s: %w", pos.ID, err)
		}
		handle = h
		defer func() {
			if err := r.scheduler.StopTracking(handle); err != nil {
				slog.Warn("backtest: stop tracking", "position", pos.ID, "err", err)
			}
		}()
	}

	windowEnd := openedAt.Add(cfg.MaxHoldingTime)
	if !cfg.End.IsZero() && cfg.End.Before(windowEnd) {
		windowEnd = cfg.End
	}

	points, err := e.prices.PriceRange(ctx, ev.Symbol, openedAt, windowEnd)
	if err != nil {
		if ctx.Err() != nil {
			return pos, fmt.Errorf("price range: %w", ctx.Err())
		}
		slog.Warn("backtest: price range unavailable, closing at entry",
			"symbol", ev.Symbol,
			"position", pos.ID,
			"err", err,
		)
		pos.Degraded = true
		if err := closeAt(&pos, domain.CloseTimeout, entry, cfg.CommissionPct, openedAt); err != nil {
			return pos, err
		}
		return pos, nil
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})

	last, seen := entry, false
	lastAt := openedAt
	for _, pt := range points {
		if pt.Timestamp.Before(openedAt) || pt.Timestamp.After(windowEnd) || pt.Price <= 0 {
			continue
		}
		last, lastAt, seen = pt.Price, pt.Timestamp, true

		done, err := step(&pos, r, handle, dynamic, pt)
		if err != nil {
			return pos, err
		}
		if done {
			return pos, nil
		}
	}

	// Ventana agotada: cierre forzado al último precio conocido.
	exitPrice := entry
	if seen {
		exitPrice = domain.ApplySlippage(side, last, cfg.SlippagePct, false)
	}
	if err := closeAt(&pos, domain.CloseTimeout, exitPrice, cfg.CommissionPct, lastAt); err != nil {
		return pos, err
	}
	return pos, nil
}

// step applies one price observation in priority order: scheduled exits,
// liquidation, stop-loss, then the fixed take-profit. It reports whether the
// position is fully closed.
func step(pos *domain.Position, r *run, h exits.Handle, dynamic bool, pt domain.PricePoint) (bool, error) {
	cfg := r.cfg
	side := pos.Side
	price := pt.Price

	if dynamic {
		actions, err := r.scheduler.UpdatePrice(h, price, pt.Timestamp)
		if err != nil {
			return false, fmt.Errorf("update price %s: %w", pos.ID, err)
		}
		left, err := r.scheduler.Remaining(h)
		if err != nil {
			return false, fmt.Errorf("remaining %s: %w", pos.ID, err)
		}
		for i, a := range actions {
			fill := domain.ApplySlippage(side, a.Price, cfg.SlippagePct, false)
			qty := a.Quantity
			if i == len(actions)-1 && left <= 0 {
				// El plan quedó vacío: el último tramo se lleva el resto sin dejar polvo.
				qty = pos.RemainingQuantity
			}
			if _, err := pos.ApplyExit(a.Type.CloseReason(), qty, fill, cfg.CommissionPct, a.At); err != nil {
				return false, fmt.Errorf("apply %s: %w", a.Type, err)
			}
			if !pos.IsOpen() {
				return true, nil
			}
		}
	}

	switch {
	case domain.ReachedAdverse(side, price, pos.LiquidationPrice):
		return true, closeAt(pos, domain.CloseLiquidation, pos.LiquidationPrice, cfg.CommissionPct, pt.Timestamp)
	case domain.ReachedAdverse(side, price, pos.StopLossPrice):
		fill := domain.ApplySlippage(side, price, cfg.SlippagePct, false)
		return true, closeAt(pos, domain.CloseStopLoss, fill, cfg.CommissionPct, pt.Timestamp)
	case !dynamic && domain.ReachedFavorable(side, price, pos.TakeProfitPrice):
		fill := domain.ApplySlippage(side, price, cfg.SlippagePct, false)
		return true, closeAt(pos, domain.CloseTakeProfit, fill, cfg.CommissionPct, pt.Timestamp)
	}
	return false, nil
}

func closeAt(pos *domain.Position, reason domain.CloseReason, price, commissionPct float64, at time.Time) error {
	if _, err := pos.Close(reason, price, commissionPct, at); err != nil {
		return fmt.Errorf("close %s: %w", reason, err)
	}
	return nil
}

// positionID is stable across runs so identical inputs yield identical results.
func positionID(ev domain.AnomalyEvent) string {
	key := fmt.Sprintf("%s|%d|%d", ev.Symbol, ev.ID, ev.AnomalyTime.UnixNano())
	return uuid.NewSHA1(positionNamespace, []byte(key)).String()
}
