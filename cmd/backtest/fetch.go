package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// fetchPrices descarga klines de Binance para cada símbolo con anomalías en
// el rango y las guarda en SQLite (y en Influx si es la fuente configurada).
// La ventana cubre el holding máximo del último evento.
func (a *app) fetchPrices(ctx context.Context) error {
	btCfg, err := a.cfg.BacktestConfig()
	if err != nil {
		return err
	}
	if btCfg.Start.IsZero() || btCfg.End.IsZero() {
		return fmt.Errorf("fetch needs backtest.start and backtest.end")
	}

	events, err := a.store.ListAnomalies(ctx, btCfg.Start, btCfg.End)
	if err != nil {
		return err
	}
	bl, err := a.store.Blacklist(ctx)
	if err != nil {
		return err
	}

	first := make(map[string]time.Time)
	for _, ev := range events {
		if bl[ev.Symbol] {
			continue
		}
		if t, ok := first[ev.Symbol]; !ok || ev.AnomalyTime.Before(t) {
			first[ev.Symbol] = ev.AnomalyTime
		}
	}
	symbols := make([]string, 0, len(first))
	for s := range first {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	client := a.binanceClient()
	to := btCfg.End.Add(btCfg.MaxHoldingTime)

	slog.Info("fetch starting", "symbols", len(symbols), "anomalies", len(events))
	var total, failed int
	for i, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		points, err := client.PriceRange(ctx, sym, first[sym], to)
		if err != nil {
			failed++
			slog.Warn("fetch failed", "symbol", sym, "err", err)
			continue
		}
		if err := a.store.SavePrices(ctx, points); err != nil {
			return err
		}
		if a.influx != nil {
			if err := a.influx.SavePrices(ctx, points); err != nil {
				return err
			}
		}
		total += len(points)
		slog.Info("fetched",
			"symbol", sym,
			"progress", fmt.Sprintf("%d/%d", i+1, len(symbols)),
			"points", len(points),
		)
	}

	slog.Info("fetch complete", "points", total, "failed_symbols", failed)
	return nil
}
