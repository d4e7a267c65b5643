package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/oibacktest/internal/adapters/notify"
	"github.com/alejandrodnm/oibacktest/internal/application/engine/backtest"
)

func (a *app) runBacktest(ctx context.Context, name string, save bool) error {
	btCfg, err := a.cfg.BacktestConfig()
	if err != nil {
		return err
	}
	eng, err := a.engine()
	if err != nil {
		return err
	}

	res, err := eng.Run(ctx, btCfg)
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}

	name = runName(name)
	if err := a.console.Report(ctx, name, res); err != nil {
		slog.Warn("reporter error", "err", err)
	}

	if !save {
		return nil
	}
	id, err := a.store.SaveResult(ctx, name, btCfg.Start, btCfg.End, res)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	slog.Info("run stored", "id", id, "name", name)
	return nil
}

func (a *app) runSweep(ctx context.Context, save bool) error {
	base, err := a.cfg.BacktestConfig()
	if err != nil {
		return err
	}
	variants, err := a.cfg.SweepVariants()
	if err != nil {
		return err
	}
	if len(variants) == 0 {
		return fmt.Errorf("no sweep variants configured")
	}

	slog.Info("sweep starting", "variants", len(variants), "workers", a.cfg.Sweep.Workers)
	results := backtest.Sweep(ctx, a.engine, base, variants, a.cfg.Sweep.Workers)

	rows := make([]notify.SweepRow, 0, len(results))
	for _, r := range results {
		row := notify.SweepRow{Name: r.Name, Err: r.Err}
		if r.Err == nil {
			row.Statistics = r.Result.Statistics
			if save {
				id, err := a.store.SaveResult(ctx, "sweep/"+r.Name, r.Config.Start, r.Config.End, r.Result)
				if err != nil {
					slog.Warn("failed to store variant", "variant", r.Name, "err", err)
				} else {
					slog.Debug("variant stored", "variant", r.Name, "id", id)
				}
			}
		}
		rows = append(rows, row)
	}
	a.console.PrintSweep(rows)
	return ctx.Err()
}
