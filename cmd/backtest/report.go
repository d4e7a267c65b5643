package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alejandrodnm/oibacktest/internal/domain"
)

func (a *app) report(ctx context.Context, runID string, limit int) error {
	if runID == "" {
		runs, err := a.store.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
		a.console.PrintRuns(runs)
		return nil
	}

	positions, err := a.store.GetRunPositions(ctx, runID)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return fmt.Errorf("run %s has no stored positions", runID)
	}
	res := &domain.Result{
		Positions:  positions,
		Statistics: domain.ComputeStatistics(positions, a.cfg.Backtest.InitialBalance),
	}
	return a.console.Report(ctx, runID, res)
}

func (a *app) blacklist(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: blacklist add|rm SYMBOL [reason]")
	}
	sym := args[1]
	switch args[0] {
	case "add":
		reason := strings.Join(args[2:], " ")
		if err := a.store.AddToBlacklist(ctx, sym, reason); err != nil {
			return err
		}
		slog.Info("symbol blacklisted", "symbol", strings.ToUpper(sym), "reason", reason)
	case "rm":
		if err := a.store.RemoveFromBlacklist(ctx, sym); err != nil {
			return err
		}
		slog.Info("symbol removed from blacklist", "symbol", strings.ToUpper(sym))
	default:
		return fmt.Errorf("unknown blacklist action %q", args[0])
	}
	return nil
}
