package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/oibacktest/config"
)

const usage = `usage: backtest <command> [flags]

commands:
  run        simulate the configured range and print the report
  sweep      run the configured parameter variants in parallel
  fetch      import 1m klines from Binance for every symbol with anomalies
  report     list stored runs, or show one with -run <id>
  blacklist  add or remove symbols: blacklist add|rm SYMBOL [reason]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", "config/config.yaml", "path to config file")
	verbose := fs.Bool("verbose", false, "set log level to debug")
	logFormat := fs.String("format", "", "log format: text|json (overrides config)")
	name := fs.String("name", "", "run name stored with the result (run)")
	save := fs.Bool("save", true, "persist results to storage (run, sweep)")
	maxTrades := fs.Int("trades", 50, "max trades printed in the report, 0 = all")
	runID := fs.String("run", "", "stored run ID to show (report)")
	limit := fs.Int("limit", 20, "number of stored runs to list (report)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(ctx, cfg, *maxTrades)
	if err != nil {
		slog.Error("failed to initialise", "err", err)
		os.Exit(1)
	}
	defer app.Close()

	slog.Info("oibacktest starting",
		"command", cmd,
		"config", *configPath,
		"dsn", cfg.Storage.DSN,
		"price_source", cfg.Backtest.PriceSource,
	)

	switch cmd {
	case "run":
		err = app.runBacktest(ctx, *name, *save)
	case "sweep":
		err = app.runSweep(ctx, *save)
	case "fetch":
		err = app.fetchPrices(ctx)
	case "report":
		err = app.report(ctx, *runID, *limit)
	case "blacklist":
		err = app.blacklist(ctx, fs.Args())
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error(cmd+" failed", "err", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
