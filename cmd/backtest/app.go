package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/oibacktest/config"
	"github.com/alejandrodnm/oibacktest/internal/adapters/binance"
	"github.com/alejandrodnm/oibacktest/internal/adapters/influx"
	"github.com/alejandrodnm/oibacktest/internal/adapters/notify"
	"github.com/alejandrodnm/oibacktest/internal/adapters/storage"
	"github.com/alejandrodnm/oibacktest/internal/application/engine/backtest"
	"github.com/alejandrodnm/oibacktest/internal/ports"
)

// app agrupa los adaptadores abiertos para un comando.
type app struct {
	cfg      *config.Config
	store    *storage.SQLiteStorage
	prices   ports.PriceSource
	influx   *influx.PriceStore // nil salvo price_source=influx
	console  *notify.Console
	closeFns []func()
}

func newApp(ctx context.Context, cfg *config.Config, maxTrades int) (*app, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a := &app{
		cfg:      cfg,
		store:    store,
		console:  notify.NewConsole(maxTrades),
		closeFns: []func(){func() { store.Close() }},
	}

	switch cfg.Backtest.PriceSource {
	case config.PriceSourceBinance:
		a.prices = a.binanceClient()
	case config.PriceSourceInflux:
		ps, err := influx.NewPriceStore(ctx, influx.Config{
			URL:         cfg.Influx.URL,
			Token:       cfg.Influx.Token,
			Org:         cfg.Influx.Org,
			Bucket:      cfg.Influx.Bucket,
			Measurement: cfg.Influx.Measurement,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open influx: %w", err)
		}
		a.prices = ps
		a.influx = ps
		a.closeFns = append(a.closeFns, ps.Close)
	default:
		a.prices = store
	}
	return a, nil
}

func (a *app) binanceClient() *binance.Client {
	return binance.NewClient(binance.Config{
		APIKey:            a.cfg.Binance.APIKey,
		APISecret:         a.cfg.Binance.APISecret,
		Testnet:           a.cfg.Binance.Testnet,
		Interval:          a.cfg.Binance.Interval,
		RequestsPerSecond: a.cfg.Binance.RequestsPerSecond,
		MaxRetries:        a.cfg.Binance.MaxRetries,
	})
}

// engine construye un engine nuevo por llamada; los sweeps necesitan uno por variante.
func (a *app) engine() (*backtest.Engine, error) {
	return backtest.New(a.store, a.prices, backtest.WithBlacklist(a.store)), nil
}

func (a *app) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
}

func runName(name string) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("run %s", time.Now().UTC().Format("2006-01-02 15:04:05"))
}
