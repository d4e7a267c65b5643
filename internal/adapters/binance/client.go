package binance

// client.go — histórico de precios de futuros USDⓈ-M vía klines.
//
// Cada kline de 1m se convierte en un PricePoint con el precio de cierre,
// fechado al final de la vela: el simulador nunca ve un precio antes de que
// exista.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/oibacktest/internal/domain"
)

const (
	// /fapi/v1/klines pesa 10 con limit 1500; 2400/min → ~4 req/s. Usamos la mitad.
	defaultRatePerSec = 2
	maxKlinesPerCall  = 1500
	defaultInterval   = "1m"
	defaultRetries    = 3

	codeTooManyRequests = -1003
)

// Config configura el cliente. Las claves son opcionales para datos públicos.
type Config struct {
	APIKey            string
	APISecret         string
	Testnet           bool
	Interval          string  // intervalo de kline, por defecto 1m
	RequestsPerSecond float64 // 0 usa el default
	MaxRetries        uint64
}

// klineFetcher aísla la llamada HTTP para poder testear la paginación.
type klineFetcher interface {
	Klines(ctx context.Context, symbol, interval string, startMs, endMs int64, limit int) ([]*futures.Kline, error)
}

type futuresFetcher struct {
	client *futures.Client
}

func (f futuresFetcher) Klines(ctx context.Context, symbol, interval string, startMs, endMs int64, limit int) ([]*futures.Kline, error) {
	return f.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(startMs).
		EndTime(endMs).
		Limit(limit).
		Do(ctx)
}

// Client implementa ports.PriceSource contra la API de futuros de Binance.
type Client struct {
	fetcher    klineFetcher
	limiter    *rate.Limiter
	interval   string
	maxRetries uint64
}

// NewClient crea un Client con rate limiting y retries.
func NewClient(cfg Config) *Client {
	futures.UseTestnet = cfg.Testnet
	fc := futures.NewClient(cfg.APIKey, cfg.APISecret)
	return newClient(futuresFetcher{client: fc}, cfg)
}

func newClient(f klineFetcher, cfg Config) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRatePerSec
	}
	interval := cfg.Interval
	if interval == "" {
		interval = defaultInterval
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = defaultRetries
	}
	return &Client{
		fetcher:    f,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		interval:   interval,
		maxRetries: retries,
	}
}

// PriceRange pagina klines de symbol en [from, to] y devuelve los cierres en orden.
func (c *Client) PriceRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.PricePoint, error) {
	if !to.After(from) {
		return nil, nil
	}
	start, end := from.UTC().UnixMilli(), to.UTC().UnixMilli()

	var points []domain.PricePoint
	for start <= end {
		klines, err := c.fetchPage(ctx, symbol, start, end)
		if err != nil {
			return nil, fmt.Errorf("binance.PriceRange %s: %w", symbol, err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			p, err := toPricePoint(symbol, k)
			if err != nil {
				return nil, fmt.Errorf("binance.PriceRange %s: %w", symbol, err)
			}
			if p.Timestamp.After(to) {
				continue
			}
			points = append(points, p)
		}

		next := klines[len(klines)-1].CloseTime + 1
		if len(klines) < maxKlinesPerCall || next <= start {
			break
		}
		start = next
	}

	slog.Debug("binance: price range",
		"symbol", symbol,
		"from", from.Format(time.RFC3339),
		"to", to.Format(time.RFC3339),
		"points", len(points),
	)
	return points, nil
}

// fetchPage hace una llamada con rate limiting y backoff exponencial.
// Los errores de la API que no son de rate limit no se reintentan.
func (c *Client) fetchPage(ctx context.Context, symbol string, start, end int64) ([]*futures.Kline, error) {
	var klines []*futures.Kline
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		var err error
		klines, err = c.fetcher.Klines(ctx, symbol, c.interval, start, end, maxKlinesPerCall)
		if err == nil {
			return nil
		}
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code != codeTooManyRequests {
			return backoff.Permanent(err)
		}
		slog.Warn("binance: klines request failed, retrying", "symbol", symbol, "err", err)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return klines, nil
}

func toPricePoint(symbol string, k *futures.Kline) (domain.PricePoint, error) {
	price, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("parse close %q: %w", k.Close, err)
	}
	return domain.PricePoint{
		Symbol:    symbol,
		Timestamp: time.UnixMilli(k.CloseTime + 1).UTC(),
		Price:     price,
	}, nil
}
