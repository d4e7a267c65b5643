package backtest

// sweep.go — worker pool para barridos de parámetros.
//
// Cada variante corre en un Engine propio construido por la factory, así que
// los runs no comparten estado; solo la fuente de datos debe admitir lecturas
// concurrentes.

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/alejandrodnm/oibacktest/internal/domain"
)

// Variant tweaks a copy of the base config.
type Variant struct {
	Name  string
	Apply func(*Config)
}

// SweepResult is the outcome of one variant. Err is set instead of Result on failure.
type SweepResult struct {
	Name   string
	Config Config
	Result *domain.Result
	Err    error
}

// Factory builds an isolated engine for one variant.
type Factory func() (*Engine, error)

// Sweep runs every variant concurrently and returns results in variant order.
// If workers <= 0 it uses runtime.NumCPU().
func Sweep(ctx context.Context, factory Factory, base Config, variants []Variant, workers int) []SweepResult {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, max(len(variants), 1))

	type work struct {
		index   int
		variant Variant
	}
	type done struct {
		index int
		res   SweepResult
	}

	results := make([]SweepResult, len(variants))
	workCh := make(chan work, len(variants))
	resultCh := make(chan done, len(variants))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				res := runVariant(ctx, factory, base, w.variant)
				resultCh <- done{index: w.index, res: res}
			}
		}()
	}

	for i, v := range variants {
		workCh <- work{index: i, variant: v}
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	for r := range resultCh {
		results[r.index] = r.res
	}
	return results
}

func runVariant(ctx context.Context, factory Factory, base Config, v Variant) SweepResult {
	cfg := base.clone()
	if v.Apply != nil {
		v.Apply(&cfg)
	}
	out := SweepResult{Name: v.Name, Config: cfg}

	if err := ctx.Err(); err != nil {
		out.Err = fmt.Errorf("sweep %s: %w", v.Name, err)
		return out
	}
	engine, err := factory()
	if err != nil {
		out.Err = fmt.Errorf("sweep %s: build engine: %w", v.Name, err)
		return out
	}
	res, err := engine.Run(ctx, cfg)
	if err != nil {
		slog.Warn("sweep: variant failed", "variant", v.Name, "err", err)
		out.Err = fmt.Errorf("sweep %s: %w", v.Name, err)
		return out
	}
	out.Result = res
	return out
}
