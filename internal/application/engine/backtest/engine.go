package backtest

// engine.go — replays anomaly events in time order against historical prices.
//
// Each admitted signal opens a position that is simulated to completion over
// its holding window before the next event is processed, so the breakers in
// the risk gate see every earlier result.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/oibacktest/internal/application/exits"
	"github.com/alejandrodnm/oibacktest/internal/application/risk"
	"github.com/alejandrodnm/oibacktest/internal/application/signal"
	"github.com/alejandrodnm/oibacktest/internal/domain"
	"github.com/alejandrodnm/oibacktest/internal/ports"
)

// Engine wires the data sources into backtest runs. Run may be called
// repeatedly; every call builds fresh run state.
type Engine struct {
	anomalies ports.AnomalySource
	prices    ports.PriceSource
	blacklist ports.SymbolBlacklist
	filters   []StrategyFilter
}

// Option customises an Engine.
type Option func(*Engine)

// WithBlacklist rejects events for symbols the source lists.
func WithBlacklist(b ports.SymbolBlacklist) Option {
	return func(e *Engine) { e.blacklist = b }
}

// WithStrategyFilter adds a filter evaluated after Config.Filter.
func WithStrategyFilter(f StrategyFilter) Option {
	return func(e *Engine) { e.filters = append(e.filters, f) }
}

// New creates an Engine.
func New(anomalies ports.AnomalySource, prices ports.PriceSource, opts ...Option) *Engine {
	e := &Engine{anomalies: anomalies, prices: prices}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run holds the mutable state of a single Run call.
type run struct {
	cfg       Config
	generator *signal.Generator
	gate      *risk.Gate
	scheduler *exits.Scheduler
	equity    *domain.EquityTracker
	blocked   map[string]bool

	positions []domain.Position
	signals   []domain.Signal
	rejected  []domain.RejectedSignal
	curve     []domain.EquityCurvePoint
}

// Run replays every anomaly in [cfg.Start, cfg.End] and returns the result.
// Cancelling ctx aborts between events.
func (e *Engine) Run(ctx context.Context, cfg Config) (*domain.Result, error) {
	started := time.Now()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("backtest.Run: %w", err)
	}

	events, err := e.anomalies.ListAnomalies(ctx, cfg.Start, cfg.End)
	if err != nil {
		return nil, fmt.Errorf("backtest.Run: list anomalies: %w", err)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].AnomalyTime.Before(events[j].AnomalyTime)
	})

	r := &run{
		cfg:       cfg,
		generator: signal.NewGenerator(cfg.Signal),
		gate:      risk.NewGate(cfg.Risk),
		scheduler: exits.NewScheduler(),
		equity:    domain.NewEquityTracker(cfg.InitialBalance),
		blocked:   map[string]bool{},
	}
	if e.blacklist != nil {
		blocked, err := e.blacklist.Blacklist(ctx)
		if err != nil {
			return nil, fmt.Errorf("backtest.Run: blacklist: %w", err)
		}
		r.blocked = blocked
	}

	slog.Info("backtest: starting",
		"events", len(events),
		"from", cfg.Start.Format(time.RFC3339),
		"to", cfg.End.Format(time.RFC3339),
		"balance", cfg.InitialBalance,
		"dynamic_tp", cfg.TakeProfit.Enabled(),
	)

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest.Run: %w", err)
		}
		pnl, err := e.processEvent(ctx, r, ev)
		if err != nil {
			return nil, fmt.Errorf("backtest.Run: %s@%s: %w", ev.Symbol, ev.AnomalyTime.Format(time.RFC3339), err)
		}
		r.curve = append(r.curve, r.equity.Add(ev.AnomalyTime, pnl))
	}

	if n := r.scheduler.Active(); n != 0 {
		slog.Warn("backtest: exit tracking records leaked", "count", n)
	}

	res := &domain.Result{
		Statistics:    domain.ComputeStatistics(r.positions, cfg.InitialBalance),
		Positions:     r.positions,
		Signals:       r.signals,
		Rejected:      r.rejected,
		EquityCurve:   r.curve,
		ExecutionTime: time.Since(started),
	}
	slog.Info("backtest: finished",
		"trades", res.Statistics.TotalTrades,
		"win_rate", fmt.Sprintf("%.1f%%", res.Statistics.WinRate),
		"pnl", fmt.Sprintf("%.2f", res.Statistics.TotalPnL),
		"rejected", len(res.Rejected),
		"elapsed", res.ExecutionTime.Round(time.Millisecond),
	)
	return res, nil
}

// processEvent pushes one event through the admission pipeline and, when
// admitted, simulates the position. It returns the realised PnL booked.
// That PnL is booked at ev.AnomalyTime, not at the position's close: each
// position runs to completion when it opens, so the breaker and balance seen
// by the next event already include it.
func (e *Engine) processEvent(ctx context.Context, r *run, ev domain.AnomalyEvent) (float64, error) {
	if r.blocked[ev.Symbol] {
		r.reject(ev, "", domain.StageBlacklist, "symbol blacklisted")
		return 0, nil
	}

	sig, err := r.generator.Generate(ev)
	if err != nil {
		var rej *signal.RejectError
		if !errors.As(err, &rej) && !errors.Is(err, signal.ErrInvalidEvent) {
			return 0, err
		}
		r.reject(ev, "", domain.StageSignal, err.Error())
		return 0, nil
	}
	r.signals = append(r.signals, sig)

	if ok, reason := r.cfg.Filter.Allow(sig); !ok {
		r.reject(ev, sig.Direction, domain.StageStrategy, reason)
		return 0, nil
	}
	for _, f := range e.filters {
		if ok, reason := f.Allow(sig); !ok {
			r.reject(ev, sig.Direction, domain.StageStrategy, reason)
			return 0, nil
		}
	}

	if !r.cfg.directionAllowed(sig.Direction) {
		r.reject(ev, sig.Direction, domain.StageDirection, fmt.Sprintf("%s not allowed", sig.Direction))
		return 0, nil
	}

	decision := r.gate.CanOpenPosition(sig, r.positions, r.equity.Equity(), ev.AnomalyTime)
	if !decision.Allowed {
		r.reject(ev, sig.Direction, domain.StageRisk, decision.Reason)
		return 0, nil
	}

	if p, dup := duplicateOf(r.positions, ev.Symbol, ev.AnomalyTime, r.cfg.duplicateWindow()); dup {
		r.reject(ev, sig.Direction, domain.StageDuplicate,
			fmt.Sprintf("position %s opened %s apart", p.ID, p.OpenedAt.Sub(ev.AnomalyTime).Abs()))
		return 0, nil
	}

	pos, err := e.simulate(ctx, r, ev, sig, decision)
	if err != nil {
		return 0, err
	}
	r.positions = append(r.positions, pos)
	r.gate.RecordTradeResult(pos.RealizedPnL, pos.IsWin(), ev.AnomalyTime)

	slog.Debug("backtest: position closed",
		"id", pos.ID,
		"symbol", pos.Symbol,
		"side", pos.Side,
		"reason", pos.CloseReason,
		"pnl", fmt.Sprintf("%.4f", pos.RealizedPnL),
		"legs", len(pos.Legs),
	)
	return pos.RealizedPnL, nil
}

func (r *run) reject(ev domain.AnomalyEvent, dir domain.Direction, stage domain.RejectionStage, reason string) {
	slog.Debug("backtest: rejected",
		"symbol", ev.Symbol,
		"anomaly_id", ev.ID,
		"stage", stage,
		"reason", reason,
	)
	r.rejected = append(r.rejected, domain.RejectedSignal{
		Symbol:      ev.Symbol,
		AnomalyID:   ev.ID,
		AnomalyTime: ev.AnomalyTime,
		Direction:   dir,
		Stage:       stage,
		Reason:      reason,
	})
}
