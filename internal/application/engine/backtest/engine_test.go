package backtest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alejandrodnm/oibacktest/internal/application/engine/backtest"
	"github.com/alejandrodnm/oibacktest/internal/application/exits"
	"github.com/alejandrodnm/oibacktest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// ── fakes ──

type fakeAnomalies struct {
	events []domain.AnomalyEvent
	err    error
}

func (f *fakeAnomalies) ListAnomalies(_ context.Context, _, _ time.Time) ([]domain.AnomalyEvent, error) {
	out := make([]domain.AnomalyEvent, len(f.events))
	copy(out, f.events)
	return out, f.err
}

type fakePrices struct {
	series map[string][]domain.PricePoint
	err    error
}

func (f *fakePrices) PriceRange(_ context.Context, symbol string, from, to time.Time) ([]domain.PricePoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.PricePoint
	for _, p := range f.series[symbol] {
		if !p.Timestamp.Before(from) && !p.Timestamp.After(to) {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeBlacklist map[string]bool

func (f fakeBlacklist) Blacklist(context.Context) (map[string]bool, error) { return f, nil }

// ── helpers ──

func ptr(v float64) *float64 { return &v }

// admissible builds a STRONG LONG event (score 9, confidence 0.76) entering at price.
func admissible(id int64, symbol string, at time.Time, price float64) domain.AnomalyEvent {
	return domain.AnomalyEvent{
		ID:                      id,
		Symbol:                  symbol,
		Period:                  "5m",
		AnomalyTime:             at,
		PercentChange:           6,
		PriceBefore:             price / 1.03,
		PriceAfter:              price,
		Severity:                domain.SeverityHigh,
		TopTraderLongShortRatio: ptr(1.6),
		DailyHigh:               price * 1.01,
		DailyLow:                price * 0.97,
	}
}

func path(symbol string, start time.Time, prices ...float64) []domain.PricePoint {
	out := make([]domain.PricePoint, len(prices))
	for i, p := range prices {
		out[i] = domain.PricePoint{Symbol: symbol, Timestamp: start.Add(time.Duration(i+1) * time.Minute), Price: p}
	}
	return out
}

func testConfig() backtest.Config {
	cfg := backtest.DefaultConfig()
	cfg.Start = t0.Add(-time.Hour)
	cfg.End = t0.Add(24 * time.Hour)
	cfg.SlippagePct = 0
	cfg.CommissionPct = 0
	cfg.Risk.MaxPositionsPerSymbol = 0
	return cfg
}

func runEngine(t *testing.T, events []domain.AnomalyEvent, series map[string][]domain.PricePoint, cfg backtest.Config, opts ...backtest.Option) *domain.Result {
	t.Helper()
	e := backtest.New(&fakeAnomalies{events: events}, &fakePrices{series: series}, opts...)
	res, err := e.Run(context.Background(), cfg)
	require.NoError(t, err)
	return res
}

// ── tests ──

func TestRun_FixedTakeProfit(t *testing.T) {
	ev := admissible(1, "BTCUSDT", t0, 100)
	res := runEngine(t, []domain.AnomalyEvent{ev},
		map[string][]domain.PricePoint{"BTCUSDT": path("BTCUSDT", t0, 101, 103, 106)},
		testConfig())

	require.Len(t, res.Positions, 1)
	p := res.Positions[0]
	assert.Equal(t, domain.CloseTakeProfit, p.CloseReason)
	assert.Equal(t, domain.PositionClosed, p.Status)
	assert.Equal(t, 10, p.Leverage)
	assert.InDelta(t, 760, p.Notional, 1e-6)
	assert.InDelta(t, 76, p.Margin, 1e-6)
	assert.InDelta(t, 7.6, p.InitialQuantity, 1e-9)
	assert.InDelta(t, 106, p.ExitPrice, 1e-9)
	// (106 − 100) × 7.6, sin apalancamiento en el PnL
	assert.InDelta(t, 45.6, p.RealizedPnL, 1e-6)
	assert.Zero(t, p.RemainingQuantity)

	assert.Equal(t, 1, res.Statistics.TotalTrades)
	assert.InDelta(t, 10045.6, res.Statistics.FinalBalance, 1e-6)
}

func TestRun_StopLoss(t *testing.T) {
	ev := admissible(1, "BTCUSDT", t0, 100)
	res := runEngine(t, []domain.AnomalyEvent{ev},
		map[string][]domain.PricePoint{"BTCUSDT": path("BTCUSDT", t0, 99, 97.5)},
		testConfig())

	require.Len(t, res.Positions, 1)
	assert.Equal(t, domain.CloseStopLoss, res.Positions[0].CloseReason)
	assert.InDelta(t, -19, res.Positions[0].RealizedPnL, 1e-6)
}

func TestRun_LiquidationBeatsStopLoss(t *testing.T) {
	ev := admissible(1, "BTCUSDT", t0, 100)
	// Un solo tick atraviesa stop (98) y liquidación (90)
	res := runEngine(t, []domain.AnomalyEvent{ev},
		map[string][]domain.PricePoint{"BTCUSDT": path("BTCUSDT", t0, 85)},
		testConfig())

	require.Len(t, res.Positions, 1)
	p := res.Positions[0]
	assert.Equal(t, domain.CloseLiquidation, p.CloseReason)
	assert.InDelta(t, 90, p.ExitPrice, 1e-9)
	assert.InDelta(t, -76, p.RealizedPnL, 1e-6)
}

func TestRun_DynamicTakeProfit(t *testing.T) {
	cfg := testConfig()
	cfg.TakeProfit = exits.Config{Targets: []exits.Target{
		{AllocationPct: 40, TargetProfitPct: 8},
		{AllocationPct: 30, TargetProfitPct: 14},
		{AllocationPct: 30, Trailing: true, TrailingCallbackPct: 30},
	}}
	ev := admissible(1, "BTCUSDT", t0, 100)
	res := runEngine(t, []domain.AnomalyEvent{ev},
		map[string][]domain.PricePoint{"BTCUSDT": path("BTCUSDT", t0, 100, 108, 114, 126, 88)},
		cfg)

	require.Len(t, res.Positions, 1)
	p := res.Positions[0]
	require.Len(t, p.Legs, 3)
	assert.Equal(t, domain.CloseBatchTakeProfit, p.Legs[0].Reason)
	assert.InDelta(t, 0.4*7.6, p.Legs[0].Quantity, 1e-9)
	assert.Equal(t, domain.CloseBatchTakeProfit, p.Legs[1].Reason)
	assert.InDelta(t, 0.3*7.6, p.Legs[1].Quantity, 1e-9)
	assert.Equal(t, domain.CloseTrailingStop, p.Legs[2].Reason)

	assert.Equal(t, domain.CloseTrailingStop, p.CloseReason)
	assert.Equal(t, domain.PositionClosed, p.Status)
	assert.Zero(t, p.RemainingQuantity)
	// 0.4×8 + 0.3×14 − 0.3×12 = 3.8 por unidad
	assert.InDelta(t, 3.8*7.6, p.RealizedPnL, 1e-6)
}

func TestRun_DynamicIgnoresFixedTakeProfit(t *testing.T) {
	cfg := testConfig()
	cfg.TakeProfit = exits.Config{Targets: []exits.Target{{AllocationPct: 50, TargetProfitPct: 20}}}
	ev := admissible(1, "BTCUSDT", t0, 100)
	res := runEngine(t, []domain.AnomalyEvent{ev},
		map[string][]domain.PricePoint{"BTCUSDT": path("BTCUSDT", t0, 106, 107)},
		cfg)

	require.Len(t, res.Positions, 1)
	p := res.Positions[0]
	assert.Equal(t, domain.CloseTimeout, p.CloseReason)
	assert.InDelta(t, 107, p.ExitPrice, 1e-9)
}

func TestRun_DuplicateWithinWindow(t *testing.T) {
	events := []domain.AnomalyEvent{
		admissible(1, "BTCUSDT", t0, 100),
		admissible(2, "BTCUSDT", t0.Add(5*time.Second), 100),
	}
	res := runEngine(t, events,
		map[string][]domain.PricePoint{"BTCUSDT": path("BTCUSDT", t0, 101)},
		testConfig())

	require.Len(t, res.Positions, 1)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, domain.StageDuplicate, res.Rejected[0].Stage)
	assert.Equal(t, int64(2), res.Rejected[0].AnomalyID)
}

func TestRun_OutsideDuplicateWindow(t *testing.T) {
	events := []domain.AnomalyEvent{
		admissible(1, "BTCUSDT", t0, 100),
		admissible(2, "BTCUSDT", t0.Add(30*time.Second), 100),
	}
	res := runEngine(t, events,
		map[string][]domain.PricePoint{"BTCUSDT": path("BTCUSDT", t0, 101)},
		testConfig())

	assert.Len(t, res.Positions, 2)
	assert.Empty(t, res.Rejected)
}

func TestRun_RejectionStages(t *testing.T) {
	vetoed := admissible(3, "ETHUSDT", t0.Add(2*time.Minute), 100)
	vetoed.PercentChange = 30

	events := []domain.AnomalyEvent{
		admissible(1, "LUNAUSDT", t0, 100),
		admissible(2, "BTCUSDT", t0.Add(time.Minute), 100),
		vetoed,
	}
	cfg := testConfig()
	cfg.AllowedDirections = []domain.Direction{domain.DirectionShort}

	res := runEngine(t, events, nil, cfg, backtest.WithBlacklist(fakeBlacklist{"LUNAUSDT": true}))

	assert.Empty(t, res.Positions)
	byStage := res.RejectionsByStage()
	assert.Equal(t, 1, byStage[domain.StageBlacklist])
	assert.Equal(t, 1, byStage[domain.StageDirection])
	assert.Equal(t, 1, byStage[domain.StageSignal])
	assert.Len(t, res.Signals, 1)
}

func TestRun_StrategyFilter(t *testing.T) {
	cfg := testConfig()
	cfg.Filter = backtest.ThresholdFilter{MinConfidence: 0.9}

	res := runEngine(t, []domain.AnomalyEvent{admissible(1, "BTCUSDT", t0, 100)}, nil, cfg)

	require.Len(t, res.Rejected, 1)
	assert.Equal(t, domain.StageStrategy, res.Rejected[0].Stage)
	assert.Contains(t, res.Rejected[0].Reason, "confidence")
}

func TestRun_ConsecutiveLossesPauseTrading(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.ConsecutiveLossLimit = 2
	cfg.Risk.DailyLossLimitPct = 0

	var events []domain.AnomalyEvent
	series := map[string][]domain.PricePoint{}
	for i, sym := range []string{"AAAUSDT", "BBBUSDT", "CCCUSDT"} {
		at := t0.Add(time.Duration(i) * time.Hour)
		events = append(events, admissible(int64(i+1), sym, at, 100))
		series[sym] = path(sym, at, 97)
	}
	res := runEngine(t, events, series, cfg)

	assert.Len(t, res.Positions, 2)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, domain.StageRisk, res.Rejected[0].Stage)
	assert.Equal(t, 2, res.Statistics.LongestLossStreak)
}

func TestRun_EmptySeriesClosesAtEntry(t *testing.T) {
	res := runEngine(t, []domain.AnomalyEvent{admissible(1, "BTCUSDT", t0, 100)}, nil, testConfig())

	require.Len(t, res.Positions, 1)
	p := res.Positions[0]
	assert.Equal(t, domain.CloseTimeout, p.CloseReason)
	assert.InDelta(t, 100, p.ExitPrice, 1e-9)
	assert.Zero(t, p.RealizedPnL)
	assert.False(t, p.Degraded)
}

func TestRun_PriceErrorMarksDegraded(t *testing.T) {
	e := backtest.New(
		&fakeAnomalies{events: []domain.AnomalyEvent{admissible(1, "BTCUSDT", t0, 100)}},
		&fakePrices{err: errors.New("db down")},
	)
	res, err := e.Run(context.Background(), testConfig())
	require.NoError(t, err)

	require.Len(t, res.Positions, 1)
	assert.True(t, res.Positions[0].Degraded)
	assert.Equal(t, domain.CloseTimeout, res.Positions[0].CloseReason)
}

func TestRun_HoldingWindowTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.MaxHoldingTime = 3 * time.Minute

	res := runEngine(t, []domain.AnomalyEvent{admissible(1, "BTCUSDT", t0, 100)},
		map[string][]domain.PricePoint{"BTCUSDT": path("BTCUSDT", t0, 101, 102, 103, 110)},
		cfg)

	require.Len(t, res.Positions, 1)
	p := res.Positions[0]
	assert.Equal(t, domain.CloseTimeout, p.CloseReason)
	assert.InDelta(t, 103, p.ExitPrice, 1e-9)
	assert.Equal(t, t0.Add(3*time.Minute), p.ClosedAt)
}

func TestRun_SlippageAndCommission(t *testing.T) {
	cfg := testConfig()
	cfg.SlippagePct = 0.1
	cfg.CommissionPct = 0.05

	res := runEngine(t, []domain.AnomalyEvent{admissible(1, "BTCUSDT", t0, 100)},
		map[string][]domain.PricePoint{"BTCUSDT": path("BTCUSDT", t0, 106)},
		cfg)

	require.Len(t, res.Positions, 1)
	p := res.Positions[0]
	assert.InDelta(t, 100.1, p.EntryPrice, 1e-9)
	assert.InDelta(t, 106*0.999, p.ExitPrice, 1e-9)
	assert.Greater(t, p.Commission, 0.0)
	gross := (p.ExitPrice - p.EntryPrice) * p.InitialQuantity
	assert.InDelta(t, gross-p.Commission, p.RealizedPnL, 1e-6)
}

func TestRun_EquityCurvePerEvent(t *testing.T) {
	events := []domain.AnomalyEvent{
		admissible(1, "BTCUSDT", t0, 100),
		admissible(2, "ETHUSDT", t0.Add(time.Hour), 100),
	}
	res := runEngine(t, events, map[string][]domain.PricePoint{
		"BTCUSDT": path("BTCUSDT", t0, 106),
		"ETHUSDT": path("ETHUSDT", t0.Add(time.Hour), 97.5),
	}, testConfig())

	require.Len(t, res.EquityCurve, 2)
	assert.InDelta(t, 10045.6, res.EquityCurve[0].Equity, 1e-6)
	// El segundo tamaño se calcula sobre el balance ya actualizado
	qty := 10045.6 * 0.10 * 0.76 / 100
	assert.InDelta(t, 10045.6-2.5*qty, res.EquityCurve[1].Equity, 1e-6)
	assert.Greater(t, res.EquityCurve[1].DrawdownPct, 0.0)
}

func TestRun_Deterministic(t *testing.T) {
	events := []domain.AnomalyEvent{
		admissible(2, "ETHUSDT", t0.Add(time.Hour), 100),
		admissible(1, "BTCUSDT", t0, 100),
	}
	series := map[string][]domain.PricePoint{
		"BTCUSDT": path("BTCUSDT", t0, 101, 99, 106),
		"ETHUSDT": path("ETHUSDT", t0.Add(time.Hour), 99, 97),
	}
	a := runEngine(t, events, series, testConfig())
	b := runEngine(t, events, series, testConfig())

	assert.Equal(t, a.Positions, b.Positions)
	assert.Equal(t, a.Statistics, b.Statistics)
	assert.Equal(t, a.EquityCurve, b.EquityCurve)
	// Procesados en orden temporal aunque la fuente no lo esté
	assert.Equal(t, "BTCUSDT", a.Positions[0].Symbol)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := backtest.New(&fakeAnomalies{events: []domain.AnomalyEvent{admissible(1, "BTCUSDT", t0, 100)}}, &fakePrices{})
	_, err := e.Run(ctx, testConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.InitialBalance = 0

	_, err := backtest.New(&fakeAnomalies{}, &fakePrices{}).Run(context.Background(), cfg)
	assert.ErrorIs(t, err, backtest.ErrInvalidConfig)
}

func TestRun_AnomalySourceError(t *testing.T) {
	_, err := backtest.New(&fakeAnomalies{err: errors.New("boom")}, &fakePrices{}).Run(context.Background(), testConfig())
	assert.Error(t, err)
}
