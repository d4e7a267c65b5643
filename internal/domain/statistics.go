package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Statistics summarises the closed positions of one backtest run.
type Statistics struct {
	TotalTrades       int
	Wins              int
	Losses            int
	WinRate           float64 // percent
	TotalPnL          float64
	TotalCommission   float64
	AvgWin            float64
	AvgLoss           float64 // negative or zero
	ProfitFactor      float64 // |AvgWin / AvgLoss|, 0 sin pérdidas
	MaxDrawdown       float64
	MaxDrawdownPct    float64
	AvgHoldingTime    time.Duration
	LongestWinStreak  int
	LongestLossStreak int
	InitialBalance    float64
	FinalBalance      float64
	ReturnPct         float64
	CloseReasons      map[CloseReason]int
}

// EquityCurvePoint is appended once per processed anomaly event.
type EquityCurvePoint struct {
	Timestamp   time.Time
	Equity      float64
	DrawdownPct float64
}

// RejectionStage names the step of the pipeline that dropped an event.
type RejectionStage string

const (
	StageBlacklist RejectionStage = "blacklist"
	StageSignal    RejectionStage = "signal"
	StageStrategy  RejectionStage = "strategy"
	StageDirection RejectionStage = "direction"
	StageRisk      RejectionStage = "risk"
	StageDuplicate RejectionStage = "duplicate"
)

// RejectedSignal records why an anomaly did not become a position.
type RejectedSignal struct {
	Symbol      string
	AnomalyID   int64
	AnomalyTime time.Time
	Direction   Direction // empty when rejected before a direction existed
	Stage       RejectionStage
	Reason      string
}

// Result is everything a backtest run produces.
type Result struct {
	Statistics    Statistics
	Positions     []Position
	Signals       []Signal
	Rejected      []RejectedSignal
	EquityCurve   []EquityCurvePoint
	ExecutionTime time.Duration
}

// RejectionsByStage counts rejections per stage.
func (r *Result) RejectionsByStage() map[RejectionStage]int {
	out := make(map[RejectionStage]int)
	for _, rj := range r.Rejected {
		out[rj.Stage]++
	}
	return out
}

// EquityTracker keeps the running peak so each curve point carries its drawdown.
type EquityTracker struct {
	peak   decimal.Decimal
	equity decimal.Decimal
}

// NewEquityTracker starts the curve at the initial balance.
func NewEquityTracker(initial float64) *EquityTracker {
	d := decimal.NewFromFloat(initial)
	return &EquityTracker{peak: d, equity: d}
}

// Add books pnl and returns the resulting curve point.
func (t *EquityTracker) Add(at time.Time, pnl float64) EquityCurvePoint {
	t.equity = t.equity.Add(decimal.NewFromFloat(pnl))
	if t.equity.GreaterThan(t.peak) {
		t.peak = t.equity
	}
	return EquityCurvePoint{
		Timestamp:   at,
		Equity:      t.equity.InexactFloat64(),
		DrawdownPct: drawdownPct(t.peak, t.equity),
	}
}

// Equity returns the current equity.
func (t *EquityTracker) Equity() float64 {
	return t.equity.InexactFloat64()
}

// ComputeStatistics walks the closed positions once, in close order.
// Open positions are ignored.
func ComputeStatistics(positions []Position, initialBalance float64) Statistics {
	closed := make([]Position, 0, len(positions))
	for _, p := range positions {
		if p.Status == PositionClosed {
			closed = append(closed, p)
		}
	}
	sort.SliceStable(closed, func(i, j int) bool {
		if closed[i].ClosedAt.Equal(closed[j].ClosedAt) {
			return closed[i].OpenedAt.Before(closed[j].OpenedAt)
		}
		return closed[i].ClosedAt.Before(closed[j].ClosedAt)
	})

	stats := Statistics{
		InitialBalance: initialBalance,
		FinalBalance:   initialBalance,
		CloseReasons:   make(map[CloseReason]int),
	}
	if len(closed) == 0 {
		return stats
	}

	var (
		winSum, lossSum, total, fees decimal.Decimal
		holding                      time.Duration
		winRun, lossRun              int
	)
	equity := decimal.NewFromFloat(initialBalance)
	peak := equity
	maxDD := decimal.Zero

	for _, p := range closed {
		pnl := decimal.NewFromFloat(p.RealizedPnL)
		total = total.Add(pnl)
		fees = fees.Add(decimal.NewFromFloat(p.Commission))
		holding += p.HoldingTime()
		stats.CloseReasons[p.CloseReason]++

		if p.IsWin() {
			stats.Wins++
			winSum = winSum.Add(pnl)
			winRun++
			lossRun = 0
		} else {
			stats.Losses++
			lossSum = lossSum.Add(pnl)
			lossRun++
			winRun = 0
		}
		stats.LongestWinStreak = max(stats.LongestWinStreak, winRun)
		stats.LongestLossStreak = max(stats.LongestLossStreak, lossRun)

		equity = equity.Add(pnl)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if dd := peak.Sub(equity); dd.GreaterThan(maxDD) {
			maxDD = dd
		}
		// El peor % no tiene por qué coincidir con el peor valor absoluto.
		stats.MaxDrawdownPct = max(stats.MaxDrawdownPct, drawdownPct(peak, equity))
	}

	n := len(closed)
	stats.TotalTrades = n
	stats.WinRate = float64(stats.Wins) / float64(n) * 100
	stats.TotalPnL = total.InexactFloat64()
	stats.TotalCommission = fees.InexactFloat64()
	if stats.Wins > 0 {
		stats.AvgWin = winSum.Div(decimal.NewFromInt(int64(stats.Wins))).InexactFloat64()
	}
	if stats.Losses > 0 {
		stats.AvgLoss = lossSum.Div(decimal.NewFromInt(int64(stats.Losses))).InexactFloat64()
	}
	if stats.AvgLoss != 0 {
		pf := stats.AvgWin / stats.AvgLoss
		if pf < 0 {
			pf = -pf
		}
		stats.ProfitFactor = pf
	}
	stats.MaxDrawdown = maxDD.InexactFloat64()
	stats.AvgHoldingTime = holding / time.Duration(n)
	stats.FinalBalance = equity.InexactFloat64()
	if initialBalance > 0 {
		stats.ReturnPct = (stats.FinalBalance - initialBalance) / initialBalance * 100
	}
	return stats
}

func drawdownPct(peak, equity decimal.Decimal) float64 {
	if !peak.IsPositive() {
		return 0
	}
	return peak.Sub(equity).Div(peak).Mul(decimal.NewFromInt(100)).InexactFloat64()
}
