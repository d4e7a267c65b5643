package domain_test

import (
	"testing"
	"time"

	"github.com/alejandrodnm/oibacktest/internal/domain"
	"github.com/stretchr/testify/assert"
)

func closedPosition(pnl float64, reason domain.CloseReason, openedAt time.Time, held time.Duration) domain.Position {
	return domain.Position{
		Status:      domain.PositionClosed,
		RealizedPnL: pnl,
		CloseReason: reason,
		OpenedAt:    openedAt,
		ClosedAt:    openedAt.Add(held),
	}
}

func TestComputeStatistics(t *testing.T) {
	positions := []domain.Position{
		closedPosition(100, domain.CloseTakeProfit, opened, time.Hour),
		closedPosition(50, domain.CloseTakeProfit, opened.Add(2*time.Hour), time.Hour),
		closedPosition(-40, domain.CloseStopLoss, opened.Add(4*time.Hour), 30*time.Minute),
		closedPosition(-80, domain.CloseLiquidation, opened.Add(5*time.Hour), 30*time.Minute),
		closedPosition(30, domain.CloseTimeout, opened.Add(6*time.Hour), time.Hour),
		{Status: domain.PositionOpen, OpenedAt: opened.Add(7 * time.Hour)},
	}

	s := domain.ComputeStatistics(positions, 1000)

	assert.Equal(t, 5, s.TotalTrades)
	assert.Equal(t, 3, s.Wins)
	assert.Equal(t, 2, s.Losses)
	assert.InDelta(t, 60.0, s.WinRate, 1e-9)
	assert.InDelta(t, 60.0, s.TotalPnL, 1e-9)
	assert.InDelta(t, 60.0, s.AvgWin, 1e-9)
	assert.InDelta(t, -60.0, s.AvgLoss, 1e-9)
	assert.InDelta(t, 1.0, s.ProfitFactor, 1e-9)
	assert.Equal(t, 2, s.LongestWinStreak)
	assert.Equal(t, 2, s.LongestLossStreak)
	assert.Equal(t, 48*time.Minute, s.AvgHoldingTime)

	// Pico 1150, valle 1030
	assert.InDelta(t, 120.0, s.MaxDrawdown, 1e-9)
	assert.InDelta(t, 120.0/1150*100, s.MaxDrawdownPct, 1e-9)
	assert.InDelta(t, 1060.0, s.FinalBalance, 1e-9)
	assert.InDelta(t, 6.0, s.ReturnPct, 1e-9)

	assert.Equal(t, 2, s.CloseReasons[domain.CloseTakeProfit])
	assert.Equal(t, 1, s.CloseReasons[domain.CloseLiquidation])
}

func TestComputeStatistics_OrdersByCloseTime(t *testing.T) {
	// Entregadas fuera de orden: la racha se mide en orden de cierre
	positions := []domain.Position{
		closedPosition(-10, domain.CloseStopLoss, opened.Add(3*time.Hour), time.Minute),
		closedPosition(10, domain.CloseTakeProfit, opened, time.Minute),
		closedPosition(-10, domain.CloseStopLoss, opened.Add(2*time.Hour), time.Minute),
	}

	s := domain.ComputeStatistics(positions, 100)
	assert.Equal(t, 2, s.LongestLossStreak)
	assert.Equal(t, 1, s.LongestWinStreak)
}

func TestComputeStatistics_NoLosses(t *testing.T) {
	s := domain.ComputeStatistics([]domain.Position{
		closedPosition(10, domain.CloseTakeProfit, opened, time.Minute),
		closedPosition(20, domain.CloseTakeProfit, opened.Add(time.Hour), time.Minute),
	}, 100)

	// Sin pérdidas el ratio no está definido
	assert.Zero(t, s.ProfitFactor)
	assert.InDelta(t, 15.0, s.AvgWin, 1e-9)
	assert.Zero(t, s.MaxDrawdown)
	assert.Zero(t, s.MaxDrawdownPct)
	assert.Zero(t, s.AvgLoss)
}

func TestComputeStatistics_DrawdownPctTrackedSeparately(t *testing.T) {
	// 100 → 50 (-50%), luego pico 1000 → 900 (-10%, pero 100 absoluto)
	s := domain.ComputeStatistics([]domain.Position{
		closedPosition(-50, domain.CloseStopLoss, opened, time.Minute),
		closedPosition(950, domain.CloseTakeProfit, opened.Add(time.Hour), time.Minute),
		closedPosition(-100, domain.CloseStopLoss, opened.Add(2*time.Hour), time.Minute),
	}, 100)

	assert.InDelta(t, 100.0, s.MaxDrawdown, 1e-9)
	assert.InDelta(t, 50.0, s.MaxDrawdownPct, 1e-9)
}

func TestComputeStatistics_Empty(t *testing.T) {
	s := domain.ComputeStatistics(nil, 500)
	assert.Zero(t, s.TotalTrades)
	assert.InDelta(t, 500.0, s.FinalBalance, 1e-9)
	assert.NotNil(t, s.CloseReasons)
}

func TestEquityTracker(t *testing.T) {
	tr := domain.NewEquityTracker(1000)

	p := tr.Add(opened, 100)
	assert.InDelta(t, 1100.0, p.Equity, 1e-9)
	assert.Zero(t, p.DrawdownPct)

	p = tr.Add(opened.Add(time.Hour), -220)
	assert.InDelta(t, 880.0, p.Equity, 1e-9)
	assert.InDelta(t, 20.0, p.DrawdownPct, 1e-9)

	p = tr.Add(opened.Add(2*time.Hour), 0)
	assert.InDelta(t, 20.0, p.DrawdownPct, 1e-9)
	assert.InDelta(t, 880.0, tr.Equity(), 1e-9)
}

func TestResult_RejectionsByStage(t *testing.T) {
	r := domain.Result{Rejected: []domain.RejectedSignal{
		{Stage: domain.StageRisk},
		{Stage: domain.StageRisk},
		{Stage: domain.StageDuplicate},
	}}
	by := r.RejectionsByStage()
	assert.Equal(t, 2, by[domain.StageRisk])
	assert.Equal(t, 1, by[domain.StageDuplicate])
}
