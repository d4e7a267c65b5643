package risk

import (
	"testing"
	"time"

	"github.com/alejandrodnm/oibacktest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func makeSignal(symbol string, strength domain.Strength, confidence float64) domain.Signal {
	return domain.Signal{
		Symbol:     symbol,
		Direction:  domain.DirectionLong,
		Strength:   strength,
		Confidence: confidence,
	}
}

func openPosition(symbol string, openedAt time.Time) domain.Position {
	return domain.Position{Symbol: symbol, Status: domain.PositionOpen, OpenedAt: openedAt}
}

func TestCanOpenPosition_Sizing(t *testing.T) {
	g := NewGate(DefaultConfig())

	d := g.CanOpenPosition(makeSignal("BTCUSDT", domain.StrengthMedium, 0.8), nil, 10000, t0)
	require.True(t, d.Allowed, d.Reason)
	// 10000 × 10% × 0.7 × 0.8
	assert.InDelta(t, 560.0, d.PositionSize, 1e-9)
	assert.Equal(t, 5, d.Leverage)

	d = g.CanOpenPosition(makeSignal("BTCUSDT", domain.StrengthStrong, 1.0), nil, 10000, t0)
	require.True(t, d.Allowed)
	assert.InDelta(t, 1000.0, d.PositionSize, 1e-9)
	assert.Equal(t, 10, d.Leverage)
}

func TestCanOpenPosition_LeverageCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLeverage = 4
	g := NewGate(cfg)

	d := g.CanOpenPosition(makeSignal("BTCUSDT", domain.StrengthStrong, 1), nil, 1000, t0)
	require.True(t, d.Allowed)
	assert.Equal(t, 4, d.Leverage)
}

func TestCanOpenPosition_ConsecutiveLossesPause(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsecutiveLossLimit = 3
	cfg.PauseAfterLossLimit = true
	cfg.DailyLossLimitPct = 0
	g := NewGate(cfg)
	sig := makeSignal("ETHUSDT", domain.StrengthWeak, 0.5)

	for range 3 {
		g.RecordTradeResult(-10, false, t0)
	}
	assert.False(t, g.CanOpenPosition(sig, nil, 10000, t0).Allowed)
	assert.True(t, g.Paused())

	// Una ganancia no reactiva el trading una vez pausado
	g.RecordTradeResult(50, true, t0)
	assert.False(t, g.CanOpenPosition(sig, nil, 10000, t0).Allowed)

	g.ResumeTrading()
	assert.True(t, g.CanOpenPosition(sig, nil, 10000, t0).Allowed)
	assert.Zero(t, g.ConsecutiveLosses())
}

func TestCanOpenPosition_WinResetsStreak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyLossLimitPct = 0
	g := NewGate(cfg)
	sig := makeSignal("ETHUSDT", domain.StrengthWeak, 0.5)

	g.RecordTradeResult(-1, false, t0)
	g.RecordTradeResult(-1, false, t0)
	g.RecordTradeResult(2, true, t0)
	g.RecordTradeResult(-1, false, t0)

	assert.Equal(t, 1, g.ConsecutiveLosses())
	assert.True(t, g.CanOpenPosition(sig, nil, 10000, t0).Allowed)
}

func TestCanOpenPosition_DailyLossLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyLossLimitPct = 5
	cfg.PauseAfterLossLimit = false
	cfg.ConsecutiveLossLimit = 0
	g := NewGate(cfg)
	sig := makeSignal("BTCUSDT", domain.StrengthStrong, 1)

	g.RecordTradeResult(-600, false, t0)
	d := g.CanOpenPosition(sig, nil, 10000, t0.Add(time.Hour))
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "daily loss")

	// Nuevo día UTC: el acumulador se reinicia
	d = g.CanOpenPosition(sig, nil, 10000, t0.Add(24*time.Hour))
	assert.True(t, d.Allowed, d.Reason)
}

func TestCanOpenPosition_Caps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOpenPositions = 2
	cfg.MaxPositionsPerSymbol = 1
	g := NewGate(cfg)

	positions := []domain.Position{openPosition("BTCUSDT", t0)}

	d := g.CanOpenPosition(makeSignal("BTCUSDT", domain.StrengthStrong, 1), positions, 10000, t0.Add(time.Minute))
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "BTCUSDT")

	d = g.CanOpenPosition(makeSignal("ETHUSDT", domain.StrengthStrong, 1), positions, 10000, t0.Add(time.Minute))
	assert.True(t, d.Allowed)

	positions = append(positions, openPosition("ETHUSDT", t0))
	d = g.CanOpenPosition(makeSignal("SOLUSDT", domain.StrengthStrong, 1), positions, 10000, t0.Add(time.Minute))
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "max open positions")
}

func TestCanOpenPosition_ClosedPositionsDoNotCount(t *testing.T) {
	g := NewGate(DefaultConfig())
	closed := domain.Position{
		Symbol:   "BTCUSDT",
		Status:   domain.PositionClosed,
		OpenedAt: t0,
		ClosedAt: t0.Add(10 * time.Minute),
	}

	// Aún abierta a los 5 minutos
	d := g.CanOpenPosition(makeSignal("BTCUSDT", domain.StrengthStrong, 1), []domain.Position{closed}, 10000, t0.Add(5*time.Minute))
	assert.False(t, d.Allowed)

	d = g.CanOpenPosition(makeSignal("BTCUSDT", domain.StrengthStrong, 1), []domain.Position{closed}, 10000, t0.Add(time.Hour))
	assert.True(t, d.Allowed)
}

func TestGate_ExitPrices(t *testing.T) {
	g := NewGate(DefaultConfig())
	assert.InDelta(t, 98.0, g.StopLossPrice(domain.DirectionLong, 100), 1e-9)
	assert.InDelta(t, 105.0, g.TakeProfitPrice(domain.DirectionLong, 100), 1e-9)
	assert.InDelta(t, 102.0, g.StopLossPrice(domain.DirectionShort, 100), 1e-9)
	assert.InDelta(t, 95.0, g.TakeProfitPrice(domain.DirectionShort, 100), 1e-9)
}
