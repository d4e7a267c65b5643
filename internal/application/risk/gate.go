package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/alejandrodnm/oibacktest/internal/domain"
)

// Config holds the risk limits. Percent values are in percent units.
type Config struct {
	MaxOpenPositions      int
	MaxPositionsPerSymbol int
	BasePositionPct       float64 // of balance, before strength and confidence scaling
	DailyLossLimitPct     float64
	ConsecutiveLossLimit  int
	PauseAfterLossLimit   bool
	MaxLeverage           int
	LeverageByStrength    map[domain.Strength]int
	StopLossPct           float64
	TakeProfitPct         float64
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		MaxOpenPositions:      5,
		MaxPositionsPerSymbol: 1,
		BasePositionPct:       10,
		DailyLossLimitPct:     5,
		ConsecutiveLossLimit:  3,
		PauseAfterLossLimit:   true,
		MaxLeverage:           10,
		LeverageByStrength: map[domain.Strength]int{
			domain.StrengthStrong: 10,
			domain.StrengthMedium: 5,
			domain.StrengthWeak:   3,
		},
		StopLossPct:   2,
		TakeProfitPct: 5,
	}
}

var strengthMultiplier = map[domain.Strength]float64{
	domain.StrengthStrong: 1.0,
	domain.StrengthMedium: 0.7,
	domain.StrengthWeak:   0.5,
}

// Gate enforces position limits and loss breakers for one backtest run.
// Not safe for concurrent use; each run owns its gate.
type Gate struct {
	cfg Config

	dailyPnL          float64
	day               time.Time // UTC date the daily accumulator belongs to
	consecutiveLosses int
	paused            bool
}

// NewGate creates a Gate with zeroed counters.
func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// CanOpenPosition decides whether sig may open a position given the
// positions known so far and the current balance. Only positions open at
// asOf count toward the caps.
func (g *Gate) CanOpenPosition(sig domain.Signal, positions []domain.Position, balance float64, asOf time.Time) domain.RiskDecision {
	g.rollDay(asOf)

	if g.paused {
		return deny("trading paused")
	}

	if g.cfg.DailyLossLimitPct > 0 {
		limit := balance * g.cfg.DailyLossLimitPct / 100
		if g.dailyPnL < -limit {
			if g.cfg.PauseAfterLossLimit {
				g.paused = true
			}
			return deny(fmt.Sprintf("daily loss %.2f exceeds limit %.2f", -g.dailyPnL, limit))
		}
	}

	if g.cfg.ConsecutiveLossLimit > 0 && g.consecutiveLosses >= g.cfg.ConsecutiveLossLimit {
		if g.cfg.PauseAfterLossLimit {
			g.paused = true
		}
		return deny(fmt.Sprintf("%d consecutive losses", g.consecutiveLosses))
	}

	open, perSymbol := 0, 0
	for i := range positions {
		if !positions[i].IsOpenAt(asOf) {
			continue
		}
		open++
		if positions[i].Symbol == sig.Symbol {
			perSymbol++
		}
	}
	if g.cfg.MaxOpenPositions > 0 && open >= g.cfg.MaxOpenPositions {
		return deny(fmt.Sprintf("max open positions reached (%d)", open))
	}
	if g.cfg.MaxPositionsPerSymbol > 0 && perSymbol >= g.cfg.MaxPositionsPerSymbol {
		return deny(fmt.Sprintf("max positions for %s reached (%d)", sig.Symbol, perSymbol))
	}

	size := balance * g.cfg.BasePositionPct / 100 * multiplier(sig.Strength) * sig.Confidence
	if size <= 0 || math.IsNaN(size) {
		return deny(fmt.Sprintf("non-positive position size %.4f", size))
	}
	return domain.RiskDecision{
		Allowed:      true,
		PositionSize: size,
		Leverage:     g.leverage(sig.Strength),
	}
}

// RecordTradeResult feeds a closed position back into the breakers.
func (g *Gate) RecordTradeResult(pnl float64, isWin bool, at time.Time) {
	g.rollDay(at)
	g.dailyPnL += pnl
	if isWin {
		g.consecutiveLosses = 0
	} else {
		g.consecutiveLosses++
	}
}

// PauseTrading blocks new positions until ResumeTrading.
func (g *Gate) PauseTrading() { g.paused = true }

// ResumeTrading clears the pause and the consecutive-loss streak.
func (g *Gate) ResumeTrading() {
	g.paused = false
	g.consecutiveLosses = 0
}

// Paused reports whether the gate is blocking new positions.
func (g *Gate) Paused() bool { return g.paused }

// ConsecutiveLosses returns the current losing streak.
func (g *Gate) ConsecutiveLosses() int { return g.consecutiveLosses }

// StopLossPrice applies the configured stop-loss percent to the actual entry.
func (g *Gate) StopLossPrice(side domain.Direction, entry float64) float64 {
	return domain.StopLossPrice(side, entry, g.cfg.StopLossPct)
}

// TakeProfitPrice applies the configured take-profit percent to the actual entry.
func (g *Gate) TakeProfitPrice(side domain.Direction, entry float64) float64 {
	return domain.TakeProfitPrice(side, entry, g.cfg.TakeProfitPct)
}

func (g *Gate) leverage(s domain.Strength) int {
	lev := g.cfg.LeverageByStrength[s]
	if lev <= 0 {
		lev = 1
	}
	if g.cfg.MaxLeverage > 0 && lev > g.cfg.MaxLeverage {
		lev = g.cfg.MaxLeverage
	}
	return lev
}

// rollDay resets the daily accumulator when t falls on a new UTC date.
func (g *Gate) rollDay(t time.Time) {
	if t.IsZero() {
		return
	}
	d := t.UTC().Truncate(24 * time.Hour)
	if !d.Equal(g.day) {
		g.day = d
		g.dailyPnL = 0
	}
}

func multiplier(s domain.Strength) float64 {
	if m, ok := strengthMultiplier[s]; ok {
		return m
	}
	return strengthMultiplier[domain.StrengthWeak]
}

func deny(reason string) domain.RiskDecision {
	return domain.RiskDecision{Allowed: false, Reason: reason}
}
