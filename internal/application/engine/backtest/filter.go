package backtest

import (
	"fmt"
	"math"
	"time"

	"github.com/alejandrodnm/oibacktest/internal/domain"
)

// StrategyFilter is an extra veto applied to generated signals before risk.
type StrategyFilter interface {
	Allow(sig domain.Signal) (ok bool, reason string)
}

// ThresholdFilter drops signals below a confidence or strength floor.
// The zero value allows everything.
type ThresholdFilter struct {
	MinConfidence float64
	MinStrength   domain.Strength
}

func (f ThresholdFilter) Allow(sig domain.Signal) (bool, string) {
	if sig.Confidence < f.MinConfidence {
		return false, fmt.Sprintf("confidence %.2f below %.2f", sig.Confidence, f.MinConfidence)
	}
	if f.MinStrength != "" && sig.Strength.Rank() < f.MinStrength.Rank() {
		return false, fmt.Sprintf("strength %s below %s", sig.Strength, f.MinStrength)
	}
	return true, ""
}

// duplicateOf returns the position for symbol opened within window of t, if any.
func duplicateOf(positions []domain.Position, symbol string, t time.Time, window time.Duration) (*domain.Position, bool) {
	for i := range positions {
		p := &positions[i]
		if p.Symbol != symbol {
			continue
		}
		if d := p.OpenedAt.Sub(t); math.Abs(float64(d)) <= float64(window) {
			return p, true
		}
	}
	return nil, false
}
