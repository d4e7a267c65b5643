package backtest

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/alejandrodnm/oibacktest/internal/application/exits"
	"github.com/alejandrodnm/oibacktest/internal/application/risk"
	"github.com/alejandrodnm/oibacktest/internal/application/signal"
	"github.com/alejandrodnm/oibacktest/internal/domain"
)

// ErrInvalidConfig is returned by Run when the configuration cannot be simulated.
var ErrInvalidConfig = errors.New("invalid backtest config")

const defaultDuplicateWindow = 10 * time.Second

// Config drives one backtest run. Percent values are in percent units.
type Config struct {
	Start          time.Time
	End            time.Time
	InitialBalance float64
	SlippagePct    float64
	CommissionPct  float64
	MaxHoldingTime time.Duration

	// AllowedDirections empty means both sides are traded.
	AllowedDirections []domain.Direction
	// DuplicateWindow zero falls back to 10s.
	DuplicateWindow time.Duration

	Signal     signal.Config
	Risk       risk.Config
	TakeProfit exits.Config // dynamic take-profit when it has targets
	Filter     ThresholdFilter
}

// DefaultConfig returns a config with the production heuristics and no date range.
func DefaultConfig() Config {
	return Config{
		InitialBalance:  10000,
		SlippagePct:     0.05,
		CommissionPct:   0.04,
		MaxHoldingTime:  4 * time.Hour,
		DuplicateWindow: defaultDuplicateWindow,
		Signal:          signal.DefaultConfig(),
		Risk:            risk.DefaultConfig(),
	}
}

// Validate rejects configs the simulator cannot run.
func (c Config) Validate() error {
	if c.InitialBalance <= 0 {
		return fmt.Errorf("initial balance %.2f must be positive: %w", c.InitialBalance, ErrInvalidConfig)
	}
	if !c.Start.IsZero() && !c.End.IsZero() && !c.End.After(c.Start) {
		return fmt.Errorf("end %s not after start %s: %w", c.End.Format(time.RFC3339), c.Start.Format(time.RFC3339), ErrInvalidConfig)
	}
	if c.MaxHoldingTime <= 0 {
		return fmt.Errorf("max holding time %s must be positive: %w", c.MaxHoldingTime, ErrInvalidConfig)
	}
	if c.SlippagePct < 0 || c.CommissionPct < 0 {
		return fmt.Errorf("negative slippage or commission: %w", ErrInvalidConfig)
	}
	for _, d := range c.AllowedDirections {
		if d != domain.DirectionLong && d != domain.DirectionShort {
			return fmt.Errorf("allowed direction %q: %w", d, ErrInvalidConfig)
		}
	}
	if err := c.TakeProfit.Validate(); err != nil {
		return fmt.Errorf("take profit: %w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) duplicateWindow() time.Duration {
	if c.DuplicateWindow <= 0 {
		return defaultDuplicateWindow
	}
	return c.DuplicateWindow
}

func (c Config) directionAllowed(d domain.Direction) bool {
	return len(c.AllowedDirections) == 0 || slices.Contains(c.AllowedDirections, d)
}

// clone deep-copies the slices and maps so sweep variants never share state.
func (c Config) clone() Config {
	out := c
	out.AllowedDirections = slices.Clone(c.AllowedDirections)
	out.Risk.LeverageByStrength = maps.Clone(c.Risk.LeverageByStrength)
	out.TakeProfit.Targets = slices.Clone(c.TakeProfit.Targets)
	return out
}
