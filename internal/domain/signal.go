package domain

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the side a signal proposes to trade.
type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionNeutral Direction = "NEUTRAL"
)

// ParseDirection accepts LONG/SHORT in any case.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case DirectionLong:
		return DirectionLong, nil
	case DirectionShort:
		return DirectionShort, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// Strength is the discrete quality tier of a signal.
type Strength string

const (
	StrengthWeak   Strength = "WEAK"
	StrengthMedium Strength = "MEDIUM"
	StrengthStrong Strength = "STRONG"
)

// Rank orders strengths so filters can compare them (WEAK=1 … STRONG=3, unknown=0).
func (s Strength) Rank() int {
	switch s {
	case StrengthWeak:
		return 1
	case StrengthMedium:
		return 2
	case StrengthStrong:
		return 3
	}
	return 0
}

// ParseStrength accepts WEAK/MEDIUM/STRONG in any case.
func ParseStrength(s string) (Strength, error) {
	st := Strength(strings.ToUpper(strings.TrimSpace(s)))
	if st.Rank() == 0 {
		return "", fmt.Errorf("unknown strength %q", s)
	}
	return st, nil
}

// ScoreBreakdown holds the clamped component scores of a signal.
type ScoreBreakdown struct {
	OI        float64 // 0–3
	Price     float64 // 0–2
	Sentiment float64 // 0–3
	Funding   float64 // fixed neutral value
}

// Total sums the components.
func (b ScoreBreakdown) Total() float64 {
	return b.OI + b.Price + b.Sentiment + b.Funding
}

// Signal is the directional trade proposal derived from one anomaly.
// Created once per event and never mutated afterwards.
type Signal struct {
	Symbol      string
	AnomalyID   int64
	AnomalyTime time.Time
	Direction   Direction
	Strength    Strength
	Scores      ScoreBreakdown
	TotalScore  float64
	Confidence  float64

	// Advisory only; orders use the risk config percentages on the actual entry.
	EntryPrice      float64
	StopLossPrice   float64
	TakeProfitPrice float64
}

// RiskDecision is the outcome of the risk gate for one signal.
type RiskDecision struct {
	Allowed      bool
	Reason       string
	PositionSize float64 // notional in quote currency
	Leverage     int
}
