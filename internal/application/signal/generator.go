package signal

import (
	"errors"
	"fmt"
	"math"

	"github.com/alejandrodnm/oibacktest/internal/domain"
)

// ErrInvalidEvent is returned for events that cannot be scored at all.
var ErrInvalidEvent = errors.New("invalid anomaly event")

// RejectError is returned when the heuristic declines an otherwise valid event.
type RejectError struct {
	Stage  string // veto name, "score" or "direction"
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Reason)
}

// Config holds the thresholds of the scoring heuristic. Percent values are in percent units.
type Config struct {
	MinTotalScore    float64
	StrongScore      float64
	MediumScore      float64
	MinOIChangePct   float64
	MinPriceMovePct  float64
	NeutralSentiment float64 // used when no sentiment ratio is present
	FundingScore     float64 // placeholder, not derived from live funding

	Veto VetoConfig
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MinTotalScore:    4,
		StrongScore:      7,
		MediumScore:      5,
		MinOIChangePct:   3,
		MinPriceMovePct:  0.5,
		NeutralSentiment: 1.0,
		FundingScore:     1.0,
		Veto:             DefaultVetoConfig(),
	}
}

type exitPcts struct {
	stopLoss   float64
	takeProfit float64
}

// Suggested stop/target distances per strength; advisory only.
var suggestedExits = map[domain.Strength]exitPcts{
	domain.StrengthStrong: {stopLoss: 1.5, takeProfit: 6},
	domain.StrengthMedium: {stopLoss: 2, takeProfit: 5},
	domain.StrengthWeak:   {stopLoss: 2.5, takeProfit: 4},
}

// Generator turns anomaly events into trade signals.
type Generator struct {
	cfg    Config
	vetoes []veto
}

// NewGenerator creates a Generator with the given thresholds.
func NewGenerator(cfg Config) *Generator {
	return &Generator{cfg: cfg, vetoes: vetoChain(cfg.Veto)}
}

// Generate scores one event. A *RejectError means the event was judged and
// declined; any other error means it could not be scored.
func (g *Generator) Generate(ev domain.AnomalyEvent) (domain.Signal, error) {
	if err := validate(ev); err != nil {
		return domain.Signal{}, err
	}

	in := vetoInput{
		event:    ev,
		oiPct:    ev.PercentChange,
		pricePct: ev.PriceChangePercent(),
	}
	in.implied = impliedDirection(in.pricePct)

	for _, v := range g.vetoes {
		if reason, vetoed := v.check(in); vetoed {
			return domain.Signal{}, &RejectError{Stage: v.name, Reason: reason}
		}
	}

	scores := domain.ScoreBreakdown{
		OI:        oiScore(in.oiPct),
		Price:     priceScore(in.oiPct, in.pricePct),
		Sentiment: sentimentScore(ev, in.implied, g.cfg.NeutralSentiment),
		Funding:   g.cfg.FundingScore,
	}
	total := scores.Total()
	if total < g.cfg.MinTotalScore {
		return domain.Signal{}, &RejectError{
			Stage:  "score",
			Reason: fmt.Sprintf("total score %.2f below %.2f", total, g.cfg.MinTotalScore),
		}
	}

	dir := g.direction(in.oiPct, in.pricePct)
	if dir == domain.DirectionNeutral {
		return domain.Signal{}, &RejectError{
			Stage: "direction",
			Reason: fmt.Sprintf("neutral: oi %.2f%% / price %.2f%% below thresholds or opposite signs",
				in.oiPct, in.pricePct),
		}
	}

	strength := g.strength(total)
	exits := suggestedExits[strength]
	entry := ev.PriceAfter

	return domain.Signal{
		Symbol:          ev.Symbol,
		AnomalyID:       ev.ID,
		AnomalyTime:     ev.AnomalyTime,
		Direction:       dir,
		Strength:        strength,
		Scores:          scores,
		TotalScore:      total,
		Confidence:      confidence(total, ev),
		EntryPrice:      entry,
		StopLossPrice:   domain.StopLossPrice(dir, entry, exits.stopLoss),
		TakeProfitPrice: domain.TakeProfitPrice(dir, entry, exits.takeProfit),
	}, nil
}

func (g *Generator) strength(total float64) domain.Strength {
	switch {
	case total >= g.cfg.StrongScore:
		return domain.StrengthStrong
	case total >= g.cfg.MediumScore:
		return domain.StrengthMedium
	default:
		return domain.StrengthWeak
	}
}

// direction requires both moves above threshold and with the same sign.
func (g *Generator) direction(oiPct, pricePct float64) domain.Direction {
	if math.Abs(oiPct) < g.cfg.MinOIChangePct || math.Abs(pricePct) < g.cfg.MinPriceMovePct {
		return domain.DirectionNeutral
	}
	switch {
	case oiPct > 0 && pricePct > 0:
		return domain.DirectionLong
	case oiPct < 0 && pricePct < 0:
		return domain.DirectionShort
	}
	return domain.DirectionNeutral
}

func impliedDirection(pricePct float64) domain.Direction {
	switch {
	case pricePct > 0:
		return domain.DirectionLong
	case pricePct < 0:
		return domain.DirectionShort
	}
	return domain.DirectionNeutral
}

// confidence = 0.4·score/10 + 0.3·optional fields present + 0.3·severity.
func confidence(total float64, ev domain.AnomalyEvent) float64 {
	c := 0.4*(total/10) +
		0.3*(float64(ev.OptionalFieldsPresent())/3) +
		0.3*ev.Severity.Weight()
	return clamp(c, 0, 1)
}

func validate(ev domain.AnomalyEvent) error {
	if ev.Symbol == "" {
		return fmt.Errorf("signal.Generate: empty symbol: %w", ErrInvalidEvent)
	}
	for _, v := range []float64{ev.PercentChange, ev.PriceBefore, ev.PriceAfter} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("signal.Generate %s: non-finite value: %w", ev.Symbol, ErrInvalidEvent)
		}
	}
	if ev.PriceBefore <= 0 || ev.PriceAfter <= 0 {
		return fmt.Errorf("signal.Generate %s: non-positive price: %w", ev.Symbol, ErrInvalidEvent)
	}
	return nil
}
