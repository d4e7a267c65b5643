package signal

import (
	"math"

	"github.com/alejandrodnm/oibacktest/internal/domain"
)

// oiScore (0–3) peaks for OI changes between 5% and 10%.
func oiScore(oiPct float64) float64 {
	a := math.Abs(oiPct)
	var s float64
	switch {
	case a < 3:
		s = lerp(a, 0, 3, 0, 1)
	case a < 5:
		s = lerp(a, 3, 5, 1, 2.5)
	case a <= 10:
		s = 3
	case a <= 20:
		s = lerp(a, 10, 20, 3, 1)
	default:
		s = 0.5
	}
	return clamp(s, 0, 3)
}

// priceScore (0–2) is zero when price and OI move in opposite directions,
// and peaks for price moves between 2% and 4%.
func priceScore(oiPct, pricePct float64) float64 {
	if oiPct*pricePct <= 0 {
		return 0
	}
	a := math.Abs(pricePct)
	var s float64
	switch {
	case a < 0.5:
		s = lerp(a, 0, 0.5, 0, 0.5)
	case a < 2:
		s = lerp(a, 0.5, 2, 0.5, 1.5)
	case a <= 4:
		s = 2
	case a <= 15:
		s = lerp(a, 4, 15, 2, 0.5)
	}
	return clamp(s, 0, 2)
}

// sentimentScore (0–3) averages the available normalised ratios.
func sentimentScore(ev domain.AnomalyEvent, dir domain.Direction, neutral float64) float64 {
	short := dir == domain.DirectionShort

	var parts []float64
	if r := ev.TopTraderLongShortRatio; r != nil {
		parts = append(parts, topTraderSentiment(*r, short))
	}
	if r := ev.TakerBuySellRatio; r != nil {
		parts = append(parts, takerSentiment(*r, short))
	}
	if r := ev.GlobalLongShortRatio; r != nil {
		parts = append(parts, globalSentiment(*r, short))
	}
	if len(parts) == 0 {
		return clamp(neutral, 0, 3)
	}

	sum := 0.0
	for _, p := range parts {
		sum += p
	}
	return clamp(3*sum/float64(len(parts)), 0, 3)
}

// topTraderSentiment: longs want smart money long, shorts want it short.
func topTraderSentiment(r float64, short bool) float64 {
	if short {
		switch {
		case r <= 0.67:
			return 1
		case r <= 1:
			return lerp(r, 1, 0.67, 0.5, 1)
		default:
			return lerp(r, 1, 1.5, 0.5, 0)
		}
	}
	switch {
	case r >= 1.5:
		return 1
	case r >= 1:
		return lerp(r, 1, 1.5, 0.5, 1)
	default:
		return lerp(r, 0.5, 1, 0, 0.5)
	}
}

// takerSentiment: aggressive buyers confirm longs, aggressive sellers confirm shorts.
func takerSentiment(r float64, short bool) float64 {
	if short {
		switch {
		case r <= 0.8:
			return 1
		case r <= 1:
			return lerp(r, 1, 0.8, 0.5, 1)
		default:
			return lerp(r, 1, 1.2, 0.5, 0)
		}
	}
	switch {
	case r >= 1.2:
		return 1
	case r >= 1:
		return lerp(r, 1, 1.2, 0.5, 1)
	default:
		return lerp(r, 0.8, 1, 0, 0.5)
	}
}

// globalSentiment is contrarian: a crowded retail long side hurts longs and helps shorts.
func globalSentiment(r float64, short bool) float64 {
	if short {
		switch {
		case r >= 1.5:
			return 1
		case r >= 1:
			return lerp(r, 1, 1.5, 0.5, 1)
		default:
			return lerp(r, 0.5, 1, 0, 0.5)
		}
	}
	switch {
	case r <= 1:
		return 1
	case r <= 2:
		return lerp(r, 1, 2, 1, 0.3)
	default:
		return lerp(r, 2, 3, 0.3, 0)
	}
}

// lerp maps x from [x0, x1] onto [y0, y1], clamped to the output range.
func lerp(x, x0, x1, y0, y1 float64) float64 {
	if x1 == x0 {
		return y0
	}
	y := y0 + (x-x0)/(x1-x0)*(y1-y0)
	return clamp(y, math.Min(y0, y1), math.Max(y0, y1))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
