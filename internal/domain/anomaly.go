package domain

import "time"

// Severity is the detector's classification of an anomaly.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Weight maps the severity to the confidence component used by the signal generator.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityHigh:
		return 1.0
	case SeverityMedium:
		return 0.7
	default:
		return 0.4
	}
}

// AnomalyEvent is an open-interest/price deviation detected upstream.
// Immutable once loaded; the optional ratios are nil when the detector did not record them.
type AnomalyEvent struct {
	ID            int64
	Symbol        string
	Period        string // OI sampling period, e.g. "5m"
	AnomalyTime   time.Time
	PercentChange float64 // open-interest change in percent
	PriceBefore   float64
	PriceAfter    float64
	Severity      Severity

	TopTraderLongShortRatio *float64
	TakerBuySellRatio       *float64
	GlobalLongShortRatio    *float64

	DailyHigh float64
	DailyLow  float64
}

// PriceChangePercent returns the price move across the anomaly window in percent.
func (e AnomalyEvent) PriceChangePercent() float64 {
	if e.PriceBefore <= 0 {
		return 0
	}
	return (e.PriceAfter - e.PriceBefore) / e.PriceBefore * 100
}

// OptionalFieldsPresent returns how many of the optional sentiment ratios are set.
func (e AnomalyEvent) OptionalFieldsPresent() int {
	n := 0
	for _, v := range []*float64{e.TopTraderLongShortRatio, e.TakerBuySellRatio, e.GlobalLongShortRatio} {
		if v != nil {
			n++
		}
	}
	return n
}

// PricePoint is one observation of a symbol's historical price series.
type PricePoint struct {
	Symbol       string
	Timestamp    time.Time
	Price        float64
	OpenInterest float64
}
