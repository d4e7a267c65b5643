package signal

// veto.go — cadena ordenada de vetos anti "chase high".
//
// Cada veto es un predicado con nombre; el primero que dispara rechaza el
// evento. El orden es parte del contrato: cambiarlo cambia qué razón se
// reporta cuando varios vetos aplican a la vez.

import (
	"fmt"
	"math"

	"github.com/alejandrodnm/oibacktest/internal/domain"
)

// VetoConfig contiene los umbrales de la cadena de vetos (en %).
type VetoConfig struct {
	MaxMoveFromExtremePct float64 // precio ya alejado del mínimo/máximo del día
	MaxOIChangePct        float64 // euforia de fase tardía
	MaxPriceChangePct     float64
	DivergenceOIPct       float64 // OI entra sin confirmación de precio...
	DivergencePricePct    float64 // ...si el precio se mueve menos que esto
	TopTraderMinLong      float64 // LONG vetado si el ratio top-trader es menor
	TopTraderMaxShort     float64 // SHORT vetado si el ratio top-trader es mayor
}

// DefaultVetoConfig devuelve los umbrales de producción.
func DefaultVetoConfig() VetoConfig {
	return VetoConfig{
		MaxMoveFromExtremePct: 10,
		MaxOIChangePct:        20,
		MaxPriceChangePct:     15,
		DivergenceOIPct:       8,
		DivergencePricePct:    1,
		TopTraderMinLong:      0.8,
		TopTraderMaxShort:     1.25,
	}
}

type vetoInput struct {
	event    domain.AnomalyEvent
	oiPct    float64
	pricePct float64
	implied  domain.Direction
}

type veto struct {
	name  string
	check func(in vetoInput) (reason string, vetoed bool)
}

// vetoChain construye la cadena en el orden en que se evalúa.
func vetoChain(cfg VetoConfig) []veto {
	return []veto{
		{name: "chase_extreme", check: chaseExtreme(cfg.MaxMoveFromExtremePct)},
		{name: "oi_euphoria", check: oiEuphoria(cfg.MaxOIChangePct)},
		{name: "price_spike", check: priceSpike(cfg.MaxPriceChangePct)},
		{name: "oi_price_divergence", check: divergence(cfg.DivergenceOIPct, cfg.DivergencePricePct)},
		{name: "top_trader_opposed", check: topTraderOpposed(cfg.TopTraderMinLong, cfg.TopTraderMaxShort)},
	}
}

func chaseExtreme(maxPct float64) func(vetoInput) (string, bool) {
	return func(in vetoInput) (string, bool) {
		price := in.event.PriceAfter
		switch in.implied {
		case domain.DirectionLong:
			low := in.event.DailyLow
			if low <= 0 {
				return "", false
			}
			if move := (price - low) / low * 100; move >= maxPct {
				return fmt.Sprintf("price %.2f%% above daily low (max %.0f%%)", move, maxPct), true
			}
		case domain.DirectionShort:
			high := in.event.DailyHigh
			if high <= 0 {
				return "", false
			}
			if move := (high - price) / high * 100; move >= maxPct {
				return fmt.Sprintf("price %.2f%% below daily high (max %.0f%%)", move, maxPct), true
			}
		}
		return "", false
	}
}

func oiEuphoria(maxPct float64) func(vetoInput) (string, bool) {
	return func(in vetoInput) (string, bool) {
		if math.Abs(in.oiPct) > maxPct {
			return fmt.Sprintf("|oi change| %.2f%% > %.0f%%", math.Abs(in.oiPct), maxPct), true
		}
		return "", false
	}
}

func priceSpike(maxPct float64) func(vetoInput) (string, bool) {
	return func(in vetoInput) (string, bool) {
		if math.Abs(in.pricePct) > maxPct {
			return fmt.Sprintf("|price change| %.2f%% > %.0f%%", math.Abs(in.pricePct), maxPct), true
		}
		return "", false
	}
}

func divergence(oiPct, pricePct float64) func(vetoInput) (string, bool) {
	return func(in vetoInput) (string, bool) {
		if in.oiPct > oiPct && math.Abs(in.pricePct) < pricePct {
			return fmt.Sprintf("oi +%.2f%% without price confirmation (%.2f%%)", in.oiPct, in.pricePct), true
		}
		return "", false
	}
}

func topTraderOpposed(minLong, maxShort float64) func(vetoInput) (string, bool) {
	return func(in vetoInput) (string, bool) {
		r := in.event.TopTraderLongShortRatio
		if r == nil {
			return "", false
		}
		switch {
		case in.implied == domain.DirectionLong && *r < minLong:
			return fmt.Sprintf("top traders net short (ratio %.2f) against long", *r), true
		case in.implied == domain.DirectionShort && *r > maxShort:
			return fmt.Sprintf("top traders net long (ratio %.2f) against short", *r), true
		}
		return "", false
	}
}
