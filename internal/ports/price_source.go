package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/oibacktest/internal/domain"
)

// PriceSource devuelve la serie histórica de precios de un símbolo.
// Las implementaciones deben soportar lecturas concurrentes: los sweeps
// ejecutan varios engines en paralelo sobre la misma fuente.
type PriceSource interface {
	// PriceRange devuelve los puntos con timestamp en [from, to], ordenados ascendente.
	PriceRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.PricePoint, error)
}
