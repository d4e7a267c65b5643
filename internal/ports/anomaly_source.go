package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/oibacktest/internal/domain"
)

// AnomalySource devuelve el stream histórico de anomalías.
type AnomalySource interface {
	// ListAnomalies devuelve las anomalías con anomaly_time en [from, to],
	// ordenadas por anomaly_time ascendente.
	ListAnomalies(ctx context.Context, from, to time.Time) ([]domain.AnomalyEvent, error)
}

// SymbolBlacklist indica qué símbolos no deben operarse nunca.
type SymbolBlacklist interface {
	Blacklist(ctx context.Context) (map[string]bool, error)
}
