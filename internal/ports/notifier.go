package ports

import (
	"context"

	"github.com/alejandrodnm/oibacktest/internal/domain"
)

// Reporter presenta el resultado de un backtest al usuario.
type Reporter interface {
	Report(ctx context.Context, name string, result *domain.Result) error
}
