package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/oibacktest/internal/domain"
)

// RunSummary is the persisted header of a backtest run.
type RunSummary struct {
	ID         string
	Name       string
	CreatedAt  time.Time
	From       time.Time
	To         time.Time
	Statistics domain.Statistics
}

// ResultStorage persists backtest results.
type ResultStorage interface {
	// SaveResult stores a whole run and returns its generated ID.
	SaveResult(ctx context.Context, name string, from, to time.Time, result *domain.Result) (string, error)

	// ListRuns returns stored runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)

	// GetRunPositions returns the positions stored for one run, in open order.
	GetRunPositions(ctx context.Context, runID string) ([]domain.Position, error)
}
