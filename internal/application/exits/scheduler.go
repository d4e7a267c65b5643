package exits

// scheduler.go — take-profit escalonado con un trailing final.
//
// Los registros viven en una tabla densa direccionada por Handle. Liberar un
// handle lo deja como tombstone; el slot se reutiliza con una generación
// nueva, así que un handle viejo nunca alcanza el registro de otra posición.

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/oibacktest/internal/domain"
)

var (
	ErrUnknownHandle  = errors.New("unknown exit handle")
	ErrReleased       = errors.New("exit handle already released")
	ErrInvalidTargets = errors.New("invalid take-profit targets")
)

// Target configures one batch. Percent values are in percent units.
type Target struct {
	AllocationPct       float64 // of the initial quantity
	TargetProfitPct     float64 // fixed batches
	Trailing            bool
	TrailingCallbackPct float64 // share of the excursion given back before exiting
}

// Config is the dynamic take-profit plan. An empty plan disables the scheduler.
type Config struct {
	Targets []Target

	// Carried for config compatibility; trailing activation is gated on the
	// count of executed fixed batches instead.
	TrailingStartProfitPct float64
}

// Enabled reports whether the plan has any batch.
func (c Config) Enabled() bool { return len(c.Targets) > 0 }

// Validate checks allocations and the single-trailing rule.
func (c Config) Validate() error {
	total := decimal.Zero
	trailing := 0
	for i, t := range c.Targets {
		if t.AllocationPct <= 0 {
			return fmt.Errorf("exits: target %d: allocation %.2f%% must be positive: %w", i, t.AllocationPct, ErrInvalidTargets)
		}
		total = total.Add(decimal.NewFromFloat(t.AllocationPct))
		if t.Trailing {
			trailing++
			if t.TrailingCallbackPct <= 0 || t.TrailingCallbackPct >= 100 {
				return fmt.Errorf("exits: target %d: callback %.2f%% out of range: %w", i, t.TrailingCallbackPct, ErrInvalidTargets)
			}
			continue
		}
		if t.TargetProfitPct <= 0 {
			return fmt.Errorf("exits: target %d: profit %.2f%% must be positive: %w", i, t.TargetProfitPct, ErrInvalidTargets)
		}
	}
	if trailing > 1 {
		return fmt.Errorf("exits: %d trailing targets, at most one allowed: %w", trailing, ErrInvalidTargets)
	}
	if total.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("exits: allocations sum to %s%%: %w", total.String(), ErrInvalidTargets)
	}
	return nil
}

// Handle addresses one tracked position. The zero Handle is never valid.
type Handle struct {
	index      int
	generation uint32
}

type record struct {
	generation uint32
	live       bool

	positionID string
	symbol     string
	side       domain.Direction
	entry      float64
	initial    decimal.Decimal
	remaining  decimal.Decimal
	targets    []domain.TargetState

	fixedExecuted  int
	trailingActive bool
	best           float64
}

// Scheduler tracks the exit plan of every open position of a run.
// Not safe for concurrent use; each run owns its scheduler.
type Scheduler struct {
	records []record
	free    []int
	active  int
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// StartTracking registers a position with its exit plan.
func (s *Scheduler) StartTracking(positionID, symbol string, side domain.Direction, entry, qty float64, cfg Config) (Handle, error) {
	if err := cfg.Validate(); err != nil {
		return Handle{}, err
	}
	if side != domain.DirectionLong && side != domain.DirectionShort {
		return Handle{}, fmt.Errorf("exits.StartTracking %s: side %q: %w", positionID, side, ErrInvalidTargets)
	}

	targets := make([]domain.TargetState, len(cfg.Targets))
	for i, t := range cfg.Targets {
		targets[i] = domain.TargetState{
			AllocationPct:       t.AllocationPct,
			TargetProfitPct:     t.TargetProfitPct,
			TrailingCallbackPct: t.TrailingCallbackPct,
			Trailing:            t.Trailing,
		}
	}
	q := decimal.NewFromFloat(qty)
	rec := record{
		live:       true,
		positionID: positionID,
		symbol:     symbol,
		side:       side,
		entry:      entry,
		initial:    q,
		remaining:  q,
		targets:    targets,
	}

	var idx int
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
		rec.generation = s.records[idx].generation + 1
		s.records[idx] = rec
	} else {
		idx = len(s.records)
		rec.generation = 1
		s.records = append(s.records, rec)
	}
	s.active++
	return Handle{index: idx, generation: rec.generation}, nil
}

// UpdatePrice feeds one observation and returns the exits it triggers, in
// the order they must be applied. Fixed batches fire at most once each; the
// trailing batch becomes active after the first fixed batch executes.
func (s *Scheduler) UpdatePrice(h Handle, price float64, at time.Time) ([]domain.ExitAction, error) {
	rec, err := s.lookup(h)
	if err != nil {
		return nil, err
	}
	if !rec.remaining.IsPositive() {
		return nil, nil
	}

	var actions []domain.ExitAction
	for i := range rec.targets {
		t := &rec.targets[i]
		if t.Trailing || t.Executed {
			continue
		}
		target := domain.TakeProfitPrice(rec.side, rec.entry, t.TargetProfitPct)
		if !domain.ReachedFavorable(rec.side, price, target) {
			continue
		}
		qty := rec.take(t.AllocationPct)
		t.Executed = true
		t.ExecutedQuantity = qty.InexactFloat64()
		t.ExecutedPrice = price
		t.ExecutedAt = at
		rec.fixedExecuted++
		if qty.IsPositive() {
			actions = append(actions, domain.ExitAction{
				Type:       domain.ActionBatchTakeProfit,
				BatchIndex: i,
				Quantity:   t.ExecutedQuantity,
				Price:      price,
				At:         at,
			})
		}
	}

	if a, ok := rec.trail(price, at); ok {
		actions = append(actions, a)
	}

	for _, a := range actions {
		slog.Debug("exits: action",
			"position", rec.positionID,
			"symbol", rec.symbol,
			"type", a.Type,
			"qty", a.Quantity,
			"price", a.Price,
		)
	}
	return actions, nil
}

// StopTracking releases the handle. Releasing twice returns ErrReleased.
func (s *Scheduler) StopTracking(h Handle) error {
	rec, err := s.lookup(h)
	if err != nil {
		return err
	}
	rec.live = false
	rec.targets = nil
	s.free = append(s.free, h.index)
	s.active--
	return nil
}

// Remaining returns the quantity the plan still considers open.
func (s *Scheduler) Remaining(h Handle) (float64, error) {
	rec, err := s.lookup(h)
	if err != nil {
		return 0, err
	}
	return rec.remaining.InexactFloat64(), nil
}

// Targets returns a copy of the batch states.
func (s *Scheduler) Targets(h Handle) ([]domain.TargetState, error) {
	rec, err := s.lookup(h)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TargetState, len(rec.targets))
	copy(out, rec.targets)
	return out, nil
}

// Active returns how many handles are live.
func (s *Scheduler) Active() int { return s.active }

func (s *Scheduler) lookup(h Handle) (*record, error) {
	if h.generation == 0 || h.index < 0 || h.index >= len(s.records) {
		return nil, ErrUnknownHandle
	}
	rec := &s.records[h.index]
	switch {
	case h.generation == rec.generation && rec.live:
		return rec, nil
	case h.generation < rec.generation, h.generation == rec.generation && !rec.live:
		return nil, ErrReleased
	}
	return nil, ErrUnknownHandle
}

// take removes allocationPct of the initial quantity, capped at what remains.
func (r *record) take(allocationPct float64) decimal.Decimal {
	qty := r.initial.Mul(decimal.NewFromFloat(allocationPct)).Div(decimal.NewFromInt(100))
	if qty.GreaterThan(r.remaining) {
		qty = r.remaining
	}
	r.remaining = r.remaining.Sub(qty)
	return qty
}

func (r *record) trail(price float64, at time.Time) (domain.ExitAction, bool) {
	idx := -1
	for i := range r.targets {
		if r.targets[i].Trailing {
			idx = i
			break
		}
	}
	if idx < 0 || r.targets[idx].Executed || r.fixedExecuted == 0 || !r.remaining.IsPositive() {
		return domain.ExitAction{}, false
	}
	t := &r.targets[idx]

	if !r.trailingActive {
		r.trailingActive = true
		r.best = price
		return domain.ExitAction{}, false
	}
	// Un nuevo extremo sólo mueve el stop; no puede dispararlo en el mismo tick.
	if domain.ReachedFavorable(r.side, price, r.best) {
		r.best = price
		return domain.ExitAction{}, false
	}

	// Devuelve callback% del recorrido desde la entrada hasta el mejor precio.
	stop := r.entry + (r.best-r.entry)*(1-t.TrailingCallbackPct/100)
	if !domain.ReachedAdverse(r.side, price, stop) {
		return domain.ExitAction{}, false
	}

	qty := r.remaining
	r.remaining = decimal.Zero
	t.Executed = true
	t.ExecutedQuantity = qty.InexactFloat64()
	t.ExecutedPrice = price
	t.ExecutedAt = at
	return domain.ExitAction{
		Type:       domain.ActionTrailingStop,
		BatchIndex: idx,
		Quantity:   t.ExecutedQuantity,
		Price:      price,
		At:         at,
	}, true
}
