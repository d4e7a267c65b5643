package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus moves monotonically OPEN → PARTIALLY_CLOSED* → CLOSED.
type PositionStatus string

const (
	PositionOpen            PositionStatus = "OPEN"
	PositionPartiallyClosed PositionStatus = "PARTIALLY_CLOSED"
	PositionClosed          PositionStatus = "CLOSED"
)

// CloseReason names the exit path of a leg or of the whole position.
type CloseReason string

const (
	CloseTakeProfit      CloseReason = "TAKE_PROFIT"
	CloseBatchTakeProfit CloseReason = "BATCH_TAKE_PROFIT"
	CloseTrailingStop    CloseReason = "TRAILING_STOP"
	CloseStopLoss        CloseReason = "STOP_LOSS"
	CloseLiquidation     CloseReason = "LIQUIDATION"
	CloseTimeout         CloseReason = "TIMEOUT"
)

// ErrPositionClosed is returned when an exit is applied to a closed position.
var ErrPositionClosed = errors.New("position already closed")

// ExitLeg is one (partial or final) exit fill.
type ExitLeg struct {
	Reason     CloseReason
	Quantity   float64
	Price      float64
	PnL        float64 // gross, before commission
	Commission float64
	At         time.Time
}

// Position is a simulated isolated-margin futures position.
// Owned by the simulation loop for its whole lifetime.
type Position struct {
	ID                string
	Symbol            string
	Side              Direction
	Strength          Strength
	Confidence        float64
	EntryPrice        float64
	InitialQuantity   float64
	RemainingQuantity float64
	Leverage          int
	Notional          float64
	Margin            float64
	StopLossPrice     float64
	TakeProfitPrice   float64
	LiquidationPrice  float64
	Status            PositionStatus
	RealizedPnL       float64 // net of commission
	Commission        float64
	ExitPrice         float64 // quantity-weighted average of all legs
	CloseReason       CloseReason
	OpenedAt          time.Time
	ClosedAt          time.Time
	Legs              []ExitLeg
	Degraded          bool // closed without price data
}

// IsOpen reports whether the position still holds quantity.
func (p *Position) IsOpen() bool {
	return p.Status != PositionClosed
}

// IsOpenAt reports whether the position was holding quantity at t.
func (p *Position) IsOpenAt(t time.Time) bool {
	if p.OpenedAt.After(t) {
		return false
	}
	return p.Status != PositionClosed || p.ClosedAt.After(t)
}

// HoldingTime returns how long the position stayed open (0 while open).
func (p *Position) HoldingTime() time.Duration {
	if p.Status != PositionClosed {
		return 0
	}
	return p.ClosedAt.Sub(p.OpenedAt)
}

// IsWin reports whether the closed position made money after commission.
func (p *Position) IsWin() bool {
	return p.RealizedPnL > 0
}

// ApplyExit books a fill of qty at price. The quantity is capped at the
// remaining quantity; when nothing remains the position is closed with reason.
func (p *Position) ApplyExit(reason CloseReason, qty, price, commissionPct float64, at time.Time) (ExitLeg, error) {
	if p.Status == PositionClosed {
		return ExitLeg{}, fmt.Errorf("domain.ApplyExit %s: %w", p.ID, ErrPositionClosed)
	}
	remaining := decimal.NewFromFloat(p.RemainingQuantity)
	q := decimal.NewFromFloat(qty)
	if q.GreaterThan(remaining) {
		q = remaining
	}
	if q.IsNegative() {
		q = decimal.Zero
	}

	fillQty := q.InexactFloat64()
	gross := decimal.NewFromFloat(PnL(p.Side, p.EntryPrice, price, fillQty))
	fee := decimal.NewFromFloat(Commission(price, fillQty, commissionPct))

	leg := ExitLeg{
		Reason:     reason,
		Quantity:   fillQty,
		Price:      price,
		PnL:        gross.InexactFloat64(),
		Commission: fee.InexactFloat64(),
		At:         at,
	}
	p.Legs = append(p.Legs, leg)

	p.RealizedPnL = decimal.NewFromFloat(p.RealizedPnL).Add(gross).Sub(fee).InexactFloat64()
	p.Commission = decimal.NewFromFloat(p.Commission).Add(fee).InexactFloat64()
	left := remaining.Sub(q)
	if !left.IsPositive() {
		left = decimal.Zero
	}
	p.RemainingQuantity = left.InexactFloat64()
	p.ExitPrice = p.averageExitPrice()

	if left.IsZero() {
		p.Status = PositionClosed
		p.CloseReason = reason
		p.ClosedAt = at
	} else {
		p.Status = PositionPartiallyClosed
	}
	return leg, nil
}

// Close exits whatever quantity remains.
func (p *Position) Close(reason CloseReason, price, commissionPct float64, at time.Time) (ExitLeg, error) {
	return p.ApplyExit(reason, p.RemainingQuantity, price, commissionPct, at)
}

func (p *Position) averageExitPrice() float64 {
	qty := decimal.Zero
	value := decimal.Zero
	for _, l := range p.Legs {
		q := decimal.NewFromFloat(l.Quantity)
		qty = qty.Add(q)
		value = value.Add(q.Mul(decimal.NewFromFloat(l.Price)))
	}
	if qty.IsZero() {
		return 0
	}
	return value.Div(qty).InexactFloat64()
}
