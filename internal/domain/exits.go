package domain

import "time"

// ExitActionType identifies what the exit scheduler asks the simulator to do.
type ExitActionType string

const (
	ActionBatchTakeProfit ExitActionType = "BATCH_TAKE_PROFIT"
	ActionTrailingStop    ExitActionType = "TRAILING_STOP"
)

// CloseReason maps the action to the reason recorded on the exit leg.
func (t ExitActionType) CloseReason() CloseReason {
	if t == ActionTrailingStop {
		return CloseTrailingStop
	}
	return CloseBatchTakeProfit
}

// ExitAction is a partial or final exit requested by the exit scheduler.
type ExitAction struct {
	Type       ExitActionType
	BatchIndex int
	Quantity   float64
	Price      float64
	At         time.Time
}

// TargetState is one fixed take-profit batch or the single trailing batch.
type TargetState struct {
	AllocationPct       float64
	TargetProfitPct     float64 // fixed batches only
	TrailingCallbackPct float64 // trailing batch only
	Trailing            bool

	Executed         bool
	ExecutedQuantity float64
	ExecutedPrice    float64
	ExecutedAt       time.Time
}
