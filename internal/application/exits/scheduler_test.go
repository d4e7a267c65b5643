package exits

import (
	"testing"
	"time"

	"github.com/alejandrodnm/oibacktest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func laddered() Config {
	return Config{Targets: []Target{
		{AllocationPct: 40, TargetProfitPct: 8},
		{AllocationPct: 30, TargetProfitPct: 14},
		{AllocationPct: 30, Trailing: true, TrailingCallbackPct: 30},
	}}
}

func feed(t *testing.T, s *Scheduler, h Handle, prices ...float64) []domain.ExitAction {
	t.Helper()
	var all []domain.ExitAction
	for i, p := range prices {
		actions, err := s.UpdatePrice(h, p, t0.Add(time.Duration(i+1)*time.Minute))
		require.NoError(t, err)
		all = append(all, actions...)
	}
	return all
}

func TestScheduler_LadderThenTrailing(t *testing.T) {
	s := NewScheduler()
	h, err := s.StartTracking("p1", "BTCUSDT", domain.DirectionLong, 100, 10, laddered())
	require.NoError(t, err)

	actions := feed(t, s, h, 100, 108, 114, 126, 88)
	require.Len(t, actions, 3)

	assert.Equal(t, domain.ActionBatchTakeProfit, actions[0].Type)
	assert.InDelta(t, 108, actions[0].Price, 1e-9)
	assert.InDelta(t, 4, actions[0].Quantity, 1e-9)

	assert.Equal(t, domain.ActionBatchTakeProfit, actions[1].Type)
	assert.InDelta(t, 114, actions[1].Price, 1e-9)
	assert.InDelta(t, 3, actions[1].Quantity, 1e-9)

	assert.Equal(t, domain.ActionTrailingStop, actions[2].Type)
	assert.InDelta(t, 3, actions[2].Quantity, 1e-9)
	assert.Equal(t, 2, actions[2].BatchIndex)

	rem, err := s.Remaining(h)
	require.NoError(t, err)
	assert.Zero(t, rem)

	// Nada más que ejecutar
	more, err := s.UpdatePrice(h, 200, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, more)
}

func TestScheduler_TrailingStopLevel(t *testing.T) {
	s := NewScheduler()
	h, err := s.StartTracking("p1", "BTCUSDT", domain.DirectionLong, 100, 10, laddered())
	require.NoError(t, err)

	// Pico 126: stop = 100 + 26×0.7 = 118.2
	feed(t, s, h, 108, 114, 126)
	assert.Empty(t, feed(t, s, h, 118.3))
	actions := feed(t, s, h, 118.1)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ActionTrailingStop, actions[0].Type)
}

func TestScheduler_TrailingHoldsWhileRising(t *testing.T) {
	for _, cb := range []float64{20, 0.01} {
		s := NewScheduler()
		h, err := s.StartTracking("p1", "BTCUSDT", domain.DirectionLong, 100, 10, Config{Targets: []Target{
			{AllocationPct: 50, TargetProfitPct: 5},
			{AllocationPct: 50, Trailing: true, TrailingCallbackPct: cb},
		}})
		require.NoError(t, err)

		actions := feed(t, s, h, 105, 110, 115, 120)
		require.Len(t, actions, 1, "callback %.2f", cb)
		assert.Equal(t, domain.ActionBatchTakeProfit, actions[0].Type)

		rem, err := s.Remaining(h)
		require.NoError(t, err)
		assert.InDelta(t, 5, rem, 1e-9)

		// El retroceso sí lo dispara
		actions = feed(t, s, h, 100)
		require.Len(t, actions, 1)
		assert.Equal(t, domain.ActionTrailingStop, actions[0].Type)
	}
}

func TestScheduler_TrailingWaitsForFirstBatch(t *testing.T) {
	s := NewScheduler()
	h, err := s.StartTracking("p1", "BTCUSDT", domain.DirectionLong, 100, 10, laddered())
	require.NoError(t, err)

	// Sube y cae sin tocar +8%: el trailing nunca se activa
	assert.Empty(t, feed(t, s, h, 105, 107, 90))

	rem, err := s.Remaining(h)
	require.NoError(t, err)
	assert.InDelta(t, 10, rem, 1e-9)
}

func TestScheduler_GapFiresAllReachedBatches(t *testing.T) {
	s := NewScheduler()
	h, err := s.StartTracking("p1", "BTCUSDT", domain.DirectionLong, 100, 10, laddered())
	require.NoError(t, err)

	actions := feed(t, s, h, 120)
	require.Len(t, actions, 2)
	assert.Equal(t, 0, actions[0].BatchIndex)
	assert.Equal(t, 1, actions[1].BatchIndex)
}

func TestScheduler_Short(t *testing.T) {
	s := NewScheduler()
	h, err := s.StartTracking("p1", "ETHUSDT", domain.DirectionShort, 100, 10, laddered())
	require.NoError(t, err)

	actions := feed(t, s, h, 91.9, 85.9, 74, 110)
	require.Len(t, actions, 3)
	assert.InDelta(t, 91.9, actions[0].Price, 1e-9)
	assert.InDelta(t, 85.9, actions[1].Price, 1e-9)
	assert.Equal(t, domain.ActionTrailingStop, actions[2].Type)
	assert.InDelta(t, 110, actions[2].Price, 1e-9)
}

func TestScheduler_NoDuplicateBatches(t *testing.T) {
	s := NewScheduler()
	h, err := s.StartTracking("p1", "BTCUSDT", domain.DirectionLong, 100, 10, Config{Targets: []Target{
		{AllocationPct: 50, TargetProfitPct: 5},
	}})
	require.NoError(t, err)

	actions := feed(t, s, h, 106, 107, 104, 108)
	require.Len(t, actions, 1)

	targets, err := s.Targets(h)
	require.NoError(t, err)
	assert.True(t, targets[0].Executed)
	assert.InDelta(t, 106, targets[0].ExecutedPrice, 1e-9)

	rem, err := s.Remaining(h)
	require.NoError(t, err)
	assert.InDelta(t, 5, rem, 1e-9)
}

func TestScheduler_StopTrackingOnce(t *testing.T) {
	s := NewScheduler()
	h, err := s.StartTracking("p1", "BTCUSDT", domain.DirectionLong, 100, 1, laddered())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Active())

	require.NoError(t, s.StopTracking(h))
	assert.Zero(t, s.Active())
	assert.ErrorIs(t, s.StopTracking(h), ErrReleased)

	_, err = s.UpdatePrice(h, 100, t0)
	assert.ErrorIs(t, err, ErrReleased)
}

func TestScheduler_SlotReuse(t *testing.T) {
	s := NewScheduler()
	h1, err := s.StartTracking("p1", "BTCUSDT", domain.DirectionLong, 100, 1, laddered())
	require.NoError(t, err)
	require.NoError(t, s.StopTracking(h1))

	h2, err := s.StartTracking("p2", "ETHUSDT", domain.DirectionLong, 50, 2, laddered())
	require.NoError(t, err)

	// El handle viejo no alcanza el registro nuevo
	_, err = s.Remaining(h1)
	assert.ErrorIs(t, err, ErrReleased)

	rem, err := s.Remaining(h2)
	require.NoError(t, err)
	assert.InDelta(t, 2, rem, 1e-9)
}

func TestScheduler_UnknownHandle(t *testing.T) {
	s := NewScheduler()
	assert.ErrorIs(t, s.StopTracking(Handle{}), ErrUnknownHandle)
	assert.ErrorIs(t, s.StopTracking(Handle{index: 3, generation: 1}), ErrUnknownHandle)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		targets []Target
		wantErr bool
	}{
		{"empty", nil, false},
		{"ladder", laddered().Targets, false},
		{"over allocated", []Target{{AllocationPct: 60, TargetProfitPct: 5}, {AllocationPct: 50, TargetProfitPct: 10}}, true},
		{"two trailing", []Target{{AllocationPct: 10, Trailing: true}, {AllocationPct: 10, Trailing: true}}, true},
		{"zero allocation", []Target{{AllocationPct: 0, TargetProfitPct: 5}}, true},
		{"zero profit", []Target{{AllocationPct: 50}}, true},
		{"zero callback", []Target{{AllocationPct: 50, TargetProfitPct: 5}, {AllocationPct: 50, Trailing: true}}, true},
		{"full callback", []Target{{AllocationPct: 50, TargetProfitPct: 5}, {AllocationPct: 50, Trailing: true, TrailingCallbackPct: 100}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Config{Targets: tt.targets}.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTargets)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
