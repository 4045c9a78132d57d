package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrder(t *testing.T) {
	o := NewOrder("ETHUSDT", Buy, OrderTypeLimit, 1.5, 2000, 0, "", true)

	assert.Equal(t, OrderStatePending, o.State)
	assert.Equal(t, 1.5, o.OrigQuantity)
	assert.Equal(t, 1.5, o.RemainingQty)
	assert.Zero(t, o.ExecutedQty)
	assert.NotEmpty(t, o.ClientOrderID)
	assert.True(t, o.IsActive())
}

func TestNewClientOrderID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewClientOrderID()
		require.False(t, seen[id], "duplicate client order id %s", id)
		require.LessOrEqual(t, len(id), 36)
		seen[id] = true
	}
}

func TestTransition_ForwardOnly(t *testing.T) {
	tests := []struct {
		name    string
		from    OrderState
		to      OrderState
		wantErr bool
	}{
		{"pending to new", OrderStatePending, OrderStateNew, false},
		{"pending to filled", OrderStatePending, OrderStateFilled, false},
		{"pending to rejected", OrderStatePending, OrderStateRejected, false},
		{"new to partially filled", OrderStateNew, OrderStatePartiallyFilled, false},
		{"new to cancelled", OrderStateNew, OrderStateCancelled, false},
		{"new back to pending", OrderStateNew, OrderStatePending, true},
		{"partial to filled", OrderStatePartiallyFilled, OrderStateFilled, false},
		{"partial to cancelled", OrderStatePartiallyFilled, OrderStateCancelled, false},
		{"partial back to new", OrderStatePartiallyFilled, OrderStateNew, true},
		{"partial to rejected", OrderStatePartiallyFilled, OrderStateRejected, true},
		{"filled is terminal", OrderStateFilled, OrderStateCancelled, true},
		{"cancelled is terminal", OrderStateCancelled, OrderStateNew, true},
		{"rejected is terminal", OrderStateRejected, OrderStateFilled, true},
		{"expired is terminal", OrderStateExpired, OrderStateNew, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOrder("ETHUSDT", Buy, OrderTypeLimit, 1, 2000, 0, "", true)
			o.State = tt.from
			err := o.Transition(tt.to)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.from, o.State, "failed transition must not move the state")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.to, o.State)
			}
		})
	}
}

func TestTransition_SameStateIsNoOp(t *testing.T) {
	o := NewOrder("ETHUSDT", Buy, OrderTypeLimit, 1, 2000, 0, "", true)
	require.NoError(t, o.Transition(OrderStateFilled))
	require.NoError(t, o.Transition(OrderStateFilled))
	assert.Equal(t, OrderStateFilled, o.State)
}

func TestApplyFill_AccumulatesAndAverages(t *testing.T) {
	o := NewOrder("ETHUSDT", Buy, OrderTypeLimit, 2.0, 2000, 0, "", true)

	require.NoError(t, o.ApplyFill(Fill{TradeID: 1, Price: 1990, Quantity: 0.5, Commission: 0.1, Time: time.Now()}))
	assert.Equal(t, 0.5, o.ExecutedQty)
	assert.Equal(t, 1.5, o.RemainingQty)
	assert.InDelta(t, 1990, o.AvgFillPrice, 1e-9)

	require.NoError(t, o.ApplyFill(Fill{TradeID: 2, Price: 2010, Quantity: 1.5, Commission: 0.3, Time: time.Now()}))
	assert.Equal(t, 2.0, o.ExecutedQty)
	assert.Zero(t, o.RemainingQty)
	// (1990*0.5 + 2010*1.5) / 2.0 = 2005
	assert.InDelta(t, 2005, o.AvgFillPrice, 1e-9)
	assert.InDelta(t, 0.4, o.TotalCommission(), 1e-9)
}

func TestApplyFill_DuplicateTradeIDIsIdempotent(t *testing.T) {
	o := NewOrder("ETHUSDT", Buy, OrderTypeLimit, 2.0, 2000, 0, "", true)
	fill := Fill{TradeID: 42, Price: 2000, Quantity: 1.0, Commission: 0.2}

	require.NoError(t, o.ApplyFill(fill))
	require.NoError(t, o.ApplyFill(fill))
	require.NoError(t, o.ApplyFill(fill))

	assert.Equal(t, 1.0, o.ExecutedQty)
	assert.Len(t, o.Fills, 1)
	assert.InDelta(t, 0.2, o.TotalCommission(), 1e-9)
}

func TestApplyFill_RejectsOverfill(t *testing.T) {
	o := NewOrder("ETHUSDT", Buy, OrderTypeLimit, 1.0, 2000, 0, "", true)
	require.NoError(t, o.ApplyFill(Fill{TradeID: 1, Price: 2000, Quantity: 0.8}))

	err := o.ApplyFill(Fill{TradeID: 2, Price: 2000, Quantity: 0.5})
	require.Error(t, err)
	assert.Equal(t, 0.8, o.ExecutedQty, "rejected fill must not change quantities")
}

func TestApplyFill_RejectsNonPositiveQuantity(t *testing.T) {
	o := NewOrder("ETHUSDT", Buy, OrderTypeLimit, 1.0, 2000, 0, "", true)
	require.Error(t, o.ApplyFill(Fill{TradeID: 1, Price: 2000, Quantity: 0}))
	require.Error(t, o.ApplyFill(Fill{TradeID: 2, Price: 2000, Quantity: -0.5}))
}

func TestCorrectExecution(t *testing.T) {
	o := NewOrder("ETHUSDT", Buy, OrderTypeMarket, 2, 0, 0, "", true)
	require.NoError(t, o.ApplyFill(Fill{TradeID: 1, Price: 2000, Quantity: 1}))
	require.NoError(t, o.ApplyFill(Fill{TradeID: 2, Price: 2010, Quantity: 1}))

	assert.Zero(t, o.CorrectExecution(2, 2005), "matching view is a no-op")
	assert.Zero(t, o.CorrectExecution(2.5, 2005), "understatement is never corrected upward here")

	excess := o.CorrectExecution(1.5, 2004)
	assert.InDelta(t, 0.5, excess, 1e-9)
	assert.InDelta(t, 1.5, o.ExecutedQty, 1e-9)
	assert.InDelta(t, 0.5, o.RemainingQty, 1e-9)
	assert.InDelta(t, 2004, o.AvgFillPrice, 1e-9)

	// Recorded fills survive the correction so re-delivery still dedupes.
	require.NoError(t, o.ApplyFill(Fill{TradeID: 2, Price: 2010, Quantity: 1}))
	assert.InDelta(t, 1.5, o.ExecutedQty, 1e-9)
}

func TestParseOrderState(t *testing.T) {
	for raw, want := range map[string]OrderState{
		"NEW":              OrderStateNew,
		"PARTIALLY_FILLED": OrderStatePartiallyFilled,
		"FILLED":           OrderStateFilled,
		"CANCELED":         OrderStateCancelled,
		"REJECTED":         OrderStateRejected,
		"EXPIRED":          OrderStateExpired,
	} {
		got, err := ParseOrderState(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}

	_, err := ParseOrderState("SOMETHING_NEW")
	require.Error(t, err)
}
