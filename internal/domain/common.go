package domain

import "fmt"

// Side represents the side of an order (BUY or SELL).
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side. Used when building exit orders.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType represents the execution type of an order.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
)

// OrderState is the internal, closed set of order lifecycle states.
// Exchange status strings are mapped onto this set at the adapter boundary
// and never propagate raw into the engine.
type OrderState string

const (
	// OrderStatePending is the local-only state between accepting a placement
	// request and receiving the exchange acknowledgement.
	OrderStatePending         OrderState = "PENDING"
	OrderStateNew             OrderState = "NEW"
	OrderStatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderStateFilled          OrderState = "FILLED"
	OrderStateCancelled       OrderState = "CANCELED"
	OrderStateRejected        OrderState = "REJECTED"
	OrderStateExpired         OrderState = "EXPIRED"
)

// IsTerminal reports whether no further transitions are possible.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCancelled, OrderStateRejected, OrderStateExpired:
		return true
	}
	return false
}

// IsActive reports whether the order still represents live exchange exposure.
func (s OrderState) IsActive() bool {
	switch s {
	case OrderStatePending, OrderStateNew, OrderStatePartiallyFilled:
		return true
	}
	return false
}

// ParseOrderState maps an exchange status string to the internal state set.
// Unknown strings are an error so that new exchange statuses surface loudly
// instead of silently corrupting the state machine.
func ParseOrderState(raw string) (OrderState, error) {
	switch raw {
	case "NEW", "PENDING_NEW", "ACCEPTED":
		return OrderStateNew, nil
	case "PARTIALLY_FILLED":
		return OrderStatePartiallyFilled, nil
	case "FILLED":
		return OrderStateFilled, nil
	case "CANCELED", "CANCELLED", "PENDING_CANCEL":
		return OrderStateCancelled, nil
	case "REJECTED":
		return OrderStateRejected, nil
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return OrderStateExpired, nil
	}
	return "", fmt.Errorf("unknown exchange order status %q", raw)
}

// PositionSide represents the direction of an open position.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// EntrySide returns the order side that increases a position in this direction.
func (s PositionSide) EntrySide() Side {
	if s == Short {
		return Sell
	}
	return Buy
}

// ExitSide returns the order side that reduces a position in this direction.
func (s PositionSide) ExitSide() Side {
	return s.EntrySide().Opposite()
}

// CloseReason indicates why a position (or part of it) was closed.
type CloseReason string

const (
	CloseReasonStopLoss      CloseReason = "SL"
	CloseReasonTakeProfit    CloseReason = "TP"
	CloseReasonTrailingStop  CloseReason = "TRAILING_STOP"
	CloseReasonManual        CloseReason = "MANUAL"
	CloseReasonEmergencyStop CloseReason = "EMERGENCY_STOP"
	CloseReasonSignal        CloseReason = "SIGNAL"
)
