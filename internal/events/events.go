package events

import (
	"time"

	"cryptoTradeBot/internal/domain"
)

// Type discriminates domain events on the engine's broadcast feed.
type Type string

const (
	EngineStarted          Type = "ENGINE_STARTED"
	EngineStopped          Type = "ENGINE_STOPPED"
	OrderPlaced            Type = "ORDER_PLACED"
	OrderPartiallyFilled   Type = "ORDER_PARTIALLY_FILLED"
	OrderFilled            Type = "ORDER_FILLED"
	OrderCancelled         Type = "ORDER_CANCELLED"
	OrderRejected          Type = "ORDER_REJECTED"
	OrderExpired           Type = "ORDER_EXPIRED"
	PositionOpened         Type = "POSITION_OPENED"
	PositionUpdated        Type = "POSITION_UPDATED"
	PositionClosed         Type = "POSITION_CLOSED"
	BalanceUpdated         Type = "BALANCE_UPDATED"
	CircuitBreakerOpened   Type = "CIRCUIT_BREAKER_OPENED"
	CircuitBreakerClosed   Type = "CIRCUIT_BREAKER_CLOSED"
	ReconciliationComplete Type = "RECONCILIATION_COMPLETE"
	DailyLossLimitReached  Type = "DAILY_LOSS_LIMIT_REACHED"
	EngineError            Type = "ENGINE_ERROR"
)

// Event is one entry on the engine's broadcast feed. Only the fields relevant
// to the Type are set; payload pointers are copies, safe to read without
// locking engine state.
type Event struct {
	Type Type
	Time time.Time

	Order    *domain.Order
	Position *domain.Position
	Balance  *domain.Balance

	// PnL carries the realized result on PositionClosed and the running
	// daily loss on DailyLossLimitReached.
	PnL float64

	// Discrepancies is set on ReconciliationComplete.
	Discrepancies int

	// Reason carries reject reasons, breaker trip causes and error text.
	Reason string
}

// New builds an event stamped with the current UTC time.
func New(t Type) Event {
	return Event{Type: t, Time: time.Now().UTC()}
}
