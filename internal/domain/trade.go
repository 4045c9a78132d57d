package domain

import "time"

// Trade is the durable record of one completed position close (full or
// partial), written to the trade journal for auditability. The engine itself
// never reads these back; live state is rebuilt from the exchange.
type Trade struct {
	ID          int64 // Assigned by the repository
	PositionID  string
	Symbol      string
	Side        PositionSide
	EntryPrice  float64
	ExitPrice   float64
	Quantity    float64
	PnL         float64 // Net of commission
	Commission  float64
	EntryTime   time.Time
	ExitTime    time.Time
	CloseReason CloseReason
}
