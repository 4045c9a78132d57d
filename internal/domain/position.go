package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Position is the aggregate exposure for one symbol. Quantity is always
// non-negative; direction is carried by Side. A position that reaches zero
// quantity is closed and must be removed from active tracking by the caller.
type Position struct {
	ID            string
	Symbol        string
	Side          PositionSide
	Quantity      float64
	EntryPrice    float64 // Volume-weighted across entry fills
	RealizedPnL   float64 // Accumulated across partial closes, net of commission
	UnrealizedPnL float64 // Recomputed on every price update

	StopLoss   float64 // 0 disables
	TakeProfit float64 // 0 disables

	// Trailing stop: once price crosses TrailingActivation the stop ratchets
	// to trail the best price by TrailingPercent.
	TrailingActivation float64
	TrailingPercent    float64
	TrailingStopPrice  float64

	EntryOrderIDs []string
	ExitOrderIDs  []string

	// CloseReason records why the last exit was initiated. Set when an exit
	// order is submitted, consumed when the position fully closes.
	CloseReason CloseReason

	OpenedAt  time.Time
	UpdatedAt time.Time
}

// NewPosition opens a position from the first entry fill on a symbol.
func NewPosition(symbol string, side PositionSide, quantity, price float64, entryOrderID string) *Position {
	now := time.Now().UTC()
	return &Position{
		ID:            uuid.NewString(),
		Symbol:        symbol,
		Side:          side,
		Quantity:      quantity,
		EntryPrice:    price,
		EntryOrderIDs: []string{entryOrderID},
		OpenedAt:      now,
		UpdatedAt:     now,
	}
}

// direction returns +1 for long, -1 for short exposure.
func (p *Position) direction() float64 {
	if p.Side == Short {
		return -1
	}
	return 1
}

// AddEntryFill merges a same-side fill into the position, re-averaging the
// entry price by notional weighting.
func (p *Position) AddEntryFill(quantity, price float64, entryOrderID string) error {
	if quantity <= 0 {
		return fmt.Errorf("position %s: entry fill quantity must be positive, got %v", p.ID, quantity)
	}
	notional := p.EntryPrice*p.Quantity + price*quantity
	p.Quantity += quantity
	p.EntryPrice = notional / p.Quantity
	p.appendOrderID(&p.EntryOrderIDs, entryOrderID)
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// ReduceBy closes part (or all) of the position at the given exit price and
// returns the realized PnL of the closed slice, net of commission:
// (exit - entry) * qty for longs, (entry - exit) * qty for shorts.
// The caller is responsible for capping quantity to the remaining size; an
// overshoot is rejected here rather than clamped.
func (p *Position) ReduceBy(quantity, exitPrice, commission float64, exitOrderID string) (float64, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("position %s: close quantity must be positive, got %v", p.ID, quantity)
	}
	if quantity > p.Quantity+1e-9 {
		return 0, fmt.Errorf("position %s: close quantity %v exceeds open quantity %v", p.ID, quantity, p.Quantity)
	}
	pnl := (exitPrice-p.EntryPrice)*quantity*p.direction() - commission
	p.Quantity -= quantity
	if p.Quantity < 1e-9 {
		p.Quantity = 0
	}
	p.RealizedPnL += pnl
	p.appendOrderID(&p.ExitOrderIDs, exitOrderID)
	p.UpdatedAt = time.Now().UTC()
	return pnl, nil
}

// IsClosed reports whether the position has been fully exited.
func (p *Position) IsClosed() bool {
	return p.Quantity == 0
}

// MarkPrice recomputes unrealized PnL against the given price and updates the
// trailing stop ratchet, returning true when the trailing stop is armed and
// the price has crossed it.
func (p *Position) MarkPrice(price float64) bool {
	p.UnrealizedPnL = (price - p.EntryPrice) * p.Quantity * p.direction()

	if p.TrailingPercent <= 0 {
		return false
	}
	if p.Side == Long {
		if p.TrailingActivation > 0 && price >= p.TrailingActivation {
			candidate := price * (1 - p.TrailingPercent)
			if candidate > p.TrailingStopPrice {
				p.TrailingStopPrice = candidate
			}
		}
		return p.TrailingStopPrice > 0 && price <= p.TrailingStopPrice
	}
	if p.TrailingActivation > 0 && price <= p.TrailingActivation {
		candidate := price * (1 + p.TrailingPercent)
		if p.TrailingStopPrice == 0 || candidate < p.TrailingStopPrice {
			p.TrailingStopPrice = candidate
		}
	}
	return p.TrailingStopPrice > 0 && price >= p.TrailingStopPrice
}

// StopLossHit reports whether the given price has crossed the stop-loss level.
func (p *Position) StopLossHit(price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Side == Long {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

// TakeProfitHit reports whether the given price has crossed the take-profit level.
func (p *Position) TakeProfitHit(price float64) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.Side == Long {
		return price >= p.TakeProfit
	}
	return price <= p.TakeProfit
}

func (p *Position) appendOrderID(ids *[]string, id string) {
	if id == "" {
		return
	}
	for _, existing := range *ids {
		if existing == id {
			return
		}
	}
	*ids = append(*ids, id)
}
