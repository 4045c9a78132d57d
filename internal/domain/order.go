package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fill is one partial or full execution of an order.
type Fill struct {
	TradeID         int64     // Exchange trade id, unique per symbol
	Price           float64   // Execution price
	Quantity        float64   // Executed quantity of this fill
	Commission      float64   // Commission charged for this fill
	CommissionAsset string    // Asset the commission was charged in
	Time            time.Time // Exchange transaction time
}

// Order tracks one exchange order attempt. The client order id is generated
// locally and is the primary correlation key across the REST and streaming
// channels; the exchange order id is only known after acceptance.
type Order struct {
	ClientOrderID   string
	ExchangeOrderID int64 // 0 until the exchange acknowledges the order
	Symbol          string
	Side            Side
	Type            OrderType
	OrigQuantity    float64
	ExecutedQty     float64
	RemainingQty    float64
	Price           float64 // Limit price, 0 for market orders
	StopPrice       float64 // Trigger price for stop/take-profit orders, 0 otherwise
	AvgFillPrice    float64 // Volume-weighted over all fills
	Fills           []Fill
	State           OrderState
	PositionID      string // Owning position, empty until linked
	IsEntry         bool   // Opening trade (true) vs closing trade (false)
	RejectReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewClientOrderID generates a unique client order id. Binance caps client
// order ids at 36 characters, which a dash-less UUID fits with room to spare.
func NewClientOrderID() string {
	return "bot-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// NewOrder creates an order in the Pending state. The order is recorded
// locally before the exchange is contacted so that a crash mid-placement is
// still reconcilable.
func NewOrder(symbol string, side Side, orderType OrderType, quantity, price, stopPrice float64, positionID string, isEntry bool) *Order {
	now := time.Now().UTC()
	return &Order{
		ClientOrderID: NewClientOrderID(),
		Symbol:        symbol,
		Side:          side,
		Type:          orderType,
		OrigQuantity:  quantity,
		RemainingQty:  quantity,
		Price:         price,
		StopPrice:     stopPrice,
		State:         OrderStatePending,
		PositionID:    positionID,
		IsEntry:       isEntry,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsActive reports whether the order still represents live exchange exposure.
func (o *Order) IsActive() bool {
	return o.State.IsActive()
}

// Transition moves the order to a new state, enforcing forward-only movement:
// Pending -> New -> PartiallyFilled* -> {Filled|Cancelled|Rejected|Expired}.
// Any transition out of a terminal state is an error.
func (o *Order) Transition(to OrderState) error {
	if o.State == to {
		return nil
	}
	if o.State.IsTerminal() {
		return fmt.Errorf("order %s: illegal transition %s -> %s: %s is terminal", o.ClientOrderID, o.State, to, o.State)
	}
	switch o.State {
	case OrderStatePending:
		// Acceptance may arrive already partially or fully filled for
		// market orders, so every forward state is reachable.
	case OrderStateNew:
		if to == OrderStatePending {
			return fmt.Errorf("order %s: illegal transition %s -> %s", o.ClientOrderID, o.State, to)
		}
	case OrderStatePartiallyFilled:
		if to == OrderStatePending || to == OrderStateNew || to == OrderStateRejected {
			return fmt.Errorf("order %s: illegal transition %s -> %s", o.ClientOrderID, o.State, to)
		}
	}
	o.State = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// ApplyFill appends one fill and recomputes the executed/remaining quantities
// and the volume-weighted average price. Re-delivery of a fill with a trade id
// the order has already seen is a no-op, which makes execution report
// application idempotent.
func (o *Order) ApplyFill(f Fill) error {
	if f.Quantity <= 0 {
		return fmt.Errorf("order %s: fill quantity must be positive, got %v", o.ClientOrderID, f.Quantity)
	}
	for _, existing := range o.Fills {
		if existing.TradeID == f.TradeID {
			return nil
		}
	}
	if o.ExecutedQty+f.Quantity > o.OrigQuantity+1e-9 {
		return fmt.Errorf("order %s: fill of %v would exceed original quantity (%v executed of %v)",
			o.ClientOrderID, f.Quantity, o.ExecutedQty, o.OrigQuantity)
	}

	o.Fills = append(o.Fills, f)
	notional := o.AvgFillPrice * o.ExecutedQty
	o.ExecutedQty += f.Quantity
	o.RemainingQty = o.OrigQuantity - o.ExecutedQty
	if o.RemainingQty < 0 {
		o.RemainingQty = 0
	}
	o.AvgFillPrice = (notional + f.Price*f.Quantity) / o.ExecutedQty
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// CorrectExecution snaps the executed-quantity accounting down to an
// authoritative externally-reported value. Recorded fills are kept so trade-id
// dedup still rejects re-delivery of executions already seen. Returns the
// excess quantity removed, 0 when nothing was overstated.
func (o *Order) CorrectExecution(executedQty, avgPrice float64) float64 {
	excess := o.ExecutedQty - executedQty
	if excess <= 1e-9 {
		return 0
	}
	o.ExecutedQty = executedQty
	o.RemainingQty = o.OrigQuantity - executedQty
	if o.RemainingQty < 0 {
		o.RemainingQty = 0
	}
	if avgPrice > 0 {
		o.AvgFillPrice = avgPrice
	}
	o.UpdatedAt = time.Now().UTC()
	return excess
}

// TotalCommission sums commissions across all fills.
func (o *Order) TotalCommission() float64 {
	var total float64
	for _, f := range o.Fills {
		total += f.Commission
	}
	return total
}
