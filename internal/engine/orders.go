package engine

import (
	"context"
	"fmt"
	"strings"

	"cryptoTradeBot/internal/domain"
	"cryptoTradeBot/internal/events"
	"cryptoTradeBot/internal/ports"
)

// PlaceMarketOrder submits a market order for symbol.
func (e *Engine) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, quantity float64) (*domain.Order, error) {
	return e.placeOrder(ctx, symbol, side, domain.OrderTypeMarket, quantity, 0, 0, true)
}

// PlaceLimitOrder submits a GTC limit order for symbol.
func (e *Engine) PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, quantity, price float64) (*domain.Order, error) {
	return e.placeOrder(ctx, symbol, side, domain.OrderTypeLimit, quantity, price, 0, true)
}

// placeOrder runs the full placement pipeline: precondition checks, risk
// validation, local Pending registration, exchange submission and state
// adoption from the acknowledgement. The order is tracked locally before the
// exchange call so that a lost response still leaves a reconcilable record.
func (e *Engine) placeOrder(ctx context.Context, symbol string, side domain.Side, orderType domain.OrderType, quantity, price, stopPrice float64, isEntry bool) (*domain.Order, error) {
	op := "placeOrder"

	if !e.running.Load() {
		return nil, ports.ErrEngineNotRunning
	}
	if e.breaker.IsOpen() {
		return nil, ports.ErrCircuitBreakerOpen
	}
	cfg := e.config()
	if !cfg.symbolAllowed(symbol) {
		return nil, fmt.Errorf("%w: %s", ports.ErrSymbolNotAllowed, symbol)
	}

	// One order mutation at a time: the risk check and the submission must
	// see a consistent exposure snapshot.
	e.execMu.Lock()
	defer e.execMu.Unlock()

	assessment := e.riskMgr.ValidateOrder(ctx, symbol, side, quantity, price, e.Positions(), e.Balances())
	for _, w := range assessment.Warnings {
		e.logger.Warn(ctx, op+": risk warning", map[string]interface{}{"symbol": symbol, "warning": w})
	}
	if !assessment.Passed {
		return nil, fmt.Errorf("%w: %s", ports.ErrRiskRejected, strings.Join(assessment.Errors, "; "))
	}

	order := domain.NewOrder(symbol, side, orderType, quantity, price, stopPrice, "", isEntry)

	e.ordersMu.Lock()
	e.orders[order.ClientOrderID] = order
	e.ordersMu.Unlock()

	req := ports.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Type:          orderType,
		ClientOrderID: order.ClientOrderID,
		Quantity:      cfg.formatQuantity(quantity),
	}
	if price > 0 {
		req.Price = cfg.formatPrice(price)
	}
	if stopPrice > 0 {
		req.StopPrice = cfg.formatPrice(stopPrice)
	}

	resp, err := e.exchange.PlaceOrder(ctx, req)
	if err != nil {
		e.ordersMu.Lock()
		if terr := order.Transition(domain.OrderStateRejected); terr == nil {
			order.RejectReason = err.Error()
		}
		rejected := *order
		e.ordersMu.Unlock()

		e.logger.Error(ctx, err, op+": order placement failed", map[string]interface{}{
			"symbol": symbol, "clientOrderId": order.ClientOrderID,
		})
		ev := events.New(events.OrderRejected)
		ev.Order = &rejected
		ev.Reason = err.Error()
		e.emit(ev)

		e.recordOperationalError(ctx, fmt.Sprintf("order placement failed: %v", err))
		return nil, err
	}
	e.breaker.RecordSuccess()

	e.ordersMu.Lock()
	order.ExchangeOrderID = resp.ExchangeOrderID
	// A streamed execution report can beat the REST acknowledgement; a
	// transition conflict here just means the stream got there first.
	if terr := order.Transition(resp.State); terr != nil {
		e.logger.Debug(ctx, op+": acknowledgement arrived after stream update", map[string]interface{}{
			"clientOrderId": order.ClientOrderID, "ackState": string(resp.State), "state": string(order.State),
		})
	}
	placed := *order
	e.ordersMu.Unlock()

	e.logger.Info(ctx, op+": order placed", map[string]interface{}{
		"symbol": symbol, "side": string(side), "type": string(orderType),
		"quantity": quantity, "price": price,
		"clientOrderId": order.ClientOrderID, "exchangeOrderId": resp.ExchangeOrderID,
	})
	ev := events.New(events.OrderPlaced)
	ev.Order = &placed
	e.emit(ev)

	return &placed, nil
}

// CancelOrder cancels a tracked, still-active order by client order id.
func (e *Engine) CancelOrder(ctx context.Context, clientOrderID string) error {
	op := "CancelOrder"

	if !e.running.Load() {
		return ports.ErrEngineNotRunning
	}

	e.ordersMu.RLock()
	order, ok := e.orders[clientOrderID]
	var symbol string
	var active bool
	if ok {
		symbol = order.Symbol
		active = order.IsActive()
	}
	e.ordersMu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrUnknownOrder, clientOrderID)
	}
	if !active {
		return fmt.Errorf("%w: %s", ports.ErrOrderNotActive, clientOrderID)
	}

	e.execMu.Lock()
	defer e.execMu.Unlock()

	resp, err := e.exchange.CancelOrder(ctx, symbol, clientOrderID)
	if err != nil {
		e.logger.Error(ctx, err, op+": cancel failed", map[string]interface{}{
			"symbol": symbol, "clientOrderId": clientOrderID,
		})
		e.recordOperationalError(ctx, fmt.Sprintf("order cancel failed: %v", err))
		return err
	}
	e.breaker.RecordSuccess()

	// The acknowledgement carries the authoritative terminal state; adopt it
	// now so callers observe the cancel immediately. The streamed report that
	// follows re-delivers the same view and is a no-op.
	e.adoptOrderView(ctx, resp)

	e.logger.Info(ctx, op+": order cancelled", map[string]interface{}{
		"symbol": symbol, "clientOrderId": clientOrderID,
	})
	return nil
}

// ClosePosition market-closes the open position on symbol. The exit order
// bypasses entry-side risk validation: reducing exposure must never be
// blocked by the limits that gate increasing it.
func (e *Engine) ClosePosition(ctx context.Context, symbol string, reason domain.CloseReason) (*domain.Order, error) {
	op := "ClosePosition"

	e.positionsMu.RLock()
	pos, ok := e.positions[symbol]
	var side domain.Side
	var quantity float64
	var positionID string
	if ok {
		side = pos.Side.ExitSide()
		quantity = pos.Quantity
		positionID = pos.ID
	}
	e.positionsMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrPositionNotFound, symbol)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: %s has no open quantity", ports.ErrPositionNotFound, symbol)
	}

	cfg := e.config()
	order := domain.NewOrder(symbol, side, domain.OrderTypeMarket, quantity, 0, 0, positionID, false)

	e.execMu.Lock()
	defer e.execMu.Unlock()

	e.ordersMu.Lock()
	e.orders[order.ClientOrderID] = order
	e.ordersMu.Unlock()

	e.positionsMu.Lock()
	if p, still := e.positions[symbol]; still {
		p.CloseReason = reason
	}
	e.positionsMu.Unlock()

	resp, err := e.exchange.PlaceOrder(ctx, ports.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Type:          domain.OrderTypeMarket,
		ClientOrderID: order.ClientOrderID,
		Quantity:      cfg.formatQuantity(quantity),
	})
	if err != nil {
		e.ordersMu.Lock()
		if terr := order.Transition(domain.OrderStateRejected); terr == nil {
			order.RejectReason = err.Error()
		}
		e.ordersMu.Unlock()

		e.logger.Error(ctx, err, op+": exit order failed", map[string]interface{}{
			"symbol": symbol, "reason": string(reason),
		})
		e.recordOperationalError(ctx, fmt.Sprintf("exit order failed: %v", err))
		return nil, err
	}
	e.breaker.RecordSuccess()

	e.ordersMu.Lock()
	order.ExchangeOrderID = resp.ExchangeOrderID
	if terr := order.Transition(resp.State); terr != nil {
		e.logger.Debug(ctx, op+": acknowledgement arrived after stream update", map[string]interface{}{
			"clientOrderId": order.ClientOrderID,
		})
	}
	placed := *order
	e.ordersMu.Unlock()

	e.logger.Info(ctx, op+": exit order placed", map[string]interface{}{
		"symbol": symbol, "side": string(side), "quantity": quantity,
		"reason": string(reason), "clientOrderId": order.ClientOrderID,
	})
	ev := events.New(events.OrderPlaced)
	ev.Order = &placed
	e.emit(ev)

	return &placed, nil
}

// cancelAllActive best-effort cancels every locally-active order. Failures
// are logged and skipped so one stuck order does not strand the rest.
func (e *Engine) cancelAllActive(ctx context.Context, cause string) {
	for _, order := range e.ActiveOrders() {
		resp, err := e.exchange.CancelOrder(ctx, order.Symbol, order.ClientOrderID)
		if err != nil {
			e.logger.Error(ctx, err, "Failed to cancel active order", map[string]interface{}{
				"symbol": order.Symbol, "clientOrderId": order.ClientOrderID, "cause": cause,
			})
			continue
		}
		e.adoptOrderView(ctx, resp)
		e.logger.Info(ctx, "Cancelled active order", map[string]interface{}{
			"symbol": order.Symbol, "clientOrderId": order.ClientOrderID, "cause": cause,
		})
	}
}

// recordOperationalError feeds one failure into the circuit breaker and
// emits the breaker-opened event when this failure is the one that trips it.
func (e *Engine) recordOperationalError(ctx context.Context, message string) {
	if e.breaker.RecordError(message, e.config().BreakerThreshold) {
		e.logger.Error(ctx, fmt.Errorf("%s", message), "Circuit breaker opened, trading halted")
		ev := events.New(events.CircuitBreakerOpened)
		ev.Reason = message
		e.emit(ev)
	}
}
