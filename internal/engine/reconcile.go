package engine

import (
	"context"
	"errors"
	"math"
	"time"

	"cryptoTradeBot/internal/domain"
	"cryptoTradeBot/internal/events"
	"cryptoTradeBot/internal/ports"
)

// balanceTolerance is the allowed drift between a local balance and the
// exchange's view: one basis point of the amount, floored at an absolute
// epsilon for near-zero balances.
func balanceTolerance(amount float64) float64 {
	tol := math.Abs(amount) * 1e-4
	if tol < 1e-4 {
		tol = 1e-4
	}
	return tol
}

// reconcileLoop runs periodic reconciliation passes and services out-of-band
// pokes (stream disconnects, ForceReconcile callers that want scheduling
// rather than a synchronous pass).
func (e *Engine) reconcileLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config().ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.reconcileNow:
		}
		if _, err := e.reconcileOnce(ctx); err != nil {
			failures := e.recon.recordFailure()
			e.logger.Error(ctx, err, "Reconciliation pass failed", map[string]interface{}{
				"consecutiveFailures": failures,
			})
			e.recordOperationalError(ctx, "reconciliation failed: "+err.Error())
		}
		ticker.Reset(e.config().ReconcileInterval)
	}
}

// reconcileOnce runs one full reconciliation pass: balances, then orders,
// then stale-order cleanup and terminal pruning. The exchange's view is
// authoritative throughout; local state is adjusted toward it, never the
// other way. Returns the number of discrepancies found and repaired.
func (e *Engine) reconcileOnce(ctx context.Context) (int, error) {
	op := "reconcile"

	if e.breaker.IsOpen() {
		e.logger.Debug(ctx, op+": skipped, circuit breaker open")
		return 0, nil
	}

	discrepancies := 0

	n, err := e.reconcileBalances(ctx)
	if err != nil {
		return discrepancies, err
	}
	discrepancies += n

	n, err = e.reconcileOrders(ctx)
	discrepancies += n
	if err != nil {
		return discrepancies, err
	}

	discrepancies += e.cancelStaleOrders(ctx)
	e.pruneTerminalOrders()

	e.recon.recordPass(discrepancies)
	if discrepancies > 0 {
		e.logger.Warn(ctx, op+": pass complete with discrepancies", map[string]interface{}{
			"discrepancies": discrepancies,
		})
	} else {
		e.logger.Debug(ctx, op+": pass complete, state consistent")
	}

	ev := events.New(events.ReconciliationComplete)
	ev.Discrepancies = discrepancies
	e.emit(ev)
	return discrepancies, nil
}

// reconcileBalances compares every local balance against the exchange and
// adopts the exchange value wherever the drift exceeds tolerance.
func (e *Engine) reconcileBalances(ctx context.Context) (int, error) {
	op := "reconcileBalances"

	remote, err := e.exchange.GetBalances(ctx)
	if err != nil {
		return 0, err
	}
	remoteByAsset := make(map[string]ports.AssetBalance, len(remote))
	for _, b := range remote {
		remoteByAsset[b.Asset] = b
	}

	mismatches := 0
	e.balancesMu.Lock()
	for asset, local := range e.balances {
		rb, ok := remoteByAsset[asset]
		if !ok {
			rb = ports.AssetBalance{Asset: asset}
		}
		if math.Abs(local.Free-rb.Free) <= balanceTolerance(rb.Free) &&
			math.Abs(local.Locked-rb.Locked) <= balanceTolerance(rb.Locked) {
			continue
		}
		e.logger.Warn(ctx, op+": balance drift, adopting exchange value", map[string]interface{}{
			"asset": asset, "localFree": local.Free, "exchangeFree": rb.Free,
			"localLocked": local.Locked, "exchangeLocked": rb.Locked,
		})
		e.balances[asset] = domain.Balance{Asset: asset, Free: rb.Free, Locked: rb.Locked}
		mismatches++
	}
	for asset, rb := range remoteByAsset {
		if _, tracked := e.balances[asset]; tracked {
			continue
		}
		e.balances[asset] = domain.Balance{Asset: asset, Free: rb.Free, Locked: rb.Locked}
		mismatches++
	}
	e.balancesMu.Unlock()

	for i := 0; i < mismatches; i++ {
		e.recon.addBalanceMismatch()
	}
	if mismatches > 0 {
		e.emit(events.New(events.BalanceUpdated))
	}
	return mismatches, nil
}

// reconcileOrders diffs the locally-active order set against the exchange's
// open orders. A local order the exchange no longer lists is queried
// individually and either caught up to its true state or, if the exchange
// has no record of it at all, cancelled locally. An exchange order we are
// not tracking is adopted.
func (e *Engine) reconcileOrders(ctx context.Context) (int, error) {
	op := "reconcileOrders"

	open, err := e.exchange.GetOpenOrders(ctx)
	if err != nil {
		return 0, err
	}
	openByID := make(map[string]*ports.OrderResponse, len(open))
	for _, resp := range open {
		openByID[resp.ClientOrderID] = resp
	}

	discrepancies := 0
	var errs []error

	for _, local := range e.ActiveOrders() {
		if resp, listed := openByID[local.ClientOrderID]; listed {
			if e.adoptOrderView(ctx, resp) {
				e.recon.addOrderMismatch()
				discrepancies++
			}
			continue
		}

		// Locally active but not in the open set: it finished, or it never
		// reached the exchange at all.
		resp, err := e.exchange.GetOrderStatus(ctx, local.Symbol, local.ClientOrderID)
		if err != nil {
			if errors.Is(err, ports.ErrOrderNotFound) {
				e.logger.Warn(ctx, op+": order unknown to exchange, cancelling locally", map[string]interface{}{
					"symbol": local.Symbol, "clientOrderId": local.ClientOrderID, "state": string(local.State),
				})
				e.cancelLocally(local.ClientOrderID)
				e.recon.addMissingCancelled()
				discrepancies++
				continue
			}
			// A transient query failure affects this order only; the rest of
			// the pass still runs and the order is retried next pass.
			e.logger.Error(ctx, err, op+": status query failed, skipping order", map[string]interface{}{
				"symbol": local.Symbol, "clientOrderId": local.ClientOrderID,
			})
			errs = append(errs, err)
			continue
		}
		if e.adoptOrderView(ctx, resp) {
			e.recon.addOrderMismatch()
			discrepancies++
		}
	}

	e.ordersMu.RLock()
	var orphans []*ports.OrderResponse
	for id, resp := range openByID {
		if _, tracked := e.orders[id]; !tracked {
			orphans = append(orphans, resp)
		}
	}
	e.ordersMu.RUnlock()

	for _, resp := range orphans {
		e.ordersMu.Lock()
		e.orders[resp.ClientOrderID] = orderFromResponse(resp)
		e.ordersMu.Unlock()
		e.logger.Warn(ctx, op+": adopted orphan order from exchange", map[string]interface{}{
			"symbol": resp.Symbol, "clientOrderId": resp.ClientOrderID, "state": string(resp.State),
		})
		e.recon.addOrphanAdopted()
		discrepancies++
	}

	return discrepancies, errors.Join(errs...)
}

// adoptOrderView catches a tracked order up to the exchange's REST view of
// it: executed quantity first, then state. Returns true when anything
// changed. Quantity the stream has not delivered is applied as a synthetic
// fill so position propagation still runs; executed quantity the exchange
// does not confirm is corrected back down and the phantom position quantity
// it produced is removed. The exchange's numbers win in both directions.
func (e *Engine) adoptOrderView(ctx context.Context, resp *ports.OrderResponse) bool {
	op := "adoptOrderView"

	e.ordersMu.Lock()
	order, ok := e.orders[resp.ClientOrderID]
	if !ok {
		e.ordersMu.Unlock()
		return false
	}

	if order.ExchangeOrderID == 0 && resp.ExchangeOrderID != 0 {
		order.ExchangeOrderID = resp.ExchangeOrderID
	}

	var fill domain.Fill
	fillApplied := false
	phantomQty := 0.0
	missedQty := resp.ExecutedQty - order.ExecutedQty
	if missedQty > 1e-9 {
		price := resp.AvgPrice
		if price <= 0 {
			price = resp.Price
		}
		fill = domain.Fill{
			TradeID:  syntheticTradeID(),
			Price:    price,
			Quantity: missedQty,
			Time:     time.Now().UTC(),
		}
		before := order.ExecutedQty
		if err := order.ApplyFill(fill); err != nil {
			e.logger.Error(ctx, err, op+": catch-up fill rejected", map[string]interface{}{
				"symbol": resp.Symbol, "clientOrderId": resp.ClientOrderID,
			})
		}
		fillApplied = order.ExecutedQty > before
	} else {
		phantomQty = order.CorrectExecution(resp.ExecutedQty, resp.AvgPrice)
	}

	stateChanged := order.State != resp.State
	if stateChanged {
		if err := order.Transition(resp.State); err != nil {
			stateChanged = false
		}
	}
	snapshot := *order
	e.ordersMu.Unlock()

	if !stateChanged && !fillApplied && phantomQty == 0 {
		return false
	}

	e.logger.Warn(ctx, op+": order caught up to exchange state", map[string]interface{}{
		"symbol": snapshot.Symbol, "clientOrderId": snapshot.ClientOrderID,
		"state": string(snapshot.State), "executedQty": snapshot.ExecutedQty,
	})
	if evType, known := eventTypeForState(snapshot.State); known && stateChanged {
		ev := events.New(evType)
		ev.Order = &snapshot
		e.emit(ev)
	}
	if fillApplied {
		e.applyFillToPosition(ctx, &snapshot, fill)
	}
	if phantomQty > 0 {
		e.reversePhantomQuantity(ctx, &snapshot, phantomQty)
	}
	return true
}

// reversePhantomQuantity removes position quantity that a reconciliation pass
// proved was never executed on the exchange. The removal realizes no PnL; the
// quantity did not exist.
func (e *Engine) reversePhantomQuantity(ctx context.Context, order *domain.Order, qty float64) {
	op := "reversePhantomQuantity"

	e.positionsMu.Lock()
	pos, ok := e.positions[order.Symbol]
	if !ok || order.Side != pos.Side.EntrySide() {
		e.positionsMu.Unlock()
		e.logger.Warn(ctx, op+": no entry-side position to correct", map[string]interface{}{
			"symbol": order.Symbol, "clientOrderId": order.ClientOrderID, "quantity": qty,
		})
		return
	}
	if qty > pos.Quantity {
		qty = pos.Quantity
	}
	pos.Quantity -= qty
	if pos.Quantity < 1e-9 {
		pos.Quantity = 0
	}
	pos.UpdatedAt = time.Now().UTC()
	closed := pos.IsClosed()
	if closed {
		delete(e.positions, order.Symbol)
	}
	snapshot := *pos
	e.positionsMu.Unlock()

	e.logger.Warn(ctx, op+": removed overstated position quantity", map[string]interface{}{
		"symbol": snapshot.Symbol, "removedQty": qty, "remaining": snapshot.Quantity,
	})
	if closed {
		ev := events.New(events.PositionClosed)
		ev.Position = &snapshot
		ev.PnL = snapshot.RealizedPnL
		ev.Reason = "position quantity corrected to exchange truth"
		e.emit(ev)
		return
	}
	ev := events.New(events.PositionUpdated)
	ev.Position = &snapshot
	e.emit(ev)
}

// cancelLocally force-moves an order to Cancelled without an exchange call.
// Used when the exchange has no record of the order.
func (e *Engine) cancelLocally(clientOrderID string) {
	e.ordersMu.Lock()
	order, ok := e.orders[clientOrderID]
	if !ok {
		e.ordersMu.Unlock()
		return
	}
	if err := order.Transition(domain.OrderStateCancelled); err != nil {
		e.ordersMu.Unlock()
		return
	}
	snapshot := *order
	e.ordersMu.Unlock()

	ev := events.New(events.OrderCancelled)
	ev.Order = &snapshot
	ev.Reason = "not found on exchange during reconciliation"
	e.emit(ev)
}

// cancelStaleOrders cancels locally-active orders older than the stale
// timeout. The terminal transition itself arrives via the stream.
func (e *Engine) cancelStaleOrders(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-e.config().StaleOrderTimeout)

	cancelled := 0
	for _, order := range e.ActiveOrders() {
		if !order.CreatedAt.Before(cutoff) {
			continue
		}
		if _, err := e.exchange.CancelOrder(ctx, order.Symbol, order.ClientOrderID); err != nil {
			if errors.Is(err, ports.ErrOrderNotFound) {
				e.cancelLocally(order.ClientOrderID)
				e.recon.addMissingCancelled()
				cancelled++
				continue
			}
			e.logger.Error(ctx, err, "Failed to cancel stale order", map[string]interface{}{
				"symbol": order.Symbol, "clientOrderId": order.ClientOrderID,
			})
			continue
		}
		e.logger.Warn(ctx, "Cancelled stale order", map[string]interface{}{
			"symbol": order.Symbol, "clientOrderId": order.ClientOrderID,
			"age": time.Since(order.CreatedAt).String(),
		})
		e.recon.addStaleCancelled()
		cancelled++
	}
	return cancelled
}

// pruneTerminalOrders drops terminal orders past the retention window so the
// in-memory order book stays bounded on a long-running process.
func (e *Engine) pruneTerminalOrders() {
	cutoff := time.Now().UTC().Add(-e.config().TerminalOrderRetention)

	e.ordersMu.Lock()
	defer e.ordersMu.Unlock()
	for id, order := range e.orders {
		if order.State.IsTerminal() && order.UpdatedAt.Before(cutoff) {
			delete(e.orders, id)
		}
	}
}

// syntheticTradeID produces ids for reconciliation catch-up fills. Exchange
// trade ids are positive, so the negative range never collides with them.
func syntheticTradeID() int64 {
	return -time.Now().UnixNano()
}
