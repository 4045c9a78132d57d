package engine

import (
	"context"

	"cryptoTradeBot/internal/domain"
	"cryptoTradeBot/internal/events"
	"cryptoTradeBot/internal/ports"
)

// handleAccountSnapshot replaces the local balance book wholesale. The
// exchange pushes a full snapshot of non-zero balances, so any asset absent
// from it is genuinely zero and is dropped here.
func (e *Engine) handleAccountSnapshot(snap ports.AccountSnapshot) {
	ctx := context.Background()

	next := make(map[string]domain.Balance, len(snap.Balances))
	for _, b := range snap.Balances {
		next[b.Asset] = domain.Balance{Asset: b.Asset, Free: b.Free, Locked: b.Locked}
	}

	e.balancesMu.Lock()
	changed := balancesDiffer(e.balances, next)
	e.balances = next
	e.balancesMu.Unlock()

	if !changed {
		return
	}
	e.logger.Debug(ctx, "Account snapshot applied", map[string]interface{}{"assets": len(next)})
	e.emit(events.New(events.BalanceUpdated))
}

// handleBalanceDelta applies one signed free-balance adjustment (deposit,
// withdrawal, dust sweep). A delta that would drive a balance negative is
// rejected and left for reconciliation to settle.
func (e *Engine) handleBalanceDelta(delta ports.BalanceDelta) {
	ctx := context.Background()

	e.balancesMu.Lock()
	b, ok := e.balances[delta.Asset]
	if !ok {
		b = domain.Balance{Asset: delta.Asset}
	}
	err := b.ApplyDelta(delta.Delta)
	if err == nil {
		e.balances[delta.Asset] = b
	}
	snapshot := b
	e.balancesMu.Unlock()

	if err != nil {
		e.logger.Warn(ctx, "Rejected balance delta, awaiting reconciliation", map[string]interface{}{
			"asset": delta.Asset, "delta": delta.Delta, "error": err.Error(),
		})
		e.pokeReconcile()
		return
	}

	e.logger.Debug(ctx, "Balance delta applied", map[string]interface{}{
		"asset": delta.Asset, "delta": delta.Delta, "free": snapshot.Free,
	})
	ev := events.New(events.BalanceUpdated)
	ev.Balance = &snapshot
	e.emit(ev)
}

func (e *Engine) handleStreamConnect() {
	e.logger.Info(context.Background(), "User-data stream connected")
}

// handleStreamDisconnect reacts to a dropped push channel. Events may have
// been missed during the gap, so an immediate reconciliation pass is
// requested instead of waiting for the next scheduled one.
func (e *Engine) handleStreamDisconnect(err error) {
	ctx := context.Background()
	if err != nil {
		e.logger.Warn(ctx, "User-data stream disconnected", map[string]interface{}{"error": err.Error()})
	} else {
		e.logger.Warn(ctx, "User-data stream disconnected")
	}
	e.pokeReconcile()
}

// refreshBalances pulls the authoritative balance set over REST and replaces
// the local book.
func (e *Engine) refreshBalances(ctx context.Context) error {
	balances, err := e.exchange.GetBalances(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]domain.Balance, len(balances))
	for _, b := range balances {
		next[b.Asset] = domain.Balance{Asset: b.Asset, Free: b.Free, Locked: b.Locked}
	}

	e.balancesMu.Lock()
	changed := balancesDiffer(e.balances, next)
	e.balances = next
	e.balancesMu.Unlock()

	e.logger.Debug(ctx, "Balances refreshed from REST", map[string]interface{}{"assets": len(next)})
	if changed {
		e.emit(events.New(events.BalanceUpdated))
	}
	return nil
}

// adoptOpenOrders pulls every open order on the account and registers the
// ones we are not already tracking. Run at startup so orders surviving a
// restart stay managed.
func (e *Engine) adoptOpenOrders(ctx context.Context) error {
	open, err := e.exchange.GetOpenOrders(ctx)
	if err != nil {
		return err
	}

	adopted := 0
	e.ordersMu.Lock()
	for _, resp := range open {
		if _, tracked := e.orders[resp.ClientOrderID]; tracked {
			continue
		}
		e.orders[resp.ClientOrderID] = orderFromResponse(resp)
		adopted++
	}
	e.ordersMu.Unlock()

	if adopted > 0 {
		e.logger.Info(ctx, "Adopted open orders from exchange", map[string]interface{}{"count": adopted})
	}
	return nil
}

// orderFromResponse builds a tracked order from a REST order view. Fills that
// happened before adoption are represented only in aggregate; later execution
// reports refine the fill list.
func orderFromResponse(resp *ports.OrderResponse) *domain.Order {
	o := &domain.Order{
		ClientOrderID:   resp.ClientOrderID,
		ExchangeOrderID: resp.ExchangeOrderID,
		Symbol:          resp.Symbol,
		Side:            resp.Side,
		Type:            resp.Type,
		OrigQuantity:    resp.OrigQuantity,
		ExecutedQty:     resp.ExecutedQty,
		RemainingQty:    resp.OrigQuantity - resp.ExecutedQty,
		Price:           resp.Price,
		StopPrice:       resp.StopPrice,
		AvgFillPrice:    resp.AvgPrice,
		State:           resp.State,
		IsEntry:         true,
		CreatedAt:       resp.Timestamp,
		UpdatedAt:       resp.Timestamp,
	}
	if o.RemainingQty < 0 {
		o.RemainingQty = 0
	}
	return o
}

func balancesDiffer(a, b map[string]domain.Balance) bool {
	if len(a) != len(b) {
		return true
	}
	for asset, av := range a {
		bv, ok := b[asset]
		if !ok || av != bv {
			return true
		}
	}
	return false
}
