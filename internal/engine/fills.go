package engine

import (
	"context"
	"time"

	"cryptoTradeBot/internal/domain"
	"cryptoTradeBot/internal/events"
	"cryptoTradeBot/internal/ports"
)

// handleExecutionReport applies one streamed order update: adopt the exchange
// order id, apply the fill (idempotent by trade id), advance the state machine
// and propagate any executed quantity into the position book. The order event
// is emitted before the position events it causes.
func (e *Engine) handleExecutionReport(rep ports.ExecutionReport) {
	ctx := context.Background()
	op := "handleExecutionReport"

	e.ordersMu.Lock()
	order, ok := e.orders[rep.ClientOrderID]
	if !ok {
		// An order we never placed (or lost track of). Exchange truth wins:
		// adopt it and process the report like any other.
		order = e.adoptOrderLocked(rep)
		e.logger.Warn(ctx, op+": adopted untracked order from stream", map[string]interface{}{
			"symbol": rep.Symbol, "clientOrderId": rep.ClientOrderID, "state": string(rep.State),
		})
	}

	if order.ExchangeOrderID == 0 && rep.ExchangeOrderID != 0 {
		order.ExchangeOrderID = rep.ExchangeOrderID
	}
	if rep.RejectReason != "" {
		order.RejectReason = rep.RejectReason
	}

	var fillApplied bool
	var fill domain.Fill
	switch {
	case rep.LastQty > 0 && rep.TradeID != 0 && rep.CumQty > 0 && rep.CumQty <= order.ExecutedQty+1e-9:
		// A delayed report whose cumulative quantity the local book already
		// reached, typically because a reconciliation catch-up fill covered
		// the same execution. Applying the fill again would overstate.
		e.logger.Debug(ctx, op+": fill already accounted for, skipping", map[string]interface{}{
			"symbol": rep.Symbol, "clientOrderId": rep.ClientOrderID, "tradeId": rep.TradeID,
			"cumQty": rep.CumQty, "executedQty": order.ExecutedQty,
		})
	case rep.LastQty > 0 && rep.TradeID != 0:
		fill = domain.Fill{
			TradeID:         rep.TradeID,
			Price:           rep.LastPrice,
			Quantity:        rep.LastQty,
			Commission:      rep.Commission,
			CommissionAsset: rep.CommissionAsset,
			Time:            rep.TransactTime,
		}
		before := order.ExecutedQty
		if err := order.ApplyFill(fill); err != nil {
			e.logger.Error(ctx, err, op+": fill rejected", map[string]interface{}{
				"symbol": rep.Symbol, "clientOrderId": rep.ClientOrderID, "tradeId": rep.TradeID,
			})
		}
		fillApplied = order.ExecutedQty > before
	}

	stateChanged := order.State != rep.State
	if stateChanged {
		if err := order.Transition(rep.State); err != nil {
			e.logger.Warn(ctx, op+": ignoring out-of-order state update", map[string]interface{}{
				"symbol": rep.Symbol, "clientOrderId": rep.ClientOrderID,
				"state": string(order.State), "reported": string(rep.State),
			})
			stateChanged = false
		}
	}
	snapshot := *order
	e.ordersMu.Unlock()

	if !stateChanged && !fillApplied {
		return
	}

	e.logger.Debug(ctx, op+": order updated", map[string]interface{}{
		"symbol": snapshot.Symbol, "clientOrderId": snapshot.ClientOrderID,
		"state": string(snapshot.State), "executedQty": snapshot.ExecutedQty,
	})

	if evType, known := eventTypeForState(snapshot.State); known && stateChanged {
		ev := events.New(evType)
		ev.Order = &snapshot
		ev.Reason = snapshot.RejectReason
		e.emit(ev)
	} else if fillApplied {
		ev := events.New(events.OrderPartiallyFilled)
		ev.Order = &snapshot
		e.emit(ev)
	}

	if fillApplied {
		e.applyFillToPosition(ctx, &snapshot, fill)
	}
}

// adoptOrderLocked registers an untracked order from a streamed report.
// Callers must hold ordersMu.
func (e *Engine) adoptOrderLocked(rep ports.ExecutionReport) *domain.Order {
	now := time.Now().UTC()
	order := &domain.Order{
		ClientOrderID:   rep.ClientOrderID,
		ExchangeOrderID: rep.ExchangeOrderID,
		Symbol:          rep.Symbol,
		Side:            rep.Side,
		Type:            rep.Type,
		OrigQuantity:    rep.CumQty + rep.LastQty, // refined by later reports
		RemainingQty:    0,
		State:           domain.OrderStatePending,
		IsEntry:         true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if order.OrigQuantity == 0 {
		order.OrigQuantity = rep.LastQty
	}
	order.RemainingQty = order.OrigQuantity
	e.orders[rep.ClientOrderID] = order
	return order
}

// applyFillToPosition folds one executed fill into the position book. Entry
// fills open or grow the symbol's position; exit fills reduce it and realize
// PnL. A position reaching zero quantity is removed, journaled and reported.
func (e *Engine) applyFillToPosition(ctx context.Context, order *domain.Order, fill domain.Fill) {
	op := "applyFillToPosition"

	e.positionsMu.Lock()
	pos, exists := e.positions[order.Symbol]

	treatAsEntry := order.IsEntry
	if exists && order.Side != pos.Side.EntrySide() {
		// An entry-flagged order on the opposite side of an existing position
		// still reduces it; net exposure is what matters.
		treatAsEntry = false
	}

	if treatAsEntry {
		if !exists {
			side := domain.Long
			if order.Side == domain.Sell {
				side = domain.Short
			}
			pos = domain.NewPosition(order.Symbol, side, fill.Quantity, fill.Price, order.ClientOrderID)
			e.positions[order.Symbol] = pos
			opened := *pos
			e.positionsMu.Unlock()

			e.logger.Info(ctx, op+": position opened", map[string]interface{}{
				"symbol": pos.Symbol, "side": string(pos.Side), "quantity": pos.Quantity, "entryPrice": pos.EntryPrice,
			})
			ev := events.New(events.PositionOpened)
			ev.Position = &opened
			e.emit(ev)
			return
		}

		if err := pos.AddEntryFill(fill.Quantity, fill.Price, order.ClientOrderID); err != nil {
			e.positionsMu.Unlock()
			e.logger.Error(ctx, err, op+": entry fill rejected", map[string]interface{}{"symbol": order.Symbol})
			return
		}
		updated := *pos
		e.positionsMu.Unlock()

		ev := events.New(events.PositionUpdated)
		ev.Position = &updated
		e.emit(ev)
		return
	}

	if !exists {
		e.positionsMu.Unlock()
		e.logger.Warn(ctx, op+": exit fill with no tracked position", map[string]interface{}{
			"symbol": order.Symbol, "clientOrderId": order.ClientOrderID,
		})
		return
	}

	// The exchange can overfill by a rounding hair relative to our book.
	closeQty := fill.Quantity
	if closeQty > pos.Quantity {
		closeQty = pos.Quantity
	}
	entryPrice := pos.EntryPrice
	openedAt := pos.OpenedAt
	pnl, err := pos.ReduceBy(closeQty, fill.Price, fill.Commission, order.ClientOrderID)
	if err != nil {
		e.positionsMu.Unlock()
		e.logger.Error(ctx, err, op+": exit fill rejected", map[string]interface{}{"symbol": order.Symbol})
		return
	}

	closed := pos.IsClosed()
	if closed {
		delete(e.positions, order.Symbol)
	}
	snapshot := *pos
	e.positionsMu.Unlock()

	e.riskMgr.RecordTrade(pnl)

	if !closed {
		e.logger.Info(ctx, op+": position reduced", map[string]interface{}{
			"symbol": snapshot.Symbol, "closedQty": closeQty, "pnl": pnl, "remaining": snapshot.Quantity,
		})
		ev := events.New(events.PositionUpdated)
		ev.Position = &snapshot
		ev.PnL = pnl
		e.emit(ev)
		e.checkDailyLoss(ctx)
		return
	}

	e.daily.recordClose(snapshot.RealizedPnL, order.TotalCommission(), fill.Price*closeQty)

	e.logger.Info(ctx, op+": position closed", map[string]interface{}{
		"symbol": snapshot.Symbol, "pnl": snapshot.RealizedPnL, "reason": string(snapshot.CloseReason),
	})
	ev := events.New(events.PositionClosed)
	ev.Position = &snapshot
	ev.PnL = snapshot.RealizedPnL
	ev.Reason = string(snapshot.CloseReason)
	e.emit(ev)

	e.journalClose(ctx, &snapshot, order, entryPrice, openedAt, fill)
	e.checkDailyLoss(ctx)
}

// journalClose writes one completed round trip to the trade journal.
func (e *Engine) journalClose(ctx context.Context, pos *domain.Position, exitOrder *domain.Order, entryPrice float64, openedAt time.Time, lastFill domain.Fill) {
	if e.tradeRepo == nil {
		return
	}
	reason := pos.CloseReason
	if reason == "" {
		reason = domain.CloseReasonSignal
	}
	trade := &domain.Trade{
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		EntryPrice:  entryPrice,
		ExitPrice:   exitOrder.AvgFillPrice,
		Quantity:    exitOrder.ExecutedQty,
		PnL:         pos.RealizedPnL,
		Commission:  exitOrder.TotalCommission(),
		EntryTime:   openedAt,
		ExitTime:    lastFill.Time,
		CloseReason: reason,
	}
	if _, err := e.tradeRepo.CreateTrade(ctx, trade); err != nil {
		e.logger.Error(ctx, err, "Failed to journal closed trade", map[string]interface{}{
			"symbol": pos.Symbol, "positionId": pos.ID,
		})
	}
}

// checkDailyLoss emits the daily-loss event once per crossing. Entry orders
// are rejected by risk validation while the limit is exceeded.
func (e *Engine) checkDailyLoss(ctx context.Context) {
	if !e.riskMgr.DailyLossExceeded() {
		e.lossLimitNotified.Store(false)
		return
	}
	if e.lossLimitNotified.Swap(true) {
		return
	}
	e.logger.Warn(ctx, "Daily loss limit reached, new entries blocked")
	ev := events.New(events.DailyLossLimitReached)
	ev.PnL = e.daily.snapshot().RealizedPnL
	e.emit(ev)
}

func eventTypeForState(s domain.OrderState) (events.Type, bool) {
	switch s {
	case domain.OrderStatePartiallyFilled:
		return events.OrderPartiallyFilled, true
	case domain.OrderStateFilled:
		return events.OrderFilled, true
	case domain.OrderStateCancelled:
		return events.OrderCancelled, true
	case domain.OrderStateRejected:
		return events.OrderRejected, true
	case domain.OrderStateExpired:
		return events.OrderExpired, true
	}
	return "", false
}
