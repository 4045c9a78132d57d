package engine

import (
	"context"
	"time"

	"cryptoTradeBot/internal/domain"
)

// monitorLoop polls the ticker for every open position and fires stop-loss,
// take-profit and trailing-stop exits when their levels are crossed.
func (e *Engine) monitorLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config().MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.checkExits(ctx)
		}
	}
}

func (e *Engine) checkExits(ctx context.Context) {
	op := "checkExits"

	for symbol := range e.Positions() {
		if e.breaker.IsOpen() {
			return
		}
		if e.hasActiveExitOrder(symbol) {
			continue
		}

		price, err := e.exchange.GetTickerPrice(ctx, symbol)
		if err != nil {
			e.logger.Error(ctx, err, op+": ticker fetch failed", map[string]interface{}{"symbol": symbol})
			continue
		}

		reason, triggered := e.markAndCheck(symbol, price)
		if !triggered {
			continue
		}

		e.logger.Info(ctx, op+": exit level crossed", map[string]interface{}{
			"symbol": symbol, "price": price, "reason": string(reason),
		})
		if _, err := e.ClosePosition(ctx, symbol, reason); err != nil {
			e.logger.Error(ctx, err, op+": exit order failed", map[string]interface{}{
				"symbol": symbol, "reason": string(reason),
			})
		}
	}
}

// markAndCheck updates the position's mark against the given price and
// reports whether an exit level was crossed, in priority order: stop-loss,
// trailing stop, take-profit.
func (e *Engine) markAndCheck(symbol string, price float64) (domain.CloseReason, bool) {
	e.positionsMu.Lock()
	defer e.positionsMu.Unlock()

	pos, ok := e.positions[symbol]
	if !ok {
		return "", false
	}

	trailingHit := pos.MarkPrice(price)
	pos.UpdatedAt = time.Now().UTC()

	switch {
	case pos.StopLossHit(price):
		return domain.CloseReasonStopLoss, true
	case trailingHit:
		return domain.CloseReasonTrailingStop, true
	case pos.TakeProfitHit(price):
		return domain.CloseReasonTakeProfit, true
	}
	return "", false
}

// hasActiveExitOrder reports whether an exit order for symbol is still in
// flight, which suppresses further exit triggers for it.
func (e *Engine) hasActiveExitOrder(symbol string) bool {
	e.ordersMu.RLock()
	defer e.ordersMu.RUnlock()
	for _, o := range e.orders {
		if o.Symbol == symbol && !o.IsEntry && o.IsActive() {
			return true
		}
	}
	return false
}
