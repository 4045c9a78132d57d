package engine

import (
	"context"

	"cryptoTradeBot/internal/domain"
	"cryptoTradeBot/internal/events"
	"cryptoTradeBot/internal/ports"
)

// EmergencyStop shuts trading down immediately: the circuit breaker is forced
// open first so no new order can slip in, then every active order is
// cancelled, open positions are market-closed when so configured, the engine
// is halted and the stream is stopped, in that order. The breaker stays open
// across a restart until ResetCircuitBreaker; exits still in flight at
// shutdown are settled by the initial sync and reconciliation on the next
// Start.
func (e *Engine) EmergencyStop(ctx context.Context, reason string) error {
	op := "EmergencyStop"

	if !e.running.Load() {
		return ports.ErrEngineNotRunning
	}

	e.logger.Error(ctx, nil, op+": emergency stop triggered", map[string]interface{}{"reason": reason})

	if e.breaker.ForceOpen(reason) {
		ev := events.New(events.CircuitBreakerOpened)
		ev.Reason = reason
		e.emit(ev)
	}

	e.cancelAllActive(ctx, "emergency stop")

	if e.config().ClosePositionsOnEmergency {
		for symbol := range e.Positions() {
			if _, err := e.ClosePosition(ctx, symbol, domain.CloseReasonEmergencyStop); err != nil {
				e.logger.Error(ctx, err, op+": failed to close position", map[string]interface{}{
					"symbol": symbol,
				})
			}
		}
	}

	ev := events.New(events.EngineError)
	ev.Reason = "emergency stop: " + reason
	e.emit(ev)

	e.startMu.Lock()
	defer e.startMu.Unlock()
	if !e.running.Load() {
		return nil
	}
	e.running.Store(false)
	e.cancel()
	e.wg.Wait()
	e.stopStream(ctx)

	e.emit(events.New(events.EngineStopped))
	e.logger.Info(ctx, op+": engine halted")
	return nil
}
