package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoTradeBot/internal/domain"
	"cryptoTradeBot/internal/events"
	"cryptoTradeBot/internal/ports"
)

func TestReconcile_ConsistentStateFindsNothing(t *testing.T) {
	h := newTestHarness(t, testConfig())
	h.start(t)

	n, err := h.eng.ForceReconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	metrics := h.eng.ReconMetrics()
	assert.Equal(t, uint64(1), metrics.Passes)
	assert.Zero(t, metrics.Discrepancies)

	ev := h.nextEventOfType(t, events.ReconciliationComplete)
	assert.Zero(t, ev.Discrepancies)
}

func TestReconcile_Idempotent(t *testing.T) {
	h := newTestHarness(t, testConfig())
	h.start(t)
	ctx := context.Background()

	// Seed a drifted balance so the first pass repairs something.
	h.eng.balancesMu.Lock()
	h.eng.balances["USDT"] = domain.Balance{Asset: "USDT", Free: 1}
	h.eng.balancesMu.Unlock()

	first, err := h.eng.ForceReconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	// A second pass over repaired state finds nothing.
	second, err := h.eng.ForceReconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, second)
}

func TestReconcile_BalanceDriftAdoptsExchangeValue(t *testing.T) {
	h := newTestHarness(t, testConfig())
	h.exchange.balancesFn = func(ctx context.Context) ([]ports.AssetBalance, error) {
		return []ports.AssetBalance{{Asset: "USDT", Free: 5000}}, nil
	}
	h.start(t)

	h.eng.balancesMu.Lock()
	h.eng.balances["USDT"] = domain.Balance{Asset: "USDT", Free: 4000}
	h.eng.balancesMu.Unlock()

	n, err := h.eng.ForceReconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 5000.0, h.eng.Balances()["USDT"].Free, "exchange value is authoritative")
	assert.Equal(t, uint64(1), h.eng.ReconMetrics().BalanceMismatches)
}

func TestReconcile_DriftWithinToleranceIgnored(t *testing.T) {
	h := newTestHarness(t, testConfig())
	h.exchange.balancesFn = func(ctx context.Context) ([]ports.AssetBalance, error) {
		return []ports.AssetBalance{{Asset: "USDT", Free: 10000}}, nil
	}
	h.start(t)

	// One basis point of 10000 is 1.0; drift of 0.5 is noise.
	h.eng.balancesMu.Lock()
	h.eng.balances["USDT"] = domain.Balance{Asset: "USDT", Free: 10000.5}
	h.eng.balancesMu.Unlock()

	n, err := h.eng.ForceReconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 10000.5, h.eng.Balances()["USDT"].Free)
}

func TestReconcile_MissingOrderCancelledLocally(t *testing.T) {
	h := newTestHarness(t, testConfig())
	h.start(t)
	ctx := context.Background()

	order, err := h.eng.PlaceLimitOrder(ctx, "ETHUSDT", domain.Buy, 1, 1900)
	require.NoError(t, err)

	// Exchange lists no open orders and has no record of it at all.
	n, err := h.eng.ForceReconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tracked := h.eng.Orders()
	assert.Equal(t, domain.OrderStateCancelled, tracked[order.ClientOrderID].State)
	assert.Equal(t, uint64(1), h.eng.ReconMetrics().MissingCancelled)
}

func TestReconcile_MissingOrderCaughtUpFromStatusQuery(t *testing.T) {
	h := newTestHarness(t, testConfig())
	h.start(t)
	ctx := context.Background()

	order, err := h.eng.PlaceLimitOrder(ctx, "ETHUSDT", domain.Buy, 1, 1900)
	require.NoError(t, err)

	// Not in the open set because it filled; the per-order query knows it.
	h.exchange.statusFn = func(c context.Context, symbol, clientOrderID string) (*ports.OrderResponse, error) {
		return &ports.OrderResponse{
			ExchangeOrderID: order.ExchangeOrderID,
			ClientOrderID:   clientOrderID,
			Symbol:          symbol,
			Side:            domain.Buy,
			Type:            domain.OrderTypeLimit,
			State:           domain.OrderStateFilled,
			Price:           1900,
			AvgPrice:        1899.5,
			OrigQuantity:    1,
			ExecutedQty:     1,
		}, nil
	}

	n, err := h.eng.ForceReconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tracked := h.eng.Orders()
	assert.Equal(t, domain.OrderStateFilled, tracked[order.ClientOrderID].State)
	assert.Equal(t, 1.0, tracked[order.ClientOrderID].ExecutedQty)

	// The catch-up fill propagated into a position.
	positions := h.eng.Positions()
	require.Contains(t, positions, "ETHUSDT")
	assert.Equal(t, 1.0, positions["ETHUSDT"].Quantity)
	assert.InDelta(t, 1899.5, positions["ETHUSDT"].EntryPrice, 1e-9)
	assert.Equal(t, uint64(1), h.eng.ReconMetrics().OrderMismatches)
}

func TestReconcile_OverstatedExecutionCorrectedDownward(t *testing.T) {
	h := newTestHarness(t, testConfig())
	h.start(t)
	ctx := context.Background()

	order, err := h.eng.PlaceMarketOrder(ctx, "ETHUSDT", domain.Buy, 1.0)
	require.NoError(t, err)
	handlers := h.exchange.userHandlers()
	handlers.OnExecutionReport(fillReport(order, 911, 0.5, 2000, domain.OrderStatePartiallyFilled))
	handlers.OnExecutionReport(fillReport(order, 912, 0.5, 2000, domain.OrderStatePartiallyFilled))
	require.Equal(t, 1.0, h.eng.Orders()[order.ClientOrderID].ExecutedQty)
	require.Equal(t, 1.0, h.eng.Positions()["ETHUSDT"].Quantity)

	// The exchange reports only half of that ever executed.
	h.exchange.openOrdersFn = func(c context.Context) ([]*ports.OrderResponse, error) {
		return []*ports.OrderResponse{{
			ExchangeOrderID: order.ExchangeOrderID,
			ClientOrderID:   order.ClientOrderID,
			Symbol:          "ETHUSDT",
			Side:            domain.Buy,
			Type:            domain.OrderTypeMarket,
			State:           domain.OrderStatePartiallyFilled,
			AvgPrice:        2000,
			OrigQuantity:    1,
			ExecutedQty:     0.5,
		}}, nil
	}

	n, err := h.eng.ForceReconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0.5, h.eng.Orders()[order.ClientOrderID].ExecutedQty)
	require.Contains(t, h.eng.Positions(), "ETHUSDT")
	assert.Equal(t, 0.5, h.eng.Positions()["ETHUSDT"].Quantity, "phantom quantity removed")

	// Once corrected, further passes find nothing.
	n, err = h.eng.ForceReconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconcile_StatusFailureSkipsOrderContinuesPass(t *testing.T) {
	h := newTestHarness(t, testConfig())
	h.start(t)
	ctx := context.Background()

	flaky, err := h.eng.PlaceLimitOrder(ctx, "ETHUSDT", domain.Buy, 1, 1900)
	require.NoError(t, err)
	gone, err := h.eng.PlaceLimitOrder(ctx, "BTCUSDT", domain.Buy, 0.1, 50000)
	require.NoError(t, err)

	h.exchange.statusFn = func(c context.Context, symbol, clientOrderID string) (*ports.OrderResponse, error) {
		if clientOrderID == flaky.ClientOrderID {
			return nil, ports.ErrExchangeUnavailable
		}
		return nil, ports.ErrOrderNotFound
	}
	h.exchange.openOrdersFn = func(c context.Context) ([]*ports.OrderResponse, error) {
		return []*ports.OrderResponse{{
			ExchangeOrderID: 950,
			ClientOrderID:   "web-ui-order",
			Symbol:          "ETHUSDT",
			Side:            domain.Sell,
			Type:            domain.OrderTypeLimit,
			State:           domain.OrderStateNew,
			Price:           2200,
			OrigQuantity:    0.5,
			Timestamp:       time.Now().UTC(),
		}}, nil
	}

	_, err = h.eng.ForceReconcile(ctx)
	require.ErrorIs(t, err, ports.ErrExchangeUnavailable)

	// The failure stayed isolated: the other order and the orphan were handled.
	assert.Equal(t, domain.OrderStateCancelled, h.eng.Orders()[gone.ClientOrderID].State)
	assert.Contains(t, h.eng.Orders(), "web-ui-order")
	assert.True(t, h.eng.Orders()[flaky.ClientOrderID].IsActive(), "retried on the next pass")
}

func TestReconcile_AdoptsOrphanOrder(t *testing.T) {
	h := newTestHarness(t, testConfig())
	h.start(t)

	h.exchange.openOrdersFn = func(ctx context.Context) ([]*ports.OrderResponse, error) {
		return []*ports.OrderResponse{{
			ExchangeOrderID: 900,
			ClientOrderID:   "web-ui-order",
			Symbol:          "ETHUSDT",
			Side:            domain.Sell,
			Type:            domain.OrderTypeLimit,
			State:           domain.OrderStateNew,
			Price:           2200,
			OrigQuantity:    0.5,
			Timestamp:       time.Now().UTC(),
		}}, nil
	}

	n, err := h.eng.ForceReconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tracked := h.eng.Orders()
	require.Contains(t, tracked, "web-ui-order")
	assert.True(t, tracked["web-ui-order"].IsActive())
	assert.Equal(t, uint64(1), h.eng.ReconMetrics().OrphansAdopted)
}

func TestReconcile_CancelsStaleOrders(t *testing.T) {
	h := newTestHarness(t, testConfig())
	h.start(t)
	ctx := context.Background()

	order, err := h.eng.PlaceLimitOrder(ctx, "ETHUSDT", domain.Buy, 1, 1900)
	require.NoError(t, err)

	// Keep the order listed as open so the missing-order path stays out of
	// the way, then age it past the stale timeout.
	h.exchange.openOrdersFn = func(c context.Context) ([]*ports.OrderResponse, error) {
		return []*ports.OrderResponse{{
			ExchangeOrderID: order.ExchangeOrderID,
			ClientOrderID:   order.ClientOrderID,
			Symbol:          order.Symbol,
			Side:            order.Side,
			Type:            order.Type,
			State:           domain.OrderStateNew,
			Price:           1900,
			OrigQuantity:    1,
		}}, nil
	}
	h.eng.ordersMu.Lock()
	h.eng.orders[order.ClientOrderID].CreatedAt = time.Now().UTC().Add(-3 * time.Hour)
	h.eng.ordersMu.Unlock()

	n, err := h.eng.ForceReconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, h.exchange.cancelledIDs(), order.ClientOrderID)
	assert.Equal(t, uint64(1), h.eng.ReconMetrics().StaleCancelled)
}

func TestReconcile_PrunesTerminalOrders(t *testing.T) {
	h := newTestHarness(t, testConfig())
	h.start(t)
	ctx := context.Background()

	order, err := h.eng.PlaceMarketOrder(ctx, "ETHUSDT", domain.Buy, 1)
	require.NoError(t, err)
	h.exchange.userHandlers().OnExecutionReport(fillReport(order, 901, 1, 2000, domain.OrderStateFilled))

	// Fresh terminal orders are retained.
	_, err = h.eng.ForceReconcile(ctx)
	require.NoError(t, err)
	assert.Contains(t, h.eng.Orders(), order.ClientOrderID)

	h.eng.ordersMu.Lock()
	h.eng.orders[order.ClientOrderID].UpdatedAt = time.Now().UTC().Add(-25 * time.Hour)
	h.eng.ordersMu.Unlock()

	_, err = h.eng.ForceReconcile(ctx)
	require.NoError(t, err)
	assert.NotContains(t, h.eng.Orders(), order.ClientOrderID)
}

func TestReconcile_SkippedWhileBreakerOpen(t *testing.T) {
	h := newTestHarness(t, testConfig())
	h.start(t)

	before := h.exchange.balancesCalls
	h.eng.breaker.ForceOpen("halt")

	n, err := h.eng.ForceReconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, before, h.exchange.balancesCalls, "no exchange traffic while halted")
	assert.Zero(t, h.eng.ReconMetrics().Passes)
}

func TestReconcile_FailurePropagates(t *testing.T) {
	h := newTestHarness(t, testConfig())
	h.start(t)

	h.exchange.balancesFn = func(ctx context.Context) ([]ports.AssetBalance, error) {
		return nil, ports.ErrExchangeUnavailable
	}

	_, err := h.eng.ForceReconcile(context.Background())
	require.ErrorIs(t, err, ports.ErrExchangeUnavailable)
}
