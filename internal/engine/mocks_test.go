package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cryptoTradeBot/internal/domain"
	"cryptoTradeBot/internal/events"
	"cryptoTradeBot/internal/ports"
)

// --- Logger mock ---

type noopLogger struct{}

func (noopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (noopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// --- Exchange mock ---

// mockExchange is a hand-rolled ports.ExchangeClient. Behaviour is injected
// per test via the *Fn fields; calls are recorded for assertions. The stored
// handlers let tests push stream events into the engine directly.
type mockExchange struct {
	mu       sync.Mutex
	handlers ports.UserDataHandlers

	placeFn      func(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error)
	cancelFn     func(ctx context.Context, symbol, clientOrderID string) (*ports.OrderResponse, error)
	statusFn     func(ctx context.Context, symbol, clientOrderID string) (*ports.OrderResponse, error)
	openOrdersFn func(ctx context.Context) ([]*ports.OrderResponse, error)
	balancesFn   func(ctx context.Context) ([]ports.AssetBalance, error)
	tickerFn     func(ctx context.Context, symbol string) (float64, error)

	placed        []ports.OrderRequest
	cancelled     []string
	balancesCalls int
}

var _ ports.ExchangeClient = (*mockExchange)(nil)

func newMockExchange() *mockExchange {
	return &mockExchange{}
}

func (m *mockExchange) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	m.mu.Lock()
	m.placed = append(m.placed, req)
	fn := m.placeFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &ports.OrderResponse{
		ExchangeOrderID: int64(len(m.placed)),
		ClientOrderID:   req.ClientOrderID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		State:           domain.OrderStateNew,
		Timestamp:       time.Now().UTC(),
	}, nil
}

func (m *mockExchange) CancelOrder(ctx context.Context, symbol, clientOrderID string) (*ports.OrderResponse, error) {
	m.mu.Lock()
	m.cancelled = append(m.cancelled, clientOrderID)
	fn := m.cancelFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, symbol, clientOrderID)
	}
	return &ports.OrderResponse{ClientOrderID: clientOrderID, Symbol: symbol, State: domain.OrderStateCancelled}, nil
}

func (m *mockExchange) GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (*ports.OrderResponse, error) {
	m.mu.Lock()
	fn := m.statusFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, symbol, clientOrderID)
	}
	return nil, ports.ErrOrderNotFound
}

func (m *mockExchange) GetOpenOrders(ctx context.Context) ([]*ports.OrderResponse, error) {
	m.mu.Lock()
	fn := m.openOrdersFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return nil, nil
}

func (m *mockExchange) GetBalances(ctx context.Context) ([]ports.AssetBalance, error) {
	m.mu.Lock()
	m.balancesCalls++
	fn := m.balancesFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return []ports.AssetBalance{{Asset: "USDT", Free: 100000}}, nil
}

func (m *mockExchange) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	fn := m.tickerFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, symbol)
	}
	return 0, ports.ErrExchangeUnavailable
}

func (m *mockExchange) StreamUserData(ctx context.Context, handlers ports.UserDataHandlers) (chan struct{}, chan struct{}, error) {
	m.mu.Lock()
	m.handlers = handlers
	m.mu.Unlock()

	done := make(chan struct{})
	stop := make(chan struct{}, 1)
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
		case <-stop:
		}
	}()
	return done, stop, nil
}

func (m *mockExchange) Ping(ctx context.Context) error { return nil }

func (m *mockExchange) GetServerTime(ctx context.Context) (time.Time, error) {
	return time.Now().UTC(), nil
}

func (m *mockExchange) userHandlers() ports.UserDataHandlers {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers
}

func (m *mockExchange) placedRequests() []ports.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ports.OrderRequest, len(m.placed))
	copy(out, m.placed)
	return out
}

func (m *mockExchange) cancelledIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.cancelled))
	copy(out, m.cancelled)
	return out
}

// --- Risk manager mock ---

type mockRisk struct {
	mu         sync.Mutex
	rejectWith string
	trades     []float64
	lossHit    bool
}

var _ ports.RiskManager = (*mockRisk)(nil)

func (m *mockRisk) ValidateOrder(ctx context.Context, symbol string, side domain.Side, quantity, price float64,
	positions map[string]*domain.Position, balances map[string]domain.Balance) *ports.RiskAssessment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejectWith != "" {
		return &ports.RiskAssessment{Passed: false, Errors: []string{m.rejectWith}}
	}
	return &ports.RiskAssessment{Passed: true}
}

func (m *mockRisk) CalcStopLossTakeProfit(entryPrice float64, side domain.PositionSide) (float64, float64) {
	return 0, 0
}

func (m *mockRisk) CalcPositionSize(availableBalance, price float64) float64 { return 0 }

func (m *mockRisk) RecordTrade(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, pnl)
}

func (m *mockRisk) DailyLossExceeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lossHit
}

func (m *mockRisk) RiskUtilization(positions map[string]*domain.Position) float64 { return 0 }
func (m *mockRisk) DailyLossUtilization() float64                                 { return 0 }

func (m *mockRisk) recordedTrades() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.trades))
	copy(out, m.trades)
	return out
}

// --- Trade repository mock ---

type mockRepo struct {
	mu     sync.Mutex
	trades []*domain.Trade
	err    error
}

var _ ports.TradeRepository = (*mockRepo)(nil)

func (m *mockRepo) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.trades = append(m.trades, trade)
	return int64(len(m.trades)), nil
}

func (m *mockRepo) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	return nil, nil
}

func (m *mockRepo) CountTodayBySymbol(ctx context.Context, symbol string) (int, error) {
	return 0, nil
}

func (m *mockRepo) TotalRealizedPnL(ctx context.Context) (float64, error) { return 0, nil }

func (m *mockRepo) savedTrades() []*domain.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Trade, len(m.trades))
	copy(out, m.trades)
	return out
}

// --- Shared fixtures ---

// testConfig parks the background loops on long intervals so tests drive
// everything synchronously.
func testConfig() Config {
	return Config{
		AllowedSymbols:    []string{"ETHUSDT", "BTCUSDT"},
		QuoteAsset:        "USDT",
		BreakerThreshold:  2,
		ReconcileInterval: time.Hour,
		StaleOrderTimeout: 2 * time.Hour,
		MonitorInterval:   time.Hour,
	}
}

type testHarness struct {
	eng      *Engine
	exchange *mockExchange
	riskMgr  *mockRisk
	repo     *mockRepo
	sub      *events.Subscription
}

func newTestHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()

	exchange := newMockExchange()
	riskMgr := &mockRisk{}
	repo := &mockRepo{}

	eng, err := New(cfg, noopLogger{}, exchange, riskMgr, repo)
	require.NoError(t, err)

	h := &testHarness{eng: eng, exchange: exchange, riskMgr: riskMgr, repo: repo}
	t.Cleanup(func() {
		_ = h.eng.Stop(context.Background())
	})
	return h
}

func (h *testHarness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.eng.Start(context.Background()))
	h.sub = h.eng.Subscribe()
}

// nextEvent pulls the next event off the harness subscription, failing the
// test if none arrives promptly.
func (h *testHarness) nextEvent(t *testing.T) events.Event {
	t.Helper()
	select {
	case ev := <-h.sub.C:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

// nextEventOfType discards events until one of the wanted type arrives.
func (h *testHarness) nextEventOfType(t *testing.T, want events.Type) events.Event {
	t.Helper()
	for i := 0; i < 32; i++ {
		ev := h.nextEvent(t)
		if ev.Type == want {
			return ev
		}
	}
	t.Fatalf("event %s never arrived", want)
	return events.Event{}
}

func fillReport(order *domain.Order, tradeID int64, qty, price float64, state domain.OrderState) ports.ExecutionReport {
	return ports.ExecutionReport{
		Symbol:          order.Symbol,
		ClientOrderID:   order.ClientOrderID,
		ExchangeOrderID: order.ExchangeOrderID,
		Side:            order.Side,
		Type:            order.Type,
		State:           state,
		LastQty:         qty,
		LastPrice:       price,
		TradeID:         tradeID,
		TransactTime:    time.Now().UTC(),
	}
}
