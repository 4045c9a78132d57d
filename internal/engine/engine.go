package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cryptoTradeBot/internal/domain"
	"cryptoTradeBot/internal/events"
	"cryptoTradeBot/internal/ports"
	"cryptoTradeBot/internal/risk"
)

// Engine is the live trading orchestrator. It owns all mutable trading state
// (orders, positions, balances, configuration, metrics), exposes the order
// placement/cancellation API, consumes the exchange's streaming events, runs
// the reconciliation loop and broadcasts domain events to subscribers.
//
// Locking layout: orders, positions, balances and configuration each have
// their own lock so that unrelated operations do not serialize (reconciling
// one symbol's order must not block applying another symbol's fill). On top
// of that, execMu serializes the whole place/cancel critical section: at most
// one order-mutating operation is in flight at a time, so two concurrent
// placements can never both pass a risk check against the same balance
// snapshot.
type Engine struct {
	logger    ports.Logger
	exchange  ports.ExchangeClient
	riskMgr   ports.RiskManager
	tradeRepo ports.TradeRepository // optional journal, may be nil

	bus     *events.Bus
	breaker *risk.CircuitBreaker

	running atomic.Bool
	startMu sync.Mutex // guards Start/Stop against each other
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	execMu sync.Mutex // serializes order placement and cancellation

	ordersMu sync.RWMutex
	orders   map[string]*domain.Order // keyed by client order id

	positionsMu sync.RWMutex
	positions   map[string]*domain.Position // keyed by symbol

	balancesMu sync.RWMutex
	balances   map[string]domain.Balance // keyed by asset

	cfgMu sync.RWMutex
	cfg   Config

	daily *dailyMetrics
	recon *reconMetrics

	// lossLimitNotified debounces the daily-loss event to one per crossing.
	lossLimitNotified atomic.Bool

	// reconcileNow pokes the reconciliation loop for an immediate
	// out-of-band pass (stream disconnects, ForceReconcile).
	reconcileNow chan struct{}

	streamStop chan struct{}
	streamDone chan struct{}
}

// New creates an engine. The trade repository may be nil, in which case
// completed closes are not journaled.
func New(cfg Config, logger ports.Logger, exchange ports.ExchangeClient, riskMgr ports.RiskManager, tradeRepo ports.TradeRepository) (*Engine, error) {
	if logger == nil || exchange == nil || riskMgr == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		logger:       logger,
		exchange:     exchange,
		riskMgr:      riskMgr,
		tradeRepo:    tradeRepo,
		bus:          events.NewBus(),
		breaker:      risk.NewCircuitBreaker(),
		orders:       make(map[string]*domain.Order),
		positions:    make(map[string]*domain.Position),
		balances:     make(map[string]domain.Balance),
		cfg:          cfg,
		daily:        newDailyMetrics(),
		recon:        &reconMetrics{},
		reconcileNow: make(chan struct{}, 1),
	}, nil
}

// Start brings the engine up: starts the streaming adapter, performs the
// initial synchronization of balances and open orders from REST, spawns the
// reconciliation and price-monitor loops and flips the running flag. It fails
// if the engine is already running.
func (e *Engine) Start(ctx context.Context) error {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if e.running.Load() {
		return ports.ErrEngineAlreadyRunning
	}

	e.logger.Info(ctx, "Starting trading engine")

	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	streamDone, streamStop, err := e.exchange.StreamUserData(loopCtx, ports.UserDataHandlers{
		OnExecutionReport: e.handleExecutionReport,
		OnAccountSnapshot: e.handleAccountSnapshot,
		OnBalanceDelta:    e.handleBalanceDelta,
		OnConnect:         e.handleStreamConnect,
		OnDisconnect:      e.handleStreamDisconnect,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start user-data stream: %w", err)
	}
	e.streamDone = streamDone
	e.streamStop = streamStop

	// Initial synchronization: exchange truth seeds local state before any
	// order is accepted.
	if err := e.refreshBalances(ctx); err != nil {
		e.stopStream(ctx)
		cancel()
		return fmt.Errorf("initial balance sync failed: %w", err)
	}
	if err := e.adoptOpenOrders(ctx); err != nil {
		e.stopStream(ctx)
		cancel()
		return fmt.Errorf("initial open-order sync failed: %w", err)
	}

	e.wg.Add(2)
	go e.reconcileLoop(loopCtx)
	go e.monitorLoop(loopCtx)

	e.running.Store(true)
	e.emit(events.New(events.EngineStarted))
	e.logger.Info(ctx, "Trading engine started")
	return nil
}

// Stop shuts the engine down. The running flag is flipped first so that
// callers and loops observe the stop promptly; then the stream is stopped,
// background loops are cancelled and locally-active orders are cancelled
// best-effort. Stop is idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if !e.running.Load() {
		return nil
	}
	e.running.Store(false)
	e.logger.Info(ctx, "Stopping trading engine")

	e.stopStream(ctx)
	e.cancel()
	e.wg.Wait()

	e.cancelAllActive(ctx, "engine stop")

	e.emit(events.New(events.EngineStopped))
	e.logger.Info(ctx, "Trading engine stopped")
	return nil
}

// IsRunning reports whether the engine accepts orders.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// Subscribe attaches a consumer to the engine's event feed. Slow consumers
// lose the oldest events and can detect it via Subscription.Lagged.
func (e *Engine) Subscribe() *events.Subscription {
	return e.bus.Subscribe(e.config().EventBufferSize)
}

// UpdateConfig replaces the runtime configuration after re-validating it.
func (e *Engine) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()
	e.logger.Info(context.Background(), "Engine configuration updated", map[string]interface{}{
		"allowedSymbols": cfg.AllowedSymbols, "reconcileInterval": cfg.ReconcileInterval.String(),
	})
	return nil
}

// Config returns a copy of the current runtime configuration.
func (e *Engine) Config() Config {
	return e.config()
}

func (e *Engine) config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// CircuitBreakerState returns a snapshot of the breaker for status reporting.
func (e *Engine) CircuitBreakerState() risk.BreakerState {
	return e.breaker.State()
}

// ResetCircuitBreaker explicitly closes the breaker. This is the only path
// that closes it; there is no automatic recovery.
func (e *Engine) ResetCircuitBreaker() {
	e.breaker.Close()
	e.emit(events.New(events.CircuitBreakerClosed))
	e.logger.Info(context.Background(), "Circuit breaker reset")
}

// DailyMetrics returns a snapshot of today's trading accumulators.
func (e *Engine) DailyMetrics() DailyMetrics {
	return e.daily.snapshot()
}

// ReconMetrics returns a snapshot of the reconciliation counters.
func (e *Engine) ReconMetrics() ReconMetrics {
	return e.recon.snapshot()
}

// Positions returns a copy of all open positions keyed by symbol.
func (e *Engine) Positions() map[string]*domain.Position {
	e.positionsMu.RLock()
	defer e.positionsMu.RUnlock()
	out := make(map[string]*domain.Position, len(e.positions))
	for sym, p := range e.positions {
		cp := *p
		out[sym] = &cp
	}
	return out
}

// Orders returns a copy of all tracked orders keyed by client order id.
func (e *Engine) Orders() map[string]*domain.Order {
	e.ordersMu.RLock()
	defer e.ordersMu.RUnlock()
	out := make(map[string]*domain.Order, len(e.orders))
	for id, o := range e.orders {
		cp := *o
		out[id] = &cp
	}
	return out
}

// ActiveOrders returns copies of all orders still representing live exposure.
func (e *Engine) ActiveOrders() []*domain.Order {
	e.ordersMu.RLock()
	defer e.ordersMu.RUnlock()
	var out []*domain.Order
	for _, o := range e.orders {
		if o.IsActive() {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out
}

// Balances returns a copy of all tracked balances keyed by asset.
func (e *Engine) Balances() map[string]domain.Balance {
	e.balancesMu.RLock()
	defer e.balancesMu.RUnlock()
	out := make(map[string]domain.Balance, len(e.balances))
	for asset, b := range e.balances {
		out[asset] = b
	}
	return out
}

// SetStopLoss updates the stop-loss level of the open position on symbol.
func (e *Engine) SetStopLoss(symbol string, price float64) error {
	return e.mutatePosition(symbol, func(p *domain.Position) { p.StopLoss = price })
}

// SetTakeProfit updates the take-profit level of the open position on symbol.
func (e *Engine) SetTakeProfit(symbol string, price float64) error {
	return e.mutatePosition(symbol, func(p *domain.Position) { p.TakeProfit = price })
}

// SetTrailingStop arms a trailing stop on the open position on symbol.
func (e *Engine) SetTrailingStop(symbol string, activationPrice, trailPercent float64) error {
	return e.mutatePosition(symbol, func(p *domain.Position) {
		p.TrailingActivation = activationPrice
		p.TrailingPercent = trailPercent
		p.TrailingStopPrice = 0
	})
}

func (e *Engine) mutatePosition(symbol string, fn func(*domain.Position)) error {
	e.positionsMu.Lock()
	defer e.positionsMu.Unlock()
	p, ok := e.positions[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrPositionNotFound, symbol)
	}
	fn(p)
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	ev := events.New(events.PositionUpdated)
	ev.Position = &cp
	e.emit(ev)
	return nil
}

// ForceReconcile runs one reconciliation pass immediately, outside the
// regular schedule, and returns the discrepancy count.
func (e *Engine) ForceReconcile(ctx context.Context) (int, error) {
	return e.reconcileOnce(ctx)
}

func (e *Engine) stopStream(ctx context.Context) {
	if e.streamStop == nil {
		return
	}
	select {
	case e.streamStop <- struct{}{}:
	default:
	}
	select {
	case <-e.streamDone:
	case <-time.After(5 * time.Second):
		e.logger.Warn(ctx, "Timeout waiting for user-data stream to shut down")
	}
	e.streamStop = nil
	e.streamDone = nil
}

func (e *Engine) emit(ev events.Event) {
	e.bus.Publish(ev)
}

// pokeReconcile requests an immediate out-of-band reconciliation pass.
func (e *Engine) pokeReconcile() {
	select {
	case e.reconcileNow <- struct{}{}:
	default:
	}
}
