package ports

import (
	"context"
	"time"

	"cryptoTradeBot/internal/domain"
)

// OrderRequest carries everything needed to submit one order to the exchange.
type OrderRequest struct {
	Symbol        string
	Side          domain.Side
	Type          domain.OrderType
	ClientOrderID string // Engine-generated correlation key
	Quantity      string // Pre-formatted to the symbol's precision
	Price         string // Limit price, empty for market orders
	StopPrice     string // Trigger price for stop/take-profit orders
}

// OrderResponse represents the essential details returned after placing,
// cancelling or querying an order.
type OrderResponse struct {
	ExchangeOrderID int64
	ClientOrderID   string
	Symbol          string
	Side            domain.Side
	Type            domain.OrderType
	State           domain.OrderState
	Price           float64
	StopPrice       float64
	AvgPrice        float64
	OrigQuantity    float64
	ExecutedQty     float64
	Timestamp       time.Time
}

// AssetBalance is one asset's free/locked amounts as reported by the exchange.
type AssetBalance struct {
	Asset  string
	Free   float64
	Locked float64
}

// ExecutionReport is one streamed order-update event, already translated to
// domain enums at the adapter boundary.
type ExecutionReport struct {
	Symbol          string
	ClientOrderID   string
	ExchangeOrderID int64
	Side            domain.Side
	Type            domain.OrderType
	State           domain.OrderState
	LastQty         float64 // Quantity of this execution
	CumQty          float64 // Cumulative filled quantity
	LastPrice       float64 // Price of this execution
	Commission      float64
	CommissionAsset string
	TradeID         int64
	RejectReason    string
	TransactTime    time.Time
}

// AccountSnapshot is a full push of every non-zero balance. It replaces all
// locally tracked balances wholesale.
type AccountSnapshot struct {
	Balances []AssetBalance
	Time     time.Time
}

// BalanceDelta is a signed adjustment to one asset's free balance
// (deposit, withdrawal, dust conversion).
type BalanceDelta struct {
	Asset string
	Delta float64
	Time  time.Time
}

// UserDataHandlers receives typed events from the exchange's authenticated
// push channel. Per-connection delivery order is preserved; handlers are
// invoked sequentially from a single goroutine.
type UserDataHandlers struct {
	OnExecutionReport func(ExecutionReport)
	OnAccountSnapshot func(AccountSnapshot)
	OnBalanceDelta    func(BalanceDelta)
	OnConnect         func()
	OnDisconnect      func(err error)
}

// ExchangeClient defines the interface for interacting with a cryptocurrency
// exchange. This abstraction decouples the engine from a specific exchange
// implementation.
type ExchangeClient interface {
	// PlaceOrder submits a new order. The request's client order id is echoed
	// back by the exchange on every subsequent report for the order.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)

	// CancelOrder cancels an open order by its client order id.
	CancelOrder(ctx context.Context, symbol, clientOrderID string) (*OrderResponse, error)

	// GetOrderStatus queries the current status of one order by client order id.
	GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (*OrderResponse, error)

	// GetOpenOrders retrieves every currently open order on the account.
	GetOpenOrders(ctx context.Context) ([]*OrderResponse, error)

	// GetBalances retrieves all non-zero asset balances.
	GetBalances(ctx context.Context) ([]AssetBalance, error)

	// GetTickerPrice retrieves the last traded price for a symbol.
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)

	// StreamUserData starts the authenticated push channel and dispatches its
	// events to the given handlers until the context is cancelled or stopCh is
	// signalled. doneCh closes when the stream has fully shut down.
	StreamUserData(ctx context.Context, handlers UserDataHandlers) (doneCh chan struct{}, stopCh chan struct{}, err error)

	// Ping checks connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetServerTime retrieves the exchange's current server time.
	GetServerTime(ctx context.Context) (time.Time, error)
}
