package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cryptoTradeBot/internal/domain"
	"cryptoTradeBot/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

const (
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	// Binance invalidates listen keys after 60 minutes without a keepalive.
	listenKeyKeepalive = 30 * time.Minute
)

// Client implements the ports.ExchangeClient interface for Binance spot using
// the go-binance library.
type Client struct {
	spot                 *binance.Client
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectAttempts int
}

var _ ports.ExchangeClient = (*Client)(nil)

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	Logger               ports.Logger
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// New creates a new Binance spot client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		spot:                 client,
		logger:               cfg.Logger,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Invalid signature
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1106, -1111, -1112, -1114, -1115, -1116, -1117, -1120, -1121, -1125, -1130:
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011: // Cancel rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014: // API-key format invalid
			mappedErr = ports.ErrInvalidAPIKeys
		case -2015: // Invalid API-key, IP, or permissions
			mappedErr = ports.ErrInvalidAPIKeys
		case -3005, -2019: // Insufficient balance / margin
			mappedErr = ports.ErrInsufficientFunds
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// PlaceOrder submits a new order with the engine's client order id.
func (c *Client) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	op := "PlaceOrder"

	svc := c.spot.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(req.Side)).
		Quantity(req.Quantity).
		NewClientOrderID(req.ClientOrderID)

	switch req.Type {
	case domain.OrderTypeMarket:
		svc = svc.Type(binance.OrderTypeMarket)
	case domain.OrderTypeLimit:
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(req.Price)
	case domain.OrderTypeStopLoss:
		svc = svc.Type(binance.OrderTypeStopLoss).StopPrice(req.StopPrice)
	case domain.OrderTypeTakeProfit:
		svc = svc.Type(binance.OrderTypeTakeProfit).StopPrice(req.StopPrice)
	default:
		return nil, fmt.Errorf("%s: %w: unsupported order type %q", op, ports.ErrInvalidRequest, req.Type)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp, err := translateCreateResponse(order)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "type": req.Type,
		"quantity": req.Quantity, "clientOrderID": req.ClientOrderID,
		"orderID": resp.ExchangeOrderID, "status": resp.State,
	})
	return resp, nil
}

// CancelOrder cancels an open order by its client order id.
func (c *Client) CancelOrder(ctx context.Context, symbol, clientOrderID string) (*ports.OrderResponse, error) {
	op := "CancelOrder"
	res, err := c.spot.NewCancelOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	state, err := domain.ParseOrderState(string(res.Status))
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	price, _ := strconv.ParseFloat(res.Price, 64)
	origQty, _ := strconv.ParseFloat(res.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)

	resp := &ports.OrderResponse{
		ExchangeOrderID: res.OrderID,
		ClientOrderID:   res.OrigClientOrderID,
		Symbol:          res.Symbol,
		Side:            domain.Side(res.Side),
		State:           state,
		Price:           price,
		OrigQuantity:    origQty,
		ExecutedQty:     execQty,
		Timestamp:       time.UnixMilli(res.TransactTime),
	}
	if t, ok := parseOrderType(string(res.Type)); ok {
		resp.Type = t
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "clientOrderID": clientOrderID, "status": resp.State})
	return resp, nil
}

// GetOrderStatus queries the current status of one order.
func (c *Client) GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (*ports.OrderResponse, error) {
	op := "GetOrderStatus"
	order, err := c.spot.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	resp, err := translateOrder(order)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return resp, nil
}

// GetOpenOrders retrieves every open order on the account. Orders with
// unparseable fields are skipped with a warning rather than failing the batch.
func (c *Client) GetOpenOrders(ctx context.Context) ([]*ports.OrderResponse, error) {
	op := "GetOpenOrders"
	orders, err := c.spot.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	out := make([]*ports.OrderResponse, 0, len(orders))
	for _, o := range orders {
		resp, err := translateOrder(o)
		if err != nil {
			c.logger.Warn(ctx, op+": skipping untranslatable order", map[string]interface{}{
				"symbol": o.Symbol, "orderID": o.OrderID, "error": err.Error(),
			})
			continue
		}
		out = append(out, resp)
	}
	return out, nil
}

// GetBalances retrieves all non-zero asset balances.
func (c *Client) GetBalances(ctx context.Context) ([]ports.AssetBalance, error) {
	op := "GetBalances"
	account, err := c.spot.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	out := make([]ports.AssetBalance, 0, len(account.Balances))
	for _, b := range account.Balances {
		free, errF := strconv.ParseFloat(b.Free, 64)
		locked, errL := strconv.ParseFloat(b.Locked, 64)
		if errF != nil || errL != nil {
			c.logger.Warn(ctx, op+": skipping unparseable balance entry", map[string]interface{}{
				"asset": b.Asset, "free": b.Free, "locked": b.Locked,
			})
			continue
		}
		if free == 0 && locked == 0 {
			continue
		}
		out = append(out, ports.AssetBalance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

// GetTickerPrice retrieves the last traded price for a symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetTickerPrice"
	prices, err := c.spot.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(prices) == 0 {
		return 0, c.handleError(ctx, fmt.Errorf("no price data returned for symbol %s", symbol), op)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, c.handleError(ctx, fmt.Errorf("could not parse price '%s': %w", prices[0].Price, err), op)
	}
	return price, nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.spot.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetServerTime retrieves the current server time from the exchange.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	op := "GetServerTime"
	serverTimeMs, err := c.spot.NewServerTimeService().Do(ctx)
	if err != nil {
		return time.Time{}, c.handleError(ctx, err, op)
	}
	return time.UnixMilli(serverTimeMs), nil
}

// StreamUserData starts the authenticated user-data stream and dispatches its
// events to the given handlers. The stream reconnects with exponential
// backoff; each successful connection invokes OnConnect, each loss OnDisconnect.
func (c *Client) StreamUserData(ctx context.Context, handlers ports.UserDataHandlers) (chan struct{}, chan struct{}, error) {
	op := "StreamUserData"
	wsCtx, cancelWs := context.WithCancel(ctx)

	wsHandler := func(event *binance.WsUserDataEvent) {
		c.dispatchUserDataEvent(wsCtx, event, handlers)
	}

	go func() {
		defer cancelWs()

		attempt := 0
		for {
			select {
			case <-wsCtx.Done():
				c.logger.Info(wsCtx, op+": Context cancelled, stopping connection attempts.")
				return
			default:
			}

			c.logger.Info(wsCtx, op+": Attempting user-data stream connection...", map[string]interface{}{"attempt": attempt + 1})
			listenKey, err := c.spot.NewStartUserStreamService().Do(wsCtx)
			var innerDoneCh, innerStopCh chan struct{}
			if err == nil {
				errHandler := func(wsErr error) {
					c.logger.Warn(wsCtx, op+": WebSocket error reported", map[string]interface{}{"error": wsErr.Error()})
				}
				innerDoneCh, innerStopCh, err = binance.WsUserDataServe(listenKey, wsHandler, errHandler)
			}
			if err != nil {
				c.handleError(wsCtx, err, op+" connection attempt")
				attempt++
				if attempt >= c.maxReconnectAttempts {
					c.logger.Error(wsCtx, err, op+": Max reconnection attempts exceeded, giving up.", map[string]interface{}{"maxAttempts": c.maxReconnectAttempts})
					return
				}
				delay := c.reconnectDelay * time.Duration(1<<uint(attempt-1))
				jitter := time.Duration(float64(delay) * 0.1)
				select {
				case <-time.After(delay + jitter):
					continue
				case <-wsCtx.Done():
					return
				}
			}

			c.logger.Info(wsCtx, op+": User-data stream established.")
			attempt = 0
			if handlers.OnConnect != nil {
				handlers.OnConnect()
			}

			// Keep the listen key alive while this connection lasts.
			keepaliveDone := make(chan struct{})
			go c.keepListenKeyAlive(wsCtx, listenKey, keepaliveDone)

			select {
			case <-innerDoneCh:
				close(keepaliveDone)
				c.logger.Warn(wsCtx, op+": User-data stream closed unexpectedly. Reconnecting...")
				if handlers.OnDisconnect != nil {
					handlers.OnDisconnect(fmt.Errorf("user-data stream closed unexpectedly"))
				}
			case <-wsCtx.Done():
				close(keepaliveDone)
				c.logger.Info(wsCtx, op+": Context cancelled, stopping user-data stream.")
				select {
				case innerStopCh <- struct{}{}:
				default:
				}
				c.closeListenKey(listenKey)
				return
			}
		}
	}()

	doneCh := make(chan struct{})
	stopCh := make(chan struct{})

	go func() {
		select {
		case <-stopCh:
			c.logger.Info(ctx, op+": Received external stop signal, cancelling stream context.")
			cancelWs()
		case <-wsCtx.Done():
		}
	}()

	go func() {
		<-wsCtx.Done()
		close(doneCh)
	}()

	return doneCh, stopCh, nil
}

func (c *Client) keepListenKeyAlive(ctx context.Context, listenKey string, done <-chan struct{}) {
	ticker := time.NewTicker(listenKeyKeepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.spot.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
				c.logger.Warn(ctx, "Listen key keepalive failed", map[string]interface{}{"error": err.Error()})
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) closeListenKey(listenKey string) {
	// The stream context is already cancelled at this point.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.spot.NewCloseUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
		c.logger.Warn(ctx, "Failed to close listen key", map[string]interface{}{"error": err.Error()})
	}
}

// dispatchUserDataEvent translates one raw stream event into the typed
// handler calls. Malformed numeric fields skip the affected record only.
func (c *Client) dispatchUserDataEvent(ctx context.Context, event *binance.WsUserDataEvent, handlers ports.UserDataHandlers) {
	if event == nil {
		return
	}
	switch event.Event {
	case binance.UserDataEventTypeExecutionReport:
		if handlers.OnExecutionReport == nil {
			return
		}
		report, err := translateExecutionReport(&event.OrderUpdate)
		if err != nil {
			c.logger.Error(ctx, err, "Failed to translate execution report", map[string]interface{}{
				"symbol": event.OrderUpdate.Symbol, "clientOrderID": event.OrderUpdate.ClientOrderId,
			})
			return
		}
		handlers.OnExecutionReport(*report)

	case binance.UserDataEventTypeOutboundAccountPosition:
		if handlers.OnAccountSnapshot == nil {
			return
		}
		snapshot := ports.AccountSnapshot{Time: time.UnixMilli(event.Time)}
		for _, b := range event.AccountUpdate.WsAccountUpdates {
			free, errF := strconv.ParseFloat(b.Free, 64)
			locked, errL := strconv.ParseFloat(b.Locked, 64)
			if errF != nil || errL != nil {
				c.logger.Warn(ctx, "Skipping unparseable balance in account snapshot", map[string]interface{}{
					"asset": b.Asset, "free": b.Free, "locked": b.Locked,
				})
				continue
			}
			snapshot.Balances = append(snapshot.Balances, ports.AssetBalance{Asset: b.Asset, Free: free, Locked: locked})
		}
		handlers.OnAccountSnapshot(snapshot)

	case binance.UserDataEventTypeBalanceUpdate:
		if handlers.OnBalanceDelta == nil {
			return
		}
		delta, err := strconv.ParseFloat(event.BalanceUpdate.Change, 64)
		if err != nil {
			c.logger.Error(ctx, err, "Failed to parse balance delta", map[string]interface{}{
				"asset": event.BalanceUpdate.Asset, "change": event.BalanceUpdate.Change,
			})
			return
		}
		handlers.OnBalanceDelta(ports.BalanceDelta{
			Asset: event.BalanceUpdate.Asset,
			Delta: delta,
			Time:  time.UnixMilli(event.Time),
		})
	}
}

// --- Translation helpers ---

func translateCreateResponse(order *binance.CreateOrderResponse) (*ports.OrderResponse, error) {
	if order == nil {
		return nil, errors.New("received nil order response")
	}
	state, err := domain.ParseOrderState(string(order.Status))
	if err != nil {
		return nil, err
	}
	price, _ := strconv.ParseFloat(order.Price, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	resp := &ports.OrderResponse{
		ExchangeOrderID: order.OrderID,
		ClientOrderID:   order.ClientOrderID,
		Symbol:          order.Symbol,
		Side:            domain.Side(order.Side),
		State:           state,
		Price:           price,
		OrigQuantity:    origQty,
		ExecutedQty:     execQty,
		Timestamp:       time.UnixMilli(order.TransactTime),
	}
	if t, ok := parseOrderType(string(order.Type)); ok {
		resp.Type = t
	}
	// Market fills arrive inline on the create response; derive the VWAP.
	if execQty > 0 && len(order.Fills) > 0 {
		var notional, qty float64
		for _, f := range order.Fills {
			p, errP := strconv.ParseFloat(f.Price, 64)
			q, errQ := strconv.ParseFloat(f.Quantity, 64)
			if errP != nil || errQ != nil {
				continue
			}
			notional += p * q
			qty += q
		}
		if qty > 0 {
			resp.AvgPrice = notional / qty
		}
	}
	return resp, nil
}

func translateOrder(order *binance.Order) (*ports.OrderResponse, error) {
	if order == nil {
		return nil, errors.New("received nil order")
	}
	state, err := domain.ParseOrderState(string(order.Status))
	if err != nil {
		return nil, err
	}
	price, _ := strconv.ParseFloat(order.Price, 64)
	stopPrice, _ := strconv.ParseFloat(order.StopPrice, 64)
	origQty, err := strconv.ParseFloat(order.OrigQuantity, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing original quantity '%s': %w", order.OrigQuantity, err)
	}
	execQty, err := strconv.ParseFloat(order.ExecutedQuantity, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing executed quantity '%s': %w", order.ExecutedQuantity, err)
	}

	resp := &ports.OrderResponse{
		ExchangeOrderID: order.OrderID,
		ClientOrderID:   order.ClientOrderID,
		Symbol:          order.Symbol,
		Side:            domain.Side(order.Side),
		State:           state,
		Price:           price,
		StopPrice:       stopPrice,
		OrigQuantity:    origQty,
		ExecutedQty:     execQty,
		Timestamp:       time.UnixMilli(order.UpdateTime),
	}
	if t, ok := parseOrderType(string(order.Type)); ok {
		resp.Type = t
	}
	if execQty > 0 {
		cumQuote, errQ := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)
		if errQ == nil && cumQuote > 0 {
			resp.AvgPrice = cumQuote / execQty
		}
	}
	return resp, nil
}

func translateExecutionReport(u *binance.WsOrderUpdate) (*ports.ExecutionReport, error) {
	if u == nil {
		return nil, errors.New("received nil order update")
	}
	state, err := domain.ParseOrderState(u.Status)
	if err != nil {
		return nil, err
	}
	lastQty, err := strconv.ParseFloat(u.LatestVolume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing last executed quantity '%s': %w", u.LatestVolume, err)
	}
	cumQty, err := strconv.ParseFloat(u.FilledVolume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing cumulative quantity '%s': %w", u.FilledVolume, err)
	}
	lastPrice, _ := strconv.ParseFloat(u.LatestPrice, 64)
	commission, _ := strconv.ParseFloat(u.FeeCost, 64)

	// On cancels and rejects the exchange echoes the original client order id
	// in a separate field; correlation must use it when present.
	clientOrderID := u.ClientOrderId
	if u.OrigCustomOrderId != "" {
		clientOrderID = u.OrigCustomOrderId
	}

	report := &ports.ExecutionReport{
		Symbol:          u.Symbol,
		ClientOrderID:   clientOrderID,
		ExchangeOrderID: u.Id,
		Side:            domain.Side(u.Side),
		State:           state,
		LastQty:         lastQty,
		CumQty:          cumQty,
		LastPrice:       lastPrice,
		Commission:      commission,
		CommissionAsset: u.FeeAsset,
		TradeID:         u.TradeId,
		RejectReason:    u.RejectReason,
		TransactTime:    time.UnixMilli(u.TransactionTime),
	}
	if t, ok := parseOrderType(u.Type); ok {
		report.Type = t
	}
	return report, nil
}

// parseOrderType maps exchange order-type strings onto the internal set.
// Limit variants of the stop types collapse onto the base type.
func parseOrderType(raw string) (domain.OrderType, bool) {
	switch raw {
	case "MARKET":
		return domain.OrderTypeMarket, true
	case "LIMIT", "LIMIT_MAKER":
		return domain.OrderTypeLimit, true
	case "STOP_LOSS", "STOP_LOSS_LIMIT":
		return domain.OrderTypeStopLoss, true
	case "TAKE_PROFIT", "TAKE_PROFIT_LIMIT":
		return domain.OrderTypeTakeProfit, true
	}
	return "", false
}
