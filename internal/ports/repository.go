package ports

import (
	"context"

	"cryptoTradeBot/internal/domain"
)

// TradeRepository is the durable journal of completed position closes.
// Journal writes are best-effort from the engine's point of view: a failed
// write is logged, never fatal to the close itself.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindBySymbol retrieves the most recent trades for a symbol, up to limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
	// CountTodayBySymbol counts trades recorded today (UTC) for a symbol.
	CountTodayBySymbol(ctx context.Context, symbol string) (int, error)
	// TotalRealizedPnL sums the PnL of every journaled trade.
	TotalRealizedPnL(ctx context.Context) (float64, error)
}
