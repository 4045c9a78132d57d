package ports

import (
	"context"

	"cryptoTradeBot/internal/domain"
)

// RiskAssessment is the outcome of validating a prospective order.
type RiskAssessment struct {
	Passed        bool
	Errors        []string // Hard failures; the order must not be placed
	Warnings      []string // Soft findings; the order may proceed
	SuggestedSize float64  // Risk-derived sizing hint, 0 if not computed
}

// RiskManager validates prospective orders against current exposure and
// tracks realized daily loss. Validation is pure with respect to exchange
// I/O: it only reads the positions and balances handed to it.
type RiskManager interface {
	// ValidateOrder checks a prospective order against position-size,
	// exposure and daily-loss limits.
	ValidateOrder(ctx context.Context, symbol string, side domain.Side, quantity, price float64,
		positions map[string]*domain.Position, balances map[string]domain.Balance) *RiskAssessment

	// CalcStopLossTakeProfit derives SL/TP price levels for an entry.
	CalcStopLossTakeProfit(entryPrice float64, side domain.PositionSide) (stopLoss, takeProfit float64)

	// CalcPositionSize derives a position size from available balance and price.
	CalcPositionSize(availableBalance, price float64) float64

	// RecordTrade feeds one realized PnL result into daily-loss tracking.
	RecordTrade(pnl float64)

	// DailyLossExceeded reports whether accumulated daily losses have reached
	// the configured limit.
	DailyLossExceeded() bool

	// RiskUtilization returns current exposure as a fraction of the maximum.
	RiskUtilization(positions map[string]*domain.Position) float64

	// DailyLossUtilization returns the day's loss as a fraction of the limit.
	DailyLossUtilization() float64
}
