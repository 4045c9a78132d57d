package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"cryptoTradeBot/internal/domain"
	"cryptoTradeBot/internal/ports"
)

// Config holds configuration for risk management.
type Config struct {
	MaxPositionSize     float64 // Max quantity per position, 0 disables
	MaxOpenPositions    int     // Max concurrently open positions
	MaxExposure         float64 // Max total notional across positions, 0 disables
	PositionSizePercent float64 // Fraction of balance used by CalcPositionSize
	StopLossPercent     float64 // e.g. 0.01 for 1%
	TakeProfitPercent   float64 // e.g. 0.03 for 3%
	MaxDailyLoss        float64 // Absolute quote-asset loss limit, 0 disables
	QuoteAsset          string  // Asset balances are checked against, e.g. "USDT"
}

// Manager implements ports.RiskManager. Daily-loss tracking rolls over at the
// UTC day boundary.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	dailyPnL float64
	day      time.Time // UTC midnight of the day dailyPnL covers
}

var _ ports.RiskManager = (*Manager)(nil)

// NewManager creates a risk manager. Zero-valued limits disable the
// corresponding check.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.PositionSizePercent < 0 || cfg.PositionSizePercent > 1 {
		return nil, fmt.Errorf("PositionSizePercent must be within [0,1], got %v", cfg.PositionSizePercent)
	}
	if cfg.StopLossPercent < 0 || cfg.StopLossPercent >= 1 {
		return nil, fmt.Errorf("StopLossPercent must be within [0,1), got %v", cfg.StopLossPercent)
	}
	if cfg.TakeProfitPercent < 0 {
		return nil, fmt.Errorf("TakeProfitPercent cannot be negative, got %v", cfg.TakeProfitPercent)
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	return &Manager{cfg: cfg, day: utcDay(time.Now())}, nil
}

// ValidateOrder checks a prospective order against the configured limits.
// It never performs I/O; positions and balances are the caller's snapshots.
func (m *Manager) ValidateOrder(ctx context.Context, symbol string, side domain.Side, quantity, price float64,
	positions map[string]*domain.Position, balances map[string]domain.Balance) *ports.RiskAssessment {

	res := &ports.RiskAssessment{Passed: true}
	fail := func(format string, args ...interface{}) {
		res.Passed = false
		res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
	}

	if quantity <= 0 {
		fail("quantity must be positive, got %v", quantity)
		return res
	}
	if price < 0 {
		fail("price cannot be negative, got %v", price)
		return res
	}

	if m.cfg.MaxPositionSize > 0 && quantity > m.cfg.MaxPositionSize {
		fail("quantity %v exceeds max position size %v", quantity, m.cfg.MaxPositionSize)
	}

	if m.cfg.MaxOpenPositions > 0 {
		if _, exists := positions[symbol]; !exists && len(positions) >= m.cfg.MaxOpenPositions {
			fail("open positions %d at configured maximum %d", len(positions), m.cfg.MaxOpenPositions)
		}
	}

	notional := quantity * price
	if m.cfg.MaxExposure > 0 && price > 0 {
		total := notional
		for _, p := range positions {
			total += p.Quantity * p.EntryPrice
		}
		if total > m.cfg.MaxExposure {
			fail("total exposure %.2f would exceed maximum %.2f", total, m.cfg.MaxExposure)
		}
	}

	// Buys must be coverable by the free quote balance. Sells are covered by
	// the base asset, which the exchange itself enforces on submission.
	if side == domain.Buy && price > 0 {
		quote, ok := balances[m.cfg.QuoteAsset]
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("no %s balance tracked yet", m.cfg.QuoteAsset))
		} else if quote.Free < notional {
			fail("free %s balance %.2f below required notional %.2f", m.cfg.QuoteAsset, quote.Free, notional)
		}
	}

	if m.DailyLossExceeded() {
		fail("daily loss limit reached (%.2f of %.2f)", m.dailyLoss(), m.cfg.MaxDailyLoss)
	}

	if price > 0 {
		if quote, ok := balances[m.cfg.QuoteAsset]; ok {
			res.SuggestedSize = m.CalcPositionSize(quote.Free, price)
		}
	}
	return res
}

// CalcStopLossTakeProfit derives SL/TP levels from the configured percentages.
// A zero percentage disables the corresponding level.
func (m *Manager) CalcStopLossTakeProfit(entryPrice float64, side domain.PositionSide) (float64, float64) {
	var sl, tp float64
	if m.cfg.StopLossPercent > 0 {
		if side == domain.Long {
			sl = entryPrice * (1 - m.cfg.StopLossPercent)
		} else {
			sl = entryPrice * (1 + m.cfg.StopLossPercent)
		}
	}
	if m.cfg.TakeProfitPercent > 0 {
		if side == domain.Long {
			tp = entryPrice * (1 + m.cfg.TakeProfitPercent)
		} else {
			tp = entryPrice * (1 - m.cfg.TakeProfitPercent)
		}
	}
	return sl, tp
}

// CalcPositionSize derives a quantity from the available balance, the
// configured balance fraction and the current price.
func (m *Manager) CalcPositionSize(availableBalance, price float64) float64 {
	if price <= 0 || m.cfg.PositionSizePercent <= 0 {
		return 0
	}
	size := availableBalance * m.cfg.PositionSizePercent / price
	if m.cfg.MaxPositionSize > 0 {
		size = math.Min(size, m.cfg.MaxPositionSize)
	}
	return size
}

// RecordTrade feeds one realized PnL result into daily-loss tracking.
func (m *Manager) RecordTrade(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	m.dailyPnL += pnl
}

// DailyLossExceeded reports whether the day's accumulated loss has reached
// the configured limit.
func (m *Manager) DailyLossExceeded() bool {
	if m.cfg.MaxDailyLoss <= 0 {
		return false
	}
	return m.dailyLoss() >= m.cfg.MaxDailyLoss
}

// RiskUtilization returns total open notional as a fraction of MaxExposure.
func (m *Manager) RiskUtilization(positions map[string]*domain.Position) float64 {
	if m.cfg.MaxExposure <= 0 {
		return 0
	}
	var total float64
	for _, p := range positions {
		total += p.Quantity * p.EntryPrice
	}
	return total / m.cfg.MaxExposure
}

// DailyLossUtilization returns the day's loss as a fraction of MaxDailyLoss.
func (m *Manager) DailyLossUtilization() float64 {
	if m.cfg.MaxDailyLoss <= 0 {
		return 0
	}
	return m.dailyLoss() / m.cfg.MaxDailyLoss
}

// dailyLoss returns the day's loss as a non-negative number.
func (m *Manager) dailyLoss() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	if m.dailyPnL >= 0 {
		return 0
	}
	return -m.dailyPnL
}

func (m *Manager) rollDayLocked() {
	today := utcDay(time.Now())
	if !today.Equal(m.day) {
		m.day = today
		m.dailyPnL = 0
	}
}

func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
