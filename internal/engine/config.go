package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the engine's runtime configuration. It can be replaced while the
// engine is running via Engine.UpdateConfig, which re-validates it.
type Config struct {
	// AllowedSymbols is the order-placement allow-list.
	AllowedSymbols []string

	// QuoteAsset is the asset risk checks price notionals in, e.g. "USDT".
	QuoteAsset string

	// BreakerThreshold is the number of consecutive operational errors that
	// opens the circuit breaker.
	BreakerThreshold int

	// BreakerCooldown is the advisory minimum open duration before
	// ShouldClose starts reporting true. Closing remains explicit.
	BreakerCooldown time.Duration

	// ReconcileInterval is the period of the reconciliation loop.
	ReconcileInterval time.Duration

	// StaleOrderTimeout is the age past which a locally-active order is
	// cancelled regardless of reconciliation status.
	StaleOrderTimeout time.Duration

	// TerminalOrderRetention is how long terminal orders stay in memory
	// before pruning.
	TerminalOrderRetention time.Duration

	// MonitorInterval is the period of the SL/TP/trailing price monitor.
	MonitorInterval time.Duration

	// PricePrecision / QuantityPrecision control decimal formatting of
	// values sent to the exchange.
	PricePrecision    int
	QuantityPrecision int

	// ClosePositionsOnEmergency market-closes every open position during
	// EmergencyStop.
	ClosePositionsOnEmergency bool

	// EventBufferSize is the per-subscriber buffer of the event feed.
	EventBufferSize int
}

// Validate checks the configuration, applying defaults for zero-valued
// optional fields first.
func (c *Config) Validate() error {
	var errs []string

	if len(c.AllowedSymbols) == 0 {
		errs = append(errs, "at least one allowed symbol is required")
	}
	for _, s := range c.AllowedSymbols {
		if s == "" {
			errs = append(errs, "allowed symbols must be non-empty")
			break
		}
	}
	if c.QuoteAsset == "" {
		c.QuoteAsset = "USDT"
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 5 * time.Minute
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 30 * time.Second
	}
	if c.StaleOrderTimeout <= 0 {
		c.StaleOrderTimeout = 15 * time.Minute
	}
	if c.TerminalOrderRetention <= 0 {
		c.TerminalOrderRetention = 24 * time.Hour
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 5 * time.Second
	}
	if c.PricePrecision <= 0 {
		c.PricePrecision = 2
	}
	if c.QuantityPrecision <= 0 {
		c.QuantityPrecision = 5
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = 256
	}
	if c.StaleOrderTimeout < c.ReconcileInterval {
		errs = append(errs, "StaleOrderTimeout must not be shorter than ReconcileInterval")
	}

	if len(errs) > 0 {
		return fmt.Errorf("engine configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) symbolAllowed(symbol string) bool {
	for _, s := range c.AllowedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

func (c *Config) formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', c.PricePrecision, 64)
}

func (c *Config) formatQuantity(quantity float64) string {
	return strconv.FormatFloat(quantity, 'f', c.QuantityPrecision, 64)
}
