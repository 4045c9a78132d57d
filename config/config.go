package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading universe
	Symbols    []string // Order placement allow-list
	QuoteAsset string

	// Risk limits
	MaxPositionSize     float64
	MaxOpenPositions    int
	MaxExposure         float64
	PositionSizePercent float64
	StopLossPercent     float64
	TakeProfitPercent   float64
	MaxDailyLoss        float64

	// Engine timing
	BreakerThreshold       int
	BreakerCooldown        time.Duration
	ReconcileInterval      time.Duration
	StaleOrderTimeout      time.Duration
	TerminalOrderRetention time.Duration
	MonitorInterval        time.Duration

	// Exchange formatting
	PricePrecision    int
	QuantityPrecision int

	// Shutdown behaviour
	ClosePositionsOnEmergency bool

	// Database
	DBPath string

	// Logging
	LogLevel      string
	LogFilePath   string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// Connection Settings
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Trading universe
	for _, s := range strings.Split(getEnv("SYMBOLS", "ETHUSDT"), ",") {
		if sym := strings.TrimSpace(s); sym != "" {
			cfg.Symbols = append(cfg.Symbols, strings.ToUpper(sym))
		}
	}
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one symbol")
	}
	cfg.QuoteAsset = strings.ToUpper(getEnv("QUOTE_ASSET", "USDT"))

	// Risk limits
	cfg.MaxPositionSize, err = getEnvAsFloatRequired("MAX_POSITION_SIZE", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITION_SIZE: %v", err))
	} else if cfg.MaxPositionSize < 0 {
		errs = append(errs, "MAX_POSITION_SIZE cannot be negative")
	}

	cfg.MaxOpenPositions, err = getEnvAsIntRequired("MAX_OPEN_POSITIONS", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_OPEN_POSITIONS: %v", err))
	} else if cfg.MaxOpenPositions < 0 {
		errs = append(errs, "MAX_OPEN_POSITIONS cannot be negative")
	}

	cfg.MaxExposure, err = getEnvAsFloatRequired("MAX_EXPOSURE", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_EXPOSURE: %v", err))
	} else if cfg.MaxExposure < 0 {
		errs = append(errs, "MAX_EXPOSURE cannot be negative")
	}

	cfg.PositionSizePercent, err = getEnvAsFloatRequired("POSITION_SIZE_PERCENT", 0.1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid POSITION_SIZE_PERCENT: %v", err))
	} else if cfg.PositionSizePercent < 0 || cfg.PositionSizePercent > 1 {
		errs = append(errs, "POSITION_SIZE_PERCENT must be between 0.0 and 1.0")
	}

	cfg.StopLossPercent, err = getEnvAsFloatRequired("STOP_LOSS_PERCENT", 0.01)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PERCENT: %v", err))
	} else if cfg.StopLossPercent < 0 || cfg.StopLossPercent >= 1.0 {
		errs = append(errs, "STOP_LOSS_PERCENT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.TakeProfitPercent, err = getEnvAsFloatRequired("TAKE_PROFIT_PERCENT", 0.03)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKE_PROFIT_PERCENT: %v", err))
	} else if cfg.TakeProfitPercent < 0 {
		errs = append(errs, "TAKE_PROFIT_PERCENT cannot be negative")
	}

	cfg.MaxDailyLoss, err = getEnvAsFloatRequired("MAX_DAILY_LOSS", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_DAILY_LOSS: %v", err))
	} else if cfg.MaxDailyLoss < 0 {
		errs = append(errs, "MAX_DAILY_LOSS cannot be negative")
	}

	// Engine timing
	cfg.BreakerThreshold = getEnvAsInt("BREAKER_THRESHOLD", 5)
	if cfg.BreakerThreshold <= 0 {
		errs = append(errs, "BREAKER_THRESHOLD must be positive")
	}
	cfg.BreakerCooldown = getEnvAsDuration("BREAKER_COOLDOWN_SECONDS", 300)
	cfg.ReconcileInterval = getEnvAsDuration("RECONCILE_INTERVAL_SECONDS", 30)
	cfg.StaleOrderTimeout = getEnvAsDuration("STALE_ORDER_TIMEOUT_SECONDS", 900)
	cfg.TerminalOrderRetention = getEnvAsDuration("TERMINAL_ORDER_RETENTION_SECONDS", 86400)
	cfg.MonitorInterval = getEnvAsDuration("MONITOR_INTERVAL_SECONDS", 5)

	// Exchange formatting
	cfg.PricePrecision = getEnvAsInt("PRICE_PRECISION", 2)
	cfg.QuantityPrecision = getEnvAsInt("QUANTITY_PRECISION", 5)

	// Shutdown behaviour
	cfg.ClosePositionsOnEmergency = getEnvAsBool("CLOSE_POSITIONS_ON_EMERGENCY", false)

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/trading_bot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "INFO")
	cfg.LogFilePath = getEnv("LOG_FILE", "")
	cfg.LogMaxSizeMB = getEnvAsInt("LOG_MAX_SIZE_MB", 50)
	cfg.LogMaxBackups = getEnvAsInt("LOG_MAX_BACKUPS", 5)
	cfg.LogMaxAgeDays = getEnvAsInt("LOG_MAX_AGE_DAYS", 14)

	// Connection Settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultSeconds)) * time.Second
}
