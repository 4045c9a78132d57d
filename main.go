package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"

	"cryptoTradeBot/config"
	"cryptoTradeBot/internal/adapters/binanceclient"
	"cryptoTradeBot/internal/adapters/logger"
	"cryptoTradeBot/internal/adapters/sqlite"
	"cryptoTradeBot/internal/engine"
	"cryptoTradeBot/internal/events"
	"cryptoTradeBot/internal/risk"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		FilePath:   cfg.LogFilePath,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trade journal")
		log.Fatalf("FATAL: Failed to initialize trade journal: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing trade journal")
		}
	}()

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	// 5. Initialize Risk Manager
	riskMgr, err := risk.NewManager(risk.Config{
		MaxPositionSize:     cfg.MaxPositionSize,
		MaxOpenPositions:    cfg.MaxOpenPositions,
		MaxExposure:         cfg.MaxExposure,
		PositionSizePercent: cfg.PositionSizePercent,
		StopLossPercent:     cfg.StopLossPercent,
		TakeProfitPercent:   cfg.TakeProfitPercent,
		MaxDailyLoss:        cfg.MaxDailyLoss,
		QuoteAsset:          cfg.QuoteAsset,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize risk manager")
		log.Fatalf("FATAL: Failed to initialize risk manager: %v", err)
	}

	// 6. Initialize Trading Engine
	eng, err := engine.New(engine.Config{
		AllowedSymbols:            cfg.Symbols,
		QuoteAsset:                cfg.QuoteAsset,
		BreakerThreshold:          cfg.BreakerThreshold,
		BreakerCooldown:           cfg.BreakerCooldown,
		ReconcileInterval:         cfg.ReconcileInterval,
		StaleOrderTimeout:         cfg.StaleOrderTimeout,
		TerminalOrderRetention:    cfg.TerminalOrderRetention,
		MonitorInterval:           cfg.MonitorInterval,
		PricePrecision:            cfg.PricePrecision,
		QuantityPrecision:         cfg.QuantityPrecision,
		ClosePositionsOnEmergency: cfg.ClosePositionsOnEmergency,
	}, appLogger, binanceClient, riskMgr, repo)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trading engine")
		log.Fatalf("FATAL: Failed to initialize trading engine: %v", err)
	}

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to start trading engine")
		log.Fatalf("FATAL: Failed to start trading engine: %v", err)
	}

	// Mirror the event feed into the log so operators can follow the engine
	// from the console.
	sub := eng.Subscribe()
	go func() {
		for ev := range sub.C {
			fields := map[string]interface{}{"event": string(ev.Type)}
			if ev.Order != nil {
				fields["symbol"] = ev.Order.Symbol
				fields["clientOrderId"] = ev.Order.ClientOrderID
			}
			if ev.Position != nil {
				fields["symbol"] = ev.Position.Symbol
				fields["pnl"] = ev.PnL
			}
			if ev.Reason != "" {
				fields["reason"] = ev.Reason
			}
			switch ev.Type {
			case events.CircuitBreakerOpened, events.DailyLossLimitReached, events.EngineError:
				appLogger.Warn(ctx, "Engine event", fields)
			default:
				appLogger.Info(ctx, "Engine event", fields)
			}
		}
	}()

	// Block until interrupted, then shut down cleanly.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	appLogger.Info(ctx, "Shutdown signal received", map[string]interface{}{"signal": sig.String()})

	if err := eng.Stop(ctx); err != nil {
		appLogger.Error(ctx, err, "Error stopping trading engine")
	}
	sub.Close()
	appLogger.Info(ctx, "Application finished gracefully.")
}
