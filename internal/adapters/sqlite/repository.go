package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cryptoTradeBot/internal/domain"
	"cryptoTradeBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.TradeRepository interface using SQLite.
// It is a write-mostly journal: the engine appends a row per completed close
// and only the reporting surface reads them back.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

var _ ports.TradeRepository = (*Repository)(nil)

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trading_bot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the engine writer and readers.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite trade journal initialized", map[string]interface{}{"path": dbPath})

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		pnl REAL NOT NULL,
		commission REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		close_reason TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_exit_time ON trades (symbol, exit_time);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrQueryFailed, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// CreateTrade saves a new trade record and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (position_id, symbol, side, entry_price, exit_price, quantity, pnl, commission, entry_time, exit_time, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		trade.PositionID, trade.Symbol, string(trade.Side),
		trade.EntryPrice, trade.ExitPrice, trade.Quantity,
		trade.PnL, trade.Commission,
		trade.EntryTime.UTC(), trade.ExitTime.UTC(), string(trade.CloseReason),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: inserting trade: %v", ports.ErrQueryFailed, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: reading trade id: %v", ports.ErrQueryFailed, err)
	}
	return id, nil
}

// FindBySymbol retrieves the most recent trades for a symbol, up to limit.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, position_id, symbol, side, entry_price, exit_price, quantity, pnl, commission, entry_time, exit_time, close_reason
	FROM trades WHERE symbol = ? ORDER BY exit_time DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: querying trades for %s: %v", ports.ErrQueryFailed, symbol, err)
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

// CountTodayBySymbol counts trades recorded today (UTC) for a symbol.
func (r *Repository) CountTodayBySymbol(ctx context.Context, symbol string) (int, error) {
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	const query = `SELECT COUNT(*) FROM trades WHERE symbol = ? AND exit_time >= ?`

	var count int
	if err := r.db.QueryRowContext(ctx, query, symbol, dayStart).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: counting today's trades for %s: %v", ports.ErrQueryFailed, symbol, err)
	}
	return count, nil
}

// TotalRealizedPnL sums the PnL of every journaled trade.
func (r *Repository) TotalRealizedPnL(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(pnl), 0) FROM trades`

	var total float64
	if err := r.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("%w: summing realized pnl: %v", ports.ErrQueryFailed, err)
	}
	return total, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(s scanner) (*domain.Trade, error) {
	var t domain.Trade
	var side, reason string
	err := s.Scan(&t.ID, &t.PositionID, &t.Symbol, &side,
		&t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.PnL, &t.Commission,
		&t.EntryTime, &t.ExitTime, &reason)
	if err != nil {
		return nil, fmt.Errorf("%w: scanning trade row: %v", ports.ErrQueryFailed, err)
	}
	t.Side = domain.PositionSide(side)
	t.CloseReason = domain.CloseReason(reason)
	return &t, nil
}
