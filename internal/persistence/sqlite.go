package persistence

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crypto-trading/xemm/internal/domain"
)

// SQLiteStore is the local cycle archive. One connection is enough: only
// the async writer touches it.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cycles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			completed_at TIMESTAMP NOT NULL,
			symbol TEXT NOT NULL,
			maker_side TEXT NOT NULL,
			maker_avg_price TEXT NOT NULL,
			maker_size TEXT NOT NULL,
			maker_notional TEXT NOT NULL,
			maker_fee TEXT NOT NULL,
			taker_avg_price TEXT NOT NULL,
			taker_size TEXT NOT NULL,
			taker_notional TEXT NOT NULL,
			taker_fee TEXT NOT NULL,
			expected_profit_bps REAL NOT NULL,
			actual_profit_bps TEXT NOT NULL,
			actual_profit_usd TEXT NOT NULL,
			gross_pnl TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS venue_fills (
			trade_id TEXT NOT NULL,
			venue TEXT NOT NULL,
			order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price TEXT NOT NULL,
			size TEXT NOT NULL,
			fee TEXT NOT NULL,
			executed_at TIMESTAMP NOT NULL,
			PRIMARY KEY (venue, trade_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) WriteCycle(summary domain.CycleSummary) error {
	_, err := s.db.Exec(
		`INSERT INTO cycles (
			completed_at, symbol, maker_side,
			maker_avg_price, maker_size, maker_notional, maker_fee,
			taker_avg_price, taker_size, taker_notional, taker_fee,
			expected_profit_bps, actual_profit_bps, actual_profit_usd, gross_pnl
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.Timestamp.UTC().Format(time.RFC3339),
		summary.Symbol,
		string(summary.MakerSide),
		summary.Maker.AvgPrice.String(),
		summary.Maker.TotalSize.String(),
		summary.Maker.TotalNotional.String(),
		summary.Maker.TotalFee.String(),
		summary.Taker.AvgPrice.String(),
		summary.Taker.TotalSize.String(),
		summary.Taker.TotalNotional.String(),
		summary.Taker.TotalFee.String(),
		summary.ExpectedProfitBps,
		summary.ActualProfitBps.String(),
		summary.ActualProfitUSD.String(),
		summary.GrossPnL.String(),
	)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

func (s *SQLiteStore) WriteFills(venue string, fills []domain.VenueFill) error {
	for _, f := range fills {
		_, err := s.db.Exec(
			`INSERT OR IGNORE INTO venue_fills (
				trade_id, venue, order_id, symbol, side, price, size, fee, executed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.TradeID, venue, f.OrderID, f.Symbol, string(f.Side),
			f.Price.String(), f.Size.String(), f.Fee.String(),
			f.At.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("insert fill %s: %w", f.TradeID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
