package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crypto-trading/xemm/internal/domain"
)

// PostgresStore is the optional cold store for completed cycles.
// Unavailability is non-fatal: the bot runs without it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	if dsn == "" {
		return nil, nil
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	config.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS xemm_cycles (
			id BIGSERIAL PRIMARY KEY,
			completed_at TIMESTAMPTZ NOT NULL,
			symbol VARCHAR(32) NOT NULL,
			maker_side VARCHAR(4) NOT NULL,
			maker_avg_price NUMERIC(20, 8) NOT NULL,
			maker_size NUMERIC(20, 8) NOT NULL,
			maker_notional NUMERIC(20, 8) NOT NULL,
			maker_fee NUMERIC(20, 8) NOT NULL,
			taker_avg_price NUMERIC(20, 8) NOT NULL,
			taker_size NUMERIC(20, 8) NOT NULL,
			taker_notional NUMERIC(20, 8) NOT NULL,
			taker_fee NUMERIC(20, 8) NOT NULL,
			expected_profit_bps NUMERIC(12, 4) NOT NULL,
			actual_profit_bps NUMERIC(12, 4) NOT NULL,
			actual_profit_usd NUMERIC(20, 8) NOT NULL,
			gross_pnl NUMERIC(20, 8) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) WriteCycle(summary domain.CycleSummary) error {
	if s == nil || s.pool == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO xemm_cycles (
			completed_at, symbol, maker_side,
			maker_avg_price, maker_size, maker_notional, maker_fee,
			taker_avg_price, taker_size, taker_notional, taker_fee,
			expected_profit_bps, actual_profit_bps, actual_profit_usd, gross_pnl
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		summary.Timestamp.UTC(),
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

func (s *PostgresStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}
