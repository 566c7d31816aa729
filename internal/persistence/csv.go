package persistence

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/crypto-trading/xemm/internal/domain"
)

var csvHeader = []string{
	"timestamp", "symbol",
	"pacifica_side", "pacifica_price", "pacifica_size", "pacifica_notional", "pacifica_fee",
	"hyperliquid_price", "hyperliquid_size", "hyperliquid_notional", "hyperliquid_fee",
	"expected_profit_bps", "actual_profit_bps", "actual_profit_usd", "gross_pnl",
}

// TradeLog is the append-only CSV trade history. The header is written
// once when the file is created; later runs append rows.
type TradeLog struct {
	path string
}

func NewTradeLog(path string) (*TradeLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create trade log dir: %w", err)
		}
	}
	return &TradeLog{path: path}, nil
}

func (t *TradeLog) Append(s domain.CycleSummary) error {
	_, statErr := os.Stat(t.path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open trade log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("write trade log header: %w", err)
		}
	}

	row := []string{
		s.Timestamp.UTC().Format(time.RFC3339),
		s.Symbol,
		string(s.MakerSide),
		s.Maker.AvgPrice.String(),
		s.Maker.TotalSize.String(),
		s.Maker.TotalNotional.String(),
		s.Maker.TotalFee.String(),
		s.Taker.AvgPrice.String(),
		s.Taker.TotalSize.String(),
		s.Taker.TotalNotional.String(),
		s.Taker.TotalFee.String(),
		fmt.Sprintf("%.4f", s.ExpectedProfitBps),
		s.ActualProfitBps.StringFixed(4),
		s.ActualProfitUSD.StringFixed(6),
		s.GrossPnL.StringFixed(6),
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write trade log row: %w", err)
	}

	w.Flush()
	return w.Error()
}
