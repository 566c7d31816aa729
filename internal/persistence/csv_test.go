package persistence

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crypto-trading/xemm/internal/domain"
)

func sampleSummary() domain.CycleSummary {
	return domain.CycleSummary{
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Symbol:    "SOL",
		MakerSide: domain.SideBuy,
		Maker: domain.SideReconciliation{
			AvgPrice:      decimal.RequireFromString("139.713"),
			TotalSize:     decimal.RequireFromString("0.14"),
			TotalNotional: decimal.RequireFromString("19.55982"),
			TotalFee:      decimal.RequireFromString("0.0029"),
		},
		Taker: domain.SideReconciliation{
			AvgPrice:      decimal.RequireFromString("140"),
			TotalSize:     decimal.RequireFromString("0.14"),
			TotalNotional: decimal.RequireFromString("19.6"),
			TotalFee:      decimal.RequireFromString("0.0078"),
		},
		ExpectedProfitBps: 15.03,
		ActualProfitBps:   decimal.RequireFromString("15.0717"),
		ActualProfitUSD:   decimal.RequireFromString("0.02948"),
		GrossPnL:          decimal.RequireFromString("0.04018"),
	}
}

func TestTradeLog_HeaderOnCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	log, err := NewTradeLog(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := log.Append(sampleSummary()); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want header + 1", len(rows))
	}

	header := rows[0]
	if header[0] != "timestamp" || header[1] != "symbol" {
		t.Errorf("unexpected header start: %v", header[:2])
	}
	if len(header) != 15 {
		t.Errorf("header has %d columns, want 15", len(header))
	}

	row := rows[1]
	if row[0] != "2025-06-01T12:00:00Z" {
		t.Errorf("timestamp = %s, want ISO-8601 UTC", row[0])
	}
	if row[1] != "SOL" || row[2] != "BUY" {
		t.Errorf("symbol/side = %s/%s", row[1], row[2])
	}
	if row[3] != "139.713" {
		t.Errorf("maker price = %s", row[3])
	}
}

func TestTradeLog_AppendsWithoutDuplicateHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	log, err := NewTradeLog(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := log.Append(sampleSummary()); err != nil {
		t.Fatal(err)
	}
	if err := log.Append(sampleSummary()); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[2][0] != rows[1][0] {
		t.Errorf("second row differs unexpectedly: %v", rows[2])
	}
}

func TestTradeLog_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "trades.csv")
	log, err := NewTradeLog(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := log.Append(sampleSummary()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("trade log not created: %v", err)
	}
}
