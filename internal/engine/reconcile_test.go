package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crypto-trading/xemm/internal/domain"
)

func fill(price, size, fee string, clientID string) domain.VenueFill {
	return domain.VenueFill{
		ClientID: clientID,
		Price:    decimal.RequireFromString(price),
		Size:     decimal.RequireFromString(size),
		Fee:      decimal.RequireFromString(fee),
	}
}

func TestAggregateFills_WeightedAverage(t *testing.T) {
	fills := []domain.VenueFill{
		fill("100", "1", "0.01", "c"),
		fill("102", "3", "0.03", "c"),
	}

	recon := AggregateFills(fills)

	if got := recon.TotalSize.String(); got != "4" {
		t.Errorf("total size = %s, want 4", got)
	}
	if got := recon.TotalNotional.String(); got != "406" {
		t.Errorf("total notional = %s, want 406", got)
	}
	if got := recon.AvgPrice.String(); got != "101.5" {
		t.Errorf("avg price = %s, want 101.5", got)
	}
	if got := recon.TotalFee.String(); got != "0.04" {
		t.Errorf("total fee = %s, want 0.04", got)
	}
	if recon.FillCount != 2 {
		t.Errorf("fill count = %d, want 2", recon.FillCount)
	}
}

func TestAggregateFills_Empty(t *testing.T) {
	recon := AggregateFills(nil)
	if !recon.AvgPrice.IsZero() || !recon.TotalSize.IsZero() {
		t.Errorf("empty aggregation must be zero, got %+v", recon)
	}
}

func TestFilterByClientID(t *testing.T) {
	fills := []domain.VenueFill{
		fill("100", "1", "0", "mine"),
		fill("100", "1", "0", "other"),
		fill("101", "2", "0", "mine"),
	}

	matched := FilterByClientID(fills, "mine")
	if len(matched) != 2 {
		t.Fatalf("matched %d fills, want 2", len(matched))
	}
}

func TestComputeProfit_MakerBuy(t *testing.T) {
	// Buy 0.14 SOL at 139.713 on the maker, hedge-sell at 140.000.
	maker := domain.SideReconciliation{
		TotalNotional: decimal.RequireFromString("19.55982"), // 0.14 * 139.713
		TotalFee:      decimal.RequireFromString("0.0029"),
	}
	taker := domain.SideReconciliation{
		TotalNotional: decimal.RequireFromString("19.6"), // 0.14 * 140.000
		TotalFee:      decimal.RequireFromString("0.0078"),
	}

	gross, net, bps := ComputeProfit(domain.SideBuy, maker, taker)

	if got := gross.String(); got != "0.04018" {
		t.Errorf("gross = %s, want 0.04018", got)
	}
	wantNet := decimal.RequireFromString("0.02948")
	if !net.Equal(wantNet) {
		t.Errorf("net = %s, want %s", net, wantNet)
	}

	// bps = net / maker_notional * 10000 ≈ 15.07
	f, _ := bps.Float64()
	if f < 15.0 || f > 15.2 {
		t.Errorf("bps = %v, want ~15.07", f)
	}
}

func TestComputeProfit_MakerSell(t *testing.T) {
	maker := domain.SideReconciliation{
		TotalNotional: decimal.RequireFromString("1000"),
		TotalFee:      decimal.RequireFromString("0.1"),
	}
	taker := domain.SideReconciliation{
		TotalNotional: decimal.RequireFromString("998"),
		TotalFee:      decimal.RequireFromString("0.4"),
	}

	gross, net, bps := ComputeProfit(domain.SideSell, maker, taker)

	if got := gross.String(); got != "2" {
		t.Errorf("gross = %s, want 2", got)
	}
	if got := net.String(); got != "1.5" {
		t.Errorf("net = %s, want 1.5", got)
	}
	if got := bps.String(); got != "15" {
		t.Errorf("bps = %s, want 15", got)
	}
}

func TestComputeProfit_ZeroMakerNotional(t *testing.T) {
	_, _, bps := ComputeProfit(domain.SideBuy, domain.SideReconciliation{
		TotalNotional: decimal.Zero,
	}, domain.SideReconciliation{})
	if !bps.IsZero() {
		t.Errorf("bps with zero maker notional = %s, want 0", bps)
	}
}

func TestTheoreticalFee(t *testing.T) {
	fee := TheoreticalFee(decimal.RequireFromString("19.6"), 4.0)
	if got := fee.String(); got != "0.00784" {
		t.Errorf("theoretical fee = %s, want 0.00784", got)
	}
}

func TestWithRetryLadder_SucceedsAfterFailure(t *testing.T) {
	calls := 0
	got, err := withRetryLadder(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || calls != 2 {
		t.Errorf("got %q after %d calls, want ok after 2", got, calls)
	}
}

func TestWithRetryLadder_ExhaustsAttempts(t *testing.T) {
	if testing.Short() {
		t.Skip("retry ladder sleeps between attempts")
	}

	calls := 0
	start := time.Now()
	_, err := withRetryLadder(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, errors.New("permanent")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	// Backoffs of 5s and 10s run between the three attempts.
	if elapsed := time.Since(start); elapsed < 15*time.Second {
		t.Errorf("elapsed %v, want >= 15s of backoff", elapsed)
	}
}

func TestWithRetryLadder_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := withRetryLadder(ctx, func(context.Context) (int, error) {
		return 0, errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
