package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/crypto-trading/xemm/internal/domain"
)

func solEvaluator() *Evaluator {
	return NewEvaluator(1.5, 4.0, 15.0, domain.MarketInfo{
		Symbol:   "SOL",
		TickSize: 0.001,
		LotSize:  0.01,
	})
}

func TestEvaluateBuy_SOLScenario(t *testing.T) {
	e := solEvaluator()

	opp := e.EvaluateBuy(140.000, 20, time.Now())
	if opp == nil {
		t.Fatal("expected a buy opportunity")
	}

	// limit = 140.000 * (1 - 0.0004) / (1 + 0.00015 + 0.0015), floored to tick
	ideal := 140.000 * 0.9996 / 1.00165
	wantPrice := math.Floor(ideal/0.001) * 0.001
	if math.Abs(opp.MakerPrice-wantPrice) > 1e-9 {
		t.Errorf("maker price = %v, want %v", opp.MakerPrice, wantPrice)
	}

	if !domain.IsMultipleOf(opp.MakerPrice, 0.001) {
		t.Errorf("maker price %v is not a tick multiple", opp.MakerPrice)
	}
	if opp.MakerPrice > ideal {
		t.Errorf("buy price %v rounded up past ideal %v", opp.MakerPrice, ideal)
	}

	if math.Abs(opp.Size-0.14) > 1e-9 {
		t.Errorf("size = %v, want 0.14", opp.Size)
	}
	if !domain.IsMultipleOf(opp.Size, 0.01) {
		t.Errorf("size %v is not a lot multiple", opp.Size)
	}

	// Rounding down improves the maker, so realized profit must be at
	// least the 15 bps target.
	if opp.ExpectedProfitBps < 15.0 {
		t.Errorf("expected profit %v bps, want >= 15", opp.ExpectedProfitBps)
	}
}

func TestEvaluateSell_RoundsUp(t *testing.T) {
	e := solEvaluator()

	opp := e.EvaluateSell(140.020, 20, time.Now())
	if opp == nil {
		t.Fatal("expected a sell opportunity")
	}

	ideal := 140.020 * 1.0004 / (1 - 0.00015 - 0.0015)
	if opp.MakerPrice < ideal-1e-9 {
		t.Errorf("sell price %v rounded down below ideal %v", opp.MakerPrice, ideal)
	}
	if !domain.IsMultipleOf(opp.MakerPrice, 0.001) {
		t.Errorf("sell price %v is not a tick multiple", opp.MakerPrice)
	}
	if opp.ExpectedProfitBps < 15.0 {
		t.Errorf("expected profit %v bps, want >= 15", opp.ExpectedProfitBps)
	}
}

func TestEvaluate_Rejections(t *testing.T) {
	e := solEvaluator()
	now := time.Now()

	tests := []struct {
		name string
		opp  *Opportunity
	}{
		{"zero bid", e.EvaluateBuy(0, 20, now)},
		{"negative bid", e.EvaluateBuy(-1, 20, now)},
		{"notional below one lot", e.EvaluateBuy(140.000, 0.5, now)},
		{"zero ask", e.EvaluateSell(0, 20, now)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.opp != nil {
				t.Errorf("expected nil opportunity, got %+v", tt.opp)
			}
		})
	}
}

func TestRecalcProfitBps(t *testing.T) {
	e := solEvaluator()

	opp := e.EvaluateBuy(140.000, 20, time.Now())
	if opp == nil {
		t.Fatal("expected a buy opportunity")
	}

	// At the original book the recalculated profit matches placement.
	got := e.RecalcProfitBps(domain.SideBuy, opp.MakerPrice, 140.000, 140.020)
	if math.Abs(got-opp.ExpectedProfitBps) > 1e-9 {
		t.Errorf("recalc = %v, placement = %v", got, opp.ExpectedProfitBps)
	}

	// A falling taker bid erodes buy-side profit.
	lower := e.RecalcProfitBps(domain.SideBuy, opp.MakerPrice, 139.900, 139.920)
	if lower >= got {
		t.Errorf("profit should drop with the bid: %v >= %v", lower, got)
	}

	// A rising taker ask erodes sell-side profit.
	sell := e.EvaluateSell(140.020, 20, time.Now())
	if sell == nil {
		t.Fatal("expected a sell opportunity")
	}
	base := e.RecalcProfitBps(domain.SideSell, sell.MakerPrice, 140.000, 140.020)
	worse := e.RecalcProfitBps(domain.SideSell, sell.MakerPrice, 140.100, 140.120)
	if worse >= base {
		t.Errorf("profit should drop with the ask: %v >= %v", worse, base)
	}
}

func TestPickBest(t *testing.T) {
	buy := &Opportunity{Side: domain.SideBuy, MakerPrice: 99.0, ExpectedProfitBps: 16}
	sell := &Opportunity{Side: domain.SideSell, MakerPrice: 101.0, ExpectedProfitBps: 18}

	tests := []struct {
		name string
		buy  *Opportunity
		sell *Opportunity
		mid  float64
		want domain.Side
	}{
		{"buy closer to mid", buy, sell, 99.5, domain.SideBuy},
		{"sell closer to mid", buy, sell, 100.5, domain.SideSell},
		{"equidistant picks higher profit", buy, sell, 100.0, domain.SideSell},
		{"only buy", buy, nil, 100.0, domain.SideBuy},
		{"only sell", nil, sell, 100.0, domain.SideSell},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PickBest(tt.buy, tt.sell, tt.mid)
			if got == nil {
				t.Fatal("expected an opportunity")
			}
			if got.Side != tt.want {
				t.Errorf("picked %s, want %s", got.Side, tt.want)
			}
		})
	}

	if PickBest(nil, nil, 100.0) != nil {
		t.Error("expected nil when both sides are nil")
	}
}

func TestRounding_TickAndLotInvariants(t *testing.T) {
	e := NewEvaluator(1.0, 2.5, 10.0, domain.MarketInfo{TickSize: 0.01, LotSize: 0.001})

	bids := []float64{99.98765, 100.0, 101.23456, 5432.1}
	for _, bid := range bids {
		buy := e.EvaluateBuy(bid, 50, time.Now())
		if buy == nil {
			continue
		}
		if !domain.IsMultipleOf(buy.MakerPrice, 0.01) {
			t.Errorf("buy price %v not on tick for bid %v", buy.MakerPrice, bid)
		}
		if !domain.IsMultipleOf(buy.Size, 0.001) {
			t.Errorf("buy size %v not on lot for bid %v", buy.Size, bid)
		}

		sell := e.EvaluateSell(bid, 50, time.Now())
		if sell == nil {
			continue
		}
		if !domain.IsMultipleOf(sell.MakerPrice, 0.01) {
			t.Errorf("sell price %v not on tick for ask %v", sell.MakerPrice, bid)
		}
	}
}
