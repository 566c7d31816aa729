package strategy

import (
	"math"
	"time"

	"github.com/crypto-trading/xemm/internal/domain"
)

// Opportunity is a priced, sized maker order that yields the target profit
// rate if it fills and is hedged at the captured taker price.
type Opportunity struct {
	Side              domain.Side
	MakerPrice        float64
	HedgePrice        float64
	Size              float64
	ExpectedProfitBps float64
	EvaluatedAt       time.Time
}

// feeFactors are precomputed once; the evaluator runs at 10 Hz and the
// monitor recomputes profit at 40 Hz.
type feeFactors struct {
	onePlusMaker  float64
	oneMinusMaker float64
	onePlusTaker  float64
	oneMinusTaker float64
	buyDenom      float64 // 1 + maker + profit
	sellDenom     float64 // 1 - maker - profit
}

// Evaluator computes maker limit prices for both directions of the cycle.
//
// Buy on maker, hedge-sell on taker:  limit = T_bid * (1 - t) / (1 + m + p)
// Sell on maker, hedge-buy on taker:  limit = T_ask * (1 + t) / (1 - m - p)
//
// Buy prices round down to the tick, sell prices round up; both improve
// the maker relative to the ideal price.
type Evaluator struct {
	tickSize float64
	lotSize  float64
	factors  feeFactors
}

func NewEvaluator(makerFeeBps, takerFeeBps, profitRateBps float64, info domain.MarketInfo) *Evaluator {
	m := makerFeeBps * 0.0001
	t := takerFeeBps * 0.0001
	p := profitRateBps * 0.0001

	return &Evaluator{
		tickSize: info.TickSize,
		lotSize:  info.LotSize,
		factors: feeFactors{
			onePlusMaker:  1 + m,
			oneMinusMaker: 1 - m,
			onePlusTaker:  1 + t,
			oneMinusTaker: 1 - t,
			buyDenom:      1 + m + p,
			sellDenom:     1 - m - p,
		},
	}
}

// EvaluateBuy prices a buy on the maker venue hedged by a sell at tBid.
// Returns nil when the post-rounding expected profit is not positive.
func (e *Evaluator) EvaluateBuy(tBid, notionalUSD float64, now time.Time) *Opportunity {
	if tBid <= 0 {
		return nil
	}

	ideal := tBid * e.factors.oneMinusTaker / e.factors.buyDenom
	limit := domain.RoundDownToStep(ideal, e.tickSize)
	if limit <= 0 {
		return nil
	}

	size := domain.RoundDownToStep(notionalUSD/limit, e.lotSize)
	if size <= 0 {
		return nil
	}

	cost := limit * e.factors.onePlusMaker
	revenue := tBid * e.factors.oneMinusTaker
	profitBps := (revenue - cost) / cost * 10000
	if profitBps <= 0 {
		return nil
	}

	return &Opportunity{
		Side:              domain.SideBuy,
		MakerPrice:        limit,
		HedgePrice:        tBid,
		Size:              size,
		ExpectedProfitBps: profitBps,
		EvaluatedAt:       now,
	}
}

// EvaluateSell prices a sell on the maker venue hedged by a buy at tAsk.
func (e *Evaluator) EvaluateSell(tAsk, notionalUSD float64, now time.Time) *Opportunity {
	if tAsk <= 0 {
		return nil
	}

	ideal := tAsk * e.factors.onePlusTaker / e.factors.sellDenom
	limit := domain.RoundUpToStep(ideal, e.tickSize)
	if limit <= 0 {
		return nil
	}

	size := domain.RoundDownToStep(notionalUSD/limit, e.lotSize)
	if size <= 0 {
		return nil
	}

	revenue := limit * e.factors.oneMinusMaker
	cost := tAsk * e.factors.onePlusTaker
	profitBps := (revenue - cost) / cost * 10000
	if profitBps <= 0 {
		return nil
	}

	return &Opportunity{
		Side:              domain.SideSell,
		MakerPrice:        limit,
		HedgePrice:        tAsk,
		Size:              size,
		ExpectedProfitBps: profitBps,
		EvaluatedAt:       now,
	}
}

// RecalcProfitBps re-prices an existing maker order against the current
// taker book. Used by the order monitor for the drift check.
func (e *Evaluator) RecalcProfitBps(side domain.Side, makerPrice, tBid, tAsk float64) float64 {
	switch side {
	case domain.SideBuy:
		cost := makerPrice * e.factors.onePlusMaker
		revenue := tBid * e.factors.oneMinusTaker
		return (revenue - cost) / cost * 10000
	default:
		revenue := makerPrice * e.factors.oneMinusMaker
		cost := tAsk * e.factors.onePlusTaker
		return (revenue - cost) / cost * 10000
	}
}

// PickBest chooses between a buy and a sell opportunity: the one whose
// limit sits closer to the maker mid fills sooner; on a tie the higher
// expected profit wins.
func PickBest(buy, sell *Opportunity, makerMid float64) *Opportunity {
	switch {
	case buy == nil:
		return sell
	case sell == nil:
		return buy
	}

	buyDist := math.Abs(makerMid - buy.MakerPrice)
	sellDist := math.Abs(sell.MakerPrice - makerMid)

	if buyDist < sellDist {
		return buy
	}
	if sellDist < buyDist {
		return sell
	}
	if buy.ExpectedProfitBps > sell.ExpectedProfitBps {
		return buy
	}
	return sell
}
