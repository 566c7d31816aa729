package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the hedge direction for a maker-side fill.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type Venue string

const (
	VenueMaker Venue = "pacifica"
	VenueTaker Venue = "hyperliquid"
)

type FillKind string

const (
	FillKindPartial   FillKind = "PARTIAL_FILL"
	FillKindFull      FillKind = "FULL_FILL"
	FillKindCancelled FillKind = "CANCELLED"
	FillKindRejected  FillKind = "REJECTED"
)

type EndpointCategory string

const (
	EndpointPublicData  EndpointCategory = "public_data"
	EndpointPrivateData EndpointCategory = "private_data"
	EndpointOrderPlace  EndpointCategory = "order_place"
	EndpointOrderCancel EndpointCategory = "order_cancel"
	EndpointAccount     EndpointCategory = "account"
)

// BookTop is the latest top-of-book for one venue. Prices are float64 on
// the hot path; reconciliation and reporting use decimal.
type BookTop struct {
	Bid float64
	Ask float64
}

func (b BookTop) Mid() float64 {
	return (b.Bid + b.Ask) / 2
}

func (b BookTop) Valid() bool {
	return b.Bid > 0 && b.Ask > 0 && b.Bid <= b.Ask
}

// MarketInfo holds the per-symbol granularities fetched at startup.
type MarketInfo struct {
	Symbol      string
	TickSize    float64
	LotSize     float64
	MinNotional float64
}

// OrderIntent is the transient output of the opportunity evaluator.
type OrderIntent struct {
	Side              Side
	Price             float64
	Size              float64
	ExpectedProfitBps float64
	HedgePrice        float64
	ClientID          string
}

// ActiveOrder is the single live maker order. It exists only while the
// bot is in states OrderPlaced or Filled.
type ActiveOrder struct {
	OrderID           string
	ClientID          string
	Symbol            string
	Side              Side
	Price             float64
	Size              float64
	ExpectedProfitBps float64
	PlacedAt          time.Time
}

// FillEvent is produced by the fill detector (streaming or REST backup)
// and consumed exclusively by the state machine.
type FillEvent struct {
	OrderID   string
	ClientID  string
	Side      Side
	Price     float64
	Size      float64
	Kind      FillKind
	At        time.Time
	Synthetic bool
}

// VenueFill is one executed trade row returned by a venue history query.
type VenueFill struct {
	TradeID  string
	OrderID  string
	ClientID string
	Symbol   string
	Side     Side
	Price    decimal.Decimal
	Size     decimal.Decimal
	Fee      decimal.Decimal
	At       time.Time
}

// SideReconciliation aggregates the fills of one leg of the cycle.
type SideReconciliation struct {
	AvgPrice       decimal.Decimal
	TotalSize      decimal.Decimal
	TotalNotional  decimal.Decimal
	TotalFee       decimal.Decimal
	FillCount      int
	FeeTheoretical bool
}

// CycleSummary is the final per-cycle report written to the trade log.
type CycleSummary struct {
	Timestamp         time.Time
	Symbol            string
	MakerSide         Side
	Maker             SideReconciliation
	Taker             SideReconciliation
	ExpectedProfitBps float64
	ActualProfitBps   decimal.Decimal
	ActualProfitUSD   decimal.Decimal
	GrossPnL          decimal.Decimal
	Warnings          []string
}
