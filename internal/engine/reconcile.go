package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crypto-trading/xemm/internal/domain"
)

var retryBackoffs = []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}

// withRetryLadder runs fn up to three times, waiting 5 s after the first
// failure and 10 s after the second; the third failure returns at once.
// Used for hedge submission and reconciliation queries.
func withRetryLadder[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < len(retryBackoffs); attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == len(retryBackoffs)-1 {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(retryBackoffs[attempt]):
		}
	}
	return zero, fmt.Errorf("all %d attempts failed: %w", len(retryBackoffs), lastErr)
}

// AggregateFills folds venue fills into a per-side reconciliation:
// size-weighted average price, total size, notional and fees.
func AggregateFills(fills []domain.VenueFill) domain.SideReconciliation {
	recon := domain.SideReconciliation{
		AvgPrice:      decimal.Zero,
		TotalSize:     decimal.Zero,
		TotalNotional: decimal.Zero,
		TotalFee:      decimal.Zero,
	}

	for _, f := range fills {
		notional := f.Price.Mul(f.Size)
		recon.TotalSize = recon.TotalSize.Add(f.Size)
		recon.TotalNotional = recon.TotalNotional.Add(notional)
		recon.TotalFee = recon.TotalFee.Add(f.Fee)
		recon.FillCount++
	}

	if recon.TotalSize.IsPositive() {
		recon.AvgPrice = recon.TotalNotional.Div(recon.TotalSize)
	}
	return recon
}

// FilterByClientID keeps fills correlated to the cycle's maker order.
func FilterByClientID(fills []domain.VenueFill, clientID string) []domain.VenueFill {
	matched := make([]domain.VenueFill, 0, len(fills))
	for _, f := range fills {
		if f.ClientID == clientID {
			matched = append(matched, f)
		}
	}
	return matched
}

// TheoreticalFee replaces missing venue fees: notional * fee_bps / 10000.
func TheoreticalFee(notional decimal.Decimal, feeBps float64) decimal.Decimal {
	return notional.Mul(decimal.NewFromFloat(feeBps)).Div(decimal.NewFromInt(10000))
}

// ComputeProfit derives the cycle result from both reconciled legs.
//
//	gross = maker-buy ? T_notional - M_notional : M_notional - T_notional
//	net   = gross - M_fee - T_fee
//	bps   = net / M_notional * 10000
func ComputeProfit(makerSide domain.Side, maker, taker domain.SideReconciliation) (gross, net, bps decimal.Decimal) {
	if makerSide == domain.SideBuy {
		gross = taker.TotalNotional.Sub(maker.TotalNotional)
	} else {
		gross = maker.TotalNotional.Sub(taker.TotalNotional)
	}

	net = gross.Sub(maker.TotalFee).Sub(taker.TotalFee)

	if maker.TotalNotional.IsPositive() {
		bps = net.Div(maker.TotalNotional).Mul(decimal.NewFromInt(10000))
	} else {
		bps = decimal.Zero
	}
	return gross, net, bps
}
