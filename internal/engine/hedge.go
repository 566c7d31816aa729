package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crypto-trading/xemm/internal/domain"
	"github.com/crypto-trading/xemm/internal/monitor"
	"github.com/crypto-trading/xemm/internal/persistence"
)

// RunHedgeExecutor consumes the single FillEvent the state machine emits
// per cycle and drives cancellation, hedging and reconciliation.
func (e *Engine) RunHedgeExecutor(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case fill := <-e.machine.HedgeCh():
		e.executeCycle(ctx, fill)
	}
}

func (e *Engine) executeCycle(ctx context.Context, fill domain.FillEvent) {
	cycleStart := time.Now()
	e.metrics.FillsTotal.WithLabelValues(string(fill.Kind), fillSource(fill)).Inc()

	snap := e.machine.Snapshot()
	var clientID string
	var expectedProfitBps float64
	if snap.ActiveOrder != nil {
		clientID = snap.ActiveOrder.ClientID
		expectedProfitBps = snap.ActiveOrder.ExpectedProfitBps
	} else {
		clientID = fill.ClientID
	}

	// Residual orders (a partial fill leaves the remainder resting) must
	// be gone before the hedge: cancel over both paths concurrently. The
	// confirmations arriving after this point land in Filled/Hedging and
	// are ignored by the state machine.
	e.dualCancel(ctx)

	if !e.machine.BeginHedge() {
		e.logger.Warn("hedge aborted, unexpected state", "state", e.machine.State().String())
		return
	}

	hedgeSide := fill.Side.Opposite()
	e.logger.Info("executing hedge",
		"side", string(hedgeSide),
		"size", fill.Size,
		"maker_price", fill.Price,
	)

	hedgeOrderID, err := withRetryLadder(ctx, func(c context.Context) (string, error) {
		e.metrics.HedgeAttemptsTotal.Inc()
		attemptCtx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()

		id, err := e.taker.MarketOrder(attemptCtx, hedgeSide, fill.Size, e.cfg.Hyperliquid.Slippage)
		if err != nil {
			e.metrics.HedgeFailuresTotal.Inc()
			e.metrics.VenueAPIError.WithLabelValues(string(domain.VenueTaker), "order_place").Inc()
			e.logger.Warn("hedge attempt failed", "error", err)
		}
		return id, err
	})
	if err != nil {
		e.alerts.Fire(monitor.AlertLevelP1, "unhedged_exposure",
			"hedge failed after all retries",
			fmt.Sprintf("position %s %v %s is unhedged, manual intervention required",
				string(fill.Side), fill.Size, e.cfg.Trading.Symbol))
		e.machine.Fail(fmt.Errorf("hedge failed after retries: %w", err))
		return
	}

	e.logger.Info("hedge order executed", "order_id", hedgeOrderID)

	// Exchange-side trade propagation: fills are not immediately visible
	// in the history endpoints.
	settle := e.cfg.Trading.HedgeSettleWait()
	e.logger.Info("waiting for trade propagation", "wait", settle.String())
	select {
	case <-ctx.Done():
	case <-time.After(settle):
	}

	summary := e.reconcileCycle(ctx, fill, clientID, expectedProfitBps)
	e.metrics.RealizedEdgeBps.Observe(summaryBpsFloat(summary))
	e.metrics.CycleDurationSecs.Observe(time.Since(cycleStart).Seconds())

	e.writer.Write(persistence.WriteRequest{Type: persistence.WriteTypeCycle, Cycle: summary})

	e.logSummary(summary)

	// The summary must be out before the terminal transition: Complete
	// releases the main loop, which exits the process.
	e.machine.CompleteCycle()
}

// dualCancel issues the REST and WebSocket cancel-alls concurrently and
// returns once either succeeds. Both requests still run to completion so
// any residual order is covered even if one path fails.
func (e *Engine) dualCancel(ctx context.Context) {
	symbol := e.cfg.Trading.Symbol
	results := make(chan error, 2)

	go func() {
		restCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		n, err := e.maker.CancelAll(restCtx, symbol)
		if err == nil {
			e.logger.Debug("rest cancel-all done", "cancelled", n)
		}
		results <- err
	}()

	go func() {
		if e.makerWs == nil {
			results <- fmt.Errorf("ws trading channel unavailable")
			return
		}
		wsCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		err := e.makerWs.CancelAllWs(wsCtx, symbol)
		if err == nil {
			e.logger.Debug("ws cancel-all done")
		}
		results <- err
	}()

	var firstErr error
	for i := 0; i < 2; i++ {
		err := <-results
		if err == nil {
			e.logger.Info("residual orders cancelled", "paths_waited", i+1)
			// Drain the second result in the background; it is
			// best-effort coverage, not a gate.
			go func(remaining int) {
				for j := 0; j < remaining; j++ {
					if err := <-results; err != nil {
						e.logger.Debug("secondary cancel path failed", "error", err)
					}
				}
			}(1 - i)
			return
		}
		firstErr = err
	}

	// Both paths failed. The hedge still proceeds: leaving the fill
	// unhedged is worse than a possible residual order.
	e.logger.Error("both cancel paths failed", "error", firstErr)
	e.metrics.VenueAPIError.WithLabelValues(string(domain.VenueMaker), "order_cancel").Inc()
}

func (e *Engine) reconcileCycle(ctx context.Context, fill domain.FillEvent, clientID string, expectedProfitBps float64) domain.CycleSummary {
	summary := domain.CycleSummary{
		Timestamp:         time.Now(),
		Symbol:            e.cfg.Trading.Symbol,
		MakerSide:         fill.Side,
		ExpectedProfitBps: expectedProfitBps,
	}

	window := 10 * time.Second
	now := time.Now()

	makerFills, err := withRetryLadder(ctx, func(c context.Context) ([]domain.VenueFill, error) {
		qCtx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		fills, err := e.maker.GetTradeHistory(qCtx, fill.At.Add(-window), now)
		if err != nil {
			return nil, err
		}
		matched := FilterByClientID(fills, clientID)
		if len(matched) == 0 {
			return nil, fmt.Errorf("no maker fills for client id yet")
		}
		return matched, nil
	})
	if err != nil {
		summary.Warnings = append(summary.Warnings, "maker fills unavailable, using order data and theoretical fees")
		e.logger.Warn("maker reconciliation incomplete", "error", err)
		summary.Maker = e.theoreticalMakerLeg(fill)
	} else {
		summary.Maker = AggregateFills(makerFills)
		if summary.Maker.TotalFee.IsZero() {
			summary.Maker.TotalFee = TheoreticalFee(summary.Maker.TotalNotional, e.cfg.Pacifica.MakerFeeBps)
			summary.Maker.FeeTheoretical = true
		}
		e.writer.Write(persistence.WriteRequest{Type: persistence.WriteTypeMakerFills, Fills: makerFills})
	}

	takerFills, err := withRetryLadder(ctx, func(c context.Context) ([]domain.VenueFill, error) {
		qCtx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		fills, err := e.taker.GetUserFills(qCtx, now.Add(-window), now.Add(window))
		if err != nil {
			return nil, err
		}
		if len(fills) == 0 {
			return nil, fmt.Errorf("no taker fills in window yet")
		}
		return fills, nil
	})
	if err != nil {
		summary.Warnings = append(summary.Warnings, "taker fills unavailable, using book price and theoretical fees")
		e.logger.Warn("taker reconciliation incomplete", "error", err)
		summary.Taker = e.theoreticalTakerLeg(fill)
	} else {
		summary.Taker = AggregateFills(takerFills)
		if summary.Taker.TotalFee.IsZero() {
			summary.Taker.TotalFee = TheoreticalFee(summary.Taker.TotalNotional, e.cfg.Hyperliquid.TakerFeeBps)
			summary.Taker.FeeTheoretical = true
		}
		e.writer.Write(persistence.WriteRequest{Type: persistence.WriteTypeTakerFills, Fills: takerFills})
	}

	gross, net, bps := ComputeProfit(summary.MakerSide, summary.Maker, summary.Taker)
	summary.GrossPnL = gross
	summary.ActualProfitUSD = net
	summary.ActualProfitBps = bps
	return summary
}

// theoreticalMakerLeg reconstructs the maker leg from the fill event when
// the history query comes back empty.
func (e *Engine) theoreticalMakerLeg(fill domain.FillEvent) domain.SideReconciliation {
	price := decimal.NewFromFloat(fill.Price)
	size := decimal.NewFromFloat(fill.Size)
	notional := price.Mul(size)
	return domain.SideReconciliation{
		AvgPrice:       price,
		TotalSize:      size,
		TotalNotional:  notional,
		TotalFee:       TheoreticalFee(notional, e.cfg.Pacifica.MakerFeeBps),
		FillCount:      1,
		FeeTheoretical: true,
	}
}

func (e *Engine) theoreticalTakerLeg(fill domain.FillEvent) domain.SideReconciliation {
	top, ok := e.takerCell.Get()
	ref := fill.Price
	if ok && top.Valid() {
		if fill.Side == domain.SideBuy {
			ref = top.Bid // hedge sells into the bid
		} else {
			ref = top.Ask
		}
	}
	price := decimal.NewFromFloat(ref)
	size := decimal.NewFromFloat(fill.Size)
	notional := price.Mul(size)
	return domain.SideReconciliation{
		AvgPrice:       price,
		TotalSize:      size,
		TotalNotional:  notional,
		TotalFee:       TheoreticalFee(notional, e.cfg.Hyperliquid.TakerFeeBps),
		FillCount:      1,
		FeeTheoretical: true,
	}
}

func (e *Engine) logSummary(s domain.CycleSummary) {
	e.logger.Info("cycle complete",
		"symbol", s.Symbol,
		"maker_side", string(s.MakerSide),
		"maker_avg_price", s.Maker.AvgPrice.String(),
		"maker_size", s.Maker.TotalSize.String(),
		"maker_notional", s.Maker.TotalNotional.String(),
		"maker_fee", s.Maker.TotalFee.String(),
		"taker_avg_price", s.Taker.AvgPrice.String(),
		"taker_notional", s.Taker.TotalNotional.String(),
		"taker_fee", s.Taker.TotalFee.String(),
		"expected_profit_bps", s.ExpectedProfitBps,
		"actual_profit_bps", s.ActualProfitBps.StringFixed(4),
		"actual_profit_usd", s.ActualProfitUSD.StringFixed(6),
		"gross_pnl", s.GrossPnL.StringFixed(6),
		"warnings", s.Warnings,
	)
}

func fillSource(fill domain.FillEvent) string {
	if fill.Synthetic {
		return "rest_backup"
	}
	return "stream"
}

func summaryBpsFloat(s domain.CycleSummary) float64 {
	f, _ := s.ActualProfitBps.Float64()
	return f
}
