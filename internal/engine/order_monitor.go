package engine

import (
	"context"
	"math"
	"time"

	"github.com/crypto-trading/xemm/internal/bot"
	"github.com/crypto-trading/xemm/internal/domain"
)

type cancelReason string

const (
	cancelReasonNone  cancelReason = ""
	cancelReasonAge   cancelReason = "age"
	cancelReasonDrift cancelReason = "drift"
)

// cancelDecision is the pure part of the monitor tick, separated so the
// thresholds can be tested without timers.
func cancelDecision(
	order domain.ActiveOrder,
	takerTop domain.BookTop,
	currentProfitBps float64,
	maxAge time.Duration,
	driftThresholdBps float64,
	now time.Time,
) cancelReason {
	if now.Sub(order.PlacedAt) > maxAge {
		return cancelReasonAge
	}
	if !takerTop.Valid() {
		return cancelReasonNone
	}

	// Drift in either direction triggers a refresh: worse is a stop-loss,
	// better means the order should be re-priced more aggressively.
	deviation := math.Abs(currentProfitBps - order.ExpectedProfitBps)
	if deviation > driftThresholdBps {
		return cancelReasonDrift
	}
	return cancelReasonNone
}

// RunOrderMonitor watches the live order at 40 Hz. Cancel issuance never
// transitions state directly: the machine waits for the venue's
// cancel confirmation through the fill detector.
func (e *Engine) RunOrderMonitor(ctx context.Context) {
	ticker := time.NewTicker(monitorTick * time.Millisecond)
	defer ticker.Stop()

	var lastProfitLog time.Time
	var cancelInFlight bool
	var cancelOrderID string

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap := e.machine.Snapshot()
		if snap.State != bot.StateOrderPlaced || snap.ActiveOrder == nil {
			cancelInFlight = false
			continue
		}
		order := *snap.ActiveOrder
		if cancelInFlight && cancelOrderID != order.OrderID {
			cancelInFlight = false
		}

		takerTop, ok := e.takerCell.Get()
		if !ok || !takerTop.Valid() {
			continue
		}

		currentProfit := e.evaluator.RecalcProfitBps(order.Side, order.Price, takerTop.Bid, takerTop.Ask)

		now := time.Now()
		if now.Sub(lastProfitLog) >= 2*time.Second {
			lastProfitLog = now
			e.logger.Info("order profit",
				"order_id", order.OrderID,
				"current_bps", currentProfit,
				"initial_bps", order.ExpectedProfitBps,
				"change_bps", currentProfit-order.ExpectedProfitBps,
				"age_ms", now.Sub(order.PlacedAt).Milliseconds(),
			)
		}

		if cancelInFlight {
			continue
		}

		reason := cancelDecision(order, takerTop, currentProfit,
			e.cfg.Trading.OrderRefreshInterval(),
			e.cfg.Trading.ProfitCancelThresholdBps, now)
		if reason == cancelReasonNone {
			continue
		}

		cancelInFlight = true
		cancelOrderID = order.OrderID
		go e.issueCancel(ctx, order, reason, currentProfit)
	}
}

func (e *Engine) issueCancel(ctx context.Context, order domain.ActiveOrder, reason cancelReason, currentProfit float64) {
	// The order may have filled between the tick and this call; a fill
	// always outranks a refresh, so check open-order state first.
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	open, err := e.maker.GetOpenOrders(checkCtx)
	if err == nil {
		found := false
		for _, o := range open {
			if o.OrderID == order.OrderID || o.ClientID == order.ClientID {
				found = true
				break
			}
		}
		if !found {
			e.logger.Debug("cancel skipped, order no longer open", "order_id", order.OrderID)
			return
		}
	}

	e.logger.Info("issuing cancel",
		"order_id", order.OrderID,
		"reason", string(reason),
		"current_bps", currentProfit,
		"initial_bps", order.ExpectedProfitBps,
	)
	e.metrics.OrderCancelTotal.WithLabelValues(string(reason)).Inc()

	cancelCtx, cancelFn := context.WithTimeout(ctx, 10*time.Second)
	defer cancelFn()
	if err := e.maker.Cancel(cancelCtx, order.OrderID); err != nil {
		e.metrics.VenueAPIError.WithLabelValues(string(domain.VenueMaker), "order_cancel").Inc()
		e.logger.Warn("cancel request failed", "order_id", order.OrderID, "error", err)
	}
	// State transition happens only on cancel_confirmed from the stream.
}
