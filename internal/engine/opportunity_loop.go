package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/crypto-trading/xemm/internal/bot"
	"github.com/crypto-trading/xemm/internal/domain"
	"github.com/crypto-trading/xemm/internal/gateway/pacifica"
	"github.com/crypto-trading/xemm/internal/strategy"
)

// RunOpportunityLoop evaluates both directions at 10 Hz and places a
// maker limit order when one clears the profit target. Placement is gated
// on the Idle state and re-checked atomically by the state machine.
func (e *Engine) RunOpportunityLoop(ctx context.Context) {
	ticker := time.NewTicker(opportunityTick * time.Millisecond)
	defer ticker.Stop()

	e.logger.Info("opportunity loop started",
		"symbol", e.cfg.Trading.Symbol,
		"profit_rate_bps", e.cfg.Trading.ProfitRateBps,
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.evaluateOnce(ctx)
		}
	}
}

func (e *Engine) evaluateOnce(ctx context.Context) {
	if e.machine.State() != bot.StateIdle {
		return
	}
	if !e.machine.GracePeriodElapsed(e.cfg.Trading.CancelGracePeriod()) {
		return
	}

	makerTop, makerOK := e.makerCell.Get()
	takerTop, takerOK := e.takerCell.Get()
	if !makerOK || !takerOK || !makerTop.Valid() || !takerTop.Valid() {
		return
	}

	now := time.Now()
	notional := e.cfg.Trading.OrderNotionalUSD
	if e.info.MinNotional > 0 && notional < e.info.MinNotional {
		e.logger.Warn("order notional below venue minimum, skipping",
			"notional", notional, "min", e.info.MinNotional)
		return
	}

	buy := e.evaluator.EvaluateBuy(takerTop.Bid, notional, now)
	sell := e.evaluator.EvaluateSell(takerTop.Ask, notional, now)
	best := strategy.PickBest(buy, sell, makerTop.Mid())
	if best == nil {
		return
	}

	e.metrics.OpportunitiesSeen.WithLabelValues(string(best.Side)).Inc()

	// Re-check against the freshest taker book before committing: a stale
	// evaluation must not place an order already outside the drift band.
	currentTop, _ := e.takerCell.Get()
	currentProfit := e.evaluator.RecalcProfitBps(best.Side, best.MakerPrice, currentTop.Bid, currentTop.Ask)
	if currentProfit < e.cfg.Trading.ProfitRateBps-e.cfg.Trading.ProfitCancelThresholdBps {
		e.logger.Debug("placement skipped, profit decayed",
			"side", string(best.Side),
			"expected_bps", best.ExpectedProfitBps,
			"current_bps", currentProfit,
		)
		return
	}

	e.place(ctx, best)
}

func (e *Engine) place(ctx context.Context, opp *strategy.Opportunity) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	clientID := id.String()

	placeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	orderID, err := e.maker.PlaceLimit(placeCtx, opp.Side, opp.MakerPrice, opp.Size, clientID)
	if err != nil {
		if pacifica.IsSignatureError(err) {
			e.machine.Fail(err)
			return
		}
		e.metrics.OrderRejectTotal.Inc()
		e.metrics.VenueAPIError.WithLabelValues(string(domain.VenueMaker), "order_place").Inc()
		e.logger.Warn("order placement failed", "error", err)
		return
	}

	order := domain.ActiveOrder{
		OrderID:           orderID,
		ClientID:          clientID,
		Symbol:            e.cfg.Trading.Symbol,
		Side:              opp.Side,
		Price:             opp.MakerPrice,
		Size:              opp.Size,
		ExpectedProfitBps: opp.ExpectedProfitBps,
		PlacedAt:          time.Now(),
	}

	if !e.machine.TryPlace(order) {
		// A fill or fatal error won the race while the request was in
		// flight. The order is live but untracked: cancel it immediately.
		e.logger.Warn("state changed during placement, cancelling orphan order",
			"order_id", orderID)
		cancelCtx, cancelFn := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelFn()
		if err := e.maker.Cancel(cancelCtx, orderID); err != nil {
			e.logger.Error("failed to cancel orphan order", "order_id", orderID, "error", err)
		}
		return
	}

	e.metrics.OrdersPlacedTotal.WithLabelValues(string(opp.Side)).Inc()
	e.metrics.ExpectedEdgeBps.Observe(opp.ExpectedProfitBps)
}
