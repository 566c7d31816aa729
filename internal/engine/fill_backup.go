package engine

import (
	"context"
	"time"

	"github.com/crypto-trading/xemm/internal/bot"
	"github.com/crypto-trading/xemm/internal/domain"
)

// RunFillBackupDetector polls open orders over REST while the fill stream
// is degraded. A tracked order that disappears from the open-orders list
// without a cancel confirmation is treated as filled and a synthetic
// FillEvent is emitted. The state machine's idempotence absorbs the real
// event if the stream later reconnects and replays it.
func (e *Engine) RunFillBackupDetector(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Pacifica.FillBackupPoll())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if e.fillStreamDegraded == nil || !e.fillStreamDegraded() {
			continue
		}

		snap := e.machine.Snapshot()
		if snap.State != bot.StateOrderPlaced || snap.ActiveOrder == nil {
			continue
		}
		order := *snap.ActiveOrder

		pollCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		open, err := e.maker.GetOpenOrders(pollCtx)
		cancel()
		if err != nil {
			e.metrics.VenueAPIError.WithLabelValues(string(domain.VenueMaker), "private_data").Inc()
			e.logger.Debug("backup fill poll failed", "error", err)
			continue
		}

		stillOpen := false
		for _, o := range open {
			if o.OrderID == order.OrderID || o.ClientID == order.ClientID {
				stillOpen = true
				break
			}
		}
		if stillOpen {
			continue
		}

		e.logger.Warn("order missing from open orders while stream degraded, assuming fill",
			"order_id", order.OrderID)
		e.machine.ApplyFill(domain.FillEvent{
			OrderID:   order.OrderID,
			ClientID:  order.ClientID,
			Side:      order.Side,
			Price:     order.Price,
			Size:      order.Size,
			Kind:      domain.FillKindFull,
			At:        time.Now(),
			Synthetic: true,
		})
	}
}
