package engine

import (
	"context"
	"time"

	"github.com/crypto-trading/xemm/internal/domain"
)

// RunMakerBookFallback polls the maker REST book at a slow cadence and
// writes the same cell as the streaming feed. The cell reflects whichever
// source updated most recently.
func (e *Engine) RunMakerBookFallback(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Pacifica.RestPollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pollCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		top, err := e.maker.GetBookTop(pollCtx, e.cfg.Trading.Symbol)
		cancel()
		if err != nil {
			e.metrics.VenueAPIError.WithLabelValues(string(domain.VenueMaker), "public_data").Inc()
			e.logger.Debug("maker book poll failed", "error", err)
			continue
		}
		if top.Valid() {
			e.makerCell.Set(top.Bid, top.Ask, "rest")
		}
	}
}

// RunBookAgeGauges exports staleness per venue for observability.
func (e *Engine) RunBookAgeGauges(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.metrics.BookAgeMs.WithLabelValues(string(domain.VenueMaker)).Set(float64(e.makerCell.Age().Milliseconds()))
			e.metrics.BookAgeMs.WithLabelValues(string(domain.VenueTaker)).Set(float64(e.takerCell.Age().Milliseconds()))
		}
	}
}
