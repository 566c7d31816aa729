package gateway

import (
	"context"
	"time"

	"github.com/crypto-trading/xemm/internal/domain"
)

// MakerVenue is the contract the core requires from the maker-side
// (limit order) exchange client.
type MakerVenue interface {
	PlaceLimit(ctx context.Context, side domain.Side, price, size float64, clientID string) (orderID string, err error)
	Cancel(ctx context.Context, orderID string) error
	CancelAll(ctx context.Context, symbol string) (int, error)
	GetOpenOrders(ctx context.Context) ([]domain.ActiveOrder, error)
	GetTradeHistory(ctx context.Context, start, end time.Time) ([]domain.VenueFill, error)
	GetMarketInfo(ctx context.Context, symbol string) (*domain.MarketInfo, error)
	GetBookTop(ctx context.Context, symbol string) (*domain.BookTop, error)
	GetUserState(ctx context.Context) (map[string]float64, error)
}

// WsCanceller is the maker venue's low-latency cancellation channel,
// the second path of the dual-cancel protocol.
type WsCanceller interface {
	CancelAllWs(ctx context.Context, symbol string) error
}

// TakerVenue is the contract for the hedge-side exchange client.
type TakerVenue interface {
	MarketOrder(ctx context.Context, side domain.Side, size, slippage float64) (orderID string, err error)
	GetUserFills(ctx context.Context, start, end time.Time) ([]domain.VenueFill, error)
	GetMeta(ctx context.Context, symbol string) (*domain.MarketInfo, error)
	GetUserState(ctx context.Context) (map[string]float64, error)
}

// ReconnectDelay implements the uniform streaming-client retry schedule:
// 1s on the first attempt, then doubling, capped at 30s.
func ReconnectDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return time.Second
	}
	d := time.Second << uint(attempt-1)
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}
