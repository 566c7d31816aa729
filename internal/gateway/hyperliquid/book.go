package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crypto-trading/xemm/internal/gateway"
	"github.com/crypto-trading/xemm/internal/marketdata"
)

// BookFeed maintains the taker-venue top-of-book. Hyperliquid's post
// endpoint over WebSocket is request/response, so the feed requests an L2
// snapshot on a fixed cadence rather than holding a subscription.
type BookFeed struct {
	url               string
	symbol            string
	requestInterval   time.Duration
	pingInterval      time.Duration
	reconnectAttempts int
	cell              *marketdata.Cell
	logger            *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewBookFeed(wsURL, symbol string, requestInterval, pingInterval time.Duration, reconnectAttempts int, cell *marketdata.Cell, logger *slog.Logger) *BookFeed {
	return &BookFeed{
		url:               wsURL,
		symbol:            symbol,
		requestInterval:   requestInterval,
		pingInterval:      pingInterval,
		reconnectAttempts: reconnectAttempts,
		cell:              cell,
		logger:            logger,
	}
}

func (f *BookFeed) Run(ctx context.Context) error {
	f.logger.Info("starting taker book feed", "symbol", f.symbol)

	if err := f.connect(ctx); err != nil {
		if err = f.reconnect(ctx); err != nil {
			return err
		}
	}

	go f.requestLoop(ctx)
	go f.pingLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			f.close()
			return nil
		default:
		}

		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.logger.Warn("taker book read error", "error", err)
			if reconnErr := f.reconnect(ctx); reconnErr != nil {
				return reconnErr
			}
			continue
		}

		f.handleMessage(message)
	}
}

func (f *BookFeed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("websocket connect to %s: %w", f.url, err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	f.logger.Info("taker book websocket connected", "url", f.url)
	return nil
}

func (f *BookFeed) reconnect(ctx context.Context) error {
	for attempt := 1; attempt <= f.reconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(gateway.ReconnectDelay(attempt)):
		}

		if err := f.connect(ctx); err != nil {
			f.logger.Warn("taker book reconnect failed", "attempt", attempt, "error", err)
			continue
		}
		return nil
	}
	return fmt.Errorf("taker book feed: failed to reconnect after %d attempts", f.reconnectAttempts)
}

func (f *BookFeed) requestLoop(ctx context.Context) {
	ticker := time.NewTicker(f.requestInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			conn := f.conn
			if conn != nil {
				conn.WriteJSON(map[string]any{
					"method": "post",
					"id":     time.Now().UnixNano(),
					"request": map[string]any{
						"type": "info",
						"payload": map[string]any{
							"type": "l2Book",
							"coin": f.symbol,
						},
					},
				})
			}
			f.mu.Unlock()
		}
	}
}

func (f *BookFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			conn := f.conn
			if conn != nil {
				conn.WriteJSON(map[string]any{"method": "ping"})
			}
			f.mu.Unlock()
		}
	}
}

func (f *BookFeed) handleMessage(msg []byte) {
	var frame struct {
		Channel string `json:"channel"`
		Data    struct {
			Response struct {
				Payload struct {
					Data struct {
						Coin   string `json:"coin"`
						Levels [][]struct {
							Px string `json:"px"`
						} `json:"levels"`
					} `json:"data"`
				} `json:"payload"`
			} `json:"response"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		return
	}
	if frame.Channel != "post" {
		return
	}

	book := frame.Data.Response.Payload.Data
	if book.Coin != f.symbol || len(book.Levels) < 2 {
		return
	}
	if len(book.Levels[0]) == 0 || len(book.Levels[1]) == 0 {
		return
	}

	bid, err := strconv.ParseFloat(book.Levels[0][0].Px, 64)
	if err != nil {
		return
	}
	ask, err := strconv.ParseFloat(book.Levels[1][0].Px, 64)
	if err != nil {
		return
	}

	f.cell.Set(bid, ask, "ws")
}

func (f *BookFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}
