package pacifica

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crypto-trading/xemm/internal/gateway"
)

// wsConn wraps one Pacifica WebSocket connection with the uniform
// reconnect schedule and ping keepalive shared by all streaming clients.
type wsConn struct {
	url               string
	pingInterval      time.Duration
	reconnectAttempts int
	logger            *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	degraded atomic.Bool

	onConnect func(*websocket.Conn) error
	onMessage func([]byte)
}

func newWsConn(url string, pingInterval time.Duration, reconnectAttempts int, logger *slog.Logger) *wsConn {
	return &wsConn{
		url:               url,
		pingInterval:      pingInterval,
		reconnectAttempts: reconnectAttempts,
		logger:            logger,
	}
}

// Degraded reports whether the stream is currently disconnected. The REST
// backup fill detector keys off this flag.
func (ws *wsConn) Degraded() bool {
	return ws.degraded.Load()
}

func (ws *wsConn) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, ws.url, nil)
	if err != nil {
		return fmt.Errorf("websocket connect to %s: %w", ws.url, err)
	}
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	})

	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()

	if ws.onConnect != nil {
		if err := ws.onConnect(conn); err != nil {
			conn.Close()
			return fmt.Errorf("subscribe after connect: %w", err)
		}
	}

	ws.degraded.Store(false)
	ws.logger.Info("websocket connected", "url", ws.url)
	return nil
}

func (ws *wsConn) reconnect(ctx context.Context) error {
	ws.degraded.Store(true)

	for attempt := 1; attempt <= ws.reconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(gateway.ReconnectDelay(attempt)):
		}

		if err := ws.connect(ctx); err != nil {
			ws.logger.Warn("reconnect attempt failed",
				"url", ws.url, "attempt", attempt, "error", err)
			continue
		}
		return nil
	}
	return fmt.Errorf("failed to reconnect to %s after %d attempts", ws.url, ws.reconnectAttempts)
}

// run drives the read loop until the context ends or reconnection is
// exhausted. The returned error is fatal to the feed.
func (ws *wsConn) run(ctx context.Context) error {
	if err := ws.connect(ctx); err != nil {
		if err := ws.reconnect(ctx); err != nil {
			return err
		}
	}

	go ws.pingLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			ws.close()
			return nil
		default:
		}

		ws.mu.Lock()
		conn := ws.conn
		ws.mu.Unlock()

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			ws.logger.Warn("websocket read error", "url", ws.url, "error", err)
			if reconnErr := ws.reconnect(ctx); reconnErr != nil {
				return reconnErr
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		if ws.onMessage != nil {
			ws.onMessage(message)
		}
	}
}

func (ws *wsConn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(ws.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ws.mu.Lock()
			conn := ws.conn
			if conn != nil {
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
			ws.mu.Unlock()
		}
	}
}

func (ws *wsConn) writeJSON(v any) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return ws.conn.WriteJSON(v)
}

func (ws *wsConn) close() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.conn != nil {
		ws.conn.Close()
		ws.conn = nil
	}
	ws.degraded.Store(true)
}
