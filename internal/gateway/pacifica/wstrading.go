package pacifica

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WsTrading is the low-latency trading channel used as the secondary path
// of the dual-cancellation protocol. Each request is signed per-message
// and correlated to its response by request id.
type WsTrading struct {
	ws     *wsConn
	signer *Signer
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan error
}

func NewWsTrading(wsURL string, signer *Signer, pingInterval time.Duration, reconnectAttempts int, logger *slog.Logger) *WsTrading {
	t := &WsTrading{
		signer:  signer,
		logger:  logger,
		pending: make(map[string]chan error),
	}

	ws := newWsConn(wsURL, pingInterval, reconnectAttempts, logger)
	ws.onConnect = func(conn *websocket.Conn) error { return nil }
	ws.onMessage = t.handleMessage
	t.ws = ws
	return t
}

func (t *WsTrading) Run(ctx context.Context) error {
	t.logger.Info("starting ws trading channel")
	return t.ws.run(ctx)
}

// CancelAllWs issues a signed cancel-all over the WebSocket channel and
// waits for the correlated acknowledgement.
func (t *WsTrading) CancelAllWs(ctx context.Context, symbol string) error {
	reqID := uuid.NewString()

	payload := map[string]any{
		"all_symbols":         symbol == "",
		"exclude_reduce_only": false,
	}
	if symbol != "" {
		payload["symbol"] = symbol
	}

	header, err := t.signer.SignOperation("cancel_all_orders", payload, time.Now())
	if err != nil {
		return fmt.Errorf("sign ws cancel-all: %w", err)
	}

	msg := map[string]any{
		"id":     reqID,
		"method": "cancel_all_orders",
		"params": map[string]any{
			"account":       header.Account,
			"agent_wallet":  header.AgentWallet,
			"signature":     header.Signature,
			"timestamp":     header.Timestamp,
			"expiry_window": header.ExpiryWindow,
			"cancel_all_orders": payload,
		},
	}

	respCh := make(chan error, 1)
	t.mu.Lock()
	t.pending[reqID] = respCh
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, reqID)
		t.mu.Unlock()
	}()

	if err := t.ws.writeJSON(msg); err != nil {
		return fmt.Errorf("write ws cancel-all: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-respCh:
		return err
	}
}

func (t *WsTrading) handleMessage(msg []byte) {
	var frame struct {
		ID    string          `json:"id"`
		Code  int             `json:"code"`
		Err   string          `json:"error"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil || frame.ID == "" {
		return
	}

	t.mu.Lock()
	ch, ok := t.pending[frame.ID]
	t.mu.Unlock()
	if !ok {
		return
	}

	if frame.Err != "" {
		ch <- fmt.Errorf("ws trading error (code %d): %s", frame.Code, frame.Err)
	} else {
		ch <- nil
	}
}
