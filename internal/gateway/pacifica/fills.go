package pacifica

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crypto-trading/xemm/internal/domain"
)

// FillSink receives classified order-update events. The state machine is
// the only implementation in the running bot.
type FillSink interface {
	ApplyFill(ev domain.FillEvent) bool
	CancelConfirmed(orderID string)
	OrderRejected(orderID string, reason string)
}

// FillStream subscribes to the per-account order-update channel and
// classifies each message into partial fill, full fill, cancellation or
// rejection. Cancellations are delivered as-is: the state machine decides
// contextually whether a confirmation resets the cycle or belongs to the
// dual-cancel sweep.
type FillStream struct {
	ws      *wsConn
	account string
	symbol  string
	sink    FillSink
	logger  *slog.Logger
}

func NewFillStream(wsURL, account, symbol string, pingInterval time.Duration, reconnectAttempts int, sink FillSink, logger *slog.Logger) *FillStream {
	s := &FillStream{
		account: account,
		symbol:  symbol,
		sink:    sink,
		logger:  logger,
	}

	ws := newWsConn(wsURL, pingInterval, reconnectAttempts, logger)
	ws.onConnect = func(conn *websocket.Conn) error {
		return conn.WriteJSON(map[string]any{
			"method": "subscribe",
			"params": map[string]any{
				"source":  "account_order_updates",
				"account": account,
			},
		})
	}
	ws.onMessage = s.handleMessage
	s.ws = ws
	return s
}

func (s *FillStream) Run(ctx context.Context) error {
	s.logger.Info("starting fill detector stream", "account_set", s.account != "")
	return s.ws.run(ctx)
}

// Degraded gates the REST backup detector: it only polls while the
// stream is down.
func (s *FillStream) Degraded() bool {
	return s.ws.Degraded()
}

type orderUpdate struct {
	OrderID       int64  `json:"i"`
	ClientOrderID string `json:"I"`
	Symbol        string `json:"s"`
	Side          string `json:"d"`
	Event         string `json:"oe"`
	AvgPrice      string `json:"ap"`
	FilledAmount  string `json:"f"`
	Amount        string `json:"a"`
}

func (s *FillStream) handleMessage(msg []byte) {
	var frame struct {
		Channel string        `json:"channel"`
		Data    []orderUpdate `json:"data"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		s.logger.Debug("unparseable order update", "error", err)
		return
	}
	if frame.Channel != "account_order_updates" {
		return
	}

	for _, u := range frame.Data {
		if u.Symbol != s.symbol {
			continue
		}
		s.dispatch(u)
	}
}

func (s *FillStream) dispatch(u orderUpdate) {
	orderID := strconv.FormatInt(u.OrderID, 10)

	switch u.Event {
	case "fulfilled", "filled":
		s.emitFill(u, orderID, domain.FillKindFull)
	case "partially_filled", "partial_fill":
		s.emitFill(u, orderID, domain.FillKindPartial)
	case "cancelled", "canceled", "expired":
		s.sink.CancelConfirmed(orderID)
	case "rejected":
		s.sink.OrderRejected(orderID, u.Event)
	default:
		s.logger.Debug("unhandled order event", "event", u.Event, "order_id", orderID)
	}
}

func (s *FillStream) emitFill(u orderUpdate, orderID string, kind domain.FillKind) {
	price, _ := strconv.ParseFloat(u.AvgPrice, 64)
	size, _ := strconv.ParseFloat(u.FilledAmount, 64)
	if size <= 0 {
		return
	}

	s.sink.ApplyFill(domain.FillEvent{
		OrderID:  orderID,
		ClientID: u.ClientOrderID,
		Side:     sideFromVenue(u.Side),
		Price:    price,
		Size:     size,
		Kind:     kind,
		At:       time.Now(),
	})
}
