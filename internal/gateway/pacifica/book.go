package pacifica

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crypto-trading/xemm/internal/marketdata"
)

// BookFeed subscribes to the L2 book channel and writes the shared cell
// for the maker venue.
type BookFeed struct {
	ws       *wsConn
	symbol   string
	aggLevel int
	cell     *marketdata.Cell
	logger   *slog.Logger
}

func NewBookFeed(wsURL, symbol string, aggLevel int, pingInterval time.Duration, reconnectAttempts int, cell *marketdata.Cell, logger *slog.Logger) *BookFeed {
	f := &BookFeed{
		symbol:   symbol,
		aggLevel: aggLevel,
		cell:     cell,
		logger:   logger,
	}

	ws := newWsConn(wsURL, pingInterval, reconnectAttempts, logger)
	ws.onConnect = func(conn *websocket.Conn) error {
		return conn.WriteJSON(map[string]any{
			"method": "subscribe",
			"params": map[string]any{
				"source":    "book",
				"symbol":    symbol,
				"agg_level": aggLevel,
			},
		})
	}
	ws.onMessage = f.handleMessage
	f.ws = ws
	return f
}

func (f *BookFeed) Run(ctx context.Context) error {
	f.logger.Info("starting maker book feed", "symbol", f.symbol)
	return f.ws.run(ctx)
}

func (f *BookFeed) Degraded() bool {
	return f.ws.Degraded()
}

func (f *BookFeed) handleMessage(msg []byte) {
	var frame struct {
		Channel string `json:"channel"`
		Data    struct {
			Symbol string `json:"s"`
			Levels [][]struct {
				Price string `json:"p"`
			} `json:"l"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		f.logger.Debug("unparseable book message", "error", err)
		return
	}
	if frame.Channel != "book" || frame.Data.Symbol != f.symbol {
		return
	}
	if len(frame.Data.Levels) < 2 || len(frame.Data.Levels[0]) == 0 || len(frame.Data.Levels[1]) == 0 {
		return
	}

	bid, err := strconv.ParseFloat(frame.Data.Levels[0][0].Price, 64)
	if err != nil {
		return
	}
	ask, err := strconv.ParseFloat(frame.Data.Levels[1][0].Price, 64)
	if err != nil {
		return
	}

	f.cell.Set(bid, ask, "ws")
}
