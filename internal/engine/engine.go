package engine

import (
	"log/slog"

	"github.com/crypto-trading/xemm/internal/bot"
	"github.com/crypto-trading/xemm/internal/config"
	"github.com/crypto-trading/xemm/internal/domain"
	"github.com/crypto-trading/xemm/internal/gateway"
	"github.com/crypto-trading/xemm/internal/marketdata"
	"github.com/crypto-trading/xemm/internal/monitor"
	"github.com/crypto-trading/xemm/internal/persistence"
	"github.com/crypto-trading/xemm/internal/strategy"
)

const (
	opportunityTick = 100 // ms, 10 Hz
	monitorTick     = 25  // ms, 40 Hz
)

// Engine owns the trading tasks: the opportunity loop, the order monitor,
// the REST fallbacks and the hedge executor. Market data cells and the
// state machine are shared handles; no task holds a reference to another
// task.
type Engine struct {
	cfg       *config.Config
	machine   *bot.Machine
	evaluator *strategy.Evaluator
	info      domain.MarketInfo

	makerCell *marketdata.Cell
	takerCell *marketdata.Cell

	maker    gateway.MakerVenue
	makerWs  gateway.WsCanceller
	taker    gateway.TakerVenue

	metrics  *monitor.Metrics
	alerts   *monitor.AlertManager
	writer   *persistence.AsyncWriter
	logger   *slog.Logger

	fillStreamDegraded func() bool
}

func New(
	cfg *config.Config,
	machine *bot.Machine,
	evaluator *strategy.Evaluator,
	info domain.MarketInfo,
	makerCell, takerCell *marketdata.Cell,
	maker gateway.MakerVenue,
	makerWs gateway.WsCanceller,
	taker gateway.TakerVenue,
	metrics *monitor.Metrics,
	alerts *monitor.AlertManager,
	writer *persistence.AsyncWriter,
	fillStreamDegraded func() bool,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:                cfg,
		machine:            machine,
		evaluator:          evaluator,
		info:               info,
		makerCell:          makerCell,
		takerCell:          takerCell,
		maker:              maker,
		makerWs:            makerWs,
		taker:              taker,
		metrics:            metrics,
		alerts:             alerts,
		writer:             writer,
		fillStreamDegraded: fillStreamDegraded,
		logger:             logger,
	}
}
