package engine

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/crypto-trading/xemm/internal/bot"
	"github.com/crypto-trading/xemm/internal/config"
	"github.com/crypto-trading/xemm/internal/domain"
	"github.com/crypto-trading/xemm/internal/marketdata"
	"github.com/crypto-trading/xemm/internal/monitor"
	"github.com/crypto-trading/xemm/internal/persistence"
	"github.com/crypto-trading/xemm/internal/strategy"
)

type fakeMaker struct {
	machine      *bot.Machine
	cancelAllErr error
	fills        []domain.VenueFill
	historyErr   error
	cancelCalls  atomic.Int32
}

func (f *fakeMaker) PlaceLimit(ctx context.Context, side domain.Side, price, size float64, clientID string) (string, error) {
	return "order-1", nil
}

func (f *fakeMaker) Cancel(ctx context.Context, orderID string) error { return nil }

func (f *fakeMaker) CancelAll(ctx context.Context, symbol string) (int, error) {
	f.cancelCalls.Add(1)
	if f.cancelAllErr != nil {
		return 0, f.cancelAllErr
	}
	// The venue reports the cancellation back through the order-update
	// stream; by then the machine has left OrderPlaced, so this must be
	// a no-op.
	f.machine.CancelConfirmed("order-1")
	return 1, nil
}

func (f *fakeMaker) GetOpenOrders(ctx context.Context) ([]domain.ActiveOrder, error) {
	return nil, nil
}

func (f *fakeMaker) GetTradeHistory(ctx context.Context, start, end time.Time) ([]domain.VenueFill, error) {
	return f.fills, f.historyErr
}

func (f *fakeMaker) GetMarketInfo(ctx context.Context, symbol string) (*domain.MarketInfo, error) {
	return &domain.MarketInfo{Symbol: symbol, TickSize: 0.001, LotSize: 0.01}, nil
}

func (f *fakeMaker) GetBookTop(ctx context.Context, symbol string) (*domain.BookTop, error) {
	return &domain.BookTop{Bid: 139.950, Ask: 140.050}, nil
}

func (f *fakeMaker) GetUserState(ctx context.Context) (map[string]float64, error) {
	return nil, nil
}

type fakeWsCanceller struct {
	machine *bot.Machine
	err     error
	calls   atomic.Int32
}

func (f *fakeWsCanceller) CancelAllWs(ctx context.Context, symbol string) error {
	f.calls.Add(1)
	if f.err != nil {
		return f.err
	}
	f.machine.CancelConfirmed("order-1")
	return nil
}

type fakeTaker struct {
	fills     []domain.VenueFill
	orderErr  error
	fillsErr  error
	orders    atomic.Int32
}

func (f *fakeTaker) MarketOrder(ctx context.Context, side domain.Side, size, slippage float64) (string, error) {
	f.orders.Add(1)
	if f.orderErr != nil {
		return "", f.orderErr
	}
	return "hl-1", nil
}

func (f *fakeTaker) GetUserFills(ctx context.Context, start, end time.Time) ([]domain.VenueFill, error) {
	return f.fills, f.fillsErr
}

func (f *fakeTaker) GetMeta(ctx context.Context, symbol string) (*domain.MarketInfo, error) {
	return &domain.MarketInfo{Symbol: symbol}, nil
}

func (f *fakeTaker) GetUserState(ctx context.Context) (map[string]float64, error) {
	return nil, nil
}

func venueFill(clientID, price, size, fee string, side domain.Side) domain.VenueFill {
	return domain.VenueFill{
		TradeID:  "t-" + price,
		ClientID: clientID,
		Symbol:   "SOL",
		Side:     side,
		Price:    decimal.RequireFromString(price),
		Size:     decimal.RequireFromString(size),
		Fee:      decimal.RequireFromString(fee),
		At:       time.Now(),
	}
}

func testEngine(t *testing.T, maker *fakeMaker, ws *fakeWsCanceller, taker *fakeTaker, machine *bot.Machine) (*Engine, string) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Trading.Symbol = "SOL"
	cfg.Trading.OrderNotionalUSD = 20
	cfg.Trading.ProfitRateBps = 15
	cfg.Trading.ProfitCancelThresholdBps = 3
	cfg.Trading.OrderRefreshIntervalS = 30
	cfg.Trading.HedgeSettleWaitS = 0
	cfg.Pacifica.MakerFeeBps = 1.5
	cfg.Pacifica.RestPollIntervalS = 4
	cfg.Pacifica.FillBackupPollMs = 500
	cfg.Hyperliquid.TakerFeeBps = 4.0
	cfg.Hyperliquid.Slippage = 0.005

	logger := slog.Default()
	csvPath := filepath.Join(t.TempDir(), "trades.csv")
	tradeLog, err := persistence.NewTradeLog(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	writer := persistence.NewAsyncWriter(tradeLog, nil, nil, 16, logger)
	writer.Run()
	t.Cleanup(writer.Stop)

	metrics := monitor.NewMetrics(prometheus.NewRegistry())
	alerts := monitor.NewAlertManager(nil, logger)

	info := domain.MarketInfo{Symbol: "SOL", TickSize: 0.001, LotSize: 0.01}
	evaluator := strategy.NewEvaluator(1.5, 4.0, 15, info)

	makerCell := marketdata.NewCell()
	takerCell := marketdata.NewCell()
	makerCell.Set(139.950, 140.050, "ws")
	takerCell.Set(140.000, 140.020, "ws")

	eng := New(cfg, machine, evaluator, info,
		makerCell, takerCell,
		maker, ws, taker,
		metrics, alerts, writer,
		func() bool { return false },
		logger)
	return eng, csvPath
}

func placeAndFill(t *testing.T, machine *bot.Machine) domain.FillEvent {
	t.Helper()

	order := domain.ActiveOrder{
		OrderID:           "order-1",
		ClientID:          "client-1",
		Symbol:            "SOL",
		Side:              domain.SideBuy,
		Price:             139.713,
		Size:              0.14,
		ExpectedProfitBps: 15.03,
		PlacedAt:          time.Now(),
	}
	if !machine.TryPlace(order) {
		t.Fatal("placement failed")
	}

	fill := domain.FillEvent{
		OrderID:  "order-1",
		ClientID: "client-1",
		Side:     domain.SideBuy,
		Price:    139.713,
		Size:     0.14,
		Kind:     domain.FillKindFull,
		At:       time.Now(),
	}
	if !machine.ApplyFill(fill) {
		t.Fatal("fill not accepted")
	}
	return <-machine.HedgeCh()
}

func TestExecuteCycle_CleanFill(t *testing.T) {
	machine := bot.NewMachine(slog.Default())
	maker := &fakeMaker{
		machine: machine,
		fills:   []domain.VenueFill{venueFill("client-1", "139.713", "0.14", "0.0029", domain.SideBuy)},
	}
	ws := &fakeWsCanceller{machine: machine}
	taker := &fakeTaker{
		fills: []domain.VenueFill{venueFill("", "140", "0.14", "0.0078", domain.SideSell)},
	}

	eng, _ := testEngine(t, maker, ws, taker, machine)
	fill := placeAndFill(t, machine)

	eng.executeCycle(context.Background(), fill)

	if machine.State() != bot.StateComplete {
		t.Fatalf("state = %s, want COMPLETE", machine.State())
	}
	if taker.orders.Load() != 1 {
		t.Errorf("hedge orders = %d, want exactly 1", taker.orders.Load())
	}
	// dualCancel returns as soon as one path succeeds; the REST path may
	// still be finishing in the background, so give it time to land.
	deadline := time.Now().Add(2 * time.Second)
	for maker.cancelCalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if maker.cancelCalls.Load() != 1 {
		t.Errorf("rest cancel-alls = %d, want 1", maker.cancelCalls.Load())
	}

	select {
	case <-machine.Done():
	default:
		t.Error("Done must be closed after the cycle")
	}
}

// Dual-cancel confirmations land while the state is Filled or Hedging and
// must not reopen the cycle; the opportunity loop stays locked out.
func TestExecuteCycle_DualCancelRace(t *testing.T) {
	machine := bot.NewMachine(slog.Default())
	maker := &fakeMaker{
		machine: machine,
		fills:   []domain.VenueFill{venueFill("client-1", "139.713", "0.14", "0.0029", domain.SideBuy)},
	}
	ws := &fakeWsCanceller{machine: machine}
	taker := &fakeTaker{
		fills: []domain.VenueFill{venueFill("", "140", "0.14", "0.0078", domain.SideSell)},
	}

	eng, _ := testEngine(t, maker, ws, taker, machine)
	fill := placeAndFill(t, machine)

	eng.executeCycle(context.Background(), fill)

	if machine.State() != bot.StateComplete {
		t.Fatalf("state = %s, want COMPLETE", machine.State())
	}
	// Both cancel paths fired their confirmations mid-hedge; a reopened
	// machine would accept this placement.
	if machine.TryPlace(domain.ActiveOrder{OrderID: "order-2"}) {
		t.Fatal("machine accepted a new order after the cycle")
	}
}

func TestExecuteCycle_OneCancelPathSufficient(t *testing.T) {
	machine := bot.NewMachine(slog.Default())
	maker := &fakeMaker{
		machine: machine,
		fills:   []domain.VenueFill{venueFill("client-1", "139.713", "0.14", "0.0029", domain.SideBuy)},
	}
	ws := &fakeWsCanceller{machine: machine, err: errors.New("ws channel down")}
	taker := &fakeTaker{
		fills: []domain.VenueFill{venueFill("", "140", "0.14", "0.0078", domain.SideSell)},
	}

	eng, _ := testEngine(t, maker, ws, taker, machine)
	fill := placeAndFill(t, machine)

	eng.executeCycle(context.Background(), fill)

	if machine.State() != bot.StateComplete {
		t.Fatalf("state = %s, want COMPLETE despite one failed cancel path", machine.State())
	}
}

func TestExecuteCycle_ReconciliationFallback(t *testing.T) {
	if testing.Short() {
		t.Skip("reconciliation retries sleep between attempts")
	}

	machine := bot.NewMachine(slog.Default())
	maker := &fakeMaker{
		machine:    machine,
		historyErr: errors.New("history endpoint down"),
	}
	ws := &fakeWsCanceller{machine: machine}
	taker := &fakeTaker{fillsErr: errors.New("fills endpoint down")}

	eng, _ := testEngine(t, maker, ws, taker, machine)
	fill := placeAndFill(t, machine)

	eng.executeCycle(context.Background(), fill)

	// Missing reconciliation data falls back to theoretical fees and
	// still completes.
	if machine.State() != bot.StateComplete {
		t.Fatalf("state = %s, want COMPLETE", machine.State())
	}
}

func TestExecuteCycle_HedgeFailureIsFatal(t *testing.T) {
	if testing.Short() {
		t.Skip("hedge retries sleep between attempts")
	}

	machine := bot.NewMachine(slog.Default())
	maker := &fakeMaker{machine: machine}
	ws := &fakeWsCanceller{machine: machine}
	taker := &fakeTaker{orderErr: errors.New("venue rejecting orders")}

	eng, _ := testEngine(t, maker, ws, taker, machine)
	fill := placeAndFill(t, machine)

	eng.executeCycle(context.Background(), fill)

	if machine.State() != bot.StateError {
		t.Fatalf("state = %s, want ERROR", machine.State())
	}
	if taker.orders.Load() != 3 {
		t.Errorf("hedge attempts = %d, want 3", taker.orders.Load())
	}
}
