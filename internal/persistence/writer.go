package persistence

import (
	"log/slog"
	"sync"

	"github.com/crypto-trading/xemm/internal/domain"
)

type WriteType int

const (
	WriteTypeCycle WriteType = iota
	WriteTypeMakerFills
	WriteTypeTakerFills
)

type WriteRequest struct {
	Type    WriteType
	Cycle   domain.CycleSummary
	Fills   []domain.VenueFill
}

// AsyncWriter drains persistence work off the hedge path so the cycle
// summary is never delayed by disk or network.
type AsyncWriter struct {
	writeCh  chan WriteRequest
	sqlite   *SQLiteStore
	postgres *PostgresStore
	tradeLog *TradeLog
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func NewAsyncWriter(tradeLog *TradeLog, sqlite *SQLiteStore, postgres *PostgresStore, bufferSize int, logger *slog.Logger) *AsyncWriter {
	return &AsyncWriter{
		writeCh:  make(chan WriteRequest, bufferSize),
		sqlite:   sqlite,
		postgres: postgres,
		tradeLog: tradeLog,
		logger:   logger,
	}
}

func (w *AsyncWriter) Run() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for req := range w.writeCh {
			w.handleWrite(req)
		}
	}()
}

func (w *AsyncWriter) Write(req WriteRequest) {
	select {
	case w.writeCh <- req:
	default:
		w.logger.Warn("persistence channel full, dropping write", "type", req.Type)
	}
}

// Stop drains pending writes before returning, so a completed cycle is
// always on disk by process exit.
func (w *AsyncWriter) Stop() {
	close(w.writeCh)
	w.wg.Wait()
}

func (w *AsyncWriter) handleWrite(req WriteRequest) {
	switch req.Type {
	case WriteTypeCycle:
		if w.tradeLog != nil {
			if err := w.tradeLog.Append(req.Cycle); err != nil {
				w.logger.Error("failed to append trade log", "error", err)
			}
		}
		if w.sqlite != nil {
			if err := w.sqlite.WriteCycle(req.Cycle); err != nil {
				w.logger.Error("failed to archive cycle", "error", err)
			}
		}
		if w.postgres != nil {
			if err := w.postgres.WriteCycle(req.Cycle); err != nil {
				w.logger.Error("failed to cold-store cycle", "error", err)
			}
		}
	case WriteTypeMakerFills:
		if w.sqlite != nil {
			if err := w.sqlite.WriteFills(string(domain.VenueMaker), req.Fills); err != nil {
				w.logger.Error("failed to archive maker fills", "error", err)
			}
		}
	case WriteTypeTakerFills:
		if w.sqlite != nil {
			if err := w.sqlite.WriteFills(string(domain.VenueTaker), req.Fills); err != nil {
				w.logger.Error("failed to archive taker fills", "error", err)
			}
		}
	}
}
