package marketdata

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/crypto-trading/xemm/internal/domain"
)

// Cell holds the latest top-of-book for one venue. The streaming feed and
// the REST fallback both write it; the opportunity loop and order monitor
// read it. The critical section is a struct copy, so readers never block
// writers meaningfully.
type Cell struct {
	mu        sync.Mutex
	top       domain.BookTop
	source    string
	updatedAt time.Time
}

func NewCell() *Cell {
	return &Cell{}
}

func (c *Cell) Set(bid, ask float64, source string) {
	c.mu.Lock()
	c.top = domain.BookTop{Bid: bid, Ask: ask}
	c.source = source
	c.updatedAt = time.Now()
	c.mu.Unlock()
}

// Get returns the latest top and false until the first write lands.
func (c *Cell) Get() (domain.BookTop, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.top, !c.updatedAt.IsZero()
}

func (c *Cell) Age() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updatedAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return time.Since(c.updatedAt)
}

func (c *Cell) Source() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

// Watchdog logs staleness for a set of named cells. Market data older than
// the threshold is tolerated but must be observable.
type Watchdog struct {
	cells     map[string]*Cell
	threshold time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

func NewWatchdog(cells map[string]*Cell, threshold time.Duration, logger *slog.Logger) *Watchdog {
	return &Watchdog{
		cells:     cells,
		threshold: threshold,
		interval:  time.Second,
		logger:    logger,
	}
}

func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, cell := range w.cells {
				age := cell.Age()
				if age > w.threshold {
					w.logger.Warn("market data stale",
						"feed", name,
						"age_ms", age.Milliseconds(),
						"source", cell.Source(),
					)
				}
			}
		}
	}
}
