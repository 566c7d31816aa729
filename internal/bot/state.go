package bot

import (
	"log/slog"
	"sync"
	"time"

	"github.com/crypto-trading/xemm/internal/domain"
)

type State uint8

const (
	StateIdle State = iota
	StateOrderPlaced
	StateFilled
	StateHedging
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateOrderPlaced:
		return "ORDER_PLACED"
	case StateFilled:
		return "FILLED"
	case StateHedging:
		return "HEDGING"
	case StateComplete:
		return "COMPLETE"
	case StateError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// Snapshot is a point-in-time copy of the machine for readers.
type Snapshot struct {
	State       State
	ActiveOrder *domain.ActiveOrder
	Fill        *domain.FillEvent
	Position    float64
	Err         error
}

// Machine is the sole arbiter of lifecycle transitions. All tasks hold a
// handle to it and mutate state only through its methods; the internal
// RW-lock serializes every transition.
//
// The cancel-confirmed handler is deliberately state-gated: confirmations
// arriving while a hedge is in flight (the dual-cancellation protocol
// fires them) must not reset the machine to Idle, or the opportunity loop
// would place a fresh order against an unhedged position.
type Machine struct {
	mu sync.RWMutex

	state       State
	activeOrder *domain.ActiveOrder
	fill        *domain.FillEvent
	position    float64
	err         error

	processedFills map[string]struct{}
	lastCancelAt   time.Time

	hedgeCh chan domain.FillEvent
	done    chan struct{}

	logger *slog.Logger
}

func NewMachine(logger *slog.Logger) *Machine {
	return &Machine{
		state:          StateIdle,
		processedFills: make(map[string]struct{}),
		hedgeCh:        make(chan domain.FillEvent, 1),
		done:           make(chan struct{}),
		logger:         logger,
	}
}

// HedgeCh delivers the FillEvent that moved the machine to Filled. The
// hedge executor is its only consumer.
func (m *Machine) HedgeCh() <-chan domain.FillEvent {
	return m.hedgeCh
}

// Done is closed when the machine reaches Complete or Error.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{State: m.state, Position: m.position, Err: m.err}
	if m.activeOrder != nil {
		o := *m.activeOrder
		snap.ActiveOrder = &o
	}
	if m.fill != nil {
		f := *m.fill
		snap.Fill = &f
	}
	return snap
}

// TryPlace transitions Idle → OrderPlaced atomically. It returns false
// when the machine is no longer Idle, in which case the caller abandons
// the placement.
func (m *Machine) TryPlace(order domain.ActiveOrder) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return false
	}

	m.activeOrder = &order
	m.state = StateOrderPlaced
	m.logger.Info("order placed",
		"order_id", order.OrderID,
		"side", string(order.Side),
		"price", order.Price,
		"size", order.Size,
		"expected_profit_bps", order.ExpectedProfitBps,
	)
	return true
}

// ApplyFill handles partial and full fill events. Only the transition
// OrderPlaced → Filled is accepted; repeated events for an already
// processed order id are no-ops, which makes the REST backup detector's
// synthetic events safe to replay.
func (m *Machine) ApplyFill(ev domain.FillEvent) bool {
	m.mu.Lock()

	key := ev.OrderID
	if key == "" {
		key = ev.ClientID
	}
	if _, dup := m.processedFills[key]; dup {
		m.mu.Unlock()
		m.logger.Debug("duplicate fill ignored", "order_id", ev.OrderID)
		return false
	}
	if m.state != StateOrderPlaced {
		m.mu.Unlock()
		m.logger.Debug("fill ignored in state", "state", m.state.String(), "order_id", ev.OrderID)
		return false
	}
	if m.activeOrder != nil &&
		m.activeOrder.OrderID != ev.OrderID && m.activeOrder.ClientID != ev.ClientID {
		activeID := m.activeOrder.OrderID
		m.mu.Unlock()
		m.logger.Warn("fill for unknown order ignored",
			"order_id", ev.OrderID, "active_order_id", activeID)
		return false
	}

	m.processedFills[key] = struct{}{}
	m.fill = &ev
	m.state = StateFilled
	switch ev.Side {
	case domain.SideBuy:
		m.position += ev.Size
	case domain.SideSell:
		m.position -= ev.Size
	}
	m.mu.Unlock()

	m.logger.Info("fill detected",
		"order_id", ev.OrderID,
		"kind", string(ev.Kind),
		"price", ev.Price,
		"size", ev.Size,
		"synthetic", ev.Synthetic,
	)

	// Capacity 1 and the state gate above guarantee this never blocks.
	m.hedgeCh <- ev
	return true
}

// CancelConfirmed resets to Idle only from OrderPlaced. In Filled, Hedging
// or Complete the confirmation belongs to the dual-cancellation sweep and
// the state is left unchanged.
func (m *Machine) CancelConfirmed(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateOrderPlaced {
		m.logger.Debug("cancel confirmation ignored in state",
			"state", m.state.String(), "order_id", orderID)
		return
	}
	if m.activeOrder != nil && orderID != "" &&
		m.activeOrder.OrderID != orderID && m.activeOrder.ClientID != orderID {
		m.logger.Debug("cancel confirmation for stale order ignored",
			"order_id", orderID, "active_order_id", m.activeOrder.OrderID)
		return
	}

	m.activeOrder = nil
	m.state = StateIdle
	m.lastCancelAt = time.Now()
	m.logger.Info("order cancelled, back to idle", "order_id", orderID)
}

// OrderRejected is a placement-time rejection: the order never rested, so
// the machine returns to Idle and the opportunity loop re-evaluates.
func (m *Machine) OrderRejected(orderID string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateOrderPlaced {
		return
	}
	if m.activeOrder != nil && orderID != "" &&
		m.activeOrder.OrderID != orderID && m.activeOrder.ClientID != orderID {
		return
	}
	m.activeOrder = nil
	m.state = StateIdle
	m.lastCancelAt = time.Now()
	m.logger.Warn("order rejected", "order_id", orderID, "reason", reason)
}

// BeginHedge transitions Filled → Hedging.
func (m *Machine) BeginHedge() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateFilled {
		return false
	}
	m.state = StateHedging
	m.activeOrder = nil
	return true
}

// CompleteCycle transitions Hedging → Complete and releases Done. The
// hedge executor calls this only after the cycle summary has been emitted.
func (m *Machine) CompleteCycle() bool {
	m.mu.Lock()

	if m.state != StateHedging {
		m.mu.Unlock()
		return false
	}
	m.state = StateComplete
	m.activeOrder = nil
	m.mu.Unlock()

	close(m.done)
	return true
}

// Fail moves the machine to the terminal Error state from any state.
func (m *Machine) Fail(err error) {
	m.mu.Lock()

	if m.state == StateComplete || m.state == StateError {
		m.mu.Unlock()
		return
	}
	m.state = StateError
	m.err = err
	m.activeOrder = nil
	m.mu.Unlock()

	m.logger.Error("fatal error, entering terminal state", "error", err)
	close(m.done)
}

// GracePeriodElapsed reports whether enough time has passed since the last
// normal cancellation to place a new order.
func (m *Machine) GracePeriodElapsed(grace time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastCancelAt.IsZero() {
		return true
	}
	return time.Since(m.lastCancelAt) >= grace
}

func (m *Machine) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}
