package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gridPilot/internal/domain"
	"gridPilot/internal/ports"
)

// Fill is emitted once per order that reaches filled state.
type Fill struct {
	LevelIndex int
	Side       domain.OrderSide
	Quantity   float64
	Price      float64
	Fee        float64
	Order      domain.Order
}

// Config holds the exchange-facing order constraints.
type Config struct {
	Symbol      string
	BaseAsset   string  // Asset sold on sells (e.g. "BTC")
	QuoteAsset  string  // Asset spent on buys (e.g. "USDT")
	FeePercent  float64 // Taker/maker fee estimate per trade
	MinNotional float64 // Exchange minimum order value in quote currency
}

func (c Config) validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required: %w", ports.ErrInvalidConfig)
	}
	if c.BaseAsset == "" {
		return fmt.Errorf("base asset is required: %w", ports.ErrInvalidConfig)
	}
	if c.QuoteAsset == "" {
		return fmt.Errorf("quote asset is required: %w", ports.ErrInvalidConfig)
	}
	if c.FeePercent < 0 {
		return fmt.Errorf("fee percent %.4f must not be negative: %w", c.FeePercent, ports.ErrInvalidConfig)
	}
	return nil
}

// Manager tracks the lifecycle of every order the engine places. It
// never invents state: an Order exists only after the exchange
// acknowledged it, and status transitions follow exchange re-queries.
type Manager struct {
	cfg            Config
	gateway        ports.ExchangeGateway
	logger         ports.Logger
	tradingAllowed func() bool

	mu      sync.RWMutex
	orders  map[string]*domain.Order // by LocalID
	byLevel map[int]string           // level index -> LocalID of open order
	onFill  []func(Fill)
}

// NewManager wires the manager to a gateway and a trading gate. The
// gate is consulted immediately before every placement.
func NewManager(cfg Config, gateway ports.ExchangeGateway, tradingAllowed func() bool, logger ports.Logger) (*Manager, error) {
	if gateway == nil {
		return nil, fmt.Errorf("exchange gateway is required for order manager")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for order manager")
	}
	if tradingAllowed == nil {
		tradingAllowed = func() bool { return true }
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:            cfg,
		gateway:        gateway,
		logger:         logger,
		tradingAllowed: tradingAllowed,
		orders:         make(map[string]*domain.Order),
		byLevel:        make(map[int]string),
	}, nil
}

// OnFill registers a callback fired once per filled order, after the
// manager's own state is updated.
func (m *Manager) OnFill(cb func(Fill)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFill = append(m.onFill, cb)
}

// PlaceBuyOrder places a limit buy at a grid level. The quote balance
// is re-verified against the live exchange balance immediately before
// placement.
func (m *Manager) PlaceBuyOrder(ctx context.Context, level *domain.GridLevel) (*domain.Order, error) {
	if err := m.prePlacementCheck(level, level.Quantity, level.Price); err != nil {
		return nil, err
	}

	balance, err := m.gateway.FetchBalance(ctx, m.cfg.QuoteAsset)
	if err != nil {
		return nil, fmt.Errorf("verifying %s balance before buy: %w", m.cfg.QuoteAsset, err)
	}
	notional := level.Quantity * level.Price
	if balance.Free < notional {
		return nil, fmt.Errorf("free %s balance %.2f below required %.2f: %w",
			m.cfg.QuoteAsset, balance.Free, notional, ports.ErrInsufficientFunds)
	}

	return m.place(ctx, domain.Buy, level.Index, level.Quantity, level.Price)
}

// PlaceSellOrder places a limit sell at a grid level for the given base
// quantity, normally the quantity bought one level below. The base
// balance is re-verified against the live exchange balance immediately
// before placement.
func (m *Manager) PlaceSellOrder(ctx context.Context, level *domain.GridLevel, quantity float64) (*domain.Order, error) {
	if err := m.prePlacementCheck(level, quantity, level.Price); err != nil {
		return nil, err
	}

	balance, err := m.gateway.FetchBalance(ctx, m.cfg.BaseAsset)
	if err != nil {
		return nil, fmt.Errorf("verifying %s balance before sell: %w", m.cfg.BaseAsset, err)
	}
	if balance.Free < quantity {
		return nil, fmt.Errorf("free %s balance %.8f below required %.8f: %w",
			m.cfg.BaseAsset, balance.Free, quantity, ports.ErrInsufficientFunds)
	}

	return m.place(ctx, domain.Sell, level.Index, quantity, level.Price)
}

// prePlacementCheck enforces the gate and the exchange's order filters
// before any network call is made.
func (m *Manager) prePlacementCheck(level *domain.GridLevel, quantity, price float64) error {
	if !m.tradingAllowed() {
		return fmt.Errorf("placement refused: %w", ports.ErrTradingHalted)
	}
	if level == nil {
		return fmt.Errorf("nil grid level: %w", ports.ErrInvalidOrder)
	}
	if quantity <= 0 || price <= 0 {
		return fmt.Errorf("quantity %.8f and price %.8f must be positive: %w", quantity, price, ports.ErrInvalidOrder)
	}
	if notional := quantity * price; notional < m.cfg.MinNotional {
		return fmt.Errorf("order value %.2f below exchange minimum %.2f: %w",
			notional, m.cfg.MinNotional, ports.ErrInvalidOrder)
	}
	m.mu.RLock()
	_, occupied := m.byLevel[level.Index]
	m.mu.RUnlock()
	if occupied {
		return fmt.Errorf("level %d already has a working order: %w", level.Index, ports.ErrLevelOccupied)
	}
	return nil
}

// place sends the order and records it from the acknowledgment. An
// order acknowledged as already filled emits its fill immediately.
func (m *Manager) place(ctx context.Context, side domain.OrderSide, levelIndex int, quantity, price float64) (*domain.Order, error) {
	ack, err := m.gateway.CreateOrder(ctx, m.cfg.Symbol, domain.Limit, side, quantity, price)
	if err != nil {
		m.logger.Error(ctx, err, "order placement failed", map[string]interface{}{
			"side":  string(side),
			"level": levelIndex,
			"price": price,
		})
		return nil, fmt.Errorf("placing %s at level %d: %w", side, levelIndex, err)
	}

	order := &domain.Order{
		LocalID:        uuid.NewString(),
		ExchangeID:     ack.ExchangeID,
		Symbol:         m.cfg.Symbol,
		Side:           side,
		Type:           domain.Limit,
		Price:          price,
		Quantity:       quantity,
		FilledQuantity: ack.ExecutedQuantity,
		LevelIndex:     levelIndex,
		Status:         ack.Status,
		CreatedAt:      ack.Timestamp,
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	m.orders[order.LocalID] = order
	var fill *Fill
	if order.Status == domain.OrderFilled {
		// Filled on arrival; the level is never marked occupied.
		order.FilledQuantity = order.Quantity
		fill = m.fillFor(order)
	} else {
		m.byLevel[levelIndex] = order.LocalID
	}
	callbacks := m.fillCallbacksLocked()
	m.mu.Unlock()

	m.logger.Info(ctx, "order placed", map[string]interface{}{
		"local_id":    order.LocalID,
		"exchange_id": order.ExchangeID,
		"side":        string(side),
		"level":       levelIndex,
		"price":       price,
		"quantity":    quantity,
		"status":      string(order.Status),
	})

	if fill != nil {
		m.emit(*fill, callbacks)
	}
	cp := *order
	return &cp, nil
}

// VerifyOrder re-queries one order and applies the authoritative state.
// The open-to-filled transition emits the fill exactly once. An order
// the exchange no longer knows is marked errored and its level freed.
func (m *Manager) VerifyOrder(ctx context.Context, localID string) (*domain.Order, error) {
	m.mu.RLock()
	order, ok := m.orders[localID]
	if !ok {
		m.mu.RUnlock()
		return nil, fmt.Errorf("no tracked order %s: %w", localID, ports.ErrOrderNotFound)
	}
	exchangeID := order.ExchangeID
	m.mu.RUnlock()

	ack, err := m.gateway.FetchOrder(ctx, m.cfg.Symbol, exchangeID)
	if err != nil {
		if errors.Is(err, ports.ErrOrderNotFound) {
			m.markErrored(ctx, localID)
			return nil, fmt.Errorf("order %s vanished from exchange: %w", localID, ports.ErrOrderNotFound)
		}
		return nil, fmt.Errorf("verifying order %s: %w", localID, err)
	}

	m.mu.Lock()
	order, ok = m.orders[localID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("no tracked order %s: %w", localID, ports.ErrOrderNotFound)
	}
	wasOpen := order.Status == domain.OrderOpen
	order.Status = ack.Status
	order.FilledQuantity = ack.ExecutedQuantity

	var fill *Fill
	if wasOpen && order.Status == domain.OrderFilled {
		order.FilledQuantity = order.Quantity
		delete(m.byLevel, order.LevelIndex)
		fill = m.fillFor(order)
	} else if order.Status == domain.OrderCanceled || order.Status == domain.OrderError {
		delete(m.byLevel, order.LevelIndex)
	}
	callbacks := m.fillCallbacksLocked()
	cp := *order
	m.mu.Unlock()

	if fill != nil {
		m.logger.Info(ctx, "order filled", map[string]interface{}{
			"local_id": localID,
			"side":     string(cp.Side),
			"level":    cp.LevelIndex,
			"price":    cp.Price,
			"quantity": cp.Quantity,
		})
		m.emit(*fill, callbacks)
	}
	return &cp, nil
}

// CancelOrder requests cancellation and re-verifies on failure, since a
// cancel error does not prove the order is still open.
func (m *Manager) CancelOrder(ctx context.Context, localID string) error {
	m.mu.RLock()
	order, ok := m.orders[localID]
	if !ok {
		m.mu.RUnlock()
		return fmt.Errorf("no tracked order %s: %w", localID, ports.ErrOrderNotFound)
	}
	if !order.IsOpen() {
		m.mu.RUnlock()
		return nil
	}
	exchangeID := order.ExchangeID
	m.mu.RUnlock()

	if err := m.gateway.CancelOrder(ctx, m.cfg.Symbol, exchangeID); err != nil {
		m.logger.Warn(ctx, "cancel request failed, re-verifying order", map[string]interface{}{
			"local_id": localID,
			"error":    err.Error(),
		})
		if _, verr := m.VerifyOrder(ctx, localID); verr != nil {
			return fmt.Errorf("canceling order %s: %w", localID, err)
		}
		return nil
	}

	m.mu.Lock()
	if order, ok := m.orders[localID]; ok && order.IsOpen() {
		order.Status = domain.OrderCanceled
		delete(m.byLevel, order.LevelIndex)
	}
	m.mu.Unlock()
	return nil
}

// CancelAll cancels every tracked open order. Failures are collected
// and the loop continues, so one stuck order cannot strand the rest.
func (m *Manager) CancelAll(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.orders))
	for id, o := range m.orders {
		if o.IsOpen() {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	var firstErr error
	for _, id := range ids {
		if err := m.CancelOrder(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("canceling all open orders: %w", firstErr)
	}
	return nil
}

// ReconcileOpenOrders re-verifies every tracked open order against the
// exchange. Fills discovered here emit through the usual callback path.
// Transient gateway errors skip the order until the next pass.
func (m *Manager) ReconcileOpenOrders(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.orders))
	for id, o := range m.orders {
		if o.IsOpen() {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	var firstErr error
	for _, id := range ids {
		if ctx.Err() != nil {
			return fmt.Errorf("reconcile interrupted: %w", ports.ErrContextCanceled)
		}
		if _, err := m.VerifyOrder(ctx, id); err != nil {
			if ports.IsTransient(err) {
				m.logger.Warn(ctx, "transient error during reconcile, will retry next pass", map[string]interface{}{
					"local_id": id,
					"error":    err.Error(),
				})
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// markErrored moves an order to the error state and frees its level.
func (m *Manager) markErrored(ctx context.Context, localID string) {
	m.mu.Lock()
	if order, ok := m.orders[localID]; ok {
		order.Status = domain.OrderError
		delete(m.byLevel, order.LevelIndex)
	}
	m.mu.Unlock()
	m.logger.Warn(ctx, "order marked errored", map[string]interface{}{"local_id": localID})
}

// fillFor builds the fill event for a just-filled order. Fees are an
// estimate from the configured rate; spot acks do not carry them.
// Callers must hold the write lock.
func (m *Manager) fillFor(order *domain.Order) *Fill {
	return &Fill{
		LevelIndex: order.LevelIndex,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      order.Price,
		Fee:        order.Quantity * order.Price * m.cfg.FeePercent / 100,
		Order:      *order,
	}
}

func (m *Manager) fillCallbacksLocked() []func(Fill) {
	out := make([]func(Fill), len(m.onFill))
	copy(out, m.onFill)
	return out
}

func (m *Manager) emit(fill Fill, callbacks []func(Fill)) {
	for _, cb := range callbacks {
		cb(fill)
	}
}

// Order returns a copy of a tracked order by local ID.
func (m *Manager) Order(localID string) (domain.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[localID]
	if !ok {
		return domain.Order{}, false
	}
	return *order, true
}

// Orders returns copies of every tracked order, terminal ones included.
func (m *Manager) Orders() []domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o)
	}
	return out
}

// OpenOrders returns copies of all tracked open orders.
func (m *Manager) OpenOrders() []domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Order, 0, len(m.byLevel))
	for _, o := range m.orders {
		if o.IsOpen() {
			out = append(out, *o)
		}
	}
	return out
}

// OrderAtLevel returns the open order occupying a grid level, if any.
func (m *Manager) OrderAtLevel(levelIndex int) (domain.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byLevel[levelIndex]
	if !ok {
		return domain.Order{}, false
	}
	return *m.orders[id], true
}

// Restore seeds tracked orders from a persisted snapshot. Only open
// orders re-occupy levels; terminal orders are kept for bookkeeping.
func (m *Manager) Restore(orders []domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = make(map[string]*domain.Order, len(orders))
	m.byLevel = make(map[int]string)
	for _, o := range orders {
		cp := o
		m.orders[cp.LocalID] = &cp
		if cp.IsOpen() {
			m.byLevel[cp.LevelIndex] = cp.LocalID
		}
	}
}
