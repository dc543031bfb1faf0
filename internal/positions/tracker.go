package positions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gridPilot/internal/domain"
	"gridPilot/internal/ports"
)

// closedEpsilon is the residual base quantity below which a position
// counts as fully closed.
const closedEpsilon = 1e-9

// Metrics is the headline view derived from the trade log and current
// prices. Nothing in here is cached between calls.
type Metrics struct {
	RealizedPnL   float64
	UnrealizedPnL float64
	TotalPnL      float64
	ReturnPercent float64
	TodayPnL      float64
	TotalFees     float64
	MaxDrawdown   float64 // Peak-to-trough fraction of peak equity (0..1)
	Exposure      float64 // Market value of all open positions
	OpenPositions int
	TotalTrades   int
	ClosedTrades  int
	Wins          int
	Losses        int
	WinRate       float64 // wins / (wins + losses) over closed trades
}

// Tracker owns the append-only trade log and the open position set.
// All mutation happens through RecordTrade and UpdatePrices, which the
// control loop serializes.
type Tracker struct {
	initialCapital float64
	logger         ports.Logger
	now            func() time.Time

	mu           sync.RWMutex
	trades       []*domain.TradeRecord
	positions    map[int]*domain.Position
	currentPrice float64
	peakEquity   float64
	maxDrawdown  float64
	nextTradeID  int64

	onTrade []func(*domain.TradeRecord)
}

// NewTracker creates an empty tracker for the given capital pool.
func NewTracker(initialCapital float64, logger ports.Logger) (*Tracker, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for position tracker")
	}
	if initialCapital <= 0 {
		return nil, fmt.Errorf("initial capital %.2f must be positive: %w", initialCapital, ports.ErrInvalidConfig)
	}
	return &Tracker{
		initialCapital: initialCapital,
		logger:         logger,
		now:            time.Now,
		positions:      make(map[int]*domain.Position),
		peakEquity:     initialCapital,
		nextTradeID:    1,
	}, nil
}

// OnTrade registers a callback fired synchronously after each appended
// trade, once state is fully updated.
func (t *Tracker) OnTrade(cb func(*domain.TradeRecord)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTrade = append(t.onTrade, cb)
}

// RecordTrade appends a trade record and updates the open position for
// its level. A BUY opens or grows the position; a SELL closes or
// shrinks it and carries the realized profit (exit-entry)*qty - fee.
// A SELL with no matching open position is rejected with
// ports.ErrNoOpenPosition and nothing is appended.
func (t *Tracker) RecordTrade(tradeType domain.TradeType, side domain.OrderSide, quantity, price float64, levelIndex int, fee float64) (*domain.TradeRecord, error) {
	if quantity <= 0 || price <= 0 {
		return nil, fmt.Errorf("trade quantity %.8f and price %.8f must be positive: %w", quantity, price, ports.ErrInvalidOrder)
	}

	t.mu.Lock()

	rec := &domain.TradeRecord{
		ID:         t.nextTradeID,
		Type:       tradeType,
		Side:       side,
		Quantity:   quantity,
		Price:      price,
		LevelIndex: levelIndex,
		Fee:        fee,
		ExecutedAt: t.now().UTC(),
	}

	switch side {
	case domain.Buy:
		pos, ok := t.positions[levelIndex]
		if !ok {
			t.positions[levelIndex] = &domain.Position{
				LevelIndex:   levelIndex,
				Quantity:     quantity,
				EntryPrice:   price,
				CurrentPrice: price,
				EntryTime:    rec.ExecutedAt,
			}
		} else {
			// Grow with a volume-weighted entry price.
			total := pos.Quantity + quantity
			pos.EntryPrice = (pos.EntryPrice*pos.Quantity + price*quantity) / total
			pos.Quantity = total
			pos.CurrentPrice = price
		}

	case domain.Sell:
		pos, ok := t.positions[levelIndex]
		if !ok {
			t.mu.Unlock()
			return nil, fmt.Errorf("sell of %.8f at level %d: %w", quantity, levelIndex, ports.ErrNoOpenPosition)
		}
		if quantity > pos.Quantity+closedEpsilon {
			t.mu.Unlock()
			return nil, fmt.Errorf("sell quantity %.8f exceeds open position %.8f at level %d: %w", quantity, pos.Quantity, levelIndex, ports.ErrNoOpenPosition)
		}
		rec.Closing = true
		rec.Profit = (price-pos.EntryPrice)*quantity - fee
		pos.Quantity -= quantity
		pos.CurrentPrice = price
		if pos.Quantity <= closedEpsilon {
			delete(t.positions, levelIndex)
		}

	default:
		t.mu.Unlock()
		return nil, fmt.Errorf("unsupported trade side %q: %w", side, ports.ErrInvalidOrder)
	}

	t.trades = append(t.trades, rec)
	t.nextTradeID++
	t.updateEquityLocked()
	callbacks := make([]func(*domain.TradeRecord), len(t.onTrade))
	copy(callbacks, t.onTrade)
	t.mu.Unlock()

	// Fire after the lock is released so callbacks can read tracker
	// state; mutation is already complete at this point.
	for _, cb := range callbacks {
		cb(rec)
	}
	return rec, nil
}

// UpdatePrices recomputes unrealized PnL for every open position and
// advances the drawdown high-water mark.
func (t *Tracker) UpdatePrices(currentPrice float64) {
	if currentPrice <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentPrice = currentPrice
	for _, pos := range t.positions {
		pos.CurrentPrice = currentPrice
	}
	t.updateEquityLocked()
}

// updateEquityLocked tracks the peak-to-trough of the cumulative equity
// curve. Callers must hold the write lock.
func (t *Tracker) updateEquityLocked() {
	equity := t.initialCapital + t.realizedLocked() + t.unrealizedLocked()
	if equity > t.peakEquity {
		t.peakEquity = equity
		return
	}
	if t.peakEquity > 0 {
		if dd := (t.peakEquity - equity) / t.peakEquity; dd > t.maxDrawdown {
			t.maxDrawdown = dd
		}
	}
}

func (t *Tracker) realizedLocked() float64 {
	var sum float64
	for _, tr := range t.trades {
		sum += tr.Profit
	}
	return sum
}

func (t *Tracker) unrealizedLocked() float64 {
	var sum float64
	for _, pos := range t.positions {
		sum += pos.UnrealizedPnL()
	}
	return sum
}

// Metrics derives the headline numbers from the trade log and the open
// position set.
func (t *Tracker) Metrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m := Metrics{
		RealizedPnL:   t.realizedLocked(),
		UnrealizedPnL: t.unrealizedLocked(),
		MaxDrawdown:   t.maxDrawdown,
		OpenPositions: len(t.positions),
		TotalTrades:   len(t.trades),
	}
	m.TotalPnL = m.RealizedPnL + m.UnrealizedPnL
	m.ReturnPercent = m.TotalPnL / t.initialCapital * 100

	today := t.now().UTC().Truncate(24 * time.Hour)
	for _, tr := range t.trades {
		m.TotalFees += tr.Fee
		if tr.Closing {
			m.ClosedTrades++
			if tr.Profit > 0 {
				m.Wins++
			} else {
				m.Losses++
			}
			if !tr.ExecutedAt.Before(today) {
				m.TodayPnL += tr.Profit
			}
		}
	}
	if m.Wins+m.Losses > 0 {
		m.WinRate = float64(m.Wins) / float64(m.Wins+m.Losses)
	}
	for _, pos := range t.positions {
		m.Exposure += pos.MarketValue()
	}
	return m
}

// Positions returns a copy of the open position set.
func (t *Tracker) Positions() []domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Position, 0, len(t.positions))
	for _, pos := range t.positions {
		out = append(out, *pos)
	}
	return out
}

// Position returns the open position at a level, if any.
func (t *Tracker) Position(levelIndex int) (domain.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.positions[levelIndex]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Trades returns a copy of the trade log in append order.
func (t *Tracker) Trades() []domain.TradeRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.TradeRecord, len(t.trades))
	for i, tr := range t.trades {
		out[i] = *tr
	}
	return out
}

// Restore seeds the tracker from persisted state: the durable trade log
// and the snapshot's open position set. The snapshot is authoritative
// for positions; the log is kept for metrics continuity.
func (t *Tracker) Restore(trades []*domain.TradeRecord, positions []domain.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trades = t.trades[:0]
	for _, tr := range trades {
		cp := *tr
		t.trades = append(t.trades, &cp)
		if cp.ID >= t.nextTradeID {
			t.nextTradeID = cp.ID + 1
		}
	}
	t.positions = make(map[int]*domain.Position, len(positions))
	for _, pos := range positions {
		cp := pos
		t.positions[pos.LevelIndex] = &cp
	}
	t.updateEquityLocked()
	t.logger.Info(context.Background(), "tracker state restored", map[string]interface{}{
		"trades":    len(t.trades),
		"positions": len(t.positions),
	})
}
