// Package engine drives the grid trading control loop. It owns the
// single writer goroutine; every collaborator mutation funnels through
// the tick sequence or through the fill callbacks it installs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gridPilot/config"
	"gridPilot/internal/domain"
	"gridPilot/internal/grid"
	"gridPilot/internal/metrics"
	"gridPilot/internal/orders"
	"gridPilot/internal/ports"
	"gridPilot/internal/positions"
	"gridPilot/internal/rebalance"
	"gridPilot/internal/risk"
)

// snapshot metric keys used to round-trip engine state the opaque
// Snapshot cannot express structurally.
const (
	metaCenterPrice       = "center_price"
	metaLastRebalanceUnix = "last_rebalance_unix"
)

// Status is a point-in-time view for operators.
type Status struct {
	Symbol         string
	CurrentPrice   float64
	CenterPrice    float64
	LowerBound     float64
	UpperBound     float64
	RiskLevel      domain.RiskLevel
	TradingAllowed bool
	OpenOrders     int
	Metrics        positions.Metrics
}

// Engine composes the grid calculator, order manager, position
// tracker, risk manager and rebalancer into one control loop.
type Engine struct {
	cfg     *config.Config
	gateway ports.ExchangeGateway
	repo    ports.StateRepository
	logger  ports.Logger
	metrics *metrics.Metrics

	calc       *grid.Calculator
	orders     *orders.Manager
	tracker    *positions.Tracker
	risk       *risk.Manager
	rebalancer *rebalance.Rebalancer

	mu           sync.RWMutex
	currentPrice float64
	riskLevel    domain.RiskLevel
	lastSnapshot time.Time
	running      bool
}

// New builds the engine and wires the collaborator callbacks. mtr may
// be nil to disable metrics.
func New(cfg *config.Config, gateway ports.ExchangeGateway, repo ports.StateRepository, logger ports.Logger, mtr *metrics.Metrics) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required for engine")
	}
	if gateway == nil {
		return nil, fmt.Errorf("exchange gateway is required for engine")
	}
	if repo == nil {
		return nil, fmt.Errorf("state repository is required for engine")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for engine")
	}

	calc, err := grid.NewCalculator(grid.Config{
		Symbol:         cfg.Symbol,
		TotalCapital:   cfg.TotalCapital,
		NumLevels:      cfg.GridLevels,
		RangePercent:   cfg.RangePercent,
		ProfitPerLevel: cfg.ProfitPerLevel,
		MinOrderSize:   cfg.MinOrderSize,
		FeePercent:     cfg.FeePercent,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("building grid calculator: %w", err)
	}

	tracker, err := positions.NewTracker(cfg.TotalCapital, logger)
	if err != nil {
		return nil, fmt.Errorf("building position tracker: %w", err)
	}

	riskMgr, err := risk.NewManager(risk.Config{
		InitialCapital:        cfg.TotalCapital,
		GlobalStopPercent:     cfg.GlobalStopPercent,
		DailyLossLimitPercent: cfg.DailyLossPercent,
		MaxDrawdownPercent:    cfg.MaxDrawdownPercent,
		MaxOrderNotional:      cfg.MaxOrderSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("building risk manager: %w", err)
	}

	orderMgr, err := orders.NewManager(orders.Config{
		Symbol:      cfg.Symbol,
		BaseAsset:   cfg.BaseAsset,
		QuoteAsset:  cfg.QuoteAsset,
		FeePercent:  cfg.FeePercent,
		MinNotional: cfg.MinOrderSize,
	}, gateway, riskMgr.IsTradingAllowed, logger)
	if err != nil {
		return nil, fmt.Errorf("building order manager: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		gateway: gateway,
		repo:    repo,
		logger:  logger,
		metrics: mtr,
		calc:    calc,
		orders:  orderMgr,
		tracker: tracker,
		risk:    riskMgr,
	}

	rebalancer, err := rebalance.NewRebalancer(rebalance.Config{
		MarginPercent: cfg.RebalanceMarginPercent,
		MinInterval:   cfg.MinRebalanceInterval,
	}, calc, e.clearForRebalance, e.seedGridOrders, logger)
	if err != nil {
		return nil, fmt.Errorf("building rebalancer: %w", err)
	}
	e.rebalancer = rebalancer

	orderMgr.OnFill(e.handleFill)
	riskMgr.OnAlert(func(a *domain.RiskAlert) {
		e.metrics.RiskAlertRaised(string(a.Type))
	})
	riskMgr.OnEmergencyStop(func(reason string) {
		// The stop latched already; clearing the book is best effort.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := orderMgr.CancelAll(ctx); err != nil {
			logger.Error(ctx, err, "canceling orders after emergency stop", nil)
		}
	})
	rebalancer.OnRebalance(func(a *domain.RebalanceAction) {
		e.metrics.RebalanceFinished(string(a.Status))
	})

	return e, nil
}

// Run restores persisted state, builds the grid, seeds the order
// ladder and then ticks until ctx is canceled. It blocks.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	price, err := e.fetchTickerRetry(ctx)
	if err != nil {
		return fmt.Errorf("fetching initial ticker: %w", err)
	}
	e.setPrice(price)

	if err := e.restore(ctx, price); err != nil {
		return err
	}

	if err := e.seedGridOrders(ctx); err != nil {
		e.logger.Warn(ctx, "initial ladder incomplete, will retry on next tick", map[string]interface{}{
			"error": err.Error(),
		})
	}

	e.logger.Info(ctx, "engine started", map[string]interface{}{
		"symbol":        e.cfg.Symbol,
		"center":        e.calc.CenterPrice(),
		"tick_interval": e.cfg.TickInterval.String(),
	})

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info(context.Background(), "engine stopping", nil)
			return e.shutdown()
		case <-ticker.C:
			if err := e.tick(ctx); err != nil {
				e.metrics.TickError()
				e.logger.Error(ctx, err, "tick failed", nil)
			}
		}
	}
}

// tick runs one iteration of the control sequence.
func (e *Engine) tick(ctx context.Context) error {
	price, err := e.fetchTickerRetry(ctx)
	if err != nil {
		return fmt.Errorf("fetching ticker: %w", err)
	}
	e.setPrice(price)

	e.tracker.UpdatePrices(price)

	m := e.tracker.Metrics()
	level := e.risk.CheckRisk(m)
	e.mu.Lock()
	e.riskLevel = level
	e.mu.Unlock()

	if e.risk.IsTradingAllowed() {
		if _, err := e.rebalancer.CheckAndRebalance(ctx, price); err != nil {
			e.logger.Error(ctx, err, "rebalance attempt failed", nil)
		}
	}

	if err := e.orders.ReconcileOpenOrders(ctx); err != nil {
		e.logger.Error(ctx, err, "order reconcile incomplete", nil)
	}

	if e.risk.IsTradingAllowed() {
		if err := e.seedGridOrders(ctx); err != nil {
			e.logger.Warn(ctx, "ladder top-up incomplete", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	m = e.tracker.Metrics()
	e.metrics.UpdateGauges(price, e.calc.CenterPrice(), m.RealizedPnL, m.UnrealizedPnL,
		m.MaxDrawdown, len(e.orders.OpenOrders()), m.OpenPositions, e.risk.IsTradingAllowed())

	e.mu.RLock()
	due := time.Since(e.lastSnapshot) >= e.cfg.SnapshotInterval
	e.mu.RUnlock()
	if due {
		if err := e.saveSnapshot(ctx); err != nil {
			e.logger.Error(ctx, err, "snapshot save failed", nil)
		}
	}
	return nil
}

// seedGridOrders places buy orders on every free BUY level below the
// current price. Sell orders are planted by the fill handler, one
// level above each executed buy.
func (e *Engine) seedGridOrders(ctx context.Context) error {
	price := e.CurrentPrice()
	if price <= 0 {
		return nil
	}
	var firstErr error
	for _, lv := range e.calc.Levels() {
		if lv.Side != domain.LevelBuy || lv.Price >= price {
			continue
		}
		if _, occupied := e.orders.OrderAtLevel(lv.Index); occupied {
			continue
		}
		if _, held := e.tracker.Position(lv.Index); held {
			// Bought and awaiting its paired sell.
			continue
		}
		if err := e.risk.ValidateOrder(domain.Buy, lv.Quantity, lv.Price); err != nil {
			if errors.Is(err, ports.ErrTradingHalted) {
				return err
			}
			continue
		}
		level := lv
		order, err := e.orders.PlaceBuyOrder(ctx, &level)
		if err != nil {
			if errors.Is(err, ports.ErrTradingHalted) || errors.Is(err, ports.ErrInsufficientFunds) {
				return err
			}
			e.metrics.OrderFailed()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		// An instant fill already ran the fill handler; the level
		// state moved on without us.
		if order.Status == domain.OrderOpen {
			e.calc.AssignOrder(lv.Index, order.LocalID)
		}
		e.metrics.OrderPlaced(string(domain.Buy))
	}
	return firstErr
}

// handleFill is the order manager's fill callback: record the trade,
// persist it, update the grid and plant the paired order one level
// away.
func (e *Engine) handleFill(fill orders.Fill) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	e.calc.AddFill(fill.LevelIndex, fill.Quantity)
	e.calc.ClearOrder(fill.LevelIndex)
	e.metrics.TradeExecuted(string(fill.Side))

	switch fill.Side {
	case domain.Buy:
		rec, err := e.tracker.RecordTrade(domain.TradeGridBuy, domain.Buy, fill.Quantity, fill.Price, fill.LevelIndex, fill.Fee)
		if err != nil {
			e.logger.Error(ctx, err, "recording buy fill", map[string]interface{}{"level": fill.LevelIndex})
			return
		}
		e.persistTrade(ctx, rec)
		e.placePairedSell(ctx, fill)

	case domain.Sell:
		rec, err := e.tracker.RecordTrade(domain.TradeGridSell, domain.Sell, fill.Quantity, fill.Price, fill.LevelIndex, fill.Fee)
		if err != nil {
			e.logger.Error(ctx, err, "recording sell fill", map[string]interface{}{"level": fill.LevelIndex})
			return
		}
		e.persistTrade(ctx, rec)
		// The freed capital re-enters through the next ladder top-up.
	}
}

// placePairedSell plants the profit-taking sell one level above a
// filled buy. The position tracker keys positions by the BUY level, so
// the paired order keeps the buy level's index.
func (e *Engine) placePairedSell(ctx context.Context, fill orders.Fill) {
	_, sellAbove := e.calc.Neighbors(fill.Price)
	if sellAbove == nil {
		e.logger.Warn(ctx, "no sell level above filled buy", map[string]interface{}{
			"level": fill.LevelIndex,
			"price": fill.Price,
		})
		return
	}
	if err := e.risk.ValidateOrder(domain.Sell, fill.Quantity, sellAbove.Price); err != nil {
		e.logger.Warn(ctx, "paired sell blocked", map[string]interface{}{
			"level": sellAbove.Index,
			"error": err.Error(),
		})
		return
	}
	pairedLevel := *sellAbove
	pairedLevel.Index = fill.LevelIndex
	order, err := e.orders.PlaceSellOrder(ctx, &pairedLevel, fill.Quantity)
	if err != nil {
		e.metrics.OrderFailed()
		e.logger.Error(ctx, err, "placing paired sell", map[string]interface{}{
			"buy_level":  fill.LevelIndex,
			"sell_price": sellAbove.Price,
		})
		return
	}
	if order.Status == domain.OrderOpen {
		e.calc.AssignOrder(fill.LevelIndex, order.LocalID)
	}
	e.metrics.OrderPlaced(string(domain.Sell))
}

func (e *Engine) persistTrade(ctx context.Context, rec *domain.TradeRecord) {
	if _, err := e.repo.AppendTrade(ctx, rec); err != nil {
		// The in-memory log still has it; surface the gap and move on.
		e.logger.Error(ctx, err, "persisting trade", map[string]interface{}{"trade_id": rec.ID})
	}
}

// restore rebuilds state from the last snapshot, or starts a fresh
// grid at the current price when none exists.
func (e *Engine) restore(ctx context.Context, price float64) error {
	snap, err := e.repo.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}
	if snap == nil {
		if _, err := e.calc.Calculate(price); err != nil {
			return fmt.Errorf("building initial grid: %w", err)
		}
		return nil
	}

	center := snap.Metrics[metaCenterPrice]
	if center <= 0 {
		center = price
	}
	if _, err := e.calc.Calculate(center); err != nil {
		return fmt.Errorf("rebuilding grid from snapshot: %w", err)
	}

	trades, err := e.repo.FindTrades(ctx, 0)
	if err != nil {
		return fmt.Errorf("loading trade log: %w", err)
	}
	e.tracker.Restore(trades, snap.Positions)
	e.orders.Restore(snap.Orders)
	for _, o := range snap.Orders {
		if o.Status == domain.OrderOpen {
			e.calc.AssignOrder(o.LevelIndex, o.LocalID)
		}
	}
	if unix := snap.Metrics[metaLastRebalanceUnix]; unix > 0 {
		e.rebalancer.RestoreCooldown(time.Unix(int64(unix), 0))
	}

	// Orders may have filled while we were down.
	if err := e.orders.ReconcileOpenOrders(ctx); err != nil {
		e.logger.Warn(ctx, "startup reconcile incomplete", map[string]interface{}{
			"error": err.Error(),
		})
	}

	e.logger.Info(ctx, "state restored from snapshot", map[string]interface{}{
		"taken_at":  snap.TakenAt,
		"orders":    len(snap.Orders),
		"positions": len(snap.Positions),
	})
	return nil
}

// saveSnapshot persists the full engine state for crash recovery.
func (e *Engine) saveSnapshot(ctx context.Context) error {
	m := e.tracker.Metrics()
	snap := &domain.Snapshot{
		TakenAt:   time.Now().UTC(),
		Symbol:    e.cfg.Symbol,
		Orders:    e.allTrackedOrders(),
		Positions: e.tracker.Positions(),
		Metrics: map[string]float64{
			metaCenterPrice:       e.calc.CenterPrice(),
			metaLastRebalanceUnix: float64(e.rebalancer.LastCompleted().Unix()),
			"realized_pnl":        m.RealizedPnL,
			"unrealized_pnl":      m.UnrealizedPnL,
			"max_drawdown":        m.MaxDrawdown,
			"current_price":       e.CurrentPrice(),
		},
	}
	if e.rebalancer.LastCompleted().IsZero() {
		snap.Metrics[metaLastRebalanceUnix] = 0
	}
	if err := e.repo.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	e.mu.Lock()
	e.lastSnapshot = time.Now()
	e.mu.Unlock()
	return nil
}

// allTrackedOrders includes terminal orders so a restored manager keeps
// the same bookkeeping the running one had.
func (e *Engine) allTrackedOrders() []domain.Order {
	return e.orders.Orders()
}

// shutdown persists a final snapshot and optionally clears the book.
func (e *Engine) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if e.cfg.CancelOrdersOnStop {
		if err := e.orders.CancelAll(ctx); err != nil {
			e.logger.Error(ctx, err, "canceling orders on shutdown", nil)
		}
	}
	if err := e.saveSnapshot(ctx); err != nil {
		return fmt.Errorf("saving shutdown snapshot: %w", err)
	}
	e.logger.Info(ctx, "engine stopped", nil)
	return nil
}

// fetchTickerRetry fetches the ticker, retrying transient failures
// with doubling delays.
func (e *Engine) fetchTickerRetry(ctx context.Context) (float64, error) {
	attempts := e.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := e.cfg.RetryInitialDelay
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		price, err := e.gateway.FetchTicker(ctx, e.cfg.Symbol)
		if err == nil {
			return price, nil
		}
		lastErr = err
		if !ports.IsTransient(err) {
			return 0, err
		}
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("ticker fetch interrupted: %w", ports.ErrContextCanceled)
		case <-time.After(delay):
			delay *= 2
		}
	}
	return 0, fmt.Errorf("ticker fetch failed after %d attempts: %w", attempts, lastErr)
}

// EmergencyHalt latches the emergency stop and cancels the book.
func (e *Engine) EmergencyHalt(reason string) {
	e.risk.EmergencyStop(reason)
}

// ResetEmergencyStop re-enables trading after an operator review.
func (e *Engine) ResetEmergencyStop() {
	e.risk.ResetEmergencyStop()
}

// CloseAllPositions liquidates every open position with market sells.
// Usable while trading is still allowed; the emergency stop path
// cancels orders but deliberately leaves inventory alone.
func (e *Engine) CloseAllPositions(ctx context.Context) error {
	return e.liquidatePositions(ctx, domain.TradeEmergencyClose)
}

// clearForRebalance runs before the grid shifts: the old ladder is
// canceled and inventory keyed to the old levels is flattened, so the
// new grid starts from a clean book.
func (e *Engine) clearForRebalance(ctx context.Context) error {
	if err := e.orders.CancelAll(ctx); err != nil {
		return err
	}
	return e.liquidatePositions(ctx, domain.TradeRebalance)
}

func (e *Engine) liquidatePositions(ctx context.Context, tradeType domain.TradeType) error {
	var firstErr error
	for _, pos := range e.tracker.Positions() {
		ack, err := e.gateway.CreateOrder(ctx, e.cfg.Symbol, domain.Market, domain.Sell, pos.Quantity, 0)
		if err != nil {
			e.logger.Error(ctx, err, "liquidating position", map[string]interface{}{
				"level":    pos.LevelIndex,
				"quantity": pos.Quantity,
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		price := ack.Price
		if price <= 0 {
			price = e.CurrentPrice()
		}
		fee := pos.Quantity * price * e.cfg.FeePercent / 100
		rec, err := e.tracker.RecordTrade(tradeType, domain.Sell, pos.Quantity, price, pos.LevelIndex, fee)
		if err != nil {
			e.logger.Error(ctx, err, "recording liquidation", map[string]interface{}{"level": pos.LevelIndex})
			continue
		}
		e.persistTrade(ctx, rec)
	}
	return firstErr
}

// Rebalance triggers a manual grid shift to the given center.
func (e *Engine) Rebalance(ctx context.Context, newCenter float64) (*domain.RebalanceAction, error) {
	return e.rebalancer.ExecuteRebalance(ctx, newCenter, domain.RebalanceManual, e.CurrentPrice())
}

func (e *Engine) setPrice(price float64) {
	e.mu.Lock()
	e.currentPrice = price
	e.mu.Unlock()
}

// CurrentPrice returns the last ticker price seen by the loop.
func (e *Engine) CurrentPrice() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentPrice
}

// Status assembles the operator view.
func (e *Engine) Status() Status {
	lower, upper := e.calc.Bounds()
	return Status{
		Symbol:         e.cfg.Symbol,
		CurrentPrice:   e.CurrentPrice(),
		CenterPrice:    e.calc.CenterPrice(),
		LowerBound:     lower,
		UpperBound:     upper,
		RiskLevel:      e.lastRiskLevel(),
		TradingAllowed: e.risk.IsTradingAllowed(),
		OpenOrders:     len(e.orders.OpenOrders()),
		Metrics:        e.tracker.Metrics(),
	}
}

func (e *Engine) lastRiskLevel() domain.RiskLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.riskLevel
}

// Grid exposes the calculator snapshot for display.
func (e *Engine) Grid() grid.Snapshot {
	return e.calc.Snapshot()
}

// PreviewGrid builds the ladder around price without touching the
// exchange. Used by the dry-run mode.
func (e *Engine) PreviewGrid(price float64) (grid.Snapshot, error) {
	if _, err := e.calc.Calculate(price); err != nil {
		return grid.Snapshot{}, err
	}
	return e.calc.Snapshot(), nil
}

// Trades exposes the in-memory trade log for display.
func (e *Engine) Trades() []domain.TradeRecord {
	return e.tracker.Trades()
}

// Alerts exposes the risk alert history.
func (e *Engine) Alerts() []domain.RiskAlert {
	return e.risk.Alerts()
}

// RebalanceHistory exposes the recorded grid shifts.
func (e *Engine) RebalanceHistory() []domain.RebalanceAction {
	return e.rebalancer.History()
}
