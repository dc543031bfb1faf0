package rebalance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gridPilot/internal/domain"
	"gridPilot/internal/grid"
	"gridPilot/internal/ports"
)

// Config tunes when a grid shift may happen.
type Config struct {
	MarginPercent float64       // distance beyond a bound, as % of center, before a shift triggers
	MinInterval   time.Duration // cooldown measured from the last completed shift
}

func (c Config) validate() error {
	if c.MarginPercent < 0 {
		return fmt.Errorf("rebalance margin percent %.4f must not be negative: %w", c.MarginPercent, ports.ErrInvalidConfig)
	}
	if c.MinInterval < 0 {
		return fmt.Errorf("rebalance min interval %s must not be negative: %w", c.MinInterval, ports.ErrInvalidConfig)
	}
	return nil
}

// Recommendation is the read-only verdict of ShouldRebalance.
type Recommendation struct {
	Rebalance bool
	Reason    domain.RebalanceReason
	Detail    string
}

// Rebalancer decides when the grid has been left behind by the market
// and shifts it to a new center. It owns the cooldown and the
// append-only action history; the actual order churn is delegated to
// the hooks installed by the engine.
type Rebalancer struct {
	cfg    Config
	calc   *grid.Calculator
	logger ports.Logger
	now    func() time.Time

	// cancelOrders and seedOrders run while a shift is in progress.
	// cancelOrders clears the old book; seedOrders plants the new one.
	cancelOrders func(ctx context.Context) error
	seedOrders   func(ctx context.Context) error

	mu            sync.RWMutex
	lastCompleted time.Time
	history       []*domain.RebalanceAction
	onRebalance   []func(*domain.RebalanceAction)
}

// NewRebalancer wires the rebalancer to the grid calculator and the
// engine's order hooks.
func NewRebalancer(cfg Config, calc *grid.Calculator, cancelOrders, seedOrders func(ctx context.Context) error, logger ports.Logger) (*Rebalancer, error) {
	if calc == nil {
		return nil, fmt.Errorf("grid calculator is required for rebalancer")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for rebalancer")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cancelOrders == nil {
		cancelOrders = func(context.Context) error { return nil }
	}
	if seedOrders == nil {
		seedOrders = func(context.Context) error { return nil }
	}
	return &Rebalancer{
		cfg:          cfg,
		calc:         calc,
		logger:       logger,
		now:          time.Now,
		cancelOrders: cancelOrders,
		seedOrders:   seedOrders,
	}, nil
}

// OnRebalance registers a callback fired once per action reaching a
// terminal state.
func (r *Rebalancer) OnRebalance(cb func(*domain.RebalanceAction)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRebalance = append(r.onRebalance, cb)
}

// ShouldRebalance reports whether the price has escaped the grid by
// more than the margin and the cooldown has elapsed. It never mutates
// state, so it is safe to call for status display.
func (r *Rebalancer) ShouldRebalance(price float64) Recommendation {
	lower, upper := r.calc.Bounds()
	center := r.calc.CenterPrice()
	if center <= 0 {
		return Recommendation{Detail: "grid not calculated yet"}
	}
	margin := center * r.cfg.MarginPercent / 100

	var reason domain.RebalanceReason
	switch {
	case price > upper+margin:
		reason = domain.RebalancePriceAboveGrid
	case price < lower-margin:
		reason = domain.RebalancePriceBelowGrid
	default:
		return Recommendation{Detail: "price inside grid band"}
	}

	r.mu.RLock()
	last := r.lastCompleted
	r.mu.RUnlock()
	if !last.IsZero() {
		if elapsed := r.now().Sub(last); elapsed < r.cfg.MinInterval {
			return Recommendation{
				Reason: reason,
				Detail: fmt.Sprintf("cooldown active, %s of %s elapsed", elapsed.Round(time.Second), r.cfg.MinInterval),
			}
		}
	}
	return Recommendation{Rebalance: true, Reason: reason, Detail: "price outside grid band"}
}

// CheckAndRebalance evaluates the trigger and, when due, shifts the
// grid to re-center on the current price. Returns the completed action
// or nil when no shift was needed.
func (r *Rebalancer) CheckAndRebalance(ctx context.Context, price float64) (*domain.RebalanceAction, error) {
	rec := r.ShouldRebalance(price)
	if !rec.Rebalance {
		return nil, nil
	}
	return r.ExecuteRebalance(ctx, price, rec.Reason, price)
}

// ExecuteRebalance shifts the grid to newCenter: cancel the working
// ladder, recalculate levels, seed the new ladder. The action is
// recorded whether it completes or fails; only a completed shift
// advances the cooldown.
func (r *Rebalancer) ExecuteRebalance(ctx context.Context, newCenter float64, reason domain.RebalanceReason, triggerPrice float64) (*domain.RebalanceAction, error) {
	oldCenter := r.calc.CenterPrice()
	action := &domain.RebalanceAction{
		ID:             uuid.NewString(),
		Reason:         reason,
		OldCenterPrice: oldCenter,
		NewCenterPrice: newCenter,
		TriggerPrice:   triggerPrice,
		Status:         domain.RebalancePending,
		StartedAt:      r.now().UTC(),
	}
	if oldCenter > 0 {
		action.PriceChangePercent = (newCenter - oldCenter) / oldCenter * 100
	}

	r.mu.Lock()
	r.history = append(r.history, action)
	action.Status = domain.RebalanceInProgress
	r.mu.Unlock()

	r.logger.Info(ctx, "rebalance started", map[string]interface{}{
		"action_id":  action.ID,
		"reason":     string(reason),
		"old_center": oldCenter,
		"new_center": newCenter,
	})

	err := r.run(ctx, newCenter)

	r.mu.Lock()
	action.CompletedAt = r.now().UTC()
	if err != nil {
		action.Status = domain.RebalanceFailed
		action.Error = err.Error()
	} else {
		action.Status = domain.RebalanceCompleted
		r.lastCompleted = r.now()
	}
	callbacks := make([]func(*domain.RebalanceAction), len(r.onRebalance))
	copy(callbacks, r.onRebalance)
	cp := *action
	r.mu.Unlock()

	if err != nil {
		r.logger.Error(ctx, err, "rebalance failed", map[string]interface{}{
			"action_id": action.ID,
		})
	} else {
		r.logger.Info(ctx, "rebalance completed", map[string]interface{}{
			"action_id":      action.ID,
			"change_percent": action.PriceChangePercent,
		})
	}
	for _, cb := range callbacks {
		cb(&cp)
	}
	if err != nil {
		return &cp, fmt.Errorf("rebalancing grid to center %.2f: %w", newCenter, err)
	}
	return &cp, nil
}

func (r *Rebalancer) run(ctx context.Context, newCenter float64) error {
	if err := r.cancelOrders(ctx); err != nil {
		return fmt.Errorf("clearing old book: %w", err)
	}
	if _, err := r.calc.Recalculate(newCenter); err != nil {
		return fmt.Errorf("recalculating grid: %w", err)
	}
	if err := r.seedOrders(ctx); err != nil {
		return fmt.Errorf("seeding new ladder: %w", err)
	}
	return nil
}

// History returns a copy of all recorded actions in start order.
func (r *Rebalancer) History() []domain.RebalanceAction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.RebalanceAction, len(r.history))
	for i, a := range r.history {
		out[i] = *a
	}
	return out
}

// LastCompleted returns the time of the most recent completed shift.
func (r *Rebalancer) LastCompleted() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastCompleted
}

// RestoreCooldown seeds the cooldown clock from persisted state so a
// restart cannot bypass the minimum interval.
func (r *Rebalancer) RestoreCooldown(lastCompleted time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCompleted = lastCompleted
}
