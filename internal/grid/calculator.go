package grid

import (
	"context"
	"fmt"
	"math"
	"sync"

	"gridPilot/internal/domain"
	"gridPilot/internal/ports"
)

// centerTolerance decides whether a computed level price coincides with
// the center price, relative to the center.
const centerTolerance = 1e-9

// Config holds the static grid parameters.
type Config struct {
	Symbol         string
	TotalCapital   float64
	NumLevels      int
	RangePercent   float64 // Full band width; half of it sits on each side
	ProfitPerLevel float64
	MinOrderSize   float64
	FeePercent     float64
}

// Calculator owns the live grid level set. Calculate fully replaces the
// set; there is no partial mutation. All level state writes go through
// the calculator so the single-writer discipline has one place to hold.
type Calculator struct {
	cfg    Config
	logger ports.Logger

	mu          sync.RWMutex
	centerPrice float64
	lowerBound  float64
	upperBound  float64
	step        float64
	levels      []*domain.GridLevel
}

// Snapshot is a read-only view of the grid for dashboards and logging.
type Snapshot struct {
	Symbol      string             `json:"symbol"`
	CenterPrice float64            `json:"center_price"`
	LowerBound  float64            `json:"lower_bound"`
	UpperBound  float64            `json:"upper_bound"`
	Step        float64            `json:"step"`
	Levels      []domain.GridLevel `json:"levels"`
}

// NewCalculator validates the configuration and returns an empty
// calculator. The level set is built by the first Calculate call.
func NewCalculator(cfg Config, logger ports.Logger) (*Calculator, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for grid calculator")
	}
	if cfg.TotalCapital <= 0 {
		return nil, fmt.Errorf("total capital %.2f must be positive: %w", cfg.TotalCapital, ports.ErrInvalidConfig)
	}
	if cfg.NumLevels < 2 {
		return nil, fmt.Errorf("num levels %d must be at least 2: %w", cfg.NumLevels, ports.ErrInvalidConfig)
	}
	if cfg.RangePercent <= 0 || cfg.RangePercent >= 100 {
		return nil, fmt.Errorf("range percent %.2f must be in (0, 100): %w", cfg.RangePercent, ports.ErrInvalidConfig)
	}
	return &Calculator{cfg: cfg, logger: logger}, nil
}

// CapitalPerLevel returns the advisory per-level allocation derived
// from the configuration.
func (c *Calculator) CapitalPerLevel() float64 {
	return c.cfg.TotalCapital / float64(c.cfg.NumLevels)
}

// Calculate builds the level set around centerPrice, replacing any
// previous set atomically. Identical center produces identical levels.
func (c *Calculator) Calculate(centerPrice float64) ([]domain.GridLevel, error) {
	if centerPrice <= 0 {
		return nil, fmt.Errorf("center price %.8f: %w", centerPrice, ports.ErrInvalidCenterPrice)
	}

	halfRange := c.cfg.RangePercent / 2
	lower := centerPrice * (1 - halfRange/100)
	upper := centerPrice * (1 + halfRange/100)
	step := (upper - lower) / float64(c.cfg.NumLevels-1)
	capitalPerLevel := c.CapitalPerLevel()

	levels := make([]*domain.GridLevel, 0, c.cfg.NumLevels)
	for i := 0; i < c.cfg.NumLevels; i++ {
		price := lower + float64(i)*step

		var side domain.LevelSide
		allocated := capitalPerLevel
		switch {
		case math.Abs(price-centerPrice) <= centerPrice*centerTolerance:
			side = domain.LevelCenter
			allocated = 0
		case price < centerPrice:
			side = domain.LevelBuy
		default:
			side = domain.LevelSell
		}

		quantity := 0.0
		if allocated > 0 {
			quantity = allocated / price
		}

		levels = append(levels, &domain.GridLevel{
			Index:            i,
			Price:            price,
			Side:             side,
			AllocatedCapital: allocated,
			Quantity:         quantity,
		})
	}

	c.mu.Lock()
	c.centerPrice = centerPrice
	c.lowerBound = lower
	c.upperBound = upper
	c.step = step
	c.levels = levels
	c.mu.Unlock()

	c.logger.Debug(context.Background(), "grid calculated", map[string]interface{}{
		"symbol": c.cfg.Symbol,
		"center": centerPrice,
		"lower":  lower,
		"upper":  upper,
		"step":   step,
		"levels": len(levels),
	})

	return c.Levels(), nil
}

// Recalculate is Calculate under its rebalance-time name: it fully
// replaces the level set for a new center.
func (c *Calculator) Recalculate(newCenter float64) ([]domain.GridLevel, error) {
	return c.Calculate(newCenter)
}

// Levels returns a copy of the current level set, ascending by price.
func (c *Calculator) Levels() []domain.GridLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.GridLevel, len(c.levels))
	for i, lv := range c.levels {
		out[i] = *lv
	}
	return out
}

// Level returns a copy of the level at index, or false when out of range.
func (c *Calculator) Level(index int) (domain.GridLevel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index < 0 || index >= len(c.levels) {
		return domain.GridLevel{}, false
	}
	return *c.levels[index], true
}

// CenterPrice returns the center the current grid was built around.
func (c *Calculator) CenterPrice() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.centerPrice
}

// Step returns the uniform spacing between adjacent levels.
func (c *Calculator) Step() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.step
}

// Bounds returns the lower and upper edge of the current band.
func (c *Calculator) Bounds() (lower, upper float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lowerBound, c.upperBound
}

// Contains reports whether price sits inside the current band.
func (c *Calculator) Contains(price float64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return price >= c.lowerBound && price <= c.upperBound
}

// DistanceFromBounds returns how far price sits outside the band, as an
// absolute amount and as a percent of the breached bound. Both are zero
// for prices inside the band.
func (c *Calculator) DistanceFromBounds(price float64) (absolute, percent float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case price > c.upperBound:
		absolute = price - c.upperBound
		percent = absolute / c.upperBound * 100
	case price < c.lowerBound:
		absolute = c.lowerBound - price
		percent = absolute / c.lowerBound * 100
	}
	return absolute, percent
}

// NearestLevel returns a copy of the level whose price is closest to
// price, or false when no grid has been calculated yet.
func (c *Calculator) NearestLevel(price float64) (domain.GridLevel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.levels) == 0 {
		return domain.GridLevel{}, false
	}
	best := c.levels[0]
	bestDist := math.Abs(price - best.Price)
	for _, lv := range c.levels[1:] {
		if d := math.Abs(price - lv.Price); d < bestDist {
			best, bestDist = lv, d
		}
	}
	return *best, true
}

// Neighbors returns the nearest BUY level strictly below price and the
// nearest SELL level strictly above it. Either may be absent.
func (c *Calculator) Neighbors(price float64) (buyBelow *domain.GridLevel, sellAbove *domain.GridLevel) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, lv := range c.levels {
		if lv.Side == domain.LevelBuy && lv.Price < price {
			cp := *lv
			buyBelow = &cp
		}
		if lv.Side == domain.LevelSell && lv.Price > price && sellAbove == nil {
			cp := *lv
			sellAbove = &cp
		}
	}
	return buyBelow, sellAbove
}

// AssignOrder records the open order occupying a level.
func (c *Calculator) AssignOrder(index int, localID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index >= 0 && index < len(c.levels) {
		c.levels[index].OrderLocalID = localID
	}
}

// ClearOrder frees a level after its order reached a terminal state.
func (c *Calculator) ClearOrder(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index >= 0 && index < len(c.levels) {
		c.levels[index].OrderLocalID = ""
	}
}

// AddFill accumulates filled quantity on a level.
func (c *Calculator) AddFill(index int, quantity float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index >= 0 && index < len(c.levels) {
		c.levels[index].FilledQuantity += quantity
	}
}

// Snapshot returns the full grid state for dashboards and logging.
func (c *Calculator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	levels := make([]domain.GridLevel, len(c.levels))
	for i, lv := range c.levels {
		levels[i] = *lv
	}
	return Snapshot{
		Symbol:      c.cfg.Symbol,
		CenterPrice: c.centerPrice,
		LowerBound:  c.lowerBound,
		UpperBound:  c.upperBound,
		Step:        c.step,
		Levels:      levels,
	}
}
