package domain

import "time"

// Position is the open inventory held against one grid level. It is
// opened on the first fill at the level and removed once offsetting
// fills fully cancel the quantity.
type Position struct {
	LevelIndex   int       // Grid level this position belongs to
	Quantity     float64   // Base quantity currently held
	EntryPrice   float64   // Volume-weighted entry price
	CurrentPrice float64   // Last observed market price
	EntryTime    time.Time // Time the position was opened (UTC)
}

// MarketValue returns the current value of the position in quote currency.
func (p *Position) MarketValue() float64 {
	return p.Quantity * p.CurrentPrice
}

// CostBasis returns what was paid for the position in quote currency.
func (p *Position) CostBasis() float64 {
	return p.Quantity * p.EntryPrice
}

// UnrealizedPnL returns the paper profit or loss at the current price.
func (p *Position) UnrealizedPnL() float64 {
	return p.MarketValue() - p.CostBasis()
}
