package domain

import "time"

// TradeRecord is one entry of the append-only trade log. Records are
// never edited after creation; corrections happen by appending new
// records.
type TradeRecord struct {
	ID         int64     // Sequence number within the log
	Type       TradeType // GRID_BUY, GRID_SELL, REBALANCE, EMERGENCY_CLOSE
	Side       OrderSide // BUY or SELL
	Quantity   float64   // Base quantity traded
	Price      float64   // Execution price
	LevelIndex int       // Grid level the fill belongs to
	Fee        float64   // Fee charged on this trade, in quote currency
	Profit     float64   // Realized profit, set only on closing trades
	Closing    bool      // True when this trade closed (part of) a position
	ExecutedAt time.Time // Exchange-reported execution time (UTC)
}
