package domain

import "time"

// Order is the local record of an order acknowledged by the exchange.
// Orders are created only after a successful exchange acknowledgment,
// never invented client-side.
type Order struct {
	LocalID        string      // Engine-assigned ID, stable across restarts
	ExchangeID     int64       // Exchange's order ID
	Symbol         string      // Trading symbol (e.g. "BTCUSDT")
	Side           OrderSide   // BUY or SELL
	Type           OrderType   // LIMIT or MARKET
	Price          float64     // Limit price (0 for market orders)
	Quantity       float64     // Requested base quantity
	FilledQuantity float64     // Base quantity executed so far
	LevelIndex     int         // Grid level this order serves (-1 when none)
	Status         OrderStatus // open, filled, canceled, error
	CreatedAt      time.Time   // Time of the exchange acknowledgment
}

// IsOpen reports whether the order is still working on the exchange.
func (o *Order) IsOpen() bool {
	return o.Status == OrderOpen
}
