package ports

import (
	"context"
	"time"

	"gridPilot/internal/domain"
)

// OrderAck is the exchange's authoritative view of an order, returned on
// placement and on every re-query.
type OrderAck struct {
	ExchangeID       int64              // Exchange's order ID
	Symbol           string             // Symbol for the order
	Side             domain.OrderSide   // BUY or SELL
	Type             domain.OrderType   // LIMIT or MARKET
	Price            float64            // Limit price (0 for market orders)
	Quantity         float64            // Original quantity requested
	ExecutedQuantity float64            // Quantity filled so far
	Status           domain.OrderStatus // Mapped to the local lifecycle states
	Timestamp        time.Time          // Exchange-reported order time
}

// Balance holds the live funds for one asset.
type Balance struct {
	Asset  string
	Free   float64 // Available for new orders
	Locked float64 // Tied up in open orders
}

// ExchangeGateway defines the only channel through which the engine
// talks to an exchange. Implementations own all wire details; the core
// never sees them. All failures are wrapped with the sentinel errors in
// this package.
type ExchangeGateway interface {
	// CreateOrder places an order and returns the exchange acknowledgment.
	// On error no order exists as far as the caller is concerned.
	CreateOrder(ctx context.Context, symbol string, orderType domain.OrderType, side domain.OrderSide, quantity, price float64) (*OrderAck, error)

	// FetchOrder re-queries the authoritative state of an order.
	FetchOrder(ctx context.Context, symbol string, exchangeID int64) (*OrderAck, error)

	// FetchOpenOrders lists all orders currently working for the symbol.
	FetchOpenOrders(ctx context.Context, symbol string) ([]*OrderAck, error)

	// FetchBalance retrieves the live balance for an asset (e.g. "USDT").
	FetchBalance(ctx context.Context, asset string) (*Balance, error)

	// FetchTicker retrieves the last traded price for the symbol.
	FetchTicker(ctx context.Context, symbol string) (float64, error)

	// CancelOrder requests cancellation. A returned error does NOT mean
	// the order is still open; callers must re-verify with FetchOrder.
	CancelOrder(ctx context.Context, symbol string, exchangeID int64) error
}
