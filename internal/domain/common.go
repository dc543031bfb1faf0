package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderType represents the execution type of an order.
type OrderType string

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

// OrderStatus represents the lifecycle state of a tracked order.
type OrderStatus string

const (
	OrderOpen     OrderStatus = "open"
	OrderFilled   OrderStatus = "filled"
	OrderCanceled OrderStatus = "canceled"
	OrderError    OrderStatus = "error"
)

// TradeType classifies how a trade record came to exist.
type TradeType string

const (
	TradeGridBuy        TradeType = "GRID_BUY"
	TradeGridSell       TradeType = "GRID_SELL"
	TradeRebalance      TradeType = "REBALANCE"
	TradeEmergencyClose TradeType = "EMERGENCY_CLOSE"
)
