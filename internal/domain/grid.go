package domain

// LevelSide classifies a grid level relative to the center price.
// A CENTER level exists only when the center price lands exactly on a
// grid line; it carries no capital and no orders.
type LevelSide string

const (
	LevelBuy    LevelSide = "BUY"
	LevelSell   LevelSide = "SELL"
	LevelCenter LevelSide = "CENTER"
)

// GridLevel is one rung of the capital ladder: a fixed price, side and
// capital allocation, plus the mutable fill state maintained while the
// level is live.
type GridLevel struct {
	Index            int       // Position in the ascending level list
	Price            float64   // Fixed price of this rung
	Side             LevelSide // BUY below center, SELL above, CENTER at it
	AllocatedCapital float64   // Advisory allocation in quote currency (0 for CENTER)
	Quantity         float64   // AllocatedCapital / Price (0 for CENTER)

	// Mutable fill state, owned by the single control-loop writer.
	FilledQuantity float64 // Base quantity filled at this level so far
	OrderLocalID   string  // Local ID of the open order occupying this level ("" when free)
}
