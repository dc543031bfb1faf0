package domain

import "time"

// RebalanceReason indicates why a grid shift was initiated.
type RebalanceReason string

const (
	RebalancePriceAboveGrid RebalanceReason = "PRICE_ABOVE_GRID"
	RebalancePriceBelowGrid RebalanceReason = "PRICE_BELOW_GRID"
	RebalanceManual         RebalanceReason = "MANUAL"

	// RebalanceScheduled is reserved in the persisted history schema
	// for timer-driven shifts; nothing in the engine produces it yet.
	RebalanceScheduled RebalanceReason = "SCHEDULED"
)

// RebalanceStatus is the state of a rebalance action.
// Transitions: pending -> in-progress -> completed | failed (terminal).
type RebalanceStatus string

const (
	RebalancePending    RebalanceStatus = "pending"
	RebalanceInProgress RebalanceStatus = "in-progress"
	RebalanceCompleted  RebalanceStatus = "completed"
	RebalanceFailed     RebalanceStatus = "failed"
)

// RebalanceAction records one grid shift in the append-only history.
type RebalanceAction struct {
	ID                 string          // Unique action ID
	Reason             RebalanceReason // What triggered the shift
	OldCenterPrice     float64         // Center before the shift
	NewCenterPrice     float64         // Center after the shift
	TriggerPrice       float64         // Market price that triggered it
	PriceChangePercent float64         // (new-old)/old * 100
	Status             RebalanceStatus // Terminal states: completed, failed
	Error              string          // Failure detail when Status is failed
	StartedAt          time.Time       // Time the action was created (UTC)
	CompletedAt        time.Time       // Time it reached a terminal state
}
