package domain

import "time"

// Snapshot is the opaque crash-recovery state handed to the persistence
// collaborator: the tracked orders, the open positions and a flat
// metrics map. The engine does not depend on how it is stored.
type Snapshot struct {
	TakenAt   time.Time          `json:"taken_at"`
	Symbol    string             `json:"symbol"`
	Orders    []Order            `json:"orders"`
	Positions []Position         `json:"positions"`
	Metrics   map[string]float64 `json:"metrics"`
}
