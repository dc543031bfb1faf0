package ports

import (
	"context"

	"gridPilot/internal/domain"
)

// StateRepository is the persistence collaborator: an opaque snapshot
// for crash recovery plus the durable trade log. The core does not own
// the storage schema.
type StateRepository interface {
	// SaveSnapshot stores the latest engine snapshot, replacing any
	// previous one.
	SaveSnapshot(ctx context.Context, snap *domain.Snapshot) error

	// LoadSnapshot retrieves the most recent snapshot.
	// Returns nil, nil when none has been saved yet.
	LoadSnapshot(ctx context.Context) (*domain.Snapshot, error)

	// AppendTrade persists one trade record and returns its assigned ID.
	AppendTrade(ctx context.Context, trade *domain.TradeRecord) (int64, error)

	// FindTrades retrieves the most recent trade records, oldest first,
	// up to limit (0 means all).
	FindTrades(ctx context.Context, limit int) ([]*domain.TradeRecord, error)
}
