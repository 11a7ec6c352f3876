package ports

import (
	"context"

	"github.com/alejandrodnm/beliefbot/internal/domain"
)

// Ledger is the append-only audit log. There is deliberately no update or
// delete operation.
type Ledger interface {
	// Append assigns an ID and timestamp to the event and writes one record.
	// Safe to call concurrently.
	Append(ctx context.Context, typ domain.EventType, payload any, meta domain.Meta) (domain.Event, error)

	// Read returns events in append order. Records that cannot be parsed are
	// skipped with a warning.
	Read(ctx context.Context, opts domain.ReadOptions) ([]domain.Event, error)

	Close() error
}
