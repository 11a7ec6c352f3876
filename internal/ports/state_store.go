package ports

import (
	"context"

	"github.com/alejandrodnm/beliefbot/internal/domain"
)

// StateStore persists the derived state document of a single wallet.
// It assumes one logical writer; Save must not run concurrently with itself.
type StateStore interface {
	// Load returns nil, nil when no state has been written yet.
	Load(ctx context.Context) (*domain.State, error)

	// Ensure returns the existing state, creating it on first use. It fails
	// with *domain.ConfigurationError if the stored wallet differs.
	Ensure(ctx context.Context, wallet string) (*domain.State, error)

	// Save atomically replaces the stored document.
	Save(ctx context.Context, st *domain.State) error
}
