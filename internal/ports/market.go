package ports

import (
	"context"

	"github.com/alejandrodnm/beliefbot/internal/domain"
)

// MarketReader reads positions, prices and metadata of belief markets.
type MarketReader interface {
	Position(ctx context.Context, marketID, wallet string) (domain.Position, error)
	Prices(ctx context.Context, marketID string) ([]domain.OutcomePrice, error)
	MarketMeta(ctx context.Context, marketID string) (domain.MarketMeta, error)
}

// CostQuoter quotes the impact-aware USDC cost of changing a position by
// delta shares. Negative cost means proceeds.
type CostQuoter interface {
	TradeCost(ctx context.Context, marketID string, delta []float64) (float64, error)
}

// OrderGateway builds and submits order transactions.
type OrderGateway interface {
	BuildOrder(ctx context.Context, marketID, wallet string, delta []float64) (domain.UnsignedTx, error)

	// SubmitOrder is the only irreversible call in the trade protocol. It is
	// never retried.
	SubmitOrder(ctx context.Context, tx domain.SignedTx) (domain.SubmitResult, error)
}

// MarketProvider is everything the engine needs from the market API.
type MarketProvider interface {
	MarketReader
	CostQuoter
	OrderGateway
}

// BalanceProvider returns the settlement-currency (USDC) balance of a wallet.
type BalanceProvider interface {
	Balance(ctx context.Context, wallet string) (float64, error)
}

// Signer signs order transactions with the wallet key.
type Signer interface {
	Sign(ctx context.Context, tx domain.UnsignedTx) (domain.SignedTx, error)
}
