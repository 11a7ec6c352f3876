package belief

import (
	"context"
	"fmt"
	"net/url"

	"github.com/alejandrodnm/beliefbot/internal/domain"
)

func (c *Client) marketURL(marketID, suffix string) string {
	return c.base + "/markets/" + url.PathEscape(marketID) + suffix
}

// Position devuelve el vector de shares de la wallet en un mercado (y el saldo
// USDC, si la API lo incluye).
func (c *Client) Position(ctx context.Context, marketID, wallet string) (domain.Position, error) {
	u := c.marketURL(marketID, "/position") + "?wallet=" + url.QueryEscape(wallet)
	raw, err := c.get(ctx, u)
	if err != nil {
		return domain.Position{}, fmt.Errorf("belief.Position %s: %w", marketID, err)
	}
	pos, err := parsePosition(raw)
	if err != nil {
		return domain.Position{}, fmt.Errorf("belief.Position %s: %w", marketID, err)
	}
	return pos, nil
}

// Prices devuelve el precio actual de cada outcome.
func (c *Client) Prices(ctx context.Context, marketID string) ([]domain.OutcomePrice, error) {
	raw, err := c.get(ctx, c.marketURL(marketID, "/prices"))
	if err != nil {
		return nil, fmt.Errorf("belief.Prices %s: %w", marketID, err)
	}
	prices, err := parsePrices(raw)
	if err != nil {
		return nil, fmt.Errorf("belief.Prices %s: %w", marketID, err)
	}
	return prices, nil
}

// MarketMeta devuelve el título y los nombres de los outcomes.
func (c *Client) MarketMeta(ctx context.Context, marketID string) (domain.MarketMeta, error) {
	raw, err := c.get(ctx, c.marketURL(marketID, ""))
	if err != nil {
		return domain.MarketMeta{}, fmt.Errorf("belief.MarketMeta %s: %w", marketID, err)
	}
	meta, err := parseMarketMeta(raw)
	if err != nil {
		return domain.MarketMeta{}, fmt.Errorf("belief.MarketMeta %s: %w", marketID, err)
	}
	return meta, nil
}

// TradeCost cotiza el coste de delta con impacto. Negativo = proceeds.
func (c *Client) TradeCost(ctx context.Context, marketID string, delta []float64) (float64, error) {
	raw, err := c.post(ctx, c.marketURL(marketID, "/cost"), costRequest{DeltaShares: delta})
	if err != nil {
		return 0, fmt.Errorf("belief.TradeCost %s: %w", marketID, err)
	}
	cost, err := parseCost(raw)
	if err != nil {
		return 0, fmt.Errorf("belief.TradeCost %s: %w", marketID, err)
	}
	return cost, nil
}

// BuildOrder pide a la API la transacción de la orden sin firmar.
func (c *Client) BuildOrder(ctx context.Context, marketID, wallet string, delta []float64) (domain.UnsignedTx, error) {
	raw, err := c.post(ctx, c.marketURL(marketID, "/orders/build"), buildRequest{
		Wallet:      wallet,
		DeltaShares: delta,
	})
	if err != nil {
		return domain.UnsignedTx{}, fmt.Errorf("belief.BuildOrder %s: %w", marketID, err)
	}
	payload, err := parseUnsignedTx(raw)
	if err != nil {
		return domain.UnsignedTx{}, fmt.Errorf("belief.BuildOrder %s: %w", marketID, err)
	}
	return domain.UnsignedTx{MarketID: marketID, Payload: payload}, nil
}

// SubmitOrder envía una orden firmada. Nunca se reintenta: un timeout aquí
// deja la orden en estado desconocido y hay que reconciliar con la cadena.
func (c *Client) SubmitOrder(ctx context.Context, tx domain.SignedTx) (domain.SubmitResult, error) {
	raw, err := c.postOnce(ctx, c.base+"/transactions", newSubmitRequest(tx))
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("belief.SubmitOrder: %w", err)
	}
	res, err := parseSubmitResult(raw)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("belief.SubmitOrder: %w", err)
	}
	return res, nil
}
