package valuation

import (
	"context"
	"log/slog"
	"math"

	"github.com/alejandrodnm/beliefbot/internal/domain"
	"github.com/alejandrodnm/beliefbot/internal/ports"
)

// Options controla cómo se valoran las posiciones.
type Options struct {
	// UseImpactPricing valora cada posición no nula simulando su liquidación
	// completa con el cost quoter, en vez de precio × shares.
	UseImpactPricing bool
}

// Valuer calcula el NAV a partir de snapshots.
type Valuer struct {
	quoter ports.CostQuoter
}

// New crea un Valuer. quoter puede ser nil si nunca se usa impact pricing.
func New(quoter ports.CostQuoter) *Valuer {
	return &Valuer{quoter: quoter}
}

// ComputeNAV valora snap. Devuelve nil si el saldo de cash es desconocido:
// eso es "todavía no se sabe", no cero. Un error de pricing nunca lo hace
// fallar; ese mercado cae a precio × shares.
func (v *Valuer) ComputeNAV(ctx context.Context, snap domain.Snapshot, opts Options) *domain.NAVInfo {
	if snap.CashBalance == nil {
		return nil
	}

	info := &domain.NAVInfo{
		Cash:         *snap.CashBalance,
		MarketValues: make(map[string]domain.MarketValue, len(snap.Markets)),
	}

	for _, m := range snap.Markets {
		mv := v.valueMarket(ctx, m, opts)
		info.PositionsValue += mv.Value
		info.MarketValues[m.MarketID] = mv
	}

	info.NAV = info.Cash + info.PositionsValue
	return info
}

func (v *Valuer) valueMarket(ctx context.Context, m domain.MarketSnapshot, opts Options) domain.MarketValue {
	base := 0.0
	if m.Shares != nil && m.Prices != nil {
		base = domain.DotPrefix(m.Shares, m.Prices)
	}
	mv := domain.MarketValue{Value: base, Method: domain.MethodPrices, BaseValue: base}

	if !opts.UseImpactPricing || v.quoter == nil || !hasExposure(m.Shares) {
		return mv
	}

	liquidation := make([]float64, len(m.Shares))
	for i, s := range m.Shares {
		if s != 0 {
			liquidation[i] = -s
		}
	}

	cost, err := v.quoter.TradeCost(ctx, m.MarketID, liquidation)
	if err != nil {
		slog.Warn("valuation: liquidation quote failed, using prices",
			"market", m.MarketID, "err", err)
		return mv
	}
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		slog.Warn("valuation: non-finite liquidation quote, using prices",
			"market", m.MarketID, "cost", cost)
		return mv
	}

	// Vender devuelve proceeds: el coste viene negativo
	mv.Value = -cost
	mv.Method = domain.MethodImpact
	return mv
}

func hasExposure(shares []float64) bool {
	for _, s := range shares {
		if math.Abs(s) > 0 {
			return true
		}
	}
	return false
}
