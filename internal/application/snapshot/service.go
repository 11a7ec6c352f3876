package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/beliefbot/internal/application/valuation"
	"github.com/alejandrodnm/beliefbot/internal/domain"
	"github.com/alejandrodnm/beliefbot/internal/ports"
)

// Result es lo que produce Record: la captura y su valoración.
type Result struct {
	Snapshot domain.Snapshot
	NAV      *domain.NAVInfo // nil when cash is unknown
}

// Service captura saldo, posiciones y precios y los vuelca en el ledger y en
// el estado derivado.
type Service struct {
	markets ports.MarketReader
	balance ports.BalanceProvider
	valuer  *valuation.Valuer
	ledger  ports.Ledger
	store   ports.StateStore
	now     func() time.Time
	workers int
}

// defaultWorkers acota las llamadas concurrentes a la API por snapshot.
const defaultWorkers = 4

// New crea el servicio de snapshots.
func New(
	markets ports.MarketReader,
	balance ports.BalanceProvider,
	valuer *valuation.Valuer,
	ledger ports.Ledger,
	store ports.StateStore,
) *Service {
	return &Service{
		markets: markets,
		balance: balance,
		valuer:  valuer,
		ledger:  ledger,
		store:   store,
		now:     time.Now,
		workers: defaultWorkers,
	}
}

// WithClock reemplaza la fuente de tiempo. Para tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithWorkers fija cuántos mercados se piden en paralelo (mínimo 1).
func (s *Service) WithWorkers(n int) *Service {
	s.workers = max(n, 1)
	return s
}

// Capture pide cada mercado por separado. Una llamada fallida solo deja a nil
// su campo; el snapshot en sí nunca falla.
func (s *Service) Capture(ctx context.Context, marketIDs []string, wallet string) domain.Snapshot {
	snap := domain.Snapshot{
		TS:            s.now().UTC(),
		WalletAddress: wallet,
		Markets:       s.captureAll(ctx, marketIDs, wallet),
	}

	bal, err := s.balance.Balance(ctx, wallet)
	if err != nil {
		slog.Warn("snapshot: balance fetch failed, cash unknown", "wallet", wallet, "err", err)
	} else {
		snap.CashBalance = &bal
	}
	return snap
}

// captureAll reparte los mercados entre un pool de workers. El resultado
// conserva el orden de marketIDs.
func (s *Service) captureAll(ctx context.Context, marketIDs []string, wallet string) []domain.MarketSnapshot {
	out := make([]domain.MarketSnapshot, len(marketIDs))

	workCh := make(chan int, len(marketIDs))
	for i := range marketIDs {
		workCh <- i
	}
	close(workCh)

	var wg sync.WaitGroup
	for range min(s.workers, len(marketIDs)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range workCh {
				out[i] = s.captureMarket(ctx, marketIDs[i], wallet)
			}
		}()
	}
	wg.Wait()
	return out
}

func (s *Service) captureMarket(ctx context.Context, marketID, wallet string) domain.MarketSnapshot {
	m := domain.MarketSnapshot{MarketID: marketID}

	if pos, err := s.markets.Position(ctx, marketID, wallet); err != nil {
		slog.Warn("snapshot: position fetch failed", "market", marketID, "err", err)
	} else {
		m.Shares = pos.Shares
	}

	if prices, err := s.markets.Prices(ctx, marketID); err != nil {
		slog.Warn("snapshot: prices fetch failed", "market", marketID, "err", err)
	} else {
		m.Prices = make([]float64, len(prices))
		for i, p := range prices {
			m.Prices[i] = p.Price
		}
	}

	if meta, err := s.markets.MarketMeta(ctx, marketID); err != nil {
		slog.Warn("snapshot: metadata fetch failed", "market", marketID, "err", err)
	} else {
		if meta.Title != "" {
			title := meta.Title
			m.Title = &title
		}
		m.AnswerTitles = meta.Outcomes
	}
	return m
}

// Record captura, valora con impact pricing, escribe el evento snapshot y
// actualiza el estado derivado.
func (s *Service) Record(ctx context.Context, marketIDs []string, wallet string) (Result, error) {
	st, err := s.store.Ensure(ctx, wallet)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot.Record: ensure state: %w", err)
	}

	snap := s.Capture(ctx, marketIDs, wallet)
	nav := s.valuer.ComputeNAV(ctx, snap, valuation.Options{UseImpactPricing: true})

	if _, err := s.ledger.Append(ctx, domain.EventSnapshot,
		domain.SnapshotRecord{Snapshot: snap, NAVInfo: nav},
		domain.Meta{"walletAddress": wallet, "marketIds": marketIDs},
	); err != nil {
		return Result{}, fmt.Errorf("snapshot.Record: append event: %w", err)
	}

	ts := snap.TS
	st.Stats.LastSnapshotTS = &ts
	if nav != nil {
		st.RecordNAV(snap.TS, *nav)
		refreshPositions(st, snap, nav)
	} else {
		slog.Warn("snapshot: cash unknown, NAV not recorded", "wallet", wallet)
	}
	st.RollDay(snap.TS)

	if err := s.store.Save(ctx, st); err != nil {
		return Result{}, fmt.Errorf("snapshot.Record: save state: %w", err)
	}

	slog.Debug("snapshot: recorded", "wallet", wallet, "markets", len(marketIDs), "nav_known", nav != nil)
	return Result{Snapshot: snap, NAV: nav}, nil
}

// refreshPositions actualiza la cache por mercado; los precios anteriores
// pasan a PrevPrices.
func refreshPositions(st *domain.State, snap domain.Snapshot, nav *domain.NAVInfo) {
	if st.Positions == nil {
		st.Positions = map[string]domain.PositionCache{}
	}
	for _, m := range snap.Markets {
		prev, hadPrev := st.Positions[m.MarketID]

		prices := m.Prices
		if prices == nil {
			prices = []float64{}
		}

		entry := domain.PositionCache{
			Title:           m.Title,
			Shares:          m.Shares,
			LastPrices:      prices,
			AnswerTitles:    m.AnswerTitles,
			ValuationMethod: domain.MethodPrices,
			LastTS:          snap.TS,
		}
		if hadPrev {
			entry.PrevPrices = prev.LastPrices
			if entry.AnswerTitles == nil {
				entry.AnswerTitles = prev.AnswerTitles
			}
		}

		if mv, ok := nav.MarketValues[m.MarketID]; ok {
			entry.LastValue = mv.Value
			entry.ValuationMethod = mv.Method
		} else if m.Shares != nil {
			entry.LastValue = domain.DotPrefix(m.Shares, prices)
		}

		st.Positions[m.MarketID] = entry
	}
}
