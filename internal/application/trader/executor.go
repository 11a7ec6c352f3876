package trader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alejandrodnm/beliefbot/internal/application/snapshot"
	"github.com/alejandrodnm/beliefbot/internal/domain"
	"github.com/alejandrodnm/beliefbot/internal/ports"
)

// OutcomeStatus indica qué pasó después de enviar la orden.
type OutcomeStatus string

const (
	// StatusSettled: orden enviada y toda la contabilidad completada.
	StatusSettled OutcomeStatus = "settled"
	// StatusBookkeepingIncomplete: orden enviada, pero falló el snapshot
	// posterior, el trade_delta o la actualización del estado. El trade es
	// real; reconciliar desde el ledger.
	StatusBookkeepingIncomplete OutcomeStatus = "bookkeeping_incomplete"
)

// Request describe un trade.
type Request struct {
	WalletAddress string
	MarketID      string
	DeltaShares   []float64
	Reason        string

	MaxCost       *float64 // overrides risk.maxCostUsdc
	CooldownSec   *float64 // overrides risk.cooldownSec
	MarketsForNAV []string // extra markets captured around the trade
}

// Outcome se devuelve siempre que la orden llegó al mercado.
type Outcome struct {
	Status       OutcomeStatus
	Result       domain.SubmitResult
	Before       snapshot.Result
	After        snapshot.Result
	Delta        domain.TradeDelta
	ExpectedCost float64

	// BookkeepingErrors lista los pasos best effort que fallaron tras el envío.
	BookkeepingErrors []error
}

// Settled indica si toda la contabilidad se completó.
func (o *Outcome) Settled() bool { return o.Status == StatusSettled }

// Executor ejecuta el protocolo de trade con guards para una wallet. Las
// llamadas a Execute se serializan: un Executor por wallet.
type Executor struct {
	markets ports.MarketProvider
	signer  ports.Signer
	snaps   *snapshot.Service
	ledger  ports.Ledger
	store   ports.StateStore
	now     func() time.Time

	mu sync.Mutex
}

// New crea el ejecutor de trades.
func New(
	markets ports.MarketProvider,
	signer ports.Signer,
	snaps *snapshot.Service,
	ledger ports.Ledger,
	store ports.StateStore,
) *Executor {
	return &Executor{
		markets: markets,
		signer:  signer,
		snaps:   snaps,
		ledger:  ledger,
		store:   store,
		now:     time.Now,
	}
}

// WithClock reemplaza la fuente de tiempo. Para tests.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// State devuelve el estado de la wallet, creándolo si no existe.
func (e *Executor) State(ctx context.Context, wallet string) (*domain.State, error) {
	st, err := e.store.Ensure(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("trader.State: %w", err)
	}
	return st, nil
}

// Execute ejecuta un trade: guards → snapshot antes → quote → cost guard →
// intent → build/sign/submit → snapshot después → delta → stats.
//
// Un error no nil significa que no se envió ninguna orden. Una vez que
// SubmitOrder devuelve OK el trade es real: los fallos posteriores se loguean
// y se adjuntan al Outcome, nunca se devuelven.
func (e *Executor) Execute(ctx context.Context, req Request) (*Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if req.MarketID == "" {
		return nil, errors.New("trader.Execute: market id required")
	}
	if len(req.DeltaShares) == 0 {
		return nil, errors.New("trader.Execute: delta shares required")
	}
	if req.Reason == "" {
		req.Reason = "autonomous"
	}

	// 1. estado + rollover diario
	st, err := e.store.Ensure(ctx, req.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("trader.Execute: ensure state: %w", err)
	}
	wallet := st.WalletAddress
	now := e.now()
	st.RollDay(now)

	// 2-3. guards sin efectos sobre el estado
	if err := checkRateLimits(st, req, now); err != nil {
		e.reject(ctx, wallet, req, err)
		return nil, fmt.Errorf("trader.Execute: %w", err)
	}

	// 4. snapshot antes
	markets := navMarkets(req)
	before, err := e.snaps.Record(ctx, markets, wallet)
	if err != nil {
		return nil, fmt.Errorf("trader.Execute: before snapshot: %w", err)
	}

	// 5. quote
	expectedCost, err := e.markets.TradeCost(ctx, req.MarketID, req.DeltaShares)
	if err != nil {
		e.reject(ctx, wallet, req, fmt.Errorf("quote failed: %w", err))
		return nil, fmt.Errorf("trader.Execute: quote: %w", err)
	}
	if math.IsNaN(expectedCost) || math.IsInf(expectedCost, 0) {
		qErr := fmt.Errorf("quote not finite: %v", expectedCost)
		e.reject(ctx, wallet, req, qErr)
		return nil, fmt.Errorf("trader.Execute: %w", qErr)
	}

	// 6. cost guard
	if maxCost, ok := costLimit(st, req); ok && expectedCost > maxCost {
		cgErr := &domain.CostGuardError{ExpectedCost: expectedCost, MaxCost: maxCost}
		slog.Info("trader: blocked by cost guard", "market", req.MarketID,
			"expected_cost", expectedCost, "max_cost", maxCost)
		if err := e.appendIntent(ctx, wallet, req, expectedCost, &maxCost); err != nil {
			return nil, fmt.Errorf("trader.Execute: %w", errors.Join(cgErr, err))
		}
		return nil, fmt.Errorf("trader.Execute: %w", cgErr)
	}

	// 7. intent antes de construir la tx
	if err := e.appendIntent(ctx, wallet, req, expectedCost, nil); err != nil {
		return nil, fmt.Errorf("trader.Execute: order intent: %w", err)
	}

	// 8. build → sign → submit
	result, err := e.submit(ctx, wallet, req)
	if err != nil {
		e.recordFailure(ctx, wallet, err)
		return nil, fmt.Errorf("trader.Execute: %w", err)
	}
	slog.Info("trader: order submitted", "market", req.MarketID, "tx", result.TxID,
		"status", result.Status, "expected_cost", expectedCost)

	// 9-11. best effort
	out := &Outcome{
		Result:       result,
		Before:       before,
		ExpectedCost: expectedCost,
	}
	e.settle(ctx, wallet, req, markets, out)
	return out, nil
}

// submit construye, firma y envía la orden. tx_submitted se escribe antes
// del envío; si no se puede escribir no se envía nada.
func (e *Executor) submit(ctx context.Context, wallet string, req Request) (domain.SubmitResult, error) {
	unsigned, err := e.markets.BuildOrder(ctx, req.MarketID, wallet, req.DeltaShares)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("build order: %w", err)
	}
	signed, err := e.signer.Sign(ctx, unsigned)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("sign order: %w", err)
	}

	meta := tradeMeta(wallet, req.MarketID)
	if _, err := e.ledger.Append(ctx, domain.EventTxSubmitted, domain.TxPayload{
		WalletAddress: wallet,
		MarketID:      req.MarketID,
		DeltaShares:   req.DeltaShares,
	}, meta); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("append tx_submitted: %w", err)
	}

	result, err := e.markets.SubmitOrder(ctx, signed)
	if err != nil {
		if appendErr := e.appendTxResult(ctx, wallet, req, nil, err); appendErr != nil {
			slog.Error("trader: append tx_result failed", "market", req.MarketID, "err", appendErr)
		}
		return domain.SubmitResult{}, fmt.Errorf("submit order: %w", err)
	}
	return result, nil
}

func (e *Executor) appendTxResult(ctx context.Context, wallet string, req Request, result *domain.SubmitResult, submitErr error) error {
	payload := domain.TxPayload{
		WalletAddress: wallet,
		MarketID:      req.MarketID,
		DeltaShares:   req.DeltaShares,
		Result:        result,
	}
	if submitErr != nil {
		payload.Error = submitErr.Error()
	}
	_, err := e.ledger.Append(ctx, domain.EventTxResult, payload, tradeMeta(wallet, req.MarketID))
	return err
}

// settle ejecuta los pasos posteriores al envío. Nada aquí devuelve error.
func (e *Executor) settle(ctx context.Context, wallet string, req Request, markets []string, out *Outcome) {
	fail := func(step string, err error) {
		slog.Error("trader: bookkeeping failed after submission", "step", step,
			"market", req.MarketID, "tx", out.Result.TxID, "err", err)
		out.BookkeepingErrors = append(out.BookkeepingErrors, fmt.Errorf("%s: %w", step, err))
	}

	if err := e.appendTxResult(ctx, wallet, req, &out.Result, nil); err != nil {
		fail("tx_result", err)
	}

	// 9. snapshot después
	after, err := e.snaps.Record(ctx, markets, wallet)
	if err != nil {
		fail("after snapshot", err)
		after = snapshot.Result{Snapshot: e.snaps.Capture(ctx, markets, wallet)}
	}
	out.After = after

	// 10. delta realizado
	out.Delta = domain.ComputeTradeDelta(out.Before.Snapshot, after.Snapshot, req.MarketID)
	cost := out.ExpectedCost
	if _, err := e.ledger.Append(ctx, domain.EventTradeDelta, domain.TradeDeltaPayload{
		WalletAddress: wallet,
		MarketID:      req.MarketID,
		Delta:         out.Delta,
		ExpectedCost:  &cost,
	}, tradeMeta(wallet, req.MarketID)); err != nil {
		// Se acepta el hueco de auditoría; queda en lastError y en el Outcome.
		fail("trade_delta", err)
	}

	// 11. contadores. Se recarga el estado: los snapshots lo han reescrito.
	st, err := e.store.Ensure(ctx, wallet)
	if err != nil {
		fail("state update", err)
	} else {
		now := e.now()
		st.RollDay(now)
		st.RecordTrade(now)
		if len(out.BookkeepingErrors) > 0 {
			st.SetError(errors.Join(out.BookkeepingErrors...).Error())
		}
		if err := e.store.Save(ctx, st); err != nil {
			fail("state update", err)
		}
	}

	out.Status = StatusSettled
	if len(out.BookkeepingErrors) > 0 {
		out.Status = StatusBookkeepingIncomplete
	}
}

func (e *Executor) appendIntent(ctx context.Context, wallet string, req Request, expectedCost float64, blockedAt *float64) error {
	cost := expectedCost
	p := domain.OrderIntentPayload{
		WalletAddress: wallet,
		MarketID:      req.MarketID,
		DeltaShares:   req.DeltaShares,
		ExpectedCost:  &cost,
		Reason:        req.Reason,
	}
	if blockedAt != nil {
		p.Blocked = true
		p.MaxCost = blockedAt
		p.Reason = fmt.Sprintf("%s (blocked: expectedCost>%g)", req.Reason, *blockedAt)
	}
	if _, err := e.ledger.Append(ctx, domain.EventOrderIntent, p, tradeMeta(wallet, req.MarketID)); err != nil {
		slog.Warn("trader: append order_intent failed", "market", req.MarketID, "blocked", p.Blocked, "err", err)
		return err
	}
	return nil
}

// reject deja en el ledger la traza de un trade rechazado. No toca el estado.
func (e *Executor) reject(ctx context.Context, wallet string, req Request, cause error) {
	if _, err := e.ledger.Append(ctx, domain.EventTradeRejected, domain.TradeRejectedPayload{
		WalletAddress: wallet,
		MarketID:      req.MarketID,
		DeltaShares:   req.DeltaShares,
		Reason:        req.Reason,
		Rejection:     cause.Error(),
	}, tradeMeta(wallet, req.MarketID)); err != nil {
		slog.Warn("trader: append trade_rejected failed", "market", req.MarketID, "err", err)
	}
	slog.Info("trader: trade rejected", "market", req.MarketID, "reason", cause)
}

// recordFailure guarda un fallo previo al envío como lastError. Best effort.
func (e *Executor) recordFailure(ctx context.Context, wallet string, cause error) {
	st, err := e.store.Ensure(ctx, wallet)
	if err != nil {
		slog.Warn("trader: could not record last error", "err", err)
		return
	}
	st.SetError(cause.Error())
	if err := e.store.Save(ctx, st); err != nil {
		slog.Warn("trader: could not record last error", "err", err)
	}
}

// checkRateLimits aplica el cooldown y el límite diario.
func checkRateLimits(st *domain.State, req Request, now time.Time) error {
	cooldown := st.Risk.CooldownSec
	if req.CooldownSec != nil {
		cooldown = *req.CooldownSec
	}
	if cooldown > 0 && st.Stats.LastTradeTS != nil {
		elapsed := now.Sub(*st.Stats.LastTradeTS)
		limit := time.Duration(cooldown * float64(time.Second))
		if elapsed < limit {
			return &domain.RateLimitError{Err: domain.ErrCooldown, Wait: limit - elapsed}
		}
	}

	if st.Stats.TradesToday >= st.Risk.MaxTradesPerDay {
		return &domain.RateLimitError{
			Err:         domain.ErrDailyCap,
			TradesToday: st.Stats.TradesToday,
			MaxPerDay:   st.Risk.MaxTradesPerDay,
		}
	}
	return nil
}

// costLimit devuelve el coste máximo efectivo, si hay.
func costLimit(st *domain.State, req Request) (float64, bool) {
	if req.MaxCost != nil {
		return *req.MaxCost, true
	}
	if st.Risk.MaxCostUSDC > 0 {
		return st.Risk.MaxCostUSDC, true
	}
	return 0, false
}

// navMarkets devuelve primero el mercado operado y luego los extra, sin
// duplicados.
func navMarkets(req Request) []string {
	out := []string{req.MarketID}
	seen := map[string]bool{req.MarketID: true}
	for _, id := range req.MarketsForNAV {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func tradeMeta(wallet, marketID string) domain.Meta {
	return domain.Meta{"walletAddress": wallet, "marketId": marketID}
}
