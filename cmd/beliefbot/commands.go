package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/beliefbot/config"
	"github.com/alejandrodnm/beliefbot/internal/adapters/notify"
	"github.com/alejandrodnm/beliefbot/internal/application/trader"
	"github.com/alejandrodnm/beliefbot/internal/domain"
)

func runSnapshot(ctx context.Context, cfg *config.Config, output string, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	markets := fs.String("markets", "", "comma-separated market IDs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids := splitList(*markets)
	if len(ids) == 0 {
		return errors.New("snapshot: -markets is required")
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer closeApp(a)

	res, err := a.snaps.Record(ctx, ids, a.wallet)
	if err != nil {
		return err
	}
	notify.NewConsole(output).Snapshot(res)
	return nil
}

func runTrade(ctx context.Context, cfg *config.Config, output string, args []string) error {
	fs := flag.NewFlagSet("trade", flag.ContinueOnError)
	market := fs.String("market", "", "market ID to trade")
	delta := fs.String("delta", "", "share delta per outcome, e.g. 1,0")
	reason := fs.String("reason", "", "free-text reason stored with the intent")
	navMarkets := fs.String("nav-markets", "", "extra market IDs valued around the trade")
	var maxCost, cooldown *float64
	fs.Func("max-cost", "override risk.max_cost_usdc for this trade", optionalFloat(&maxCost))
	fs.Func("cooldown", "override risk.cooldown_sec for this trade", optionalFloat(&cooldown))
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *market == "" {
		return errors.New("trade: -market is required")
	}
	deltas, err := parseFloats(*delta)
	if err != nil {
		return fmt.Errorf("trade: -delta: %w", err)
	}

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer closeApp(a)

	out, err := a.executor().Execute(ctx, trader.Request{
		WalletAddress: a.wallet,
		MarketID:      *market,
		DeltaShares:   deltas,
		Reason:        *reason,
		MaxCost:       maxCost,
		CooldownSec:   cooldown,
		MarketsForNAV: splitList(*navMarkets),
	})
	if err != nil {
		return err
	}

	notify.NewConsole(output).Trade(out)
	if !out.Settled() {
		slog.Warn("trade submitted but bookkeeping incomplete; reconcile from the ledger",
			"tx", out.Result.TxID, "errors", len(out.BookkeepingErrors))
	}
	return nil
}

func runStatus(ctx context.Context, cfg *config.Config, output string, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer closeApp(a)

	st, err := a.store.Ensure(ctx, a.wallet)
	if err != nil {
		return err
	}
	notify.NewConsole(output).State(st)
	return nil
}

func runEvents(ctx context.Context, cfg *config.Config, output string, args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	since := fs.String("since", "", "only events at or after this RFC3339 time")
	limit := fs.Int("limit", 50, "show the last N events (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := domain.ReadOptions{Limit: *limit}
	if *since != "" {
		t, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			return fmt.Errorf("events: -since: %w", err)
		}
		opts.Since = t
	}

	l, err := openLedger(cfg)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer l.Close()

	events, err := l.Read(ctx, opts)
	if err != nil {
		return err
	}
	notify.NewConsole(output).Events(events)
	return nil
}

// --- helpers ---

// splitList parte "a, b,,c" en [a b c].
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseFloats parsea "1,0,-0.5". Requiere al menos un valor.
func parseFloats(s string) ([]float64, error) {
	parts := splitList(s)
	if len(parts) == 0 {
		return nil, errors.New("at least one value required")
	}
	out := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out[i] = f
	}
	return out, nil
}

// optionalFloat deja dst en nil salvo que el flag aparezca.
func optionalFloat(dst **float64) func(string) error {
	return func(s string) error {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		if f < 0 {
			return errors.New("must not be negative")
		}
		*dst = &f
		return nil
	}
}
