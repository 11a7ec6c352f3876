package notify

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/beliefbot/internal/application/snapshot"
	"github.com/alejandrodnm/beliefbot/internal/application/trader"
	"github.com/alejandrodnm/beliefbot/internal/domain"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// dailyRows es cuántos días se muestran en el resumen de estado.
const dailyRows = 7

// Console imprime los resultados del motor para el operador.
type Console struct {
	out    io.Writer
	format string
}

// NewConsole crea un reporter que escribe a stdout.
func NewConsole(format string) *Console {
	return NewConsoleWriter(os.Stdout, format)
}

// NewConsoleWriter crea un reporter sobre w. Formato desconocido = tabla.
func NewConsoleWriter(w io.Writer, format string) *Console {
	if format != FormatJSON {
		format = FormatTable
	}
	return &Console{out: w, format: format}
}

func (c *Console) printJSON(v any) {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(c.out, "encode error: %v\n", err)
	}
}

// State imprime el resumen del estado derivado.
func (c *Console) State(st *domain.State) {
	if c.format == FormatJSON {
		c.printJSON(st)
		return
	}

	fmt.Fprintf(c.out, "\n── STATE %s ──\n", st.WalletAddress)
	fmt.Fprintf(c.out, "  Created:       %s\n", st.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(c.out, "  Last NAV:      %s\n", usdc(st.LastNAV))
	fmt.Fprintf(c.out, "  Trades:        %d total, %d today\n", st.Stats.TradesTotal, st.Stats.TradesToday)
	fmt.Fprintf(c.out, "  Last trade:    %s\n", when(st.Stats.LastTradeTS))
	fmt.Fprintf(c.out, "  Last snapshot: %s\n", when(st.Stats.LastSnapshotTS))
	if st.Stats.LastError != nil {
		fmt.Fprintf(c.out, "  Last error:    %s\n", *st.Stats.LastError)
	}
	fmt.Fprintf(c.out, "  Risk:          maxCost $%.2f | cooldown %.0fs | max %d trades/day\n",
		st.Risk.MaxCostUSDC, st.Risk.CooldownSec, st.Risk.MaxTradesPerDay)

	fmt.Fprintf(c.out, "\n── POSITIONS (%d) ──\n", len(st.Positions))
	if len(st.Positions) == 0 {
		fmt.Fprintln(c.out, "  (none)")
	} else {
		ids := make([]string, 0, len(st.Positions))
		for id := range st.Positions {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		table := tablewriter.NewWriter(c.out)
		table.Header("Market", "Title", "Shares", "Prices", "Prev", "Value", "Method", "Updated")
		for _, id := range ids {
			p := st.Positions[id]
			table.Append(
				truncate(id, 14),
				truncate(deref(p.Title), 30),
				vec(p.Shares),
				vec(p.LastPrices),
				vec(p.PrevPrices),
				fmt.Sprintf("$%.4f", p.LastValue),
				string(p.ValuationMethod),
				p.LastTS.Format("01-02 15:04"),
			)
		}
		table.Render()
	}

	if len(st.Daily) > 0 {
		days := make([]string, 0, len(st.Daily))
		for d := range st.Daily {
			days = append(days, d)
		}
		sort.Strings(days)
		if len(days) > dailyRows {
			days = days[len(days)-dailyRows:]
		}

		fmt.Fprintf(c.out, "\n── DAILY NAV ──\n")
		table := tablewriter.NewWriter(c.out)
		table.Header("Date", "Open", "Close", "PnL")
		for _, d := range days {
			v := st.Daily[d]
			table.Append(d,
				fmt.Sprintf("$%.4f", v.NAVOpen),
				fmt.Sprintf("$%.4f", v.NAVClose),
				fmt.Sprintf("%+.4f", v.PnL),
			)
		}
		table.Render()
	}
	fmt.Fprintln(c.out)
}

// Snapshot imprime una captura y su valoración.
func (c *Console) Snapshot(res snapshot.Result) {
	if c.format == FormatJSON {
		c.printJSON(domain.SnapshotRecord{Snapshot: res.Snapshot, NAVInfo: res.NAV})
		return
	}

	snap := res.Snapshot
	fmt.Fprintf(c.out, "[%s] snapshot %s | cash %s", snap.TS.Format("15:04:05"),
		snap.WalletAddress, usdc(snap.CashBalance))
	if res.NAV != nil {
		fmt.Fprintf(c.out, " | positions $%.4f | NAV $%.4f", res.NAV.PositionsValue, res.NAV.NAV)
	} else {
		fmt.Fprint(c.out, " | NAV unknown")
	}
	fmt.Fprintln(c.out)

	if len(snap.Markets) == 0 {
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Title", "Shares", "Prices", "Value", "Method")
	for _, m := range snap.Markets {
		value, method := "n/a", "-"
		if res.NAV != nil {
			if mv, ok := res.NAV.MarketValues[m.MarketID]; ok {
				value = fmt.Sprintf("$%.4f", mv.Value)
				method = string(mv.Method)
			}
		}
		table.Append(
			truncate(m.MarketID, 14),
			truncate(deref(m.Title), 30),
			vec(m.Shares),
			vec(m.Prices),
			value,
			method,
		)
	}
	table.Render()
}

// Trade imprime el resultado de una ejecución.
func (c *Console) Trade(out *trader.Outcome) {
	if c.format == FormatJSON {
		errs := make([]string, len(out.BookkeepingErrors))
		for i, e := range out.BookkeepingErrors {
			errs[i] = e.Error()
		}
		c.printJSON(struct {
			Status            trader.OutcomeStatus `json:"status"`
			Result            domain.SubmitResult  `json:"result"`
			ExpectedCost      float64              `json:"expectedCost"`
			Delta             domain.TradeDelta    `json:"delta"`
			NAVBefore         *float64             `json:"navBefore"`
			NAVAfter          *float64             `json:"navAfter"`
			BookkeepingErrors []string             `json:"bookkeepingErrors,omitempty"`
		}{out.Status, out.Result, out.ExpectedCost, out.Delta, navOf(out.Before), navOf(out.After), errs})
		return
	}

	fmt.Fprintf(c.out, "\n── TRADE %s ──\n", strings.ToUpper(string(out.Status)))
	fmt.Fprintf(c.out, "  Tx:            %s (%s)\n", out.Result.TxID, out.Result.Status)
	fmt.Fprintf(c.out, "  Expected cost: $%.4f\n", out.ExpectedCost)
	fmt.Fprintf(c.out, "  Cash delta:    %s\n", signed(out.Delta.CashDelta))
	fmt.Fprintf(c.out, "  Shares delta:  %s\n", vec(out.Delta.SharesDelta))
	if out.Delta.CashDelta != nil {
		slippage := -*out.Delta.CashDelta - out.ExpectedCost
		fmt.Fprintf(c.out, "  Slippage:      %+.4f\n", slippage)
	}
	fmt.Fprintf(c.out, "  NAV:           %s → %s\n", usdc(navOf(out.Before)), usdc(navOf(out.After)))
	if len(out.BookkeepingErrors) > 0 {
		fmt.Fprintf(c.out, "  Bookkeeping incomplete (%d):\n", len(out.BookkeepingErrors))
		for _, e := range out.BookkeepingErrors {
			fmt.Fprintf(c.out, "    - %v\n", e)
		}
	}
	fmt.Fprintln(c.out)
}

// Events imprime eventos del ledger, uno por fila.
func (c *Console) Events(events []domain.Event) {
	if c.format == FormatJSON {
		c.printJSON(events)
		return
	}
	if len(events) == 0 {
		fmt.Fprintln(c.out, "No events found")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "Type", "Market", "Detail")
	for _, e := range events {
		market, _ := e.Meta["marketId"].(string)
		table.Append(
			e.TS.Format("2006-01-02 15:04:05"),
			string(e.Type),
			truncate(market, 14),
			truncate(eventDetail(e), 60),
		)
	}
	table.Render()
}

// eventDetail resume el payload según el tipo.
func eventDetail(e domain.Event) string {
	switch e.Type {
	case domain.EventSnapshot:
		var p domain.SnapshotRecord
		if e.DecodePayload(&p) != nil {
			break
		}
		if p.NAVInfo == nil {
			return fmt.Sprintf("%d markets, NAV unknown", len(p.Snapshot.Markets))
		}
		return fmt.Sprintf("%d markets, NAV $%.4f", len(p.Snapshot.Markets), p.NAVInfo.NAV)

	case domain.EventOrderIntent:
		var p domain.OrderIntentPayload
		if e.DecodePayload(&p) != nil {
			break
		}
		s := fmt.Sprintf("delta %s cost %s: %s", vec(p.DeltaShares), usdc(p.ExpectedCost), p.Reason)
		if p.Blocked {
			s = "BLOCKED " + s
		}
		return s

	case domain.EventTradeRejected:
		var p domain.TradeRejectedPayload
		if e.DecodePayload(&p) != nil {
			break
		}
		return "rejected: " + p.Rejection

	case domain.EventTxSubmitted, domain.EventTxResult:
		var p domain.TxPayload
		if e.DecodePayload(&p) != nil {
			break
		}
		switch {
		case p.Error != "":
			return "error: " + p.Error
		case p.Result != nil:
			return fmt.Sprintf("tx %s %s", p.Result.TxID, p.Result.Status)
		default:
			return "delta " + vec(p.DeltaShares)
		}

	case domain.EventTradeDelta:
		var p domain.TradeDeltaPayload
		if e.DecodePayload(&p) != nil {
			break
		}
		return fmt.Sprintf("cash %s shares %s (expected %s)",
			signed(p.Delta.CashDelta), vec(p.Delta.SharesDelta), usdc(p.ExpectedCost))
	}
	return string(e.Payload)
}

// --- helpers ---

func navOf(r snapshot.Result) *float64 {
	if r.NAV == nil {
		return nil
	}
	v := r.NAV.NAV
	return &v
}

func usdc(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("$%.4f", *v)
}

func signed(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%+.4f", *v)
}

func when(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func vec(v []float64) string {
	if v == nil {
		return "n/a"
	}
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%.4g", x)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
