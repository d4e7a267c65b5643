package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/oibacktest/internal/domain"
	"github.com/alejandrodnm/oibacktest/internal/ports"
)

// Console implementa ports.Reporter escribiendo tablas en texto plano.
type Console struct {
	out       io.Writer
	maxTrades int // 0 = todas
}

// NewConsole crea un reporter que escribe a stdout.
func NewConsole(maxTrades int) *Console {
	return &Console{out: os.Stdout, maxTrades: maxTrades}
}

// NewConsoleWriter crea un reporter sobre w, para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// Report imprime resumen, trades y rechazos de un run.
func (c *Console) Report(_ context.Context, name string, res *domain.Result) error {
	if res == nil {
		return fmt.Errorf("notify.Report: nil result")
	}

	fmt.Fprintf(c.out, "\n╔══════════════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(c.out, "║  BACKTEST %-55s║\n", truncate(name, 55))
	fmt.Fprintf(c.out, "╚══════════════════════════════════════════════════════════════════╝\n\n")

	c.printSummary(res.Statistics)
	if len(res.Positions) == 0 {
		fmt.Fprintln(c.out, "\n  No trades opened.")
	} else {
		c.printTrades(res.Positions)
	}
	c.printRejections(res)

	fmt.Fprintf(c.out, "\n  %d anomalies → %d signals → %d trades  (%s)\n\n",
		len(res.Positions)+len(res.Rejected), len(res.Signals), len(res.Positions),
		res.ExecutionTime.Round(time.Millisecond))
	return nil
}

func (c *Console) printSummary(st domain.Statistics) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Metric", "Value")
	table.Append("Trades", fmt.Sprintf("%d (W:%d L:%d)", st.TotalTrades, st.Wins, st.Losses))
	table.Append("Win rate", fmt.Sprintf("%.1f%%", st.WinRate))
	table.Append("Total PnL", fmt.Sprintf("$%.2f", st.TotalPnL))
	table.Append("Commission", fmt.Sprintf("$%.2f", st.TotalCommission))
	table.Append("Avg win / loss", fmt.Sprintf("$%.2f / $%.2f", st.AvgWin, st.AvgLoss))
	table.Append("Profit factor", fmt.Sprintf("%.2f", st.ProfitFactor))
	table.Append("Max drawdown", fmt.Sprintf("$%.2f (%.2f%%)", st.MaxDrawdown, st.MaxDrawdownPct))
	table.Append("Avg holding", st.AvgHoldingTime.Round(time.Second).String())
	table.Append("Streaks W/L", fmt.Sprintf("%d / %d", st.LongestWinStreak, st.LongestLossStreak))
	table.Append("Balance", fmt.Sprintf("$%.2f → $%.2f (%+.2f%%)", st.InitialBalance, st.FinalBalance, st.ReturnPct))
	table.Render()

	if len(st.CloseReasons) == 0 {
		return
	}
	reasons := make([]string, 0, len(st.CloseReasons))
	for r := range st.CloseReasons {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	fmt.Fprint(c.out, "  Exits:")
	for _, r := range reasons {
		fmt.Fprintf(c.out, " %s=%d", r, st.CloseReasons[domain.CloseReason(r)])
	}
	fmt.Fprintln(c.out)
}

func (c *Console) printTrades(positions []domain.Position) {
	shown := positions
	if c.maxTrades > 0 && len(shown) > c.maxTrades {
		shown = shown[:c.maxTrades]
	}

	fmt.Fprintln(c.out)
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Opened", "Symbol", "Side", "Str", "Lev", "Entry", "Exit", "PnL", "Reason", "Held")
	for i, p := range shown {
		reason := string(p.CloseReason)
		if p.Degraded {
			reason += "*"
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			p.OpenedAt.UTC().Format("01-02 15:04"),
			p.Symbol,
			string(p.Side),
			string(p.Strength),
			fmt.Sprintf("%dx", p.Leverage),
			fmt.Sprintf("%.4f", p.EntryPrice),
			fmt.Sprintf("%.4f", p.ExitPrice),
			fmt.Sprintf("$%.2f", p.RealizedPnL),
			reason,
			p.ClosedAt.Sub(p.OpenedAt).Round(time.Minute).String(),
		)
	}
	table.Render()

	if len(shown) < len(positions) {
		fmt.Fprintf(c.out, "  ... %d more trades\n", len(positions)-len(shown))
	}
	fmt.Fprintln(c.out, "  * = cerrada sin datos de precio")
}

func (c *Console) printRejections(res *domain.Result) {
	by := res.RejectionsByStage()
	if len(by) == 0 {
		return
	}
	stages := make([]string, 0, len(by))
	for s := range by {
		stages = append(stages, string(s))
	}
	sort.Strings(stages)

	fmt.Fprintln(c.out)
	table := tablewriter.NewWriter(c.out)
	table.Header("Stage", "Rejected")
	for _, s := range stages {
		table.Append(s, fmt.Sprintf("%d", by[domain.RejectionStage(s)]))
	}
	table.Render()
}

// SweepRow es una línea de la tabla comparativa de un sweep.
type SweepRow struct {
	Name       string
	Statistics domain.Statistics
	Err        error
}

// PrintSweep imprime una fila por variante, en el orden recibido.
func (c *Console) PrintSweep(rows []SweepRow) {
	if len(rows) == 0 {
		fmt.Fprintln(c.out, "\n  No variants.")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Variant", "Trades", "Win%", "PnL", "PF", "MaxDD%", "Return%")
	for _, r := range rows {
		if r.Err != nil {
			table.Append(truncate(r.Name, 30), "ERR", "-", "-", "-", "-", truncate(r.Err.Error(), 40))
			continue
		}
		st := r.Statistics
		table.Append(
			truncate(r.Name, 30),
			fmt.Sprintf("%d", st.TotalTrades),
			fmt.Sprintf("%.1f", st.WinRate),
			fmt.Sprintf("$%.2f", st.TotalPnL),
			fmt.Sprintf("%.2f", st.ProfitFactor),
			fmt.Sprintf("%.2f", st.MaxDrawdownPct),
			fmt.Sprintf("%+.2f", st.ReturnPct),
		)
	}
	table.Render()
}

// PrintRuns lista runs guardados.
func (c *Console) PrintRuns(runs []ports.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(c.out, "\n  No stored runs.")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("ID", "Name", "Created", "Range", "Trades", "PnL", "Return%")
	for _, r := range runs {
		table.Append(
			shortID(r.ID),
			truncate(r.Name, 24),
			r.CreatedAt.UTC().Format("2006-01-02 15:04"),
			fmt.Sprintf("%s → %s", r.From.UTC().Format("01-02"), r.To.UTC().Format("01-02")),
			fmt.Sprintf("%d", r.Statistics.TotalTrades),
			fmt.Sprintf("$%.2f", r.Statistics.TotalPnL),
			fmt.Sprintf("%+.2f", r.Statistics.ReturnPct),
		)
	}
	table.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

var _ ports.Reporter = (*Console)(nil)
