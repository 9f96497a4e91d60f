// Package console renders ranking, risk, monitoring, and backtest output as
// aligned text tables.
package console

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"coinscout-go/internal/backtest"
	"coinscout-go/internal/monitor"
	"coinscout-go/internal/regime"
	"coinscout-go/internal/risk"
	"coinscout-go/internal/score"
)

// Printer writes tables to a single destination, normally stdout.
type Printer struct {
	out io.Writer
}

// New builds a printer writing to out.
func New(out io.Writer) *Printer {
	return &Printer{out: out}
}

func (p *Printer) table() *tabwriter.Writer {
	return tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
}

func (p *Printer) heading(title string) {
	fmt.Fprintf(p.out, "\n%s\n%s\n", title, strings.Repeat("-", len(title)))
}

// PrintRegime summarizes the reference trend snapshot.
func (p *Printer) PrintRegime(snap *regime.Snapshot) {
	if snap == nil {
		return
	}
	p.heading("Market Regime")
	w := p.table()
	fmt.Fprintf(w, "signal\tstrength\tprice\t1d\t7d\t30d\n")
	fmt.Fprintf(w, "%s\t%.2f\t%.0f\t%+.2f%%\t%+.2f%%\t%+.2f%%\n",
		snap.Signal, snap.Strength, snap.CurrentPrice,
		snap.Change1d, snap.Change7d, snap.Change30d)
	w.Flush()
}

// PrintRecommendations lists ranked markets with their factor breakdown.
func (p *Printer) PrintRecommendations(results []score.Result) {
	p.heading("Recommendations")
	if len(results) == 0 {
		fmt.Fprintln(p.out, "no market cleared the threshold for the current regime")
		return
	}
	w := p.table()
	fmt.Fprintf(w, "#\tmarket\tscore\tprice\trsi\tmacd\tbb\tma\tvol\twhale\tsurge\n")
	for i, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%.3f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n",
			i+1, r.Market, r.TotalScore, r.CurrentPrice,
			r.RSIScore, r.MACDScore, r.BollingerScore, r.MAScore,
			r.VolumeScore, r.WhaleScore, r.SurgeScore)
	}
	w.Flush()
}

// PrintRiskPlan details one candidate's trade plan.
func (p *Printer) PrintRiskPlan(market string, params risk.Parameters) {
	p.heading(fmt.Sprintf("Trade Plan %s (%s ladder)", market, params.TrendMode))
	w := p.table()
	fmt.Fprintf(w, "entry\tstop\trisk/unit\tsize\tvalue\tR:R\n")
	fmt.Fprintf(w, "%.2f\t%.2f (-%.2f%%)\t%.2f\t%.6f\t%.0f\t%.2f\n",
		params.EntryPrice, params.StopLossPrice, params.StopLossPercent,
		params.RiskPerUnit, params.PositionSize, params.PositionValue,
		params.RiskRewardRatio)
	w.Flush()

	w = p.table()
	fmt.Fprintf(w, "level\ttarget\t+%%\texit ratio\tcumulative\n")
	for _, l := range params.TakeProfitLevels {
		fmt.Fprintf(w, "%d\t%.2f\t%.1f%%\t%.0f%%\t%.0f%%\n",
			l.Index, l.ProfitPrice, l.ProfitPercent, l.Ratio*100, l.CumulativeRatio*100)
	}
	w.Flush()
}

// PrintMonitor renders the live position table.
func (p *Printer) PrintMonitor(views []monitor.View) {
	p.heading("Positions")
	if len(views) == 0 {
		fmt.Fprintln(p.out, "no positions monitored")
		return
	}
	w := p.table()
	fmt.Fprintf(w, "market\tstatus\tprice\tentry\tstop\ttarget\tchange\n")
	for _, v := range views {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%+.2f%%\n",
			v.Market, v.Status, v.CurrentPrice, v.EntryPrice,
			v.StopLossPrice, v.TakeProfitPrice, v.ChangePercent)
	}
	w.Flush()
}

// PrintBacktest renders one market's simulation result and its trade legs.
func (p *Printer) PrintBacktest(res *backtest.Result) {
	p.heading(fmt.Sprintf("Backtest %s (%s to %s)",
		res.Market, res.StartDate.Format("2006-01-02"), res.EndDate.Format("2006-01-02")))
	w := p.table()
	fmt.Fprintf(w, "capital\tfinal\treturn\ttrades\twins\tlosses\twin rate\n")
	fmt.Fprintf(w, "%.0f\t%.0f\t%+.2f%%\t%d\t%d\t%d\t%.1f%%\n",
		res.StartCapital, res.FinalCapital, res.TotalReturn,
		res.TotalTrades, res.WinningTrades, res.LosingTrades, res.WinRate)
	w.Flush()

	if len(res.Trades) == 0 {
		return
	}
	w = p.table()
	fmt.Fprintf(w, "entry\texit\tin\tout\tsize\tprofit\treason\n")
	for _, t := range res.Trades {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.6f\t%+.0f (%+.2f%%)\t%s\n",
			t.EntryDate.Format("2006-01-02"), t.ExitDate.Format("2006-01-02"),
			t.EntryPrice, t.ExitPrice, t.PositionSize, t.Profit, t.ProfitPercent,
			t.ExitReason)
	}
	w.Flush()
}

// PrintSummary renders a multi-market backtest summary.
func (p *Printer) PrintSummary(summary *backtest.Summary) {
	p.heading("Backtest Summary")
	w := p.table()
	fmt.Fprintf(w, "market\treturn\ttrades\twin rate\n")
	for _, r := range summary.Results {
		fmt.Fprintf(w, "%s\t%+.2f%%\t%d\t%.1f%%\n", r.Market, r.TotalReturn, r.TotalTrades, r.WinRate)
	}
	fmt.Fprintf(w, "total\t%+.2f%%\t\t\n", summary.TotalReturn)
	w.Flush()
}
