// Package reporter renders engine state as console tables.
package reporter

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"gridPilot/config"
	"gridPilot/internal/domain"
	"gridPilot/internal/engine"
	"gridPilot/internal/grid"
)

// Reporter writes formatted tables to a sink, stdout by default.
type Reporter struct {
	out io.Writer
}

func New() *Reporter {
	return &Reporter{out: os.Stdout}
}

func NewWithWriter(w io.Writer) *Reporter {
	return &Reporter{out: w}
}

func (r *Reporter) newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	return t
}

// PrintConfig renders the effective trading configuration.
func (r *Reporter) PrintConfig(cfg *config.Config) {
	t := r.newTable("Configuration")
	t.AppendRows([]table.Row{
		{"Symbol", cfg.Symbol},
		{"Testnet", cfg.IsTestnet},
		{"Total Capital", fmt.Sprintf("%.2f %s", cfg.TotalCapital, cfg.QuoteAsset)},
		{"Grid Levels", cfg.GridLevels},
		{"Range", fmt.Sprintf("%.1f%% (±%.1f%%)", cfg.RangePercent, cfg.HalfRange())},
		{"Capital / Level", fmt.Sprintf("%.2f %s", cfg.CapitalPerLevel(), cfg.QuoteAsset)},
		{"Global Stop", fmt.Sprintf("%.1f%% (%.2f %s)", cfg.GlobalStopPercent, cfg.GlobalStopAmount(), cfg.QuoteAsset)},
		{"Daily Loss Limit", fmt.Sprintf("%.1f%% (%.2f %s)", cfg.DailyLossPercent, cfg.DailyLossLimit(), cfg.QuoteAsset)},
		{"Rebalance Margin", fmt.Sprintf("%.2f%%", cfg.RebalanceMarginPercent)},
		{"Rebalance Cooldown", cfg.MinRebalanceInterval},
		{"Tick Interval", cfg.TickInterval},
	})
	t.Render()
}

// PrintStatus renders the live engine status.
func (r *Reporter) PrintStatus(st engine.Status) {
	t := r.newTable(fmt.Sprintf("Status %s", st.Symbol))
	t.AppendRows([]table.Row{
		{"Price", fmt.Sprintf("%.2f", st.CurrentPrice)},
		{"Grid Center", fmt.Sprintf("%.2f", st.CenterPrice)},
		{"Grid Band", fmt.Sprintf("%.2f .. %.2f", st.LowerBound, st.UpperBound)},
		{"Risk Level", st.RiskLevel.String()},
		{"Trading Allowed", st.TradingAllowed},
		{"Open Orders", st.OpenOrders},
		{"Open Positions", st.Metrics.OpenPositions},
		{"Realized PnL", fmt.Sprintf("%+.4f", st.Metrics.RealizedPnL)},
		{"Unrealized PnL", fmt.Sprintf("%+.4f", st.Metrics.UnrealizedPnL)},
		{"Return", fmt.Sprintf("%+.2f%%", st.Metrics.ReturnPercent)},
		{"Win Rate", fmt.Sprintf("%.1f%% (%d/%d)", st.Metrics.WinRate*100, st.Metrics.Wins, st.Metrics.Wins+st.Metrics.Losses)},
		{"Max Drawdown", fmt.Sprintf("%.2f%%", st.Metrics.MaxDrawdown*100)},
		{"Total Fees", fmt.Sprintf("%.4f", st.Metrics.TotalFees)},
	})
	t.Render()
}

// PrintLevels renders the grid ladder, top rung first.
func (r *Reporter) PrintLevels(snap grid.Snapshot) {
	t := r.newTable(fmt.Sprintf("Grid %s (center %.2f)", snap.Symbol, snap.CenterPrice))
	t.AppendHeader(table.Row{"#", "Price", "Side", "Capital", "Quantity", "Filled", "Order"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	for i := len(snap.Levels) - 1; i >= 0; i-- {
		lv := snap.Levels[i]
		occupied := ""
		if lv.OrderLocalID != "" {
			occupied = "working"
		}
		t.AppendRow(table.Row{
			lv.Index,
			fmt.Sprintf("%.2f", lv.Price),
			string(lv.Side),
			fmt.Sprintf("%.2f", lv.AllocatedCapital),
			fmt.Sprintf("%.6f", lv.Quantity),
			fmt.Sprintf("%.6f", lv.FilledQuantity),
			occupied,
		})
	}
	t.Render()
}

// PrintTrades renders the trade log, most recent last.
func (r *Reporter) PrintTrades(trades []domain.TradeRecord) {
	t := r.newTable("Trades")
	t.AppendHeader(table.Row{"ID", "Time", "Type", "Side", "Level", "Price", "Quantity", "Fee", "Profit"})
	for _, tr := range trades {
		profit := ""
		if tr.Closing {
			profit = fmt.Sprintf("%+.4f", tr.Profit)
		}
		t.AppendRow(table.Row{
			tr.ID,
			tr.ExecutedAt.Format("2006-01-02 15:04:05"),
			string(tr.Type),
			string(tr.Side),
			tr.LevelIndex,
			fmt.Sprintf("%.2f", tr.Price),
			fmt.Sprintf("%.6f", tr.Quantity),
			fmt.Sprintf("%.4f", tr.Fee),
			profit,
		})
	}
	t.Render()
}

// PrintAlerts renders the risk alert history.
func (r *Reporter) PrintAlerts(alerts []domain.RiskAlert) {
	if len(alerts) == 0 {
		return
	}
	t := r.newTable("Risk Alerts")
	t.AppendHeader(table.Row{"Time", "Type", "Level", "Message", "Ack"})
	for _, a := range alerts {
		t.AppendRow(table.Row{
			a.CreatedAt.Format("2006-01-02 15:04:05"),
			string(a.Type),
			a.Level.String(),
			a.Message,
			a.Acknowledged,
		})
	}
	t.Render()
}
