package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/betbot/pairbot/internal/ledger"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	goodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

func money(v decimal.Decimal) string {
	s := "$" + v.StringFixed(2)
	switch {
	case v.IsPositive():
		return goodStyle.Render("+" + s)
	case v.IsNegative():
		return badStyle.Render(s)
	}
	return s
}

func winRate(cs ledger.CoinStats) string {
	decided := cs.CyclesWon + cs.CyclesLost
	if decided == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", float64(cs.CyclesWon)/float64(decided)*100)
}

// renderStats 按标的输出累计统计；coin 非空时只输出该标的
func renderStats(w io.Writer, st *ledger.State, coin string) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("📊 账本 %s  session=%s", st.Universe, st.SessionID)))

	coins := make([]string, 0, len(st.Coins))
	for name := range st.Coins {
		if coin != "" && name != coin {
			continue
		}
		coins = append(coins, name)
	}
	sort.Strings(coins)

	table := tablewriter.NewWriter(w)
	table.Header("Coin", "Cycles", "Won", "Lost", "Abandoned", "WinRate", "PnL", "Exposure", "AvgDur")
	total := decimal.Zero
	for _, name := range coins {
		cs := st.Coins[name]
		if cs == nil {
			continue
		}
		total = total.Add(cs.RealizedPnL)
		table.Append(
			name,
			fmt.Sprintf("%d", cs.CyclesCompleted),
			fmt.Sprintf("%d", cs.CyclesWon),
			fmt.Sprintf("%d", cs.CyclesLost),
			fmt.Sprintf("%d", cs.CyclesAbandoned),
			winRate(*cs),
			money(cs.RealizedPnL),
			"$"+cs.CurrentExposure.StringFixed(2),
			(time.Duration(cs.AvgCycleDuration) * time.Second).String(),
		)
	}
	table.Render()

	if len(coins) == 0 {
		fmt.Fprintln(w, dimStyle.Render("  (没有统计数据)"))
	}
	fmt.Fprintf(w, "  已实现盈亏合计: %s\n", money(total))
	fmt.Fprintf(w, "  余额: $%s  基线: $%s\n", st.WalletBalance.StringFixed(2), st.StartingBalance.StringFixed(2))

	open := st.OpenCycles(coin)
	if len(open) == 0 {
		return
	}
	fmt.Fprintln(w, titleStyle.Render("未关闭周期"))
	ot := tablewriter.NewWriter(w)
	ot.Header("Market", "Coin", "Started", "YES", "NO", "Cost", "Floor")
	for _, c := range open {
		ot.Append(
			c.MarketID,
			c.Coin,
			c.StartTs.UTC().Format("01-02 15:04:05"),
			fmt.Sprintf("%s ($%s)", c.YesShares.StringFixed(2), c.YesCost.StringFixed(2)),
			fmt.Sprintf("%s ($%s)", c.NoShares.StringFixed(2), c.NoCost.StringFixed(2)),
			"$"+c.TotalCost().StringFixed(2),
			money(c.FloorPnL()),
		)
	}
	ot.Render()
}

// renderDrawdown 返回是否超限
func renderDrawdown(w io.Writer, st *ledger.State, limit float64) bool {
	dd := st.Drawdown()
	tripped := st.StartingBalance.IsPositive() && dd.GreaterThan(decimal.NewFromFloat(limit))
	line := fmt.Sprintf("回撤 %s%% / 上限 %.2f%%", dd.Mul(decimal.NewFromInt(100)).StringFixed(2), limit*100)
	if tripped {
		fmt.Fprintln(w, badStyle.Render("🛑 "+line+"  已超限"))
	} else {
		fmt.Fprintln(w, goodStyle.Render("✅ "+line))
	}
	return tripped
}
