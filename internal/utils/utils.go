package utils

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"

	"github.com/estensen/pyusd-dashboard/internal/models"
)

// FormatAmount rounds to cents and groups thousands, e.g. 1234567.891 -> "1,234,567.89".
func FormatAmount(d decimal.Decimal) string {
	r := d.Round(2)
	sign := ""
	if r.IsNegative() {
		sign = "-"
		r = r.Abs()
	}
	_, frac, _ := strings.Cut(r.StringFixed(2), ".")
	return sign + humanize.BigComma(r.BigInt()) + "." + frac
}

// FormatCount groups thousands of a count.
func FormatCount(n uint64) string {
	return humanize.Comma(int64(n))
}

// DisplayViews prints the view selected by page.
func DisplayViews(w io.Writer, page models.Page, views models.Views) {
	fmt.Fprintf(w, "PYUSD transfers %s to %s",
		views.Filter.Start.Format(models.DateLayout), views.Filter.End.Format(models.DateLayout))
	if views.Filter.Wallet != "" {
		fmt.Fprintf(w, " matching %q", views.Filter.Wallet)
	}
	fmt.Fprintln(w, ":")

	switch page {
	case models.PageTransactions:
		DisplayTransactions(w, views.Transactions)
	case models.PageTags:
		DisplayWalletSummary(w, views.Wallets)
	default:
		DisplayDailyVolume(w, views.DailyVolume)
	}
}

// DisplayDailyVolume prints one row per day with a total footer.
func DisplayDailyVolume(w io.Writer, points []models.DailyVolume) {
	if len(points) == 0 {
		fmt.Fprintln(w, "No volume to display.")
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Date", "PYUSD Volume"})

	total := decimal.Zero
	for _, p := range points {
		t.AppendRow(table.Row{p.BlockDate.Format(models.DateLayout), FormatAmount(p.TotalAmount)})
		total = total.Add(p.TotalAmount)
	}
	t.AppendFooter(table.Row{"Total", FormatAmount(total)})
	t.Render()
}

func DisplayTransactions(w io.Writer, rows []models.TransactionView) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No transactions to display.")
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Address", "Label", "PYUSD Amount", "Date"})
	for _, r := range rows {
		t.AppendRow(table.Row{r.FromAddressLink, r.FromLabel, FormatAmount(r.PyusdAmount), r.BlockDate.Format(models.DateLayout)})
	}
	t.AppendFooter(table.Row{"", "Transactions", FormatCount(uint64(len(rows))), ""})
	t.Render()
}

func DisplayWalletSummary(w io.Writer, wallets []models.WalletSummary) {
	if len(wallets) == 0 {
		fmt.Fprintln(w, "No wallets to display.")
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Wallet", "Transactions", "Total Value"})
	for _, s := range wallets {
		t.AppendRow(table.Row{s.FromAddress, FormatCount(s.TotalTransactions), FormatAmount(s.TotalValue)})
	}
	t.Render()
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "PYUSD Volume", Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Name: "PYUSD Amount", Align: text.AlignRight},
		{Name: "Transactions", Align: text.AlignRight},
		{Name: "Total Value", Align: text.AlignRight},
	})
	return t
}
