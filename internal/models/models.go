package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source column names of the transaction log.
const (
	ColumnBlockDate       = "block_date"
	ColumnFromAddress     = "from_address"
	ColumnPyusdAmount     = "pyusd_amount"
	ColumnFromLabel       = "from_label"
	ColumnFromAddressLink = "from_address_link"
)

const DateLayout = "2006-01-02"

// RawRecord is one spreadsheet row keyed by header name.
type RawRecord struct {
	Row    int
	Values map[string]any
}

// Dataset is everything a Loader delivers: the header and the rows in source order.
type Dataset struct {
	Columns []string
	Records []RawRecord
}

type Transaction struct {
	BlockDate       time.Time
	FromAddress     string
	PyusdAmount     decimal.Decimal
	FromLabel       string
	FromAddressLink string
	Raw             RawRecord
}

type DailyVolume struct {
	BlockDate   time.Time       `json:"block_date"`
	TotalAmount decimal.Decimal `json:"pyusd_amount"`
}

type WalletSummary struct {
	FromAddress       string          `json:"from_address"`
	TotalTransactions uint64          `json:"total_transactions"`
	TotalValue        decimal.Decimal `json:"total_value"`
}

// TransactionView is the display projection of a Transaction.
type TransactionView struct {
	FromAddressLink string          `json:"from_address_link"`
	FromLabel       string          `json:"from_label"`
	PyusdAmount     decimal.Decimal `json:"pyusd_amount"`
	BlockDate       time.Time       `json:"block_date"`
}

// Filter holds the user-supplied filter. Nil bounds fall back to the dataset range.
type Filter struct {
	Start  *time.Time
	End    *time.Time
	Wallet string
}

// ResolvedFilter is a Filter with both bounds fixed.
type ResolvedFilter struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Wallet string    `json:"wallet"`
}

type Views struct {
	Filter       ResolvedFilter    `json:"filter"`
	DailyVolume  []DailyVolume     `json:"daily_volume"`
	Transactions []TransactionView `json:"transactions"`
	Wallets      []WalletSummary   `json:"wallets"`
}

type Page string

const (
	PageHome         Page = "home"
	PageTransactions Page = "transactions"
	PageTags         Page = "tags"
)

// ParsePage maps a navigation value to a Page, defaulting to home.
func ParsePage(s string) Page {
	switch Page(s) {
	case PageTransactions, PageTags:
		return Page(s)
	default:
		return PageHome
	}
}

// Session is the caller-owned navigation and filter state for one render cycle.
type Session struct {
	Page        Page
	Filter      Filter
	AutoRefresh bool
}

// TruncateToDate drops the time of day, keeping the calendar date in UTC.
func TruncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
