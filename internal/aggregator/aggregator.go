package aggregator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/estensen/pyusd-dashboard/internal/models"
)

// maxWalletFilterLen is the length of a full 0x-prefixed address.
const maxWalletFilterLen = 42

type Aggregator interface {
	Aggregate(transactions []models.Transaction, filter models.Filter) (models.Views, error)
}

type SimpleAggregator struct{}

func NewAggregator() *SimpleAggregator {
	return &SimpleAggregator{}
}

// Aggregate filters transactions and builds the daily volume, transaction and wallet views.
func (a *SimpleAggregator) Aggregate(transactions []models.Transaction, filter models.Filter) (models.Views, error) {
	if err := ValidateFilter(filter); err != nil {
		return models.Views{}, err
	}

	resolved, ok := ResolveFilter(transactions, filter)
	filtered := []models.Transaction{}
	if ok {
		filtered = a.applyFilter(transactions, resolved)
	}

	return models.Views{
		Filter:       resolved,
		DailyVolume:  a.dailyVolume(filtered),
		Transactions: a.transactionViews(filtered),
		Wallets:      a.walletSummary(filtered),
	}, nil
}

// ParseFilter builds a Filter from YYYY-MM-DD strings. Empty strings leave a bound unset.
func ParseFilter(start, end, wallet string) (models.Filter, error) {
	filter := models.Filter{Wallet: strings.TrimSpace(wallet)}

	for _, b := range []struct {
		name  string
		value string
		dst   **time.Time
	}{
		{"start", start, &filter.Start},
		{"end", end, &filter.End},
	} {
		v := strings.TrimSpace(b.value)
		if v == "" {
			continue
		}
		t, err := time.Parse(models.DateLayout, v)
		if err != nil {
			return models.Filter{}, fmt.Errorf("%w: %s date %q is not YYYY-MM-DD", models.ErrInvalidFilterRange, b.name, v)
		}
		*b.dst = &t
	}

	if err := ValidateFilter(filter); err != nil {
		return models.Filter{}, err
	}
	return filter, nil
}

// ValidateFilter rejects inverted date ranges and wallet filters that cannot match an address.
func ValidateFilter(filter models.Filter) error {
	if filter.Start != nil && filter.End != nil {
		start := models.TruncateToDate(*filter.Start)
		end := models.TruncateToDate(*filter.End)
		if start.After(end) {
			return fmt.Errorf("%w: start date %s is after end date %s",
				models.ErrInvalidFilterRange, start.Format(models.DateLayout), end.Format(models.DateLayout))
		}
	}

	if len(filter.Wallet) > maxWalletFilterLen {
		return fmt.Errorf("%w: wallet filter longer than %d characters", models.ErrInvalidFilterRange, maxWalletFilterLen)
	}
	for _, r := range filter.Wallet {
		if !isAlphanumeric(r) {
			return fmt.Errorf("%w: wallet filter may only contain letters and digits, got %q", models.ErrInvalidFilterRange, r)
		}
	}
	return nil
}

func isAlphanumeric(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// ResolveFilter fills unset bounds with the min/max block date of the full dataset.
// It reports false when a bound is unset and the dataset is empty.
func ResolveFilter(transactions []models.Transaction, filter models.Filter) (models.ResolvedFilter, bool) {
	resolved := models.ResolvedFilter{Wallet: filter.Wallet}
	minDate, maxDate, hasData := DateRange(transactions)

	switch {
	case filter.Start != nil:
		resolved.Start = models.TruncateToDate(*filter.Start)
	case hasData:
		resolved.Start = minDate
	default:
		return resolved, false
	}

	switch {
	case filter.End != nil:
		resolved.End = models.TruncateToDate(*filter.End)
	case hasData:
		resolved.End = maxDate
	default:
		return resolved, false
	}

	return resolved, true
}

// DateRange returns the earliest and latest block dates.
func DateRange(transactions []models.Transaction) (time.Time, time.Time, bool) {
	if len(transactions) == 0 {
		return time.Time{}, time.Time{}, false
	}
	minDate, maxDate := transactions[0].BlockDate, transactions[0].BlockDate
	for _, txn := range transactions[1:] {
		if txn.BlockDate.Before(minDate) {
			minDate = txn.BlockDate
		}
		if txn.BlockDate.After(maxDate) {
			maxDate = txn.BlockDate
		}
	}
	return minDate, maxDate, true
}

func (a *SimpleAggregator) applyFilter(transactions []models.Transaction, filter models.ResolvedFilter) []models.Transaction {
	filtered := make([]models.Transaction, 0, len(transactions))
	for _, txn := range transactions {
		if txn.BlockDate.Before(filter.Start) || txn.BlockDate.After(filter.End) {
			continue
		}
		if filter.Wallet != "" && !strings.Contains(txn.FromAddress, filter.Wallet) {
			continue
		}
		filtered = append(filtered, txn)
	}
	return filtered
}

func (a *SimpleAggregator) dailyVolume(transactions []models.Transaction) []models.DailyVolume {
	dataMap := make(map[string]*models.DailyVolume)
	for _, txn := range transactions {
		a.updateDailyVolume(dataMap, txn.BlockDate, txn.PyusdAmount)
	}

	volumes := make([]models.DailyVolume, 0, len(dataMap))
	for _, v := range dataMap {
		volumes = append(volumes, *v)
	}
	sort.Slice(volumes, func(i, j int) bool {
		return volumes[i].BlockDate.Before(volumes[j].BlockDate)
	})
	return volumes
}

func (a *SimpleAggregator) updateDailyVolume(dataMap map[string]*models.DailyVolume, date time.Time, amount decimal.Decimal) {
	key := date.Format(models.DateLayout)
	v, exists := dataMap[key]
	if !exists {
		v = &models.DailyVolume{BlockDate: date, TotalAmount: decimal.Zero}
		dataMap[key] = v
	}
	v.TotalAmount = v.TotalAmount.Add(amount)
}

func (a *SimpleAggregator) transactionViews(transactions []models.Transaction) []models.TransactionView {
	views := make([]models.TransactionView, 0, len(transactions))
	for _, txn := range transactions {
		views = append(views, models.TransactionView{
			FromAddressLink: txn.FromAddressLink,
			FromLabel:       txn.FromLabel,
			PyusdAmount:     txn.PyusdAmount,
			BlockDate:       txn.BlockDate,
		})
	}
	return views
}

func (a *SimpleAggregator) walletSummary(transactions []models.Transaction) []models.WalletSummary {
	dataMap := make(map[string]*models.WalletSummary)
	for _, txn := range transactions {
		a.updateWalletSummary(dataMap, txn.FromAddress, txn.PyusdAmount)
	}

	summaries := make([]models.WalletSummary, 0, len(dataMap))
	for _, s := range dataMap {
		summaries = append(summaries, *s)
	}
	// Highest value first; ties by address.
	sort.Slice(summaries, func(i, j int) bool {
		if c := summaries[i].TotalValue.Cmp(summaries[j].TotalValue); c != 0 {
			return c > 0
		}
		return summaries[i].FromAddress < summaries[j].FromAddress
	})
	return summaries
}

func (a *SimpleAggregator) updateWalletSummary(dataMap map[string]*models.WalletSummary, addr string, amount decimal.Decimal) {
	s, exists := dataMap[addr]
	if !exists {
		s = &models.WalletSummary{FromAddress: addr, TotalValue: decimal.Zero}
		dataMap[addr] = s
	}
	s.TotalTransactions++
	s.TotalValue = s.TotalValue.Add(amount)
}
