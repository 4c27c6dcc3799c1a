package database

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/shopspring/decimal"

	"github.com/estensen/pyusd-dashboard/internal/models"
)

// Totals is the record count and amount sum of a stored dataset.
type Totals struct {
	Records uint64
	Amount  decimal.Decimal
}

func (t Totals) Equal(o Totals) bool {
	return t.Records == o.Records && t.Amount.Equal(o.Amount)
}

func (t Totals) String() string {
	return fmt.Sprintf("%d records / %s PYUSD", t.Records, t.Amount.String())
}

// ComputeTotals sums transactions in memory.
func ComputeTotals(transactions []models.Transaction) Totals {
	t := Totals{Amount: decimal.Zero}
	for _, txn := range transactions {
		t.Records++
		t.Amount = t.Amount.Add(txn.PyusdAmount)
	}
	return t
}

// FetchTotals retrieves the stored record count and amount sum from ClickHouse.
func FetchTotals(ctx context.Context, conn clickhouse.Conn) (Totals, error) {
	query := "SELECT count() AS records, sum(pyusd_amount) AS total FROM pyusd_transfers"

	t := Totals{Amount: decimal.Zero}
	if err := conn.QueryRow(ctx, query).Scan(&t.Records, &t.Amount); err != nil {
		return Totals{}, fmt.Errorf("error executing query '%s': %v", query, err)
	}
	return t, nil
}
