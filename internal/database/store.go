package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/estensen/pyusd-dashboard/internal/loader"
	"github.com/estensen/pyusd-dashboard/internal/models"
)

// transferRow mirrors one row of pyusd_transfers.
type transferRow struct {
	RowNumber       uint32          `ch:"row_number"`
	BlockDate       time.Time       `ch:"block_date"`
	FromAddress     string          `ch:"from_address"`
	PyusdAmount     decimal.Decimal `ch:"pyusd_amount"`
	FromLabel       string          `ch:"from_label"`
	FromAddressLink string          `ch:"from_address_link"`
}

// ClickHouseStore mirrors the transformed dataset into ClickHouse and can serve it back as a source.
type ClickHouseStore struct {
	Conn   clickhouse.Conn
	logger *zap.Logger
}

func NewClickHouseStore(conn clickhouse.Conn, logger *zap.Logger) *ClickHouseStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClickHouseStore{
		Conn:   conn,
		logger: logger,
	}
}

func (s *ClickHouseStore) Name() string {
	return "clickhouse"
}

// Load reads the mirrored transfers in source row order.
func (s *ClickHouseStore) Load(ctx context.Context) (models.Dataset, error) {
	var rows []transferRow
	query := `
        SELECT
            row_number,
            block_date,
            from_address,
            pyusd_amount,
            from_label,
            from_address_link
        FROM pyusd_transfers
        ORDER BY row_number
        `

	if err := s.Conn.Select(ctx, &rows, query); err != nil {
		return models.Dataset{}, fmt.Errorf("%w: error executing query '%s': %v", models.ErrSourceUnavailable, query, err)
	}

	ds := models.Dataset{Columns: append([]string{}, loader.StoreColumns...)}
	for _, r := range rows {
		ds.Records = append(ds.Records, models.RawRecord{
			Row: int(r.RowNumber),
			Values: map[string]any{
				models.ColumnBlockDate:       r.BlockDate.Format(models.DateLayout),
				models.ColumnFromAddress:     r.FromAddress,
				models.ColumnPyusdAmount:     r.PyusdAmount.String(),
				models.ColumnFromLabel:       r.FromLabel,
				models.ColumnFromAddressLink: r.FromAddressLink,
			},
		})
	}
	return ds, nil
}

// Persist replaces the table contents with transactions and checks the stored totals.
func (s *ClickHouseStore) Persist(ctx context.Context, _ []string, transactions []models.Transaction) error {
	if err := EnsureSchema(ctx, s.Conn); err != nil {
		return fmt.Errorf("%w: %v", models.ErrWriteFailure, err)
	}
	if err := s.Conn.Exec(ctx, "TRUNCATE TABLE pyusd_transfers"); err != nil {
		return fmt.Errorf("%w: error truncating pyusd_transfers: %v", models.ErrWriteFailure, err)
	}

	batch, err := s.Conn.PrepareBatch(ctx, "INSERT INTO pyusd_transfers (row_number, block_date, from_address, pyusd_amount, from_label, from_address_link)")
	if err != nil {
		return fmt.Errorf("%w: error preparing ClickHouse batch: %v", models.ErrWriteFailure, err)
	}

	for i, txn := range transactions {
		err := batch.Append(RowNumber(txn, i), txn.BlockDate, txn.FromAddress, txn.PyusdAmount, txn.FromLabel, txn.FromAddressLink)
		if err != nil {
			return fmt.Errorf("%w: error appending to ClickHouse batch: %v", models.ErrWriteFailure, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("%w: error sending batch to ClickHouse: %v", models.ErrWriteFailure, err)
	}

	stored, err := FetchTotals(ctx, s.Conn)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrWriteFailure, err)
	}
	if want := ComputeTotals(transactions); !stored.Equal(want) {
		return fmt.Errorf("%w: clickhouse holds %s, expected %s", models.ErrWriteFailure, stored, want)
	}

	s.logger.Debug("clickhouse mirror verified", zap.Uint64("records", stored.Records), zap.String("total", stored.Amount.String()))
	return nil
}

// RowNumber is the source row of txn, falling back to its spreadsheet position.
func RowNumber(txn models.Transaction, index int) uint32 {
	if txn.Raw.Row > 0 {
		return uint32(txn.Raw.Row)
	}
	return uint32(index + 2)
}
