package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/estensen/pyusd-dashboard/internal/database"
	"github.com/estensen/pyusd-dashboard/internal/loader"
	"github.com/estensen/pyusd-dashboard/internal/models"
)

const createTransfersTable = `
	CREATE TABLE IF NOT EXISTS pyusd_transfers (
		row_number integer PRIMARY KEY,
		block_date date NOT NULL,
		from_address text NOT NULL,
		pyusd_amount numeric NOT NULL,
		from_label text NOT NULL,
		from_address_link text NOT NULL
	)
`

// Store provides Postgres persistence for the transformed dataset.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewStore(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Name() string {
	return "postgres"
}

// EnsureSchema creates the transfers table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, createTransfersTable)
	return err
}

// Load reads the mirrored transfers in source row order.
func (s *Store) Load(ctx context.Context) (models.Dataset, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT row_number, block_date, from_address, pyusd_amount::text, from_label, from_address_link
		FROM pyusd_transfers
		ORDER BY row_number
	`)
	if err != nil {
		return models.Dataset{}, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	defer rows.Close()

	ds := models.Dataset{Columns: append([]string{}, loader.StoreColumns...)}
	for rows.Next() {
		var (
			row             int32
			blockDate       time.Time
			address, amount string
			label, link     string
		)
		if err := rows.Scan(&row, &blockDate, &address, &amount, &label, &link); err != nil {
			return models.Dataset{}, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
		}
		ds.Records = append(ds.Records, models.RawRecord{
			Row: int(row),
			Values: map[string]any{
				models.ColumnBlockDate:       blockDate.Format(models.DateLayout),
				models.ColumnFromAddress:     address,
				models.ColumnPyusdAmount:     amount,
				models.ColumnFromLabel:       label,
				models.ColumnFromAddressLink: link,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return models.Dataset{}, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	return ds, nil
}

// Persist replaces the table contents in one transaction.
func (s *Store) Persist(ctx context.Context, _ []string, transactions []models.Transaction) error {
	if err := s.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("%w: create schema: %v", models.ErrWriteFailure, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", models.ErrWriteFailure, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `TRUNCATE pyusd_transfers`); err != nil {
		return fmt.Errorf("%w: truncate: %v", models.ErrWriteFailure, err)
	}

	if len(transactions) > 0 {
		br := tx.SendBatch(ctx, insertBatch(transactions))
		for range transactions {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("%w: insert: %v", models.ErrWriteFailure, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("%w: insert: %v", models.ErrWriteFailure, err)
		}
	}

	var (
		count int64
		total string
	)
	row := tx.QueryRow(ctx, `SELECT count(*), COALESCE(sum(pyusd_amount), 0)::text FROM pyusd_transfers`)
	if err := row.Scan(&count, &total); err != nil {
		return fmt.Errorf("%w: verify: %v", models.ErrWriteFailure, err)
	}
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return fmt.Errorf("%w: verify: %v", models.ErrWriteFailure, err)
	}
	stored := database.Totals{Records: uint64(count), Amount: amount}
	if want := database.ComputeTotals(transactions); !stored.Equal(want) {
		return fmt.Errorf("%w: postgres holds %s, expected %s", models.ErrWriteFailure, stored, want)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", models.ErrWriteFailure, err)
	}
	s.logger.Debug("postgres mirror verified", zap.Int64("records", count), zap.String("total", total))
	return nil
}

func insertBatch(transactions []models.Transaction) *pgx.Batch {
	batch := &pgx.Batch{}
	for i, txn := range transactions {
		batch.Queue(`
			INSERT INTO pyusd_transfers (
				row_number, block_date, from_address, pyusd_amount, from_label, from_address_link
			) VALUES ($1, $2, $3, $4::numeric, $5, $6)
		`,
			int32(database.RowNumber(txn, i)),
			txn.BlockDate,
			txn.FromAddress,
			txn.PyusdAmount.String(),
			txn.FromLabel,
			txn.FromAddressLink,
		)
	}
	return batch
}
