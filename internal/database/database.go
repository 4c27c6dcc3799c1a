package database

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"
)

const DefaultAddr = "127.0.0.1:9000"

const createTransfersTable = `
	CREATE TABLE IF NOT EXISTS pyusd_transfers (
		row_number UInt32,
		block_date Date,
		from_address String,
		pyusd_amount Decimal(38, 18),
		from_label String,
		from_address_link String
	) ENGINE = MergeTree
	ORDER BY (block_date, row_number)
`

// NewClickHouseConnection opens and pings a ClickHouse connection.
func NewClickHouseConnection(ctx context.Context, addr, database string, logger *zap.Logger) (clickhouse.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if addr == "" {
		addr = DefaultAddr
	}
	if database == "" {
		database = "default"
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error connecting to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ClickHouse ping failed: %w", err)
	}

	logger.Info("connected to ClickHouse", zap.String("addr", addr), zap.String("database", database))
	return conn, nil
}

// EnsureSchema creates the transfers table when it does not exist.
func EnsureSchema(ctx context.Context, conn clickhouse.Conn) error {
	if err := conn.Exec(ctx, createTransfersTable); err != nil {
		return fmt.Errorf("error creating pyusd_transfers: %w", err)
	}
	return nil
}
