package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/estensen/pyusd-dashboard/internal/addressbook"
	"github.com/estensen/pyusd-dashboard/internal/aggregator"
	"github.com/estensen/pyusd-dashboard/internal/config"
	"github.com/estensen/pyusd-dashboard/internal/dashboard"
	"github.com/estensen/pyusd-dashboard/internal/database"
	"github.com/estensen/pyusd-dashboard/internal/database/postgres"
	"github.com/estensen/pyusd-dashboard/internal/export"
	"github.com/estensen/pyusd-dashboard/internal/loader"
	"github.com/estensen/pyusd-dashboard/internal/models"
	"github.com/estensen/pyusd-dashboard/internal/parser"
	"github.com/estensen/pyusd-dashboard/internal/sheets"
	"github.com/estensen/pyusd-dashboard/internal/storage"
	"github.com/estensen/pyusd-dashboard/internal/utils"
)

// app is the wired render cycle shared by every command.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	svc     *dashboard.Service
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

func setup(cmd *cobra.Command) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.wire(cmd.Context()); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	book, err := addressbook.New(mergeLabels(addressbook.DefaultLabels, cfg.Labels))
	if err != nil {
		return fmt.Errorf("address labels: %w", err)
	}
	transformer := parser.NewTransformer(book, cfg.ExplorerURL)

	var (
		src     loader.Loader
		writers []loader.Writer
		chConn  clickhouse.Conn
	)

	openClickHouse := func() (clickhouse.Conn, error) {
		if chConn != nil {
			return chConn, nil
		}
		conn, err := database.NewClickHouseConnection(ctx, cfg.ClickHouseAddr, cfg.ClickHouseDatabase, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		chConn = conn
		return conn, nil
	}

	switch cfg.Source {
	case config.SourceSheets:
		client, err := sheets.NewClient(ctx, sheets.Config{
			CredentialsFile:  cfg.CredentialsFile,
			SpreadsheetID:    cfg.SpreadsheetID,
			SpreadsheetTitle: cfg.SpreadsheetTitle,
			WorksheetIndex:   cfg.WorksheetIndex,
		}, a.logger)
		if err != nil {
			return err
		}
		src = client
		if cfg.WriteBack {
			writers = append(writers, client)
		}
	case config.SourceCSV:
		src = parser.NewCSVParser(cfg.CSVPath)
	case config.SourceClickHouse:
		conn, err := openClickHouse()
		if err != nil {
			return err
		}
		src = database.NewClickHouseStore(conn, a.logger)
	case config.SourcePostgres:
		store, err := postgres.NewStore(ctx, cfg.PGDSN, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store.Close)
		src = store
	}

	for _, mirror := range cfg.Mirrors {
		if mirror == cfg.Source {
			a.logger.Warn("mirror is also the source, skipping", zap.String("mirror", mirror))
			continue
		}
		switch mirror {
		case config.SourceClickHouse:
			conn, err := openClickHouse()
			if err != nil {
				return err
			}
			writers = append(writers, database.NewClickHouseStore(conn, a.logger))
		case config.SourcePostgres:
			store, err := postgres.NewStore(ctx, cfg.PGDSN, a.logger)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, store.Close)
			writers = append(writers, store)
		}
	}

	var writer loader.Writer
	if len(writers) > 0 {
		writer = loader.NewMultiWriter(a.logger, writers...)
	}

	a.svc = dashboard.NewService(cfg.Source, src, transformer, aggregator.NewAggregator(), writer, a.logger)
	a.logger.Info("dashboard wired",
		zap.String("source", cfg.Source),
		zap.Int("labels", book.Len()),
		zap.Int("writers", len(writers)),
	)
	return nil
}

// session builds the render session of the one-shot commands from config.
func session(cfg config.Config) (models.Session, error) {
	filter, err := aggregator.ParseFilter(cfg.Start, cfg.End, cfg.Wallet)
	if err != nil {
		return models.Session{}, err
	}
	return models.Session{Page: models.ParsePage(cfg.Page), Filter: filter}, nil
}

func (a *app) report(ctx context.Context, w io.Writer) error {
	s, err := session(a.cfg)
	if err != nil {
		return err
	}
	views, err := a.svc.Render(ctx, s)
	if err != nil {
		return err
	}
	utils.DisplayViews(w, s.Page, views)
	return nil
}

func (a *app) export(ctx context.Context) error {
	s, err := session(a.cfg)
	if err != nil {
		return err
	}
	views, err := a.svc.Render(ctx, s)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, views.Transactions); err != nil {
		return err
	}
	if err := os.WriteFile(a.cfg.Out, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", a.cfg.Out, err)
	}
	a.logger.Info("export written", zap.String("path", a.cfg.Out), zap.Int("rows", len(views.Transactions)))

	if a.cfg.MinIOEndpoint == "" {
		return nil
	}
	store, err := storage.NewMinIOStorage(ctx, storage.MinIOConfig{
		Endpoint:  a.cfg.MinIOEndpoint,
		AccessKey: a.cfg.MinIOAccessKey,
		SecretKey: a.cfg.MinIOSecretKey,
		Bucket:    a.cfg.MinIOBucket,
		UseSSL:    a.cfg.MinIOSSL,
	}, a.logger)
	if err != nil {
		return err
	}
	if _, err := export.NewArchiver(store, a.logger).Archive(ctx, views); err != nil {
		return err
	}
	return nil
}

// mergeLabels overlays configured labels on the defaults.
func mergeLabels(defaults, configured map[string]string) map[string]string {
	merged := make(map[string]string, len(defaults)+len(configured))
	for addr, label := range defaults {
		merged[addressbook.NormalizeAddress(addr)] = label
	}
	for addr, label := range configured {
		merged[addressbook.NormalizeAddress(addr)] = label
	}
	return merged
}
