package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/estensen/pyusd-dashboard/internal/api"
	"github.com/estensen/pyusd-dashboard/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:          "pyusd-dashboard",
		Short:        "PYUSD transfers dashboard",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file path")
	pf.String("source", config.SourceSheets, "data source (sheets, csv, clickhouse, postgres)")
	pf.String("credentials", "credentials/dataset-hackathon.json", "Google service account JSON")
	pf.String("spreadsheet-id", "", "spreadsheet ID (looked up by title when empty)")
	pf.String("spreadsheet-title", "PYUSD Transaction Log", "spreadsheet title")
	pf.Int("worksheet", 0, "worksheet index")
	pf.String("csv-path", "data/pyusd_transactions.csv", "CSV export of the transaction log")
	pf.String("explorer-url", "https://etherscan.io/address/", "block explorer address URL prefix")
	pf.StringSlice("mirrors", nil, "extra stores to persist to on sync (clickhouse, postgres)")
	pf.Bool("write-back", true, "write the dataset back to the spreadsheet on sync")
	pf.String("clickhouse-addr", "127.0.0.1:9000", "ClickHouse address")
	pf.String("clickhouse-database", "default", "ClickHouse database")
	pf.String("pg-dsn", "", "Postgres DSN")
	pf.String("start", "", "filter start date (YYYY-MM-DD)")
	pf.String("end", "", "filter end date (YYYY-MM-DD)")
	pf.String("wallet", "", "filter by wallet address substring")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard over HTTP",
		RunE:  runServe,
	}
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().Duration("refresh-interval", 120*time.Second, "auto-refresh interval")
	root.AddCommand(serveCmd)

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Print one view as a table",
		RunE:  runReport,
	}
	reportCmd.Flags().String("page", "home", "view to print (home, transactions, tags)")
	root.AddCommand(reportCmd)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the filtered transactions as CSV",
		RunE:  runExport,
	}
	exportCmd.Flags().String("out", "filtered_pyusd.csv", "output CSV path")
	exportCmd.Flags().String("minio-endpoint", "", "MinIO endpoint; uploads the export when set")
	exportCmd.Flags().String("minio-access-key", "", "MinIO access key")
	exportCmd.Flags().String("minio-secret-key", "", "MinIO secret key")
	exportCmd.Flags().String("minio-bucket", "pyusd-exports", "MinIO bucket")
	exportCmd.Flags().Bool("minio-ssl", false, "use TLS for MinIO")
	root.AddCommand(exportCmd)

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Write the full dataset to the configured writers",
		RunE:  runSync,
	}
	root.AddCommand(syncCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	hub := api.NewHub(a.logger)
	server := api.NewServer(a.svc, hub, a.cfg.RefreshInterval, a.logger)

	g, gCtx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return server.Run(gCtx, a.cfg.Listen)
	})
	g.Go(func() error {
		return hub.Run(gCtx, a.cfg.RefreshInterval)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		a.logger.Error("dashboard exited with error", zap.Error(err))
		return err
	}
	a.logger.Info("dashboard shut down gracefully")
	return nil
}

func runReport(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.report(cmd.Context(), cmd.OutOrStdout())
}

func runExport(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.export(cmd.Context())
}

func runSync(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.svc.Persist(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Synced %d transactions.\n", n)
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
