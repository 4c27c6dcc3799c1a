package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Data sources selectable with --source.
const (
	SourceSheets     = "sheets"
	SourceCSV        = "csv"
	SourceClickHouse = "clickhouse"
	SourcePostgres   = "postgres"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Source           string
	CredentialsFile  string
	SpreadsheetID    string
	SpreadsheetTitle string
	WorksheetIndex   int
	CSVPath          string
	ExplorerURL      string
	Labels           map[string]string
	Mirrors          []string
	WriteBack        bool

	ClickHouseAddr     string
	ClickHouseDatabase string
	PGDSN              string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOSSL       bool

	Listen          string
	RefreshInterval time.Duration
	LogLevel        string

	Start  string
	End    string
	Wallet string
	Page   string
	Out    string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DASHBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("source", SourceSheets)
	v.SetDefault("credentials", "credentials/dataset-hackathon.json")
	v.SetDefault("spreadsheet-title", "PYUSD Transaction Log")
	v.SetDefault("worksheet", 0)
	v.SetDefault("csv-path", "data/pyusd_transactions.csv")
	v.SetDefault("explorer-url", "https://etherscan.io/address/")
	v.SetDefault("write-back", true)
	v.SetDefault("clickhouse-addr", "127.0.0.1:9000")
	v.SetDefault("clickhouse-database", "default")
	v.SetDefault("minio-bucket", "pyusd-exports")
	v.SetDefault("listen", ":8080")
	v.SetDefault("refresh-interval", 120*time.Second)
	v.SetDefault("log-level", "info")
	v.SetDefault("page", "home")
	v.SetDefault("out", "filtered_pyusd.csv")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Source:             strings.ToLower(v.GetString("source")),
		CredentialsFile:    v.GetString("credentials"),
		SpreadsheetID:      v.GetString("spreadsheet-id"),
		SpreadsheetTitle:   v.GetString("spreadsheet-title"),
		WorksheetIndex:     v.GetInt("worksheet"),
		CSVPath:            v.GetString("csv-path"),
		ExplorerURL:        v.GetString("explorer-url"),
		Labels:             v.GetStringMapString("labels"),
		Mirrors:            normalizeList(v.GetStringSlice("mirrors")),
		WriteBack:          v.GetBool("write-back"),
		ClickHouseAddr:     v.GetString("clickhouse-addr"),
		ClickHouseDatabase: v.GetString("clickhouse-database"),
		PGDSN:              v.GetString("pg-dsn"),
		MinIOEndpoint:      v.GetString("minio-endpoint"),
		MinIOAccessKey:     v.GetString("minio-access-key"),
		MinIOSecretKey:     v.GetString("minio-secret-key"),
		MinIOBucket:        v.GetString("minio-bucket"),
		MinIOSSL:           v.GetBool("minio-ssl"),
		Listen:             v.GetString("listen"),
		RefreshInterval:    v.GetDuration("refresh-interval"),
		LogLevel:           v.GetString("log-level"),
		Start:              v.GetString("start"),
		End:                v.GetString("end"),
		Wallet:             v.GetString("wallet"),
		Page:               v.GetString("page"),
		Out:                v.GetString("out"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the source and mirror names.
func (c Config) Validate() error {
	switch c.Source {
	case SourceSheets, SourceCSV, SourceClickHouse, SourcePostgres:
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}
	for _, m := range c.Mirrors {
		if m != SourceClickHouse && m != SourcePostgres {
			return fmt.Errorf("unknown mirror %q", m)
		}
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %s", c.RefreshInterval)
	}
	return nil
}

// normalizeList splits comma-joined values and drops blanks.
func normalizeList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
