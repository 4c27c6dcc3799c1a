package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, SourceSheets, cfg.Source)
	assert.Equal(t, "PYUSD Transaction Log", cfg.SpreadsheetTitle)
	assert.Equal(t, "https://etherscan.io/address/", cfg.ExplorerURL)
	assert.Equal(t, 120*time.Second, cfg.RefreshInterval)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.True(t, cfg.WriteBack)
	assert.Empty(t, cfg.Mirrors)
}

func TestLoadConfigFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
source: csv
csv-path: /tmp/transfers.csv
mirrors: [clickhouse, postgres]
refresh-interval: 30s
labels:
  "0x264bd8291fae1d75db2c5f573b07faa6715997b5": Paxos 4
`), 0o600))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("wallet", "", "")
	flags.String("source", "", "")
	require.NoError(t, flags.Parse([]string{"--wallet", "264bd8"}))

	cfg, err := Load(cfgFile, flags)
	require.NoError(t, err)

	assert.Equal(t, SourceCSV, cfg.Source, "unset flag does not override the file")
	assert.Equal(t, "/tmp/transfers.csv", cfg.CSVPath)
	assert.Equal(t, "264bd8", cfg.Wallet)
	assert.Equal(t, 30*time.Second, cfg.RefreshInterval)
	assert.Contains(t, cfg.Mirrors, SourcePostgres)
	assert.Equal(t, "Paxos 4", cfg.Labels["0x264bd8291fae1d75db2c5f573b07faa6715997b5"])
}

func TestLoadEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DASHBOARD_SOURCE", "postgres")
	t.Setenv("DASHBOARD_PG_DSN", "postgres://localhost/pyusd")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, SourcePostgres, cfg.Source)
	assert.Equal(t, "postgres://localhost/pyusd", cfg.PGDSN)
}

func TestValidate(t *testing.T) {
	base := Config{Source: SourceSheets, RefreshInterval: time.Minute}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown source", mutate: func(c *Config) { c.Source = "excel" }, wantErr: true},
		{name: "unknown mirror", mutate: func(c *Config) { c.Mirrors = []string{"redis"} }, wantErr: true},
		{name: "zero refresh", mutate: func(c *Config) { c.RefreshInterval = 0 }, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := base
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNormalizeList(t *testing.T) {
	assert.Equal(t, []string{"clickhouse", "postgres"}, normalizeList([]string{"ClickHouse, postgres", " "}))
}
