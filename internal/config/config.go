package config

import (
	"fmt"
	"path/filepath"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/centralino/tariffa/internal/common"
)

// Config is the resolved runtime configuration. It is constructed once in
// main from viper and passed down; components never read viper or the
// environment themselves.
type Config struct {
	// DataDir is the root for everything the pipeline persists: the ledger
	// database, category document, contract registry, aggregates, reports.
	DataDir string

	// InboxDir is where fetched CDR files land before ingestion.
	InboxDir string

	// GlobalMarkupPercent applies to every category without a custom
	// override.
	GlobalMarkupPercent decimal.Decimal

	// BackupRetention bounds how many timestamped backups each document
	// keeps.
	BackupRetention int

	// ERPEndpoint is the XML-RPC URL charges are submitted to. Empty means
	// billing runs against the mock biller.
	ERPEndpoint string
	ERPDatabase string
	ERPUser     string
	ERPPassword string
}

// Load resolves the configuration from viper into an immutable Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:         ExpandPath(viper.GetString("data_dir")),
		InboxDir:        ExpandPath(viper.GetString("inbox_dir")),
		BackupRetention: viper.GetInt("backup_retention"),
		ERPEndpoint:     viper.GetString("erp.endpoint"),
		ERPDatabase:     viper.GetString("erp.database"),
		ERPUser:         viper.GetString("erp.user"),
		ERPPassword:     viper.GetString("erp.password"),
	}

	if cfg.DataDir == "" {
		home := ExpandPath("~")
		cfg.DataDir = filepath.Join(home, ".local", "share", "tariffa")
	}
	if cfg.InboxDir == "" {
		cfg.InboxDir = filepath.Join(cfg.DataDir, "inbox")
	}
	if cfg.BackupRetention <= 0 {
		cfg.BackupRetention = 5
	}

	markup := viper.GetString("global_markup_percent")
	if markup == "" {
		markup = "0"
	}
	pct, err := decimal.NewFromString(markup)
	if err != nil {
		return nil, fmt.Errorf("%w: global_markup_percent %q", common.ErrInvalidConfig, markup)
	}
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(1000)) {
		return nil, fmt.Errorf("%w: global_markup_percent %s", common.ErrInvalidMarkup, pct)
	}
	cfg.GlobalMarkupPercent = pct

	return cfg, nil
}

// LedgerPath is the sqlite database holding call records, the file-hash
// ledger, and the billing ledger.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "tariffa.db")
}

// CategoriesPath is the category table document.
func (c *Config) CategoriesPath() string {
	return filepath.Join(c.DataDir, "categories.json")
}

// RegistryPath is the contract registry document.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.DataDir, "contracts.json")
}

// AggregatesDir holds one aggregate document per period.
func (c *Config) AggregatesDir() string {
	return filepath.Join(c.DataDir, "aggregates")
}

// ReportsDir holds per-contract period report documents.
func (c *Config) ReportsDir() string {
	return filepath.Join(c.DataDir, "reports")
}
