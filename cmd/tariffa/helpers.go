package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/centralino/tariffa/internal/aggregate"
	"github.com/centralino/tariffa/internal/common"
	"github.com/centralino/tariffa/internal/config"
	"github.com/centralino/tariffa/internal/docstore"
	"github.com/centralino/tariffa/internal/model"
	"github.com/centralino/tariffa/internal/pricing"
	"github.com/centralino/tariffa/internal/registry"
	"github.com/centralino/tariffa/internal/storage"
)

// app is the wired pipeline: every command builds one from the immutable
// config and tears it down when done.
type app struct {
	cfg      *config.Config
	ledger   *storage.SQLiteStorage
	docs     *docstore.Store
	locks    *common.KeyedLock
	pricing  *pricing.Store
	registry *registry.Registry
	reports  *aggregate.Store
}

// initApp loads the config and opens storage with migrations applied.
func initApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	ledger, err := storage.NewSQLiteStorage(cfg.LedgerPath())
	if err != nil {
		return nil, err
	}
	if err := ledger.Migrate(ctx); err != nil {
		ledger.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	docs, err := docstore.New(cfg.DataDir, cfg.BackupRetention)
	if err != nil {
		ledger.Close()
		return nil, err
	}

	locks := common.NewKeyedLock()
	pricingStore := pricing.NewStore(docs, locks, cfg.GlobalMarkupPercent)
	if err := pricingStore.SeedDefaults(ctx); err != nil {
		ledger.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		ledger:   ledger,
		docs:     docs,
		locks:    locks,
		pricing:  pricingStore,
		registry: registry.New(docs, locks),
		reports:  aggregate.NewStore(docs, locks),
	}, nil
}

// close releases storage.
func (a *app) close() {
	_ = a.ledger.Close()
}

// parsePeriod parses "YYYY-MM" or "YYYY" into a period.
func parsePeriod(s string) (model.Period, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return model.Period{}, fmt.Errorf("invalid period %q: %w", s, err)
	}
	p := model.Period{Year: year}
	if len(parts) == 2 {
		month, err := strconv.Atoi(parts[1])
		if err != nil || month < 1 || month > 12 {
			return model.Period{}, fmt.Errorf("invalid period %q: month out of range", s)
		}
		p.Month = month
	}
	if !p.Valid() {
		return model.Period{}, fmt.Errorf("invalid period %q", s)
	}
	return p, nil
}
