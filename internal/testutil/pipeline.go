// Package testutil provides test fixtures for the pipeline: an in-memory
// ledger database and a tempdir-backed document store, wired the same way
// the CLI wires them.
package testutil

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/centralino/tariffa/internal/aggregate"
	"github.com/centralino/tariffa/internal/common"
	"github.com/centralino/tariffa/internal/docstore"
	"github.com/centralino/tariffa/internal/pricing"
	"github.com/centralino/tariffa/internal/registry"
	"github.com/centralino/tariffa/internal/storage"
)

// Pipeline bundles the stores a test needs.
type Pipeline struct {
	Ledger   *storage.SQLiteStorage
	Docs     *docstore.Store
	Locks    *common.KeyedLock
	Pricing  *pricing.Store
	Registry *registry.Registry
	Reports  *aggregate.Store
}

// SetupPipeline creates an in-memory ledger and a tempdir document store
// with migrations applied and default categories seeded. Cleanup is
// registered on t.
func SetupPipeline(t *testing.T) *Pipeline {
	t.Helper()

	ledger, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test ledger: %v", err)
	}
	t.Cleanup(func() { _ = ledger.Close() })

	ctx := context.Background()
	if err := ledger.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	docs, err := docstore.New(t.TempDir(), 5)
	if err != nil {
		t.Fatalf("failed to create docstore: %v", err)
	}

	locks := common.NewKeyedLock()
	pricingStore := pricing.NewStore(docs, locks, decimal.NewFromInt(10))
	if err := pricingStore.SeedDefaults(ctx); err != nil {
		t.Fatalf("failed to seed categories: %v", err)
	}

	return &Pipeline{
		Ledger:   ledger,
		Docs:     docs,
		Locks:    locks,
		Pricing:  pricingStore,
		Registry: registry.New(docs, locks),
		Reports:  aggregate.NewStore(docs, locks),
	}
}
