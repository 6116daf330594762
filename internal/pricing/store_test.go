package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/centralino/tariffa/internal/common"
	"github.com/centralino/tariffa/internal/docstore"
	"github.com/centralino/tariffa/internal/model"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	docs, err := docstore.New(t.TempDir(), 5)
	if err != nil {
		t.Fatalf("docstore.New: %v", err)
	}
	store := NewStore(docs, common.NewKeyedLock(), decimal.NewFromInt(10))
	if err := store.SeedDefaults(context.Background()); err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	return store
}

func TestStore_SeedDefaults(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	cats, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(cats) != 2 {
		t.Fatalf("got %d seeded categories, want 2", len(cats))
	}
	if cats[0].Name != "FISSI" || cats[1].Name != "MOBILE" {
		t.Errorf("seeded names %s, %s", cats[0].Name, cats[1].Name)
	}

	// Seeding again must not duplicate.
	if err := store.SeedDefaults(ctx); err != nil {
		t.Fatalf("second SeedDefaults: %v", err)
	}
	cats, _ = store.List(ctx)
	if len(cats) != 2 {
		t.Errorf("reseed changed the table: %d categories", len(cats))
	}
}

func TestStore_AddValidation(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	tests := []struct {
		wantErr error
		name    string
		cat     model.Category
	}{
		{
			name:    "duplicate name",
			cat:     model.Category{Name: "FISSI", Patterns: []string{"x"}, PricePerMinute: dec("0.01")},
			wantErr: common.ErrCategoryExists,
		},
		{
			name:    "negative price",
			cat:     model.Category{Name: "NEG", Patterns: []string{"x"}, PricePerMinute: dec("-0.01")},
			wantErr: common.ErrInvalidPrice,
		},
		{
			name:    "empty patterns",
			cat:     model.Category{Name: "EMPTY", PricePerMinute: dec("0.01")},
			wantErr: common.ErrNoPatterns,
		},
		{
			name:    "blank patterns count as empty",
			cat:     model.Category{Name: "BLANK", Patterns: []string{"  ", ""}, PricePerMinute: dec("0.01")},
			wantErr: common.ErrNoPatterns,
		},
		{
			name:    "reserved name",
			cat:     model.Category{Name: model.UnmatchedCategoryName, Patterns: []string{"x"}, PricePerMinute: dec("0.01")},
			wantErr: common.ErrCategoryExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Add(ctx, tt.cat)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Add error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// Failed adds must not have written anything.
	cats, _ := store.List(ctx)
	if len(cats) != 2 {
		t.Errorf("failed adds leaked into the table: %d categories", len(cats))
	}
}

func TestStore_AddComputesMarkupPrice(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	created, err := store.Add(ctx, model.Category{
		Name:           "INTERNAZIONALI",
		Patterns:       []string{"internazionale", "estero"},
		PricePerMinute: dec("0.30"),
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	// Global markup is 10%.
	if !created.PriceWithMarkup.Equal(dec("0.33")) {
		t.Errorf("PriceWithMarkup = %s, want 0.33", created.PriceWithMarkup)
	}
	if created.Position != 2 {
		t.Errorf("Position = %d, want 2 (appended after seeds)", created.Position)
	}
}

func TestStore_UpdatePartial(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	before, _ := store.Get(ctx, "FISSI")

	// A description-only update must not reprice.
	desc := "landline calls"
	updated, err := store.Update(ctx, "FISSI", CategoryUpdate{Description: &desc})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !updated.PriceWithMarkup.Equal(before.PriceWithMarkup) {
		t.Errorf("description update repriced: %s -> %s", before.PriceWithMarkup, updated.PriceWithMarkup)
	}

	// A price update reprices with the global markup.
	price := dec("0.04")
	updated, err = store.Update(ctx, "FISSI", CategoryUpdate{PricePerMinute: &price})
	if err != nil {
		t.Fatalf("Update price: %v", err)
	}
	if !updated.PriceWithMarkup.Equal(dec("0.044")) {
		t.Errorf("PriceWithMarkup = %s, want 0.044", updated.PriceWithMarkup)
	}

	// A custom markup overrides the global one.
	custom := dec("50")
	updated, err = store.Update(ctx, "FISSI", CategoryUpdate{CustomMarkupPercent: &custom})
	if err != nil {
		t.Fatalf("Update markup: %v", err)
	}
	if !updated.PriceWithMarkup.Equal(dec("0.06")) {
		t.Errorf("PriceWithMarkup = %s, want 0.06", updated.PriceWithMarkup)
	}

	if _, err := store.Update(ctx, "MISSING", CategoryUpdate{}); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("updating a missing category: err = %v, want ErrNotFound", err)
	}
}

func TestStore_DeleteProtected(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	for _, name := range model.ProtectedCategories {
		if err := store.Delete(ctx, name); !errors.Is(err, common.ErrCategoryProtected) {
			t.Errorf("Delete(%s) = %v, want ErrCategoryProtected", name, err)
		}
	}

	if _, err := store.Add(ctx, model.Category{
		Name: "TEMP", Patterns: []string{"temp"}, PricePerMinute: dec("0.01"),
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Delete(ctx, "TEMP"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "TEMP"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("deleted category still present")
	}
}

func TestStore_SetGlobalMarkup(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	// Give MOBILE a custom override; it must survive the global change.
	custom := dec("30")
	if _, err := store.Update(ctx, "MOBILE", CategoryUpdate{CustomMarkupPercent: &custom}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	mobileBefore, _ := store.Get(ctx, "MOBILE")

	if err := store.SetGlobalMarkup(ctx, dec("20")); err != nil {
		t.Fatalf("SetGlobalMarkup: %v", err)
	}

	fissi, _ := store.Get(ctx, "FISSI")
	if !fissi.PriceWithMarkup.Equal(dec("0.024")) {
		t.Errorf("FISSI PriceWithMarkup = %s, want 0.024 (0.02 * 1.20)", fissi.PriceWithMarkup)
	}

	mobile, _ := store.Get(ctx, "MOBILE")
	if !mobile.PriceWithMarkup.Equal(mobileBefore.PriceWithMarkup) {
		t.Errorf("custom-markup category changed: %s -> %s", mobileBefore.PriceWithMarkup, mobile.PriceWithMarkup)
	}

	// The new percent is durable.
	got, err := store.GlobalMarkup(ctx)
	if err != nil {
		t.Fatalf("GlobalMarkup: %v", err)
	}
	if !got.Equal(dec("20")) {
		t.Errorf("GlobalMarkup = %s, want 20", got)
	}

	if err := store.SetGlobalMarkup(ctx, dec("-1")); !errors.Is(err, common.ErrInvalidMarkup) {
		t.Errorf("negative markup accepted: %v", err)
	}
}

func TestStore_SetGlobalMarkupIsDurableAcrossStores(t *testing.T) {
	docs, err := docstore.New(t.TempDir(), 5)
	if err != nil {
		t.Fatalf("docstore.New: %v", err)
	}
	ctx := context.Background()

	store := NewStore(docs, common.NewKeyedLock(), decimal.NewFromInt(10))
	if err := store.SeedDefaults(ctx); err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	if err := store.SetGlobalMarkup(ctx, dec("20")); err != nil {
		t.Fatalf("SetGlobalMarkup: %v", err)
	}

	// A fresh store over the same documents reprices against the persisted
	// percent, not its own configured default.
	fresh := NewStore(docs, common.NewKeyedLock(), decimal.NewFromInt(99))
	created, err := fresh.Add(ctx, model.Category{
		Name:           "INTERNAZIONALI",
		Patterns:       []string{"estero"},
		PricePerMinute: dec("0.30"),
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !created.PriceWithMarkup.Equal(dec("0.36")) {
		t.Errorf("PriceWithMarkup = %s, want 0.36 (0.30 * 1.20)", created.PriceWithMarkup)
	}
}

func TestStore_ListConflicts(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	conflicts, err := store.ListConflicts(ctx)
	if err != nil {
		t.Fatalf("ListConflicts: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("seed table should have no conflicts, got %d", len(conflicts))
	}

	// Add a category sharing a pattern with FISSI.
	if _, err := store.Add(ctx, model.Category{
		Name:           "SPECIALI",
		Patterns:       []string{"Urbana", "numero verde"},
		PricePerMinute: dec("0.10"),
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	conflicts, err = store.ListConflicts(ctx)
	if err != nil {
		t.Fatalf("ListConflicts: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1", len(conflicts))
	}
	c := conflicts[0]
	if c.First != "FISSI" || c.Second != "SPECIALI" {
		t.Errorf("conflict pair = %s/%s", c.First, c.Second)
	}
	if len(c.Patterns) != 1 || c.Patterns[0] != "urbana" {
		t.Errorf("shared patterns = %v, want [urbana]", c.Patterns)
	}
}
