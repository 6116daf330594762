package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/centralino/tariffa/internal/common"
	"github.com/centralino/tariffa/internal/docstore"
	"github.com/centralino/tariffa/internal/model"
)

const (
	categoriesDoc = "categories.json"
	markupDoc     = "markup.json"
)

// markupDocument persists the operator-set global markup so it survives
// across runs independently of the config file default.
type markupDocument struct {
	UpdatedAt           time.Time       `json:"updated_at"`
	GlobalMarkupPercent decimal.Decimal `json:"global_markup_percent"`
}

// Store persists the category table as a single keyed JSON document and
// hands out immutable Engine snapshots. All writes go through the docstore,
// which snapshots the previous document to a timestamped backup first.
type Store struct {
	docs          *docstore.Store
	locks         *common.KeyedLock
	defaultMarkup decimal.Decimal
}

// NewStore creates the category store. defaultMarkup seeds the global markup
// the first time no markup document exists.
func NewStore(docs *docstore.Store, locks *common.KeyedLock, defaultMarkup decimal.Decimal) *Store {
	return &Store{docs: docs, locks: locks, defaultMarkup: defaultMarkup}
}

// CategoryUpdate carries the partial field set accepted by UpdateCategory.
// Nil pointers leave the field untouched.
type CategoryUpdate struct {
	DisplayName         *string
	Description         *string
	Currency            *string
	Patterns            []string
	PricePerMinute      *decimal.Decimal
	CustomMarkupPercent *decimal.Decimal
	ClearCustomMarkup   bool
	IsActive            *bool
}

// Conflict is a pair of active categories whose pattern sets intersect. An
// ambiguous configuration is a warning, not an error: declaration order
// still decides.
type Conflict struct {
	First    string   `json:"first"`
	Second   string   `json:"second"`
	Patterns []string `json:"patterns"`
}

// Engine builds an immutable classification engine from the current table.
func (s *Store) Engine(ctx context.Context) (*Engine, error) {
	cats, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	return NewEngine(cats), nil
}

// GlobalMarkup returns the persisted global markup percent, falling back to
// the configured default when none was ever set.
func (s *Store) GlobalMarkup(ctx context.Context) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	var doc markupDocument
	err := s.docs.Load(markupDoc, &doc)
	if err != nil {
		if isNotFound(err) {
			return s.defaultMarkup, nil
		}
		return decimal.Zero, err
	}
	return doc.GlobalMarkupPercent, nil
}

// List returns all categories in declaration order.
func (s *Store) List(ctx context.Context) ([]model.Category, error) {
	return s.loadAll(ctx)
}

// Get returns one category by name, or common.ErrNotFound.
func (s *Store) Get(ctx context.Context, name string) (*model.Category, error) {
	cats, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range cats {
		if cats[i].Name == name {
			return &cats[i], nil
		}
	}
	return nil, fmt.Errorf("%w: category %s", common.ErrNotFound, name)
}

// Add creates a new category. It fails when the name already exists, the
// price is negative, or the pattern list is empty. Nothing is written when
// validation fails.
func (s *Store) Add(ctx context.Context, cat model.Category) (*model.Category, error) {
	cat.Name = strings.ToUpper(strings.TrimSpace(cat.Name))
	if cat.Name == "" {
		return nil, fmt.Errorf("category name cannot be empty")
	}
	if cat.Name == model.UnmatchedCategoryName {
		return nil, fmt.Errorf("%w: %s is reserved", common.ErrCategoryExists, cat.Name)
	}
	if cat.PricePerMinute.IsNegative() {
		return nil, fmt.Errorf("%w: %s", common.ErrInvalidPrice, cat.PricePerMinute)
	}
	if len(nonEmptyPatterns(cat.Patterns)) == 0 {
		return nil, common.ErrNoPatterns
	}
	if err := validateMarkup(cat.CustomMarkupPercent); err != nil {
		return nil, err
	}

	s.locks.Lock(categoriesDoc)
	defer s.locks.Unlock(categoriesDoc)

	cats, err := s.loadAllLocked(ctx)
	if err != nil {
		return nil, err
	}
	for _, existing := range cats {
		if existing.Name == cat.Name {
			return nil, fmt.Errorf("%w: %s", common.ErrCategoryExists, cat.Name)
		}
	}

	global, err := s.GlobalMarkup(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	cat.CreatedAt = now
	cat.UpdatedAt = now
	cat.Patterns = nonEmptyPatterns(cat.Patterns)
	cat.IsActive = true
	cat.Position = nextPosition(cats)
	if cat.Currency == "" {
		cat.Currency = "EUR"
	}
	cat.PriceWithMarkup = cat.ComputePriceWithMarkup(global)

	cats = append(cats, cat)
	if err := s.saveAll(cats); err != nil {
		return nil, err
	}

	slog.Info("created category", "name", cat.Name, "price_per_minute", cat.PricePerMinute)
	return &cat, nil
}

// Update applies a partial field set. The marked-up price is recomputed only
// when the base price or the markup override changed.
func (s *Store) Update(ctx context.Context, name string, upd CategoryUpdate) (*model.Category, error) {
	if upd.PricePerMinute != nil && upd.PricePerMinute.IsNegative() {
		return nil, fmt.Errorf("%w: %s", common.ErrInvalidPrice, upd.PricePerMinute)
	}
	if err := validateMarkup(upd.CustomMarkupPercent); err != nil {
		return nil, err
	}
	if upd.Patterns != nil && len(nonEmptyPatterns(upd.Patterns)) == 0 {
		return nil, common.ErrNoPatterns
	}

	s.locks.Lock(categoriesDoc)
	defer s.locks.Unlock(categoriesDoc)

	cats, err := s.loadAllLocked(ctx)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i := range cats {
		if cats[i].Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: category %s", common.ErrNotFound, name)
	}

	cat := &cats[idx]
	repriced := false
	if upd.DisplayName != nil {
		cat.DisplayName = *upd.DisplayName
	}
	if upd.Description != nil {
		cat.Description = *upd.Description
	}
	if upd.Currency != nil {
		cat.Currency = *upd.Currency
	}
	if upd.Patterns != nil {
		cat.Patterns = nonEmptyPatterns(upd.Patterns)
	}
	if upd.IsActive != nil {
		cat.IsActive = *upd.IsActive
	}
	if upd.PricePerMinute != nil {
		cat.PricePerMinute = *upd.PricePerMinute
		repriced = true
	}
	if upd.ClearCustomMarkup {
		cat.CustomMarkupPercent = nil
		repriced = true
	} else if upd.CustomMarkupPercent != nil {
		v := *upd.CustomMarkupPercent
		cat.CustomMarkupPercent = &v
		repriced = true
	}

	if repriced {
		global, err := s.GlobalMarkup(ctx)
		if err != nil {
			return nil, err
		}
		cat.PriceWithMarkup = cat.ComputePriceWithMarkup(global)
	}
	cat.UpdatedAt = time.Now()

	if err := s.saveAll(cats); err != nil {
		return nil, err
	}

	slog.Info("updated category", "name", name, "repriced", repriced)
	out := *cat
	return &out, nil
}

// Delete removes a category. The essential categories are protected.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.locks.Lock(categoriesDoc)
	defer s.locks.Unlock(categoriesDoc)

	cats, err := s.loadAllLocked(ctx)
	if err != nil {
		return err
	}

	idx := -1
	for i := range cats {
		if cats[i].Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: category %s", common.ErrNotFound, name)
	}
	if cats[idx].IsProtected() {
		return fmt.Errorf("%w: %s", common.ErrCategoryProtected, name)
	}

	cats = append(cats[:idx], cats[idx+1:]...)
	if err := s.saveAll(cats); err != nil {
		return err
	}

	slog.Info("deleted category", "name", name)
	return nil
}

// SetGlobalMarkup persists a new global markup and recomputes the marked-up
// price of every category without a custom override, in one document swap.
// Categories carrying an override are untouched.
func (s *Store) SetGlobalMarkup(ctx context.Context, percent decimal.Decimal) error {
	if err := validateMarkup(&percent); err != nil {
		return err
	}

	s.locks.Lock(categoriesDoc)
	defer s.locks.Unlock(categoriesDoc)

	cats, err := s.loadAllLocked(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for i := range cats {
		if cats[i].CustomMarkupPercent != nil {
			continue
		}
		cats[i].PriceWithMarkup = cats[i].ComputePriceWithMarkup(percent)
		cats[i].UpdatedAt = now
	}

	// The markup document goes first: if the category write fails, a later
	// Add or Update still reprices against the percent just set, instead of
	// a table that outran its persisted markup.
	if err := s.docs.Save(markupDoc, markupDocument{
		GlobalMarkupPercent: percent,
		UpdatedAt:           now,
	}); err != nil {
		return err
	}
	if err := s.saveAll(cats); err != nil {
		return err
	}

	slog.Info("global markup updated", "percent", percent)
	return nil
}

// ListConflicts returns every pair of active categories whose pattern sets
// intersect (case-insensitive).
func (s *Store) ListConflicts(ctx context.Context) ([]Conflict, error) {
	cats, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]model.Category, 0, len(cats))
	for _, c := range cats {
		if c.IsActive {
			active = append(active, c)
		}
	}

	var conflicts []Conflict
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			shared := sharedPatterns(active[i].Patterns, active[j].Patterns)
			if len(shared) > 0 {
				conflicts = append(conflicts, Conflict{
					First:    active[i].Name,
					Second:   active[j].Name,
					Patterns: shared,
				})
			}
		}
	}
	return conflicts, nil
}

// SeedDefaults creates the protected essential categories on first run. It
// is a no-op when the document already exists.
func (s *Store) SeedDefaults(ctx context.Context) error {
	s.locks.Lock(categoriesDoc)
	defer s.locks.Unlock(categoriesDoc)

	if s.docs.Exists(categoriesDoc) {
		return nil
	}

	global, err := s.GlobalMarkup(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	defaults := []model.Category{
		{
			Name:           "FISSI",
			DisplayName:    "Chiamate fisso nazionale",
			Patterns:       []string{"urbana", "interurbana", "fisso", "nazionale"},
			PricePerMinute: decimal.RequireFromString("0.02"),
		},
		{
			Name:           "MOBILE",
			DisplayName:    "Chiamate mobile nazionale",
			Patterns:       []string{"mobile", "cellulare", "gsm"},
			PricePerMinute: decimal.RequireFromString("0.09"),
		},
	}
	for i := range defaults {
		defaults[i].Currency = "EUR"
		defaults[i].IsActive = true
		defaults[i].Position = i
		defaults[i].CreatedAt = now
		defaults[i].UpdatedAt = now
		defaults[i].PriceWithMarkup = defaults[i].ComputePriceWithMarkup(global)
	}

	if err := s.saveAll(defaults); err != nil {
		return err
	}
	slog.Info("seeded default categories", "count", len(defaults))
	return nil
}

// loadAll reads the category document under the document lock.
func (s *Store) loadAll(ctx context.Context) ([]model.Category, error) {
	s.locks.Lock(categoriesDoc)
	defer s.locks.Unlock(categoriesDoc)
	return s.loadAllLocked(ctx)
}

func (s *Store) loadAllLocked(ctx context.Context) ([]model.Category, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := make(map[string]model.Category)
	err := s.docs.Load(categoriesDoc, &doc)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	cats := make([]model.Category, 0, len(doc))
	for name, cat := range doc {
		cat.Name = name
		cats = append(cats, cat)
	}
	sort.SliceStable(cats, func(i, j int) bool {
		return cats[i].Position < cats[j].Position
	})
	return cats, nil
}

func (s *Store) saveAll(cats []model.Category) error {
	doc := make(map[string]model.Category, len(cats))
	for _, cat := range cats {
		doc[cat.Name] = cat
	}
	return s.docs.Save(categoriesDoc, doc)
}

func validateMarkup(pct *decimal.Decimal) error {
	if pct == nil {
		return nil
	}
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(1000)) {
		return fmt.Errorf("%w: %s", common.ErrInvalidMarkup, pct)
	}
	return nil
}

func nonEmptyPatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func nextPosition(cats []model.Category) int {
	next := 0
	for _, c := range cats {
		if c.Position >= next {
			next = c.Position + 1
		}
	}
	return next
}

func sharedPatterns(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, p := range a {
		seen[strings.ToLower(strings.TrimSpace(p))] = true
	}
	var shared []string
	for _, p := range b {
		key := strings.ToLower(strings.TrimSpace(p))
		if seen[key] {
			shared = append(shared, key)
		}
	}
	sort.Strings(shared)
	return shared
}

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}
