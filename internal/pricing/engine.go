// Package pricing implements call classification and markup pricing.
//
// Classification is a case-insensitive substring test of a record's raw
// call-type label against each active category's pattern list, walking
// categories in declaration order. The first matching pattern wins; this
// tie-break is the contract, not an accident of iteration order.
package pricing

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/centralino/tariffa/internal/model"
)

// matchRule is one compiled (pattern, category) pair in match order.
type matchRule struct {
	pattern  string
	category string
}

// Engine classifies call types and prices durations. An Engine is an
// immutable snapshot of the category table: writers build a fresh Engine
// after every table change, so readers never observe a half-updated table.
type Engine struct {
	categories map[string]model.Category
	rules      []matchRule
	unmatched  model.Category
}

// NewEngine compiles an engine from a category snapshot. Inactive categories
// do not contribute rules.
func NewEngine(categories []model.Category) *Engine {
	ordered := make([]model.Category, len(categories))
	copy(ordered, categories)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Position < ordered[j].Position
	})

	e := &Engine{
		categories: make(map[string]model.Category, len(ordered)),
		unmatched:  model.UnmatchedCategory(),
	}
	for _, cat := range ordered {
		e.categories[cat.Name] = cat
		if !cat.IsActive {
			continue
		}
		for _, p := range cat.Patterns {
			p = strings.ToLower(strings.TrimSpace(p))
			if p == "" {
				continue
			}
			e.rules = append(e.rules, matchRule{pattern: p, category: cat.Name})
		}
	}
	return e
}

// Classify maps a raw call-type label to its category. No match returns the
// synthetic unmatched category, which prices at zero.
func (e *Engine) Classify(callType string) model.Category {
	needle := strings.ToLower(strings.TrimSpace(callType))
	if needle == "" {
		return e.unmatched
	}
	for _, rule := range e.rules {
		if strings.Contains(needle, rule.pattern) {
			return e.categories[rule.category]
		}
	}
	return e.unmatched
}

// Price computes the marked-up cost of a call: price_with_markup per minute,
// fractional minutes billed proportionally.
func (e *Engine) Price(cat model.Category, durationSeconds int) decimal.Decimal {
	if durationSeconds <= 0 {
		return decimal.Zero
	}
	minutes := decimal.NewFromInt(int64(durationSeconds)).Div(decimal.NewFromInt(60))
	return cat.PriceWithMarkup.Mul(minutes).Round(4)
}

// Categories returns the snapshot's categories in declaration order.
func (e *Engine) Categories() []model.Category {
	out := make([]model.Category, 0, len(e.categories))
	for _, cat := range e.categories {
		out = append(out, cat)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Position < out[j].Position
	})
	return out
}
