package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnmatchedCategoryName is the synthetic bucket for call types that match no
// configured pattern. It always prices at zero.
const UnmatchedCategoryName = "ALTRO"

// ProtectedCategories cannot be deleted; the pipeline depends on them
// existing.
var ProtectedCategories = []string{"FISSI", "MOBILE"}

// Category is a billing classification bucket. Patterns are matched against a
// record's raw call-type label in declaration order; Position preserves that
// order across document round-trips.
type Category struct {
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
	Name                string           `json:"name"`
	DisplayName         string           `json:"display_name"`
	Description         string           `json:"description"`
	Currency            string           `json:"currency"`
	Patterns            []string         `json:"patterns"`
	PricePerMinute      decimal.Decimal  `json:"price_per_minute"`
	PriceWithMarkup     decimal.Decimal  `json:"price_with_markup"`
	CustomMarkupPercent *decimal.Decimal `json:"custom_markup_percent"`
	Position            int              `json:"position"`
	IsActive            bool             `json:"is_active"`
}

// EffectiveMarkup returns the markup percent this category prices with: its
// own override when set, the global markup otherwise.
func (c *Category) EffectiveMarkup(globalPercent decimal.Decimal) decimal.Decimal {
	if c.CustomMarkupPercent != nil {
		return *c.CustomMarkupPercent
	}
	return globalPercent
}

// ComputePriceWithMarkup derives the marked-up per-minute price.
func (c *Category) ComputePriceWithMarkup(globalPercent decimal.Decimal) decimal.Decimal {
	markup := c.EffectiveMarkup(globalPercent)
	factor := decimal.NewFromInt(1).Add(markup.Div(decimal.NewFromInt(100)))
	return c.PricePerMinute.Mul(factor).Round(4)
}

// IsProtected reports whether the category is one of the essential
// categories that cannot be deleted.
func (c *Category) IsProtected() bool {
	for _, name := range ProtectedCategories {
		if c.Name == name {
			return true
		}
	}
	return false
}

// UnmatchedCategory returns the synthetic zero-price category used when no
// pattern matches.
func UnmatchedCategory() Category {
	return Category{
		Name:        UnmatchedCategoryName,
		DisplayName: "Altro / non classificato",
		Currency:    "EUR",
		IsActive:    true,
	}
}
