package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a decimal monetary amount in the store currency.
type Money = decimal.Decimal

// ErrInvalidPrice is returned when a catalog price column holds a value that
// is not a non-negative decimal number.
var ErrInvalidPrice = errors.New("invalid price")

// ErrUnknownProduct is returned by catalog sources for a product or variant
// they do not sell.
var ErrUnknownProduct = errors.New("unknown product")

// Tier identifies the membership level used to select a price column.
type Tier string

const (
	TierNone     Tier = "none"
	TierVIP      Tier = "vip"
	TierPlatinum Tier = "platinum"
)

// ParseTier normalises a tier name; anything unknown maps to TierNone.
func ParseTier(value string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(value))) {
	case TierVIP:
		return TierVIP
	case TierPlatinum:
		return TierPlatinum
	default:
		return TierNone
	}
}

// CatalogEntry is the product (or variant) as the catalog serves it. Price
// columns are decimal strings; an empty column is absent.
type CatalogEntry struct {
	ProductID     string `json:"productId"`
	VariantID     string `json:"variantId,omitempty"`
	Name          string `json:"name"`
	BasePrice     string `json:"basePrice,omitempty"`
	VIPPrice      string `json:"vipPrice,omitempty"`
	PlatinumPrice string `json:"platinumPrice,omitempty"`
	RentalMode    string `json:"rentalMode,omitempty"`
}

func (e CatalogEntry) tierColumn(tier Tier) string {
	switch tier {
	case TierVIP:
		return e.VIPPrice
	case TierPlatinum:
		return e.PlatinumPrice
	default:
		return ""
	}
}

// ResolveUnitPrice picks the unit price for a tier: the tier column when
// present, then the base price, then zero. A present but corrupt column stops
// the chain with ErrInvalidPrice.
func ResolveUnitPrice(entry CatalogEntry, tier Tier) (Money, error) {
	if raw := entry.tierColumn(tier); strings.TrimSpace(raw) != "" {
		return parsePrice(raw, string(tier))
	}
	if strings.TrimSpace(entry.BasePrice) != "" {
		return parsePrice(entry.BasePrice, "base")
	}
	return decimal.Zero, nil
}

func parsePrice(raw, column string) (Money, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s price %q is not numeric", ErrInvalidPrice, column, raw)
	}
	if v.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s price %s is negative", ErrInvalidPrice, column, v.String())
	}
	return v, nil
}

// LineTotal multiplies a unit price by the duration units and quantity.
func LineTotal(unit Money, durationUnits, quantity int) Money {
	return unit.Mul(decimal.NewFromInt(int64(durationUnits))).Mul(decimal.NewFromInt(int64(quantity)))
}

// Sum adds amounts together.
func Sum(amounts ...Money) Money {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Round2 rounds an amount to two decimal places, half away from zero.
func Round2(m Money) Money {
	return m.Round(2)
}
