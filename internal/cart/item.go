package cart

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-checkout/internal/pricing"
	"github.com/noah-isme/storefront-checkout/internal/rental"
)

var (
	// ErrInvalidInput is returned when the provided payload is invalid.
	ErrInvalidInput = errors.New("invalid input")
	// ErrItemNotFound is returned when an identity is not in the cart.
	ErrItemNotFound = errors.New("cart item not found")
	// ErrInvariant is returned when a mutation would leave a line whose total
	// does not match its price, duration and quantity.
	ErrInvariant = errors.New("cart invariant violated")
)

// Identity is the merge key of a line. An empty VariantID means the product
// has no variant.
type Identity struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
}

func (i Identity) String() string {
	if i.VariantID == "" {
		return i.ProductID
	}
	return i.ProductID + "/" + i.VariantID
}

// LineItem is one priced line of a cart.
type LineItem struct {
	ProductID     string        `json:"productId"`
	VariantID     string        `json:"variantId,omitempty"`
	Name          string        `json:"name"`
	UnitPrice     pricing.Money `json:"unitPrice"`
	Quantity      int           `json:"quantity"`
	RentalMode    rental.Mode   `json:"rentalMode"`
	RentalStart   string        `json:"rentalStart,omitempty"`
	RentalEnd     string        `json:"rentalEnd,omitempty"`
	DurationUnits int           `json:"durationUnits"`
	LineTotal     pricing.Money `json:"lineTotal"`
}

// Identity returns the merge key of l.
func (l LineItem) Identity() Identity {
	return Identity{ProductID: l.ProductID, VariantID: l.VariantID}
}

// Check verifies the line invariants.
func (l LineItem) Check() error {
	if l.ProductID == "" {
		return fmt.Errorf("%w: product id missing", ErrInvariant)
	}
	if l.Quantity < 1 {
		return fmt.Errorf("%w: %s quantity %d", ErrInvariant, l.Identity(), l.Quantity)
	}
	if l.DurationUnits < 1 {
		return fmt.Errorf("%w: %s duration units %d", ErrInvariant, l.Identity(), l.DurationUnits)
	}
	if l.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: %s negative unit price", ErrInvariant, l.Identity())
	}
	if want := pricing.LineTotal(l.UnitPrice, l.DurationUnits, l.Quantity); !want.Equal(l.LineTotal) {
		return fmt.Errorf("%w: %s line total %s, expected %s", ErrInvariant, l.Identity(), l.LineTotal, want)
	}
	return nil
}

func (l *LineItem) recompute() {
	l.LineTotal = pricing.LineTotal(l.UnitPrice, l.DurationUnits, l.Quantity)
}

// BuildLine prices entry for the pass and computes its rental duration.
func BuildLine(entry pricing.CatalogEntry, pass *pricing.Pass, quantity int, r rental.Range) (LineItem, error) {
	if entry.ProductID == "" {
		return LineItem{}, fmt.Errorf("product id is required: %w", ErrInvalidInput)
	}
	if quantity < 1 {
		return LineItem{}, fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}
	mode, err := rental.ParseMode(entry.RentalMode)
	if err != nil {
		return LineItem{}, fmt.Errorf("%s: %w", err.Error(), ErrInvalidInput)
	}
	unit, err := pass.UnitPrice(entry)
	if err != nil {
		return LineItem{}, err
	}
	duration, err := rental.Calculate(mode, r)
	if err != nil {
		return LineItem{}, err
	}
	line := LineItem{
		ProductID:     entry.ProductID,
		VariantID:     entry.VariantID,
		Name:          entry.Name,
		UnitPrice:     unit,
		Quantity:      quantity,
		RentalMode:    mode,
		RentalStart:   duration.Start,
		RentalEnd:     duration.End,
		DurationUnits: duration.Units,
	}
	line.recompute()
	return line, nil
}

// Cart is the set of lines owned by one customer. A published Cart is never
// mutated.
type Cart struct {
	CustomerID string     `json:"customerId"`
	Items      []LineItem `json:"items"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Subtotal sums the line totals.
func (c *Cart) Subtotal() pricing.Money {
	if c == nil {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.LineTotal)
	}
	return total
}

// Check verifies every line and identity uniqueness.
func (c *Cart) Check() error {
	seen := make(map[Identity]struct{}, len(c.Items))
	for _, it := range c.Items {
		if err := it.Check(); err != nil {
			return err
		}
		if _, dup := seen[it.Identity()]; dup {
			return fmt.Errorf("%w: duplicate line %s", ErrInvariant, it.Identity())
		}
		seen[it.Identity()] = struct{}{}
	}
	return nil
}

func (c *Cart) clone() *Cart {
	cp := &Cart{CustomerID: c.CustomerID, UpdatedAt: c.UpdatedAt}
	cp.Items = append([]LineItem(nil), c.Items...)
	return cp
}

func (c *Cart) indexOf(id Identity) int {
	for i, it := range c.Items {
		if it.Identity() == id {
			return i
		}
	}
	return -1
}
