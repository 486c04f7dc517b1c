package discount

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-checkout/internal/pricing"
)

var (
	// ErrCouponNotEligible wraps every reason a coupon cannot be applied.
	ErrCouponNotEligible = errors.New("coupon not eligible")
	// ErrMinimumOrderUnmet indicates the subtotal is below the coupon minimum.
	ErrMinimumOrderUnmet = errors.New("coupon minimum order not met")
	// ErrCouponExpired indicates the coupon expiry has passed.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrMalformedCoupon indicates the coupon definition itself is unusable.
	ErrMalformedCoupon = errors.New("coupon malformed")
	// ErrCouponNotFound is returned when a code is not in the customer's catalog.
	ErrCouponNotFound = errors.New("coupon not found")
)

// Kind selects how a coupon value is interpreted.
type Kind string

const (
	KindPercentage Kind = "percentage"
	KindFlat       Kind = "flat"
)

var hundred = decimal.NewFromInt(100)

// Coupon is a discount offer. Value is a percent (0-100) for percentage
// coupons and a currency amount for flat ones.
type Coupon struct {
	Code           string        `json:"code"`
	Kind           Kind          `json:"kind"`
	Value          pricing.Money `json:"value"`
	MinOrderAmount pricing.Money `json:"minOrderAmount"`
	Expiry         *time.Time    `json:"expiry,omitempty"`
}

// Validate reports whether the coupon applies to subtotal at now.
func (c Coupon) Validate(now time.Time, subtotal pricing.Money) error {
	if err := c.wellFormed(); err != nil {
		return fmt.Errorf("%w: %w", ErrCouponNotEligible, err)
	}
	if c.Expiry != nil && now.After(*c.Expiry) {
		return fmt.Errorf("%w: %w", ErrCouponNotEligible, ErrCouponExpired)
	}
	if subtotal.LessThan(c.MinOrderAmount) {
		return fmt.Errorf("%w: %w (minimum %s)", ErrCouponNotEligible, ErrMinimumOrderUnmet, c.MinOrderAmount.StringFixed(2))
	}
	return nil
}

func (c Coupon) wellFormed() error {
	if c.Value.IsNegative() || c.MinOrderAmount.IsNegative() {
		return fmt.Errorf("%w: negative amount", ErrMalformedCoupon)
	}
	switch c.Kind {
	case KindPercentage:
		if c.Value.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage above 100", ErrMalformedCoupon)
		}
	case KindFlat:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedCoupon, c.Kind)
	}
	return nil
}

// Discount computes the reduction for subtotal in cents without checking
// eligibility. The result never exceeds subtotal.
func (c Coupon) Discount(subtotal pricing.Money) pricing.Money {
	return c.DiscountAt(subtotal, 2)
}

// DiscountAt is Discount rounded to scale decimal places, half away from zero.
func (c Coupon) DiscountAt(subtotal pricing.Money, scale int32) pricing.Money {
	if !subtotal.IsPositive() {
		return decimal.Zero
	}
	var d pricing.Money
	switch c.Kind {
	case KindPercentage:
		d = subtotal.Mul(c.Value).Div(hundred)
	case KindFlat:
		d = c.Value
	default:
		return decimal.Zero
	}
	return decimal.Min(d.Round(scale), subtotal)
}

// FindCoupon looks code up in a customer's coupon list, ignoring case.
func FindCoupon(coupons []Coupon, code string) (Coupon, error) {
	needle := strings.TrimSpace(code)
	for _, c := range coupons {
		if strings.EqualFold(c.Code, needle) {
			return c, nil
		}
	}
	return Coupon{}, fmt.Errorf("%w: %s", ErrCouponNotFound, needle)
}
