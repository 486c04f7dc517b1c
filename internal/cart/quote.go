package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-checkout/internal/discount"
	"github.com/noah-isme/storefront-checkout/internal/pricing"
)

// CouponSource lists the coupons a customer holds.
type CouponSource interface {
	Coupons(ctx context.Context, customerID string) ([]discount.Coupon, error)
}

// WalletSource reports a customer's wallet balance.
type WalletSource interface {
	WalletBalance(ctx context.Context, customerID string) (pricing.Money, error)
}

// QuoteInput is what the customer asks to apply on top of the cart.
type QuoteInput struct {
	CouponCode   string
	WalletAmount pricing.Money
}

// Quoter turns a cart subtotal and discount inputs into a priced snapshot.
type Quoter struct {
	Coupons CouponSource
	Wallet  WalletSource
	Engine  discount.Engine
}

// Quote prices subtotal for customerID. Coupon ineligibility is returned as
// an error next to a usable snapshot without the coupon.
func (q *Quoter) Quote(ctx context.Context, customerID string, subtotal pricing.Money, in QuoteInput) (discount.Snapshot, error) {
	var (
		coupon    *discount.Coupon
		lookupErr error
	)
	if code := strings.TrimSpace(in.CouponCode); code != "" {
		if q.Coupons == nil {
			return discount.Snapshot{}, errors.New("coupon catalog not configured")
		}
		list, err := q.Coupons.Coupons(ctx, customerID)
		if err != nil {
			return discount.Snapshot{}, fmt.Errorf("list coupons: %w", err)
		}
		if c, err := discount.FindCoupon(list, code); err != nil {
			lookupErr = err
		} else {
			coupon = &c
		}
	}
	var wallet *discount.WalletRequest
	if in.WalletAmount.IsPositive() {
		balance := decimal.Zero
		if q.Wallet != nil {
			b, err := q.Wallet.WalletBalance(ctx, customerID)
			if err != nil {
				return discount.Snapshot{}, fmt.Errorf("wallet balance: %w", err)
			}
			balance = b
		}
		wallet = &discount.WalletRequest{Amount: in.WalletAmount, Balance: balance}
	}
	snap, err := q.Engine.Apply(subtotal, coupon, wallet)
	if err == nil {
		err = lookupErr
	}
	return snap, err
}
