// Package discount combines coupon and wallet credit into a priced snapshot.
package discount

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-checkout/internal/pricing"
)

// ErrInconsistentSnapshot is returned by Snapshot.Check when the stored
// amounts do not add up.
var ErrInconsistentSnapshot = errors.New("inconsistent priced snapshot")

// WalletRequest is the credit the customer asked to spend and what they hold.
type WalletRequest struct {
	Amount  pricing.Money
	Balance pricing.Money
}

// Snapshot is the immutable result of pricing a cart with discounts.
type Snapshot struct {
	Subtotal        pricing.Money `json:"subtotal"`
	CouponCode      string        `json:"couponCode,omitempty"`
	CouponDiscount  pricing.Money `json:"couponDiscount"`
	WalletRequested pricing.Money `json:"walletRequested"`
	WalletUsed      pricing.Money `json:"walletUsed"`
	WalletClamped   bool          `json:"walletClamped,omitempty"`
	Payable         pricing.Money `json:"payable"`
}

// Check verifies the snapshot arithmetic.
func (s Snapshot) Check() error {
	if s.Subtotal.IsNegative() || s.CouponDiscount.IsNegative() || s.WalletUsed.IsNegative() {
		return fmt.Errorf("%w: negative component", ErrInconsistentSnapshot)
	}
	if s.CouponDiscount.GreaterThan(s.Subtotal) {
		return fmt.Errorf("%w: coupon discount exceeds subtotal", ErrInconsistentSnapshot)
	}
	if s.WalletUsed.GreaterThan(s.Subtotal) {
		return fmt.Errorf("%w: wallet credit exceeds subtotal", ErrInconsistentSnapshot)
	}
	if want := payable(s.Subtotal, s.CouponDiscount, s.WalletUsed); !want.Equal(s.Payable) {
		return fmt.Errorf("%w: payable %s, expected %s", ErrInconsistentSnapshot, s.Payable, want)
	}
	return nil
}

// ClampWallet limits requested to [0, min(balance, subtotal)] and reports
// whether the request was reduced.
func ClampWallet(requested, balance, subtotal pricing.Money) (pricing.Money, bool) {
	limit := decimal.Max(decimal.Zero, decimal.Min(balance, subtotal))
	used := decimal.Max(decimal.Zero, decimal.Min(requested, limit))
	return used, !used.Equal(requested)
}

// Engine applies coupons and wallet credit. Scale is the number of decimal
// places the currency can charge: coupon discounts are rounded to it and
// wallet credit is truncated to it, so a whole-unit subtotal always yields a
// whole-unit payable.
type Engine struct {
	Now   func() time.Time
	Scale int32
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Apply prices subtotal with an optional coupon and wallet request. Both are
// computed against the same pre-discount subtotal. When the coupon is not
// eligible the returned snapshot carries no coupon discount and the error
// wraps ErrCouponNotEligible.
func (e Engine) Apply(subtotal pricing.Money, coupon *Coupon, wallet *WalletRequest) (Snapshot, error) {
	if subtotal.IsNegative() {
		return Snapshot{}, fmt.Errorf("negative subtotal %s", subtotal)
	}
	snap := Snapshot{
		Subtotal:        subtotal,
		CouponDiscount:  decimal.Zero,
		WalletRequested: decimal.Zero,
		WalletUsed:      decimal.Zero,
	}
	var couponErr error
	if coupon != nil {
		if err := coupon.Validate(e.now(), subtotal); err != nil {
			couponErr = err
		} else {
			snap.CouponCode = coupon.Code
			snap.CouponDiscount = coupon.DiscountAt(subtotal, e.Scale)
		}
	}
	if wallet != nil {
		snap.WalletRequested = wallet.Amount
		used, _ := ClampWallet(wallet.Amount, wallet.Balance, subtotal)
		snap.WalletUsed = used.Truncate(e.Scale)
		snap.WalletClamped = !snap.WalletUsed.Equal(wallet.Amount)
	}
	snap.Payable = payable(subtotal, snap.CouponDiscount, snap.WalletUsed)
	return snap, couponErr
}

func payable(subtotal, coupon, wallet pricing.Money) pricing.Money {
	return decimal.Max(decimal.Zero, subtotal.Sub(coupon).Sub(wallet))
}
