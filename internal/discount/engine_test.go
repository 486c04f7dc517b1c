package discount

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func money(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func fixedNow() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

func TestApplyPercentageCoupon(t *testing.T) {
	engine := Engine{Now: fixedNow}
	coupon := &Coupon{Code: "TEN", Kind: KindPercentage, Value: money("10"), MinOrderAmount: money("500")}

	snap, err := engine.Apply(money("1000"), coupon, nil)
	require.NoError(t, err)
	require.True(t, snap.CouponDiscount.Equal(money("100")))
	require.True(t, snap.Payable.Equal(money("900")))
	require.Equal(t, "TEN", snap.CouponCode)
	require.NoError(t, snap.Check())
}

func TestApplyBelowMinimumLeavesPayableUnchanged(t *testing.T) {
	engine := Engine{Now: fixedNow}
	coupon := &Coupon{Code: "TEN", Kind: KindPercentage, Value: money("10"), MinOrderAmount: money("500")}

	snap, err := engine.Apply(money("50"), coupon, nil)
	require.True(t, errors.Is(err, ErrCouponNotEligible))
	require.True(t, errors.Is(err, ErrMinimumOrderUnmet))
	require.True(t, snap.CouponDiscount.IsZero())
	require.True(t, snap.Payable.Equal(money("50")))
	require.Empty(t, snap.CouponCode)
}

func TestApplyExpiredCoupon(t *testing.T) {
	expired := fixedNow().Add(-time.Minute)
	coupon := &Coupon{Code: "OLD", Kind: KindFlat, Value: money("20"), Expiry: &expired}

	_, err := Engine{Now: fixedNow}.Apply(money("100"), coupon, nil)
	require.True(t, errors.Is(err, ErrCouponNotEligible))
	require.True(t, errors.Is(err, ErrCouponExpired))
}

func TestFlatCouponCappedAtSubtotal(t *testing.T) {
	coupon := &Coupon{Code: "BIG", Kind: KindFlat, Value: money("500")}
	snap, err := Engine{Now: fixedNow}.Apply(money("120"), coupon, nil)
	require.NoError(t, err)
	require.True(t, snap.CouponDiscount.Equal(money("120")))
	require.True(t, snap.Payable.IsZero())
}

func TestPercentageRoundsToCents(t *testing.T) {
	coupon := Coupon{Kind: KindPercentage, Value: money("15")}
	require.True(t, coupon.Discount(money("33.33")).Equal(money("5")))
	require.True(t, coupon.Discount(money("10.10")).Equal(money("1.52")))
}

func TestMalformedCouponNotEligible(t *testing.T) {
	cases := []Coupon{
		{Kind: KindPercentage, Value: money("150")},
		{Kind: KindFlat, Value: money("-1")},
		{Kind: "bogo", Value: money("1")},
	}
	for _, c := range cases {
		err := c.Validate(fixedNow(), money("1000"))
		require.True(t, errors.Is(err, ErrMalformedCoupon), "%+v", c)
		require.True(t, errors.Is(err, ErrCouponNotEligible), "%+v", c)
	}
}

func TestWalletClamping(t *testing.T) {
	cases := []struct {
		requested, balance, subtotal, want string
		clamped                            bool
	}{
		{"50", "100", "200", "50", false},
		{"150", "100", "200", "100", true},
		{"150", "300", "120", "120", true},
		{"-10", "100", "200", "0", true},
		{"10", "-5", "200", "0", true},
	}
	for _, tc := range cases {
		used, clamped := ClampWallet(money(tc.requested), money(tc.balance), money(tc.subtotal))
		require.Truef(t, used.Equal(money(tc.want)), "requested %s: got %s", tc.requested, used)
		require.Equal(t, tc.clamped, clamped)
	}
}

func TestCouponAndWalletAgainstSameSubtotal(t *testing.T) {
	coupon := &Coupon{Code: "HALF", Kind: KindPercentage, Value: money("50")}
	wallet := &WalletRequest{Amount: money("80"), Balance: money("1000")}

	snap, err := Engine{Now: fixedNow}.Apply(money("100"), coupon, wallet)
	require.NoError(t, err)
	require.True(t, snap.CouponDiscount.Equal(money("50")))
	require.True(t, snap.WalletUsed.Equal(money("80")))
	require.True(t, snap.Payable.IsZero())
	require.NoError(t, snap.Check())
}

func TestWalletStillAppliedWhenCouponRejected(t *testing.T) {
	coupon := &Coupon{Code: "TEN", Kind: KindPercentage, Value: money("10"), MinOrderAmount: money("500")}
	wallet := &WalletRequest{Amount: money("20"), Balance: money("20")}

	snap, err := Engine{Now: fixedNow}.Apply(money("50"), coupon, wallet)
	require.ErrorIs(t, err, ErrCouponNotEligible)
	require.True(t, snap.Payable.Equal(money("30")))
}

func TestSnapshotCheckDetectsTampering(t *testing.T) {
	snap := Snapshot{Subtotal: money("100"), CouponDiscount: money("10"), WalletUsed: money("0"), Payable: money("95")}
	require.ErrorIs(t, snap.Check(), ErrInconsistentSnapshot)
}

func TestFindCoupon(t *testing.T) {
	list := []Coupon{{Code: "SUMMER"}, {Code: "Welcome10"}}
	c, err := FindCoupon(list, "welcome10")
	require.NoError(t, err)
	require.Equal(t, "Welcome10", c.Code)

	_, err = FindCoupon(list, "nope")
	require.ErrorIs(t, err, ErrCouponNotFound)
}

func TestApplyRoundsToCurrencyScale(t *testing.T) {
	coupon := &Coupon{Code: "TEN", Kind: KindPercentage, Value: money("10")}
	wallet := &WalletRequest{Amount: money("20.75"), Balance: money("100")}

	snap, err := Engine{Now: fixedNow}.Apply(money("1005"), coupon, wallet)
	require.NoError(t, err)
	require.True(t, snap.CouponDiscount.Equal(money("101")), "got %s", snap.CouponDiscount)
	require.True(t, snap.WalletUsed.Equal(money("20")), "got %s", snap.WalletUsed)
	require.True(t, snap.WalletClamped)
	require.True(t, snap.Payable.Equal(money("884")), "got %s", snap.Payable)
	require.NoError(t, snap.Check())

	snap, err = Engine{Now: fixedNow, Scale: 2}.Apply(money("1005"), coupon, wallet)
	require.NoError(t, err)
	require.True(t, snap.CouponDiscount.Equal(money("100.5")))
	require.True(t, snap.WalletUsed.Equal(money("20.75")))
	require.False(t, snap.WalletClamped)
	require.True(t, snap.Payable.Equal(money("883.75")))
}
