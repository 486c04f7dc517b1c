// Package order submits confirmed checkouts to the order service.
package order

import (
	"time"

	"github.com/noah-isme/storefront-checkout/internal/cart"
	"github.com/noah-isme/storefront-checkout/internal/discount"
	"github.com/noah-isme/storefront-checkout/internal/pricing"
)

// Address is a delivery destination.
type Address struct {
	RecipientName string `json:"recipientName" validate:"required,max=120"`
	Phone         string `json:"phone" validate:"required,min=6,max=20"`
	Line1         string `json:"line1" validate:"required,max=255"`
	Line2         string `json:"line2,omitempty" validate:"max=255"`
	City          string `json:"city" validate:"required,max=120"`
	Province      string `json:"province,omitempty" validate:"max=120"`
	PostalCode    string `json:"postalCode" validate:"required,numeric,min=4,max=10"`
}

// Fulfillment tells the order service how the goods reach the customer.
// Delivery needs an address; pickup needs a pickup point.
type Fulfillment struct {
	Method        string   `json:"method" validate:"required,oneof=delivery pickup"`
	Address       *Address `json:"address,omitempty" validate:"required_if=Method delivery,omitempty"`
	PickupPointID string   `json:"pickupPointId,omitempty" validate:"required_if=Method pickup,max=64"`
	Notes         string   `json:"notes,omitempty" validate:"max=500"`
}

// Line is an order line as the order service receives it.
type Line struct {
	ProductID     string        `json:"productId"`
	VariantID     string        `json:"variantId,omitempty"`
	Name          string        `json:"name"`
	UnitPrice     pricing.Money `json:"unitPrice"`
	Quantity      int           `json:"quantity"`
	RentalMode    string        `json:"rentalMode"`
	RentalStart   string        `json:"rentalStart,omitempty"`
	RentalEnd     string        `json:"rentalEnd,omitempty"`
	DurationUnits int           `json:"durationUnits"`
	LineTotal     pricing.Money `json:"lineTotal"`
}

// Discounts is the breakdown between subtotal and payable.
type Discounts struct {
	CouponCode     string        `json:"couponCode,omitempty"`
	CouponDiscount pricing.Money `json:"couponDiscount"`
	WalletUsed     pricing.Money `json:"walletUsed"`
}

// Payload is the body of an order commit.
type Payload struct {
	CheckoutID  string        `json:"checkoutId"`
	CustomerID  string        `json:"customerId"`
	Lines       []Line        `json:"lines"`
	Fulfillment Fulfillment   `json:"fulfillment"`
	Subtotal    pricing.Money `json:"subtotal"`
	Discounts   Discounts     `json:"discounts"`
	Payable     pricing.Money `json:"payable"`
	AmountPaid  pricing.Money `json:"amountPaid"`
	PaymentMode string        `json:"paymentMode"`
	Currency    string        `json:"currency"`
	Provider    string        `json:"provider,omitempty"`
	GatewayRef  string        `json:"gatewayRef,omitempty"`
	PaidAt      *time.Time    `json:"paidAt,omitempty"`
}

// Draft carries what a checkout knows at commit time.
type Draft struct {
	CheckoutID  string
	CustomerID  string
	Lines       []cart.LineItem
	Snapshot    discount.Snapshot
	Fulfillment Fulfillment
	AmountPaid  pricing.Money
	PaymentMode string
	Currency    string
	Provider    string
	GatewayRef  string
	PaidAt      time.Time
}

// BuildPayload assembles the commit body from d.
func BuildPayload(d Draft) Payload {
	lines := make([]Line, 0, len(d.Lines))
	for _, it := range d.Lines {
		lines = append(lines, Line{
			ProductID:     it.ProductID,
			VariantID:     it.VariantID,
			Name:          it.Name,
			UnitPrice:     it.UnitPrice,
			Quantity:      it.Quantity,
			RentalMode:    string(it.RentalMode),
			RentalStart:   it.RentalStart,
			RentalEnd:     it.RentalEnd,
			DurationUnits: it.DurationUnits,
			LineTotal:     it.LineTotal,
		})
	}
	p := Payload{
		CheckoutID:  d.CheckoutID,
		CustomerID:  d.CustomerID,
		Lines:       lines,
		Fulfillment: d.Fulfillment,
		Subtotal:    d.Snapshot.Subtotal,
		Discounts: Discounts{
			CouponCode:     d.Snapshot.CouponCode,
			CouponDiscount: d.Snapshot.CouponDiscount,
			WalletUsed:     d.Snapshot.WalletUsed,
		},
		Payable:     d.Snapshot.Payable,
		AmountPaid:  d.AmountPaid,
		PaymentMode: d.PaymentMode,
		Currency:    d.Currency,
		Provider:    d.Provider,
		GatewayRef:  d.GatewayRef,
	}
	if !d.PaidAt.IsZero() {
		paid := d.PaidAt.UTC()
		p.PaidAt = &paid
	}
	return p
}
