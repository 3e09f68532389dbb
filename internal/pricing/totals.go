// Package pricing computes cart totals. Everything here is pure: no I/O, no
// clocks, no side effects on promo usage.
package pricing

import (
	"github.com/bunnybox/storefront/internal/cart"
	"github.com/bunnybox/storefront/internal/money"
	"github.com/bunnybox/storefront/internal/promo"
)

const (
	DefaultDeliveryFee           int64 = 399
	DefaultFreeDeliveryThreshold int64 = 4000

	// MaxSubtotal caps the subtotal so discount and delivery arithmetic stays
	// within int64.
	MaxSubtotal int64 = 1 << 60
)

// Totals is the priced view of a cart. All amounts are pence.
type Totals struct {
	Subtotal       int64         `json:"subtotal" dynamodbav:"subtotal"`
	Discount       int64         `json:"discount" dynamodbav:"discount"`
	DeliveryFee    int64         `json:"deliveryFee" dynamodbav:"delivery_fee"`
	Total          int64         `json:"total" dynamodbav:"total"`
	ItemCount      int           `json:"itemCount" dynamodbav:"item_count"`
	VolumeTier     int64         `json:"volumeTier" dynamodbav:"volume_tier"`
	VolumeDiscount int64         `json:"volumeDiscount" dynamodbav:"volume_discount"`
	PromoDiscount  int64         `json:"promoDiscount" dynamodbav:"promo_discount"`
	PromoCode      string        `json:"promoCode,omitempty" dynamodbav:"promo_code,omitempty"`
	PromoApplied   bool          `json:"promoApplied" dynamodbav:"promo_applied"`
	VolumeApplied  bool          `json:"volumeApplied" dynamodbav:"volume_applied"`
	NextTier       *TierProgress `json:"nextTier,omitempty" dynamodbav:"next_tier,omitempty"`
}

// Calculator holds the delivery rules. The zero value charges no delivery.
type Calculator struct {
	DeliveryFee           int64
	FreeDeliveryThreshold int64
}

// Default uses the standard delivery fee and free-delivery threshold.
var Default = Calculator{
	DeliveryFee:           DefaultDeliveryFee,
	FreeDeliveryThreshold: DefaultFreeDeliveryThreshold,
}

// ComputeTotals prices items with the Default calculator.
func ComputeTotals(items []cart.Item, p *promo.Code) Totals {
	return Default.Compute(items, p)
}

// Subtotal is Σ price × quantity over lines with a positive quantity,
// saturating at MaxSubtotal.
func Subtotal(items []cart.Item) (subtotal int64, count int) {
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		count += it.Quantity
		qty := int64(it.Quantity)
		if it.Price > 0 && it.Price > (MaxSubtotal-subtotal)/qty {
			subtotal = MaxSubtotal
			continue
		}
		subtotal += it.Price * qty
	}
	return subtotal, count
}

// Compute prices items with an optional promo that the caller has already
// resolved. Only the promo's minimum order is re-checked here since it depends
// on the items being priced.
//
// A non-stackable promo competes with the volume discount and only the larger
// applies; on a tie the volume discount is kept so the promo is not consumed.
// A stackable promo adds to the volume discount, capped at the subtotal.
func (c Calculator) Compute(items []cart.Item, p *promo.Code) Totals {
	subtotal, count := Subtotal(items)
	t := Totals{
		Subtotal:  subtotal,
		ItemCount: count,
		NextTier:  NextTier(count),
	}
	if subtotal <= 0 {
		return t
	}

	t.VolumeTier = VolumeTier(count)
	volume := money.Percent(subtotal, t.VolumeTier)

	var promoDisc int64
	if p != nil && subtotal >= p.MinimumOrderValue {
		promoDisc = p.DiscountFor(subtotal)
	}

	switch {
	case promoDisc > 0 && p.Stackable:
		t.VolumeDiscount, t.PromoDiscount = volume, promoDisc
		t.Discount = min(volume+promoDisc, subtotal)
	case promoDisc > volume:
		t.PromoDiscount = promoDisc
		t.Discount = promoDisc
	default:
		t.VolumeDiscount = volume
		t.Discount = volume
	}
	t.PromoApplied = t.PromoDiscount > 0
	t.VolumeApplied = t.VolumeDiscount > 0
	if t.PromoApplied {
		t.PromoCode = p.Code
	}

	net := max(subtotal-t.Discount, 0)
	if net < c.FreeDeliveryThreshold {
		t.DeliveryFee = c.DeliveryFee
	}
	t.Total = net + t.DeliveryFee
	return t
}
