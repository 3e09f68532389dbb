package validation

import (
	"github.com/bunnybox/storefront/internal/cart"
)

// AddItemRequest is the payload for POST /cart/items. Price is pence.
type AddItemRequest struct {
	ProductID   string `json:"productId" validate:"required,max=64"`
	Type        string `json:"type" validate:"required,oneof=curry side sauce drink bunny"`
	Name        string `json:"name" validate:"required,max=120"`
	Image       string `json:"image,omitempty" validate:"omitempty,max=512"`
	Price       int64  `json:"price" validate:"required,gt=0,max=1000000"`
	Quantity    int    `json:"quantity" validate:"required,min=1,max=99"`
	SpiceLevel  string `json:"spiceLevel,omitempty" validate:"omitempty,spice_level"`
	MaxQuantity int    `json:"maxQuantity,omitempty" validate:"min=0"`
}

func (r AddItemRequest) Item() cart.Item {
	return cart.Item{
		ProductID:   r.ProductID,
		Type:        cart.ItemType(r.Type),
		Name:        r.Name,
		Image:       r.Image,
		Price:       r.Price,
		Quantity:    r.Quantity,
		SpiceLevel:  cart.SpiceLevel(r.SpiceLevel),
		MaxQuantity: r.MaxQuantity,
	}
}

// SyncItem is a locally held cart line. Lines with quantity 0 are allowed and
// dropped by the merge.
type SyncItem struct {
	ID          string `json:"id,omitempty" validate:"omitempty,max=64"`
	ProductID   string `json:"productId" validate:"required,max=64"`
	Type        string `json:"type" validate:"required,oneof=curry side sauce drink bunny"`
	Name        string `json:"name" validate:"required,max=120"`
	Image       string `json:"image,omitempty" validate:"omitempty,max=512"`
	Price       int64  `json:"price" validate:"required,gt=0,max=1000000"`
	Quantity    int    `json:"quantity" validate:"min=0,max=99"`
	SpiceLevel  string `json:"spiceLevel,omitempty" validate:"omitempty,spice_level"`
	MaxQuantity int    `json:"maxQuantity,omitempty" validate:"min=0"`
}

// SyncRequest is the payload for POST /cart/sync. When Items is omitted the
// guest cart stored for the session is merged instead.
type SyncRequest struct {
	Items     []SyncItem `json:"items" validate:"omitempty,max=100,dive"`
	PromoCode *string    `json:"promoCode" validate:"omitempty,max=32"`
}

// Snapshot returns the local snapshot carried by the request, or nil when the
// client sent none.
func (r SyncRequest) Snapshot() *cart.Snapshot {
	if r.Items == nil && r.PromoCode == nil {
		return nil
	}
	s := cart.Snapshot{Items: make([]cart.Item, 0, len(r.Items)), PromoCode: r.PromoCode}
	for _, it := range r.Items {
		s.Items = append(s.Items, cart.Item{
			ID:          it.ID,
			ProductID:   it.ProductID,
			Type:        cart.ItemType(it.Type),
			Name:        it.Name,
			Image:       it.Image,
			Price:       it.Price,
			Quantity:    it.Quantity,
			SpiceLevel:  cart.SpiceLevel(it.SpiceLevel),
			MaxQuantity: it.MaxQuantity,
		})
	}
	return &s
}

// UpdateQuantityRequest is the payload for PATCH /cart/items/:lineId. Zero
// removes the line.
type UpdateQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,min=0,max=99"`
}

type ApplyPromoRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

// ValidatePromoRequest checks a code without applying it. CartTotal defaults
// to the caller's current cart subtotal.
type ValidatePromoRequest struct {
	Code      string `json:"code" validate:"required,max=32"`
	CartTotal *int64 `json:"cartTotal,omitempty" validate:"omitempty,min=0"`
}

// CheckoutRequest is the payload for POST /checkout. ExpectedTotal is the total
// the client displayed; a mismatch with the server's figure is a conflict.
type CheckoutRequest struct {
	Email            string `json:"email" validate:"required,email"`
	DeliveryPostcode string `json:"deliveryPostcode" validate:"required,max=10"`
	ExpectedTotal    *int64 `json:"expectedTotal,omitempty" validate:"omitempty,min=0"`
}
