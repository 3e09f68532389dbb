package cart

import "errors"

// ItemType discriminates the kind of product a cart line holds.
type ItemType string

const (
	TypeCurry ItemType = "curry"
	TypeSide  ItemType = "side"
	TypeSauce ItemType = "sauce"
	TypeDrink ItemType = "drink"
	TypeBunny ItemType = "bunny" // bunny-loaf add-on
)

// SpiceLevel is only meaningful on curry lines.
type SpiceLevel string

const (
	SpiceMild    SpiceLevel = "Mild"
	SpiceHot     SpiceLevel = "Hot"
	SpiceVeryHot SpiceLevel = "Very Hot"
)

var (
	ErrLineNotFound    = errors.New("cart line not found")
	ErrQuantityLimit   = errors.New("quantity limit exceeded")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrNoOwner         = errors.New("cart owner is required")
)

// Item is one line in a cart. Price is the unit price in pence, locked in when
// the line was first added.
type Item struct {
	ID          string     `json:"id" dynamodbav:"id"`
	ProductID   string     `json:"productId" dynamodbav:"product_id"`
	Type        ItemType   `json:"type" dynamodbav:"type"`
	Name        string     `json:"name" dynamodbav:"name"`
	Image       string     `json:"image,omitempty" dynamodbav:"image,omitempty"`
	Price       int64      `json:"price" dynamodbav:"price"`
	Quantity    int        `json:"quantity" dynamodbav:"quantity"`
	SpiceLevel  SpiceLevel `json:"spiceLevel,omitempty" dynamodbav:"spice_level,omitempty"`
	MaxQuantity int        `json:"maxQuantity,omitempty" dynamodbav:"max_quantity,omitempty"`
}

// LineKey identifies a line for de-duplication.
type LineKey struct {
	ProductID  string
	Type       ItemType
	SpiceLevel SpiceLevel
}

func (it Item) Key() LineKey {
	return LineKey{ProductID: it.ProductID, Type: it.Type, SpiceLevel: it.SpiceLevel}
}

// Snapshot is the unit of persistence and synchronisation.
type Snapshot struct {
	Items     []Item  `json:"items"`
	PromoCode *string `json:"promoCode"`
}

// Promo returns the applied promo code, or "" when none is set.
func (s Snapshot) Promo() string {
	if s.PromoCode == nil {
		return ""
	}
	return *s.PromoCode
}

// IsEmpty reports whether the snapshot has no line with a positive quantity.
func (s Snapshot) IsEmpty() bool {
	for _, it := range s.Items {
		if it.Quantity > 0 {
			return false
		}
	}
	return true
}

// ItemCount is the total number of units across positive lines.
func (s Snapshot) ItemCount() int {
	n := 0
	for _, it := range s.Items {
		if it.Quantity > 0 {
			n += it.Quantity
		}
	}
	return n
}

// Clone returns a deep copy so pure operations never alias caller state.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Items: make([]Item, len(s.Items))}
	copy(out.Items, s.Items)
	if s.PromoCode != nil {
		code := *s.PromoCode
		out.PromoCode = &code
	}
	return out
}
