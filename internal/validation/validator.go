package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/bunnybox/storefront/internal/cart"
)

// New returns a validator with the cart rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	_ = v.RegisterValidation("spice_level", spiceLevel)
	v.RegisterStructValidation(addItemStructValidation, AddItemRequest{})
	v.RegisterStructValidation(syncItemStructValidation, SyncItem{})

	return v
}

func spiceLevel(fl validatorv10.FieldLevel) bool {
	switch cart.SpiceLevel(fl.Field().String()) {
	case cart.SpiceMild, cart.SpiceHot, cart.SpiceVeryHot:
		return true
	}
	return false
}

// curry lines carry a spice level; nothing else may
func checkSpice(sl validatorv10.StructLevel, itemType, spice string) {
	switch {
	case itemType == string(cart.TypeCurry) && spice == "":
		sl.ReportError(spice, "spiceLevel", "SpiceLevel", "spice_required_for_curry", "")
	case itemType != string(cart.TypeCurry) && spice != "":
		sl.ReportError(spice, "spiceLevel", "SpiceLevel", "spice_only_on_curry", "")
	}
}

func addItemStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(AddItemRequest)
	checkSpice(sl, req.Type, req.SpiceLevel)
	if req.MaxQuantity > 0 && req.Quantity > req.MaxQuantity {
		sl.ReportError(req.Quantity, "quantity", "Quantity", "lte_max_quantity", "")
	}
}

func syncItemStructValidation(sl validatorv10.StructLevel) {
	it := sl.Current().Interface().(SyncItem)
	checkSpice(sl, it.Type, it.SpiceLevel)
}
