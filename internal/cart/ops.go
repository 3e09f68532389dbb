package cart

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Normalize drops lines with a non-positive quantity and folds lines sharing a
// LineKey into the first occurrence. The returned snapshot never aliases s.
func Normalize(s Snapshot) Snapshot {
	out := Snapshot{Items: make([]Item, 0, len(s.Items))}
	if s.PromoCode != nil && strings.TrimSpace(*s.PromoCode) != "" {
		code := *s.PromoCode
		out.PromoCode = &code
	}

	index := make(map[LineKey]int, len(s.Items))
	for _, it := range s.Items {
		if it.Quantity <= 0 {
			continue
		}
		if i, ok := index[it.Key()]; ok {
			out.Items[i].Quantity += it.Quantity
			continue
		}
		index[it.Key()] = len(out.Items)
		out.Items = append(out.Items, it)
	}
	return out
}

// AddLine adds it to the snapshot, summing into an existing line with the same
// key. The existing line keeps its locked-in price.
func AddLine(s Snapshot, it Item) (Snapshot, error) {
	if it.Quantity <= 0 {
		return s, ErrInvalidQuantity
	}
	out := Normalize(s)

	for i := range out.Items {
		line := &out.Items[i]
		if line.Key() != it.Key() {
			continue
		}
		next := line.Quantity + it.Quantity
		if line.MaxQuantity > 0 && next > line.MaxQuantity {
			return s, fmt.Errorf("%w: %s allows at most %d", ErrQuantityLimit, line.Name, line.MaxQuantity)
		}
		line.Quantity = next
		return out, nil
	}

	if it.MaxQuantity > 0 && it.Quantity > it.MaxQuantity {
		return s, fmt.Errorf("%w: %s allows at most %d", ErrQuantityLimit, it.Name, it.MaxQuantity)
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	out.Items = append(out.Items, it)
	return out, nil
}

// SetQuantity replaces a line's quantity. A quantity of zero or below removes
// the line.
func SetQuantity(s Snapshot, lineID string, qty int) (Snapshot, error) {
	out := Normalize(s)
	for i := range out.Items {
		if out.Items[i].ID != lineID {
			continue
		}
		if qty <= 0 {
			out.Items = append(out.Items[:i], out.Items[i+1:]...)
			return out, nil
		}
		if limit := out.Items[i].MaxQuantity; limit > 0 && qty > limit {
			return s, fmt.Errorf("%w: %s allows at most %d", ErrQuantityLimit, out.Items[i].Name, limit)
		}
		out.Items[i].Quantity = qty
		return out, nil
	}
	return s, ErrLineNotFound
}

func RemoveLine(s Snapshot, lineID string) (Snapshot, error) {
	return SetQuantity(s, lineID, 0)
}

// WithPromo sets the applied promo code. An empty code clears it.
func WithPromo(s Snapshot, code string) Snapshot {
	out := s.Clone()
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		out.PromoCode = nil
		return out
	}
	out.PromoCode = &code
	return out
}
