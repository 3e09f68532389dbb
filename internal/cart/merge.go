package cart

// Merge reconciles a locally held snapshot with the server's copy and returns
// the canonical snapshot.
//
// Server lines seed the result; local lines are overlaid, summing quantities
// for keys already present (clamped to the line's maxQuantity). The local
// promo code wins when set, otherwise the server's is kept. Merge is not idempotent on its own: the caller must
// discard the local snapshot once the result is persisted, otherwise a second
// merge double-counts the local quantities.
func Merge(local, server Snapshot) Snapshot {
	local = Normalize(local)
	server = Normalize(server)

	var merged Snapshot
	switch {
	case local.IsEmpty():
		merged = server
	case server.IsEmpty():
		merged = local
	default:
		merged = overlay(local, server)
	}

	promo := server.PromoCode
	if local.PromoCode != nil {
		promo = local.PromoCode
	}
	merged.PromoCode = nil
	if promo != nil {
		code := *promo
		merged.PromoCode = &code
	}
	return merged
}

func overlay(local, server Snapshot) Snapshot {
	out := Snapshot{
		Items:     make([]Item, 0, len(server.Items)+len(local.Items)),
		PromoCode: server.PromoCode,
	}
	index := make(map[LineKey]int, len(server.Items)+len(local.Items))

	for _, it := range server.Items {
		index[it.Key()] = len(out.Items)
		out.Items = append(out.Items, it)
	}

	for _, it := range local.Items {
		i, ok := index[it.Key()]
		if !ok {
			index[it.Key()] = len(out.Items)
			out.Items = append(out.Items, it)
			continue
		}
		line := &out.Items[i]
		line.Quantity += it.Quantity
		if line.MaxQuantity == 0 {
			line.MaxQuantity = it.MaxQuantity
		}
		if line.MaxQuantity > 0 && line.Quantity > line.MaxQuantity {
			line.Quantity = line.MaxQuantity
		}
	}
	return out
}
