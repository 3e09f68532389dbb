package pricing

// volumeTiers is ordered from the largest threshold down.
var volumeTiers = []struct {
	MinItems int
	Percent  int64
}{
	{15, 15},
	{10, 10},
	{5, 5},
}

// VolumeTier returns the volume discount percentage for itemCount units.
func VolumeTier(itemCount int) int64 {
	for _, t := range volumeTiers {
		if itemCount >= t.MinItems {
			return t.Percent
		}
	}
	return 0
}

// TierProgress describes how far a cart is from the next volume tier.
type TierProgress struct {
	ItemsNeeded int   `json:"itemsNeeded" dynamodbav:"items_needed"`
	Percent     int64 `json:"percent" dynamodbav:"percent"`
}

// NextTier returns the next tier above itemCount, or nil at the top tier.
func NextTier(itemCount int) *TierProgress {
	var next *TierProgress
	for _, t := range volumeTiers {
		if itemCount < t.MinItems {
			next = &TierProgress{ItemsNeeded: t.MinItems - itemCount, Percent: t.Percent}
		}
	}
	return next
}
