// Package loyalty tracks customer points and tiers.
package loyalty

import (
	"github.com/shopspring/decimal"

	"github.com/bunnybox/storefront/internal/money"
)

type Tier string

const (
	Bronze   Tier = "bronze"
	Silver   Tier = "silver"
	Gold     Tier = "gold"
	Platinum Tier = "platinum"
)

// tiers is ordered from the highest threshold down.
var tiers = []struct {
	Tier       Tier
	MinPoints  int64
	Multiplier decimal.Decimal
}{
	{Platinum, 3000, decimal.NewFromInt(2)},
	{Gold, 1500, decimal.RequireFromString("1.5")},
	{Silver, 500, decimal.RequireFromString("1.25")},
	{Bronze, 0, decimal.NewFromInt(1)},
}

// TierFor returns the tier reached with lifetime points.
func TierFor(lifetime int64) Tier {
	for _, t := range tiers {
		if lifetime >= t.MinPoints {
			return t.Tier
		}
	}
	return Bronze
}

// Multiplier returns the earning multiplier for tier.
func Multiplier(tier Tier) decimal.Decimal {
	for _, t := range tiers {
		if t.Tier == tier {
			return t.Multiplier
		}
	}
	return decimal.NewFromInt(1)
}

// PointsFor returns the points earned on spend (pence, excluding delivery):
// one point per whole pound, scaled by the tier multiplier and rounded down.
func PointsFor(spend int64, tier Tier) int64 {
	pounds := money.Pounds(spend)
	if pounds == 0 {
		return 0
	}
	return decimal.NewFromInt(pounds).Mul(Multiplier(tier)).Floor().IntPart()
}
