package promo

import (
	"fmt"
	"time"

	"github.com/bunnybox/storefront/internal/money"
)

// Policy holds business switches for eligibility.
type Policy struct {
	// AllowGuestNewCustomerOffers lets anonymous carts use new-customer-only
	// codes. Off by default: guests are asked to sign in first.
	AllowGuestNewCustomerOffers bool
}

// Resolver decides whether a code applies to a cart. It is read-only and never
// touches usage counters.
type Resolver struct {
	policy Policy
	rules  *RuleEvaluator
}

func NewResolver(policy Policy, rules *RuleEvaluator) *Resolver {
	if rules == nil {
		rules = NewRuleEvaluator()
	}
	return &Resolver{policy: policy, rules: rules}
}

var defaultResolver = NewResolver(Policy{}, nil)

// Validate checks c with the default policy.
func Validate(c *Code, cartTotal int64, cust *Customer, now time.Time) *Rejection {
	return defaultResolver.Validate(c, cartTotal, cust, now)
}

// SelectAutoApply picks an auto-apply code with the default policy.
func SelectAutoApply(candidates []Code, cartTotal int64, cust *Customer, now time.Time) *Code {
	return defaultResolver.SelectAutoApply(candidates, cartTotal, cust, now)
}

func reject(kind RejectionKind, format string, args ...any) *Rejection {
	return &Rejection{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Unknown is the rejection for a code that does not exist.
func Unknown() *Rejection {
	return reject(RejectUnknown, "Invalid promo code")
}

// Validate returns nil when c applies to a cart worth cartTotal for cust, or
// the first failing condition. A nil cust is a guest; user-scoped checks are
// skipped for guests.
func (r *Resolver) Validate(c *Code, cartTotal int64, cust *Customer, now time.Time) *Rejection {
	if c == nil {
		return Unknown()
	}
	if !c.Active {
		return reject(RejectInactive, "This promo code is no longer active")
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return reject(RejectNotStarted, "This promo code is not valid yet")
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return reject(RejectExpired, "This promo code has expired")
	}
	if cartTotal < c.MinimumOrderValue {
		return reject(RejectBelowMinimum, "Minimum order of %s required", money.Format(c.MinimumOrderValue))
	}
	if c.MaxUses != nil && c.CurrentUses >= *c.MaxUses {
		return reject(RejectExhausted, "This promo code has reached its usage limit")
	}
	if cust != nil && c.UsagePerUser > 0 && cust.Redemptions[c.Code] >= c.UsagePerUser {
		return reject(RejectUserLimit, "You have already used this promo code")
	}
	if c.CustomerRestrictions.NewCustomersOnly {
		switch {
		case cust == nil && !r.policy.AllowGuestNewCustomerOffers:
			return reject(RejectGuest, "Sign in to use this new-customer offer")
		case cust != nil && cust.CompletedOrders > 0:
			return reject(RejectReturning, "This promo code is only available to new customers")
		}
	}
	if rule := c.CustomerRestrictions.Rule; rule != "" {
		ok, err := r.rules.Eval(rule, cartTotal, cust)
		if err != nil || !ok {
			return reject(RejectRuleNotMet, "Your order is not eligible for this promo code")
		}
	}
	return nil
}

// SelectAutoApply returns the eligible auto-apply code with the largest
// discount on cartTotal. Ties go to the higher priority, then to the
// alphabetically first code. It returns nil when nothing applies.
func (r *Resolver) SelectAutoApply(candidates []Code, cartTotal int64, cust *Customer, now time.Time) *Code {
	var (
		best     *Code
		bestDisc int64
	)
	for i := range candidates {
		c := &candidates[i]
		if !c.AutoApply || r.Validate(c, cartTotal, cust, now) != nil {
			continue
		}
		disc := c.DiscountFor(cartTotal)
		if disc <= 0 {
			continue
		}
		if best == nil || better(c, disc, best, bestDisc) {
			best, bestDisc = c, disc
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

func better(c *Code, disc int64, best *Code, bestDisc int64) bool {
	if disc != bestDisc {
		return disc > bestDisc
	}
	if c.Priority != best.Priority {
		return c.Priority > best.Priority
	}
	return c.Code < best.Code
}
