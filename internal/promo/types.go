package promo

import (
	"errors"
	"strings"
	"time"

	"github.com/bunnybox/storefront/internal/money"
)

type DiscountType string

const (
	Percentage DiscountType = "percentage"
	Fixed      DiscountType = "fixed"
)

var (
	ErrNotFound         = errors.New("promo code not found")
	ErrUsageExhausted   = errors.New("promo code usage exhausted")
	ErrAlreadyCommitted = errors.New("promo usage already committed for order")
)

// Restrictions narrow who may redeem a code. Rule is an optional CEL boolean
// expression over cart_total, completed_orders, guest and user_id.
type Restrictions struct {
	NewCustomersOnly bool   `json:"newCustomersOnly" dynamodbav:"new_customers_only"`
	Rule             string `json:"rule,omitempty" dynamodbav:"rule,omitempty"`
}

// Code is a row of the promo codes table. Money values are pence.
type Code struct {
	Code                 string       `json:"code" dynamodbav:"code"` // PK, upper-case
	Description          string       `json:"description,omitempty" dynamodbav:"description,omitempty"`
	DiscountType         DiscountType `json:"discountType" dynamodbav:"discount_type"`
	DiscountValue        int64        `json:"discountValue" dynamodbav:"discount_value"`
	MinimumOrderValue    int64        `json:"minimumOrderValue" dynamodbav:"minimum_order_value"`
	ValidFrom            *time.Time   `json:"validFrom,omitempty" dynamodbav:"valid_from,omitempty"`
	ValidUntil           *time.Time   `json:"validUntil,omitempty" dynamodbav:"valid_until,omitempty"`
	MaxUses              *int         `json:"maxUses,omitempty" dynamodbav:"max_uses,omitempty"`
	CurrentUses          int          `json:"currentUses" dynamodbav:"current_uses"`
	UsagePerUser         int          `json:"usagePerUser" dynamodbav:"usage_per_user"`
	Stackable            bool         `json:"stackable" dynamodbav:"stackable"`
	AutoApply            bool         `json:"autoApply" dynamodbav:"auto_apply"`
	Priority             int          `json:"priority" dynamodbav:"priority"`
	Active               bool         `json:"active" dynamodbav:"active"`
	CustomerRestrictions Restrictions `json:"customerRestrictions" dynamodbav:"customer_restrictions"`
}

// Normalize canonicalises a user-entered code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// DiscountFor is the raw discount the code gives on subtotal, ignoring the
// minimum order and eligibility. Fixed discounts never exceed the subtotal.
func (c *Code) DiscountFor(subtotal int64) int64 {
	if c == nil || subtotal <= 0 {
		return 0
	}
	switch c.DiscountType {
	case Percentage:
		return money.Percent(subtotal, c.DiscountValue)
	case Fixed:
		return min(max(c.DiscountValue, 0), subtotal)
	}
	return 0
}

// Customer is what eligibility checks know about the shopper. A nil *Customer
// is a guest.
type Customer struct {
	UserID          string
	CompletedOrders int
	// Redemptions is the user's committed usage count per code.
	Redemptions map[string]int
}

type RejectionKind string

const (
	RejectUnknown      RejectionKind = "unknown_code"
	RejectInactive     RejectionKind = "inactive"
	RejectNotStarted   RejectionKind = "not_started"
	RejectExpired      RejectionKind = "expired"
	RejectBelowMinimum RejectionKind = "below_minimum"
	RejectExhausted    RejectionKind = "exhausted"
	RejectUserLimit    RejectionKind = "user_limit"
	RejectReturning    RejectionKind = "returning_customer"
	RejectGuest        RejectionKind = "guest_not_eligible"
	RejectRuleNotMet   RejectionKind = "rule_not_met"
)

// Rejection explains why a code does not apply. It is a business outcome, not
// an error.
type Rejection struct {
	Kind    RejectionKind `json:"kind"`
	Message string        `json:"reason"`
}

func (r *Rejection) Error() string { return r.Message }
