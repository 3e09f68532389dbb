package orders

import (
	"time"

	"github.com/bunnybox/storefront/internal/cart"
	"github.com/bunnybox/storefront/internal/pricing"
)

type Status string

const (
	StatusPending        Status = "PENDING"
	StatusProcessing     Status = "PROCESSING"
	StatusConfirmed      Status = "CONFIRMED"
	StatusPreparing      Status = "PREPARING"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
	StatusFailed         Status = "FAILED"
)

// Order is the item stored in the orders table. Items and Totals are what the
// customer was charged and never change after creation.
type Order struct {
	OrderID          string         `json:"orderId" dynamodbav:"order_id"` // PK
	CustomerID       string         `json:"customerId,omitempty" dynamodbav:"customer_id,omitempty"`
	SessionID        string         `json:"-" dynamodbav:"session_id,omitempty"`
	Email            string         `json:"email" dynamodbav:"email"`
	DeliveryPostcode string         `json:"deliveryPostcode" dynamodbav:"delivery_postcode"`
	Status           Status         `json:"status" dynamodbav:"status"`
	Items            []cart.Item    `json:"items" dynamodbav:"items"`
	PromoCode        string         `json:"promoCode,omitempty" dynamodbav:"promo_code,omitempty"`
	Totals           pricing.Totals `json:"totals" dynamodbav:"totals"`
	LoyaltyPoints    int64          `json:"loyaltyPoints" dynamodbav:"loyalty_points"`
	CreatedAt        time.Time      `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt        time.Time      `json:"updatedAt" dynamodbav:"updated_at"`
	Attempts         int            `json:"-" dynamodbav:"attempts,omitempty"`
}

// PromoToCommit returns the code whose usage the order consumes, or "" when
// the charged totals did not apply a promo.
func (o *Order) PromoToCommit() string {
	if !o.Totals.PromoApplied {
		return ""
	}
	return o.Totals.PromoCode
}

// ConfirmationMessage is the payload sent from checkout to the confirmation
// worker over SQS.
type ConfirmationMessage struct {
	OrderID        string `json:"order_id"`
	IdempotencyKey string `json:"idempotency_key"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}
