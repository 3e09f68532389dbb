package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bunnybox/storefront/internal/idempotency"
	"github.com/bunnybox/storefront/internal/loyalty"
	"github.com/bunnybox/storefront/internal/orders"
	"github.com/bunnybox/storefront/internal/pricing"
	"github.com/bunnybox/storefront/internal/promo"
)

// PromoCommitter records that an order consumed a promo code.
type PromoCommitter interface {
	CommitUsage(ctx context.Context, code, userID, orderID string) error
}

// LoyaltyAwarder credits points for a confirmed order.
type LoyaltyAwarder interface {
	Award(ctx context.Context, userID, orderID string, spend int64) (int64, error)
	Awarded(ctx context.Context, orderID string) (int64, bool, error)
}

type MetricsSink interface {
	PutCount(ctx context.Context, name string, value float64, dims map[string]string) error
}

// Processor confirms orders placed at checkout.
type Processor struct {
	orders      *orders.Store
	idempotency *idempotency.Store
	promos      PromoCommitter
	loyalty     LoyaltyAwarder
	metrics     MetricsSink
	tracer      trace.Tracer
}

func NewProcessor(o *orders.Store, idem *idempotency.Store, promos PromoCommitter, awards LoyaltyAwarder, metrics MetricsSink) *Processor {
	return &Processor{
		orders:      o,
		idempotency: idem,
		promos:      promos,
		loyalty:     awards,
		metrics:     metrics,
		tracer:      otel.Tracer("github.com/bunnybox/storefront/cmd/worker"),
	}
}

// Handle processes an SQS batch. The first failing message fails the batch so
// Lambda redelivers it; repeated deliveries are no-ops.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	zerolog.Ctx(ctx).Debug().Int("records", len(ev.Records)).Msg("received batch")
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("message_id", rec.MessageId).Msg("worker error")
			return err
		}
	}
	return nil
}

// outcome is what a single confirmation did, for metrics.
type outcome struct {
	promoCommitted string
	points         int64
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) (err error) {
	var msg orders.ConfirmationMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	log := zerolog.Ctx(ctx).With().
		Str("order_id", msg.OrderID).
		Str("idempotency_key", msg.IdempotencyKey).
		Str("correlation_id", msg.CorrelationID).
		Logger()
	ctx = log.WithContext(ctx)

	ctx, span := p.tracer.Start(ctx, "worker.confirmOrder", trace.WithAttributes(
		attribute.String("order.id", msg.OrderID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	order, err := p.orders.Get(ctx, msg.OrderID)
	if err != nil {
		return fmt.Errorf("failed to fetch order: %w", err)
	}
	if order == nil {
		return fmt.Errorf("order not found: %s", msg.OrderID)
	}
	if err := p.orders.IncrementAttempts(ctx, msg.OrderID); err != nil {
		log.Warn().Err(err).Msg("failed to count attempt")
	}

	// PENDING -> PROCESSING
	err = p.orders.UpdateStatus(ctx, msg.OrderID, orders.StatusPending, orders.StatusProcessing)
	if errors.Is(err, orders.ErrStatusMismatch) {
		current, getErr := p.orders.Get(ctx, msg.OrderID)
		if getErr != nil {
			return fmt.Errorf("failed to re-read order: %w", getErr)
		}
		switch current.Status {
		case orders.StatusProcessing:
			// an earlier attempt stopped part way; every step below is safe to repeat
			log.Info().Msg("resuming order already in PROCESSING")
		case orders.StatusFailed:
			return fmt.Errorf("order=%s is already FAILED", msg.OrderID)
		case orders.StatusCancelled:
			log.Info().Msg("order cancelled before confirmation")
			return nil
		default:
			log.Info().Str("status", string(current.Status)).Msg("duplicate delivery for confirmed order")
			return p.markDone(ctx, msg, current)
		}
	} else if err != nil {
		return fmt.Errorf("failed to update status to PROCESSING: %w", err)
	}

	var out outcome
	if out.promoCommitted, err = p.commitPromo(ctx, order); err != nil {
		return err
	}
	if out.points, err = p.awardPoints(ctx, order); err != nil {
		return err
	}

	// PROCESSING -> CONFIRMED
	err = p.orders.UpdateStatus(ctx, msg.OrderID, orders.StatusProcessing, orders.StatusConfirmed)
	if err != nil && !errors.Is(err, orders.ErrStatusMismatch) {
		return fmt.Errorf("failed to update status to CONFIRMED: %w", err)
	}
	order.Status = orders.StatusConfirmed

	if err := p.markDone(ctx, msg, order); err != nil {
		return err
	}
	p.publishMetrics(ctx, out)

	log.Info().Int64("total", order.Totals.Total).Int64("points", out.points).Msg("order confirmed")
	return nil
}

// commitPromo consumes the order's promo code. It returns the committed code,
// or "" when there was nothing new to commit.
func (p *Processor) commitPromo(ctx context.Context, order *orders.Order) (string, error) {
	code := order.PromoToCommit()
	if code == "" {
		return "", nil
	}
	log := zerolog.Ctx(ctx)
	err := p.promos.CommitUsage(ctx, code, order.CustomerID, order.OrderID)
	switch {
	case err == nil:
		return code, nil
	case errors.Is(err, promo.ErrAlreadyCommitted):
		log.Debug().Str("promo_code", code).Msg("promo usage already committed")
		return "", nil
	case errors.Is(err, promo.ErrUsageExhausted):
		// the customer was quoted this discount; honour it and flag the overrun
		log.Warn().Str("promo_code", code).Msg("promo usage limit reached after checkout")
		return "", nil
	default:
		return "", fmt.Errorf("commit promo usage: %w", err)
	}
}

// awardPoints credits loyalty points for signed-in customers on the order
// total before delivery. It returns the points newly credited by this call.
func (p *Processor) awardPoints(ctx context.Context, order *orders.Order) (int64, error) {
	if order.CustomerID == "" {
		return 0, nil
	}
	spend := order.Totals.Subtotal - order.Totals.Discount
	points, err := p.loyalty.Award(ctx, order.CustomerID, order.OrderID, spend)
	if errors.Is(err, loyalty.ErrAlreadyAwarded) {
		zerolog.Ctx(ctx).Debug().Msg("loyalty points already awarded")
		return 0, p.restorePoints(ctx, order)
	}
	if err != nil {
		return 0, fmt.Errorf("award loyalty points: %w", err)
	}
	if err := p.orders.SetLoyaltyPoints(ctx, order.OrderID, points); err != nil {
		return 0, err
	}
	order.LoyaltyPoints = points
	return points, nil
}

// restorePoints copies the ledger's points onto the order when an earlier
// attempt credited the account but stopped before updating the order.
func (p *Processor) restorePoints(ctx context.Context, order *orders.Order) error {
	points, ok, err := p.loyalty.Awarded(ctx, order.OrderID)
	if err != nil {
		return fmt.Errorf("read loyalty award: %w", err)
	}
	if !ok || points == order.LoyaltyPoints {
		return nil
	}
	if err := p.orders.SetLoyaltyPoints(ctx, order.OrderID, points); err != nil {
		return err
	}
	order.LoyaltyPoints = points
	return nil
}

type confirmation struct {
	OrderID       string         `json:"orderId"`
	Status        orders.Status  `json:"status"`
	Totals        pricing.Totals `json:"totals"`
	LoyaltyPoints int64          `json:"loyaltyPoints,omitempty"`
}

// markDone stores the confirmed state as the checkout's replay response.
func (p *Processor) markDone(ctx context.Context, msg orders.ConfirmationMessage, order *orders.Order) error {
	body, err := json.Marshal(confirmation{
		OrderID:       order.OrderID,
		Status:        order.Status,
		Totals:        order.Totals,
		LoyaltyPoints: order.LoyaltyPoints,
	})
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	if err := p.idempotency.MarkDone(ctx, msg.IdempotencyKey, string(body), http.StatusCreated); err != nil {
		return fmt.Errorf("failed to update idempotency: %w", err)
	}
	return nil
}

// publishMetrics is best effort.
func (p *Processor) publishMetrics(ctx context.Context, out outcome) {
	log := zerolog.Ctx(ctx)
	put := func(name string, value float64, dims map[string]string) {
		if err := p.metrics.PutCount(ctx, name, value, dims); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("failed to publish metric")
		}
	}
	put("OrdersConfirmed", 1, nil)
	if out.promoCommitted != "" {
		put("PromoRedemptions", 1, map[string]string{"PromoCode": out.promoCommitted})
	}
	if out.points > 0 {
		put("LoyaltyPointsAwarded", float64(out.points), nil)
	}
}
