package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bunnybox/storefront/internal/cart"
	"github.com/bunnybox/storefront/internal/idempotency"
	"github.com/bunnybox/storefront/internal/logging"
	"github.com/bunnybox/storefront/internal/orders"
	"github.com/bunnybox/storefront/internal/pricing"
	"github.com/bunnybox/storefront/internal/validation"
)

type checkoutResponse struct {
	OrderID string         `json:"orderId"`
	Status  orders.Status  `json:"status"`
	Totals  pricing.Totals `json:"totals"`
}

// fingerprint ties an idempotency key to the caller and the request body.
func fingerprint(o cart.Owner, req validation.CheckoutRequest) string {
	owner := "user:" + o.UserID
	if o.IsGuest() {
		owner = "session:" + o.SessionID
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", owner, req.Email, req.DeliveryPostcode)
	if req.ExpectedTotal != nil {
		fmt.Fprintf(h, "\x00%d", *req.ExpectedTotal)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// replay answers a repeated checkout from its idempotency record. A key sent
// again with a different caller or body is refused.
func (h *Handler) replay(c *gin.Context, rec *idempotency.Record, requestHash string) {
	if rec.RequestHash != "" && rec.RequestHash != requestHash {
		h.cfg.Metrics.Checkouts.WithLabelValues("conflict").Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "idempotency_key_reused"})
		return
	}
	h.cfg.Metrics.Checkouts.WithLabelValues("replayed").Inc()
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" && json.Valid([]byte(rec.ResponseBody)) {
			c.Data(rec.ResponseStatus, "application/json", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"orderId": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "orderId": rec.OrderID})
	case idempotency.StatusFailed:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "previous_attempt_failed", "orderId": rec.OrderID})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
	}
}

// checkout prices the caller's cart, stores the order together with its
// idempotency record and hands it to the confirmation worker. Promo usage and
// loyalty points are committed by the worker, not here.
func (h *Handler) checkout(c *gin.Context) {
	ctx := c.Request.Context()
	o := ownerOf(c)

	key := c.GetHeader(IdempotencyKeyHeader)
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
		return
	}
	var req validation.CheckoutRequest
	if err := validation.BindAndValidate(c, &req, h.validator); err != nil {
		return
	}
	requestHash := fingerprint(o, req)

	if rec, err := h.cfg.Idempotency.Get(ctx, key); err != nil {
		internalError(c, "idempotency_check_failed", err)
		return
	} else if rec != nil {
		h.replay(c, rec, requestHash)
		return
	}

	snap, err := h.cfg.Carts.Get(ctx, o)
	if err != nil {
		internalError(c, "cart_read_failed", err)
		return
	}
	if snap.IsEmpty() {
		h.cfg.Metrics.Checkouts.WithLabelValues("empty").Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "cart_empty"})
		return
	}

	q, err := h.quote(ctx, o, snap)
	if err != nil {
		internalError(c, "pricing_failed", err)
		return
	}
	if q.Promo != nil && !q.Promo.Valid {
		h.cfg.Metrics.Checkouts.WithLabelValues("conflict").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": "promo_no_longer_valid", "reason": q.Promo.Reason, "totals": q.Totals})
		return
	}
	if req.ExpectedTotal != nil && *req.ExpectedTotal != q.Totals.Total {
		h.cfg.Metrics.Checkouts.WithLabelValues("conflict").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": "total_changed", "totals": q.Totals})
		return
	}

	orderID := uuid.NewString()
	order := orders.Order{
		OrderID:          orderID,
		CustomerID:       o.UserID,
		SessionID:        o.SessionID,
		Email:            req.Email,
		DeliveryPostcode: req.DeliveryPostcode,
		Status:           orders.StatusPending,
		Items:            snap.Items,
		PromoCode:        snap.Promo(),
		Totals:           q.Totals,
	}
	rec := h.cfg.Idempotency.NewRecord(key, orderID, requestHash)

	if err := h.cfg.Orders.CreateWithIdempotency(ctx, h.cfg.Idempotency.TableName(), rec, order); err != nil {
		if !errors.Is(err, orders.ErrDuplicateKey) {
			h.cfg.Metrics.Checkouts.WithLabelValues("failed").Inc()
			internalError(c, "order_write_failed", err)
			return
		}
		// lost a race with a concurrent request using the same key
		existing, getErr := h.cfg.Idempotency.Get(ctx, key)
		if getErr != nil {
			internalError(c, "idempotency_check_failed", getErr)
			return
		}
		if existing == nil {
			internalError(c, "transaction_failed_no_idempotency_record", err)
			return
		}
		h.replay(c, existing, requestHash)
		return
	}

	msg := orders.ConfirmationMessage{
		OrderID:        orderID,
		IdempotencyKey: key,
		CorrelationID:  c.Writer.Header().Get(logging.RequestIDHeader),
	}
	attrs := map[string]string{
		"idempotency_key": key,
		"order_id":        orderID,
		"correlation_id":  msg.CorrelationID,
	}
	if err := h.cfg.Publisher.Publish(ctx, msg, attrs); err != nil {
		_ = h.cfg.Idempotency.MarkFailed(ctx, key, fmt.Sprintf("sqs_send_failed: %v", err))
		h.cfg.Metrics.Checkouts.WithLabelValues("failed").Inc()
		internalError(c, "enqueue_failed", err)
		return
	}

	if err := h.cfg.Carts.Clear(ctx, o); err != nil {
		logger(c).Warn().Err(err).Str("order_id", orderID).Msg("order placed but cart not cleared")
	}

	resp := checkoutResponse{OrderID: orderID, Status: orders.StatusPending, Totals: q.Totals}
	body, _ := json.Marshal(resp)
	err = h.cfg.Idempotency.MarkPlaced(ctx, key, string(body), http.StatusCreated)
	switch {
	case errors.Is(err, idempotency.ErrNotInProgress):
		logger(c).Debug().Str("order_id", orderID).Msg("worker already stored the checkout response")
	case err != nil:
		logger(c).Warn().Err(err).Str("order_id", orderID).Msg("failed to store checkout response")
	}

	h.cfg.Metrics.Checkouts.WithLabelValues("created").Inc()
	logger(c).Info().Str("order_id", orderID).Int64("total", q.Totals.Total).Bool("promo_applied", q.Totals.PromoApplied).Msg("order placed")
	c.Header("Location", "/orders/"+orderID)
	c.Data(http.StatusCreated, "application/json", body)
}

// getOrder returns an order with its tracker. Orders are only visible to the
// user or guest session that placed them.
func (h *Handler) getOrder(c *gin.Context) {
	o := ownerOf(c)
	order, err := h.cfg.Orders.Get(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		internalError(c, "order_read_failed", err)
		return
	}
	visible := order != nil &&
		((o.UserID != "" && order.CustomerID == o.UserID) ||
			(order.CustomerID == "" && o.SessionID != "" && order.SessionID == o.SessionID))
	if !visible {
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order":    order,
		"timeline": orders.Timeline(order.Status),
	})
}
