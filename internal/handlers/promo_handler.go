package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bunnybox/storefront/internal/pricing"
	"github.com/bunnybox/storefront/internal/promo"
	"github.com/bunnybox/storefront/internal/validation"
)

func outcome(rej *promo.Rejection) string {
	if rej == nil {
		return "valid"
	}
	return string(rej.Kind)
}

// validatePromo checks a code without side effects. The cart total comes from
// the request or, when absent, from the caller's cart.
func (h *Handler) validatePromo(c *gin.Context) {
	var req validation.ValidatePromoRequest
	if err := validation.BindAndValidate(c, &req, h.validator); err != nil {
		return
	}
	ctx := c.Request.Context()
	o := ownerOf(c)

	var cartTotal int64
	switch {
	case req.CartTotal != nil:
		cartTotal = *req.CartTotal
	case o.UserID != "" || o.SessionID != "":
		snap, err := h.cfg.Carts.Get(ctx, o)
		if err != nil {
			internalError(c, "cart_read_failed", err)
			return
		}
		cartTotal, _ = pricing.Subtotal(snap.Items)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "cart_total_required"})
		return
	}

	code, rej, err := h.resolve(ctx, o, req.Code, cartTotal)
	if err != nil {
		internalError(c, "promo_lookup_failed", err)
		return
	}
	h.cfg.Metrics.PromoValidations.WithLabelValues(outcome(rej)).Inc()
	if rej != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "code": promo.Normalize(req.Code), "kind": rej.Kind, "reason": rej.Message})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":        true,
		"code":         code.Code,
		"description":  code.Description,
		"discountType": code.DiscountType,
		"discount":     code.DiscountFor(cartTotal),
		"stackable":    code.Stackable,
	})
}

// autoApply reports the auto-apply code the caller's cart would receive.
func (h *Handler) autoApply(c *gin.Context) {
	ctx := c.Request.Context()
	o := ownerOf(c)
	snap, err := h.cfg.Carts.Get(ctx, o)
	if err != nil {
		internalError(c, "cart_read_failed", err)
		return
	}
	subtotal, _ := pricing.Subtotal(snap.Items)
	best, err := h.bestAutoApply(ctx, o, subtotal)
	if err != nil {
		internalError(c, "promo_lookup_failed", err)
		return
	}
	if best == nil {
		c.JSON(http.StatusOK, gin.H{"promo": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"promo": gin.H{
			"code":        best.Code,
			"description": best.Description,
			"discount":    best.DiscountFor(subtotal),
			"stackable":   best.Stackable,
		},
	})
}
