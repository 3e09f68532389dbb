package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bunnybox/storefront/internal/cart"
	"github.com/bunnybox/storefront/internal/pricing"
	"github.com/bunnybox/storefront/internal/validation"
)

// respondCart prices snap and writes it.
func (h *Handler) respondCart(c *gin.Context, status int, snap cart.Snapshot) {
	q, err := h.quote(c.Request.Context(), ownerOf(c), snap)
	if err != nil {
		internalError(c, "pricing_failed", err)
		return
	}
	c.JSON(status, q)
}

func (h *Handler) cartError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, cart.ErrLineNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "line_not_found"})
	case errors.Is(err, cart.ErrQuantityLimit):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "quantity_limit", "msg": err.Error()})
	case errors.Is(err, cart.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_quantity"})
	case errors.Is(err, cart.ErrNoOwner):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_identity"})
	default:
		internalError(c, "cart_write_failed", err)
	}
}

func (h *Handler) getCart(c *gin.Context) {
	snap, err := h.cfg.Carts.Get(c.Request.Context(), ownerOf(c))
	if err != nil {
		internalError(c, "cart_read_failed", err)
		return
	}
	h.respondCart(c, http.StatusOK, snap)
}

func (h *Handler) addItem(c *gin.Context) {
	var req validation.AddItemRequest
	if err := validation.BindAndValidate(c, &req, h.validator); err != nil {
		return
	}
	snap, err := h.cfg.Carts.AddItem(c.Request.Context(), ownerOf(c), req.Item())
	if err != nil {
		h.cartError(c, err)
		return
	}
	h.respondCart(c, http.StatusOK, snap)
}

func (h *Handler) updateItem(c *gin.Context) {
	var req validation.UpdateQuantityRequest
	if err := validation.BindAndValidate(c, &req, h.validator); err != nil {
		return
	}
	snap, err := h.cfg.Carts.UpdateQuantity(c.Request.Context(), ownerOf(c), c.Param("lineId"), *req.Quantity)
	if err != nil {
		h.cartError(c, err)
		return
	}
	h.respondCart(c, http.StatusOK, snap)
}

func (h *Handler) removeItem(c *gin.Context) {
	snap, err := h.cfg.Carts.RemoveItem(c.Request.Context(), ownerOf(c), c.Param("lineId"))
	if err != nil {
		h.cartError(c, err)
		return
	}
	h.respondCart(c, http.StatusOK, snap)
}

// applyPromo validates the code against the current cart before storing it.
// A rejected code leaves the cart unchanged and is reported with 200.
func (h *Handler) applyPromo(c *gin.Context) {
	var req validation.ApplyPromoRequest
	if err := validation.BindAndValidate(c, &req, h.validator); err != nil {
		return
	}
	ctx := c.Request.Context()
	o := ownerOf(c)

	current, err := h.cfg.Carts.Get(ctx, o)
	if err != nil {
		internalError(c, "cart_read_failed", err)
		return
	}
	subtotal, _ := pricing.Subtotal(current.Items)
	_, rej, err := h.resolve(ctx, o, req.Code, subtotal)
	if err != nil {
		internalError(c, "promo_lookup_failed", err)
		return
	}
	h.cfg.Metrics.PromoValidations.WithLabelValues(outcome(rej)).Inc()
	if rej != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "kind": rej.Kind, "reason": rej.Message})
		return
	}

	snap, err := h.cfg.Carts.SetPromo(ctx, o, req.Code)
	if err != nil {
		h.cartError(c, err)
		return
	}
	h.respondCart(c, http.StatusOK, snap)
}

func (h *Handler) removePromo(c *gin.Context) {
	snap, err := h.cfg.Carts.SetPromo(c.Request.Context(), ownerOf(c), "")
	if err != nil {
		h.cartError(c, err)
		return
	}
	h.respondCart(c, http.StatusOK, snap)
}

// syncCart merges the caller's local cart into their account cart on sign-in.
func (h *Handler) syncCart(c *gin.Context) {
	o := ownerOf(c)
	if o.IsGuest() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "sign_in_required"})
		return
	}
	var req validation.SyncRequest
	if err := validation.BindAndValidate(c, &req, h.validator); err != nil {
		return
	}

	merged, err := h.cfg.Carts.Sync(c.Request.Context(), o.UserID, o.SessionID, req.Snapshot())
	if err != nil {
		h.cfg.Metrics.CartSyncs.WithLabelValues("failed").Inc()
		internalError(c, "sync_failed", err)
		return
	}
	h.cfg.Metrics.CartSyncs.WithLabelValues("merged").Inc()
	h.respondCart(c, http.StatusOK, merged)
}
