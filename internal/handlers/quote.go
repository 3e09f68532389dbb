package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/bunnybox/storefront/internal/cart"
	"github.com/bunnybox/storefront/internal/pricing"
	"github.com/bunnybox/storefront/internal/promo"
)

// promoStatus reports what happened to the promo for a priced cart.
type promoStatus struct {
	Code      string              `json:"code"`
	Valid     bool                `json:"valid"`
	AutoApply bool                `json:"autoApplied,omitempty"`
	Kind      promo.RejectionKind `json:"kind,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	Discount  int64               `json:"discount"`
	Stackable bool                `json:"stackable"`
	Applied   bool                `json:"applied"`
}

type quote struct {
	Cart   cart.Snapshot  `json:"cart"`
	Totals pricing.Totals `json:"totals"`
	Promo  *promoStatus   `json:"promo"`

	code *promo.Code
}

// customer builds the eligibility view of o. Guests get nil. Usage counts are
// loaded for codes only.
func (h *Handler) customer(ctx context.Context, o cart.Owner, codes ...string) (*promo.Customer, error) {
	if o.IsGuest() {
		return nil, nil
	}
	acct, err := h.cfg.Accounts.Account(ctx, o.UserID)
	if err != nil {
		return nil, fmt.Errorf("load loyalty account: %w", err)
	}
	used, err := h.cfg.Promos.Redemptions(ctx, o.UserID, codes...)
	if err != nil {
		return nil, fmt.Errorf("load promo usage: %w", err)
	}
	return &promo.Customer{
		UserID:          o.UserID,
		CompletedOrders: acct.CompletedOrders,
		Redemptions:     used,
	}, nil
}

// resolve looks up and validates an explicit code against cartTotal. An
// unknown code is a rejection, not an error.
func (h *Handler) resolve(ctx context.Context, o cart.Owner, code string, cartTotal int64) (*promo.Code, *promo.Rejection, error) {
	c, err := h.cfg.Promos.Get(ctx, code)
	if errors.Is(err, promo.ErrNotFound) {
		return nil, promo.Unknown(), nil
	}
	if err != nil {
		return nil, nil, err
	}
	cust, err := h.customer(ctx, o, c.Code)
	if err != nil {
		return nil, nil, err
	}
	if rej := h.cfg.Resolver.Validate(c, cartTotal, cust, h.cfg.Now()); rej != nil {
		return c, rej, nil
	}
	return c, nil, nil
}

// bestAutoApply returns the auto-apply code giving the largest discount, or nil.
func (h *Handler) bestAutoApply(ctx context.Context, o cart.Owner, cartTotal int64) (*promo.Code, error) {
	candidates, err := h.cfg.Promos.ListAutoApply(ctx)
	if err != nil || len(candidates) == 0 {
		return nil, err
	}
	codes := make([]string, len(candidates))
	for i, c := range candidates {
		codes[i] = c.Code
	}
	cust, err := h.customer(ctx, o, codes...)
	if err != nil {
		return nil, err
	}
	return h.cfg.Resolver.SelectAutoApply(candidates, cartTotal, cust, h.cfg.Now()), nil
}

// quote prices snap for o. The cart's own code is used when set, otherwise the
// best auto-apply code. A rejected code prices the cart without it.
func (h *Handler) quote(ctx context.Context, o cart.Owner, snap cart.Snapshot) (quote, error) {
	subtotal, _ := pricing.Subtotal(snap.Items)
	q := quote{Cart: snap}

	switch {
	case snap.PromoCode != nil:
		c, rej, err := h.resolve(ctx, o, *snap.PromoCode, subtotal)
		if err != nil {
			return quote{}, err
		}
		q.Promo = &promoStatus{Code: *snap.PromoCode, Valid: rej == nil}
		if rej != nil {
			q.Promo.Kind, q.Promo.Reason = rej.Kind, rej.Message
		} else {
			q.code = c
		}
	case subtotal > 0:
		c, err := h.bestAutoApply(ctx, o, subtotal)
		if err != nil {
			return quote{}, err
		}
		if c != nil {
			q.code = c
			q.Promo = &promoStatus{Code: c.Code, Valid: true, AutoApply: true}
		}
	}

	q.Totals = h.cfg.Calculator.Compute(snap.Items, q.code)
	if q.Promo != nil && q.code != nil {
		q.Promo.Code = q.code.Code
		q.Promo.Discount = q.Totals.PromoDiscount
		q.Promo.Stackable = q.code.Stackable
		q.Promo.Applied = q.Totals.PromoApplied
	}
	return q, nil
}
