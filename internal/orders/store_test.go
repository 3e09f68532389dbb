package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bunnybox/storefront/internal/cart"
	"github.com/bunnybox/storefront/internal/idempotency"
	"github.com/bunnybox/storefront/internal/pricing"
	"github.com/bunnybox/storefront/internal/testutil"
)

const (
	ordersTable = "orders-table"
	idempTable  = "idempotency-table"
)

func newTestStores(t *testing.T) (*Store, *idempotency.Store, *testutil.FakeDynamo) {
	t.Helper()
	fake := testutil.NewFakeDynamo().
		WithTable(ordersTable, "order_id").
		WithTable(idempTable, "idempotency_key")
	return NewStore(fake, ordersTable), idempotency.NewStore(fake, idempTable, time.Hour), fake
}

func sampleOrder(id string) Order {
	items := []cart.Item{{ID: "l1", ProductID: "lamb", Type: cart.TypeCurry, Name: "Lamb Bunny", Price: 500, Quantity: 5, SpiceLevel: cart.SpiceHot}}
	return Order{
		OrderID:    id,
		CustomerID: "u1",
		Email:      "a@example.com",
		Items:      items,
		Totals:     pricing.ComputeTotals(items, nil),
	}
}

func TestCreateWithIdempotency_Get_UpdateStatus(t *testing.T) {
	s, idem, _ := newTestStores(t)
	ctx := context.Background()

	rec := idem.NewRecord("idem-1", "order-1", "")
	if err := s.CreateWithIdempotency(ctx, idempTable, rec, sampleOrder("order-1")); err != nil {
		t.Fatalf("CreateWithIdempotency error: %v", err)
	}

	o, err := s.Get(ctx, "order-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if o == nil {
		t.Fatalf("expected order, got nil")
	}
	if o.Status != StatusPending {
		t.Fatalf("expected PENDING, got %s", o.Status)
	}
	if o.Totals.Total != 2375+pricing.DefaultDeliveryFee || o.Items[0].SpiceLevel != cart.SpiceHot {
		t.Fatalf("order not persisted faithfully: %+v", o)
	}

	stored, err := idem.Get(ctx, "idem-1")
	if err != nil || stored == nil || stored.OrderID != "order-1" {
		t.Fatalf("idempotency record missing: %+v, %v", stored, err)
	}

	if err := s.UpdateStatus(ctx, "order-1", StatusPending, StatusProcessing); err != nil {
		t.Fatalf("UpdateStatus error: %v", err)
	}
	if err := s.UpdateStatus(ctx, "order-1", StatusPending, StatusProcessing); !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}

	if err := s.IncrementAttempts(ctx, "order-1"); err != nil {
		t.Fatalf("IncrementAttempts error: %v", err)
	}
	if err := s.SetLoyaltyPoints(ctx, "order-1", 23); err != nil {
		t.Fatalf("SetLoyaltyPoints error: %v", err)
	}
	o, _ = s.Get(ctx, "order-1")
	if o.Status != StatusProcessing || o.Attempts != 1 || o.LoyaltyPoints != 23 {
		t.Fatalf("unexpected order after updates: status=%s attempts=%d points=%d", o.Status, o.Attempts, o.LoyaltyPoints)
	}
}

func TestCreateWithIdempotency_DuplicateKey(t *testing.T) {
	s, idem, fake := newTestStores(t)
	ctx := context.Background()

	if err := s.CreateWithIdempotency(ctx, idempTable, idem.NewRecord("idem-1", "order-1", ""), sampleOrder("order-1")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := s.CreateWithIdempotency(ctx, idempTable, idem.NewRecord("idem-1", "order-2", ""), sampleOrder("order-2"))
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if fake.Len(ordersTable) != 1 {
		t.Fatalf("duplicate create must not write a second order")
	}
}

func TestGet_NotFound(t *testing.T) {
	s, _, _ := newTestStores(t)
	o, err := s.Get(context.Background(), "missing")
	if err != nil || o != nil {
		t.Fatalf("expected (nil, nil), got (%+v, %v)", o, err)
	}
}

func TestPromoToCommit(t *testing.T) {
	o := sampleOrder("o")
	if o.PromoToCommit() != "" {
		t.Fatalf("volume-only order must not commit a promo")
	}
	o.Totals.PromoApplied, o.Totals.PromoCode = true, "BUNNY10"
	if o.PromoToCommit() != "BUNNY10" {
		t.Fatalf("expected BUNNY10")
	}
}
