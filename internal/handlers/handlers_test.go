package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunnybox/storefront/internal/cart"
	"github.com/bunnybox/storefront/internal/idempotency"
	"github.com/bunnybox/storefront/internal/logging"
	"github.com/bunnybox/storefront/internal/loyalty"
	"github.com/bunnybox/storefront/internal/metrics"
	"github.com/bunnybox/storefront/internal/orders"
	"github.com/bunnybox/storefront/internal/pricing"
	"github.com/bunnybox/storefront/internal/promo"
	"github.com/bunnybox/storefront/internal/testutil"
)

var promoTables = promo.Tables{Codes: "promo_codes", Redemptions: "promo_redemptions", Usage: "promo_user_usage"}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []orders.ConfirmationMessage
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, payload any, attributes map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, payload.(orders.ConfirmationMessage))
	return nil
}

type env struct {
	router  *gin.Engine
	dynamo  *testutil.FakeDynamo
	redis   *testutil.FakeRedis
	pub     *recordingPublisher
	metrics *metrics.Metrics
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := testutil.NewFakeDynamo().
		WithTable("carts", "user_id").
		WithTable(promoTables.Codes, "code").
		WithTable(promoTables.Redemptions, "order_id").
		WithTable(promoTables.Usage, "usage_key").
		WithTable("orders", "order_id").
		WithTable("idempotency", "idempotency_key").
		WithTable("loyalty_accounts", "user_id").
		WithTable("loyalty_awards", "order_id")
	rdb := testutil.NewFakeRedis()
	pub := &recordingPublisher{}
	m := metrics.New()

	h := New(HandlerConfig{
		Carts:       cart.NewService(cart.NewDynamoStore(fake, "carts"), cart.NewRedisStore(rdb, time.Hour)),
		Promos:      promo.NewDynamoStore(fake, promoTables),
		Accounts:    loyalty.NewStore(fake, "loyalty_accounts", "loyalty_awards"),
		Orders:      orders.NewStore(fake, "orders"),
		Idempotency: idempotency.NewStore(fake, "idempotency", time.Hour),
		Publisher:   pub,
		Calculator:  pricing.Default,
		Metrics:     m,
		Now:         func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) },
	})
	r := gin.New()
	r.Use(logging.Middleware(logging.New("error", &bytes.Buffer{})))
	h.Register(r)
	return &env{router: r, dynamo: fake, redis: rdb, pub: pub, metrics: m}
}

func (e *env) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func guest(session string) map[string]string { return map[string]string{SessionIDHeader: session} }
func user(id string) map[string]string     { return map[string]string{UserIDHeader: id} }

func side(productID string, qty int) gin.H {
	return gin.H{"productId": productID, "type": "side", "name": productID, "price": 500, "quantity": qty}
}

func (e *env) seedPromo(t *testing.T, c promo.Code) {
	t.Helper()
	require.NoError(t, e.dynamo.Seed(promoTables.Codes, c))
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCart_RequiresIdentity(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/cart", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCart_FourItemsNoDiscount(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/cart/items", side("samosa", 4), guest("s1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	q := decode[quote](t, w)
	assert.Equal(t, int64(2000), q.Totals.Subtotal)
	assert.Equal(t, int64(0), q.Totals.Discount)
	assert.Equal(t, 4, q.Totals.ItemCount)
	assert.Equal(t, int64(2000)+pricing.DefaultDeliveryFee, q.Totals.Total)
	assert.True(t, e.redis.Has("cart:guest:s1"))
}

func TestCart_VolumeThenPromo(t *testing.T) {
	e := newEnv(t)
	e.seedPromo(t, promo.Code{Code: "BUNNY10", DiscountType: promo.Percentage, DiscountValue: 10, Active: true})

	w := e.do(t, http.MethodPost, "/cart/items", side("samosa", 5), user("u1"))
	require.Equal(t, http.StatusOK, w.Code)
	q := decode[quote](t, w)
	assert.Equal(t, int64(125), q.Totals.Discount)
	assert.Equal(t, int64(2375)+pricing.DefaultDeliveryFee, q.Totals.Total)

	w = e.do(t, http.MethodPost, "/cart/promo", gin.H{"code": "bunny10"}, user("u1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	q = decode[quote](t, w)
	assert.Equal(t, int64(250), q.Totals.Discount)
	assert.True(t, q.Totals.PromoApplied)
	require.NotNil(t, q.Promo)
	assert.Equal(t, "BUNNY10", q.Promo.Code)
	assert.True(t, q.Promo.Valid)

	w = e.do(t, http.MethodDelete, "/cart/promo", nil, user("u1"))
	q = decode[quote](t, w)
	assert.Equal(t, int64(125), q.Totals.Discount)
	assert.Nil(t, q.Promo)
}

func TestCart_ApplyRejectedPromoLeavesCartAlone(t *testing.T) {
	e := newEnv(t)
	e.seedPromo(t, promo.Code{Code: "BIG50", DiscountType: promo.Fixed, DiscountValue: 500, MinimumOrderValue: 5000, Active: true})
	e.do(t, http.MethodPost, "/cart/items", side("samosa", 2), user("u1"))

	w := e.do(t, http.MethodPost, "/cart/promo", gin.H{"code": "BIG50"}, user("u1"))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "Minimum order of £50.00 required", body["reason"])

	q := decode[quote](t, e.do(t, http.MethodGet, "/cart", nil, user("u1")))
	assert.Nil(t, q.Cart.PromoCode)
}

func TestCart_ItemErrors(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/cart/items", gin.H{"productId": "lamb", "type": "curry", "name": "Lamb", "price": 1250, "quantity": 1}, user("u1"))
	assert.Equal(t, http.StatusBadRequest, w.Code, "curry needs a spice level")

	loaf := gin.H{"productId": "loaf", "type": "bunny", "name": "Loaf", "price": 300, "quantity": 2, "maxQuantity": 3}
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/cart/items", loaf, user("u1")).Code)
	w = e.do(t, http.MethodPost, "/cart/items", loaf, user("u1"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = e.do(t, http.MethodPatch, "/cart/items/missing", gin.H{"quantity": 1}, user("u1"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCart_UpdateAndRemove(t *testing.T) {
	e := newEnv(t)
	q := decode[quote](t, e.do(t, http.MethodPost, "/cart/items", side("samosa", 1), user("u1")))
	lineID := q.Cart.Items[0].ID

	q = decode[quote](t, e.do(t, http.MethodPatch, "/cart/items/"+lineID, gin.H{"quantity": 10}, user("u1")))
	assert.Equal(t, int64(10), q.Totals.VolumeTier)

	q = decode[quote](t, e.do(t, http.MethodDelete, "/cart/items/"+lineID, nil, user("u1")))
	assert.Empty(t, q.Cart.Items)
	assert.Equal(t, int64(0), q.Totals.Total)
}

func TestCart_AutoApplyPicksLargestDiscount(t *testing.T) {
	e := newEnv(t)
	e.seedPromo(t, promo.Code{Code: "FLAT2", DiscountType: promo.Fixed, DiscountValue: 200, Priority: 9, AutoApply: true, Active: true})
	e.seedPromo(t, promo.Code{Code: "TWELVE", DiscountType: promo.Percentage, DiscountValue: 12, AutoApply: true, Active: true})

	q := decode[quote](t, e.do(t, http.MethodPost, "/cart/items", side("samosa", 6), guest("s1")))
	require.NotNil(t, q.Promo)
	assert.Equal(t, "TWELVE", q.Promo.Code)
	assert.True(t, q.Promo.AutoApply)
	assert.Equal(t, int64(360), q.Totals.Discount)

	body := decode[map[string]any](t, e.do(t, http.MethodGet, "/promos/auto-apply", nil, guest("s1")))
	assert.Equal(t, "TWELVE", body["promo"].(map[string]any)["code"])
}

func TestPromoValidate_MinimumOrderAndNoSideEffects(t *testing.T) {
	e := newEnv(t)
	maxUses := 10
	e.seedPromo(t, promo.Code{Code: "BIG50", DiscountType: promo.Fixed, DiscountValue: 500, MinimumOrderValue: 5000, MaxUses: &maxUses, Active: true})

	for i := 0; i < 2; i++ {
		w := e.do(t, http.MethodPost, "/promos/validate", gin.H{"code": "big50", "cartTotal": 4000}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode[map[string]any](t, w)
		assert.Equal(t, false, body["valid"])
		assert.Equal(t, "below_minimum", body["kind"])
		assert.Equal(t, "Minimum order of £50.00 required", body["reason"])
	}

	w := e.do(t, http.MethodPost, "/promos/validate", gin.H{"code": "BIG50", "cartTotal": 6000}, nil)
	body := decode[map[string]any](t, w)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, float64(500), body["discount"])

	var stored promo.Code
	_, err := e.dynamo.Unmarshal(promoTables.Codes, "BIG50", &stored)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CurrentUses)
}

func TestPromoValidate_UnknownAndGuestRestrictions(t *testing.T) {
	e := newEnv(t)
	e.seedPromo(t, promo.Code{Code: "WELCOME", DiscountType: promo.Fixed, DiscountValue: 300, Active: true,
		CustomerRestrictions: promo.Restrictions{NewCustomersOnly: true}})
	require.NoError(t, e.dynamo.Seed("loyalty_accounts", loyalty.Account{UserID: "regular", CompletedOrders: 4}))

	body := decode[map[string]any](t, e.do(t, http.MethodPost, "/promos/validate", gin.H{"code": "NOPE", "cartTotal": 3000}, nil))
	assert.Equal(t, "unknown_code", body["kind"])

	body = decode[map[string]any](t, e.do(t, http.MethodPost, "/promos/validate", gin.H{"code": "WELCOME", "cartTotal": 3000}, guest("s1")))
	assert.Equal(t, "guest_not_eligible", body["kind"])

	body = decode[map[string]any](t, e.do(t, http.MethodPost, "/promos/validate", gin.H{"code": "WELCOME", "cartTotal": 3000}, user("regular")))
	assert.Equal(t, "returning_customer", body["kind"])

	body = decode[map[string]any](t, e.do(t, http.MethodPost, "/promos/validate", gin.H{"code": "WELCOME", "cartTotal": 3000}, user("newbie")))
	assert.Equal(t, true, body["valid"])

	w := e.do(t, http.MethodPost, "/promos/validate", gin.H{"code": "WELCOME"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSync_MergesGuestCartIntoAccount(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/cart/items", side("A", 2), guest("s1"))
	e.do(t, http.MethodPost, "/cart/items", side("A", 1), user("u1"))
	e.do(t, http.MethodPost, "/cart/items", side("B", 1), user("u1"))

	headers := map[string]string{UserIDHeader: "u1", SessionIDHeader: "s1"}
	w := e.do(t, http.MethodPost, "/cart/sync", gin.H{}, headers)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	q := decode[quote](t, w)
	require.Len(t, q.Cart.Items, 2)
	assert.Equal(t, "A", q.Cart.Items[0].ProductID)
	assert.Equal(t, 3, q.Cart.Items[0].Quantity)
	assert.Equal(t, "B", q.Cart.Items[1].ProductID)
	assert.Equal(t, 1, q.Cart.Items[1].Quantity)
	assert.False(t, e.redis.Has("cart:guest:s1"))

	// retrying the sync does not double count
	q = decode[quote](t, e.do(t, http.MethodPost, "/cart/sync", gin.H{}, headers))
	assert.Equal(t, 4, q.Totals.ItemCount)
}

func TestSync_ExplicitLocalSnapshotAndGuestRejected(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/cart/sync", gin.H{"items": []gin.H{side("A", 2)}, "promoCode": "BUNNY10"}, user("u1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	q := decode[quote](t, w)
	assert.Equal(t, 2, q.Totals.ItemCount)
	assert.Equal(t, "BUNNY10", q.Cart.Promo())
	require.NotNil(t, q.Promo)
	assert.False(t, q.Promo.Valid, "unknown code is reported, not applied")

	w = e.do(t, http.MethodPost, "/cart/sync", gin.H{}, guest("s1"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func checkoutHeaders(userID, key string) map[string]string {
	return map[string]string{UserIDHeader: userID, IdempotencyKeyHeader: key}
}

var checkoutBody = gin.H{"email": "a@example.com", "deliveryPostcode": "E1 6AN"}

func TestCheckout_CreatesOrderAndReplays(t *testing.T) {
	e := newEnv(t)
	e.seedPromo(t, promo.Code{Code: "BUNNY10", DiscountType: promo.Percentage, DiscountValue: 10, Active: true})
	e.do(t, http.MethodPost, "/cart/items", side("samosa", 5), user("u1"))
	e.do(t, http.MethodPost, "/cart/promo", gin.H{"code": "BUNNY10"}, user("u1"))

	w := e.do(t, http.MethodPost, "/checkout", checkoutBody, checkoutHeaders("u1", "key-1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := w.Body.String()
	resp := decode[checkoutResponse](t, w)
	assert.Equal(t, orders.StatusPending, resp.Status)
	assert.Equal(t, int64(2250)+pricing.DefaultDeliveryFee, resp.Totals.Total)
	assert.Equal(t, "/orders/"+resp.OrderID, w.Header().Get("Location"))

	require.Len(t, e.pub.msgs, 1)
	assert.Equal(t, resp.OrderID, e.pub.msgs[0].OrderID)
	assert.Equal(t, "key-1", e.pub.msgs[0].IdempotencyKey)

	var stored orders.Order
	found, err := e.dynamo.Unmarshal("orders", resp.OrderID, &stored)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "BUNNY10", stored.PromoToCommit())

	// checkout does not consume the promo
	var code promo.Code
	_, err = e.dynamo.Unmarshal(promoTables.Codes, "BUNNY10", &code)
	require.NoError(t, err)
	assert.Equal(t, 0, code.CurrentUses)

	q := decode[quote](t, e.do(t, http.MethodGet, "/cart", nil, user("u1")))
	assert.Empty(t, q.Cart.Items)

	w = e.do(t, http.MethodPost, "/checkout", checkoutBody, checkoutHeaders("u1", "key-1"))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, first, w.Body.String())
	assert.Len(t, e.pub.msgs, 1)
	assert.Equal(t, 1, e.dynamo.Len("orders"))
}

func TestCheckout_KeyReusedForDifferentRequest(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/cart/items", side("samosa", 2), user("u1"))
	e.do(t, http.MethodPost, "/cart/items", side("samosa", 3), user("u2"))

	w := e.do(t, http.MethodPost, "/checkout", checkoutBody, checkoutHeaders("u1", "shared-key"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := w.Body.String()
	placed := decode[checkoutResponse](t, w)

	w = e.do(t, http.MethodPost, "/checkout", checkoutBody, checkoutHeaders("u2", "shared-key"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "idempotency_key_reused")
	assert.NotContains(t, w.Body.String(), placed.OrderID)

	other := gin.H{"email": "b@example.com", "deliveryPostcode": "E1 6AN"}
	w = e.do(t, http.MethodPost, "/checkout", other, checkoutHeaders("u1", "shared-key"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// the original caller still gets its response, and u2's cart is untouched
	w = e.do(t, http.MethodPost, "/checkout", checkoutBody, checkoutHeaders("u1", "shared-key"))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, first, w.Body.String())
	assert.Equal(t, 1, e.dynamo.Len("orders"))
	q := decode[quote](t, e.do(t, http.MethodGet, "/cart", nil, user("u2")))
	assert.Len(t, q.Cart.Items, 1)
}

func TestCheckout_Rejections(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/checkout", checkoutBody, user("u1"))
	assert.Equal(t, http.StatusBadRequest, w.Code, "idempotency key is required")

	w = e.do(t, http.MethodPost, "/checkout", checkoutBody, checkoutHeaders("u1", "k-empty"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	e.do(t, http.MethodPost, "/cart/items", side("samosa", 2), user("u1"))
	body := gin.H{"email": "a@example.com", "deliveryPostcode": "E1 6AN", "expectedTotal": 1000}
	w = e.do(t, http.MethodPost, "/checkout", body, checkoutHeaders("u1", "k-mismatch"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 0, e.dynamo.Len("orders"))
}

func TestCheckout_PublishFailureMarksKeyFailed(t *testing.T) {
	e := newEnv(t)
	e.pub.err = errors.New("queue unavailable")
	e.do(t, http.MethodPost, "/cart/items", side("samosa", 2), user("u1"))

	w := e.do(t, http.MethodPost, "/checkout", checkoutBody, checkoutHeaders("u1", "k1"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var rec idempotency.Record
	found, err := e.dynamo.Unmarshal("idempotency", "k1", &rec)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, idempotency.StatusFailed, rec.Status)

	// the cart is kept so the customer can retry with a new key
	q := decode[quote](t, e.do(t, http.MethodGet, "/cart", nil, user("u1")))
	assert.Len(t, q.Cart.Items, 1)
}

func TestGetOrder_TimelineAndOwnership(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/cart/items", side("samosa", 2), user("u1"))
	resp := decode[checkoutResponse](t, e.do(t, http.MethodPost, "/checkout", checkoutBody, checkoutHeaders("u1", "k1")))

	w := e.do(t, http.MethodGet, "/orders/"+resp.OrderID, nil, user("u1"))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Order    orders.Order  `json:"order"`
		Timeline []orders.Step `json:"timeline"`
	}](t, w)
	assert.Equal(t, resp.OrderID, body.Order.OrderID)
	require.Len(t, body.Timeline, 5)
	assert.True(t, body.Timeline[0].Current)

	w = e.do(t, http.MethodGet, "/orders/"+resp.OrderID, nil, user("someone-else"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
