package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/bunnybox/storefront/internal/cart"
	"github.com/bunnybox/storefront/internal/idempotency"
	"github.com/bunnybox/storefront/internal/loyalty"
	"github.com/bunnybox/storefront/internal/metrics"
	"github.com/bunnybox/storefront/internal/orders"
	"github.com/bunnybox/storefront/internal/pricing"
	"github.com/bunnybox/storefront/internal/promo"
	"github.com/bunnybox/storefront/internal/validation"
)

const (
	UserIDHeader         = "X-User-Id"
	SessionIDHeader      = "X-Session-Id"
	IdempotencyKeyHeader = "Idempotency-Key"

	ownerKey = "owner"
)

// PromoStore is the read side of the promo tables.
type PromoStore interface {
	Get(ctx context.Context, code string) (*promo.Code, error)
	ListAutoApply(ctx context.Context) ([]promo.Code, error)
	Redemptions(ctx context.Context, userID string, codes ...string) (map[string]int, error)
}

type AccountStore interface {
	Account(ctx context.Context, userID string) (loyalty.Account, error)
}

type Publisher interface {
	Publish(ctx context.Context, payload any, attributes map[string]string) error
}

// HandlerConfig groups the API's dependencies.
type HandlerConfig struct {
	Carts       *cart.Service
	Promos      PromoStore
	Accounts    AccountStore
	Orders      *orders.Store
	Idempotency *idempotency.Store
	Publisher   Publisher
	Resolver    *promo.Resolver
	Calculator  pricing.Calculator
	Metrics     *metrics.Metrics

	RequestTimeout time.Duration
	Now            func() time.Time
}

// Handler serves the storefront API.
type Handler struct {
	cfg       HandlerConfig
	validator *validatorv10.Validate
}

func New(cfg HandlerConfig) *Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Resolver == nil {
		cfg.Resolver = promo.NewResolver(promo.Policy{}, nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 3 * time.Second
	}
	return &Handler{cfg: cfg, validator: validation.New()}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(h.cfg.Metrics.Handler()))

	api := r.Group("/", h.timeout(), identity())

	carts := api.Group("/cart", requireOwner())
	carts.GET("", h.getCart)
	carts.POST("/items", h.addItem)
	carts.PATCH("/items/:lineId", h.updateItem)
	carts.DELETE("/items/:lineId", h.removeItem)
	carts.POST("/promo", h.applyPromo)
	carts.DELETE("/promo", h.removePromo)
	carts.POST("/sync", h.syncCart)

	api.POST("/promos/validate", h.validatePromo)
	api.GET("/promos/auto-apply", requireOwner(), h.autoApply)

	api.POST("/checkout", requireOwner(), h.checkout)
	api.GET("/orders/:orderId", requireOwner(), h.getOrder)
}

func (h *Handler) timeout() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.RequestTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// identity reads the caller from the headers set by the upstream authorizer.
func identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ownerKey, cart.Owner{
			UserID:    c.GetHeader(UserIDHeader),
			SessionID: c.GetHeader(SessionIDHeader),
		})
		c.Next()
	}
}

func requireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		o := ownerOf(c)
		if o.UserID == "" && o.SessionID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_identity"})
			return
		}
		c.Next()
	}
}

func ownerOf(c *gin.Context) cart.Owner {
	if v, ok := c.Get(ownerKey); ok {
		return v.(cart.Owner)
	}
	return cart.Owner{}
}

func logger(c *gin.Context) *zerolog.Logger {
	return zerolog.Ctx(c.Request.Context())
}

// internalError logs err and writes a 5xx. Timeouts are reported as 503 so
// clients keep their local state and retry.
func internalError(c *gin.Context, code string, err error) {
	logger(c).Error().Err(err).Str("error_code", code).Msg("request failed")
	status := http.StatusInternalServerError
	if c.Request.Context().Err() != nil {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": code})
}
