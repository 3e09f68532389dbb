package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "carts", cfg.CartsTable)
	assert.Equal(t, int64(399), cfg.DeliveryFee)
	assert.Equal(t, int64(4000), cfg.FreeDeliveryThreshold)
	assert.Equal(t, 72*time.Hour, cfg.GuestCartTTL)
	assert.Equal(t, 48*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.False(t, cfg.AllowGuestNewCustomerOffers)
	assert.False(t, cfg.RunLocal)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "ORDERS_TABLE: orders-from-file\nDELIVERY_FEE: 250\nGUEST_CART_TTL: 24h\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	t.Setenv("ORDERS_TABLE", "orders-from-env")
	t.Setenv("RUN_LOCAL", "true")
	t.Setenv("ALLOW_GUEST_NEW_CUSTOMER_OFFERS", "true")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "orders-from-env", cfg.OrdersTable)
	assert.Equal(t, int64(250), cfg.DeliveryFee)
	assert.Equal(t, 24*time.Hour, cfg.GuestCartTTL)
	assert.True(t, cfg.RunLocal)
	assert.True(t, cfg.AllowGuestNewCustomerOffers)
}

func TestLoad_RejectsNegativeFee(t *testing.T) {
	t.Setenv("DELIVERY_FEE", "-1")
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}
