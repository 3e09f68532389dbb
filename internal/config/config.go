// Package config loads service settings from the environment and an optional
// config.yaml.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AWSRegion   string `mapstructure:"AWS_REGION"`
	AWSEndpoint string `mapstructure:"AWS_ENDPOINT_URL"`

	CartsTable            string `mapstructure:"CARTS_TABLE"`
	PromoCodesTable       string `mapstructure:"PROMO_CODES_TABLE"`
	PromoRedemptionsTable string `mapstructure:"PROMO_REDEMPTIONS_TABLE"`
	PromoUsageTable       string `mapstructure:"PROMO_USAGE_TABLE"`
	OrdersTable           string `mapstructure:"ORDERS_TABLE"`
	IdempotencyTable      string `mapstructure:"IDEMPOTENCY_TABLE"`
	LoyaltyAccountsTable  string `mapstructure:"LOYALTY_ACCOUNTS_TABLE"`
	LoyaltyAwardsTable    string `mapstructure:"LOYALTY_AWARDS_TABLE"`
	QueueURL              string `mapstructure:"ORDERS_QUEUE_URL"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	GuestCartTTL   time.Duration `mapstructure:"GUEST_CART_TTL"`
	IdempotencyTTL time.Duration `mapstructure:"IDEMPOTENCY_TTL"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	DeliveryFee                 int64 `mapstructure:"DELIVERY_FEE"`
	FreeDeliveryThreshold       int64 `mapstructure:"FREE_DELIVERY_THRESHOLD"`
	AllowGuestNewCustomerOffers bool  `mapstructure:"ALLOW_GUEST_NEW_CUSTOMER_OFFERS"`

	LogLevel         string `mapstructure:"LOG_LEVEL"`
	ListenAddr       string `mapstructure:"LISTEN_ADDR"`
	RunLocal         bool   `mapstructure:"RUN_LOCAL"`
	MetricsNamespace string `mapstructure:"METRICS_NAMESPACE"`
}

var defaults = map[string]any{
	"AWS_REGION":                      "us-east-1",
	"AWS_ENDPOINT_URL":                "",
	"CARTS_TABLE":                     "carts",
	"PROMO_CODES_TABLE":               "promo_codes",
	"PROMO_REDEMPTIONS_TABLE":         "promo_redemptions",
	"PROMO_USAGE_TABLE":               "promo_user_usage",
	"ORDERS_TABLE":                    "orders",
	"IDEMPOTENCY_TABLE":               "idempotency",
	"LOYALTY_ACCOUNTS_TABLE":          "loyalty_accounts",
	"LOYALTY_AWARDS_TABLE":            "loyalty_awards",
	"ORDERS_QUEUE_URL":                "",
	"REDIS_ADDR":                      "localhost:6379",
	"REDIS_PASSWORD":                  "",
	"GUEST_CART_TTL":                  "72h",
	"IDEMPOTENCY_TTL":                 "48h",
	"REQUEST_TIMEOUT":                 "3s",
	"DELIVERY_FEE":                    399,
	"FREE_DELIVERY_THRESHOLD":         4000,
	"ALLOW_GUEST_NEW_CUSTOMER_OFFERS": false,
	"LOG_LEVEL":                       "info",
	"LISTEN_ADDR":                     ":8080",
	"RUN_LOCAL":                       false,
	"METRICS_NAMESPACE":               "Bunnybox/Storefront",
}

// Load reads config.yaml from dir (when present) and overlays environment
// variables. An empty dir means the working directory.
func Load(dir string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if dir == "" {
		dir = "."
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.DeliveryFee < 0 || cfg.FreeDeliveryThreshold < 0 {
		return nil, errors.New("delivery fee and free-delivery threshold must not be negative")
	}
	return cfg, nil
}
