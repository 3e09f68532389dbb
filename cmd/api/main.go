package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bunnybox/storefront/internal/aws"
	"github.com/bunnybox/storefront/internal/cart"
	"github.com/bunnybox/storefront/internal/config"
	"github.com/bunnybox/storefront/internal/handlers"
	"github.com/bunnybox/storefront/internal/idempotency"
	"github.com/bunnybox/storefront/internal/logging"
	"github.com/bunnybox/storefront/internal/loyalty"
	"github.com/bunnybox/storefront/internal/metrics"
	"github.com/bunnybox/storefront/internal/orders"
	"github.com/bunnybox/storefront/internal/pricing"
	"github.com/bunnybox/storefront/internal/promo"
)

func setupRouter(logger zerolog.Logger, cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.Middleware(logger))
	r.Use(cfg.Metrics.Middleware())

	handlers.New(cfg).Register(r)
	return r
}

func handlerConfig(cfg *config.Config, clients *aws.AWSClients, rdb *redis.Client) handlers.HandlerConfig {
	promos := promo.NewDynamoStore(clients.DynamoDB, promo.Tables{
		Codes:       cfg.PromoCodesTable,
		Redemptions: cfg.PromoRedemptionsTable,
		Usage:       cfg.PromoUsageTable,
	})
	return handlers.HandlerConfig{
		Carts: cart.NewService(
			cart.NewDynamoStore(clients.DynamoDB, cfg.CartsTable),
			cart.NewRedisStore(rdb, cfg.GuestCartTTL),
		),
		Promos:      promos,
		Accounts:    loyalty.NewStore(clients.DynamoDB, cfg.LoyaltyAccountsTable, cfg.LoyaltyAwardsTable),
		Orders:      orders.NewStore(clients.DynamoDB, cfg.OrdersTable),
		Idempotency: idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL),
		Publisher:   aws.NewPublisher(clients.SQS, cfg.QueueURL),
		Resolver: promo.NewResolver(promo.Policy{
			AllowGuestNewCustomerOffers: cfg.AllowGuestNewCustomerOffers,
		}, nil),
		Calculator: pricing.Calculator{
			DeliveryFee:           cfg.DeliveryFee,
			FreeDeliveryThreshold: cfg.FreeDeliveryThreshold,
		},
		Metrics:        metrics.New(),
		RequestTimeout: cfg.RequestTimeout,
	}
}

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.New(cfg.LogLevel, os.Stdout)

	clients, err := aws.NewAWSClients(context.Background(), cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init aws clients")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()

	r := setupRouter(logger, handlerConfig(cfg, clients, rdb))

	// if RUN_LOCAL is set, run a local HTTP server for development.
	if cfg.RunLocal {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("running local server")
		if err := r.Run(cfg.ListenAddr); err != nil {
			logger.Fatal().Err(err).Msg("failed to run local server")
		}
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
