package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/bunnybox/storefront/internal/aws"
	"github.com/bunnybox/storefront/internal/config"
	"github.com/bunnybox/storefront/internal/idempotency"
	"github.com/bunnybox/storefront/internal/logging"
	"github.com/bunnybox/storefront/internal/loyalty"
	"github.com/bunnybox/storefront/internal/orders"
	"github.com/bunnybox/storefront/internal/promo"
)

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

	p := NewProcessor(
		orders.NewStore(clients.DynamoDB, cfg.OrdersTable),
		idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL),
		promo.NewDynamoStore(clients.DynamoDB, promo.Tables{
			Codes:       cfg.PromoCodesTable,
			Redemptions: cfg.PromoRedemptionsTable,
			Usage:       cfg.PromoUsageTable,
		}),
		loyalty.NewStore(clients.DynamoDB, cfg.LoyaltyAccountsTable, cfg.LoyaltyAwardsTable),
		aws.NewMetricsPublisher(clients.CloudWatch, cfg.MetricsNamespace),
	)
	handler := func(ctx context.Context, ev events.SQSEvent) error {
		return p.Handle(logger.WithContext(ctx), ev)
	}

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"order_id":"local-order-1","idempotency_key":"local-key-1"}`
		}
		event := events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local", Body: body}}}
		if err := handler(context.Background(), event); err != nil {
			logger.Fatal().Err(err).Msg("local handler error")
		}
		return
	}

	lambda.Start(handler)
}
