package loyalty

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/bunnybox/storefront/internal/aws"
)

var ErrAlreadyAwarded = errors.New("loyalty points already awarded for order")

// Account is a row of the loyalty accounts table. Tier is derived from
// LifetimePoints on read.
type Account struct {
	UserID          string `json:"userId" dynamodbav:"user_id"` // PK
	PointsBalance   int64  `json:"pointsBalance" dynamodbav:"points_balance"`
	LifetimePoints  int64  `json:"lifetimePoints" dynamodbav:"lifetime_points"`
	CompletedOrders int    `json:"completedOrders" dynamodbav:"completed_orders"`
	Tier            Tier   `json:"tier" dynamodbav:"-"`
}

// IsNewCustomer reports whether the account has never completed an order.
func (a Account) IsNewCustomer() bool { return a.CompletedOrders == 0 }

type award struct {
	OrderID   string    `dynamodbav:"order_id"` // PK
	UserID    string    `dynamodbav:"user_id"`
	Points    int64     `dynamodbav:"points"`
	AwardedAt time.Time `dynamodbav:"awarded_at"`
}

type Store struct {
	client        aws.DynamoDBAPI
	accountsTable string
	ledgerTable   string
	nowFunc       func() time.Time
}

func NewStore(client aws.DynamoDBAPI, accountsTable, ledgerTable string) *Store {
	return &Store{
		client:        client,
		accountsTable: accountsTable,
		ledgerTable:   ledgerTable,
		nowFunc:       time.Now,
	}
}

// Account loads userID's account. Unknown users get an empty bronze account.
func (s *Store) Account(ctx context.Context, userID string) (Account, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.accountsTable,
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return Account{}, fmt.Errorf("get loyalty account: %w", err)
	}
	acct := Account{UserID: userID}
	if len(out.Item) > 0 {
		if err := attributevalue.UnmarshalMap(out.Item, &acct); err != nil {
			return Account{}, fmt.Errorf("unmarshal loyalty account: %w", err)
		}
	}
	acct.Tier = TierFor(acct.LifetimePoints)
	return acct, nil
}

// Awarded returns the points already credited for orderID, if any.
func (s *Store) Awarded(ctx context.Context, orderID string) (int64, bool, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.ledgerTable,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, false, fmt.Errorf("get loyalty award: %w", err)
	}
	if len(out.Item) == 0 {
		return 0, false, nil
	}
	var a award
	if err := attributevalue.UnmarshalMap(out.Item, &a); err != nil {
		return 0, false, fmt.Errorf("unmarshal loyalty award: %w", err)
	}
	return a.Points, true, nil
}

// Award credits the points earned on orderID's spend and counts the order as
// completed. It runs at most once per order; a repeat returns
// ErrAlreadyAwarded.
func (s *Store) Award(ctx context.Context, userID, orderID string, spend int64) (int64, error) {
	acct, err := s.Account(ctx, userID)
	if err != nil {
		return 0, err
	}
	points := PointsFor(spend, acct.Tier)
	now := s.nowFunc().UTC()

	ledger, err := attributevalue.MarshalMap(award{OrderID: orderID, UserID: userID, Points: points, AwardedAt: now})
	if err != nil {
		return 0, fmt.Errorf("marshal award: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &s.ledgerTable,
					Item:                ledger,
					ConditionExpression: aws.String("attribute_not_exists(order_id)"),
				},
			},
			{
				Update: &types.Update{
					TableName: &s.accountsTable,
					Key: map[string]types.AttributeValue{
						"user_id": &types.AttributeValueMemberS{Value: userID},
					},
					UpdateExpression: aws.String("SET points_balance = if_not_exists(points_balance, :zero) + :p, " +
						"lifetime_points = if_not_exists(lifetime_points, :zero) + :p, " +
						"completed_orders = if_not_exists(completed_orders, :zero) + :one, updated_at = :ua"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":zero": &types.AttributeValueMemberN{Value: "0"},
						":one":  &types.AttributeValueMemberN{Value: "1"},
						":p":    &types.AttributeValueMemberN{Value: strconv.FormatInt(points, 10)},
						":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
					},
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && len(tce.CancellationReasons) > 0 &&
			tce.CancellationReasons[0].Code != nil && *tce.CancellationReasons[0].Code == "ConditionalCheckFailed" {
			return 0, ErrAlreadyAwarded
		}
		return 0, fmt.Errorf("award loyalty points: %w", err)
	}
	return points, nil
}
