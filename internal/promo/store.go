package promo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/bunnybox/storefront/internal/aws"
)

// Tables names the three tables backing promo codes.
type Tables struct {
	Codes       string // PK code
	Redemptions string // PK order_id, one row per committed order
	Usage       string // PK usage_key = CODE#user_id
}

// Redemption is the ledger row written when an order consumes a code.
type Redemption struct {
	OrderID     string    `dynamodbav:"order_id"`
	Code        string    `dynamodbav:"code"`
	UserID      string    `dynamodbav:"user_id,omitempty"`
	CommittedAt time.Time `dynamodbav:"committed_at"`
}

type usageRow struct {
	UsageKey string `dynamodbav:"usage_key"`
	Uses     int    `dynamodbav:"uses"`
}

func usageKey(code, userID string) string { return code + "#" + userID }

// DynamoStore reads promo codes and commits their usage.
type DynamoStore struct {
	client  aws.DynamoDBAPI
	tables  Tables
	nowFunc func() time.Time
}

func NewDynamoStore(client aws.DynamoDBAPI, tables Tables) *DynamoStore {
	return &DynamoStore{client: client, tables: tables, nowFunc: time.Now}
}

// Get loads a code. Lookup is case-insensitive.
func (s *DynamoStore) Get(ctx context.Context, code string) (*Code, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tables.Codes,
		Key: map[string]types.AttributeValue{
			"code": &types.AttributeValueMemberS{Value: Normalize(code)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get promo: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var c Code
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal promo: %w", err)
	}
	return &c, nil
}

// ListAutoApply returns the active auto-apply codes.
func (s *DynamoStore) ListAutoApply(ctx context.Context) ([]Code, error) {
	var (
		codes []Code
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:        &s.tables.Codes,
			FilterExpression: aws.String("auto_apply = :t AND active = :t"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":t": &types.AttributeValueMemberBOOL{Value: true},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("scan promos: %w", err)
		}
		var page []Code
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal promos: %w", err)
		}
		for _, c := range page {
			if c.Active && c.AutoApply {
				codes = append(codes, c)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return codes, nil
		}
		start = out.LastEvaluatedKey
	}
}

// UserUsage is the number of committed redemptions of code by userID.
func (s *DynamoStore) UserUsage(ctx context.Context, code, userID string) (int, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tables.Usage,
		Key: map[string]types.AttributeValue{
			"usage_key": &types.AttributeValueMemberS{Value: usageKey(Normalize(code), userID)},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("get promo usage: %w", err)
	}
	if len(out.Item) == 0 {
		return 0, nil
	}
	var row usageRow
	if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
		return 0, fmt.Errorf("unmarshal promo usage: %w", err)
	}
	return row.Uses, nil
}

// Redemptions collects userID's usage for each of codes.
func (s *DynamoStore) Redemptions(ctx context.Context, userID string, codes ...string) (map[string]int, error) {
	out := make(map[string]int, len(codes))
	for _, c := range codes {
		n, err := s.UserUsage(ctx, c, userID)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			out[Normalize(c)] = n
		}
	}
	return out, nil
}

// CommitUsage records that orderID consumed code. In one transaction it writes
// the order's redemption row, increments current_uses while below max_uses
// and bumps the user's usage counter. Committing the same order twice returns
// ErrAlreadyCommitted and changes nothing.
func (s *DynamoStore) CommitUsage(ctx context.Context, code, userID, orderID string) error {
	code = Normalize(code)
	ledger, err := attributevalue.MarshalMap(Redemption{
		OrderID:     orderID,
		Code:        code,
		UserID:      userID,
		CommittedAt: s.nowFunc().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal redemption: %w", err)
	}
	one := &types.AttributeValueMemberN{Value: "1"}

	items := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &s.tables.Redemptions,
				Item:                ledger,
				ConditionExpression: aws.String("attribute_not_exists(order_id)"),
			},
		},
		{
			Update: &types.Update{
				TableName: &s.tables.Codes,
				Key: map[string]types.AttributeValue{
					"code": &types.AttributeValueMemberS{Value: code},
				},
				UpdateExpression:         aws.String("SET current_uses = current_uses + :one"),
				ConditionExpression:      aws.String("attribute_exists(#c) AND attribute_not_exists(max_uses) OR attribute_exists(#c) AND current_uses < max_uses"),
				ExpressionAttributeNames: map[string]string{"#c": "code"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":one": one,
				},
			},
		},
	}
	if userID != "" {
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName: &s.tables.Usage,
				Key: map[string]types.AttributeValue{
					"usage_key": &types.AttributeValueMemberS{Value: usageKey(code, userID)},
				},
				UpdateExpression:          aws.String("ADD uses :one"),
				ExpressionAttributeValues: map[string]types.AttributeValue{":one": one},
			},
		})
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return nil
	}
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return fmt.Errorf("commit promo usage: %w", err)
	}
	return s.cancellationCause(ctx, tce, orderID)
}

func (s *DynamoStore) cancellationCause(ctx context.Context, tce *types.TransactionCanceledException, orderID string) error {
	failed := func(i int) bool {
		return i < len(tce.CancellationReasons) &&
			tce.CancellationReasons[i].Code != nil &&
			*tce.CancellationReasons[i].Code == "ConditionalCheckFailed"
	}
	switch {
	case failed(0):
		return ErrAlreadyCommitted
	case failed(1):
		return ErrUsageExhausted
	case len(tce.CancellationReasons) > 0:
		return fmt.Errorf("commit promo usage: %w", tce)
	}

	// no reasons reported; consult the ledger
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tables.Redemptions,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return fmt.Errorf("commit promo usage: %w", errors.Join(tce, err))
	}
	if len(out.Item) > 0 {
		return ErrAlreadyCommitted
	}
	return ErrUsageExhausted
}
