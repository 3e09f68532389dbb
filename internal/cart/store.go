package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/bunnybox/storefront/internal/aws"
)

// Repository persists one snapshot per owner key. Get returns (nil, nil) when
// nothing is stored. Put is a full overwrite of the snapshot; Delete empties it.
type Repository interface {
	Get(ctx context.Context, key string) (*Snapshot, error)
	Put(ctx context.Context, key string, s Snapshot) error
	Delete(ctx context.Context, key string) error
}

// UserRepository stores signed-in carts together with the guest sessions
// already merged into each one.
type UserRepository interface {
	Repository
	GetMerged(ctx context.Context, userID string) (*Snapshot, []string, error)
	PutMerged(ctx context.Context, userID string, s Snapshot, sessions []string) error
}

// record is the carts table row.
type record struct {
	UserID         string    `dynamodbav:"user_id"` // PK
	Items          []Item    `dynamodbav:"items"`
	PromoCode      *string   `dynamodbav:"promo_code,omitempty"`
	MergedSessions []string  `dynamodbav:"merged_sessions,omitempty"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
}

// DynamoStore keeps authenticated users' carts in DynamoDB. Writes update the
// snapshot attributes in place so the merged_sessions ledger outlives cart
// edits and clears.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, nowFunc: time.Now}
}

func (s *DynamoStore) Get(ctx context.Context, userID string) (*Snapshot, error) {
	snap, _, err := s.GetMerged(ctx, userID)
	return snap, err
}

// GetMerged returns the user's cart and the guest sessions merged into it.
func (s *DynamoStore) GetMerged(ctx context.Context, userID string) (*Snapshot, []string, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("get cart: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil, nil
	}
	var rec record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	snap := Snapshot{Items: rec.Items, PromoCode: rec.PromoCode}
	if snap.Items == nil {
		snap.Items = []Item{}
	}
	return &snap, rec.MergedSessions, nil
}

func (s *DynamoStore) Put(ctx context.Context, userID string, snap Snapshot) error {
	return s.write(ctx, userID, snap, nil)
}

// PutMerged writes the snapshot and replaces the merged session ledger in the
// same item update.
func (s *DynamoStore) PutMerged(ctx context.Context, userID string, snap Snapshot, sessions []string) error {
	if sessions == nil {
		sessions = []string{}
	}
	return s.write(ctx, userID, snap, sessions)
}

func (s *DynamoStore) Delete(ctx context.Context, userID string) error {
	return s.write(ctx, userID, Snapshot{}, nil)
}

func (s *DynamoStore) write(ctx context.Context, userID string, snap Snapshot, sessions []string) error {
	items := snap.Items
	if items == nil {
		items = []Item{}
	}
	itemsAV, err := attributevalue.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}
	var promo types.AttributeValue = &types.AttributeValueMemberNULL{Value: true}
	if snap.PromoCode != nil {
		promo = &types.AttributeValueMemberS{Value: *snap.PromoCode}
	}

	expr := "SET #items = :items, promo_code = :promo, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":items": itemsAV,
		":promo": promo,
		":ua":    &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
	}
	if sessions != nil {
		sessAV, err := attributevalue.Marshal(sessions)
		if err != nil {
			return fmt.Errorf("marshal merged sessions: %w", err)
		}
		expr += ", merged_sessions = :ms"
		values[":ms"] = sessAV
	}

	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  map[string]string{"#items": "items"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("put cart: %w", err)
	}
	return nil
}
