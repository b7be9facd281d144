package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moneyflowz367/affilync-bigcommerce/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// DynamoAPI is the subset of the DynamoDB client the ledger uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// ddbLedgerItem is stored in a table keyed by `pk` (string) with TTL on `expires_at`.
type ddbLedgerItem struct {
	PK          string `dynamodbav:"pk"`
	Status      string `dynamodbav:"status"`
	Token       string `dynamodbav:"token"`
	ReservedAt  int64  `dynamodbav:"reserved_at"`
	ProcessedAt int64  `dynamodbav:"processed_at,omitempty"`
	Outcome     string `dynamodbav:"outcome,omitempty"`
	ExpiresAt   int64  `dynamodbav:"expires_at"`
}

// DynamoLedger implements IdempotencyLedger with conditional writes.
type DynamoLedger struct {
	client DynamoAPI
	table  string
	opts   LedgerOptions
	now    func() time.Time
}

// NewDynamoLedger creates a new DynamoLedger.
func NewDynamoLedger(client DynamoAPI, table string, opts LedgerOptions) *DynamoLedger {
	return &DynamoLedger{client: client, table: table, opts: opts.withDefaults(), now: time.Now}
}

func dynamoPK(key models.IdempotencyKey) string {
	return fmt.Sprintf("%s#%s#%s", key.StoreID, key.Kind, key.EventID)
}

func (l *DynamoLedger) keyAttr(key models.IdempotencyKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: dynamoPK(key)}}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (l *DynamoLedger) CheckAndReserve(ctx context.Context, key models.IdempotencyKey) (Reservation, error) {
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		now := l.now()
		token := uuid.NewString()
		item, err := attributevalue.MarshalMap(ddbLedgerItem{
			PK:         dynamoPK(key),
			Status:     models.LedgerStatusReserved,
			Token:      token,
			ReservedAt: now.UnixMilli(),
			ExpiresAt:  now.Add(l.opts.RetentionWindow).Unix(),
		})
		if err != nil {
			return Reservation{}, fmt.Errorf("marshal ledger item: %w", err)
		}

		_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(l.table),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(pk) OR (#status = :reserved AND reserved_at < :cutoff)"),
			ExpressionAttributeNames: map[string]string{
				"#status": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":reserved": &types.AttributeValueMemberS{Value: models.LedgerStatusReserved},
				":cutoff":   &types.AttributeValueMemberN{Value: fmt.Sprint(now.Add(-l.opts.ReservationTimeout).UnixMilli())},
			},
		})
		if err == nil {
			return Reservation{State: Reserved, Token: token}, nil
		}
		if !isConditionFailed(err) {
			return Reservation{}, fmt.Errorf("reserve %s: %w", key, err)
		}

		out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(l.table),
			Key:            l.keyAttr(key),
			ConsistentRead: aws.Bool(true),
		})
		if err != nil {
			return Reservation{}, fmt.Errorf("read %s: %w", key, err)
		}
		if len(out.Item) == 0 {
			continue
		}
		var existing ddbLedgerItem
		if err := attributevalue.UnmarshalMap(out.Item, &existing); err != nil {
			return Reservation{}, fmt.Errorf("unmarshal ledger item: %w", err)
		}
		if existing.Status == models.LedgerStatusCommitted {
			prior, err := decodeOutcome([]byte(existing.Outcome))
			if err != nil {
				return Reservation{}, err
			}
			return Reservation{State: AlreadyProcessed, Prior: prior}, nil
		}
		return Reservation{}, ErrInFlight
	}
	return Reservation{}, ErrInFlight
}

func (l *DynamoLedger) Commit(ctx context.Context, key models.IdempotencyKey, token string, outcome models.Outcome) error {
	raw, err := encodeOutcome(outcome)
	if err != nil {
		return err
	}
	now := l.now()
	_, err = l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(l.table),
		Key:                 l.keyAttr(key),
		UpdateExpression:    aws.String("SET #status = :committed, outcome = :outcome, processed_at = :now, expires_at = :expires"),
		ConditionExpression: aws.String("#token = :token AND #status = :reserved"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
			"#token":  "token",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":committed": &types.AttributeValueMemberS{Value: models.LedgerStatusCommitted},
			":reserved":  &types.AttributeValueMemberS{Value: models.LedgerStatusReserved},
			":token":     &types.AttributeValueMemberS{Value: token},
			":outcome":   &types.AttributeValueMemberS{Value: string(raw)},
			":now":       &types.AttributeValueMemberN{Value: fmt.Sprint(now.UnixMilli())},
			":expires":   &types.AttributeValueMemberN{Value: fmt.Sprint(now.Add(l.opts.RetentionWindow).Unix())},
		},
	})
	if isConditionFailed(err) {
		return ErrReservationLost
	}
	if err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

func (l *DynamoLedger) Release(ctx context.Context, key models.IdempotencyKey, token string) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(l.table),
		Key:                 l.keyAttr(key),
		ConditionExpression: aws.String("#token = :token AND #status = :reserved"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
			"#token":  "token",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":token":    &types.AttributeValueMemberS{Value: token},
			":reserved": &types.AttributeValueMemberS{Value: models.LedgerStatusReserved},
		},
	})
	if isConditionFailed(err) {
		return ErrReservationLost
	}
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// Prune is a no-op: the table's TTL on expires_at enforces retention.
func (l *DynamoLedger) Prune(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}
