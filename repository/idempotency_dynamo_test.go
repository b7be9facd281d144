package repository_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/moneyflowz367/affilync-bigcommerce/models"
	"github.com/moneyflowz367/affilync-bigcommerce/repository"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo evaluates the ledger's condition expressions against an in-memory table.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func attrS(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func attrN(item map[string]types.AttributeValue, name string) int64 {
	if v, ok := item[name].(*types.AttributeValueMemberN); ok {
		n, _ := strconv.ParseInt(v.Value, 10, 64)
		return n
	}
	return 0
}

func (f *fakeDynamo) holds(existing map[string]types.AttributeValue, values map[string]types.AttributeValue) bool {
	return attrS(existing, "token") == attrS(values, ":token") &&
		attrS(existing, "status") == models.LedgerStatusReserved
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := attrS(in.Item, "pk")
	if existing, ok := f.items[pk]; ok {
		abandoned := attrS(existing, "status") == models.LedgerStatusReserved &&
			attrN(existing, "reserved_at") < attrN(in.ExpressionAttributeValues, ":cutoff")
		if !abandoned {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	f.items[pk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[attrS(in.Key, "pk")]}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := attrS(in.Key, "pk")
	existing, ok := f.items[pk]
	if !ok || !f.holds(existing, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	updated := make(map[string]types.AttributeValue, len(existing))
	for k, v := range existing {
		updated[k] = v
	}
	updated["status"] = in.ExpressionAttributeValues[":committed"]
	updated["outcome"] = in.ExpressionAttributeValues[":outcome"]
	updated["processed_at"] = in.ExpressionAttributeValues[":now"]
	updated["expires_at"] = in.ExpressionAttributeValues[":expires"]
	f.items[pk] = updated
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := attrS(in.Key, "pk")
	existing, ok := f.items[pk]
	if !ok || !f.holds(existing, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	delete(f.items, pk)
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoLedger_ReserveCommitReplay(t *testing.T) {
	ledger := repository.NewDynamoLedger(newFakeDynamo(), "attribution-idempotency", repository.DefaultLedgerOptions())
	ctx := context.Background()

	res, err := ledger.CheckAndReserve(ctx, testKey("d1"))
	require.NoError(t, err)
	assert.Equal(t, repository.Reserved, res.State)

	_, err = ledger.CheckAndReserve(ctx, testKey("d1"))
	assert.ErrorIs(t, err, repository.ErrInFlight)

	require.NoError(t, ledger.Commit(ctx, testKey("d1"), res.Token, models.Outcome{Status: models.OutcomeNoAttribution, OrderID: "7"}))

	dup, err := ledger.CheckAndReserve(ctx, testKey("d1"))
	require.NoError(t, err)
	assert.Equal(t, repository.AlreadyProcessed, dup.State)
	assert.Equal(t, models.OutcomeNoAttribution, dup.Prior.Status)
	assert.Equal(t, "7", dup.Prior.OrderID)
}

func TestDynamoLedger_ReleaseAndTokenChecks(t *testing.T) {
	ledger := repository.NewDynamoLedger(newFakeDynamo(), "attribution-idempotency", repository.DefaultLedgerOptions())
	ctx := context.Background()

	res, err := ledger.CheckAndReserve(ctx, testKey("d2"))
	require.NoError(t, err)

	assert.ErrorIs(t, ledger.Release(ctx, testKey("d2"), "other"), repository.ErrReservationLost)
	require.NoError(t, ledger.Release(ctx, testKey("d2"), res.Token))

	again, err := ledger.CheckAndReserve(ctx, testKey("d2"))
	require.NoError(t, err)
	assert.Equal(t, repository.Reserved, again.State)
}

func TestDynamoLedger_TakesOverAbandonedReservation(t *testing.T) {
	fake := newFakeDynamo()
	opts := repository.LedgerOptions{ReservationTimeout: time.Millisecond, RetentionWindow: time.Hour}
	ledger := repository.NewDynamoLedger(fake, "attribution-idempotency", opts)
	ctx := context.Background()

	first, err := ledger.CheckAndReserve(ctx, testKey("d3"))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	second, err := ledger.CheckAndReserve(ctx, testKey("d3"))
	require.NoError(t, err)
	assert.Equal(t, repository.Reserved, second.State)
	assert.ErrorIs(t, ledger.Commit(ctx, testKey("d3"), first.Token, models.Outcome{}), repository.ErrReservationLost)
	assert.NoError(t, ledger.Commit(ctx, testKey("d3"), second.Token, models.Outcome{}))
}
