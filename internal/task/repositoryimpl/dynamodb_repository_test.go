package repositoryimpl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskwarden/internal/task"
	"github.com/kazz187/taskwarden/pkg/cerr"
)

// fakeDynamoDB keeps items by taskId and fails PutItem with putErr when set.
type fakeDynamoDB struct {
	items  map[string]map[string]types.AttributeValue
	puts   []*dynamodb.PutItemInput
	putErr error
}

func newFakeDynamoDB() *fakeDynamoDB {
	return &fakeDynamoDB{items: map[string]map[string]types.AttributeValue{}}
}

func itemID(key map[string]types.AttributeValue) string {
	if s, ok := key["taskId"].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeDynamoDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, in)
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.items[itemID(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamoDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[itemID(in.Key)]}, nil
}

func (f *fakeDynamoDB) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	id := itemID(in.Key)
	if _, ok := f.items[id]; !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
	}
	delete(f.items, id)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamoDB) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	out := &dynamodb.ScanOutput{}
	for _, item := range f.items {
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func conditionValues(in *dynamodb.PutItemInput) (names []string, values []types.AttributeValue) {
	for _, n := range in.ExpressionAttributeNames {
		names = append(names, n)
	}
	for _, v := range in.ExpressionAttributeValues {
		values = append(values, v)
	}
	return names, values
}

func TestDynamoDBRepository_CreateIsConditional(t *testing.T) {
	client := newFakeDynamoDB()
	repo := NewDynamoDBRepository(client, "tasks")
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTask("T1", "U1", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))))
	require.Len(t, client.puts, 1)
	assert.Equal(t, "tasks", aws.ToString(client.puts[0].TableName))
	assert.Contains(t, aws.ToString(client.puts[0].ConditionExpression), "attribute_not_exists")
	names, _ := conditionValues(client.puts[0])
	assert.Equal(t, []string{"taskId"}, names)

	got, err := repo.Get(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "U1", got.OwnerUserID)

	client.putErr = &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	err = repo.Create(ctx, newTask("T1", "U1", time.Now()))
	assert.True(t, cerr.IsCode(err, cerr.AlreadyExists))
}

func TestDynamoDBRepository_UpdateIf(t *testing.T) {
	client := newFakeDynamoDB()
	repo := NewDynamoDBRepository(client, "tasks")
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newTask("T1", "U1", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))))

	update := newTask("T1", "U1", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	update.Status = task.StatusCompleted
	require.NoError(t, repo.UpdateIf(ctx, update, task.Condition{Status: task.StatusOpen, Version: 1}))
	assert.Equal(t, int64(2), update.Version)

	put := client.puts[len(client.puts)-1]
	assert.Contains(t, aws.ToString(put.ConditionExpression), "AND")
	names, values := conditionValues(put)
	assert.ElementsMatch(t, []string{"status", "version"}, names)
	assert.ElementsMatch(t, []types.AttributeValue{
		&types.AttributeValueMemberS{Value: "open"},
		&types.AttributeValueMemberN{Value: "1"},
	}, values)

	client.putErr = &types.ConditionalCheckFailedException{Message: aws.String("stale")}
	stale := newTask("T1", "U1", time.Now())
	err := repo.UpdateIf(ctx, stale, task.Condition{Status: task.StatusOpen, Version: 1})
	assert.True(t, cerr.IsCode(err, cerr.Aborted))
	assert.Equal(t, int64(1), stale.Version)

	err = repo.UpdateIf(ctx, newTask("T9", "U1", time.Now()), task.Condition{Status: task.StatusOpen, Version: 1})
	assert.True(t, cerr.IsCode(err, cerr.NotFound))

	client.putErr = errors.New("connection reset")
	err = repo.UpdateIf(ctx, newTask("T1", "U1", time.Now()), task.Condition{Status: task.StatusCompleted, Version: 2})
	assert.True(t, cerr.IsCode(err, cerr.Unavailable))
}

func TestDynamoDBRepository_ListAndDelete(t *testing.T) {
	client := newFakeDynamoDB()
	repo := NewDynamoDBRepository(client, "tasks")
	ctx := context.Background()
	deadline := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, newTask("T2", "U2", deadline)))
	require.NoError(t, repo.Create(ctx, newTask("T1", "U1", deadline)))

	all, err := repo.List(ctx, task.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "T1", all[0].ID)

	mine, err := repo.List(ctx, task.ListFilter{OwnerUserIDs: []string{"U2"}})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "T2", mine[0].ID)

	require.NoError(t, repo.Delete(ctx, "T1"))
	assert.True(t, cerr.IsCode(repo.Delete(ctx, "T1"), cerr.NotFound))
}
