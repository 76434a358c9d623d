package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kazz187/taskwarden/internal/task"
	"github.com/kazz187/taskwarden/pkg/cerr"
)

// DynamoDBAPI is the part of *dynamodb.Client the repository uses.
type DynamoDBAPI interface {
	dynamodb.ScanAPIClient
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoDBRepository stores tasks in a table keyed by taskId.
type DynamoDBRepository struct {
	client DynamoDBAPI
	table  string
}

func NewDynamoDBRepository(client DynamoDBAPI, table string) *DynamoDBRepository {
	return &DynamoDBRepository{client: client, table: table}
}

func key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"taskId": &types.AttributeValueMemberS{Value: id}}
}

func (r *DynamoDBRepository) put(ctx context.Context, t *task.Task, cond expression.ConditionBuilder) error {
	item, err := attributevalue.MarshalMap(t)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal task: %w", err))
	}
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(r.table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return err
}

func (r *DynamoDBRepository) Create(ctx context.Context, t *task.Task) error {
	err := r.put(ctx, t, expression.AttributeNotExists(expression.Name("taskId")))
	if err != nil {
		if cerr.IsConditionalCheckFailed(err) {
			return cerr.NewError(cerr.AlreadyExists, "task already exists", err)
		}
		return cerr.WrapDynamoDBError("task", err)
	}
	return nil
}

func (r *DynamoDBRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, cerr.WrapDynamoDBError("task", err)
	}
	if out.Item == nil {
		return nil, cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	var t task.Task
	if err := attributevalue.UnmarshalMap(out.Item, &t); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal task: %w", err))
	}
	return &t, nil
}

// List filters status and owner on the server. Deadlines are stored as
// RFC 3339 strings with variable precision, so the range is applied here.
func (r *DynamoDBRepository) List(ctx context.Context, f task.ListFilter) ([]*task.Task, error) {
	in := &dynamodb.ScanInput{TableName: aws.String(r.table), ConsistentRead: aws.Bool(true)}

	var conds []expression.ConditionBuilder
	if f.Status != "" {
		conds = append(conds, expression.Name("status").Equal(expression.Value(string(f.Status))))
	}
	if len(f.OwnerUserIDs) > 0 {
		owners := make([]expression.OperandBuilder, 0, len(f.OwnerUserIDs))
		for _, id := range f.OwnerUserIDs {
			owners = append(owners, expression.Value(id))
		}
		if len(owners) == 1 {
			conds = append(conds, expression.Name("userId").Equal(owners[0]))
		} else {
			conds = append(conds, expression.Name("userId").In(owners[0], owners[1:]...))
		}
	}
	if len(conds) > 0 {
		filter := conds[0]
		if len(conds) > 1 {
			filter = expression.And(conds[0], conds[1], conds[2:]...)
		}
		expr, err := expression.NewBuilder().WithFilter(filter).Build()
		if err != nil {
			return nil, cerr.NewError(cerr.Internal, "server error", err)
		}
		in.FilterExpression = expr.Filter()
		in.ExpressionAttributeNames = expr.Names()
		in.ExpressionAttributeValues = expr.Values()
	}

	var tasks []*task.Task
	paginator := dynamodb.NewScanPaginator(r.client, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, cerr.WrapDynamoDBError("tasks", err)
		}
		var items []*task.Task
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal tasks: %w", err))
		}
		for _, t := range items {
			if f.Match(t) {
				tasks = append(tasks, t)
			}
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

func (r *DynamoDBRepository) UpdateIf(ctx context.Context, t *task.Task, cond task.Condition) error {
	t.Version = cond.Version + 1
	err := r.put(ctx, t, expression.And(
		expression.Name("status").Equal(expression.Value(string(cond.Status))),
		expression.Name("version").Equal(expression.Value(cond.Version)),
	))
	if err == nil {
		return nil
	}
	t.Version = cond.Version
	if !cerr.IsConditionalCheckFailed(err) {
		return cerr.WrapDynamoDBError("task", err)
	}
	if _, getErr := r.Get(ctx, t.ID); getErr != nil {
		return getErr
	}
	return cerr.NewError(cerr.Aborted, "task was modified concurrently", err)
}

func (r *DynamoDBRepository) Delete(ctx context.Context, id string) error {
	cond, err := expression.NewBuilder().WithCondition(expression.AttributeExists(expression.Name("taskId"))).Build()
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", err)
	}
	_, err = r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(r.table),
		Key:                      key(id),
		ConditionExpression:      cond.Condition(),
		ExpressionAttributeNames: cond.Names(),
	})
	if err != nil {
		if cerr.IsConditionalCheckFailed(err) {
			return cerr.NewError(cerr.NotFound, "task not found", err)
		}
		return cerr.WrapDynamoDBError("task", err)
	}
	return nil
}
