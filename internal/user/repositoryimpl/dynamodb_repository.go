package repositoryimpl

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kazz187/taskwarden/internal/user"
	"github.com/kazz187/taskwarden/pkg/cerr"
)

// DynamoDBRepository stores users in a table keyed by userId.
type DynamoDBRepository struct {
	client *dynamodb.Client
	table  string
}

func NewDynamoDBRepository(client *dynamodb.Client, table string) *DynamoDBRepository {
	return &DynamoDBRepository{client: client, table: table}
}

func key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"userId": &types.AttributeValueMemberS{Value: id}}
}

func (r *DynamoDBRepository) Get(ctx context.Context, id string) (*user.User, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, cerr.WrapDynamoDBError("user", err)
	}
	if out.Item == nil {
		return nil, cerr.NewError(cerr.NotFound, "user not found", nil)
	}
	var u user.User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal user: %w", err))
	}
	return &u, nil
}

func (r *DynamoDBRepository) Put(ctx context.Context, u *user.User) error {
	item, err := attributevalue.MarshalMap(u)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal user: %w", err))
	}
	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      item,
	}); err != nil {
		return cerr.WrapDynamoDBError("user", err)
	}
	return nil
}

func (r *DynamoDBRepository) List(ctx context.Context, role user.Role) ([]*user.User, error) {
	in := &dynamodb.ScanInput{TableName: aws.String(r.table)}
	if role != "" {
		expr, err := expression.NewBuilder().
			WithFilter(expression.Name("role").Equal(expression.Value(string(role)))).
			Build()
		if err != nil {
			return nil, cerr.NewError(cerr.Internal, "server error", err)
		}
		in.FilterExpression = expr.Filter()
		in.ExpressionAttributeNames = expr.Names()
		in.ExpressionAttributeValues = expr.Values()
	}

	var all []*user.User
	paginator := dynamodb.NewScanPaginator(r.client, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, cerr.WrapDynamoDBError("users", err)
		}
		var users []*user.User
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &users); err != nil {
			return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal users: %w", err))
		}
		all = append(all, users...)
	}
	return all, nil
}

func (r *DynamoDBRepository) Delete(ctx context.Context, id string) error {
	cond, err := expression.NewBuilder().WithCondition(expression.AttributeExists(expression.Name("userId"))).Build()
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
			return cerr.NewError(cerr.NotFound, "user not found", err)
		}
		return cerr.WrapDynamoDBError("user", err)
	}
	return nil
}
