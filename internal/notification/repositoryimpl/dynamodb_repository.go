package repositoryimpl

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/kazz187/taskwarden/internal/notification"
	"github.com/kazz187/taskwarden/pkg/cerr"
)

// DynamoDBRepository uses userId as partition key and notificationId as
// sort key, so a user's history is a single Query.
type DynamoDBRepository struct {
	client *dynamodb.Client
	table  string
}

func NewDynamoDBRepository(client *dynamodb.Client, table string) *DynamoDBRepository {
	return &DynamoDBRepository{client: client, table: table}
}

func (r *DynamoDBRepository) Create(ctx context.Context, rec *notification.Record) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal notification: %w", err))
	}
	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      item,
	}); err != nil {
		return cerr.WrapDynamoDBError("notification", err)
	}
	return nil
}

func (r *DynamoDBRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*notification.Record, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("userId").Equal(expression.Value(userID))).
		Build()
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", err)
	}
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(r.table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
	}

	var records []*notification.Record
	paginator := dynamodb.NewQueryPaginator(r.client, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, cerr.WrapDynamoDBError("notifications", err)
		}
		var items []*notification.Record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal notifications: %w", err))
		}
		records = append(records, items...)
		if limit > 0 && len(records) >= limit {
			return records[:limit], nil
		}
	}
	return records, nil
}
