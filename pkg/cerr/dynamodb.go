package cerr

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// WrapDynamoDBError maps a DynamoDB failure on target. A failed condition is
// reported as Aborted; callers that know better (delete of a missing item)
// translate it themselves.
func WrapDynamoDBError(target string, err error) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return NewError(Aborted, fmt.Sprintf("%s was modified concurrently", target), err)
	}
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return NewError(Internal, "server error", fmt.Errorf("table for %s not found: %w", target, err))
	}
	return NewError(Unavailable, "storage unavailable", fmt.Errorf("dynamodb request on %s failed: %w", target, err))
}

func IsConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
