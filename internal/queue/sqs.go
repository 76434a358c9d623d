package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/kazz187/taskwarden/pkg/cerr"
)

const sqsMaxBatch = 10

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, in *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	ChangeMessageVisibilityBatch(ctx context.Context, in *sqs.ChangeMessageVisibilityBatchInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityBatchOutput, error)
}

// SQSQueue is a Queue on an SQS FIFO queue. The task id is the message group
// and the idempotency key the deduplication id, so SQS drops duplicates
// within its own five minute window. Exhausted messages are left to the
// queue's redrive policy.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
	// WaitSeconds is the long-poll duration, at most 20.
	WaitSeconds       int32
	VisibilityTimeout int32
}

func NewSQSQueue(cfg aws.Config, queueURL string, visibilityTimeout int32) *SQSQueue {
	return &SQSQueue{
		client:            sqs.NewFromConfig(cfg),
		queueURL:          queueURL,
		WaitSeconds:       20,
		VisibilityTimeout: visibilityTimeout,
	}
}

// deduplicationID fits a key into the 128 character limit of SQS.
func deduplicationID(key string) string {
	if len(key) <= 128 {
		return key
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (q *SQSQueue) Enqueue(ctx context.Context, jobs ...*Job) error {
	for _, j := range jobs {
		if err := j.Validate(); err != nil {
			return err
		}
		body, err := Encode(j)
		if err != nil {
			return err
		}
		_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:               aws.String(q.queueURL),
			MessageBody:            aws.String(string(body)),
			MessageGroupId:         aws.String(j.GroupID()),
			MessageDeduplicationId: aws.String(deduplicationID(j.IdempotencyKey)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"kind": {DataType: aws.String("String"), StringValue: aws.String(string(j.Kind))},
			},
		})
		if err != nil {
			return cerr.NewError(cerr.Unavailable, "queue unavailable", fmt.Errorf("failed to send job %s: %w", j.ID, err))
		}
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, limit int) ([]*Message, error) {
	limit = min(max(1, limit), sqsMaxBatch)
	for {
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:                    aws.String(q.queueURL),
			MaxNumberOfMessages:         int32(limit),
			WaitTimeSeconds:             q.WaitSeconds,
			VisibilityTimeout:           q.VisibilityTimeout,
			MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, cerr.NewError(cerr.Unavailable, "queue unavailable", err)
		}
		if len(out.Messages) > 0 {
			msgs := make([]*Message, 0, len(out.Messages))
			for _, m := range out.Messages {
				attempt, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
				msgs = append(msgs, &Message{
					ID:      aws.ToString(m.MessageId),
					Body:    []byte(aws.ToString(m.Body)),
					Attempt: attempt,
					Receipt: aws.ToString(m.ReceiptHandle),
				})
			}
			return msgs, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (q *SQSQueue) Ack(ctx context.Context, msgs ...*Message) error {
	for chunk := range slices.Chunk(msgs, sqsMaxBatch) {
		entries := make([]types.DeleteMessageBatchRequestEntry, 0, len(chunk))
		for i, m := range chunk {
			entries = append(entries, types.DeleteMessageBatchRequestEntry{
				Id:            aws.String(strconv.Itoa(i)),
				ReceiptHandle: aws.String(m.Receipt),
			})
		}
		out, err := q.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(q.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return cerr.NewError(cerr.Unavailable, "queue unavailable", err)
		}
		if len(out.Failed) > 0 {
			return cerr.NewError(cerr.Unavailable, "queue unavailable", fmt.Errorf("failed to delete %d messages: %s", len(out.Failed), batchFailures(out.Failed)))
		}
	}
	return nil
}

// Release makes the messages visible again immediately.
func (q *SQSQueue) Release(ctx context.Context, msgs ...*Message) error {
	for chunk := range slices.Chunk(msgs, sqsMaxBatch) {
		entries := make([]types.ChangeMessageVisibilityBatchRequestEntry, 0, len(chunk))
		for i, m := range chunk {
			entries = append(entries, types.ChangeMessageVisibilityBatchRequestEntry{
				Id:                aws.String(strconv.Itoa(i)),
				ReceiptHandle:     aws.String(m.Receipt),
				VisibilityTimeout: 0,
			})
		}
		out, err := q.client.ChangeMessageVisibilityBatch(ctx, &sqs.ChangeMessageVisibilityBatchInput{
			QueueUrl: aws.String(q.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return cerr.NewError(cerr.Unavailable, "queue unavailable", err)
		}
		if len(out.Failed) > 0 {
			return cerr.NewError(cerr.Unavailable, "queue unavailable", fmt.Errorf("failed to release %d messages: %s", len(out.Failed), batchFailures(out.Failed)))
		}
	}
	return nil
}

func batchFailures(failed []types.BatchResultErrorEntry) string {
	codes := make([]string, 0, len(failed))
	for _, f := range failed {
		codes = append(codes, aws.ToString(f.Code))
	}
	return strings.Join(codes, ",")
}

