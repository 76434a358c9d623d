package queue

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskwarden/pkg/cerr"
)

type fakeSQS struct {
	sent      []*sqs.SendMessageInput
	inbox     []types.Message
	deletes   []*sqs.DeleteMessageBatchInput
	releases  []*sqs.ChangeMessageVisibilityBatchInput
	failFirst bool
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	n := min(int(in.MaxNumberOfMessages), len(f.inbox))
	out := &sqs.ReceiveMessageOutput{Messages: f.inbox[:n]}
	f.inbox = f.inbox[n:]
	return out, nil
}

func (f *fakeSQS) DeleteMessageBatch(_ context.Context, in *sqs.DeleteMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	f.deletes = append(f.deletes, in)
	out := &sqs.DeleteMessageBatchOutput{}
	if f.failFirst {
		out.Failed = []types.BatchResultErrorEntry{{Id: in.Entries[0].Id, Code: aws.String("ReceiptHandleIsInvalid")}}
	}
	return out, nil
}

func (f *fakeSQS) ChangeMessageVisibilityBatch(_ context.Context, in *sqs.ChangeMessageVisibilityBatchInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityBatchOutput, error) {
	f.releases = append(f.releases, in)
	return &sqs.ChangeMessageVisibilityBatchOutput{}, nil
}

func newTestSQSQueue(client *fakeSQS) *SQSQueue {
	return &SQSQueue{client: client, queueURL: "https://sqs.local/jobs.fifo", WaitSeconds: 0, VisibilityTimeout: 30}
}

func TestSQSQueue_Enqueue(t *testing.T) {
	client := &fakeSQS{}
	q := newTestSQSQueue(client)

	job := NewJob(KindExpired, AudienceAdmins, "T1", "U1", deadline).InGeneration(1)
	require.NoError(t, q.Enqueue(context.Background(), job))
	require.Len(t, client.sent, 1)

	in := client.sent[0]
	assert.Equal(t, "T1", aws.ToString(in.MessageGroupId))
	assert.Equal(t, "T1:EXPIRED:admins:2025-01-01T10:00:00Z:g1", aws.ToString(in.MessageDeduplicationId))
	assert.Equal(t, "EXPIRED", aws.ToString(in.MessageAttributes["kind"].StringValue))

	decoded, err := Decode([]byte(aws.ToString(in.MessageBody)))
	require.NoError(t, err)
	assert.Equal(t, job.ID, decoded.ID)

	err = q.Enqueue(context.Background(), &Job{Kind: KindExpired})
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
	assert.Len(t, client.sent, 1)
}

func TestSQSQueue_ReceiveAckRelease(t *testing.T) {
	client := &fakeSQS{}
	for i := range 12 {
		client.inbox = append(client.inbox, types.Message{
			MessageId:     aws.String("m"),
			Body:          aws.String("{}"),
			ReceiptHandle: aws.String("r" + string(rune('a'+i))),
			Attributes:    map[string]string{"ApproximateReceiveCount": "2"},
		})
	}
	q := newTestSQSQueue(client)
	ctx := context.Background()

	first, err := q.Receive(ctx, 50)
	require.NoError(t, err)
	require.Len(t, first, sqsMaxBatch)
	assert.Equal(t, 2, first[0].Attempt)
	assert.Equal(t, "ra", first[0].Receipt)

	rest, err := q.Receive(ctx, 50)
	require.NoError(t, err)
	require.Len(t, rest, 2)

	require.NoError(t, q.Ack(ctx, append(first, rest...)...))
	require.Len(t, client.deletes, 2)
	assert.Len(t, client.deletes[0].Entries, sqsMaxBatch)
	assert.Len(t, client.deletes[1].Entries, 2)

	require.NoError(t, q.Release(ctx, rest...))
	require.Len(t, client.releases, 1)
	assert.Equal(t, int32(0), client.releases[0].Entries[0].VisibilityTimeout)

	client.failFirst = true
	err = q.Ack(ctx, rest...)
	assert.True(t, cerr.IsCode(err, cerr.Unavailable))
}
