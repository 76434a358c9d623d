package queue

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisClient connects to TASKWARDEN_TEST_REDIS_ADDR or skips the test.
func redisClient(t *testing.T) rueidis.Client {
	t.Helper()
	addr := os.Getenv("TASKWARDEN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TASKWARDEN_TEST_REDIS_ADDR is not set")
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{InitAddress: []string{addr}})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func newTestRedisQueue(t *testing.T, maxAttempts int) *RedisQueue {
	t.Helper()
	client := redisClient(t)
	ctx := context.Background()
	stream := fmt.Sprintf("taskwarden-test:%s:%d", t.Name(), time.Now().UnixNano())
	t.Cleanup(func() {
		client.Do(ctx, client.B().Del().Key(stream, stream+":dead").Build())
	})
	q, err := NewRedisQueue(ctx, client, RedisConfig{
		Stream:       stream,
		Group:        "workers",
		DedupeWindow: time.Minute,
		MaxAttempts:  maxAttempts,
		Block:        100 * time.Millisecond,
	})
	require.NoError(t, err)
	return q
}

func TestRedisQueue_DedupesAndAcks(t *testing.T) {
	q := newTestRedisQueue(t, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job := NewJob(KindAssigned, AudienceOwner, "T1", "U1", deadline)
	require.NoError(t, q.Enqueue(ctx, job))
	require.NoError(t, q.Enqueue(ctx, NewJob(KindAssigned, AudienceOwner, "T1", "U1", deadline)))
	require.NoError(t, q.Enqueue(ctx, NewJob(KindAssigned, AudienceOwner, "T1", "U1", deadline).InGeneration(1)))

	msgs, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, msgs[0].Attempt)
	decoded, err := Decode(msgs[0].Body)
	require.NoError(t, err)
	assert.Equal(t, job.IdempotencyKey, decoded.IdempotencyKey)

	require.NoError(t, q.Ack(ctx, msgs...))
	empty, cancelEmpty := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancelEmpty()
	_, err = q.Receive(empty, 10)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisQueue_ReleaseMovesExhaustedToDeadLetter(t *testing.T) {
	q := newTestRedisQueue(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Enqueue(ctx, NewJob(KindExpired, AudienceAdmins, "T1", "U1", deadline)))

	msgs, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, q.Release(ctx, msgs...))

	msgs, err = q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 2, msgs[0].Attempt)
	require.NoError(t, q.Release(ctx, msgs...))

	n, err := q.client.Do(ctx, q.client.B().Xlen().Key(q.cfg.Stream+":dead").Build()).AsInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
