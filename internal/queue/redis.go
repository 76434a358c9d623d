package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/rueidis"

	"github.com/kazz187/taskwarden/pkg/cerr"
)

const (
	fieldJob     = "job"
	fieldAttempt = "attempt"
)

type RedisConfig struct {
	Stream       string
	Group        string
	Consumer     string
	DedupeWindow time.Duration
	// ClaimIdle is how long a delivered entry may stay unacked before
	// another consumer claims it.
	ClaimIdle   time.Duration
	MaxAttempts int
	Block       time.Duration
}

// RedisQueue is a Queue on a Redis stream consumer group. Idempotency keys
// are reserved with SET NX EX so duplicates never reach the stream.
type RedisQueue struct {
	client rueidis.Client
	cfg    RedisConfig
}

func NewRedisQueue(ctx context.Context, client rueidis.Client, cfg RedisConfig) (*RedisQueue, error) {
	if cfg.Consumer == "" {
		cfg.Consumer = "taskwarden"
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	q := &RedisQueue{client: client, cfg: cfg}
	err := client.Do(ctx, client.B().XgroupCreate().Key(cfg.Stream).Group(cfg.Group).Id("0").Mkstream().Build()).Error()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group %s: %w", cfg.Group, err)
	}
	return q, nil
}

func (q *RedisQueue) dedupeKey(j *Job) string {
	return q.cfg.Stream + ":dedupe:" + j.IdempotencyKey
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobs ...*Job) error {
	for _, j := range jobs {
		if err := j.Validate(); err != nil {
			return err
		}
		reserve := q.client.B().Set().Key(q.dedupeKey(j)).Value(j.ID).Nx().Ex(q.cfg.DedupeWindow).Build()
		if err := q.client.Do(ctx, reserve).Error(); err != nil {
			if rueidis.IsRedisNil(err) {
				slog.DebugContext(ctx, "dropping duplicate job", "kind", j.Kind, "task_id", j.TaskID)
				continue
			}
			return cerr.NewError(cerr.Unavailable, "queue unavailable", err)
		}
		j.EnqueuedAt = time.Now().UTC()
		body, err := Encode(j)
		if err != nil {
			return err
		}
		if err := q.add(ctx, q.cfg.Stream, body, 0); err != nil {
			// Free the key so a retry of this enqueue is not mistaken for a duplicate.
			_ = q.client.Do(ctx, q.client.B().Del().Key(q.dedupeKey(j)).Build()).Error()
			return err
		}
	}
	return nil
}

func (q *RedisQueue) add(ctx context.Context, stream string, body []byte, attempt int) error {
	cmd := q.client.B().Xadd().Key(stream).Id("*").FieldValue().
		FieldValue(fieldJob, string(body)).
		FieldValue(fieldAttempt, strconv.Itoa(attempt)).
		Build()
	if err := q.client.Do(ctx, cmd).Error(); err != nil {
		return cerr.NewError(cerr.Unavailable, "queue unavailable", err)
	}
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 1
	}
	msgs, err := q.claimStale(ctx, limit)
	if err != nil || len(msgs) > 0 {
		return msgs, err
	}
	for {
		read := q.client.B().Xreadgroup().Group(q.cfg.Group, q.cfg.Consumer).
			Count(int64(limit)).Block(q.cfg.Block.Milliseconds()).
			Streams().Key(q.cfg.Stream).Id(">").Build()
		streams, err := q.client.Do(ctx, read).AsXRead()
		if err != nil && !rueidis.IsRedisNil(err) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, cerr.NewError(cerr.Unavailable, "queue unavailable", err)
		}
		if entries := streams[q.cfg.Stream]; len(entries) > 0 {
			return toMessages(entries), nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (q *RedisQueue) claimStale(ctx context.Context, limit int) ([]*Message, error) {
	if q.cfg.ClaimIdle <= 0 {
		return nil, nil
	}
	cmd := q.client.B().Xautoclaim().Key(q.cfg.Stream).Group(q.cfg.Group).Consumer(q.cfg.Consumer).
		MinIdleTime(strconv.FormatInt(q.cfg.ClaimIdle.Milliseconds(), 10)).
		Start("0-0").Count(int64(limit)).Build()
	arr, err := q.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, cerr.NewError(cerr.Unavailable, "queue unavailable", err)
	}
	if len(arr) < 2 {
		return nil, nil
	}
	entries, err := arr[1].AsXRange()
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "unexpected XAUTOCLAIM reply", err)
	}
	return toMessages(entries), nil
}

func toMessages(entries []rueidis.XRangeEntry) []*Message {
	msgs := make([]*Message, 0, len(entries))
	for _, e := range entries {
		// Entries deleted while pending come back without fields.
		if e.FieldValues == nil {
			continue
		}
		attempt, _ := strconv.Atoi(e.FieldValues[fieldAttempt])
		msgs = append(msgs, &Message{
			ID:      e.ID,
			Body:    []byte(e.FieldValues[fieldJob]),
			Attempt: attempt + 1,
			Receipt: e.ID,
		})
	}
	return msgs
}

func (q *RedisQueue) Ack(ctx context.Context, msgs ...*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.Receipt)
	}
	cmds := []rueidis.Completed{
		q.client.B().Xack().Key(q.cfg.Stream).Group(q.cfg.Group).Id(ids...).Build(),
		q.client.B().Xdel().Key(q.cfg.Stream).Id(ids...).Build(),
	}
	var errs []error
	for _, resp := range q.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return cerr.NewError(cerr.Unavailable, "queue unavailable", errors.Join(errs...))
	}
	return nil
}

// Release re-adds each message with its attempt count bumped, or moves it to
// the dead-letter stream once attempts are exhausted.
func (q *RedisQueue) Release(ctx context.Context, msgs ...*Message) error {
	for _, m := range msgs {
		target := q.cfg.Stream
		if q.cfg.MaxAttempts > 0 && m.Attempt >= q.cfg.MaxAttempts {
			target = q.cfg.Stream + ":dead"
			slog.WarnContext(ctx, "job exhausted delivery attempts", "message_id", m.ID, "attempts", m.Attempt)
		}
		if err := q.add(ctx, target, m.Body, m.Attempt); err != nil {
			return err
		}
		if err := q.Ack(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
