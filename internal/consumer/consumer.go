// Package consumer drains notification jobs and turns them into delivered
// notices.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/kazz187/taskwarden/internal/notification"
	"github.com/kazz187/taskwarden/internal/queue"
	"github.com/kazz187/taskwarden/internal/task"
	"github.com/kazz187/taskwarden/internal/user"
	"github.com/kazz187/taskwarden/pkg/cerr"
	"github.com/kazz187/taskwarden/pkg/clog"
	"github.com/kazz187/taskwarden/pkg/panicerr"
)

type Sender interface {
	Send(ctx context.Context, n *notification.Notice) error
}

type Config struct {
	BatchSize int
	Workers   int
}

type Consumer struct {
	tasks    task.Repository
	engine   *task.Engine
	users    user.Repository
	sender   Sender
	receiver queue.Receiver
	cfg      Config
}

func New(tasks task.Repository, engine *task.Engine, users user.Repository, sender Sender, receiver queue.Receiver, cfg Config) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Consumer{tasks: tasks, engine: engine, users: users, sender: sender, receiver: receiver, cfg: cfg}
}

type Skip struct {
	MessageID string `json:"messageId"`
	Reason    string `json:"reason"`
}

// BatchResult lists the messages that should be redelivered. Everything not
// in Failures is done, including skips.
type BatchResult struct {
	Failures []string `json:"failures"`
	Skipped  []Skip   `json:"skipped"`
}

// errSkip marks a job that can never succeed or no longer needs to.
type errSkip struct{ reason string }

func (e *errSkip) Error() string { return e.reason }

func skip(format string, args ...any) error {
	return &errSkip{reason: fmt.Sprintf(format, args...)}
}

func (c *Consumer) HandleBatch(ctx context.Context, msgs []*queue.Message) BatchResult {
	var (
		mu     sync.Mutex
		result = BatchResult{Failures: []string{}, Skipped: []Skip{}}
	)
	p := pool.New().WithMaxGoroutines(c.cfg.Workers)
	for _, m := range msgs {
		p.Go(func() {
			mctx := clog.ContextWithAttributes(ctx, map[string]any{"component": "consumer", "message_id": m.ID})
			err := panicerr.Run(func() error { return c.handle(mctx, m) })

			mu.Lock()
			defer mu.Unlock()
			var s *errSkip
			switch {
			case err == nil:
			case errors.As(err, &s):
				slog.InfoContext(mctx, "skipping job", "reason", s.reason)
				result.Skipped = append(result.Skipped, Skip{MessageID: m.ID, Reason: s.reason})
			case cerr.IsRetryable(err):
				slog.ErrorContext(mctx, "job failed, will be redelivered", "attempt", m.Attempt, "error", err)
				result.Failures = append(result.Failures, m.ID)
			default:
				slog.WarnContext(mctx, "job cannot succeed, dropping", "error", err)
				result.Skipped = append(result.Skipped, Skip{MessageID: m.ID, Reason: err.Error()})
			}
		})
	}
	p.Wait()
	return result
}

func (c *Consumer) handle(ctx context.Context, m *queue.Message) error {
	job, err := queue.Decode(m.Body)
	if err != nil {
		return skip("malformed job: %v", err)
	}
	clog.AddAttributes(ctx, map[string]any{"task_id": job.TaskID, "kind": string(job.Kind)})

	var (
		snapshot *queue.TaskSnapshot
		current  *task.Task
	)
	if job.Kind == queue.KindDeleted {
		if job.Snapshot == nil {
			return skip("deletion notice without task snapshot")
		}
		snapshot = job.Snapshot
	} else {
		current, err = c.tasks.Get(ctx, job.TaskID)
		if cerr.IsCode(err, cerr.NotFound) {
			return skip("task %s not found", job.TaskID)
		}
		if err != nil {
			return err
		}
		if err := stale(job, current); err != nil {
			return err
		}
		snapshot = current.Snapshot()
	}

	recipients, err := c.recipients(ctx, job)
	if err != nil {
		return err
	}
	// The owner only enriches admin notices, so a failed lookup is not fatal.
	owner, err := c.users.Get(ctx, snapshot.OwnerUserID)
	if err != nil {
		if !cerr.IsCode(err, cerr.NotFound) {
			slog.WarnContext(ctx, "failed to look up task owner", "user_id", snapshot.OwnerUserID, "error", err)
		}
		owner = nil
	}

	for _, r := range recipients {
		if err := c.sender.Send(ctx, &notification.Notice{
			Kind:      job.Kind,
			Audience:  job.Audience,
			TaskID:    job.TaskID,
			Task:      snapshot,
			Owner:     owner,
			Recipient: r,
		}); err != nil {
			return err
		}
	}

	if current == nil {
		return nil
	}
	return c.markDelivered(ctx, job)
}

// stale drops jobs whose premise no longer holds for the stored task, and
// jobs that were already delivered.
func stale(job *queue.Job, t *task.Task) error {
	ownerBound := job.Kind == queue.KindAssigned || job.Kind.IsDeadline() ||
		(job.Kind == queue.KindExpired && job.Audience == queue.AudienceOwner)
	if ownerBound && t.OwnerUserID != job.UserID {
		return skip("task was reassigned from %s to %s", job.UserID, t.OwnerUserID)
	}
	if job.Generation != t.Generation {
		return skip("job belongs to assignment %d, task is on %d", job.Generation, t.Generation)
	}

	switch {
	case job.Kind == queue.KindAssigned:
		if t.Status != task.StatusOpen {
			return skip("task is %s, not open", t.Status)
		}
		if t.NotificationSent {
			return skip("assignment already notified")
		}
		return nil
	case job.Kind.IsDeadline():
		if t.Status != task.StatusOpen {
			return skip("task is %s, not open", t.Status)
		}
		if !t.Deadline.Equal(job.ScheduledAt) {
			return skip("deadline moved since the reminder was scheduled")
		}
	case job.Kind == queue.KindExpired:
		if t.Status != task.StatusExpired {
			return skip("task is %s, not expired", t.Status)
		}
	case job.Kind == queue.KindCompleted:
		if t.Status != task.StatusCompleted {
			return skip("task is %s, not completed", t.Status)
		}
	}
	if t.Delivered(job) {
		return skip("notice already delivered")
	}
	return nil
}

func (c *Consumer) recipients(ctx context.Context, job *queue.Job) ([]*user.User, error) {
	if job.Audience == queue.AudienceAdmins {
		admins, err := c.users.List(ctx, user.RoleAdmin)
		if err != nil {
			return nil, err
		}
		if len(admins) == 0 {
			return nil, skip("no admin users to notify")
		}
		return admins, nil
	}
	u, err := c.users.Get(ctx, job.UserID)
	if cerr.IsCode(err, cerr.NotFound) {
		return nil, skip("user %s not found", job.UserID)
	}
	if err != nil {
		return nil, err
	}
	return []*user.User{u}, nil
}

func (c *Consumer) markDelivered(ctx context.Context, job *queue.Job) error {
	_, err := c.engine.Modify(ctx, job.TaskID, func(t *task.Task) error {
		if t.Generation != job.Generation {
			return task.ErrUnchanged
		}
		if job.Kind == queue.KindAssigned {
			if t.OwnerUserID != job.UserID || t.NotificationSent {
				return task.ErrUnchanged
			}
			t.NotificationSent = true
			return nil
		}
		if t.Delivered(job) {
			return task.ErrUnchanged
		}
		t.MarkDelivered(job)
		return nil
	})
	if cerr.IsCode(err, cerr.NotFound) {
		return nil
	}
	return err
}

// Run receives batches until ctx is done. Successes and skips are acked;
// failures are released for redelivery.
func (c *Consumer) Run(ctx context.Context) {
	slog.InfoContext(ctx, "notification consumer started", "batch_size", c.cfg.BatchSize, "workers", c.cfg.Workers)
	for {
		msgs, err := c.receiver.Receive(ctx, c.cfg.BatchSize)
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "notification consumer stopped")
			return
		}
		if err != nil {
			slog.ErrorContext(ctx, "failed to receive jobs", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		c.settle(ctx, msgs, c.HandleBatch(ctx, msgs))
	}
}

func (c *Consumer) settle(ctx context.Context, msgs []*queue.Message, result BatchResult) {
	failed := make(map[string]struct{}, len(result.Failures))
	for _, id := range result.Failures {
		failed[id] = struct{}{}
	}
	var done, retry []*queue.Message
	for _, m := range msgs {
		if _, ok := failed[m.ID]; ok {
			retry = append(retry, m)
		} else {
			done = append(done, m)
		}
	}
	if len(done) > 0 {
		if err := c.receiver.Ack(ctx, done...); err != nil {
			slog.ErrorContext(ctx, "failed to ack jobs", "count", len(done), "error", err)
		}
	}
	if len(retry) > 0 {
		if err := c.receiver.Release(ctx, retry...); err != nil {
			slog.ErrorContext(ctx, "failed to release jobs", "count", len(retry), "error", err)
		}
	}
}
