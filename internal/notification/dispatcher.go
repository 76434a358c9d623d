package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/kazz187/taskwarden/internal/channel"
)

// Dispatcher publishes composed notices and keeps the per-user history.
type Dispatcher struct {
	publisher channel.Publisher
	repo      Repository
	topics    Topics
	now       func() time.Time
}

type DispatcherOption func(*Dispatcher)

func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(publisher channel.Publisher, repo Repository, topics Topics, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{publisher: publisher, repo: repo, topics: topics, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg *channel.Message) error {
	return d.publisher.Publish(ctx, msg)
}

// Record appends a history entry. Failures are logged and swallowed: the
// notice itself has already gone out.
func (d *Dispatcher) Record(ctx context.Context, userID, recordType string, payload map[string]string) *Record {
	now := d.now().UTC()
	r := &Record{
		UserID:         userID,
		NotificationID: NotificationID(userID, now),
		Type:           recordType,
		Payload:        payload,
		CreatedAt:      now,
	}
	if err := d.repo.Create(ctx, r); err != nil {
		slog.WarnContext(ctx, "failed to record notification history", "user_id", userID, "type", recordType, "error", err)
		return nil
	}
	return r
}

// Send composes, dispatches and records one notice. Only a dispatch failure
// is returned.
func (d *Dispatcher) Send(ctx context.Context, n *Notice) error {
	msg, recordType, payload, err := d.topics.Compose(n)
	if err != nil {
		return err
	}
	if err := d.Dispatch(ctx, msg); err != nil {
		return err
	}
	d.Record(ctx, n.Recipient.ID, recordType, payload)
	return nil
}
