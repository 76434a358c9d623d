package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskwarden/internal/channel"
	"github.com/kazz187/taskwarden/internal/queue"
	"github.com/kazz187/taskwarden/internal/user"
	"github.com/kazz187/taskwarden/pkg/cerr"
)

var topics = Topics{
	Assignment:   "task-assignment",
	Deadline:     "task-deadline",
	Completion:   "task-complete",
	Notification: "task-notification",
	Admin:        "task-admin",
	Deletion:     "task-delete",
}

func notice(kind queue.Kind, audience queue.Audience) *Notice {
	owner := &user.User{ID: "U1", Email: "bob@example.com", Name: "Bob"}
	recipient := owner
	if audience == queue.AudienceAdmins {
		recipient = &user.User{ID: "A1", Email: "alice@example.com", Name: "Alice", Role: user.RoleAdmin}
	}
	return &Notice{
		Kind:     kind,
		Audience: audience,
		TaskID:   "T1",
		Task: &queue.TaskSnapshot{
			Name:        "write report",
			Description: "quarterly numbers",
			Deadline:    time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
			OwnerUserID: "U1",
		},
		Owner:     owner,
		Recipient: recipient,
	}
}

func TestCompose(t *testing.T) {
	tests := []struct {
		kind     queue.Kind
		audience queue.Audience
		topic    string
		record   string
		subject  string
	}{
		{queue.KindAssigned, queue.AudienceOwner, "task-assignment", "TASK_ASSIGNED", "New Task Assignment: write report"},
		{queue.KindDeadlineHourBefore, queue.AudienceOwner, "task-deadline", "TASK_DEADLINE", "Task Deadline Reminder: write report"},
		{queue.KindDeadlineImminent, queue.AudienceOwner, "task-deadline", "TASK_DEADLINE_IMMINENT", "URGENT: Task Deadline Approaching - write report"},
		{queue.KindExpired, queue.AudienceOwner, "task-notification", "TASK_EXPIRED", "Task Expired: write report"},
		{queue.KindExpired, queue.AudienceAdmins, "task-admin", "TASK_EXPIRED", "Task Expired Alert: write report"},
		{queue.KindCompleted, queue.AudienceAdmins, "task-complete", "TASK_COMPLETED", "Task Completed: write report"},
		{queue.KindDeleted, queue.AudienceOwner, "task-delete", "TASK_DELETED", "DELETED: Task removed - write report"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+string(tt.audience), func(t *testing.T) {
			n := notice(tt.kind, tt.audience)
			msg, recordType, payload, err := topics.Compose(n)
			require.NoError(t, err)
			assert.Equal(t, tt.topic, msg.Topic)
			assert.Equal(t, tt.subject, msg.Subject)
			assert.Equal(t, tt.record, recordType)
			assert.Equal(t, n.Recipient.ID, msg.Recipient())
			assert.Equal(t, n.Recipient.Email, msg.Attributes[channel.AttrEmail])
			assert.Contains(t, msg.Body, "Dear "+n.Recipient.Name)
			assert.Equal(t, "T1", payload["taskId"])
			assert.Equal(t, "2025-01-01T10:00:00Z", payload["deadline"])
		})
	}

	t.Run("admin expiry names the owner", func(t *testing.T) {
		msg, _, _, err := topics.Compose(notice(queue.KindExpired, queue.AudienceAdmins))
		require.NoError(t, err)
		assert.Contains(t, msg.Body, "bob@example.com")
	})

	t.Run("missing recipient", func(t *testing.T) {
		n := notice(queue.KindAssigned, queue.AudienceOwner)
		n.Recipient = nil
		_, _, _, err := topics.Compose(n)
		assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
	})
}

type recorder struct {
	msgs []*channel.Message
	err  error
}

func (r *recorder) Publish(_ context.Context, msg *channel.Message) error {
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

type memoryRepo struct {
	records []*Record
	err     error
}

func (m *memoryRepo) Create(_ context.Context, r *Record) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, r)
	return nil
}

func (m *memoryRepo) ListByUser(_ context.Context, userID string, _ int) ([]*Record, error) {
	var out []*Record
	for _, r := range m.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestDispatcher_Send(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	clock := WithClock(func() time.Time { return now })

	t.Run("records after a successful dispatch", func(t *testing.T) {
		pub, repo := &recorder{}, &memoryRepo{}
		d := NewDispatcher(pub, repo, topics, clock)
		require.NoError(t, d.Send(ctx, notice(queue.KindAssigned, queue.AudienceOwner)))
		require.Len(t, pub.msgs, 1)
		require.Len(t, repo.records, 1)
		assert.Equal(t, "U1:2025-01-01T09:00:00Z", repo.records[0].NotificationID)
		assert.False(t, repo.records[0].Read)
	})

	t.Run("dispatch failure is returned and nothing is recorded", func(t *testing.T) {
		pub := &recorder{err: cerr.NewError(cerr.Unavailable, "down", nil)}
		repo := &memoryRepo{}
		d := NewDispatcher(pub, repo, topics, clock)
		err := d.Send(ctx, notice(queue.KindAssigned, queue.AudienceOwner))
		assert.True(t, cerr.IsCode(err, cerr.Unavailable))
		assert.Empty(t, repo.records)
	})

	t.Run("history failure does not fail the send", func(t *testing.T) {
		pub := &recorder{}
		d := NewDispatcher(pub, &memoryRepo{err: errors.New("disk full")}, topics, clock)
		require.NoError(t, d.Send(ctx, notice(queue.KindCompleted, queue.AudienceAdmins)))
		assert.Len(t, pub.msgs, 1)
	})
}
