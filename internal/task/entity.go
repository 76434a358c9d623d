package task

import (
	"maps"
	"time"

	"github.com/kazz187/taskwarden/internal/queue"
)

type Status string

const (
	StatusOpen      Status = "open"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusCompleted, StatusExpired:
		return true
	}
	return false
}

type Task struct {
	ID             string    `yaml:"id" json:"taskId" dynamodbav:"taskId"`
	OwnerUserID    string    `yaml:"owner_user_id" json:"userId" dynamodbav:"userId"`
	Name           string    `yaml:"name" json:"name" dynamodbav:"name"`
	Description    string    `yaml:"description" json:"description" dynamodbav:"description"`
	Responsibility string    `yaml:"responsibility" json:"responsibility" dynamodbav:"responsibility"`
	Status         Status    `yaml:"status" json:"status" dynamodbav:"status"`
	Deadline       time.Time `yaml:"deadline" json:"deadline" dynamodbav:"deadline"`
	UserComment    string    `yaml:"user_comment,omitempty" json:"userComment,omitempty" dynamodbav:"userComment,omitempty"`
	AdminComment   string    `yaml:"admin_comment,omitempty" json:"adminComment,omitempty" dynamodbav:"adminComment,omitempty"`

	DeadlineNotified bool `yaml:"deadline_notified" json:"deadlineNotified" dynamodbav:"deadlineNotified"`
	NotificationSent bool `yaml:"notification_sent" json:"notificationSent" dynamodbav:"notificationSent"`
	// Generation counts assignments. Reopen and reassignment bump it so
	// notices for the new assignment never collide with delivered ones.
	Generation int64 `yaml:"generation,omitempty" json:"generation" dynamodbav:"generation"`
	// DeliveredNotices maps a job slot (kind and audience) to the
	// idempotency key of the last notice in that slot that was dispatched.
	DeliveredNotices map[string]string `yaml:"delivered_notices,omitempty" json:"-" dynamodbav:"deliveredNotices,omitempty"`

	CompletedAt   *time.Time `yaml:"completed_at" json:"completedAt" dynamodbav:"completedAt"`
	CreatedAt     time.Time  `yaml:"created_at" json:"createdAt" dynamodbav:"createdAt"`
	CreatedBy     string     `yaml:"created_by" json:"createdBy" dynamodbav:"createdBy"`
	LastUpdatedAt time.Time  `yaml:"last_updated_at" json:"lastUpdatedAt" dynamodbav:"lastUpdatedAt"`
	Version       int64      `yaml:"version" json:"version" dynamodbav:"version"`
}

// Clone returns a deep copy so a mutation attempt never touches the record
// it was read from.
func (t *Task) Clone() *Task {
	c := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	c.DeliveredNotices = maps.Clone(t.DeliveredNotices)
	return &c
}

// Delivered reports whether j was already fully dispatched. Notices are
// tracked per kind and audience.
func (t *Task) Delivered(j *queue.Job) bool {
	return t.DeliveredNotices[j.Slot()] == j.IdempotencyKey
}

// Job builds a notice for the task's current owner and assignment.
func (t *Task) Job(kind queue.Kind, audience queue.Audience, scheduledAt time.Time) *queue.Job {
	return queue.NewJob(kind, audience, t.ID, t.OwnerUserID, scheduledAt).InGeneration(t.Generation)
}

// reassign starts a new assignment: every per-assignment notice flag is
// cleared.
func (t *Task) reassign() {
	t.Generation++
	t.NotificationSent = false
	t.DeadlineNotified = false
	t.DeliveredNotices = nil
}

func (t *Task) MarkDelivered(j *queue.Job) {
	if t.DeliveredNotices == nil {
		t.DeliveredNotices = map[string]string{}
	}
	t.DeliveredNotices[j.Slot()] = j.IdempotencyKey
}

func (t *Task) Snapshot() *queue.TaskSnapshot {
	return &queue.TaskSnapshot{
		Name:           t.Name,
		Description:    t.Description,
		Responsibility: t.Responsibility,
		Deadline:       t.Deadline,
		OwnerUserID:    t.OwnerUserID,
	}
}
