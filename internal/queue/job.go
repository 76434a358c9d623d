package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kazz187/taskwarden/pkg/cerr"
)

type Kind string

const (
	KindAssigned           Kind = "ASSIGNED"
	KindDeadlineHourBefore Kind = "DEADLINE_HOUR_BEFORE"
	KindDeadlineImminent   Kind = "DEADLINE_IMMINENT"
	KindExpired            Kind = "EXPIRED"
	KindCompleted          Kind = "COMPLETED"
	KindDeleted            Kind = "DELETED"
)

func (k Kind) Valid() bool {
	switch k {
	case KindAssigned, KindDeadlineHourBefore, KindDeadlineImminent, KindExpired, KindCompleted, KindDeleted:
		return true
	}
	return false
}

// IsDeadline reports whether k announces an approaching deadline.
func (k Kind) IsDeadline() bool {
	return k == KindDeadlineHourBefore || k == KindDeadlineImminent
}

// Audience says who a job is addressed to.
type Audience string

const (
	AudienceOwner  Audience = "owner"
	AudienceAdmins Audience = "admins"
)

// TaskSnapshot carries the task fields a notice needs when the task record
// may be gone by the time the job is consumed.
type TaskSnapshot struct {
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Responsibility string    `json:"responsibility"`
	Deadline       time.Time `json:"deadline"`
	OwnerUserID    string    `json:"ownerUserId"`
}

// Job is one unit of notification work.
type Job struct {
	ID             string        `json:"id"`
	TaskID         string        `json:"taskId"`
	UserID         string        `json:"userId"`
	Kind           Kind          `json:"kind"`
	Audience       Audience      `json:"audience"`
	IdempotencyKey string        `json:"idempotencyKey"`
	ScheduledAt    time.Time     `json:"scheduledAt"`
	Generation     int64         `json:"generation,omitempty"`
	EnqueuedAt     time.Time     `json:"enqueuedAt"`
	Snapshot       *TaskSnapshot `json:"snapshot,omitempty"`
}

// NewJob builds a job whose idempotency key is derived from the task, kind,
// audience and the instant the notice is about. Two jobs for the same event
// therefore share a key no matter who enqueued them.
func NewJob(kind Kind, audience Audience, taskID, userID string, scheduledAt time.Time) *Job {
	scheduledAt = scheduledAt.UTC()
	return &Job{
		ID:             uuid.NewString(),
		TaskID:         taskID,
		UserID:         userID,
		Kind:           kind,
		Audience:       audience,
		IdempotencyKey: IdempotencyKey(taskID, kind, audience, scheduledAt),
		ScheduledAt:    scheduledAt,
	}
}

func IdempotencyKey(taskID string, kind Kind, audience Audience, scheduledAt time.Time) string {
	return strings.Join([]string{taskID, string(kind), string(audience), scheduledAt.UTC().Format(time.RFC3339Nano)}, ":")
}

// InGeneration ties j to an assignment generation of its task. Generation 0
// keeps the plain key.
func (j *Job) InGeneration(g int64) *Job {
	j.Generation = g
	j.IdempotencyKey = IdempotencyKey(j.TaskID, j.Kind, j.Audience, j.ScheduledAt)
	if g > 0 {
		j.IdempotencyKey += ":g" + strconv.FormatInt(g, 10)
	}
	return j
}

// Slot identifies the notice stream a job belongs to on its task.
func (j *Job) Slot() string {
	return string(j.Kind) + "/" + string(j.Audience)
}

// GroupID orders jobs per task on transports that support it.
func (j *Job) GroupID() string {
	return j.TaskID
}

func (j *Job) Validate() error {
	switch {
	case j.TaskID == "":
		return cerr.NewError(cerr.InvalidArgument, "job has no task id", nil)
	case !j.Kind.Valid():
		return cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown job kind %q", j.Kind), nil)
	case j.IdempotencyKey == "":
		return cerr.NewError(cerr.InvalidArgument, "job has no idempotency key", nil)
	case j.Audience != AudienceOwner && j.Audience != AudienceAdmins:
		return cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown audience %q", j.Audience), nil)
	}
	return nil
}

func Encode(j *Job) ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "failed to encode job", err)
	}
	return data, nil
}

// Decode parses and validates a job body. Errors are InvalidArgument: a
// malformed body will never succeed on redelivery.
func Decode(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, "malformed job", err)
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return &j, nil
}
