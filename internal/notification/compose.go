package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/kazz187/taskwarden/internal/channel"
	"github.com/kazz187/taskwarden/internal/queue"
	"github.com/kazz187/taskwarden/internal/user"
	"github.com/kazz187/taskwarden/pkg/cerr"
)

// Topics names the channel each kind of notice is published on.
type Topics struct {
	Assignment   string
	Deadline     string
	Completion   string
	Notification string
	Admin        string
	Deletion     string
}

// Notice is everything needed to render one notification for one recipient.
type Notice struct {
	Kind      queue.Kind
	Audience  queue.Audience
	TaskID    string
	Task      *queue.TaskSnapshot
	Owner     *user.User
	Recipient *user.User
}

const deadlineLayout = "Mon, 02 Jan 2006 15:04 MST"

// Compose renders n into a channel message and the history record type and
// payload that go with it.
func (t Topics) Compose(n *Notice) (*channel.Message, string, map[string]string, error) {
	var (
		topic, subject, summary, recordType string
		lines                               []string
	)
	if n.Task == nil || n.Recipient == nil {
		return nil, "", nil, cerr.NewError(cerr.InvalidArgument, "notice needs a task and a recipient", nil)
	}
	task := n.Task
	deadline := task.Deadline.UTC().Format(deadlineLayout)
	ownerEmail := task.OwnerUserID
	if n.Owner != nil {
		ownerEmail = n.Owner.Email
	}

	switch {
	case n.Kind == queue.KindAssigned:
		topic, recordType = t.Assignment, "TASK_ASSIGNED"
		subject = "New Task Assignment: " + task.Name
		summary = fmt.Sprintf("Task %q has been assigned to you. Deadline: %s", task.Name, deadline)
		lines = []string{
			"You have been assigned a new task.",
			"",
			"Task: " + task.Name,
			"Description: " + task.Description,
			"Responsibility: " + task.Responsibility,
			"Deadline: " + deadline,
		}
	case n.Kind == queue.KindDeadlineHourBefore:
		topic, recordType = t.Deadline, "TASK_DEADLINE"
		subject = "Task Deadline Reminder: " + task.Name
		summary = fmt.Sprintf("Reminder: Task %q is due at %s", task.Name, deadline)
		lines = []string{
			"This is a reminder about your upcoming task deadline.",
			"",
			"Task: " + task.Name,
			"Deadline: " + deadline,
		}
	case n.Kind == queue.KindDeadlineImminent:
		topic, recordType = t.Deadline, "TASK_DEADLINE_IMMINENT"
		subject = "URGENT: Task Deadline Approaching - " + task.Name
		summary = fmt.Sprintf("URGENT: Task %q deadline is approaching soon: %s", task.Name, deadline)
		lines = []string{
			"The following task deadline is rapidly approaching.",
			"",
			"Task: " + task.Name,
			"Description: " + task.Description,
			"Deadline: " + deadline,
		}
	case n.Kind == queue.KindExpired && n.Audience == queue.AudienceOwner:
		topic, recordType = t.Notification, "TASK_EXPIRED"
		subject = "Task Expired: " + task.Name
		summary = fmt.Sprintf("Task %q has expired.", task.Name)
		lines = []string{summary, "", "Deadline: " + deadline}
	case n.Kind == queue.KindExpired:
		topic, recordType = t.Admin, "TASK_EXPIRED"
		subject = "Task Expired Alert: " + task.Name
		summary = fmt.Sprintf("Task %q assigned to %s has expired.", task.Name, ownerEmail)
		lines = []string{summary, "", "Deadline: " + deadline}
	case n.Kind == queue.KindCompleted:
		topic, recordType = t.Completion, "TASK_COMPLETED"
		subject = "Task Completed: " + task.Name
		summary = fmt.Sprintf("Task %q was completed by %s.", task.Name, ownerEmail)
		lines = []string{summary, "", "Deadline: " + deadline}
	case n.Kind == queue.KindDeleted:
		topic, recordType = t.Deletion, "TASK_DELETED"
		subject = "DELETED: Task removed - " + task.Name
		summary = fmt.Sprintf("Task %q has been removed.", task.Name)
		lines = []string{summary, "", "Description: " + task.Description}
	default:
		return nil, "", nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("no template for %s/%s", n.Kind, n.Audience), nil)
	}

	body := strings.Join(append(append([]string{"Dear " + n.Recipient.Name + ",", ""}, lines...),
		"", "Thank you,", "Task Management System"), "\n")

	msg := &channel.Message{
		Topic:   topic,
		Subject: subject,
		Body:    body,
		Attributes: map[string]string{
			channel.AttrRecipient: n.Recipient.ID,
			channel.AttrEmail:     n.Recipient.Email,
			channel.AttrAudience:  string(n.Audience),
			channel.AttrKind:      string(n.Kind),
			channel.AttrTaskID:    n.TaskID,
		},
	}
	payload := map[string]string{
		"taskId":        n.TaskID,
		"taskName":      task.Name,
		"deadline":      task.Deadline.UTC().Format(time.RFC3339),
		"recipientName": n.Recipient.Name,
		"message":       summary,
	}
	return msg, recordType, payload, nil
}
