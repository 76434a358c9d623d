// Package channel delivers composed notifications to a pub/sub transport.
package channel

import (
	"context"
	"log/slog"
)

// Attribute keys understood by every publisher.
const (
	AttrRecipient = "userId"
	AttrEmail     = "email"
	AttrAudience  = "audience"
	AttrKind      = "kind"
	AttrTaskID    = "taskId"
)

type Message struct {
	Topic      string            `json:"topic"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (m *Message) Recipient() string {
	return m.Attributes[AttrRecipient]
}

type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// Fanout publishes to a primary publisher whose error decides the outcome,
// then to mirrors whose failures are only logged.
type Fanout struct {
	primary Publisher
	mirrors []Publisher
}

func NewFanout(primary Publisher, mirrors ...Publisher) *Fanout {
	return &Fanout{primary: primary, mirrors: mirrors}
}

func (f *Fanout) Publish(ctx context.Context, msg *Message) error {
	if err := f.primary.Publish(ctx, msg); err != nil {
		return err
	}
	for _, m := range f.mirrors {
		if err := m.Publish(ctx, msg); err != nil {
			slog.WarnContext(ctx, "mirror publish failed", "topic", msg.Topic, "recipient", msg.Recipient(), "error", err)
		}
	}
	return nil
}
