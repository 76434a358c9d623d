package channel

import (
	"context"

	"github.com/kazz187/taskwarden/internal/eventbus"
)

// LocalPublisher hands messages to the in-process event bus, where the SSE
// endpoint picks them up.
type LocalPublisher struct {
	bus *eventbus.Bus
}

func NewLocalPublisher(bus *eventbus.Bus) *LocalPublisher {
	return &LocalPublisher{bus: bus}
}

func (p *LocalPublisher) Publish(_ context.Context, msg *Message) error {
	p.bus.PublishNew(msg.Topic, msg.Subject, msg.Body, msg.Attributes)
	return nil
}
