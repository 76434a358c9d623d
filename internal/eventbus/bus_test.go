package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	id1, ch1 := bus.Subscribe(1)
	_, ch2 := bus.Subscribe(1)
	defer bus.Unsubscribe(id1)

	published := bus.PublishNew("task-assignment", "New Task Assignment: Report", "body", map[string]string{"userId": "U1"})

	for _, ch := range []<-chan *Event{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, published.ID, got.ID)
			assert.Equal(t, "U1", got.Attributes["userId"])
		case <-time.After(time.Second):
			t.Fatal("event was not delivered within timeout")
		}
	}
}

func TestBus_FullBufferDropsEvent(t *testing.T) {
	bus := New()
	_, ch := bus.Subscribe(1)

	bus.PublishNew("t", "first", "", nil)
	bus.PublishNew("t", "second", "", nil)

	got := <-ch
	assert.Equal(t, "first", got.Subject)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %q", extra.Subject)
	default:
	}
	assert.Equal(t, uint64(1), bus.Dropped())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	id, ch := bus.Subscribe(1)
	require.Equal(t, 1, bus.SubscriberCount())

	bus.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, bus.SubscriberCount())

	bus.Unsubscribe(id)
}
