package channel

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kazz187/taskwarden/pkg/cerr"
)

// Breaker stops calling a failing publisher for a while so a dead transport
// fails jobs fast instead of holding consumer workers.
type Breaker struct {
	next Publisher
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(name string, next Publisher, failures uint32, timeout time.Duration) *Breaker {
	if failures == 0 {
		failures = 3
	}
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				// Caller mistakes say nothing about the transport's health.
				return err == nil || !cerr.IsRetryable(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("publisher circuit breaker changed state", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (b *Breaker) Publish(ctx context.Context, msg *Message) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Publish(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return cerr.NewError(cerr.Unavailable, "publisher circuit open", err)
	}
	return err
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
