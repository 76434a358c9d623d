package channel

import (
	"context"
	"encoding/json"

	"github.com/redis/rueidis"

	"github.com/kazz187/taskwarden/pkg/cerr"
)

// RedisPublisher PUBLISHes the JSON encoded message on a channel named after
// the topic.
type RedisPublisher struct {
	client rueidis.Client
	prefix string
}

func NewRedisPublisher(client rueidis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return cerr.NewError(cerr.Internal, "failed to encode message", err)
	}
	cmd := p.client.B().Publish().Channel(p.prefix + msg.Topic).Message(string(data)).Build()
	if err := p.client.Do(ctx, cmd).Error(); err != nil {
		return cerr.NewError(cerr.Unavailable, "failed to publish to redis", err)
	}
	return nil
}
