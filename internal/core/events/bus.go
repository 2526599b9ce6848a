package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/lawgpt/internal/core"
)

// Topic carries every conversation event.
const Topic = "lawgpt.conversation"

// maxStreamLen caps the Redis stream. Nothing replays old events.
const maxStreamLen int64 = 1000

// Bus publishes conversation events on a watermill topic. With Redis streams
// every server instance sees every event, so a user's sockets may live on any
// instance.
type Bus struct {
	pub    message.Publisher
	sub    message.Subscriber
	closer func() error
}

// NewMemoryBus is the single-instance bus.
func NewMemoryBus() *Bus {
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, NewWatermillLogger())
	return &Bus{pub: ch, sub: ch, closer: ch.Close}
}

// NewRedisBus fans events out through a Redis stream. The subscriber runs
// without a consumer group so each instance reads the whole stream.
func NewRedisBus(url string) (*Bus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse REDIS_URL")
	}
	client := redis.NewClient(opts)
	logger := NewWatermillLogger()
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(publisherConfig(client, marshaler), logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis stream publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:       client,
		Unmarshaller: marshaler,
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "redis stream subscriber")
	}

	return &Bus{
		pub: pub,
		sub: sub,
		closer: func() error {
			_ = pub.Close()
			_ = sub.Close()
			return client.Close()
		},
	}, nil
}

func publisherConfig(client redis.UniversalClient, marshaler rstream.Marshaller) rstream.PublisherConfig {
	return rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
		Maxlens:    map[string]int64{Topic: maxStreamLen},
	}
}

func (b *Bus) Publish(ctx context.Context, ev core.ConversationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	return errors.Wrap(b.pub.Publish(Topic, msg), "publish event")
}

// Forward subscribes to the topic and hands every event to hub until ctx is
// cancelled.
func (b *Bus) Forward(ctx context.Context, hub *Hub) error {
	messages, err := b.sub.Subscribe(ctx, Topic)
	if err != nil {
		return errors.Wrap(err, "subscribe")
	}
	for msg := range messages {
		var ev core.ConversationEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			log.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed event")
			msg.Ack()
			continue
		}
		hub.Deliver(ctx, ev)
		msg.Ack()
	}
	return nil
}

func (b *Bus) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

var _ core.EventPublisher = (*Bus)(nil)
