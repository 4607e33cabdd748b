// Package eventbus carries timeline change events between a widget and the hosts rendering it,
// over Watermill. The default transport is an in-process channel; Redis Streams can be enabled
// to fan events out across processes.
package eventbus

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Bus bundles a publisher and subscriber sharing one transport.
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	redis    *redis.Client
	settings Settings
}

// New builds the bus selected by s.
func New(s Settings) (*Bus, error) {
	logger := NewWatermillLogger(log.With().Str("component", "eventbus").Logger())
	if !s.RedisEnabled {
		// publishing waits for the ack so frames arrive in commit order
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            256,
			BlockPublishUntilSubscriberAck: true,
		}, logger)
		return &Bus{Publisher: ch, Subscriber: ch, settings: s}, nil
	}
	if strings.TrimSpace(s.RedisAddr) == "" {
		return nil, errors.New("eventbus: redis enabled but redis-addr is empty")
	}

	client := redis.NewClient(&redis.Options{Addr: s.RedisAddr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "eventbus: redis publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.RedisGroup,
		Consumer:      s.RedisConsumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "eventbus: redis subscriber")
	}
	return &Bus{Publisher: pub, Subscriber: sub, redis: client, settings: s}, nil
}

// EnsureGroupAtTail creates the consumer group of topic at the stream tail so a fresh
// subscriber does not replay history. It is a no-op for the in-memory transport.
func (b *Bus) EnsureGroupAtTail(ctx context.Context, topic string) error {
	if b.redis == nil {
		return nil
	}
	err := b.redis.XGroupCreateMkStream(ctx, topic, b.settings.RedisGroup, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.Wrapf(err, "eventbus: create group %s on %s", b.settings.RedisGroup, topic)
	}
	return nil
}

// Close shuts down the transport. The in-memory channel is both publisher and subscriber and
// is closed once.
func (b *Bus) Close() error {
	err := b.Publisher.Close()
	if b.redis != nil {
		if serr := b.Subscriber.Close(); err == nil {
			err = serr
		}
		if cerr := b.redis.Close(); err == nil {
			err = cerr
		}
	}
	return errors.Wrap(err, "eventbus: close")
}
