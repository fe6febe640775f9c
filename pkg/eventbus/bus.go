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

// Bus bundles a publisher and a subscriber on the same transport.
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	settings Settings
	client   redis.UniversalClient
	closers  []func() error
}

// New builds a Redis Streams bus when s.Enabled, otherwise an in-process
// gochannel bus. Publishing on the in-process bus waits for subscribers to
// ack, which keeps frames in order.
func New(s Settings) (*Bus, error) {
	s = s.withDefaults()
	logger := NewWatermillLogger(log.Logger)

	if !s.Enabled {
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            64,
			BlockPublishUntilSubscriberAck: true,
		}, logger)
		return &Bus{
			Publisher:  ch,
			Subscriber: ch,
			settings:   s,
			closers:    []func() error{ch.Close},
		}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr})
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
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "eventbus: redis subscriber")
	}

	return &Bus{
		Publisher:  pub,
		Subscriber: sub,
		settings:   s,
		client:     client,
		closers:    []func() error{sub.Close, pub.Close, client.Close},
	}, nil
}

func (b *Bus) Topic() string { return b.settings.Topic }

func (b *Bus) RedisEnabled() bool { return b.settings.Enabled }

// EnsureGroupAtTail creates the consumer group at the stream tail so a new
// relay does not replay history. It is a no-op on the in-process bus.
func (b *Bus) EnsureGroupAtTail(ctx context.Context) error {
	if b == nil || b.client == nil {
		return nil
	}
	err := b.client.XGroupCreateMkStream(ctx, b.settings.Topic, b.settings.Group, "$").Err()
	if err != nil {
		// BUSYGROUP: group already exists
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrap(err, "eventbus: create consumer group")
	}
	log.Info().Str("stream", b.settings.Topic).Str("group", b.settings.Group).Msg("created redis consumer group at $ (tail)")
	return nil
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}
