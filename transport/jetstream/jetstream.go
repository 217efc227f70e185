// Package jetstream provides a NATS JetStream transport for wireflow.
// Streams are auto-provisioned per channel and consumers are durable, so
// events survive a process restart. Calls over it need the correlation link;
// for ephemeral request/reply prefer transport/natscore.
package jetstream

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/wireflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultDurablePrefix names the durable consumers created per channel.
	DefaultDurablePrefix = "wireflow"

	// DefaultQueueGroupPrefix spreads subscribers of one process group over
	// a queue group.
	DefaultQueueGroupPrefix = "wireflow"

	// DefaultMaxDeliver is the default max delivery attempts.
	DefaultMaxDeliver = 3

	// DefaultAckWait is the default ack wait timeout.
	DefaultAckWait = 30 * time.Second
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg wmnats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return wmnats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg wmnats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return wmnats.NewSubscriber(cfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Config holds JetStream-specific configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// DurablePrefix names the durable consumers. If empty, defaults to
	// DefaultDurablePrefix.
	DurablePrefix string

	// QueueGroupPrefix is prepended to the queue group per channel.
	QueueGroupPrefix string

	// MaxDeliver is the maximum number of delivery attempts.
	MaxDeliver int

	// AckWait is the duration to wait for acknowledgment before redelivery.
	AckWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.DurablePrefix == "" {
		c.DurablePrefix = DefaultDurablePrefix
	}
	if c.QueueGroupPrefix == "" {
		c.QueueGroupPrefix = DefaultQueueGroupPrefix
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	return c
}

// Build creates a new NATS JetStream transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return New(Config{URL: cfg.GetNATSURL()}, logger)
}

// New creates a JetStream transport from explicit configuration.
func New(cfg Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	if cfg.URL == "" {
		return transport.Transport{}, errors.New("jetstream: NATS URL is required")
	}
	cfg = cfg.withDefaults()

	marshaler := &wmnats.NATSMarshaler{}
	jsConfig := wmnats.JetStreamConfig{
		AutoProvision: true,
		DurablePrefix: cfg.DurablePrefix,
		SubscribeOptions: []nats.SubOpt{
			nats.AckWait(cfg.AckWait),
			nats.MaxDeliver(cfg.MaxDeliver),
			nats.DeliverAll(),
		},
	}

	publisher, err := PublisherFactory(
		wmnats.PublisherConfig{
			URL:       cfg.URL,
			Marshaler: marshaler,
			JetStream: jsConfig,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		wmnats.SubscriberConfig{
			URL:              cfg.URL,
			QueueGroupPrefix: cfg.QueueGroupPrefix,
			AckWaitTimeout:   cfg.AckWait,
			Unmarshaler:      marshaler,
			JetStream:        jsConfig,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}
