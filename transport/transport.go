// Package transport defines the core interfaces and types for wireflow
// transports. Each transport implementation (kafka, rabbitmq, aws, etc.)
// lives in its own sub-package and registers itself with the transport
// registry.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a factory.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder is the function signature for creating a transport from config.
// Each transport package should provide a Builder function that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports.
// This interface allows transports to access only the config they need
// without depending on the full config package.
type Config interface {
	// GetTransport returns the transport type name.
	GetTransport() string

	// Channel
	GetChannelBufferSize() int

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// IO
	GetIOFile() string

	// SQLite
	GetSQLiteFile() string

	// PostgreSQL
	GetPostgresURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string

	// Polling transports
	GetPollInterval() time.Duration
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// Listener handles one inbound call payload on a named channel and returns
// the reply payload.
type Listener func(ctx context.Context, request []byte) ([]byte, error)

// Registrar is the host side of the call path. It attaches and detaches
// named listeners; the endpoint registers one listener per method channel.
type Registrar interface {
	Register(channel string, listener Listener) error
	Unregister(channel string) error
}

// Invoker is the client side of the call path: one named round trip per
// call.
type Invoker interface {
	Invoke(ctx context.Context, channel string, payload []byte) ([]byte, error)
}

// Target is a push destination for events. Alive reports whether the target
// can still accept sends; a dead target is treated the same as a missing one.
type Target interface {
	Send(ctx context.Context, channel string, payload []byte) error
	Alive() bool
}

// EventSource delivers inbound event payloads for a named channel. The
// returned channel closes when the subscription ends.
type EventSource interface {
	Events(ctx context.Context, channel string) (<-chan []byte, error)
}

// Requester is implemented by transports with native request/reply support.
// The call layer uses it directly instead of correlating messages over a
// publish/subscribe pair.
type Requester interface {
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)
}

// QueueIntrospector is implemented by transports that can report how many
// messages remain undelivered on a channel. Durable transports (sqlite,
// postgres) use it to expose their backlog.
type QueueIntrospector interface {
	GetPendingCount(topic string) (int64, error)
}

// DLQManager is implemented by transports that park exhausted messages in a
// dead letter queue and can replay or purge them.
type DLQManager interface {
	GetDLQCount(topic string) (int64, error)
	ReplayDLQMessage(dlqID int64) error
	ReplayAllDLQ(topic string) (int64, error)
	PurgeDLQ(topic string) (int64, error)
}

// DLQLister is implemented by transports that can page through parked
// messages.
type DLQLister interface {
	ListDLQMessages(topic string, limit, offset int) ([]DLQMessage, error)
}

// DLQMessage is one parked message as reported by a DLQLister.
type DLQMessage struct {
	ID            int64             `json:"id"`
	UUID          string            `json:"uuid"`
	OriginalTopic string            `json:"original_topic"`
	Payload       []byte            `json:"payload"`
	Metadata      map[string]string `json:"metadata"`
	ErrorMessage  string            `json:"error_message"`
	FailedAt      time.Time         `json:"failed_at"`
	RetryCount    int               `json:"retry_count"`
}
