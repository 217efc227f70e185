package transport

// Capabilities describes the features supported by a transport backend.
// Use this to introspect what operations are available at runtime.
type Capabilities struct {
	// SupportsRequestReply indicates the transport has native request/reply
	// semantics. When false, calls are emulated by correlating messages over
	// a publish/subscribe pair.
	SupportsRequestReply bool

	// Durable indicates messages survive a process restart. In-memory and
	// stream-oriented transports without persistence report false.
	Durable bool

	// SupportsOrdering indicates the transport guarantees message ordering.
	// When true, messages within a partition/stream are delivered in order.
	SupportsOrdering bool

	// SupportsTracing indicates the transport propagates tracing headers natively.
	SupportsTracing bool

	// SupportsBatching indicates the transport can batch multiple messages.
	SupportsBatching bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport supports negative acknowledgment (redelivery).
	SupportsNack bool

	// SupportsPartitioning indicates the transport supports message partitioning.
	SupportsPartitioning bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string

	// Version is the transport/driver version.
	Version string
}

// RequiresCorrelation returns true if calls over this transport need
// application-level correlation because it has no native request/reply.
func (c Capabilities) RequiresCorrelation() bool {
	return !c.SupportsRequestReply
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Predefined capability sets for common transports.
var (
	// ChannelCapabilities for in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:                 "channel",
		SupportsRequestReply: false,
		Durable:              false,
		SupportsOrdering:     true,
		SupportsTracing:      false,
		SupportsBatching:     false,
		SupportsAck:          true,
		SupportsNack:         true,
	}

	// KafkaCapabilities for Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsRequestReply: false,
		Durable:              true,
		SupportsOrdering:     true,
		SupportsTracing:      true,
		SupportsBatching:     true,
		SupportsAck:          true,
		SupportsNack:         false,
		SupportsPartitioning: true,
		MaxMessageSize:       1048576, // Default 1MB
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP transport.
	RabbitMQCapabilities = Capabilities{
		Name:                 "rabbitmq",
		SupportsRequestReply: false,
		Durable:              true,
		SupportsOrdering:     true,
		SupportsTracing:      true,
		SupportsBatching:     false,
		SupportsAck:          true,
		SupportsNack:         true,
	}

	// NATSCoreCapabilities for the core NATS transport.
	NATSCoreCapabilities = Capabilities{
		Name:                 "nats-core",
		SupportsRequestReply: true,
		Durable:              false,
		SupportsOrdering:     false,
		SupportsTracing:      true,
		SupportsBatching:     false,
		SupportsAck:          false,
		SupportsNack:         false,
		MaxMessageSize:       1048576, // Default 1MB
	}

	// NATSJetStreamCapabilities for NATS JetStream transport.
	NATSJetStreamCapabilities = Capabilities{
		Name:                 "nats-jetstream",
		SupportsRequestReply: false,
		Durable:              true,
		SupportsOrdering:     true,
		SupportsTracing:      true,
		SupportsBatching:     true,
		SupportsAck:          true,
		SupportsNack:         true,
		MaxMessageSize:       1048576, // Default 1MB
	}

	// AWSCapabilities for AWS SNS/SQS transport.
	AWSCapabilities = Capabilities{
		Name:                 "aws",
		SupportsRequestReply: false,
		Durable:              true,
		SupportsOrdering:     true,
		SupportsTracing:      true,
		SupportsBatching:     true,
		SupportsAck:          true,
		SupportsNack:         true,
		MaxMessageSize:       262144, // 256KB
	}

	// SQLiteCapabilities for SQLite-based transport.
	SQLiteCapabilities = Capabilities{
		Name:                 "sqlite",
		SupportsRequestReply: false,
		Durable:              true,
		SupportsOrdering:     true,
		SupportsTracing:      false,
		SupportsBatching:     true,
		SupportsAck:          true,
		SupportsNack:         true,
	}

	// PostgresCapabilities for PostgreSQL-based transport.
	PostgresCapabilities = Capabilities{
		Name:                 "postgres",
		SupportsRequestReply: false,
		Durable:              true,
		SupportsOrdering:     true,
		SupportsTracing:      false,
		SupportsBatching:     true,
		SupportsAck:          true,
		SupportsNack:         true,
	}

	// HTTPCapabilities for HTTP-based transport.
	HTTPCapabilities = Capabilities{
		Name:                 "http",
		SupportsRequestReply: false,
		Durable:              false,
		SupportsOrdering:     false,
		SupportsTracing:      true,
		SupportsBatching:     false,
		SupportsAck:          false,
		SupportsNack:         false,
	}

	// IOCapabilities for file-based I/O transport.
	IOCapabilities = Capabilities{
		Name:                 "io",
		SupportsRequestReply: false,
		Durable:              true,
		SupportsOrdering:     true,
		SupportsTracing:      false,
		SupportsBatching:     false,
		SupportsAck:          false,
		SupportsNack:         false,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Uses the registry to look up capabilities registered by each transport package.
// Returns a zero Capabilities struct if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
