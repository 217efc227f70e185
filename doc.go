// Package wireflow connects two processes with typed request/response calls
// and push events over an arbitrary message transport. A Contract names the
// methods and events both sides share; an Endpoint serves the methods, a
// Client issues them, and a Publisher pushes events through a bounded queue
// that never blocks the caller.
//
// Every call reply travels as a three-variant envelope (success, failure,
// defect), so a handler error, a panic, and a codec fault all reach the
// caller as data instead of tearing down the transport. Domain errors
// declared on a method come back as the exact typed Go value the handler
// produced; every other fault surfaces as a *CallError whose Stage names the
// step that failed. A minimal setup therefore involves defining a contract in
// a var block, building a transport from Config, wiring a Link over it, and
// handing both to NewEndpoint or NewClient; see README.md for a copy/paste
// quick start snippet.
//
// # Transports
//
// Wireflow supports 10 message transports out of the box:
//   - channel: In-memory Go channels for testing
//   - kafka: High-throughput streaming with consumer groups
//   - rabbitmq: AMQP-based durable queues
//   - aws: AWS SNS/SQS with LocalStack support
//   - nats-jetstream: Durable NATS streams
//   - nats-core: Native NATS request/reply, no correlation overhead
//   - http: Request/response messaging over plain POSTs
//   - io: File-based persistence
//   - sqlite: Embedded persistent queue with delayed messages and DLQ management
//   - postgres: Production-ready PostgreSQL queue with SKIP LOCKED and DLQ
//
// Transports without native request/reply gain calls through transport/link,
// which correlates each request with its reply over a private inbox topic.
// Import transport packages for their side effects to register them, or pull
// in all of them at once with transport/transports.
//
// # Diagnostics
//
// Decode failures, protocol violations, and dropped events are reported
// through advisory Hooks. LoggingHooks, MetricsHooks, and AlertingHooks cover
// the common sinks; Merge chains custom observers behind them. Hooks never
// change a call outcome or halt an event drain, and a panicking observer is
// swallowed.
//
// # Compatibility
//
// Clients built with DecodeDual also accept the legacy result-wrapper reply
// shape from processes that have not migrated to the envelope format. The
// envelope shape is always tried first, so mixed fleets can upgrade one
// process at a time.
package wireflow
