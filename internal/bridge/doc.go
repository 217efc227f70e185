/*
Package bridge implements the core call and event engine for wireflow.

# Architecture Overview

The bridge connects two processes over an arbitrary named-channel transport.
One process hosts an Endpoint that serves typed calls; the other holds a
Client that issues them. Events flow the opposite way through a Publisher
with a bounded in-memory queue. All three are built from the same Contract,
which assigns stable names to methods and events.

# Package Structure

## Endpoint (endpoint.go, handler.go)

The Endpoint registers one listener per method channel and runs a small
state machine for each inbound call: decode the request, invoke the
implementation, classify the outcome, encode the reply. Every path ends in
a reply envelope; no call ever surfaces a raw error to the transport.
Handler panics become defect envelopes.

## Client (client.go)

Call performs one typed round trip: encode, invoke, parse the reply
envelope, decode. Failures that are not the method's declared domain error
come back as *errors.CallError with a stable stage discriminant. A dual
decode mode accepts a legacy wire shape when the envelope parse fails.

## Publisher (publisher.go)

Publish appends to a FIFO queue without blocking; when the queue is full
the oldest item is evicted first. A single asynchronous drain pass encodes
and pushes queued items to the current target, re-armed whenever new work
arrives. Failed dispatches drop the item and keep draining.

## Subscriptions (subscribe.go)

Subscribe decodes inbound event payloads from a channel stream and hands
them to a typed callback, skipping payloads that fail to decode.

# Sub-packages

  - codec/: JSON and protobuf payload codecs
  - config/: transport and channel-naming configuration with validation
  - contract/: method and event name registry with typed descriptors
  - diag/: advisory observer hooks with panic isolation
  - envelope/: the three-variant reply wire shape and the legacy fallback
  - errors/: sentinel errors, call stages, and CallError
  - ids/: ULID and inbox identifier generation
  - logging/: logger interface and watermill adapters
  - metrics/: Prometheus collectors for calls and event queues

# Usage Example

	calc := contract.New("calculator")
	add := contract.NewMethod[AddRequest, AddResponse, contract.NoError](calc, "Add")

	ep, err := bridge.NewEndpoint(calc, registrar, []bridge.Implementation{
		bridge.Handle(add, func(ctx context.Context, req AddRequest) (AddResponse, error) {
			return AddResponse{Sum: req.A + req.B}, nil
		}),
	}, bridge.EndpointOptions{})
	if err != nil {
		return err
	}
	if err := ep.Start(); err != nil {
		return err
	}
*/
package bridge
