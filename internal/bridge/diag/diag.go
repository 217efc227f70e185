// Package diag defines the observer hooks the engine fires while dispatching
// calls and draining events. Hooks are strictly advisory: every invocation
// goes through a recovering wrapper, so a panicking observer can never alter
// a call outcome or halt a drain.
package diag

import (
	"github.com/drblury/wireflow/internal/bridge/logging"
	"github.com/drblury/wireflow/internal/bridge/metrics"
)

// DecodeScope names the boundary at which a payload failed to decode or
// encode.
type DecodeScope string

const (
	ScopeRPCRequest   DecodeScope = "rpc-request"
	ScopeRPCResponse  DecodeScope = "rpc-response"
	ScopeEventPayload DecodeScope = "event-payload"
)

// DropReason names why an event was dropped before reaching the target.
type DropReason string

const (
	DropQueueFull         DropReason = "queue full"
	DropEncodingFailed    DropReason = "encoding failed"
	DropTargetUnavailable DropReason = "target unavailable"
	DropDispatchFailed    DropReason = "dispatch failed"
)

// DecodeFailure describes a payload that could not be decoded or encoded at
// a wire boundary.
type DecodeFailure struct {
	// Scope is the boundary the payload failed at.
	Scope DecodeScope
	// Name is the method or event the payload belongs to.
	Name string
	// Raw is the offending payload as it was received or submitted.
	Raw any
	// Cause is the codec error.
	Cause error
}

// ProtocolError describes a violation of the call protocol: an invoke
// failure, a malformed envelope, or an un-encodable outcome.
type ProtocolError struct {
	Method string
	// Response is the value involved: the raw reply on the calling side, the
	// un-encodable outcome on the serving side, nil when the transport call
	// itself failed.
	Response any
	Cause    error
}

// EventDrop describes one event discarded before delivery.
type EventDrop struct {
	Event   string
	Payload any
	Reason  DropReason
	// Queued and Dropped are the publisher counters after the drop.
	Queued  int
	Dropped uint64
}

// DispatchFailure describes a push that the target rejected.
type DispatchFailure struct {
	Event   string
	Channel string
	Cause   error
}

// Hooks carries the optional observer callbacks. All callbacks are optional;
// nil hooks are simply not called.
type Hooks struct {
	OnDecodeFailure   func(DecodeFailure)
	OnProtocolError   func(ProtocolError)
	OnEventDropped    func(EventDrop)
	OnDispatchFailure func(DispatchFailure)
}

// emit runs one hook with its context, discarding panics. It is the only
// path through which the engine ever invokes a hook.
func emit[T any](fn func(T), ctx T) {
	if fn == nil {
		return
	}
	defer func() { _ = recover() }()
	fn(ctx)
}

// EmitDecodeFailure invokes the decode-failure hook, if any.
func (h Hooks) EmitDecodeFailure(ctx DecodeFailure) { emit(h.OnDecodeFailure, ctx) }

// EmitProtocolError invokes the protocol-error hook, if any.
func (h Hooks) EmitProtocolError(ctx ProtocolError) { emit(h.OnProtocolError, ctx) }

// EmitEventDropped invokes the event-dropped hook, if any.
func (h Hooks) EmitEventDropped(ctx EventDrop) { emit(h.OnEventDropped, ctx) }

// EmitDispatchFailure invokes the dispatch-failure hook, if any.
func (h Hooks) EmitDispatchFailure(ctx DispatchFailure) { emit(h.OnDispatchFailure, ctx) }

// Merge combines two hook sets into one that calls both. The hooks from
// other run after the hooks from h, each through its own recovering wrapper.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnDecodeFailure:   chainHooks(h.OnDecodeFailure, other.OnDecodeFailure),
		OnProtocolError:   chainHooks(h.OnProtocolError, other.OnProtocolError),
		OnEventDropped:    chainHooks(h.OnEventDropped, other.OnEventDropped),
		OnDispatchFailure: chainHooks(h.OnDispatchFailure, other.OnDispatchFailure),
	}
}

func chainHooks[T any](a, b func(T)) func(T) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx T) {
		emit(a, ctx)
		emit(b, ctx)
	}
}

// LoggingHooks returns pre-built hooks that log every diagnostic through the
// given logger.
func LoggingHooks(log logging.ServiceLogger) Hooks {
	return Hooks{
		OnDecodeFailure: func(ctx DecodeFailure) {
			log.Error("payload decode failed", ctx.Cause, logging.LogFields{
				"scope": string(ctx.Scope),
				"name":  ctx.Name,
			})
		},
		OnProtocolError: func(ctx ProtocolError) {
			log.Error("protocol error", ctx.Cause, logging.LogFields{
				"method": ctx.Method,
			})
		},
		OnEventDropped: func(ctx EventDrop) {
			log.Info("event dropped", logging.LogFields{
				"event":   ctx.Event,
				"reason":  string(ctx.Reason),
				"queued":  ctx.Queued,
				"dropped": ctx.Dropped,
			})
		},
		OnDispatchFailure: func(ctx DispatchFailure) {
			log.Error("event dispatch failed", ctx.Cause, logging.LogFields{
				"event":   ctx.Event,
				"channel": ctx.Channel,
			})
		},
	}
}

// MetricsHooks returns pre-built hooks that record drops on the given
// collector. Dispatch failures are counted through the event-dropped hook,
// which fires once per discarded item whatever the reason.
func MetricsHooks(m *metrics.Metrics) Hooks {
	return Hooks{
		OnEventDropped: func(ctx EventDrop) {
			m.RecordEventDropped(ctx.Event, string(ctx.Reason))
		},
	}
}

// AlertingHooks returns pre-built hooks that call alert for every protocol
// error and dispatch failure.
func AlertingHooks(alert func(name string, cause error)) Hooks {
	return Hooks{
		OnProtocolError: func(ctx ProtocolError) {
			alert(ctx.Method, ctx.Cause)
		},
		OnDispatchFailure: func(ctx DispatchFailure) {
			alert(ctx.Event, ctx.Cause)
		},
	}
}
