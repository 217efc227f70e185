package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/wireflow/internal/bridge/codec"
	"github.com/drblury/wireflow/internal/bridge/config"
	"github.com/drblury/wireflow/internal/bridge/contract"
	"github.com/drblury/wireflow/internal/bridge/diag"
	"github.com/drblury/wireflow/internal/bridge/envelope"
	errspkg "github.com/drblury/wireflow/internal/bridge/errors"
	"github.com/drblury/wireflow/internal/bridge/logging"
	"github.com/drblury/wireflow/internal/bridge/metrics"
	"github.com/drblury/wireflow/transport"
)

// DecodeMode selects which wire shapes a Client accepts for call replies.
type DecodeMode int

const (
	// DecodeEnvelope accepts only the envelope shape. This is the default.
	DecodeEnvelope DecodeMode = iota

	// DecodeDual retries the legacy result-wrapper shape when the envelope
	// parse fails. The envelope shape is always attempted first.
	DecodeDual
)

var (
	errNotAnEnvelope    = errors.New("wireflow: response is not a valid envelope")
	errNotALegacyResult = errors.New("wireflow: response is neither a valid envelope nor a legacy result")
)

// ClientOptions holds the optional collaborators for NewClient. The zero
// value is valid.
type ClientOptions struct {
	// ChannelPrefix overrides the default "rpc/" prefix on method channels.
	// It must match the prefix the endpoint was started with.
	ChannelPrefix string

	// DecodeMode selects the accepted reply shapes.
	DecodeMode DecodeMode

	// Diagnostics receives advisory notifications about decode and protocol
	// failures. Hooks never affect call outcomes.
	Diagnostics diag.Hooks

	// Logger, when set, is chained into the diagnostics hooks.
	Logger logging.ServiceLogger

	// Metrics, when set, records per-call outcomes and durations.
	Metrics *metrics.Metrics
}

// Client issues typed calls for one contract through a transport invoker.
type Client struct {
	contract *contract.Contract
	invoker  transport.Invoker
	prefix   string
	mode     DecodeMode
	hooks    diag.Hooks
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// NewClient returns a client that issues calls for c's methods through
// invoker.
func NewClient(c *contract.Contract, invoker transport.Invoker, opts ClientOptions) (*Client, error) {
	if c == nil {
		return nil, errspkg.ErrContractRequired
	}
	if invoker == nil {
		return nil, errspkg.ErrInvokeRequired
	}

	prefix := opts.ChannelPrefix
	if prefix == "" {
		prefix = config.DefaultCallPrefix
	}

	hooks := opts.Diagnostics
	if opts.Logger != nil {
		hooks = hooks.Merge(diag.LoggingHooks(opts.Logger))
	}

	return &Client{
		contract: c,
		invoker:  invoker,
		prefix:   prefix,
		mode:     opts.DecodeMode,
		hooks:    hooks,
		metrics:  opts.Metrics,
		tracer:   otel.Tracer("wireflow-client"),
	}, nil
}

// Call performs one typed round trip for method m: encode the request,
// invoke the transport, parse the reply, decode the payload.
//
// A domain error decoded from a failure reply is returned as the typed value
// itself. Every other failure is a *errors.CallError whose Stage names the
// step that failed, so infrastructure faults stay programmatically separable
// from domain errors.
func Call[Req, Res any, E error](ctx context.Context, c *Client, m contract.Method[Req, Res, E], req Req) (Res, error) {
	var zero Res

	spec := m.Spec()
	if spec == nil {
		return zero, errspkg.ErrUnknownMethod
	}
	if spec.Contract() != c.contract {
		return zero, fmt.Errorf("%w: %q", errspkg.ErrUnknownMethod, spec.Name())
	}

	ctx, span := c.tracer.Start(ctx, "Call")
	defer span.End()
	span.SetAttributes(
		attribute.String("rpc.contract", c.contract.Name()),
		attribute.String("rpc.method", spec.Name()),
	)

	start := time.Now()
	res, err := roundTrip(ctx, c, m, spec, req)
	outcome := callOutcome(err)
	span.SetAttributes(attribute.String("rpc.outcome", outcome))
	if c.metrics != nil {
		c.metrics.RecordCall(spec.Name(), outcome, time.Since(start))
	}
	return res, err
}

func roundTrip[Req, Res any, E error](ctx context.Context, c *Client, m contract.Method[Req, Res, E], spec *contract.MethodSpec, req Req) (Res, error) {
	var zero Res
	method := spec.Name()

	payload, err := m.RequestCodec().Marshal(req)
	if err != nil {
		c.hooks.EmitDecodeFailure(diag.DecodeFailure{
			Scope: diag.ScopeRPCRequest,
			Name:  method,
			Raw:   req,
			Cause: err,
		})
		return zero, errspkg.NewCallError(errspkg.StageRequestEncoding, method, "request encoding failed", err)
	}

	raw, err := c.invoker.Invoke(ctx, c.prefix+method, payload)
	if err != nil {
		c.hooks.EmitProtocolError(diag.ProtocolError{Method: method, Cause: err})
		return zero, errspkg.NewCallError(errspkg.StageInvoke, method, "invoke failed", err)
	}

	env, ok := envelope.Parse(raw)
	if !ok {
		if c.mode != DecodeDual {
			c.hooks.EmitProtocolError(diag.ProtocolError{Method: method, Response: string(raw), Cause: errNotAnEnvelope})
			return zero, errspkg.NewCallError(errspkg.StageInvalidEnvelope, method, "response is not a valid envelope", errNotAnEnvelope)
		}
		env, ok = envelope.ParseLegacy(raw)
		if !ok {
			c.hooks.EmitProtocolError(diag.ProtocolError{Method: method, Response: string(raw), Cause: errNotALegacyResult})
			return zero, errspkg.NewCallError(errspkg.StageLegacyDecode, method, "response is neither a valid envelope nor a legacy result", errNotALegacyResult)
		}
	}

	return classifyReply(c, m, env)
}

// classifyReply mirrors the endpoint's outcome classification in reverse:
// success decodes the response payload, failure decodes the typed domain
// error, defect and interruption surface as call errors.
func classifyReply[Req, Res any, E error](c *Client, m contract.Method[Req, Res, E], env envelope.Envelope) (Res, error) {
	var zero Res
	spec := m.Spec()
	method := spec.Name()

	switch env.Kind {
	case envelope.KindSuccess:
		res, err := m.ResponseCodec().Unmarshal(env.Data)
		if err != nil {
			c.hooks.EmitDecodeFailure(diag.DecodeFailure{
				Scope: diag.ScopeRPCResponse,
				Name:  method,
				Raw:   string(env.Data),
				Cause: err,
			})
			return zero, errspkg.NewCallError(errspkg.StageSuccessDecode, method, "success payload decoding failed", err)
		}
		return res, nil

	case envelope.KindFailure:
		if spec.NoError() {
			return zero, errspkg.NewCallError(errspkg.StageNoErrorViolation, method, "received a failure for a method that declares NoError", nil)
		}
		typed, err := m.ErrorCodec().Unmarshal(env.ErrorData)
		if err != nil {
			c.hooks.EmitDecodeFailure(diag.DecodeFailure{
				Scope: diag.ScopeRPCResponse,
				Name:  method,
				Raw:   string(env.ErrorData),
				Cause: err,
			})
			return zero, errspkg.NewCallError(errspkg.StageFailureDecode, method, "failure payload decoding failed", err)
		}
		return zero, typed

	case envelope.KindDefect:
		return zero, errspkg.NewCallError(errspkg.StageRemoteDefect, method, env.Message, defectCause(env.Cause))

	case envelope.KindInterrupted:
		return zero, errspkg.NewCallError(errspkg.StageRemoteDefect, method, "call was interrupted", nil)
	}

	return zero, errspkg.NewCallError(errspkg.StageInvalidEnvelope, method, fmt.Sprintf("unsupported envelope kind %q", env.Kind), nil)
}

// defectCause rebuilds an error from the raw cause attached to a defect
// envelope. String causes become their text; anything else keeps its JSON
// form.
func defectCause(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var text string
	if err := codec.Unmarshal(raw, &text); err == nil {
		return errors.New(text)
	}
	return errors.New(string(raw))
}

func callOutcome(err error) string {
	var callErr *errspkg.CallError
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.As(err, &callErr):
		return metrics.OutcomeDefect
	default:
		return metrics.OutcomeFailure
	}
}
