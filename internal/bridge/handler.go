package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/drblury/wireflow/internal/bridge/contract"
	"github.com/drblury/wireflow/internal/bridge/diag"
	"github.com/drblury/wireflow/internal/bridge/envelope"
	"github.com/drblury/wireflow/internal/bridge/metrics"
)

// Implementation binds one contract method to its handler function. Values
// are built with Handle and passed to NewEndpoint; the zero value is
// rejected there.
type Implementation struct {
	spec *contract.MethodSpec
	run  func(ctx context.Context, request []byte, hooks diag.Hooks) (envelope.Envelope, string)
}

// Method returns the name of the method this implementation serves.
func (i Implementation) Method() string {
	if i.spec == nil {
		return ""
	}
	return i.spec.Name()
}

// panicError carries a value recovered from a handler panic through the
// error return of invoke.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

func invoke[Req, Res any](ctx context.Context, fn func(context.Context, Req) (Res, error), req Req) (res Res, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return fn(ctx, req)
}

// Handle binds a handler function to a contract method. The returned
// Implementation runs the full per-call pipeline: decode the request, invoke
// fn, classify its outcome, and encode the reply envelope. Every outcome,
// including panics and codec failures, terminates in an envelope; nothing
// escapes to the transport as a raw error.
//
// Outcomes are classified in order: a panic is a defect; an error matching
// the method's declared error type E is a typed failure (a defect instead if
// the method declares NoError); context cancellation is an interruption;
// anything else is a defect labeled with the method name.
func Handle[Req, Res any, E error](m contract.Method[Req, Res, E], fn func(ctx context.Context, req Req) (Res, error)) Implementation {
	spec := m.Spec()
	reqCodec := m.RequestCodec()
	resCodec := m.ResponseCodec()
	errCodec := m.ErrorCodec()

	run := func(ctx context.Context, request []byte, hooks diag.Hooks) (envelope.Envelope, string) {
		req, err := reqCodec.Unmarshal(request)
		if err != nil {
			hooks.EmitDecodeFailure(diag.DecodeFailure{
				Scope: diag.ScopeRPCRequest,
				Name:  spec.Name(),
				Raw:   string(request),
				Cause: err,
			})
			return envelope.ToDefect(err, "request decode failed"), metrics.OutcomeDefect
		}

		res, herr := invoke(ctx, fn, req)
		if herr == nil {
			data, encErr := resCodec.Marshal(res)
			if encErr != nil {
				hooks.EmitProtocolError(diag.ProtocolError{
					Method:   spec.Name(),
					Response: res,
					Cause:    encErr,
				})
				return envelope.ToDefect(encErr, "success encoding failed"), metrics.OutcomeDefect
			}
			return envelope.Success(data), metrics.OutcomeSuccess
		}

		var pe *panicError
		if errors.As(herr, &pe) {
			return envelope.ToDefect(pe.value, "implementation panicked"), metrics.OutcomeDefect
		}

		var typed E
		if errors.As(herr, &typed) {
			if spec.NoError() {
				cause := fmt.Errorf("method %q declares NoError but its handler produced a typed failure", spec.Name())
				return envelope.ToDefect(cause, ""), metrics.OutcomeDefect
			}
			data, encErr := errCodec.Marshal(typed)
			if encErr != nil {
				hooks.EmitProtocolError(diag.ProtocolError{
					Method:   spec.Name(),
					Response: typed,
					Cause:    encErr,
				})
				return envelope.ToDefect(encErr, "failure encoding failed"), metrics.OutcomeDefect
			}
			return envelope.Failure(envelope.TagOf(typed), data), metrics.OutcomeFailure
		}

		if errors.Is(herr, context.Canceled) || errors.Is(herr, context.DeadlineExceeded) {
			return envelope.ToDefect(herr, "interrupted"), metrics.OutcomeInterrupted
		}

		return envelope.ToDefect(herr, spec.Name()), metrics.OutcomeDefect
	}

	return Implementation{spec: spec, run: run}
}
