package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/drblury/wireflow/internal/bridge/codec"
	"github.com/drblury/wireflow/internal/bridge/contract"
	"github.com/drblury/wireflow/internal/bridge/diag"
	"github.com/drblury/wireflow/internal/bridge/envelope"
	"github.com/drblury/wireflow/internal/bridge/metrics"
)

type AddRequest struct {
	A int `json:"a"`
	B int `json:"b"`
}

type AddResponse struct {
	Sum int `json:"sum"`
}

type AccessDeniedError struct {
	Message string `json:"message"`
}

func (e *AccessDeniedError) Error() string { return e.Message }

// capturedDiags collects every hook emission for assertions. The mutex
// matters for publisher tests, where hooks fire from the drain goroutine.
type capturedDiags struct {
	mu               sync.Mutex
	decodeFailures   []diag.DecodeFailure
	protocolErrors   []diag.ProtocolError
	eventDrops       []diag.EventDrop
	dispatchFailures []diag.DispatchFailure
}

func (c *capturedDiags) hooks() diag.Hooks {
	return diag.Hooks{
		OnDecodeFailure: func(d diag.DecodeFailure) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.decodeFailures = append(c.decodeFailures, d)
		},
		OnProtocolError: func(d diag.ProtocolError) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.protocolErrors = append(c.protocolErrors, d)
		},
		OnEventDropped: func(d diag.EventDrop) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.eventDrops = append(c.eventDrops, d)
		},
		OnDispatchFailure: func(d diag.DispatchFailure) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.dispatchFailures = append(c.dispatchFailures, d)
		},
	}
}

func (c *capturedDiags) drops() []diag.EventDrop {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]diag.EventDrop(nil), c.eventDrops...)
}

func (c *capturedDiags) decodes() []diag.DecodeFailure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]diag.DecodeFailure(nil), c.decodeFailures...)
}

func (c *capturedDiags) dispatchFails() []diag.DispatchFailure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]diag.DispatchFailure(nil), c.dispatchFailures...)
}

func addMethod(c *contract.Contract) contract.Method[AddRequest, AddResponse, contract.NoError] {
	return contract.NewMethod[AddRequest, AddResponse, contract.NoError](c, "Add")
}

func TestHandleSuccess(t *testing.T) {
	add := addMethod(contract.New("calculator"))
	impl := Handle(add, func(ctx context.Context, req AddRequest) (AddResponse, error) {
		return AddResponse{Sum: req.A + req.B}, nil
	})

	env, outcome := impl.run(context.Background(), []byte(`{"a":2,"b":3}`), diag.Hooks{})
	if outcome != metrics.OutcomeSuccess {
		t.Errorf("outcome = %q, want success", outcome)
	}
	if env.Kind != envelope.KindSuccess {
		t.Fatalf("Kind = %q, want success", env.Kind)
	}
	if string(env.Data) != `{"sum":5}` {
		t.Errorf("Data = %s, want {\"sum\":5}", env.Data)
	}
}

func TestHandleTypedFailure(t *testing.T) {
	c := contract.New("calculator")
	div := contract.NewMethod[AddRequest, AddResponse, *AccessDeniedError](c, "Divide")
	impl := Handle(div, func(ctx context.Context, req AddRequest) (AddResponse, error) {
		return AddResponse{}, &AccessDeniedError{Message: "denied"}
	})

	env, outcome := impl.run(context.Background(), []byte(`{"a":1,"b":0}`), diag.Hooks{})
	if outcome != metrics.OutcomeFailure {
		t.Errorf("outcome = %q, want failure", outcome)
	}
	if env.Kind != envelope.KindFailure {
		t.Fatalf("Kind = %q, want failure", env.Kind)
	}
	if env.ErrorTag != "AccessDeniedError" {
		t.Errorf("ErrorTag = %q, want AccessDeniedError", env.ErrorTag)
	}
	if string(env.ErrorData) != `{"message":"denied"}` {
		t.Errorf("ErrorData = %s", env.ErrorData)
	}
}

func TestHandleNoErrorViolation(t *testing.T) {
	add := addMethod(contract.New("calculator"))
	impl := Handle(add, func(ctx context.Context, req AddRequest) (AddResponse, error) {
		return AddResponse{}, contract.NoError{}
	})

	env, outcome := impl.run(context.Background(), []byte(`{"a":1,"b":1}`), diag.Hooks{})
	if outcome != metrics.OutcomeDefect {
		t.Errorf("outcome = %q, want defect", outcome)
	}
	if env.Kind != envelope.KindDefect {
		t.Fatalf("Kind = %q, want defect", env.Kind)
	}
	if !strings.Contains(env.Message, "declares NoError") {
		t.Errorf("Message = %q, want it to name the NoError declaration", env.Message)
	}
}

func TestHandleRequestDecodeFailure(t *testing.T) {
	add := addMethod(contract.New("calculator"))
	impl := Handle(add, func(ctx context.Context, req AddRequest) (AddResponse, error) {
		t.Error("handler must not run on a decode failure")
		return AddResponse{}, nil
	})

	caps := &capturedDiags{}
	env, outcome := impl.run(context.Background(), []byte(`not json`), caps.hooks())
	if outcome != metrics.OutcomeDefect {
		t.Errorf("outcome = %q, want defect", outcome)
	}
	if env.Kind != envelope.KindDefect {
		t.Fatalf("Kind = %q, want defect", env.Kind)
	}
	if !strings.Contains(env.Message, "request decode failed") {
		t.Errorf("Message = %q", env.Message)
	}

	if len(caps.decodeFailures) != 1 {
		t.Fatalf("decode failures = %d, want 1", len(caps.decodeFailures))
	}
	d := caps.decodeFailures[0]
	if d.Scope != diag.ScopeRPCRequest {
		t.Errorf("Scope = %q, want rpc-request", d.Scope)
	}
	if d.Name != "Add" {
		t.Errorf("Name = %q, want Add", d.Name)
	}
	if d.Raw != "not json" {
		t.Errorf("Raw = %v, want the raw payload", d.Raw)
	}
	if d.Cause == nil {
		t.Error("Cause is nil")
	}
}

func TestHandlePanic(t *testing.T) {
	add := addMethod(contract.New("calculator"))
	impl := Handle(add, func(ctx context.Context, req AddRequest) (AddResponse, error) {
		panic("boom")
	})

	env, outcome := impl.run(context.Background(), []byte(`{"a":1,"b":1}`), diag.Hooks{})
	if outcome != metrics.OutcomeDefect {
		t.Errorf("outcome = %q, want defect", outcome)
	}
	if env.Kind != envelope.KindDefect {
		t.Fatalf("Kind = %q, want defect", env.Kind)
	}
	if env.Message != "implementation panicked: boom" {
		t.Errorf("Message = %q", env.Message)
	}
}

func TestHandleInterruption(t *testing.T) {
	add := addMethod(contract.New("calculator"))
	impl := Handle(add, func(ctx context.Context, req AddRequest) (AddResponse, error) {
		return AddResponse{}, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	env, outcome := impl.run(ctx, []byte(`{"a":1,"b":1}`), diag.Hooks{})
	if outcome != metrics.OutcomeInterrupted {
		t.Errorf("outcome = %q, want interrupted", outcome)
	}
	if env.Kind != envelope.KindDefect {
		t.Fatalf("Kind = %q, want defect", env.Kind)
	}
	if !strings.Contains(env.Message, "interrupted") {
		t.Errorf("Message = %q", env.Message)
	}
}

func TestHandleGenericDefect(t *testing.T) {
	add := addMethod(contract.New("calculator"))
	impl := Handle(add, func(ctx context.Context, req AddRequest) (AddResponse, error) {
		return AddResponse{}, errors.New("boom")
	})

	env, outcome := impl.run(context.Background(), []byte(`{"a":1,"b":1}`), diag.Hooks{})
	if outcome != metrics.OutcomeDefect {
		t.Errorf("outcome = %q, want defect", outcome)
	}
	if env.Kind != envelope.KindDefect {
		t.Fatalf("Kind = %q, want defect", env.Kind)
	}
	if env.Message != "Add: boom" {
		t.Errorf("Message = %q, want it labeled with the method name", env.Message)
	}
}

func TestHandleSuccessEncodingFailure(t *testing.T) {
	c := contract.New("calculator")
	m := contract.NewMethodWith[AddRequest, AddResponse, contract.NoError](c, "Add",
		codec.JSON[AddRequest](),
		codec.Codec[AddResponse]{
			Marshal:   func(AddResponse) ([]byte, error) { return nil, errors.New("marshal exploded") },
			Unmarshal: codec.JSON[AddResponse]().Unmarshal,
		},
		codec.JSON[contract.NoError]())
	impl := Handle(m, func(ctx context.Context, req AddRequest) (AddResponse, error) {
		return AddResponse{Sum: 5}, nil
	})

	caps := &capturedDiags{}
	env, outcome := impl.run(context.Background(), []byte(`{"a":2,"b":3}`), caps.hooks())
	if outcome != metrics.OutcomeDefect {
		t.Errorf("outcome = %q, want defect", outcome)
	}
	if !strings.Contains(env.Message, "success encoding failed") {
		t.Errorf("Message = %q", env.Message)
	}

	if len(caps.protocolErrors) != 1 {
		t.Fatalf("protocol errors = %d, want 1", len(caps.protocolErrors))
	}
	p := caps.protocolErrors[0]
	if p.Method != "Add" {
		t.Errorf("Method = %q", p.Method)
	}
	if got, ok := p.Response.(AddResponse); !ok || got.Sum != 5 {
		t.Errorf("Response = %v, want the un-encodable value", p.Response)
	}
}

func TestHandleFailureEncodingFailure(t *testing.T) {
	c := contract.New("calculator")
	m := contract.NewMethodWith[AddRequest, AddResponse, *AccessDeniedError](c, "Divide",
		codec.JSON[AddRequest](),
		codec.JSON[AddResponse](),
		codec.Codec[*AccessDeniedError]{
			Marshal:   func(*AccessDeniedError) ([]byte, error) { return nil, errors.New("marshal exploded") },
			Unmarshal: codec.JSON[*AccessDeniedError]().Unmarshal,
		})
	impl := Handle(m, func(ctx context.Context, req AddRequest) (AddResponse, error) {
		return AddResponse{}, &AccessDeniedError{Message: "denied"}
	})

	caps := &capturedDiags{}
	env, outcome := impl.run(context.Background(), []byte(`{"a":1,"b":0}`), caps.hooks())
	if outcome != metrics.OutcomeDefect {
		t.Errorf("outcome = %q, want defect", outcome)
	}
	if !strings.Contains(env.Message, "failure encoding failed") {
		t.Errorf("Message = %q", env.Message)
	}
	if len(caps.protocolErrors) != 1 {
		t.Fatalf("protocol errors = %d, want 1", len(caps.protocolErrors))
	}
}

func TestImplementationMethod(t *testing.T) {
	add := addMethod(contract.New("calculator"))
	impl := Handle(add, func(ctx context.Context, req AddRequest) (AddResponse, error) {
		return AddResponse{}, nil
	})
	if impl.Method() != "Add" {
		t.Errorf("Method() = %q, want Add", impl.Method())
	}

	var zero Implementation
	if zero.Method() != "" {
		t.Errorf("zero Method() = %q, want empty", zero.Method())
	}
}
