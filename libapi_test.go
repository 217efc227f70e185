package wireflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	_ "github.com/drblury/wireflow/transport/channel"
)

type addInput struct {
	A int `json:"a"`
	B int `json:"b"`
}

type addOutput struct {
	Sum int `json:"sum"`
}

type divideInput struct {
	A int `json:"a"`
	B int `json:"b"`
}

type divideOutput struct {
	Quotient int `json:"quotient"`
}

type divideByZero struct {
	Dividend int `json:"dividend"`
}

func (e divideByZero) Error() string { return "division by zero" }

type tick struct {
	Seq int `json:"seq"`
}

var (
	calculator = NewContract("calculator")

	addMethod    = NewMethod[addInput, addOutput, NoError](calculator, "Add")
	divideMethod = NewMethod[divideInput, divideOutput, divideByZero](calculator, "Divide")
	crashMethod  = NewMethod[addInput, addOutput, NoError](calculator, "Crash")

	tickEvent = NewEvent[tick](calculator, "Tick")
)

// newTestLink builds an in-memory transport through the registry and wires a
// link over it, the same way an application would over a real broker.
func newTestLink(t *testing.T) *Link {
	t.Helper()

	tr, err := BuildTransport(context.Background(), &Config{
		Transport:         "channel",
		ChannelBufferSize: 16,
	}, NewWatermillAdapter(NopLogger()))
	if err != nil {
		t.Fatalf("build transport: %v", err)
	}

	ln, err := NewLink(tr, LinkOptions{CallTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("new link: %v", err)
	}
	t.Cleanup(func() {
		_ = ln.Close()
		_ = tr.Publisher.Close()
	})
	return ln
}

func newTestEndpoint(t *testing.T, ln *Link) *Endpoint {
	t.Helper()

	ep, err := NewEndpoint(calculator, ln, []Implementation{
		Handle(addMethod, func(ctx context.Context, req addInput) (addOutput, error) {
			return addOutput{Sum: req.A + req.B}, nil
		}),
		Handle(divideMethod, func(ctx context.Context, req divideInput) (divideOutput, error) {
			if req.B == 0 {
				return divideOutput{}, divideByZero{Dividend: req.A}
			}
			return divideOutput{Quotient: req.A / req.B}, nil
		}),
		Handle(crashMethod, func(ctx context.Context, req addInput) (addOutput, error) {
			panic("boom")
		}),
	}, EndpointOptions{})
	if err != nil {
		t.Fatalf("new endpoint: %v", err)
	}
	if err := ep.Start(); err != nil {
		t.Fatalf("start endpoint: %v", err)
	}
	t.Cleanup(func() { _ = ep.Dispose() })
	return ep
}

func TestCallRoundTrip(t *testing.T) {
	ln := newTestLink(t)
	newTestEndpoint(t, ln)

	client, err := NewClient(calculator, ln, ClientOptions{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := Call(ctx, client, addMethod, addInput{A: 19, B: 23})
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if res.Sum != 42 {
		t.Fatalf("expected sum 42, got %d", res.Sum)
	}
}

func TestCallReturnsTypedDomainError(t *testing.T) {
	ln := newTestLink(t)
	newTestEndpoint(t, ln)

	client, err := NewClient(calculator, ln, ClientOptions{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = Call(ctx, client, divideMethod, divideInput{A: 7, B: 0})
	var dbz divideByZero
	if !errors.As(err, &dbz) {
		t.Fatalf("expected a divideByZero error, got %v", err)
	}
	if dbz.Dividend != 7 {
		t.Fatalf("expected the dividend to survive the round trip, got %d", dbz.Dividend)
	}
}

func TestCallReportsRemoteDefect(t *testing.T) {
	ln := newTestLink(t)
	newTestEndpoint(t, ln)

	client, err := NewClient(calculator, ln, ClientOptions{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = Call(ctx, client, crashMethod, addInput{A: 1, B: 2})
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected a call error, got %v", err)
	}
	if callErr.Stage != StageRemoteDefect {
		t.Fatalf("expected stage %q, got %q", StageRemoteDefect, callErr.Stage)
	}
	if !strings.Contains(callErr.Message, "boom") {
		t.Fatalf("expected the panic value in the message, got %q", callErr.Message)
	}
}

func TestEventDelivery(t *testing.T) {
	ln := newTestLink(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan tick, 1)
	err := Subscribe(ctx, ln, tickEvent, func(ctx context.Context, payload tick) error {
		received <- payload
		return nil
	}, SubscribeOptions{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	pub, err := NewPublisher(calculator, func() Target { return ln }, PublisherOptions{})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Start(); err != nil {
		t.Fatalf("start publisher: %v", err)
	}
	t.Cleanup(func() { _ = pub.Dispose() })

	if err := Publish(pub, tickEvent, tick{Seq: 7}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-received:
		if got.Seq != 7 {
			t.Fatalf("expected seq 7, got %d", got.Seq)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestConstructorExportsPropagateErrors(t *testing.T) {
	if _, err := NewEndpoint(nil, nil, nil, EndpointOptions{}); !errors.Is(err, ErrContractRequired) {
		t.Fatalf("expected contract required error, got %v", err)
	}
	if _, err := NewClient(nil, nil, ClientOptions{}); !errors.Is(err, ErrContractRequired) {
		t.Fatalf("expected contract required error, got %v", err)
	}
	if _, err := NewPublisher(nil, nil, PublisherOptions{}); !errors.Is(err, ErrContractRequired) {
		t.Fatalf("expected contract required error, got %v", err)
	}
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if _, err := MarshalIndent(payload, "", "  "); err != nil {
		t.Fatalf("marshal indent alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
}

func TestEnvelopeExports(t *testing.T) {
	env, ok := ParseEnvelope([]byte(`{"type":"success","data":{"sum":42}}`))
	if !ok {
		t.Fatal("expected a valid envelope")
	}
	if env.Kind != KindSuccess {
		t.Fatalf("expected kind %q, got %q", KindSuccess, env.Kind)
	}

	if _, ok := ParseEnvelope([]byte(`{"unrelated":true}`)); ok {
		t.Fatal("expected parse to reject a non-envelope")
	}
}

func TestWithDelay(t *testing.T) {
	md := WithDelay(30 * time.Second)
	if md[MetadataKeyDelay] != "30s" {
		t.Fatalf("expected delay to be '30s', got %q", md[MetadataKeyDelay])
	}

	md = WithDelay(5 * time.Minute)
	if md[MetadataKeyDelay] != "5m0s" {
		t.Fatalf("expected delay to be '5m0s', got %q", md[MetadataKeyDelay])
	}
}
